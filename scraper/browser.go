package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"inmobiscrap/logging"
	"inmobiscrap/metrics"
)

// blockMarkers are bot-wall pages served with a 200 status.
var blockMarkers = []string{
	"Request unsuccessful. Incapsula",
	"Incapsula incident ID",
	"Access Denied",
	"This request was blocked",
	"cf-browser-verification",
}

// BrowserFetcher renders pages in a persistent Chromium profile, for portals
// that build their result lists with JavaScript.
type BrowserFetcher struct {
	userDataDir string
	headless    bool
	timeout     time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu          sync.Mutex
	pw          *playwright.Playwright
	context     playwright.BrowserContext
	initialized bool
}

func NewBrowserFetcher(userDataDir string, headless bool, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BrowserFetcher{
		userDataDir: userDataDir,
		headless:    headless,
		timeout:     timeout,
		metrics:     m,
		logger:      logging.OrNop(logger),
	}
}

func (b *BrowserFetcher) ensureBrowser() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	var err error
	b.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	b.context, err = b.pw.Chromium.LaunchPersistentContext(b.userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:  playwright.Bool(b.headless),
		UserAgent: playwright.String(userAgent),
		Locale:    playwright.String("es-CL"),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		b.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	b.initialized = true
	return nil
}

func (b *BrowserFetcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.context != nil {
		b.context.Close()
		b.context = nil
	}
	if b.pw != nil {
		b.pw.Stop()
		b.pw = nil
	}
	b.initialized = false
}

func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	start := time.Now()
	html, err := b.fetch(ctx, url)
	result := "ok"
	if err != nil {
		result = "error"
	}
	b.metrics.ObserveFetch(result, time.Since(start).Seconds())
	return html, err
}

func (b *BrowserFetcher) fetch(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}
	if err := b.ensureBrowser(); err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}

	page, err := b.context.NewPage()
	if err != nil {
		return "", &NetworkError{URL: url, Err: fmt.Errorf("failed to create page: %w", err)}
	}
	defer page.Close()

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(b.timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}
	if resp != nil && (resp.Status() < 200 || resp.Status() > 299) {
		return "", &NetworkError{URL: url, StatusCode: resp.Status(), Err: fmt.Errorf("unexpected status %d", resp.Status())}
	}

	humanDelay(page, 1500, 3000)
	simulateHumanBehavior(page)

	content, err := page.Content()
	if err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}
	if marker := detectBlock(content); marker != "" {
		b.logger.Warn("bot wall detected", zap.String("url", url), zap.String("marker", marker))
		return "", &NetworkError{URL: url, Err: fmt.Errorf("blocked: %s", marker)}
	}
	return content, nil
}

func detectBlock(content string) string {
	for _, m := range blockMarkers {
		if strings.Contains(content, m) {
			return m
		}
	}
	return ""
}

// simulateHumanBehavior moves the mouse and scrolls so lazy-loaded cards
// render before the DOM is read.
func simulateHumanBehavior(page playwright.Page) {
	page.Mouse().Move(float64(300+rand.Intn(400)), float64(200+rand.Intn(300)))
	page.WaitForTimeout(float64(200 + rand.Intn(300)))
	page.Mouse().Move(float64(400+rand.Intn(300)), float64(300+rand.Intn(200)))
	page.WaitForTimeout(float64(200 + rand.Intn(300)))

	for i := 0; i < 3; i++ {
		page.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, 400+rand.Intn(400)))
		page.WaitForTimeout(float64(300 + rand.Intn(300)))
	}
}

func humanDelay(page playwright.Page, minMs, maxMs int) {
	page.WaitForTimeout(float64(minMs + rand.Intn(maxMs-minMs)))
}
