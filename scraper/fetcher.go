package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"inmobiscrap/logging"
	"inmobiscrap/metrics"
)

const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	acceptLanguage = "es-CL,es;q=0.9,en;q=0.8"
	maxBodyBytes   = 10 << 20
)

// Fetcher downloads one page and returns it as UTF-8 text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type hostLimit struct {
	match   string
	limiter *rate.Limiter
}

// HTTPFetcher fetches pages with a plain HTTP client. Pages are decoded to
// UTF-8 from whatever charset the response declares or sniffs as.
type HTTPFetcher struct {
	client  *http.Client
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	limits []hostLimit
}

func NewHTTPFetcher(client *http.Client, m *metrics.Metrics, logger *zap.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{client: client, metrics: m, logger: logging.OrNop(logger)}
}

// Limit spaces requests to URLs containing match at least every apart.
func (f *HTTPFetcher) Limit(match string, every time.Duration) {
	if match == "" || every <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, hostLimit{match: strings.ToLower(match), limiter: rate.NewLimiter(rate.Every(every), 1)})
}

func (f *HTTPFetcher) limiterFor(url string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lower := strings.ToLower(url)
	for _, l := range f.limits {
		if strings.Contains(lower, l.match) {
			return l.limiter
		}
	}
	return nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if lim := f.limiterFor(url); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return "", &NetworkError{URL: url, Err: err}
		}
	}

	start := time.Now()
	body, err := f.fetch(ctx, url)
	result := "ok"
	if err != nil {
		result = "error"
	}
	f.metrics.ObserveFetch(result, time.Since(start).Seconds())
	return body, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", &NetworkError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}

	text, err := decode(data, resp.Header.Get("Content-Type"))
	if err != nil {
		f.logger.Warn("charset decode failed, using raw bytes", zap.String("url", url), zap.Error(err))
		text = string(data)
	}

	f.logger.Debug("fetched page", zap.String("url", url), zap.Int("bytes", len(data)))
	return text, nil
}

// decode converts data to UTF-8 using the declared or sniffed charset.
func decode(data []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(data), contentType)
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
