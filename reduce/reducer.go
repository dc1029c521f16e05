package reduce

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"inmobiscrap/logging"
)

// DefaultBudget is 6000 tokens at roughly 4 characters per token.
const DefaultBudget = 24000

type Mode string

const (
	ModeClean     Mode = "clean"     // cleaned page fits the budget
	ModeContainer Mode = "container" // results container markup fits the budget
	ModeSummary   Mode = "summary"   // tagged text rendering of the container
)

const (
	noiseTags = "script, style, noscript, iframe, object, embed, svg, canvas, video, audio, form, link, meta"

	noiseSelectors = "header, footer, nav, .header, .footer, .navbar, .menu, .navigation, .sidebar, " +
		".advertisement, .ad, .ads, .cookie-banner, .modal, .popup, " +
		"[role=banner], [role=navigation], [role=complementary]"

	separator = "---"
)

var (
	whitespaceRe    = regexp.MustCompile(`\s+`)
	interTagSpaceRe = regexp.MustCompile(`>\s+<`)
	containerRe     = regexp.MustCompile(`(?i)result|listing|properties|grid`)
	ufRe            = regexp.MustCompile(`(?i)\buf\b`)
)

type Stats struct {
	OriginalBytes int     `json:"original_bytes"`
	ReducedBytes  int     `json:"reduced_bytes"`
	OriginalTags  int     `json:"original_tags"`
	ReducedTags   int     `json:"reduced_tags"`
	ReductionPct  float64 `json:"reduction_pct"`
}

func (s Stats) OriginalKB() float64 { return round2(float64(s.OriginalBytes) / 1024) }
func (s Stats) ReducedKB() float64  { return round2(float64(s.ReducedBytes) / 1024) }

// Ratio is reduced over original size, 0 for empty input.
func (s Stats) Ratio() float64 {
	if s.OriginalBytes == 0 {
		return 0
	}
	return float64(s.ReducedBytes) / float64(s.OriginalBytes)
}

type Result struct {
	// CleanHTML is the cleaned page, used by the heuristic extractor.
	CleanHTML string
	// Content is what the LLM receives; never longer than the budget.
	Content   string
	Mode      Mode
	Truncated bool
	Stats     Stats
}

type Reducer struct {
	budget int
	logger *zap.Logger
}

func New(budget int, logger *zap.Logger) *Reducer {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Reducer{budget: budget, logger: logging.OrNop(logger)}
}

func (r *Reducer) Budget() int {
	return r.budget
}

// Reduce cleans raw and, if the result is still over budget, narrows it down
// to the results container and then to tagged text.
func (r *Reducer) Reduce(raw string) Result {
	clean := r.Clean(raw)
	res := Result{CleanHTML: clean, Content: clean, Mode: ModeClean}

	if utf8.RuneCountInString(clean) > r.budget {
		res.Content, res.Mode, res.Truncated = r.Summarize(clean)
	}

	res.Stats = computeStats(raw, res.Content)
	return res
}

// Clean strips non-content markup and collapses whitespace.
func (r *Reducer) Clean(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return collapse(raw)
	}

	doc.Find(noiseTags).Remove()
	doc.Find(noiseSelectors).Remove()
	for _, n := range doc.Nodes {
		stripComments(n)
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		keepImageAttrs(s.Nodes[0])
	})
	doc.Find("*").Not("img").Each(func(_ int, s *goquery.Selection) {
		dropNoiseAttrs(s.Nodes[0])
	})

	out, err := doc.Html()
	if err != nil {
		return collapse(raw)
	}
	return collapse(out)
}

// Summarize renders the most probable results container so that it fits the
// budget. It reports the mode used and whether the output was truncated.
func (r *Reducer) Summarize(cleanHTML string) (string, Mode, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cleanHTML))
	if err != nil {
		out, cut := truncate(cleanHTML, r.budget)
		return out, ModeClean, cut
	}

	container := findContainer(doc)
	if markup, err := goquery.OuterHtml(container); err == nil {
		markup = collapse(markup)
		if utf8.RuneCountInString(markup) <= r.budget {
			return markup, ModeContainer, false
		}
	}

	text := renderTagged(container)
	out, cut := truncate(text, r.budget)
	if cut {
		r.logger.Warn("reduced content truncated to budget",
			zap.Int("budget", r.budget),
			zap.Int("length", utf8.RuneCountInString(text)))
	}
	return out, ModeSummary, cut
}

// findContainer picks the element whose id/class looks like a results list
// and whose direct children carry the most prices. Falls back to body.
func findContainer(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestScore, bestLen := -1, 0

	doc.Find("[id], [class]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		class, _ := s.Attr("class")
		if !containerRe.MatchString(id + " " + class) {
			return
		}
		score := 0
		s.Children().Each(func(_ int, child *goquery.Selection) {
			if hasCurrency(child.Text()) {
				score++
			}
		})
		length := len(s.Text())
		switch {
		case score > bestScore:
		case score == bestScore && score == 0 && length > bestLen:
		case score == bestScore && score > 0 && length < bestLen:
		default:
			return
		}
		best, bestScore, bestLen = s, score, length
	})

	if best == nil {
		body := doc.Find("body")
		if body.Length() > 0 {
			return body.First()
		}
		return doc.Selection
	}
	return best
}

func renderTagged(container *goquery.Selection) string {
	blocks := container.Children()
	if blocks.Length() == 0 {
		blocks = container
	}

	var b strings.Builder
	blocks.Each(func(_ int, block *goquery.Selection) {
		var lines []string
		for _, n := range block.Nodes {
			lines = collectLines(n, lines)
		}
		if len(lines) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString(separator)
			b.WriteByte('\n')
		}
		for _, line := range lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	})
	return strings.TrimRight(b.String(), "\n")
}

func collectLines(n *html.Node, lines []string) []string {
	if n.Type == html.TextNode {
		text := strings.TrimSpace(whitespaceRe.ReplaceAllString(n.Data, " "))
		if text == "" {
			return lines
		}
		if tag := inferTag(n.Parent, text); tag != "" {
			return append(lines, "["+tag+"] "+text)
		}
		return append(lines, text)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		lines = collectLines(c, lines)
	}
	return lines
}

func inferTag(parent *html.Node, text string) string {
	if parent != nil && parent.Type == html.ElementNode {
		switch parent.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			return "TITULO"
		}
		for _, a := range parent.Attr {
			if a.Key == "class" && strings.Contains(strings.ToLower(a.Val), "title") {
				return "TITULO"
			}
		}
	}

	lower := strings.ToLower(text)
	switch {
	case hasCurrency(text):
		return "PRECIO"
	case strings.Contains(lower, "m²") || strings.Contains(lower, "m2") || strings.Contains(lower, "superficie"):
		return "SUPERFICIE"
	case strings.Contains(lower, "dorm") || strings.Contains(lower, "habitaci"):
		return "DORMITORIOS"
	case strings.Contains(lower, "baño") || strings.Contains(lower, "bano"):
		return "BANOS"
	case strings.Contains(lower, "estacionamiento") || strings.Contains(lower, "parking"):
		return "ESTACIONAMIENTO"
	case utf8.RuneCountInString(text) > 80:
		return "DESCRIPCION"
	}
	return ""
}

func hasCurrency(text string) bool {
	return strings.Contains(text, "$") || ufRe.MatchString(text)
}

func stripComments(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			stripComments(c)
		}
		c = next
	}
}

// keepImageAttrs leaves only src and alt, promoting lazy-load sources.
func keepImageAttrs(n *html.Node) {
	var src, lazy, alt string
	for _, a := range n.Attr {
		switch a.Key {
		case "src":
			src = a.Val
		case "data-src", "data-lazy-src", "data-original":
			if lazy == "" {
				lazy = a.Val
			}
		case "alt":
			alt = a.Val
		}
	}
	if src == "" || strings.HasPrefix(src, "data:") {
		src = lazy
	}
	n.Attr = n.Attr[:0]
	if src != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "src", Val: src})
	}
	if alt != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "alt", Val: alt})
	}
}

func dropNoiseAttrs(n *html.Node) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key == "style" || strings.HasPrefix(a.Key, "on") || strings.HasPrefix(a.Key, "data-") || strings.HasPrefix(a.Key, "aria-") {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

func collapse(s string) string {
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = interTagSpaceRe.ReplaceAllString(s, "><")
	return strings.TrimSpace(s)
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:limit]), true
}

func computeStats(original, reduced string) Stats {
	st := Stats{
		OriginalBytes: len(original),
		ReducedBytes:  len(reduced),
		OriginalTags:  strings.Count(original, "<"),
		ReducedTags:   strings.Count(reduced, "<"),
	}
	if st.OriginalBytes > 0 {
		st.ReductionPct = round2((1 - float64(st.ReducedBytes)/float64(st.OriginalBytes)) * 100)
	}
	return st
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
