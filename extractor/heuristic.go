package extractor

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"inmobiscrap/models"
)

const (
	defaultMaxContainers = 30
	maxImages            = 5
	maxDescription       = 1000
	minFallbackText      = 50
	minCandidateText     = 20
)

var (
	listingClassRe = regexp.MustCompile(`(?i)property|listing|card|item|result|anuncio|propiedad`)
	currencyRe     = regexp.MustCompile(`(?i)\$|\bUF\b`)
	spaceRe        = regexp.MustCompile(`\s+`)

	areaRe         = regexp.MustCompile(`(?i)(\d[\d.,]*)\s*(?:m²|m2|mts2|mts²|mt2)`)
	areaLabelRe    = regexp.MustCompile(`(?i)(?:superficie|área|area|tamaño)(?:\s+(?:total|útil|util|construida))?\s*:?\s*(\d[\d.,]*)`)
	landAfterRe    = regexp.MustCompile(`(?i)(\d[\d.,]*)\s*(?:m²|m2|mts2|mt2)\s*(?:de\s+)?terreno`)
	landLabelRe    = regexp.MustCompile(`(?i)terreno\s*:?\s*(\d[\d.,]*)`)
	roomsAfterRe   = regexp.MustCompile(`(?i)(\d+)\s*(?:dorm\w*|habitaci\w*|pieza\w*)`)
	roomsBeforeRe  = regexp.MustCompile(`(?i)(?:dorm\w*|habitaci\w*|pieza\w*)\.?\s*:?\s*(\d+)`)
	bathsAfterRe   = regexp.MustCompile(`(?i)(\d+)\s*ba[ñn]os?`)
	bathsBeforeRe  = regexp.MustCompile(`(?i)ba[ñn]os?\s*:?\s*(\d+)`)
	parkAfterRe    = regexp.MustCompile(`(?i)(\d+)\s*(?:estacionamientos?|parking|garages?)`)
	parkBeforeRe   = regexp.MustCompile(`(?i)(?:estacionamientos?|parking|garages?)\s*:?\s*(\d+)`)
	emailRe        = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe        = regexp.MustCompile(`(?:\+?56\s?)?(?:\(\s?\d{1,2}\s?\)\s?\d{3,4}\s?\d{4}|\b9\s?\d{4}\s?\d{4}\b|\b2\s?\d{4}\s?\d{4}\b)`)
	codeRe         = regexp.MustCompile(`(?i)\b(?:c[óo]d(?:igo)?|ref|id)\b[\s.:#-]*([a-z0-9-]*\d[a-z0-9-]*)`)
	leaseKeywordRe = regexp.MustCompile(`(?i)\b(?:arriendo|arrienda|alquiler)\b`)
	saleKeywordRe  = regexp.MustCompile(`(?i)\bventa\b`)
)

// HeuristicExtractor pulls partial listing records out of markup or tagged
// text using DOM structure and text patterns only.
type HeuristicExtractor struct {
	ufRate        float64
	maxContainers int
}

func NewHeuristic(ufRate float64, maxContainers int) *HeuristicExtractor {
	if maxContainers <= 0 {
		maxContainers = defaultMaxContainers
	}
	return &HeuristicExtractor{ufRate: ufRate, maxContainers: maxContainers}
}

// Extract accepts either HTML or the tagged text produced by the reducer.
// Records without a title and without a positive price are dropped.
func (h *HeuristicExtractor) Extract(content string) []models.RawListing {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if strings.Contains(content, "<") && strings.Contains(content, ">") {
		return h.extractHTML(content)
	}
	return h.extractText(content)
}

func (h *HeuristicExtractor) extractHTML(content string) []models.RawListing {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil
	}

	var records []models.RawListing
	for _, n := range h.listingContainers(doc) {
		rec := h.fromContainer(goquery.NewDocumentFromNode(n).Selection)
		if keep(rec) {
			records = append(records, rec)
		}
	}
	return records
}

// listingContainers returns candidate listing elements in document order.
// Class-name matches are preferred; otherwise any block holding a currency
// marker and enough text is considered.
func (h *HeuristicExtractor) listingContainers(doc *goquery.Document) []*html.Node {
	byClass := doc.Find("div, article, li, section").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return listingClassRe.MatchString(class) && utf8.RuneCountInString(blockText(s)) > minCandidateText
	})

	nodes := pruneNested(byClass.Nodes)
	if len(nodes) == 0 {
		fallback := doc.Find("div, article, section, li, tr, p").FilterFunction(func(_ int, s *goquery.Selection) bool {
			text := blockText(s)
			return currencyRe.MatchString(text) && utf8.RuneCountInString(text) > minFallbackText
		})
		nodes = pruneNested(fallback.Nodes)
	}

	if len(nodes) > h.maxContainers {
		nodes = nodes[:h.maxContainers]
	}
	return nodes
}

// pruneNested drops list wrappers (candidates whose nearest candidate
// descendants include two or more priced blocks) and then keeps only the
// outermost of the remaining nested candidates.
func pruneNested(nodes []*html.Node) []*html.Node {
	if len(nodes) == 0 {
		return nil
	}
	set := make(map[*html.Node]bool, len(nodes))
	for _, n := range nodes {
		set[n] = true
	}

	pricedChildren := make(map[*html.Node]int)
	for _, n := range nodes {
		if parent := nearestAncestor(n, set); parent != nil && currencyRe.MatchString(nodeText(n)) {
			pricedChildren[parent]++
		}
	}

	kept := make(map[*html.Node]bool, len(nodes))
	for _, n := range nodes {
		if pricedChildren[n] < 2 {
			kept[n] = true
		}
	}

	var out []*html.Node
	for _, n := range nodes {
		if kept[n] && nearestAncestor(n, kept) == nil {
			out = append(out, n)
		}
	}
	return out
}

func nearestAncestor(n *html.Node, set map[*html.Node]bool) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if set[p] {
			return p
		}
	}
	return nil
}

func (h *HeuristicExtractor) fromContainer(s *goquery.Selection) models.RawListing {
	var rec models.RawListing
	text := blockText(s)

	if heading := s.Find("h1, h2, h3, h4, h5, h6").First(); heading.Length() > 0 {
		setText(&rec.Title, blockText(heading))
	}
	if rec.Title.Empty() {
		s.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if t := blockText(a); utf8.RuneCountInString(t) > minCandidateText {
				rec.Title = models.Text(t)
				return false
			}
			return true
		})
	}

	anchors := s.Find("a[href]")
	if goquery.NodeName(s) == "a" {
		anchors = s
	}
	anchors.Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		switch {
		case href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:"):
		case strings.HasPrefix(href, "mailto:"):
			if rec.ContactEmail.Empty() {
				setText(&rec.ContactEmail, strings.TrimPrefix(href, "mailto:"))
			}
		case strings.HasPrefix(href, "tel:"):
			if rec.ContactPhone.Empty() {
				setText(&rec.ContactPhone, strings.TrimPrefix(href, "tel:"))
			}
		case rec.URL.Empty():
			rec.URL = models.Text(href)
		}
	})

	var images []string
	s.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if src == "" || strings.HasPrefix(src, "data:") {
			return true
		}
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		images = append(images, src)
		return len(images) < maxImages
	})
	rec.Images = images

	if p := s.Find("p").First(); p.Length() > 0 {
		setText(&rec.Description, capRunes(blockText(p), maxDescription))
	}

	h.applyText(&rec, text)
	return rec
}

// extractText handles the reducer's tagged text: blocks separated by "---",
// lines optionally prefixed with [TAG].
func (h *HeuristicExtractor) extractText(content string) []models.RawListing {
	var records []models.RawListing
	for _, block := range splitBlocks(content) {
		if len(records) >= h.maxContainers {
			break
		}
		var rec models.RawListing
		var plain []string
		for _, line := range block {
			tag, value := splitTag(line)
			switch tag {
			case "TITULO":
				if rec.Title.Empty() {
					setText(&rec.Title, value)
				}
			case "DESCRIPCION":
				if rec.Description.Empty() {
					setText(&rec.Description, capRunes(value, maxDescription))
				}
			}
			plain = append(plain, value)
		}
		h.applyText(&rec, strings.Join(plain, " "))
		if keep(rec) {
			records = append(records, rec)
		}
	}
	return records
}

// applyText fills the pattern-driven fields from a container's flat text.
func (h *HeuristicExtractor) applyText(rec *models.RawListing, text string) {
	if pm, ok := ParsePrice(text, h.ufRate); ok {
		rec.Price = models.Number(pm.Price)
		if pm.UF != nil {
			rec.PriceUF = models.Number(*pm.UF)
		}
	}

	if n, ok := firstNumber(text, areaRe, areaLabelRe); ok {
		rec.Area = models.Number(n)
	}
	if n, ok := firstNumber(text, landAfterRe, landLabelRe); ok {
		rec.LandArea = models.Number(n)
	}
	if n, ok := firstNumber(text, roomsAfterRe, roomsBeforeRe); ok {
		rec.Rooms = models.Number(n)
	}
	if n, ok := firstNumber(text, bathsAfterRe, bathsBeforeRe); ok {
		rec.Baths = models.Number(n)
	}
	if n, ok := firstNumber(text, parkAfterRe, parkBeforeRe); ok {
		rec.Parking = models.Number(n)
	}

	if commune := findCommune(text); commune != "" {
		rec.Commune = models.Text(commune)
	}

	lease, sale := leaseKeywordRe.MatchString(text), saleKeywordRe.MatchString(text)
	switch {
	case lease && sale:
		rec.Operation = models.Text("venta y arriendo")
	case lease:
		rec.Operation = models.Text("arriendo")
	case sale:
		rec.Operation = models.Text("venta")
	}

	if rec.ContactEmail.Empty() {
		if m := emailRe.FindString(text); m != "" {
			rec.ContactEmail = models.Text(m)
		}
	}
	if rec.ContactPhone.Empty() {
		if m := phoneRe.FindString(text); m != "" {
			rec.ContactPhone = models.Text(strings.TrimSpace(m))
		}
	}
	if m := codeRe.FindStringSubmatch(text); m != nil {
		rec.ExternalCode = models.Text(strings.ToUpper(m[1]))
	}
}

func firstNumber(text string, patterns ...*regexp.Regexp) (float64, bool) {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if n, ok := ParseNumber(m[1]); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func keep(rec models.RawListing) bool {
	if rec.TitleText() != "" {
		return true
	}
	p, ok := rec.Price.Float()
	return ok && p > 0
}

func splitBlocks(content string) [][]string {
	var blocks [][]string
	var current []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "---" {
			if len(current) > 0 {
				blocks = append(blocks, current)
			}
			current = nil
			continue
		}
		if line != "" {
			current = append(current, line)
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

func splitTag(line string) (string, string) {
	if !strings.HasPrefix(line, "[") {
		return "", line
	}
	end := strings.Index(line, "]")
	if end < 0 {
		return "", line
	}
	return line[1:end], strings.TrimSpace(line[end+1:])
}

// blockText joins the element's text nodes with single spaces, unlike
// Selection.Text which glues adjacent nodes together.
func blockText(s *goquery.Selection) string {
	var parts []string
	for _, n := range s.Nodes {
		parts = appendText(n, parts)
	}
	return strings.Join(parts, " ")
}

func nodeText(n *html.Node) string {
	return strings.Join(appendText(n, nil), " ")
}

func appendText(n *html.Node, parts []string) []string {
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(spaceRe.ReplaceAllString(n.Data, " ")); t != "" {
			parts = append(parts, t)
		}
		return parts
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return parts
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		parts = appendText(c, parts)
	}
	return parts
}

func setText(dst *models.Scalar, s string) {
	if s = strings.TrimSpace(s); s != "" {
		*dst = models.Text(s)
	}
}

func capRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
