package extractor

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	millionsRe = regexp.MustCompile(`(?i)\$\s*(\d[\d.,]*)\s*millones`)
	ufBeforeRe = regexp.MustCompile(`(?i)\bUF\s*\$?\s*(\d[\d.,]*)`)
	ufAfterRe  = regexp.MustCompile(`(?i)(\d[\d.,]*)\s*UF\b`)
	pesoRe     = regexp.MustCompile(`\$\s*(\d[\d.,]*)`)

	thousandsDotRe = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
)

// ParseNumber reads a number written the Chilean way: dots group thousands
// and a comma marks decimals. A lone dot that does not group thousands is a
// decimal point ("150.5").
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".,")
	if s == "" {
		return 0, false
	}

	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
		s = strings.ReplaceAll(s, ",", "")
	case thousandsDotRe.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// PriceMatch is the outcome of scanning text for a price.
type PriceMatch struct {
	Price float64  // local currency
	UF    *float64 // set when the price was quoted in UF
}

// ParsePrice applies the price patterns in order: "$ N millones", "$ N",
// "UF N", "N UF". The first pattern that matches wins, so a peso amount on
// the page takes precedence over a UF quote. A UF price is converted at
// ufRate.
func ParsePrice(text string, ufRate float64) (PriceMatch, bool) {
	if m := millionsRe.FindStringSubmatch(text); m != nil {
		if n, ok := ParseNumber(m[1]); ok {
			return PriceMatch{Price: n * 1_000_000}, true
		}
	}

	if peso, ok := firstPeso(text); ok {
		return PriceMatch{Price: peso}, true
	}

	for _, re := range []*regexp.Regexp{ufBeforeRe, ufAfterRe} {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		uf, ok := ParseNumber(m[1])
		if !ok {
			continue
		}
		return PriceMatch{UF: &uf, Price: math.Round(uf * ufRate)}, true
	}
	return PriceMatch{}, false
}

// PriceInt rounds a price to whole pesos. Values that are not positive or do
// not fit an int64 read as 0, the same as a missing price.
func PriceInt(f float64) int64 {
	r := math.Round(f)
	if !(r > 0) || r >= math.MaxInt64 {
		return 0
	}
	return int64(r)
}

func firstPeso(text string) (float64, bool) {
	for _, m := range pesoRe.FindAllStringSubmatch(text, -1) {
		if n, ok := ParseNumber(m[1]); ok && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// digitsOnly drops every non-digit rune.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
