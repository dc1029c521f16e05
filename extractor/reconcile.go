package extractor

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"inmobiscrap/models"
)

const titlePrefixLen = 30

// Merge combines both extractor outputs. LLM records are kept as-is; a
// heuristic record is appended only if its title does not overlap an already
// kept title (substring either way, or same 30-character prefix) and its
// price is not already present. The pass is greedy and order-dependent.
func Merge(heuristic, llm []models.RawListing) []models.RawListing {
	merged := make([]models.RawListing, 0, len(llm)+len(heuristic))
	var titles []string
	prices := make(map[int64]bool)

	add := func(rec models.RawListing) {
		merged = append(merged, rec)
		if t := normTitle(rec); t != "" {
			titles = append(titles, t)
		}
		if p := priceKey(rec.Price); p > 0 {
			prices[p] = true
		}
	}

	for _, rec := range llm {
		add(rec)
	}

	for _, rec := range heuristic {
		if p := priceKey(rec.Price); p > 0 && prices[p] {
			continue
		}
		if t := normTitle(rec); t != "" && titleOverlaps(t, titles) {
			continue
		}
		add(rec)
	}
	return merged
}

func titleOverlaps(title string, existing []string) bool {
	prefix := runePrefix(title, titlePrefixLen)
	for _, other := range existing {
		if strings.Contains(other, title) || strings.Contains(title, other) {
			return true
		}
		if prefix == runePrefix(other, titlePrefixLen) {
			return true
		}
	}
	return false
}

func normTitle(rec models.RawListing) string {
	return strings.ToLower(rec.TitleText())
}

func runePrefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// priceKey reads a price as an integer, from a number or from the digits of
// a string.
func priceKey(s models.Scalar) int64 {
	if f, ok := s.Float(); ok {
		return PriceInt(f)
	}
	digits := digitsOnly(s.String())
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Keyword groups in precedence order.
var categoryKeywords = []struct {
	category models.Category
	words    []string
}{
	{models.CategoryLand, []string{"terreno", "lote", "sitio", "parcela"}},
	{models.CategoryApartment, []string{"departamento", "depto", "dpto", "apartamento"}},
	{models.CategoryPrefab, []string{"prefabricada", "prefabricado", "modular", "container", "contenedor", "móvil", "movil", "tiny house"}},
	{models.CategoryHouse, []string{"casa", "vivienda", "chalet"}},
}

// Classify assigns a category by keyword over title and description, falling
// back to built area when no keyword hits.
func Classify(rec models.RawListing) models.Category {
	text := strings.ToLower(rec.TitleText() + " " + rec.DescriptionText())
	for _, group := range categoryKeywords {
		for _, w := range group.words {
			if strings.Contains(text, w) {
				return group.category
			}
		}
	}

	area := areaValue(rec.Area)
	switch {
	case area > 500:
		return models.CategoryLand
	case area < 80:
		return models.CategoryApartment
	}
	return models.CategoryHouse
}

func areaValue(s models.Scalar) float64 {
	if f, ok := s.Float(); ok {
		return f
	}
	if f, ok := ParseNumber(strings.Fields(s.String() + " 0")[0]); ok {
		return f
	}
	return 0
}
