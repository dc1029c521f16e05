package extractor

import (
	"regexp"
	"strings"
	"unicode"
)

// communes is scanned in order; the first one found wins, so names that
// contain another name come before it.
var communes = []string{
	"Santiago Centro", "Las Condes", "Lo Barnechea", "Vitacura", "Providencia", "Ñuñoa", "La Reina",
	"Estación Central", "Independencia", "Recoleta", "Macul", "Peñalolén", "La Florida", "Puente Alto",
	"San José de Maipo", "Maipú", "San Miguel", "San Joaquín", "La Cisterna", "San Bernardo", "Quilicura",
	"Huechuraba", "Conchalí", "Renca", "Pudahuel", "Cerrillos", "Lo Prado", "Quinta Normal", "Cerro Navia",
	"La Granja", "La Pintana", "El Bosque", "Pedro Aguirre Cerda", "Lo Espejo", "San Ramón", "Chicureo",
	"Colina", "Lampa", "Buin", "Talagante", "Peñaflor", "Padre Hurtado", "Pirque", "Viña del Mar",
	"Valparaíso", "Concón", "Concepción", "Temuco", "Rancagua", "La Serena", "Coquimbo", "Antofagasta",
	"Puerto Montt", "Santiago",
}

var foldedCommunes = func() []string {
	out := make([]string, len(communes))
	for i, c := range communes {
		out[i] = fold(c)
	}
	return out
}()

var (
	locationRe = regexp.MustCompile(`(?:^|\s)(?i:comuna\s+de|comuna|ubicad[oa]\s+en|en)\s+(\p{Lu}\p{L}+(?:\s+(?:de\s+|del\s+)?\p{Lu}\p{L}+)*)`)

	locationStopwords = map[string]bool{
		"venta": true, "arriendo": true, "alquiler": true, "oferta": true, "excelente": true,
		"uf": true, "pesos": true, "condominio": true, "sector": true, "pleno": true,
	}
)

// findCommune returns the first known commune named in text, else the first
// capitalized phrase after "en", "comuna" or "ubicado en".
func findCommune(text string) string {
	folded := fold(text)
	for i, name := range foldedCommunes {
		if containsWord(folded, name) {
			return communes[i]
		}
	}

	for _, m := range locationRe.FindAllStringSubmatch(text, -1) {
		candidate := strings.TrimSpace(m[1])
		first := strings.ToLower(strings.Fields(candidate)[0])
		if locationStopwords[fold(first)] {
			continue
		}
		return candidate
	}
	return ""
}

var foldReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

// fold lower-cases and strips Spanish diacritics.
func fold(s string) string {
	return foldReplacer.Replace(strings.ToLower(s))
}

// containsWord reports whether needle occurs in haystack delimited by
// non-letters on both sides.
func containsWord(haystack, needle string) bool {
	for start := 0; start < len(haystack); {
		idx := strings.Index(haystack[start:], needle)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(needle)
		if boundaryBefore(haystack, idx) && boundaryAfter(haystack, end) {
			return true
		}
		start = idx + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := lastRune(s[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := []rune(s[i:])[0]
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func lastRune(s string) rune {
	runes := []rune(s)
	return runes[len(runes)-1]
}
