package normalize

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"inmobiscrap/extractor"
	"inmobiscrap/identity"
	"inmobiscrap/models"
)

// ErrRejected marks a record with neither a title nor a positive price.
var ErrRejected = errors.New("record rejected: no title and no price")

const (
	DefaultTitle  = "Sin título"
	DefaultCity   = "Santiago"
	DefaultRegion = "Metropolitana"

	maxTitle       = 500
	maxDescription = 1000
	maxAddress     = 500
	maxPlace       = 100
	maxName        = 200
	maxPhone       = 50
	maxEmail       = 254

	defaultStories  = 1
	defaultMaterial = "madera"
)

var (
	leaseWords = []string{"arriendo", "arrienda", "arrend", "alquiler", "renta", "lease", "rent"}

	numericTokenRe = regexp.MustCompile(`\d[\d.,]*`)
)

// amenityKeywords maps a canonical amenity to the words that reveal it.
var amenityKeywords = []struct {
	name  string
	words []string
}{
	{"piscina", []string{"piscina"}},
	{"jardín", []string{"jardín", "jardin"}},
	{"terraza", []string{"terraza"}},
	{"estacionamiento", []string{"estacionamiento"}},
	{"amoblado", []string{"amoblado", "amueblado"}},
	{"mascotas", []string{"mascota"}},
	{"bodega", []string{"bodega"}},
	{"quincho", []string{"quincho"}},
}

type Normalizer struct {
	ufRate float64
}

func New(ufRate float64) *Normalizer {
	if ufRate <= 0 {
		ufRate = extractor.DefaultUFRate
	}
	return &Normalizer{ufRate: ufRate}
}

// Normalize coerces every field of raw to its canonical type. Bad values
// degrade to defaults; the only failure is ErrRejected.
func (n *Normalizer) Normalize(raw models.RawListing, cat models.Category, origin models.Origin) (*models.NormalizedProperty, error) {
	price := priceValue(raw.Price)
	uf := ufValue(raw.PriceUF)
	if price <= 0 && uf != nil {
		price = extractor.PriceInt(*uf * n.ufRate)
	}

	rawTitle := raw.TitleText()
	if price <= 0 && rawTitle == "" {
		return nil, ErrRejected
	}

	p := &models.NormalizedProperty{
		Category:     cat,
		Title:        orDefault(capText(rawTitle, maxTitle), DefaultTitle),
		Description:  capText(raw.DescriptionText(), maxDescription),
		Price:        price,
		PriceUF:      uf,
		Operation:    Operation(raw.Operation.String()),
		Area:         areaValue(raw.Area),
		LandArea:     areaValue(raw.LandArea),
		Rooms:        countValue(raw.Rooms),
		Baths:        countValue(raw.Baths),
		Parking:      countValue(raw.Parking),
		Address:      capText(text(raw.Address), maxAddress),
		Commune:      capText(text(raw.Commune), maxPlace),
		City:         orDefault(capText(text(raw.City), maxPlace), DefaultCity),
		Region:       orDefault(capText(text(raw.Region), maxPlace), DefaultRegion),
		Images:       cleanList(raw.Images),
		SourceID:     origin.SourceID,
		SourceURL:    orDefault(text(raw.URL), origin.SourceURL),
		SiteName:     origin.SiteName,
		ExternalCode: capText(text(raw.ExternalCode), maxName),
		ContactName:  capText(text(raw.ContactName), maxName),
		ContactPhone: capText(text(raw.ContactPhone), maxPhone),
		ContactEmail: capText(text(raw.ContactEmail), maxEmail),
		Agency:       capText(text(raw.Agency), maxName),
		Active:       true,
	}

	corpus := strings.ToLower(p.Title + " " + p.Description)
	p.Amenities = cleanList(raw.Amenities)
	if len(p.Amenities) == 0 {
		p.Amenities = DetectAmenities(corpus)
	}

	if p.ExternalCode == "" {
		location := p.Commune
		if location == "" {
			location = p.Address
		}
		p.ExternalCode = identity.DerivedCode(p.Title, p.Price, location)
	}

	applyDetails(p, raw, corpus)
	return p, nil
}

// Operation maps free text to an operation kind. Lease words win over the
// sale default; both together mean sale-or-lease.
func Operation(s string) models.Operation {
	lower := strings.ToLower(s)
	lease := false
	for _, w := range leaseWords {
		if strings.Contains(lower, w) {
			lease = true
			break
		}
	}
	switch {
	case lease && strings.Contains(lower, "venta"):
		return models.OperationSaleOrLease
	case lease:
		return models.OperationLease
	}
	return models.OperationSale
}

// DetectAmenities returns the canonical amenities mentioned in lower-cased text.
func DetectAmenities(lower string) []string {
	var out []string
	for _, a := range amenityKeywords {
		for _, w := range a.words {
			if strings.Contains(lower, w) {
				out = append(out, a.name)
				break
			}
		}
	}
	return out
}

func applyDetails(p *models.NormalizedProperty, raw models.RawListing, corpus string) {
	has := func(s models.Scalar, words ...string) bool {
		if s.Truthy() {
			return true
		}
		for _, w := range words {
			if strings.Contains(corpus, w) {
				return true
			}
		}
		return false
	}

	switch p.Category {
	case models.CategoryHouse:
		stories := countValue(raw.Stories)
		if stories <= 0 {
			stories = defaultStories
		}
		p.House = &models.HouseDetails{
			HasYard:    has(raw.HasYard, "patio", "jardín", "jardin"),
			HasQuincho: has(raw.HasQuincho, "quincho"),
			HasPool:    has(raw.HasPool, "piscina"),
			Stories:    stories,
		}
	case models.CategoryApartment:
		p.Apartment = &models.ApartmentDetails{
			HasBalcony:  has(raw.HasBalcony, "balcón", "balcon"),
			HasTerrace:  has(raw.HasTerrace, "terraza"),
			Furnished:   has(raw.Furnished, "amoblado", "amueblado"),
			PetsAllowed: has(raw.PetsAllowed, "acepta mascotas", "pet friendly"),
			Floor:       optionalCount(raw.Floor),
		}
	case models.CategoryLand:
		p.Land = &models.LandDetails{
			HasWater:  has(raw.HasWater, "agua"),
			HasPower:  has(raw.HasPower, "luz", "electricidad"),
			HasSewer:  has(raw.HasSewer, "alcantarillado"),
			CornerLot: has(raw.CornerLot, "esquina"),
		}
	case models.CategoryPrefab:
		material := strings.ToLower(text(raw.Material))
		if material == "" {
			material = defaultMaterial
		}
		p.Prefab = &models.PrefabDetails{
			Material:      capText(material, 20),
			Transportable: true,
			InstallDays:   optionalCount(raw.InstallDays),
		}
	}
}

// priceValue keeps only the digits of strings; numbers are rounded.
func priceValue(s models.Scalar) int64 {
	if f, ok := s.Float(); ok {
		return extractor.PriceInt(f)
	}
	return digitsInt(s.String())
}

// ufValue keeps digits and separators of strings and reads them as a
// Chilean-formatted number. Non-positive amounts are dropped.
func ufValue(s models.Scalar) *float64 {
	var f float64
	if v, ok := s.Float(); ok {
		f = v
	} else if tok := numericTokenRe.FindString(s.String()); tok != "" {
		f, _ = extractor.ParseNumber(tok)
	}
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// areaValue reads the first number of a string so "150,5 m2" stays 150.5.
func areaValue(s models.Scalar) float64 {
	if f, ok := s.Float(); ok {
		if f < 0 || math.IsInf(f, 0) {
			return 0
		}
		return f
	}
	tok := numericTokenRe.FindString(s.String())
	if tok == "" {
		return 0
	}
	f, _ := extractor.ParseNumber(tok)
	return f
}

func countValue(s models.Scalar) int {
	if f, ok := s.Float(); ok {
		if f < 0 || f > math.MaxInt32 {
			return 0
		}
		return int(f)
	}
	tok := numericTokenRe.FindString(s.String())
	return int(digitsInt(strings.SplitN(strings.SplitN(tok, ",", 2)[0], ".", 2)[0]))
}

func optionalCount(s models.Scalar) *int {
	if s.Empty() {
		return nil
	}
	if _, ok := s.Float(); !ok && numericTokenRe.FindString(s.String()) == "" {
		return nil
	}
	v := countValue(s)
	return &v
}

func digitsInt(s string) int64 {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	v, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func text(s models.Scalar) string {
	if s.Empty() {
		return ""
	}
	return strings.TrimSpace(s.String())
}

func capText(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
