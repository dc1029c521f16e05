package storage

import (
	"fmt"
	"strings"

	"inmobiscrap/models"
)

// MaxImages is the number of image URLs persisted per property.
const MaxImages = 10

type column struct {
	name     string
	sqlite   string
	postgres string
}

type categorySchema struct {
	table   string
	details []column
}

// commonColumns are shared by every category table, in insert order.
// id, created_at and updated_at are handled separately.
var commonColumns = []column{
	{"title", "TEXT NOT NULL", "TEXT NOT NULL"},
	{"description", "TEXT", "TEXT"},
	{"price", "INTEGER NOT NULL DEFAULT 0", "BIGINT NOT NULL DEFAULT 0"},
	{"price_uf", "REAL", "NUMERIC(12,2)"},
	{"operation", "TEXT NOT NULL DEFAULT 'sale'", "TEXT NOT NULL DEFAULT 'sale'"},
	{"area", "REAL DEFAULT 0", "NUMERIC(10,2) DEFAULT 0"},
	{"land_area", "REAL DEFAULT 0", "NUMERIC(12,2) DEFAULT 0"},
	{"rooms", "INTEGER DEFAULT 0", "INTEGER DEFAULT 0"},
	{"baths", "INTEGER DEFAULT 0", "INTEGER DEFAULT 0"},
	{"parking", "INTEGER DEFAULT 0", "INTEGER DEFAULT 0"},
	{"address", "TEXT", "TEXT"},
	{"commune", "TEXT", "TEXT"},
	{"city", "TEXT", "TEXT"},
	{"region", "TEXT", "TEXT"},
	{"amenities", "JSON", "TEXT[]"},
	{"images", "JSON", "TEXT[]"},
	{"source_id", "INTEGER", "BIGINT"},
	{"source_url", "TEXT", "TEXT"},
	{"site_name", "TEXT NOT NULL", "TEXT NOT NULL"},
	{"external_code", "TEXT NOT NULL", "TEXT NOT NULL"},
	{"contact_name", "TEXT", "TEXT"},
	{"contact_phone", "TEXT", "TEXT"},
	{"contact_email", "TEXT", "TEXT"},
	{"agency", "TEXT", "TEXT"},
	{"is_active", "BOOLEAN DEFAULT TRUE", "BOOLEAN DEFAULT TRUE"},
}

var schemas = map[models.Category]categorySchema{
	models.CategoryHouse: {"houses", []column{
		{"has_yard", "BOOLEAN DEFAULT FALSE", "BOOLEAN DEFAULT FALSE"},
		{"has_quincho", "BOOLEAN DEFAULT FALSE", "BOOLEAN DEFAULT FALSE"},
		{"has_pool", "BOOLEAN DEFAULT FALSE", "BOOLEAN DEFAULT FALSE"},
		{"stories", "INTEGER DEFAULT 1", "INTEGER DEFAULT 1"},
	}},
	models.CategoryApartment: {"apartments", []column{
		{"has_balcony", "BOOLEAN DEFAULT FALSE", "BOOLEAN DEFAULT FALSE"},
		{"has_terrace", "BOOLEAN DEFAULT FALSE", "BOOLEAN DEFAULT FALSE"},
		{"furnished", "BOOLEAN DEFAULT FALSE", "BOOLEAN DEFAULT FALSE"},
		{"pets_allowed", "BOOLEAN DEFAULT FALSE", "BOOLEAN DEFAULT FALSE"},
		{"floor", "INTEGER", "INTEGER"},
	}},
	models.CategoryLand: {"land_parcels", []column{
		{"has_water", "BOOLEAN DEFAULT FALSE", "BOOLEAN DEFAULT FALSE"},
		{"has_power", "BOOLEAN DEFAULT FALSE", "BOOLEAN DEFAULT FALSE"},
		{"has_sewer", "BOOLEAN DEFAULT FALSE", "BOOLEAN DEFAULT FALSE"},
		{"corner_lot", "BOOLEAN DEFAULT FALSE", "BOOLEAN DEFAULT FALSE"},
	}},
	models.CategoryPrefab: {"prefab_houses", []column{
		{"material", "TEXT DEFAULT 'madera'", "TEXT DEFAULT 'madera'"},
		{"transportable", "BOOLEAN DEFAULT TRUE", "BOOLEAN DEFAULT TRUE"},
		{"install_days", "INTEGER", "INTEGER"},
	}},
}

func schemaFor(cat models.Category) (categorySchema, error) {
	s, ok := schemas[cat]
	if !ok {
		return categorySchema{}, fmt.Errorf("unknown category %q", cat)
	}
	return s, nil
}

// TableFor returns the table holding properties of cat.
func TableFor(cat models.Category) (string, error) {
	s, err := schemaFor(cat)
	if err != nil {
		return "", err
	}
	return s.table, nil
}

func (s categorySchema) columns() []column {
	out := make([]column, 0, len(commonColumns)+len(s.details))
	out = append(out, commonColumns...)
	return append(out, s.details...)
}

func (s categorySchema) columnNames() []string {
	cols := s.columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

// insertOnly columns are written when a row is created and left alone by
// later upserts. is_active is owned by whoever soft-deactivates listings.
var insertOnly = map[string]bool{
	"external_code": true,
	"site_name":     true,
	"is_active":     true,
}

func (s categorySchema) createTable(postgres bool) string {
	var b strings.Builder
	idType, tsType := "TEXT PRIMARY KEY", "DATETIME"
	if postgres {
		idType, tsType = "UUID PRIMARY KEY", "TIMESTAMPTZ"
	}
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\t\tid %s", s.table, idType)
	for _, c := range s.columns() {
		typ := c.sqlite
		if postgres {
			typ = c.postgres
		}
		fmt.Fprintf(&b, ",\n\t\t%s %s", c.name, typ)
	}
	fmt.Fprintf(&b, ",\n\t\tcreated_at %s,\n\t\tupdated_at %s", tsType, tsType)
	b.WriteString(",\n\t\tUNIQUE(external_code, site_name)\n\t);\n")
	fmt.Fprintf(&b, "\tCREATE INDEX IF NOT EXISTS idx_%s_commune ON %s(commune);\n", s.table, s.table)
	fmt.Fprintf(&b, "\tCREATE INDEX IF NOT EXISTS idx_%s_source ON %s(source_id);\n", s.table, s.table)
	return b.String()
}

// commonValues returns p's common column values in commonColumns order.
// list encodes the amenities and images columns for the target engine.
func commonValues(p *models.NormalizedProperty, list func([]string) any) []any {
	return []any{
		p.Title, p.Description, p.Price, p.PriceUF, string(p.Operation),
		p.Area, p.LandArea, p.Rooms, p.Baths, p.Parking,
		p.Address, p.Commune, p.City, p.Region,
		list(nonNil(p.Amenities)), list(capImages(p.Images)),
		p.SourceID, p.SourceURL, p.SiteName, p.ExternalCode,
		p.ContactName, p.ContactPhone, p.ContactEmail, p.Agency, p.Active,
	}
}

// detailValues returns the category-specific values in schema order. Missing
// detail structs write zero values, so a poorer scrape overwrites a richer one.
func detailValues(p *models.NormalizedProperty) []any {
	switch p.Category {
	case models.CategoryHouse:
		d := p.House
		if d == nil {
			d = &models.HouseDetails{Stories: 1}
		}
		return []any{d.HasYard, d.HasQuincho, d.HasPool, d.Stories}
	case models.CategoryApartment:
		d := p.Apartment
		if d == nil {
			d = &models.ApartmentDetails{}
		}
		return []any{d.HasBalcony, d.HasTerrace, d.Furnished, d.PetsAllowed, d.Floor}
	case models.CategoryLand:
		d := p.Land
		if d == nil {
			d = &models.LandDetails{}
		}
		return []any{d.HasWater, d.HasPower, d.HasSewer, d.CornerLot}
	case models.CategoryPrefab:
		d := p.Prefab
		if d == nil {
			d = &models.PrefabDetails{Material: "madera", Transportable: true}
		}
		return []any{d.Material, d.Transportable, d.InstallDays}
	}
	return nil
}

// detailTargets allocates p's detail struct and returns scan targets for it.
func detailTargets(p *models.NormalizedProperty) []any {
	switch p.Category {
	case models.CategoryHouse:
		p.House = &models.HouseDetails{}
		return []any{&p.House.HasYard, &p.House.HasQuincho, &p.House.HasPool, &p.House.Stories}
	case models.CategoryApartment:
		p.Apartment = &models.ApartmentDetails{}
		return []any{&p.Apartment.HasBalcony, &p.Apartment.HasTerrace, &p.Apartment.Furnished, &p.Apartment.PetsAllowed, &p.Apartment.Floor}
	case models.CategoryLand:
		p.Land = &models.LandDetails{}
		return []any{&p.Land.HasWater, &p.Land.HasPower, &p.Land.HasSewer, &p.Land.CornerLot}
	case models.CategoryPrefab:
		p.Prefab = &models.PrefabDetails{}
		return []any{&p.Prefab.Material, &p.Prefab.Transportable, &p.Prefab.InstallDays}
	}
	return nil
}

func capImages(images []string) []string {
	if len(images) > MaxImages {
		return images[:MaxImages]
	}
	return nonNil(images)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func placeholders(n int, postgres bool) string {
	parts := make([]string, n)
	for i := range parts {
		if postgres {
			parts[i] = fmt.Sprintf("$%d", i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}
