package normalize

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inmobiscrap/identity"
	"inmobiscrap/models"
)

var origin = models.Origin{SourceID: 7, SourceURL: "https://www.yapo.cl/casas", SiteName: "Yapo"}

func TestNormalize_CoercesFields(t *testing.T) {
	raw := models.RawListing{
		Title:        models.Text("  Casa en Buin  "),
		Price:        models.Text("$ 95.000.000"),
		PriceUF:      models.Text("UF 2.567,5"),
		Operation:    models.Text("Arriendo"),
		Area:         models.Text("150,5 m2"),
		LandArea:     models.Number(1000),
		Rooms:        models.Text("3 dormitorios"),
		Baths:        models.Number(2),
		Parking:      models.Text("sin datos"),
		Commune:      models.Text("Buin"),
		URL:          models.Text("https://www.yapo.cl/casa-buin-1"),
		Images:       models.StringList{"https://img/1.jpg", " ", "https://img/1.jpg", "https://img/2.jpg"},
		ContactPhone: models.Number(56912345678),
	}

	p, err := New(37000).Normalize(raw, models.CategoryHouse, origin)
	require.NoError(t, err)

	assert.Equal(t, "Casa en Buin", p.Title)
	assert.Equal(t, int64(95000000), p.Price)
	require.NotNil(t, p.PriceUF)
	assert.Equal(t, 2567.5, *p.PriceUF)
	assert.Equal(t, models.OperationLease, p.Operation)
	assert.Equal(t, 150.5, p.Area)
	assert.Equal(t, 1000.0, p.LandArea)
	assert.Equal(t, 3, p.Rooms)
	assert.Equal(t, 2, p.Baths)
	assert.Equal(t, 0, p.Parking)
	assert.Equal(t, "Buin", p.Commune)
	assert.Equal(t, DefaultCity, p.City)
	assert.Equal(t, DefaultRegion, p.Region)
	assert.Equal(t, []string{"https://img/1.jpg", "https://img/2.jpg"}, p.Images)
	assert.Equal(t, "https://www.yapo.cl/casa-buin-1", p.SourceURL)
	assert.Equal(t, "Yapo", p.SiteName)
	assert.Equal(t, int64(7), p.SourceID)
	assert.Equal(t, "56912345678", p.ContactPhone)
	assert.True(t, p.Active)
	require.NotNil(t, p.House)
	assert.Equal(t, 1, p.House.Stories)
}

func TestNormalize_UFOnlyPrice(t *testing.T) {
	raw := models.RawListing{Title: models.Text("Depto"), PriceUF: models.Number(4200)}

	p, err := New(37000).Normalize(raw, models.CategoryApartment, origin)
	require.NoError(t, err)
	assert.Equal(t, int64(155400000), p.Price)
}

func TestNormalize_OutOfRangePrices(t *testing.T) {
	n := New(37000)
	tests := []struct {
		name  string
		raw   models.RawListing
		price int64
	}{
		{"huge pesos", models.RawListing{Title: models.Text("Casa"), Price: models.Number(1e30)}, 0},
		{"huge uf", models.RawListing{Title: models.Text("Casa"), PriceUF: models.Number(1e300)}, 0},
		{"huge pesos falls back to uf", models.RawListing{Title: models.Text("Casa"), Price: models.Number(1e30), PriceUF: models.Number(100)}, 3700000},
		{"digit overflow in text", models.RawListing{Title: models.Text("Casa"), Price: models.Text("$ 99999999999999999999999")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := n.Normalize(tt.raw, models.CategoryHouse, origin)
			require.NoError(t, err)
			assert.Equal(t, tt.price, p.Price)
			assert.GreaterOrEqual(t, p.Price, int64(0))
		})
	}

	_, err := n.Normalize(models.RawListing{Price: models.Number(1e30)}, models.CategoryHouse, origin)
	assert.ErrorIs(t, err, ErrRejected, "an unusable price is a missing price")
}

func TestNormalize_Rejection(t *testing.T) {
	n := New(37000)

	_, err := n.Normalize(models.RawListing{Price: models.Number(0)}, models.CategoryHouse, origin)
	assert.True(t, errors.Is(err, ErrRejected))

	_, err = n.Normalize(models.RawListing{Title: models.Text("   "), Price: models.Text("consultar")}, models.CategoryHouse, origin)
	assert.ErrorIs(t, err, ErrRejected)

	p, err := n.Normalize(models.RawListing{Price: models.Number(50000000)}, models.CategoryLand, origin)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, p.Title, "untitled but priced records survive")
	assert.Equal(t, origin.SourceURL, p.SourceURL)
}

func TestNormalize_DerivedCodeIsStable(t *testing.T) {
	raw := models.RawListing{Title: models.Text("Casa en Colina"), Price: models.Number(180000000), Commune: models.Text("Colina")}
	n := New(37000)

	a, err := n.Normalize(raw, models.CategoryHouse, origin)
	require.NoError(t, err)
	b, err := n.Normalize(raw, models.CategoryHouse, origin)
	require.NoError(t, err)

	assert.Equal(t, a.ExternalCode, b.ExternalCode)
	assert.Equal(t, identity.DerivedCode("Casa en Colina", 180000000, "Colina"), a.ExternalCode)

	raw.ExternalCode = models.Text("YP-123")
	c, err := n.Normalize(raw, models.CategoryHouse, origin)
	require.NoError(t, err)
	assert.Equal(t, "YP-123", c.ExternalCode)
}

func TestNormalize_Caps(t *testing.T) {
	raw := models.RawListing{
		Title:       models.Text(strings.Repeat("á", 600)),
		Description: models.Text(strings.Repeat("x", 1500)),
		Commune:     models.Text(strings.Repeat("c", 150)),
		Price:       models.Number(1),
	}
	p, err := New(37000).Normalize(raw, models.CategoryHouse, origin)
	require.NoError(t, err)
	assert.Equal(t, 500, len([]rune(p.Title)))
	assert.Len(t, p.Description, 1000)
	assert.Len(t, p.Commune, 100)
}

func TestNormalize_CategoryDetails(t *testing.T) {
	n := New(37000)

	apt, err := n.Normalize(models.RawListing{
		Title:       models.Text("Departamento amoblado con terraza"),
		Price:       models.Number(1),
		PetsAllowed: models.Text("sí"),
		Floor:       models.Text("piso 12"),
	}, models.CategoryApartment, origin)
	require.NoError(t, err)
	require.NotNil(t, apt.Apartment)
	assert.True(t, apt.Apartment.Furnished)
	assert.True(t, apt.Apartment.HasTerrace)
	assert.True(t, apt.Apartment.PetsAllowed)
	assert.False(t, apt.Apartment.HasBalcony)
	require.NotNil(t, apt.Apartment.Floor)
	assert.Equal(t, 12, *apt.Apartment.Floor)
	assert.Equal(t, []string{"terraza", "amoblado"}, apt.Amenities)
	assert.Nil(t, apt.House)

	land, err := n.Normalize(models.RawListing{
		Title:     models.Text("Parcela con agua y luz"),
		Price:     models.Number(1),
		CornerLot: models.Bool(true),
	}, models.CategoryLand, origin)
	require.NoError(t, err)
	require.NotNil(t, land.Land)
	assert.True(t, land.Land.HasWater)
	assert.True(t, land.Land.HasPower)
	assert.True(t, land.Land.CornerLot)
	assert.False(t, land.Land.HasSewer)

	prefab, err := n.Normalize(models.RawListing{Title: models.Text("Casa modular"), Price: models.Number(1)}, models.CategoryPrefab, origin)
	require.NoError(t, err)
	require.NotNil(t, prefab.Prefab)
	assert.Equal(t, "madera", prefab.Prefab.Material)
	assert.True(t, prefab.Prefab.Transportable)
	assert.Nil(t, prefab.Prefab.InstallDays)
}

func TestNormalize_KeepsExtractedAmenities(t *testing.T) {
	p, err := New(37000).Normalize(models.RawListing{
		Title:     models.Text("Casa con piscina"),
		Price:     models.Number(1),
		Amenities: models.StringList{"gimnasio"},
	}, models.CategoryHouse, origin)
	require.NoError(t, err)
	assert.Equal(t, []string{"gimnasio"}, p.Amenities)
	assert.True(t, p.House.HasPool)
}

func TestOperation(t *testing.T) {
	assert.Equal(t, models.OperationSale, Operation(""))
	assert.Equal(t, models.OperationSale, Operation("Venta"))
	assert.Equal(t, models.OperationLease, Operation("ARRIENDO mensual"))
	assert.Equal(t, models.OperationLease, Operation("alquiler"))
	assert.Equal(t, models.OperationSaleOrLease, Operation("venta y arriendo"))
}
