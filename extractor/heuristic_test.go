package extractor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inmobiscrap/models"
	"inmobiscrap/reduce"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return string(data)
}

func number(t *testing.T, s models.Scalar) float64 {
	t.Helper()
	f, ok := s.Float()
	require.True(t, ok, "expected a number, got %q", s.String())
	return f
}

func TestHeuristic_ResultsPage(t *testing.T) {
	clean := reduce.New(0, nil).Clean(loadFixture(t, "results_page.html"))
	records := NewHeuristic(37000, 0).Extract(clean)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "Departamento luminoso en Providencia", first.TitleText())
	assert.Equal(t, 120000000.0, number(t, first.Price))
	assert.True(t, first.PriceUF.IsNull())
	assert.Equal(t, 75.0, number(t, first.Area))
	assert.Equal(t, 3.0, number(t, first.Rooms))
	assert.Equal(t, 2.0, number(t, first.Baths))
	assert.Equal(t, 1.0, number(t, first.Parking))
	assert.Equal(t, "Providencia", first.Commune.String())
	assert.Equal(t, []string{"https://cdn.portal.cl/1.jpg"}, []string(first.Images))
	assert.Contains(t, first.DescriptionText(), "cerca del metro")

	second := records[1]
	assert.Equal(t, "Casa amplia en Ñuñoa", second.TitleText())
	assert.Equal(t, 4200.0, number(t, second.PriceUF))
	assert.Equal(t, 155400000.0, number(t, second.Price))
	assert.Equal(t, 140.0, number(t, second.Area))
	assert.Equal(t, 2.0, number(t, second.Rooms))
	assert.Equal(t, "Ñuñoa", second.Commune.String())
	assert.Equal(t, []string{"https://cdn.portal.cl/2.jpg"}, []string(second.Images))
}

func TestHeuristic_ContactCodeAndOperation(t *testing.T) {
	records := NewHeuristic(37000, 0).Extract(loadFixture(t, "detail_cards.html"))
	require.Len(t, records, 2, "the card without title or price is dropped")

	parcel := records[0]
	assert.Equal(t, "Parcela de agrado con vista a la cordillera", parcel.TitleText())
	assert.Equal(t, "/propiedad/parcela-pirque-7788", parcel.URL.String())
	assert.Equal(t, 95000000.0, number(t, parcel.Price))
	assert.Equal(t, 5000.0, number(t, parcel.LandArea))
	assert.Equal(t, "PQ-7788", parcel.ExternalCode.String())
	assert.Equal(t, "Pirque", parcel.Commune.String())
	assert.Equal(t, "venta y arriendo", parcel.Operation.String())
	assert.Equal(t, "+56912345678", parcel.ContactPhone.String())
	assert.Equal(t, "ventas@corredora.cl", parcel.ContactEmail.String())
	assert.Contains(t, parcel.DescriptionText(), "agua de pozo")

	flat := records[1]
	assert.Equal(t, "Departamento en arriendo", flat.TitleText())
	assert.Equal(t, 650000.0, number(t, flat.Price))
	assert.Equal(t, 55.5, number(t, flat.Area))
	assert.Equal(t, 2.0, number(t, flat.Rooms), "keyword before number")
	assert.Equal(t, 1.0, number(t, flat.Baths))
	assert.Equal(t, 1.0, number(t, flat.Parking))
	assert.Equal(t, "arriendo", flat.Operation.String())
	assert.Equal(t, "+56 9 8765 4321", flat.ContactPhone.String())
	assert.Len(t, flat.Images, 5)
	assert.Equal(t, "https://img.portal.cl/a.jpg", flat.Images[0])
	assert.True(t, flat.Commune.IsNull())
}

func TestHeuristic_FallbackBlocks(t *testing.T) {
	page := `<html><body><div>
		<div><b>Casa en Colina</b> $ 180.000.000 amplia casa con jardín y piscina en sector tranquilo</div>
		<div>Terreno en Buin UF 2.100, 1.000 m2, ideal para proyecto inmobiliario</div>
	</div></body></html>`

	records := NewHeuristic(37000, 0).Extract(page)
	require.Len(t, records, 2, "the wrapper holding both priced blocks is not a listing")

	assert.Equal(t, 180000000.0, number(t, records[0].Price))
	assert.Equal(t, "Colina", records[0].Commune.String())
	assert.Equal(t, 2100.0, number(t, records[1].PriceUF))
	assert.Equal(t, 77700000.0, number(t, records[1].Price))
	assert.Equal(t, 1000.0, number(t, records[1].Area))
	assert.Equal(t, "Buin", records[1].Commune.String())
}

func TestHeuristic_MaxContainers(t *testing.T) {
	page := "<html><body>"
	for i := 0; i < 10; i++ {
		page += `<article class="listing"><h2>Casa en venta número con patio</h2><span>$ 100.000.000</span></article>`
	}
	page += "</body></html>"

	assert.Len(t, NewHeuristic(37000, 4).Extract(page), 4)
}

func TestHeuristic_TaggedText(t *testing.T) {
	text := "[TITULO] Casa en La Reina\n[PRECIO] UF 9.800\n[SUPERFICIE] 180 m²\n---\n" +
		"[TITULO] Departamento en Macul\n[PRECIO] $ 210.000.000\n[DORMITORIOS] 3 dormitorios\n---\n" +
		"sin nada util"

	records := NewHeuristic(37000, 0).Extract(text)
	require.Len(t, records, 2)

	assert.Equal(t, "Casa en La Reina", records[0].TitleText())
	assert.Equal(t, 9800.0, number(t, records[0].PriceUF))
	assert.Equal(t, 180.0, number(t, records[0].Area))
	assert.Equal(t, "La Reina", records[0].Commune.String())

	assert.Equal(t, "Departamento en Macul", records[1].TitleText())
	assert.Equal(t, 210000000.0, number(t, records[1].Price))
	assert.Equal(t, 3.0, number(t, records[1].Rooms))
}

func TestHeuristic_Empty(t *testing.T) {
	h := NewHeuristic(37000, 0)
	assert.Empty(t, h.Extract(""))
	assert.Empty(t, h.Extract("<html><body><p>Sin resultados</p></body></html>"))
}

func TestFindCommune(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Departamento en LAS CONDES, cerca del metro", "Las Condes"},
		{"Casa en nunoa con patio", "Ñuñoa"},
		{"Ubicado en Curacaví, sector rural", "Curacaví"},
		{"Oferta en Venta en Puerto Varas", "Puerto Varas"},
		{"Santiago Centro, metro Santa Lucía", "Santiago Centro"},
		{"sin ubicacion", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, findCommune(tt.text), tt.text)
	}
}
