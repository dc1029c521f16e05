package models

import "strings"

// RawListing is one candidate record as produced by an extractor. Every field
// is optional; the JSON keys match the field list the LLM prompt asks for.
type RawListing struct {
	Title        Scalar     `json:"titulo"`
	Price        Scalar     `json:"precio"`
	PriceUF      Scalar     `json:"precio_uf"`
	Operation    Scalar     `json:"tipo_operacion"`
	Area         Scalar     `json:"metros_cuadrados"`
	LandArea     Scalar     `json:"metros_terreno"`
	Rooms        Scalar     `json:"dormitorios"`
	Baths        Scalar     `json:"banos"`
	Parking      Scalar     `json:"estacionamientos"`
	Address      Scalar     `json:"direccion"`
	Commune      Scalar     `json:"comuna"`
	City         Scalar     `json:"ciudad"`
	Region       Scalar     `json:"region"`
	Description  Scalar     `json:"descripcion"`
	ExternalCode Scalar     `json:"codigo_propiedad"`
	URL          Scalar     `json:"url_propiedad"`
	Images       StringList `json:"imagenes_urls"`
	Amenities    StringList `json:"amenidades"`
	ContactName  Scalar     `json:"nombre_contacto"`
	ContactPhone Scalar     `json:"telefono_contacto"`
	ContactEmail Scalar     `json:"email_contacto"`
	Agency       Scalar     `json:"inmobiliaria"`

	// Category hints. Only the ones relevant to the final category are kept.
	HasPool     Scalar `json:"tiene_piscina"`
	HasYard     Scalar `json:"tiene_patio"`
	HasQuincho  Scalar `json:"tiene_quincho"`
	Stories     Scalar `json:"numero_pisos"`
	HasBalcony  Scalar `json:"balcon"`
	HasTerrace  Scalar `json:"terraza"`
	Furnished   Scalar `json:"amoblado"`
	PetsAllowed Scalar `json:"acepta_mascotas"`
	Floor       Scalar `json:"piso"`
	HasWater    Scalar `json:"tiene_agua"`
	HasPower    Scalar `json:"tiene_luz"`
	HasSewer    Scalar `json:"tiene_alcantarillado"`
	CornerLot   Scalar `json:"es_esquina"`
	Material    Scalar `json:"material_principal"`
	InstallDays Scalar `json:"tiempo_instalacion_dias"`
}

// TitleText is the trimmed title, "" when absent.
func (r *RawListing) TitleText() string {
	return trimmed(r.Title)
}

// DescriptionText is the trimmed description, "" when absent.
func (r *RawListing) DescriptionText() string {
	return trimmed(r.Description)
}

func trimmed(s Scalar) string {
	if s.Empty() {
		return ""
	}
	return strings.TrimSpace(s.String())
}
