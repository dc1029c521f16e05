package extractor

import (
	"fmt"
	"strings"
)

const basePrompt = `Eres un experto en extracción de datos inmobiliarios de portales chilenos.
Analiza el contenido entregado y extrae TODAS las propiedades publicadas.

Responde SOLO con un arreglo JSON válido, sin texto adicional. Cada elemento es un objeto con estos campos:
- titulo (string)
- precio (número, en pesos chilenos)
- precio_uf (número o null)
- tipo_operacion ("venta", "arriendo" o "venta y arriendo")
- metros_cuadrados (número, superficie construida)
- metros_terreno (número o null)
- dormitorios (entero)
- banos (entero)
- estacionamientos (entero)
- direccion, comuna, ciudad, region (string)
- descripcion (string, máximo 1000 caracteres)
- codigo_propiedad (string o null)
- url_propiedad (string o null)
- imagenes_urls (arreglo de strings)
- amenidades (arreglo de strings)
- nombre_contacto, telefono_contacto, email_contacto, inmobiliaria (string o null)
- tiene_piscina, tiene_patio, tiene_quincho, balcon, terraza, amoblado, acepta_mascotas (booleano o null)
- numero_pisos (entero o null, solo casas)
- tiene_agua, tiene_luz, tiene_alcantarillado, es_esquina (booleano o null, solo terrenos)
- piso (entero o null, solo departamentos)
- material_principal, tiempo_instalacion_dias (solo casas prefabricadas)

Reglas:
- Si el precio está en UF, guarda el valor en precio_uf y calcula precio = UF × %s.
- Los números van sin puntos de miles ni símbolos.
- Usa null para los campos que no aparecen. Nunca inventes datos.
- Si no hay propiedades, responde [].`

// BuildPrompt renders the extraction instructions for one page. Site hints
// whose match substring occurs in sourceURL are appended.
func BuildPrompt(cfg ExtractionConfig, sourceURL string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(basePrompt, formatRate(cfg.UFRate)))

	lower := strings.ToLower(sourceURL)
	for _, h := range cfg.Hints {
		if h.Match == "" || h.Hint == "" || !strings.Contains(lower, strings.ToLower(h.Match)) {
			continue
		}
		b.WriteString("\n\nNotas del sitio:\n")
		b.WriteString(strings.TrimSpace(h.Hint))
	}
	return b.String()
}

func formatRate(rate float64) string {
	if rate <= 0 {
		rate = DefaultUFRate
	}
	return fmt.Sprintf("%.0f", rate)
}
