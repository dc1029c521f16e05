package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) ExtractionConfig {
	return ExtractionConfig{
		Model:         "llama3.1:8b",
		BaseURL:       baseURL,
		Temperature:   0,
		ContextWindow: 8192,
		JSONOutput:    true,
		RepeatPenalty: 1.1,
		UFRate:        37000,
		Hints: []SiteHint{
			{Match: "portalinmobiliario.com", Hint: "Los precios aparecen primero en UF."},
			{Match: "yapo.cl", Hint: "Los avisos de Yapo traen la comuna en el subtítulo."},
		},
	}
}

func quoted(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

func TestParseResponse_Array(t *testing.T) {
	records, err := ParseResponse(json.RawMessage(`[{"titulo":"Casa en Buin","precio":"95000000"}, 3, "x", {"titulo":"Depto"}]`))
	require.NoError(t, err)
	require.Len(t, records, 2, "non-object elements are skipped")
	assert.Equal(t, "Casa en Buin", records[0].TitleText())
	assert.Equal(t, "95000000", records[0].Price.String())
}

func TestParseResponse_FencedString(t *testing.T) {
	payload := quoted("```json\n[{\"titulo\": \"Parcela\", \"precio\": 50000000, \"imagenes_urls\": \"no-list\"}]\n```")
	records, err := ParseResponse(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Parcela", records[0].TitleText())
	f, ok := records[0].Price.Float()
	require.True(t, ok)
	assert.Equal(t, 50000000.0, f)
	assert.Empty(t, records[0].Images, "non-list images decode empty")
}

func TestParseResponse_SingleObjectWrapped(t *testing.T) {
	records, err := ParseResponse(quoted(`{"titulo":"Casa sola","dormitorios":3}`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Casa sola", records[0].TitleText())
}

func TestParseResponse_WrapperKey(t *testing.T) {
	records, err := ParseResponse(quoted(`{"propiedades":[{"titulo":"A"},{"titulo":"B"}]}`))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestParseResponse_Errors(t *testing.T) {
	for _, raw := range []json.RawMessage{
		nil,
		quoted(""),
		quoted("lo siento, no puedo ayudar"),
		quoted("[{\"titulo\": "),
		json.RawMessage(`42`),
	} {
		records, err := ParseResponse(raw)
		assert.Error(t, err, string(raw))
		assert.Empty(t, records)
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `[1]`, StripFences("```json\n[1]\n```"))
	assert.Equal(t, `[1]`, StripFences("```\n[1]\n```"))
	assert.Equal(t, `[1]`, StripFences("```json[1]```"))
	assert.Equal(t, `{"a":1}`, StripFences(`  {"a":1} `))
}

func TestBuildPrompt(t *testing.T) {
	cfg := testConfig("")

	prompt := BuildPrompt(cfg, "https://www.portalinmobiliario.com/venta/casa")
	assert.Contains(t, prompt, "UF × 37000")
	assert.Contains(t, prompt, "Nunca inventes datos")
	assert.Contains(t, prompt, "Los precios aparecen primero en UF.")
	assert.NotContains(t, prompt, "Yapo")

	plain := BuildPrompt(cfg, "https://example.com/listado")
	assert.NotContains(t, plain, "Notas del sitio")
}

func TestOllamaClient_Generate(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.1:8b","response":"[{\"titulo\":\"Casa\"}]","done":true}`))
	}))
	defer srv.Close()

	raw, err := NewOllamaClient(srv.Client()).Generate(context.Background(), Request{
		Prompt:  "PROMPT",
		Content: "CONTENT",
		Config:  testConfig(srv.URL + "/"),
	})
	require.NoError(t, err)

	assert.Equal(t, "llama3.1:8b", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, "json", got.Format)
	assert.Equal(t, 8192, got.Options.NumCtx)
	assert.True(t, strings.HasPrefix(got.Prompt, "PROMPT"))
	assert.True(t, strings.HasSuffix(got.Prompt, "CONTENT"))

	records, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Casa", records[0].TitleText())
}

func TestOllamaClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.Client()).Generate(context.Background(), Request{Config: testConfig(srv.URL)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

type stubService struct {
	raw json.RawMessage
	err error
	req Request
}

func (s *stubService) Generate(_ context.Context, req Request) (json.RawMessage, error) {
	s.req = req
	return s.raw, s.err
}

func TestLLMExtractor_FailsSoft(t *testing.T) {
	down := &stubService{err: errors.New("connection refused")}
	records, err := NewLLM(down, nil).Extract(context.Background(), testConfig(""), "contenido", "https://yapo.cl/x")
	assert.Empty(t, records)
	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "request", extErr.Op)

	garbage := &stubService{raw: quoted("no json here")}
	records, err = NewLLM(garbage, nil).Extract(context.Background(), testConfig(""), "contenido", "https://yapo.cl/x")
	assert.Empty(t, records)
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "parse", extErr.Op)
}

func TestLLMExtractor_PassesConfigAndHint(t *testing.T) {
	svc := &stubService{raw: json.RawMessage(`[{"titulo":"Depto en Macul","precio":120000000}]`)}
	cfg := testConfig("http://ollama:11434")

	records, err := NewLLM(svc, nil).Extract(context.Background(), cfg, "contenido", "https://www.yapo.cl/region_metropolitana")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "contenido", svc.req.Content)
	assert.Equal(t, cfg.Model, svc.req.Config.Model)
	assert.Contains(t, svc.req.Prompt, "Yapo")
}

func TestLLMExtractor_SkipsEmptyContent(t *testing.T) {
	svc := &stubService{err: errors.New("must not be called")}
	records, err := NewLLM(svc, nil).Extract(context.Background(), testConfig(""), "   ", "")
	assert.NoError(t, err)
	assert.Empty(t, records)
}
