package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inmobiscrap/config"
	"inmobiscrap/metrics"
)

func TestHTTPFetcher_HeadersAndCharset(t *testing.T) {
	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		// "Casa en Ñuñoa" in Latin-1.
		w.Write([]byte("<html><body>Casa en \xd1u\xf1oa</body></html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), metrics.New(prometheus.NewRegistry()), nil)
	html, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, html, "Casa en Ñuñoa")
	assert.Contains(t, gotUA, "Chrome/")
	assert.Contains(t, gotLang, "es-CL")
}

func TestHTTPFetcher_DefaultsToUTF8(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><meta charset="utf-8"></head><body>Ñuñoa $ 1.000</body></html>`))
	}))
	defer srv.Close()

	html, err := NewHTTPFetcher(srv.Client(), nil, nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, html, "Ñuñoa")
}

func TestHTTPFetcher_StatusIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(srv.Client(), nil, nil).Fetch(context.Background(), srv.URL)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusForbidden, netErr.StatusCode)
}

func TestHTTPFetcher_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPFetcher(nil, nil, nil).Fetch(context.Background(), url)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, netErr.StatusCode)
}

func TestHTTPFetcher_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), nil, nil)
	f.Limit("127.0.0.1", 200*time.Millisecond)

	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestHTTPFetcher_RateLimitHonoursContext(t *testing.T) {
	f := NewHTTPFetcher(nil, nil, nil)
	f.Limit("portal.cl", time.Hour)
	require.NotNil(t, f.limiterFor("https://portal.cl/a"))
	f.limiterFor("https://portal.cl/a").Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, "https://portal.cl/a")
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
}

type namedFetcher string

func (n namedFetcher) Fetch(context.Context, string) (string, error) {
	return string(n), errors.New("unused")
}

func TestRouter(t *testing.T) {
	cfg := &config.Config{Sites: map[string]*config.SiteConfig{
		"pi":   {ID: "pi", Match: "portalinmobiliario.com", Fetcher: "browser", RateLimitMS: 2000},
		"yapo": {ID: "yapo", Match: "yapo.cl", Fetcher: "http"},
	}}
	httpFetcher := NewHTTPFetcher(nil, nil, nil)

	r := NewRouter(cfg, httpFetcher, namedFetcher("browser"))
	assert.Equal(t, namedFetcher("browser"), r.For("https://www.portalinmobiliario.com/venta"))
	assert.Same(t, httpFetcher, r.For("https://www.yapo.cl/region"))
	assert.Same(t, httpFetcher, r.For("https://unknown.cl"))
	assert.NotNil(t, httpFetcher.limiterFor("https://www.portalinmobiliario.com/venta"))
	assert.Nil(t, httpFetcher.limiterFor("https://www.yapo.cl/region"))

	noBrowser := NewRouter(cfg, httpFetcher, nil)
	assert.Same(t, httpFetcher, noBrowser.For("https://www.portalinmobiliario.com/venta"))
}

func TestDetectBlock(t *testing.T) {
	assert.Equal(t, "Incapsula incident ID", detectBlock("<p>Incapsula incident ID: 123</p>"))
	assert.Empty(t, detectBlock("<div class='results'>ok</div>"))
}
