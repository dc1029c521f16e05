package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func copyFixture(t *testing.T, dir, name string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
}

func TestLoad_DefaultsAndSites(t *testing.T) {
	dir := t.TempDir()
	copyFixture(t, dir, "good.yaml")
	t.Setenv("SITES_DIR", dir)
	t.Setenv("UF_RATE", "")
	t.Setenv("RETRY_BASE_DELAY", "")
	t.Setenv("FETCH_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 37000.0, cfg.Extraction.UFRate)
	assert.Equal(t, 24000, cfg.Extraction.CharBudget())
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 45*time.Second, cfg.Fetch.Timeout)

	require.Contains(t, cfg.Sites, "demo")
	site := cfg.Sites["demo"]
	assert.Equal(t, "Demo Portal", site.Name)
	require.Len(t, site.Sources, 1)
	assert.Equal(t, 6, site.Sources[0].FrequencyHours)
}

func TestLoad_RejectsInvalidSite(t *testing.T) {
	dir := t.TempDir()
	copyFixture(t, dir, "bad_fetcher.yaml")
	t.Setenv("SITES_DIR", dir)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad_fetcher.yaml")
}

func TestSiteFor_LongestMatchWins(t *testing.T) {
	cfg := &Config{Sites: map[string]*SiteConfig{
		"broad":  {ID: "broad", Match: "portal.cl"},
		"narrow": {ID: "narrow", Match: "venta.portal.cl"},
	}}

	assert.Equal(t, "narrow", cfg.SiteFor("https://VENTA.portal.cl/casas").ID)
	assert.Equal(t, "broad", cfg.SiteFor("https://arriendo.portal.cl/").ID)
	assert.Nil(t, cfg.SiteFor("https://otro.cl/"))
}
