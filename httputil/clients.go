package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"inmobiscrap/config"
)

type Clients struct {
	Scraping *http.Client // proxied when PROXY_URL is set, for listing pages
	API      *http.Client // direct, for the LLM service
}

func NewClients(proxyCfg config.ProxyConfig, fetchTimeout, apiTimeout time.Duration) *Clients {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		ForceAttemptHTTP2:   false,
		TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	if apiTimeout <= 0 {
		apiTimeout = 5 * time.Minute
	}

	return &Clients{
		Scraping: &http.Client{Timeout: fetchTimeout, Transport: transport},
		API:      &http.Client{Timeout: apiTimeout},
	}
}
