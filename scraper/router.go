package scraper

import (
	"context"
	"time"

	"inmobiscrap/config"
)

// Router picks the fetcher configured for the site a URL belongs to. URLs of
// unknown sites and sites without a browser go over plain HTTP.
type Router struct {
	sites   *config.Config
	http    Fetcher
	browser Fetcher
}

// NewRouter wires per-site rate limits into httpFetcher. browser may be nil.
func NewRouter(cfg *config.Config, httpFetcher *HTTPFetcher, browser Fetcher) *Router {
	for _, site := range cfg.SortedSites() {
		if site.RateLimitMS > 0 {
			httpFetcher.Limit(site.Match, time.Duration(site.RateLimitMS)*time.Millisecond)
		}
	}
	return &Router{sites: cfg, http: httpFetcher, browser: browser}
}

func (r *Router) For(url string) Fetcher {
	site := r.sites.SiteFor(url)
	if site != nil && site.Fetcher == "browser" && r.browser != nil {
		return r.browser
	}
	return r.http
}

func (r *Router) Fetch(ctx context.Context, url string) (string, error) {
	return r.For(url).Fetch(ctx, url)
}
