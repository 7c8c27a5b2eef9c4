package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"
)

type Clients struct {
	Scraping *http.Client // optionally proxied, for marketplace pages
	API      *http.Client // direct, for S3/archive endpoints
}

// NewClients builds the two HTTP clients the pipeline uses. The scraping
// client never follows redirects: the reconciler needs the raw 301/302 and
// Location header to classify a listing page as removed.
func NewClients(proxyURL string) *Clients {
	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}

	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}

	scraping := &http.Client{
		Timeout:   20 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}
