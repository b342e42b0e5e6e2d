package tryton

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// NewBackend builds a reverse proxy handle to the Tryton application process.
// An empty rawURL returns a nil handler: the gateway then serves its own
// endpoints and answers everything else with 503 until the backend appears.
func NewBackend(rawURL string) (http.Handler, error) {
	if rawURL == "" {
		return nil, nil
	}
	upstream, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL %q: %w", rawURL, err)
	}
	return httputil.NewSingleHostReverseProxy(upstream), nil
}
