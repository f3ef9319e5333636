package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the build version baked into the binary.
func Version() string {
	return strings.TrimSpace(version)
}

type uaTransport struct {
	next http.RoundTripper
	ua   string
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so shared requests never see our header
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.ua)
	return t.next.RoundTrip(req)
}

// HTTPClient returns a client with the given timeout that identifies
// itself as this optimiser on every request.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &uaTransport{
			next: http.DefaultTransport,
			ua:   "GoodWeOptimiser/" + Version(),
		},
		Timeout: timeout,
	}
}
