package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

//go:embed VERSION
var version string

// Version is the release baked into the binary.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent is sent on every outbound request.
func UserAgent() string {
	return "PeakShift/" + Version()
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper by stamping the user agent on a clone
// of the request.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a default http client with a default user-agent set
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: UserAgent(),
		},
		Timeout: timeout,
	}
}

// BearerHTTPClient is HTTPClient with an Authorization header taken from ts
// on every request.
func BearerHTTPClient(timeout time.Duration, ts oauth2.TokenSource) *http.Client {
	c := HTTPClient(timeout)
	c.Transport = &oauth2.Transport{
		Source: ts,
		Base:   c.Transport,
	}
	return c
}
