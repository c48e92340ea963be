package httpclient

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 4
)

var defaultClient *http.Client

func init() {
	defaultClient = &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
			// The feed fetcher negotiates gzip/brotli itself so it can
			// stream-decode; transparent decompression would hide the
			// Content-Encoding header it keys on.
			DisableCompression: true,
		},
	}
}

// Default returns the shared tuned HTTP client used by the feed fetcher and
// health checks.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout sharing Default's
// transport configuration.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}
