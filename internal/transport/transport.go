// Package transport builds the HTTP clients shared by the manifest loader,
// file resources and the object store publisher.
package transport

import (
	"net"
	"net/http"
	"time"
)

// New returns a pooled transport with conservative dial and handshake timeouts.
func New() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewClient returns an HTTP client on top of New. A zero timeout means no
// overall request timeout; callers then rely on context deadlines.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: New(),
	}
}
