// Package upstream provides a shared, cloneable HTTP/1.1+HTTP/2 client used
// to dispatch requests to origin servers (C3).
package upstream

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"
)

// Pool is a cloneable handle around a shared *http.Client. Cloning a Pool by
// value is safe and cheap: the underlying client and transport are shared.
type Pool struct {
	client *http.Client
}

// Options configures a Pool.
type Options struct {
	// InsecureSkipVerify disables upstream certificate verification. Tests
	// only — never enabled by default.
	InsecureSkipVerify bool
	// Timeout bounds a single round trip. Zero means no client-level timeout
	// (the caller's context still applies).
	Timeout time.Duration
}

// New builds a Pool sharing one keep-alive transport across all requests,
// capable of negotiating HTTP/2 over TLS and falling back to HTTP/1.1.
func New(opts Options) *Pool {
	transport := &http.Transport{
		Proxy:                 nil,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Pool{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			// The core never follows redirects on the caller's behalf: the
			// response being redirected to is itself a capturable
			// transaction. Let the caller's own forward loop see the 3xx.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Request performs req and returns the upstream response. req must carry an
// absolute URI; client certificates are never forwarded.
func (p *Pool) Request(ctx context.Context, req *http.Request) (*http.Response, error) {
	return p.client.Do(req.WithContext(ctx))
}

// Client exposes the underlying *http.Client for callers (e.g. the active
// scanner) that want to build requests directly.
func (p *Pool) Client() *http.Client { return p.client }
