// Package prober issues HEAD reachability checks against external links.
package prober

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultTimeout        = 10 * time.Second
	defaultUserAgent      = "link-validator/1.0"
)

// Config tunes the probe client.
type Config struct {
	ConnectTimeout time.Duration
	// Timeout bounds the whole request, including waiting for headers.
	Timeout   time.Duration
	UserAgent string
	// Transport overrides the base transport (tests).
	Transport http.RoundTripper
}

// HTTPProber performs a single HEAD request per probe. Redirects are
// reported as-is and nothing is retried.
type HTTPProber struct {
	client    *http.Client
	userAgent string
}

// New builds an HTTPProber.
func New(cfg Config) *HTTPProber {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	base := cfg.Transport
	if base == nil {
		dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
		base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.Timeout,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		}
	}
	return &HTTPProber{
		client: &http.Client{
			Transport: otelhttp.NewTransport(base),
			Timeout:   cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: cfg.UserAgent,
	}
}

// Probe sends HEAD url and returns the response status code. Any failure to
// obtain a response (bad URL, DNS, refused, timeout) is returned as an error.
func (p *HTTPProber) Probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
