// internal/proxy/transport.go
package proxy

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

type routeKey struct{}

type route struct {
	proxy string
	auth  string
}

// WithRoute attaches a request-scoped proxy and its credentials to ctx. The
// transport built by NewTransport reads them back.
func WithRoute(ctx context.Context, proxyURL, authHeader string) context.Context {
	if proxyURL == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route{proxy: proxyURL, auth: authHeader})
}

func routeFrom(ctx context.Context) (route, bool) {
	r, ok := ctx.Value(routeKey{}).(route)
	return r, ok
}

// TransportOptions tunes NewTransport.
type TransportOptions struct {
	Fingerprint         Fingerprint
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// NewTransport returns an HTTP transport that routes each request through the
// proxy stored in its context. HTTPS requests get the credentials on CONNECT.
// The Chrome fingerprint applies to direct TLS connections only.
func NewTransport(opts TransportOptions) *http.Transport {
	if opts.MaxIdleConnsPerHost == 0 {
		opts.MaxIdleConnsPerHost = 8
	}
	if opts.IdleConnTimeout == 0 {
		opts.IdleConnTimeout = 90 * time.Second
	}

	t := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			r, ok := routeFrom(req.Context())
			if !ok {
				return nil, nil
			}
			return url.Parse(r.proxy)
		},
		GetProxyConnectHeader: func(ctx context.Context, _ *url.URL, _ string) (http.Header, error) {
			r, ok := routeFrom(ctx)
			if !ok || r.auth == "" {
				return nil, nil
			}
			h := make(http.Header)
			h.Set(AuthorizationHeader, r.auth)
			return h, nil
		},
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       opts.IdleConnTimeout,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if opts.Fingerprint == FingerprintChrome {
		t.DialTLSContext = DialChromeTLS
	}
	return t
}
