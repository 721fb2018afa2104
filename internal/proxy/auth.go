// internal/proxy/auth.go
package proxy

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/valpere/ecomscrapexter/internal/crawl"
)

// AuthorizationHeader is the header carrying proxy credentials.
const AuthorizationHeader = "Proxy-Authorization"

// Authenticator points every request at the upstream proxy and attaches its
// basic credentials. It holds no mutable state.
type Authenticator struct {
	target string
	header string
}

// NewAuthenticator precomputes the proxy target and header value.
func NewAuthenticator(cfg ProxyConfig) *Authenticator {
	return &Authenticator{
		target: cfg.URL(),
		header: BasicAuth(cfg.Username, cfg.Password),
	}
}

// BasicAuth returns "Basic " followed by base64(user:password).
func BasicAuth(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// ParseBasicAuth decodes a header built by BasicAuth.
func ParseBasicAuth(header string) (user, password string, err error) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", fmt.Errorf("not a basic authorization header")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return "", "", fmt.Errorf("decode credentials: %w", err)
	}
	user, password, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", fmt.Errorf("credentials lack a colon separator")
	}
	return user, password, nil
}

// Target returns the proxy URL set on requests.
func (a *Authenticator) Target() string {
	return a.target
}

// ProcessRequest sets the proxy target and credentials. It overwrites rather
// than appends, so applying it again changes nothing.
func (a *Authenticator) ProcessRequest(_ context.Context, req *crawl.Request) error {
	req.Proxy = a.target
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
	req.Headers.Set(AuthorizationHeader, a.header)
	return nil
}
