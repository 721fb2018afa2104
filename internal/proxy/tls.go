// internal/proxy/tls.go
package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	utls "github.com/refraction-networking/utls"
)

// Fingerprint names a TLS client-hello profile.
type Fingerprint string

const (
	FingerprintGo     Fingerprint = "go"
	FingerprintChrome Fingerprint = "chrome"
)

// ValidateFingerprint rejects unknown profiles. Empty means Go's default.
func ValidateFingerprint(f Fingerprint) error {
	switch f {
	case "", FingerprintGo, FingerprintChrome:
		return nil
	}
	return fmt.Errorf("unknown tls fingerprint %q", f)
}

// chromeSpec returns Chrome's client hello with ALPN pinned to http/1.1, since
// the connection is handed to an HTTP/1 transport.
func chromeSpec() (*utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		return nil, fmt.Errorf("build chrome client hello: %w", err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return &spec, nil
}

// DialChromeTLS opens a TLS connection to addr presenting a Chrome client
// hello.
func DialChromeTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	raw, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	spec, err := chromeSpec()
	if err != nil {
		raw.Close()
		return nil, err
	}

	conn := utls.UClient(raw, &utls.Config{ServerName: host}, utls.HelloCustom)
	if err := conn.ApplyPreset(spec); err != nil {
		raw.Close()
		return nil, fmt.Errorf("apply chrome client hello: %w", err)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}
	return conn, nil
}
