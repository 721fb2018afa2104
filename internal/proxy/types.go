// internal/proxy/types.go
package proxy

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// DefaultPort is used when no proxy port is configured.
const DefaultPort = 24261

// ProxyConfig holds the static upstream proxy credentials. The proxy is used
// whenever an endpoint is configured, unless Enabled is explicitly false.
type ProxyConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// ApplyEnv overrides fields from PROXY_USER, PROXY_PASSWORD, PROXY_ENDPOINT
// and PROXY_PORT when they are set.
func (c *ProxyConfig) ApplyEnv() error {
	if v, ok := os.LookupEnv("PROXY_USER"); ok {
		c.Username = v
	}
	if v, ok := os.LookupEnv("PROXY_PASSWORD"); ok {
		c.Password = v
	}
	if v, ok := os.LookupEnv("PROXY_ENDPOINT"); ok {
		c.Endpoint = v
	}
	if v, ok := os.LookupEnv("PROXY_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PROXY_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	return nil
}

// Address returns host:port of the proxy.
func (c ProxyConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Endpoint, strconv.Itoa(port))
}

// URL returns the proxy target as an http URL without credentials.
func (c ProxyConfig) URL() string {
	return "http://" + c.Address()
}

// Active reports whether requests should go through the proxy.
func (c ProxyConfig) Active() bool {
	if c.Enabled != nil && !*c.Enabled {
		return false
	}
	return c.Endpoint != ""
}

// Validate checks an active configuration. Explicitly enabling the proxy
// without an endpoint is an error.
func (c ProxyConfig) Validate() error {
	if c.Enabled != nil && *c.Enabled && c.Endpoint == "" {
		return fmt.Errorf("proxy endpoint is required when proxy is enabled")
	}
	if !c.Active() {
		return nil
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("proxy port out of range: %d", c.Port)
	}
	return nil
}
