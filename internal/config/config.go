// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valpere/ecomscrapexter/internal/browser"
	"github.com/valpere/ecomscrapexter/internal/output"
	"github.com/valpere/ecomscrapexter/internal/proxy"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

// LoadFromFile loads, completes and validates the configuration in filename.
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, utils.InvalidConfig("configuration filename cannot be empty")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, utils.InvalidConfig(fmt.Sprintf("failed to read configuration file: %v", err))
	}
	return LoadFromBytes(data)
}

// LoadFromReader loads the configuration from reader.
func LoadFromReader(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, utils.InvalidConfig("reader cannot be nil")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, utils.InvalidConfig(fmt.Sprintf("failed to read from reader: %v", err))
	}
	return LoadFromBytes(data)
}

// LoadFromBytes expands ${VAR} references, decodes the YAML, applies
// defaults and the PROXY_* environment overrides, then validates. Unknown
// keys are rejected. Empty input yields the default configuration.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := newConfig()
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, utils.InvalidConfig(fmt.Sprintf("failed to parse YAML configuration: %v", err))
	}

	applyDefaults(cfg)
	if err := cfg.Proxy.ApplyEnv(); err != nil {
		return nil, utils.InvalidConfig(err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, utils.InvalidConfig(err.Error())
	}
	return cfg, nil
}

// Default returns the configuration used when no file sets anything.
func Default() *Config {
	cfg := newConfig()
	applyDefaults(cfg)
	return cfg
}

// newConfig presets the settings whose zero value is meaningful, so that
// decoding only overrides what the file names.
func newConfig() *Config {
	return &Config{
		Crawl:   CrawlConfig{RetryAttempts: 2},
		Browser: *browser.DefaultBrowserConfig(),
	}
}

// applyDefaults fills every zero field that has a default.
func applyDefaults(cfg *Config) {
	c := &cfg.Crawl
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Concurrency == 0 {
		c.Concurrency = 8
	}
	if c.Pending == 0 {
		c.Pending = 4 * c.Concurrency
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = 32 << 20
	}
	if c.BreakerReset == 0 {
		c.BreakerReset = time.Minute
	}

	if cfg.Proxy.Port == 0 {
		cfg.Proxy.Port = proxy.DefaultPort
	}

	def := browser.DefaultBrowserConfig()
	b := &cfg.Browser
	if b.Timeout == 0 {
		b.Timeout = def.Timeout
	}
	if b.ViewportWidth == 0 {
		b.ViewportWidth = def.ViewportWidth
	}
	if b.ViewportHeight == 0 {
		b.ViewportHeight = def.ViewportHeight
	}
	if b.WaitDelay == 0 {
		b.WaitDelay = def.WaitDelay
	}
	if b.MaxPages == 0 {
		b.MaxPages = def.MaxPages
	}
	if b.UserAgent == "" {
		b.UserAgent = c.UserAgent
	}

	if cfg.Bypass.Mode == "" {
		cfg.Bypass.Mode = BypassBrowser
	}
	if cfg.Bypass.MaxTimeout == 0 {
		cfg.Bypass.MaxTimeout = 60 * time.Second
	}

	if cfg.Screenshots.Dir == "" {
		cfg.Screenshots.Dir = "screenshots"
	}

	if len(cfg.Output) == 0 {
		cfg.Output = []output.Config{{Format: output.FormatJSONL, Path: "output/products.jsonl"}}
	}
	for i := range cfg.Output {
		if cfg.Output[i].OnConflict == "" {
			cfg.Output[i].OnConflict = output.ConflictIgnore
		}
	}

	if cfg.Dedupe.Backend == "" {
		cfg.Dedupe.Backend = "memory"
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "ecomscrapexter"
	}
	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = ":9090"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
