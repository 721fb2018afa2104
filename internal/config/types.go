// internal/config/types.go
package config

import (
	"time"

	"github.com/valpere/ecomscrapexter/internal/antidetect"
	"github.com/valpere/ecomscrapexter/internal/browser"
	"github.com/valpere/ecomscrapexter/internal/monitoring"
	"github.com/valpere/ecomscrapexter/internal/output"
	"github.com/valpere/ecomscrapexter/internal/proxy"
	"github.com/valpere/ecomscrapexter/internal/scraper"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

// Config is the whole crawler configuration.
type Config struct {
	Crawl       CrawlConfig              `yaml:"crawl" json:"crawl"`
	Proxy       proxy.ProxyConfig        `yaml:"proxy" json:"proxy"`
	Browser     browser.BrowserConfig    `yaml:"browser" json:"browser"`
	Bypass      BypassConfig             `yaml:"bypass" json:"bypass"`
	Screenshots ScreenshotConfig         `yaml:"screenshots" json:"screenshots"`
	Output      []output.Config          `yaml:"output" json:"output"`
	Dedupe      scraper.DupeConfig       `yaml:"dedupe" json:"dedupe"`
	Metrics     monitoring.MetricsConfig `yaml:"metrics" json:"metrics"`
	Logging     utils.LoggingConfig      `yaml:"logging" json:"logging"`
	Sites       map[string]SiteConfig    `yaml:"sites" json:"sites"`
}

// CrawlConfig tunes the engine and the HTTP downloader.
type CrawlConfig struct {
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	Concurrency    int           `yaml:"concurrency" json:"concurrency"`
	Pending        int           `yaml:"pending" json:"pending"`
	RetryAttempts  int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay" json:"retry_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	TLSFingerprint string        `yaml:"tls_fingerprint" json:"tls_fingerprint"`
	MaxBodySize    int64         `yaml:"max_body_size" json:"max_body_size"`
	// BreakerFailures opens a site's circuit after that many consecutive
	// fetch failures. Zero disables the breaker.
	BreakerFailures int           `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset" json:"breaker_reset"`
}

// Bypass modes.
const (
	BypassOff     = "off"
	BypassSolver  = "solver"
	BypassBrowser = "browser"
)

// BypassConfig selects how challenge tokens are obtained.
type BypassConfig struct {
	Mode                    string `yaml:"mode" json:"mode"`
	antidetect.SolverConfig `yaml:",inline"`
}

// ScreenshotConfig sets where product screenshots are written.
type ScreenshotConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// SiteConfig overrides the declaration of one site.
type SiteConfig struct {
	StartURLs []string `yaml:"start_urls,omitempty" json:"start_urls,omitempty"`
	// DownloadDelay replaces the site's own delay when set.
	DownloadDelay *time.Duration `yaml:"download_delay,omitempty" json:"download_delay,omitempty"`
	// RequestDelay is attached to seed requests as a throttle hint.
	RequestDelay time.Duration `yaml:"request_delay,omitempty" json:"request_delay,omitempty"`
}

// DefaultUserAgent is sent when crawl.user_agent is empty.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
