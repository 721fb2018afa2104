// internal/config/validation.go - validation with per-field messages
package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/valpere/ecomscrapexter/internal/proxy"
	"github.com/valpere/ecomscrapexter/internal/sites"
)

// ValidationError is one problem found in the configuration.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	var b strings.Builder
	b.WriteString("configuration validation failed:")
	for i, err := range ve {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, err.Error())
	}
	return b.String()
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(field, format string, args ...interface{}) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) check(field string, err error) {
	if err != nil {
		v.add(field, "%s", err.Error())
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	v := &validator{}
	c.validateCrawl(v)
	v.check("proxy", c.Proxy.Validate())
	c.validateBrowser(v)
	c.validateBypass(v)
	for i, out := range c.Output {
		v.check(fmt.Sprintf("output[%d]", i), out.Validate())
	}
	c.validateDedupe(v)
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		v.add("metrics.listen_address", "required when metrics are enabled")
	}
	c.validateLogging(v)
	c.validateSites(v)

	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}

func (c *Config) validateCrawl(v *validator) {
	cr := c.Crawl
	if cr.Concurrency < 1 {
		v.add("crawl.concurrency", "must be at least 1, got %d", cr.Concurrency)
	}
	if cr.Pending < cr.Concurrency {
		v.add("crawl.pending", "must be at least crawl.concurrency (%d), got %d", cr.Concurrency, cr.Pending)
	}
	if cr.RetryAttempts < 0 {
		v.add("crawl.retry_attempts", "cannot be negative")
	}
	if cr.RetryDelay < 0 || cr.RequestTimeout < 0 || cr.BreakerReset < 0 {
		v.add("crawl", "durations cannot be negative")
	}
	if cr.BreakerFailures < 0 {
		v.add("crawl.breaker_failures", "cannot be negative")
	}
	if cr.MaxBodySize < 0 {
		v.add("crawl.max_body_size", "cannot be negative")
	}
	v.check("crawl.tls_fingerprint", proxy.ValidateFingerprint(proxy.Fingerprint(cr.TLSFingerprint)))
}

func (c *Config) validateBrowser(v *validator) {
	if c.Browser.Timeout <= 0 {
		v.add("browser.timeout", "must be positive")
	}
	if c.Browser.MaxPages < 1 {
		v.add("browser.max_pages", "must be at least 1")
	}
	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		v.add("browser.viewport", "cannot be negative")
	}
}

func (c *Config) validateBypass(v *validator) {
	switch c.Bypass.Mode {
	case BypassOff, BypassBrowser:
	case BypassSolver:
		if c.Bypass.URL == "" {
			v.add("bypass.solver_url", "required in solver mode")
		} else if err := validateHTTPURL(c.Bypass.URL); err != nil {
			v.add("bypass.solver_url", "%v", err)
		}
	default:
		v.add("bypass.mode", "must be one of off, solver, browser; got %q", c.Bypass.Mode)
	}
	if c.Bypass.MaxTimeout < 0 {
		v.add("bypass.max_timeout", "cannot be negative")
	}
}

func (c *Config) validateDedupe(v *validator) {
	switch strings.ToLower(c.Dedupe.Backend) {
	case "memory":
	case "redis":
		if c.Dedupe.RedisAddr == "" {
			v.add("dedupe.redis_addr", "required for the redis backend")
		}
	default:
		v.add("dedupe.backend", "must be memory or redis; got %q", c.Dedupe.Backend)
	}
}

func (c *Config) validateLogging(v *validator) {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		v.add("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		v.add("logging.format", "must be text or json; got %q", c.Logging.Format)
	}
}

func (c *Config) validateSites(v *validator) {
	known := make(map[string]bool)
	for _, name := range sites.Names() {
		known[name] = true
	}
	names := make([]string, 0, len(c.Sites))
	for name := range c.Sites {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := "sites." + name
		if !known[name] {
			v.add(field, "unknown site (known: %s)", strings.Join(sites.Names(), ", "))
			continue
		}
		sc := c.Sites[name]
		for i, u := range sc.StartURLs {
			if err := validateHTTPURL(u); err != nil {
				v.add(fmt.Sprintf("%s.start_urls[%d]", field, i), "%v", err)
			}
		}
		if sc.DownloadDelay != nil && *sc.DownloadDelay < 0 {
			v.add(field+".download_delay", "cannot be negative")
		}
		if sc.RequestDelay < 0 {
			v.add(field+".request_delay", "cannot be negative")
		}
	}
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

// SiteNames returns the configured sites, or every known site when none is
// configured.
func (c *Config) SiteNames() []string {
	if len(c.Sites) == 0 {
		return sites.Names()
	}
	names := make([]string, 0, len(c.Sites))
	for name := range c.Sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
