// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valpere/ecomscrapexter/internal/output"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

func clearProxyEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"PROXY_USER", "PROXY_PASSWORD", "PROXY_ENDPOINT", "PROXY_PORT"} {
		if v, ok := os.LookupEnv(name); ok {
			os.Unsetenv(name)
			t.Cleanup(func() { os.Setenv(name, v) })
		}
	}
}

func TestLoadFromBytesDefaults(t *testing.T) {
	clearProxyEnv(t)

	cfg, err := LoadFromBytes(nil)
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}

	if cfg.Crawl.Concurrency != 8 || cfg.Crawl.Pending != 32 {
		t.Errorf("concurrency/pending = %d/%d, want 8/32", cfg.Crawl.Concurrency, cfg.Crawl.Pending)
	}
	if cfg.Crawl.RetryAttempts != 2 || cfg.Crawl.RetryDelay != time.Second {
		t.Errorf("unexpected retry defaults: %+v", cfg.Crawl)
	}
	if cfg.Crawl.UserAgent != DefaultUserAgent || cfg.Browser.UserAgent != DefaultUserAgent {
		t.Error("expected the default user agent for crawler and browser")
	}
	if !cfg.Browser.Headless || cfg.Browser.MaxPages != 4 {
		t.Errorf("unexpected browser defaults: %+v", cfg.Browser)
	}
	if cfg.Bypass.Mode != BypassBrowser || cfg.Bypass.MaxTimeout != time.Minute {
		t.Errorf("unexpected bypass defaults: %+v", cfg.Bypass)
	}
	if cfg.Screenshots.Dir != "screenshots" {
		t.Errorf("screenshots dir = %q", cfg.Screenshots.Dir)
	}
	if len(cfg.Output) != 1 || cfg.Output[0].Format != output.FormatJSONL || cfg.Output[0].OnConflict != output.ConflictIgnore {
		t.Errorf("unexpected output defaults: %+v", cfg.Output)
	}
	if cfg.Dedupe.Backend != "memory" {
		t.Errorf("dedupe backend = %q", cfg.Dedupe.Backend)
	}
	if cfg.Metrics.Namespace != "ecomscrapexter" || cfg.Metrics.ListenAddress != ":9090" {
		t.Errorf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}

	want := []string{"auchan", "carrefour", "e-leclerc", "joueclub"}
	if got := cfg.SiteNames(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("SiteNames() = %v, want %v", got, want)
	}
}

func TestLoadFromBytes(t *testing.T) {
	clearProxyEnv(t)
	t.Setenv("TEST_PG_DSN", "postgres://crawler@localhost/products")

	configYAML := `
crawl:
  concurrency: 4
  retry_delay: 250ms
  tls_fingerprint: chrome
browser:
  headless: false
  max_pages: 2
bypass:
  mode: solver
  solver_url: http://localhost:8191
  max_timeout: 30s
output:
  - format: csv
    path: out/products.csv
  - format: postgresql
    dsn: ${TEST_PG_DSN}
    on_conflict: replace
sites:
  carrefour:
    start_urls:
      - https://www.carrefour.fr/p/jouet-3760145062536
    download_delay: 2s
`
	cfg, err := LoadFromBytes([]byte(configYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}

	if cfg.Crawl.Concurrency != 4 || cfg.Crawl.Pending != 16 {
		t.Errorf("concurrency/pending = %d/%d, want 4/16", cfg.Crawl.Concurrency, cfg.Crawl.Pending)
	}
	if cfg.Crawl.RetryDelay != 250*time.Millisecond {
		t.Errorf("retry delay = %v", cfg.Crawl.RetryDelay)
	}
	if cfg.Browser.Headless {
		t.Error("headless should be disabled")
	}
	if cfg.Browser.Timeout != 45*time.Second {
		t.Errorf("unset browser timeout should keep its default, got %v", cfg.Browser.Timeout)
	}
	if cfg.Bypass.URL != "http://localhost:8191" || cfg.Bypass.MaxTimeout != 30*time.Second {
		t.Errorf("unexpected bypass: %+v", cfg.Bypass)
	}
	if len(cfg.Output) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(cfg.Output))
	}
	if cfg.Output[1].DSN != "postgres://crawler@localhost/products" {
		t.Errorf("environment variable not expanded: %q", cfg.Output[1].DSN)
	}
	if cfg.Output[0].OnConflict != output.ConflictIgnore || cfg.Output[1].OnConflict != output.ConflictReplace {
		t.Errorf("unexpected conflict strategies: %q, %q", cfg.Output[0].OnConflict, cfg.Output[1].OnConflict)
	}

	site := cfg.Sites["carrefour"]
	if site.DownloadDelay == nil || *site.DownloadDelay != 2*time.Second {
		t.Errorf("download delay override = %v", site.DownloadDelay)
	}
	if got := cfg.SiteNames(); len(got) != 1 || got[0] != "carrefour" {
		t.Errorf("SiteNames() = %v", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearProxyEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n  format: json\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging: %+v", cfg.Logging)
	}

	if _, err := LoadFromFile(""); !utils.IsCode(err, utils.ErrCodeInvalidConfig) {
		t.Errorf("empty filename: expected INVALID_CONFIG, got %v", err)
	}
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); !utils.IsCode(err, utils.ErrCodeInvalidConfig) {
		t.Errorf("missing file: expected INVALID_CONFIG, got %v", err)
	}
}

func TestExampleConfig(t *testing.T) {
	clearProxyEnv(t)

	cfg, err := LoadFromFile(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if len(cfg.Output) != 2 {
		t.Errorf("expected 2 outputs, got %d", len(cfg.Output))
	}
	leclerc, ok := cfg.Sites["e-leclerc"]
	if !ok || leclerc.DownloadDelay == nil || *leclerc.DownloadDelay != 250*time.Millisecond {
		t.Errorf("unexpected e-leclerc settings: %+v", leclerc)
	}
	if got := cfg.Sites["joueclub"].RequestDelay; got != 500*time.Millisecond {
		t.Errorf("joueclub request_delay = %v", got)
	}
}

func TestLoadFromReader(t *testing.T) {
	clearProxyEnv(t)

	cfg, err := LoadFromReader(strings.NewReader("crawl:\n  concurrency: 2\n"))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}
	if cfg.Crawl.Concurrency != 2 {
		t.Errorf("concurrency = %d", cfg.Crawl.Concurrency)
	}
	if _, err := LoadFromReader(nil); err == nil {
		t.Error("expected error for nil reader")
	}
}

func TestProxyEnvironmentOverride(t *testing.T) {
	t.Setenv("PROXY_USER", "crawler")
	t.Setenv("PROXY_PASSWORD", "from-env")
	t.Setenv("PROXY_ENDPOINT", "proxy.internal")
	t.Setenv("PROXY_PORT", "8080")

	cfg, err := LoadFromBytes([]byte("proxy:\n  enabled: true\n  endpoint: ignored.example\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	if cfg.Proxy.Username != "crawler" || cfg.Proxy.Password != "from-env" {
		t.Errorf("credentials not taken from environment: %+v", cfg.Proxy)
	}
	if got := cfg.Proxy.Address(); got != "proxy.internal:8080" {
		t.Errorf("Address() = %q", got)
	}

	if !cfg.Proxy.Active() {
		t.Error("proxy with an endpoint should be active")
	}

	endpointOnly, err := LoadFromBytes(nil)
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	if !endpointOnly.Proxy.Active() || endpointOnly.Proxy.Endpoint != "proxy.internal" {
		t.Errorf("PROXY_ENDPOINT alone should activate the proxy: %+v", endpointOnly.Proxy)
	}

	off, err := LoadFromBytes([]byte("proxy:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	if off.Proxy.Active() {
		t.Error("enabled: false should switch the proxy off")
	}

	t.Setenv("PROXY_PORT", "eighty")
	if _, err := LoadFromBytes(nil); !utils.IsCode(err, utils.ErrCodeInvalidConfig) {
		t.Errorf("expected INVALID_CONFIG for a bad PROXY_PORT, got %v", err)
	}
}

func TestLoadFromBytesInvalid(t *testing.T) {
	clearProxyEnv(t)

	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"malformed yaml", "crawl: [", "failed to parse YAML"},
		{"unknown key", "crawl:\n  workers: 3\n", "workers"},
		{"pending below concurrency", "crawl:\n  concurrency: 8\n  pending: 2\n", "crawl.pending"},
		{"unknown fingerprint", "crawl:\n  tls_fingerprint: firefox\n", "crawl.tls_fingerprint"},
		{"proxy without endpoint", "proxy:\n  enabled: true\n", "proxy"},
		{"solver without url", "bypass:\n  mode: solver\n", "bypass.solver_url"},
		{"unknown bypass mode", "bypass:\n  mode: magic\n", "bypass.mode"},
		{"bad output", "output:\n  - format: xml\n    path: a.xml\n", "output[0]"},
		{"redis without address", "dedupe:\n  backend: redis\n", "dedupe.redis_addr"},
		{"unknown dedupe backend", "dedupe:\n  backend: disk\n", "dedupe.backend"},
		{"bad log level", "logging:\n  level: loud\n", "logging.level"},
		{"unknown site", "sites:\n  amazon: {}\n", "sites.amazon"},
		{"relative start url", "sites:\n  auchan:\n    start_urls: [\"/p/1\"]\n", "sites.auchan.start_urls[0]"},
		{"negative delay", "sites:\n  joueclub:\n    download_delay: -1s\n", "sites.joueclub.download_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !utils.IsCode(err, utils.ErrCodeInvalidConfig) {
				t.Errorf("expected INVALID_CONFIG, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Crawl.Concurrency = 0
	cfg.Logging.Format = "xml"
	cfg.Dedupe.Backend = "disk"

	err := cfg.Validate()
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) < 3 {
		t.Errorf("expected at least 3 problems, got %d: %v", len(verrs), verrs)
	}
	if !strings.HasPrefix(err.Error(), "configuration validation failed:\n  1. ") {
		t.Errorf("unexpected format: %q", err.Error())
	}
}

func TestWatcherReload(t *testing.T) {
	clearProxyEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Skipf("file watching unavailable: %v", err)
	}
	defer w.Close()

	// Rewrites may surface as a truncate followed by a write, so only the
	// final content is awaited.
	levels := make(chan string, 1)
	w.OnChange(func(cfg *Config) {
		if cfg.Logging.Level == "debug" {
			select {
			case levels <- cfg.Logging.Level:
			default:
			}
		}
	})

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case level := <-levels:
		if level != "debug" {
			t.Errorf("reloaded level = %q, want debug", level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcherReloadCallbacks(t *testing.T) {
	clearProxyEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	w := &Watcher{configPath: path, logger: utils.Component(nil, "config-watcher")}

	var got []string
	w.OnChange(func(cfg *Config) { got = append(got, "first:"+cfg.Logging.Level) })
	w.OnChange(func(cfg *Config) {
		got = append(got, "second:"+cfg.Logging.Level)
		// Registering from a callback must not affect the running reload.
		w.OnChange(func(*Config) { got = append(got, "late") })
	})

	w.reload()
	if want := []string{"first:warn", "second:warn"}; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("callbacks = %v, want %v", got, want)
	}

	got = nil
	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	w.reload()
	if len(got) != 0 {
		t.Errorf("invalid reload reached callbacks: %v", got)
	}

	w.stopped = true
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	w.reload()
	if len(got) != 0 {
		t.Errorf("stopped watcher ran callbacks: %v", got)
	}
}

func TestRetryAttempts(t *testing.T) {
	clearProxyEnv(t)

	tests := []struct {
		name string
		yaml string
		want int
	}{
		{"unset keeps default", "crawl:\n  concurrency: 2\n", 2},
		{"zero disables retries", "crawl:\n  retry_attempts: 0\n", 0},
		{"explicit value", "crawl:\n  retry_attempts: 5\n", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromBytes([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("LoadFromBytes failed: %v", err)
			}
			if cfg.Crawl.RetryAttempts != tt.want {
				t.Errorf("retry_attempts = %d, want %d", cfg.Crawl.RetryAttempts, tt.want)
			}
		})
	}
}
