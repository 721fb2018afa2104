// internal/browser/types.go
package browser

import (
	"sync/atomic"
	"time"
)

// BrowserConfig defines browser automation configuration
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	ExecPath       string        `yaml:"exec_path,omitempty" json:"exec_path,omitempty"`
	UserDataDir    string        `yaml:"user_data_dir,omitempty" json:"user_data_dir,omitempty"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	WaitDelay      time.Duration `yaml:"wait_delay,omitempty" json:"wait_delay,omitempty"`
	UserAgent      string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	MaxPages       int           `yaml:"max_pages" json:"max_pages"`
	// ProxyServer is host:port of the upstream proxy, fixed for the browser
	// process. Credentials are answered per page.
	ProxyServer string `yaml:"-" json:"-"`
}

// DefaultBrowserConfig returns default browser configuration
func DefaultBrowserConfig() *BrowserConfig {
	return &BrowserConfig{
		Headless:       true,
		Timeout:        45 * time.Second,
		ViewportWidth:  1366,
		ViewportHeight: 900,
		WaitDelay:      time.Second,
		MaxPages:       4,
	}
}

// BrowserStats contains browser automation statistics
type BrowserStats struct {
	PagesAcquired atomic.Int64
	PagesReleased atomic.Int64
	Navigations   atomic.Int64
	Errors        atomic.Int64
}

// StatsSnapshot is a plain copy of BrowserStats.
type StatsSnapshot struct {
	PagesAcquired int64 `json:"pages_acquired"`
	PagesReleased int64 `json:"pages_released"`
	Navigations   int64 `json:"navigations"`
	Errors        int64 `json:"errors"`
}

// Snapshot copies the counters.
func (s *BrowserStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		PagesAcquired: s.PagesAcquired.Load(),
		PagesReleased: s.PagesReleased.Load(),
		Navigations:   s.Navigations.Load(),
		Errors:        s.Errors.Load(),
	}
}
