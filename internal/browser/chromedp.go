// internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/valpere/ecomscrapexter/internal/crawl"
	"github.com/valpere/ecomscrapexter/internal/monitoring"
	"github.com/valpere/ecomscrapexter/internal/proxy"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

// Renderer owns one Chrome process and hands out tabs as Pages.
type Renderer struct {
	config  *BrowserConfig
	metrics *monitoring.Metrics
	logger  *slog.Logger
	stats   *BrowserStats
	pool    *tabPool

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	closeOnce sync.Once
}

// NewRenderer starts Chrome. It fails when no browser can be launched.
func NewRenderer(config *BrowserConfig, metrics *monitoring.Metrics, logger *slog.Logger) (*Renderer, error) {
	if config == nil {
		config = DefaultBrowserConfig()
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox, // Required for Docker environments
	}
	if config.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(config.ExecPath))
	}
	if config.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(config.UserDataDir))
	}
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.ViewportWidth > 0 && config.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(config.ViewportWidth, config.ViewportHeight))
	}
	if config.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(config.ProxyServer))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run launches the browser; it must not carry a timeout or the
	// browser dies with it.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &Renderer{
		config:        config,
		metrics:       metrics,
		logger:        utils.Component(logger, "renderer"),
		stats:         &BrowserStats{},
		pool:          newTabPool(config.MaxPages),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Acquire opens a tab prepared for req: its cookies, user agent and proxy
// credentials are applied before any navigation. The page is released when
// ctx ends if the caller has not done so already.
func (r *Renderer) Acquire(ctx context.Context, req *crawl.Request) (*Page, error) {
	if err := r.pool.Get(ctx); err != nil {
		return nil, utils.CaptureError("no page available", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx)
	page := &Page{
		ctx:       tabCtx,
		timeout:   r.config.Timeout,
		waitDelay: r.config.WaitDelay,
		actions:   append([]string(nil), req.PageActions...),
		logger:    r.logger.With("request_id", req.ID, "site", req.Site),
		metrics:   r.metrics,
		stats:     r.stats,
		teardown: func() error {
			defer r.pool.Put()
			err := chromedp.Cancel(tabCtx)
			tabCancel()
			return err
		},
	}
	r.stats.PagesAcquired.Add(1)
	r.metrics.PageAcquired()
	page.releaseOn(ctx)

	if err := chromedp.Run(tabCtx, r.setupActions(tabCtx, req)...); err != nil {
		_ = page.Release()
		r.stats.Errors.Add(1)
		return nil, utils.CaptureError("failed to prepare page", err)
	}
	return page, nil
}

func (r *Renderer) setupActions(tabCtx context.Context, req *crawl.Request) []chromedp.Action {
	actions := []chromedp.Action{network.Enable()}

	if r.config.ViewportWidth > 0 && r.config.ViewportHeight > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(r.config.ViewportWidth), int64(r.config.ViewportHeight)))
	}

	if ua := req.Headers.Get("User-Agent"); ua != "" {
		actions = append(actions, emulation.SetUserAgentOverride(ua))
	}

	if extra := extraHeaders(req.Headers); len(extra) > 0 {
		actions = append(actions, network.SetExtraHTTPHeaders(extra))
	}

	if len(req.Cookies) > 0 {
		params := make([]*network.CookieParam, 0, len(req.Cookies))
		for name, value := range req.Cookies {
			params = append(params, &network.CookieParam{Name: name, Value: value, URL: req.URL})
		}
		actions = append(actions, network.SetCookies(params))
	}

	if auth := req.Headers.Get(proxy.AuthorizationHeader); auth != "" {
		user, password, err := proxy.ParseBasicAuth(auth)
		if err != nil {
			r.logger.Warn("ignoring malformed proxy credentials", "request_id", req.ID, "error", err)
		} else {
			listenForAuth(tabCtx, user, password)
			actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
		}
	}
	return actions
}

// extraHeaders returns the request headers Chrome should send itself. Cookie,
// user agent and proxy credentials are handled separately.
func extraHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for name, values := range h {
		switch http.CanonicalHeaderKey(name) {
		case "Cookie", "User-Agent", proxy.AuthorizationHeader:
			continue
		}
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}

// listenForAuth answers proxy authentication challenges for the tab. With
// fetch enabled every request pauses and has to be continued explicitly.
func listenForAuth(tabCtx context.Context, user, password string) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(tabCtx, fetch.ContinueRequest(ev.RequestID))
			}()
		case *fetch.EventAuthRequired:
			go func() {
				_ = chromedp.Run(tabCtx, fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: user,
					Password: password,
				}))
			}()
		}
	})
}

// Stats returns a copy of the renderer counters.
func (r *Renderer) Stats() StatsSnapshot {
	return r.stats.Snapshot()
}

// Alive reports an error once the browser process is gone.
func (r *Renderer) Alive(_ context.Context) error {
	if err := r.browserCtx.Err(); err != nil {
		return fmt.Errorf("browser stopped: %w", err)
	}
	return nil
}

// InUse returns the number of open pages.
func (r *Renderer) InUse() int {
	return r.pool.InUse()
}

// Close shuts the browser down. Pages still open are closed with it.
func (r *Renderer) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.pool.Close()
		err = chromedp.Cancel(r.browserCtx)
		r.browserCancel()
		r.allocCancel()
	})
	return err
}
