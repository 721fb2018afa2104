// cmd/ecomscrapexter/crawler.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/valpere/ecomscrapexter/internal/antidetect"
	"github.com/valpere/ecomscrapexter/internal/browser"
	"github.com/valpere/ecomscrapexter/internal/config"
	"github.com/valpere/ecomscrapexter/internal/crawl"
	crawlerrors "github.com/valpere/ecomscrapexter/internal/errors"
	"github.com/valpere/ecomscrapexter/internal/middleware"
	"github.com/valpere/ecomscrapexter/internal/monitoring"
	"github.com/valpere/ecomscrapexter/internal/output"
	"github.com/valpere/ecomscrapexter/internal/proxy"
	"github.com/valpere/ecomscrapexter/internal/scraper"
	"github.com/valpere/ecomscrapexter/internal/sites"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

// runOptions are the command line choices of a crawl.
type runOptions struct {
	ConfigFile string
	Sites      []string
	StartURL   string
	Watch      bool
}

// selectSites builds the sites to crawl with their start URLs. A URL given
// on the command line replaces the start URLs of the single selected site.
func selectSites(cfg *config.Config, opts runOptions, siteOpts func(name string) sites.Options) ([]sites.Site, map[string][]string, error) {
	names := opts.Sites
	if len(names) == 0 {
		names = cfg.SiteNames()
	}
	if opts.StartURL != "" && len(names) != 1 {
		return nil, nil, utils.InvalidConfig("-url needs exactly one site, use -sites to pick it")
	}

	selected := make([]sites.Site, 0, len(names))
	starts := make(map[string][]string, len(names))
	for _, name := range names {
		site, err := sites.Lookup(name, siteOpts(name))
		if err != nil {
			return nil, nil, err
		}
		urls := site.StartURLs()
		if sc, ok := cfg.Sites[name]; ok && len(sc.StartURLs) > 0 {
			urls = sc.StartURLs
		}
		if opts.StartURL != "" {
			urls = []string{opts.StartURL}
		}
		selected = append(selected, site)
		starts[name] = urls
	}
	return selected, starts, nil
}

// downloadDelays merges the site defaults with configured overrides.
func downloadDelays(cfg *config.Config, selected []sites.Site) map[string]time.Duration {
	delays := make(map[string]time.Duration, len(selected))
	for _, site := range selected {
		delay := site.Settings().DownloadDelay
		if sc, ok := cfg.Sites[site.Name()]; ok && sc.DownloadDelay != nil {
			delay = *sc.DownloadDelay
		}
		delays[site.Name()] = delay
	}
	return delays
}

func needsBrowser(cfg *config.Config, selected []sites.Site) bool {
	if cfg.Bypass.Mode == config.BypassBrowser {
		return true
	}
	for _, site := range selected {
		if site.Settings().Render {
			return true
		}
	}
	return false
}

// buildChain assembles the middleware: proxy credentials and throttling on
// requests, challenge bypass on responses.
func buildChain(cfg *config.Config, renderer *browser.Renderer, metrics *monitoring.Metrics, logger *slog.Logger) (*middleware.Chain, error) {
	chain := middleware.NewChain()
	if cfg.Proxy.Active() {
		chain.UseRequest(middleware.StageProxy, "proxy", proxy.NewAuthenticator(cfg.Proxy))
	}
	chain.UseRequest(middleware.StageThrottle, "throttle", middleware.NewThrottle(metrics, logger))

	detector := antidetect.NewDetector(antidetect.CloudflareIUAM)
	var exchanger antidetect.Exchanger
	switch cfg.Bypass.Mode {
	case config.BypassOff:
		return chain, nil
	case config.BypassSolver:
		exchanger = antidetect.NewSolverExchanger(solverConfig(cfg), nil, logger)
	case config.BypassBrowser:
		if renderer == nil {
			return nil, fmt.Errorf("browser bypass needs a running browser")
		}
		var proxyAuth string
		if cfg.Proxy.Active() {
			proxyAuth = proxy.BasicAuth(cfg.Proxy.Username, cfg.Proxy.Password)
		}
		exchanger = antidetect.NewBrowserExchanger(renderer, detector, proxyAuth, cfg.Bypass.MaxTimeout, logger)
	}
	chain.UseResponse(middleware.StageChallenge, "challenge", antidetect.NewCoordinator(detector, exchanger, cfg.Crawl.UserAgent, metrics, logger))
	return chain, nil
}

// solverConfig points the solver at the crawl's proxy, credentials included.
func solverConfig(cfg *config.Config) antidetect.SolverConfig {
	sc := cfg.Bypass.SolverConfig
	if cfg.Proxy.Active() {
		sc.Proxy = cfg.Proxy.URL()
		sc.ProxyUsername = cfg.Proxy.Username
		sc.ProxyPassword = cfg.Proxy.Password
	}
	return sc
}

func engineConfig(cfg *config.Config, delays map[string]time.Duration) scraper.EngineConfig {
	return scraper.EngineConfig{
		UserAgent:   cfg.Crawl.UserAgent,
		Concurrency: cfg.Crawl.Concurrency,
		Pending:     cfg.Crawl.Pending,
		Retry: crawlerrors.RetryConfig{
			MaxRetries: cfg.Crawl.RetryAttempts,
			BaseDelay:  cfg.Crawl.RetryDelay,
		},
		CircuitBreaker: crawlerrors.CircuitBreakerConfig{
			MaxFailures:  cfg.Crawl.BreakerFailures,
			ResetTimeout: cfg.Crawl.BreakerReset,
		},
		DownloadDelay: delays,
	}
}

// runCrawl wires every component from cfg, crawls and closes everything.
func runCrawl(ctx context.Context, cfg *config.Config, opts runOptions) (err error) {
	var level slog.LevelVar
	logger := utils.NewLeveledLogger(cfg.Logging, &level)

	if opts.Watch && opts.ConfigFile != "" {
		watcher, werr := config.NewWatcher(opts.ConfigFile, logger)
		if werr != nil {
			logger.Warn("configuration watching disabled", "error", werr)
		} else {
			defer watcher.Close()
			watcher.OnChange(func(next *config.Config) {
				level.Set(utils.ParseLevel(next.Logging.Level))
			})
		}
	}

	var metrics *monitoring.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitoring.NewMetrics(cfg.Metrics)
	}

	selected, starts, err := selectSites(cfg, opts, func(name string) sites.Options {
		return sites.Options{
			ScreenshotDir: cfg.Screenshots.Dir,
			RequestDelay:  cfg.Sites[name].RequestDelay,
			Logger:        logger,
			Metrics:       metrics,
		}
	})
	if err != nil {
		return err
	}

	var renderer *browser.Renderer
	if needsBrowser(cfg, selected) {
		browserCfg := cfg.Browser
		if cfg.Proxy.Active() {
			browserCfg.ProxyServer = cfg.Proxy.Address()
		}
		renderer, err = browser.NewRenderer(&browserCfg, metrics, logger)
		if err != nil {
			return utils.NewError(utils.ErrCodeCaptureFailed, "start browser", err)
		}
		defer func() {
			if cerr := renderer.Close(); cerr != nil {
				logger.Warn("browser shutdown failed", "error", cerr)
			}
		}()
	}

	chain, err := buildChain(cfg, renderer, metrics, logger)
	if err != nil {
		return utils.InvalidConfig(err.Error())
	}

	httpDownloader, err := scraper.NewHTTPDownloader(scraper.HTTPConfig{
		Timeout:     cfg.Crawl.RequestTimeout,
		Fingerprint: proxy.Fingerprint(cfg.Crawl.TLSFingerprint),
		MaxBodySize: cfg.Crawl.MaxBodySize,
	}, logger)
	if err != nil {
		return utils.InvalidConfig(err.Error())
	}

	filter, err := scraper.NewDupeFilter(ctx, cfg.Dedupe)
	if err != nil {
		return fmt.Errorf("create dupe filter: %w", err)
	}
	defer filter.Close()

	sink, err := output.NewManager(ctx, cfg.Output, metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	engineOpts := scraper.EngineOptions{
		Scheduler: scraper.NewScheduler(filter),
		Chain:     chain,
		HTTP:      httpDownloader,
		Sink:      sink,
		Metrics:   metrics,
		Logger:    logger,
	}
	if renderer != nil {
		engineOpts.Pages = scraper.RendererSource{Renderer: renderer}
	}
	engine, err := scraper.NewEngine(engineConfig(cfg, downloadDelays(cfg, selected)), engineOpts)
	if err != nil {
		return err
	}

	if metrics != nil {
		server := monitoring.NewServer(cfg.Metrics.ListenAddress, metrics, func() interface{} {
			stats := map[string]interface{}{"engine": engine.Stats()}
			if renderer != nil {
				stats["browser"] = renderer.Stats()
			}
			return stats
		}, logger)
		if pinger, ok := filter.(interface{ Ping(context.Context) error }); ok {
			server.RegisterCheck("dedupe", pinger.Ping)
		}
		if renderer != nil {
			server.RegisterCheck("browser", renderer.Alive)
		}
		serverCtx, stopServer := context.WithCancel(context.Background())
		defer stopServer()
		go func() {
			if serr := server.Start(serverCtx); serr != nil {
				logger.Error("monitoring server failed", "error", serr)
			}
		}()
	}

	var seeds []*crawl.Request
	for _, site := range selected {
		seeds = append(seeds, site.StartRequests(starts[site.Name()])...)
		logger.Info("site selected", "site", site.Name(), "start_urls", len(starts[site.Name()]), "render", site.Settings().Render)
	}

	if err := engine.Run(ctx, seeds); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("crawl interrupted", "stats", engine.Stats())
			return nil
		}
		return err
	}
	return nil
}
