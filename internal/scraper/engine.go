// internal/scraper/engine.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/ecomscrapexter/internal/crawl"
	crawlerrors "github.com/valpere/ecomscrapexter/internal/errors"
	"github.com/valpere/ecomscrapexter/internal/middleware"
	"github.com/valpere/ecomscrapexter/internal/monitoring"
	"github.com/valpere/ecomscrapexter/internal/pipeline"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

// Fetcher performs plain HTTP downloads.
type Fetcher interface {
	Download(ctx context.Context, req *crawl.Request) (*crawl.Response, error)
}

// RecordSink receives the records produced by callbacks.
type RecordSink interface {
	Write(ctx context.Context, records []pipeline.Record) error
}

// EngineConfig defines the configuration for the crawl engine
type EngineConfig struct {
	UserAgent      string                           `yaml:"user_agent" json:"user_agent"`
	Concurrency    int                              `yaml:"concurrency" json:"concurrency"`
	Pending        int                              `yaml:"pending" json:"pending"`
	Retry          crawlerrors.RetryConfig          `yaml:"retry" json:"retry"`
	CircuitBreaker crawlerrors.CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	// DownloadDelay is the minimum spacing between downloads of one site.
	DownloadDelay map[string]time.Duration `yaml:"download_delay,omitempty" json:"download_delay,omitempty"`
}

// EngineOptions carries the collaborators of an Engine. Only HTTP is
// required; without Pages, rendered requests fail.
type EngineOptions struct {
	Scheduler *Scheduler
	Chain     *middleware.Chain
	HTTP      Fetcher
	Pages     PageSource
	Sink      RecordSink
	Metrics   *monitoring.Metrics
	Logger    *slog.Logger
}

// Stats counts crawl progress.
type Stats struct {
	Requests    atomic.Int64
	Duplicates  atomic.Int64
	Responses   atomic.Int64
	Rescheduled atomic.Int64
	Records     atomic.Int64
	Failures    atomic.Int64
}

// StatsSnapshot is a plain copy of Stats.
type StatsSnapshot struct {
	Requests    int64 `json:"requests"`
	Duplicates  int64 `json:"duplicates"`
	Responses   int64 `json:"responses"`
	Rescheduled int64 `json:"rescheduled"`
	Records     int64 `json:"records"`
	Failures    int64 `json:"failures"`
	Queued      int   `json:"queued"`
}

// Engine drives requests from the scheduler through middleware, download and
// callbacks.
type Engine struct {
	config    EngineConfig
	scheduler *Scheduler
	chain     *middleware.Chain
	http      Fetcher
	pages     PageSource
	sink      RecordSink
	retrier   *crawlerrors.Retrier
	metrics   *monitoring.Metrics
	logger    *slog.Logger
	stats     Stats

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*crawlerrors.CircuitBreaker

	wake chan struct{}
}

// NewEngine creates an engine.
func NewEngine(config EngineConfig, opts EngineOptions) (*Engine, error) {
	if opts.HTTP == nil {
		return nil, fmt.Errorf("engine requires an HTTP fetcher")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}
	if config.Pending < config.Concurrency {
		config.Pending = config.Concurrency * 4
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewScheduler(NewMemoryDupeFilter())
	}
	if opts.Chain == nil {
		opts.Chain = middleware.NewChain()
	}
	return &Engine{
		config:    config,
		scheduler: opts.Scheduler,
		chain:     opts.Chain,
		http:      opts.HTTP,
		pages:     opts.Pages,
		sink:      opts.Sink,
		retrier:   crawlerrors.NewRetrier(config.Retry),
		metrics:   opts.Metrics,
		logger:    utils.Component(opts.Logger, "engine"),
		limiters:  make(map[string]*rate.Limiter),
		breakers:  make(map[string]*crawlerrors.CircuitBreaker),
		wake:      make(chan struct{}, 1),
	}, nil
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() StatsSnapshot {
	return StatsSnapshot{
		Requests:    e.stats.Requests.Load(),
		Duplicates:  e.stats.Duplicates.Load(),
		Responses:   e.stats.Responses.Load(),
		Rescheduled: e.stats.Rescheduled.Load(),
		Records:     e.stats.Records.Load(),
		Failures:    e.stats.Failures.Load(),
		Queued:      e.scheduler.Len(),
	}
}

// Run crawls from seeds until the queue drains and no request is in flight,
// or until ctx ends.
func (e *Engine) Run(ctx context.Context, seeds []*crawl.Request) error {
	for _, req := range seeds {
		e.push(ctx, req)
	}

	pending := make(chan struct{}, e.config.Pending)
	downloads := make(chan struct{}, e.config.Concurrency)
	var inflight atomic.Int64
	var wg sync.WaitGroup

	e.logger.Info("crawl started", "seeds", len(seeds), "concurrency", e.config.Concurrency)
	start := time.Now()

loop:
	for ctx.Err() == nil {
		req, ok := e.scheduler.Pop()
		e.metrics.SetQueueDepth(e.scheduler.Len())
		if !ok {
			if inflight.Load() == 0 && e.scheduler.Len() == 0 {
				break
			}
			select {
			case <-e.wake:
			case <-ctx.Done():
			}
			continue
		}

		select {
		case pending <- struct{}{}:
		case <-ctx.Done():
			break loop
		}
		inflight.Add(1)
		wg.Add(1)
		go func(req *crawl.Request) {
			defer func() {
				<-pending
				inflight.Add(-1)
				wg.Done()
				e.signal()
			}()
			e.process(ctx, req, downloads)
		}(req)
	}

	wg.Wait()
	s := e.Stats()
	e.logger.Info("crawl finished",
		"duration", time.Since(start),
		"requests", s.Requests,
		"responses", s.Responses,
		"records", s.Records,
		"failures", s.Failures,
	)
	return ctx.Err()
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) push(ctx context.Context, req *crawl.Request) {
	if e.config.UserAgent != "" && req.Headers.Get("User-Agent") == "" {
		req.Headers.Set("User-Agent", e.config.UserAgent)
	}
	ok, err := e.scheduler.Push(ctx, req)
	if err != nil {
		e.logger.Error("failed to schedule request", "request_id", req.ID, "url", req.URL, "error", err)
		return
	}
	if !ok {
		e.stats.Duplicates.Add(1)
		e.logger.Debug("filtered duplicate request", "url", req.URL)
		return
	}
	e.stats.Requests.Add(1)
	e.signal()
}

func (e *Engine) limiter(site string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[site]
	if !ok {
		l = rate.NewLimiter(rate.Inf, 1)
		if d := e.config.DownloadDelay[site]; d > 0 {
			l = rate.NewLimiter(rate.Every(d), 1)
		}
		e.limiters[site] = l
	}
	return l
}

func (e *Engine) breaker(site string) *crawlerrors.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[site]
	if !ok {
		b = crawlerrors.NewCircuitBreaker(site, e.config.CircuitBreaker)
		e.breakers[site] = b
	}
	return b
}

// process runs one request end to end. A rendered page acquired for the
// request is released when process returns, after callback or errback.
func (e *Engine) process(ctx context.Context, req *crawl.Request, downloads chan struct{}) {
	log := e.logger.With("request_id", req.ID, "site", req.Site, "url", req.URL)

	if err := e.chain.ProcessRequest(ctx, req); err != nil {
		e.fail(ctx, log, req, err)
		return
	}

	resp, page, err := e.download(ctx, req, downloads)
	if page != nil {
		defer func() {
			if err := page.Release(); err != nil {
				log.Debug("page release failed", "error", err)
			}
		}()
	}
	if err != nil {
		e.fail(ctx, log, req, err)
		return
	}
	e.stats.Responses.Add(1)
	e.metrics.RecordResponse(req.Site, resp.Status())

	decision, err := e.chain.ProcessResponse(ctx, resp)
	if err != nil {
		e.fail(ctx, log, req, err)
		return
	}
	if decision.Reschedule != nil {
		e.stats.Rescheduled.Add(1)
		e.scheduler.Reschedule(decision.Reschedule)
		e.signal()
		log.Debug("request rescheduled", "priority", decision.Reschedule.Priority())
		return
	}

	if req.Callback == nil {
		return
	}
	result, err := req.Callback(ctx, decision.Response)
	if err != nil {
		e.fail(ctx, log, req, err)
		return
	}
	if result == nil {
		return
	}
	for _, next := range result.Requests {
		e.push(ctx, next)
	}
	if len(result.Records) > 0 {
		e.stats.Records.Add(int64(len(result.Records)))
		if e.sink != nil {
			if err := e.sink.Write(ctx, result.Records); err != nil {
				log.Error("failed to write records", "records", len(result.Records), "error", err)
			}
		}
	}
}

// download fetches req with retries. Pages of failed attempts are released
// before the next attempt; the page of the successful attempt is returned.
func (e *Engine) download(ctx context.Context, req *crawl.Request, downloads chan struct{}) (*crawl.Response, RenderedPage, error) {
	if err := e.limiter(req.Site).Wait(ctx); err != nil {
		return nil, nil, utils.FetchFailure(req.URL, err)
	}
	select {
	case downloads <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, utils.FetchFailure(req.URL, ctx.Err())
	}
	defer func() { <-downloads }()

	breaker := e.breaker(req.Site)
	var resp *crawl.Response
	var kept RenderedPage
	err := e.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		if !breaker.CanExecute() {
			return breaker.ErrCircuitOpen(req.URL)
		}
		if attempt > 0 {
			e.logger.Debug("retrying download", "request_id", req.ID, "attempt", attempt)
		}

		r, page, err := e.fetchOnce(ctx, req)
		if err != nil {
			if page != nil {
				_ = page.Release()
			}
			if utils.IsCode(err, utils.ErrCodeFetchFailed) {
				breaker.RecordFailure()
			}
			return err
		}
		breaker.RecordSuccess()
		resp, kept = r, page
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return resp, kept, nil
}

func (e *Engine) fetchOnce(ctx context.Context, req *crawl.Request) (*crawl.Response, RenderedPage, error) {
	if !req.Render {
		resp, err := e.http.Download(ctx, req)
		return resp, nil, err
	}
	if e.pages == nil {
		return nil, nil, utils.NewError(utils.ErrCodeInvalidConfig, "rendered request without a browser", nil)
	}
	page, err := e.pages.Acquire(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	resp, err := BrowserDownload(ctx, req, page)
	return resp, page, err
}

func (e *Engine) fail(ctx context.Context, log *slog.Logger, req *crawl.Request, err error) {
	e.stats.Failures.Add(1)
	code := utils.CodeOf(err)
	if errors.Is(err, context.Canceled) {
		log.Debug("request abandoned", "error", err)
	} else {
		log.Warn("request failed", "code", code, "error", err)
	}
	e.metrics.RecordFetchFailure(req.Site, string(code))
	if req.Errback != nil {
		req.Errback(ctx, req, err)
	}
}
