// internal/scraper/engine_test.go
package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/ecomscrapexter/internal/antidetect"
	"github.com/valpere/ecomscrapexter/internal/browser"
	"github.com/valpere/ecomscrapexter/internal/crawl"
	crawlerrors "github.com/valpere/ecomscrapexter/internal/errors"
	"github.com/valpere/ecomscrapexter/internal/middleware"
	"github.com/valpere/ecomscrapexter/internal/pipeline"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

const challengeHTML = `<html><form><input name="jschl_vc"/><input name="jschl_answer"/></form></html>`

type memorySink struct {
	mu      sync.Mutex
	records []pipeline.Record
}

func (s *memorySink) Write(_ context.Context, records []pipeline.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *memorySink) links() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Link)
	}
	sort.Strings(out)
	return out
}

func fastRetry() crawlerrors.RetryConfig {
	return crawlerrors.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestEngine_ChallengeBypassEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("cf_clearance"); err != nil || c.Value != "ok" {
			w.Header().Set("Server", "cloudflare")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(challengeHTML))
			return
		}
		_, _ = w.Write([]byte("<html>product " + r.URL.Path + "</html>"))
	}))
	defer srv.Close()

	var exchanges atomic.Int32
	exchanger := antidetect.ExchangeFunc(func(_ context.Context, url, identity string) (map[string]string, error) {
		exchanges.Add(1)
		if identity != "test-agent" {
			return nil, errors.New("unexpected identity " + identity)
		}
		return map[string]string{"cf_clearance": "ok"}, nil
	})
	coordinator := antidetect.NewCoordinator(antidetect.NewDetector(antidetect.CloudflareIUAM), exchanger, "test-agent", nil, nil)
	chain := middleware.NewChain().
		UseRequest(middleware.StageThrottle, "throttle", middleware.NewThrottle(nil, nil)).
		UseResponse(middleware.StageChallenge, "challenge", coordinator)

	fetcher, err := NewHTTPDownloader(HTTPConfig{}, nil)
	if err != nil {
		t.Fatalf("NewHTTPDownloader: %v", err)
	}
	sink := &memorySink{}
	engine, err := NewEngine(EngineConfig{UserAgent: "test-agent", Concurrency: 2, Retry: fastRetry()}, EngineOptions{
		Chain: chain,
		HTTP:  fetcher,
		Sink:  sink,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	var callback crawl.Callback
	callback = func(ctx context.Context, resp *crawl.Response) (*crawl.Result, error) {
		if resp.Status() != http.StatusOK {
			t.Errorf("callback got status %d", resp.Status())
		}
		res := &crawl.Result{Records: []pipeline.Record{{Link: resp.Request().URL}}}
		if resp.Request().URL == srv.URL+"/p/1" {
			res.Requests = append(res.Requests,
				crawl.NewRequest("test", srv.URL+"/p/2", callback, crawl.WithMeta(crawl.MetaDelay, 0.01)),
				crawl.NewRequest("test", srv.URL+"/p/1", callback),
			)
		}
		return res, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Run(ctx, []*crawl.Request{crawl.NewRequest("test", srv.URL+"/p/1", callback)}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{srv.URL + "/p/1", srv.URL + "/p/2"}
	got := sink.links()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("records = %v, want %v", got, want)
	}
	s := engine.Stats()
	if s.Duplicates != 1 || s.Rescheduled != 2 || s.Records != 2 || s.Failures != 0 {
		t.Errorf("unexpected stats: %+v", s)
	}
	if exchanges.Load() != 2 {
		t.Errorf("Expected 2 exchanges, got %d", exchanges.Load())
	}
}

func TestEngine_BypassFailureCallsErrback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(challengeHTML))
	}))
	defer srv.Close()

	exchanger := antidetect.ExchangeFunc(func(context.Context, string, string) (map[string]string, error) {
		return map[string]string{"cf_clearance": "rejected"}, nil
	})
	chain := middleware.NewChain().UseResponse(middleware.StageChallenge, "challenge",
		antidetect.NewCoordinator(antidetect.NewDetector(antidetect.CloudflareIUAM), exchanger, "", nil, nil))
	fetcher, _ := NewHTTPDownloader(HTTPConfig{}, nil)
	engine, _ := NewEngine(EngineConfig{Retry: fastRetry()}, EngineOptions{Chain: chain, HTTP: fetcher})

	var errbackErr error
	req := crawl.NewRequest("test", srv.URL, func(context.Context, *crawl.Response) (*crawl.Result, error) {
		t.Error("callback must not run for a challenge")
		return nil, nil
	}, crawl.WithErrback(func(_ context.Context, _ *crawl.Request, err error) { errbackErr = err }))

	if err := engine.Run(context.Background(), []*crawl.Request{req}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !errors.Is(errbackErr, antidetect.ErrChallengePersisted) || !utils.IsCode(errbackErr, utils.ErrCodeBypassFailed) {
		t.Errorf("Expected persisted challenge failure, got %v", errbackErr)
	}
	if engine.Stats().Failures != 1 {
		t.Errorf("Expected one failure, got %d", engine.Stats().Failures)
	}
}

type fakePage struct {
	navErr     error
	captureErr error
	releases   atomic.Int32
}

func (p *fakePage) Navigate(_ context.Context, url string) (*browser.Navigation, error) {
	if p.navErr != nil {
		return nil, p.navErr
	}
	return &browser.Navigation{URL: url, Status: http.StatusOK, Headers: http.Header{}}, nil
}

func (p *fakePage) CaptureContent(context.Context) (string, error) {
	if p.captureErr != nil {
		return "", p.captureErr
	}
	return "<html>rendered</html>", nil
}

func (p *fakePage) CaptureScreenshot(context.Context, string) error { return p.captureErr }

func (p *fakePage) Release() error {
	p.releases.Add(1)
	return nil
}

type fakeSource struct {
	mu    sync.Mutex
	pages []*fakePage
	make  func() *fakePage
}

func (s *fakeSource) Acquire(context.Context, *crawl.Request) (RenderedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.make()
	s.pages = append(s.pages, p)
	return p, nil
}

func (s *fakeSource) assertReleasedOnce(t *testing.T, wantPages int) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pages) != wantPages {
		t.Errorf("Expected %d pages acquired, got %d", wantPages, len(s.pages))
	}
	for i, p := range s.pages {
		if n := p.releases.Load(); n != 1 {
			t.Errorf("page %d released %d times", i, n)
		}
	}
}

func TestEngine_PageReleasedOnce(t *testing.T) {
	tests := []struct {
		name         string
		page         func() *fakePage
		callbackErr  error
		wantPages    int
		wantCode     utils.ErrorCode
		wantCallback bool
	}{
		{
			name:         "success",
			page:         func() *fakePage { return &fakePage{} },
			wantPages:    1,
			wantCallback: true,
		},
		{
			name:      "capture error",
			page:      func() *fakePage { return &fakePage{captureErr: utils.CaptureError("boom", nil)} },
			wantPages: 1,
			wantCode:  utils.ErrCodeCaptureFailed,
		},
		{
			name:      "fetch failure retried",
			page:      func() *fakePage { return &fakePage{navErr: utils.FetchFailure("x", errors.New("net"))} },
			wantPages: 2,
			wantCode:  utils.ErrCodeFetchFailed,
		},
		{
			name:         "callback error",
			page:         func() *fakePage { return &fakePage{} },
			callbackErr:  errors.New("parse"),
			wantPages:    1,
			wantCode:     utils.ErrCodeInternal,
			wantCallback: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{make: tt.page}
			fetcher, _ := NewHTTPDownloader(HTTPConfig{}, nil)
			engine, err := NewEngine(EngineConfig{Retry: fastRetry()}, EngineOptions{HTTP: fetcher, Pages: source})
			if err != nil {
				t.Fatalf("NewEngine: %v", err)
			}

			var called bool
			var errbackCode utils.ErrorCode
			var pageOpenInErrback bool
			req := crawl.NewRequest("test", "https://shop.example/p", func(_ context.Context, resp *crawl.Response) (*crawl.Result, error) {
				called = true
				if resp.Page() == nil {
					t.Error("Expected rendered response to carry its page")
				}
				if resp.Text() != "<html>rendered</html>" {
					t.Errorf("unexpected body %q", resp.Text())
				}
				return nil, tt.callbackErr
			}, crawl.WithRender(), crawl.WithErrback(func(_ context.Context, _ *crawl.Request, err error) {
				errbackCode = utils.CodeOf(err)
				source.mu.Lock()
				last := source.pages[len(source.pages)-1]
				source.mu.Unlock()
				pageOpenInErrback = last.releases.Load() == 0
			}))

			if err := engine.Run(context.Background(), []*crawl.Request{req}); err != nil {
				t.Fatalf("Run: %v", err)
			}
			source.assertReleasedOnce(t, tt.wantPages)
			if called != tt.wantCallback {
				t.Errorf("callback called = %v, want %v", called, tt.wantCallback)
			}
			if errbackCode != tt.wantCode {
				t.Errorf("errback code = %q, want %q", errbackCode, tt.wantCode)
			}
			if tt.callbackErr != nil && !pageOpenInErrback {
				t.Error("Expected page to stay open while the errback runs")
			}
		})
	}
}

func TestEngine_RenderWithoutBrowser(t *testing.T) {
	fetcher, _ := NewHTTPDownloader(HTTPConfig{}, nil)
	engine, _ := NewEngine(EngineConfig{}, EngineOptions{HTTP: fetcher})

	var got error
	req := crawl.NewRequest("test", "https://shop.example/", nil, crawl.WithRender(),
		crawl.WithErrback(func(_ context.Context, _ *crawl.Request, err error) { got = err }))
	if err := engine.Run(context.Background(), []*crawl.Request{req}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !utils.IsCode(got, utils.ErrCodeInvalidConfig) {
		t.Errorf("Expected configuration error, got %v", got)
	}
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	fetcher, _ := NewHTTPDownloader(HTTPConfig{}, nil)
	engine, _ := NewEngine(EngineConfig{Retry: crawlerrors.RetryConfig{MaxRetries: 0}}, EngineOptions{HTTP: fetcher})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := engine.Run(ctx, []*crawl.Request{crawl.NewRequest("test", srv.URL, nil)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
}

func TestEngine_DownloadDelayPerSite(t *testing.T) {
	e, _ := NewEngine(EngineConfig{DownloadDelay: map[string]time.Duration{"slow": 250 * time.Millisecond}}, EngineOptions{HTTP: &HTTPDownloader{}})
	if l := e.limiter("slow"); l.Limit() != 4 {
		t.Errorf("Expected 4 req/s for slow site, got %v", l.Limit())
	}
	if l := e.limiter("fast"); l.Limit() != rate.Inf {
		t.Errorf("Expected unlimited rate for fast site, got %v", l.Limit())
	}
	if e.limiter("slow") != e.limiter("slow") {
		t.Error("Expected limiter to be shared per site")
	}
}
