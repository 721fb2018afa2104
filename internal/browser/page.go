// internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/valpere/ecomscrapexter/internal/monitoring"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

type pageState int

const (
	pageIdle pageState = iota
	pageReady
	pageFailed
	pageReleased
)

func (s pageState) String() string {
	switch s {
	case pageIdle:
		return "idle"
	case pageReady:
		return "ready"
	case pageFailed:
		return "failed"
	case pageReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Navigation describes the main document a page navigated to.
type Navigation struct {
	URL     string
	Status  int
	Headers http.Header
}

// Page is a browser tab bound to one request. Capture methods only work after
// a successful Navigate; Release closes the tab once, however many times it
// is called.
type Page struct {
	ctx       context.Context
	timeout   time.Duration
	waitDelay time.Duration
	actions   []string
	logger    *slog.Logger
	metrics   *monitoring.Metrics
	stats     *BrowserStats

	mu    sync.RWMutex
	state pageState
	url   string

	once      sync.Once
	teardown  func() error
	stopWatch func() bool
}

func (p *Page) currentState() pageState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Page) setState(s pageState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == pageReleased {
		return
	}
	p.state = s
}

// runContext bounds one chromedp run by the page timeout and by ctx.
func (p *Page) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if p.timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, p.timeout)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Navigate loads url, waits for the body and runs the page actions. A
// failure leaves the page non-navigable.
func (p *Page) Navigate(ctx context.Context, url string) (*Navigation, error) {
	if s := p.currentState(); s == pageReleased || s == pageFailed {
		return nil, utils.CaptureError(fmt.Sprintf("cannot navigate: page is %s", s), nil)
	}
	runCtx, cancel := p.runContext(ctx)
	defer cancel()

	p.stats.Navigations.Add(1)
	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err == nil {
		err = chromedp.Run(runCtx, chromedp.WaitReady("body", chromedp.ByQuery))
	}
	if err != nil {
		p.stats.Errors.Add(1)
		p.setState(pageFailed)
		return nil, utils.FetchFailure(url, fmt.Errorf("navigation failed: %w", err))
	}

	for i, script := range p.actions {
		if err := chromedp.Run(runCtx, chromedp.Evaluate(script, nil)); err != nil {
			p.logger.Debug("page action failed", "index", i, "error", err)
		}
	}
	if p.waitDelay > 0 {
		if err := chromedp.Run(runCtx, chromedp.Sleep(p.waitDelay)); err != nil {
			p.setState(pageFailed)
			return nil, utils.FetchFailure(url, fmt.Errorf("wait after navigation: %w", err))
		}
	}

	nav := &Navigation{URL: url, Status: http.StatusOK, Headers: make(http.Header)}
	if resp != nil {
		nav.Status = int(resp.Status)
		nav.Headers = convertHeaders(resp.Headers)
		if resp.URL != "" {
			nav.URL = resp.URL
		}
	}

	p.mu.Lock()
	if p.state != pageReleased {
		p.state = pageReady
		p.url = nav.URL
	}
	p.mu.Unlock()
	return nav, nil
}

func convertHeaders(h network.Headers) http.Header {
	out := make(http.Header, len(h))
	for name, v := range h {
		for _, value := range strings.Split(fmt.Sprint(v), "\n") {
			out.Add(name, value)
		}
	}
	return out
}

func (p *Page) ensureReady(kind string) error {
	switch s := p.currentState(); s {
	case pageReady:
		return nil
	default:
		p.metrics.RecordCaptureError(kind)
		return utils.CaptureError(fmt.Sprintf("cannot capture %s: page is %s", kind, s), nil)
	}
}

// CaptureContent returns the serialized DOM.
func (p *Page) CaptureContent(ctx context.Context) (string, error) {
	if err := p.ensureReady("content"); err != nil {
		return "", err
	}
	runCtx, cancel := p.runContext(ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		p.metrics.RecordCaptureError("content")
		return "", utils.CaptureError("failed to get HTML", err)
	}
	return html, nil
}

// CaptureScreenshot writes a full-page PNG to path, creating its directory.
func (p *Page) CaptureScreenshot(ctx context.Context, path string) error {
	if err := p.ensureReady("screenshot"); err != nil {
		return err
	}
	runCtx, cancel := p.runContext(ctx)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		p.metrics.RecordCaptureError("screenshot")
		return utils.CaptureError("screenshot failed", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return utils.CaptureError("create screenshot directory", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return utils.CaptureError("write screenshot", err)
	}
	return nil
}

// Cookies returns the cookies the browser holds for the current URL.
func (p *Page) Cookies(ctx context.Context) (map[string]string, error) {
	if err := p.ensureReady("cookies"); err != nil {
		return nil, err
	}
	runCtx, cancel := p.runContext(ctx)
	defer cancel()

	p.mu.RLock()
	url := p.url
	p.mu.RUnlock()

	var cookies []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{url}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, utils.CaptureError("read cookies", err)
	}
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out, nil
}

// releaseOn releases the page when ctx ends, even mid-navigation. An
// explicit Release first cancels the watch.
func (p *Page) releaseOn(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { _ = p.Release() })
	p.mu.Lock()
	p.stopWatch = stop
	p.mu.Unlock()
}

// Release closes the tab. Only the first call has an effect; later calls
// return nil.
func (p *Page) Release() error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		p.state = pageReleased
		stop := p.stopWatch
		p.mu.Unlock()

		if stop != nil {
			stop()
		}
		if p.teardown != nil {
			err = p.teardown()
		}
		p.stats.PagesReleased.Add(1)
		p.metrics.PageReleased()
	})
	return err
}
