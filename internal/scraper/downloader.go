// internal/scraper/downloader.go
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/valpere/ecomscrapexter/internal/browser"
	"github.com/valpere/ecomscrapexter/internal/crawl"
	"github.com/valpere/ecomscrapexter/internal/proxy"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

// HTTPConfig configures the plain HTTP downloader.
type HTTPConfig struct {
	Timeout     time.Duration
	Fingerprint proxy.Fingerprint
	MaxBodySize int64
}

// HTTPDownloader fetches requests with net/http. Session cookies set by
// servers are kept in a jar shared by all requests.
type HTTPDownloader struct {
	client  *http.Client
	maxBody int64
	logger  *slog.Logger
}

// NewHTTPDownloader creates the downloader and its transport.
func NewHTTPDownloader(config HTTPConfig, logger *slog.Logger) (*HTTPDownloader, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxBodySize == 0 {
		config.MaxBodySize = 32 << 20
	}
	if err := proxy.ValidateFingerprint(config.Fingerprint); err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &HTTPDownloader{
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: proxy.NewTransport(proxy.TransportOptions{Fingerprint: config.Fingerprint}),
			Jar:       jar,
		},
		maxBody: config.MaxBodySize,
		logger:  utils.Component(logger, "http-downloader"),
	}, nil
}

// Download performs req. Every HTTP status is a response; only transport
// failures are errors.
func (d *HTTPDownloader) Download(ctx context.Context, req *crawl.Request) (*crawl.Response, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", req.URL, err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	header := req.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if req.Proxy != "" {
		ctx = proxy.WithRoute(ctx, req.Proxy, header.Get(proxy.AuthorizationHeader))
		// HTTPS credentials travel on CONNECT and must not reach the origin.
		if target.Scheme == "https" {
			header.Del(proxy.AuthorizationHeader)
		}
	} else {
		header.Del(proxy.AuthorizationHeader)
	}
	if len(req.Cookies) > 0 {
		header.Set("Cookie", req.Cookies.Header())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header = header

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, utils.FetchFailure(req.URL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBody))
	if err != nil {
		return nil, utils.FetchFailure(req.URL, fmt.Errorf("read body: %w", err))
	}
	d.logger.Debug("fetched", "request_id", req.ID, "url", req.URL, "status", resp.StatusCode, "bytes", len(raw))
	return crawl.NewResponse(req, resp.Request.URL.String(), resp.StatusCode, resp.Header, raw, nil), nil
}

// RenderedPage is a page the engine can navigate and hand to callbacks.
type RenderedPage interface {
	crawl.Page
	Navigate(ctx context.Context, url string) (*browser.Navigation, error)
}

// PageSource hands out pages bound to a request.
type PageSource interface {
	Acquire(ctx context.Context, req *crawl.Request) (RenderedPage, error)
}

// RendererSource adapts a browser.Renderer to PageSource.
type RendererSource struct {
	Renderer *browser.Renderer
}

func (s RendererSource) Acquire(ctx context.Context, req *crawl.Request) (RenderedPage, error) {
	page, err := s.Renderer.Acquire(ctx, req)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// BrowserDownload navigates page to req.URL and captures the DOM. The page
// stays attached to the response so callbacks can take screenshots.
func BrowserDownload(ctx context.Context, req *crawl.Request, page RenderedPage) (*crawl.Response, error) {
	nav, err := page.Navigate(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	html, err := page.CaptureContent(ctx)
	if err != nil {
		return nil, err
	}
	return crawl.NewResponse(req, nav.URL, nav.Status, nav.Headers, []byte(html), page), nil
}
