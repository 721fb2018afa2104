// internal/antidetect/browser_exchange.go
package antidetect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/valpere/ecomscrapexter/internal/browser"
	"github.com/valpere/ecomscrapexter/internal/crawl"
	"github.com/valpere/ecomscrapexter/internal/proxy"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

// BrowserExchanger solves a challenge by loading the page in Chrome and
// waiting for the challenge script to redirect to the real page.
type BrowserExchanger struct {
	renderer  *browser.Renderer
	detector  *Detector
	proxyAuth string
	poll      time.Duration
	maxWait   time.Duration
	logger    *slog.Logger
}

// NewBrowserExchanger creates an exchanger. proxyAuth is the
// Proxy-Authorization value the browser answers proxy challenges with; it
// may be empty.
func NewBrowserExchanger(renderer *browser.Renderer, detector *Detector, proxyAuth string, maxWait time.Duration, logger *slog.Logger) *BrowserExchanger {
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &BrowserExchanger{
		renderer:  renderer,
		detector:  detector,
		proxyAuth: proxyAuth,
		poll:      500 * time.Millisecond,
		maxWait:   maxWait,
		logger:    utils.Component(logger, "browser-exchange"),
	}
}

// Exchange implements Exchanger.
func (b *BrowserExchanger) Exchange(ctx context.Context, url, clientIdentity string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.maxWait)
	defer cancel()

	req := crawl.NewRequest("", url, nil, crawl.WithRender())
	if clientIdentity != "" {
		req.Headers.Set("User-Agent", clientIdentity)
	}
	if b.proxyAuth != "" {
		req.Headers.Set(proxy.AuthorizationHeader, b.proxyAuth)
	}

	var cookies map[string]string
	err := browser.WithPage(ctx, b.renderer, req, func(page *browser.Page) error {
		if _, err := page.Navigate(ctx, url); err != nil {
			return err
		}
		ticker := time.NewTicker(b.poll)
		defer ticker.Stop()
		for {
			html, err := page.CaptureContent(ctx)
			if err != nil {
				return err
			}
			if !b.detector.HasMarkers(html) {
				cookies, err = page.Cookies(ctx)
				return err
			}
			b.logger.Debug("challenge still present, waiting", "url", url)
			select {
			case <-ctx.Done():
				return fmt.Errorf("challenge not solved: %w", ctx.Err())
			case <-ticker.C:
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, errors.New("browser finished without cookies")
	}
	return cookies, nil
}
