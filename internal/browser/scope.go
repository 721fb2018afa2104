// internal/browser/scope.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/valpere/ecomscrapexter/internal/crawl"
)

// WithPage acquires a page for req, runs fn and releases the page whatever
// fn returns.
func WithPage(ctx context.Context, r *Renderer, req *crawl.Request, fn func(*Page) error) (err error) {
	page, err := r.Acquire(ctx, req)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := page.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release page: %w", rerr))
		}
	}()
	return fn(page)
}

// ScreenshotPath builds {dir}/{site}_{id}_{unix}.png. An empty id becomes
// "unknown".
func ScreenshotPath(dir, site, id string, now time.Time) string {
	if strings.TrimSpace(id) == "" {
		id = "unknown"
	}
	name := fmt.Sprintf("%s_%s_%d.png", sanitize(site), sanitize(id), now.Unix())
	return filepath.Join(dir, name)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, s)
}
