// internal/sites/site.go
package sites

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/valpere/ecomscrapexter/internal/browser"
	"github.com/valpere/ecomscrapexter/internal/crawl"
	"github.com/valpere/ecomscrapexter/internal/monitoring"
	"github.com/valpere/ecomscrapexter/internal/pipeline"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

// consentClick dismisses the OneTrust cookie banner the retailers share.
const consentClick = `document.querySelector('#onetrust-accept-btn-handler')?.click()`

// Settings are the per-site crawl settings.
type Settings struct {
	DownloadDelay time.Duration
	// Render marks sites that need a browser.
	Render bool
	// PageActions run on rendered pages after navigation.
	PageActions []string
}

// Site declares where product fields live on one retailer.
type Site interface {
	Name() string
	Settings() Settings
	StartURLs() []string
	// StartRequests builds the seed requests for urls.
	StartRequests(urls []string) []*crawl.Request
}

// Options are shared by every site.
type Options struct {
	ScreenshotDir string
	// RequestDelay is attached to seed requests as a throttle hint.
	RequestDelay time.Duration
	Logger       *slog.Logger
	Metrics      *monitoring.Metrics
	Now          func() time.Time
}

// Factory builds a site.
type Factory func(Options) Site

var factories = map[string]Factory{
	"auchan":    NewAuchan,
	"carrefour": NewCarrefour,
	"e-leclerc": NewLeclerc,
	"joueclub":  NewJoueclub,
}

// Names lists the known sites, sorted.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup builds the site registered under name.
func Lookup(name string, opts Options) (Site, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, utils.InvalidConfig(fmt.Sprintf("unknown site %q (known: %s)", name, strings.Join(Names(), ", ")))
	}
	return factory(opts), nil
}

// base carries what every site declaration shares.
type base struct {
	name      string
	settings  Settings
	startURLs []string
	opts      Options
	logger    *slog.Logger
}

func newBase(name string, settings Settings, startURLs []string, opts Options) base {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ScreenshotDir == "" {
		opts.ScreenshotDir = "screenshots"
	}
	return base{
		name:      name,
		settings:  settings,
		startURLs: startURLs,
		opts:      opts,
		logger:    utils.Component(opts.Logger, "site").With("site", name),
	}
}

func (b *base) Name() string        { return b.name }
func (b *base) Settings() Settings  { return b.settings }
func (b *base) StartURLs() []string { return append([]string(nil), b.startURLs...) }

// newRequest builds a request of this site with the shared errback.
func (b *base) newRequest(url string, cb crawl.Callback, opts ...crawl.RequestOption) *crawl.Request {
	opts = append([]crawl.RequestOption{crawl.WithErrback(b.errback)}, opts...)
	return crawl.NewRequest(b.name, url, cb, opts...)
}

// seed builds a start request, rendered when the site renders.
func (b *base) seed(url string, cb crawl.Callback, opts ...crawl.RequestOption) *crawl.Request {
	if b.settings.Render {
		opts = append(opts, crawl.WithRender(b.settings.PageActions...))
	}
	if b.opts.RequestDelay > 0 {
		opts = append(opts, crawl.WithMeta(crawl.MetaDelay, b.opts.RequestDelay))
	}
	return b.newRequest(url, cb, opts...)
}

func (b *base) errback(_ context.Context, req *crawl.Request, err error) {
	b.logger.Warn("request failed", "request_id", req.ID, "url", req.URL, "code", utils.CodeOf(err), "error", err)
}

// screenshot captures the rendered page of resp. A failed capture is logged
// and leaves the field unset.
func (b *base) screenshot(ctx context.Context, resp *crawl.Response, id string, rec *pipeline.PartialRecord) {
	page := resp.Page()
	if page == nil {
		return
	}
	path := browser.ScreenshotPath(b.opts.ScreenshotDir, b.name, id, b.opts.Now())
	if err := page.CaptureScreenshot(ctx, path); err != nil {
		b.logger.Warn("screenshot failed", "url", resp.URL(), "error", err)
		return
	}
	rec.Add(pipeline.FieldScreenshot, path)
}

// finish finalizes rec into the callback result.
func (b *base) finish(rec *pipeline.PartialRecord) *crawl.Result {
	record := rec.Finalize()
	issues := rec.Issues()
	for _, issue := range issues {
		b.logger.Debug("fragment skipped", "link", record.Link, "error", issue)
	}
	b.opts.Metrics.RecordAssembled(b.name, 1, len(issues))
	return &crawl.Result{Records: []pipeline.Record{record}}
}

// addXPath adds every fragment matched by expr to field.
func addXPath(doc *Document, rec *pipeline.PartialRecord, field pipeline.Field, expr string) error {
	values, err := doc.XPath(expr)
	if err != nil {
		return err
	}
	rec.Add(field, values...)
	return nil
}

// xpathFields maps fields to their XPath on a product page.
type xpathFields []struct {
	field pipeline.Field
	expr  string
}

func (xf xpathFields) addTo(doc *Document, rec *pipeline.PartialRecord) error {
	for _, f := range xf {
		if err := addXPath(doc, rec, f.field, f.expr); err != nil {
			return err
		}
	}
	return nil
}

// digits keeps the decimal digits of s.
var digits = mustPipeline(pipeline.RemoveTags, pipeline.DigitsOnly)

func mustPipeline(steps ...pipeline.TransformType) pipeline.Pipeline {
	p, err := pipeline.NewPipeline(steps...)
	if err != nil {
		panic(err)
	}
	return p
}

func digitsOf(s string) string {
	out, _ := digits.Apply(s)
	return out
}
