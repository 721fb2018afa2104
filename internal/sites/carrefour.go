// internal/sites/carrefour.go
package sites

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/valpere/ecomscrapexter/internal/crawl"
	"github.com/valpere/ecomscrapexter/internal/pipeline"
)

var carrefourFields = xpathFields{
	{pipeline.FieldTitle, `//h1`},
	{pipeline.FieldDescription, `//div[@class="secondary-details__description"]/p`},
	{pipeline.FieldPrice, `//div[@class="product-card-price__price"]`},
	{pipeline.FieldBreadcrumb, `//*[@class="breadcrumb-trail__list"]/li`},
}

// Carrefour scrapes rendered www.carrefour.fr product pages. The product
// page does not show reviews.
type Carrefour struct {
	base
}

// NewCarrefour declares the carrefour site.
func NewCarrefour(opts Options) Site {
	return &Carrefour{base: newBase("carrefour", Settings{Render: true, PageActions: []string{consentClick}}, []string{
		"https://www.carrefour.fr/p/ketchup-heinz-0000087157215",
	}, opts)}
}

func (s *Carrefour) StartRequests(urls []string) []*crawl.Request {
	reqs := make([]*crawl.Request, 0, len(urls))
	for _, u := range urls {
		gtin := carrefourGTIN(u)
		reqs = append(reqs, s.seed(u, func(ctx context.Context, resp *crawl.Response) (*crawl.Result, error) {
			return s.parse(ctx, resp, gtin)
		}))
	}
	return reqs
}

func (s *Carrefour) parse(ctx context.Context, resp *crawl.Response, gtin string) (*crawl.Result, error) {
	doc, err := ParseDocument(resp.Text())
	if err != nil {
		return nil, err
	}
	rec := pipeline.NewPartialRecord()
	rec.Add(pipeline.FieldLink, resp.URL())
	rec.Add(pipeline.FieldEAN, gtin)
	if err := carrefourFields.addTo(doc, rec); err != nil {
		return nil, err
	}
	s.screenshot(ctx, resp, gtin, rec)
	return s.finish(rec), nil
}

// carrefourGTIN returns the last '-' segment of the last path element,
// e.g. "0000087157215" for /p/ketchup-heinz-0000087157215.
func carrefourGTIN(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	last := path.Base(u.Path)
	if i := strings.LastIndex(last, "-"); i >= 0 {
		last = last[i+1:]
	}
	if last == "/" || last == "." {
		return ""
	}
	return last
}
