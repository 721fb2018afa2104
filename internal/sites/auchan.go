// internal/sites/auchan.go
package sites

import (
	"context"
	"strings"

	"github.com/valpere/ecomscrapexter/internal/crawl"
	"github.com/valpere/ecomscrapexter/internal/pipeline"
)

var auchanFields = xpathFields{
	{pipeline.FieldTitle, `//h1`},
	{pipeline.FieldPrice, `//div[contains(@class, "product-price product-price--large")]`},
	{pipeline.FieldDescription, `//div[contains(@class, "product-description")]/div/div`},
	{pipeline.FieldBreadcrumb, `//nav/span[@class="site-breadcrumb__item"]`},
	{pipeline.FieldReviewRate, `//span[@class="rating-value"]/span`},
	{pipeline.FieldReviewCount, `//span[contains(@itemprop, "reviewCount")]`},
}

// Auchan scrapes rendered www.auchan.fr product pages.
type Auchan struct {
	base
}

// NewAuchan declares the auchan site.
func NewAuchan(opts Options) Site {
	return &Auchan{base: newBase("auchan", Settings{Render: true, PageActions: []string{consentClick}}, []string{
		"https://www.auchan.fr/sony-shadow-of-the-colossus-ps4/pr-C1028174",
	}, opts)}
}

func (s *Auchan) StartRequests(urls []string) []*crawl.Request {
	reqs := make([]*crawl.Request, 0, len(urls))
	for _, u := range urls {
		reqs = append(reqs, s.seed(u, s.parse))
	}
	return reqs
}

func (s *Auchan) parse(ctx context.Context, resp *crawl.Response) (*crawl.Result, error) {
	doc, err := ParseDocument(resp.Text())
	if err != nil {
		return nil, err
	}
	rec := pipeline.NewPartialRecord()
	rec.Add(pipeline.FieldLink, resp.URL())
	if err := auchanFields.addTo(doc, rec); err != nil {
		return nil, err
	}

	ean, err := auchanEAN(doc)
	if err != nil {
		return nil, err
	}
	if ean != "" {
		rec.Add(pipeline.FieldEAN, ean)
	}

	s.screenshot(ctx, resp, ean, rec)
	return s.finish(rec), nil
}

// auchanEAN reads the feature block labelled EAN. Its value may carry
// several codes separated by '/'; the last one is kept.
func auchanEAN(doc *Document) (string, error) {
	var ean string
	err := doc.XPathIn(`//div[@class="product-description__feature-wrapper"][.//span[contains(text(), "EAN")]]`,
		`.//div[@class="product-description__feature-values"]/text()`, func(values []string) bool {
			if len(values) == 0 {
				return true
			}
			parts := strings.Split(values[0], "/")
			ean = digitsOf(parts[len(parts)-1])
			return false
		})
	return ean, err
}
