// internal/sites/joueclub.go
package sites

import (
	"context"
	"strings"
	"time"

	"github.com/valpere/ecomscrapexter/internal/crawl"
	"github.com/valpere/ecomscrapexter/internal/pipeline"
)

const joueclubBarcodeLabel = "Code barre :"

var joueclubFields = xpathFields{
	{pipeline.FieldTitle, `//p[@class="c-product-header__title"]`},
	{pipeline.FieldPrice, `//span[@class="c-product-price__price-value"]`},
	{pipeline.FieldDescription, `//div[@data-ng-if="information.key === 'jcp_description'"]`},
	{pipeline.FieldBreadcrumb, `//ul[@class="breadcrumb"]//span`},
}

// Joueclub scrapes rendered www.joueclub.fr product pages.
type Joueclub struct {
	base
}

// NewJoueclub declares the joueclub site.
func NewJoueclub(opts Options) Site {
	return &Joueclub{base: newBase("joueclub", Settings{Render: true, DownloadDelay: 250 * time.Millisecond}, []string{
		"https://www.joueclub.fr/gravitrax-bloc-d-action-zipline-tyrolienne.html",
	}, opts)}
}

func (s *Joueclub) StartRequests(urls []string) []*crawl.Request {
	reqs := make([]*crawl.Request, 0, len(urls))
	for _, u := range urls {
		reqs = append(reqs, s.seed(u, s.parse))
	}
	return reqs
}

func (s *Joueclub) parse(ctx context.Context, resp *crawl.Response) (*crawl.Result, error) {
	doc, err := ParseDocument(resp.Text())
	if err != nil {
		return nil, err
	}
	rec := pipeline.NewPartialRecord()
	rec.Add(pipeline.FieldLink, resp.URL())

	items, err := doc.XPath(`//ul[@class="list list-dash mt-0"]/li/text()`)
	if err != nil {
		return nil, err
	}
	var sku string
	for _, item := range items {
		if strings.Contains(item, joueclubBarcodeLabel) {
			sku = strings.TrimSpace(strings.ReplaceAll(item, joueclubBarcodeLabel, ""))
			break
		}
	}
	if sku != "" {
		rec.Add(pipeline.FieldEAN, sku)
	}

	if err := joueclubFields.addTo(doc, rec); err != nil {
		return nil, err
	}
	s.screenshot(ctx, resp, sku, rec)
	return s.finish(rec), nil
}
