// internal/sites/leclerc.go
package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/valpere/ecomscrapexter/internal/crawl"
	"github.com/valpere/ecomscrapexter/internal/pipeline"
)

const (
	leclercProductAPI  = "https://www.e.leclerc/api/rest/live-api/product-details-by-sku/%s"
	leclercCategoryAPI = "https://www.e.leclerc/api/rest/live-api/category-details-by-codes?codes=%s"
	leclercReviewsAPI  = "https://www.e.leclerc/api/rest/bazaarvoice-api/reviews?productId=%s&sortKey=TotalPositiveFeedbackCount&sortOrder=Desc"

	// leclercRootLabel is how the category API names the catalogue root.
	leclercRootLabel = "root"
	leclercHomeLabel = "Accueil"
)

// Leclerc scrapes www.e.leclerc through its JSON APIs and screenshots the
// rendered product page. One product moves through four requests, carrying
// its partial record along:
//
//	product details -> category details -> reviews -> rendered page
type Leclerc struct {
	base
	productAPI  string
	categoryAPI string
	reviewsAPI  string
}

// NewLeclerc declares the e-leclerc site.
func NewLeclerc(opts Options) Site {
	return &Leclerc{
		base: newBase("e-leclerc", Settings{Render: true, DownloadDelay: 250 * time.Millisecond, PageActions: []string{consentClick}}, []string{
			"https://www.e.leclerc/fp/gravitrax-bloc-d-action-zipline-tyrolienne-4005556261581",
		}, opts),
		productAPI:  leclercProductAPI,
		categoryAPI: leclercCategoryAPI,
		reviewsAPI:  leclercReviewsAPI,
	}
}

// leclercProduct is the subset of product-details-by-sku the site reads.
type leclercProduct struct {
	SKU        string            `json:"sku"`
	Label      string            `json:"label"`
	Variants   []leclercVariant  `json:"variants"`
	Categories []leclercCategory `json:"categories"`
}

type leclercVariant struct {
	Attributes []struct {
		Label string          `json:"label"`
		Value json.RawMessage `json:"value"`
	} `json:"attributes"`
	Offers []leclercOffer `json:"offers"`
}

type leclercAmount struct {
	Price json.Number `json:"price"`
}

type leclercOffer struct {
	IsDefault bool `json:"isDefault"`
	BasePrice struct {
		Price         leclercAmount `json:"price"`
		DiscountPrice *struct {
			TotalPrice leclercAmount `json:"totalPrice"`
		} `json:"discountPrice"`
	} `json:"basePrice"`
}

type leclercCategory struct {
	Code       string `json:"code"`
	Attributes []struct {
		Code  string `json:"code"`
		Value struct {
			Text        string  `json:"text"`
			Boolean     bool    `json:"boolean"`
			Number      float64 `json:"number"`
			PageDeleted bool    `json:"page-deleted"`
		} `json:"value"`
	} `json:"attributes"`
}

type leclercCategoryDetails []struct {
	Breadcrumb []struct {
		Label string `json:"label"`
	} `json:"breadcrumb"`
}

type leclercReviews struct {
	Includes struct {
		ProductsOrder []string        `json:"productsOrder"`
		Products      json.RawMessage `json:"products"`
	} `json:"includes"`
}

type leclercReviewStats struct {
	ReviewStatistics struct {
		AverageOverallRating json.Number `json:"averageOverallRating"`
		TotalReviewCount     json.Number `json:"totalReviewCount"`
	} `json:"reviewStatistics"`
}

// leclercItem tracks one product across the request chain.
type leclercItem struct {
	sku  string
	link string
	rec  *pipeline.PartialRecord
}

func (s *Leclerc) StartRequests(urls []string) []*crawl.Request {
	reqs := make([]*crawl.Request, 0, len(urls))
	for _, u := range urls {
		item := &leclercItem{sku: leclercSKU(u), link: u, rec: pipeline.NewPartialRecord()}
		req := s.newRequest(fmt.Sprintf(s.productAPI, url.PathEscape(item.sku)), func(ctx context.Context, resp *crawl.Response) (*crawl.Result, error) {
			return s.parseProduct(ctx, resp, item)
		}, s.delayOption()...)
		reqs = append(reqs, req)
	}
	return reqs
}

// delayOption mirrors seed for the API request, which is never rendered.
func (s *Leclerc) delayOption() []crawl.RequestOption {
	if s.opts.RequestDelay > 0 {
		return []crawl.RequestOption{crawl.WithMeta(crawl.MetaDelay, s.opts.RequestDelay)}
	}
	return nil
}

func (s *Leclerc) parseProduct(_ context.Context, resp *crawl.Response, item *leclercItem) (*crawl.Result, error) {
	var product leclercProduct
	if err := resp.JSON(&product); err != nil {
		return nil, fmt.Errorf("decode product details: %w", err)
	}
	if product.SKU != "" {
		item.sku = product.SKU
	}
	item.rec.Add(pipeline.FieldLink, item.link)
	item.rec.Add(pipeline.FieldEAN, item.sku)
	item.rec.Add(pipeline.FieldTitle, product.Label)

	if len(product.Variants) == 0 {
		s.logger.Debug("product has no variant", "url", item.link)
		return &crawl.Result{}, nil
	}
	variant := product.Variants[0]
	for _, attr := range variant.Attributes {
		if strings.EqualFold(attr.Label, "description") {
			item.rec.Add(pipeline.FieldDescription, rawString(attr.Value))
		}
	}

	price, ok := leclercPrice(variant.Offers)
	if !ok {
		s.logger.Debug("price not found", "url", item.link)
		return &crawl.Result{}, nil
	}
	item.rec.Add(pipeline.FieldPrice, price)

	code, ok := leclercCategoryCode(product.Categories)
	if !ok {
		s.logger.Debug("no navigable category", "url", item.link)
		return &crawl.Result{}, nil
	}
	next := s.newRequest(fmt.Sprintf(s.categoryAPI, url.QueryEscape(code)), func(ctx context.Context, resp *crawl.Response) (*crawl.Result, error) {
		return s.parseBreadcrumb(ctx, resp, item)
	})
	return &crawl.Result{Requests: []*crawl.Request{next}}, nil
}

func (s *Leclerc) parseBreadcrumb(_ context.Context, resp *crawl.Response, item *leclercItem) (*crawl.Result, error) {
	var details leclercCategoryDetails
	if err := resp.JSON(&details); err != nil {
		return nil, fmt.Errorf("decode category details: %w", err)
	}
	if len(details) == 0 {
		s.logger.Debug("category details empty", "url", item.link)
		return &crawl.Result{}, nil
	}
	for _, b := range details[0].Breadcrumb {
		label := b.Label
		if label == leclercRootLabel {
			label = leclercHomeLabel
		}
		item.rec.Add(pipeline.FieldBreadcrumb, label)
	}

	next := s.newRequest(fmt.Sprintf(s.reviewsAPI, url.QueryEscape(item.sku)), func(ctx context.Context, resp *crawl.Response) (*crawl.Result, error) {
		return s.parseReviews(ctx, resp, item)
	})
	return &crawl.Result{Requests: []*crawl.Request{next}}, nil
}

func (s *Leclerc) parseReviews(_ context.Context, resp *crawl.Response, item *leclercItem) (*crawl.Result, error) {
	var reviews leclercReviews
	if err := resp.JSON(&reviews); err != nil {
		return nil, fmt.Errorf("decode reviews: %w", err)
	}
	if stats, ok := reviews.stats(); ok {
		item.rec.Add(pipeline.FieldReviewRate, stats.ReviewStatistics.AverageOverallRating.String())
		item.rec.Add(pipeline.FieldReviewCount, stats.ReviewStatistics.TotalReviewCount.String())
	}

	page := s.newRequest(item.link, func(ctx context.Context, resp *crawl.Response) (*crawl.Result, error) {
		return s.parsePage(ctx, resp, item)
	}, crawl.WithRender(s.settings.PageActions...))
	return &crawl.Result{Requests: []*crawl.Request{page}}, nil
}

func (s *Leclerc) parsePage(ctx context.Context, resp *crawl.Response, item *leclercItem) (*crawl.Result, error) {
	s.screenshot(ctx, resp, item.sku, item.rec)
	return s.finish(item.rec), nil
}

// stats returns the statistics of the first ordered product. Products come
// either as a list or keyed by product id.
func (r leclercReviews) stats() (leclercReviewStats, bool) {
	var stats leclercReviewStats
	if len(r.Includes.ProductsOrder) == 0 || len(r.Includes.Products) == 0 {
		return stats, false
	}
	var list []leclercReviewStats
	if err := json.Unmarshal(r.Includes.Products, &list); err == nil {
		if len(list) == 0 {
			return stats, false
		}
		return list[0], true
	}
	var byID map[string]leclercReviewStats
	if err := json.Unmarshal(r.Includes.Products, &byID); err != nil {
		return stats, false
	}
	stats, ok := byID[r.Includes.ProductsOrder[0]]
	return stats, ok
}

// leclercSKU is the last '-' segment of the product URL path.
func leclercSKU(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	p := u.Path
	if i := strings.LastIndex(p, "-"); i >= 0 {
		return p[i+1:]
	}
	return path.Base(p)
}

// leclercPrice reads the default offer, preferring its discount price.
func leclercPrice(offers []leclercOffer) (string, bool) {
	for _, offer := range offers {
		if !offer.IsDefault {
			continue
		}
		amount := offer.BasePrice.Price.Price
		if d := offer.BasePrice.DiscountPrice; d != nil && d.TotalPrice.Price != "" {
			amount = d.TotalPrice.Price
		}
		if amount == "" {
			return "", false
		}
		return formatMinorUnits(amount), true
	}
	return "", false
}

// formatMinorUnits renders an integer amount of cents as units.cc. Amounts
// that already carry a decimal separator are returned unchanged.
func formatMinorUnits(amount json.Number) string {
	s := amount.String()
	if strings.ContainsAny(s, ".eE") {
		return s
	}
	cents, err := amount.Int64()
	if err != nil {
		return s
	}
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// leclercCategoryCode picks the deepest navigable category. Hidden, deleted
// and non-navigation categories are skipped.
func leclercCategoryCode(categories []leclercCategory) (string, bool) {
	var (
		code     string
		maxLevel float64
	)
	for _, c := range categories {
		level, skip := 0.0, false
		for _, attr := range c.Attributes {
			switch attr.Code {
			case "page-deleted":
				skip = skip || attr.Value.PageDeleted
			case "page-type":
				skip = skip || attr.Value.Text != "NAVIGATION"
			case "page-hidden":
				skip = skip || attr.Value.Boolean
			case "page-level":
				level = attr.Value.Number
			}
		}
		if skip || level <= maxLevel {
			continue
		}
		code, maxLevel = c.Code, level
	}
	return code, code != ""
}

// rawString returns a JSON string value. Anything else yields "".
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
