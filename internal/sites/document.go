// internal/sites/document.go
package sites

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Document is a parsed page queried with XPath or CSS. Queries return raw
// fragments: outer HTML for elements and the text itself for text and
// attribute nodes. Normalization is left to the record pipeline.
type Document struct {
	root *html.Node
	doc  *goquery.Document
}

// ParseDocument parses content once for both query languages.
func ParseDocument(content string) (*Document, error) {
	root, err := htmlquery.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{root: root, doc: goquery.NewDocumentFromNode(root)}, nil
}

// XPath returns the fragments matched by expr.
func (d *Document) XPath(expr string) ([]string, error) {
	nodes, err := htmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	return fragments(nodes), nil
}

// XPathIn evaluates expr relative to every node matched by scope and calls
// fn with the fragments of each scope node in document order.
func (d *Document) XPathIn(scope, expr string, fn func(fragments []string) bool) error {
	scopes, err := htmlquery.QueryAll(d.root, scope)
	if err != nil {
		return fmt.Errorf("invalid xpath %q: %w", scope, err)
	}
	for _, node := range scopes {
		nodes, err := htmlquery.QueryAll(node, expr)
		if err != nil {
			return fmt.Errorf("invalid xpath %q: %w", expr, err)
		}
		if !fn(fragments(nodes)) {
			return nil
		}
	}
	return nil
}

// CSS returns the outer HTML of every element matched by selector.
func (d *Document) CSS(selector string) []string {
	var out []string
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if h, err := goquery.OuterHtml(s); err == nil {
			out = append(out, h)
		}
	})
	return out
}

// CSSText returns the trimmed text of every element matched by selector.
func (d *Document) CSSText(selector string) []string {
	var out []string
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

// quoteUnescaper undoes the quote escaping of the HTML renderer so that text
// such as "d'amande" survives tag stripping as written.
var quoteUnescaper = strings.NewReplacer("&#39;", "'", "&#34;", `"`)

func fragments(nodes []*html.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		switch {
		case n.Type == html.TextNode:
			out = append(out, n.Data)
		case n.Type == html.ElementNode && n.Parent == nil:
			// htmlquery hands attributes back as detached elements wrapping
			// the value.
			out = append(out, htmlquery.InnerText(n))
		case n.Type == html.ElementNode:
			out = append(out, quoteUnescaper.Replace(htmlquery.OutputHTML(n, true)))
		default:
			out = append(out, htmlquery.InnerText(n))
		}
	}
	return out
}
