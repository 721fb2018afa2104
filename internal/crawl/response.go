// internal/crawl/response.go
package crawl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
)

// Page is a browser-rendered page handle as seen by callbacks. The engine
// owns its release; callbacks must not keep it past their return.
type Page interface {
	CaptureContent(ctx context.Context) (string, error)
	CaptureScreenshot(ctx context.Context, path string) error
	Release() error
}

// Response is the immutable result of fetching a Request.
type Response struct {
	request *Request
	url     string
	status  int
	headers http.Header
	body    []byte
	page    Page
}

// NewResponse builds a response. Headers and body are copied.
func NewResponse(req *Request, url string, status int, headers http.Header, body []byte, page Page) *Response {
	if url == "" && req != nil {
		url = req.URL
	}
	return &Response{
		request: req,
		url:     url,
		status:  status,
		headers: headers.Clone(),
		body:    bytes.Clone(body),
		page:    page,
	}
}

// Request returns the request that produced the response.
func (r *Response) Request() *Request { return r.request }

// URL returns the final URL of the response.
func (r *Response) URL() string { return r.url }

// Status returns the HTTP status code.
func (r *Response) Status() int { return r.status }

// Header returns the first value of the named header.
func (r *Response) Header(name string) string { return r.headers.Get(name) }

// Headers returns a copy of the response headers.
func (r *Response) Headers() http.Header { return r.headers.Clone() }

// Body returns a copy of the body.
func (r *Response) Body() []byte { return bytes.Clone(r.body) }

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.body) }

// Page returns the rendered page handle, or nil when no browser was used.
func (r *Response) Page() Page { return r.page }

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.body, v)
}
