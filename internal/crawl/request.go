// internal/crawl/request.go
package crawl

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/ecomscrapexter/internal/pipeline"
)

// MaxPriority is the highest priority the scheduler knows about. Requests
// re-issued after an anti-bot bypass are raised to it.
const MaxPriority = 99999

// Meta keys understood by the core.
const (
	MetaDelay    = "delay"
	MetaBypassed = "bypassed"
)

// Callback consumes a response and yields follow-up requests and records.
type Callback func(ctx context.Context, resp *Response) (*Result, error)

// Errback is invoked when a request fails terminally. Any rendered page of
// the request is still open while it runs and is released afterwards.
type Errback func(ctx context.Context, req *Request, err error)

// Result is what a callback hands back to the engine.
type Result struct {
	Requests []*Request
	Records  []pipeline.Record
}

// Cookies is a request-scoped cookie jar keyed by cookie name.
type Cookies map[string]string

// Merge adds every cookie from other, overwriting same-name entries and
// keeping the rest.
func (c Cookies) Merge(other map[string]string) {
	for name, value := range other {
		c[name] = value
	}
}

// Header renders the jar as a Cookie header value with names sorted.
func (c Cookies) Header() string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+c[name])
	}
	return strings.Join(parts, "; ")
}

// Meta is the opaque metadata bag attached to a request.
type Meta map[string]interface{}

// Delay returns the delay hint carried by the request, if any. Numbers are
// seconds; any integer or float kind and json.Number are accepted. Negative,
// non-finite or malformed hints count as absent.
func (m Meta) Delay() (time.Duration, bool) {
	v, ok := m[MetaDelay]
	if !ok {
		return 0, false
	}
	if d, ok := v.(time.Duration); ok {
		if d < 0 {
			return 0, false
		}
		return d, true
	}
	secs, ok := seconds(v)
	if !ok || math.IsNaN(secs) || secs < 0 || secs > maxDelaySeconds {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// maxDelaySeconds keeps the conversion to time.Duration from overflowing.
const maxDelaySeconds = float64(math.MaxInt64) / float64(time.Second)

func seconds(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

// Request is one unit of crawl work. It is owned by a single task at a time;
// only Priority is read concurrently (by the scheduler).
type Request struct {
	ID      string
	URL     string
	Method  string
	Headers http.Header
	Cookies Cookies
	Body    []byte
	Meta    Meta

	// Proxy is the upstream proxy URL set by the proxy authenticator.
	Proxy string
	// Render asks for a browser-rendered page instead of a plain HTTP fetch.
	Render bool
	// PageActions are scripts evaluated after navigation, best effort.
	PageActions []string
	// DontFilter lets the request through the duplicate filter.
	DontFilter bool
	// Site names the site declaration that produced the request.
	Site string

	Callback Callback
	Errback  Errback

	priority atomic.Int64
}

// RequestOption customizes a new request.
type RequestOption func(*Request)

// WithPriority sets the initial priority.
func WithPriority(p int) RequestOption {
	return func(r *Request) { r.priority.Store(int64(p)) }
}

// WithMeta sets a metadata key.
func WithMeta(key string, value interface{}) RequestOption {
	return func(r *Request) { r.Meta[key] = value }
}

// WithRender requests a browser-rendered page with optional page actions.
func WithRender(actions ...string) RequestOption {
	return func(r *Request) {
		r.Render = true
		r.PageActions = append(r.PageActions, actions...)
	}
}

// WithErrback sets the failure callback.
func WithErrback(fn Errback) RequestOption {
	return func(r *Request) { r.Errback = fn }
}

// NewRequest creates a GET request for url handled by cb.
func NewRequest(site, url string, cb Callback, opts ...RequestOption) *Request {
	r := &Request{
		ID:       uuid.NewString(),
		URL:      url,
		Method:   http.MethodGet,
		Headers:  make(http.Header),
		Cookies:  make(Cookies),
		Meta:     make(Meta),
		Site:     site,
		Callback: cb,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Priority returns the current dispatch priority. Higher dispatches sooner.
func (r *Request) Priority() int {
	return int(r.priority.Load())
}

// RaisePriority moves the priority up to p. It never lowers it and reports
// whether the priority changed.
func (r *Request) RaisePriority(p int) bool {
	for {
		cur := r.priority.Load()
		if int64(p) <= cur {
			return false
		}
		if r.priority.CompareAndSwap(cur, int64(p)) {
			return true
		}
	}
}

// Bypassed reports whether an anti-bot bypass was already performed.
func (r *Request) Bypassed() bool {
	v, _ := r.Meta[MetaBypassed].(bool)
	return v
}
