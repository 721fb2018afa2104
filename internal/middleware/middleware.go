// Package middleware orders the request and response hooks that bracket
// every download.
package middleware

import (
	"context"
	"fmt"
	"sort"

	"github.com/valpere/ecomscrapexter/internal/crawl"
)

// Request-path stages. Lower runs first; dispatch follows the last stage.
const (
	StageProxy    = 100
	StageThrottle = 200
)

// Response-path stages.
const (
	StageChallenge = 100
)

// RequestMiddleware decorates or delays a request before dispatch.
type RequestMiddleware interface {
	ProcessRequest(ctx context.Context, req *crawl.Request) error
}

// Decision is the outcome of a response hook: either deliver the response to
// the callback or put a request back on the scheduler.
type Decision struct {
	Response   *crawl.Response
	Reschedule *crawl.Request
}

// Deliver passes resp on unchanged.
func Deliver(resp *crawl.Response) Decision {
	return Decision{Response: resp}
}

// ResponseMiddleware inspects a response before it reaches extraction.
type ResponseMiddleware interface {
	ProcessResponse(ctx context.Context, resp *crawl.Response) (Decision, error)
}

// RequestFunc adapts a function to RequestMiddleware.
type RequestFunc func(ctx context.Context, req *crawl.Request) error

func (f RequestFunc) ProcessRequest(ctx context.Context, req *crawl.Request) error {
	return f(ctx, req)
}

// ResponseFunc adapts a function to ResponseMiddleware.
type ResponseFunc func(ctx context.Context, resp *crawl.Response) (Decision, error)

func (f ResponseFunc) ProcessResponse(ctx context.Context, resp *crawl.Response) (Decision, error) {
	return f(ctx, resp)
}

type requestEntry struct {
	stage int
	name  string
	mw    RequestMiddleware
}

type responseEntry struct {
	stage int
	name  string
	mw    ResponseMiddleware
}

// Chain runs middlewares in stage order. Build it once at startup; it is
// read-only afterwards and safe for concurrent use.
type Chain struct {
	requests  []requestEntry
	responses []responseEntry
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// UseRequest registers a request middleware at stage.
func (c *Chain) UseRequest(stage int, name string, mw RequestMiddleware) *Chain {
	c.requests = append(c.requests, requestEntry{stage: stage, name: name, mw: mw})
	sort.SliceStable(c.requests, func(i, j int) bool { return c.requests[i].stage < c.requests[j].stage })
	return c
}

// UseResponse registers a response middleware at stage.
func (c *Chain) UseResponse(stage int, name string, mw ResponseMiddleware) *Chain {
	c.responses = append(c.responses, responseEntry{stage: stage, name: name, mw: mw})
	sort.SliceStable(c.responses, func(i, j int) bool { return c.responses[i].stage < c.responses[j].stage })
	return c
}

// RequestNames lists request middlewares in execution order.
func (c *Chain) RequestNames() []string {
	names := make([]string, len(c.requests))
	for i, e := range c.requests {
		names[i] = e.name
	}
	return names
}

// ResponseNames lists response middlewares in execution order.
func (c *Chain) ResponseNames() []string {
	names := make([]string, len(c.responses))
	for i, e := range c.responses {
		names[i] = e.name
	}
	return names
}

// ProcessRequest runs every request middleware, stopping at the first error.
func (c *Chain) ProcessRequest(ctx context.Context, req *crawl.Request) error {
	for _, e := range c.requests {
		if err := e.mw.ProcessRequest(ctx, req); err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}
	}
	return nil
}

// ProcessResponse runs response middlewares until one asks for a reschedule
// or fails.
func (c *Chain) ProcessResponse(ctx context.Context, resp *crawl.Response) (Decision, error) {
	d := Deliver(resp)
	for _, e := range c.responses {
		next, err := e.mw.ProcessResponse(ctx, d.Response)
		if err != nil {
			return Decision{}, fmt.Errorf("%s: %w", e.name, err)
		}
		if next.Reschedule != nil {
			return next, nil
		}
		if next.Response != nil {
			d = next
		}
	}
	return d, nil
}
