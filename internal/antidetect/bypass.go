// internal/antidetect/bypass.go
package antidetect

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/valpere/ecomscrapexter/internal/crawl"
	"github.com/valpere/ecomscrapexter/internal/middleware"
	"github.com/valpere/ecomscrapexter/internal/monitoring"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

// BypassState is where a response ended up in the bypass state machine.
type BypassState int

const (
	StateDelivered BypassState = iota
	StateChallengeDetected
	StateTokensAcquired
	StateResubmitted
	StateFailed
)

func (s BypassState) String() string {
	switch s {
	case StateDelivered:
		return "delivered"
	case StateChallengeDetected:
		return "challenge_detected"
	case StateTokensAcquired:
		return "tokens_acquired"
	case StateResubmitted:
		return "resubmitted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrChallengePersisted is the cause reported when a request that was
// already bypassed meets the challenge again.
var ErrChallengePersisted = errors.New("challenge served again after bypass")

// Exchanger obtains session cookies that satisfy a challenge for url when
// presented with the given client identity (user agent).
type Exchanger interface {
	Exchange(ctx context.Context, url, clientIdentity string) (map[string]string, error)
}

// ExchangeFunc adapts a function to Exchanger.
type ExchangeFunc func(ctx context.Context, url, clientIdentity string) (map[string]string, error)

func (f ExchangeFunc) Exchange(ctx context.Context, url, clientIdentity string) (map[string]string, error) {
	return f(ctx, url, clientIdentity)
}

// Coordinator detects challenges and re-issues the challenged request with
// fresh cookies at maximum priority. One exchange per challenge.
type Coordinator struct {
	detector  *Detector
	exchanger Exchanger
	identity  string
	metrics   *monitoring.Metrics
	logger    *slog.Logger
}

// NewCoordinator wires a coordinator. clientIdentity is sent to the
// exchanger and must match the user agent of later requests.
func NewCoordinator(detector *Detector, exchanger Exchanger, clientIdentity string, metrics *monitoring.Metrics, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		detector:  detector,
		exchanger: exchanger,
		identity:  clientIdentity,
		metrics:   metrics,
		logger:    utils.Component(logger, "bypass"),
	}
}

// ProcessResponse implements middleware.ResponseMiddleware.
func (c *Coordinator) ProcessResponse(ctx context.Context, resp *crawl.Response) (middleware.Decision, error) {
	_, d, err := c.Handle(ctx, resp)
	return d, err
}

// Handle runs the state machine and also reports the final state.
func (c *Coordinator) Handle(ctx context.Context, resp *crawl.Response) (BypassState, middleware.Decision, error) {
	if !c.detector.IsChallenge(resp) {
		return StateDelivered, middleware.Deliver(resp), nil
	}

	req := resp.Request()
	log := c.logger.With("request_id", req.ID, "site", req.Site, "url", req.URL)
	c.metrics.RecordChallenge(req.Site)

	if req.Bypassed() {
		log.Warn("challenge served again after bypass, giving up")
		return StateFailed, middleware.Decision{}, utils.BypassExchangeFailure(req.URL, ErrChallengePersisted)
	}

	// The challenged tab is useless and would hold a page slot the browser
	// exchanger may need.
	if page := resp.Page(); page != nil {
		if err := page.Release(); err != nil {
			log.Debug("releasing challenged page failed", "error", err)
		}
	}

	log.Debug("challenge detected, exchanging tokens")
	start := time.Now()
	cookies, err := c.exchanger.Exchange(ctx, req.URL, c.identity)
	if err == nil && len(cookies) == 0 {
		err = errors.New("exchange returned no cookies")
	}
	if err != nil {
		c.metrics.RecordBypass(req.Site, "failure", time.Since(start))
		log.Warn("token exchange failed", "error", err)
		return StateFailed, middleware.Decision{}, utils.BypassExchangeFailure(req.URL, err)
	}
	c.metrics.RecordBypass(req.Site, "success", time.Since(start))

	if req.Cookies == nil {
		req.Cookies = make(crawl.Cookies)
	}
	req.Cookies.Merge(cookies)
	req.RaisePriority(crawl.MaxPriority)
	if req.Meta == nil {
		req.Meta = make(crawl.Meta)
	}
	req.Meta[crawl.MetaBypassed] = true
	req.DontFilter = true

	log.Debug("challenge bypassed, re-scheduling request", "cookies", len(cookies), "priority", req.Priority())
	return StateResubmitted, middleware.Decision{Reschedule: req}, nil
}
