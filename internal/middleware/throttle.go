// internal/middleware/throttle.go
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/valpere/ecomscrapexter/internal/crawl"
	"github.com/valpere/ecomscrapexter/internal/monitoring"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

// Throttle holds back requests that carry a delay hint for exactly that
// long. Requests without a hint pass straight through.
type Throttle struct {
	metrics *monitoring.Metrics
	logger  *slog.Logger
	after   func(time.Duration) (<-chan time.Time, func() bool)
}

// NewThrottle creates a throttle. metrics and logger may be nil.
func NewThrottle(metrics *monitoring.Metrics, logger *slog.Logger) *Throttle {
	return &Throttle{
		metrics: metrics,
		logger:  utils.Component(logger, "throttle"),
		after: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}
}

// ProcessRequest waits on a timer in the caller's goroutine; other requests
// keep flowing. Cancelling ctx abandons the wait.
func (t *Throttle) ProcessRequest(ctx context.Context, req *crawl.Request) error {
	d, ok := req.Meta.Delay()
	if !ok {
		if v, present := req.Meta[crawl.MetaDelay]; present {
			t.logger.Warn("ignoring unusable delay hint", "request_id", req.ID, "url", req.URL,
				"value", v, "type", fmt.Sprintf("%T", v))
		}
		return nil
	}
	if d == 0 {
		return nil
	}

	t.logger.Debug("delaying request", "request_id", req.ID, "url", req.URL, "delay", d)
	fired, stop := t.after(d)
	select {
	case <-fired:
		t.metrics.ObserveThrottle(d)
		return nil
	case <-ctx.Done():
		stop()
		return ctx.Err()
	}
}
