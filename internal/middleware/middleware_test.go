// internal/middleware/middleware_test.go
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/valpere/ecomscrapexter/internal/crawl"
)

func TestChainRunsInStageOrder(t *testing.T) {
	var order []string
	record := func(name string) RequestFunc {
		return func(_ context.Context, _ *crawl.Request) error {
			order = append(order, name)
			return nil
		}
	}

	chain := NewChain().
		UseRequest(StageThrottle, "throttle", record("throttle")).
		UseRequest(StageProxy, "proxy", record("proxy")).
		UseRequest(StageThrottle, "late", record("late"))

	if got := strings.Join(chain.RequestNames(), ","); got != "proxy,throttle,late" {
		t.Errorf("RequestNames() = %s", got)
	}
	req := crawl.NewRequest("auchan", "https://www.auchan.fr/p/1", nil)
	if err := chain.ProcessRequest(context.Background(), req); err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if got := strings.Join(order, ","); got != "proxy,throttle,late" {
		t.Errorf("execution order = %s", got)
	}
}

func TestChainStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	called := false
	chain := NewChain().
		UseRequest(StageProxy, "proxy", RequestFunc(func(context.Context, *crawl.Request) error { return boom })).
		UseRequest(StageThrottle, "throttle", RequestFunc(func(context.Context, *crawl.Request) error {
			called = true
			return nil
		}))

	err := chain.ProcessRequest(context.Background(), crawl.NewRequest("auchan", "https://www.auchan.fr/p/1", nil))
	if !errors.Is(err, boom) || !strings.HasPrefix(err.Error(), "proxy: ") {
		t.Errorf("unexpected error: %v", err)
	}
	if called {
		t.Error("middleware after a failure should not run")
	}
}

func TestResponseChainReschedule(t *testing.T) {
	req := crawl.NewRequest("auchan", "https://www.auchan.fr/p/1", nil)
	resp := crawl.NewResponse(req, "", 200, nil, []byte("ok"), nil)
	retry := crawl.NewRequest("auchan", req.URL, nil)

	later := false
	chain := NewChain().
		UseResponse(StageChallenge, "challenge", ResponseFunc(func(context.Context, *crawl.Response) (Decision, error) {
			return Decision{Reschedule: retry}, nil
		})).
		UseResponse(StageChallenge+100, "later", ResponseFunc(func(_ context.Context, r *crawl.Response) (Decision, error) {
			later = true
			return Deliver(r), nil
		}))

	d, err := chain.ProcessResponse(context.Background(), resp)
	if err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if d.Reschedule != retry || d.Response != nil {
		t.Errorf("unexpected decision: %+v", d)
	}
	if later {
		t.Error("a reschedule should stop the response chain")
	}

	d, err = NewChain().ProcessResponse(context.Background(), resp)
	if err != nil || d.Response != resp {
		t.Errorf("an empty chain should deliver the response, got %+v, %v", d, err)
	}
}

// fakeTimer lets tests fire the throttle timer by hand.
type fakeTimer struct {
	requested time.Duration
	fire      chan time.Time
	stopped   bool
}

func newTestThrottle(ft *fakeTimer) *Throttle {
	th := NewThrottle(nil, nil)
	th.after = func(d time.Duration) (<-chan time.Time, func() bool) {
		ft.requested = d
		return ft.fire, func() bool { ft.stopped = true; return true }
	}
	return th
}

func TestThrottleWaitsForHint(t *testing.T) {
	ft := &fakeTimer{fire: make(chan time.Time, 1)}
	th := newTestThrottle(ft)
	ft.fire <- time.Now()

	req := crawl.NewRequest("joueclub", "https://www.joueclub.fr/p.html", nil, crawl.WithMeta(crawl.MetaDelay, 1.5))
	if err := th.ProcessRequest(context.Background(), req); err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if ft.requested != 1500*time.Millisecond {
		t.Errorf("timer set for %v, want 1.5s", ft.requested)
	}
}

func TestThrottleWithoutHint(t *testing.T) {
	ft := &fakeTimer{fire: make(chan time.Time)}
	th := newTestThrottle(ft)

	for _, req := range []*crawl.Request{
		crawl.NewRequest("auchan", "https://www.auchan.fr/p/1", nil),
		crawl.NewRequest("auchan", "https://www.auchan.fr/p/2", nil, crawl.WithMeta(crawl.MetaDelay, -2)),
		crawl.NewRequest("auchan", "https://www.auchan.fr/p/3", nil, crawl.WithMeta(crawl.MetaDelay, "soon")),
	} {
		if err := th.ProcessRequest(context.Background(), req); err != nil {
			t.Errorf("%s: %v", req.URL, err)
		}
	}
	if ft.requested != 0 {
		t.Errorf("no timer expected, got %v", ft.requested)
	}
}

func TestThrottleNumericHints(t *testing.T) {
	tests := []struct {
		name string
		hint interface{}
		want time.Duration
	}{
		{"int64", int64(2), 2 * time.Second},
		{"float32", float32(0.5), 500 * time.Millisecond},
		{"json number", json.Number("0.25"), 250 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTimer{fire: make(chan time.Time, 1)}
			th := newTestThrottle(ft)
			ft.fire <- time.Now()

			req := crawl.NewRequest("e-leclerc", "https://www.e.leclerc/fp/1", nil, crawl.WithMeta(crawl.MetaDelay, tt.hint))
			if err := th.ProcessRequest(context.Background(), req); err != nil {
				t.Fatalf("ProcessRequest failed: %v", err)
			}
			if ft.requested != tt.want {
				t.Errorf("timer set for %v, want %v", ft.requested, tt.want)
			}
		})
	}
}

func TestThrottleLogsUnusableHint(t *testing.T) {
	var buf bytes.Buffer
	ft := &fakeTimer{fire: make(chan time.Time)}
	th := newTestThrottle(ft)
	th.logger = slog.New(slog.NewTextHandler(&buf, nil))

	req := crawl.NewRequest("auchan", "https://www.auchan.fr/p/1", nil, crawl.WithMeta(crawl.MetaDelay, "soon"))
	if err := th.ProcessRequest(context.Background(), req); err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "ignoring unusable delay hint") || !strings.Contains(out, "type=string") {
		t.Errorf("expected a warning naming the hint type, got %q", out)
	}

	buf.Reset()
	if err := th.ProcessRequest(context.Background(), crawl.NewRequest("auchan", "https://www.auchan.fr/p/2", nil)); err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("no warning expected without a hint, got %q", buf.String())
	}
}

func TestThrottleCancelled(t *testing.T) {
	ft := &fakeTimer{fire: make(chan time.Time)}
	th := newTestThrottle(ft)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := crawl.NewRequest("auchan", "https://www.auchan.fr/p/1", nil, crawl.WithMeta(crawl.MetaDelay, 10*time.Second))
	if err := th.ProcessRequest(ctx, req); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if !ft.stopped {
		t.Error("timer should be stopped on cancellation")
	}
}

func TestThrottleRealTimer(t *testing.T) {
	th := NewThrottle(nil, nil)
	req := crawl.NewRequest("auchan", "https://www.auchan.fr/p/1", nil, crawl.WithMeta(crawl.MetaDelay, 20*time.Millisecond))

	start := time.Now()
	if err := th.ProcessRequest(context.Background(), req); err != nil {
		t.Fatalf("ProcessRequest failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned after %v, want at least 20ms", elapsed)
	}
}
