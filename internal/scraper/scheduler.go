// internal/scraper/scheduler.go
package scraper

import (
	"container/heap"
	"context"
	"sync"

	"github.com/valpere/ecomscrapexter/internal/crawl"
)

type queued struct {
	req      *crawl.Request
	priority int
	seq      uint64
}

// requestQueue orders by priority, highest first, then by arrival.
type requestQueue []queued

func (q requestQueue) Len() int { return len(q) }
func (q requestQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q requestQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *requestQueue) Push(x interface{}) { *q = append(*q, x.(queued)) }
func (q *requestQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = queued{}
	*q = old[:n-1]
	return item
}

// Scheduler is the priority queue of pending requests. It is safe for
// concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	queue  requestQueue
	seq    uint64
	filter DupeFilter
}

// NewScheduler creates a scheduler. filter may be nil to disable duplicate
// filtering.
func NewScheduler(filter DupeFilter) *Scheduler {
	return &Scheduler{filter: filter}
}

// Push enqueues req unless an identical request was seen before. It reports
// whether req was enqueued.
func (s *Scheduler) Push(ctx context.Context, req *crawl.Request) (bool, error) {
	if s.filter != nil && !req.DontFilter {
		seen, err := s.filter.SeenOrAdd(ctx, Fingerprint(req))
		if err != nil {
			return false, err
		}
		if seen {
			return false, nil
		}
	}
	s.enqueue(req)
	return true, nil
}

// Reschedule enqueues req without consulting the duplicate filter.
func (s *Scheduler) Reschedule(req *crawl.Request) {
	s.enqueue(req)
}

func (s *Scheduler) enqueue(req *crawl.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	heap.Push(&s.queue, queued{req: req, priority: req.Priority(), seq: s.seq})
}

// Pop removes the highest priority request.
func (s *Scheduler) Pop() (*crawl.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	return heap.Pop(&s.queue).(queued).req, true
}

// Len returns the number of queued requests.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
