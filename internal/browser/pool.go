// internal/browser/pool.go
package browser

import (
	"context"
	"fmt"
	"sync"
)

// tabPool bounds the number of pages open at once. Slots are tokens in a
// buffered channel.
type tabPool struct {
	slots  chan struct{}
	mu     sync.RWMutex
	closed bool
}

func newTabPool(size int) *tabPool {
	if size <= 0 {
		size = 1
	}
	return &tabPool{slots: make(chan struct{}, size)}
}

// Get blocks until a slot is free, ctx ends or the pool is closed.
func (p *tabPool) Get(ctx context.Context) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return fmt.Errorf("pool is closed")
	}

	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Put frees a slot taken by Get.
func (p *tabPool) Put() {
	select {
	case <-p.slots:
	default:
	}
}

// InUse returns the number of taken slots.
func (p *tabPool) InUse() int {
	return len(p.slots)
}

// Close rejects further Get calls. Outstanding slots are still returned by Put.
func (p *tabPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
