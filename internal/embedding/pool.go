package embedding

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrPoolStopped is returned by Submit after the pool has been stopped.
var ErrPoolStopped = errors.New("embedding pool stopped")

// Pool bounds how many inference passes run at once. Batch re-embeds go
// through the same pool as interactive queries, so a compaction sweep cannot
// saturate every core.
type Pool struct {
	name        string
	concurrency int

	slots    chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	active atomic.Int32
}

// PoolStats is a point-in-time utilization snapshot.
type PoolStats struct {
	Name        string `json:"name"`
	Concurrency int    `json:"concurrency"`
	Active      int    `json:"active"`
}

// NewPool creates a pool that runs at most concurrency tasks at a time.
// A non-positive concurrency defaults to the CPU count.
func NewPool(name string, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool{
		name:        name,
		concurrency: concurrency,
		slots:       make(chan struct{}, concurrency),
		stopChan:    make(chan struct{}),
	}
}

// Submit waits for a free slot and then runs fn on its own goroutine.
// It returns ctx.Err() if the caller gives up while waiting, or
// ErrPoolStopped after Stop.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case <-p.stopChan:
		return ErrPoolStopped
	default:
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopChan:
		return ErrPoolStopped
	}

	p.wg.Add(1)
	p.active.Add(1)
	go func() {
		defer func() {
			p.active.Add(-1)
			<-p.slots
			p.wg.Done()
		}()
		fn()
	}()
	return nil
}

// Stop rejects new submissions and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

// Stats returns current pool utilization.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Name:        p.name,
		Concurrency: p.concurrency,
		Active:      int(p.active.Load()),
	}
}
