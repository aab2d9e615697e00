// Package abort tracks long-running operations (sync sessions, embedding
// batches) so they can be cancelled from another goroutine. Cancellation is
// a one-shot channel close; a cancelled operation never reopens.
package abort

import (
	"context"
	"sync"
	"time"
)

// Operation is one registered cancellable unit of work.
type Operation struct {
	ID        string
	Kind      string
	StartedAt time.Time

	done chan struct{}
	once sync.Once
}

// Done returns the one-shot cancellation channel. It is closed at most once.
func (o *Operation) Done() <-chan struct{} { return o.done }

// cancel closes the channel exactly once.
func (o *Operation) cancel() {
	o.once.Do(func() { close(o.done) })
}

// Bind derives a context that is cancelled when the operation is cancelled.
// Callers must call the returned CancelFunc when the work finishes.
func (o *Operation) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-o.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Info describes an active operation.
type Info struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	StartedAt time.Time `json:"startedAt"`
}

// Registry tracks active operations by id.
type Registry struct {
	ops sync.Map
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register records a new operation under id. Registering an id twice
// replaces the old entry without cancelling it.
func (r *Registry) Register(id, kind string) *Operation {
	op := &Operation{
		ID:        id,
		Kind:      kind,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	r.ops.Store(id, op)
	return op
}

// Unregister removes a finished operation from tracking.
func (r *Registry) Unregister(id string) {
	r.ops.Delete(id)
}

// Cancel closes the operation's channel and removes it. Reports whether the
// id was registered.
func (r *Registry) Cancel(id string) bool {
	val, ok := r.ops.Load(id)
	if !ok {
		return false
	}
	op := val.(*Operation)
	op.cancel()
	r.ops.Delete(id)
	return true
}

// CancelKind cancels every operation of one kind and returns their ids.
func (r *Registry) CancelKind(kind string) []string {
	var cancelled []string
	r.ops.Range(func(key, val interface{}) bool {
		op := val.(*Operation)
		if op.Kind == kind {
			op.cancel()
			r.ops.Delete(key)
			cancelled = append(cancelled, op.ID)
		}
		return true
	})
	return cancelled
}

// Active lists the operations currently registered.
func (r *Registry) Active() []Info {
	var infos []Info
	r.ops.Range(func(_, val interface{}) bool {
		op := val.(*Operation)
		infos = append(infos, Info{ID: op.ID, Kind: op.Kind, StartedAt: op.StartedAt})
		return true
	})
	return infos
}
