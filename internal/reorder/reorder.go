// Package reorder implements the reorder buffer spec.md names as shared
// machinery between the Transcription Pool and the Translator: workers
// complete out of order, but a single emitter must release results in
// strict, gap-free id order so downstream consumers never see an
// incoherent transcript. Grounded on the teacher's channel-based pipeline
// style (ManagedStream's sttChan/generation bookkeeping in
// pkg/orchestrator/managed_stream.go), generalized into a reusable,
// type-parameterized component since both the Pool and the Translator need
// the identical discipline.
package reorder

import (
	"context"
	"sync"
)

// Result is a value recovered for a given id, released on Buffer.Out in
// strict id order. Skipped ids never produce a Result.
type Result[T any] struct {
	ID    uint64
	Value T
}

// Buffer holds out-of-order Put/Skip calls until a single emitter
// goroutine (Run) can release them in strict ascending id order starting
// at the id given to New. Put/Skip are safe for concurrent use by multiple
// workers; Run must be called exactly once.
type Buffer[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending map[uint64]T
	skipped map[uint64]bool
	next    uint64
	out     chan Result[T]
}

// New creates a Buffer whose emitter starts by expecting startID. outCap
// sizes the Out channel.
func New[T any](startID uint64, outCap int) *Buffer[T] {
	b := &Buffer[T]{
		pending: make(map[uint64]T),
		skipped: make(map[uint64]bool),
		next:    startID,
		out:     make(chan Result[T], outCap),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Out is the channel strict-order results are released on. Closed once Run
// returns.
func (b *Buffer[T]) Out() <-chan Result[T] {
	return b.out
}

// Put records the result for id, waking the emitter.
func (b *Buffer[T]) Put(id uint64, value T) {
	b.mu.Lock()
	b.pending[id] = value
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Skip marks id as permanently unavailable (a retried-and-failed model
// call, per spec.md's failure semantics) so the emitter advances past it
// instead of stalling forever.
func (b *Buffer[T]) Skip(id uint64) {
	b.mu.Lock()
	b.skipped[id] = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// nextReadyLocked reports whether the next expected id can be released,
// either as a value or a skip. Must be called with mu held.
func (b *Buffer[T]) nextReadyLocked() bool {
	if _, ok := b.pending[b.next]; ok {
		return true
	}
	return b.skipped[b.next]
}

// drainLocked advances past every contiguous ready id, returning the
// values to release in order. Must be called with mu held.
func (b *Buffer[T]) drainLocked() []Result[T] {
	var ready []Result[T]
	for {
		if v, ok := b.pending[b.next]; ok {
			delete(b.pending, b.next)
			ready = append(ready, Result[T]{ID: b.next, Value: v})
			b.next++
			continue
		}
		if b.skipped[b.next] {
			delete(b.skipped, b.next)
			b.next++
			continue
		}
		return ready
	}
}

// Run is the buffer's single emitter: it blocks until ctx is cancelled,
// releasing contiguous results onto Out as they become available, and
// closes Out before returning. Results that are already releasable when ctx
// is cancelled are still delivered on Out before Run returns.
func (b *Buffer[T]) Run(ctx context.Context) {
	defer close(b.out)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-stop:
		}
	}()

	for {
		b.mu.Lock()
		for !b.nextReadyLocked() && ctx.Err() == nil {
			b.cond.Wait()
		}
		if ctx.Err() != nil && !b.nextReadyLocked() {
			b.mu.Unlock()
			return
		}
		ready := b.drainLocked()
		b.mu.Unlock()

		for _, r := range ready {
			b.out <- r
		}
	}
}

// NextExpected returns the id the buffer is currently waiting on, for
// diagnostics and tests.
func (b *Buffer[T]) NextExpected() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}
