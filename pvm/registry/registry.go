// File: pvm/registry/registry.go
// Package registry implements spec.md §4.3's active-request list: every
// produced request gets a monotonically increasing id (0 reserved) and
// an Entry inserted into a map keyed by that id. The response consumer
// (transport/ring.PVMSide's reader, wired in pvm/dispatcher) looks
// requests up by id on arrival; an Entry with DeliverResponse cleared
// (an interrupted read) is silently dropped and freed instead of
// waking anyone, per spec.md §4.3/§5's cancellation policy.
// Grounded on the teacher's protocol/connection.go request-correlation
// pattern (a map keyed by a monotonic id, guarded by one mutex, with a
// completion channel per entry) adapted from single WS frames to
// ring-crossing request/response pairs.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openxt/mwsockets-go/core/wire"
)

// ErrAbandoned is returned by Wait when the entry was abandoned (an
// interrupted read) before a response arrived.
var ErrAbandoned = errors.New("registry: request abandoned")

// ErrRingFailed is returned by Wait when the ring was declared fatally
// corrupt (a validation failure on either side) while the entry was
// still outstanding, the third of spec.md's three terminal outcomes:
// "(a) consumed, (b) abandoned, (c) ring declared fatally corrupt ...
// No other outcome." Distinct from ErrAbandoned, which only ever means
// a local interrupted read.
var ErrRingFailed = errors.New("registry: ring declared fatally corrupt")

// Entry is one active request: the id it was registered under, the
// latch a blocking reader waits on, and the eventually-delivered
// response.
type Entry struct {
	ID              uint64
	deliverResponse atomic.Bool
	done            chan struct{}
	once            sync.Once

	mu        sync.Mutex
	resp      *wire.Response
	arrived   time.Time
	abandoned bool
	ringFailed bool
}

// Wait blocks until a response is delivered, the entry is abandoned,
// the ring is declared fatally corrupt, or interrupt fires (spec.md
// §5: "PVM read(): blocks on the per-active-request latch; interruptible
// by signal"). interrupt may be nil for an uninterruptible wait.
func (e *Entry) Wait(interrupt <-chan struct{}) (*wire.Response, error) {
	select {
	case <-e.done:
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.ringFailed {
			return nil, ErrRingFailed
		}
		if e.abandoned {
			return nil, ErrAbandoned
		}
		return e.resp, nil
	case <-interrupt:
		e.deliverResponse.Store(false)
		return nil, ErrAbandoned
	}
}

// Registry is the global active-request map for one PVM instance.
type Registry struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*Entry
	failed  atomic.Bool
}

// New constructs an empty Registry. IDs start at 1; 0 is reserved per
// spec.md §4.3.
func New() *Registry {
	return &Registry{entries: make(map[uint64]*Entry), nextID: 1}
}

// Allocate mints a new id and registers an Entry awaiting its
// response, per spec.md §4.3's "write(): ... allocate and register
// active-request".
func (r *Registry) Allocate() *Entry {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	e := &Entry{ID: id, done: make(chan struct{}), arrived: time.Now()}
	e.deliverResponse.Store(true)
	if r.failed.Load() {
		// The ring is already in pending-exit: never register a new
		// entry that nothing will ever complete. Hand back an entry
		// that is already terminally failed so Wait returns at once.
		e.deliverResponse.Store(false)
		e.ringFailed = true
		close(e.done)
		r.mu.Unlock()
		return e
	}
	r.entries[id] = e
	r.mu.Unlock()
	return e
}

// Complete delivers resp to its matching Entry, if any, and removes
// the entry from the registry. If no entry is found, or the entry's
// DeliverResponse has been cleared (an abandoned read), the response
// is silently dropped, per spec.md §4.3.
func (r *Registry) Complete(resp *wire.Response) {
	r.mu.Lock()
	e, ok := r.entries[resp.ID]
	if ok {
		delete(r.entries, resp.ID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if !e.deliverResponse.Load() {
		return
	}
	e.mu.Lock()
	e.resp = resp
	e.mu.Unlock()
	e.once.Do(func() { close(e.done) })
}

// Abandon flips an Entry's DeliverResponse off without removing it
// from the map, per spec.md's "interruption of a blocking read flips
// deliver_response off and abandons it; the response consumer will
// then drop the late arrival." The entry is reaped the next time
// Complete or Sweep visits it.
func (r *Registry) Abandon(id uint64) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	e.deliverResponse.Store(false)
	e.mu.Lock()
	e.abandoned = true
	e.mu.Unlock()
	e.once.Do(func() { close(e.done) })
}

// Forget removes id from the registry without waking anyone, used
// after a rolled-back write that never reached the ring (spec.md §5:
// "an interrupted write before ring production rolls back state: no
// active request created").
func (r *Registry) Forget(id uint64) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Fail puts the registry into pending-exit and releases every entry
// still outstanding with ErrRingFailed, the third terminal outcome
// spec.md's Testable Property requires ("ring declared fatally
// corrupt"). Safe to call more than once or concurrently with Complete/
// Abandon; a response or abandonment racing a concurrent Fail for the
// same entry is resolved by whichever closes done first (e.once).
// cause is accepted for symmetry with future logging/diagnostics but is
// not otherwise retained; every Wait caller observes the same
// ErrRingFailed regardless of the specific validation error.
func (r *Registry) Fail(cause error) {
	r.failed.Store(true)
	r.mu.Lock()
	stale := make([]*Entry, 0, len(r.entries))
	for id, e := range r.entries {
		stale = append(stale, e)
		delete(r.entries, id)
	}
	r.mu.Unlock()
	for _, e := range stale {
		e.deliverResponse.Store(false)
		e.mu.Lock()
		e.ringFailed = true
		e.mu.Unlock()
		e.once.Do(func() { close(e.done) })
	}
}

// Len reports the number of currently outstanding active requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep abandons every entry older than maxAge that never received a
// response, returning the number reaped. Guards against a process
// dying or an INS losing a request entirely.
func (r *Registry) Sweep(maxAge time.Duration) int {
	now := time.Now()
	var stale []uint64
	r.mu.Lock()
	for id, e := range r.entries {
		e.mu.Lock()
		old := now.Sub(e.arrived) > maxAge
		e.mu.Unlock()
		if old {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()
	for _, id := range stale {
		r.Abandon(id)
		r.Forget(id)
	}
	return len(stale)
}
