// File: ins/workerpool/slot.go
// WorkerSlot and bufferSlot are the two fixed pools spec.md §3/§4.6
// describe for the INS side: a bounded array of worker slots (one
// goroutine per slot, started by Dispatcher.Run for the pool's lifetime)
// and a bounded array of request-buffer slots. Both use a CAS-guarded
// in_use flag rather than a channel or mutex-protected free list,
// following the teacher's pool/ring.go lock-free allocation idiom (the
// CAS pattern of core/concurrency/lock_free_queue.go, generalized to a flat slot array here since slots are
// addressed by sockfd index, not produced/consumed in order).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package workerpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/openxt/mwsockets-go/core/wire"
	"github.com/openxt/mwsockets-go/ins/sockengine"
)

// WorkerSlot is one entry of the fixed worker-slot array (spec.md §3:
// "in_use flag, index, OS thread handle, wake semaphore, op-serialization
// lock, per-worker FIFO of buffer-slot indices, public handle, host
// socket FD, socket domain/type/protocol, bound port, remote-closed
// flag, defer-accept flag").
type WorkerSlot struct {
	inUse atomic.Bool
	index uint16

	fifo *fifo
	wake chan struct{}
	oplock sync.Mutex

	Handle   wire.Handle
	HostFD   int
	Family   wire.ProtocolFamily
	Type     wire.SockType
	Protocol int32
	Port     uint16

	remoteClosed atomic.Bool
	readiness    atomic.Bool // last-observed poll readiness, for Recv's disambiguation

	Nonblocking bool
	DeferAccept bool
	deferPool   *sockengine.DeferAcceptPool
}

// tryAcquire claims the slot via CAS, initializing its transient fields.
// Returns false if the slot was already in use.
func (s *WorkerSlot) tryAcquire(handle wire.Handle) bool {
	if !s.inUse.CompareAndSwap(false, true) {
		return false
	}
	s.Handle = handle
	s.HostFD = -1
	s.remoteClosed.Store(false)
	s.readiness.Store(false)
	s.Nonblocking = false
	s.DeferAccept = false
	s.deferPool = nil
	if s.fifo == nil {
		s.fifo = newFIFO()
	}
	if s.wake == nil {
		s.wake = make(chan struct{}, 1)
	}
	return true
}

// release returns the slot to the free pool. Closes the host fd if one
// was ever assigned.
func (s *WorkerSlot) release(host sockengine.HostSocketAPI) {
	if s.HostFD >= 0 && host != nil {
		host.Close(s.HostFD)
	}
	s.HostFD = -1
	s.Handle = wire.Invalid
	s.inUse.Store(false)
}

// InUse reports whether the slot is currently allocated.
func (s *WorkerSlot) InUse() bool { return s.inUse.Load() }

// Index returns the slot's fixed position in the worker array, which
// also forms the low 16 bits of its public handle.
func (s *WorkerSlot) Index() uint16 { return s.index }

// enqueue pushes a pending work item onto the worker's FIFO and posts
// its wake channel, per spec.md §4.6 step 4's Connect/Send/Accept/
// Recv/RecvFrom/GetSockName/GetPeerName routing.
func (s *WorkerSlot) enqueue(item workItem) {
	s.fifo.push(item)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dequeue blocks until a work item is available, closed is closed, or
// fatal is closed (a ring-corruption shutdown, distinct from an
// orderly close so Run's wg.Wait doesn't hang on a fatal TryRecv error
// the owner of closed hasn't observed yet), matching "blocks on its
// wake semaphore" from spec.md §5.
func (s *WorkerSlot) dequeue(closed, fatal <-chan struct{}) (workItem, bool) {
	for {
		if v, ok := s.fifo.pop(); ok {
			return v.(workItem), true
		}
		select {
		case <-s.wake:
			continue
		case <-closed:
			return workItem{}, false
		case <-fatal:
			return workItem{}, false
		}
	}
}

// ensureDeferAcceptPool lazily creates the per-listener warming pool
// (spec.md §9 Open Question 3: per-listener, not thread-local).
func (s *WorkerSlot) ensureDeferAcceptPool(host sockengine.HostSocketAPI, window time.Duration) *sockengine.DeferAcceptPool {
	if s.deferPool == nil {
		s.deferPool = sockengine.NewDeferAcceptPool(host, window)
	}
	return s.deferPool
}

// bufferSlot is one entry of the fixed B-slot request-buffer array
// (spec.md §3: "in_use flag, index, pointer into the incoming-request
// scratch region, assigned_worker back-pointer").
type bufferSlot struct {
	inUse    atomic.Bool
	index    int
	data     []byte
	assigned uint16 // index of the worker this buffer is queued against, if any
}

func (b *bufferSlot) tryAcquire() bool {
	return b.inUse.CompareAndSwap(false, true)
}

func (b *bufferSlot) release() {
	b.assigned = 0
	b.inUse.Store(false)
}
