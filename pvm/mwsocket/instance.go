// File: pvm/mwsocket/instance.go
// Package mwsocket implements the per-handle PVM state machine spec.md
// §4.4 describes: one Instance per live handle, the write-then-read
// request/response correlation against pvm/registry, and the pre/post-
// processing steps that rewrite the wire request's sockfd, preallocate
// an Accept child, and latch pending errno/SIGPIPE for later delivery.
// Grounded on protvm/kernel/mwcomms/mwcomms-socket.c's instance struct
// (local/remote handle pair, flags, oplock, accept-child pointer,
// refcount) and teacher protocol/connection.go's atomic-CAS closed-flag
// idiom for the oplock/release-started guards.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package mwsocket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openxt/mwsockets-go/core/wire"
	"github.com/openxt/mwsockets-go/pvm/registry"
)

// ErrNotReadExpected is returned by Read when called without a prior
// Write on the same instance, per spec.md §4.3's "refuse with EINVAL
// unless read_expected is true".
var ErrNotReadExpected = errors.New("mwsocket: read without a pending write")

// ErrClosed is returned by Write/Read once release has started.
var ErrClosed = errors.New("mwsocket: instance closed")

// ringSender is the subset of transport/ring.PVMSide an Instance needs
// to produce a request; kept narrow so tests can supply a fake.
type ringSender interface {
	Send(req *wire.Request) error
}

// Instance is one live PVM mwsocket, per spec.md §4.4/§3 Table entry 8.
type Instance struct {
	reg  *registry.Registry
	ring ringSender

	Local  wire.Handle // this process's own handle (its table index)
	remote atomic.Int32 // wire.Handle, atomic.Int32 since Handle is int32; wire.Invalid until Create/Accept response

	Family   wire.ProtocolFamily
	Type     wire.SockType
	Protocol int32

	oplock sync.Mutex // serializes Send/Shutdown/Close per spec.md §4.4

	mu               sync.Mutex
	nonblocking      bool
	pollEvents       uint32
	pendingErrno     int32
	pendingSigpipe   bool
	deliveredSigpipe bool
	readExpected     bool
	blockID          uint64
	remoteClosed     bool
	lastStatus       int32 // the most recent response's raw status, incl. Create/Accept's handle-or-errno
	releaseStarted   atomic.Bool

	refcount atomic.Int32 // creation reference + one per open active request

	acceptMu    sync.Mutex
	acceptChild *Instance // valid only while a single Accept is outstanding

	entry *registry.Entry // the active-request this instance is currently blocked on, if any
}

// New constructs an Instance bound to local (the process-local handle
// assigned by a Table) and ready to produce requests over ring,
// correlating responses through reg.
func New(local wire.Handle, ring ringSender, reg *registry.Registry) *Instance {
	in := &Instance{Local: local, ring: ring, reg: reg}
	in.remote.Store(int32(wire.Invalid))
	in.refcount.Store(1) // creation reference
	return in
}

// Remote returns the instance's current remote (INS) handle, INVALID
// until a Create or Accept response has arrived.
func (in *Instance) Remote() wire.Handle { return wire.Handle(in.remote.Load()) }

// Retain adds an owning reference (one per open active request, per
// spec.md's "ref count (creation + open active requests)").
func (in *Instance) Retain() { in.refcount.Add(1) }

// Release drops a reference; the caller of the last release is
// responsible for actually freeing/forgetting the instance from its
// owning Table.
func (in *Instance) Release() bool {
	return in.refcount.Add(-1) == 0
}

// Write implements spec.md §4.4's write-side pre-processing: allocate
// and register an active request, rewrite sockfd with the remote
// handle, preallocate an Accept child if needed, and produce the
// request. acceptChildFactory is called only for OpAccept and must
// return a freshly allocated child Instance (its Local handle already
// assigned by the owning Table).
// Write implements spec.md §4.4's write-side pre-processing: allocate
// and register an active request, rewrite sockfd with the remote
// handle, preallocate an Accept child if needed, and produce the
// request. acceptChildFactory is called only for OpAccept and must
// return a freshly allocated child Instance (its Local handle already
// assigned by the owning Table).
//
// oplock is taken here and, for any request that expects a response,
// stays held across the matching Read call instead of being released
// when Write returns: per spec.md §4.4 ("This prevents a Close from
// racing with an in-flight Send on the same remote handle"), the INS
// can run Close inline while Send runs asynchronously on a worker, so
// releasing oplock the instant the request is produced would let a
// concurrent Close complete — and close the host fd — while an earlier
// Send is still outstanding. A fire-and-forget request (no Read will
// follow) releases oplock itself, since there is no response path left
// to release it.
func (in *Instance) Write(req *wire.Request, acceptChildFactory func() *Instance) error {
	if in.releaseStarted.Load() {
		return ErrClosed
	}

	in.oplock.Lock()

	entry := in.reg.Allocate()
	req.ID = entry.ID
	req.Sockfd = in.Remote()

	// Every opcode awaits a response unless the caller marked the
	// request fire-and-forget.
	requiresResponse := req.Flags&wire.FlagFireAndForget == 0

	if req.Type.Request() == wire.OpAccept && acceptChildFactory != nil {
		child := acceptChildFactory()
		in.acceptMu.Lock()
		in.acceptChild = child
		in.acceptMu.Unlock()
	}

	in.mu.Lock()
	if requiresResponse {
		in.readExpected = true
		in.blockID = entry.ID
	}
	in.entry = entry
	in.mu.Unlock()

	if err := in.ring.Send(req); err != nil {
		// Interrupted/failed write before ring production rolls back
		// state: no active request left registered (spec.md §5). No
		// Read will follow, so oplock is released here.
		in.reg.Forget(entry.ID)
		in.mu.Lock()
		in.readExpected = false
		in.entry = nil
		in.mu.Unlock()
		in.oplock.Unlock()
		return err
	}

	if !requiresResponse {
		in.oplock.Unlock()
	}
	return nil
}

// Read implements spec.md §4.3/§4.4's read-side: wait on the active
// request's latch, apply post-processing, and return the bytes (or
// error) the caller sees. interrupt, if closed before the response
// arrives, abandons the wait per spec.md §4.3's cancellation rule.
// Releases the oplock Write took and left held, once the response has
// been fully applied (or the wait abandoned).
func (in *Instance) Read(interrupt <-chan struct{}) ([]byte, error) {
	in.mu.Lock()
	if !in.readExpected {
		in.mu.Unlock()
		return nil, ErrNotReadExpected
	}
	in.readExpected = false
	entry := in.entry
	in.entry = nil
	in.mu.Unlock()

	defer in.oplock.Unlock()

	if entry == nil {
		return nil, ErrNotReadExpected
	}

	resp, err := entry.Wait(interrupt)
	if err != nil {
		// Abandoned: the consumer thread will drop the late arrival.
		return nil, err
	}
	return in.postProcess(resp)
}

// postProcess applies spec.md §4.4's response post-processing steps
// before returning payload bytes to the caller.
func (in *Instance) postProcess(resp *wire.Response) ([]byte, error) {
	remoteClosed := resp.Flags&wire.FlagRemoteClosed != 0 || wire.IsCriticalStatus(resp.Status)

	in.mu.Lock()
	// A close observed on an earlier response (typically a Recv
	// returning 0 after readiness) still counts against a later failing
	// Send on the same handle — spec.md §4.7's "next Send ... latches
	// SIGPIPE" does not require the close to be observed on this same
	// response.
	alreadyClosed := in.remoteClosed
	if remoteClosed {
		in.remoteClosed = true
	}
	in.lastStatus = resp.Status
	req := resp.Type.Request()
	failing := resp.Status < 0

	if failing && req == wire.OpSend && (remoteClosed || alreadyClosed) {
		in.pendingSigpipe = true
	}
	if failing && req != wire.OpCreate {
		in.pendingErrno = resp.Status
	}
	in.mu.Unlock()

	switch req {
	case wire.OpCreate:
		if !failing {
			in.remote.Store(int32(resp.Sockfd))
		}
	case wire.OpAccept:
		in.acceptMu.Lock()
		child := in.acceptChild
		in.acceptChild = nil
		in.acceptMu.Unlock()
		if child != nil {
			if !failing {
				child.remote.Store(int32(resp.Sockfd))
				resp.Status = int32(child.Local)
				in.mu.Lock()
				in.lastStatus = resp.Status
				in.mu.Unlock()
			} else {
				child.releaseStarted.Store(true)
			}
		}
	}

	return resp.Payload, nil
}

// LastStatus returns the raw status of the most recently applied
// response, including Create/Accept's success-carries-a-handle
// convention (spec.md §3: "status ... response only ... negative =
// canonical errno, >=0 = success (may be a new handle for CREATE/
// ACCEPT)"). Unlike ConsumePendingErrno this is not a latch: it simply
// reflects the last Read's outcome.
func (in *Instance) LastStatus() int32 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastStatus
}

// ConsumePendingErrno returns and clears any latched errno from a
// previous failing op on this handle, per spec.md §4.3's "consume and
// deliver any pending errno".
func (in *Instance) ConsumePendingErrno() int32 {
	in.mu.Lock()
	defer in.mu.Unlock()
	e := in.pendingErrno
	in.pendingErrno = 0
	return e
}

// ConsumePendingSigpipe returns true and clears the latch exactly once
// per observed remote close, per spec.md §4.4's "delivered exactly
// once" rule.
func (in *Instance) ConsumePendingSigpipe() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.pendingSigpipe && !in.deliveredSigpipe {
		in.deliveredSigpipe = true
		in.pendingSigpipe = false
		return true
	}
	return false
}

// PollEvents returns the last poll events delivered for this handle by
// the poll monitor (spec.md §4.5).
func (in *Instance) PollEvents() uint32 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pollEvents
}

// SetPollEvents is called by the poll monitor after a PollsetQuery
// response to update this instance's cached readiness.
func (in *Instance) SetPollEvents(events uint32) {
	in.mu.Lock()
	in.pollEvents = events
	in.mu.Unlock()
}

// SetNonblocking records the handle's O_NONBLOCK state for the Accept
// handler's EAGAIN-vs-block decision (spec.md §8 S4).
func (in *Instance) SetNonblocking(v bool) { in.mu.Lock(); in.nonblocking = v; in.mu.Unlock() }

// Nonblocking reports the handle's O_NONBLOCK state.
func (in *Instance) Nonblocking() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.nonblocking
}

// RemoteClosed reports whether a remote close has been observed on
// this handle.
func (in *Instance) RemoteClosed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.remoteClosed
}

// Close implements spec.md §4.4's close semantics: issue a Close
// request and wait for its response with a bounded timeout. Marks
// releaseStarted regardless of outcome so subsequent Write calls fail
// fast. Takes oplock for the whole request/response round trip, the
// same as Write/Read's pairing, so Close can only complete (and, on the
// INS side, run inline and close the host fd) once any Send that was
// already in flight on this handle has been fully observed.
func (in *Instance) Close(timeout time.Duration) error {
	if !in.releaseStarted.CompareAndSwap(false, true) {
		return nil
	}
	in.oplock.Lock()
	defer in.oplock.Unlock()

	entry := in.reg.Allocate()
	req := &wire.Request{
		Preamble: wire.Preamble{Type: wire.OpClose, ID: entry.ID, Sockfd: in.Remote()},
	}
	if err := in.ring.Send(req); err != nil {
		in.reg.Forget(entry.ID)
		return err
	}

	timedOut := make(chan struct{})
	timer := time.AfterFunc(timeout, func() { close(timedOut) })
	defer timer.Stop()
	_, err := entry.Wait(timedOut)
	return err
}
