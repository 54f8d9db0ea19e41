// File: ins/workerpool/dispatcher.go
// Dispatcher is the single dispatcher thread of spec.md §4.6: it reads
// one request at a time off the shared ring, classifies its opcode,
// and either executes it inline (Create, PollsetQuery, Shutdown, Close,
// Bind, Listen, Attrib) or routes it to the owning worker's FIFO
// (Connect, Send, Accept, Recv, RecvFrom, GetSockName, GetPeerName).
// Each worker slot owns a dedicated goroutine for the pool's lifetime,
// mirroring the teacher's one-goroutine-per-worker shape in
// internal/concurrency/threadpool.go, generalized here so a worker's
// loop blocks on its own wake channel instead of pulling from one
// shared executor queue.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package workerpool

import (
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openxt/mwsockets-go/core/wire"
	"github.com/openxt/mwsockets-go/ins/errno"
	"github.com/openxt/mwsockets-go/ins/sockengine"
)

// ringSide is the ring consumer/producer surface the dispatcher needs;
// *ring.INSSide satisfies it. Kept as a local interface so tests can
// substitute an in-memory fake without importing transport/ring.
type ringSide interface {
	TryRecv() (*wire.Request, bool, error)
	Send(*wire.Response) error
	Wait(closed <-chan struct{})
}

// workItem is one pending unit of worker-routed work: the buffer slot
// it was staged in (released once handled) and the decoded request.
type workItem struct {
	bufferIndex int
	req         *wire.Request
}

// Dispatcher wires a Pool, a ring side and a sockengine.Handlers
// together into the running INS half of the system.
type Dispatcher struct {
	pool              *Pool
	side              ringSide
	handlers          *sockengine.Handlers
	host              sockengine.HostSocketAPI
	deferAcceptWindow time.Duration

	wg sync.WaitGroup

	// fatal is closed exactly once, by Run itself, the moment TryRecv
	// reports the ring fatally corrupt. Worker goroutines select on it
	// alongside the externally-owned closed channel so Run's own
	// dispatch loop can unblock them without waiting on whatever owns
	// closed to notice the same error (spec.md §4.2's ring-corruption
	// policy: the failure must not leave worker goroutines hung).
	fatal     chan struct{}
	fatalOnce sync.Once
}

// NewDispatcher constructs a Dispatcher. deferAcceptWindow <= 0 uses
// sockengine.DefaultDeferAcceptWindow.
func NewDispatcher(pool *Pool, side ringSide, host sockengine.HostSocketAPI, deferAcceptWindow time.Duration) *Dispatcher {
	if deferAcceptWindow <= 0 {
		deferAcceptWindow = sockengine.DefaultDeferAcceptWindow
	}
	return &Dispatcher{
		pool:              pool,
		side:              side,
		handlers:          sockengine.NewHandlers(host),
		host:              host,
		deferAcceptWindow: deferAcceptWindow,
		fatal:             make(chan struct{}),
	}
}

// failFatal closes fatal exactly once, waking every worker goroutine
// blocked in dequeue.
func (d *Dispatcher) failFatal() {
	d.fatalOnce.Do(func() { close(d.fatal) })
}

// Run starts one goroutine per worker slot, then loops reading and
// classifying requests off the ring until closed is closed. It returns
// when closed fires and every worker goroutine has exited, or
// immediately on a fatal ring-corruption error (spec.md §4.2's
// "ring-corruption policy": a validation failure is fatal to the ring).
func (d *Dispatcher) Run(closed <-chan struct{}) error {
	for i := range d.pool.workers {
		d.wg.Add(1)
		w := &d.pool.workers[i]
		go func() {
			defer d.wg.Done()
			d.workerLoop(w, closed)
		}()
	}

	var runErr error
loop:
	for {
		select {
		case <-closed:
			break loop
		default:
		}
		req, ok, err := d.side.TryRecv()
		if err != nil {
			runErr = err
			d.failFatal()
			break loop
		}
		if !ok {
			d.side.Wait(closed)
			continue
		}
		d.dispatch(req)
	}
	d.wg.Wait()
	return runErr
}

// dispatch implements spec.md §4.6 steps 1-4: reserve a buffer slot
// for the request (step 1 — every request consumes one, regardless of
// opcode, so backpressure applies uniformly), classify the opcode, and
// either run it inline (releasing the buffer immediately) or hand the
// buffer's index off to the owning worker's FIFO.
func (d *Dispatcher) dispatch(req *wire.Request) {
	buf, err := d.pool.AcquireBuffer()
	if err != nil {
		d.respond(req, wire.StatusInternalError, nil)
		return
	}

	switch req.Type.Request() {
	case wire.OpCreate:
		d.handleCreateInline(req)
		d.pool.ReleaseBuffer(buf.index)
	case wire.OpPollsetQuery:
		d.handlePollsetQueryInline(req)
		d.pool.ReleaseBuffer(buf.index)
	default:
		idx := req.Sockfd.Index()
		w, ok := d.pool.Worker(idx)
		if !ok || !w.InUse() {
			d.respond(req, wire.StatusInternalError, nil)
			d.pool.ReleaseBuffer(buf.index)
			return
		}
		if !req.Type.RequiresWorker() {
			d.handleInlineOnWorker(w, req)
			d.pool.ReleaseBuffer(buf.index)
			return
		}
		buf.assigned = idx
		w.enqueue(workItem{bufferIndex: buf.index, req: req})
	}
}

// respond builds and sends a response for req with the given status
// and payload.
func (d *Dispatcher) respond(req *wire.Request, status int32, payload []byte) {
	d.respondFlags(req, status, 0, payload)
}

// respondFlags is respond with explicit preamble flags, used by
// Recv/RecvFrom to carry FlagRemoteClosed per spec.md §4.7's "remote
// close observed" error kind.
func (d *Dispatcher) respondFlags(req *wire.Request, status int32, flags wire.Flag, payload []byte) {
	resp := &wire.Response{
		Preamble: wire.Preamble{
			Sig:    wire.SigResponse,
			Type:   req.Type.Response(),
			ID:     req.ID,
			Sockfd: req.Sockfd,
			Flags:  flags,
			Status: status,
		},
		Payload: payload,
	}
	d.side.Send(resp)
}

// respondHandle is respond with a specific handle in the Sockfd field,
// used by Create and Accept whose response addresses a *new* handle
// rather than the request's own sockfd.
func (d *Dispatcher) respondHandle(req *wire.Request, status int32, handle wire.Handle, payload []byte) {
	resp := &wire.Response{
		Preamble: wire.Preamble{
			Sig:    wire.SigResponse,
			Type:   req.Type.Response(),
			ID:     req.ID,
			Sockfd: handle,
			Status: status,
		},
		Payload: payload,
	}
	d.side.Send(resp)
}

// handleCreateInline implements spec.md §4.6 step 4's Create case:
// allocate an unused worker and run the handler inline. The buffer slot
// dispatch acquired for the request is released by dispatch once this
// returns.
func (d *Dispatcher) handleCreateInline(req *wire.Request) {
	payload := wire.DecodeCreatePayload(req.Payload)
	w, err := d.pool.AllocateWorker()
	if err != nil {
		d.respond(req, wire.StatusInternalError, nil)
		return
	}
	fd, hostErr := d.handlers.Create(payload)
	if hostErr != nil {
		d.pool.ReleaseWorker(w.Index())
		d.respond(req, -errno.FromError(hostErr), nil)
		return
	}
	w.HostFD = fd
	w.Family = payload.Family
	w.Type = payload.Type
	w.Protocol = payload.Protocol
	d.respondHandle(req, 0, w.Handle, nil)
}

// handlePollsetQueryInline implements the PollsetQuery case: poll every
// live worker's host fd and return the fan-out of (handle, events)
// pairs, per spec.md §8 scenario S5. Sockets observed readable have
// their readiness latched for Recv's close-disambiguation.
func (d *Dispatcher) handlePollsetQueryInline(req *wire.Request) {
	var entries []wire.PollEntry
	for i := range d.pool.workers {
		w := &d.pool.workers[i]
		if !w.InUse() || w.HostFD < 0 {
			continue
		}
		revents, err := d.host.Poll(w.HostFD, sockengine.PollIn|sockengine.PollRDNorm|sockengine.PollOut|sockengine.PollWRNorm, 0)
		if err != nil {
			continue
		}
		if revents == 0 {
			continue
		}
		if revents&(sockengine.PollIn|sockengine.PollRDNorm) != 0 {
			w.readiness.Store(true)
		}
		entries = append(entries, wire.PollEntry{Sockfd: w.Handle, Events: uint32(revents)})
	}
	payload := make([]byte, len(entries)*8)
	wire.EncodePollEntries(payload, entries)
	d.respond(req, 0, payload)
}

// handleInlineOnWorker runs a non-blocking per-socket opcode
// (Shutdown, Close, Bind, Listen, Attrib) directly on the dispatcher,
// addressing the worker by the request's sockfd index.
func (d *Dispatcher) handleInlineOnWorker(w *WorkerSlot, req *wire.Request) {
	switch req.Type.Request() {
	case wire.OpBind:
		p := wire.DecodeAddrPayload(req.Payload)
		err := d.handlers.Bind(w.HostFD, p)
		w.Port = p.Addr.Port
		d.respond(req, -errno.FromError(err), nil)

	case wire.OpListen:
		p := wire.DecodeListenPayload(req.Payload)
		err := d.handlers.Listen(w.HostFD, p)
		d.respond(req, -errno.FromError(err), nil)

	case wire.OpShutdown:
		p := wire.DecodeShutdownPayload(req.Payload)
		err := d.handlers.Shutdown(w.HostFD, p)
		d.respond(req, -errno.FromError(err), nil)

	case wire.OpAttrib:
		p := wire.DecodeAttribPayload(req.Payload)
		if p.Attrib == wire.AttribNonblock && p.Modify {
			w.Nonblocking = p.Value != 0
		}
		if p.Attrib == attribDeferAccept && p.Modify {
			w.DeferAccept = p.Value != 0
		}
		v, err := d.handlers.Attrib(w.HostFD, p)
		payload := make([]byte, 8)
		binary.LittleEndian.PutUint64(payload, uint64(v))
		d.respond(req, -errno.FromError(err), payload)

	case wire.OpClose:
		err := d.handlers.Close(w.HostFD)
		d.pool.ReleaseWorker(w.Index())
		d.respond(req, -errno.FromError(err), nil)

	default:
		d.respond(req, wire.StatusInternalError, nil)
	}
}

// attribDeferAccept is a reserved Attrib identifier toggling
// defer-accept mode on a listening worker (spec.md §4.6's defer-accept
// paragraph); not part of the host's own SO_* namespace, so it is
// intercepted here rather than forwarded to setsockopt.
const attribDeferAccept int32 = 2

// workerLoop is one worker goroutine's lifetime: block for work,
// execute the handler for whatever socket this slot currently owns,
// produce the response and release the buffer slot. The loop never
// releases the worker slot itself (Close runs inline on the dispatcher
// and releases it there). Per spec.md
// §4.6 this loop never stalls the dispatcher since each worker has its
// own goroutine.
func (d *Dispatcher) workerLoop(w *WorkerSlot, closed <-chan struct{}) {
	for {
		item, ok := w.dequeue(closed, d.fatal)
		if !ok {
			return
		}
		d.serve(w, item.req)
		d.pool.ReleaseBuffer(item.bufferIndex)
	}
}

// serve executes the blocking per-opcode handler for one worker-routed
// request and produces its response.
func (d *Dispatcher) serve(w *WorkerSlot, req *wire.Request) {
	switch req.Type.Request() {
	case wire.OpConnect:
		p := wire.DecodeAddrPayload(req.Payload)
		err := d.handlers.Connect(w.HostFD, p)
		d.respond(req, -errno.FromError(err), nil)

	case wire.OpSend:
		n, err := d.handlers.Send(w.HostFD, req.Payload)
		payload := make([]byte, 4)
		binary.LittleEndian.PutUint32(payload, uint32(n))
		d.respond(req, -errno.FromError(err), payload)

	case wire.OpRecv:
		p := wire.DecodeRecvPayload(req.Payload)
		result, err := d.handlers.Recv(w.HostFD, int(p.Length), int(p.Flags), w.readiness.Load())
		if err != nil {
			d.respond(req, -errno.FromError(err), nil)
			return
		}
		if result.RemoteClosed {
			w.remoteClosed.Store(true)
			d.respondFlags(req, 0, wire.FlagRemoteClosed, result.Data)
			return
		}
		d.respond(req, 0, result.Data)

	case wire.OpRecvFrom:
		p := wire.DecodeRecvPayload(req.Payload)
		result, err := d.handlers.RecvFrom(w.HostFD, int(p.Length), int(p.Flags), w.readiness.Load())
		if err != nil {
			d.respond(req, -errno.FromError(err), nil)
			return
		}
		payload := make([]byte, wire.SockAddrLen+len(result.Data))
		wire.PutSockAddr(payload, result.From)
		copy(payload[wire.SockAddrLen:], result.Data)
		if result.RemoteClosed {
			w.remoteClosed.Store(true)
			d.respondFlags(req, 0, wire.FlagRemoteClosed, payload)
			return
		}
		d.respond(req, 0, payload)

	case wire.OpGetSockName:
		addr, err := d.handlers.GetSockName(w.HostFD)
		if err != nil {
			d.respond(req, -errno.FromError(err), nil)
			return
		}
		payload := make([]byte, wire.SockAddrLen)
		wire.PutSockAddr(payload, addr)
		d.respond(req, 0, payload)

	case wire.OpGetPeerName:
		addr, err := d.handlers.GetPeerName(w.HostFD)
		if err != nil {
			d.respond(req, -errno.FromError(err), nil)
			return
		}
		payload := make([]byte, wire.SockAddrLen)
		wire.PutSockAddr(payload, addr)
		d.respond(req, 0, payload)

	case wire.OpAccept:
		d.serveAccept(w, req)

	default:
		d.respond(req, wire.StatusInternalError, nil)
	}
}

// serveAccept implements spec.md §4.6's "Accept with defer-accept"
// paragraph: a plain accept when defer-accept is off, or polling a
// per-listener warming pool until a connection is both established and
// readable (or the idle window expires and it's reaped) when on.
func (d *Dispatcher) serveAccept(w *WorkerSlot, req *wire.Request) {
	var fd int
	var peer wire.SockAddr
	var err error

	if w.DeferAccept {
		pool := w.ensureDeferAcceptPool(d.host, d.deferAcceptWindow)
		for {
			var ok bool
			fd, peer, ok, err = pool.Poll(w.HostFD)
			if err != nil || ok {
				break
			}
			if w.Nonblocking {
				err = unix.EAGAIN
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
	} else {
		fd, peer, err = d.host.Accept(w.HostFD, w.Nonblocking)
	}

	if err != nil {
		d.respond(req, -errno.FromError(err), nil)
		return
	}

	child, allocErr := d.pool.AllocateWorker()
	if allocErr != nil {
		d.host.Close(fd)
		d.respond(req, wire.StatusInternalError, nil)
		return
	}
	child.HostFD = fd
	child.Family = w.Family
	child.Type = w.Type
	child.Protocol = w.Protocol

	payload := make([]byte, wire.SockAddrLen)
	wire.PutSockAddr(payload, peer)
	d.respondHandle(req, 0, child.Handle, payload)
}
