// File: ins/workerpool/dispatcher_test.go
package workerpool

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openxt/mwsockets-go/core/wire"
	"github.com/openxt/mwsockets-go/ins/sockengine"
)

// fakeRing is an in-memory ringSide: Send appends to resp, TryRecv
// returns failErr once set (for the fatal-ring-error test), and is
// otherwise driven directly by the test (dispatch is invoked
// synchronously in every other test in this file).
type fakeRing struct {
	resp    []*wire.Response
	failErr error
	wake    chan struct{}
}

func (f *fakeRing) TryRecv() (*wire.Request, bool, error) {
	if f.failErr != nil {
		return nil, false, f.failErr
	}
	return nil, false, nil
}
func (f *fakeRing) Send(r *wire.Response) error {
	f.resp = append(f.resp, r)
	return nil
}
func (f *fakeRing) Wait(closed <-chan struct{}) {
	if f.wake == nil {
		return
	}
	select {
	case <-f.wake:
	case <-closed:
	}
}

// fakeHost is a minimal HostSocketAPI fake, local to this package's
// white-box tests (distinct from ins/sockengine's own test fake).
type fakeHost struct {
	nextFd      int
	closed      map[int]bool
	acceptErr   error
	acceptFd    int
	acceptPeer  wire.SockAddr
	sendN       int
	recvN       int
	pollRevents sockengine.PollEvent
}

func newFakeHost() *fakeHost {
	return &fakeHost{nextFd: 3, closed: make(map[int]bool), acceptErr: errors.New("no pending connection")}
}

func (f *fakeHost) Socket(family wire.ProtocolFamily, typ wire.SockType, protocol int) (int, error) {
	fd := f.nextFd
	f.nextFd++
	return fd, nil
}
func (f *fakeHost) Bind(fd int, addr wire.SockAddr) error    { return nil }
func (f *fakeHost) Listen(fd int, backlog int) error         { return nil }
func (f *fakeHost) Connect(fd int, addr wire.SockAddr) error { return nil }
func (f *fakeHost) Accept(fd int, nonblocking bool) (int, wire.SockAddr, error) {
	if f.acceptErr != nil {
		return -1, wire.SockAddr{}, f.acceptErr
	}
	return f.acceptFd, f.acceptPeer, nil
}
func (f *fakeHost) Send(fd int, buf []byte, flags int) (int, error) {
	if f.sendN != 0 {
		return f.sendN, nil
	}
	return len(buf), nil
}
func (f *fakeHost) Recv(fd int, buf []byte, flags int) (int, error) {
	n := f.recvN
	for i := 0; i < n && i < len(buf); i++ {
		buf[i] = byte('x')
	}
	return n, nil
}
func (f *fakeHost) RecvFrom(fd int, buf []byte, flags int) (int, wire.SockAddr, error) {
	n, err := f.Recv(fd, buf, flags)
	return n, wire.SockAddr{}, err
}
func (f *fakeHost) Shutdown(fd int, how int) error                    { return nil }
func (f *fakeHost) Close(fd int) error                                { f.closed[fd] = true; return nil }
func (f *fakeHost) GetSockName(fd int) (wire.SockAddr, error)         { return wire.SockAddr{Port: 1}, nil }
func (f *fakeHost) GetPeerName(fd int) (wire.SockAddr, error)         { return wire.SockAddr{Port: 2}, nil }
func (f *fakeHost) SetNonblock(fd int, nonblocking bool) error        { return nil }
func (f *fakeHost) SetSockOptInt(fd, level, opt, value int) error     { return nil }
func (f *fakeHost) GetSockOptInt(fd, level, opt int) (int, error)     { return 0, nil }
func (f *fakeHost) Poll(fd int, events sockengine.PollEvent, timeout time.Duration) (sockengine.PollEvent, error) {
	return f.pollRevents & events, nil
}

var _ sockengine.HostSocketAPI = (*fakeHost)(nil)

func newTestDispatcher(host *fakeHost) (*Dispatcher, *fakeRing, *Pool) {
	pool := NewPool(0, 4, 8, 128, host)
	ring := &fakeRing{}
	d := NewDispatcher(pool, ring, host, time.Minute)
	return d, ring, pool
}

func createReq(id uint64) *wire.Request {
	payload := make([]byte, wire.CreatePayloadLen)
	wire.CreatePayload{Family: wire.PFInet, Type: wire.STStream}.Encode(payload)
	return &wire.Request{
		Preamble: wire.Preamble{Sig: wire.SigRequest, Type: wire.OpCreate, ID: id, Sockfd: wire.Invalid},
		Payload:  payload,
	}
}

func TestCreateAllocatesWorkerAndRespondsWithHandle(t *testing.T) {
	host := newFakeHost()
	d, ring, pool := newTestDispatcher(host)

	d.dispatch(createReq(1))

	if len(ring.resp) != 1 {
		t.Fatalf("len(resp) = %d, want 1", len(ring.resp))
	}
	resp := ring.resp[0]
	if resp.Status != 0 {
		t.Fatalf("Status = %d, want 0", resp.Status)
	}
	if !resp.Sockfd.Valid() {
		t.Fatalf("Sockfd %v is not a valid handle", resp.Sockfd)
	}
	if pool.WorkersInUse() != 1 {
		t.Fatalf("WorkersInUse() = %d, want 1", pool.WorkersInUse())
	}
	if pool.BuffersInUse() != 0 {
		t.Fatalf("BuffersInUse() = %d, want 0 after inline release", pool.BuffersInUse())
	}
}

func TestCloseReleasesWorker(t *testing.T) {
	host := newFakeHost()
	d, ring, pool := newTestDispatcher(host)

	d.dispatch(createReq(1))
	handle := ring.resp[0].Sockfd

	closeReq := &wire.Request{
		Preamble: wire.Preamble{Sig: wire.SigRequest, Type: wire.OpClose, ID: 2, Sockfd: handle},
	}
	d.dispatch(closeReq)

	if pool.WorkersInUse() != 0 {
		t.Fatalf("WorkersInUse() = %d, want 0 after Close", pool.WorkersInUse())
	}
	fd := host.nextFd - 1
	if !host.closed[fd] {
		t.Errorf("host fd %d was not closed", fd)
	}
}

// runWorkerOnce dispatches req (which must route to a worker) and
// drives that worker's loop for exactly one item, returning once a
// response has been produced.
func runWorkerOnce(t *testing.T, d *Dispatcher, pool *Pool, req *wire.Request) {
	t.Helper()
	idx := req.Sockfd.Index()
	w, ok := pool.Worker(idx)
	if !ok {
		t.Fatalf("no worker at index %d", idx)
	}
	d.dispatch(req)
	item, ok := w.dequeue(make(chan struct{}), make(chan struct{}))
	if !ok {
		t.Fatal("expected a queued work item")
	}
	d.serve(w, item.req)
	d.pool.ReleaseBuffer(item.bufferIndex)
}

func TestSendRecvRoundTrip(t *testing.T) {
	host := newFakeHost()
	host.recvN = 3
	d, ring, pool := newTestDispatcher(host)

	d.dispatch(createReq(1))
	handle := ring.resp[0].Sockfd

	sendPayload := []byte("abc")
	sendReq := &wire.Request{
		Preamble: wire.Preamble{Sig: wire.SigRequest, Type: wire.OpSend, ID: 2, Sockfd: handle},
		Payload:  sendPayload,
	}
	runWorkerOnce(t, d, pool, sendReq)
	if ring.resp[len(ring.resp)-1].Status != 0 {
		t.Fatalf("Send status = %d, want 0", ring.resp[len(ring.resp)-1].Status)
	}

	recvPayload := make([]byte, wire.RecvPayloadLen)
	wire.RecvPayload{Length: 16}.Encode(recvPayload)
	recvReq := &wire.Request{
		Preamble: wire.Preamble{Sig: wire.SigRequest, Type: wire.OpRecv, ID: 3, Sockfd: handle},
		Payload:  recvPayload,
	}
	runWorkerOnce(t, d, pool, recvReq)
	last := ring.resp[len(ring.resp)-1]
	if last.Status != 0 {
		t.Fatalf("Recv status = %d, want 0", last.Status)
	}
	if len(last.Payload) != 3 {
		t.Fatalf("Recv payload len = %d, want 3", len(last.Payload))
	}

	if pool.BuffersInUse() != 0 {
		t.Fatalf("BuffersInUse() = %d, want 0 once all work items are drained", pool.BuffersInUse())
	}
}

func TestAcceptAssignsNewWorkerDistinctFromListener(t *testing.T) {
	host := newFakeHost()
	host.acceptErr = nil
	host.acceptFd = 50
	host.acceptPeer = wire.SockAddr{Family: wire.PFInet, Port: 9000}
	d, ring, pool := newTestDispatcher(host)

	d.dispatch(createReq(1))
	listener := ring.resp[0].Sockfd

	acceptReq := &wire.Request{
		Preamble: wire.Preamble{Sig: wire.SigRequest, Type: wire.OpAccept, ID: 2, Sockfd: listener},
	}
	runWorkerOnce(t, d, pool, acceptReq)

	last := ring.resp[len(ring.resp)-1]
	if last.Status != 0 {
		t.Fatalf("Accept status = %d, want 0", last.Status)
	}
	if last.Sockfd == listener {
		t.Fatal("Accept response handle must differ from the listener's own handle")
	}
	if pool.WorkersInUse() != 2 {
		t.Fatalf("WorkersInUse() = %d, want 2 (listener + accepted)", pool.WorkersInUse())
	}
}

func TestNonblockingAcceptWithNoPendingConnectionReturnsEAGAIN(t *testing.T) {
	host := newFakeHost()
	host.acceptErr = unix.EAGAIN
	d, ring, pool := newTestDispatcher(host)

	d.dispatch(createReq(1))
	listener := ring.resp[0].Sockfd
	w, _ := pool.Worker(listener.Index())
	w.Nonblocking = true

	acceptReq := &wire.Request{
		Preamble: wire.Preamble{Sig: wire.SigRequest, Type: wire.OpAccept, ID: 2, Sockfd: listener},
	}
	runWorkerOnce(t, d, pool, acceptReq)

	last := ring.resp[len(ring.resp)-1]
	if last.Status != -11 {
		t.Fatalf("Status = %d, want -11 (canonical EAGAIN)", last.Status)
	}
	if pool.WorkersInUse() != 1 {
		t.Fatalf("WorkersInUse() = %d, want 1 (no leaked child worker)", pool.WorkersInUse())
	}
}

func TestBufferExhaustionRespondsInternalError(t *testing.T) {
	host := newFakeHost()
	pool := NewPool(0, 4, 1, 128, host)
	ring := &fakeRing{}
	d := NewDispatcher(pool, ring, host, time.Minute)

	// Exhaust the single buffer slot directly.
	buf, err := pool.AcquireBuffer()
	if err != nil {
		t.Fatal(err)
	}

	d.dispatch(createReq(1))
	if ring.resp[0].Status != wire.StatusInternalError {
		t.Fatalf("Status = %d, want %d", ring.resp[0].Status, wire.StatusInternalError)
	}

	pool.ReleaseBuffer(buf.index)
	d.dispatch(createReq(2))
	if ring.resp[1].Status != 0 {
		t.Fatalf("Status after buffer freed = %d, want 0", ring.resp[1].Status)
	}
}

// TestRunUnblocksWorkersOnFatalRingError demonstrates the fix for the
// worker-goroutine deadlock: a fatal TryRecv error must close the
// internal fatal channel so every worker blocked in dequeue returns,
// letting wg.Wait (and therefore Run) actually return instead of
// hanging forever on an externally-owned closed channel nothing else
// closes on this path.
func TestRunUnblocksWorkersOnFatalRingError(t *testing.T) {
	host := newFakeHost()
	pool := NewPool(0, 4, 8, 128, host)
	ring := &fakeRing{wake: make(chan struct{}, 1)}
	d := NewDispatcher(pool, ring, host, time.Minute)

	closed := make(chan struct{}) // deliberately never closed by the test
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(closed) }()

	time.Sleep(5 * time.Millisecond)
	ring.failErr = errors.New("ring validation failed")
	select {
	case ring.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-runDone:
		if err != ring.failErr {
			t.Fatalf("Run err = %v, want %v", err, ring.failErr)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after a fatal ring error; worker goroutines likely deadlocked in wg.Wait")
	}
}
