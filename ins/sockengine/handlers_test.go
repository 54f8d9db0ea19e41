package sockengine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/openxt/mwsockets-go/core/wire"
	"github.com/openxt/mwsockets-go/ins/sockengine"
)

// fakeHost is a minimal in-memory HostSocketAPI fake: just enough
// surface for Handlers and DeferAcceptPool's logic to be exercised
// without a real kernel socket.
type fakeHost struct {
	nextFd      int
	recvN       map[int]int       // fd -> bytes the next Recv should report
	pollRevents map[int]sockengine.PollEvent
	pendingConn bool // Accept succeeds exactly once per call when true
	closed      map[int]bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		nextFd:      3,
		recvN:       make(map[int]int),
		pollRevents: make(map[int]sockengine.PollEvent),
		closed:      make(map[int]bool),
	}
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
	if !f.pendingConn {
		return -1, wire.SockAddr{}, errors.New("would block")
	}
	f.pendingConn = false
	newfd := f.nextFd
	f.nextFd++
	return newfd, wire.SockAddr{Family: wire.PFInet, Port: 9}, nil
}

func (f *fakeHost) Send(fd int, buf []byte, flags int) (int, error) {
	return len(buf), nil
}

func (f *fakeHost) Recv(fd int, buf []byte, flags int) (int, error) {
	n := f.recvN[fd]
	for i := 0; i < n && i < len(buf); i++ {
		buf[i] = byte('a' + i)
	}
	return n, nil
}

func (f *fakeHost) RecvFrom(fd int, buf []byte, flags int) (int, wire.SockAddr, error) {
	n, err := f.Recv(fd, buf, flags)
	return n, wire.SockAddr{Family: wire.PFInet, Port: 53}, err
}

func (f *fakeHost) Shutdown(fd int, how int) error { return nil }
func (f *fakeHost) Close(fd int) error {
	f.closed[fd] = true
	return nil
}
func (f *fakeHost) GetSockName(fd int) (wire.SockAddr, error) { return wire.SockAddr{}, nil }
func (f *fakeHost) GetPeerName(fd int) (wire.SockAddr, error) { return wire.SockAddr{}, nil }
func (f *fakeHost) SetNonblock(fd int, nonblocking bool) error { return nil }
func (f *fakeHost) SetSockOptInt(fd, level, opt, value int) error { return nil }
func (f *fakeHost) GetSockOptInt(fd, level, opt int) (int, error) { return 0, nil }

func (f *fakeHost) Poll(fd int, events sockengine.PollEvent, timeout time.Duration) (sockengine.PollEvent, error) {
	return f.pollRevents[fd] & events, nil
}

var _ sockengine.HostSocketAPI = (*fakeHost)(nil)

func TestRecvWithPriorReadinessZeroBytesIsClose(t *testing.T) {
	host := newFakeHost()
	h := sockengine.NewHandlers(host)
	host.recvN[3] = 0

	result, err := h.Recv(3, 16, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if !result.RemoteClosed {
		t.Error("expected RemoteClosed when prior readiness was observed and Recv returned 0")
	}
}

func TestRecvWithoutPriorReadinessPollsToDisambiguate(t *testing.T) {
	host := newFakeHost()
	h := sockengine.NewHandlers(host)
	host.recvN[3] = 0
	host.pollRevents[3] = sockengine.PollIn // host signals still-readable+0-bytes == EOF

	result, err := h.Recv(3, 16, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if !result.RemoteClosed {
		t.Error("expected RemoteClosed when poll confirms readability with 0 bytes")
	}
}

func TestRecvWithoutPriorReadinessNotReadableIsNotClose(t *testing.T) {
	host := newFakeHost()
	h := sockengine.NewHandlers(host)
	host.recvN[3] = 0
	host.pollRevents[3] = 0 // nothing pending

	result, err := h.Recv(3, 16, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.RemoteClosed {
		t.Error("expected RemoteClosed == false when poll reports nothing readable")
	}
}

func TestRecvReturnsDataWhenAvailable(t *testing.T) {
	host := newFakeHost()
	h := sockengine.NewHandlers(host)
	host.recvN[3] = 5

	result, err := h.Recv(3, 16, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Data) != 5 {
		t.Errorf("len(Data) = %d, want 5", len(result.Data))
	}
}

func TestDeferAcceptPoolWarmsUntilReadable(t *testing.T) {
	host := newFakeHost()
	pool := sockengine.NewDeferAcceptPool(host, time.Minute)

	host.pendingConn = true
	_, _, ok, err := pool.Poll(99)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected not ready immediately after accept, before readiness")
	}
	if pool.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", pool.Len())
	}

	// Mark the warmed connection (fd 3, the one Accept minted) readable.
	host.pollRevents[3] = sockengine.PollIn

	fd, _, ok, err := pool.Poll(99)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || fd != 3 {
		t.Fatalf("Poll() = (%d, _, %v), want (3, _, true)", fd, ok)
	}
	if pool.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after readable entry is returned", pool.Len())
	}
}
