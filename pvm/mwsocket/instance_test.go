// File: pvm/mwsocket/instance_test.go
package mwsocket

import (
	"testing"
	"time"

	"github.com/openxt/mwsockets-go/core/wire"
	"github.com/openxt/mwsockets-go/pvm/registry"
)

type fakeRing struct {
	sent []*wire.Request
	fail error
}

func (f *fakeRing) Send(req *wire.Request) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, req)
	return nil
}

func TestWriteReadRoundTripCreate(t *testing.T) {
	ring := &fakeRing{}
	reg := registry.New()
	in := New(wire.Handle(1), ring, reg)

	req := &wire.Request{Preamble: wire.Preamble{Type: wire.OpCreate}}
	if err := in.Write(req, nil); err != nil {
		t.Fatal(err)
	}
	if len(ring.sent) != 1 {
		t.Fatalf("expected 1 request sent, got %d", len(ring.sent))
	}
	id := ring.sent[0].ID
	if id == 0 {
		t.Fatal("expected nonzero allocated request id")
	}

	go func() {
		reg.Complete(&wire.Response{Preamble: wire.Preamble{
			Type: wire.OpCreate.Response(), ID: id, Sockfd: wire.EncodeHandle(0, 5), Status: 0,
		}})
	}()

	if _, err := in.Read(nil); err != nil {
		t.Fatal(err)
	}
	if in.Remote() != wire.EncodeHandle(0, 5) {
		t.Fatalf("Remote() = %v, want worker 5's handle", in.Remote())
	}
}

func TestReadWithoutWriteFails(t *testing.T) {
	ring := &fakeRing{}
	reg := registry.New()
	in := New(wire.Handle(1), ring, reg)
	if _, err := in.Read(nil); err != ErrNotReadExpected {
		t.Fatalf("err = %v, want ErrNotReadExpected", err)
	}
}

func TestFailingSendToClosedRemoteLatchesSigpipe(t *testing.T) {
	ring := &fakeRing{}
	reg := registry.New()
	in := New(wire.Handle(1), ring, reg)
	in.remote.Store(int32(wire.EncodeHandle(0, 2)))

	req := &wire.Request{Preamble: wire.Preamble{Type: wire.OpSend}}
	if err := in.Write(req, nil); err != nil {
		t.Fatal(err)
	}
	id := ring.sent[0].ID
	reg.Complete(&wire.Response{Preamble: wire.Preamble{
		Type: wire.OpSend.Response(), ID: id, Status: -32, Flags: wire.FlagRemoteClosed,
	}})
	if _, err := in.Read(nil); err != nil {
		t.Fatal(err)
	}
	if !in.ConsumePendingSigpipe() {
		t.Fatal("expected pending SIGPIPE to be latched")
	}
	if in.ConsumePendingSigpipe() {
		t.Fatal("SIGPIPE must deliver exactly once")
	}
}

func TestAcceptSuccessRewritesStatusToChildLocalHandle(t *testing.T) {
	ring := &fakeRing{}
	reg := registry.New()
	table := NewTable(ring, reg)
	parent := table.New()
	parent.remote.Store(int32(wire.EncodeHandle(0, 1)))

	var child *Instance
	req := &wire.Request{Preamble: wire.Preamble{Type: wire.OpAccept}}
	factory := func() *Instance { child = table.New(); return child }
	if err := parent.Write(req, factory); err != nil {
		t.Fatal(err)
	}
	id := ring.sent[len(ring.sent)-1].ID
	childRemote := wire.EncodeHandle(0, 9)
	resp := &wire.Response{Preamble: wire.Preamble{
		Type: wire.OpAccept.Response(), ID: id, Sockfd: childRemote, Status: 0,
	}}
	reg.Complete(resp)

	payload, err := parent.Read(nil)
	_ = payload
	if err != nil {
		t.Fatal(err)
	}
	if child.Remote() != childRemote {
		t.Fatalf("child.Remote() = %v, want %v", child.Remote(), childRemote)
	}
}

// TestCloseWaitsForInFlightSendToBeRead demonstrates the fix for the
// oplock-release-too-early race: Close must not observe its own
// response until a Send that was already in flight on the same handle
// has been fully read, since on the real INS a Close runs inline while
// Send is dispatched to a worker goroutine.
func TestCloseWaitsForInFlightSendToBeRead(t *testing.T) {
	ring := &fakeRing{}
	reg := registry.New()
	in := New(wire.Handle(1), ring, reg)
	in.remote.Store(int32(wire.EncodeHandle(0, 2)))

	sendReq := &wire.Request{Preamble: wire.Preamble{Type: wire.OpSend}}
	if err := in.Write(sendReq, nil); err != nil {
		t.Fatal(err)
	}
	sendID := ring.sent[len(ring.sent)-1].ID

	closeDone := make(chan error, 1)
	go func() { closeDone <- in.Close(time.Second) }()

	// Close must still be blocked on oplock: Close's own Allocate/Send
	// must not have happened yet, so no second request should appear.
	time.Sleep(20 * time.Millisecond)
	if len(ring.sent) != 1 {
		t.Fatalf("Close produced a request before the in-flight Send was read; sent = %d, want 1", len(ring.sent))
	}
	select {
	case <-closeDone:
		t.Fatal("Close returned before the in-flight Send's Read released the oplock")
	default:
	}

	reg.Complete(&wire.Response{Preamble: wire.Preamble{
		Type: wire.OpSend.Response(), ID: sendID, Status: 0,
	}})
	if _, err := in.Read(nil); err != nil {
		t.Fatal(err)
	}

	// Now Close may proceed; complete its own request to let it finish.
	var closeID uint64
	for i := 0; i < 100 && closeID == 0; i++ {
		if len(ring.sent) == 2 {
			closeID = ring.sent[1].ID
			break
		}
		time.Sleep(time.Millisecond)
	}
	if closeID == 0 {
		t.Fatal("Close never produced its request after the in-flight Send was read")
	}
	reg.Complete(&wire.Response{Preamble: wire.Preamble{
		Type: wire.OpClose.Response(), ID: closeID, Status: 0,
	}})
	if err := <-closeDone; err != nil {
		t.Fatal(err)
	}
}

func TestCloseTimesOutWithoutResponse(t *testing.T) {
	ring := &fakeRing{}
	reg := registry.New()
	in := New(wire.Handle(1), ring, reg)
	start := time.Now()
	err := in.Close(10 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("Close returned before the timeout elapsed")
	}
}
