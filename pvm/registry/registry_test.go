// File: pvm/registry/registry_test.go
package registry

import (
	"testing"
	"time"

	"github.com/openxt/mwsockets-go/core/wire"
)

func TestAllocateStartsAboveZero(t *testing.T) {
	r := New()
	e := r.Allocate()
	if e.ID == 0 {
		t.Fatal("id 0 is reserved")
	}
}

func TestCompleteDeliversResponseAndRemovesEntry(t *testing.T) {
	r := New()
	e := r.Allocate()
	go r.Complete(&wire.Response{Preamble: wire.Preamble{ID: e.ID, Status: 7}})

	resp, err := e.Wait(nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 7 {
		t.Fatalf("Status = %d, want 7", resp.Status)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after delivery", r.Len())
	}
}

func TestAbandonDropsLateArrival(t *testing.T) {
	r := New()
	e := r.Allocate()
	r.Abandon(e.ID)

	if _, err := e.Wait(nil); err != ErrAbandoned {
		t.Fatalf("err = %v, want ErrAbandoned", err)
	}

	// A late response for the same id must not panic and must be a no-op.
	r.Complete(&wire.Response{Preamble: wire.Preamble{ID: e.ID, Status: 0}})
}

func TestCompleteForUnknownIDIsNoop(t *testing.T) {
	r := New()
	r.Complete(&wire.Response{Preamble: wire.Preamble{ID: 999}})
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestInterruptAbandonsWait(t *testing.T) {
	r := New()
	e := r.Allocate()
	interrupt := make(chan struct{})
	close(interrupt)
	if _, err := e.Wait(interrupt); err != ErrAbandoned {
		t.Fatalf("err = %v, want ErrAbandoned", err)
	}
}

func TestFailReleasesOutstandingEntriesWithRingFailed(t *testing.T) {
	r := New()
	e1 := r.Allocate()
	e2 := r.Allocate()

	r.Fail(wire.ErrBadSignature)

	if _, err := e1.Wait(nil); err != ErrRingFailed {
		t.Fatalf("e1 err = %v, want ErrRingFailed", err)
	}
	if _, err := e2.Wait(nil); err != ErrRingFailed {
		t.Fatalf("e2 err = %v, want ErrRingFailed", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Fail", r.Len())
	}
}

func TestAllocateAfterFailReturnsAlreadyFailedEntry(t *testing.T) {
	r := New()
	r.Fail(wire.ErrBadSignature)

	e := r.Allocate()
	if _, err := e.Wait(nil); err != ErrRingFailed {
		t.Fatalf("err = %v, want ErrRingFailed", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0: a post-Fail Allocate must not register a live entry", r.Len())
	}
}

func TestSweepReapsStaleEntries(t *testing.T) {
	r := New()
	e := r.Allocate()
	time.Sleep(2 * time.Millisecond)
	n := r.Sweep(time.Millisecond)
	if n != 1 {
		t.Fatalf("Sweep reaped %d, want 1", n)
	}
	if _, err := e.Wait(nil); err != ErrAbandoned {
		t.Fatalf("err = %v, want ErrAbandoned after sweep", err)
	}
}
