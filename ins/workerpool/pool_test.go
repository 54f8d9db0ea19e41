// File: ins/workerpool/pool_test.go
package workerpool

import (
	"testing"

	"github.com/openxt/mwsockets-go/core/wire"
)

func TestAllocateWorkerExhaustion(t *testing.T) {
	p := NewPool(0, 2, 4, 64, nil)

	h1, err := p.AllocateWorker()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := p.AllocateWorker()
	if err != nil {
		t.Fatal(err)
	}
	if h1.Index() == h2.Index() {
		t.Fatal("two allocations returned the same worker index")
	}
	if _, err := p.AllocateWorker(); err != ErrWorkersExhausted {
		t.Fatalf("AllocateWorker() err = %v, want ErrWorkersExhausted", err)
	}

	p.ReleaseWorker(h1.Index())
	h3, err := p.AllocateWorker()
	if err != nil {
		t.Fatal(err)
	}
	if h3.Index() != h1.Index() {
		t.Fatalf("expected released slot %d to be reused, got %d", h1.Index(), h3.Index())
	}
}

func TestAcquireReleaseBuffer(t *testing.T) {
	p := NewPool(0, 2, 2, 64, nil)

	b1, err := p.AcquireBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.AcquireBuffer(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.AcquireBuffer(); err != ErrBuffersExhausted {
		t.Fatalf("err = %v, want ErrBuffersExhausted", err)
	}
	p.ReleaseBuffer(b1.index)
	if _, err := p.AcquireBuffer(); err != nil {
		t.Fatalf("expected a slot to be free after release, got %v", err)
	}
}

func TestWorkerHandleEncodesInstanceAndIndex(t *testing.T) {
	p := NewPool(7, 4, 4, 64, nil)
	w, err := p.AllocateWorker()
	if err != nil {
		t.Fatal(err)
	}
	insID, index := w.Handle.Decode()
	if insID != 7 {
		t.Errorf("insID = %d, want 7", insID)
	}
	if index != w.Index() {
		t.Errorf("index = %d, want %d", index, w.Index())
	}
	if w.Handle != wire.EncodeHandle(7, w.Index()) {
		t.Error("handle does not match EncodeHandle(insID, index)")
	}
}
