// File: ins/workerpool/pool.go
// Pool owns the two fixed arrays spec.md §4.6 names: W worker slots and
// B buffer slots, B >= W plus headroom. Allocation scans for a free
// slot and claims it with a single CAS, the same free-slot-scan shape
// as the teacher's pool/ring.go uses for its ring cells, adapted here
// to an indexed array rather than a circular sequence since workers
// and buffers are addressed by fixed index (the handle's low 16 bits),
// not produced/consumed in FIFO order.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package workerpool

import (
	"errors"

	"github.com/openxt/mwsockets-go/core/wire"
	"github.com/openxt/mwsockets-go/ins/sockengine"
)

// ErrWorkersExhausted is returned when no worker slot is free.
var ErrWorkersExhausted = errors.New("workerpool: no free worker slot")

// ErrBuffersExhausted is returned when no buffer slot is free; per
// spec.md §5's backpressure rule this maps to the reserved critical
// status, not a fatal ring condition.
var ErrBuffersExhausted = errors.New("workerpool: no free buffer slot")

// Pool is the fixed worker/buffer slot pool for one INS instance.
type Pool struct {
	insID   uint8
	workers []WorkerSlot
	buffers []bufferSlot
	host    sockengine.HostSocketAPI
}

// NewPool constructs a pool with numWorkers worker slots and numBuffers
// buffer slots, each slotSize bytes. Per spec.md §4.6, numBuffers should
// be >= numWorkers plus headroom.
func NewPool(insID uint8, numWorkers, numBuffers, slotSize int, host sockengine.HostSocketAPI) *Pool {
	p := &Pool{
		insID:   insID,
		workers: make([]WorkerSlot, numWorkers),
		buffers: make([]bufferSlot, numBuffers),
		host:    host,
	}
	for i := range p.workers {
		p.workers[i].index = uint16(i)
	}
	for i := range p.buffers {
		p.buffers[i].index = i
		p.buffers[i].data = make([]byte, slotSize)
	}
	return p
}

// AllocateWorker scans for a free worker slot, claims it and returns
// the slot, whose Handle field holds its public handle (spec.md §4.6's Create handler: "allocate an unused
// worker ... the response carries the new public handle whose low-16
// bits equal the worker's index").
func (p *Pool) AllocateWorker() (*WorkerSlot, error) {
	for i := range p.workers {
		s := &p.workers[i]
		handle := wire.EncodeHandle(p.insID, uint16(i))
		if s.tryAcquire(handle) {
			return s, nil
		}
	}
	return nil, ErrWorkersExhausted
}

// Worker returns the worker slot for a given low-16-bit index, which
// both ring-request routing and instance release paths address
// directly rather than scanning.
func (p *Pool) Worker(index uint16) (*WorkerSlot, bool) {
	if int(index) >= len(p.workers) {
		return nil, false
	}
	return &p.workers[index], true
}

// ReleaseWorker returns a worker slot to the free pool, closing its
// host socket if one is assigned.
func (p *Pool) ReleaseWorker(index uint16) {
	if w, ok := p.Worker(index); ok {
		w.release(p.host)
	}
}

// AcquireBuffer claims a free buffer slot per spec.md §4.6 step 1
// ("reserve a free buffer slot via atomic CAS on in_use").
func (p *Pool) AcquireBuffer() (*bufferSlot, error) {
	for i := range p.buffers {
		b := &p.buffers[i]
		if b.tryAcquire() {
			return b, nil
		}
	}
	return nil, ErrBuffersExhausted
}

// ReleaseBuffer returns a buffer slot to the free pool.
func (p *Pool) ReleaseBuffer(index int) {
	if index >= 0 && index < len(p.buffers) {
		p.buffers[index].release()
	}
}

// NumWorkers and NumBuffers report the pool's fixed capacities.
func (p *Pool) NumWorkers() int { return len(p.workers) }
func (p *Pool) NumBuffers() int { return len(p.buffers) }

// BuffersInUse counts currently-claimed buffer slots, the basis of the
// "buffer pool is at full capacity" assertion spec.md §8's S1 scenario
// makes at end of test.
func (p *Pool) BuffersInUse() int {
	n := 0
	for i := range p.buffers {
		if p.buffers[i].inUse.Load() {
			n++
		}
	}
	return n
}

// WorkersInUse counts currently-allocated worker slots.
func (p *Pool) WorkersInUse() int {
	n := 0
	for i := range p.workers {
		if p.workers[i].InUse() {
			n++
		}
	}
	return n
}
