// File: transport/ring/slotring.go
// slotRing is the single-producer/single-consumer mechanism underlying
// each direction of the shared ring (spec.md §3, §4.2): a fixed array of
// equal-size slots with atomic producer/consumer indices, the same
// sequence-free SPSC discipline the teacher's pool/ring.go primitives
// generalize to MPMC — here specialized back down to SPSC since each
// direction has exactly one writer and one reader (spec.md invariant:
// "exactly one producer, one consumer, per ring direction").
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ring

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrFull is returned by Produce when the ring has no free slot.
var ErrFull = errors.New("ring: full")

// ErrEmpty is returned by Consume when the ring has no pending slot.
var ErrEmpty = errors.New("ring: empty")

// ErrMessageTooLarge is returned by Produce when msg would not fit in a
// single slot.
var ErrMessageTooLarge = errors.New("ring: message exceeds slot size")

// slotRing holds slotCount fixed-size byte slots (slotCount rounded up
// to a power of two, matching spec.md's "slot count is a power of two"
// invariant) plus the atomic produce/consume cursors. Per spec.md's
// "a single mutex on the producer side and a single mutex on the
// consumer side, because the PVM has many would-be producers", prodMu
// and consMu each serialize their side's load-check-copy-increment
// sequence so two concurrent Produce (or Consume) calls can't compute
// the same cursor value and race on the same slot.
type slotRing struct {
	slotSize int
	mask     uint64
	slots    [][]byte

	prodMu sync.Mutex
	prod   atomic.Uint64
	cons   atomic.Uint64 // read by Produce, written only under consMu

	consMu sync.Mutex
}

func newSlotRing(slotCount, slotSize int) *slotRing {
	if slotCount < 2 {
		slotCount = 2
	}
	n := 1
	for n < slotCount {
		n <<= 1
	}
	r := &slotRing{
		slotSize: slotSize,
		mask:     uint64(n - 1),
		slots:    make([][]byte, n),
	}
	for i := range r.slots {
		r.slots[i] = make([]byte, slotSize)
	}
	return r
}

// Produce copies msg into the next free slot and publishes it. prodMu
// serializes the whole load-check-copy-increment sequence so concurrent
// producers (every live mwsocket's goroutine shares one PVMSide, and
// every worker goroutine shares one INSSide for responses) can't both
// claim the same slot index. The publish (prod.Add) happens after the
// copy and under the same lock, acting as the release barrier the
// consumer's load of prod acts as the matching acquire for.
func (r *slotRing) Produce(msg []byte) error {
	if len(msg) > r.slotSize {
		return ErrMessageTooLarge
	}
	r.prodMu.Lock()
	defer r.prodMu.Unlock()
	prod := r.prod.Load()
	cons := r.cons.Load()
	if prod-cons >= uint64(len(r.slots)) {
		return ErrFull
	}
	slot := r.slots[prod&r.mask]
	n := copy(slot, msg)
	for i := n; i < len(slot); i++ {
		slot[i] = 0
	}
	r.prod.Add(1)
	return nil
}

// Consume copies the oldest pending slot into dst, returning the number
// of bytes copied (capped at len(dst)). consMu serializes the consumer
// side the same way prodMu does the producer side; each ring direction
// has a single logical consumer but response production on the INS side
// runs from many worker goroutines concurrently, so this mirrors the
// same discipline even where today's embeddings only ever call it from
// one goroutine.
func (r *slotRing) Consume(dst []byte) (int, error) {
	r.consMu.Lock()
	defer r.consMu.Unlock()
	cons := r.cons.Load()
	prod := r.prod.Load()
	if cons == prod {
		return 0, ErrEmpty
	}
	slot := r.slots[cons&r.mask]
	n := copy(dst, slot)
	r.cons.Add(1)
	return n, nil
}

// Len reports the number of slots currently pending consumption.
func (r *slotRing) Len() int {
	return int(r.prod.Load() - r.cons.Load())
}

// Cap reports the fixed slot count.
func (r *slotRing) Cap() int {
	return len(r.slots)
}

// SlotSize reports the fixed per-slot capacity in bytes.
func (r *slotRing) SlotSize() int {
	return r.slotSize
}
