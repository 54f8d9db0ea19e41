// File: transport/grant/grant.go
// Package grant models the hypervisor-level primitives a PVM/INS pair
// uses to share the ring transport's memory and to signal each other:
// grant references (memory pages offered to a peer domain) and an
// event channel (a doorbell interrupt, coalesced, carrying no payload).
// The real backend is Xen grant tables + event channels, an external
// collaborator out of scope for this repository (spec.md §1); this
// package defines the interfaces transport/ring and transport/handshake
// consume, plus an in-memory fake for single-process embedding and
// tests.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package grant

import "sync"

// Ref identifies a granted page (or contiguous page range) as seen by
// the granting domain. It is published through the bootstrap KV store
// (spec.md §4.1) for the peer to map.
type Ref uint32

// Table grants and maps shared memory regions between two domains.
// A PVM grants the ring pages it allocates; the INS maps them.
type Table interface {
	// Grant offers region to domID, returning the reference the peer
	// must be told (out of band, via the KV store) in order to map it.
	Grant(domID uint16, region []byte) (Ref, error)

	// Map returns the local mapping of a region previously granted by
	// domID under ref. The returned slice aliases the granter's memory.
	Map(domID uint16, ref Ref, pages int) ([]byte, error)

	// Unmap releases a previously mapped region. Ungrant releases a
	// previously granted one. MemoryTable.Ungrant returns an error on a
	// ref that was never returned by Grant (or was already ungranted);
	// MemoryTable.Unmap always returns nil.
	Unmap(region []byte) error
	Ungrant(ref Ref) error
}

// EventChannel is a bound, bidirectional doorbell: Notify wakes the
// peer's Wait, coalescing any Notify calls that land before the peer
// next Waits (matching Xen's unicast event channel semantics — a
// channel carries liveness, not a counted value).
type EventChannel interface {
	// Notify signals the peer. Never blocks.
	Notify()

	// Wait blocks until Notify has been called at least once since the
	// last Wait returned, or until closed is closed.
	Wait(closed <-chan struct{})

	// Close releases the channel. Any blocked Wait returns.
	Close() error
}

// Port identifies one end of a bound event channel, published through
// the bootstrap KV store alongside the grant Ref (spec.md §4.1's
// vm_evt_chn_port / client_id exchange).
type Port uint32

// Binder establishes event channels between domains, mirroring the
// grant Table's role for memory: Bind allocates this domain's local
// port and returns it for publication; Connect takes the peer's
// published port and completes the binding.
type Binder interface {
	Bind(domID uint16) (Port, EventChannel, error)
	Connect(domID uint16, peerPort Port) (EventChannel, error)
}

// MemoryTable is an in-process Table: Grant/Map simply hand back the
// same backing slice, keyed by a locally minted Ref. Suitable for
// embedding a PVM and INS in one process (tests, facade scenarios) or
// as a placeholder until a real Xen grant-table client is wired in.
type MemoryTable struct {
	mu      sync.Mutex
	nextRef Ref
	regions map[Ref][]byte
}

// NewMemoryTable constructs an empty in-process grant table.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{regions: make(map[Ref][]byte)}
}

func (t *MemoryTable) Grant(_ uint16, region []byte) (Ref, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextRef++
	ref := t.nextRef
	t.regions[ref] = region
	return ref, nil
}

func (t *MemoryTable) Map(_ uint16, ref Ref, pages int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	region, ok := t.regions[ref]
	if !ok {
		return nil, &UnknownRefError{Ref: ref}
	}
	return region, nil
}

func (t *MemoryTable) Unmap(region []byte) error {
	return nil
}

func (t *MemoryTable) Ungrant(ref Ref) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.regions[ref]; !ok {
		return &UnknownRefError{Ref: ref}
	}
	delete(t.regions, ref)
	return nil
}

// UnknownRefError reports an operation against a Ref this table never
// granted (or already ungranted).
type UnknownRefError struct {
	Ref Ref
}

func (e *UnknownRefError) Error() string {
	return "grant: unknown ref"
}

var _ Table = (*MemoryTable)(nil)
