// File: pvm/mwsocket/table.go
// Table is the per-process collection of live Instances, addressed by
// a process-local handle distinct from the cross-VM wire.Handle (the
// local value is what a user-space caller sees as its "mwsocket fd";
// the remote wire.Handle is only meaningful to the INS). Grounded on
// the teacher's control/config.go mutex-guarded-map idiom, generalized
// from string keys to a monotonic local-handle counter.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package mwsocket

import (
	"errors"
	"sync"

	"github.com/openxt/mwsockets-go/core/wire"
	"github.com/openxt/mwsockets-go/pvm/registry"
)

// ErrNotFound is returned when a local handle has no live Instance.
var ErrNotFound = errors.New("mwsocket: unknown local handle")

// Table owns every live Instance for one PVM process.
type Table struct {
	ring ringSender
	reg  *registry.Registry

	mu      sync.Mutex
	nextLocal int32
	instances map[wire.Handle]*Instance
}

// NewTable constructs an empty Table producing requests over ring and
// correlating responses through reg.
func NewTable(ring ringSender, reg *registry.Registry) *Table {
	return &Table{ring: ring, reg: reg, nextLocal: 1, instances: make(map[wire.Handle]*Instance)}
}

// New allocates a fresh Instance with a new process-local handle and
// inserts it into the table. Used both for an ordinary Create and for
// Accept's child preallocation (spec.md §4.4).
func (t *Table) New() *Instance {
	t.mu.Lock()
	local := wire.Handle(t.nextLocal)
	t.nextLocal++
	in := New(local, t.ring, t.reg)
	t.instances[local] = in
	t.mu.Unlock()
	return in
}

// Lookup finds the live Instance for a local handle.
func (t *Table) Lookup(local wire.Handle) (*Instance, error) {
	t.mu.Lock()
	in, ok := t.instances[local]
	t.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return in, nil
}

// Forget removes local's instance from the table at once. It does not
// consult the instance's refcount or wait for its outstanding active
// requests.
func (t *Table) Forget(local wire.Handle) {
	t.mu.Lock()
	delete(t.instances, local)
	t.mu.Unlock()
}

// Len reports the number of live instances, used by the dispatcher's
// Live check that gates the poll monitor's queries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.instances)
}

// Each calls fn for every currently live instance's local handle,
// snapshotting the key set first so fn may safely call Forget.
func (t *Table) Each(fn func(local wire.Handle, in *Instance)) {
	t.mu.Lock()
	snapshot := make(map[wire.Handle]*Instance, len(t.instances))
	for k, v := range t.instances {
		snapshot[k] = v
	}
	t.mu.Unlock()
	for k, v := range snapshot {
		fn(k, v)
	}
}
