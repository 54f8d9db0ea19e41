// File: transport/grant/eventchannel.go
// In-process EventChannel/Binder pair: two ends sharing a pair of
// coalescing doorbells, implemented with a buffered chan struct{} the
// way the teacher's reactor signals an idle poller (edge-coalesced, not
// counted).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package grant

import "sync"

type doorbell struct {
	ring chan struct{}
}

func newDoorbell() *doorbell {
	return &doorbell{ring: make(chan struct{}, 1)}
}

func (d *doorbell) notify() {
	select {
	case d.ring <- struct{}{}:
	default:
		// Already pending; the peer hasn't consumed the last ring yet.
	}
}

func (d *doorbell) wait(closed <-chan struct{}) {
	select {
	case <-d.ring:
	case <-closed:
	}
}

// memoryChannel is one end of a bound pair: Wait blocks on this end's
// doorbell, Notify rings the peer's.
type memoryChannel struct {
	mu   sync.Mutex
	self *doorbell
	peer *doorbell // nil until the peer end has Connect'ed
}

func (c *memoryChannel) Notify() {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer != nil {
		peer.notify()
	}
}

func (c *memoryChannel) Wait(closed <-chan struct{}) {
	c.self.wait(closed)
}

// Close always returns nil and releases nothing: a Wait blocked on this
// end keeps waiting until a Notify arrives or its closed channel closes.
func (c *memoryChannel) Close() error {
	return nil
}

var _ EventChannel = (*memoryChannel)(nil)

// MemoryBinder pairs domains entirely in-process: Bind allocates a port
// and a doorbell and returns an EventChannel whose peer link is nil
// until a matching Connect arrives; Connect links both ends together so
// each Notify reaches the other's Wait.
type MemoryBinder struct {
	mu       sync.Mutex
	nextPort Port
	pending  map[Port]*memoryChannel
}

// NewMemoryBinder constructs an empty in-process binder.
func NewMemoryBinder() *MemoryBinder {
	return &MemoryBinder{pending: make(map[Port]*memoryChannel)}
}

func (b *MemoryBinder) Bind(_ uint16) (Port, EventChannel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextPort++
	port := b.nextPort
	ch := &memoryChannel{self: newDoorbell()}
	b.pending[port] = ch
	return port, ch, nil
}

func (b *MemoryBinder) Connect(_ uint16, peerPort Port) (EventChannel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	peerChan, ok := b.pending[peerPort]
	if !ok {
		return nil, &UnboundPortError{Port: peerPort}
	}
	self := &memoryChannel{self: newDoorbell(), peer: peerChan.self}

	peerChan.mu.Lock()
	peerChan.peer = self.self
	peerChan.mu.Unlock()

	return self, nil
}

// UnboundPortError reports a Connect against a Port nobody Bind'ed.
type UnboundPortError struct {
	Port Port
}

func (e *UnboundPortError) Error() string {
	return "grant: unbound port"
}

var _ Binder = (*MemoryBinder)(nil)
