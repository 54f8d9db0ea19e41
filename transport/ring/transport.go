// File: transport/ring/transport.go
// Transport is the shared ring itself: a request slotRing (PVM
// producer, INS consumer) and a response slotRing (INS producer, PVM
// consumer), each slot sized to hold the largest possible message
// (spec.md §3: "a scratch area large enough for either the request or
// its response"). PVMSide and INSSide are the two ends an embedder
// wires up (facade, per SPEC_FULL §0); a single-process embedding
// shares one Transport between both.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ring

import (
	"github.com/openxt/mwsockets-go/core/buffer"
	"github.com/openxt/mwsockets-go/core/wire"
	"github.com/openxt/mwsockets-go/transport/grant"
)

// Transport owns the two directional slot rings. SlotCap bounds the
// largest encodable Request or Response. encodeScratch is a pool of
// SlotCap-sized staging buffers shared by every producer (every live
// mwsocket's Write on the PVM side, every worker's respond on the INS
// side); Produce copies the staged bytes into the ring's own slot
// storage before returning, so the scratch buffer can always go back to
// the pool once Send returns, regardless of outcome.
type Transport struct {
	request  *slotRing
	response *slotRing
	SlotCap  int

	encodeScratch *buffer.Pool
}

// NewTransport allocates a transport with slotCount slots (rounded up
// to a power of two) per direction, each slotCap bytes.
func NewTransport(slotCount, slotCap int) *Transport {
	return &Transport{
		request:       newSlotRing(slotCount, slotCap),
		response:      newSlotRing(slotCount, slotCap),
		SlotCap:       slotCap,
		encodeScratch: buffer.NewPool(slotCap, slotCount),
	}
}

// RequestDepth and ResponseDepth expose pending-slot counts for metrics
// (control.MetricsRegistry gauges, per SPEC_FULL's ambient stack).
func (t *Transport) RequestDepth() int  { return t.request.Len() }
func (t *Transport) ResponseDepth() int { return t.response.Len() }

// PVMSide is the PVM's view of a Transport: produces requests, consumes
// responses. bell.Notify wakes the paired INSSide's Wait; bell.Wait
// blocks until the paired INSSide calls Notify after producing a
// response.
type PVMSide struct {
	t    *Transport
	bell grant.EventChannel
}

// NewPVMSide binds a Transport to the PVM end of a bound event channel.
func NewPVMSide(t *Transport, bell grant.EventChannel) *PVMSide {
	return &PVMSide{t: t, bell: bell}
}

// Send encodes and enqueues req, then rings the INS side's doorbell.
func (s *PVMSide) Send(req *wire.Request) error {
	scratch := s.t.encodeScratch.Get(s.t.SlotCap, 0)
	defer scratch.Release()
	n, err := wire.EncodeRequest(scratch.Data, req)
	if err != nil {
		return err
	}
	if err := s.t.request.Produce(scratch.Data[:n]); err != nil {
		return err
	}
	s.bell.Notify()
	return nil
}

// TryRecv returns the oldest pending response without blocking. ok is
// false if none is pending yet.
func (s *PVMSide) TryRecv() (resp *wire.Response, ok bool, err error) {
	buf := make([]byte, s.t.SlotCap)
	n, err := s.t.response.Consume(buf)
	if err == ErrEmpty {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	resp, err = wire.DecodeResponse(buf[:n])
	return resp, true, err
}

// Wait blocks until the INS side has notified of a new response, or
// closed is closed.
func (s *PVMSide) Wait(closed <-chan struct{}) {
	s.bell.Wait(closed)
}

// INSSide is the INS's view of the same Transport: consumes requests,
// produces responses, using the peer end of the bound event channel.
type INSSide struct {
	t    *Transport
	bell grant.EventChannel
}

// NewINSSide binds a Transport to the INS end of a bound event channel.
func NewINSSide(t *Transport, bell grant.EventChannel) *INSSide {
	return &INSSide{t: t, bell: bell}
}

// TryRecv returns the oldest pending request without blocking.
func (s *INSSide) TryRecv() (req *wire.Request, ok bool, err error) {
	buf := make([]byte, s.t.SlotCap)
	n, err := s.t.request.Consume(buf)
	if err == ErrEmpty {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	req, err = wire.DecodeRequest(buf[:n])
	return req, true, err
}

// Send encodes and enqueues resp, then rings the PVM side's doorbell.
func (s *INSSide) Send(resp *wire.Response) error {
	scratch := s.t.encodeScratch.Get(s.t.SlotCap, 0)
	defer scratch.Release()
	n, err := wire.EncodeResponse(scratch.Data, resp)
	if err != nil {
		return err
	}
	if err := s.t.response.Produce(scratch.Data[:n]); err != nil {
		return err
	}
	s.bell.Notify()
	return nil
}

// Wait blocks until the PVM side has notified of a new request, or
// closed is closed.
func (s *INSSide) Wait(closed <-chan struct{}) {
	s.bell.Wait(closed)
}
