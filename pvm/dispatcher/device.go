// File: pvm/dispatcher/device.go
// Package dispatcher is the PVM-side device surface spec.md §4.4/§6
// describes: per-handle read/write/poll/ioctl, backed by pvm/mwsocket's
// instance state machine and pvm/registry's request correlation, plus
// the background response-consumer loop that drains transport/ring's
// PVMSide and completes active requests by id (spec.md §4.3).
// Grounded on protvm/kernel/mwcomms/mwcomms-base.c's Read/Write file-op
// pair and teacher server/run.go's small orchestrating-type-over-a-
// channel idiom for the consumer loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package dispatcher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/openxt/mwsockets-go/core/wire"
	"github.com/openxt/mwsockets-go/pvm/mwsocket"
	"github.com/openxt/mwsockets-go/pvm/registry"
)

// DefaultCloseTimeout bounds how long Close waits for its response
// before giving up, per spec.md §4.4's "Close waits for the response
// (bounded timeout)".
const DefaultCloseTimeout = 5 * time.Second

// ErrNotMwsocket is returned when an ioctl is issued against a local
// handle the table does not recognize.
var ErrNotMwsocket = errors.New("dispatcher: not an mwsocket handle")

// responseSource is the subset of transport/ring.PVMSide the response
// consumer loop needs.
type responseSource interface {
	TryRecv() (*wire.Response, bool, error)
	Wait(closed <-chan struct{})
}

// ringSender mirrors pvm/mwsocket's narrow Send dependency so Device
// can be constructed from the same transport/ring.PVMSide value.
type ringSender interface {
	Send(req *wire.Request) error
}

// Device is the PVM-side handle table plus its request/response
// plumbing — the in-process analogue of the kernel device node spec.md
// §4.4 describes.
type Device struct {
	table *mwsocket.Table
	reg   *registry.Registry
	send  ringSender
	resp  responseSource
}

// NewDevice constructs a Device over a transport/ring.PVMSide-shaped
// pair of interfaces; side must implement both ringSender (for
// producing requests) and responseSource (for the consumer loop).
func NewDevice(side interface {
	ringSender
	responseSource
}) *Device {
	reg := registry.New()
	return &Device{
		table: mwsocket.NewTable(side, reg),
		reg:   reg,
		send:  side,
		resp:  side,
	}
}

// QueryPollset issues a PollsetQuery request and waits up to timeout
// for its response, per spec.md §4.5. On success the returned entries
// are also fanned out into every live handle's cached poll events
// (ApplyPollEntries), ready for a subsequent Poll() call.
func (d *Device) QueryPollset(timeout time.Duration) ([]wire.PollEntry, error) {
	entry := d.reg.Allocate()
	req := &wire.Request{Preamble: wire.Preamble{Type: wire.OpPollsetQuery, ID: entry.ID, Sockfd: wire.Invalid}}
	if err := d.send.Send(req); err != nil {
		d.reg.Forget(entry.ID)
		return nil, err
	}
	timedOut := make(chan struct{})
	timer := time.AfterFunc(timeout, func() { close(timedOut) })
	defer timer.Stop()
	resp, err := entry.Wait(timedOut)
	if err != nil {
		return nil, err
	}
	entries := wire.DecodePollEntries(resp.Payload)
	d.ApplyPollEntries(entries)
	return entries, nil
}

// ApplyPollEntries fans a PollsetQuery response out to every live
// handle: a handle whose remote handle matches one of the entries gets
// that entry's events, every other handle has its cached poll events
// cleared. The table lock is held only while the instance list is
// snapshotted; each handle is then updated under its own lock.
func (d *Device) ApplyPollEntries(entries []wire.PollEntry) {
	byHandle := make(map[wire.Handle]uint32, len(entries))
	for _, e := range entries {
		byHandle[e.Sockfd] = e.Events
	}
	d.table.Each(func(_ wire.Handle, in *mwsocket.Instance) {
		in.SetPollEvents(byHandle[in.Remote()])
	})
}

// Live reports whether at least one mwsocket instance currently
// exists, gating whether the poll monitor has anything to query.
func (d *Device) Live() bool { return d.table.Len() > 0 }

// EachOpen calls fn for every currently open handle, used by rundown
// to issue a best-effort Close against each on process exit.
func (d *Device) EachOpen(fn func(h *Handle)) {
	d.table.Each(func(_ wire.Handle, in *mwsocket.Instance) {
		fn(&Handle{dev: d, in: in})
	})
}

// Run drains responses from the ring and completes their matching
// active requests, per spec.md §4.3's response-consumer thread. It
// blocks until closed is closed. A fatal TryRecv error (the ring
// declared corrupt) puts the registry into pending-exit via reg.Fail
// before returning, so every goroutine blocked in Entry.Wait observes
// the spec's third terminal outcome instead of hanging forever.
func (d *Device) Run(closed <-chan struct{}) error {
	for {
		for {
			resp, ok, err := d.resp.TryRecv()
			if err != nil {
				d.reg.Fail(err)
				return err
			}
			if !ok {
				break
			}
			d.reg.Complete(resp)
		}
		select {
		case <-closed:
			return nil
		default:
		}
		d.resp.Wait(closed)
		select {
		case <-closed:
			return nil
		default:
		}
	}
}

// Handle is a process-local mwsocket fd: the user-facing read/write/
// poll/ioctl surface over one pvm/mwsocket.Instance.
type Handle struct {
	dev *Device
	in  *mwsocket.Instance
}

// Open allocates a fresh local handle (pre-Create; its remote handle
// is wire.Invalid until a Create or Accept response arrives).
func (d *Device) Open() *Handle {
	return &Handle{dev: d, in: d.table.New()}
}

// Lookup resolves a previously Open'd handle's local fd back to its
// Handle wrapper, used when a caller only has the raw wire.Handle
// (e.g. netflow's synthetic Attrib requests).
func (d *Device) Lookup(local wire.Handle) (*Handle, error) {
	in, err := d.table.Lookup(local)
	if err != nil {
		return nil, err
	}
	return &Handle{dev: d, in: in}, nil
}

// Local returns the handle's process-local fd value.
func (h *Handle) Local() wire.Handle { return h.in.Local }

// Write sends req and returns once it has been produced onto the
// ring, per spec.md §4.4's write pre-processing. acceptChildFactory is
// only consulted for OpAccept.
func (h *Handle) Write(req *wire.Request, acceptChildFactory func() *Handle) error {
	var factory func() *mwsocket.Instance
	if acceptChildFactory != nil {
		factory = func() *mwsocket.Instance { return acceptChildFactory().in }
	}
	return h.in.Write(req, factory)
}

// Read blocks for req's response, applying spec.md §4.4's post-
// processing, and returns the response payload bytes.
func (h *Handle) Read(interrupt <-chan struct{}) ([]byte, error) {
	return h.in.Read(interrupt)
}

// Poll returns the last poll events the background poll monitor
// observed for this handle (spec.md §4.5).
func (h *Handle) Poll() uint32 { return h.in.PollEvents() }

// PendingErrno drains any latched errno from a previous failing op.
func (h *Handle) PendingErrno() int32 { return h.in.ConsumePendingErrno() }

// PendingSigpipe drains the pending-SIGPIPE latch, delivering it
// exactly once.
func (h *Handle) PendingSigpipe() bool { return h.in.ConsumePendingSigpipe() }

// Close issues a Close request and waits for its response with a
// bounded timeout, per spec.md §4.4.
func (h *Handle) Close(timeout time.Duration) error {
	err := h.in.Close(timeout)
	h.dev.table.Forget(h.in.Local)
	return err
}

// CreateSocket implements the `CREATE_SOCKET(domain, type, protocol)
// -> local_fd` ioctl from spec.md §6: opens a new Handle, issues the
// Create request and waits for its response, returning the new
// handle's local fd once the INS has allocated a worker.
func (d *Device) CreateSocket(family wire.ProtocolFamily, typ wire.SockType, protocol int32) (*Handle, error) {
	h := d.Open()
	payload := wire.CreatePayload{Family: family, Type: typ, Protocol: protocol}
	buf := make([]byte, wire.CreatePayloadLen)
	payload.Encode(buf)
	req := &wire.Request{Preamble: wire.Preamble{Type: wire.OpCreate}, Payload: buf}
	if err := h.Write(req, nil); err != nil {
		return nil, err
	}
	if _, err := h.Read(nil); err != nil {
		return nil, err
	}
	if status := h.in.LastStatus(); status < 0 {
		d.table.Forget(h.Local())
		return nil, errnoError(status)
	}
	return h, nil
}

// IsMwsocket implements the `IS_MWSOCKET(fd) -> bool` ioctl: reports
// whether fd names a live handle in this Device's table.
func (d *Device) IsMwsocket(fd wire.Handle) bool {
	_, err := d.table.Lookup(fd)
	return err == nil
}

// SocketAttribute implements the `SOCKET_ATTRIBUTES(modify, attrib,
// value) -> value` ioctl: issues an Attrib request against fd and
// returns the (possibly unchanged) value the INS reports.
func (d *Device) SocketAttribute(fd wire.Handle, modify bool, attrib int32, value int64) (int64, error) {
	h, err := d.Lookup(fd)
	if err != nil {
		return 0, ErrNotMwsocket
	}
	if attrib == wire.AttribNonblock && modify {
		h.in.SetNonblocking(value != 0)
	}
	payload := wire.AttribPayload{Modify: modify, Attrib: attrib, Value: value}
	buf := make([]byte, wire.AttribPayloadLen)
	payload.Encode(buf)
	req := &wire.Request{Preamble: wire.Preamble{Type: wire.OpAttrib}, Payload: buf}
	if err := h.Write(req, nil); err != nil {
		return 0, err
	}
	resp, err := h.Read(nil)
	if err != nil {
		return 0, err
	}
	if errno := h.PendingErrno(); errno != 0 {
		return 0, errnoError(errno)
	}
	if len(resp) < 8 {
		return 0, nil
	}
	return int64(binary.LittleEndian.Uint64(resp[:8])), nil
}

// errnoError wraps a canonical negative status as a Go error value.
func errnoError(status int32) error {
	return fmt.Errorf("dispatcher: remote errno %d", status)
}
