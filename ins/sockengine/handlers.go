// File: ins/sockengine/handlers.go
// Handlers is the thin per-opcode business logic layer over
// HostSocketAPI: each method corresponds to one of spec.md's opcodes,
// working in host fds and Go errors (wire encoding and errno
// canonicalization happen at the caller, ins/workerpool, which already
// has the wire.Request/Response in hand).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package sockengine

import (
	"github.com/openxt/mwsockets-go/core/wire"
)

// Handlers implements spec.md §4.6's per-opcode handlers over a
// HostSocketAPI.
type Handlers struct {
	Host HostSocketAPI
}

// NewHandlers constructs a Handlers bound to host.
func NewHandlers(host HostSocketAPI) *Handlers {
	return &Handlers{Host: host}
}

// Create opens a new host socket per a decoded CreatePayload.
func (h *Handlers) Create(p wire.CreatePayload) (fd int, err error) {
	return h.Host.Socket(p.Family, p.Type, int(p.Protocol))
}

// Connect issues a host connect on fd.
func (h *Handlers) Connect(fd int, p wire.AddrPayload) error {
	return h.Host.Connect(fd, p.Addr)
}

// Bind issues a host bind on fd.
func (h *Handlers) Bind(fd int, p wire.AddrPayload) error {
	return h.Host.Bind(fd, p.Addr)
}

// Listen issues a host listen on fd.
func (h *Handlers) Listen(fd int, p wire.ListenPayload) error {
	return h.Host.Listen(fd, int(p.Backlog))
}

// Shutdown issues a host shutdown on fd.
func (h *Handlers) Shutdown(fd int, p wire.ShutdownPayload) error {
	return h.Host.Shutdown(fd, int(p.How))
}

// Close issues a host close on fd.
func (h *Handlers) Close(fd int) error {
	return h.Host.Close(fd)
}

// Attrib implements the combined SO_* option / nonblocking-toggle
// handler: AttribNonblock maps directly to SetNonblock; any other
// attribute id is a packed (level<<16|optname) pair passed straight
// through to the host's setsockopt/getsockopt.
func (h *Handlers) Attrib(fd int, p wire.AttribPayload) (int64, error) {
	if p.Attrib == wire.AttribNonblock {
		if p.Modify {
			return p.Value, h.Host.SetNonblock(fd, p.Value != 0)
		}
		return 0, nil
	}
	level := int(p.Attrib >> 16)
	opt := int(p.Attrib & 0xffff)
	if p.Modify {
		return p.Value, h.Host.SetSockOptInt(fd, level, opt, int(p.Value))
	}
	v, err := h.Host.GetSockOptInt(fd, level, opt)
	return int64(v), err
}

// GetSockName returns fd's local address.
func (h *Handlers) GetSockName(fd int) (wire.SockAddr, error) {
	return h.Host.GetSockName(fd)
}

// GetPeerName returns fd's peer address.
func (h *Handlers) GetPeerName(fd int) (wire.SockAddr, error) {
	return h.Host.GetPeerName(fd)
}

// Send writes payload to fd.
func (h *Handlers) Send(fd int, payload []byte) (int, error) {
	return h.Host.Send(fd, payload, 0)
}

// RecvResult reports the outcome of a Recv/RecvFrom call, including the
// remote-close disambiguation spec.md §4.6 requires.
type RecvResult struct {
	Data         []byte
	RemoteClosed bool
}

// Recv implements spec.md §4.6's Recv handler: read up to length bytes
// from fd. If the host returns zero bytes, disambiguate between "the
// remote closed" and "nothing to read right now": if readiness was
// already observed for this socket (priorReadiness, tracked by the
// caller's poll-monitor integration), a zero-byte read is a close. If
// not, issue one non-blocking poll to tell the two apart.
func (h *Handlers) Recv(fd int, length int, flags int, priorReadiness bool) (RecvResult, error) {
	buf := make([]byte, length)
	n, err := h.Host.Recv(fd, buf, flags)
	if err != nil {
		return RecvResult{}, err
	}
	if n > 0 {
		return RecvResult{Data: buf[:n]}, nil
	}
	if priorReadiness {
		return RecvResult{Data: buf[:0], RemoteClosed: true}, nil
	}
	revents, perr := h.Host.Poll(fd, PollIn|PollRDNorm|PollOut|PollWRNorm, 0)
	if perr != nil {
		return RecvResult{}, perr
	}
	closed := revents&(PollIn|PollRDNorm) != 0
	return RecvResult{Data: buf[:0], RemoteClosed: closed}, nil
}

// RecvFromResult is RecvResult plus the sender address for RecvFrom.
type RecvFromResult struct {
	RecvResult
	From wire.SockAddr
}

// RecvFrom is RecvFrom's handler: same disambiguation as Recv, plus the
// sender address.
func (h *Handlers) RecvFrom(fd int, length int, flags int, priorReadiness bool) (RecvFromResult, error) {
	buf := make([]byte, length)
	n, from, err := h.Host.RecvFrom(fd, buf, flags)
	if err != nil {
		return RecvFromResult{}, err
	}
	if n > 0 {
		return RecvFromResult{RecvResult: RecvResult{Data: buf[:n]}, From: from}, nil
	}
	if priorReadiness {
		return RecvFromResult{RecvResult: RecvResult{Data: buf[:0], RemoteClosed: true}}, nil
	}
	revents, perr := h.Host.Poll(fd, PollIn|PollRDNorm|PollOut|PollWRNorm, 0)
	if perr != nil {
		return RecvFromResult{}, perr
	}
	closed := revents&(PollIn|PollRDNorm) != 0
	return RecvFromResult{RecvResult: RecvResult{Data: buf[:0], RemoteClosed: closed}}, nil
}
