// File: ins/sockengine/hostapi.go
// Package sockengine is the INS-side per-opcode handler layer (spec.md
// §4.6, §4.7): HostSocketAPI is the explicit interface boundary to the
// host OS socket syscalls spec.md §1 lists as an external collaborator
// ("socket, bind, listen, accept, connect, send/recv/recvfrom,
// shutdown, close, getsockname, getpeername, setsockopt/getsockopt,
// poll, fcntl"); Handlers implements the per-opcode translation from a
// decoded request payload to a host call, returning host results and Go
// errors (building the wire.Response is left to ins/workerpool).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package sockengine

import (
	"time"

	"github.com/openxt/mwsockets-go/core/wire"
)

// PollEvent mirrors the host's POSIX poll bitmask, passed through
// unchanged from INS to PVM per spec.md §4.5 ("event bit names are
// passed through unchanged").
type PollEvent int16

const (
	PollIn     PollEvent = 0x0001
	PollOut    PollEvent = 0x0004
	PollErr    PollEvent = 0x0008
	PollHup    PollEvent = 0x0010
	PollNVal   PollEvent = 0x0020
	PollRDNorm PollEvent = 0x0040
	PollWRNorm PollEvent = 0x0100
)

// HostSocketAPI is the host socket surface a sockengine.Handlers needs.
// The Linux implementation (unix_linux.go) wraps golang.org/x/sys/unix;
// tests use an in-memory fake (fakeHost in handlers_test.go).
type HostSocketAPI interface {
	Socket(family wire.ProtocolFamily, typ wire.SockType, protocol int) (fd int, err error)
	Bind(fd int, addr wire.SockAddr) error
	Listen(fd int, backlog int) error
	Connect(fd int, addr wire.SockAddr) error
	Accept(fd int, nonblocking bool) (newfd int, peer wire.SockAddr, err error)
	Send(fd int, buf []byte, flags int) (int, error)
	Recv(fd int, buf []byte, flags int) (int, error)
	RecvFrom(fd int, buf []byte, flags int) (int, wire.SockAddr, error)
	Shutdown(fd int, how int) error
	Close(fd int) error
	GetSockName(fd int) (wire.SockAddr, error)
	GetPeerName(fd int) (wire.SockAddr, error)
	SetNonblock(fd int, nonblocking bool) error
	SetSockOptInt(fd, level, opt, value int) error
	GetSockOptInt(fd, level, opt int) (int, error)
	Poll(fd int, events PollEvent, timeout time.Duration) (revents PollEvent, err error)
}
