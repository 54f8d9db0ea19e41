//go:build linux

// File: ins/sockengine/unix_linux.go
// Linux HostSocketAPI implementation over golang.org/x/sys/unix, the
// way the teacher's reactor package wraps raw socket syscalls for its
// epoll backend (reactor/epoll_reactor.go), generalized here from
// epoll registration to the full socket lifecycle spec.md §1 names.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package sockengine

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openxt/mwsockets-go/core/wire"
)

// UnixHostSocketAPI is the Linux HostSocketAPI, a thin wrapper over
// golang.org/x/sys/unix.
type UnixHostSocketAPI struct{}

// NewUnixHostSocketAPI constructs the Linux host socket implementation.
func NewUnixHostSocketAPI() *UnixHostSocketAPI {
	return &UnixHostSocketAPI{}
}

func toUnixDomain(f wire.ProtocolFamily) (int, error) {
	switch f {
	case wire.PFInet:
		return unix.AF_INET, nil
	case wire.PFInet6:
		return unix.AF_INET6, nil
	default:
		return 0, fmt.Errorf("sockengine: unsupported protocol family %d", f)
	}
}

func toUnixType(t wire.SockType) (int, error) {
	switch t {
	case wire.STStream:
		return unix.SOCK_STREAM, nil
	case wire.STDgram:
		return unix.SOCK_DGRAM, nil
	default:
		return 0, fmt.Errorf("sockengine: unsupported socket type %d", t)
	}
}

func toUnixSockaddr(a wire.SockAddr) (unix.Sockaddr, error) {
	switch a.Family {
	case wire.PFInet:
		sa := &unix.SockaddrInet4{Port: int(a.Port)}
		copy(sa.Addr[:], a.Addr[:4])
		return sa, nil
	case wire.PFInet6:
		sa := &unix.SockaddrInet6{Port: int(a.Port)}
		copy(sa.Addr[:], a.Addr[:16])
		return sa, nil
	default:
		return nil, fmt.Errorf("sockengine: unsupported protocol family %d", a.Family)
	}
}

func fromUnixSockaddr(sa unix.Sockaddr) (wire.SockAddr, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		var out wire.SockAddr
		out.Family = wire.PFInet
		out.Port = uint16(v.Port)
		copy(out.Addr[:4], v.Addr[:])
		return out, nil
	case *unix.SockaddrInet6:
		var out wire.SockAddr
		out.Family = wire.PFInet6
		out.Port = uint16(v.Port)
		copy(out.Addr[:16], v.Addr[:])
		return out, nil
	default:
		return wire.SockAddr{}, fmt.Errorf("sockengine: unsupported host sockaddr %T", sa)
	}
}

func (*UnixHostSocketAPI) Socket(family wire.ProtocolFamily, typ wire.SockType, protocol int) (int, error) {
	domain, err := toUnixDomain(family)
	if err != nil {
		return -1, err
	}
	sockType, err := toUnixType(typ)
	if err != nil {
		return -1, err
	}
	return unix.Socket(domain, sockType, protocol)
}

func (*UnixHostSocketAPI) Bind(fd int, addr wire.SockAddr) error {
	sa, err := toUnixSockaddr(addr)
	if err != nil {
		return err
	}
	return unix.Bind(fd, sa)
}

func (*UnixHostSocketAPI) Listen(fd int, backlog int) error {
	return unix.Listen(fd, backlog)
}

func (*UnixHostSocketAPI) Connect(fd int, addr wire.SockAddr) error {
	sa, err := toUnixSockaddr(addr)
	if err != nil {
		return err
	}
	return unix.Connect(fd, sa)
}

func (a *UnixHostSocketAPI) Accept(fd int, nonblocking bool) (int, wire.SockAddr, error) {
	newfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, wire.SockAddr{}, err
	}
	if nonblocking {
		if err := a.SetNonblock(newfd, true); err != nil {
			unix.Close(newfd)
			return -1, wire.SockAddr{}, err
		}
	}
	peer, err := fromUnixSockaddr(sa)
	if err != nil {
		unix.Close(newfd)
		return -1, wire.SockAddr{}, err
	}
	return newfd, peer, nil
}

func (*UnixHostSocketAPI) Send(fd int, buf []byte, flags int) (int, error) {
	return unix.Send(fd, buf, flags)
}

// Recv loops on the host recv call, retrying on the host's EINTR per
// spec.md §4.6, the same retry shape Poll below uses.
func (*UnixHostSocketAPI) Recv(fd int, buf []byte, flags int) (int, error) {
	for {
		n, _, err := unix.Recvfrom(fd, buf, flags)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func (*UnixHostSocketAPI) RecvFrom(fd int, buf []byte, flags int) (int, wire.SockAddr, error) {
	for {
		n, sa, err := unix.Recvfrom(fd, buf, flags)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, wire.SockAddr{}, err
		}
		if sa == nil {
			return n, wire.SockAddr{}, nil
		}
		from, err := fromUnixSockaddr(sa)
		return n, from, err
	}
}

func (*UnixHostSocketAPI) Shutdown(fd int, how int) error {
	return unix.Shutdown(fd, how)
}

func (*UnixHostSocketAPI) Close(fd int) error {
	return unix.Close(fd)
}

func (*UnixHostSocketAPI) GetSockName(fd int) (wire.SockAddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return wire.SockAddr{}, err
	}
	return fromUnixSockaddr(sa)
}

func (*UnixHostSocketAPI) GetPeerName(fd int) (wire.SockAddr, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return wire.SockAddr{}, err
	}
	return fromUnixSockaddr(sa)
}

func (*UnixHostSocketAPI) SetNonblock(fd int, nonblocking bool) error {
	return unix.SetNonblock(fd, nonblocking)
}

func (*UnixHostSocketAPI) SetSockOptInt(fd, level, opt, value int) error {
	return unix.SetsockoptInt(fd, level, opt, value)
}

func (*UnixHostSocketAPI) GetSockOptInt(fd, level, opt int) (int, error) {
	return unix.GetsockoptInt(fd, level, opt)
}

func (*UnixHostSocketAPI) Poll(fd int, events PollEvent, timeout time.Duration) (PollEvent, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: int16(events)}}
	ms := int(timeout / time.Millisecond)
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, nil
		}
		return PollEvent(fds[0].Revents), nil
	}
}

var _ HostSocketAPI = (*UnixHostSocketAPI)(nil)
