// File: core/wire/payloads.go
// Per-opcode payload encoding. Each payload is a small packed struct
// appended after the common preamble; sizes are tiny and fixed except for
// Send/Recv (raw byte payloads, already carried as Request.Payload /
// Response.Payload) and PollsetQuery's response (a variable-length list).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wire

import (
	"encoding/binary"
)

// ProtocolFamily mirrors mt_protocol_family_t: Linux and the INS's host
// stack do not necessarily agree on raw AF_* constants, so the two VMs
// exchange this small canonical enum instead.
type ProtocolFamily int32

const (
	PFUnset ProtocolFamily = iota
	PFInet
	PFInet6
)

// SockType mirrors mt_sock_type_t.
type SockType int32

const (
	STUnset SockType = iota
	STDgram
	STStream
)

// SockAddr is the canonical wire form of sockaddr_in: family, port and a
// 4-byte IPv4 address. IPv6 addresses are out of scope per spec's
// Non-goals around multicast/UDP complexity; PFInet6 sockets carry their
// address in the first 16 bytes of Addr with Family set accordingly.
type SockAddr struct {
	Family ProtocolFamily
	Port   uint16
	Addr   [16]byte
}

// SockAddrLen is the encoded size of a SockAddr.
const SockAddrLen = 4 + 2 + 16
const sockAddrLen = SockAddrLen

// PutSockAddr writes a SockAddr's wire form into dst[0:sockAddrLen].
func PutSockAddr(dst []byte, a SockAddr) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(a.Family))
	binary.LittleEndian.PutUint16(dst[4:6], a.Port)
	copy(dst[6:6+16], a.Addr[:])
}

// GetSockAddr reads a SockAddr's wire form from src[0:sockAddrLen].
func GetSockAddr(src []byte) SockAddr {
	var a SockAddr
	a.Family = ProtocolFamily(binary.LittleEndian.Uint32(src[0:4]))
	a.Port = binary.LittleEndian.Uint16(src[4:6])
	copy(a.Addr[:], src[6:6+16])
	return a
}

// CreatePayload is the Create request body.
type CreatePayload struct {
	Family   ProtocolFamily
	Type     SockType
	Protocol int32
}

const CreatePayloadLen = 4 + 4 + 4

func (p CreatePayload) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(p.Family))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(p.Type))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(p.Protocol))
}

func DecodeCreatePayload(src []byte) CreatePayload {
	return CreatePayload{
		Family:   ProtocolFamily(binary.LittleEndian.Uint32(src[0:4])),
		Type:     SockType(binary.LittleEndian.Uint32(src[4:8])),
		Protocol: int32(binary.LittleEndian.Uint32(src[8:12])),
	}
}

// AddrPayload is the body shared by Connect and Bind requests.
type AddrPayload struct {
	Addr SockAddr
}

func (p AddrPayload) Encode(dst []byte) { PutSockAddr(dst, p.Addr) }

func DecodeAddrPayload(src []byte) AddrPayload {
	return AddrPayload{Addr: GetSockAddr(src)}
}

// ListenPayload is the Listen request body.
type ListenPayload struct {
	Backlog int32
}

func (p ListenPayload) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(p.Backlog))
}

func DecodeListenPayload(src []byte) ListenPayload {
	return ListenPayload{Backlog: int32(binary.LittleEndian.Uint32(src[0:4]))}
}

// ShutdownPayload is the Shutdown request body (SHUT_RD/WR/RDWR).
type ShutdownPayload struct {
	How int32
}

func (p ShutdownPayload) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(p.How))
}

func DecodeShutdownPayload(src []byte) ShutdownPayload {
	return ShutdownPayload{How: int32(binary.LittleEndian.Uint32(src[0:4]))}
}

// RecvPayload is the Recv/RecvFrom request body: how many bytes the caller
// wants and the POSIX recv flags.
type RecvPayload struct {
	Length int32
	Flags  int32
}

const RecvPayloadLen = 4 + 4

func (p RecvPayload) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(p.Length))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(p.Flags))
}

func DecodeRecvPayload(src []byte) RecvPayload {
	return RecvPayload{
		Length: int32(binary.LittleEndian.Uint32(src[0:4])),
		Flags:  int32(binary.LittleEndian.Uint32(src[4:8])),
	}
}

// Reserved Attrib identifiers. AttribNonblock toggles the host fd's
// O_NONBLOCK flag directly (spec.md §8 scenario S4 depends on this);
// any other value is treated as a packed (level<<16|optname) SO_* pair
// passed straight through to setsockopt/getsockopt.
const AttribNonblock int32 = 1

// AttribPayload models a combined SO_* option / INS-global sysctl get-set.
type AttribPayload struct {
	Modify bool
	Attrib int32
	Value  int64
}

const AttribPayloadLen = 1 + 4 + 8

func (p AttribPayload) Encode(dst []byte) {
	if p.Modify {
		dst[0] = 1
	} else {
		dst[0] = 0
	}
	binary.LittleEndian.PutUint32(dst[1:5], uint32(p.Attrib))
	binary.LittleEndian.PutUint64(dst[5:13], uint64(p.Value))
}

func DecodeAttribPayload(src []byte) AttribPayload {
	return AttribPayload{
		Modify: src[0] != 0,
		Attrib: int32(binary.LittleEndian.Uint32(src[1:5])),
		Value:  int64(binary.LittleEndian.Uint64(src[5:13])),
	}
}

// PollEntry is one (remote_fd, events) pair in a PollsetQuery response.
type PollEntry struct {
	Sockfd Handle
	Events uint32
}

const pollEntryLen = 4 + 4

// EncodePollEntries serializes a slice of PollEntry into dst.
func EncodePollEntries(dst []byte, entries []PollEntry) int {
	for i, e := range entries {
		off := i * pollEntryLen
		binary.LittleEndian.PutUint32(dst[off:off+4], uint32(e.Sockfd))
		binary.LittleEndian.PutUint32(dst[off+4:off+8], e.Events)
	}
	return len(entries) * pollEntryLen
}

// DecodePollEntries parses a PollsetQuery response payload.
func DecodePollEntries(src []byte) []PollEntry {
	n := len(src) / pollEntryLen
	out := make([]PollEntry, n)
	for i := 0; i < n; i++ {
		off := i * pollEntryLen
		out[i] = PollEntry{
			Sockfd: Handle(binary.LittleEndian.Uint32(src[off : off+4])),
			Events: binary.LittleEndian.Uint32(src[off+4 : off+8]),
		}
	}
	return out
}
