// File: core/wire/message.go
// Packed preamble codec for the shared ring. Fields are little-endian on
// the wire, matching the teacher's own frame codec convention
// (protocol/frame_codec.go used big-endian length fields; this preamble
// is little-endian because it mirrors the assumed shared-memory machine
// convention, not network byte order).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wire

import (
	"encoding/binary"
	"errors"
)

// SigRequest and SigResponse distinguish message direction; a dequeued
// message whose signature doesn't match the expected direction is a fatal
// ring-corruption condition.
const (
	SigRequest  uint16 = 0xff11
	SigResponse uint16 = 0xff33
)

// RequestPreambleLen is the encoded size of a request's fixed header.
const RequestPreambleLen = 2 + 2 + 2 + 8 + 4 + 2 // sig,type,size,id,sockfd,flags

// ResponsePreambleLen is the encoded size of a response's fixed header,
// which additionally carries the status field.
const ResponsePreambleLen = RequestPreambleLen + 4

// Flag bits carried in the preamble's Flags field.
type Flag uint16

const (
	FlagFireAndForget Flag = 1 << iota
	FlagRemoteClosed
	FlagBlocking
	FlagCritical
)

// ErrTruncated is returned when a byte slice is too short to hold even the
// fixed preamble.
var ErrTruncated = errors.New("wire: message truncated")

// ErrBadSignature is returned when a decoded preamble's signature does not
// match the expected direction. Per spec this is fatal to the owning ring.
var ErrBadSignature = errors.New("wire: bad signature")

// ErrOversize is returned when an encoded message would not fit in a
// fixed-size slot.
var ErrOversize = errors.New("wire: message exceeds slot capacity")

// Preamble is the common header of every request and response.
type Preamble struct {
	Sig    uint16
	Type   Opcode
	Size   uint16
	ID     uint64
	Sockfd Handle
	Flags  Flag
	Status int32 // response only
}

// Request is a full outbound/inbound request message: preamble plus
// opaque payload bytes (the per-opcode body, e.g. connect address,
// send buffer).
type Request struct {
	Preamble
	Payload []byte
}

// Response is a full response message: preamble (with Status populated)
// plus opaque payload bytes (e.g. the bytes read by Recv).
type Response struct {
	Preamble
	Payload []byte
}

// EncodeRequest serializes a request into dst, which must be at least
// RequestPreambleLen+len(payload) bytes. Returns the number of bytes
// written, or ErrOversize if dst is too small.
func EncodeRequest(dst []byte, r *Request) (int, error) {
	total := RequestPreambleLen + len(r.Payload)
	if total > len(dst) {
		return 0, ErrOversize
	}
	if total > int(^uint16(0)) {
		return 0, ErrOversize
	}
	binary.LittleEndian.PutUint16(dst[0:2], SigRequest)
	binary.LittleEndian.PutUint16(dst[2:4], uint16(r.Type))
	binary.LittleEndian.PutUint16(dst[4:6], uint16(total))
	binary.LittleEndian.PutUint64(dst[6:14], r.ID)
	binary.LittleEndian.PutUint32(dst[14:18], uint32(r.Sockfd))
	binary.LittleEndian.PutUint16(dst[18:20], uint16(r.Flags))
	copy(dst[RequestPreambleLen:total], r.Payload)
	return total, nil
}

// DecodeRequest parses a request out of raw, which must have been produced
// by EncodeRequest (or an equivalent INS-side encoder). The returned
// Request's Payload aliases raw; callers that retain it past the slot's
// reuse must copy.
func DecodeRequest(raw []byte) (*Request, error) {
	if len(raw) < RequestPreambleLen {
		return nil, ErrTruncated
	}
	sig := binary.LittleEndian.Uint16(raw[0:2])
	if sig != SigRequest {
		return nil, ErrBadSignature
	}
	size := binary.LittleEndian.Uint16(raw[4:6])
	if int(size) < RequestPreambleLen || int(size) > len(raw) {
		return nil, ErrTruncated
	}
	r := &Request{
		Preamble: Preamble{
			Sig:    sig,
			Type:   Opcode(binary.LittleEndian.Uint16(raw[2:4])),
			Size:   size,
			ID:     binary.LittleEndian.Uint64(raw[6:14]),
			Sockfd: Handle(binary.LittleEndian.Uint32(raw[14:18])),
			Flags:  Flag(binary.LittleEndian.Uint16(raw[18:20])),
		},
		Payload: raw[RequestPreambleLen:size],
	}
	return r, nil
}

// EncodeResponse serializes a response into dst. Returns bytes written.
func EncodeResponse(dst []byte, r *Response) (int, error) {
	total := ResponsePreambleLen + len(r.Payload)
	if total > len(dst) {
		return 0, ErrOversize
	}
	if total > int(^uint16(0)) {
		return 0, ErrOversize
	}
	binary.LittleEndian.PutUint16(dst[0:2], SigResponse)
	binary.LittleEndian.PutUint16(dst[2:4], uint16(r.Type))
	binary.LittleEndian.PutUint16(dst[4:6], uint16(total))
	binary.LittleEndian.PutUint64(dst[6:14], r.ID)
	binary.LittleEndian.PutUint32(dst[14:18], uint32(r.Sockfd))
	binary.LittleEndian.PutUint16(dst[18:20], uint16(r.Flags))
	binary.LittleEndian.PutUint32(dst[20:24], uint32(r.Status))
	copy(dst[ResponsePreambleLen:total], r.Payload)
	return total, nil
}

// DecodeResponse parses a response out of raw. See DecodeRequest for the
// payload-aliasing caveat.
func DecodeResponse(raw []byte) (*Response, error) {
	if len(raw) < ResponsePreambleLen {
		return nil, ErrTruncated
	}
	sig := binary.LittleEndian.Uint16(raw[0:2])
	if sig != SigResponse {
		return nil, ErrBadSignature
	}
	size := binary.LittleEndian.Uint16(raw[4:6])
	if int(size) < ResponsePreambleLen || int(size) > len(raw) {
		return nil, ErrTruncated
	}
	r := &Response{
		Preamble: Preamble{
			Sig:    sig,
			Type:   Opcode(binary.LittleEndian.Uint16(raw[2:4])),
			Size:   size,
			ID:     binary.LittleEndian.Uint64(raw[6:14]),
			Sockfd: Handle(binary.LittleEndian.Uint32(raw[14:18])),
			Flags:  Flag(binary.LittleEndian.Uint16(raw[18:20])),
			Status: int32(binary.LittleEndian.Uint32(raw[20:24])),
		},
		Payload: raw[ResponsePreambleLen:size],
	}
	return r, nil
}

// IsCriticalStatus reports whether a response status falls in the
// reserved "critical" high-bit range (a negative status whose magnitude
// has bit 30, 0x40000000, set), which a PVM handler must treat as
// equivalent to a remote close (latch SIGPIPE, not just errno).
func IsCriticalStatus(status int32) bool {
	return status < 0 && uint32(-status)&0x40000000 != 0
}

// StatusInternalError is returned by the INS when a request cannot be
// serviced due to local resource exhaustion (e.g. the worker pool is
// full), per spec's "reserved critical status" for worker-pool
// exhaustion.
const StatusInternalError int32 = -0x40000001
