// File: netflow/frame.go
// Package netflow implements the administrative side channel's wire
// shape spec.md §6 describes: a plain TCP listener broadcasting
// line-prefixed stats records and exchanging mw_feature_request /
// mw_feature_response frames, big-endian on the wire (the ring is
// little-endian; the two formats are historically distinct and this
// asymmetry is preserved deliberately).
// Grounded on core/wire/message.go's Preamble encode/decode idiom,
// adapted to netflow's own header shape and byte order.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package netflow

import (
	"encoding/binary"
	"errors"
	"io"
)

// FrameType discriminates the three record kinds a netflow consumer
// exchanges with the PVM, per spec.md §6's netflow paragraph.
type FrameType uint16

const (
	// FrameStats carries a line-prefixed stats record, broadcast from
	// the PVM to every connected consumer.
	FrameStats FrameType = 1
	// FrameFeatureRequest carries an mw_feature_request: a consumer
	// asking the PVM to translate a feature into a synthetic attribute
	// request against an mwsocket or INS global.
	FrameFeatureRequest FrameType = 2
	// FrameFeatureResponse carries the mw_feature_response answering a
	// FrameFeatureRequest.
	FrameFeatureResponse FrameType = 3
)

// magic tags every frame so a misaligned reader fails fast instead of
// silently misinterpreting a stray byte stream as a valid frame.
const magic uint16 = 0x4d57 // ASCII "MW"

// headerLen is magic(2) + type(2) + payload length(2), all big-endian.
const headerLen = 6

// maxPayload bounds a single frame's payload below the uint16 length
// field's range, so a corrupt length field is still detectable rather
// than merely failing a later read.
const maxPayload = 32 * 1024

// ErrBadMagic is returned when a frame's leading magic does not match.
var ErrBadMagic = errors.New("netflow: bad frame magic")

// ErrPayloadTooLarge is returned when a frame's declared length exceeds
// maxPayload.
var ErrPayloadTooLarge = errors.New("netflow: payload too large")

// Frame is one netflow wire record: a typed, length-prefixed payload.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Encode returns the wire bytes for f, big-endian per spec.md §6.
func (f *Frame) Encode() []byte {
	buf := make([]byte, headerLen+len(f.Payload))
	binary.BigEndian.PutUint16(buf[0:2], magic)
	binary.BigEndian.PutUint16(buf[2:4], uint16(f.Type))
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(f.Payload)))
	copy(buf[headerLen:], f.Payload)
	return buf
}

// WriteFrame encodes f and writes it to w.
func WriteFrame(w io.Writer, f *Frame) error {
	_, err := w.Write(f.Encode())
	return err
}

// ReadFrame reads one frame from r, blocking until a full header and
// payload have arrived or r returns an error.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint16(hdr[0:2]) != magic {
		return nil, ErrBadMagic
	}
	typ := FrameType(binary.BigEndian.Uint16(hdr[2:4]))
	size := binary.BigEndian.Uint16(hdr[4:6])
	if size > maxPayload {
		return nil, ErrPayloadTooLarge
	}
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return &Frame{Type: typ, Payload: payload}, nil
}

// StatsLine builds a FrameStats frame wrapping line, matching the
// `hex_open_sockets:hex_bytes_recv:hex_bytes_sent` shape spec.md §6's
// bootstrap KV table uses for `ROOT/<insid>/network_stats`.
func StatsLine(line string) *Frame {
	return &Frame{Type: FrameStats, Payload: []byte(line)}
}

// featureRequestLen is reqID(4) + handle(4) + modify(1) + pad(3) +
// attrib(4) + value(8).
const featureRequestLen = 4 + 4 + 1 + 3 + 4 + 8

// FeatureRequest is the decoded form of an mw_feature_request frame.
type FeatureRequest struct {
	ReqID  uint32
	Handle int32 // wire.Handle value; Invalid (-1) targets an INS global
	Modify bool
	Attrib int32
	Value  int64
}

// Encode returns req's FrameFeatureRequest wire payload.
func (req FeatureRequest) Encode() []byte {
	buf := make([]byte, featureRequestLen)
	binary.BigEndian.PutUint32(buf[0:4], req.ReqID)
	binary.BigEndian.PutUint32(buf[4:8], uint32(req.Handle))
	if req.Modify {
		buf[8] = 1
	}
	binary.BigEndian.PutUint32(buf[12:16], uint32(req.Attrib))
	binary.BigEndian.PutUint64(buf[16:24], uint64(req.Value))
	return buf
}

// DecodeFeatureRequest parses a FrameFeatureRequest payload.
func DecodeFeatureRequest(b []byte) (FeatureRequest, error) {
	if len(b) < featureRequestLen {
		return FeatureRequest{}, io.ErrUnexpectedEOF
	}
	return FeatureRequest{
		ReqID:  binary.BigEndian.Uint32(b[0:4]),
		Handle: int32(binary.BigEndian.Uint32(b[4:8])),
		Modify: b[8] != 0,
		Attrib: int32(binary.BigEndian.Uint32(b[12:16])),
		Value:  int64(binary.BigEndian.Uint64(b[16:24])),
	}, nil
}

// featureResponseLen is reqID(4) + status(4) + value(8).
const featureResponseLen = 4 + 4 + 8

// FeatureResponse is the decoded form of an mw_feature_response frame.
type FeatureResponse struct {
	ReqID  uint32
	Status int32 // 0 on success, negative canonical errno on failure
	Value  int64
}

// Encode returns resp's FrameFeatureResponse wire payload.
func (resp FeatureResponse) Encode() []byte {
	buf := make([]byte, featureResponseLen)
	binary.BigEndian.PutUint32(buf[0:4], resp.ReqID)
	binary.BigEndian.PutUint32(buf[4:8], uint32(resp.Status))
	binary.BigEndian.PutUint64(buf[8:16], uint64(resp.Value))
	return buf
}

// DecodeFeatureResponse parses a FrameFeatureResponse payload.
func DecodeFeatureResponse(b []byte) (FeatureResponse, error) {
	if len(b) < featureResponseLen {
		return FeatureResponse{}, io.ErrUnexpectedEOF
	}
	return FeatureResponse{
		ReqID:  binary.BigEndian.Uint32(b[0:4]),
		Status: int32(binary.BigEndian.Uint32(b[4:8])),
		Value:  int64(binary.BigEndian.Uint64(b[8:16])),
	}, nil
}
