// File: transport/ring/header.go
// Header is the encode/decode form of the ring's shared first page
// (spec.md §9 Open Question resolution 2: "first page holds the shared
// header, immediately followed by the slot array"). A real PVM/INS pair
// maps this page directly and updates the four cursors with atomic
// stores into shared memory; this single-binary transport keeps the
// cursors as atomic.Uint64 fields on slotRing and uses Header purely for wire
// interop and debug introspection — Encode/Decode round-trip the same
// bytes a C peer would read, without requiring unsafe pointer casts
// into a []byte for the hot path.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ring

import "encoding/binary"

// HeaderSize is the encoded size of Header: four uint64 cursors.
const HeaderSize = 8 * 4

// Header snapshots the four ring cursors spec.md §3 names: request
// producer/consumer and response producer/consumer.
type Header struct {
	ReqProd uint64
	ReqCons uint64
	RspProd uint64
	RspCons uint64
}

// Encode writes h into dst, which must be at least HeaderSize bytes.
func Encode(dst []byte, h Header) {
	binary.LittleEndian.PutUint64(dst[0:8], h.ReqProd)
	binary.LittleEndian.PutUint64(dst[8:16], h.ReqCons)
	binary.LittleEndian.PutUint64(dst[16:24], h.RspProd)
	binary.LittleEndian.PutUint64(dst[24:32], h.RspCons)
}

// Decode reads a Header out of src, which must be at least HeaderSize
// bytes.
func Decode(src []byte) Header {
	return Header{
		ReqProd: binary.LittleEndian.Uint64(src[0:8]),
		ReqCons: binary.LittleEndian.Uint64(src[8:16]),
		RspProd: binary.LittleEndian.Uint64(src[16:24]),
		RspCons: binary.LittleEndian.Uint64(src[24:32]),
	}
}

// Snapshot captures a Transport's current cursors for encoding or
// metrics export (control.MetricsRegistry gauges, per SPEC_FULL's
// ambient stack).
func (t *Transport) Snapshot() Header {
	return Header{
		ReqProd: t.request.prod.Load(),
		ReqCons: t.request.cons.Load(),
		RspProd: t.response.prod.Load(),
		RspCons: t.response.cons.Load(),
	}
}
