// File: core/wire/opcode.go
// Package wire defines the on-the-wire message model shared by the PVM and
// the INS: the common preamble, the opcode table, and the socket handle
// encoding. Layout follows the preamble described in the spec's data model
// (sig/type/size/id/sockfd/flags/status), little-endian on the wire since
// requests and responses cross a VM boundary compiled by different
// toolchains.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wire

// Opcode identifies the socket operation a request/response pair carries.
type Opcode uint16

// ResponseMask is OR'd into a request's Opcode to form the matching
// response's type field.
const ResponseMask Opcode = 0x7000

const (
	OpInvalid Opcode = iota
	OpCreate
	OpShutdown
	OpClose
	OpConnect
	OpBind
	OpListen
	OpAccept
	OpSend
	OpRecv
	OpRecvFrom
	OpGetSockName
	OpGetPeerName
	OpAttrib
	OpPollsetQuery
)

// IsRequest reports whether op identifies a request-side opcode.
func (op Opcode) IsRequest() bool { return op&ResponseMask == 0 }

// Response returns the response-side opcode for a request opcode.
func (op Opcode) Response() Opcode { return op | ResponseMask }

// Request strips the response mask, returning the request-side opcode.
func (op Opcode) Request() Opcode { return op &^ ResponseMask }

func (op Opcode) String() string {
	switch op.Request() {
	case OpInvalid:
		return "Invalid"
	case OpCreate:
		return "Create"
	case OpShutdown:
		return "Shutdown"
	case OpClose:
		return "Close"
	case OpConnect:
		return "Connect"
	case OpBind:
		return "Bind"
	case OpListen:
		return "Listen"
	case OpAccept:
		return "Accept"
	case OpSend:
		return "Send"
	case OpRecv:
		return "Recv"
	case OpRecvFrom:
		return "RecvFrom"
	case OpGetSockName:
		return "GetSockName"
	case OpGetPeerName:
		return "GetPeerName"
	case OpAttrib:
		return "Attrib"
	case OpPollsetQuery:
		return "PollsetQuery"
	default:
		return "Unknown"
	}
}

// RequiresWorker reports whether the dispatcher must route this opcode to a
// per-socket worker slot rather than executing it inline. Create and
// PollsetQuery never need a worker (Create allocates one, PollsetQuery
// addresses none in particular); Connect/Send/Accept/Recv/RecvFrom/
// GetSockName/GetPeerName run on the worker that owns the socket so a
// blocking syscall there cannot stall the dispatcher.
func (op Opcode) RequiresWorker() bool {
	switch op.Request() {
	case OpConnect, OpSend, OpAccept, OpRecv, OpRecvFrom, OpGetSockName, OpGetPeerName:
		return true
	default:
		return false
	}
}

// Blocking reports whether the handler for this opcode may block the
// worker inside a host syscall for a meaningful duration, matching spec's
// distinction between inline ops (Shutdown/Close/Bind/Listen/Attrib) and
// worker-dispatched ops (Connect/Send/Accept/Recv/RecvFrom/...).
func (op Opcode) Blocking() bool {
	return op.RequiresWorker()
}
