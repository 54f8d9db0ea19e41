package wire_test

import (
	"testing"

	"github.com/openxt/mwsockets-go/core/wire"
)

func TestHandleEncodeDecodeRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		insID uint8
		index uint16
	}{
		{0, 0},
		{1, 42},
		{255, 65535},
	} {
		h := wire.EncodeHandle(tc.insID, tc.index)
		if !h.Valid() {
			t.Fatalf("encoded handle %d not valid", h)
		}
		gotIns, gotIdx := h.Decode()
		if gotIns != tc.insID || gotIdx != tc.index {
			t.Errorf("round trip mismatch: got (%d,%d) want (%d,%d)", gotIns, gotIdx, tc.insID, tc.index)
		}
	}
}

func TestIsMwsocketRejectsUntaggedValues(t *testing.T) {
	if wire.IsMwsocket(0) {
		t.Error("zero must not be a valid mwsocket handle")
	}
	if wire.IsMwsocket(-1) {
		t.Error("negative values must not be valid mwsocket handles")
	}
	if wire.IsMwsocket(42) {
		t.Error("an untagged small positive int (ordinary host fd) must not be a valid mwsocket handle")
	}
	h := wire.EncodeHandle(3, 7)
	if !wire.IsMwsocket(int32(h)) {
		t.Error("a properly encoded handle must be recognized")
	}
}

func TestRequestEncodeDecodeRoundTrip(t *testing.T) {
	req := &wire.Request{
		Preamble: wire.Preamble{
			Type:   wire.OpSend,
			ID:     12345,
			Sockfd: wire.EncodeHandle(0, 9),
			Flags:  wire.FlagBlocking,
		},
		Payload: []byte("hello"),
	}
	buf := make([]byte, 256)
	n, err := wire.EncodeRequest(buf, req)
	if err != nil {
		t.Fatal(err)
	}
	got, err := wire.DecodeRequest(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if got.Sig != wire.SigRequest {
		t.Errorf("sig = %x, want %x", got.Sig, wire.SigRequest)
	}
	if got.Type != wire.OpSend || got.ID != 12345 || got.Sockfd != req.Sockfd || got.Flags != wire.FlagBlocking {
		t.Errorf("decoded preamble mismatch: %+v", got.Preamble)
	}
	if string(got.Payload) != "hello" {
		t.Errorf("payload = %q, want %q", got.Payload, "hello")
	}
}

func TestResponseEncodeDecodeRoundTrip(t *testing.T) {
	resp := &wire.Response{
		Preamble: wire.Preamble{
			Type:   wire.OpRecv.Response(),
			ID:     99,
			Sockfd: wire.EncodeHandle(0, 1),
			Status: 0,
		},
		Payload: []byte("world"),
	}
	buf := make([]byte, 256)
	n, err := wire.EncodeResponse(buf, resp)
	if err != nil {
		t.Fatal(err)
	}
	got, err := wire.DecodeResponse(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if got.Sig != wire.SigResponse {
		t.Errorf("sig = %x, want %x", got.Sig, wire.SigResponse)
	}
	if got.Status != 0 || string(got.Payload) != "world" {
		t.Errorf("decoded response mismatch: %+v payload=%q", got.Preamble, got.Payload)
	}
}

func TestDecodeRequestRejectsBadSignature(t *testing.T) {
	buf := make([]byte, wire.RequestPreambleLen)
	_, err := wire.DecodeRequest(buf)
	if err != wire.ErrBadSignature {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}

func TestDecodeRequestRejectsTruncated(t *testing.T) {
	buf := make([]byte, 4)
	_, err := wire.DecodeRequest(buf)
	if err != wire.ErrTruncated {
		t.Errorf("err = %v, want ErrTruncated", err)
	}
}

func TestIsCriticalStatus(t *testing.T) {
	if !wire.IsCriticalStatus(wire.StatusInternalError) {
		t.Error("StatusInternalError must be classified critical")
	}
	if wire.IsCriticalStatus(-22) { // -EINVAL, an ordinary errno
		t.Error("an ordinary negative errno must not be classified critical")
	}
}

func TestOpcodeResponseRoundTrip(t *testing.T) {
	op := wire.OpAccept
	resp := op.Response()
	if resp.Request() != op {
		t.Errorf("Response().Request() = %v, want %v", resp.Request(), op)
	}
	if op.IsRequest() == false {
		t.Error("OpAccept should report as a request opcode")
	}
	if resp.IsRequest() {
		t.Error("response-masked opcode should not report as a request opcode")
	}
}
