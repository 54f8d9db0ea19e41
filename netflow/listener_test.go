// File: netflow/listener_test.go
package netflow

import (
	"net"
	"testing"
	"time"
)

type echoAttrHandler struct{}

func (echoAttrHandler) HandleFeature(req FeatureRequest) FeatureResponse {
	return FeatureResponse{ReqID: req.ReqID, Status: 0, Value: req.Value * 2}
}

func dialListener(t *testing.T, l *Listener) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func TestListenerServesFeatureRequest(t *testing.T) {
	l, err := NewListener("127.0.0.1:0", echoAttrHandler{})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer l.Close()
	go l.Serve()

	conn := dialListener(t, l)
	defer conn.Close()

	req := FeatureRequest{ReqID: 9, Handle: -1, Attrib: 3, Value: 21}
	if err := WriteFrame(conn, &Frame{Type: FrameFeatureRequest, Payload: req.Encode()}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Type != FrameFeatureResponse {
		t.Fatalf("Type = %v, want FrameFeatureResponse", frame.Type)
	}
	resp, err := DecodeFeatureResponse(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeFeatureResponse: %v", err)
	}
	if resp.ReqID != 9 || resp.Value != 42 {
		t.Fatalf("resp = %+v, want ReqID=9 Value=42", resp)
	}
}

func TestListenerBroadcastsStatsToAllConsumers(t *testing.T) {
	l, err := NewListener("127.0.0.1:0", echoAttrHandler{})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer l.Close()
	go l.Serve()

	c1 := dialListener(t, l)
	defer c1.Close()
	c2 := dialListener(t, l)
	defer c2.Close()

	// give the accept loop a moment to register both consumers.
	time.Sleep(20 * time.Millisecond)
	l.Broadcast("1:2:3")

	for _, c := range []net.Conn{c1, c2} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		frame, err := ReadFrame(c)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if frame.Type != FrameStats || string(frame.Payload) != "1:2:3" {
			t.Fatalf("frame = %+v, want stats \"1:2:3\"", frame)
		}
	}
}
