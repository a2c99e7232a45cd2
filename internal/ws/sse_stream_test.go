package ws

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSSEStreamFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	stream, err := OpenSSE(rec, 2*time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	if err := stream.Send([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := stream.Send([]byte("line one\nline two")); err != nil {
		t.Fatalf("send multi-line: %v", err)
	}
	if err := stream.Heartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	want := "retry: 2000\n\n" +
		"id: 1\nevent: posts\ndata: {\"a\":1}\n\n" +
		"id: 2\nevent: posts\ndata: line one\ndata: line two\n\n" +
		": keepalive\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("stream body:\n%q\nwant:\n%q", got, want)
	}
	if !rec.Flushed {
		t.Fatalf("stream was never flushed")
	}
}

func TestSSEStreamClose(t *testing.T) {
	rec := httptest.NewRecorder()
	stream, err := OpenSSE(rec, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	stream.Close()
	stream.Close()
	select {
	case <-stream.Done():
	default:
		t.Fatalf("done not closed")
	}
	if err := stream.Send([]byte("late")); !errors.Is(err, io.EOF) {
		t.Fatalf("send after close: %v", err)
	}
	if err := stream.Heartbeat(); !errors.Is(err, io.EOF) {
		t.Fatalf("heartbeat after close: %v", err)
	}
	if strings.Contains(rec.Body.String(), "late") {
		t.Fatalf("write landed after close")
	}
}
