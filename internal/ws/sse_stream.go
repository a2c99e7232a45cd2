package ws

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	sseEventName    = "posts"
	sseWriteTimeout = 10 * time.Second
)

// SSEStream delivers hub events over a text/event-stream response. Frames
// carry a sequence id so clients can detect gaps after reconnecting.
type SSEStream struct {
	mu     sync.Mutex
	w      io.Writer
	rc     *http.ResponseController
	seq    uint64
	closed bool

	done chan struct{}
	once sync.Once
}

// OpenSSE writes the stream headers and a reconnect hint, then flushes them.
// It fails when w cannot be flushed.
func OpenSSE(w http.ResponseWriter, retry time.Duration) (*SSEStream, error) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")

	s := &SSEStream{w: w, rc: http.NewResponseController(w), done: make(chan struct{})}
	w.WriteHeader(http.StatusOK)
	if retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n\n", retry.Milliseconds()); err != nil {
			return nil, err
		}
	}
	if err := s.rc.Flush(); err != nil {
		return nil, fmt.Errorf("sse: flush: %w", err)
	}
	return s, nil
}

// Send writes payload as one "posts" event. Multi-line payloads are split
// across data fields.
func (s *SSEStream) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.EOF
	}
	s.seq++
	var frame bytes.Buffer
	frame.WriteString("id: ")
	frame.WriteString(strconv.FormatUint(s.seq, 10))
	frame.WriteString("\nevent: " + sseEventName + "\n")
	for _, line := range bytes.Split(payload, []byte("\n")) {
		frame.WriteString("data: ")
		frame.Write(line)
		frame.WriteByte('\n')
	}
	frame.WriteByte('\n')
	return s.writeLocked(frame.Bytes())
}

// Heartbeat writes a comment frame so idle proxies keep the connection open.
func (s *SSEStream) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.EOF
	}
	return s.writeLocked([]byte(": keepalive\n\n"))
}

func (s *SSEStream) writeLocked(frame []byte) error {
	if err := s.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.closed = true
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		s.closed = true
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.closed = true
		return err
	}
	return nil
}

// Close stops further writes and releases Done waiters.
func (s *SSEStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.once.Do(func() { close(s.done) })
}

// Done is closed once the hub or the handler closes the stream.
func (s *SSEStream) Done() <-chan struct{} {
	return s.done
}
