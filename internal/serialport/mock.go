package serialport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by TestablePort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestablePort implements Porter with scripted replies for testing. Reads
// drain ReadBuffer and return (0, nil) once it is empty, which is how a real
// port reports a read timeout. Replies queued with Respond are released into
// ReadBuffer after the matching number of writes, so a test can model a
// target that only answers once it has been sent a command.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than it was given
	ShortWrite bool

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// WriteCalls records the number of Write calls
	WriteCalls int

	// ResetCalls records the number of ResetInputBuffer calls
	ResetCalls int

	// ReadTimeout is the most recent value passed to SetReadTimeout
	ReadTimeout time.Duration

	pending map[int][]byte
}

// NewTestablePort creates a new TestablePort for testing.
func NewTestablePort() *TestablePort {
	return &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		pending:     make(map[int][]byte),
	}
}

// Read reads from the read buffer.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer and releases any reply scheduled for
// this write.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	n, err := t.WriteBuffer.Write(p)
	if reply, ok := t.pending[t.WriteCalls]; ok {
		t.ReadBuffer.Write(reply)
		delete(t.pending, t.WriteCalls)
	}
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return nil
}

// SetReadTimeout implements Porter.
func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// ResetInputBuffer implements Porter by discarding unread data.
func (t *TestablePort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return ErrPortClosed
	}
	t.ResetCalls++
	t.ReadBuffer.Reset()
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
}

// Respond schedules data to become readable after the n-th Write (1-based).
func (t *TestablePort) Respond(afterWrite int, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[afterWrite] = append(t.pending[afterWrite], data...)
}

// Written returns all data written to the port.
func (t *TestablePort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.WriteBuffer.String()
}

// Reset clears all buffers and resets state.
func (t *TestablePort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Reset()
	t.WriteBuffer.Reset()
	t.ReadCalls = 0
	t.WriteCalls = 0
	t.ResetCalls = 0
	t.Closed = false
	t.ReadError = nil
	t.WriteError = nil
	t.ShortWrite = false
	t.pending = make(map[int][]byte)
}

var _ Porter = (*TestablePort)(nil)
