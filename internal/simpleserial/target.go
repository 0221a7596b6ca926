// Package simpleserial talks to a capture target using the SimpleSerial
// framing: a single command tag byte, the hex-encoded payload and a newline.
// The target answers with an 'r' frame carrying the result and, when
// acknowledgements are enabled, a 'z' frame carrying a status byte.
package simpleserial

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/tracecapture/internal/monitoring"
	"github.com/banshee-data/tracecapture/internal/serialport"
)

// Command tags understood by the target firmware.
const (
	CmdKey       byte = 'k'
	CmdPlaintext byte = 'p'
	CmdResponse  byte = 'r'
	CmdAck       byte = 'z'
	CmdError     byte = 'e'
)

const (
	// DefaultOutputLen is the response length of an AES-128 target.
	DefaultOutputLen = 16

	// DefaultReadTimeout bounds each blocking read of a response frame.
	DefaultReadTimeout = 500 * time.Millisecond

	// DefaultPeekTimeout is how long IsDone waits for the first response byte.
	DefaultPeekTimeout = time.Millisecond

	maxFrameLen = 4096
)

var (
	// ErrWriteFailed is returned when the port accepts fewer bytes than a frame.
	ErrWriteFailed = errors.New("failed to write to serial port")
	// ErrReadTimeout is returned when the target stops sending mid-frame.
	ErrReadTimeout = errors.New("timed out reading from target")
	// ErrUnexpectedFrame is returned when a frame carries the wrong tag or length.
	ErrUnexpectedFrame = errors.New("unexpected frame from target")
	// ErrNack is returned when the target acknowledges with a non-zero status.
	ErrNack = errors.New("target reported error status")
)

// Config holds the per-target settings. Zero values pick the defaults.
type Config struct {
	OutputLen   int
	ReadTimeout time.Duration
	PeekTimeout time.Duration
}

// Target is a SimpleSerial capture target. It remembers the last key it
// uploaded so repeated captures with the same key skip the upload. Target is
// not safe for concurrent use.
type Target struct {
	port    serialport.Porter
	cfg     Config
	pending []byte
	lastKey []byte
	metrics *monitoring.CaptureMetrics
}

// NewTarget wraps an open serial port.
func NewTarget(port serialport.Porter, cfg Config) *Target {
	if cfg.OutputLen <= 0 {
		cfg.OutputLen = DefaultOutputLen
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.PeekTimeout <= 0 {
		cfg.PeekTimeout = DefaultPeekTimeout
	}
	return &Target{port: port, cfg: cfg}
}

// SetMetrics attaches key upload counters. A nil value disables them.
func (t *Target) SetMetrics(m *monitoring.CaptureMetrics) {
	t.metrics = m
}

// OutputLen returns the expected response length in bytes.
func (t *Target) OutputLen() int {
	return t.cfg.OutputLen
}

// LastKey returns a copy of the last key uploaded, or nil.
func (t *Target) LastKey() []byte {
	if t.lastKey == nil {
		return nil
	}
	return append([]byte(nil), t.lastKey...)
}

// SetKey uploads key unless it matches the last key uploaded. force always
// uploads. With ack set the target's acknowledgement is read and checked.
func (t *Target) SetKey(key []byte, ack, force bool) error {
	if !force && t.lastKey != nil && bytes.Equal(key, t.lastKey) {
		monitoring.Debugf("key unchanged, skipping upload")
		t.metrics.ObserveKey(false)
		return nil
	}

	if err := t.Write(CmdKey, key); err != nil {
		return fmt.Errorf("failed to send key: %w", err)
	}
	if ack {
		if err := t.readAck(); err != nil {
			return fmt.Errorf("key not acknowledged: %w", err)
		}
	}

	t.lastKey = append([]byte(nil), key...)
	t.metrics.ObserveKey(true)
	return nil
}

// Write sends one frame with the given command tag.
func (t *Target) Write(cmd byte, data []byte) error {
	frame := make([]byte, 0, 2+hex.EncodedLen(len(data)))
	frame = append(frame, cmd)
	frame = append(frame, hex.EncodeToString(data)...)
	frame = append(frame, '\n')

	n, err := t.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	return nil
}

// Flush drops any response left over from an earlier operation, both what
// was already read into the frame buffer and what is waiting on the port.
func (t *Target) Flush() error {
	t.pending = nil
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to flush target input: %w", err)
	}
	return nil
}

// IsDone reports whether the target has started sending its response. It
// never blocks for longer than the peek timeout.
func (t *Target) IsDone() (bool, error) {
	if len(t.pending) > 0 {
		return true, nil
	}
	if err := t.port.SetReadTimeout(t.cfg.PeekTimeout); err != nil {
		return false, err
	}
	buf := make([]byte, 64)
	n, err := t.port.Read(buf)
	if err != nil {
		return false, err
	}
	t.pending = append(t.pending, buf[:n]...)
	return n > 0, nil
}

// Read reads a response frame tagged cmd carrying exactly n bytes. With ack
// set the trailing acknowledgement frame is read and checked as well.
func (t *Target) Read(cmd byte, n int, ack bool) ([]byte, error) {
	tag, payload, err := t.readFrame()
	if err != nil {
		return nil, err
	}
	if tag == CmdError {
		return nil, fmt.Errorf("%w: error frame %x", ErrNack, payload)
	}
	if tag != cmd {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedFrame, tag, cmd)
	}
	if len(payload) != n {
		return nil, fmt.Errorf("%w: %q frame has %d bytes, want %d", ErrUnexpectedFrame, cmd, len(payload), n)
	}
	if ack {
		if err := t.readAck(); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func (t *Target) readAck() error {
	tag, payload, err := t.readFrame()
	if err != nil {
		return err
	}
	if tag != CmdAck && tag != CmdError {
		return fmt.Errorf("%w: got %q, want ack", ErrUnexpectedFrame, tag)
	}
	if len(payload) != 1 {
		return fmt.Errorf("%w: ack carries %d bytes", ErrUnexpectedFrame, len(payload))
	}
	if payload[0] != 0 {
		return fmt.Errorf("%w: 0x%02x", ErrNack, payload[0])
	}
	return nil
}

// readFrame returns the tag and decoded payload of the next newline
// terminated frame.
func (t *Target) readFrame() (byte, []byte, error) {
	line, err := t.readLine()
	if err != nil {
		return 0, nil, err
	}
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return 0, nil, fmt.Errorf("%w: empty frame", ErrUnexpectedFrame)
	}
	payload, err := hex.DecodeString(string(line[1:]))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad hex in %q: %v", ErrUnexpectedFrame, line, err)
	}
	return line[0], payload, nil
}

func (t *Target) readLine() ([]byte, error) {
	if err := t.port.SetReadTimeout(t.cfg.ReadTimeout); err != nil {
		return nil, err
	}
	buf := make([]byte, 256)
	for {
		if i := bytes.IndexByte(t.pending, '\n'); i >= 0 {
			line := append([]byte(nil), t.pending[:i]...)
			t.pending = t.pending[i+1:]
			return line, nil
		}
		if len(t.pending) > maxFrameLen {
			t.pending = nil
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrUnexpectedFrame, maxFrameLen)
		}
		n, err := t.port.Read(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrReadTimeout
		}
		t.pending = append(t.pending, buf[:n]...)
	}
}
