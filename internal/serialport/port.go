// Package serialport opens and describes the serial link to the capture
// target. The Porter abstraction lets the SimpleSerial layer be unit tested
// without real hardware.
package serialport

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Porter is the minimal serial port surface the target layer needs. A read
// that times out returns 0 bytes and a nil error, matching go.bug.st/serial.
type Porter interface {
	io.ReadWriter
	io.Closer
	// SetReadTimeout bounds how long a Read waits for the first byte.
	SetReadTimeout(timeout time.Duration) error
	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error
}

// Opener is a function type for opening serial ports. It is swapped out in
// tests.
type Opener func(path string, opts Options) (Porter, error)

// Open opens a real serial port at path using the provided options.
func Open(path string, opts Options) (Porter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return port, nil
}

var _ Opener = Open
