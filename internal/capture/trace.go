package capture

import (
	"time"

	"github.com/google/uuid"
)

// Trace is one captured waveform together with the plaintext sent, the
// ciphertext received and the key in use. NewTrace copies every slice, so a
// Trace does not alias the buffers it was built from.
type Trace struct {
	// ID identifies the capture in logs.
	ID uuid.UUID
	// CapturedAt is when the capture started.
	CapturedAt time.Time

	// Samples holds ASCII samples in volts or converted samples in
	// millivolts. It is nil for raw binary captures.
	Samples []float64
	// Raw holds the raw ADC counts of a binary capture.
	Raw []byte

	Plaintext  []byte
	Ciphertext []byte
	// Key is nil when the capture did not set a key.
	Key []byte
}

// NewTrace builds a Trace with a fresh ID.
func NewTrace(at time.Time, samples []float64, raw, plaintext, ciphertext, key []byte) *Trace {
	return &Trace{
		ID:         uuid.New(),
		CapturedAt: at,
		Samples:    cloneFloats(samples),
		Raw:        cloneBytes(raw),
		Plaintext:  cloneBytes(plaintext),
		Ciphertext: cloneBytes(ciphertext),
		Key:        cloneBytes(key),
	}
}

// Len returns the number of waveform samples.
func (t *Trace) Len() int {
	if t.Samples != nil {
		return len(t.Samples)
	}
	return len(t.Raw)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func cloneFloats(f []float64) []float64 {
	if f == nil {
		return nil
	}
	return append([]float64{}, f...)
}
