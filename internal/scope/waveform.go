package scope

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// PreambleFields is the number of comma separated fields in a preamble.
const PreambleFields = 10

var (
	// ErrMalformedPreamble is returned when a preamble does not carry ten
	// numeric fields.
	ErrMalformedPreamble = errors.New("malformed waveform preamble")
	// ErrMalformedWaveform is returned when ASCII waveform data cannot be parsed.
	ErrMalformedWaveform = errors.New("malformed ASCII waveform")
)

// Preamble describes how raw waveform samples map to time and voltage.
type Preamble struct {
	Format     int
	Type       int
	Points     int
	Count      int
	XIncrement float64
	XOrigin    float64
	XReference float64
	YIncrement float64
	YOrigin    float64
	YReference float64
}

// ParsePreamble parses the reply to :WAVeform:PREamble?, which is
// format,type,points,count,xincrement,xorigin,xreference,yincrement,yorigin,yreference.
func ParsePreamble(raw string) (Preamble, error) {
	fields := strings.Split(strings.TrimSpace(raw), ",")
	if len(fields) != PreambleFields {
		return Preamble{}, fmt.Errorf("%w: %d fields, want %d", ErrMalformedPreamble, len(fields), PreambleFields)
	}

	var v [PreambleFields]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Preamble{}, fmt.Errorf("%w: field %d %q", ErrMalformedPreamble, i, f)
		}
		v[i] = x
	}

	return Preamble{
		Format:     int(v[0]),
		Type:       int(v[1]),
		Points:     int(v[2]),
		Count:      int(v[3]),
		XIncrement: v[4],
		XOrigin:    v[5],
		XReference: v[6],
		YIncrement: v[7],
		YOrigin:    v[8],
		YReference: v[9],
	}, nil
}

// Volts converts raw ADC counts to volts:
// (raw - yreference) * yincrement + yorigin.
func (p Preamble) Volts(raw []byte) []float64 {
	out := make([]float64, len(raw))
	for i, b := range raw {
		out[i] = float64(b)
	}
	floats.AddConst(-p.YReference, out)
	floats.Scale(p.YIncrement, out)
	floats.AddConst(p.YOrigin, out)
	return out
}

// Millivolts converts raw ADC counts to millivolts.
func (p Preamble) Millivolts(raw []byte) []float64 {
	out := p.Volts(raw)
	floats.Scale(1e3, out)
	return out
}

// StripBlockHeader removes a leading "#<n>..." header from an ASCII
// waveform reply. The header is taken to be 2+n characters long.
func StripBlockHeader(raw string) (string, error) {
	if !strings.HasPrefix(raw, "#") {
		return raw, nil
	}
	if len(raw) < 2 || raw[1] < '0' || raw[1] > '9' {
		return "", fmt.Errorf("%w: bad block header %q", ErrMalformedWaveform, truncate(raw, 12))
	}
	headerLen := 2 + int(raw[1]-'0')
	if len(raw) < headerLen {
		return "", fmt.Errorf("%w: truncated block header %q", ErrMalformedWaveform, raw)
	}
	return raw[headerLen:], nil
}

// ParseASCIIWaveform strips an optional block header and parses the comma
// separated samples. Empty fields are skipped.
func ParseASCIIWaveform(raw string) ([]float64, error) {
	data, err := StripBlockHeader(raw)
	if err != nil {
		return nil, err
	}
	data = strings.TrimSpace(data)

	fields := strings.Split(data, ",")
	samples := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: sample %q", ErrMalformedWaveform, truncate(f, 24))
		}
		samples = append(samples, x)
	}
	return samples, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
