package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePreamble(t *testing.T) {
	p, err := ParsePreamble("+0,+0,+2000,+1,+2.00000000E-09,-2.00000000E-06,+0,+7.81250000E-04,+1.50000000E-02,+128\n")
	require.NoError(t, err)

	assert.Equal(t, Preamble{
		Format:     0,
		Type:       0,
		Points:     2000,
		Count:      1,
		XIncrement: 2e-9,
		XOrigin:    -2e-6,
		XReference: 0,
		YIncrement: 7.8125e-4,
		YOrigin:    1.5e-2,
		YReference: 128,
	}, p)
}

func TestParsePreamble_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "eight fields", raw: "+0,+0,+2000,+1,+2.0E-09,-2.0E-06,+0,+7.8E-04"},
		{name: "eleven fields", raw: "+0,+0,+2000,+1,+2.0E-09,-2.0E-06,+0,+7.8E-04,+0,+128,+1"},
		{name: "empty", raw: ""},
		{name: "non numeric", raw: "+0,+0,+2000,+1,+2.0E-09,-2.0E-06,+0,abc,+0,+128"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePreamble(tt.raw)
			assert.ErrorIs(t, err, ErrMalformedPreamble)
		})
	}
}

func TestPreamble_Conversion(t *testing.T) {
	p := Preamble{YIncrement: 7.8125e-4, YOrigin: 1.5e-2, YReference: 128}
	raw := []byte{0, 1, 127, 128, 129, 200, 255}

	volts := p.Volts(raw)
	mv := p.Millivolts(raw)
	require.Len(t, volts, len(raw))
	require.Len(t, mv, len(raw))

	for i, r := range raw {
		wantV := float64(float64(float64(r)-p.YReference)*p.YIncrement) + p.YOrigin
		assert.Equal(t, wantV, volts[i], "volts[%d]", i)
		assert.Equal(t, wantV*1000, mv[i], "mv[%d]", i)
	}

	// the reference level maps to the origin
	assert.InDelta(t, 15.0, mv[3], 1e-9)
}

func TestPreamble_ConversionEmpty(t *testing.T) {
	assert.Empty(t, Preamble{YIncrement: 1}.Millivolts(nil))
}

func TestStripBlockHeader(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "no header", raw: "1.0,2.0", want: "1.0,2.0"},
		{name: "two digit header drops four characters", raw: "#26123456789012", want: "23456789012"},
		{name: "eight digit header", raw: "#800000007 1.0,2.0", want: " 1.0,2.0"},
		{name: "header only", raw: "#10", want: ""},
		{name: "missing digit", raw: "#", wantErr: true},
		{name: "non digit", raw: "#a1", wantErr: true},
		{name: "truncated", raw: "#91", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StripBlockHeader(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedWaveform)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripBlockHeader_TwelveDigitPayload(t *testing.T) {
	payload := "#26" + "123456789012"
	got, err := StripBlockHeader(payload)
	require.NoError(t, err)
	assert.Equal(t, payload[4:], got)
	assert.Len(t, got, len(payload)-4)
}

func TestParseASCIIWaveform(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []float64
		wantErr bool
	}{
		{name: "plain", raw: "1.0,2.5,-3", want: []float64{1, 2.5, -3}},
		{name: "header and newline", raw: "#800000016 1.0E-03,2.0E-03,\n", want: []float64{1e-3, 2e-3}},
		{name: "skips empty fields", raw: "1,,2, ,3", want: []float64{1, 2, 3}},
		{name: "empty", raw: "", want: []float64{}},
		{name: "garbage", raw: "1,two,3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseASCIIWaveform(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedWaveform)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
