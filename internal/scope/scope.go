// Package scope drives a Keysight InfiniiVision-style oscilloscope through
// SCPI: trigger and channel setup, waveform transfer settings, the waveform
// preamble and the waveform data itself.
package scope

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/tracecapture/internal/monitoring"
)

// Waveform transfer formats.
const (
	FormatASCII = "ASCii"
	FormatByte  = "BYTE"
	FormatWord  = "WORD"
)

// Waveform record modes.
const (
	ModeNormal  = "NORMal"
	ModeMaximum = "MAXimum"
	ModeRaw     = "RAW"
)

// Trigger sweep modes.
const (
	SweepAuto   = "AUTO"
	SweepNormal = "NORMal"
)

// Channel couplings.
const (
	CouplingAC = "AC"
	CouplingDC = "DC"
)

// Transport is the SCPI session a Scope issues commands on. *scpi.Conn
// satisfies it.
type Transport interface {
	Command(cmd string, args ...string) error
	Query(cmd string) (string, error)
	QueryBlock(cmd string) ([]byte, error)
}

// Scope is an oscilloscope reachable over a SCPI transport.
type Scope struct {
	t Transport
}

// New returns a Scope issuing commands on t.
func New(t Transport) *Scope {
	return &Scope{t: t}
}

func channelName(ch int) string {
	return "CHANnel" + strconv.Itoa(ch)
}

func float(v float64) string {
	return strconv.FormatFloat(v, 'G', -1, 64)
}

// SetTriggerSweep selects the trigger sweep mode.
func (s *Scope) SetTriggerSweep(mode string) error {
	return s.t.Command(":TRIGger:SWEep", mode)
}

// TriggerStatus returns the current trigger status string.
func (s *Scope) TriggerStatus() (string, error) {
	return s.t.Query(":TRIGger:STATus?")
}

// Digitize starts a single acquisition. A channel of zero digitizes the
// channels currently displayed.
func (s *Scope) Digitize(channel int) error {
	if channel <= 0 {
		return s.t.Command(":DIGitize")
	}
	return s.t.Command(":DIGitize", channelName(channel))
}

// SetChannelCoupling sets AC or DC input coupling.
func (s *Scope) SetChannelCoupling(channel int, coupling string) error {
	return s.t.Command(fmt.Sprintf(":%s:COUPling", channelName(channel)), coupling)
}

// SetChannelOffset sets the vertical offset in volts.
func (s *Scope) SetChannelOffset(channel int, volts float64) error {
	return s.t.Command(fmt.Sprintf(":%s:OFFSet", channelName(channel)), float(volts))
}

// SetChannelScale sets the vertical scale in volts per division.
func (s *Scope) SetChannelScale(channel int, voltsPerDiv float64) error {
	return s.t.Command(fmt.Sprintf(":%s:SCALe", channelName(channel)), float(voltsPerDiv))
}

// SetWaveformSource selects the channel waveform queries read from.
func (s *Scope) SetWaveformSource(channel int) error {
	return s.t.Command(":WAVeform:SOURce", channelName(channel))
}

// SetWaveformFormat selects ASCii, BYTE or WORD transfers.
func (s *Scope) SetWaveformFormat(format string) error {
	return s.t.Command(":WAVeform:FORMat", format)
}

// SetWaveformMode selects which record the waveform queries return.
func (s *Scope) SetWaveformMode(mode string) error {
	return s.t.Command(":WAVeform:MODE", mode)
}

// SetWaveformPoints sets the number of points transferred.
func (s *Scope) SetWaveformPoints(points int) error {
	return s.t.Command(":WAVeform:POINts", strconv.Itoa(points))
}

// Preamble queries and parses the waveform preamble.
func (s *Scope) Preamble() (Preamble, error) {
	raw, err := s.t.Query(":WAVeform:PREamble?")
	if err != nil {
		return Preamble{}, err
	}
	monitoring.Debugf("preamble: %s", raw)
	return ParsePreamble(raw)
}

// WaveformASCII reads the waveform in ASCii format and parses the samples.
func (s *Scope) WaveformASCII() ([]float64, error) {
	raw, err := s.t.Query(":WAVeform:DATA?")
	if err != nil {
		return nil, err
	}
	return ParseASCIIWaveform(raw)
}

// WaveformBytes reads the waveform as a binary block of raw ADC counts.
func (s *Scope) WaveformBytes() ([]byte, error) {
	return s.t.QueryBlock(":WAVeform:DATA?")
}

// OperationComplete blocks until the instrument has finished all pending
// operations and reports whether it answered "1".
func (s *Scope) OperationComplete() (bool, error) {
	reply, err := s.t.Query("*OPC?")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(reply) == "1", nil
}
