package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/tracecapture/internal/config"
	"github.com/banshee-data/tracecapture/internal/scope"
)

// Encoding selects how the waveform is transferred from the scope.
type Encoding int

const (
	// EncodingASCII transfers comma separated samples already in volts.
	EncodingASCII Encoding = iota
	// EncodingBinary transfers one raw ADC count per byte.
	EncodingBinary
)

func (e Encoding) String() string {
	switch e {
	case EncodingASCII:
		return "ascii"
	case EncodingBinary:
		return "binary"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// Units selects whether binary samples are converted with the preamble.
type Units int

const (
	// UnitsRaw keeps binary samples as raw ADC counts.
	UnitsRaw Units = iota
	// UnitsMillivolts converts binary samples to millivolts.
	UnitsMillivolts
)

func (u Units) String() string {
	switch u {
	case UnitsRaw:
		return "raw"
	case UnitsMillivolts:
		return "mv"
	default:
		return fmt.Sprintf("Units(%d)", int(u))
	}
}

// Sync selects how a capture waits for the acquisition to finish.
type Sync int

const (
	// SyncPollTarget polls the target's done flag on a fixed interval.
	SyncPollTarget Sync = iota
	// SyncOperationComplete waits on the scope's *OPC? query instead.
	SyncOperationComplete
)

func (s Sync) String() string {
	switch s {
	case SyncPollTarget:
		return "poll"
	case SyncOperationComplete:
		return "opc"
	default:
		return fmt.Sprintf("Sync(%d)", int(s))
	}
}

const (
	DefaultChannel      = 1
	DefaultPoints       = 2000
	DefaultPollInterval = 50 * time.Millisecond
	DefaultPollLimit    = 100
)

// Options parameterizes a Capturer. Zero values for Channel, Points,
// WaveformMode, PollInterval and PollLimit pick the defaults.
type Options struct {
	Encoding Encoding
	Units    Units
	Sync     Sync

	Channel      int
	Points       int
	WaveformMode string

	// Channel front end. Empty, nil or zero leaves the instrument setting alone.
	Coupling     string
	Offset       *float64
	Scale        float64
	TriggerSweep string

	// Ack checks the target's acknowledgement after key and response frames.
	Ack bool
	// AlwaysSendKey uploads the key on every capture even when unchanged.
	AlwaysSendKey bool

	PollInterval time.Duration
	PollLimit    int
}

// ASCIIOptions reads an ASCII waveform after polling the target.
func ASCIIOptions() Options {
	return Options{Encoding: EncodingASCII, Units: UnitsRaw, Sync: SyncPollTarget, Ack: true}
}

// RawOptions reads raw ADC counts after polling the target.
func RawOptions() Options {
	return Options{Encoding: EncodingBinary, Units: UnitsRaw, Sync: SyncPollTarget, Ack: true}
}

// VoltageOptions reads raw ADC counts and converts them to millivolts. The
// channel is AC coupled at 10 mV/div with no offset, suited to small signals
// around 0 V.
func VoltageOptions() Options {
	offset := 0.0
	return Options{
		Encoding: EncodingBinary,
		Units:    UnitsMillivolts,
		Sync:     SyncPollTarget,
		Coupling: scope.CouplingAC,
		Offset:   &offset,
		Scale:    0.01,
		Ack:      true,
	}
}

// OPCOptions arms a single normal-sweep acquisition and waits on *OPC?
// before an ASCII read.
func OPCOptions() Options {
	return Options{
		Encoding:     EncodingASCII,
		Units:        UnitsRaw,
		Sync:         SyncOperationComplete,
		TriggerSweep: scope.SweepNormal,
		Ack:          true,
	}
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.Channel == 0 {
		o.Channel = DefaultChannel
	}
	if o.Points == 0 {
		o.Points = DefaultPoints
	}
	if o.WaveformMode == "" {
		o.WaveformMode = scope.ModeNormal
	}
	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollLimit == 0 {
		o.PollLimit = DefaultPollLimit
	}
	if o.Sync == SyncOperationComplete && o.TriggerSweep == "" {
		o.TriggerSweep = scope.SweepNormal
	}
	return o
}

// Validate rejects option combinations the capture routine cannot honour.
func (o Options) Validate() error {
	switch o.Encoding {
	case EncodingASCII, EncodingBinary:
	default:
		return fmt.Errorf("unknown encoding %v", o.Encoding)
	}
	switch o.Sync {
	case SyncPollTarget, SyncOperationComplete:
	default:
		return fmt.Errorf("unknown sync mode %v", o.Sync)
	}
	switch o.Units {
	case UnitsRaw:
	case UnitsMillivolts:
		if o.Encoding != EncodingBinary {
			return fmt.Errorf("millivolt conversion needs binary encoding, ASCII samples are already volts")
		}
	default:
		return fmt.Errorf("unknown units %v", o.Units)
	}
	if o.Sync == SyncOperationComplete && o.Encoding != EncodingASCII {
		return fmt.Errorf("operation-complete captures always read ASCII")
	}
	if o.Channel < 0 || o.Points < 0 || o.PollLimit < 0 || o.PollInterval < 0 || o.Scale < 0 {
		return fmt.Errorf("channel, points, poll settings and scale must not be negative")
	}
	return nil
}

// OptionsFromConfig translates the on-disk configuration into Options.
func OptionsFromConfig(cfg *config.CaptureConfig) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}

	o := Options{
		Channel:       cfg.GetChannel(),
		Points:        cfg.GetPoints(),
		Coupling:      cfg.GetCoupling(),
		Scale:         cfg.GetScale(),
		TriggerSweep:  cfg.GetTriggerSweep(),
		Ack:           cfg.GetAck(),
		AlwaysSendKey: cfg.GetAlwaysSendKey(),
		PollInterval:  cfg.GetPollInterval(),
		PollLimit:     cfg.GetPollLimit(),
	}
	if off, ok := cfg.GetOffset(); ok {
		o.Offset = &off
	}

	switch cfg.GetEncoding() {
	case config.EncodingASCII:
		o.Encoding = EncodingASCII
	case config.EncodingBinary:
		o.Encoding = EncodingBinary
	}
	switch cfg.GetUnits() {
	case config.UnitsRaw:
		o.Units = UnitsRaw
	case config.UnitsMillivolts:
		o.Units = UnitsMillivolts
	}
	switch cfg.GetSync() {
	case config.SyncPoll:
		o.Sync = SyncPollTarget
	case config.SyncOPC:
		o.Sync = SyncOperationComplete
	}

	// operation-complete captures read ASCII unless told otherwise
	if o.Sync == SyncOperationComplete && (cfg.Encoding == nil || *cfg.Encoding == "") {
		o.Encoding = EncodingASCII
	}

	if o.Coupling != "" {
		o.Coupling = strings.ToUpper(o.Coupling)
	}

	return o, o.Validate()
}
