// Package capture runs one side-channel capture: it configures the scope,
// loads the key, sends the plaintext, waits for the encryption to finish,
// pulls the waveform and reads back the ciphertext.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/tracecapture/internal/monitoring"
	"github.com/banshee-data/tracecapture/internal/scope"
	"github.com/banshee-data/tracecapture/internal/simpleserial"
	"github.com/banshee-data/tracecapture/internal/timeutil"
)

var (
	// ErrNoResult marks a capture that was abandoned without a trace. It is
	// the only error a caller looping over plaintexts should shrug off.
	ErrNoResult = errors.New("capture produced no result")

	// ErrTargetTimeout is the cause when the target never raised its done flag.
	ErrTargetTimeout = errors.New("target did not finish operation")
	// ErrEmptyWaveform is the cause when the scope returned no samples.
	ErrEmptyWaveform = errors.New("scope returned an empty waveform")
)

// Oscilloscope is the instrument surface a capture needs. *scope.Scope
// satisfies it.
type Oscilloscope interface {
	SetTriggerSweep(mode string) error
	TriggerStatus() (string, error)
	Digitize(channel int) error
	SetChannelCoupling(channel int, coupling string) error
	SetChannelOffset(channel int, volts float64) error
	SetChannelScale(channel int, voltsPerDiv float64) error
	SetWaveformSource(channel int) error
	SetWaveformFormat(format string) error
	SetWaveformMode(mode string) error
	SetWaveformPoints(points int) error
	Preamble() (scope.Preamble, error)
	WaveformASCII() ([]float64, error)
	WaveformBytes() ([]byte, error)
	OperationComplete() (bool, error)
}

// Target is the device under test. *simpleserial.Target satisfies it.
type Target interface {
	SetKey(key []byte, ack, force bool) error
	Write(cmd byte, data []byte) error
	Flush() error
	IsDone() (bool, error)
	Read(cmd byte, n int, ack bool) ([]byte, error)
	OutputLen() int
}

// Capturer runs captures against one scope and one target. It is not safe
// for concurrent use.
type Capturer struct {
	scope   Oscilloscope
	target  Target
	opts    Options
	clock   timeutil.Clock
	metrics *monitoring.CaptureMetrics
}

// NewCapturer validates opts and returns a Capturer using the real clock.
func NewCapturer(osc Oscilloscope, target Target, opts Options) (*Capturer, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Capturer{
		scope:  osc,
		target: target,
		opts:   opts,
		clock:  timeutil.RealClock{},
	}, nil
}

// SetClock replaces the clock used for poll sleeps and timestamps.
func (c *Capturer) SetClock(clock timeutil.Clock) {
	c.clock = clock
}

// SetMetrics attaches capture metrics. A nil value disables them.
func (c *Capturer) SetMetrics(m *monitoring.CaptureMetrics) {
	c.metrics = m
}

// Options returns the effective options, defaults included.
func (c *Capturer) Options() Options {
	return c.opts
}

// Capture runs one capture of plaintext under key. key may be nil to keep
// whatever key the target holds.
//
// When the target never finishes, the preamble cannot be parsed or the scope
// returns no samples, a warning is logged and the returned error wraps
// ErrNoResult. Every other error comes from the scope or target transport
// and is returned as is, wrapped with context.
func (c *Capturer) Capture(ctx context.Context, plaintext, key []byte) (*Trace, error) {
	start := c.clock.Now()

	var (
		trace *Trace
		err   error
	)
	switch c.opts.Sync {
	case SyncOperationComplete:
		trace, err = c.captureOPC(start, plaintext, key)
	default:
		trace, err = c.capturePolled(ctx, start, plaintext, key)
	}

	outcome := monitoring.OutcomeOK
	switch {
	case errors.Is(err, ErrNoResult):
		outcome = monitoring.OutcomeNoResult
	case err != nil:
		outcome = monitoring.OutcomeError
	}
	c.metrics.ObserveCapture(outcome, c.clock.Since(start))

	return trace, err
}

func noResult(cause error) error {
	monitoring.Warnf("%v", cause)
	return fmt.Errorf("%w: %w", ErrNoResult, cause)
}

func (c *Capturer) configureChannel() error {
	ch := c.opts.Channel
	if c.opts.Coupling != "" {
		if err := c.scope.SetChannelCoupling(ch, c.opts.Coupling); err != nil {
			return fmt.Errorf("failed to set coupling: %w", err)
		}
	}
	if c.opts.Offset != nil {
		if err := c.scope.SetChannelOffset(ch, *c.opts.Offset); err != nil {
			return fmt.Errorf("failed to set offset: %w", err)
		}
	}
	if c.opts.Scale > 0 {
		if err := c.scope.SetChannelScale(ch, c.opts.Scale); err != nil {
			return fmt.Errorf("failed to set scale: %w", err)
		}
	}
	return nil
}

// configureWaveform selects source, format, record mode and length. The
// scope may be running continuously while this happens.
func (c *Capturer) configureWaveform() error {
	format := scope.FormatASCII
	if c.opts.Encoding == EncodingBinary {
		format = scope.FormatByte
	}
	if err := c.scope.SetWaveformSource(c.opts.Channel); err != nil {
		return fmt.Errorf("failed to set waveform source: %w", err)
	}
	if err := c.scope.SetWaveformFormat(format); err != nil {
		return fmt.Errorf("failed to set waveform format: %w", err)
	}
	if err := c.scope.SetWaveformMode(c.opts.WaveformMode); err != nil {
		return fmt.Errorf("failed to set waveform mode: %w", err)
	}
	if err := c.scope.SetWaveformPoints(c.opts.Points); err != nil {
		return fmt.Errorf("failed to set waveform points: %w", err)
	}
	return nil
}

// prepareTarget discards any stale response, then uploads key if one is
// given.
func (c *Capturer) prepareTarget(key []byte) error {
	if err := c.target.Flush(); err != nil {
		return err
	}
	if len(key) == 0 {
		return nil
	}
	if err := c.target.SetKey(key, c.opts.Ack, c.opts.AlwaysSendKey); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (c *Capturer) capturePolled(ctx context.Context, start time.Time, plaintext, key []byte) (*Trace, error) {
	if err := c.configureChannel(); err != nil {
		return nil, err
	}
	if c.opts.TriggerSweep != "" {
		if err := c.scope.SetTriggerSweep(c.opts.TriggerSweep); err != nil {
			return nil, fmt.Errorf("failed to set trigger sweep: %w", err)
		}
	}
	if err := c.configureWaveform(); err != nil {
		return nil, err
	}
	if err := c.prepareTarget(key); err != nil {
		return nil, err
	}

	status, err := c.scope.TriggerStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger status: %w", err)
	}
	monitoring.Debugf("trigger status before capture: %s", status)

	if err := c.target.Write(simpleserial.CmdPlaintext, plaintext); err != nil {
		return nil, fmt.Errorf("failed to send plaintext: %w", err)
	}
	if err := c.scope.Digitize(0); err != nil {
		return nil, fmt.Errorf("failed to start acquisition: %w", err)
	}

	if err := c.waitForTarget(ctx); err != nil {
		return nil, err
	}

	var (
		samples []float64
		raw     []byte
	)
	switch c.opts.Encoding {
	case EncodingASCII:
		samples, err = c.scope.WaveformASCII()
		if err != nil {
			return nil, fmt.Errorf("failed to read ASCII waveform: %w", err)
		}
	case EncodingBinary:
		raw, err = c.scope.WaveformBytes()
		if err != nil {
			return nil, fmt.Errorf("failed to read binary waveform: %w", err)
		}
		monitoring.Debugf("captured %d raw samples", len(raw))
		if c.opts.Units == UnitsMillivolts {
			pre, err := c.scope.Preamble()
			if errors.Is(err, scope.ErrMalformedPreamble) {
				return nil, noResult(err)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read preamble: %w", err)
			}
			samples = pre.Millivolts(raw)
		}
	}

	ciphertext, err := c.target.Read(simpleserial.CmdResponse, c.target.OutputLen(), c.opts.Ack)
	if err != nil {
		return nil, fmt.Errorf("failed to read ciphertext: %w", err)
	}

	return NewTrace(start, samples, raw, plaintext, ciphertext, key), nil
}

// waitForTarget polls the done flag, sleeping PollInterval after each miss,
// and gives up after PollLimit sleeps.
func (c *Capturer) waitForTarget(ctx context.Context) error {
	checks := 0
	defer func() { c.metrics.ObservePolls(checks) }()

	for slept := 0; ; {
		checks++
		done, err := c.target.IsDone()
		if err != nil {
			return fmt.Errorf("failed to poll target: %w", err)
		}
		if done {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.clock.Sleep(c.opts.PollInterval)
		slept++
		if slept >= c.opts.PollLimit {
			return noResult(fmt.Errorf("%w after %d polls", ErrTargetTimeout, slept))
		}
	}
}

func (c *Capturer) captureOPC(start time.Time, plaintext, key []byte) (*Trace, error) {
	if err := c.prepareTarget(key); err != nil {
		return nil, err
	}
	if err := c.configureChannel(); err != nil {
		return nil, err
	}
	if err := c.scope.SetTriggerSweep(c.opts.TriggerSweep); err != nil {
		return nil, fmt.Errorf("failed to set trigger sweep: %w", err)
	}
	if err := c.scope.Digitize(c.opts.Channel); err != nil {
		return nil, fmt.Errorf("failed to start acquisition: %w", err)
	}

	if len(plaintext) > 0 {
		if err := c.target.Write(simpleserial.CmdPlaintext, plaintext); err != nil {
			return nil, fmt.Errorf("failed to send plaintext: %w", err)
		}
	}

	complete, err := c.scope.OperationComplete()
	if err != nil {
		return nil, fmt.Errorf("failed to wait for operation complete: %w", err)
	}
	if !complete {
		monitoring.Warnf("scope did not report operation complete")
	}

	if err := c.scope.SetWaveformSource(c.opts.Channel); err != nil {
		return nil, fmt.Errorf("failed to set waveform source: %w", err)
	}
	if err := c.scope.SetWaveformFormat(scope.FormatASCII); err != nil {
		return nil, fmt.Errorf("failed to set waveform format: %w", err)
	}
	samples, err := c.scope.WaveformASCII()
	if err != nil {
		return nil, fmt.Errorf("failed to read ASCII waveform: %w", err)
	}

	ciphertext, err := c.target.Read(simpleserial.CmdResponse, c.target.OutputLen(), c.opts.Ack)
	if err != nil {
		return nil, fmt.Errorf("failed to read ciphertext: %w", err)
	}

	if len(samples) == 0 {
		return nil, noResult(ErrEmptyWaveform)
	}
	return NewTrace(start, samples, nil, plaintext, ciphertext, key), nil
}
