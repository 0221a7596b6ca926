package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Accepted values for the enumerated capture settings.
const (
	EncodingASCII  = "ascii"
	EncodingBinary = "binary"

	UnitsRaw        = "raw"
	UnitsMillivolts = "mv"

	SyncPoll = "poll"
	SyncOPC  = "opc"
)

// CaptureConfig is the on-disk capture configuration. Every field is
// optional; the Get* methods supply defaults for anything left out, so a
// partial file only overrides what it names. Command line flags override
// the file.
type CaptureConfig struct {
	// Oscilloscope connection
	ScopeAddress *string `json:"scope_address,omitempty"`
	ScopeTimeout *string `json:"scope_timeout,omitempty"` // duration string like "5s"

	// Target serial link
	TargetPort  *string `json:"target_port,omitempty"`
	BaudRate    *int    `json:"baud_rate,omitempty"`
	DataBits    *int    `json:"data_bits,omitempty"`
	StopBits    *int    `json:"stop_bits,omitempty"`
	Parity      *string `json:"parity,omitempty"`
	OutputLen   *int    `json:"output_len,omitempty"`
	ReadTimeout *string `json:"read_timeout,omitempty"`

	// Acquisition
	Encoding     *string  `json:"encoding,omitempty"` // ascii | binary
	Units        *string  `json:"units,omitempty"`    // raw | mv
	Sync         *string  `json:"sync,omitempty"`     // poll | opc
	Channel      *int     `json:"channel,omitempty"`
	Points       *int     `json:"points,omitempty"`
	Coupling     *string  `json:"coupling,omitempty"`
	Offset       *float64 `json:"offset,omitempty"`
	Scale        *float64 `json:"scale,omitempty"`
	TriggerSweep *string  `json:"trigger_sweep,omitempty"`

	// Target handshake
	Ack           *bool   `json:"ack,omitempty"`
	AlwaysSendKey *bool   `json:"always_send_key,omitempty"`
	PollInterval  *string `json:"poll_interval,omitempty"`
	PollLimit     *int    `json:"poll_limit,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyCaptureConfig returns a CaptureConfig with all fields set to nil.
func EmptyCaptureConfig() *CaptureConfig {
	return &CaptureConfig{}
}

// DefaultCaptureConfig returns a CaptureConfig populated with the default
// values. The channel offset and scale stay nil so they are left unchanged on
// the instrument.
func DefaultCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		ScopeAddress:  ptrString(""),
		ScopeTimeout:  ptrString("5s"),
		TargetPort:    ptrString("/dev/ttyUSB0"),
		BaudRate:      ptrInt(38400),
		DataBits:      ptrInt(8),
		StopBits:      ptrInt(1),
		Parity:        ptrString("N"),
		OutputLen:     ptrInt(16),
		ReadTimeout:   ptrString("500ms"),
		Encoding:      ptrString(EncodingBinary),
		Units:         ptrString(UnitsRaw),
		Sync:          ptrString(SyncPoll),
		Channel:       ptrInt(1),
		Points:        ptrInt(2000),
		Coupling:      ptrString(""),
		TriggerSweep:  ptrString(""),
		Ack:           ptrBool(true),
		AlwaysSendKey: ptrBool(false),
		PollInterval:  ptrString("50ms"),
		PollLimit:     ptrInt(100),
	}
}

// LoadCaptureConfig loads a CaptureConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCaptureConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *CaptureConfig) Validate() error {
	for name, v := range map[string]*string{
		"scope_timeout": c.ScopeTimeout,
		"read_timeout":  c.ReadTimeout,
		"poll_interval": c.PollInterval,
	} {
		if err := validDuration(name, v); err != nil {
			return err
		}
	}

	switch c.GetEncoding() {
	case EncodingASCII, EncodingBinary:
	default:
		return fmt.Errorf("encoding must be %q or %q, got %q", EncodingASCII, EncodingBinary, *c.Encoding)
	}

	switch c.GetUnits() {
	case UnitsRaw, UnitsMillivolts:
	default:
		return fmt.Errorf("units must be %q or %q, got %q", UnitsRaw, UnitsMillivolts, *c.Units)
	}

	switch c.GetSync() {
	case SyncPoll, SyncOPC:
	default:
		return fmt.Errorf("sync must be %q or %q, got %q", SyncPoll, SyncOPC, *c.Sync)
	}

	if c.Channel != nil && (*c.Channel < 1 || *c.Channel > 4) {
		return fmt.Errorf("channel must be between 1 and 4, got %d", *c.Channel)
	}
	if c.Points != nil && *c.Points <= 0 {
		return fmt.Errorf("points must be positive, got %d", *c.Points)
	}
	if c.OutputLen != nil && *c.OutputLen <= 0 {
		return fmt.Errorf("output_len must be positive, got %d", *c.OutputLen)
	}
	if c.PollLimit != nil && *c.PollLimit <= 0 {
		return fmt.Errorf("poll_limit must be positive, got %d", *c.PollLimit)
	}
	if c.Scale != nil && *c.Scale < 0 {
		return fmt.Errorf("scale must be non-negative, got %f", *c.Scale)
	}
	if c.Coupling != nil {
		switch strings.ToUpper(*c.Coupling) {
		case "", "AC", "DC":
		default:
			return fmt.Errorf("coupling must be AC or DC, got %q", *c.Coupling)
		}
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetScopeAddress returns the scope_address value or the default.
func (c *CaptureConfig) GetScopeAddress() string {
	if c.ScopeAddress == nil {
		return ""
	}
	return *c.ScopeAddress
}

// GetScopeTimeout returns the scope_timeout value or the default.
func (c *CaptureConfig) GetScopeTimeout() time.Duration {
	return durationOr(c.ScopeTimeout, 5*time.Second)
}

// GetTargetPort returns the target_port value or the default.
func (c *CaptureConfig) GetTargetPort() string {
	if c.TargetPort == nil || *c.TargetPort == "" {
		return "/dev/ttyUSB0"
	}
	return *c.TargetPort
}

// GetBaudRate returns the baud_rate value or the default.
func (c *CaptureConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 38400
	}
	return *c.BaudRate
}

// GetDataBits returns the data_bits value, zero meaning the serial default.
func (c *CaptureConfig) GetDataBits() int {
	if c.DataBits == nil {
		return 0
	}
	return *c.DataBits
}

// GetStopBits returns the stop_bits value, zero meaning the serial default.
func (c *CaptureConfig) GetStopBits() int {
	if c.StopBits == nil {
		return 0
	}
	return *c.StopBits
}

// GetParity returns the parity value, empty meaning the serial default.
func (c *CaptureConfig) GetParity() string {
	if c.Parity == nil {
		return ""
	}
	return *c.Parity
}

// GetOutputLen returns the output_len value or the default.
func (c *CaptureConfig) GetOutputLen() int {
	if c.OutputLen == nil {
		return 16
	}
	return *c.OutputLen
}

// GetReadTimeout returns the read_timeout value or the default.
func (c *CaptureConfig) GetReadTimeout() time.Duration {
	return durationOr(c.ReadTimeout, 500*time.Millisecond)
}

// GetEncoding returns the encoding value or the default.
func (c *CaptureConfig) GetEncoding() string {
	if c.Encoding == nil || *c.Encoding == "" {
		return EncodingBinary
	}
	return strings.ToLower(*c.Encoding)
}

// GetUnits returns the units value or the default.
func (c *CaptureConfig) GetUnits() string {
	if c.Units == nil || *c.Units == "" {
		return UnitsRaw
	}
	return strings.ToLower(*c.Units)
}

// GetSync returns the sync value or the default.
func (c *CaptureConfig) GetSync() string {
	if c.Sync == nil || *c.Sync == "" {
		return SyncPoll
	}
	return strings.ToLower(*c.Sync)
}

// GetChannel returns the channel value or the default.
func (c *CaptureConfig) GetChannel() int {
	if c.Channel == nil {
		return 1
	}
	return *c.Channel
}

// GetPoints returns the points value or the default.
func (c *CaptureConfig) GetPoints() int {
	if c.Points == nil {
		return 2000
	}
	return *c.Points
}

// GetCoupling returns the coupling value, empty meaning leave unchanged.
func (c *CaptureConfig) GetCoupling() string {
	if c.Coupling == nil {
		return ""
	}
	return strings.ToUpper(*c.Coupling)
}

// GetOffset returns the channel offset and whether one was configured.
func (c *CaptureConfig) GetOffset() (float64, bool) {
	if c.Offset == nil {
		return 0, false
	}
	return *c.Offset, true
}

// GetScale returns the channel scale, zero meaning leave unchanged.
func (c *CaptureConfig) GetScale() float64 {
	if c.Scale == nil {
		return 0
	}
	return *c.Scale
}

// GetTriggerSweep returns the trigger_sweep value, empty meaning leave unchanged.
func (c *CaptureConfig) GetTriggerSweep() string {
	if c.TriggerSweep == nil {
		return ""
	}
	return *c.TriggerSweep
}

// GetAck returns the ack value or the default.
func (c *CaptureConfig) GetAck() bool {
	if c.Ack == nil {
		return true
	}
	return *c.Ack
}

// GetAlwaysSendKey returns the always_send_key value or the default.
func (c *CaptureConfig) GetAlwaysSendKey() bool {
	if c.AlwaysSendKey == nil {
		return false
	}
	return *c.AlwaysSendKey
}

// GetPollInterval returns the poll_interval value or the default.
func (c *CaptureConfig) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, 50*time.Millisecond)
}

// GetPollLimit returns the poll_limit value or the default.
func (c *CaptureConfig) GetPollLimit() int {
	if c.PollLimit == nil {
		return 100
	}
	return *c.PollLimit
}
