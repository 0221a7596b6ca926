package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tracecapture/internal/capture"
	"github.com/banshee-data/tracecapture/internal/config"
)

func TestApplyEnv(t *testing.T) {
	var f flags
	fs := newFlagSet(&f)
	require.NoError(t, fs.Parse([]string{"--scope-addr=10.0.0.5", "--count=3"}))

	env := map[string]string{
		"TRACECAPTURE_SCOPE_ADDR":      "10.0.0.9",
		"TRACECAPTURE_TARGET_PORT":     "/dev/ttyACM0",
		"TRACECAPTURE_ALWAYS_SEND_KEY": "true",
	}
	require.NoError(t, applyEnv(fs, envPrefix, func(k string) string { return env[k] }))

	assert.Equal(t, "10.0.0.5", f.scopeAddr, "command line wins over environment")
	assert.Equal(t, "/dev/ttyACM0", f.targetPort)
	assert.True(t, f.alwaysSendKey)
	assert.Equal(t, 3, f.count)
	assert.True(t, fs.Changed("target-port"))
	assert.False(t, fs.Changed("encoding"))
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	var f flags
	fs := newFlagSet(&f)
	require.NoError(t, fs.Parse(nil))

	err := applyEnv(fs, envPrefix, func(k string) string {
		if k == "TRACECAPTURE_COUNT" {
			return "many"
		}
		return ""
	})
	assert.Error(t, err)
}

func TestMergeFlags(t *testing.T) {
	var f flags
	fs := newFlagSet(&f)
	require.NoError(t, fs.Parse([]string{"--sync=opc", "--baud-rate=115200"}))

	cfg := config.EmptyCaptureConfig()
	encoding := config.EncodingBinary
	cfg.Encoding = &encoding
	mergeFlags(cfg, fs, &f)

	assert.Equal(t, config.SyncOPC, cfg.GetSync())
	assert.Equal(t, 115200, cfg.GetBaudRate())
	assert.Equal(t, config.EncodingBinary, cfg.GetEncoding(), "unset flags keep the file value")
	assert.Nil(t, cfg.ScopeAddress)
}

func TestDecodeHex(t *testing.T) {
	b, err := decodeHex("key", "2b7e1516 28aed2a6 abf71588 09cf4f3c")
	require.NoError(t, err)
	assert.Len(t, b, 16)

	b, err = decodeHex("key", "0x00ff")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, b)

	b, err = decodeHex("key", "")
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = decodeHex("key", "xyz")
	assert.Error(t, err)
}

type scriptedCapturer struct {
	results    []error
	plaintexts [][]byte
}

func (s *scriptedCapturer) Capture(_ context.Context, plaintext, key []byte) (*capture.Trace, error) {
	s.plaintexts = append(s.plaintexts, plaintext)
	err := s.results[len(s.plaintexts)-1]
	if err != nil {
		return nil, err
	}
	return capture.NewTrace(time.Now(), []float64{0}, nil, plaintext, []byte{1}, key), nil
}

func TestRunCaptures_SkipsNoResult(t *testing.T) {
	noResult := fmt.Errorf("%w: %w", capture.ErrNoResult, capture.ErrTargetTimeout)
	c := &scriptedCapturer{results: []error{nil, noResult, nil}}

	ok, skipped, err := runCaptures(context.Background(), c, 3, 16, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, skipped)

	require.Len(t, c.plaintexts, 3)
	for _, pt := range c.plaintexts {
		assert.Len(t, pt, 16)
	}
	assert.NotEqual(t, c.plaintexts[0], c.plaintexts[2], "random plaintexts should differ")
}

func TestRunCaptures_StopsOnError(t *testing.T) {
	broken := errors.New("scope went away")
	c := &scriptedCapturer{results: []error{nil, broken, nil}}
	fixed := []byte{0xde, 0xad}

	ok, skipped, err := runCaptures(context.Background(), c, 3, 16, fixed, nil)
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, 1, ok)
	assert.Zero(t, skipped)
	assert.Len(t, c.plaintexts, 2)
	assert.Equal(t, fixed, c.plaintexts[0])
}

func TestRunCaptures_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &scriptedCapturer{}

	_, _, err := runCaptures(ctx, c, 5, 16, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.plaintexts)
}

func noEnv(string) string { return "" }

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing scope address", []string{"--target-port=/dev/null"}, "scope address is required"},
		{"bad count", []string{"--scope-addr=127.0.0.1", "--count=0"}, "count must be positive"},
		{"bad key", []string{"--scope-addr=127.0.0.1", "--key=zz"}, "invalid key"},
		{"bad encoding", []string{"--scope-addr=127.0.0.1", "--encoding=hex"}, "invalid capture settings"},
		{"unknown flag", []string{"--no-such-flag"}, "failed to parse flags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args, noEnv)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_Version(t *testing.T) {
	assert.NoError(t, run([]string{"--version"}, noEnv))
}

func TestShutdownMetrics(t *testing.T) {
	srv := serveMetrics("127.0.0.1:0", prometheus.NewRegistry())
	shutdownMetrics(srv)
	assert.ErrorIs(t, srv.ListenAndServe(), http.ErrServerClosed)
}
