// Command capture drives an oscilloscope and a SimpleSerial target to record
// side-channel traces. Every flag may also be set from the environment as
// TRACECAPTURE_<FLAG_NAME>, for example TRACECAPTURE_SCOPE_ADDR.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/banshee-data/tracecapture/internal/capture"
	"github.com/banshee-data/tracecapture/internal/config"
	"github.com/banshee-data/tracecapture/internal/monitoring"
	"github.com/banshee-data/tracecapture/internal/scope"
	"github.com/banshee-data/tracecapture/internal/scpi"
	"github.com/banshee-data/tracecapture/internal/serialport"
	"github.com/banshee-data/tracecapture/internal/simpleserial"
	"github.com/banshee-data/tracecapture/internal/version"
)

const envPrefix = "TRACECAPTURE_"

type flags struct {
	scopeAddr     string
	targetPort    string
	baudRate      int
	configPath    string
	encoding      string
	units         string
	sync          string
	count         int
	key           string
	plaintext     string
	alwaysSendKey bool
	metricsListen string
	verbose       bool
	version       bool
}

func newFlagSet(f *flags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("capture", pflag.ContinueOnError)
	fs.StringVar(&f.scopeAddr, "scope-addr", "", "Oscilloscope address, host or host:port (port defaults to 5025)")
	fs.StringVar(&f.targetPort, "target-port", "", "Serial port of the capture target")
	fs.IntVar(&f.baudRate, "baud-rate", 0, "Target baud rate (default 38400)")
	fs.StringVar(&f.configPath, "config", "", "Path to a JSON capture config")
	fs.StringVar(&f.encoding, "encoding", "", "Waveform encoding: ascii or binary")
	fs.StringVar(&f.units, "units", "", "Binary sample units: raw or mv")
	fs.StringVar(&f.sync, "sync", "", "Completion wait: poll (target done flag) or opc (scope *OPC?)")
	fs.IntVar(&f.count, "count", 1, "Number of traces to capture")
	fs.StringVar(&f.key, "key", "", "Key to load as hex; empty keeps the target's key")
	fs.StringVar(&f.plaintext, "plaintext", "", "Fixed plaintext as hex; empty sends a random plaintext per trace")
	fs.BoolVar(&f.alwaysSendKey, "always-send-key", false, "Upload the key before every trace even when unchanged")
	fs.StringVar(&f.metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address, e.g. :9102")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Log SCPI and target diagnostics")
	fs.BoolVar(&f.version, "version", false, "Print version and exit")
	return fs
}

// applyEnv sets every flag not given on the command line from its
// TRACECAPTURE_ environment variable, if present.
func applyEnv(fs *pflag.FlagSet, prefix string, getenv func(string) string) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || err != nil {
			return
		}
		name := prefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		v := getenv(name)
		if v == "" {
			return
		}
		if serr := f.Value.Set(v); serr != nil {
			err = fmt.Errorf("invalid %s=%q: %w", name, v, serr)
			return
		}
		f.Changed = true
	})
	return err
}

// mergeFlags overlays the flags that were set onto cfg.
func mergeFlags(cfg *config.CaptureConfig, fs *pflag.FlagSet, f *flags) {
	if fs.Changed("scope-addr") {
		cfg.ScopeAddress = &f.scopeAddr
	}
	if fs.Changed("target-port") {
		cfg.TargetPort = &f.targetPort
	}
	if fs.Changed("baud-rate") {
		cfg.BaudRate = &f.baudRate
	}
	if fs.Changed("encoding") {
		cfg.Encoding = &f.encoding
	}
	if fs.Changed("units") {
		cfg.Units = &f.units
	}
	if fs.Changed("sync") {
		cfg.Sync = &f.sync
	}
	if fs.Changed("always-send-key") {
		cfg.AlwaysSendKey = &f.alwaysSendKey
	}
}

func decodeHex(name, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(s, " ", ""), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

func randomPlaintext(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate plaintext: %w", err)
	}
	return b, nil
}

type capturer interface {
	Capture(ctx context.Context, plaintext, key []byte) (*capture.Trace, error)
}

// runCaptures takes count traces. Captures that produce no result are logged
// and skipped; any other error stops the run.
func runCaptures(ctx context.Context, c capturer, count, blockLen int, fixed, key []byte) (ok, skipped int, err error) {
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return ok, skipped, err
		}

		pt := fixed
		if pt == nil {
			if pt, err = randomPlaintext(blockLen); err != nil {
				return ok, skipped, err
			}
		}

		trace, err := c.Capture(ctx, pt, key)
		if errors.Is(err, capture.ErrNoResult) {
			log.Printf("trace %d/%d: no result: %v", i+1, count, err)
			skipped++
			continue
		}
		if err != nil {
			return ok, skipped, fmt.Errorf("trace %d/%d: %w", i+1, count, err)
		}

		ok++
		log.Printf("trace %d/%d %s: %d samples pt=%x ct=%x", i+1, count, trace.ID, trace.Len(), trace.Plaintext, trace.Ciphertext)
	}
	return ok, skipped, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()
	log.Printf("serving metrics on %s/metrics", addr)
	return srv
}

func shutdownMetrics(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("metrics server shutdown: %v", err)
	}
}

// run parses args, connects to both instruments and takes the requested
// traces. Deferred cleanup runs before the error reaches main.
func run(args []string, getenv func(string) string) error {
	var f flags
	fs := newFlagSet(&f)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if err := applyEnv(fs, envPrefix, getenv); err != nil {
		return err
	}
	if f.version {
		fmt.Println(version.String())
		return nil
	}
	monitoring.SetVerbose(f.verbose)

	cfg := config.EmptyCaptureConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadCaptureConfig(f.configPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	mergeFlags(cfg, fs, &f)

	opts, err := capture.OptionsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid capture settings: %w", err)
	}
	if cfg.GetScopeAddress() == "" {
		return errors.New("scope address is required")
	}
	if f.count <= 0 {
		return fmt.Errorf("count must be positive, got %d", f.count)
	}

	key, err := decodeHex("key", f.key)
	if err != nil {
		return err
	}
	fixed, err := decodeHex("plaintext", f.plaintext)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *monitoring.CaptureMetrics
	if f.metricsListen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = monitoring.NewCaptureMetrics(reg)
		srv := serveMetrics(f.metricsListen, reg)
		defer shutdownMetrics(srv)
	}

	conn, err := scpi.Dial(cfg.GetScopeAddress(), cfg.GetScopeTimeout())
	if err != nil {
		return fmt.Errorf("failed to connect to scope: %w", err)
	}
	defer conn.Close()

	portOpts := serialport.Options{
		BaudRate: cfg.GetBaudRate(),
		DataBits: cfg.GetDataBits(),
		StopBits: cfg.GetStopBits(),
		Parity:   cfg.GetParity(),
	}
	port, err := serialport.Open(cfg.GetTargetPort(), portOpts)
	if err != nil {
		return fmt.Errorf("failed to open target port %s: %w", cfg.GetTargetPort(), err)
	}
	defer port.Close()
	log.Printf("connected to scope %s and target %s (%s)", cfg.GetScopeAddress(), cfg.GetTargetPort(), portOpts)

	target := simpleserial.NewTarget(port, simpleserial.Config{
		OutputLen:   cfg.GetOutputLen(),
		ReadTimeout: cfg.GetReadTimeout(),
	})
	target.SetMetrics(metrics)

	c, err := capture.NewCapturer(scope.New(conn), target, opts)
	if err != nil {
		return fmt.Errorf("failed to create capturer: %w", err)
	}
	c.SetMetrics(metrics)

	log.Printf("capturing %d traces (encoding=%s units=%s sync=%s)", f.count, opts.Encoding, opts.Units, opts.Sync)
	ok, skipped, err := runCaptures(ctx, c, f.count, target.OutputLen(), fixed, key)
	log.Printf("captured %d traces, %d without result", ok, skipped)
	if err != nil {
		return fmt.Errorf("capture stopped: %w", err)
	}
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Getenv); err != nil {
		log.Fatal(err)
	}
}
