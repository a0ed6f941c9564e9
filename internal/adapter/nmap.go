package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/rs/zerolog"
)

// scanFunc runs nmap with the given options. Replaced in tests.
type scanFunc func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, []string, error)

// NmapProber runs nmap with the modbus-discover NSE script and returns the
// XML report. It implements ProbeRunner.
type NmapProber struct {
	timeout    time.Duration
	portRange  string
	script     string
	scriptArgs map[string]string
	binaryPath string
	timing     nmap.Timing
	skipPing   bool
	logger     zerolog.Logger
	scan       scanFunc
}

// NewNmapProber creates a prober with defaults matching a gateway sweep for
// Modbus-TCP on the standard port
func NewNmapProber(opts ...NmapOption) *NmapProber {
	p := &NmapProber{
		timeout:    10 * time.Minute,
		portRange:  "502",
		script:     "modbus-discover",
		scriptArgs: map[string]string{"modbus-discover.aggressive": "true"},
		timing:     nmap.TimingAggressive,
		logger:     zerolog.Nop(),
		scan:       runNmap,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Name returns the prober identifier
func (p *NmapProber) Name() string {
	return "nmap"
}

// Check reports whether the nmap binary can be executed
func (p *NmapProber) Check(ctx context.Context) error {
	opts := []nmap.Option{nmap.WithTargets("localhost"), nmap.WithListScan()}
	if p.binaryPath != "" {
		opts = append(opts, nmap.WithBinaryPath(p.binaryPath))
	}
	if _, _, err := p.scan(ctx, opts...); err != nil {
		return fmt.Errorf("nmap not usable: %w", err)
	}
	return nil
}

// Run scans target (one or more CIDR ranges or addresses separated by commas
// or spaces) and returns the raw XML report. Exceeding the timeout fails
// with ErrProbeTimeout and discards any partial output.
func (p *NmapProber) Run(ctx context.Context, target string) ([]byte, error) {
	targets := splitTargets(target)
	if len(targets) == 0 {
		return nil, executionError(target, "no target", nil)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	p.logger.Debug().
		Strs("targets", targets).
		Str("ports", p.portRange).
		Str("script", p.script).
		Dur("timeout", p.timeout).
		Msg("Starting nmap probe")

	result, warnings, err := p.scan(runCtx, p.options(targets)...)
	if len(warnings) > 0 {
		p.logger.Warn().Strs("warnings", warnings).Str("target", target).Msg("nmap reported warnings")
	}

	if err != nil {
		if isTimeout(runCtx, err) {
			return nil, timeoutError(target, err)
		}
		if ctx.Err() != nil {
			return nil, executionError(target, "interrupted", ctx.Err())
		}
		return nil, executionError(target, "nmap failed", err)
	}
	if result == nil {
		return nil, executionError(target, "empty result", nil)
	}

	raw, err := io.ReadAll(result.ToReader())
	if err != nil {
		return nil, executionError(target, "read report", err)
	}

	p.logger.Debug().
		Int("hosts", len(result.Hosts)).
		Int("bytes", len(raw)).
		Dur("elapsed", time.Since(start)).
		Msg("nmap probe complete")

	return raw, nil
}

func (p *NmapProber) options(targets []string) []nmap.Option {
	opts := []nmap.Option{
		nmap.WithTargets(targets...),
		nmap.WithPorts(p.portRange),
		nmap.WithTimingTemplate(p.timing),
	}

	if p.script != "" {
		opts = append(opts, nmap.WithScripts(p.script))
		if len(p.scriptArgs) > 0 {
			opts = append(opts, nmap.WithScriptArguments(p.scriptArgs))
		}
	}

	if p.skipPing {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	if p.binaryPath != "" {
		opts = append(opts, nmap.WithBinaryPath(p.binaryPath))
	}

	return opts
}

func runNmap(ctx context.Context, opts ...nmap.Option) (*nmap.Run, []string, error) {
	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	var w []string
	if warnings != nil {
		w = *warnings
	}
	return result, w, err
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, nmap.ErrScanTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func splitTargets(target string) []string {
	return strings.FieldsFunc(target, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}
