package adapter

import (
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/rs/zerolog"
)

// NmapOption is a functional option for configuring NmapProber
type NmapOption func(*NmapProber)

// WithTimeout sets the hard limit for a single nmap run
func WithTimeout(d time.Duration) NmapOption {
	return func(p *NmapProber) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPortRange sets the ports to scan
// Format: "502" or "502,1502" or "1-1024"
func WithPortRange(ports string) NmapOption {
	return func(p *NmapProber) {
		if ports != "" {
			p.portRange = ports
		}
	}
}

// WithScript sets the NSE script and its arguments
func WithScript(script string, args map[string]string) NmapOption {
	return func(p *NmapProber) {
		p.script = script
		p.scriptArgs = args
	}
}

// WithBinaryPath runs a specific nmap binary instead of the one in PATH
func WithBinaryPath(path string) NmapOption {
	return func(p *NmapProber) {
		p.binaryPath = path
	}
}

// WithSkipHostDiscovery treats all hosts as online (-Pn).
// Useful for networks that block ICMP
func WithSkipHostDiscovery(skip bool) NmapOption {
	return func(p *NmapProber) {
		p.skipPing = skip
	}
}

// WithTiming sets the nmap timing template (-T)
func WithTiming(t nmap.Timing) NmapOption {
	return func(p *NmapProber) {
		p.timing = t
	}
}

// WithLogger attaches a logger for probe progress
func WithLogger(l zerolog.Logger) NmapOption {
	return func(p *NmapProber) {
		p.logger = l
	}
}

// WithAllPorts scans every TCP port (-p-), finding Modbus servers on
// non-standard ports at the cost of a much longer run
func WithAllPorts() NmapOption {
	return func(p *NmapProber) {
		p.portRange = "1-65535"
		if p.timeout < 30*time.Minute {
			p.timeout = 30 * time.Minute
		}
	}
}
