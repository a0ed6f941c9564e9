// Package adapter connects the peripheral manager to the network.
//
// # Probe
//
// ProbeRunner is the capability the scheduler uses to run discovery.
// NmapProber implements it with nmap and the modbus-discover NSE script,
// returning the XML report. A run that exceeds its timeout fails with
// ErrProbeTimeout and its partial output is dropped; any other failure is
// ErrProbeExecution. Both are wrapped in a ProbeError.
//
// # Parser
//
// Parser converts a raw report into domain observations. It reads nmap XML
// host by host and falls back to nmap's normal text output. Each
// "sid 0xNN" unit reported by modbus-discover becomes its own observation
// carrying unit_id, classes and vendor metadata; a Modbus port with no
// responding unit yields a single observation for the port. Observations
// are deduplicated by identity, last record wins.
//
// # Gateway
//
// DefaultGateway reads the kernel routing table so a device with no
// configured range can sweep its upstream gateway.
package adapter
