// Package domain defines the core types of the Modbus peripheral manager.
//
// Observation is one Modbus-TCP endpoint reported by a single discovery
// probe. It carries the host, the port and free-form metadata (unit id,
// vendor, slave id data) and is discarded once reconciled.
//
// Identity is the stable key used to correlate observations across scan
// cycles. Resolver derives it from (host, port), optionally extended with the
// device-reported unit id.
//
// KnownPeripheral is an entry of the reconciliation table: the last metadata
// seen, the remote registry record id once confirmed, and the number of
// consecutive cycles in which the peripheral was not observed.
//
// Operation is a create, update or remove to be applied against the remote
// registry; OperationResult reports how it went.
//
// The package has no infrastructure dependencies.
package domain
