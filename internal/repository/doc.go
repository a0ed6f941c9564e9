// Package repository defines durable storage for the known-peripheral table.
//
// Only confirmed state is stored: peripherals the registry has accepted,
// with their remote record id, metadata and miss count. Entries awaiting
// a create result are never written, so a restart cannot resurrect a
// registration that did not happen.
//
// The sqlite subpackage implements Store. When no state path is configured
// the service runs with an in-memory table only and devices are simply
// rediscovered after a restart.
package repository
