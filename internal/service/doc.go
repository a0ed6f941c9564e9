// Package service implements the reconciliation core of modbusmgr.
//
// # Components
//
// Engine owns the known-peripheral table. Each cycle it diffs the observed
// set against the table and plans Create, Update and Remove operations.
// Absent peripherals are only removed after a configurable number of
// consecutive misses, so a single flaky scan never empties the registry.
// Table transitions are committed only once the registry confirms them.
//
// Applier dispatches a cycle's operations through a RegistryClient,
// concurrently across identities and never twice for one identity.
//
// Scheduler runs probe, parse, plan, apply and commit as one cycle at a
// fixed interval, backs off exponentially while cycles fail, and accepts
// coalesced manual triggers. It optionally writes committed transitions
// through to a repository.Store and seeds the engine from it on start.
//
// # Event System
//
// The scheduler publishes peripheral and cycle events on an EventBus for
// real-time updates to connected clients via Server-Sent Events (SSE).
package service
