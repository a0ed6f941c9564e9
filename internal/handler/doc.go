// Package handler implements the modbusmgr status API.
//
// # Endpoints
//
//	GET  /healthz           liveness probe
//	GET  /api/status        scheduler state and the last cycle summary
//	GET  /api/peripherals   the known-peripheral table
//	POST /api/scan          request an immediate scan cycle
//	GET  /api/events        Server-Sent Events stream of cycle and peripheral events
//
// # Response Format
//
// Success responses return JSON data with appropriate status codes (200, 202).
// Error responses return JSON with {error, details} structure.
//
// A scan request never starts a cycle itself: it queues one on the
// scheduler, and requests made while one is already queued coalesce.
package handler
