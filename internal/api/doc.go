// Package api implements the HTTP REST API and WebSocket server for rollcall.
//
// This package provides:
//   - Manual scan submission and scan mode control
//   - Reader status, port discovery and connect/disconnect
//   - Person status, attendance history and enrolment
//   - WebSocket hub for live scan outcomes and reader state
//   - Middleware stack (request ID, logging, recovery, CORS, rate limit)
//
// # Architecture
//
// The API is an outer surface over the scan pipeline. Manual submissions
// go through the same dispatcher as device frames, so an operator typing
// an id and a card tap produce identical outcomes. Outcomes reach
// WebSocket clients through the notify package, which calls Hub.Broadcast.
//
// # Graceful Degradation
//
// Only the scan service is required. Without a reader, ledger, people
// store or audit repository the matching routes answer 503.
package api
