// Package server provides the diagnostics HTTP server for pulsesync.
//
// Routes:
//
//   - GET /: Embedded dashboard HTML
//   - GET /api/streams: JSON snapshot of every stream's status
//   - GET /api/sse: Server-Sent Events stream of status updates
//   - POST /api/streams/trigger: Explicit core stream sync
//   - POST /api/streams/{id}/trigger: Explicit special stream sync
//   - GET /metrics: Prometheus metrics
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
