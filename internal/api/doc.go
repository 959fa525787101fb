// Package api implements the HTTP REST API and WebSocket server for the
// devsync core.
//
// This package provides:
//   - REST endpoints for commands, devices, telemetry and configuration
//   - Sync triggers and the sync status aggregate
//   - WebSocket hub relaying command transitions and sync runs
//   - JWT bearer authentication with role-based permissions
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API is the observe and control surface for local user interfaces.
// Commands submitted here are persisted PENDING by the queue manager and
// delivered by the queue processor or forwarded by the sync engine. Every
// committed transition is pushed to WebSocket subscribers by the Hub, which
// implements queue.EventSink and syncengine.Observer.
//
// # Security
//
// Protected routes require an HS256 bearer token signed with the configured
// secret. WebSocket clients pass the same token in the "token" query
// parameter since browsers cannot set headers on the upgrade request.
//
// # Graceful Degradation
//
// The server operates without MQTT and without a sync engine. Reads and
// command submission still work; only POST /sync reports unavailable.
package api
