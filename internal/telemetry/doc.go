// Package telemetry stores sensor readings until the sync engine has
// uploaded them.
//
// Readings arrive from transport gateways over MQTT (Ingestor) or from the
// HTTP API, pass through Recorder for validation, and are inserted with
// SyncStatus PENDING. Only the sync engine moves them to SYNCED or FAILED.
// An optional Mirror (the InfluxDB client) receives a copy of each stored
// reading for dashboards.
package telemetry
