// Package remote is the HTTP client for the device-management backend.
//
// Errors unwrap to a small set of sentinels (ErrUnreachable,
// ErrUnauthorized, ErrRejected, ErrNotFound, ErrServer) so the sync engine
// can tell a flaky network from a refused credential.
package remote
