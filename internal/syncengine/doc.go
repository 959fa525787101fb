// Package syncengine reconciles the local store with the remote backend.
//
// One Run is a cycle of five steps: push telemetry, push configuration,
// forward commands for devices without a local transport, pull devices and
// configuration, and clean up. A failing step is recorded in the Result and
// the cycle moves on; rows within a step are isolated the same way, so one
// bad row never blocks the other nine.
//
// A Run fails as a whole only when the local store is unhealthy, the
// backend credential is missing or expired, or every remote call in the
// cycle failed with a network error.
//
// Configuration conflicts are settled last-write-wins by LastModified. A
// device the backend has moved to another user is taken as the backend
// describes it, and its local pending edits are dropped.
package syncengine
