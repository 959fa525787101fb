// Package settings stores per-device key/value configuration.
//
// Local edits (Store.Set) are validated against the entry's data type and
// JSON validation rules and flagged PENDING for upload. Values pulled from
// the backend are merged with Store.ApplyRemote: a local PENDING edit with
// a later LastModified survives, everything else takes the remote value.
package settings
