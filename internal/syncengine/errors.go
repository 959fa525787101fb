package syncengine

import (
	"errors"
	"fmt"
)

// Domain errors. A run fails as a whole only for these; everything else is
// recorded against the step that hit it.
var (
	// ErrAlreadyRunning is returned when Run is called while a cycle is in
	// flight. The returned Result has AlreadyRunning set and nothing was
	// changed.
	ErrAlreadyRunning = errors.New("syncengine: sync already running")

	// ErrStoreUnavailable wraps a failed local store health check.
	ErrStoreUnavailable = errors.New("syncengine: local store unavailable")

	// ErrRemoteUnreachable is returned when every remote call in a cycle
	// failed with a network error.
	ErrRemoteUnreachable = errors.New("syncengine: remote unreachable")
)

// ConflictError records a device the backend has reassigned to another
// user. The remote copy wins and local unsynced configuration edits for the
// device are dropped.
type ConflictError struct {
	DeviceID     string `json:"device_id"`
	LocalUserID  string `json:"local_user_id"`
	RemoteUserID string `json:"remote_user_id"`
	Discarded    int    `json:"discarded"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("syncengine: device %s reassigned from user %q to %q (%d pending edits discarded)",
		e.DeviceID, e.LocalUserID, e.RemoteUserID, e.Discarded)
}
