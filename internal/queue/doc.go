// Package queue implements the durable outbound command queue.
//
// Commands move through a small state machine:
//
//	PENDING -> SENT -> COMPLETED
//	PENDING -> SENT -> FAILED (retryable) -> PENDING -> ...
//	PENDING -> SENT (remote) -> PENDING when the backend is unreachable
//	PENDING/SENT/FAILED (retryable) -> CANCELLED
//	any non-terminal state -> EXPIRED once ExpiresAt has passed
//
// COMPLETED, CANCELLED, EXPIRED and FAILED with Retryable unset are
// terminal. Manager is the only writer of command rows; every transition
// is one SQLite transaction and is then published to an optional EventSink.
//
// Ready commands are ordered by priority (higher first), then creation
// time, then ID. The n-th failed delivery waits min(BaseDelay*2^n,
// MaxDelay) before RetrySweep returns it to PENDING. FailUnconfirmed
// fails commands that stayed SENT longer than Policy.SentTimeout.
//
// Processor dispatches commands for devices with a reachable local
// transport. The sync engine forwards the remaining ones to the backend
// and marks them with MarkSentRemote, reverting with RevertForward when
// the backend cannot be reached.
package queue
