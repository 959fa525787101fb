package queue

import (
	"time"
)

// Status is the lifecycle state of a queued command.
type Status string

// Command statuses. FAILED is terminal only when Retryable is false.
const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// AllStatuses returns every command status.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusSent, StatusCompleted, StatusFailed, StatusCancelled, StatusExpired}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range AllStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

// Route records which path delivered a SENT command.
type Route string

// Delivery routes.
const (
	RouteLocal  Route = "local"
	RouteRemote Route = "remote"
)

// Command is a single instruction queued for delivery to a device.
type Command struct {
	ID          string         `json:"id"`
	DeviceID    string         `json:"device_id"`
	CommandName string         `json:"command_name"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Priority    int            `json:"priority"`
	Status      Status         `json:"status"`

	// Retryable marks a FAILED command that the retry sweep will move back
	// to PENDING once ScheduledAt passes.
	Retryable  bool `json:"retryable"`
	RetryCount int  `json:"retry_count"`
	MaxRetries int  `json:"max_retries"`

	Route        Route          `json:"route,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// IsTerminal reports whether no further transition is permitted.
func (c *Command) IsTerminal() bool {
	switch c.Status {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	case StatusFailed:
		return !c.Retryable
	default:
		return false
	}
}

// IsExpired reports whether the command has an ExpiresAt before now.
func (c *Command) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Cancellable reports whether Cancel would change the command.
// A FAILED command awaiting retry still counts as queued.
func (c *Command) Cancellable() bool {
	switch c.Status {
	case StatusPending, StatusSent:
		return true
	case StatusFailed:
		return c.Retryable
	default:
		return false
	}
}

// EnqueueRequest describes a new command.
type EnqueueRequest struct {
	DeviceID    string         `json:"device_id"`
	CommandName string         `json:"command_name"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Priority    int            `json:"priority"`

	// MaxRetries overrides the policy default when set.
	MaxRetries *int `json:"max_retries,omitempty"`

	// ScheduledAt delays the first dispatch.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	DeviceID string
	Statuses []Status
	Limit    int
}

// Stats aggregates command counts for status displays.
// Retrying counts FAILED commands still awaiting the retry sweep.
type Stats struct {
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Retrying  int `json:"retrying"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Expired   int `json:"expired"`
}

// Total returns the number of commands counted.
func (s Stats) Total() int {
	return s.Pending + s.Sent + s.Retrying + s.Completed + s.Failed + s.Cancelled + s.Expired
}

// EventType names a command transition.
type EventType string

// Command events.
const (
	EventEnqueued  EventType = "command.enqueued"
	EventSent      EventType = "command.sent"
	EventCompleted EventType = "command.completed"
	EventFailed    EventType = "command.failed"
	EventRetrying  EventType = "command.retrying"
	EventCancelled EventType = "command.cancelled"
	EventExpired   EventType = "command.expired"
)

// Event is emitted after a transition has been committed.
type Event struct {
	Type    EventType `json:"type"`
	Command Command   `json:"command"`
	At      time.Time `json:"at"`
}

// EventSink receives committed command transitions. Implementations must
// not block; the manager calls them inline.
type EventSink interface {
	CommandEvent(Event)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

// CommandEvent forwards e to every sink.
func (ms MultiSink) CommandEvent(e Event) {
	for _, s := range ms {
		s.CommandEvent(e)
	}
}
