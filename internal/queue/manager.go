package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/devsync-core/internal/device"
	"github.com/nerrad567/devsync-core/internal/dispatch"
	"github.com/nerrad567/devsync-core/internal/infrastructure/metrics"
)

// maxCommandNameLength bounds command names accepted by Enqueue.
const maxCommandNameLength = 128

// Logger defines the logging interface used by the queue.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceSource resolves the device a command targets.
type DeviceSource interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// Manager owns the command state machine. All status changes go through
// it; each one is a single transaction followed by an Event.
type Manager struct {
	repo      Repository
	devices   DeviceSource
	transport dispatch.Transport
	policy    Policy
	logger    Logger
	now       func() time.Time

	mu   sync.RWMutex
	sink EventSink
}

// NewManager creates a queue manager.
func NewManager(repo Repository, devices DeviceSource, transport dispatch.Transport, policy Policy) *Manager {
	return &Manager{
		repo:      repo,
		devices:   devices,
		transport: transport,
		policy:    policy,
		logger:    noopLogger{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetEventSink registers the observer for committed transitions.
func (m *Manager) SetEventSink(sink EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Policy returns the retry policy in use.
func (m *Manager) Policy() Policy {
	return m.policy
}

// Enqueue validates and stores a new PENDING command.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (*Command, error) {
	now := m.now()

	name := strings.TrimSpace(req.CommandName)
	switch {
	case req.DeviceID == "":
		return nil, invalid("device_id", "is required")
	case name == "":
		return nil, invalid("command_name", "is required")
	case len(name) > maxCommandNameLength:
		return nil, invalid("command_name", "exceeds %d characters", maxCommandNameLength)
	case req.ExpiresAt != nil && !req.ExpiresAt.After(now):
		return nil, invalid("expires_at", "is already in the past")
	}

	maxRetries := m.policy.DefaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, invalid("max_retries", "must not be negative")
		}
		maxRetries = *req.MaxRetries
	}

	if _, err := m.devices.GetDevice(ctx, req.DeviceID); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil, invalid("device_id", "device %q does not exist", req.DeviceID)
		}
		return nil, fmt.Errorf("looking up device: %w", err)
	}

	cmd := &Command{
		ID:          uuid.New().String(),
		DeviceID:    req.DeviceID,
		CommandName: name,
		Parameters:  req.Parameters,
		Priority:    req.Priority,
		Status:      StatusPending,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		ScheduledAt: utcPtr(req.ScheduledAt),
		ExpiresAt:   utcPtr(req.ExpiresAt),
	}
	if err := m.repo.Insert(ctx, cmd); err != nil {
		return nil, err
	}

	m.logger.Debug("command enqueued",
		"command_id", cmd.ID, "device_id", cmd.DeviceID, "command", cmd.CommandName, "priority", cmd.Priority)
	m.emit(EventEnqueued, cmd)
	return cmd, nil
}

// NextReadyCommands returns up to limit PENDING commands that are due at
// now, highest priority first and oldest first within a priority.
func (m *Manager) NextReadyCommands(ctx context.Context, limit int, now time.Time) ([]Command, error) {
	if limit <= 0 {
		return nil, nil
	}
	return m.repo.Ready(ctx, now, limit)
}

// ReadyFor returns ready commands filtered by delivery route. RouteLocal
// selects commands whose device a local transport can reach right now;
// RouteRemote selects the rest, which are forwarded through the backend.
func (m *Manager) ReadyFor(ctx context.Context, route Route, limit int, now time.Time) ([]Command, error) {
	if limit <= 0 {
		return nil, nil
	}
	ready, err := m.repo.Ready(ctx, now, 0)
	if err != nil {
		return nil, err
	}

	reachable := make(map[string]bool)
	var out []Command
	for _, c := range ready {
		direct, seen := reachable[c.DeviceID]
		if !seen {
			d, err := m.devices.GetDevice(ctx, c.DeviceID)
			if err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
				return nil, fmt.Errorf("looking up device: %w", err)
			}
			direct = d != nil && m.transport.Reachable(Target(d, c.ID))
			reachable[c.DeviceID] = direct
		}
		if direct == (route == RouteLocal) {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Dispatch moves a PENDING command to SENT, delivers it over the local
// transport and records the outcome. The returned error covers storage
// and state problems only; delivery failures are recorded on the command
// through the retry policy.
//
// A command whose ExpiresAt has passed is moved to EXPIRED instead.
func (m *Manager) Dispatch(ctx context.Context, id string) (*Command, error) {
	now := m.now()
	var expired bool
	cmd, changed, err := m.repo.Mutate(ctx, id, func(c *Command) error {
		if !c.IsTerminal() && c.IsExpired(now) {
			expireCommand(c, now)
			expired = true
			return nil
		}
		if c.Status != StatusPending {
			return transitionError(c, "dispatch")
		}
		c.Status = StatusSent
		c.Route = RouteLocal
		c.SentAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		m.emit(EventExpired, cmd)
		return cmd, nil
	}
	if changed {
		m.emit(EventSent, cmd)
	}

	// Outcome bookkeeping must land even if the caller gives up waiting.
	record := context.WithoutCancel(ctx)

	d, err := m.devices.GetDevice(ctx, cmd.DeviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return m.FailPermanent(record, id, "device no longer exists")
		}
		return m.Fail(record, id, fmt.Sprintf("looking up device: %v", err))
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.policy.DispatchTimeout)
	defer cancel()

	ack, sendErr := m.transport.Send(sendCtx, Target(d, cmd.ID), cmd.CommandName, cmd.Parameters)
	switch {
	case sendErr == nil:
		return m.Complete(record, id, ack.Result)
	case dispatch.IsPermanent(sendErr):
		m.logger.Warn("command rejected by device", "command_id", id, "device_id", cmd.DeviceID, "error", sendErr)
		return m.FailPermanent(record, id, sendErr.Error())
	default:
		m.logger.Debug("command dispatch failed", "command_id", id, "device_id", cmd.DeviceID, "error", sendErr)
		return m.Fail(record, id, sendErr.Error())
	}
}

// MarkSentRemote claims a PENDING command for forwarding through the
// backend. The command stays SENT until the backend outcome is recorded,
// RevertForward undoes the claim, or FailUnconfirmed times it out.
func (m *Manager) MarkSentRemote(ctx context.Context, id string) (*Command, error) {
	now := m.now()
	cmd, changed, err := m.repo.Mutate(ctx, id, func(c *Command) error {
		if c.Status != StatusPending {
			return transitionError(c, "forward")
		}
		c.Status = StatusSent
		c.Route = RouteRemote
		c.SentAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.emit(EventSent, cmd)
	}
	return cmd, nil
}

// RevertForward returns a remotely forwarded command to PENDING after the
// backend could not be reached. The attempt never left the node, so the
// retry budget is untouched.
func (m *Manager) RevertForward(ctx context.Context, id, reason string) (*Command, error) {
	cmd, changed, err := m.repo.Mutate(ctx, id, func(c *Command) error {
		if c.Status != StatusSent || c.Route != RouteRemote {
			return transitionError(c, "revert")
		}
		c.Status = StatusPending
		c.Route = ""
		c.SentAt = nil
		c.ErrorMessage = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.emit(EventRetrying, cmd)
	}
	return cmd, nil
}

// FailUnconfirmed settles SENT commands that have had no outcome since
// before the cutoff. Each goes through Fail, so it is retried while budget
// remains. This covers forwards the backend never confirmed and
// deliveries interrupted by a restart.
func (m *Manager) FailUnconfirmed(ctx context.Context, before time.Time) (int, error) {
	stale, err := m.repo.SentBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("listing unconfirmed commands: %w", err)
	}
	var n int
	for _, c := range stale {
		_, err := m.Fail(ctx, c.ID, "no delivery confirmation before timeout")
		switch {
		case errors.Is(err, ErrInvalidTransition):
			// Settled concurrently.
		case err != nil:
			return n, fmt.Errorf("failing unconfirmed command %s: %w", c.ID, err)
		default:
			n++
		}
	}
	if n > 0 {
		m.logger.Info("failed unconfirmed commands", "count", n, "cutoff", before)
	}
	return n, nil
}

// Complete records a successful delivery. Completing an already
// COMPLETED command keeps the first result and is not an error.
func (m *Manager) Complete(ctx context.Context, id string, result map[string]any) (*Command, error) {
	now := m.now()
	cmd, changed, err := m.repo.Mutate(ctx, id, func(c *Command) error {
		switch c.Status {
		case StatusCompleted:
			return errUnchanged
		case StatusSent:
			c.Status = StatusCompleted
			c.Result = result
			c.ErrorMessage = ""
			c.CompletedAt = &now
			return nil
		default:
			return transitionError(c, "complete")
		}
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.emit(EventCompleted, cmd)
	}
	return cmd, nil
}

// Fail records a transient delivery failure. While RetryCount stays below
// MaxRetries the command waits in FAILED-retryable until the retry sweep
// re-queues it; otherwise it becomes terminal. Failing a command that is
// already FAILED changes nothing.
func (m *Manager) Fail(ctx context.Context, id, message string) (*Command, error) {
	now := m.now()
	cmd, changed, err := m.repo.Mutate(ctx, id, func(c *Command) error {
		switch c.Status {
		case StatusFailed:
			return errUnchanged
		case StatusSent:
		default:
			return transitionError(c, "fail")
		}

		c.RetryCount++
		delay := m.policy.Backoff(c.RetryCount)
		c.Status = StatusFailed
		c.ErrorMessage = message
		if c.RetryCount < c.MaxRetries {
			next := now.Add(delay)
			c.Retryable = true
			c.ScheduledAt = &next
		} else {
			c.Retryable = false
			c.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		if cmd.Retryable {
			m.logger.Debug("command will be retried",
				"command_id", id, "retry_count", cmd.RetryCount, "scheduled_at", cmd.ScheduledAt)
		} else {
			m.logger.Warn("command failed permanently after retries",
				"command_id", id, "retry_count", cmd.RetryCount, "error", message)
		}
		m.emit(EventFailed, cmd)
	}
	return cmd, nil
}

// FailPermanent moves a command straight to terminal FAILED without
// consuming the retry budget.
func (m *Manager) FailPermanent(ctx context.Context, id, message string) (*Command, error) {
	now := m.now()
	cmd, changed, err := m.repo.Mutate(ctx, id, func(c *Command) error {
		if c.Status == StatusFailed && !c.Retryable {
			return errUnchanged
		}
		if c.IsTerminal() {
			return transitionError(c, "fail")
		}
		c.Status = StatusFailed
		c.Retryable = false
		c.ErrorMessage = message
		c.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.emit(EventFailed, cmd)
	}
	return cmd, nil
}

// Cancel stops any further delivery of a command. Terminal commands are
// returned unchanged. Cancelling a SENT command does not abort the
// in-flight delivery; it only prevents retries.
func (m *Manager) Cancel(ctx context.Context, id string) (*Command, error) {
	now := m.now()
	cmd, changed, err := m.repo.Mutate(ctx, id, func(c *Command) error {
		if !c.Cancellable() {
			return errUnchanged
		}
		c.Status = StatusCancelled
		c.Retryable = false
		c.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.emit(EventCancelled, cmd)
	}
	return cmd, nil
}

// CancelAllPendingForDevice cancels every queued command of a device and
// returns how many changed.
func (m *Manager) CancelAllPendingForDevice(ctx context.Context, deviceID string) (int, error) {
	cmds, err := m.repo.CancelForDevice(ctx, deviceID, m.now())
	if err != nil {
		return 0, fmt.Errorf("cancelling commands for device %s: %w", deviceID, err)
	}
	m.emitAll(EventCancelled, cmds)
	if len(cmds) > 0 {
		m.logger.Info("cancelled queued commands for device", "device_id", deviceID, "count", len(cmds))
	}
	return len(cmds), nil
}

// ExpireStale moves every non-terminal command whose ExpiresAt is before
// now to EXPIRED.
func (m *Manager) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	cmds, err := m.repo.ExpireStale(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expiring commands: %w", err)
	}
	m.emitAll(EventExpired, cmds)
	return len(cmds), nil
}

// RetrySweep returns FAILED-retryable commands whose backoff has elapsed
// to PENDING.
func (m *Manager) RetrySweep(ctx context.Context, now time.Time) (int, error) {
	cmds, err := m.repo.RetryDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("re-queueing commands: %w", err)
	}
	m.emitAll(EventRetrying, cmds)
	return len(cmds), nil
}

// PurgeCompleted deletes COMPLETED and CANCELLED commands that finished
// before the cutoff.
func (m *Manager) PurgeCompleted(ctx context.Context, before time.Time) (int, error) {
	return m.repo.PurgeCompleted(ctx, before)
}

// Get returns a command by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Command, error) {
	return m.repo.Get(ctx, id)
}

// List returns commands matching the filter, newest first.
func (m *Manager) List(ctx context.Context, filter Filter) ([]Command, error) {
	return m.repo.List(ctx, filter)
}

// Stats returns command counts by status.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.repo.Stats(ctx)
}

// HandleDeviceDeleted cancels the device's queued commands. It has the
// shape of device.DeleteHook.
func (m *Manager) HandleDeviceDeleted(ctx context.Context, deviceID string) error {
	_, err := m.CancelAllPendingForDevice(ctx, deviceID)
	return err
}

func (m *Manager) emit(t EventType, cmd *Command) {
	metrics.IncCommandTransition(string(cmd.Status))
	m.notify(t, cmd)
}

// emitAll publishes a batch transition; every command shares one status.
func (m *Manager) emitAll(t EventType, cmds []Command) {
	if len(cmds) == 0 {
		return
	}
	metrics.AddCommandTransitions(string(cmds[0].Status), len(cmds))
	for i := range cmds {
		m.notify(t, &cmds[i])
	}
}

func (m *Manager) notify(t EventType, cmd *Command) {
	m.mu.RLock()
	sink := m.sink
	m.mu.RUnlock()
	if sink != nil {
		sink.CommandEvent(Event{Type: t, Command: *cmd, At: m.now()})
	}
}

// Target builds the dispatch target for a device. The address is the
// first known of MAC, IP and serial number.
func Target(d *device.Device, commandID string) dispatch.Target {
	addr := d.MACAddress
	if addr == "" {
		addr = d.IPAddress
	}
	if addr == "" {
		addr = d.SerialNumber
	}
	return dispatch.Target{
		DeviceID:  d.ID,
		Protocol:  string(d.Protocol),
		Address:   addr,
		Online:    d.IsOnline,
		CommandID: commandID,
	}
}

func expireCommand(c *Command, now time.Time) {
	c.Status = StatusExpired
	c.Retryable = false
	c.CompletedAt = &now
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
