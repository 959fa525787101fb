package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/devsync-core/internal/auth"
	"github.com/nerrad567/devsync-core/internal/device"
	"github.com/nerrad567/devsync-core/internal/infrastructure/metrics"
	"github.com/nerrad567/devsync-core/internal/queue"
	"github.com/nerrad567/devsync-core/internal/remote"
	"github.com/nerrad567/devsync-core/internal/settings"
	"github.com/nerrad567/devsync-core/internal/telemetry"
)

const (
	defaultBatchSize = 100

	// maxPages bounds how many upload pages one step sends per run.
	maxPages = 50
)

// Logger is the logging interface used by the engine.
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

// TelemetryStore is the interface the engine needs from the telemetry package.
type TelemetryStore interface {
	Pending(ctx context.Context, limit int) ([]telemetry.Reading, error)
	MarkSynced(ctx context.Context, ids []string) (int, error)
	MarkFailed(ctx context.Context, ids []string) (int, error)
	PurgeSynced(ctx context.Context, before time.Time) (int, error)
}

// ConfigStore is the interface the engine needs from the settings package.
type ConfigStore interface {
	Pending(ctx context.Context, limit int) ([]settings.Entry, error)
	MarkSynced(ctx context.Context, uploaded []settings.Entry) (int, error)
	MarkFailed(ctx context.Context, uploaded []settings.Entry) (int, error)
	ApplyRemote(ctx context.Context, remote settings.Entry) (settings.Outcome, error)
	DiscardPending(ctx context.Context, deviceID string) (int, error)
	PurgeFailed(ctx context.Context, before time.Time) (int, error)
}

// CommandQueue is the interface the engine needs from the queue package.
type CommandQueue interface {
	ReadyFor(ctx context.Context, route queue.Route, limit int, now time.Time) ([]queue.Command, error)
	MarkSentRemote(ctx context.Context, id string) (*queue.Command, error)
	RevertForward(ctx context.Context, id, reason string) (*queue.Command, error)
	Fail(ctx context.Context, id, message string) (*queue.Command, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	FailUnconfirmed(ctx context.Context, before time.Time) (int, error)
	RetrySweep(ctx context.Context, now time.Time) (int, error)
	PurgeCompleted(ctx context.Context, before time.Time) (int, error)
}

// DeviceStore is the interface the engine needs from the device package.
type DeviceStore interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	UpsertDevice(ctx context.Context, d *device.Device) (bool, error)
}

// HealthChecker reports whether the local store is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Observer is told about every finished run.
type Observer interface {
	SyncFinished(result *Result)
}

// Deps are the engine's collaborators. Tokens and Health may be nil.
type Deps struct {
	Remote    remote.Service
	Tokens    auth.TokenSource
	Health    HealthChecker
	Devices   DeviceStore
	Commands  CommandQueue
	Telemetry TelemetryStore
	Config    ConfigStore
}

// Config holds the engine settings.
type Config struct {
	// UserID scopes the device and configuration pull. Pull is skipped
	// when empty.
	UserID string

	// BatchSize is the page size for uploads and forwarded commands.
	BatchSize int

	// Retention windows for the cleanup step. Zero disables the purge.
	TelemetryRetention time.Duration
	CommandsRetention  time.Duration
	ConfigRetention    time.Duration

	// SentTimeout fails forwarded commands still SENT after this long.
	// Zero disables the timeout.
	SentTimeout time.Duration
}

// Engine reconciles local state with the remote backend.
//
// Thread Safety: Run and TriggerAsync are safe for concurrent use. At most
// one cycle runs at a time per Engine.
type Engine struct {
	deps   Deps
	cfg    Config
	logger Logger
	now    func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup

	mu        sync.RWMutex
	last      *Result
	observers []Observer
}

// NewEngine creates a sync engine.
func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Engine{
		deps:   deps,
		cfg:    cfg,
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// AddObserver registers o for run notifications. Call before the first run.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Running reports whether a cycle is in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// LastResult returns the result of the most recent completed run, or nil.
func (e *Engine) LastResult() *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Status returns the running flag and the last result.
func (e *Engine) Status() Status {
	return Status{Running: e.Running(), LastResult: e.LastResult()}
}

// Run performs one sync cycle. A concurrent call returns ErrAlreadyRunning
// without touching any state.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return &Result{AlreadyRunning: true, StartedAt: e.now()}, ErrAlreadyRunning
	}
	defer e.running.Store(false)
	return e.run(ctx)
}

// TriggerAsync starts a cycle in the background and reports whether one
// was started. ctx bounds the run, so request handlers should pass a
// context detached from the request.
func (e *Engine) TriggerAsync(ctx context.Context) bool {
	if !e.running.CompareAndSwap(false, true) {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.running.Store(false)
		if _, err := e.run(ctx); err != nil {
			e.logger.Warn("background sync failed", "error", err)
		}
	}()
	return true
}

// Wait blocks until background runs started by TriggerAsync finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// run executes the cycle. The caller holds the running flag.
func (e *Engine) run(ctx context.Context) (*Result, error) {
	result := &Result{
		ID:        uuid.NewString(),
		StartedAt: e.now(),
		Steps:     make(map[string]*StepResult),
	}
	e.logger.Info("sync started", "run_id", result.ID)

	err := e.cycle(ctx, result)
	result.FinishedAt = e.now()
	if err != nil {
		result.Error = err.Error()
	}

	outcome := metrics.ResultSuccess
	if result.Failed() {
		outcome = metrics.ResultError
	}
	metrics.ObserveSyncRun(outcome, result.Duration(), result.FinishedAt)

	if err != nil {
		e.logger.Error("sync failed", "run_id", result.ID, "error", err)
	} else {
		e.logger.Info("sync finished", "run_id", result.ID,
			"duration_ms", result.Duration().Milliseconds(), "summary", result.Summary())
	}

	e.mu.Lock()
	e.last = result
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()
	for _, o := range observers {
		o.SyncFinished(result)
	}

	return result, err
}

func (e *Engine) cycle(ctx context.Context, result *Result) error {
	if e.deps.Health != nil {
		if err := e.deps.Health.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
	}
	if e.deps.Tokens != nil {
		if _, err := e.deps.Tokens.Token(ctx); err != nil {
			return fmt.Errorf("%w: %w", remote.ErrUnauthorized, err)
		}
	}

	calls := &callTracker{}
	steps := []struct {
		name string
		fn   func(context.Context, *Result, *callTracker) error
	}{
		{StepPushTelemetry, e.pushTelemetry},
		{StepPushConfig, e.pushConfiguration},
		{StepPushCommands, e.pushCommands},
		{StepPull, e.pull},
		{StepCleanup, e.cleanup},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := step.fn(ctx, result, calls)
		sr := &StepResult{Duration: time.Since(start), Err: err}
		if err != nil {
			sr.Error = err.Error()
			e.logger.Warn("sync step failed", "run_id", result.ID, "step", step.name, "error", err)
		}
		result.Steps[step.name] = sr
	}

	if calls.allUnreachable() {
		return fmt.Errorf("%w: %d calls failed", ErrRemoteUnreachable, calls.total)
	}
	return nil
}

// callTracker counts remote calls and network failures within one run.
type callTracker struct {
	total       int
	unreachable int
}

func (c *callTracker) record(err error) {
	c.total++
	if errors.Is(err, remote.ErrUnreachable) {
		c.unreachable++
	}
}

func (c *callTracker) allUnreachable() bool {
	return c.total > 0 && c.unreachable == c.total
}

func (e *Engine) pushTelemetry(ctx context.Context, result *Result, calls *callTracker) error {
	counts, err := pushBatches(ctx, e.cfg.BatchSize, calls, batchOps[telemetry.Reading]{
		pending:    e.deps.Telemetry.Pending,
		upload:     e.deps.Remote.UploadTelemetry,
		markSynced: byID(e.deps.Telemetry.MarkSynced, readingID),
		markFailed: byID(e.deps.Telemetry.MarkFailed, readingID),
		id:         readingID,
	})
	result.Telemetry.Pushed += counts.Pushed
	result.Telemetry.Failed += counts.Failed
	result.Telemetry.Skipped += counts.Skipped
	metrics.AddSyncEntities("telemetry", "push", counts.Pushed)
	return err
}

func (e *Engine) pushConfiguration(ctx context.Context, result *Result, calls *callTracker) error {
	counts, err := pushBatches(ctx, e.cfg.BatchSize, calls, batchOps[settings.Entry]{
		pending:    e.deps.Config.Pending,
		upload:     e.deps.Remote.UploadConfiguration,
		markSynced: e.deps.Config.MarkSynced,
		markFailed: e.deps.Config.MarkFailed,
		id:         func(en settings.Entry) string { return en.ID },
	})
	result.Configuration.Pushed += counts.Pushed
	result.Configuration.Failed += counts.Failed
	result.Configuration.Skipped += counts.Skipped
	metrics.AddSyncEntities("configuration", "push", counts.Pushed)
	return err
}

func readingID(r telemetry.Reading) string { return r.ID }

// batchOps binds one entity kind to the generic upload loop. The mark
// functions receive the uploaded items themselves so stores with mutable
// rows can check the row still holds the uploaded version.
type batchOps[T any] struct {
	pending    func(ctx context.Context, limit int) ([]T, error)
	upload     func(ctx context.Context, items []T) (*remote.UploadResult, error)
	markSynced func(ctx context.Context, items []T) (int, error)
	markFailed func(ctx context.Context, items []T) (int, error)
	id         func(T) string
}

// byID adapts an ID-keyed mark function for append-only rows.
func byID[T any](mark func(ctx context.Context, ids []string) (int, error), id func(T) string) func(context.Context, []T) (int, error) {
	return func(ctx context.Context, items []T) (int, error) {
		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = id(it)
		}
		return mark(ctx, ids)
	}
}

// pushBatches uploads PENDING rows page by page. Accepted rows become
// SYNCED, malformed rows FAILED, and anything else stays PENDING for the
// next run. Paging stops at the first page that leaves rows behind, since
// those rows would come straight back.
func pushBatches[T any](ctx context.Context, batch int, calls *callTracker, ops batchOps[T]) (EntityCounts, error) {
	var counts EntityCounts
	for page := 0; page < maxPages; page++ {
		items, err := ops.pending(ctx, batch)
		if err != nil {
			return counts, fmt.Errorf("listing pending: %w", err)
		}
		if len(items) == 0 {
			return counts, nil
		}

		res, err := ops.upload(ctx, items)
		calls.record(err)
		if err != nil {
			counts.Skipped += len(items)
			return counts, fmt.Errorf("uploading: %w", err)
		}

		sent := make(map[string]T, len(items))
		for _, it := range items {
			sent[ops.id(it)] = it
		}
		accepted := onlySent(res.Accepted(), sent)
		malformed := onlySent(res.Malformed(), sent)

		synced, err := ops.markSynced(ctx, accepted)
		if err != nil {
			return counts, fmt.Errorf("marking synced: %w", err)
		}
		failed, err := ops.markFailed(ctx, malformed)
		if err != nil {
			return counts, fmt.Errorf("marking failed: %w", err)
		}

		counts.Pushed += synced
		counts.Failed += failed
		left := len(items) - synced - failed
		counts.Skipped += left

		if left > 0 || len(items) < batch {
			return counts, nil
		}
	}
	return counts, nil
}

// onlySent maps reported IDs back to the uploaded items, dropping IDs that
// were not in the upload.
func onlySent[T any](ids []string, sent map[string]T) []T {
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if it, ok := sent[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

// pushCommands forwards ready commands for devices this client cannot
// reach directly. A command is marked SENT before submission. A refused
// submission goes through the normal retry policy; a network failure
// reverts the command to PENDING and stops the step, so an outage spends
// no retry budget. Commands the backend accepted stay SENT until the
// cleanup step's timeout settles them.
func (e *Engine) pushCommands(ctx context.Context, result *Result, calls *callTracker) error {
	now := e.now()
	ready, err := e.deps.Commands.ReadyFor(ctx, queue.RouteRemote, e.cfg.BatchSize, now)
	if err != nil {
		return fmt.Errorf("listing ready commands: %w", err)
	}

	var errs []error
	for i := range ready {
		cmd := ready[i]
		if _, err := e.deps.Commands.MarkSentRemote(ctx, cmd.ID); err != nil {
			if errors.Is(err, queue.ErrInvalidTransition) {
				result.Commands.Skipped++
				continue
			}
			errs = append(errs, fmt.Errorf("command %s: %w", cmd.ID, err))
			result.Commands.Failed++
			continue
		}

		_, err := e.deps.Remote.SubmitCommand(ctx, remote.CommandSubmission{
			CommandID:   cmd.ID,
			DeviceID:    cmd.DeviceID,
			CommandName: cmd.CommandName,
			Parameters:  cmd.Parameters,
			Priority:    cmd.Priority,
			ExpiresAt:   cmd.ExpiresAt,
		})
		calls.record(err)
		if err == nil {
			result.Commands.Pushed++
			continue
		}

		// Bookkeeping must land even if the run is being cancelled.
		record := context.WithoutCancel(ctx)
		if errors.Is(err, remote.ErrUnreachable) {
			// Resubmitted next cycle under the same command ID, without
			// spending a retry.
			if _, rerr := e.deps.Commands.RevertForward(record, cmd.ID, err.Error()); rerr != nil {
				errs = append(errs, fmt.Errorf("command %s: reverting forward: %w", cmd.ID, rerr))
			}
			result.Commands.Skipped += len(ready) - i
			errs = append(errs, err)
			break
		}

		result.Commands.Failed++
		if _, ferr := e.deps.Commands.Fail(record, cmd.ID, err.Error()); ferr != nil {
			errs = append(errs, fmt.Errorf("command %s: recording failure: %w", cmd.ID, ferr))
		}
		e.logger.Debug("command forward refused", "command_id", cmd.ID, "error", err)
	}

	metrics.AddSyncEntities("commands", "push", result.Commands.Pushed)
	return errors.Join(errs...)
}

// pull fetches devices then configuration for the configured user.
// Devices come first so configuration rows find their parent.
func (e *Engine) pull(ctx context.Context, result *Result, calls *callTracker) error {
	if e.cfg.UserID == "" {
		e.logger.Debug("pull skipped: no user configured")
		return nil
	}

	var errs []error
	if err := e.pullDevices(ctx, result, calls); err != nil {
		errs = append(errs, err)
	}
	if err := e.pullConfiguration(ctx, result, calls); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) pullDevices(ctx context.Context, result *Result, calls *callTracker) error {
	devices, err := e.deps.Remote.FetchDevices(ctx, e.cfg.UserID)
	calls.record(err)
	if err != nil {
		return fmt.Errorf("fetching devices: %w", err)
	}

	var failures []error
	for i := range devices {
		d := devices[i]
		if err := e.checkOwnership(ctx, &d, result); err != nil {
			failures = append(failures, err)
			result.Devices.Failed++
			continue
		}
		if _, err := e.deps.Devices.UpsertDevice(ctx, &d); err != nil {
			failures = append(failures, fmt.Errorf("device %s: %w", d.ID, err))
			result.Devices.Failed++
			continue
		}
		result.Devices.Pulled++
	}
	metrics.AddSyncEntities("devices", "pull", result.Devices.Pulled)

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d devices failed: %w", len(failures), len(devices), errors.Join(failures...))
	}
	return nil
}

// checkOwnership handles a remote device whose owner differs from the
// local copy. Remote wins: local pending edits for it are discarded.
func (e *Engine) checkOwnership(ctx context.Context, remoteDevice *device.Device, result *Result) error {
	local, err := e.deps.Devices.GetDevice(ctx, remoteDevice.ID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil
		}
		return fmt.Errorf("device %s: %w", remoteDevice.ID, err)
	}
	if local.UserID == "" || local.UserID == remoteDevice.UserID {
		return nil
	}

	discarded, err := e.deps.Config.DiscardPending(ctx, remoteDevice.ID)
	if err != nil {
		return fmt.Errorf("device %s: discarding pending configuration: %w", remoteDevice.ID, err)
	}
	conflict := ConflictError{
		DeviceID:     remoteDevice.ID,
		LocalUserID:  local.UserID,
		RemoteUserID: remoteDevice.UserID,
		Discarded:    discarded,
	}
	result.Conflicts = append(result.Conflicts, conflict)
	metrics.IncSyncConflict()
	e.logger.Warn("sync conflict resolved in favour of remote", "error", conflict.Error())
	return nil
}

func (e *Engine) pullConfiguration(ctx context.Context, result *Result, calls *callTracker) error {
	entries, err := e.deps.Remote.FetchConfiguration(ctx, e.cfg.UserID)
	calls.record(err)
	if err != nil {
		return fmt.Errorf("fetching configuration: %w", err)
	}

	var failures []error
	for _, entry := range entries {
		outcome, err := e.deps.Config.ApplyRemote(ctx, entry)
		switch {
		case err != nil:
			failures = append(failures, fmt.Errorf("configuration %s/%s: %w", entry.DeviceID, entry.ConfigKey, err))
			result.Configuration.Failed++
		case outcome == settings.OutcomeKeptLocal:
			result.Configuration.Skipped++
		default:
			result.Configuration.Pulled++
		}
	}
	metrics.AddSyncEntities("configuration", "pull", result.Configuration.Pulled)

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d configuration entries failed: %w", len(failures), len(entries), errors.Join(failures...))
	}
	return nil
}

// cleanup expires stale commands, re-queues due retries and applies the
// retention windows. Every sub-task runs even if an earlier one fails.
func (e *Engine) cleanup(ctx context.Context, result *Result, _ *callTracker) error {
	now := e.now()
	var errs []error

	n, err := e.deps.Commands.ExpireStale(ctx, now)
	result.Expired += n
	if err != nil {
		errs = append(errs, fmt.Errorf("expiring commands: %w", err))
	}

	if e.cfg.SentTimeout > 0 {
		n, err = e.deps.Commands.FailUnconfirmed(ctx, now.Add(-e.cfg.SentTimeout))
		result.Unconfirmed += n
		if err != nil {
			errs = append(errs, fmt.Errorf("timing out unconfirmed commands: %w", err))
		}
	}

	n, err = e.deps.Commands.RetrySweep(ctx, now)
	result.Retried += n
	if err != nil {
		errs = append(errs, fmt.Errorf("re-queueing retries: %w", err))
	}

	purges := []struct {
		what      string
		retention time.Duration
		fn        func(context.Context, time.Time) (int, error)
	}{
		{"telemetry", e.cfg.TelemetryRetention, e.deps.Telemetry.PurgeSynced},
		{"commands", e.cfg.CommandsRetention, e.deps.Commands.PurgeCompleted},
		{"configuration", e.cfg.ConfigRetention, e.deps.Config.PurgeFailed},
	}
	for _, p := range purges {
		if p.retention <= 0 {
			continue
		}
		n, err := p.fn(ctx, now.Add(-p.retention))
		result.Purged += n
		if err != nil {
			errs = append(errs, fmt.Errorf("purging %s: %w", p.what, err))
		}
	}

	return errors.Join(errs...)
}
