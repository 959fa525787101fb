package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the settings store.
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

// Store is the configuration service used by the API and the sync engine.
type Store struct {
	repo   Repository
	logger Logger
	now    func() time.Time
}

// NewStore creates a configuration store.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:   repo,
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Get returns one entry.
func (s *Store) Get(ctx context.Context, deviceID, key string) (*Entry, error) {
	return s.repo.Get(ctx, deviceID, key)
}

// List returns all entries of a device.
func (s *Store) List(ctx context.Context, deviceID string) ([]Entry, error) {
	return s.repo.ListByDevice(ctx, deviceID)
}

// Set records a local edit. The entry becomes PENDING with LastModified
// now. Existing entries keep their data type, category and rules unless
// the request sets them; read-only entries are refused.
func (s *Store) Set(ctx context.Context, req SetRequest) (*Entry, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrValidation)
	}
	if err := ValidateKey(req.ConfigKey); err != nil {
		return nil, err
	}

	now := s.now()
	var saved *Entry
	err := s.repo.Merge(ctx, req.DeviceID, req.ConfigKey, func(current *Entry) (*Entry, error) {
		e := current
		if e == nil {
			e = &Entry{
				ID:        uuid.New().String(),
				DeviceID:  req.DeviceID,
				ConfigKey: req.ConfigKey,
				DataType:  TypeString,
				Category:  DefaultCategory,
				CreatedAt: now,
			}
		} else if e.IsReadOnly {
			return nil, fmt.Errorf("%w: %s", ErrReadOnly, req.ConfigKey)
		}

		if req.DataType != "" {
			e.DataType = req.DataType
		}
		if req.Category != "" {
			e.Category = req.Category
		}
		if err := ValidateValue(req.ConfigValue, e.DataType, e.ValidationRules); err != nil {
			return nil, err
		}

		e.ConfigValue = req.ConfigValue
		e.SyncStatus = SyncPending
		e.LastModified = now
		saved = e
		return e, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("configuration updated", "device_id", req.DeviceID, "key", req.ConfigKey)
	return saved, nil
}

// ApplyRemote merges an authoritative value from the backend using
// last-write-wins on LastModified. A local PENDING edit newer than the
// remote value is kept; anything else is overwritten and marked SYNCED.
//
// Timestamps are compared as UTC instants, so clock skew between this
// client and the backend can favour the wrong side.
func (s *Store) ApplyRemote(ctx context.Context, remote Entry) (Outcome, error) {
	if err := ValidateKey(remote.ConfigKey); err != nil {
		return "", err
	}

	var outcome Outcome
	err := s.repo.Merge(ctx, remote.DeviceID, remote.ConfigKey, func(current *Entry) (*Entry, error) {
		if current != nil && current.SyncStatus == SyncPending && current.LastModified.After(remote.LastModified) {
			outcome = OutcomeKeptLocal
			return nil, nil
		}

		e := remote
		if current != nil {
			e.ID = current.ID
			e.CreatedAt = current.CreatedAt
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.DataType == "" {
			e.DataType = TypeString
		}
		if e.Category == "" {
			e.Category = DefaultCategory
		}
		if e.LastModified.IsZero() {
			e.LastModified = s.now()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = e.LastModified
		}
		e.LastModified = e.LastModified.UTC()
		e.SyncStatus = SyncSynced
		outcome = OutcomeApplied
		return &e, nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// DiscardPending drops a device's unsynced local edits. Used when the
// backend has reassigned the device and remote state must win.
func (s *Store) DiscardPending(ctx context.Context, deviceID string) (int, error) {
	n, err := s.repo.DeletePending(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("discarded pending configuration edits", "device_id", deviceID, "count", n)
	}
	return n, nil
}

// Pending returns up to limit entries awaiting upload.
func (s *Store) Pending(ctx context.Context, limit int) ([]Entry, error) {
	return s.repo.ListPending(ctx, limit)
}

// MarkSynced flags uploaded entries the backend accepted. Entries edited
// since they were read for upload stay PENDING and go out next cycle.
// LastModified is left as it was so a later pull compares against the
// edit time.
func (s *Store) MarkSynced(ctx context.Context, uploaded []Entry) (int, error) {
	return s.repo.MarkSynced(ctx, uploaded)
}

// MarkFailed flags uploaded entries the backend will never accept.
func (s *Store) MarkFailed(ctx context.Context, uploaded []Entry) (int, error) {
	return s.repo.MarkFailed(ctx, uploaded)
}

// PurgeFailed deletes FAILED entries last modified before the cutoff.
func (s *Store) PurgeFailed(ctx context.Context, before time.Time) (int, error) {
	return s.repo.PurgeFailed(ctx, before)
}

// Counts returns entry totals per sync status.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	return s.repo.Counts(ctx)
}
