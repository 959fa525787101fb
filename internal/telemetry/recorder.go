package telemetry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/devsync-core/internal/infrastructure/influxdb"
)

// maxSensorTypeLength bounds sensor type names.
const maxSensorTypeLength = 64

// Logger defines the logging interface used by telemetry.
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

// Mirror receives a copy of every stored reading. *influxdb.Client
// satisfies it.
type Mirror interface {
	WriteReading(r influxdb.Reading)
}

// Recorder validates readings from hardware, stores them as PENDING for
// upload and mirrors them to the time-series store when one is set.
type Recorder struct {
	repo   Repository
	mirror Mirror
	logger Logger
	now    func() time.Time
}

// NewRecorder creates a recorder.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// SetMirror sets the time-series mirror. Nil disables mirroring.
func (r *Recorder) SetMirror(m Mirror) {
	r.mirror = m
}

// Record stores one reading.
func (r *Recorder) Record(ctx context.Context, reading Reading) (*Reading, error) {
	out, err := r.RecordBatch(ctx, []Reading{reading})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// RecordBatch validates every reading, then stores them in one transaction.
// IDs and timestamps are filled in when missing. One invalid reading
// rejects the batch.
func (r *Recorder) RecordBatch(ctx context.Context, readings []Reading) ([]Reading, error) {
	now := r.now()
	out := make([]Reading, len(readings))
	for i, rd := range readings {
		if err := Validate(rd); err != nil {
			return nil, fmt.Errorf("reading %d: %w", i, err)
		}
		if rd.ID == "" {
			rd.ID = uuid.New().String()
		}
		if rd.Timestamp.IsZero() {
			rd.Timestamp = now
		}
		rd.Timestamp = rd.Timestamp.UTC()
		rd.SyncStatus = SyncPending
		out[i] = rd
	}

	if err := r.repo.InsertBatch(ctx, out); err != nil {
		return nil, err
	}

	if r.mirror != nil {
		for _, rd := range out {
			r.mirror.WriteReading(influxdb.Reading{
				DeviceID:   rd.DeviceID,
				SensorType: rd.SensorType,
				Unit:       rd.Unit,
				Quality:    rd.Quality,
				Value:      rd.Value,
				Timestamp:  rd.Timestamp,
			})
		}
	}

	r.logger.Debug("telemetry recorded", "count", len(out))
	return out, nil
}

// Pending returns up to limit readings awaiting upload, oldest first.
func (r *Recorder) Pending(ctx context.Context, limit int) ([]Reading, error) {
	return r.repo.ListPending(ctx, limit)
}

// MarkSynced flags readings the backend accepted.
func (r *Recorder) MarkSynced(ctx context.Context, ids []string) (int, error) {
	return r.repo.MarkSynced(ctx, ids)
}

// MarkFailed flags readings the backend will never accept.
func (r *Recorder) MarkFailed(ctx context.Context, ids []string) (int, error) {
	n, err := r.repo.MarkFailed(ctx, ids)
	if err == nil && n > 0 {
		r.logger.Warn("telemetry rejected as malformed", "count", n)
	}
	return n, err
}

// PurgeSynced deletes uploaded readings older than the cutoff.
func (r *Recorder) PurgeSynced(ctx context.Context, before time.Time) (int, error) {
	return r.repo.PurgeSynced(ctx, before)
}

// Query returns stored readings matching the filter.
func (r *Recorder) Query(ctx context.Context, filter Filter) ([]Reading, error) {
	return r.repo.Query(ctx, filter)
}

// Counts returns reading totals per sync status.
func (r *Recorder) Counts(ctx context.Context) (Counts, error) {
	return r.repo.Counts(ctx)
}

// Validate checks a reading before it is stored.
func Validate(rd Reading) error {
	switch {
	case rd.DeviceID == "":
		return fmt.Errorf("%w: device_id is required", ErrInvalidReading)
	case strings.TrimSpace(rd.SensorType) == "":
		return fmt.Errorf("%w: sensor_type is required", ErrInvalidReading)
	case len(rd.SensorType) > maxSensorTypeLength:
		return fmt.Errorf("%w: sensor_type exceeds %d characters", ErrInvalidReading, maxSensorTypeLength)
	case math.IsNaN(rd.Value) || math.IsInf(rd.Value, 0):
		return fmt.Errorf("%w: value must be finite", ErrInvalidReading)
	}
	return nil
}
