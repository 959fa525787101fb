package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Logger is the logging interface used by the scheduler.
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

// Precondition is checked before every run of a job. A non-nil error skips
// that tick.
type Precondition struct {
	Name  string
	Check func(ctx context.Context) error
}

// Job is a periodic task.
type Job struct {
	Name     string
	Interval time.Duration

	// RunOnStart runs the job once as soon as the scheduler starts.
	RunOnStart bool

	Preconditions []Precondition
	Run           func(ctx context.Context) error
}

// Scheduler runs jobs on fixed intervals until its context ends. Ticks
// that arrive while a job is still running are dropped.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []Job
	started bool
	logger  Logger
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{logger: noopLogger{}}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Add registers a job. Jobs cannot be added once Run has started.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return errors.New("scheduler: job name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("scheduler: job %s: invalid interval %v", job.Name, job.Interval)
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s: run func is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler: job %s: scheduler already running", job.Name)
	}
	for _, j := range s.jobs {
		if j.Name == job.Name {
			return fmt.Errorf("scheduler: duplicate job %s", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Run blocks until ctx is cancelled, running every job on its interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler: already running")
	}
	s.started = true
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.logger.Info("job scheduled", "job", job.Name, "interval", job.Interval)

	if job.RunOnStart {
		s.runOnce(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

// runOnce checks preconditions and runs the job. Job errors are logged;
// they never stop the schedule.
func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	for _, pre := range job.Preconditions {
		if err := pre.Check(ctx); err != nil {
			s.logger.Debug("job skipped", "job", job.Name, "precondition", pre.Name, "reason", err)
			return
		}
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("job failed", "job", job.Name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.logger.Debug("job finished", "job", job.Name, "duration_ms", time.Since(start).Milliseconds())
}
