package syncengine

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Step names, in execution order.
const (
	StepPushTelemetry = "push_telemetry"
	StepPushConfig    = "push_configuration"
	StepPushCommands  = "push_commands"
	StepPull          = "pull"
	StepCleanup       = "cleanup"
)

// EntityCounts tallies one entity kind across a run.
type EntityCounts struct {
	Pushed  int `json:"pushed"`
	Pulled  int `json:"pulled"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (c EntityCounts) String() string {
	return fmt.Sprintf("pushed=%d pulled=%d failed=%d skipped=%d", c.Pushed, c.Pulled, c.Failed, c.Skipped)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Duration time.Duration `json:"duration_ns"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
}

// Result describes one sync cycle.
type Result struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	AlreadyRunning bool      `json:"already_running,omitempty"`

	Telemetry     EntityCounts `json:"telemetry"`
	Configuration EntityCounts `json:"configuration"`
	Commands      EntityCounts `json:"commands"`
	Devices       EntityCounts `json:"devices"`

	Expired     int `json:"expired"`
	Unconfirmed int `json:"unconfirmed"`
	Retried     int `json:"retried"`
	Purged      int `json:"purged"`

	Conflicts []ConflictError        `json:"conflicts,omitempty"`
	Steps     map[string]*StepResult `json:"steps"`

	// Error is the hard failure of the run, if any.
	Error string `json:"error,omitempty"`
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed reports whether any step recorded an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return r.Error != ""
}

// Summary renders a one-line description of the run for logs.
func (r *Result) Summary() string {
	if r.AlreadyRunning {
		return "sync skipped: already running"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "telemetry[%s] configuration[%s] commands[%s] devices[%s] expired=%d unconfirmed=%d retried=%d purged=%d conflicts=%d",
		r.Telemetry, r.Configuration, r.Commands, r.Devices, r.Expired, r.Unconfirmed, r.Retried, r.Purged, len(r.Conflicts))

	var failed []string
	for name, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		fmt.Fprintf(&b, " failed_steps=%s", strings.Join(failed, ","))
	}
	if r.Error != "" {
		fmt.Fprintf(&b, " error=%q", r.Error)
	}
	return b.String()
}

// Status is the engine state exposed to the API.
type Status struct {
	Running    bool    `json:"running"`
	LastResult *Result `json:"last_result,omitempty"`
}
