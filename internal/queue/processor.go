package queue

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProcessorConfig controls the local dispatch loop.
type ProcessorConfig struct {
	// Workers is the number of commands dispatched concurrently.
	Workers int

	// BatchSize caps the commands picked per poll.
	BatchSize int

	// PollInterval is the time between polls when not woken early.
	PollInterval time.Duration
}

// Processor polls the queue and dispatches ready commands for devices a
// local transport can reach. Commands for other devices are left to the
// sync engine, which forwards them through the backend.
type Processor struct {
	manager *Manager
	cfg     ProcessorConfig
	logger  Logger
	wake    chan struct{}
}

// NewProcessor creates a processor. Non-positive config values fall back
// to one worker, a batch of 10 and a one second poll.
func NewProcessor(manager *Manager, cfg ProcessorConfig) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Processor{
		manager: manager,
		cfg:     cfg,
		logger:  noopLogger{},
		wake:    make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for the processor.
func (p *Processor) SetLogger(logger Logger) {
	p.logger = logger
}

// Wake triggers a poll without waiting for the next tick.
func (p *Processor) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// CommandEvent wakes the processor when a command becomes dispatchable.
func (p *Processor) CommandEvent(e Event) {
	if e.Type == EventEnqueued || e.Type == EventRetrying {
		p.Wake()
	}
}

// Run polls until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.logger.Info("command processor started", "workers", p.cfg.Workers, "poll_interval", p.cfg.PollInterval)
	for {
		if _, err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("processing command queue", "error", err)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("command processor stopped")
			return nil
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// ProcessOnce dispatches one batch of ready local commands and waits for
// every delivery to settle. It returns the number of commands dispatched.
func (p *Processor) ProcessOnce(ctx context.Context) (int, error) {
	cmds, err := p.manager.ReadyFor(ctx, RouteLocal, p.cfg.BatchSize, p.manager.now())
	if err != nil {
		return 0, err
	}
	if len(cmds) == 0 {
		return 0, nil
	}

	// Delivery failures are recorded on each command, so workers never
	// return an error that would cancel their siblings.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, c := range cmds {
		id := c.ID
		g.Go(func() error {
			cmd, err := p.manager.Dispatch(gctx, id)
			if err != nil {
				p.logger.Warn("dispatching command", "command_id", id, "error", err)
				return nil
			}
			p.logger.Debug("command dispatched", "command_id", id, "status", cmd.Status)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(cmds), nil
}
