package checkpoint

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Sweeper periodically garbage-collects expired checkpoints. The OnExpired
// hook lets callers release per-thread resources (event streams) alongside
// the durable row.
type Sweeper struct {
	store     Store
	interval  time.Duration
	logger    *slog.Logger
	onExpired func(threadID string)
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweeper runs. Default 1h.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweeperLogger sets the sweeper's logger.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger.With("component", "checkpoint-sweeper")
		}
	}
}

// WithExpiredHook registers a callback invoked for each expired thread id.
func WithExpiredHook(fn func(threadID string)) SweeperOption {
	return func(s *Sweeper) {
		if fn != nil {
			s.onExpired = fn
		}
	}
}

// NewSweeper creates a Sweeper over the given store.
func NewSweeper(store Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		interval: time.Hour,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	expired, err := s.store.Sweep(ctx)
	if err != nil {
		s.logger.Error("checkpoint sweep failed", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	s.logger.Info("swept expired checkpoints", "count", len(expired))
	if s.onExpired != nil {
		for _, threadID := range expired {
			s.onExpired(threadID)
		}
	}
}
