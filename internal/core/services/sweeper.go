package services

import (
	"context"
	"sync"
	"time"

	"github.com/tablens/tablens-cli/internal/core/ports/driven"
	"github.com/tablens/tablens-cli/internal/logger"
)

const (
	defaultSweepInterval = 15 * time.Minute
	defaultRetention     = 30 * 24 * time.Hour
)

// Sweeper runs periodic maintenance: drops index entries past the retention
// window, persists the index snapshot, and evicts expired model binaries.
type Sweeper struct {
	index     driven.VectorIndex
	models    driven.ModelCache
	interval  time.Duration
	retention time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often maintenance runs.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

// WithRetention sets how long index entries live without being refreshed.
// Zero disables retention sweeping.
func WithRetention(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.retention = d }
}

// NewSweeper wires a maintenance sweeper. models may be nil when no model
// cache is in play.
func NewSweeper(index driven.VectorIndex, models driven.ModelCache, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		index:     index,
		models:    models,
		interval:  defaultSweepInterval,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the maintenance loop in the background. Calling Start on a
// running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
	logger.Debug("sweeper: started (interval %s, retention %s)", s.interval, s.retention)
}

// Stop shuts the loop down and waits for any in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.running = false
	s.mu.Unlock()
	<-done
}

// RunOnce executes a single maintenance pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if s.retention > 0 {
		cutoff := time.Now().Add(-s.retention)
		if removed, err := s.index.SweepOlderThan(ctx, cutoff); err != nil {
			logger.Warn("sweeper: retention sweep: %v", err)
		} else if removed > 0 {
			logger.Info("sweeper: retention sweep removed %d entries", removed)
		}
	}
	if err := s.index.Persist(ctx); err != nil {
		logger.Warn("sweeper: persisting index: %v", err)
	}
	if s.models != nil {
		if evicted, err := s.models.EvictExpired(ctx); err != nil {
			logger.Warn("sweeper: evicting expired models: %v", err)
		} else if evicted > 0 {
			logger.Info("sweeper: evicted %d expired model binaries", evicted)
		}
	}
}
