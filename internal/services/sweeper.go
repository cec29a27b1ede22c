package services

import (
	"context"
	"time"

	"prototype-versions-backend/internal/logger"
	"prototype-versions-backend/internal/registry"
)

const StaleMessage = "processing timed out"

// Sweeper fails versions stuck in processing, e.g. after a worker crash or
// a lost task. Stale versions are never retried.
type Sweeper struct {
	store      registry.Store
	events     EventPublisher
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
	log        *logger.Logger
}

func NewSweeper(store registry.Store, events EventPublisher, staleAfter, interval time.Duration, log *logger.Logger) *Sweeper {
	if events == nil {
		events = noopEvents{}
	}
	return &Sweeper{
		store:      store,
		events:     events,
		staleAfter: staleAfter,
		interval:   interval,
		now:        time.Now,
		log:        log.With("service", "Sweeper"),
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	failed, err := s.store.FailStale(ctx, s.now().Add(-s.staleAfter), StaleMessage)
	if err != nil {
		return 0, err
	}
	for i := range failed {
		v := &failed[i]
		s.log.Warn("failed stale version", "prototype_id", v.PrototypeID, "version_id", v.ID, "version_number", v.VersionNumber)
		if err := s.events.PublishVersionEvent(ctx, v); err != nil {
			s.log.Warn("failed to publish version event", "version_id", v.ID, "error", err)
		}
	}
	return len(failed), nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("stale sweep started", "interval", s.interval, "stale_after", s.staleAfter)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("stale sweep stopped")
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.log.Error("stale sweep failed", "error", err)
			} else if n > 0 {
				s.log.Info("stale sweep finished", "failed", n)
			}
		}
	}
}
