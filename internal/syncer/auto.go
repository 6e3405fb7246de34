package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"usage-telemetry-agent/config"
)

// AutoRunner triggers a sync pass on a fixed interval. A failed pass is
// retried with exponential backoff, capped so one pass never bleeds into
// the next interval.
type AutoRunner struct {
	coord *Coordinator
	cfg   config.AutoSyncConfig
	log   zerolog.Logger
}

// NewAutoRunner creates a runner for the given coordinator.
func NewAutoRunner(coord *Coordinator, cfg config.AutoSyncConfig, log zerolog.Logger) *AutoRunner {
	return &AutoRunner{
		coord: coord,
		cfg:   cfg,
		log:   log.With().Str("component", "autosync").Logger(),
	}
}

// Run blocks until ctx is cancelled, firing a pass every interval. The
// persisted toggle is re-read on each tick, so disabling auto sync takes
// effect without a restart.
func (r *AutoRunner) Run(ctx context.Context, userID string) {
	r.log.Info().Dur("interval", r.cfg.Interval).Msg("auto sync started")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("auto sync stopped")
			return
		case <-ticker.C:
			if !r.coord.AutoSyncEnabled(ctx) {
				r.log.Debug().Msg("auto sync disabled, skipping pass")
				continue
			}
			r.pass(ctx, userID)
		}
	}
}

func (r *AutoRunner) pass(ctx context.Context, userID string) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = r.cfg.MaxElapsed

	attempt := func() error {
		n, err := r.coord.Sync(ctx, userID)
		switch {
		case errors.Is(err, ErrNoIdentity):
			// Enrollment cannot appear mid-pass; give up until next tick.
			return backoff.Permanent(err)
		case errors.Is(err, ErrSyncInFlight):
			// A manual sync is running; it does this pass's work for us.
			return backoff.Permanent(err)
		case err != nil:
			return err
		}
		if n > 0 {
			r.log.Info().Int("records", n).Msg("auto sync pass delivered records")
		}
		return nil
	}

	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		if errors.Is(err, ErrNoIdentity) || errors.Is(err, ErrSyncInFlight) {
			r.log.Debug().Err(err).Msg("auto sync pass skipped")
			return
		}
		r.log.Warn().Err(err).Msg("auto sync pass gave up")
	}
}
