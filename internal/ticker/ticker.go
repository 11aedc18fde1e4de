package ticker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Tickable is periodic work driven by the ticker
type Tickable interface {
	Tick(ctx context.Context) error
}

// Ticker drives the engine's periodic work (queue updates, ring timeouts,
// queue staleness, cooldown drains) on a fixed interval
type Ticker struct {
	target   Tickable
	interval time.Duration
	logger   zerolog.Logger
}

// NewTicker creates a new Ticker
func NewTicker(target Tickable, interval time.Duration, logger zerolog.Logger) *Ticker {
	return &Ticker{
		target:   target,
		interval: interval,
		logger:   logger.With().Str("component", "ticker").Logger(),
	}
}

// Start runs ticks until ctx is done. A tick that outlasts the interval makes
// the next one wait rather than overlap.
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("ticker started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("ticker stopped")
			return

		case now := <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, t.interval)
			err := t.target.Tick(tickCtx)
			cancel()

			switch {
			case err == nil:
				t.logger.Debug().Time("at", now).Msg("tick completed")
			case errors.Is(err, context.Canceled) && ctx.Err() != nil:
				// shutting down
			default:
				t.logger.Warn().Err(err).Msg("tick failed")
			}
		}
	}
}
