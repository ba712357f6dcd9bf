package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiredTokenSweeper deactivates token pairs whose refresh window closed.
type ExpiredTokenSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// TokenSweeper periodically runs an ExpiredTokenSweeper.
type TokenSweeper struct {
	sweeper  ExpiredTokenSweeper
	interval time.Duration
	logger   *zap.Logger
}

// NewTokenSweeper builds a sweeper. A non-positive interval disables it.
func NewTokenSweeper(sweeper ExpiredTokenSweeper, interval time.Duration, logger *zap.Logger) *TokenSweeper {
	return &TokenSweeper{sweeper: sweeper, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is cancelled.
func (w *TokenSweeper) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("token sweeper disabled")
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

func (w *TokenSweeper) sweepOnce(ctx context.Context) {
	n, err := w.sweeper.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("token sweep failed", zap.Error(err))
		}
		return
	}
	if n > 0 {
		w.logger.Info("expired token pairs deactivated", zap.Int("count", n))
	}
}
