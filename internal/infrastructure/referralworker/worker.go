package referralworker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Processor pays out pending referrals.
type Processor interface {
	ProcessPending(ctx context.Context, limit int) (int, error)
}

// Config for Worker.
type Config struct {
	Processor Processor
	Logger    zerolog.Logger
	BatchSize int
	Interval  time.Duration
}

// Worker periodically sweeps settled deposits whose referral has not been
// paid. Settlement never pays referrals inline, so this loop is what
// eventually processes each one.
type Worker struct {
	processor Processor
	logger    zerolog.Logger
	batchSize int
	interval  time.Duration
}

// New creates a Worker.
func New(cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Worker{
		processor: cfg.Processor,
		logger:    cfg.Logger.With().Str("component", "referral_worker").Logger(),
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
	}
}

// Start runs sweeps until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().
		Int("batch_size", w.batchSize).
		Dur("interval", w.interval).
		Msg("referral worker started")

	ctx = w.logger.WithContext(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweep(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info().Msg("referral worker shutting down")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep drains full batches back to back so a backlog clears before the
// next tick.
func (w *Worker) sweep(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.processor.ProcessPending(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("referral sweep failed")
			}
			return
		}
		if n > 0 {
			w.logger.Debug().Int("processed", n).Msg("referral sweep")
		}
		if n < w.batchSize {
			return
		}
	}
}
