package feed

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Runner polls the feed on a fixed interval: new events first, then parked
// ones.
type Runner struct {
	consumer *Consumer
	interval time.Duration
	logger   zerolog.Logger
}

func NewRunner(consumer *Consumer, interval time.Duration, logger zerolog.Logger) *Runner {
	return &Runner{
		consumer: consumer,
		interval: interval,
		logger:   logger.With().Str("component", "feed-runner").Logger(),
	}
}

// Run polls until ctx is cancelled or a pass hits a FatalError, which it
// returns. Other errors are logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.poll(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) poll(ctx context.Context) error {
	stats, err := r.consumer.ProcessEvents(ctx)
	if fatal(err) {
		return err
	}
	if err != nil && ctx.Err() == nil {
		r.logger.Error().Err(err).Msg("failed to process feed events")
	}
	if stats.Processed+stats.Failed > 0 {
		r.logger.Info().Int("processed", stats.Processed).Int("failed", stats.Failed).Msg("processed feed events")
	}

	stats, err = r.consumer.ProcessFailedEvents(ctx)
	if fatal(err) {
		return err
	}
	if err != nil && ctx.Err() == nil {
		r.logger.Error().Err(err).Msg("failed to retry failed events")
	}
	if stats.Processed+stats.Failed > 0 {
		r.logger.Info().Int("processed", stats.Processed).Int("failed", stats.Failed).Msg("retried failed events")
	}
	return nil
}

func fatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
