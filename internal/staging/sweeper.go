package staging

import (
	"context"
	"errors"
	"time"

	"genstudio/internal/storage"
)

const sweepBatch = 100

// Sweep executes due cleanup intents and discards staged assets older than
// the staging TTL.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()

	intents, err := s.cleanups.ClaimDue(ctx, now, sweepBatch)
	if err != nil {
		return res, err
	}
	for _, in := range intents {
		err := s.store.Delete(ctx, in.Bucket, in.ObjectKey)
		if err == nil || errors.Is(err, storage.ErrObjectNotFound) {
			s.forgetURL(in.Bucket, in.ObjectKey)
			if err := s.cleanups.MarkDone(ctx, in.ID); err != nil {
				return res, err
			}
			res.Deleted++
			continue
		}
		res.Failed++
		retryAt := now.Add(retryDelay(in.Attempts))
		s.logger.Warn().Err(err).
			Str("intent_id", in.ID).
			Str("bucket", in.Bucket).
			Str("key", in.ObjectKey).
			Int("attempts", in.Attempts).
			Time("retry_at", retryAt).
			Msg("cleanup delete failed")
		if err := s.cleanups.MarkFailed(ctx, in.ID, err.Error(), retryAt); err != nil {
			return res, err
		}
	}

	expired, err := s.staged.ListExpired(ctx, now.Add(-s.stagingTTL), sweepBatch)
	if err != nil {
		return res, err
	}
	for _, a := range expired {
		if err := s.Discard(ctx, "", a.ID); err != nil {
			s.logger.Warn().Err(err).Str("asset_id", a.ID).Msg("expire staged asset failed")
			continue
		}
		res.Expired++
	}

	if res.Deleted+res.Failed+res.Expired > 0 {
		s.logger.Info().
			Int("deleted", res.Deleted).
			Int("failed", res.Failed).
			Int("expired", res.Expired).
			Msg("staging sweep finished")
	}
	return res, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("staging sweep failed")
			}
		}
	}
}

// retryDelay doubles from one minute up to an hour.
func retryDelay(attempts int) time.Duration {
	d := time.Minute
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}
