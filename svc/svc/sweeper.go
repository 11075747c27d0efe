package svc

import (
	"context"
	"time"

	"pastevault/metrics"
	"pastevault/pkg/domain"
	"pastevault/svc/blob"
	"pastevault/svc/db"
	"pastevault/svc/util"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Sweeper reconciles expiry state in the background. Each cycle it
// collects two sets: rows past their deadline that lazy expiry never
// touched, and soft-expired rows whose deadline is older than the grace
// window. Both sets get their blobs removed and their rows deleted; a
// row whose blob cleanup fails is marked expired instead and picked up
// again on a later cycle.
type Sweeper struct {
	db       *db.SQLite
	blobs    blob.Store
	interval time.Duration
	grace    time.Duration
	pace     *rate.Limiter
	now      func() time.Time
}

func NewSweeper(sqlDB *db.SQLite, blobs blob.Store, interval, grace time.Duration, perSecond int) *Sweeper {
	if sqlDB == nil || blobs == nil {
		panic("sweeper: nil dependency (db or blobs)")
	}
	if perSecond <= 0 {
		perSecond = 100
	}
	return &Sweeper{
		db:       sqlDB,
		blobs:    blobs,
		interval: interval,
		grace:    grace,
		pace:     rate.NewLimiter(rate.Limit(perSecond), perSecond),
		now:      time.Now,
	}
}

// Run loops until the context is cancelled. A failed cycle is logged
// and the loop continues; the sweeper never terminates on its own.
func (s *Sweeper) Run(ctx context.Context) {
	sweepRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, sweepRequestID)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", sweepRequestID).
		Dur("interval", s.interval).
		Dur("grace", s.grace).
		Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			util.Info().Str("request_id", sweepRequestID).Msg("sweeper shutting down")
			return
		case <-ticker.C:
			deleted, err := s.RunOnce(ctx)
			if err != nil {
				util.Error().
					Err(err).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("sweep cycle failed")
			} else if deleted > 0 {
				util.Info().
					Int("deleted", deleted).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("sweep cycle completed")
			}
		}
	}
}

// RunOnce executes a single sweep cycle and returns the number of rows
// deleted. It is also the entry point for the manual admin trigger.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	metrics.SweepCycles.Inc()
	now := s.now().UTC()
	due, err := s.db.ExpiredCandidates(ctx, now)
	if err != nil {
		return 0, errors.Wrap(err, "query expired candidates")
	}
	stale, err := s.db.StaleExpired(ctx, now.Add(-s.grace))
	if err != nil {
		return 0, errors.Wrap(err, "query stale expired")
	}
	candidates := make([]*domain.Paste, 0, len(due)+len(stale))
	candidates = append(candidates, due...)
	candidates = append(candidates, stale...)
	if len(candidates) == 0 {
		return 0, nil
	}

	var deleteIDs, expireIDs []int64
	for _, paste := range candidates {
		if err := s.pace.Wait(ctx); err != nil {
			return 0, errors.Wrap(err, "sweep pacing")
		}
		if err := s.blobs.Delete(ctx, paste.ID, paste.ContentHash); err != nil && !errors.Is(err, blob.ErrNotFound) {
			metrics.BlobErrors.WithLabelValues("sweep_delete").Inc()
			util.Warn().Err(err).Int64("id", paste.ID).Msg("sweep blob delete failed, marking expired")
			if !paste.IsExpired {
				expireIDs = append(expireIDs, paste.ID)
			}
			continue
		}
		if err := s.blobs.DeleteMetadata(ctx, paste.ID); err != nil && !errors.Is(err, blob.ErrNotFound) {
			util.Warn().Err(err).Int64("id", paste.ID).Msg("sweep metadata delete failed")
		}
		deleteIDs = append(deleteIDs, paste.ID)
	}

	deleted, err := s.db.ApplySweep(ctx, deleteIDs, expireIDs)
	if err != nil {
		return 0, errors.Wrap(err, "apply sweep")
	}
	metrics.SweepDeleted.Add(float64(deleted))
	if n := len(expireIDs); n > 0 {
		metrics.SweepMarked.Add(float64(n))
	}
	return deleted, nil
}
