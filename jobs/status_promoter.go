package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/sirupsen/logrus"
)

// PromotionPolicy decides which in_progress enrollments become succeeded.
type PromotionPolicy interface {
	Promote(ctx context.Context, now time.Time) (int64, error)
}

// EligiblePromoter is the store operation the elapsed-time policy drives.
type EligiblePromoter interface {
	PromoteEligible(ctx context.Context, cutoff time.Time) (int64, error)
}

// ElapsedTimePolicy promotes every in_progress enrollment older than Window.
type ElapsedTimePolicy struct {
	Store  EligiblePromoter
	Window time.Duration
}

func (p ElapsedTimePolicy) Promote(ctx context.Context, now time.Time) (int64, error) {
	return p.Store.PromoteEligible(ctx, now.Add(-p.Window))
}

// CacheInvalidator drops cached enrollment statuses.
type CacheInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// StatusPromoter periodically applies a PromotionPolicy and invalidates the
// enrollment cache whenever rows changed.
type StatusPromoter struct {
	Policy PromotionPolicy
	Cache  CacheInvalidator

	now       func() time.Time
	isRunning atomic.Bool
}

func NewStatusPromoter(policy PromotionPolicy, cache CacheInvalidator) *StatusPromoter {
	return &StatusPromoter{
		Policy: policy,
		Cache:  cache,
		now:    time.Now,
	}
}

// Run performs one promotion pass and returns the number of rows promoted.
// Overlapping calls are skipped.
func (j *StatusPromoter) Run(ctx context.Context) (int64, error) {
	if !j.isRunning.CompareAndSwap(false, true) {
		logrus.Warn("Status promotion already running, skipping")
		return 0, nil
	}
	defer j.isRunning.Store(false)

	startTime := time.Now()
	promoted, err := j.Policy.Promote(ctx, j.now().UTC())
	if err != nil {
		logrus.WithError(err).Error("Status promotion failed")
		return 0, err
	}

	if promoted > 0 {
		shared.EnrollmentsPromoted.Add(float64(promoted))
		if err := j.Cache.InvalidateAll(ctx); err != nil {
			logrus.WithError(err).Warn("Failed to invalidate enrollment cache after promotion")
		}
	}

	logrus.WithFields(logrus.Fields{
		"promoted":        promoted,
		"processing_time": time.Since(startTime),
	}).Info("Status promotion completed")
	return promoted, nil
}

// RunEvery runs a pass every interval and blocks until ctx is done.
func (j *StatusPromoter) RunEvery(ctx context.Context, interval time.Duration) error {
	logrus.WithField("interval", interval).Info("Starting periodic status promotion")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Status promotion stopped")
			return nil
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}

// IsRunning reports whether a pass is in progress.
func (j *StatusPromoter) IsRunning() bool {
	return j.isRunning.Load()
}
