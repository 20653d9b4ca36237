// Package workers runs background maintenance jobs.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"referralpay/internal/db"
	"referralpay/internal/store"
)

const (
	reaperLockKey = "referralpay:reaper:pending-registrations"
	// DefaultGrace keeps expired rows around while the processor may still
	// redeliver a succeeded payment for them.
	DefaultGrace = 72 * time.Hour
)

type ExpiredPendingDeleter interface {
	DeleteExpired(ctx context.Context, tx store.Execer, cutoff time.Time) (int64, error)
}

type Reaper struct {
	tx       db.TxRunner
	pending  ExpiredPendingDeleter
	locker   Locker
	interval time.Duration
	grace    time.Duration
	now      func() time.Time

	scheduler gocron.Scheduler
}

func NewReaper(tx db.TxRunner, pending ExpiredPendingDeleter, locker Locker, interval, grace time.Duration) *Reaper {
	return &Reaper{
		tx:       tx,
		pending:  pending,
		locker:   locker,
		interval: interval,
		grace:    grace,
		now:      time.Now,
	}
}

// RunOnce deletes pending registrations that expired more than the grace
// period ago. It does nothing when another replica holds the lock.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	release, acquired, err := r.locker.Acquire(ctx, reaperLockKey, r.interval)
	if err != nil {
		return 0, err
	}
	if !acquired {
		log.Debug("Reaper lock held elsewhere, skipping run")
		return 0, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release reaper lock")
		}
	}()

	cutoff := r.now().Add(-r.grace)
	var deleted int64
	err = r.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		n, err := r.pending.DeleteExpired(ctx, tx, cutoff)
		deleted = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired pending registrations: %w", err)
	}
	if deleted > 0 {
		log.WithFields(log.Fields{"deleted": deleted, "cutoff": cutoff}).Info("Expired pending registrations purged")
	}
	return deleted, nil
}

// Start schedules RunOnce every interval until Stop.
func (r *Reaper) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			if _, err := r.RunOnce(ctx); err != nil {
				log.WithError(err).Error("Pending registration reaper failed")
			}
		}),
		gocron.WithName("pending-registration-reaper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule reaper: %w", err)
	}
	s.Start()
	r.scheduler = s
	log.WithField("interval", r.interval).Info("Pending registration reaper started")
	return nil
}

func (r *Reaper) Stop() {
	if r.scheduler == nil {
		return
	}
	if err := r.scheduler.Shutdown(); err != nil {
		log.WithError(err).Warn("Reaper scheduler shutdown failed")
	}
}
