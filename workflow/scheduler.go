package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/models"
	"github.com/bariqhq/bnpl_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Scheduler runs the periodic jobs: overdue sweep, due-date reminders and
// settlement batches. Every job is guarded twice: a best-effort redis lock
// keeps concurrent instances from duplicating work, and an idempotency row
// keyed on the job scope makes re-runs no-ops even without redis.
type Scheduler struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	TickInterval time.Duration
}

func NewScheduler(db *gorm.DB, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		DB:           db,
		Logger:       logger,
		TickInterval: time.Hour,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.TickInterval):
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.SweepOverdue(ctx); err != nil && utils.KindOf(err) != utils.ErrorKindDuplicate {
		config.LogError(s.Logger, "workflow", "Scheduler.runOnce", "SweepOverdue", nil, err)
	}
	if _, err := s.SendPaymentReminders(ctx); err != nil && utils.KindOf(err) != utils.ErrorKindDuplicate {
		config.LogError(s.Logger, "workflow", "Scheduler.runOnce", "SendPaymentReminders", nil, err)
	}
	if err := s.RunSettlementBatches(ctx); err != nil && utils.KindOf(err) != utils.ErrorKindDuplicate {
		config.LogError(s.Logger, "workflow", "Scheduler.runOnce", "RunSettlementBatches", nil, err)
	}
}

// runDaily wraps a job that must run at most once per UTC day.
func (s *Scheduler) runDaily(ctx context.Context, handlerName string, job func(context.Context) error) error {
	scope := time.Now().UTC().Format("2006-01-02")

	lock, err := utils.PlatformLock(ctx, "scheduler", handlerName, 5*time.Minute)
	if err != nil {
		return err
	}
	if lock != nil {
		defer lock.Release(context.Background())
	}

	var skip bool
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip, err = BeginIdempotency(tx, handlerName, scope)
		return err
	})
	if err != nil {
		if err == ErrIdempotencyInProgress {
			return nil
		}
		return err
	}
	if skip {
		return nil
	}

	if jobErr := job(ctx); jobErr != nil {
		_ = MarkIdempotencyFailed(s.DB.WithContext(ctx), handlerName, scope, jobErr)
		return jobErr
	}
	return MarkIdempotencySucceeded(s.DB.WithContext(ctx), handlerName, scope)
}

// SweepOverdue marks confirmed transactions past their due date as overdue.
// Runs once per UTC day.
func (s *Scheduler) SweepOverdue(ctx context.Context) (int, error) {
	count := 0
	err := s.runDaily(ctx, "overdue_sweep", func(ctx context.Context) error {
		var err error
		count, err = models.MarkOverdueTransactions(ctx)
		if err != nil {
			return err
		}
		if s.Logger != nil && count > 0 {
			s.Logger.WithFields(logrus.Fields{
				"field": "Scheduler.SweepOverdue",
				"count": count,
			}).Info("marked transactions overdue")
		}
		return nil
	})
	return count, err
}

// SendPaymentReminders queues reminders for transactions due soon.
// Runs once per UTC day.
func (s *Scheduler) SendPaymentReminders(ctx context.Context) (int, error) {
	count := 0
	err := s.runDaily(ctx, "payment_reminders", func(ctx context.Context) error {
		var err error
		count, err = models.SendDueReminders(ctx, config.PaymentReminderDays())
		return err
	})
	return count, err
}

// RunSettlementBatches creates settlement batches for every branch whose cycle
// has just closed: weekly branches on Mondays for the previous Monday..Sunday,
// monthly branches on the 1st for the previous calendar month. Each branch and
// period pair carries its own idempotency row, so a partial failure resumes
// where it stopped.
func (s *Scheduler) RunSettlementBatches(ctx context.Context) error {
	now := time.Now().UTC()

	lock, err := utils.PlatformLock(ctx, "scheduler", "settlement_batches", 10*time.Minute)
	if err != nil {
		return err
	}
	if lock != nil {
		defer lock.Release(context.Background())
	}

	if now.Weekday() == time.Monday {
		start, end := previousWeek(now)
		if err := s.settleCycle(ctx, models.SettlementCycleWeekly, start, end); err != nil {
			return err
		}
	}
	if now.Day() == 1 {
		start, end := previousMonth(now)
		if err := s.settleCycle(ctx, models.SettlementCycleMonthly, start, end); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) settleCycle(ctx context.Context, cycle models.SettlementCycle, periodStart, periodEnd time.Time) error {
	branches, err := models.GetSettlementDueBranches(ctx, cycle)
	if err != nil {
		return err
	}

	for _, branch := range branches {
		handlerName := "settlement_batch"
		scope := fmt.Sprintf("branch:%d:%s", branch.ID, periodStart.Format("2006-01-02"))

		var skip bool
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var beginErr error
			skip, beginErr = BeginIdempotency(tx, handlerName, scope)
			return beginErr
		})
		if err != nil {
			if err == ErrIdempotencyInProgress {
				continue
			}
			return err
		}
		if skip {
			continue
		}

		settlement, err := models.CreateSettlement(ctx, branch.MerchantId, branch.ID, periodStart, periodEnd)
		switch {
		case err == nil:
			if s.Logger != nil {
				s.Logger.WithFields(logrus.Fields{
					"field":         "Scheduler.settleCycle",
					"settlement_id": settlement.ID,
					"branch_id":     branch.ID,
					"merchant_id":   branch.MerchantId,
					"net_amount":    settlement.NetAmount.String(),
				}).Info("settlement batch created")
			}
			_ = MarkIdempotencySucceeded(s.DB.WithContext(ctx), handlerName, scope)
		case utils.KindOf(err) == utils.ErrorKindNotFound, utils.KindOf(err) == utils.ErrorKindDuplicate:
			// Nothing to settle, or a concurrent batch got there first.
			_ = MarkIdempotencySucceeded(s.DB.WithContext(ctx), handlerName, scope)
		default:
			_ = MarkIdempotencyFailed(s.DB.WithContext(ctx), handlerName, scope, err)
			config.LogError(s.Logger, "workflow", "Scheduler.settleCycle", "CreateSettlement", branch.ID, err)
		}
	}
	return nil
}

// previousWeek returns the last full Monday..Sunday window before now.
func previousWeek(now time.Time) (time.Time, time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	daysSinceMonday := (int(today.Weekday()) + 6) % 7
	thisMonday := today.AddDate(0, 0, -daysSinceMonday)
	start := thisMonday.AddDate(0, 0, -7)
	end := thisMonday.Add(-time.Second)
	return start, end
}

// previousMonth returns the previous calendar month as a closed window.
func previousMonth(now time.Time) (time.Time, time.Time) {
	firstOfThisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := firstOfThisMonth.AddDate(0, -1, 0)
	end := firstOfThisMonth.Add(-time.Second)
	return start, end
}
