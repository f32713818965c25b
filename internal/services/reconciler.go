package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"ticket-payments/internal/status"
	"ticket-payments/models"
	"ticket-payments/monitoring"
)

type PendingLister interface {
	PendingPayments(ctx context.Context, limit int64) ([]string, error)
	PendingTransfers(ctx context.Context, limit int64) ([]string, error)
	DropPendingPayment(ctx context.Context, reference string) error
}

type paymentConfirmer interface {
	Confirm(ctx context.Context, reference, fallbackReference string) (*models.PaymentRecord, error)
}

type transferPoller interface {
	Status(ctx context.Context, reference string) (*models.TransferRecord, error)
}

// Reconciler periodically re-verifies payments and transfers that have not
// reached a terminal state, for notices the processor never delivered.
type Reconciler struct {
	pending   PendingLister
	payments  paymentConfirmer
	transfers transferPoller
	schedule  string
	batch     int64
	timeout   time.Duration // per sweep
	cron      *cron.Cron
	logger    *slog.Logger
}

// Summary counts one sweep.
type Summary struct {
	PaymentsChecked  int
	PaymentsSettled  int
	PaymentsDropped  int // pending references whose record expired
	TransfersChecked int
	Errors           int
}

func NewReconciler(pending PendingLister, payments paymentConfirmer, transfers transferPoller, schedule string, batch int64, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = "@every 2m"
	}
	if batch <= 0 {
		batch = 50
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Reconciler{
		pending:   pending,
		payments:  payments,
		transfers: transfers,
		schedule:  schedule,
		batch:     batch,
		timeout:   time.Minute,
		cron:      cron.New(cron.WithChain(cron.Recover(cronLogger))),
		logger:    logger,
	}
}

// Start schedules the sweep and starts the cron runner.
func (r *Reconciler) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, r.sweep); err != nil {
		return err
	}
	r.logger.Info("scheduled reconciliation", "schedule", r.schedule, "batch", r.batch)
	r.cron.Start()
	return nil
}

// Stop halts scheduling; the returned context is done when a running sweep
// finishes.
func (r *Reconciler) Stop() context.Context {
	return r.cron.Stop()
}

func (r *Reconciler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	sum := r.RunOnce(ctx)
	if sum.PaymentsChecked+sum.TransfersChecked > 0 {
		r.logger.Info("reconciliation sweep finished",
			"payments", sum.PaymentsChecked, "settled", sum.PaymentsSettled, "dropped", sum.PaymentsDropped,
			"transfers", sum.TransfersChecked, "errors", sum.Errors)
	}
}

// RunOnce performs a single sweep over both pending sets.
func (r *Reconciler) RunOnce(ctx context.Context) Summary {
	var sum Summary

	refs, err := r.pending.PendingPayments(ctx, r.batch)
	if err != nil {
		r.logger.Error("list pending payments", "error", err)
		sum.Errors++
	}
	for _, ref := range refs {
		if ctx.Err() != nil {
			return sum
		}
		sum.PaymentsChecked++
		rec, err := r.payments.Confirm(ctx, ref, "")
		if errors.Is(err, status.ErrRecordNotFound) {
			if err := r.pending.DropPendingPayment(ctx, ref); err != nil {
				sum.Errors++
				r.logger.Warn("drop orphaned pending payment", "reference", ref, "error", err)
				continue
			}
			sum.PaymentsDropped++
			r.logger.Info("dropped pending payment without a record", "reference", ref)
			continue
		}
		if err != nil {
			sum.Errors++
			monitoring.TrackReconcile("payment", monitoring.OutcomeError)
			r.logger.Warn("reconcile payment", "reference", ref, "error", err)
			continue
		}
		if rec.Status.Terminal() {
			sum.PaymentsSettled++
		}
		monitoring.TrackReconcile("payment", monitoring.OutcomeOK)
	}

	refs, err = r.pending.PendingTransfers(ctx, r.batch)
	if err != nil {
		r.logger.Error("list pending transfers", "error", err)
		sum.Errors++
	}
	for _, ref := range refs {
		if ctx.Err() != nil {
			return sum
		}
		sum.TransfersChecked++
		if _, err := r.transfers.Status(ctx, ref); err != nil {
			sum.Errors++
			monitoring.TrackReconcile("transfer", monitoring.OutcomeError)
			r.logger.Warn("reconcile transfer", "reference", ref, "error", err)
			continue
		}
		monitoring.TrackReconcile("transfer", monitoring.OutcomeOK)
	}
	return sum
}
