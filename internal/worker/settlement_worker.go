package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kakeibo/internal/amqp"
	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/storage"
)

// Ledger is the part of the ledger service the worker drives.
type Ledger interface {
	Settlement(ctx context.Context, m core.CalendarMonth) (core.Settlement, error)
	Settle(ctx context.Context, m core.CalendarMonth) (core.Settlement, error)
	SettleFrom(ctx context.Context, m core.CalendarMonth) (int, error)
	Invalidate(m core.CalendarMonth)
}

// SettlementWorker keeps month settlements consistent with entry changes
// published by the web process.
type SettlementWorker struct {
	ledger Ledger
	period core.Period
	logger *applog.Logger
	audit  *applog.StructuredLogger
	now    func() time.Time
}

func NewSettlementWorker(ledger Ledger, period core.Period, logger *applog.Logger) *SettlementWorker {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentSettlement)
	return &SettlementWorker{
		ledger: ledger,
		period: period,
		logger: logger,
		audit:  applog.NewStructuredLogger(logger),
		now:    time.Now,
	}
}

// HandleEntryChanged re-settles the month of a changed entry, and every
// settled month after it, when that month has already been closed.
func (w *SettlementWorker) HandleEntryChanged(ctx context.Context, msg *amqp.EntryChangedMessage) error {
	m, err := msg.CalendarMonth()
	if err != nil {
		// Dropped, not requeued.
		w.logger.WarnContext(ctx, "Dropping entry change with invalid month",
			applog.FieldEntryID, msg.ID,
			applog.FieldError, err.Error())
		return nil
	}

	w.logger.InfoContext(ctx, "Processing entry change",
		applog.FieldEntryID, msg.ID,
		applog.FieldEntryKind, string(msg.Kind),
		applog.FieldOperation, msg.Op,
		applog.FieldYear, m.Year,
		applog.FieldMonth, m.Month)

	w.ledger.Invalidate(m)

	if _, err := w.ledger.Settlement(ctx, m); errors.Is(err, storage.ErrNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("get settlement %s: %w", m, err)
	}

	n, err := w.ledger.SettleFrom(ctx, m)
	if err != nil {
		fields := applog.NewFields().WithMonth(m.Year, m.Month)
		fields[applog.FieldEntryID] = msg.ID
		w.audit.LogError(ctx, "Failed to refresh settlements", err, applog.ComponentSettlement, applog.OpSettle, fields)
		err = fmt.Errorf("settle from %s: %w", m, err)
		if errors.Is(err, core.ErrOutOfRange) || errors.Is(err, core.ErrInvalidInput) {
			// Redelivery would fail the same way.
			return amqp.Permanent(err)
		}
		return err
	}
	w.logger.InfoContext(ctx, "Settlements refreshed",
		applog.FieldOperation, applog.OpSettle,
		applog.FieldYear, m.Year,
		applog.FieldMonth, m.Month,
		"months", n)
	return nil
}

// CloseFinishedMonth settles the accounting month before the current one
// if it has no settlement yet. It runs at worker startup and periodically
// to recover from missed messages.
func (w *SettlementWorker) CloseFinishedMonth(ctx context.Context) (bool, error) {
	prev := w.period.Current(w.now()).Prev()

	_, err := w.ledger.Settlement(ctx, prev)
	if err == nil {
		w.logger.DebugContext(ctx, "Previous month already settled",
			applog.FieldYear, prev.Year, applog.FieldMonth, prev.Month)
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("get settlement %s: %w", prev, err)
	}

	st, err := w.ledger.Settle(ctx, prev)
	if err != nil {
		if errors.Is(err, core.ErrOutOfRange) {
			return false, nil
		}
		return false, fmt.Errorf("settle %s: %w", prev, err)
	}
	w.logger.InfoContext(ctx, "Closed finished month",
		applog.FieldOperation, applog.OpSettle,
		applog.FieldYear, prev.Year,
		applog.FieldMonth, prev.Month,
		"balance_yen", int64(st.Balance))
	return true, nil
}
