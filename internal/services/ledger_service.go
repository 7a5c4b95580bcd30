// Package services provides the ledger business logic on top of storage.
package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kakeibo/internal/amqp"
	"kakeibo/internal/cache"
	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/storage"
)

// Store is the persistence the ledger needs.
type Store interface {
	CreateEntry(ctx context.Context, e core.Entry) (int64, error)
	UpdateEntry(ctx context.Context, e core.Entry) error
	SetEntryState(ctx context.Context, id int64, state core.State) error
	DeleteEntry(ctx context.Context, id int64) error
	GetEntry(ctx context.Context, id int64) (core.Entry, error)
	ListEntries(ctx context.Context, kind core.EntryKind, rng core.DateRange) ([]core.Entry, error)

	TemplatesForMonth(ctx context.Context, kind core.EntryKind, month int) ([]core.Template, error)
	TemplateByName(ctx context.Context, kind core.EntryKind, name string) (core.Template, error)
	TemplateNames(ctx context.Context, kind core.EntryKind) ([]string, error)

	SetStateByMethod(ctx context.Context, kind core.EntryKind, method string, rng core.DateRange, state core.State) (int64, error)

	ListAccounts(ctx context.Context) ([]core.Account, error)
	UpdateAccountBalance(ctx context.Context, id int64, balance core.Yen) error
	ListMethods(ctx context.Context) ([]core.Method, error)
	GetMethod(ctx context.Context, id int64) (core.Method, error)

	GetSettlement(ctx context.Context, m core.CalendarMonth) (core.Settlement, error)
	SaveSettlement(ctx context.Context, s core.Settlement) error
	LatestSettlementBefore(ctx context.Context, m core.CalendarMonth) (core.Settlement, error)
}

// Publisher announces entry changes. A nil Publisher disables events.
type Publisher interface {
	PublishEntryChanged(ctx context.Context, msg *amqp.EntryChangedMessage) error
}

// Options configures a LedgerService.
type Options struct {
	Period  core.Period
	MinYear int
	MaxYear int
	Cache   *cache.LRUCache[core.CalendarMonth, core.MonthView]
	Logger  *applog.Logger
}

// LedgerService assembles month views and applies writes, keeping the month
// view cache coherent and publishing change events.
type LedgerService struct {
	store   Store
	pub     Publisher
	period  core.Period
	minYear int
	maxYear int
	views   *cache.LRUCache[core.CalendarMonth, core.MonthView]
	logger  *applog.Logger
	audit   *applog.StructuredLogger
}

func NewLedgerService(store Store, pub Publisher, opts Options) *LedgerService {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentLedger)
	return &LedgerService{
		store:   store,
		pub:     pub,
		period:  opts.Period,
		minYear: opts.MinYear,
		maxYear: opts.MaxYear,
		views:   opts.Cache,
		logger:  logger,
		audit:   applog.NewStructuredLogger(logger),
	}
}

// Period returns the accounting period the service books entries into.
func (s *LedgerService) Period() core.Period {
	return s.period
}

// CheckMonth validates m and its year bounds.
func (s *LedgerService) CheckMonth(m core.CalendarMonth) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if (s.minYear != 0 && m.Year < s.minYear) || (s.maxYear != 0 && m.Year > s.maxYear) {
		return fmt.Errorf("%w: year %d not in %d..%d", core.ErrOutOfRange, m.Year, s.minYear, s.maxYear)
	}
	return nil
}

// MonthView returns the incomes, expenses and totals of accounting month m.
// Templates scheduled for the month are added first when missing.
func (s *LedgerService) MonthView(ctx context.Context, m core.CalendarMonth) (core.MonthView, error) {
	if err := s.CheckMonth(m); err != nil {
		return core.MonthView{}, err
	}
	view, err := s.monthEntries(ctx, m)
	if err != nil {
		return core.MonthView{}, err
	}

	// Only entries are cached. The carried balance changes whenever an
	// earlier month is settled, here or by kakeibo-worker, and account
	// balances are edited independently of m.
	var (
		accounts []core.Account
		methods  []core.Method
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prev, err := s.previousBalance(gctx, m)
		view.PrevBalance = prev
		return err
	})
	g.Go(func() error {
		var err error
		accounts, err = s.store.ListAccounts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		methods, err = s.store.ListMethods(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.MonthView{}, fmt.Errorf("load month %s: %w", m, err)
	}
	view.Summarize(accounts, methods)
	return view, nil
}

// monthEntries returns the range and entries of m, from the cache when
// present.
func (s *LedgerService) monthEntries(ctx context.Context, m core.CalendarMonth) (core.MonthView, error) {
	if s.views != nil {
		if v, ok := s.views.Get(m); ok {
			s.logger.DebugContext(ctx, "Month view cache hit", applog.FieldYear, m.Year, applog.FieldMonth, m.Month)
			return cloneView(v), nil
		}
	}

	rng, err := s.period.Range(m)
	if err != nil {
		return core.MonthView{}, err
	}

	for _, kind := range []core.EntryKind{core.KindIncome, core.KindExpense} {
		if _, err := s.applyTemplates(ctx, kind, m, rng); err != nil {
			return core.MonthView{}, err
		}
	}

	view := core.MonthView{Month: m, Range: rng}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		incomes, err := s.store.ListEntries(gctx, core.KindIncome, rng)
		view.Incomes = incomes
		return err
	})
	g.Go(func() error {
		expenses, err := s.store.ListEntries(gctx, core.KindExpense, rng)
		view.Expenses = expenses
		return err
	})
	if err := g.Wait(); err != nil {
		return core.MonthView{}, fmt.Errorf("load month %s: %w", m, err)
	}

	if s.views != nil {
		s.views.Set(m, cloneView(view))
	}
	return view, nil
}

// applyTemplates adds an entry for every template of kind scheduled for m
// whose name is not yet booked in rng. It returns the number created.
func (s *LedgerService) applyTemplates(ctx context.Context, kind core.EntryKind, m core.CalendarMonth, rng core.DateRange) (int, error) {
	templates, err := s.store.TemplatesForMonth(ctx, kind, m.Month)
	if err != nil {
		return 0, err
	}
	if len(templates) == 0 {
		return 0, nil
	}

	existing, err := s.store.ListEntries(ctx, kind, rng)
	if err != nil {
		return 0, err
	}
	booked := make(map[string]bool, len(existing))
	for _, e := range existing {
		booked[e.Name] = true
	}

	created := 0
	for _, t := range templates {
		if booked[t.Name] {
			continue
		}
		payDate, err := s.period.PayDate(m, t.PayDay)
		if err != nil {
			return created, fmt.Errorf("template %q: %w", t.Name, err)
		}
		e := core.Entry{Kind: kind, Name: t.Name, PayDate: payDate, Method: t.Method, Amount: t.Amount, State: t.State}
		if t.PeriodDay > 0 {
			if e.PeriodDate, err = s.period.PayDate(m, t.PeriodDay); err != nil {
				return created, fmt.Errorf("template %q: %w", t.Name, err)
			}
		}
		id, err := s.store.CreateEntry(ctx, e)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("apply template %q: %w", t.Name, err)
		}
		created++
		s.publish(ctx, id, kind, m, amqp.OpCreated)
	}

	if created > 0 {
		s.logger.InfoContext(ctx, "Templates applied",
			applog.FieldOperation, applog.OpAutofill,
			applog.FieldEntryKind, string(kind),
			applog.FieldYear, m.Year,
			applog.FieldMonth, m.Month,
			"created", created)
	}
	return created, nil
}

// previousBalance is the closing balance carried into m: the settlement of
// the month before, else the latest earlier settlement, else zero.
func (s *LedgerService) previousBalance(ctx context.Context, m core.CalendarMonth) (core.Yen, error) {
	st, err := s.store.GetSettlement(ctx, m.Prev())
	if err == nil {
		return st.Balance, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	st, err = s.store.LatestSettlementBefore(ctx, m)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return st.Balance, nil
}

// CreateEntry validates and stores e, returning its ID.
func (s *LedgerService) CreateEntry(ctx context.Context, e core.Entry) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	id, err := s.store.CreateEntry(ctx, e)
	if err != nil {
		return 0, err
	}
	m := s.period.MonthOf(e.PayDate)
	s.invalidate(m)
	s.audit.LogEntryChanged(ctx, applog.OpCreate, id, string(e.Kind), e.Name, int64(e.Amount), e.State.Label())
	s.publish(ctx, id, e.Kind, m, amqp.OpCreated)
	return id, nil
}

// UpdateEntry replaces the stored entry e.ID with e.
func (s *LedgerService) UpdateEntry(ctx context.Context, e core.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	old, err := s.store.GetEntry(ctx, e.ID)
	if err != nil {
		return err
	}
	if old.Kind != e.Kind {
		return fmt.Errorf("entry %d is %s, not %s: %w", e.ID, old.Kind, e.Kind, storage.ErrNotFound)
	}
	if err := s.store.UpdateEntry(ctx, e); err != nil {
		return err
	}
	oldMonth, newMonth := s.period.MonthOf(old.PayDate), s.period.MonthOf(e.PayDate)
	s.invalidate(oldMonth)
	s.invalidate(newMonth)
	s.audit.LogEntryChanged(ctx, applog.OpUpdate, e.ID, string(e.Kind), e.Name, int64(e.Amount), e.State.Label())
	if oldMonth != newMonth {
		s.publish(ctx, e.ID, e.Kind, oldMonth, amqp.OpUpdated)
	}
	s.publish(ctx, e.ID, e.Kind, newMonth, amqp.OpUpdated)
	return nil
}

// SetState moves an entry to state.
func (s *LedgerService) SetState(ctx context.Context, id int64, state core.State) error {
	if err := state.Validate(); err != nil {
		return err
	}
	e, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SetEntryState(ctx, id, state); err != nil {
		return err
	}
	m := s.period.MonthOf(e.PayDate)
	s.invalidate(m)
	s.audit.LogEntryChanged(ctx, applog.OpUpdate, id, string(e.Kind), e.Name, int64(e.Amount), state.Label())
	s.publish(ctx, id, e.Kind, m, amqp.OpUpdated)
	return nil
}

// DeleteEntry removes entry id of the given kind.
func (s *LedgerService) DeleteEntry(ctx context.Context, kind core.EntryKind, id int64) error {
	e, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if e.Kind != kind {
		return fmt.Errorf("entry %d is %s, not %s: %w", id, e.Kind, kind, storage.ErrNotFound)
	}
	if err := s.store.DeleteEntry(ctx, id); err != nil {
		return err
	}
	m := s.period.MonthOf(e.PayDate)
	s.invalidate(m)
	s.audit.LogEntryChanged(ctx, applog.OpDelete, id, string(e.Kind), e.Name, int64(e.Amount), e.State.Label())
	s.publish(ctx, id, e.Kind, m, amqp.OpDeleted)
	return nil
}

// Entry returns a single stored entry.
func (s *LedgerService) Entry(ctx context.Context, id int64) (core.Entry, error) {
	return s.store.GetEntry(ctx, id)
}

// Template returns the named template, used to prefill entry forms.
func (s *LedgerService) Template(ctx context.Context, kind core.EntryKind, name string) (core.Template, error) {
	return s.store.TemplateByName(ctx, kind, name)
}

// TemplateNames lists template names of kind.
func (s *LedgerService) TemplateNames(ctx context.Context, kind core.EntryKind) ([]string, error) {
	return s.store.TemplateNames(ctx, kind)
}

// Settlement returns the stored closing balance of m.
func (s *LedgerService) Settlement(ctx context.Context, m core.CalendarMonth) (core.Settlement, error) {
	return s.store.GetSettlement(ctx, m)
}

// Settle records the closing balance of m and returns it.
func (s *LedgerService) Settle(ctx context.Context, m core.CalendarMonth) (core.Settlement, error) {
	s.invalidate(m)
	view, err := s.MonthView(ctx, m)
	if err != nil {
		return core.Settlement{}, err
	}
	st := core.Settlement{Month: m, Balance: view.Balance}
	if err := s.store.SaveSettlement(ctx, st); err != nil {
		return core.Settlement{}, err
	}
	s.logger.InfoContext(ctx, "Month settled",
		applog.FieldOperation, applog.OpSettle,
		applog.FieldYear, m.Year,
		applog.FieldMonth, m.Month,
		"balance_yen", int64(st.Balance))
	return st, nil
}

// SettleFrom settles m and then every later month that already has a
// settlement, so carried balances stay consistent. It returns the number of
// months settled.
func (s *LedgerService) SettleFrom(ctx context.Context, m core.CalendarMonth) (int, error) {
	count := 0
	for cur := m; ; cur = cur.Next() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if count > 0 {
			if _, err := s.store.GetSettlement(ctx, cur); errors.Is(err, storage.ErrNotFound) {
				return count, nil
			} else if err != nil {
				return count, err
			}
		}
		if err := s.CheckMonth(cur); err != nil {
			if errors.Is(err, core.ErrOutOfRange) && count > 0 {
				return count, nil
			}
			return count, err
		}
		if _, err := s.Settle(ctx, cur); err != nil {
			return count, err
		}
		count++
	}
}

// Methods lists the registered payment methods.
func (s *LedgerService) Methods(ctx context.Context) ([]core.Method, error) {
	return s.store.ListMethods(ctx)
}

// UpdateAccountBalance records the real balance of account id.
func (s *LedgerService) UpdateAccountBalance(ctx context.Context, id int64, balance core.Yen) error {
	if balance < 0 {
		return core.ErrInvalidBalance
	}
	if err := s.store.UpdateAccountBalance(ctx, id, balance); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Account balance updated",
		applog.FieldOperation, applog.OpUpdate,
		applog.FieldAccountID, id,
		applog.FieldAmountYen, int64(balance))
	return nil
}

// MarkMethodDone marks every unfinished expense of m paid with method id as
// done and returns how many entries changed.
func (s *LedgerService) MarkMethodDone(ctx context.Context, m core.CalendarMonth, id int64) (int64, error) {
	if err := s.CheckMonth(m); err != nil {
		return 0, err
	}
	method, err := s.store.GetMethod(ctx, id)
	if err != nil {
		return 0, err
	}
	rng, err := s.period.Range(m)
	if err != nil {
		return 0, err
	}
	n, err := s.store.SetStateByMethod(ctx, core.KindExpense, method.Label(), rng, core.StateDone)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	s.invalidate(m)
	s.logger.InfoContext(ctx, "Method marked done",
		applog.FieldOperation, applog.OpUpdate,
		applog.FieldMethodID, id,
		applog.FieldYear, m.Year,
		applog.FieldMonth, m.Month,
		"entries", n)
	s.publish(ctx, 0, core.KindExpense, m, amqp.OpUpdated)
	return n, nil
}

// Invalidate drops the cached view of m.
func (s *LedgerService) Invalidate(m core.CalendarMonth) {
	s.invalidate(m)
}

func (s *LedgerService) invalidate(m core.CalendarMonth) {
	if s.views != nil {
		s.views.Delete(m)
	}
}

func (s *LedgerService) publish(ctx context.Context, id int64, kind core.EntryKind, m core.CalendarMonth, op string) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishEntryChanged(ctx, amqp.NewEntryChangedMessage(id, kind, m, op)); err != nil {
		// The write already succeeded; settlement catches up on the next change.
		s.logger.WarnContext(ctx, "Failed to publish entry change",
			applog.FieldEntryID, id,
			applog.FieldOperation, op,
			applog.FieldError, err.Error())
	}
}

func cloneView(v core.MonthView) core.MonthView {
	v.Incomes = append([]core.Entry(nil), v.Incomes...)
	v.Expenses = append([]core.Entry(nil), v.Expenses...)
	v.Requires = nil
	v.Accounts = nil
	return v
}
