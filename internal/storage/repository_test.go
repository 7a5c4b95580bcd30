package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"kakeibo/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestEntryCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := core.Entry{
		Kind:    core.KindExpense,
		Name:    "家賃",
		PayDate: core.NewDate(2024, 3, 27),
		Method:  "振込",
		Amount:  80000,
		State:   core.StateDecided,
	}
	id, err := repo.CreateEntry(ctx, e)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	got, err := repo.GetEntry(ctx, id)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Name != e.Name || got.Amount != e.Amount || got.PayDate.String() != "2024-03-27" || got.State != core.StateDecided {
		t.Fatalf("GetEntry = %+v", got)
	}
	if !got.PeriodDate.IsZero() {
		t.Fatalf("PeriodDate = %s, want zero", got.PeriodDate)
	}

	if _, err := repo.CreateEntry(ctx, e); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate CreateEntry error = %v, want ErrConflict", err)
	}

	got.Amount = 82000
	got.PeriodDate = core.NewDate(2024, 3, 15)
	if err := repo.UpdateEntry(ctx, got); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	if err := repo.SetEntryState(ctx, id, core.StateDone); err != nil {
		t.Fatalf("SetEntryState: %v", err)
	}
	got, _ = repo.GetEntry(ctx, id)
	if got.Amount != 82000 || got.State != core.StateDone || got.PeriodDate.String() != "2024-03-15" {
		t.Fatalf("after update = %+v", got)
	}

	if err := repo.DeleteEntry(ctx, id); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if _, err := repo.GetEntry(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetEntry after delete error = %v", err)
	}
	if err := repo.DeleteEntry(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteEntry error = %v", err)
	}
}

func TestListEntriesByRange(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, e := range []core.Entry{
		{Kind: core.KindIncome, Name: "給与", PayDate: core.NewDate(2024, 2, 25), Method: "預入", Amount: 300000},
		{Kind: core.KindIncome, Name: "賞与", PayDate: core.NewDate(2024, 3, 10), Method: "預入", Amount: 100000},
		{Kind: core.KindIncome, Name: "給与", PayDate: core.NewDate(2024, 3, 28), Method: "預入", Amount: 300000},
		{Kind: core.KindExpense, Name: "電気", PayDate: core.NewDate(2024, 3, 1), Method: "カード", Amount: 6000},
	} {
		if _, err := repo.CreateEntry(ctx, e); err != nil {
			t.Fatalf("CreateEntry(%s): %v", e.Name, err)
		}
	}

	rng, _ := core.DefaultPeriod().Range(core.CalendarMonth{Year: 2024, Month: 3}) // 02-28 .. 03-27
	incomes, err := repo.ListEntries(ctx, core.KindIncome, rng)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(incomes) != 1 || incomes[0].Name != "賞与" {
		t.Fatalf("incomes = %+v", incomes)
	}

	expenses, err := repo.ListEntries(ctx, core.KindExpense, rng)
	if err != nil || len(expenses) != 1 {
		t.Fatalf("expenses = %+v, %v", expenses, err)
	}
}

func TestTemplates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tpl := core.Template{Kind: core.KindExpense, Name: "保険", PayDay: 27, PeriodDay: 10, Method: "引き落とし", Amount: 12000, Months: []int{3, 9}}
	if _, err := repo.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	if _, err := repo.CreateTemplate(ctx, tpl); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate CreateTemplate error = %v", err)
	}

	march, err := repo.TemplatesForMonth(ctx, core.KindExpense, 3)
	if err != nil || len(march) != 1 || march[0].Amount != 12000 {
		t.Fatalf("TemplatesForMonth(3) = %+v, %v", march, err)
	}
	april, err := repo.TemplatesForMonth(ctx, core.KindExpense, 4)
	if err != nil || len(april) != 0 {
		t.Fatalf("TemplatesForMonth(4) = %+v, %v", april, err)
	}
	if incomes, _ := repo.TemplatesForMonth(ctx, core.KindIncome, 3); len(incomes) != 0 {
		t.Fatalf("income templates = %+v", incomes)
	}

	got, err := repo.TemplateByName(ctx, core.KindExpense, "保険")
	if err != nil || len(got.Months) != 2 || got.PayDay != 27 || got.PeriodDay != 10 {
		t.Fatalf("TemplateByName = %+v, %v", got, err)
	}
	if _, err := repo.TemplateByName(ctx, core.KindExpense, "none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("TemplateByName(none) error = %v", err)
	}
	names, err := repo.TemplateNames(ctx, core.KindExpense)
	if err != nil || len(names) != 1 || names[0] != "保険" {
		t.Fatalf("TemplateNames = %v, %v", names, err)
	}
}

func TestSettlements(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := core.CalendarMonth{Year: 2023, Month: 12}
	if _, err := repo.GetSettlement(ctx, m); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSettlement on empty db error = %v", err)
	}
	if err := repo.SaveSettlement(ctx, core.Settlement{Month: m, Balance: 5000}); err != nil {
		t.Fatalf("SaveSettlement: %v", err)
	}
	if err := repo.SaveSettlement(ctx, core.Settlement{Month: m, Balance: 7000}); err != nil {
		t.Fatalf("SaveSettlement overwrite: %v", err)
	}
	s, err := repo.GetSettlement(ctx, m)
	if err != nil || s.Balance != 7000 {
		t.Fatalf("GetSettlement = %+v, %v", s, err)
	}

	latest, err := repo.LatestSettlementBefore(ctx, core.CalendarMonth{Year: 2024, Month: 3})
	if err != nil || latest.Month != m {
		t.Fatalf("LatestSettlementBefore = %+v, %v", latest, err)
	}
	if _, err := repo.LatestSettlementBefore(ctx, m); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LatestSettlementBefore(self) error = %v", err)
	}
}
