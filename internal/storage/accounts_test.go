package storage

import (
	"context"
	"errors"
	"testing"

	"kakeibo/internal/core"
)

func TestAccountsAndMethods(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acc := core.Account{Bank: "三井住友", Owner: "太郎", Balance: 120000}
	accID, err := repo.CreateAccount(ctx, acc)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := repo.CreateAccount(ctx, acc); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate CreateAccount error = %v, want ErrConflict", err)
	}

	if err := repo.UpdateAccountBalance(ctx, accID, 98000); err != nil {
		t.Fatalf("UpdateAccountBalance: %v", err)
	}
	accounts, err := repo.ListAccounts(ctx)
	if err != nil || len(accounts) != 1 || accounts[0].Balance != 98000 || accounts[0].Name() != "太郎三井住友" {
		t.Fatalf("ListAccounts = %+v, %v", accounts, err)
	}
	if err := repo.UpdateAccountBalance(ctx, 999, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateAccountBalance(999) error = %v, want ErrNotFound", err)
	}

	methodID, err := repo.CreateMethod(ctx, core.Method{Name: "引き落とし", AccountID: accID})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	if _, err := repo.CreateMethod(ctx, core.Method{Name: "引き落とし", AccountID: accID}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate CreateMethod error = %v, want ErrConflict", err)
	}
	if _, err := repo.CreateMethod(ctx, core.Method{Name: "カード", AccountID: 999}); err == nil {
		t.Fatal("CreateMethod with unknown account succeeded")
	}

	m, err := repo.GetMethod(ctx, methodID)
	if err != nil || m.Label() != "引き落とし(太郎三井住友)" {
		t.Fatalf("GetMethod = %+v, %v", m, err)
	}
	if _, err := repo.GetMethod(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMethod(999) error = %v, want ErrNotFound", err)
	}

	methods, err := repo.ListMethods(ctx)
	if err != nil || len(methods) != 1 || methods[0].AccountName != "太郎三井住友" {
		t.Fatalf("ListMethods = %+v, %v", methods, err)
	}
}

func TestSetStateByMethod(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, e := range []core.Entry{
		{Kind: core.KindExpense, Name: "電気", PayDate: core.NewDate(2024, 3, 1), Method: "カード", Amount: 6000},
		{Kind: core.KindExpense, Name: "ガス", PayDate: core.NewDate(2024, 3, 5), Method: "カード", Amount: 4000, State: core.StateDone},
		{Kind: core.KindExpense, Name: "水道", PayDate: core.NewDate(2024, 3, 6), Method: "振込", Amount: 3000},
		{Kind: core.KindExpense, Name: "電気", PayDate: core.NewDate(2024, 4, 1), Method: "カード", Amount: 6500},
		{Kind: core.KindIncome, Name: "返金", PayDate: core.NewDate(2024, 3, 7), Method: "カード", Amount: 500},
	} {
		if _, err := repo.CreateEntry(ctx, e); err != nil {
			t.Fatalf("CreateEntry(%s): %v", e.Name, err)
		}
	}

	rng, _ := core.DefaultPeriod().Range(core.CalendarMonth{Year: 2024, Month: 3})
	n, err := repo.SetStateByMethod(ctx, core.KindExpense, "カード", rng, core.StateDone)
	if err != nil {
		t.Fatalf("SetStateByMethod: %v", err)
	}
	if n != 1 {
		t.Fatalf("SetStateByMethod changed %d entries, want 1", n)
	}

	expenses, _ := repo.ListEntries(ctx, core.KindExpense, rng)
	for _, e := range expenses {
		want := core.StateDone
		if e.Method == "振込" {
			want = core.StateUndecided
		}
		if e.State != want {
			t.Errorf("%s state = %v, want %v", e.Name, e.State, want)
		}
	}
}
