package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kakeibo/internal/core"
)

// CreateAccount inserts a and returns its ID. A second account for the same
// bank and owner fails with ErrConflict.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (bank, owner, balance) VALUES (?, ?, ?)`, a.Bank, a.Owner, int64(a.Balance))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("create account %q: %w", a.Name(), ErrConflict)
		}
		return 0, fmt.Errorf("create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read account id: %w", err)
	}
	return id, nil
}

func scanAccount(s scanner) (core.Account, error) {
	var (
		a       core.Account
		balance int64
	)
	if err := s.Scan(&a.ID, &a.Bank, &a.Owner, &balance); err != nil {
		return core.Account{}, err
	}
	a.Balance = core.Yen(balance)
	return a, nil
}

// ListAccounts returns every account in creation order.
func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, bank, owner, balance FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateAccountBalance records the real balance of account id.
func (r *SQLiteRepository) UpdateAccountBalance(ctx context.Context, id int64, balance core.Yen) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, int64(balance), id)
	if err != nil {
		return fmt.Errorf("update account %d balance: %w", id, err)
	}
	return expectOneRow(res, "account", id)
}

// CreateMethod inserts m and returns its ID. Method names are unique.
func (r *SQLiteRepository) CreateMethod(ctx context.Context, m core.Method) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO methods (name, account_id) VALUES (?, ?)`, m.Name, m.AccountID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("create method %q: %w", m.Name, ErrConflict)
		}
		return 0, fmt.Errorf("create method %q: %w", m.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read method id: %w", err)
	}
	return id, nil
}

const methodQuery = `SELECT m.id, m.name, m.account_id, a.owner || a.bank
	FROM methods m JOIN accounts a ON a.id = m.account_id`

func scanMethod(s scanner) (core.Method, error) {
	var m core.Method
	if err := s.Scan(&m.ID, &m.Name, &m.AccountID, &m.AccountName); err != nil {
		return core.Method{}, err
	}
	return m, nil
}

func (r *SQLiteRepository) GetMethod(ctx context.Context, id int64) (core.Method, error) {
	m, err := scanMethod(r.db.QueryRowContext(ctx, methodQuery+` WHERE m.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Method{}, fmt.Errorf("method %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Method{}, fmt.Errorf("get method %d: %w", id, err)
	}
	return m, nil
}

// ListMethods returns every method with its account name.
func (r *SQLiteRepository) ListMethods(ctx context.Context) ([]core.Method, error) {
	rows, err := r.db.QueryContext(ctx, methodQuery+` ORDER BY m.id`)
	if err != nil {
		return nil, fmt.Errorf("list methods: %w", err)
	}
	defer rows.Close()

	var methods []core.Method
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan method: %w", err)
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}
