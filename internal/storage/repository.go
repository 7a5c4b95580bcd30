package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"kakeibo/internal/core"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const dateLayout = "2006-01-02"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (core.Entry, error) {
	var (
		e          core.Entry
		kind       string
		payDate    string
		periodDate sql.NullString
		amount     int64
		state      int
	)
	if err := s.Scan(&e.ID, &kind, &e.Name, &payDate, &periodDate, &e.Method, &amount, &state); err != nil {
		return core.Entry{}, err
	}
	t, err := time.Parse(dateLayout, payDate)
	if err != nil {
		return core.Entry{}, fmt.Errorf("parse pay date %q: %w", payDate, err)
	}
	if periodDate.Valid && periodDate.String != "" {
		pt, err := time.Parse(dateLayout, periodDate.String)
		if err != nil {
			return core.Entry{}, fmt.Errorf("parse period date %q: %w", periodDate.String, err)
		}
		e.PeriodDate = core.Date{Time: pt}
	}
	e.Kind = core.EntryKind(kind)
	e.PayDate = core.Date{Time: t}
	e.Amount = core.Yen(amount)
	e.State = core.State(state)
	return e, nil
}

// nullDate stores a zero Date as NULL.
func nullDate(d core.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Format(dateLayout), Valid: true}
}

const entryColumns = `id, kind, name, pay_date, period_date, method, amount, state`

// CreateEntry inserts e and returns its ID. A duplicate (kind, name, pay date)
// fails with ErrConflict.
func (r *SQLiteRepository) CreateEntry(ctx context.Context, e core.Entry) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO entries (kind, name, pay_date, period_date, method, amount, state) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.Name, e.PayDate.Format(dateLayout), nullDate(e.PeriodDate), e.Method, int64(e.Amount), int(e.State))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("create entry %q on %s: %w", e.Name, e.PayDate, ErrConflict)
		}
		return 0, fmt.Errorf("create entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read entry id: %w", err)
	}

	slog.DebugContext(ctx, "Entry saved to SQLite",
		"component", "storage",
		"id", id,
		"kind", e.Kind,
		"name", e.Name,
		"amount_yen", int64(e.Amount),
		"pay_date", e.PayDate.String())

	return id, nil
}

// UpdateEntry overwrites every field of the entry with e.ID.
func (r *SQLiteRepository) UpdateEntry(ctx context.Context, e core.Entry) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entries SET name = ?, pay_date = ?, period_date = ?, method = ?, amount = ?, state = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND kind = ?`,
		e.Name, e.PayDate.Format(dateLayout), nullDate(e.PeriodDate), e.Method, int64(e.Amount), int(e.State), e.ID, string(e.Kind))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update entry %d: %w", e.ID, ErrConflict)
		}
		return fmt.Errorf("update entry %d: %w", e.ID, err)
	}
	return expectOneRow(res, "entry", e.ID)
}

// SetEntryState changes only the state of an entry.
func (r *SQLiteRepository) SetEntryState(ctx context.Context, id int64, state core.State) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entries SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, int(state), id)
	if err != nil {
		return fmt.Errorf("set entry %d state: %w", id, err)
	}
	return expectOneRow(res, "entry", id)
}

// SetStateByMethod moves every entry of kind charged to method with a pay
// date in rng to state, returning how many changed.
func (r *SQLiteRepository) SetStateByMethod(ctx context.Context, kind core.EntryKind, method string, rng core.DateRange, state core.State) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entries SET state = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE kind = ? AND method = ? AND pay_date >= ? AND pay_date <= ? AND state != ?`,
		int(state), string(kind), method, rng.First.Format(dateLayout), rng.Last.Format(dateLayout), int(state))
	if err != nil {
		return 0, fmt.Errorf("set %s state for method %q: %w", kind, method, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("method %q rows affected: %w", method, err)
	}
	return n, nil
}

func (r *SQLiteRepository) DeleteEntry(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}
	return expectOneRow(res, "entry", id)
}

func (r *SQLiteRepository) GetEntry(ctx context.Context, id int64) (core.Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, fmt.Errorf("entry %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("get entry %d: %w", id, err)
	}
	return e, nil
}

// ListEntries returns entries of kind whose pay date lies within rng,
// ordered by pay date.
func (r *SQLiteRepository) ListEntries(ctx context.Context, kind core.EntryKind, rng core.DateRange) ([]core.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE kind = ? AND pay_date >= ? AND pay_date <= ?
		 ORDER BY pay_date, id`,
		string(kind), rng.First.Format(dateLayout), rng.Last.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("list %s entries: %w", kind, err)
	}
	defer rows.Close()

	var entries []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// CreateTemplate stores t together with the months it applies to.
func (r *SQLiteRepository) CreateTemplate(ctx context.Context, t core.Template) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO templates (kind, name, pay_day, period_day, method, amount, state) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(t.Kind), t.Name, t.PayDay, t.PeriodDay, t.Method, int64(t.Amount), int(t.State))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("create template %q: %w", t.Name, ErrConflict)
		}
		return 0, fmt.Errorf("create template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read template id: %w", err)
	}
	for _, m := range t.Months {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO template_months (template_id, month) VALUES (?, ?)`, id, m); err != nil {
			return 0, fmt.Errorf("add template month %d: %w", m, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit template: %w", err)
	}
	return id, nil
}

const templateColumns = `t.id, t.kind, t.name, t.pay_day, t.period_day, t.method, t.amount, t.state`

func scanTemplate(s scanner) (core.Template, error) {
	var (
		t      core.Template
		kind   string
		amount int64
		state  int
	)
	if err := s.Scan(&t.ID, &kind, &t.Name, &t.PayDay, &t.PeriodDay, &t.Method, &amount, &state); err != nil {
		return core.Template{}, err
	}
	t.Kind = core.EntryKind(kind)
	t.Amount = core.Yen(amount)
	t.State = core.State(state)
	return t, nil
}

// TemplatesForMonth returns the templates of kind scheduled for month (1..12).
func (r *SQLiteRepository) TemplatesForMonth(ctx context.Context, kind core.EntryKind, month int) ([]core.Template, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM templates t
		 JOIN template_months tm ON tm.template_id = t.id
		 WHERE t.kind = ? AND tm.month = ?
		 ORDER BY t.pay_day, t.id`,
		string(kind), month)
	if err != nil {
		return nil, fmt.Errorf("list %s templates for month %d: %w", kind, month, err)
	}
	defer rows.Close()

	var templates []core.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.Months = []int{month}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

// TemplateByName looks up a template and all of its months.
func (r *SQLiteRepository) TemplateByName(ctx context.Context, kind core.EntryKind, name string) (core.Template, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates t WHERE t.kind = ? AND t.name = ?`, string(kind), name)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Template{}, fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return core.Template{}, fmt.Errorf("get template %q: %w", name, err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT month FROM template_months WHERE template_id = ? ORDER BY month`, t.ID)
	if err != nil {
		return core.Template{}, fmt.Errorf("list template months: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m int
		if err := rows.Scan(&m); err != nil {
			return core.Template{}, fmt.Errorf("scan template month: %w", err)
		}
		t.Months = append(t.Months, m)
	}
	return t, rows.Err()
}

// TemplateNames lists template names of kind, for form suggestions.
func (r *SQLiteRepository) TemplateNames(ctx context.Context, kind core.EntryKind) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM templates WHERE kind = ? ORDER BY name`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list template names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan template name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// GetSettlement returns the closing balance recorded for m.
func (r *SQLiteRepository) GetSettlement(ctx context.Context, m core.CalendarMonth) (core.Settlement, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance FROM settlements WHERE year = ? AND month = ?`, m.Year, m.Month).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Settlement{}, fmt.Errorf("settlement %s: %w", m, ErrNotFound)
	}
	if err != nil {
		return core.Settlement{}, fmt.Errorf("get settlement %s: %w", m, err)
	}
	return core.Settlement{Month: m, Balance: core.Yen(balance)}, nil
}

// SaveSettlement inserts or replaces the closing balance of s.Month.
func (r *SQLiteRepository) SaveSettlement(ctx context.Context, s core.Settlement) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settlements (year, month, balance) VALUES (?, ?, ?)
		 ON CONFLICT (year, month) DO UPDATE SET balance = excluded.balance, updated_at = CURRENT_TIMESTAMP`,
		s.Month.Year, s.Month.Month, int64(s.Balance))
	if err != nil {
		return fmt.Errorf("save settlement %s: %w", s.Month, err)
	}
	return nil
}

// LatestSettlementBefore returns the most recent settlement strictly before m.
func (r *SQLiteRepository) LatestSettlementBefore(ctx context.Context, m core.CalendarMonth) (core.Settlement, error) {
	var year, month int
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT year, month, balance FROM settlements
		 WHERE year * 12 + (month - 1) < ?
		 ORDER BY year DESC, month DESC LIMIT 1`, m.Index()).Scan(&year, &month, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Settlement{}, fmt.Errorf("settlement before %s: %w", m, ErrNotFound)
	}
	if err != nil {
		return core.Settlement{}, fmt.Errorf("get settlement before %s: %w", m, err)
	}
	return core.Settlement{Month: core.CalendarMonth{Year: year, Month: month}, Balance: core.Yen(balance)}, nil
}

func expectOneRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d rows affected: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}
