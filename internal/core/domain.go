package core

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	KindIncome  EntryKind = "income"
	KindExpense EntryKind = "expense"
)

const (
	StateUndecided State = iota
	StateDecided
	StateDone
)

const (
	maxNameLen = 50
	MinPayDay  = 1
	MaxPayDay  = 28
)

type (
	EntryKind string

	// State tracks how certain an entry is: 未定 -> 確定 -> 完了.
	State int

	Date struct {
		time.Time
	}

	Entry struct {
		ID         int64
		Kind       EntryKind
		Name       string
		PayDate    Date
		PeriodDate Date   // card statement closing date; zero when the charge has none
		Method     string // payment method label, e.g. "引き落とし(三井住友)"
		Amount     Yen
		State      State
	}

	// Template is a default income or expense copied into every accounting
	// month listed in Months that does not already hold an entry of the same name.
	Template struct {
		ID        int64
		Kind      EntryKind
		Name      string
		PayDay    int // 1..28
		PeriodDay int // 0 or 1..28
		Method    string
		Amount    Yen
		State     State
		Months    []int
	}

	Settlement struct {
		Month   CalendarMonth
		Balance Yen
	}
)

var (
	ErrInvalidDay    = errors.New("invalid day")
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrEmptyName     = errors.New("empty name")
	ErrNameTooLong   = errors.New("name too long (max 50 characters)")
	ErrEmptyMethod   = errors.New("empty payment method")
	ErrInvalidKind   = errors.New("invalid entry kind")
	ErrInvalidState  = errors.New("invalid state")
	ErrInvalidPayDay = errors.New("invalid pay day (must be 1..28)")
	ErrOutOfRange    = errors.New("month out of range")
)

// ParseEntryKind accepts the kind names as well as the short page
// suffixes "inc" and "exp" used by the form endpoints.
func ParseEntryKind(s string) (EntryKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income", "inc":
		return KindIncome, nil
	case "expense", "exp":
		return KindExpense, nil
	}
	return "", ErrInvalidKind
}

func (k EntryKind) Validate() error {
	if k != KindIncome && k != KindExpense {
		return ErrInvalidKind
	}
	return nil
}

// Short returns the suffix used in form routes ("inc" / "exp").
func (k EntryKind) Short() string {
	if k == KindIncome {
		return "inc"
	}
	return "exp"
}

func (s State) Validate() error {
	if s < StateUndecided || s > StateDone {
		return ErrInvalidState
	}
	return nil
}

// Label returns the Japanese display name of the state.
func (s State) Label() string {
	switch s {
	case StateUndecided:
		return "未定"
	case StateDecided:
		return "確定"
	case StateDone:
		return "完了"
	}
	return "不明"
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return ErrNameTooLong
	}
	return nil
}

func (e Entry) Validate() error {
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	if err := validateName(e.Name); err != nil {
		return err
	}
	if err := e.PayDate.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Method) == "" {
		return ErrEmptyMethod
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	return e.State.Validate()
}

func (t Template) Validate() error {
	if err := t.Kind.Validate(); err != nil {
		return err
	}
	if err := validateName(t.Name); err != nil {
		return err
	}
	if t.PayDay < MinPayDay || t.PayDay > MaxPayDay {
		return ErrInvalidPayDay
	}
	if t.PeriodDay != 0 && (t.PeriodDay < MinPayDay || t.PeriodDay > MaxPayDay) {
		return ErrInvalidPayDay
	}
	if strings.TrimSpace(t.Method) == "" {
		return ErrEmptyMethod
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.State.Validate(); err != nil {
		return err
	}
	for _, m := range t.Months {
		if m < 1 || m > 12 {
			return ErrInvalidMonth
		}
	}
	return nil
}

// AppliesTo reports whether the template is scheduled for the given month number.
func (t Template) AppliesTo(month int) bool {
	for _, m := range t.Months {
		if m == month {
			return true
		}
	}
	return false
}
