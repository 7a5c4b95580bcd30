package nav

import (
	"errors"
	"fmt"
	"strings"

	"kakeibo/internal/core"
)

// Pages that carry month navigation.
const (
	PageIncome  = "income"
	PageExpense = "expense"
	PageBalance = "balance"
)

var ErrUnknownPage = errors.New("unknown page")

// ValidPage reports whether page is one of the month pages.
func ValidPage(page string) bool {
	switch page {
	case PageIncome, PageExpense, PageBalance:
		return true
	}
	return false
}

// Switcher resolves the month picker selection to a page path.
type Switcher struct {
	Base    string
	MinYear int
	MaxYear int
}

// Target returns the path of page for the picked month. Years outside
// MinYear..MaxYear fail with core.ErrOutOfRange when the bounds are set.
func (s Switcher) Target(page string, m core.CalendarMonth) (string, error) {
	if !ValidPage(page) {
		return "", fmt.Errorf("%w: %q", ErrUnknownPage, page)
	}
	if err := m.Validate(); err != nil {
		return "", err
	}
	if (s.MinYear != 0 && m.Year < s.MinYear) || (s.MaxYear != 0 && m.Year > s.MaxYear) {
		return "", fmt.Errorf("%w: year %d", core.ErrOutOfRange, m.Year)
	}
	return strings.TrimSuffix(s.Base, "/") + m.Path(page), nil
}
