package core

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidInput is returned when a month lies outside 1..12.
var ErrInvalidInput = errors.New("invalid input")

// CalendarMonth is a (year, month) pair with Month in 1..12.
type CalendarMonth struct {
	Year  int
	Month int
}

// NewCalendarMonth returns the month after validating it.
func NewCalendarMonth(year, month int) (CalendarMonth, error) {
	m := CalendarMonth{Year: year, Month: month}
	if err := m.Validate(); err != nil {
		return CalendarMonth{}, err
	}
	return m, nil
}

// AddMonths returns the calendar month offset months away from
// (baseYear, baseMonth). The offset may be any integer, including
// multi-year spans in either direction. A result whose month index
// does not fit in an int is reported as ErrInvalidInput.
func AddMonths(baseYear, baseMonth, offset int) (CalendarMonth, error) {
	if baseMonth < 1 || baseMonth > 12 {
		return CalendarMonth{}, fmt.Errorf("%w: month %d out of range 1..12", ErrInvalidInput, baseMonth)
	}
	if baseYear > (math.MaxInt-11)/12 || baseYear < math.MinInt/12 {
		return CalendarMonth{}, fmt.Errorf("%w: year %d out of range", ErrInvalidInput, baseYear)
	}
	base := baseYear*12 + (baseMonth - 1)
	if (offset > 0 && base > math.MaxInt-offset) || (offset < 0 && base < math.MinInt-offset) {
		return CalendarMonth{}, fmt.Errorf("%w: offset %d overflows month index", ErrInvalidInput, offset)
	}
	return fromIndex(base + offset), nil
}

// fromIndex decomposes a zero-based absolute month index using floor
// division so negative indices still land on a month in 1..12.
func fromIndex(idx int) CalendarMonth {
	year := idx / 12
	rem := idx % 12
	if rem < 0 {
		rem += 12
		year--
	}
	return CalendarMonth{Year: year, Month: rem + 1}
}

// Validate reports ErrInvalidInput when Month is outside 1..12.
func (m CalendarMonth) Validate() error {
	if m.Month < 1 || m.Month > 12 {
		return fmt.Errorf("%w: month %d out of range 1..12", ErrInvalidInput, m.Month)
	}
	return nil
}

// Index returns the zero-based absolute month index year*12 + (month-1).
func (m CalendarMonth) Index() int {
	return m.Year*12 + (m.Month - 1)
}

// Add is AddMonths applied to m.
func (m CalendarMonth) Add(offset int) (CalendarMonth, error) {
	return AddMonths(m.Year, m.Month, offset)
}

// Prev returns the previous month. m must be valid.
func (m CalendarMonth) Prev() CalendarMonth {
	return fromIndex(m.Index() - 1)
}

// Next returns the following month. m must be valid.
func (m CalendarMonth) Next() CalendarMonth {
	return fromIndex(m.Index() + 1)
}

// Label is the localized navigation label, e.g. "2024年3月".
func (m CalendarMonth) Label() string {
	return strconv.Itoa(m.Year) + "年" + strconv.Itoa(m.Month) + "月"
}

// Path returns "/{year}/{month}/{page}".
func (m CalendarMonth) Path(page string) string {
	return "/" + strconv.Itoa(m.Year) + "/" + strconv.Itoa(m.Month) + "/" + page
}

// String formats the month as YYYY-MM, the value of an <input type="month">.
func (m CalendarMonth) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

// ParseCalendarMonth parses a YYYY-MM value.
func ParseCalendarMonth(s string) (CalendarMonth, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return CalendarMonth{}, fmt.Errorf("%w: expected YYYY-MM, got %q", ErrInvalidInput, s)
	}
	y, err := strconv.Atoi(parts[0])
	if err != nil {
		return CalendarMonth{}, fmt.Errorf("%w: year %q", ErrInvalidInput, parts[0])
	}
	mo, err := strconv.Atoi(parts[1])
	if err != nil {
		return CalendarMonth{}, fmt.Errorf("%w: month %q", ErrInvalidInput, parts[1])
	}
	return NewCalendarMonth(y, mo)
}
