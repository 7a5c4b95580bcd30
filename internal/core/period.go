package core

import (
	"fmt"
	"time"

	"cloudeng.io/datetime"
)

const (
	DefaultFirstDay               = 28
	DefaultMinFirstDayAsNextMonth = 16
)

// DateRange is an inclusive range of dates.
type DateRange struct {
	First Date
	Last  Date
}

// Period describes where accounting months start.
//
// An accounting month starts on FirstDay. When FirstDay is at or after
// MinFirstDayAsNextMonth the period is booked to the following month:
//
//	FirstDay=25: 2019/03 covers 2019/02/25 .. 2019/03/24
//	FirstDay=5:  2019/03 covers 2019/03/05 .. 2019/04/04
type Period struct {
	FirstDay               int
	MinFirstDayAsNextMonth int
}

// DefaultPeriod returns the period used when nothing is configured.
func DefaultPeriod() Period {
	return Period{FirstDay: DefaultFirstDay, MinFirstDayAsNextMonth: DefaultMinFirstDayAsNextMonth}
}

func (p Period) Validate() error {
	if p.FirstDay < MinPayDay || p.FirstDay > MaxPayDay {
		return fmt.Errorf("first day %d: %w", p.FirstDay, ErrInvalidDay)
	}
	if p.MinFirstDayAsNextMonth < 1 || p.MinFirstDayAsNextMonth > 31 {
		return fmt.Errorf("min first day as next month %d: %w", p.MinFirstDayAsNextMonth, ErrInvalidDay)
	}
	return nil
}

// NextMonthStart reports whether a period starting on FirstDay is booked to
// the following calendar month.
func (p Period) NextMonthStart() bool {
	return p.FirstDay >= p.MinFirstDayAsNextMonth
}

// Range returns the first and last date of accounting month m.
func (p Period) Range(m CalendarMonth) (DateRange, error) {
	if err := m.Validate(); err != nil {
		return DateRange{}, err
	}
	start := m
	if p.NextMonthStart() {
		start = m.Prev()
	}
	first := NewDate(start.Year, start.Month, p.FirstDay)
	end := start.Next()
	last := NewDate(end.Year, end.Month, p.FirstDay).AddDate(0, 0, -1)
	return DateRange{First: first, Last: Date{Time: last}}, nil
}

// PayDate places a day-of-month inside accounting month m.
func (p Period) PayDate(m CalendarMonth, payDay int) (Date, error) {
	if err := m.Validate(); err != nil {
		return Date{}, err
	}
	if payDay < 1 || payDay > 31 {
		return Date{}, ErrInvalidPayDay
	}
	target := m
	if p.NextMonthStart() {
		if payDay >= p.FirstDay {
			target = m.Prev()
		}
	} else if payDay < p.FirstDay {
		target = m.Next()
	}
	return NewDate(target.Year, target.Month, clampDay(target, payDay)), nil
}

// Current returns the accounting month containing now.
func (p Period) Current(now time.Time) CalendarMonth {
	m := CalendarMonth{Year: now.Year(), Month: int(now.Month())}
	day := now.Day()
	if p.NextMonthStart() {
		if day >= p.FirstDay {
			return m.Next()
		}
	} else if day < p.FirstDay {
		return m.Prev()
	}
	return m
}

// MonthOf returns the accounting month a date is booked to.
func (p Period) MonthOf(d Date) CalendarMonth {
	return p.Current(d.Time)
}

func clampDay(m CalendarMonth, day int) int {
	if n := int(datetime.DaysInMonth(m.Year, datetime.Month(m.Month))); day > n {
		return n
	}
	return day
}
