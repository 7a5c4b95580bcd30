package core

import (
	"errors"
	"math"
	"testing"
)

func TestAddMonthsBoundaries(t *testing.T) {
	tests := []struct {
		name             string
		year, month, off int
		wantYear, wantMon int
	}{
		{"december rolls forward", 2024, 12, 1, 2025, 1},
		{"january rolls back", 2024, 1, -1, 2023, 12},
		{"multi-year back", 2024, 6, -15, 2023, 3},
		{"zero offset", 2024, 7, 0, 2024, 7},
		{"exactly one year", 2024, 3, 12, 2025, 3},
		{"exactly one year back", 2024, 3, -12, 2023, 3},
		{"three back from february", 2024, 2, -3, 2023, 11},
		{"three ahead from october", 2024, 10, 3, 2025, 1},
		{"large forward", 2000, 1, 1200, 2100, 1},
		{"crosses year zero", 0, 1, -1, -1, 12},
		{"negative year", -1, 12, 1, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AddMonths(tt.year, tt.month, tt.off)
			if err != nil {
				t.Fatalf("AddMonths(%d, %d, %d) error: %v", tt.year, tt.month, tt.off, err)
			}
			want := CalendarMonth{Year: tt.wantYear, Month: tt.wantMon}
			if got != want {
				t.Errorf("AddMonths(%d, %d, %d) = %+v, want %+v", tt.year, tt.month, tt.off, got, want)
			}
		})
	}
}

func TestAddMonthsRangeAndRoundTrip(t *testing.T) {
	for _, year := range []int{1999, 2000, 2023, 2024} {
		for month := 1; month <= 12; month++ {
			for off := -36; off <= 36; off++ {
				got, err := AddMonths(year, month, off)
				if err != nil {
					t.Fatalf("AddMonths(%d, %d, %d) error: %v", year, month, off, err)
				}
				if got.Month < 1 || got.Month > 12 {
					t.Fatalf("AddMonths(%d, %d, %d) month %d out of range", year, month, off, got.Month)
				}
				if got.Index()-(year*12+month-1) != off {
					t.Fatalf("AddMonths(%d, %d, %d) = %+v moved by wrong amount", year, month, off, got)
				}
				back, err := AddMonths(got.Year, got.Month, -off)
				if err != nil {
					t.Fatalf("round trip error: %v", err)
				}
				if back != (CalendarMonth{Year: year, Month: month}) {
					t.Fatalf("round trip of (%d, %d) by %d gave %+v", year, month, off, back)
				}
			}
		}
	}
}

func TestAddMonthsInvalidInput(t *testing.T) {
	for _, month := range []int{0, 13, -1, 100} {
		_, err := AddMonths(2024, month, 0)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("AddMonths(2024, %d, 0) error = %v, want ErrInvalidInput", month, err)
		}
	}
}

func TestAddMonthsOverflow(t *testing.T) {
	tests := []struct {
		name             string
		year, month, off int
	}{
		{"max offset", 2024, 1, math.MaxInt},
		{"min offset", 2024, 1, math.MinInt},
		{"huge year", math.MaxInt / 12, 12, 0},
		{"tiny year", math.MinInt / 10, 1, 0},
		{"last year with positive offset", (math.MaxInt - 11) / 12, 12, math.MaxInt - 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AddMonths(tt.year, tt.month, tt.off)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("AddMonths(%d, %d, %d) = %+v, %v, want ErrInvalidInput", tt.year, tt.month, tt.off, got, err)
			}
		})
	}

	// Large but representable offsets still work.
	got, err := AddMonths(2024, 1, 12*1_000_000)
	if err != nil || got != (CalendarMonth{1_002_024, 1}) {
		t.Errorf("AddMonths(2024, 1, 12e6) = %+v, %v", got, err)
	}
}

func TestCalendarMonthFormatting(t *testing.T) {
	m := CalendarMonth{Year: 2024, Month: 3}
	if got := m.Label(); got != "2024年3月" {
		t.Errorf("Label() = %q", got)
	}
	if got := m.Path("expense"); got != "/2024/3/expense" {
		t.Errorf("Path() = %q", got)
	}
	if got := m.String(); got != "2024-03" {
		t.Errorf("String() = %q", got)
	}
	if m.Prev() != (CalendarMonth{2024, 2}) || m.Next() != (CalendarMonth{2024, 4}) {
		t.Errorf("Prev/Next wrong: %+v %+v", m.Prev(), m.Next())
	}
}

func TestParseCalendarMonth(t *testing.T) {
	got, err := ParseCalendarMonth("2019-03")
	if err != nil || got != (CalendarMonth{2019, 3}) {
		t.Fatalf("ParseCalendarMonth = %+v, %v", got, err)
	}
	for _, bad := range []string{"", "2019", "2019-13", "abcd-01", "2019-xx", "2019-01-01"} {
		if _, err := ParseCalendarMonth(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseCalendarMonth(%q) error = %v, want ErrInvalidInput", bad, err)
		}
	}
}
