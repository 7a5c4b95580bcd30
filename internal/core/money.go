// Package core provides the ledger domain: calendar months, accounting
// periods, entries and yen amounts.
//
// This file contains parsing and display helpers for yen amounts.
package core

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Yen is a whole-yen amount. The currency has no minor unit.
type Yen int64

var yenPrinter = message.NewPrinter(language.Japanese)

// ParseYen converts user input to a positive yen amount.
//
// It accepts an optional leading "¥" or "￥", thousands separators and
// surrounding whitespace. Fractions, signs and zero are rejected.
//
// Examples:
//
//	ParseYen("1200")    -> 1200, nil
//	ParseYen("¥12,000") -> 12000, nil
//	ParseYen("12.5")    -> 0, ErrInvalidAmount
func ParseYen(s string) (Yen, error) {
	v, ok := parseDigits(s)
	if !ok || v <= 0 {
		return 0, ErrInvalidAmount
	}
	return Yen(v), nil
}

// ParseBalance is ParseYen for account balances, which may be zero.
func ParseBalance(s string) (Yen, error) {
	v, ok := parseDigits(s)
	if !ok {
		return 0, ErrInvalidBalance
	}
	return Yen(v), nil
}

func parseDigits(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "¥")
	s = strings.TrimPrefix(s, "￥")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (y Yen) Validate() error {
	if y <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// String formats the amount as "¥1,234" (negative amounts as "-¥1,234").
func (y Yen) String() string {
	if y < 0 {
		return "-¥" + yenPrinter.Sprintf("%d", int64(-y))
	}
	return "¥" + yenPrinter.Sprintf("%d", int64(y))
}
