// Package nav builds the month navigation shown on every ledger page.
//
// Pages carry a reference month and a fixed list of offsets. Build turns
// them into relabelled, re-targeted links once per render.
package nav

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"kakeibo/internal/core"
)

// DefaultOffsets are the months shown around the reference month.
var DefaultOffsets = []int{-3, -2, -1, 1, 2, 3}

var ErrInvalidOffsets = errors.New("invalid navigation offsets")

// Link is one navigation element: its visible label and its target.
type Link struct {
	Offset int
	Month  core.CalendarMonth
	Label  string
	Href   string
}

// Build computes one link per offset, in the given order. Each Href is
// base followed by "/{year}/{month}/{page}". An invalid reference month
// fails with core.ErrInvalidInput.
func Build(ref core.CalendarMonth, offsets []int, base, page string) ([]Link, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	base = strings.TrimSuffix(base, "/")
	links := make([]Link, 0, len(offsets))
	for _, off := range offsets {
		m, err := core.AddMonths(ref.Year, ref.Month, off)
		if err != nil {
			return nil, err
		}
		links = append(links, Link{
			Offset: off,
			Month:  m,
			Label:  m.Label(),
			Href:   base + m.Path(page),
		})
	}
	return links, nil
}

// Split partitions links into those before and after the reference month.
func Split(links []Link) (prev, next []Link) {
	for _, l := range links {
		if l.Offset < 0 {
			prev = append(prev, l)
		} else {
			next = append(next, l)
		}
	}
	return prev, next
}

// ParseOffsets parses a comma separated offset list such as "-3,-2,-1,1,2,3".
// Zero and duplicate offsets are rejected.
func ParseOffsets(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty list", ErrInvalidOffsets)
	}
	seen := make(map[int]bool)
	var offsets []int
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidOffsets, part)
		}
		if v == 0 {
			return nil, fmt.Errorf("%w: zero offset", ErrInvalidOffsets)
		}
		if seen[v] {
			return nil, fmt.Errorf("%w: duplicate offset %d", ErrInvalidOffsets, v)
		}
		seen[v] = true
		offsets = append(offsets, v)
	}
	return offsets, nil
}

// FormatOffsets is the inverse of ParseOffsets.
func FormatOffsets(offsets []int) string {
	parts := make([]string, len(offsets))
	for i, v := range offsets {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
