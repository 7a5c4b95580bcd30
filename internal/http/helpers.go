package http

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kakeibo/internal/core"
)

// monthFromPath reads the {year} and {month} path values.
func monthFromPath(r *http.Request) (core.CalendarMonth, error) {
	return parseMonth(r.PathValue("year"), r.PathValue("month"))
}

func parseMonth(yearStr, monthStr string) (core.CalendarMonth, error) {
	year, err := strconv.Atoi(strings.TrimSpace(yearStr))
	if err != nil {
		return core.CalendarMonth{}, fmt.Errorf("%w: year %q", core.ErrInvalidInput, yearStr)
	}
	month, err := strconv.Atoi(strings.TrimSpace(monthStr))
	if err != nil {
		return core.CalendarMonth{}, fmt.Errorf("%w: month %q", core.ErrInvalidInput, monthStr)
	}
	return core.NewCalendarMonth(year, month)
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
