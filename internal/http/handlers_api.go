package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/nav"
	"kakeibo/internal/storage"
)

type navLinkJSON struct {
	Offset int    `json:"offset"`
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Label  string `json:"label"`
	Href   string `json:"href"`
}

// handleNavAPI returns the navigation links of a month page as JSON.
func (s *Server) handleNavAPI(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := q.Get("page")
	if page == "" {
		page = nav.PageExpense
	}
	if !nav.ValidPage(page) {
		JSONError(http.StatusBadRequest, "unknown page").Write(w, r)
		return
	}
	m, err := parseMonth(q.Get("year"), q.Get("month"))
	if err != nil {
		JSONError(http.StatusBadRequest, err.Error()).Write(w, r)
		return
	}

	links, err := nav.Build(m, s.offsets, s.base, page)
	if err != nil {
		JSONError(http.StatusBadRequest, err.Error()).Write(w, r)
		return
	}
	out := make([]navLinkJSON, len(links))
	for i, l := range links {
		out[i] = navLinkJSON{Offset: l.Offset, Year: l.Month.Year, Month: l.Month.Month, Label: l.Label, Href: l.Href}
	}
	NewResponse().BodyJSON(map[string]any{
		"year":  m.Year,
		"month": m.Month,
		"label": m.Label(),
		"links": out,
	}).Write(w, r)
}

type templateJSON struct {
	Name       string `json:"name"`
	PayDay     int    `json:"pay_day"`
	PeriodDay  int    `json:"period_day,omitempty"`
	PayDate    string `json:"pay_date,omitempty"`
	PeriodDate string `json:"period_date,omitempty"`
	Method     string `json:"method"`
	Amount     int64  `json:"amount"`
	State      int    `json:"state"`
	Months     []int  `json:"months"`
}

// handleTemplate returns the named template for form autofill, or all
// template names of the kind when no name is given. With year and month
// the pay and period dates are resolved inside that accounting month.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, err := core.ParseEntryKind(r.PathValue("kind"))
	if err != nil {
		JSONError(http.StatusNotFound, "unknown kind").Write(w, r)
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		names, err := s.ledger.TemplateNames(ctx, kind)
		if err != nil {
			applog.FromContext(ctx).ErrorContext(ctx, "Failed to list templates", applog.FieldError, err.Error())
			JSONError(http.StatusInternalServerError, "failed to list templates").Write(w, r)
			return
		}
		if names == nil {
			names = []string{}
		}
		NewResponse().BodyJSON(map[string][]string{"names": names}).Write(w, r)
		return
	}

	t, err := s.ledger.Template(ctx, kind, name)
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(http.StatusNotFound, "template not found").Write(w, r)
		return
	}
	if err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Failed to load template", applog.FieldError, err.Error())
		JSONError(http.StatusInternalServerError, "failed to load template").Write(w, r)
		return
	}
	out := templateJSON{
		Name:      t.Name,
		PayDay:    t.PayDay,
		PeriodDay: t.PeriodDay,
		Method:    t.Method,
		Amount:    int64(t.Amount),
		State:     int(t.State),
		Months:    t.Months,
	}
	q := r.URL.Query()
	if q.Get("year") != "" || q.Get("month") != "" {
		m, err := parseMonth(q.Get("year"), q.Get("month"))
		if err != nil {
			JSONError(http.StatusBadRequest, err.Error()).Write(w, r)
			return
		}
		period := s.ledger.Period()
		if d, err := period.PayDate(m, t.PayDay); err == nil {
			out.PayDate = d.String()
		}
		if t.PeriodDay > 0 {
			if d, err := period.PayDate(m, t.PeriodDay); err == nil {
				out.PeriodDate = d.String()
			}
		}
	}
	NewResponse().BodyJSON(out).Write(w, r)
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().BodyJSON(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.startedAt).Round(time.Second).String(),
	}).Write(w, r)
}

// handleReady checks the database and templates.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]string{"templates": "ok", "database": "ok"}

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	}
	if s.db == nil {
		checks["database"] = "not_configured"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else if err := s.db.Ping(ctx); err != nil {
		checks["database"] = fmt.Sprintf("failed: %v", err)
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	}

	NewResponse().Status(httpStatus).BodyJSON(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w, r)
}

// handleMetrics exposes request and security counters in plain text.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", atomic.LoadInt64(&s.appMetrics.requests))

	fmt.Fprintf(w, "# HELP ledger_entry_writes_total Entry writes accepted through forms\n")
	fmt.Fprintf(w, "# TYPE ledger_entry_writes_total counter\n")
	fmt.Fprintf(w, "ledger_entry_writes_total %d\n\n", atomic.LoadInt64(&s.appMetrics.entryWrites))

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Requests rejected by the rate limiter\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", atomic.LoadInt64(&s.securityMetrics.rateLimitHits))

	fmt.Fprintf(w, "# HELP suspicious_requests_total Requests matching exploit patterns\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", atomic.LoadInt64(&s.securityMetrics.suspiciousRequests))

	fmt.Fprintf(w, "# HELP rate_limit_clients Clients tracked by the rate limiter\n")
	fmt.Fprintf(w, "# TYPE rate_limit_clients gauge\n")
	fmt.Fprintf(w, "rate_limit_clients %d\n", s.rateLimiter.activeClients())
}
