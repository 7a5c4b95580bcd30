package http

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/nav"
)

// splitAction splits "update_exp" into ("update", expense).
func splitAction(action string) (string, core.EntryKind, bool) {
	verb, suffix, ok := strings.Cut(action, "_")
	if !ok {
		return "", "", false
	}
	kind, err := core.ParseEntryKind(suffix)
	if err != nil || (suffix != "inc" && suffix != "exp") {
		return "", "", false
	}
	return verb, kind, true
}

func pageOf(kind core.EntryKind) string {
	if kind == core.KindIncome {
		return nav.PageIncome
	}
	return nav.PageExpense
}

// handleMonthAction serves POST /{year}/{month}/{action} for
// create_inc, create_exp and settle.
func (s *Server) handleMonthAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := monthFromPath(r)
	if err == nil {
		err = s.ledger.CheckMonth(m)
	}
	if err != nil {
		s.renderInvalidPage(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		ErrorResponse(http.StatusBadRequest, "invalid request body").Write(w, r)
		return
	}

	action := r.PathValue("action")
	if action == "settle" {
		st, err := s.ledger.Settle(ctx, m)
		if err != nil {
			s.writeError(w, r, "Failed to settle month", err)
			return
		}
		applog.FromContext(ctx).InfoContext(ctx, "Month settled from page",
			applog.FieldYear, m.Year,
			applog.FieldMonth, m.Month,
			"balance_yen", int64(st.Balance))
		NewResponse().Redirect(s.pagePath(m, nav.PageBalance)).Write(w, r)
		return
	}

	verb, kind, ok := splitAction(action)
	if !ok || verb != "create" {
		s.renderInvalidPage(w, r)
		return
	}

	e, err := parseEntryForm(r.PostForm, kind)
	if err != nil {
		s.writeError(w, r, "Invalid entry form", err)
		return
	}
	if _, err := s.ledger.CreateEntry(ctx, e); err != nil {
		s.writeError(w, r, "Failed to create entry", err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entryWrites, 1)

	NewResponse().
		TriggerEntryChanged(m.Year, m.Month).
		Redirect(s.pagePath(m, pageOf(kind))).
		Write(w, r)
}

// handleEntryAction serves POST /{year}/{month}/{id}/{action} for
// update_*, delete_* and state_*, plus the balance page's update_balance
// and method_done.
func (s *Server) handleEntryAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := monthFromPath(r)
	if err == nil {
		err = s.ledger.CheckMonth(m)
	}
	if err != nil {
		s.renderInvalidPage(w, r)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.renderInvalidPage(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		ErrorResponse(http.StatusBadRequest, "invalid request body").Write(w, r)
		return
	}
	switch action := r.PathValue("action"); action {
	case "update_balance", "method_done":
		s.handleBalanceAction(w, r, m, id, action)
		return
	}
	verb, kind, ok := splitAction(r.PathValue("action"))
	if !ok {
		s.renderInvalidPage(w, r)
		return
	}

	switch verb {
	case "update":
		e, perr := parseEntryForm(r.PostForm, kind)
		if perr != nil {
			s.writeError(w, r, "Invalid entry form", perr)
			return
		}
		e.ID = id
		err = s.ledger.UpdateEntry(ctx, e)
	case "delete":
		err = s.ledger.DeleteEntry(ctx, kind, id)
	case "state":
		state, perr := parseState(r.PostForm)
		if perr != nil {
			s.writeError(w, r, "Invalid state", perr)
			return
		}
		e, gerr := s.ledger.Entry(ctx, id)
		if gerr != nil {
			s.writeError(w, r, "Failed to load entry", gerr)
			return
		}
		if e.Kind != kind {
			s.renderInvalidPage(w, r)
			return
		}
		err = s.ledger.SetState(ctx, id, state)
	default:
		s.renderInvalidPage(w, r)
		return
	}
	if err != nil {
		s.writeError(w, r, "Failed to "+verb+" entry", err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entryWrites, 1)

	NewResponse().
		TriggerEntryChanged(m.Year, m.Month).
		Redirect(s.pagePath(m, pageOf(kind))).
		Write(w, r)
}

// handleBalanceAction records an account's real balance (id is the
// account) or marks a payment method's expenses done (id is the method).
func (s *Server) handleBalanceAction(w http.ResponseWriter, r *http.Request, m core.CalendarMonth, id int64, action string) {
	ctx := r.Context()
	var err error
	switch action {
	case "update_balance":
		balance, perr := core.ParseBalance(r.PostForm.Get("balance"))
		if perr != nil {
			s.writeError(w, r, "Invalid balance", perr)
			return
		}
		err = s.ledger.UpdateAccountBalance(ctx, id, balance)
	case "method_done":
		var n int64
		n, err = s.ledger.MarkMethodDone(ctx, m, id)
		if err == nil {
			applog.FromContext(ctx).InfoContext(ctx, "Method done from page",
				applog.FieldMethodID, id,
				applog.FieldYear, m.Year,
				applog.FieldMonth, m.Month,
				"entries", n)
		}
	}
	if err != nil {
		s.writeError(w, r, "Failed to "+strings.ReplaceAll(action, "_", " "), err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entryWrites, 1)

	NewResponse().
		TriggerEntryChanged(m.Year, m.Month).
		Redirect(s.pagePath(m, nav.PageBalance)).
		Write(w, r)
}

// writeError logs err and answers with the status it maps to.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	status := statusFor(err)
	logger := applog.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, msg, applog.FieldError, err.Error(), applog.FieldPath, r.URL.Path)
		ErrorResponse(status, "保存に失敗しました").Write(w, r)
		return
	}
	logger.WarnContext(ctx, msg, applog.FieldError, err.Error(), applog.FieldPath, r.URL.Path)
	ErrorResponse(status, err.Error()).Write(w, r)
}
