package http

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/nav"
	"kakeibo/internal/storage"
)

var templateFuncs = template.FuncMap{
	"states": func() []core.State {
		return []core.State{core.StateUndecided, core.StateDecided, core.StateDone}
	},
}

type pageTab struct {
	Page   string
	Title  string
	Href   string
	Active bool
}

type monthPageData struct {
	Page       string
	Title      string
	Month      core.CalendarMonth
	View       core.MonthView
	Tabs       []pageTab
	PrevLinks  []nav.Link
	NextLinks  []nav.Link
	Picker     string
	PickerPath string
	ActionBase string
	Entries    []core.Entry
	Kind       string
	Names      []string
	Methods    []string
	Templates  string
}

var pageTitles = map[string]string{
	nav.PageIncome:  "収入",
	nav.PageExpense: "支出",
	nav.PageBalance: "収支",
}

// handleIndex redirects to the expense page of the current accounting month.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	m := s.ledger.Period().Current(s.now())
	http.Redirect(w, r, s.pagePath(m, nav.PageExpense), http.StatusFound)
}

// handleMonthPage renders the income, expense or balance page of a month.
func (s *Server) handleMonthPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := r.PathValue("page")
	if !nav.ValidPage(page) {
		s.renderInvalidPage(w, r)
		return
	}
	m, err := monthFromPath(r)
	if err == nil {
		err = s.ledger.CheckMonth(m)
	}
	if err != nil {
		s.renderInvalidPage(w, r)
		return
	}

	links, err := nav.Build(m, s.offsets, s.base, page)
	if err != nil {
		s.renderInvalidPage(w, r)
		return
	}
	prev, next := nav.Split(links)

	view, err := s.ledger.MonthView(ctx, m)
	if err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Failed to load month",
			applog.FieldYear, m.Year,
			applog.FieldMonth, m.Month,
			applog.FieldError, err.Error())
		ErrorResponse(http.StatusInternalServerError, "月の読み込みに失敗しました").Write(w, r)
		return
	}

	data := monthPageData{
		Page:       page,
		Title:      m.Label() + " " + pageTitles[page],
		Month:      m,
		View:       view,
		PrevLinks:  prev,
		NextLinks:  next,
		Picker:     m.String(),
		PickerPath: s.base + "/move_another_page",
		ActionBase: s.monthBase(m),
		Templates:  s.base + "/templates",
	}
	for _, p := range []string{nav.PageIncome, nav.PageExpense, nav.PageBalance} {
		data.Tabs = append(data.Tabs, pageTab{Page: p, Title: pageTitles[p], Href: s.pagePath(m, p), Active: p == page})
	}

	var kind core.EntryKind
	switch page {
	case nav.PageIncome:
		kind, data.Entries = core.KindIncome, view.Incomes
	case nav.PageExpense:
		kind, data.Entries = core.KindExpense, view.Expenses
	}
	if kind != "" {
		data.Kind = kind.Short()
		names, err := s.ledger.TemplateNames(ctx, kind)
		if err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Failed to list template names", applog.FieldError, err.Error())
		}
		data.Names = names

		methods, err := s.ledger.Methods(ctx)
		if err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Failed to list payment methods", applog.FieldError, err.Error())
		}
		for _, m := range methods {
			data.Methods = append(data.Methods, m.Label())
		}
	}

	s.render(w, r, http.StatusOK, "month.html", data)
}

// handleMoveAnotherPage resolves the month picker to a page URL. The month
// comes from year and month, or from ym as "YYYY-MM".
func (s *Server) handleMoveAnotherPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := q.Get("path_name")
	if page == "" {
		page = nav.PageExpense
	}

	var m core.CalendarMonth
	var err error
	if ym := strings.TrimSpace(q.Get("ym")); ym != "" && q.Get("year") == "" {
		m, err = core.ParseCalendarMonth(ym)
	} else {
		m, err = parseMonth(q.Get("year"), q.Get("month"))
	}
	if err != nil {
		s.renderInvalidPage(w, r)
		return
	}

	sw := nav.Switcher{Base: s.base, MinYear: s.minYear, MaxYear: s.maxYear}
	target, err := sw.Target(page, m)
	if err != nil {
		s.renderInvalidPage(w, r)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) renderInvalidPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "error.html", struct {
		Title   string
		Message string
		Home    string
	}{Title: "invalid page", Message: "invalid page", Home: s.base + "/"})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf strings.Builder
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		ctx := r.Context()
		applog.FromContext(ctx).ErrorContext(ctx, "Template execution failed",
			applog.FieldOperation, applog.OpRender,
			"template", name,
			applog.FieldError, err.Error())
		ErrorResponse(http.StatusInternalServerError, "render failed").Write(w, r)
		return
	}
	NewResponse().Status(status).BodyHTML(buf.String()).Write(w, r)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var fe *formError
	switch {
	case errors.As(err, &fe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidAmount), errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrNameTooLong), errors.Is(err, core.ErrEmptyMethod),
		errors.Is(err, core.ErrInvalidPayDay), errors.Is(err, core.ErrInvalidState),
		errors.Is(err, core.ErrInvalidDay), errors.Is(err, core.ErrInvalidKind),
		errors.Is(err, core.ErrInvalidBalance):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
