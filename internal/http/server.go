// Package http serves the ledger pages and their form endpoints.
package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	appweb "kakeibo/web"
)

// Ledger is the service behind the pages.
type Ledger interface {
	Period() core.Period
	CheckMonth(m core.CalendarMonth) error
	MonthView(ctx context.Context, m core.CalendarMonth) (core.MonthView, error)

	Entry(ctx context.Context, id int64) (core.Entry, error)
	CreateEntry(ctx context.Context, e core.Entry) (int64, error)
	UpdateEntry(ctx context.Context, e core.Entry) error
	DeleteEntry(ctx context.Context, kind core.EntryKind, id int64) error
	SetState(ctx context.Context, id int64, state core.State) error

	Template(ctx context.Context, kind core.EntryKind, name string) (core.Template, error)
	TemplateNames(ctx context.Context, kind core.EntryKind) ([]string, error)

	Methods(ctx context.Context) ([]core.Method, error)
	UpdateAccountBalance(ctx context.Context, id int64, balance core.Yen) error
	MarkMethodDone(ctx context.Context, m core.CalendarMonth, id int64) (int64, error)

	Settle(ctx context.Context, m core.CalendarMonth) (core.Settlement, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Addr      string
	Ledger    Ledger
	DB        Pinger
	NavBase   string
	Offsets   []int
	MinYear   int
	MaxYear   int
	RateLimit int
	Logger    *applog.Logger
}

type appMetrics struct {
	requests    int64
	entryWrites int64
	startedAt   time.Time
}

type Server struct {
	http.Server
	ledger    Ledger
	db        Pinger
	templates *template.Template
	base      string
	offsets   []int
	minYear   int
	maxYear   int
	logger    *applog.Logger
	access    *applog.StructuredLogger
	now       func() time.Time

	rateLimiter     *rateLimiter
	securityMetrics *securityMetrics
	appMetrics      *appMetrics
	shutdownOnce    sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run server.
func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	base := strings.TrimSuffix(opts.NavBase, "/")
	if base == "" {
		return nil, fmt.Errorf("navigation base must not be empty")
	}

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	mux := http.NewServeMux()
	s := &Server{
		ledger:          opts.Ledger,
		db:              opts.DB,
		templates:       t,
		base:            base,
		offsets:         opts.Offsets,
		minYear:         opts.MinYear,
		maxYear:         opts.MaxYear,
		logger:          logger,
		access:          applog.NewStructuredLogger(logger),
		now:             time.Now,
		rateLimiter:     newRateLimiter(opts.RateLimit),
		securityMetrics: &securityMetrics{},
		appMetrics:      &appMetrics{startedAt: time.Now()},
	}
	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           applog.Middleware(logger)(s.withRequestTracing(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.rateLimiter.startCleanup(5 * time.Minute)

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			static.ServeHTTP(w, r)
		}))
	} else {
		logger.Warn("Failed to mount embedded static FS", applog.FieldError, err.Error())
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET "+s.base+"/{$}", s.handleIndex)
	mux.HandleFunc("GET "+s.base+"/move_another_page", s.handleMoveAnotherPage)
	mux.HandleFunc("GET "+s.base+"/api/nav", s.handleNavAPI)
	mux.HandleFunc("GET "+s.base+"/templates/{kind}", s.handleTemplate)
	mux.HandleFunc("GET "+s.base+"/{year}/{month}/{page}", s.handleMonthPage)
	mux.HandleFunc("POST "+s.base+"/{year}/{month}/{action}", s.handleMonthAction)
	mux.HandleFunc("POST "+s.base+"/{year}/{month}/{id}/{action}", s.handleEntryAction)

	return s, nil
}

// Shutdown stops background routines and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withRequestTracing tags requests with an ID, applies security headers and
// write rate limiting, and logs completion.
func (s *Server) withRequestTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		atomic.AddInt64(&s.appMetrics.requests, 1)

		clientIP := extractClientIP(r)
		requestID := generateRequestID()
		ctx := applog.WithRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)

		if detectSuspiciousRequest(r, s.securityMetrics) {
			applog.FromContext(ctx).WarnContext(ctx, "Suspicious request",
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
		}

		setSecurityHeaders(w, r)
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP, s.securityMetrics) {
			rw.Header().Set("Retry-After", "60")
			http.Error(rw, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
		} else {
			next.ServeHTTP(rw, r)
		}

		s.access.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// monthBase is the URL prefix of the form endpoints of month m.
func (s *Server) monthBase(m core.CalendarMonth) string {
	return fmt.Sprintf("%s/%d/%d", s.base, m.Year, m.Month)
}

// pagePath is the URL of page for month m.
func (s *Server) pagePath(m core.CalendarMonth, page string) string {
	return s.base + m.Path(page)
}
