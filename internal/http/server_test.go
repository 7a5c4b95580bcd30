package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"kakeibo/internal/cache"
	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/nav"
	"kakeibo/internal/services"
	"kakeibo/internal/storage"
)

const testBase = "/income_and_expense"

type testEnv struct {
	srv  *Server
	svc  *services.LedgerService
	repo *storage.SQLiteRepository
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "http.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	logger := applog.New(applog.Config{Level: slog.LevelError, Output: io.Discard})
	svc := services.NewLedgerService(repo, nil, services.Options{
		Period:  core.DefaultPeriod(),
		MinYear: 2019,
		MaxYear: 2099,
		Cache:   cache.NewLRUCache[core.CalendarMonth, core.MonthView](10, time.Minute),
		Logger:  logger,
	})

	srv, err := NewServer(Options{
		Addr:      ":0",
		Ledger:    svc,
		DB:        repo,
		NavBase:   testBase,
		Offsets:   nav.DefaultOffsets,
		MinYear:   2019,
		MaxYear:   2099,
		RateLimit: rateLimit,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, svc: svc, repo: repo}
}

func (e *testEnv) do(t *testing.T, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestIndexRedirectsToCurrentMonth(t *testing.T) {
	env := newTestEnv(t, 0)

	for _, path := range []string{"/", testBase + "/"} {
		rr := env.do(t, http.MethodGet, path, nil)
		if rr.Code != http.StatusFound {
			t.Fatalf("GET %s status = %d, want 302", path, rr.Code)
		}
		if loc := rr.Header().Get("Location"); loc != testBase+"/2024/3/expense" {
			t.Errorf("GET %s Location = %q", path, loc)
		}
	}
}

func TestMonthPageRendersNavigation(t *testing.T) {
	env := newTestEnv(t, 0)

	rr := env.do(t, http.MethodGet, testBase+"/2024/1/expense", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	want := []string{
		"2024年1月",
		`href="/income_and_expense/2023/10/expense">2023年10月`,
		`href="/income_and_expense/2023/12/expense">2023年12月`,
		`href="/income_and_expense/2024/2/expense">2024年2月`,
		`href="/income_and_expense/2024/4/expense">2024年4月`,
		`value="2024-01"`,
		`action="/income_and_expense/2024/1/create_exp"`,
	}
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Errorf("body missing %q", w)
		}
	}
	if strings.Contains(body, `/2024/1/expense">2024年1月`) {
		t.Error("reference month must not be linked")
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestInvalidPages(t *testing.T) {
	env := newTestEnv(t, 0)

	paths := []string{
		testBase + "/2024/13/expense",
		testBase + "/2024/0/income",
		testBase + "/abcd/1/expense",
		testBase + "/2024/1/unknown",
		testBase + "/2150/1/balance",
		testBase + "/move_another_page?path_name=expense&year=2024&month=13",
		testBase + "/move_another_page?path_name=expense&year=3000&month=1",
		testBase + "/move_another_page?path_name=settings&year=2024&month=1",
	}
	for _, p := range paths {
		rr := env.do(t, http.MethodGet, p, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", p, rr.Code)
			continue
		}
		if !strings.Contains(rr.Body.String(), "invalid page") {
			t.Errorf("GET %s body missing 'invalid page'", p)
		}
	}
}

func TestMoveAnotherPage(t *testing.T) {
	env := newTestEnv(t, 0)

	tests := []struct {
		query string
		want  string
	}{
		{"path_name=income&year=2024&month=5", testBase + "/2024/5/income"},
		{"path_name=balance&ym=2023-12", testBase + "/2023/12/balance"},
		{"year=2025&month=1", testBase + "/2025/1/expense"},
	}
	for _, tt := range tests {
		rr := env.do(t, http.MethodGet, testBase+"/move_another_page?"+tt.query, nil)
		if rr.Code != http.StatusFound {
			t.Errorf("%s: status = %d, want 302", tt.query, rr.Code)
			continue
		}
		if loc := rr.Header().Get("Location"); loc != tt.want {
			t.Errorf("%s: Location = %q, want %q", tt.query, loc, tt.want)
		}
	}
}

func formValues(name, date, method, amount, state string) url.Values {
	return url.Values{
		"name":     {name},
		"pay_date": {date},
		"method":   {method},
		"amount":   {amount},
		"state":    {state},
	}
}

func TestCreateUpdateDeleteEntry(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	march := core.CalendarMonth{Year: 2024, Month: 3}

	rr := env.do(t, http.MethodPost, testBase+"/2024/3/create_exp", formValues("家賃", "2024-03-27", "振込", "¥80,000", "1"))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("create status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != testBase+"/2024/3/expense" {
		t.Errorf("create Location = %q", loc)
	}

	view, err := env.svc.MonthView(ctx, march)
	if err != nil {
		t.Fatalf("MonthView: %v", err)
	}
	if len(view.Expenses) != 1 || view.Expenses[0].Amount != 80000 || view.Expenses[0].State != core.StateDecided {
		t.Fatalf("expenses after create = %+v", view.Expenses)
	}
	id := view.Expenses[0].ID

	page := env.do(t, http.MethodGet, testBase+"/2024/3/expense", nil).Body.String()
	if !strings.Contains(page, "家賃") || !strings.Contains(page, "¥80,000") {
		t.Errorf("expense page missing created entry")
	}

	target := testBase + "/2024/3/" + itoa(id)
	rr = env.do(t, http.MethodPost, target+"/update_exp", formValues("家賃", "2024-03-27", "振込", "82000", "2"))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("update status = %d, body = %s", rr.Code, rr.Body.String())
	}
	e, _ := env.svc.Entry(ctx, id)
	if e.Amount != 82000 || e.State != core.StateDone {
		t.Errorf("entry after update = %+v", e)
	}

	rr = env.do(t, http.MethodPost, target+"/state_exp", url.Values{"state": {"0"}})
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("state status = %d, body = %s", rr.Code, rr.Body.String())
	}
	e, _ = env.svc.Entry(ctx, id)
	if e.State != core.StateUndecided {
		t.Errorf("state after change = %v", e.State)
	}

	// Income routes must not touch expense entries.
	rr = env.do(t, http.MethodPost, target+"/delete_inc", url.Values{})
	if rr.Code != http.StatusNotFound {
		t.Errorf("delete_inc on expense status = %d, want 404", rr.Code)
	}

	rr = env.do(t, http.MethodPost, target+"/delete_exp", url.Values{})
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("delete status = %d", rr.Code)
	}
	view, _ = env.svc.MonthView(ctx, march)
	if len(view.Expenses) != 0 {
		t.Errorf("expenses after delete = %+v", view.Expenses)
	}
}

func TestCreateEntryValidation(t *testing.T) {
	env := newTestEnv(t, 0)

	tests := []struct {
		name string
		form url.Values
		want int
	}{
		{"missing name", formValues("", "2024-03-01", "現金", "100", "0"), http.StatusUnprocessableEntity},
		{"bad date", formValues("本", "2024/03/01", "現金", "100", "0"), http.StatusUnprocessableEntity},
		{"fraction amount", formValues("本", "2024-03-01", "現金", "12.5", "0"), http.StatusUnprocessableEntity},
		{"zero amount", formValues("本", "2024-03-01", "現金", "0", "0"), http.StatusUnprocessableEntity},
		{"bad state", formValues("本", "2024-03-01", "現金", "100", "7"), http.StatusUnprocessableEntity},
		{"long name", formValues(strings.Repeat("あ", 51), "2024-03-01", "現金", "100", "0"), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, testBase+"/2024/3/create_exp", tt.form)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	rr := env.do(t, http.MethodPost, testBase+"/2024/3/create_exp", formValues("本", "2024-03-01", "現金", "100", "0"))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("first create status = %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, testBase+"/2024/3/create_exp", formValues("本", "2024-03-01", "現金", "100", "0"))
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", rr.Code)
	}
}

func TestSettleAndBalancePage(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	env.svc.CreateEntry(ctx, core.Entry{Kind: core.KindIncome, Name: "給与", PayDate: core.NewDate(2024, 2, 25), Method: "振込", Amount: 300000, State: core.StateDone})

	rr := env.do(t, http.MethodPost, testBase+"/2024/2/settle", url.Values{})
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("settle status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != testBase+"/2024/2/balance" {
		t.Errorf("settle Location = %q", loc)
	}

	body := env.do(t, http.MethodGet, testBase+"/2024/3/balance", nil).Body.String()
	if !strings.Contains(body, "¥300,000") {
		t.Errorf("March balance page missing carried balance")
	}
}

func TestAccountBalanceAndMethodDone(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	accID, err := env.repo.CreateAccount(ctx, core.Account{Bank: "三井住友", Owner: "太郎", Balance: 100000})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	methodID, err := env.repo.CreateMethod(ctx, core.Method{Name: "引き落とし", AccountID: accID})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	env.svc.CreateEntry(ctx, core.Entry{Kind: core.KindExpense, Name: "電気", PayDate: core.NewDate(2024, 3, 5), Method: "引き落とし(太郎三井住友)", Amount: 6000, State: core.StateDecided})

	body := env.do(t, http.MethodGet, testBase+"/2024/3/balance", nil).Body.String()
	for _, want := range []string{"太郎三井住友", "/" + itoa(methodID) + "/method_done", "/" + itoa(accID) + "/update_balance"} {
		if !strings.Contains(body, want) {
			t.Errorf("balance page missing %q", want)
		}
	}

	rr := env.do(t, http.MethodPost, testBase+"/2024/3/"+itoa(accID)+"/update_balance", url.Values{"balance": {"¥250,000"}})
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("update_balance status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != testBase+"/2024/3/balance" {
		t.Errorf("update_balance Location = %q", loc)
	}
	view, _ := env.svc.MonthView(ctx, core.CalendarMonth{Year: 2024, Month: 3})
	if view.AccountBalanceSum != 250000 || view.BalanceDiff != 250000 {
		t.Errorf("AccountBalanceSum=%d BalanceDiff=%d, want 250000", view.AccountBalanceSum, view.BalanceDiff)
	}

	rr = env.do(t, http.MethodPost, testBase+"/2024/3/"+itoa(methodID)+"/method_done", url.Values{})
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("method_done status = %d, body = %s", rr.Code, rr.Body.String())
	}
	view, _ = env.svc.MonthView(ctx, core.CalendarMonth{Year: 2024, Month: 3})
	if len(view.Requires) != 0 || view.BalanceDone != -6000 {
		t.Errorf("after method_done Requires=%+v BalanceDone=%d", view.Requires, view.BalanceDone)
	}

	tests := []struct {
		name   string
		target string
		form   url.Values
		want   int
	}{
		{"negative balance", itoa(accID) + "/update_balance", url.Values{"balance": {"-5"}}, http.StatusUnprocessableEntity},
		{"missing balance", itoa(accID) + "/update_balance", url.Values{}, http.StatusUnprocessableEntity},
		{"unknown account", "999/update_balance", url.Values{"balance": {"1"}}, http.StatusNotFound},
		{"unknown method", "999/method_done", url.Values{}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, testBase+"/2024/3/"+tt.target, tt.form)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestTemplateAPI(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	tpl := core.Template{Kind: core.KindExpense, Name: "家賃", PayDay: 27, Method: "振込", Amount: 80000, State: core.StateDecided, Months: []int{1, 2, 3}}
	if _, err := env.repo.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	rr := env.do(t, http.MethodGet, testBase+"/templates/exp?name="+url.QueryEscape("家賃"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got templateJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PayDay != 27 || got.Amount != 80000 || got.Method != "振込" || len(got.Months) != 3 {
		t.Errorf("template = %+v", got)
	}

	if got.PayDate != "" {
		t.Errorf("pay_date without a month = %q, want empty", got.PayDate)
	}

	card := core.Template{Kind: core.KindExpense, Name: "カード", PayDay: 10, PeriodDay: 15, Method: "引き落とし", Amount: 20000, Months: []int{3}}
	if _, err := env.repo.CreateTemplate(ctx, card); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	tests := []struct {
		name, month     string
		payDate, period string
	}{
		{"家賃", "3", "2024-03-27", ""},
		{"家賃", "1", "2024-01-27", ""},
		{"カード", "3", "2024-03-10", "2024-03-15"},
	}
	for _, tt := range tests {
		rr := env.do(t, http.MethodGet, testBase+"/templates/exp?year=2024&month="+tt.month+"&name="+url.QueryEscape(tt.name), nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s month %s status = %d", tt.name, tt.month, rr.Code)
		}
		var dated templateJSON
		if err := json.Unmarshal(rr.Body.Bytes(), &dated); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if dated.PayDate != tt.payDate || dated.PeriodDate != tt.period {
			t.Errorf("%s month %s dates = %q/%q, want %q/%q", tt.name, tt.month, dated.PayDate, dated.PeriodDate, tt.payDate, tt.period)
		}
	}

	rr = env.do(t, http.MethodGet, testBase+"/templates/exp?year=2024&month=13&name="+url.QueryEscape("家賃"), nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid month status = %d, want 400", rr.Code)
	}

	rr = env.do(t, http.MethodGet, testBase+"/templates/inc?name="+url.QueryEscape("家賃"), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("wrong kind status = %d, want 404", rr.Code)
	}

	rr = env.do(t, http.MethodGet, testBase+"/templates/expense", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "家賃") {
		t.Errorf("names = %d %s", rr.Code, rr.Body.String())
	}
}

func TestNavAPI(t *testing.T) {
	env := newTestEnv(t, 0)

	rr := env.do(t, http.MethodGet, testBase+"/api/nav?year=2024&month=1&page=income", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got struct {
		Label string        `json:"label"`
		Links []navLinkJSON `json:"links"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Label != "2024年1月" || len(got.Links) != 6 {
		t.Fatalf("nav = %+v", got)
	}
	if got.Links[2].Label != "2023年12月" || got.Links[2].Href != testBase+"/2023/12/income" {
		t.Errorf("link[2] = %+v", got.Links[2])
	}

	rr = env.do(t, http.MethodGet, testBase+"/api/nav?year=2024&month=13", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid month status = %d, want 400", rr.Code)
	}
}

func TestHealthReadyMetrics(t *testing.T) {
	env := newTestEnv(t, 0)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(t, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("%s status = %d, body = %s", path, rr.Code, rr.Body.String())
		}
	}
	rr := env.do(t, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rr.Body.String(), "http_requests_total") {
		t.Errorf("metrics body = %s", rr.Body.String())
	}
}

func TestWriteRateLimit(t *testing.T) {
	env := newTestEnv(t, 2)

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = env.do(t, http.MethodPost, testBase+"/2024/3/create_exp", formValues("本"+itoa(int64(i)), "2024-03-01", "現金", "100", "0")).Code
	}
	if codes[0] != http.StatusSeeOther || codes[1] != http.StatusSeeOther || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [303 303 429]", codes)
	}

	// Reads are not limited.
	if rr := env.do(t, http.MethodGet, testBase+"/2024/3/expense", nil); rr.Code != http.StatusOK {
		t.Errorf("GET after limit status = %d", rr.Code)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
