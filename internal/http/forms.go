package http

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"kakeibo/internal/core"
)

var validate = validator.New()

// entryForm is the payload of the create and update forms.
type entryForm struct {
	Name       string `validate:"required,max=50"`
	PayDate    string `validate:"required,datetime=2006-01-02"`
	PeriodDate string `validate:"omitempty,datetime=2006-01-02"`
	Method     string `validate:"required,max=50"`
	Amount     string `validate:"required,max=20"`
	State      int    `validate:"min=0,max=2"`
}

// formError lists the form fields that failed validation.
type formError struct {
	Fields []string
}

func (e *formError) Error() string {
	return "invalid fields: " + strings.Join(e.Fields, ", ")
}

var formFieldNames = map[string]string{
	"Name":       "name",
	"PayDate":    "pay_date",
	"PeriodDate": "period_date",
	"Method":     "method",
	"Amount":     "amount",
	"State":      "state",
}

// parseEntryForm reads and validates an entry form of the given kind.
func parseEntryForm(form url.Values, kind core.EntryKind) (core.Entry, error) {
	f := entryForm{
		Name:       sanitizeInput(form.Get("name")),
		PayDate:    sanitizeInput(form.Get("pay_date")),
		PeriodDate: sanitizeInput(form.Get("period_date")),
		Method:     sanitizeInput(form.Get("method")),
		Amount:     sanitizeInput(form.Get("amount")),
	}
	if v := strings.TrimSpace(form.Get("state")); v != "" {
		state, err := strconv.Atoi(v)
		if err != nil {
			return core.Entry{}, &formError{Fields: []string{"state"}}
		}
		f.State = state
	}

	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return core.Entry{}, fmt.Errorf("validate entry form: %w", err)
		}
		fe := &formError{}
		for _, v := range verrs {
			fe.Fields = append(fe.Fields, formFieldNames[v.Field()])
		}
		return core.Entry{}, fe
	}

	amount, err := core.ParseYen(f.Amount)
	if err != nil {
		return core.Entry{}, err
	}
	payDate, err := parseFormDate(f.PayDate)
	if err != nil {
		return core.Entry{}, &formError{Fields: []string{"pay_date"}}
	}

	e := core.Entry{
		Kind:    kind,
		Name:    f.Name,
		PayDate: payDate,
		Method:  f.Method,
		Amount:  amount,
		State:   core.State(f.State),
	}
	if f.PeriodDate != "" {
		if e.PeriodDate, err = parseFormDate(f.PeriodDate); err != nil {
			return core.Entry{}, &formError{Fields: []string{"period_date"}}
		}
	}
	return e, e.Validate()
}

func parseFormDate(s string) (core.Date, error) {
	day, err := time.Parse("2006-01-02", s)
	if err != nil {
		return core.Date{}, err
	}
	return core.NewDate(day.Year(), int(day.Month()), day.Day()), nil
}

// parseState reads the state field of a state change form.
func parseState(form url.Values) (core.State, error) {
	v, err := strconv.Atoi(strings.TrimSpace(form.Get("state")))
	if err != nil {
		return 0, &formError{Fields: []string{"state"}}
	}
	s := core.State(v)
	if err := s.Validate(); err != nil {
		return 0, err
	}
	return s, nil
}
