package core

import (
	"errors"
	"strings"
)

var (
	ErrInvalidBalance = errors.New("invalid balance (must be zero or more)")
	ErrEmptyBank      = errors.New("empty bank name")
	ErrEmptyOwner     = errors.New("empty account owner")
)

// Labels that name a transfer rather than a card, so the account they draw
// from is appended to the method label.
var accountSuffixedMethods = []string{"振込", "預入", "現金", "引き落とし"}

type (
	// Account is a bank account whose real balance is entered by hand and
	// compared against the ledger.
	Account struct {
		ID      int64
		Bank    string
		Owner   string
		Balance Yen
	}

	// Method is a payment method drawing from one account.
	Method struct {
		ID          int64
		Name        string
		AccountID   int64
		AccountName string
	}
)

// Name is the display name, owner followed by bank, e.g. "太郎三井住友".
func (a Account) Name() string {
	return a.Owner + a.Bank
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Bank) == "" {
		return ErrEmptyBank
	}
	if strings.TrimSpace(a.Owner) == "" {
		return ErrEmptyOwner
	}
	if a.Balance < 0 {
		return ErrInvalidBalance
	}
	return nil
}

// Label is the string stored in Entry.Method for this method:
// "引き落とし(太郎三井住友)" for transfers, the bare name otherwise.
func (m Method) Label() string {
	for _, p := range accountSuffixedMethods {
		if strings.Contains(m.Name, p) {
			return m.Name + "(" + m.AccountName + ")"
		}
	}
	return m.Name
}

func (m Method) Validate() error {
	if err := validateName(m.Name); err != nil {
		return err
	}
	if m.AccountID <= 0 {
		return errors.New("method needs an account")
	}
	return nil
}
