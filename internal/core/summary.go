package core

// MethodAmount is the outstanding amount charged to one payment method.
type MethodAmount struct {
	MethodID int64 // 0 when the label matches no registered method
	Method   string
	Amount   Yen
}

// AccountAmount pairs an account with the unfinished expenses drawn from it.
type AccountAmount struct {
	Account Account
	Require Yen
}

// MonthView is everything a month page needs for one accounting month.
type MonthView struct {
	Month       CalendarMonth
	Range       DateRange
	PrevBalance Yen // closing balance of the previous month
	Incomes     []Entry
	Expenses    []Entry
	IncomeSum   Yen // PrevBalance + all incomes
	ExpenseSum  Yen
	Balance     Yen // IncomeSum - ExpenseSum
	BalanceDone Yen // PrevBalance + done incomes - done expenses
	Requires    []MethodAmount

	Accounts          []AccountAmount
	AccountBalanceSum Yen
	BalanceDiff       Yen // AccountBalanceSum - BalanceDone
}

// Summarize fills the derived totals of v from its entries and the
// registered accounts and methods. Expense method labels are matched
// against Method.Label.
func (v *MonthView) Summarize(accounts []Account, methods []Method) {
	byLabel := make(map[string]Method, len(methods))
	for _, m := range methods {
		byLabel[m.Label()] = m
	}

	v.IncomeSum = v.PrevBalance
	v.BalanceDone = v.PrevBalance
	v.ExpenseSum = 0
	for _, e := range v.Incomes {
		v.IncomeSum += e.Amount
		if e.State == StateDone {
			v.BalanceDone += e.Amount
		}
	}

	requires := map[string]Yen{}
	accountRequires := map[int64]Yen{}
	var order []string
	for _, e := range v.Expenses {
		v.ExpenseSum += e.Amount
		if e.State == StateDone {
			v.BalanceDone -= e.Amount
			continue
		}
		if _, ok := requires[e.Method]; !ok {
			order = append(order, e.Method)
		}
		requires[e.Method] += e.Amount
		if m, ok := byLabel[e.Method]; ok {
			accountRequires[m.AccountID] += e.Amount
		}
	}
	v.Balance = v.IncomeSum - v.ExpenseSum

	v.Requires = v.Requires[:0]
	for _, label := range order {
		v.Requires = append(v.Requires, MethodAmount{MethodID: byLabel[label].ID, Method: label, Amount: requires[label]})
	}

	v.Accounts = v.Accounts[:0]
	v.AccountBalanceSum = 0
	for _, a := range accounts {
		v.Accounts = append(v.Accounts, AccountAmount{Account: a, Require: accountRequires[a.ID]})
		v.AccountBalanceSum += a.Balance
	}
	v.BalanceDiff = v.AccountBalanceSum - v.BalanceDone
}
