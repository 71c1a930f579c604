package finance

import (
	"fmt"
	"sort"
	"time"

	"ledgerdb/pkg/common"
)

type CategoryTotal struct {
	CategoryID common.KeyType `json:"category_id"`
	Name       string         `json:"name"`
	Amount     int64          `json:"amount"`
}

type MonthSummary struct {
	UserID       common.KeyType  `json:"user_id"`
	Year         int             `json:"year"`
	Month        int             `json:"month"`
	Expenses     int64           `json:"expenses"`
	Incomes      int64           `json:"incomes"`
	Net          int64           `json:"net"`
	ExpenseCount int             `json:"expense_count"`
	IncomeCount  int             `json:"income_count"`
	ByCategory   []CategoryTotal `json:"by_category"`
}

func checkPeriod(year, month int) error {
	if month < 1 || month > 12 || year < 1970 {
		return fmt.Errorf("%w: period %d-%02d", ErrInvalid, year, month)
	}
	return nil
}

// MonthSummary totals a user's expenses and incomes for one calendar month.
// Uncategorized spending is reported under category 0.
func (l *Ledger) MonthSummary(userID common.KeyType, year, month int) (*MonthSummary, error) {
	if err := checkPeriod(year, month); err != nil {
		return nil, err
	}
	if err := l.requireUser(userID); err != nil {
		return nil, err
	}
	first, last := MonthRange(year, time.Month(month))
	sum := &MonthSummary{UserID: userID, Year: year, Month: month}

	expenses, err := l.ExpensesBetween(userID, first, last)
	if err != nil {
		return nil, err
	}
	perCategory := make(map[common.KeyType]int64)
	for _, e := range expenses {
		sum.Expenses += e.Amount
		sum.ExpenseCount++
		perCategory[e.CategoryID] += e.Amount
	}

	incomes, err := l.IncomesByUser(userID)
	if err != nil {
		return nil, err
	}
	for _, in := range incomes {
		if in.Date >= first && in.Date <= last {
			sum.Incomes += in.Amount
			sum.IncomeCount++
		}
	}
	sum.Net = sum.Incomes - sum.Expenses

	for id, amount := range perCategory {
		ct := CategoryTotal{CategoryID: id, Amount: amount}
		if id != 0 {
			if c, err := l.GetCategory(id); err == nil {
				ct.Name = c.Name
			}
		}
		sum.ByCategory = append(sum.ByCategory, ct)
	}
	sort.Slice(sum.ByCategory, func(i, j int) bool {
		a, b := sum.ByCategory[i], sum.ByCategory[j]
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		return a.CategoryID < b.CategoryID
	})
	return sum, nil
}

type BudgetStatus struct {
	Budget    *Budget `json:"budget"`
	Spent     int64   `json:"spent"`
	Remaining int64   `json:"remaining"`
	Over      bool    `json:"over"`
}

// BudgetStatus compares a budget's limit with what its owner spent in the
// budget's category during the budget's month.
func (l *Ledger) BudgetStatus(id common.KeyType) (*BudgetStatus, error) {
	b, err := l.GetBudget(id)
	if err != nil {
		return nil, err
	}
	first, last := MonthRange(b.Year, time.Month(b.Month))
	expenses, err := l.ExpensesByCategory(b.CategoryID)
	if err != nil {
		return nil, err
	}
	st := &BudgetStatus{Budget: b}
	for _, e := range expenses {
		if e.UserID == b.UserID && e.Date >= first && e.Date <= last {
			st.Spent += e.Amount
		}
	}
	st.Remaining = b.Limit - st.Spent
	st.Over = st.Spent > b.Limit
	return st, nil
}

// AccountBalance is the opening balance plus incomes minus expenses booked
// on the account.
func (l *Ledger) AccountBalance(id common.KeyType) (int64, error) {
	a, err := l.GetAccount(id)
	if err != nil {
		return 0, err
	}
	balance := a.OpeningBalance
	incomes, err := lookupEntities[Income](l.incomes, ByAccount, id)
	if err != nil {
		return 0, err
	}
	for _, in := range incomes {
		balance += in.Amount
	}
	expenses, err := l.ExpensesByAccount(id)
	if err != nil {
		return 0, err
	}
	for _, e := range expenses {
		balance -= e.Amount
	}
	return balance, nil
}
