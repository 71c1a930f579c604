package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"ledgerdb/pkg/core"
	"ledgerdb/pkg/finance"
)

func main() {
	dir, err := os.MkdirTemp("", "ledger-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	fmt.Println("Opening ledger in", dir)
	l, err := finance.Open(core.Options{Dir: dir})
	if err != nil {
		log.Fatalf("Open failed: %v", err)
	}
	defer l.Close()

	u := &finance.User{Name: "Ada", Email: "ada@example.com"}
	must(l.CreateUser(u))
	acct := &finance.Account{UserID: u.ID, Name: "Checking", Type: finance.Checking, OpeningBalance: 250000}
	must(l.CreateAccount(acct))
	food := &finance.Category{UserID: u.ID, Name: "Food", Kind: finance.ExpenseCategory}
	must(l.CreateCategory(food))
	budget := &finance.Budget{UserID: u.ID, CategoryID: food.ID, Limit: 40000, Year: 2024, Month: 3}
	must(l.CreateBudget(budget))

	start := time.Now()
	for day := 1; day <= 10; day++ {
		must(l.CreateExpense(&finance.Expense{
			UserID:     u.ID,
			AccountID:  acct.ID,
			CategoryID: food.ID,
			Amount:     int64(2500 + day*100),
			Date:       finance.DateOf(2024, time.March, day),
			Note:       "groceries",
		}))
	}
	must(l.CreateIncome(&finance.Income{UserID: u.ID, AccountID: acct.ID, Amount: 320000, Date: finance.DateOf(2024, time.March, 1), Source: "salary"}))
	fmt.Printf("Wrote 11 entries in %v\n", time.Since(start))

	found, err := l.UserByEmail("ADA@example.com")
	must(err)
	fmt.Printf("Lookup by email: #%d %s\n", found.ID, found.Name)

	sum, err := l.MonthSummary(u.ID, 2024, 3)
	must(err)
	fmt.Printf("March 2024: spent %d, earned %d, net %d over %d expenses\n", sum.Expenses, sum.Incomes, sum.Net, sum.ExpenseCount)

	st, err := l.BudgetStatus(budget.ID)
	must(err)
	fmt.Printf("Food budget: spent %d of %d, over=%v\n", st.Spent, budget.Limit, st.Over)

	bal, err := l.AccountBalance(acct.ID)
	must(err)
	fmt.Printf("Checking balance: %d\n", bal)
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
