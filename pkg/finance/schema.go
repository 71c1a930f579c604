package finance

import (
	"ledgerdb/pkg/common"
	"ledgerdb/pkg/core"
)

const (
	UsersTable      = "users"
	CategoriesTable = "categories"
	AccountsTable   = "accounts"
	ExpensesTable   = "expenses"
	IncomesTable    = "incomes"
	BudgetsTable    = "budgets"
	TagsTable       = "tags"
)

const (
	ByEmail    = "by_email"
	ByUser     = "by_user"
	ByType     = "by_type"
	ByCategory = "by_category"
	ByAccount  = "by_account"
	ByDate     = "by_date"
	ByTag      = "by_tag"
	ByName     = "by_name"
)

// indexer adapts a typed indexing function to core.Indexer.
func indexer[T any, P interface {
	*T
	entity
}](fn func(row P, ib *core.IndexBuilder)) core.Indexer {
	return func(rec common.Record, ib *core.IndexBuilder) error {
		row, err := decode[T, P](rec)
		if err != nil {
			return err
		}
		fn(row, ib)
		return nil
	}
}

// NewSchema declares the ledger tables in their fixed order. The order is
// also the order of the counter snapshot, so new tables go at the end.
func NewSchema() *core.Schema {
	scm := core.NewSchema()

	byEmail := core.NewIndex(ByEmail)
	scm.AddTable(UsersTable, indexer(func(u *User, ib *core.IndexBuilder) {
		ib.Add(byEmail, HashEmail(u.Email))
	}), byEmail)

	catByUser := core.NewIndex(ByUser)
	scm.AddTable(CategoriesTable, indexer(func(c *Category, ib *core.IndexBuilder) {
		ib.Add(catByUser, c.UserID)
	}), catByUser)

	accByUser, accByType := core.NewIndex(ByUser), core.NewIndex(ByType)
	scm.AddTable(AccountsTable, indexer(func(a *Account, ib *core.IndexBuilder) {
		ib.Add(accByUser, a.UserID)
		ib.Add(accByType, HashAccountType(a.Type))
	}), accByUser, accByType)

	expByUser, expByCategory, expByAccount := core.NewIndex(ByUser), core.NewIndex(ByCategory), core.NewIndex(ByAccount)
	expByDate, expByTag := core.NewIndex(ByDate), core.NewIndex(ByTag)
	scm.AddTable(ExpensesTable, indexer(func(e *Expense, ib *core.IndexBuilder) {
		ib.Add(expByUser, e.UserID)
		if e.CategoryID != 0 {
			ib.Add(expByCategory, e.CategoryID)
		}
		ib.Add(expByAccount, e.AccountID)
		ib.Add(expByDate, common.KeyType(e.Date))
		for _, tag := range uniqueKeys(e.TagIDs) {
			ib.Add(expByTag, tag)
		}
	}), expByUser, expByCategory, expByAccount, expByDate, expByTag)

	incByUser, incByAccount, incByDate := core.NewIndex(ByUser), core.NewIndex(ByAccount), core.NewIndex(ByDate)
	scm.AddTable(IncomesTable, indexer(func(in *Income, ib *core.IndexBuilder) {
		ib.Add(incByUser, in.UserID)
		ib.Add(incByAccount, in.AccountID)
		ib.Add(incByDate, common.KeyType(in.Date))
	}), incByUser, incByAccount, incByDate)

	budByUser, budByCategory := core.NewIndex(ByUser), core.NewIndex(ByCategory)
	scm.AddTable(BudgetsTable, indexer(func(b *Budget, ib *core.IndexBuilder) {
		ib.Add(budByUser, b.UserID)
		ib.Add(budByCategory, b.CategoryID)
	}), budByUser, budByCategory)

	tagByUser, tagByName := core.NewIndex(ByUser), core.NewIndex(ByName)
	scm.AddTable(TagsTable, indexer(func(t *Tag, ib *core.IndexBuilder) {
		ib.Add(tagByUser, t.UserID)
		ib.Add(tagByName, HashName(t.Name))
	}), tagByUser, tagByName)

	return scm
}

func uniqueKeys(keys []common.KeyType) []common.KeyType {
	if len(keys) < 2 {
		return keys
	}
	seen := make(map[common.KeyType]bool, len(keys))
	out := make([]common.KeyType, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
