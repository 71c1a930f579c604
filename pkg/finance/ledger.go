package finance

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"ledgerdb/pkg/common"
	"ledgerdb/pkg/core"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalid    = errors.New("invalid")
	ErrEmailTaken = errors.New("email already registered")
	ErrTagExists  = errors.New("tag already exists")
	ErrInUse      = errors.New("still referenced")
)

// Ledger is the personal-finance model on top of a core.Store opened with
// NewSchema.
type Ledger struct {
	store      *core.Store
	users      *core.Table
	categories *core.Table
	accounts   *core.Table
	expenses   *core.Table
	incomes    *core.Table
	budgets    *core.Table
	tags       *core.Table

	// uniqueMu serializes uniqueness checks with the writes they guard.
	uniqueMu sync.Mutex
}

// Open opens a store with the ledger schema.
func Open(opt core.Options) (*Ledger, error) {
	store, err := core.Open(NewSchema(), opt)
	if err != nil {
		return nil, err
	}
	l, err := New(store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return l, nil
}

func New(store *core.Store) (*Ledger, error) {
	l := &Ledger{store: store}
	for name, dst := range map[string]**core.Table{
		UsersTable:      &l.users,
		CategoriesTable: &l.categories,
		AccountsTable:   &l.accounts,
		ExpensesTable:   &l.expenses,
		IncomesTable:    &l.incomes,
		BudgetsTable:    &l.budgets,
		TagsTable:       &l.tags,
	} {
		t, err := store.Table(name)
		if err != nil {
			return nil, err
		}
		*dst = t
	}
	return l, nil
}

func (l *Ledger) Store() *core.Store {
	return l.store
}

func (l *Ledger) Close() error {
	return l.store.Close()
}

func notFound(tbl *core.Table, id common.KeyType) error {
	return fmt.Errorf("%s %d: %w", tbl.Name(), id, ErrNotFound)
}

func getEntity[T any, P interface {
	*T
	entity
}](tbl *core.Table, id common.KeyType) (P, error) {
	val, ok := tbl.Get(id)
	if !ok {
		return nil, notFound(tbl, id)
	}
	return decode[T, P](common.Record{Key: id, Value: val})
}

func insertEntity(tbl *core.Table, e entity) error {
	if err := e.validate(); err != nil {
		return err
	}
	k, err := tbl.Insert(encode(e))
	if err != nil {
		return err
	}
	e.setKey(k)
	return nil
}

func updateEntity(tbl *core.Table, e entity) error {
	if err := e.validate(); err != nil {
		return err
	}
	ok, err := tbl.Update(e.key(), encode(e))
	if err != nil {
		return err
	}
	if !ok {
		return notFound(tbl, e.key())
	}
	return nil
}

func deleteEntity(tbl *core.Table, id common.KeyType) error {
	ok, err := tbl.Delete(id)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(tbl, id)
	}
	return nil
}

func decodeAll[T any, P interface {
	*T
	entity
}](recs []common.Record) ([]P, error) {
	out := make([]P, 0, len(recs))
	for _, rec := range recs {
		p, err := decode[T, P](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// lookupEntities resolves a secondary lookup to entities in key order.
func lookupEntities[T any, P interface {
	*T
	entity
}](tbl *core.Table, index string, hash common.KeyType) ([]P, error) {
	recs, err := tbl.LookupRecords(index, hash)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Key < recs[j].Key })
	return decodeAll[T, P](recs)
}

func (l *Ledger) requireUser(id common.KeyType) error {
	if _, ok := l.users.Get(id); !ok {
		return fmt.Errorf("%w: user %d does not exist", ErrInvalid, id)
	}
	return nil
}

func (l *Ledger) CreateUser(u *User) error {
	if err := u.validate(); err != nil {
		return err
	}
	l.uniqueMu.Lock()
	defer l.uniqueMu.Unlock()
	if _, err := l.UserByEmail(u.Email); err == nil {
		return fmt.Errorf("%w: %s", ErrEmailTaken, u.Email)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return insertEntity(l.users, u)
}

func (l *Ledger) GetUser(id common.KeyType) (*User, error) {
	return getEntity[User](l.users, id)
}

func (l *Ledger) UpdateUser(u *User) error {
	if err := u.validate(); err != nil {
		return err
	}
	l.uniqueMu.Lock()
	defer l.uniqueMu.Unlock()
	other, err := l.UserByEmail(u.Email)
	if err == nil && other.ID != u.ID {
		return fmt.Errorf("%w: %s", ErrEmailTaken, u.Email)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return updateEntity(l.users, u)
}

// DeleteUser removes a user together with everything the user owns.
func (l *Ledger) DeleteUser(id common.KeyType) error {
	if err := l.requireUser(id); err != nil {
		return notFound(l.users, id)
	}
	for _, tbl := range []*core.Table{l.expenses, l.incomes, l.budgets, l.tags, l.accounts, l.categories} {
		keys, err := tbl.Lookup(ByUser, id)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := tbl.Delete(k); err != nil {
				return err
			}
		}
	}
	return deleteEntity(l.users, id)
}

// UserByEmail finds a user by email, case-insensitively. The index is keyed
// by a hash of the email, so candidates are compared in full.
func (l *Ledger) UserByEmail(email string) (*User, error) {
	want := normalizeEmail(email)
	candidates, err := lookupEntities[User](l.users, ByEmail, HashEmail(want))
	if err != nil {
		return nil, err
	}
	for _, u := range candidates {
		if normalizeEmail(u.Email) == want {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", email, ErrNotFound)
}

func (l *Ledger) Users() ([]*User, error) {
	return decodeAll[User](l.users.All())
}

func (l *Ledger) CreateCategory(c *Category) error {
	if err := l.requireUser(c.UserID); err != nil {
		return err
	}
	return insertEntity(l.categories, c)
}

func (l *Ledger) GetCategory(id common.KeyType) (*Category, error) {
	return getEntity[Category](l.categories, id)
}

func (l *Ledger) UpdateCategory(c *Category) error {
	old, err := l.GetCategory(c.ID)
	if err != nil {
		return err
	}
	c.UserID = old.UserID
	return updateEntity(l.categories, c)
}

// DeleteCategory refuses to remove a category that expenses or budgets
// still point at.
func (l *Ledger) DeleteCategory(id common.KeyType) error {
	if err := unreferenced("category", id, reference{l.expenses, ByCategory}, reference{l.budgets, ByCategory}); err != nil {
		return err
	}
	return deleteEntity(l.categories, id)
}

func (l *Ledger) CategoriesByUser(userID common.KeyType) ([]*Category, error) {
	return lookupEntities[Category](l.categories, ByUser, userID)
}

// ownedCategory checks that a category exists and belongs to userID.
func (l *Ledger) ownedCategory(userID, id common.KeyType) (*Category, error) {
	c, err := l.GetCategory(id)
	if err != nil {
		return nil, fmt.Errorf("%w: category %d does not exist", ErrInvalid, id)
	}
	if c.UserID != userID {
		return nil, fmt.Errorf("%w: category %d belongs to another user", ErrInvalid, id)
	}
	return c, nil
}

func (l *Ledger) CreateAccount(a *Account) error {
	if err := l.requireUser(a.UserID); err != nil {
		return err
	}
	return insertEntity(l.accounts, a)
}

func (l *Ledger) GetAccount(id common.KeyType) (*Account, error) {
	return getEntity[Account](l.accounts, id)
}

// UpdateAccount rewrites an account. Changing its type moves it between
// by_type buckets.
func (l *Ledger) UpdateAccount(a *Account) error {
	old, err := l.GetAccount(a.ID)
	if err != nil {
		return err
	}
	a.UserID = old.UserID
	return updateEntity(l.accounts, a)
}

// DeleteAccount refuses to remove an account that expenses or incomes still
// point at.
func (l *Ledger) DeleteAccount(id common.KeyType) error {
	if err := unreferenced("account", id, reference{l.expenses, ByAccount}, reference{l.incomes, ByAccount}); err != nil {
		return err
	}
	return deleteEntity(l.accounts, id)
}

type reference struct {
	table *core.Table
	index string
}

func unreferenced(what string, id common.KeyType, refs ...reference) error {
	for _, r := range refs {
		keys, err := r.table.Lookup(r.index, id)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			return fmt.Errorf("%w: %s %d is used by %d %s", ErrInUse, what, id, len(keys), r.table.Name())
		}
	}
	return nil
}

func (l *Ledger) AccountsByUser(userID common.KeyType) ([]*Account, error) {
	return lookupEntities[Account](l.accounts, ByUser, userID)
}

// AccountsByType returns the accounts of one user with the given type.
func (l *Ledger) AccountsByType(userID common.KeyType, t AccountType) ([]*Account, error) {
	candidates, err := lookupEntities[Account](l.accounts, ByType, HashAccountType(t))
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, a := range candidates {
		if a.UserID == userID && a.Type == t {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *Ledger) ownedAccount(userID, id common.KeyType) (*Account, error) {
	a, err := l.GetAccount(id)
	if err != nil {
		return nil, fmt.Errorf("%w: account %d does not exist", ErrInvalid, id)
	}
	if a.UserID != userID {
		return nil, fmt.Errorf("%w: account %d belongs to another user", ErrInvalid, id)
	}
	return a, nil
}

func (l *Ledger) checkExpense(e *Expense) error {
	if err := l.requireUser(e.UserID); err != nil {
		return err
	}
	if _, err := l.ownedAccount(e.UserID, e.AccountID); err != nil {
		return err
	}
	if e.CategoryID != 0 {
		if _, err := l.ownedCategory(e.UserID, e.CategoryID); err != nil {
			return err
		}
	}
	e.TagIDs = uniqueKeys(e.TagIDs)
	for _, id := range e.TagIDs {
		t, err := l.GetTag(id)
		if err != nil || t.UserID != e.UserID {
			return fmt.Errorf("%w: tag %d is not one of the user's tags", ErrInvalid, id)
		}
	}
	return nil
}

func (l *Ledger) CreateExpense(e *Expense) error {
	if err := l.checkExpense(e); err != nil {
		return err
	}
	return insertEntity(l.expenses, e)
}

func (l *Ledger) GetExpense(id common.KeyType) (*Expense, error) {
	return getEntity[Expense](l.expenses, id)
}

func (l *Ledger) UpdateExpense(e *Expense) error {
	old, err := l.GetExpense(e.ID)
	if err != nil {
		return err
	}
	e.UserID = old.UserID
	if err := l.checkExpense(e); err != nil {
		return err
	}
	return updateEntity(l.expenses, e)
}

func (l *Ledger) DeleteExpense(id common.KeyType) error {
	return deleteEntity(l.expenses, id)
}

func sortExpenses(xs []*Expense) []*Expense {
	sort.SliceStable(xs, func(i, j int) bool {
		if xs[i].Date != xs[j].Date {
			return xs[i].Date < xs[j].Date
		}
		return xs[i].ID < xs[j].ID
	})
	return xs
}

// ExpensesByUser returns all expenses of a user ordered by date.
func (l *Ledger) ExpensesByUser(userID common.KeyType) ([]*Expense, error) {
	xs, err := lookupEntities[Expense](l.expenses, ByUser, userID)
	return sortExpenses(xs), err
}

func (l *Ledger) ExpensesOnDate(userID common.KeyType, d Date) ([]*Expense, error) {
	xs, err := lookupEntities[Expense](l.expenses, ByDate, common.KeyType(d))
	if err != nil {
		return nil, err
	}
	out := xs[:0]
	for _, e := range xs {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ExpensesBetween returns a user's expenses with from <= date <= to.
func (l *Ledger) ExpensesBetween(userID common.KeyType, from, to Date) ([]*Expense, error) {
	xs, err := l.ExpensesByUser(userID)
	if err != nil {
		return nil, err
	}
	out := xs[:0]
	for _, e := range xs {
		if e.Date >= from && e.Date <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *Ledger) ExpensesByTag(tagID common.KeyType) ([]*Expense, error) {
	xs, err := lookupEntities[Expense](l.expenses, ByTag, tagID)
	return sortExpenses(xs), err
}

func (l *Ledger) ExpensesByCategory(categoryID common.KeyType) ([]*Expense, error) {
	xs, err := lookupEntities[Expense](l.expenses, ByCategory, categoryID)
	return sortExpenses(xs), err
}

func (l *Ledger) ExpensesByAccount(accountID common.KeyType) ([]*Expense, error) {
	xs, err := lookupEntities[Expense](l.expenses, ByAccount, accountID)
	return sortExpenses(xs), err
}

func (l *Ledger) checkIncome(in *Income) error {
	if err := l.requireUser(in.UserID); err != nil {
		return err
	}
	_, err := l.ownedAccount(in.UserID, in.AccountID)
	return err
}

func (l *Ledger) CreateIncome(in *Income) error {
	if err := l.checkIncome(in); err != nil {
		return err
	}
	return insertEntity(l.incomes, in)
}

func (l *Ledger) GetIncome(id common.KeyType) (*Income, error) {
	return getEntity[Income](l.incomes, id)
}

func (l *Ledger) UpdateIncome(in *Income) error {
	old, err := l.GetIncome(in.ID)
	if err != nil {
		return err
	}
	in.UserID = old.UserID
	if err := l.checkIncome(in); err != nil {
		return err
	}
	return updateEntity(l.incomes, in)
}

func (l *Ledger) DeleteIncome(id common.KeyType) error {
	return deleteEntity(l.incomes, id)
}

func sortIncomes(xs []*Income) []*Income {
	sort.SliceStable(xs, func(i, j int) bool {
		if xs[i].Date != xs[j].Date {
			return xs[i].Date < xs[j].Date
		}
		return xs[i].ID < xs[j].ID
	})
	return xs
}

func (l *Ledger) IncomesByUser(userID common.KeyType) ([]*Income, error) {
	xs, err := lookupEntities[Income](l.incomes, ByUser, userID)
	return sortIncomes(xs), err
}

func (l *Ledger) IncomesOnDate(userID common.KeyType, d Date) ([]*Income, error) {
	xs, err := lookupEntities[Income](l.incomes, ByDate, common.KeyType(d))
	if err != nil {
		return nil, err
	}
	out := xs[:0]
	for _, in := range xs {
		if in.UserID == userID {
			out = append(out, in)
		}
	}
	return out, nil
}

func (l *Ledger) checkBudget(b *Budget) error {
	if err := l.requireUser(b.UserID); err != nil {
		return err
	}
	_, err := l.ownedCategory(b.UserID, b.CategoryID)
	return err
}

func (l *Ledger) CreateBudget(b *Budget) error {
	if err := l.checkBudget(b); err != nil {
		return err
	}
	return insertEntity(l.budgets, b)
}

func (l *Ledger) GetBudget(id common.KeyType) (*Budget, error) {
	return getEntity[Budget](l.budgets, id)
}

func (l *Ledger) UpdateBudget(b *Budget) error {
	old, err := l.GetBudget(b.ID)
	if err != nil {
		return err
	}
	b.UserID = old.UserID
	if err := l.checkBudget(b); err != nil {
		return err
	}
	return updateEntity(l.budgets, b)
}

func (l *Ledger) DeleteBudget(id common.KeyType) error {
	return deleteEntity(l.budgets, id)
}

func (l *Ledger) BudgetsByUser(userID common.KeyType) ([]*Budget, error) {
	return lookupEntities[Budget](l.budgets, ByUser, userID)
}

func (l *Ledger) CreateTag(t *Tag) error {
	if err := l.requireUser(t.UserID); err != nil {
		return err
	}
	if err := t.validate(); err != nil {
		return err
	}
	l.uniqueMu.Lock()
	defer l.uniqueMu.Unlock()
	if _, err := l.TagByName(t.UserID, t.Name); err == nil {
		return fmt.Errorf("%w: %q", ErrTagExists, t.Name)
	}
	return insertEntity(l.tags, t)
}

func (l *Ledger) GetTag(id common.KeyType) (*Tag, error) {
	return getEntity[Tag](l.tags, id)
}

// UpdateTag renames a tag. The owner never changes and names stay unique
// per user.
func (l *Ledger) UpdateTag(t *Tag) error {
	old, err := l.GetTag(t.ID)
	if err != nil {
		return err
	}
	t.UserID = old.UserID
	if err := t.validate(); err != nil {
		return err
	}
	l.uniqueMu.Lock()
	defer l.uniqueMu.Unlock()
	other, err := l.TagByName(t.UserID, t.Name)
	if err == nil && other.ID != t.ID {
		return fmt.Errorf("%w: %q", ErrTagExists, t.Name)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return updateEntity(l.tags, t)
}

// DeleteTag removes a tag and detaches it from every expense carrying it.
func (l *Ledger) DeleteTag(id common.KeyType) error {
	tagged, err := l.ExpensesByTag(id)
	if err != nil {
		return err
	}
	for _, e := range tagged {
		kept := e.TagIDs[:0]
		for _, t := range e.TagIDs {
			if t != id {
				kept = append(kept, t)
			}
		}
		e.TagIDs = kept
		if err := updateEntity(l.expenses, e); err != nil {
			return err
		}
	}
	return deleteEntity(l.tags, id)
}

func (l *Ledger) TagsByUser(userID common.KeyType) ([]*Tag, error) {
	return lookupEntities[Tag](l.tags, ByUser, userID)
}

func (l *Ledger) TagByName(userID common.KeyType, name string) (*Tag, error) {
	want := normalizeName(name)
	candidates, err := lookupEntities[Tag](l.tags, ByName, HashName(want))
	if err != nil {
		return nil, err
	}
	for _, t := range candidates {
		if t.UserID == userID && normalizeName(t.Name) == want {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tag %q: %w", name, ErrNotFound)
}
