package finance

import (
	"fmt"
	"strings"

	"ledgerdb/pkg/common"
)

// Entities are stored as msgpack arrays; the ID is the record key and is not
// part of the payload. Money amounts are integer minor units (cents).

type entity interface {
	key() common.KeyType
	setKey(k common.KeyType)
	validate() error
}

type User struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID       common.KeyType `msgpack:"-" json:"id"`
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Currency string         `json:"currency"`
}

func (u *User) key() common.KeyType     { return u.ID }
func (u *User) setKey(k common.KeyType) { u.ID = k }

func (u *User) validate() error {
	if normalizeEmail(u.Email) == "" || !strings.Contains(u.Email, "@") {
		return fmt.Errorf("%w: email %q", ErrInvalid, u.Email)
	}
	if u.Currency == "" {
		u.Currency = "USD"
	}
	return nil
}

type CategoryKind string

const (
	ExpenseCategory CategoryKind = "expense"
	IncomeCategory  CategoryKind = "income"
)

type Category struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID     common.KeyType `msgpack:"-" json:"id"`
	UserID common.KeyType `json:"user_id"`
	Name   string         `json:"name"`
	Kind   CategoryKind   `json:"kind"`
}

func (c *Category) key() common.KeyType     { return c.ID }
func (c *Category) setKey(k common.KeyType) { c.ID = k }

func (c *Category) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: category name is empty", ErrInvalid)
	}
	switch c.Kind {
	case "":
		c.Kind = ExpenseCategory
	case ExpenseCategory, IncomeCategory:
	default:
		return fmt.Errorf("%w: category kind %q", ErrInvalid, c.Kind)
	}
	return nil
}

type AccountType string

const (
	Checking AccountType = "checking"
	Savings  AccountType = "savings"
	Credit   AccountType = "credit"
	Cash     AccountType = "cash"
)

type Account struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID             common.KeyType `msgpack:"-" json:"id"`
	UserID         common.KeyType `json:"user_id"`
	Name           string         `json:"name"`
	Type           AccountType    `json:"type"`
	OpeningBalance int64          `json:"opening_balance"`
}

func (a *Account) key() common.KeyType     { return a.ID }
func (a *Account) setKey(k common.KeyType) { a.ID = k }

func (a *Account) validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: account name is empty", ErrInvalid)
	}
	switch a.Type {
	case Checking, Savings, Credit, Cash:
	default:
		return fmt.Errorf("%w: account type %q", ErrInvalid, a.Type)
	}
	return nil
}

type Expense struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID         common.KeyType   `msgpack:"-" json:"id"`
	UserID     common.KeyType   `json:"user_id"`
	AccountID  common.KeyType   `json:"account_id"`
	CategoryID common.KeyType   `json:"category_id"`
	Amount     int64            `json:"amount"`
	Date       Date             `json:"date"`
	Note       string           `json:"note,omitempty"`
	TagIDs     []common.KeyType `json:"tag_ids,omitempty"`
}

func (e *Expense) key() common.KeyType     { return e.ID }
func (e *Expense) setKey(k common.KeyType) { e.ID = k }

func (e *Expense) validate() error {
	if e.Amount <= 0 {
		return fmt.Errorf("%w: expense amount %d", ErrInvalid, e.Amount)
	}
	return nil
}

type Income struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID        common.KeyType `msgpack:"-" json:"id"`
	UserID    common.KeyType `json:"user_id"`
	AccountID common.KeyType `json:"account_id"`
	Amount    int64          `json:"amount"`
	Date      Date           `json:"date"`
	Source    string         `json:"source,omitempty"`
}

func (in *Income) key() common.KeyType     { return in.ID }
func (in *Income) setKey(k common.KeyType) { in.ID = k }

func (in *Income) validate() error {
	if in.Amount <= 0 {
		return fmt.Errorf("%w: income amount %d", ErrInvalid, in.Amount)
	}
	return nil
}

// Budget caps the spending in one category for one calendar month.
type Budget struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID         common.KeyType `msgpack:"-" json:"id"`
	UserID     common.KeyType `json:"user_id"`
	CategoryID common.KeyType `json:"category_id"`
	Limit      int64          `json:"limit"`
	Year       int            `json:"year"`
	Month      int            `json:"month"`
}

func (b *Budget) key() common.KeyType     { return b.ID }
func (b *Budget) setKey(k common.KeyType) { b.ID = k }

func (b *Budget) validate() error {
	if b.Limit <= 0 {
		return fmt.Errorf("%w: budget limit %d", ErrInvalid, b.Limit)
	}
	if b.Month < 1 || b.Month > 12 || b.Year < 1970 {
		return fmt.Errorf("%w: budget period %d-%02d", ErrInvalid, b.Year, b.Month)
	}
	return nil
}

type Tag struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID     common.KeyType `msgpack:"-" json:"id"`
	UserID common.KeyType `json:"user_id"`
	Name   string         `json:"name"`
}

func (t *Tag) key() common.KeyType     { return t.ID }
func (t *Tag) setKey(k common.KeyType) { t.ID = k }

func (t *Tag) validate() error {
	if normalizeName(t.Name) == "" {
		return fmt.Errorf("%w: tag name is empty", ErrInvalid)
	}
	return nil
}
