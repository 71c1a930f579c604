package finance

import (
	"fmt"
	"strconv"

	"ledgerdb/pkg/common"
)

// DecodeRecord turns a raw record of one of the ledger tables into its
// entity, for tools that walk tables generically.
func DecodeRecord(table string, rec common.Record) (any, error) {
	switch table {
	case UsersTable:
		return decode[User](rec)
	case CategoriesTable:
		return decode[Category](rec)
	case AccountsTable:
		return decode[Account](rec)
	case ExpensesTable:
		return decode[Expense](rec)
	case IncomesTable:
		return decode[Income](rec)
	case BudgetsTable:
		return decode[Budget](rec)
	case TagsTable:
		return decode[Tag](rec)
	default:
		return nil, fmt.Errorf("%w: table %q", ErrInvalid, table)
	}
}

// IndexKey converts a human-entered lookup argument into the hash key the
// index stores: emails, tag names and account types are hashed, dates become
// epoch days, anything else must be a number.
func IndexKey(index, arg string) (common.KeyType, error) {
	if n, err := strconv.ParseInt(arg, 10, 32); err == nil {
		return common.KeyType(n), nil
	}
	switch index {
	case ByEmail:
		return HashEmail(arg), nil
	case ByName:
		return HashName(arg), nil
	case ByType:
		return HashAccountType(AccountType(arg)), nil
	case ByDate:
		d, err := ParseDate(arg)
		return common.KeyType(d), err
	default:
		return 0, fmt.Errorf("%w: %s keys are numbers, got %q", ErrInvalid, index, arg)
	}
}
