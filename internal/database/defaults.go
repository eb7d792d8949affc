package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jask/bankfeed/internal/database/repository"
)

type defaultAccount struct {
	code string
	name string
	typ  string
}

// defaultChart is the minimal income/expense chart the categorizer can target.
var defaultChart = []defaultAccount{
	{"4000", "Sales Revenue", repository.LedgerTypeIncome},
	{"4100", "Interest Income", repository.LedgerTypeIncome},
	{"4900", "Other Income", repository.LedgerTypeIncome},
	{"6000", "Advertising & Marketing", repository.LedgerTypeExpense},
	{"6100", "Bank Fees", repository.LedgerTypeExpense},
	{"6200", "Meals & Entertainment", repository.LedgerTypeExpense},
	{"6300", "Office Supplies", repository.LedgerTypeExpense},
	{"6400", "Rent", repository.LedgerTypeExpense},
	{"6500", "Software & Subscriptions", repository.LedgerTypeExpense},
	{"6600", "Travel", repository.LedgerTypeExpense},
	{"6700", "Fuel & Transportation", repository.LedgerTypeExpense},
	{"6800", "Utilities", repository.LedgerTypeExpense},
	{"6900", "Groceries", repository.LedgerTypeExpense},
}

// SeedDefaults ensures a baseline chart of accounts exists for new databases.
// It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	repo := repository.NewLedgerAccountRepo(db)
	for _, d := range defaultChart {
		existing, err := repo.GetByName(ctx, d.name)
		if err != nil {
			return fmt.Errorf("seed %s: %w", d.name, err)
		}
		if existing != nil {
			continue
		}
		acct := repository.LedgerAccount{
			ID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte("ledger:"+d.name)).String(),
			Code: d.code,
			Name: d.name,
			Type: d.typ,
		}
		if err := repo.Insert(ctx, acct); err != nil {
			return fmt.Errorf("seed %s: %w", d.name, err)
		}
	}
	return nil
}
