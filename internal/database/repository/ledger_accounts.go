package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// LedgerAccountRepo handles the chart of accounts.
type LedgerAccountRepo struct {
	db *sql.DB
}

func NewLedgerAccountRepo(db *sql.DB) *LedgerAccountRepo {
	return &LedgerAccountRepo{db: db}
}

func (r *LedgerAccountRepo) Insert(ctx context.Context, a LedgerAccount) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO ledger_accounts(id, code, name, account_type, description, created_at)
	VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, a.ID, a.Code, a.Name, a.Type, a.Description)
	return translateErr(err)
}

// GetByName returns nil when no account carries exactly name.
func (r *LedgerAccountRepo) GetByName(ctx context.Context, name string) (*LedgerAccount, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, code, name, account_type, description, created_at FROM ledger_accounts WHERE name = ?`, name)
	var a LedgerAccount
	if err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Description, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// ListByTypes returns accounts of the given types ordered by code, capped at limit (0 = no cap).
func (r *LedgerAccountRepo) ListByTypes(ctx context.Context, types []string, limit int) ([]LedgerAccount, error) {
	query := `SELECT id, code, name, account_type, description, created_at FROM ledger_accounts`
	var args []interface{}
	if len(types) > 0 {
		query += ` WHERE account_type IN (?` + strings.Repeat(", ?", len(types)-1) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	query += ` ORDER BY code`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerAccount
	for rows.Next() {
		var a LedgerAccount
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Description, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
