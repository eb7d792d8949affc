package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ExternalAccountRepo handles aggregator accounts.
type ExternalAccountRepo struct {
	db *sql.DB
}

func NewExternalAccountRepo(db *sql.DB) *ExternalAccountRepo {
	return &ExternalAccountRepo{db: db}
}

const externalAccountColumns = `id, connection_id, external_id, name, account_type, subtype, mask, ledger_account_id,
 current_balance, available_balance, iso_currency, balance_updated_at, created_at, updated_at`

// Upsert inserts or refreshes account metadata keyed by external id.
// The row id and any explicit ledger mapping survive a conflict.
func (r *ExternalAccountRepo) Upsert(ctx context.Context, a ExternalAccount) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO external_accounts(id, connection_id, external_id, name, account_type, subtype, mask, ledger_account_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(external_id) DO UPDATE SET
	 name=excluded.name,
	 account_type=excluded.account_type,
	 subtype=excluded.subtype,
	 mask=excluded.mask,
	 updated_at=CURRENT_TIMESTAMP;
	`, a.ID, a.ConnectionID, a.ExternalID, a.Name, a.Type, a.Subtype, a.Mask, a.LedgerAccountID)
	return err
}

// GetByExternalID returns nil when the account is unknown.
func (r *ExternalAccountRepo) GetByExternalID(ctx context.Context, externalID string) (*ExternalAccount, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+externalAccountColumns+` FROM external_accounts WHERE external_id = ?`, externalID)
	a, err := scanExternalAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *ExternalAccountRepo) ListByConnection(ctx context.Context, connectionID string) ([]ExternalAccount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+externalAccountColumns+` FROM external_accounts WHERE connection_id = ? ORDER BY name`, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExternalAccount
	for rows.Next() {
		a, err := scanExternalAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetLedgerAccount records an explicit user mapping.
func (r *ExternalAccountRepo) SetLedgerAccount(ctx context.Context, externalID string, ledgerAccountID *string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE external_accounts SET ledger_account_id = ?, updated_at = CURRENT_TIMESTAMP WHERE external_id = ?`, ledgerAccountID, externalID)
	return err
}

func (r *ExternalAccountRepo) UpdateBalances(ctx context.Context, externalID string, current, available decimal.NullDecimal, currency *string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE external_accounts
	SET current_balance = ?, available_balance = ?, iso_currency = ?, balance_updated_at = ?, updated_at = CURRENT_TIMESTAMP
	WHERE external_id = ?
	`, current, available, currency, at.UTC(), externalID)
	return err
}

func scanExternalAccount(row scanner) (ExternalAccount, error) {
	var a ExternalAccount
	var subtype, mask, ledger, currency sql.NullString
	var balanceAt sql.NullTime
	if err := row.Scan(&a.ID, &a.ConnectionID, &a.ExternalID, &a.Name, &a.Type, &subtype, &mask, &ledger,
		&a.CurrentBalance, &a.AvailableBalance, &currency, &balanceAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return ExternalAccount{}, err
	}
	a.Subtype = nullString(subtype)
	a.Mask = nullString(mask)
	a.LedgerAccountID = nullString(ledger)
	a.ISOCurrency = nullString(currency)
	a.BalanceUpdatedAt = nullTime(balanceAt)
	return a, nil
}
