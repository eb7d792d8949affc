package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionFilters defines list filters.
type TransactionFilters struct {
	Status          TxStatus
	ExcludeStatus   TxStatus
	SourceType      SourceType
	SourceAccountID string
	DuplicatesOnly  bool
	Limit           int
}

// TransactionRepo handles staged ledger transactions.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionColumns = `id, external_id, source_type, source_account_id, external_account_id, amount, date, post_date,
 description, merchant, external_category, payment_channel, suggested_account_id, suggested_category, suggested_memo,
 confidence, is_potential_duplicate, duplicate_of_id, status, created_at, updated_at`

// Insert stores a new transaction. A repeated external id yields ErrDuplicate.
func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO ledger_transactions(
	 id, external_id, source_type, source_account_id, external_account_id, amount, date, post_date,
	 description, merchant, external_category, payment_channel, suggested_account_id, suggested_category, suggested_memo,
	 confidence, is_potential_duplicate, duplicate_of_id, status, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		t.ID, t.ExternalID, t.SourceType, t.SourceAccountID, t.ExternalAccountID, t.Amount, formatDate(t.Date), formatDatePtr(t.PostDate),
		t.Description, t.Merchant, t.ExternalCategory, t.PaymentChannel, t.SuggestedAccountID, t.SuggestedCategory, t.SuggestedMemo,
		t.Confidence, t.IsPotentialDuplicate, t.DuplicateOfID, t.Status)
	return translateErr(err)
}

// GetByExternalID returns nil when no transaction carries externalID.
func (r *TransactionRepo) GetByExternalID(ctx context.Context, externalID string) (*Transaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE external_id = ?`, externalID)
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = ?`, id)
}

func (r *TransactionRepo) getOne(ctx context.Context, query string, arg string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// UpdateFromFeed overwrites the aggregator-owned fields. Suggestions and status are untouched.
func (r *TransactionRepo) UpdateFromFeed(ctx context.Context, id string, u FeedUpdate) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE ledger_transactions
	SET amount = ?, date = ?, post_date = ?, description = ?, merchant = ?, external_category = ?, payment_channel = ?,
	 updated_at = CURRENT_TIMESTAMP
	WHERE id = ?
	`, u.Amount, formatDate(u.Date), formatDatePtr(u.PostDate), u.Description, u.Merchant, u.ExternalCategory, u.PaymentChannel, id)
	return err
}

func (r *TransactionRepo) UpdateStatus(ctx context.Context, id string, status TxStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE ledger_transactions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

// SetDuplicate flags a transaction as a potential duplicate of dupOf, or clears the flag when dupOf is nil.
func (r *TransactionRepo) SetDuplicate(ctx context.Context, id string, dupOf *string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE ledger_transactions SET is_potential_duplicate = ?, duplicate_of_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, dupOf != nil, dupOf, id)
	return err
}

// FindByDateAmount returns live transactions sharing the exact date and signed amount.
func (r *TransactionRepo) FindByDateAmount(ctx context.Context, date time.Time, amount decimal.Decimal) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+transactionColumns+` FROM ledger_transactions
	WHERE date = ? AND amount = ? AND status != ?
	ORDER BY created_at, id
	`, formatDate(date), amount, TxRemoved)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]Transaction, error) {
	var where []string
	var args []interface{}

	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.ExcludeStatus != "" {
		where = append(where, "status != ?")
		args = append(args, f.ExcludeStatus)
	}
	if f.SourceType != "" {
		where = append(where, "source_type = ?")
		args = append(args, f.SourceType)
	}
	if f.SourceAccountID != "" {
		where = append(where, "source_account_id = ?")
		args = append(args, f.SourceAccountID)
	}
	if f.DuplicatesOnly {
		where = append(where, "is_potential_duplicate = 1")
	}

	query := "SELECT " + transactionColumns + " FROM ledger_transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *TransactionRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_transactions`).Scan(&n)
	return n, err
}

func collectTransactions(rows *sql.Rows) ([]Transaction, error) {
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// scanTransaction handles nullable fields for both Row and Rows.
func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var extAcct, merchant, category, channel, suggested, dupOf, postDate sql.NullString
	var date string
	if err := row.Scan(&t.ID, &t.ExternalID, &t.SourceType, &t.SourceAccountID, &extAcct, &t.Amount, &date, &postDate,
		&t.Description, &merchant, &category, &channel, &suggested, &t.SuggestedCategory, &t.SuggestedMemo,
		&t.Confidence, &t.IsPotentialDuplicate, &dupOf, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	d, err := parseDate(date)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s date: %w", t.ID, err)
	}
	t.Date = d
	if t.PostDate, err = parseDatePtr(postDate); err != nil {
		return Transaction{}, fmt.Errorf("transaction %s post_date: %w", t.ID, err)
	}
	t.ExternalAccountID = nullString(extAcct)
	t.Merchant = nullString(merchant)
	t.ExternalCategory = nullString(category)
	t.PaymentChannel = nullString(channel)
	t.SuggestedAccountID = nullString(suggested)
	t.DuplicateOfID = nullString(dupOf)
	return t, nil
}
