package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/bankfeed/internal/database/repository"
)

// ConnectionStore persists connections and their sync state.
type ConnectionStore interface {
	Upsert(ctx context.Context, c repository.Connection) error
	GetByItemID(ctx context.Context, itemID string) (*repository.Connection, error)
	ListActive(ctx context.Context) ([]repository.Connection, error)
	BeginSync(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)
	SaveCursor(ctx context.Context, id, cursor string) error
	FinishSync(ctx context.Context, id string, status repository.SyncStatus, lastError *string, syncedAt *time.Time) error
	SetNeedsReauth(ctx context.Context, id string, needs bool) error
	ResetCursor(ctx context.Context, id string) error
}

type ExternalAccountStore interface {
	Upsert(ctx context.Context, a repository.ExternalAccount) error
	GetByExternalID(ctx context.Context, externalID string) (*repository.ExternalAccount, error)
	ListByConnection(ctx context.Context, connectionID string) ([]repository.ExternalAccount, error)
	UpdateBalances(ctx context.Context, externalID string, current, available decimal.NullDecimal, currency *string, at time.Time) error
}

type LedgerAccountStore interface {
	Insert(ctx context.Context, a repository.LedgerAccount) error
	GetByName(ctx context.Context, name string) (*repository.LedgerAccount, error)
	ListByTypes(ctx context.Context, types []string, limit int) ([]repository.LedgerAccount, error)
}

// TransactionStore persists staged ledger transactions. Insert must return
// an error wrapping repository.ErrDuplicate when the external id exists.
type TransactionStore interface {
	Insert(ctx context.Context, t repository.Transaction) error
	Get(ctx context.Context, id string) (*repository.Transaction, error)
	GetByExternalID(ctx context.Context, externalID string) (*repository.Transaction, error)
	UpdateFromFeed(ctx context.Context, id string, u repository.FeedUpdate) error
	UpdateStatus(ctx context.Context, id string, status repository.TxStatus) error
	SetDuplicate(ctx context.Context, id string, dupOf *string) error
	FindByDateAmount(ctx context.Context, date time.Time, amount decimal.Decimal) ([]repository.Transaction, error)
	List(ctx context.Context, f repository.TransactionFilters) ([]repository.Transaction, error)
}

type RuleStore interface {
	Insert(ctx context.Context, cr repository.CategorizationRule) error
	ListActive(ctx context.Context) ([]repository.CategorizationRule, error)
	IncrementHitCount(ctx context.Context, id string) error
}

// CredentialCipher seals access credentials at rest. See secrets.Sealer.
type CredentialCipher interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// SQLiteStores wires the repository implementations onto db.
func SQLiteStores(db *sql.DB) Deps {
	return Deps{
		Connections:  repository.NewConnectionRepo(db),
		Accounts:     repository.NewExternalAccountRepo(db),
		Ledger:       repository.NewLedgerAccountRepo(db),
		Transactions: repository.NewTransactionRepo(db),
		Rules:        repository.NewRuleRepo(db),
	}
}
