package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// SyncStatus is the lifecycle state of a connection's sync.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncSuccess SyncStatus = "success"
	SyncError   SyncStatus = "error"
)

// TxStatus is the review lifecycle of a ledger transaction.
type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxApproved TxStatus = "approved"
	TxPosted   TxStatus = "posted"
	TxRemoved  TxStatus = "removed"
)

// SourceType identifies the channel a ledger transaction arrived through.
type SourceType string

const (
	SourceBankFeed  SourceType = "bank_feed"
	SourceStatement SourceType = "statement"
	SourceManual    SourceType = "manual"
)

// Ledger account types.
const (
	LedgerTypeBank       = "Bank"
	LedgerTypeCreditCard = "Credit Card"
	LedgerTypeExpense    = "Expense"
	LedgerTypeIncome     = "Income"
)

// Connection is one linked aggregator item.
type Connection struct {
	ID              string
	ItemID          string
	AccessToken     string // sealed; see internal/secrets
	InstitutionName string
	Cursor          *string
	SyncStatus      SyncStatus
	LastError       *string
	Active          bool
	NeedsReauth     bool
	SyncStartedAt   *time.Time
	LastSyncedAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExternalAccount is an account under a connection as reported by the aggregator.
type ExternalAccount struct {
	ID               string
	ConnectionID     string
	ExternalID       string
	Name             string
	Type             string
	Subtype          *string
	Mask             *string
	LedgerAccountID  *string // explicit user mapping
	CurrentBalance   decimal.NullDecimal
	AvailableBalance decimal.NullDecimal
	ISOCurrency      *string
	BalanceUpdatedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LedgerAccount is a chart-of-accounts entry.
type LedgerAccount struct {
	ID          string
	Code        string
	Name        string
	Type        string
	Description string
	CreatedAt   time.Time
}

// Transaction is a staged ledger transaction.
type Transaction struct {
	ID                   string
	ExternalID           string
	SourceType           SourceType
	SourceAccountID      string
	ExternalAccountID    *string
	Amount               decimal.Decimal
	Date                 time.Time
	PostDate             *time.Time
	Description          string
	Merchant             *string
	ExternalCategory     *string
	PaymentChannel       *string
	SuggestedAccountID   *string
	SuggestedCategory    string
	SuggestedMemo        string
	Confidence           int
	IsPotentialDuplicate bool
	DuplicateOfID        *string
	Status               TxStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// FeedUpdate carries the fields a "modified" delta may overwrite.
type FeedUpdate struct {
	Amount           decimal.Decimal
	Date             time.Time
	PostDate         *time.Time
	Description      string
	Merchant         *string
	ExternalCategory *string
	PaymentChannel   *string
}

// CategorizationRule maps a description/merchant pattern to a ledger account.
type CategorizationRule struct {
	ID              string
	MatchField      string
	MatchType       string
	MatchValue      string
	TargetAccountID *string
	Category        string
	Priority        int
	Active          bool
	HitCount        int
	CreatedAt       time.Time
}
