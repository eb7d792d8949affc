// Package aggregator talks to the external financial-data aggregator that
// supplies transaction deltas and account balances.
package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Client is the subset of the aggregator API the engine consumes.
type Client interface {
	// TransactionsSync returns one page of deltas after cursor. An empty
	// cursor requests full history.
	TransactionsSync(ctx context.Context, req SyncRequest) (SyncPage, error)
	// Accounts lists the accounts under an item.
	Accounts(ctx context.Context, accessToken string) ([]Account, error)
	// Balances lists the accounts under an item with freshly fetched balances.
	Balances(ctx context.Context, accessToken string) ([]Account, error)
}

type SyncRequest struct {
	AccessToken string
	Cursor      string
	Count       int
}

// SyncPage is one page of deltas. Amounts use the aggregator convention:
// positive is money leaving the account.
type SyncPage struct {
	Added      []Transaction
	Modified   []Transaction
	Removed    []RemovedTransaction
	NextCursor string
	HasMore    bool
}

type Transaction struct {
	TransactionID  string
	AccountID      string
	Date           string  // YYYY-MM-DD
	AuthorizedDate *string // YYYY-MM-DD
	Amount         decimal.Decimal
	Name           string
	MerchantName   *string
	Category       *string
	PaymentChannel *string
}

type RemovedTransaction struct {
	TransactionID string
	AccountID     string
}

type Account struct {
	AccountID string
	Name      string
	Type      string
	Subtype   *string
	Mask      *string
	Balances  Balances
}

type Balances struct {
	Current         decimal.NullDecimal
	Available       decimal.NullDecimal
	ISOCurrencyCode *string
}

// ErrorKind separates retryable outages from credential problems.
type ErrorKind int

const (
	// KindUnavailable covers network failures, timeouts, rate limits and 5xx responses.
	KindUnavailable ErrorKind = iota
	// KindRejected means the aggregator refused the credential; the item needs re-authentication.
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	default:
		return "unavailable"
	}
}

// Error is returned by Client implementations for every failed call.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Type       string
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("aggregator %s: %s: %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("aggregator %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRejected reports whether err is an aggregator credential rejection.
func IsRejected(err error) bool {
	var aggErr *Error
	return errors.As(err, &aggErr) && aggErr.Kind == KindRejected
}

// Unavailable wraps err as a retryable aggregator failure.
func Unavailable(err error) *Error {
	return &Error{Kind: KindUnavailable, Err: err}
}
