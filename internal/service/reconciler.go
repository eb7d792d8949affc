package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jask/bankfeed/internal/aggregator"
	"github.com/jask/bankfeed/internal/database/repository"
)

// PageResult counts what happened to one page of deltas.
type PageResult struct {
	Added      int
	Modified   int
	Removed    int
	Skipped    int
	Failed     int
	Duplicates int
}

// syncScope is per-run state shared across pages.
type syncScope struct {
	conn  *repository.Connection
	token string
	// accountsRefreshed is set once the account list has been re-fetched
	// for an unknown external account.
	accountsRefreshed bool
}

// Reconciler applies aggregator deltas to the staging ledger.
type Reconciler struct {
	accounts     ExternalAccountStore
	transactions TransactionStore
	aggregator   aggregator.Client
	detector     *DuplicateDetector
	categorizer  *Categorizer
	resolver     *AccountResolver
	log          *slog.Logger
}

// ReconcilePage applies added, then modified, then removed deltas. A record
// that fails to persist is logged and counted; the page carries on. Only
// context cancellation aborts the page.
func (r *Reconciler) ReconcilePage(ctx context.Context, scope *syncScope, page aggregator.SyncPage) (PageResult, error) {
	var res PageResult
	log := r.log.With("item_id", scope.conn.ItemID)

	for _, tx := range page.Added {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, err := r.applyAdded(ctx, scope, tx)
		switch {
		case err != nil:
			res.Failed++
			log.Error("persist added transaction", "transaction_id", tx.TransactionID, "err", err)
		case outcome == outcomeSkipped:
			res.Skipped++
		case outcome == outcomeDuplicate:
			res.Added++
			res.Duplicates++
		default:
			res.Added++
		}
	}

	for _, tx := range page.Modified {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, err := r.applyModified(ctx, tx)
		switch {
		case err != nil:
			res.Failed++
			log.Error("persist modified transaction", "transaction_id", tx.TransactionID, "err", err)
		case outcome == outcomeSkipped:
			res.Skipped++
			log.Warn("modified transaction not found; skipping", "transaction_id", tx.TransactionID)
		default:
			res.Modified++
		}
	}

	for _, rm := range page.Removed {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, err := r.applyRemoved(ctx, rm)
		switch {
		case err != nil:
			res.Failed++
			log.Error("persist removed transaction", "transaction_id", rm.TransactionID, "err", err)
		case outcome == outcomeApplied:
			res.Removed++
		}
	}
	return res, nil
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeSkipped
	outcomeDuplicate
)

func (r *Reconciler) applyAdded(ctx context.Context, scope *syncScope, tx aggregator.Transaction) (outcome, error) {
	existing, err := r.transactions.GetByExternalID(ctx, tx.TransactionID)
	if err != nil {
		return 0, fmt.Errorf("lookup: %w", err)
	}
	if existing != nil {
		return outcomeSkipped, nil
	}

	ext, err := r.externalAccount(ctx, scope, tx.AccountID)
	if err != nil {
		return 0, err
	}
	ledgerID, err := r.resolver.Resolve(ctx, scope.conn.InstitutionName, *ext)
	if err != nil {
		return 0, fmt.Errorf("resolve ledger account: %w", err)
	}

	fields, err := feedFields(tx)
	if err != nil {
		return 0, err
	}
	t := repository.Transaction{
		ID:                uuid.NewString(),
		ExternalID:        tx.TransactionID,
		SourceType:        repository.SourceBankFeed,
		SourceAccountID:   ledgerID,
		ExternalAccountID: &ext.ExternalID,
		Amount:            fields.Amount,
		Date:              fields.Date,
		PostDate:          fields.PostDate,
		Description:       fields.Description,
		Merchant:          fields.Merchant,
		ExternalCategory:  fields.ExternalCategory,
		PaymentChannel:    fields.PaymentChannel,
		Status:            repository.TxPending,
	}

	dup, err := r.detector.Find(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("duplicate check: %w", err)
	}
	if dup != nil {
		t.IsPotentialDuplicate = true
		t.DuplicateOfID = &dup.ID
	}

	s := r.categorizer.Categorize(ctx, CategorizeInput{
		Description:      t.Description,
		Merchant:         t.Merchant,
		Amount:           t.Amount,
		ExternalCategory: t.ExternalCategory,
	})
	t.SuggestedAccountID = s.AccountID
	t.SuggestedCategory = s.Category
	t.SuggestedMemo = s.Memo
	t.Confidence = s.Confidence

	if err := r.transactions.Insert(ctx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// a concurrent delivery won the insert
			return outcomeSkipped, nil
		}
		return 0, fmt.Errorf("insert: %w", err)
	}
	if dup != nil {
		return outcomeDuplicate, nil
	}
	return outcomeApplied, nil
}

func (r *Reconciler) applyModified(ctx context.Context, tx aggregator.Transaction) (outcome, error) {
	existing, err := r.transactions.GetByExternalID(ctx, tx.TransactionID)
	if err != nil {
		return 0, fmt.Errorf("lookup: %w", err)
	}
	if existing == nil {
		return outcomeSkipped, nil
	}
	fields, err := feedFields(tx)
	if err != nil {
		return 0, err
	}
	if err := r.transactions.UpdateFromFeed(ctx, existing.ID, fields); err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}
	return outcomeApplied, nil
}

func (r *Reconciler) applyRemoved(ctx context.Context, rm aggregator.RemovedTransaction) (outcome, error) {
	existing, err := r.transactions.GetByExternalID(ctx, rm.TransactionID)
	if err != nil {
		return 0, fmt.Errorf("lookup: %w", err)
	}
	if existing == nil || existing.Status == repository.TxRemoved {
		return outcomeSkipped, nil
	}
	if err := r.transactions.UpdateStatus(ctx, existing.ID, repository.TxRemoved); err != nil {
		return 0, fmt.Errorf("mark removed: %w", err)
	}
	return outcomeApplied, nil
}

// externalAccount finds the account a delta belongs to, refreshing the
// connection's account list from the aggregator at most once per run.
func (r *Reconciler) externalAccount(ctx context.Context, scope *syncScope, externalID string) (*repository.ExternalAccount, error) {
	ext, err := r.accounts.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if ext != nil {
		return ext, nil
	}
	if !scope.accountsRefreshed {
		scope.accountsRefreshed = true
		if err := refreshAccounts(ctx, r.aggregator, r.accounts, scope.conn, scope.token); err != nil {
			r.log.Warn("refresh accounts", "item_id", scope.conn.ItemID, "err", err)
		}
		ext, err = r.accounts.GetByExternalID(ctx, externalID)
		if err != nil {
			return nil, fmt.Errorf("lookup account: %w", err)
		}
	}
	if ext == nil {
		return nil, fmt.Errorf("unknown external account %s", externalID)
	}
	return ext, nil
}

// refreshAccounts upserts the aggregator's account list for conn.
func refreshAccounts(ctx context.Context, client aggregator.Client, store ExternalAccountStore, conn *repository.Connection, token string) error {
	accts, err := client.Accounts(ctx, token)
	if err != nil {
		return err
	}
	for _, a := range accts {
		if err := store.Upsert(ctx, externalAccountFrom(conn.ID, a)); err != nil {
			return fmt.Errorf("upsert account %s: %w", a.AccountID, err)
		}
	}
	return nil
}

func externalAccountFrom(connectionID string, a aggregator.Account) repository.ExternalAccount {
	typ := a.Type
	if typ == "" {
		typ = "other"
	}
	return repository.ExternalAccount{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		ExternalID:   a.AccountID,
		Name:         a.Name,
		Type:         typ,
		Subtype:      a.Subtype,
		Mask:         a.Mask,
	}
}

// feedFields maps a delta onto ledger fields. The aggregator reports money
// leaving the account as positive; the ledger stores it negative. The
// transaction date is the authorization date when known, the post date is
// the aggregator's posting date.
func feedFields(tx aggregator.Transaction) (repository.FeedUpdate, error) {
	posted, err := time.Parse(time.DateOnly, tx.Date)
	if err != nil {
		return repository.FeedUpdate{}, fmt.Errorf("parse date %q: %w", tx.Date, err)
	}
	date := posted
	if tx.AuthorizedDate != nil && *tx.AuthorizedDate != "" {
		auth, err := time.Parse(time.DateOnly, *tx.AuthorizedDate)
		if err != nil {
			return repository.FeedUpdate{}, fmt.Errorf("parse authorized date %q: %w", *tx.AuthorizedDate, err)
		}
		date = auth
	}
	return repository.FeedUpdate{
		Amount:           tx.Amount.Neg(),
		Date:             date,
		PostDate:         &posted,
		Description:      tx.Name,
		Merchant:         nonEmpty(tx.MerchantName),
		ExternalCategory: nonEmpty(tx.Category),
		PaymentChannel:   nonEmpty(tx.PaymentChannel),
	}, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
