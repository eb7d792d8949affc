package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/bankfeed/internal/aggregator"
	"github.com/jask/bankfeed/internal/database/repository"
)

func TestSyncConnectionStagesAddedTransactions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := testCtx(t)
	h.connect(t, "item-1", "Chase")

	coffee := feedTx("tx-coffee", "acc-item-1", "2026-02-04", "4.50", "Starbucks")
	coffee.AuthorizedDate = strPtr("2026-02-03")
	coffee.MerchantName = strPtr("Starbucks")
	coffee.PaymentChannel = strPtr("in store")
	h.agg.AddPage("", aggregator.SyncPage{
		Added: []aggregator.Transaction{
			coffee,
			feedTx("tx-salary", "acc-item-1", "2026-02-05", "-1200.00", "ACME PAYROLL"),
			feedTx("tx-verify", "acc-item-1", "2026-02-05", "0.00", "CARD VERIFICATION"),
		},
		NextCursor: "c1",
	})

	res, err := h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 3, res.Added)
	require.Equal(t, 1, res.Pages)
	require.Equal(t, "c1", res.Cursor)

	checking := h.ledgerID(t, "Chase - Checking")

	got := h.tx(t, "tx-coffee")
	require.True(t, decimal.RequireFromString("-4.5").Equal(got.Amount), "expense is negative in the ledger")
	require.Equal(t, "2026-02-03", got.Date.Format(time.DateOnly))
	require.NotNil(t, got.PostDate)
	require.Equal(t, "2026-02-04", got.PostDate.Format(time.DateOnly))
	require.Equal(t, repository.SourceBankFeed, got.SourceType)
	require.Equal(t, checking, got.SourceAccountID)
	require.Equal(t, "acc-item-1", *got.ExternalAccountID)
	require.Equal(t, repository.TxPending, got.Status)
	require.Equal(t, "Starbucks", *got.Merchant)
	require.Equal(t, "Uncategorized", got.SuggestedCategory)
	require.Equal(t, "Starbucks", got.SuggestedMemo)
	require.Zero(t, got.Confidence)

	salary := h.tx(t, "tx-salary")
	require.True(t, decimal.RequireFromString("1200").Equal(salary.Amount), "income is positive in the ledger")

	verify := h.tx(t, "tx-verify")
	require.True(t, verify.Amount.IsZero())
	require.Equal(t, "0", verify.Amount.String())

	conn := h.connection(t, "item-1")
	require.Equal(t, repository.SyncSuccess, conn.SyncStatus)
	require.Equal(t, "c1", *conn.Cursor)
	require.Nil(t, conn.LastError)
	require.NotNil(t, conn.LastSyncedAt)
	require.Nil(t, conn.SyncStartedAt)
}

func TestSyncConnectionIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := testCtx(t)
	h.connect(t, "item-1", "Chase")

	added := []aggregator.Transaction{
		feedTx("tx-1", "acc-item-1", "2026-02-03", "10.00", "Uber Trip"),
		feedTx("tx-2", "acc-item-1", "2026-02-03", "25.00", "Shell"),
	}
	h.agg.AddPage("", aggregator.SyncPage{Added: added, NextCursor: "c1"})
	// the aggregator re-delivers the same records after the cursor
	h.agg.AddPage("c1", aggregator.SyncPage{Added: added, NextCursor: "c2"})

	first, err := h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 2, first.Added)

	second, err := h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	require.Zero(t, second.Added)
	require.Equal(t, 2, second.Skipped)
	require.Equal(t, 2, h.count(t))
	require.Equal(t, "c2", *h.connection(t, "item-1").Cursor)
}

func TestSyncConnectionModifiedAndRemoved(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := testCtx(t)
	h.connect(t, "item-1", "Chase")

	h.agg.AddPage("", aggregator.SyncPage{
		Added:      []aggregator.Transaction{feedTx("tx-1", "acc-item-1", "2026-02-03", "10.00", "PENDING UBER")},
		NextCursor: "c1",
	})
	_, err := h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	before := h.tx(t, "tx-1")

	modified := feedTx("tx-1", "acc-item-1", "2026-02-04", "12.35", "UBER *TRIP")
	modified.MerchantName = strPtr("Uber")
	h.agg.AddPage("c1", aggregator.SyncPage{
		Modified: []aggregator.Transaction{
			modified,
			feedTx("tx-unknown", "acc-item-1", "2026-02-04", "1.00", "ghost"),
		},
		NextCursor: "c2",
	})
	res, err := h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Modified)
	require.Equal(t, 1, res.Skipped)

	after := h.tx(t, "tx-1")
	require.True(t, decimal.RequireFromString("-12.35").Equal(after.Amount))
	require.Equal(t, "UBER *TRIP", after.Description)
	require.Equal(t, "Uber", *after.Merchant)
	require.Equal(t, "2026-02-04", after.Date.Format(time.DateOnly))
	require.Equal(t, before.SuggestedCategory, after.SuggestedCategory)
	require.Equal(t, before.SuggestedMemo, after.SuggestedMemo)
	require.Equal(t, before.Confidence, after.Confidence)
	_, err = h.txs.GetByExternalID(ctx, "tx-unknown")
	require.NoError(t, err)

	h.agg.AddPage("c2", aggregator.SyncPage{
		Removed: []aggregator.RemovedTransaction{
			{TransactionID: "tx-1", AccountID: "acc-item-1"},
			{TransactionID: "tx-never-seen", AccountID: "acc-item-1"},
		},
		NextCursor: "c3",
	})
	res, err = h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Removed)

	removed := h.tx(t, "tx-1")
	require.Equal(t, repository.TxRemoved, removed.Status)
	require.Equal(t, 1, h.count(t), "removed rows are kept")
}

func TestSyncConnectionCursorSafety(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := testCtx(t)
	h.connect(t, "item-1", "Chase")

	h.agg.AddPage("", aggregator.SyncPage{
		Added:      []aggregator.Transaction{feedTx("tx-1", "acc-item-1", "2026-02-03", "10.00", "Page One")},
		NextCursor: "c1",
		HasMore:    true,
	})
	h.agg.FailAt("c1", aggregator.Unavailable(errors.New("connection reset by peer")))

	res, err := h.engine.SyncConnection(ctx, "item-1")
	require.Error(t, err)
	var aggErr *aggregator.Error
	require.ErrorAs(t, err, &aggErr)
	require.Equal(t, aggregator.KindUnavailable, aggErr.Kind)
	require.Equal(t, 1, res.Added)
	require.Equal(t, "c1", res.Cursor)

	conn := h.connection(t, "item-1")
	require.Equal(t, repository.SyncError, conn.SyncStatus)
	require.Equal(t, "c1", *conn.Cursor, "cursor reflects the page that was persisted")
	require.NotNil(t, conn.LastError)
	require.Contains(t, *conn.LastError, "connection reset")
	require.False(t, conn.NeedsReauth)
	h.tx(t, "tx-1")

	h.agg.ClearFailure("c1")
	h.agg.AddPage("c1", aggregator.SyncPage{
		Added:      []aggregator.Transaction{feedTx("tx-2", "acc-item-1", "2026-02-04", "5.00", "Page Two")},
		NextCursor: "c2",
	})
	res, err = h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Added)

	calls := h.agg.Calls()
	require.Equal(t, "c1", calls[len(calls)-1].Cursor, "resumes from the checkpoint")
	require.Equal(t, "c2", *h.connection(t, "item-1").Cursor)
	require.Nil(t, h.connection(t, "item-1").LastError)
}

func TestSyncConnectionRecordFailureIsolation(t *testing.T) {
	t.Parallel()
	failing := &failingTransactions{fail: map[string]bool{"tx-2": true}}
	h := newHarness(t, withFailingInserts(failing))
	ctx := testCtx(t)
	h.connect(t, "item-1", "Chase")

	h.agg.AddPage("", aggregator.SyncPage{
		Added: []aggregator.Transaction{
			feedTx("tx-1", "acc-item-1", "2026-02-03", "1.00", "one"),
			feedTx("tx-2", "acc-item-1", "2026-02-03", "2.00", "two"),
			feedTx("tx-3", "acc-item-1", "2026-02-03", "3.00", "three"),
		},
		NextCursor: "c1",
	})

	res, err := h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 2, res.Added)
	require.Equal(t, 1, res.Failed)
	h.tx(t, "tx-1")
	h.tx(t, "tx-3")

	conn := h.connection(t, "item-1")
	require.Equal(t, repository.SyncSuccess, conn.SyncStatus)
	require.Nil(t, conn.Cursor, "cursor is not advanced past a page with lost records")
	require.NotNil(t, conn.LastError)

	failing.heal()
	res, err = h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Added)
	require.Equal(t, 2, res.Skipped)
	require.Equal(t, 3, h.count(t))
	require.Equal(t, "c1", *h.connection(t, "item-1").Cursor)
}

func TestSyncConnectionHeldCursorStillReadsLaterPages(t *testing.T) {
	t.Parallel()
	failing := &failingTransactions{fail: map[string]bool{"tx-1": true}}
	h := newHarness(t, withFailingInserts(failing))
	ctx := testCtx(t)
	h.connect(t, "item-1", "Chase")

	h.agg.AddPage("", aggregator.SyncPage{
		Added:      []aggregator.Transaction{feedTx("tx-1", "acc-item-1", "2026-02-03", "1.00", "one")},
		NextCursor: "c1",
		HasMore:    true,
	})
	h.agg.AddPage("c1", aggregator.SyncPage{
		Added:      []aggregator.Transaction{feedTx("tx-2", "acc-item-1", "2026-02-03", "2.00", "two")},
		NextCursor: "c2",
	})

	res, err := h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 2, res.Pages)
	require.Equal(t, 1, res.Added)
	require.Equal(t, 1, res.Failed)
	require.Empty(t, res.Cursor)
	require.Nil(t, h.connection(t, "item-1").Cursor)
	h.tx(t, "tx-2")
}

func TestSyncConnectionRejectedFlagsReauth(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := testCtx(t)
	h.connect(t, "item-1", "Chase")
	h.agg.FailAt("", &aggregator.Error{Kind: aggregator.KindRejected, Code: "ITEM_LOGIN_REQUIRED", Message: "login required"})

	_, err := h.engine.SyncConnection(ctx, "item-1")
	require.Error(t, err)
	require.True(t, aggregator.IsRejected(err))

	conn := h.connection(t, "item-1")
	require.True(t, conn.NeedsReauth)
	require.Equal(t, repository.SyncError, conn.SyncStatus)

	// re-registering the item clears the flag
	h.agg.ClearFailure("")
	h.connect(t, "item-1", "Chase")
	require.False(t, h.connection(t, "item-1").NeedsReauth)
}

func TestSyncConnectionPreconditions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := testCtx(t)

	_, err := h.engine.SyncConnection(ctx, "missing")
	require.ErrorIs(t, err, ErrConnectionNotFound)

	conn := h.connect(t, "item-1", "Chase")
	require.NoError(t, h.conns.Upsert(ctx, repository.Connection{
		ID: conn.ID, ItemID: "item-1", AccessToken: conn.AccessToken, InstitutionName: "Chase", Active: false,
	}))
	_, err = h.engine.SyncConnection(ctx, "item-1")
	require.ErrorIs(t, err, ErrConnectionInactive)
}

func TestSyncConnectionSingleFlight(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := testCtx(t)
	conn := h.connect(t, "item-1", "Chase")

	now := time.Now().UTC()
	ok, err := h.conns.BeginSync(ctx, conn.ID, now, now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.engine.SyncConnection(ctx, "item-1")
	require.ErrorIs(t, err, ErrSyncInProgress)
	require.Equal(t, repository.SyncSyncing, h.connection(t, "item-1").SyncStatus, "the running sync keeps its marker")

	require.ErrorIs(t, h.engine.ResetCursor(ctx, "item-1"), ErrSyncInProgress)
}

func TestSyncConnectionTakesOverStaleMarker(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := testCtx(t)
	conn := h.connect(t, "item-1", "Chase")

	abandoned := time.Now().UTC().Add(-2 * time.Hour)
	ok, err := h.conns.BeginSync(ctx, conn.ID, abandoned, abandoned.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, repository.SyncSuccess, h.connection(t, "item-1").SyncStatus)
}

func TestSyncConnectionCancelledMidRun(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Aggregator = &cancellingAggregator{Memory: d.Aggregator.(*aggregator.Memory), cancel: cancel}
	})
	h.connect(t, "item-1", "Chase")
	h.agg.AddPage("", aggregator.SyncPage{
		Added:      []aggregator.Transaction{feedTx("tx-1", "acc-item-1", "2026-02-03", "1.00", "one")},
		NextCursor: "c1",
		HasMore:    true,
	})

	_, err := h.engine.SyncConnection(ctx, "item-1")
	require.ErrorIs(t, err, context.Canceled)

	conn := h.connection(t, "item-1")
	require.Equal(t, repository.SyncError, conn.SyncStatus, "failure status is written despite cancellation")
	require.Nil(t, conn.Cursor)
	require.Zero(t, h.count(t))
}

func TestSyncAllIsolatesFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t,
		withOptions(func(o *Options) { o.Concurrency = 2 }),
		func(d *Deps, _ *Options) {
			d.Aggregator = &failingAggregator{Memory: d.Aggregator.(*aggregator.Memory), failToken: "access-item-b"}
		},
	)
	ctx := testCtx(t)
	for _, item := range []string{"item-a", "item-b", "item-c"} {
		h.connect(t, item, "Bank "+item)
	}
	h.agg.AddPage("", aggregator.SyncPage{NextCursor: "next"})

	results, err := h.engine.SyncAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byItem := map[string]SyncResult{}
	for _, r := range results {
		byItem[r.ItemID] = r
	}
	require.Error(t, byItem["item-b"].Err)
	require.NoError(t, byItem["item-a"].Err)
	require.NoError(t, byItem["item-c"].Err)
	require.Equal(t, repository.SyncError, h.connection(t, "item-b").SyncStatus)
	require.Equal(t, repository.SyncSuccess, h.connection(t, "item-a").SyncStatus)
	require.Equal(t, repository.SyncSuccess, h.connection(t, "item-c").SyncStatus)
	require.Equal(t, "next", *h.connection(t, "item-c").Cursor)
}

// failingAggregator fails every sync for one access token.
type failingAggregator struct {
	*aggregator.Memory
	failToken string
}

func (f *failingAggregator) TransactionsSync(ctx context.Context, req aggregator.SyncRequest) (aggregator.SyncPage, error) {
	if req.AccessToken == f.failToken {
		return aggregator.SyncPage{}, aggregator.Unavailable(errors.New("503 service unavailable"))
	}
	return f.Memory.TransactionsSync(ctx, req)
}

// cancellingAggregator cancels the caller's context once a page is served.
type cancellingAggregator struct {
	*aggregator.Memory
	cancel context.CancelFunc
}

func (c *cancellingAggregator) TransactionsSync(ctx context.Context, req aggregator.SyncRequest) (aggregator.SyncPage, error) {
	page, err := c.Memory.TransactionsSync(ctx, req)
	c.cancel()
	return page, err
}
