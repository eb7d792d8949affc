package service

import (
	"context"
	"fmt"

	"github.com/jask/bankfeed/internal/aggregator"
)

type BalanceResult struct {
	ItemID       string
	AccountCount int
}

// UpdateBalances refreshes current and available balances for every
// account under itemID. Transactions and the sync cursor are not touched.
func (e *Engine) UpdateBalances(ctx context.Context, itemID string) (BalanceResult, error) {
	res := BalanceResult{ItemID: itemID}
	conn, err := e.activeConnection(ctx, itemID)
	if err != nil {
		return res, err
	}
	token, err := e.accessToken(conn.AccessToken)
	if err != nil {
		return res, fmt.Errorf("open access credential: %w", err)
	}

	accts, err := e.deps.Aggregator.Balances(ctx, token)
	if err != nil {
		if aggregator.IsRejected(err) {
			if ferr := e.deps.Connections.SetNeedsReauth(context.WithoutCancel(ctx), conn.ID, true); ferr != nil {
				e.log.Error("flag needs_reauth", "item_id", itemID, "err", ferr)
			}
		}
		return res, err
	}

	at := e.opts.Now()
	for _, a := range accts {
		if err := e.deps.Accounts.Upsert(ctx, externalAccountFrom(conn.ID, a)); err != nil {
			return res, fmt.Errorf("upsert account %s: %w", a.AccountID, err)
		}
		b := a.Balances
		if err := e.deps.Accounts.UpdateBalances(ctx, a.AccountID, b.Current, b.Available, b.ISOCurrencyCode, at); err != nil {
			return res, fmt.Errorf("update balances %s: %w", a.AccountID, err)
		}
		res.AccountCount++
	}
	e.log.Info("balances updated", "item_id", itemID, "accounts", res.AccountCount)
	return res, nil
}
