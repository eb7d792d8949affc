package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jask/bankfeed/internal/aggregator"
	"github.com/jask/bankfeed/internal/database/repository"
)

// SyncResult summarises one connection's sync run.
type SyncResult struct {
	ItemID     string
	Added      int
	Modified   int
	Removed    int
	Skipped    int
	Failed     int
	Duplicates int
	Pages      int
	// Cursor is the last durably checkpointed cursor.
	Cursor string
	Err    error
}

func (r *SyncResult) add(p PageResult) {
	r.Added += p.Added
	r.Modified += p.Modified
	r.Removed += p.Removed
	r.Skipped += p.Skipped
	r.Failed += p.Failed
	r.Duplicates += p.Duplicates
}

// SyncConnection pulls every pending delta for itemID and reconciles it.
// The cursor is checkpointed after each fully persisted page, so a failure
// part-way resumes from the last clean page on the next run.
func (e *Engine) SyncConnection(ctx context.Context, itemID string) (SyncResult, error) {
	res := SyncResult{ItemID: itemID}
	conn, err := e.activeConnection(ctx, itemID)
	if err != nil {
		return res, err
	}
	if conn.Cursor != nil {
		res.Cursor = *conn.Cursor
	}

	now := e.opts.Now()
	acquired, err := e.deps.Connections.BeginSync(ctx, conn.ID, now, now.Add(-e.opts.StaleAfter))
	if err != nil {
		return res, fmt.Errorf("mark syncing %s: %w", itemID, err)
	}
	if !acquired {
		return res, fmt.Errorf("%w: %s", ErrSyncInProgress, itemID)
	}

	log := e.log.With("item_id", itemID)
	log.Info("sync started", "cursor", res.Cursor)

	if err := e.runSync(ctx, log, conn, &res); err != nil {
		res.Err = err
		e.failSync(ctx, log, conn, err)
		return res, err
	}

	var lastError *string
	if res.Failed > 0 {
		msg := fmt.Sprintf("%d record(s) failed to persist; cursor held at last clean page", res.Failed)
		lastError = &msg
	}
	finished := e.opts.Now()
	if err := e.deps.Connections.FinishSync(context.WithoutCancel(ctx), conn.ID, repository.SyncSuccess, lastError, &finished); err != nil {
		res.Err = fmt.Errorf("record sync success: %w", err)
		return res, res.Err
	}
	if conn.NeedsReauth {
		if err := e.deps.Connections.SetNeedsReauth(context.WithoutCancel(ctx), conn.ID, false); err != nil {
			log.Warn("clear needs_reauth failed", "err", err)
		}
	}
	log.Info("sync finished",
		"pages", res.Pages, "added", res.Added, "modified", res.Modified, "removed", res.Removed,
		"skipped", res.Skipped, "failed", res.Failed, "duplicates", res.Duplicates)
	return res, nil
}

func (e *Engine) runSync(ctx context.Context, log *slog.Logger, conn *repository.Connection, res *SyncResult) error {
	token, err := e.accessToken(conn.AccessToken)
	if err != nil {
		return fmt.Errorf("open access credential: %w", err)
	}
	scope := &syncScope{conn: conn, token: token}

	cursor := res.Cursor
	held := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := e.deps.Aggregator.TransactionsSync(ctx, aggregator.SyncRequest{
			AccessToken: token,
			Cursor:      cursor,
			Count:       e.opts.PageSize,
		})
		if err != nil {
			return err
		}
		res.Pages++

		pr, err := e.reconciler.ReconcilePage(ctx, scope, page)
		res.add(pr)
		if err != nil {
			return err
		}

		if pr.Failed > 0 && !held {
			held = true
			log.Warn("holding cursor after record failures", "page", res.Pages, "failed", pr.Failed, "cursor", res.Cursor)
		}
		if !held && page.NextCursor != "" && page.NextCursor != res.Cursor {
			if err := e.deps.Connections.SaveCursor(ctx, conn.ID, page.NextCursor); err != nil {
				return fmt.Errorf("save cursor: %w", err)
			}
			res.Cursor = page.NextCursor
		}
		if !page.HasMore {
			return nil
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			return fmt.Errorf("aggregator reported more pages without advancing the cursor")
		}
		cursor = page.NextCursor
	}
}

func (e *Engine) failSync(ctx context.Context, log *slog.Logger, conn *repository.Connection, cause error) {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	if err := e.deps.Connections.FinishSync(ctx, conn.ID, repository.SyncError, &msg, nil); err != nil {
		log.Error("record sync failure", "err", err)
	}
	if aggregator.IsRejected(cause) {
		if err := e.deps.Connections.SetNeedsReauth(ctx, conn.ID, true); err != nil {
			log.Error("flag needs_reauth", "err", err)
		}
	}
	log.Error("sync failed", "err", cause, "rejected", aggregator.IsRejected(cause))
}

// SyncAll syncs every active connection with at most Options.Concurrency
// running at once. A failing connection never aborts the batch; its error
// is reported on its SyncResult. The returned error covers listing only.
func (e *Engine) SyncAll(ctx context.Context) ([]SyncResult, error) {
	conns, err := e.deps.Connections.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	results := make([]SyncResult, len(conns))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, c := range conns {
		g.Go(func() error {
			res, err := e.SyncConnection(ctx, c.ItemID)
			if err != nil {
				res.Err = err
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	e.log.Info("sync all finished", "connections", len(results), "failed", failed)
	return results, nil
}
