package service

import (
	"context"
	"fmt"

	"github.com/jask/bankfeed/internal/database/repository"
)

// ResetCursor forgets a connection's sync cursor so the next sync replays
// full history. Already-staged transactions are skipped on replay.
func (e *Engine) ResetCursor(ctx context.Context, itemID string) error {
	conn, err := e.deps.Connections.GetByItemID(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load connection %s: %w", itemID, err)
	}
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, itemID)
	}
	if conn.SyncStatus == repository.SyncSyncing && conn.SyncStartedAt != nil &&
		conn.SyncStartedAt.After(e.opts.Now().Add(-e.opts.StaleAfter)) {
		return fmt.Errorf("%w: %s", ErrSyncInProgress, itemID)
	}
	if err := e.deps.Connections.ResetCursor(ctx, conn.ID); err != nil {
		return fmt.Errorf("reset cursor %s: %w", itemID, err)
	}
	e.log.Info("cursor reset", "item_id", itemID)
	return nil
}
