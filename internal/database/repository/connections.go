package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ConnectionRepo handles aggregator connections.
type ConnectionRepo struct {
	db *sql.DB
}

func NewConnectionRepo(db *sql.DB) *ConnectionRepo { return &ConnectionRepo{db: db} }

const connectionColumns = `id, item_id, access_token, institution_name, cursor, sync_status, last_error,
 active, needs_reauth, sync_started_at, last_synced_at, created_at, updated_at`

// Upsert registers a connection, keyed by item id. Cursor and sync state are kept on conflict.
func (r *ConnectionRepo) Upsert(ctx context.Context, c Connection) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO connections(id, item_id, access_token, institution_name, active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(item_id) DO UPDATE SET
	 access_token=excluded.access_token,
	 institution_name=excluded.institution_name,
	 active=excluded.active,
	 needs_reauth=0,
	 updated_at=CURRENT_TIMESTAMP;
	`, c.ID, c.ItemID, c.AccessToken, c.InstitutionName, c.Active)
	return err
}

// GetByItemID returns nil when no connection exists for itemID.
func (r *ConnectionRepo) GetByItemID(ctx context.Context, itemID string) (*Connection, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM connections WHERE item_id = ?`, itemID)
	c, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *ConnectionRepo) ListActive(ctx context.Context) ([]Connection, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+connectionColumns+` FROM connections WHERE active = 1 ORDER BY institution_name, item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// BeginSync marks a connection as syncing unless another sync holds the marker.
// A marker older than staleBefore is considered abandoned and is taken over.
// It reports whether the marker was acquired.
func (r *ConnectionRepo) BeginSync(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
	UPDATE connections
	SET sync_status = ?, sync_started_at = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND (sync_status != ? OR sync_started_at IS NULL OR sync_started_at < ?)
	`, SyncSyncing, now.UTC(), id, SyncSyncing, staleBefore.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SaveCursor checkpoints the sync cursor.
func (r *ConnectionRepo) SaveCursor(ctx context.Context, id, cursor string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE connections SET cursor = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, cursor, id)
	return err
}

// FinishSync records the terminal status of a sync run. syncedAt is only written when non-nil.
func (r *ConnectionRepo) FinishSync(ctx context.Context, id string, status SyncStatus, lastError *string, syncedAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE connections
	SET sync_status = ?, last_error = ?, sync_started_at = NULL,
	 last_synced_at = COALESCE(?, last_synced_at), updated_at = CURRENT_TIMESTAMP
	WHERE id = ?
	`, status, lastError, syncedAt, id)
	return err
}

func (r *ConnectionRepo) SetNeedsReauth(ctx context.Context, id string, needs bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE connections SET needs_reauth = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, needs, id)
	return err
}

// ResetCursor clears the cursor so the next sync starts from full history.
func (r *ConnectionRepo) ResetCursor(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE connections
	SET cursor = NULL, sync_status = ?, last_error = NULL, sync_started_at = NULL, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?
	`, SyncIdle, id)
	return err
}

func scanConnection(row scanner) (Connection, error) {
	var c Connection
	var cursor, lastErr sql.NullString
	var started, synced sql.NullTime
	if err := row.Scan(&c.ID, &c.ItemID, &c.AccessToken, &c.InstitutionName, &cursor, &c.SyncStatus, &lastErr,
		&c.Active, &c.NeedsReauth, &started, &synced, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Connection{}, err
	}
	c.Cursor = nullString(cursor)
	c.LastError = nullString(lastErr)
	c.SyncStartedAt = nullTime(started)
	c.LastSyncedAt = nullTime(synced)
	return c, nil
}
