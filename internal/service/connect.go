package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jask/bankfeed/internal/database/repository"
)

// ConnectionInput registers an item whose access token has already been
// exchanged with the aggregator.
type ConnectionInput struct {
	ItemID          string
	AccessToken     string
	InstitutionName string
}

// RegisterConnection stores the connection with its access token sealed and
// loads its account list. Re-registering an item replaces its token and
// clears the re-authentication flag; the cursor is kept.
func (e *Engine) RegisterConnection(ctx context.Context, in ConnectionInput) (*repository.Connection, error) {
	in.ItemID = strings.TrimSpace(in.ItemID)
	if in.ItemID == "" || in.AccessToken == "" {
		return nil, fmt.Errorf("register connection: item id and access token required")
	}
	sealed := in.AccessToken
	if e.deps.Credentials != nil {
		var err error
		if sealed, err = e.deps.Credentials.Seal(in.AccessToken); err != nil {
			return nil, fmt.Errorf("seal access token: %w", err)
		}
	}
	if err := e.deps.Connections.Upsert(ctx, repository.Connection{
		ID:              uuid.NewString(),
		ItemID:          in.ItemID,
		AccessToken:     sealed,
		InstitutionName: strings.TrimSpace(in.InstitutionName),
		Active:          true,
	}); err != nil {
		return nil, fmt.Errorf("store connection: %w", err)
	}
	conn, err := e.deps.Connections.GetByItemID(ctx, in.ItemID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, in.ItemID)
	}
	if err := refreshAccounts(ctx, e.deps.Aggregator, e.deps.Accounts, conn, in.AccessToken); err != nil {
		return conn, fmt.Errorf("load accounts: %w", err)
	}
	e.log.Info("connection registered", "item_id", conn.ItemID, "institution", conn.InstitutionName)
	return conn, nil
}

// activeConnection loads itemID and checks it can be used.
func (e *Engine) activeConnection(ctx context.Context, itemID string) (*repository.Connection, error) {
	conn, err := e.deps.Connections.GetByItemID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load connection %s: %w", itemID, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, itemID)
	}
	if !conn.Active {
		return nil, fmt.Errorf("%w: %s", ErrConnectionInactive, itemID)
	}
	return conn, nil
}
