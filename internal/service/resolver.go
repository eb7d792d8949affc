package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jask/bankfeed/internal/database/repository"
)

const (
	autoAccountDescription = "Auto-created from bank feed"
	bankCodePrefix         = "1100"
	creditCardCodePrefix   = "2100"
	maxCreateAttempts      = 3
)

// AccountResolver maps external accounts to ledger accounts, creating a
// Bank or Credit Card ledger account on first sight.
type AccountResolver struct {
	ledger LedgerAccountStore
	log    *slog.Logger

	mu    sync.Mutex
	cache map[string]string // ledger account name -> id
}

func NewAccountResolver(ledger LedgerAccountStore, log *slog.Logger) *AccountResolver {
	return &AccountResolver{ledger: ledger, log: log, cache: make(map[string]string)}
}

// LedgerAccountName is the name an auto-provisioned ledger account gets.
func LedgerAccountName(institution, accountName string) string {
	institution = strings.TrimSpace(institution)
	if institution == "" {
		return strings.TrimSpace(accountName)
	}
	return institution + " - " + strings.TrimSpace(accountName)
}

// Resolve returns the ledger account id for ext. An explicit mapping on
// the external account wins.
func (r *AccountResolver) Resolve(ctx context.Context, institution string, ext repository.ExternalAccount) (string, error) {
	if ext.LedgerAccountID != nil && *ext.LedgerAccountID != "" {
		return *ext.LedgerAccountID, nil
	}
	name := LedgerAccountName(institution, ext.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.cache[name]; ok {
		return id, nil
	}

	typ, prefix := repository.LedgerTypeBank, bankCodePrefix
	if strings.EqualFold(ext.Type, "credit") {
		typ, prefix = repository.LedgerTypeCreditCard, creditCardCodePrefix
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		existing, err := r.ledger.GetByName(ctx, name)
		if err != nil {
			return "", err
		}
		if existing != nil {
			r.cache[name] = existing.ID
			return existing.ID, nil
		}
		acct := repository.LedgerAccount{
			ID:          uuid.NewString(),
			Code:        ledgerCode(prefix),
			Name:        name,
			Type:        typ,
			Description: autoAccountDescription,
		}
		err = r.ledger.Insert(ctx, acct)
		if err == nil {
			r.log.Info("created ledger account", "name", name, "code", acct.Code, "type", typ)
			r.cache[name] = acct.ID
			return acct.ID, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return "", fmt.Errorf("create ledger account %q: %w", name, err)
		}
		// name taken by a concurrent writer, or a code collision; look again
	}
	return "", fmt.Errorf("create ledger account %q: gave up after %d attempts", name, maxCreateAttempts)
}

func ledgerCode(prefix string) string {
	return prefix + "-" + strings.ToUpper(uuid.NewString()[:8])
}
