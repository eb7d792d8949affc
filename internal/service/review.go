package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jask/bankfeed/internal/database/repository"
)

// ReviewService settles potential duplicates flagged during sync or import.
type ReviewService struct {
	transactions TransactionStore
	log          *slog.Logger
}

func (e *Engine) Review() *ReviewService {
	return &ReviewService{transactions: e.deps.Transactions, log: e.log}
}

// ListPotentialDuplicates returns flagged transactions that are still open.
func (s *ReviewService) ListPotentialDuplicates(ctx context.Context, limit int) ([]repository.Transaction, error) {
	return s.transactions.List(ctx, repository.TransactionFilters{
		DuplicatesOnly: true,
		ExcludeStatus:  repository.TxRemoved,
		Limit:          limit,
	})
}

// ResolveDuplicate confirms (isDuplicate) or dismisses the flag on txID.
// A confirmed duplicate is marked removed; the record it duplicates stays.
func (s *ReviewService) ResolveDuplicate(ctx context.Context, txID string, isDuplicate bool) error {
	t, err := s.transactions.Get(ctx, txID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}
	if !t.IsPotentialDuplicate {
		return fmt.Errorf("%w: %s", ErrNotDuplicate, txID)
	}
	if isDuplicate {
		if err := s.transactions.UpdateStatus(ctx, t.ID, repository.TxRemoved); err != nil {
			return err
		}
		s.log.Info("duplicate confirmed", "transaction_id", t.ID, "duplicate_of", deref(t.DuplicateOfID))
		return nil
	}
	if err := s.transactions.SetDuplicate(ctx, t.ID, nil); err != nil {
		return err
	}
	s.log.Info("duplicate dismissed", "transaction_id", t.ID)
	return nil
}
