package service

import "errors"

var (
	ErrConnectionNotFound    = errors.New("connection not found")
	ErrConnectionInactive    = errors.New("connection inactive")
	ErrSyncInProgress        = errors.New("sync already in progress")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrNotDuplicate          = errors.New("transaction is not flagged as a potential duplicate")
	ErrLedgerAccountNotFound = errors.New("ledger account not found")
)
