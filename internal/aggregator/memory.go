package aggregator

import (
	"context"
	"sync"
)

// Memory is a scripted in-memory aggregator. Pages are keyed by the cursor
// that requests them; an unscripted cursor yields an empty final page.
type Memory struct {
	mu       sync.Mutex
	pages    map[string]SyncPage
	failures map[string]error
	accounts map[string][]Account
	calls    []SyncRequest
}

func NewMemory() *Memory {
	return &Memory{
		pages:    make(map[string]SyncPage),
		failures: make(map[string]error),
		accounts: make(map[string][]Account),
	}
}

// AddPage scripts the page returned for cursor.
func (m *Memory) AddPage(cursor string, page SyncPage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[cursor] = page
}

// FailAt makes requests for cursor return err.
func (m *Memory) FailAt(cursor string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[cursor] = err
}

// ClearFailure removes a scripted failure.
func (m *Memory) ClearFailure(cursor string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, cursor)
}

// SetAccounts scripts the accounts returned for accessToken.
func (m *Memory) SetAccounts(accessToken string, accounts ...Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[accessToken] = accounts
}

// Calls returns the sync requests seen so far.
func (m *Memory) Calls() []SyncRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SyncRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Memory) TransactionsSync(ctx context.Context, req SyncRequest) (SyncPage, error) {
	if err := ctx.Err(); err != nil {
		return SyncPage{}, Unavailable(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if err, ok := m.failures[req.Cursor]; ok {
		return SyncPage{}, err
	}
	page, ok := m.pages[req.Cursor]
	if !ok {
		return SyncPage{NextCursor: req.Cursor}, nil
	}
	return page, nil
}

func (m *Memory) Accounts(ctx context.Context, accessToken string) ([]Account, error) {
	return m.listAccounts(ctx, accessToken)
}

func (m *Memory) Balances(ctx context.Context, accessToken string) ([]Account, error) {
	return m.listAccounts(ctx, accessToken)
}

func (m *Memory) listAccounts(ctx context.Context, accessToken string) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failures["accounts:"+accessToken]; ok {
		return nil, err
	}
	accts, ok := m.accounts[accessToken]
	if !ok {
		return nil, &Error{Kind: KindRejected, Code: "INVALID_ACCESS_TOKEN", Message: "unknown access token"}
	}
	out := make([]Account, len(accts))
	copy(out, accts)
	return out, nil
}
