package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/bankfeed/internal/aggregator"
	"github.com/jask/bankfeed/internal/database"
	"github.com/jask/bankfeed/internal/database/repository"
	"github.com/jask/bankfeed/internal/llm"
	"github.com/jask/bankfeed/internal/secrets"
)

type harness struct {
	db     *sql.DB
	agg    *aggregator.Memory
	engine *Engine
	conns  *repository.ConnectionRepo
	txs    *repository.TransactionRepo
	ledger *repository.LedgerAccountRepo
	rules  *repository.RuleRepo
}

type harnessOption func(*Deps, *Options)

func withClassifier(c llm.Classifier) harnessOption {
	return func(d *Deps, _ *Options) { d.Classifier = c }
}

func withFailingInserts(f *failingTransactions) harnessOption {
	return func(d *Deps, _ *Options) {
		f.TransactionRepo = d.Transactions.(*repository.TransactionRepo)
		d.Transactions = f
	}
}

func withOptions(fn func(*Options)) harnessOption {
	return func(_ *Deps, o *Options) { fn(o) }
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, database.RunMigrations(dbPath))
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.SeedDefaults(context.Background(), db))
	return db
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	db := testDB(t)
	sealer, err := secrets.NewSealer("test-key")
	require.NoError(t, err)

	agg := aggregator.NewMemory()
	deps := SQLiteStores(db)
	deps.Aggregator = agg
	deps.Credentials = sealer
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	var o Options
	for _, opt := range opts {
		opt(&deps, &o)
	}
	engine, err := NewEngine(deps, o)
	require.NoError(t, err)
	t.Cleanup(engine.Wait)

	return &harness{
		db:     db,
		agg:    agg,
		engine: engine,
		conns:  repository.NewConnectionRepo(db),
		txs:    repository.NewTransactionRepo(db),
		ledger: repository.NewLedgerAccountRepo(db),
		rules:  repository.NewRuleRepo(db),
	}
}

// connect registers itemID at institution with a single depository account "acc-<itemID>".
func (h *harness) connect(t *testing.T, itemID, institution string, accounts ...aggregator.Account) *repository.Connection {
	t.Helper()
	token := "access-" + itemID
	if len(accounts) == 0 {
		accounts = []aggregator.Account{{AccountID: "acc-" + itemID, Name: "Checking", Type: "depository"}}
	}
	h.agg.SetAccounts(token, accounts...)
	conn, err := h.engine.RegisterConnection(context.Background(), ConnectionInput{
		ItemID:          itemID,
		AccessToken:     token,
		InstitutionName: institution,
	})
	require.NoError(t, err)
	return conn
}

func (h *harness) connection(t *testing.T, itemID string) *repository.Connection {
	t.Helper()
	c, err := h.conns.GetByItemID(context.Background(), itemID)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func (h *harness) tx(t *testing.T, externalID string) *repository.Transaction {
	t.Helper()
	tx, err := h.txs.GetByExternalID(context.Background(), externalID)
	require.NoError(t, err)
	require.NotNil(t, tx, "transaction %s", externalID)
	return tx
}

func (h *harness) count(t *testing.T) int {
	t.Helper()
	n, err := h.txs.Count(context.Background())
	require.NoError(t, err)
	return n
}

func (h *harness) ledgerID(t *testing.T, name string) string {
	t.Helper()
	a, err := h.ledger.GetByName(context.Background(), name)
	require.NoError(t, err)
	require.NotNil(t, a, "ledger account %s", name)
	return a.ID
}

func feedTx(id, accountID, date, amount, name string) aggregator.Transaction {
	return aggregator.Transaction{
		TransactionID: id,
		AccountID:     accountID,
		Date:          date,
		Amount:        decimal.RequireFromString(amount),
		Name:          name,
	}
}

func strPtr(s string) *string { return &s }

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// failingTransactions fails Insert for selected external ids.
type failingTransactions struct {
	*repository.TransactionRepo
	mu   sync.Mutex
	fail map[string]bool
}

func (f *failingTransactions) Insert(ctx context.Context, t repository.Transaction) error {
	f.mu.Lock()
	fail := f.fail[t.ExternalID]
	f.mu.Unlock()
	if fail {
		return errors.New("disk I/O error")
	}
	return f.TransactionRepo.Insert(ctx, t)
}

func (f *failingTransactions) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = nil
}

type stubClassifier struct {
	mu   sync.Mutex
	resp llm.ClassifyResponse
	err  error
	reqs []llm.ClassifyRequest
}

func (s *stubClassifier) Classify(ctx context.Context, req llm.ClassifyRequest) (llm.ClassifyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.resp, s.err
}

func (s *stubClassifier) requests() []llm.ClassifyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.ClassifyRequest(nil), s.reqs...)
}
