package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jask/bankfeed/internal/aggregator"
	"github.com/jask/bankfeed/internal/llm"
)

// Deps are the collaborators an Engine is built from. Classifier and
// Credentials are optional.
type Deps struct {
	Connections  ConnectionStore
	Accounts     ExternalAccountStore
	Ledger       LedgerAccountStore
	Transactions TransactionStore
	Rules        RuleStore
	Aggregator   aggregator.Client
	Classifier   llm.Classifier
	Credentials  CredentialCipher
	Logger       *slog.Logger
}

type Options struct {
	PageSize        int
	Concurrency     int
	StaleAfter      time.Duration
	MaxCandidates   int
	HitCountTimeout time.Duration
	Now             func() time.Time
}

const (
	defaultPageSize        = 500
	defaultConcurrency     = 4
	defaultStaleAfter      = 30 * time.Minute
	defaultMaxCandidates   = 50
	defaultHitCountTimeout = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = defaultStaleAfter
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = defaultMaxCandidates
	}
	if o.HitCountTimeout <= 0 {
		o.HitCountTimeout = defaultHitCountTimeout
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Engine runs bank-feed syncs: it pulls deltas from the aggregator,
// reconciles them into the staging ledger and suggests categorizations.
type Engine struct {
	deps Deps
	opts Options
	log  *slog.Logger

	reconciler  *Reconciler
	detector    *DuplicateDetector
	categorizer *Categorizer
	resolver    *AccountResolver
}

func NewEngine(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Connections == nil, deps.Accounts == nil, deps.Ledger == nil, deps.Transactions == nil, deps.Rules == nil:
		return nil, fmt.Errorf("engine: stores not configured")
	case deps.Aggregator == nil:
		return nil, fmt.Errorf("engine: aggregator not configured")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()

	e := &Engine{deps: deps, opts: opts, log: log}
	e.detector = NewDuplicateDetector(deps.Transactions)
	e.resolver = NewAccountResolver(deps.Ledger, log)
	e.categorizer = NewCategorizer(log, deps.Rules, deps.Classifier, deps.Ledger, opts)
	e.reconciler = &Reconciler{
		accounts:     deps.Accounts,
		transactions: deps.Transactions,
		aggregator:   deps.Aggregator,
		detector:     e.detector,
		categorizer:  e.categorizer,
		resolver:     e.resolver,
		log:          log,
	}
	return e, nil
}

// Wait blocks until best-effort background work (rule hit counts) has drained.
func (e *Engine) Wait() {
	e.categorizer.Wait()
}

func (e *Engine) accessToken(sealed string) (string, error) {
	if e.deps.Credentials == nil {
		return sealed, nil
	}
	return e.deps.Credentials.Open(sealed)
}
