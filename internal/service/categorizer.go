package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/bankfeed/internal/database/repository"
	"github.com/jask/bankfeed/internal/llm"
)

const (
	uncategorized  = "Uncategorized"
	memoMaxRunes   = 100
	ruleConfidence = 100
)

// Suggestion source labels.
const (
	SourceRule       = "rule"
	SourceClassifier = "classifier"
	SourceDefault    = "default"
)

// CategorizeInput is what the categorization pipeline looks at.
type CategorizeInput struct {
	Description      string
	Merchant         *string
	Amount           decimal.Decimal
	ExternalCategory *string
}

// Suggestion is a proposed categorization. AccountID is nil when no ledger
// account could be chosen.
type Suggestion struct {
	AccountID  *string
	Category   string
	Memo       string
	Confidence int
	Source     string
}

// Strategy is one tier of the pipeline. It reports false to defer to the next tier.
type Strategy interface {
	Suggest(ctx context.Context, in CategorizeInput) (Suggestion, bool)
}

// Categorizer runs strategies in order and falls back to an uncategorized
// suggestion when none applies.
type Categorizer struct {
	strategies []Strategy
	rules      *RuleStrategy
}

func NewCategorizer(log *slog.Logger, rules RuleStore, classifier llm.Classifier, ledger LedgerAccountStore, opts Options) *Categorizer {
	rs := &RuleStrategy{rules: rules, log: log, hitTimeout: opts.HitCountTimeout}
	c := &Categorizer{rules: rs, strategies: []Strategy{rs}}
	if classifier != nil {
		c.strategies = append(c.strategies, &ClassifierStrategy{
			classifier:    classifier,
			ledger:        ledger,
			maxCandidates: opts.MaxCandidates,
			log:           log,
		})
	}
	return c
}

func (c *Categorizer) Categorize(ctx context.Context, in CategorizeInput) Suggestion {
	for _, s := range c.strategies {
		if sug, ok := s.Suggest(ctx, in); ok {
			return sug
		}
	}
	return defaultSuggestion(in.Description)
}

// Wait drains pending rule hit-count updates.
func (c *Categorizer) Wait() { c.rules.Wait() }

func defaultSuggestion(description string) Suggestion {
	return Suggestion{Category: uncategorized, Memo: truncateRunes(description, memoMaxRunes), Source: SourceDefault}
}

// MatchType selects how a rule's value is compared.
type MatchType int

const (
	MatchContains MatchType = iota
	MatchExact
	MatchStartsWith
)

// ParseMatchType reports false for unknown names.
func ParseMatchType(s string) (MatchType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "contains":
		return MatchContains, true
	case "exact":
		return MatchExact, true
	case "startswith", "starts_with":
		return MatchStartsWith, true
	}
	return MatchContains, false
}

func (m MatchType) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchStartsWith:
		return "startswith"
	default:
		return "contains"
	}
}

// Matches compares case-insensitively.
func (m MatchType) Matches(subject, value string) bool {
	subject, value = strings.ToLower(subject), strings.ToLower(value)
	switch m {
	case MatchExact:
		return subject == value
	case MatchStartsWith:
		return strings.HasPrefix(subject, value)
	default:
		return strings.Contains(subject, value)
	}
}

// Rule match fields.
const (
	MatchFieldDescription = "description"
	MatchFieldMerchant    = "merchant"
)

// RuleStrategy applies the first matching active rule by ascending priority.
type RuleStrategy struct {
	rules      RuleStore
	log        *slog.Logger
	hitTimeout time.Duration
	hits       sync.WaitGroup
}

func (s *RuleStrategy) Suggest(ctx context.Context, in CategorizeInput) (Suggestion, bool) {
	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		s.log.Warn("load categorization rules", "err", err)
		return Suggestion{}, false
	}
	for _, r := range rules {
		if !knownMatchField(r.MatchField) {
			s.log.Warn("skipping rule with unknown match field", "rule_id", r.ID, "match_field", r.MatchField)
			continue
		}
		if !ruleMatches(r, in) {
			continue
		}
		s.recordHit(ctx, r.ID)
		category := r.Category
		if category == "" {
			category = uncategorized
		}
		return Suggestion{
			AccountID:  r.TargetAccountID,
			Category:   category,
			Memo:       truncateRunes(in.Description, memoMaxRunes),
			Confidence: ruleConfidence,
			Source:     SourceRule,
		}, true
	}
	return Suggestion{}, false
}

func knownMatchField(field string) bool {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case MatchFieldDescription, MatchFieldMerchant:
		return true
	}
	return false
}

func ruleMatches(r repository.CategorizationRule, in CategorizeInput) bool {
	if strings.TrimSpace(r.MatchValue) == "" {
		return false
	}
	var subject string
	switch strings.ToLower(strings.TrimSpace(r.MatchField)) {
	case MatchFieldDescription:
		subject = in.Description
	case MatchFieldMerchant:
		if in.Merchant == nil {
			return false
		}
		subject = *in.Merchant
	default:
		return false
	}
	// unknown match types fall back to contains
	mt, _ := ParseMatchType(r.MatchType)
	return mt.Matches(subject, r.MatchValue)
}

// recordHit bumps a rule's hit count off the categorization path. It is
// detached from ctx so a finished sync does not cancel it.
func (s *RuleStrategy) recordHit(ctx context.Context, ruleID string) {
	s.hits.Add(1)
	go func() {
		defer s.hits.Done()
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.hitTimeout)
		defer cancel()
		if err := s.rules.IncrementHitCount(hctx, ruleID); err != nil {
			s.log.Warn("increment rule hit count", "rule_id", ruleID, "err", err)
		}
	}()
}

func (s *RuleStrategy) Wait() { s.hits.Wait() }

// ClassifierStrategy asks a classifier to pick among the ledger's expense
// and income accounts. It always answers: a failing classifier yields a
// zero-confidence uncategorized suggestion.
type ClassifierStrategy struct {
	classifier    llm.Classifier
	ledger        LedgerAccountStore
	maxCandidates int
	log           *slog.Logger
}

func (s *ClassifierStrategy) Suggest(ctx context.Context, in CategorizeInput) (Suggestion, bool) {
	fallback := defaultSuggestion(in.Description)
	fallback.Source = SourceClassifier

	accounts, err := s.ledger.ListByTypes(ctx, []string{repository.LedgerTypeExpense, repository.LedgerTypeIncome}, s.maxCandidates)
	if err != nil {
		s.log.Warn("load candidate accounts", "err", err)
		return fallback, true
	}
	ids := make(map[string]string, len(accounts))
	names := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids[a.Name] = a.ID
		names = append(names, a.Name)
	}

	resp, err := s.classifier.Classify(ctx, llm.ClassifyRequest{
		Description:        in.Description,
		Amount:             in.Amount.String(),
		Merchant:           deref(in.Merchant),
		AggregatorCategory: deref(in.ExternalCategory),
		CandidateAccounts:  names,
	})
	if err != nil {
		s.log.Warn("classifier failed", "err", err)
		return fallback, true
	}

	out := Suggestion{
		Category:   resp.Category,
		Memo:       truncateRunes(resp.Memo, memoMaxRunes),
		Confidence: min(max(resp.Confidence, 0), 100),
		Source:     SourceClassifier,
	}
	if id, ok := ids[resp.AccountName]; ok {
		out.AccountID = &id
	}
	if out.Category == "" {
		out.Category = uncategorized
	}
	if out.Memo == "" {
		out.Memo = fallback.Memo
	}
	return out, true
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
