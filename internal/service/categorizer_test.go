package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/bankfeed/internal/aggregator"
	"github.com/jask/bankfeed/internal/database/repository"
	"github.com/jask/bankfeed/internal/llm"
)

func (h *harness) addRule(t *testing.T, field, matchType, value, account, category string, priority int) string {
	t.Helper()
	id := uuid.NewString()
	var target *string
	if account != "" {
		accountID := h.ledgerID(t, account)
		target = &accountID
	}
	require.NoError(t, h.rules.Insert(context.Background(), repository.CategorizationRule{
		ID:              id,
		MatchField:      field,
		MatchType:       matchType,
		MatchValue:      value,
		TargetAccountID: target,
		Category:        category,
		Priority:        priority,
		Active:          true,
	}))
	return id
}

func TestRulePrecedence(t *testing.T) {
	t.Parallel()
	classifier := &stubClassifier{resp: llm.ClassifyResponse{AccountName: "Travel", Confidence: 99}}
	h := newHarness(t, withClassifier(classifier))
	ctx := testCtx(t)

	broad := h.addRule(t, "description", "contains", "uber", "Travel", "Travel", 20)
	narrow := h.addRule(t, "description", "startswith", "UBER *EATS", "Meals & Entertainment", "Food delivery", 10)

	s := h.engine.categorizer.Categorize(ctx, CategorizeInput{
		Description: "UBER *EATS PENDING",
		Amount:      decimal.RequireFromString("-23.10"),
	})
	require.Equal(t, SourceRule, s.Source)
	require.Equal(t, h.ledgerID(t, "Meals & Entertainment"), *s.AccountID)
	require.Equal(t, "Food delivery", s.Category)
	require.Equal(t, 100, s.Confidence)
	require.Equal(t, "UBER *EATS PENDING", s.Memo)
	require.Empty(t, classifier.requests(), "a matching rule short-circuits the classifier")

	s = h.engine.categorizer.Categorize(ctx, CategorizeInput{Description: "Uber Trip", Amount: decimal.RequireFromString("-9")})
	require.Equal(t, h.ledgerID(t, "Travel"), *s.AccountID)

	h.engine.Wait()
	n, err := h.rules.HitCount(ctx, narrow)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = h.rules.HitCount(ctx, broad)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

// failingHits is a rule store whose hit-count updates always fail.
type failingHits struct {
	RuleStore
	mu    sync.Mutex
	tries int
}

func (f *failingHits) IncrementHitCount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tries++
	return errors.New("database is locked")
}

func (f *failingHits) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tries
}

func TestRuleHitCountFailureKeepsSuggestion(t *testing.T) {
	t.Parallel()
	hits := &failingHits{}
	h := newHarness(t, func(d *Deps, _ *Options) {
		hits.RuleStore = d.Rules
		d.Rules = hits
	})
	ctx := testCtx(t)
	h.connect(t, "item-1", "Chase")
	rule := h.addRule(t, "description", "contains", "netflix", "Software & Subscriptions", "Streaming", 10)

	h.agg.AddPage("", aggregator.SyncPage{
		Added:      []aggregator.Transaction{feedTx("tx-nflx", "acc-item-1", "2026-02-03", "15.99", "NETFLIX.COM")},
		NextCursor: "c1",
	})
	res, err := h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Added)
	require.Zero(t, res.Failed)

	done := make(chan struct{})
	go func() {
		h.engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Wait did not return after failed hit-count update")
	}
	require.Equal(t, 1, hits.attempts())

	got := h.tx(t, "tx-nflx")
	require.Equal(t, h.ledgerID(t, "Software & Subscriptions"), *got.SuggestedAccountID)
	require.Equal(t, "Streaming", got.SuggestedCategory)
	require.Equal(t, 100, got.Confidence)

	n, err := h.rules.HitCount(ctx, rule)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRuleMatchFieldsAndTypes(t *testing.T) {
	t.Parallel()

	merchant := "Starbucks"
	cases := []struct {
		name string
		rule repository.CategorizationRule
		in   CategorizeInput
		want bool
	}{
		{"exact", repository.CategorizationRule{MatchField: "description", MatchType: "exact", MatchValue: "netflix"}, CategorizeInput{Description: "NETFLIX"}, true},
		{"exact partial", repository.CategorizationRule{MatchField: "description", MatchType: "exact", MatchValue: "netflix"}, CategorizeInput{Description: "NETFLIX.COM"}, false},
		{"startswith", repository.CategorizationRule{MatchField: "description", MatchType: "startswith", MatchValue: "pos "}, CategorizeInput{Description: "POS 1234 ALDI"}, true},
		{"merchant", repository.CategorizationRule{MatchField: "merchant", MatchType: "contains", MatchValue: "starbucks"}, CategorizeInput{Description: "SQ *CAFE", Merchant: &merchant}, true},
		{"merchant missing", repository.CategorizationRule{MatchField: "merchant", MatchType: "contains", MatchValue: "starbucks"}, CategorizeInput{Description: "STARBUCKS"}, false},
		{"unknown type is contains", repository.CategorizationRule{MatchField: "description", MatchType: "regex", MatchValue: "aldi"}, CategorizeInput{Description: "POS ALDI 42"}, true},
		{"unknown field never matches", repository.CategorizationRule{MatchField: "amount", MatchType: "contains", MatchValue: "aldi"}, CategorizeInput{Description: "POS ALDI 42"}, false},
		{"empty value never matches", repository.CategorizationRule{MatchField: "description", MatchType: "contains", MatchValue: " "}, CategorizeInput{Description: "anything"}, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ruleMatches(tc.rule, tc.in), tc.name)
	}
}

func TestUnknownMatchFieldRuleIsSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := testCtx(t)

	h.addRule(t, "amount", "contains", "aldi", "Travel", "Travel", 1)
	h.addRule(t, "description", "contains", "aldi", "Groceries", "Groceries", 50)

	s := h.engine.categorizer.Categorize(ctx, CategorizeInput{Description: "POS ALDI 42", Amount: decimal.RequireFromString("-30")})
	require.Equal(t, SourceRule, s.Source)
	require.Equal(t, h.ledgerID(t, "Groceries"), *s.AccountID)
}

func TestClassifierSuggestion(t *testing.T) {
	t.Parallel()
	classifier := &stubClassifier{resp: llm.ClassifyResponse{
		AccountName: "Meals & Entertainment",
		Category:    "Coffee",
		Memo:        "Coffee at Starbucks",
		Confidence:  87,
	}}
	h := newHarness(t, withClassifier(classifier), withOptions(func(o *Options) { o.MaxCandidates = 6 }))
	ctx := testCtx(t)

	s := h.engine.categorizer.Categorize(ctx, CategorizeInput{
		Description:      "STARBUCKS COFFEE #4521",
		Merchant:         strPtr("Starbucks"),
		Amount:           decimal.RequireFromString("-4.5"),
		ExternalCategory: strPtr("FOOD_AND_DRINK"),
	})
	require.Equal(t, SourceClassifier, s.Source)
	require.Equal(t, h.ledgerID(t, "Meals & Entertainment"), *s.AccountID)
	require.Equal(t, "Coffee", s.Category)
	require.Equal(t, "Coffee at Starbucks", s.Memo)
	require.Equal(t, 87, s.Confidence)

	reqs := classifier.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "-4.5", reqs[0].Amount)
	require.Equal(t, "Starbucks", reqs[0].Merchant)
	require.Equal(t, "FOOD_AND_DRINK", reqs[0].AggregatorCategory)
	require.Len(t, reqs[0].CandidateAccounts, 6)
	require.Contains(t, reqs[0].CandidateAccounts, "Sales Revenue")
}

func TestClassifierUnknownAccountDropsID(t *testing.T) {
	t.Parallel()
	classifier := &stubClassifier{resp: llm.ClassifyResponse{AccountName: "Coffee Budget", Confidence: 140}}
	h := newHarness(t, withClassifier(classifier))

	s := h.engine.categorizer.Categorize(testCtx(t), CategorizeInput{Description: "BLUE BOTTLE", Amount: decimal.RequireFromString("-6")})
	require.Nil(t, s.AccountID)
	require.Equal(t, 100, s.Confidence)
	require.Equal(t, "Uncategorized", s.Category)
	require.Equal(t, "BLUE BOTTLE", s.Memo)
}

func TestClassifierFailureDegrades(t *testing.T) {
	t.Parallel()
	classifier := &stubClassifier{err: errors.New("context deadline exceeded")}
	h := newHarness(t, withClassifier(classifier))

	long := strings.Repeat("é", 150)
	s := h.engine.categorizer.Categorize(testCtx(t), CategorizeInput{Description: long, Amount: decimal.RequireFromString("-1")})
	require.Nil(t, s.AccountID)
	require.Equal(t, "Uncategorized", s.Category)
	require.Zero(t, s.Confidence)
	require.Equal(t, 100, len([]rune(s.Memo)))
}

func TestCategorizeWithoutClassifier(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	s := h.engine.categorizer.Categorize(testCtx(t), CategorizeInput{Description: "MYSTERY 42", Amount: decimal.RequireFromString("-1")})
	require.Equal(t, Suggestion{Category: "Uncategorized", Memo: "MYSTERY 42", Source: SourceDefault}, s)
}

func TestHeuristicClassifierInPipeline(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withClassifier(llm.NewHeuristicClassifier()))

	s := h.engine.categorizer.Categorize(testCtx(t), CategorizeInput{Description: "SPOTIFY P1A2B3", Amount: decimal.RequireFromString("-11.99")})
	require.Equal(t, h.ledgerID(t, "Software & Subscriptions"), *s.AccountID)
	require.Positive(t, s.Confidence)
}
