package llm

import (
	"context"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// HeuristicClassifier is an offline classifier that ranks candidate accounts
// by keyword hints, token overlap and edit distance. Its confidence never
// exceeds maxHeuristicConfidence so rule matches and model answers outrank it.
type HeuristicClassifier struct{}

const (
	maxHeuristicConfidence = 60
	minHeuristicScore      = 0.35
)

func NewHeuristicClassifier() *HeuristicClassifier { return &HeuristicClassifier{} }

// keywordHints maps merchant fragments to words expected in the account name.
var keywordHints = []struct {
	fragments []string
	account   []string
}{
	{[]string{"uber", "lyft", "shell", "chevron", "exxon", "bp "}, []string{"transport", "fuel", "travel"}},
	{[]string{"woolworth", "aldi", "coles", "safeway", "kroger", "whole foods"}, []string{"grocer"}},
	{[]string{"starbucks", "mcdonald", "restaurant", "cafe", "coffee", "doordash"}, []string{"meal", "entertainment"}},
	{[]string{"spotify", "netflix", "github", "adobe", "aws", "google"}, []string{"software", "subscription"}},
	{[]string{"staples", "officeworks", "office depot"}, []string{"office"}},
	{[]string{"airline", "delta", "united", "hotel", "airbnb"}, []string{"travel"}},
	{[]string{"interest"}, []string{"interest"}},
	{[]string{"fee", "overdraft"}, []string{"fee"}},
}

func (h *HeuristicClassifier) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResponse, error) {
	if err := ctx.Err(); err != nil {
		return ClassifyResponse{}, err
	}
	subject := strings.ToLower(strings.Join([]string{req.Description, req.Merchant, humanize(req.AggregatorCategory)}, " "))

	bestName, bestScore := "", 0.0
	for _, name := range req.CandidateAccounts {
		score := accountScore(subject, humanize(req.AggregatorCategory), strings.ToLower(name))
		if score > bestScore {
			bestName, bestScore = name, score
		}
	}

	category := humanize(req.AggregatorCategory)
	if bestScore < minHeuristicScore {
		return ClassifyResponse{Category: category}, nil
	}
	if category == "" {
		category = bestName
	}
	return ClassifyResponse{
		AccountName: bestName,
		Category:    category,
		Confidence:  ClampConfidence(bestScore * maxHeuristicConfidence),
	}, nil
}

func accountScore(subject, category, account string) float64 {
	for _, hint := range keywordHints {
		if !containsAny(subject, hint.fragments) {
			continue
		}
		if containsAny(account, hint.account) {
			return 0.9
		}
	}
	best := tokenOverlap(subject, account)
	if category != "" {
		if s := editSimilarity(category, account); s > best {
			best = s
		}
	}
	return best
}

// tokenOverlap is the share of the account's words that appear in subject.
func tokenOverlap(subject, account string) float64 {
	words := tokens(account)
	if len(words) == 0 {
		return 0
	}
	subj := tokens(subject)
	hit := 0
	for w := range words {
		if _, ok := subj[w]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(words))
}

func editSimilarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func tokens(s string) map[string]struct{} {
	parts := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	out := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if len(p) < 3 {
			continue
		}
		out[p] = struct{}{}
	}
	return out
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

// humanize turns aggregator labels like FOOD_AND_DRINK into "food and drink".
func humanize(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.NewReplacer("_", " ", ">", " ").Replace(label)
}
