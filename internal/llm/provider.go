package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
)

// Classifier suggests a ledger account for a transaction.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResponse, error)
}

// ClassifyRequest summarises one transaction. Amount uses the ledger sign
// convention (negative = expense).
type ClassifyRequest struct {
	Description        string   `json:"description"`
	Amount             string   `json:"amount"`
	Merchant           string   `json:"merchant,omitempty"`
	AggregatorCategory string   `json:"aggregator_category,omitempty"`
	CandidateAccounts  []string `json:"candidate_accounts"`
}

// ClassifyResponse carries a confidence in [0, 100].
type ClassifyResponse struct {
	AccountName string
	Category    string
	Memo        string
	Confidence  int
}

var ErrMalformedResponse = errors.New("llm: malformed response")

type wireResponse struct {
	AccountName string  `json:"account_name"`
	Category    string  `json:"category"`
	Memo        string  `json:"memo"`
	Confidence  float64 `json:"confidence"`
}

// decodeResponse extracts the first JSON object from model output, tolerating
// code fences and surrounding prose.
func decodeResponse(text string) (ClassifyResponse, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ClassifyResponse{}, ErrMalformedResponse
	}
	var w wireResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &w); err != nil {
		return ClassifyResponse{}, errors.Join(ErrMalformedResponse, err)
	}
	return ClassifyResponse{
		AccountName: strings.TrimSpace(w.AccountName),
		Category:    strings.TrimSpace(w.Category),
		Memo:        strings.TrimSpace(w.Memo),
		Confidence:  ClampConfidence(w.Confidence),
	}, nil
}

// ClampConfidence rounds c into [0, 100].
func ClampConfidence(c float64) int {
	if math.IsNaN(c) || c <= 0 {
		return 0
	}
	if c > 100 {
		c = 100
	}
	return int(math.Round(c))
}
