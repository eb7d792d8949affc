package service

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jask/bankfeed/internal/database/repository"
)

const (
	duplicateOverlapThreshold = 0.5
	minSignificantWordRunes   = 4
)

// DuplicateDetector finds a record from another source that describes the
// same economic event as a candidate transaction.
type DuplicateDetector struct {
	transactions TransactionStore
}

func NewDuplicateDetector(transactions TransactionStore) *DuplicateDetector {
	return &DuplicateDetector{transactions: transactions}
}

// Find returns the first stored transaction with the same date and signed
// amount, from a different source, whose description matches candidate.
// It returns nil when there is no match.
func (d *DuplicateDetector) Find(ctx context.Context, candidate repository.Transaction) (*repository.Transaction, error) {
	others, err := d.transactions.FindByDateAmount(ctx, candidate.Date, candidate.Amount)
	if err != nil {
		return nil, err
	}
	for i := range others {
		o := others[i]
		if o.ID == candidate.ID || o.ExternalID == candidate.ExternalID {
			continue
		}
		if o.SourceType == candidate.SourceType && o.SourceAccountID == candidate.SourceAccountID {
			continue
		}
		if IsLikelyDuplicate(candidate.Description, o.Description) {
			return &o, nil
		}
	}
	return nil, nil
}

// IsLikelyDuplicate compares two descriptions: an exact case-insensitive
// match, or at least half of the longer side's significant words shared.
func IsLikelyDuplicate(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a != "" && strings.EqualFold(a, b) {
		return true
	}
	return WordOverlap(a, b) >= duplicateOverlapThreshold
}

// WordOverlap is |A∩B| / max(|A|, |B|) over the significant words of a and b.
func WordOverlap(a, b string) float64 {
	wa, wb := significantWords(a), significantWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	shared := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(max(len(wa), len(wb)))
}

// significantWords lower-cases s after NFKC normalization, splits on
// anything that is not a letter and keeps words of four runes or more.
func significantWords(s string) map[string]struct{} {
	s = strings.ToLower(norm.NFKC.String(s))
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if len([]rune(w)) >= minSignificantWordRunes {
			out[w] = struct{}{}
		}
	}
	return out
}
