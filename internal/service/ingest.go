package service

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/bankfeed/internal/database/repository"
)

// StatementFormat selects the CSV layout of an imported statement.
type StatementFormat int

const (
	// FormatGeneric: date, posted_date, description, amount[, external_id]
	// with ISO dates. A header row is skipped.
	FormatGeneric StatementFormat = iota
	// FormatANZ: date, amount, description with d/mm/yyyy dates and no header.
	FormatANZ
)

// ParseStatementFormat reports false for unknown names.
func ParseStatementFormat(s string) (StatementFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "generic":
		return FormatGeneric, true
	case "anz":
		return FormatANZ, true
	}
	return FormatGeneric, false
}

// StatementImporter stages statement rows as ledger transactions alongside
// the bank feed. Rows go through the same duplicate detection and
// categorization as feed deltas.
type StatementImporter struct {
	ledger       LedgerAccountStore
	transactions TransactionStore
	detector     *DuplicateDetector
	categorizer  *Categorizer
	log          *slog.Logger
}

func (e *Engine) StatementImporter() *StatementImporter {
	return &StatementImporter{
		ledger:       e.deps.Ledger,
		transactions: e.deps.Transactions,
		detector:     e.detector,
		categorizer:  e.categorizer,
		log:          e.log,
	}
}

type ImportResult struct {
	Imported   int
	Skipped    int
	Duplicates int
	Errors     []error
}

type statementRow struct {
	date        time.Time
	posted      *time.Time
	description string
	amount      decimal.Decimal
	externalID  string
}

// ImportCSV reads a statement for the ledger account named account. Amounts
// are taken as already in ledger sign (negative = money out). Re-importing
// the same statement skips rows already staged.
func (s *StatementImporter) ImportCSV(ctx context.Context, r io.Reader, account string, format StatementFormat) (ImportResult, error) {
	res := ImportResult{}
	acct, err := s.ledger.GetByName(ctx, strings.TrimSpace(account))
	if err != nil {
		return res, err
	}
	if acct == nil {
		return res, fmt.Errorf("%w: %q", ErrLedgerAccountNotFound, account)
	}

	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1
	seen := make(map[string]int)
	line := 0
	for {
		line++
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if line == 1 && format == FormatGeneric && isHeader(rec) {
			continue
		}
		row, err := parseStatementRow(rec, format)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}

		if row.externalID == "" {
			row.externalID = sourceID(acct.ID, row, seen)
		}
		dup, err := s.stage(ctx, acct.ID, row)
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			res.Skipped++
		case err != nil:
			res.Errors = append(res.Errors, fmt.Errorf("line %d insert: %w", line, err))
		default:
			res.Imported++
			if dup {
				res.Duplicates++
			}
		}
	}
	s.log.Info("statement imported", "account", acct.Name, "imported", res.Imported,
		"skipped", res.Skipped, "duplicates", res.Duplicates, "errors", len(res.Errors))
	return res, nil
}

func (s *StatementImporter) stage(ctx context.Context, accountID string, row statementRow) (bool, error) {
	externalID := "stmt_" + row.externalID

	existing, err := s.transactions.GetByExternalID(ctx, externalID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, repository.ErrDuplicate
	}

	t := repository.Transaction{
		ID:              uuid.NewString(),
		ExternalID:      externalID,
		SourceType:      repository.SourceStatement,
		SourceAccountID: accountID,
		Amount:          row.amount,
		Date:            row.date,
		PostDate:        row.posted,
		Description:     row.description,
		Status:          repository.TxPending,
	}
	dup, err := s.detector.Find(ctx, t)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	if dup != nil {
		t.IsPotentialDuplicate = true
		t.DuplicateOfID = &dup.ID
	}
	sug := s.categorizer.Categorize(ctx, CategorizeInput{Description: t.Description, Amount: t.Amount})
	t.SuggestedAccountID = sug.AccountID
	t.SuggestedCategory = sug.Category
	t.SuggestedMemo = sug.Memo
	t.Confidence = sug.Confidence

	if err := s.transactions.Insert(ctx, t); err != nil {
		return false, err
	}
	return dup != nil, nil
}

func parseStatementRow(rec []string, format StatementFormat) (statementRow, error) {
	var row statementRow
	var err error
	switch format {
	case FormatANZ:
		if len(rec) < 3 {
			return row, fmt.Errorf("expected 3 columns (date, amount, description)")
		}
		if row.date, err = time.Parse("2/01/2006", strings.TrimSpace(rec[0])); err != nil {
			return row, fmt.Errorf("date: %w", err)
		}
		if row.amount, err = parseAmount(rec[1]); err != nil {
			return row, fmt.Errorf("amount: %w", err)
		}
		row.description = strings.TrimSpace(rec[2])
		posted := row.date
		row.posted = &posted
	default:
		if len(rec) < 4 {
			return row, fmt.Errorf("expected at least 4 columns (date, posted_date, description, amount)")
		}
		if row.date, err = time.Parse(time.DateOnly, strings.TrimSpace(rec[0])); err != nil {
			return row, fmt.Errorf("date: %w", err)
		}
		if p := strings.TrimSpace(rec[1]); p != "" {
			posted, err := time.Parse(time.DateOnly, p)
			if err != nil {
				return row, fmt.Errorf("posted_date: %w", err)
			}
			row.posted = &posted
		}
		row.description = strings.TrimSpace(rec[2])
		if row.amount, err = parseAmount(rec[3]); err != nil {
			return row, fmt.Errorf("amount: %w", err)
		}
		if len(rec) > 4 {
			row.externalID = strings.TrimSpace(rec[4])
		}
	}
	if row.description == "" {
		return row, fmt.Errorf("description required")
	}
	return row, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.NewReplacer(",", "", "$", "").Replace(strings.TrimSpace(s))
	return decimal.NewFromString(s)
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "date")
}

// sourceID derives an id for a row without one. Identical rows in the same
// file are numbered in order, so repeats are kept and a re-import of the
// file maps every row back onto its earlier id.
func sourceID(accountID string, row statementRow, seen map[string]int) string {
	parts := []string{accountID, row.date.Format(time.DateOnly), row.amount.String(), row.description}
	key := strings.Join(parts, "|")
	n := seen[key]
	seen[key]++
	if n > 0 {
		parts = append(parts, strconv.Itoa(n))
	}
	return hashSource(parts...)
}

func hashSource(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", sum[:])
}
