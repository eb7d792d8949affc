package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/bankfeed/internal/aggregator"
	"github.com/jask/bankfeed/internal/database/repository"
)

func TestResetCursorReplaysSafely(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := testCtx(t)
	h.connect(t, "item-1", "Chase")
	h.agg.AddPage("", aggregator.SyncPage{
		Added:      []aggregator.Transaction{feedTx("tx-1", "acc-item-1", "2026-02-03", "4.50", "Starbucks")},
		NextCursor: "c1",
	})
	_, err := h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)

	require.NoError(t, h.engine.ResetCursor(ctx, "item-1"))
	conn := h.connection(t, "item-1")
	require.Nil(t, conn.Cursor)
	require.Equal(t, repository.SyncIdle, conn.SyncStatus)

	res, err := h.engine.SyncConnection(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 1, h.count(t))

	require.ErrorIs(t, h.engine.ResetCursor(ctx, "missing"), ErrConnectionNotFound)
}

func TestImportRules(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := testCtx(t)

	doc := `
rules:
  - match_field: merchant
    match_type: contains
    match_value: starbucks
    account: Meals & Entertainment
    category: Coffee
    priority: 10
  - match_value: "SPOTIFY"
    match_type: startswith
    account: Software & Subscriptions
  - match_value: old rule
    active: false
`
	n, err := h.engine.ImportRules(ctx, strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	active, err := h.rules.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "merchant", active[0].MatchField)
	require.Equal(t, 10, active[0].Priority)
	require.Equal(t, h.ledgerID(t, "Meals & Entertainment"), *active[0].TargetAccountID)
	require.Equal(t, "description", active[1].MatchField)
	require.Equal(t, "startswith", active[1].MatchType)
	require.Equal(t, 100, active[1].Priority)
}

func TestImportRulesRejectsInvalidFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := testCtx(t)

	cases := map[string]string{
		"unknown match type": "rules:\n  - match_value: x\n    match_type: regex\n",
		"unknown account":    "rules:\n  - match_value: x\n    account: Nope\n",
		"empty value":        "rules:\n  - match_value: \"  \"\n",
		"unknown field":      "rules:\n  - match_value: x\n    match_field: amount\n",
		"unknown key":        "rules:\n  - match_value: x\n    colour: red\n",
	}
	for name, doc := range cases {
		_, err := h.engine.ImportRules(ctx, strings.NewReader(doc))
		require.Error(t, err, name)
	}

	// a bad rule anywhere in the file means nothing is inserted
	_, err := h.engine.ImportRules(ctx, strings.NewReader("rules:\n  - match_value: good\n  - match_value: bad\n    match_type: fuzzy\n"))
	require.Error(t, err)
	active, err := h.rules.ListActive(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}
