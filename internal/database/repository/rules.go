package repository

import (
	"context"
	"database/sql"
)

// RuleRepo stores categorization rules.
type RuleRepo struct{ db *sql.DB }

func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

func (r *RuleRepo) Insert(ctx context.Context, cr CategorizationRule) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO categorization_rules(id, match_field, match_type, match_value, target_account_id, category, priority, active, hit_count, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, cr.ID, cr.MatchField, cr.MatchType, cr.MatchValue, cr.TargetAccountID, cr.Category, cr.Priority, cr.Active, cr.HitCount)
	return translateErr(err)
}

// ListActive returns active rules, lowest priority value first.
func (r *RuleRepo) ListActive(ctx context.Context) ([]CategorizationRule, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, match_field, match_type, match_value, target_account_id, category, priority, active, hit_count, created_at
	FROM categorization_rules WHERE active = 1 ORDER BY priority ASC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CategorizationRule
	for rows.Next() {
		var cr CategorizationRule
		var target sql.NullString
		if err := rows.Scan(&cr.ID, &cr.MatchField, &cr.MatchType, &cr.MatchValue, &target, &cr.Category, &cr.Priority, &cr.Active, &cr.HitCount, &cr.CreatedAt); err != nil {
			return nil, err
		}
		cr.TargetAccountID = nullString(target)
		out = append(out, cr)
	}
	return out, rows.Err()
}

func (r *RuleRepo) IncrementHitCount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE categorization_rules SET hit_count = hit_count + 1 WHERE id = ?`, id)
	return err
}

func (r *RuleRepo) HitCount(ctx context.Context, id string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT hit_count FROM categorization_rules WHERE id = ?`, id).Scan(&n)
	return n, err
}
