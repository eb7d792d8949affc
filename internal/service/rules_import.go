package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jask/bankfeed/internal/database/repository"
)

const defaultRulePriority = 100

// RuleFile is the YAML layout accepted by ImportRules.
//
//	rules:
//	  - match_field: merchant
//	    match_type: contains
//	    match_value: starbucks
//	    account: Meals & Entertainment
//	    category: Coffee
//	    priority: 10
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

type RuleSpec struct {
	MatchField string `yaml:"match_field"`
	MatchType  string `yaml:"match_type"`
	MatchValue string `yaml:"match_value"`
	Account    string `yaml:"account"`
	Category   string `yaml:"category"`
	Priority   *int   `yaml:"priority"`
	Active     *bool  `yaml:"active"`
}

// ImportRules validates every rule in r before inserting any of them.
func (e *Engine) ImportRules(ctx context.Context, r io.Reader) (int, error) {
	var f RuleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return 0, fmt.Errorf("decode rules: %w", err)
	}

	rules := make([]repository.CategorizationRule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		rule, err := e.ruleFromSpec(ctx, spec)
		if err != nil {
			return 0, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	for _, rule := range rules {
		if err := e.deps.Rules.Insert(ctx, rule); err != nil {
			return 0, fmt.Errorf("insert rule %q: %w", rule.MatchValue, err)
		}
	}
	e.log.Info("rules imported", "count", len(rules))
	return len(rules), nil
}

func (e *Engine) ruleFromSpec(ctx context.Context, spec RuleSpec) (repository.CategorizationRule, error) {
	var rule repository.CategorizationRule
	value := strings.TrimSpace(spec.MatchValue)
	if value == "" {
		return rule, fmt.Errorf("match_value required")
	}
	field := strings.ToLower(strings.TrimSpace(spec.MatchField))
	switch field {
	case "":
		field = MatchFieldDescription
	case MatchFieldDescription, MatchFieldMerchant:
	default:
		return rule, fmt.Errorf("unknown match_field %q", spec.MatchField)
	}
	mt := MatchContains
	if spec.MatchType != "" {
		var ok bool
		if mt, ok = ParseMatchType(spec.MatchType); !ok {
			return rule, fmt.Errorf("unknown match_type %q", spec.MatchType)
		}
	}

	var target *string
	if name := strings.TrimSpace(spec.Account); name != "" {
		acct, err := e.deps.Ledger.GetByName(ctx, name)
		if err != nil {
			return rule, err
		}
		if acct == nil {
			return rule, fmt.Errorf("%w: %q", ErrLedgerAccountNotFound, name)
		}
		target = &acct.ID
	}

	priority := defaultRulePriority
	if spec.Priority != nil {
		priority = *spec.Priority
	}
	active := true
	if spec.Active != nil {
		active = *spec.Active
	}
	return repository.CategorizationRule{
		ID:              uuid.NewString(),
		MatchField:      field,
		MatchType:       mt.String(),
		MatchValue:      value,
		TargetAccountID: target,
		Category:        strings.TrimSpace(spec.Category),
		Priority:        priority,
		Active:          active,
	}, nil
}
