package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jacksonlee411/opsdesk/modules/leadrouting/domain/ports"
	"github.com/jacksonlee411/opsdesk/modules/leadrouting/domain/types"
	"github.com/jacksonlee411/opsdesk/pkg/httperr"
	"github.com/jacksonlee411/opsdesk/pkg/ruleeval"
	"github.com/jacksonlee411/opsdesk/pkg/rulelint"
	"go.uber.org/zap"
)

type RuleLinter interface {
	Lint(ctx context.Context, rules []ruleeval.Rule) (rulelint.Report, error)
}

type RoutingFacade struct {
	store              ports.AssignmentRuleStore
	linter             RuleLinter
	useDefaultFallback bool
	log                *zap.Logger
}

// NewRoutingFacade wires the rule store and an optional linter. With
// useDefaultFallback, leads that match no rule resolve to
// ruleeval.DefaultFallback instead of ruleeval.ErrNoApplicableRule.
func NewRoutingFacade(store ports.AssignmentRuleStore, linter RuleLinter, useDefaultFallback bool) RoutingFacade {
	return RoutingFacade{store: store, linter: linter, useDefaultFallback: useDefaultFallback, log: zap.NewNop()}
}

// WithLogger returns a copy that logs each routing decision at debug level.
func (f RoutingFacade) WithLogger(log *zap.Logger) RoutingFacade {
	if log != nil {
		f.log = log
	}
	return f
}

func (f RoutingFacade) ListRules(ctx context.Context, tenantID string) ([]types.AssignmentRule, error) {
	return f.store.ListAssignmentRules(ctx, tenantID)
}

func (f RoutingFacade) DeleteRule(ctx context.Context, tenantID string, ruleID string) error {
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return httperr.NewBadRequest("rule_id is required")
	}
	return f.store.DeleteAssignmentRule(ctx, tenantID, ruleID)
}

// SaveRule validates rule, lints the rule set it would produce and persists
// it. Lint warnings are returned alongside the saved rule.
func (f RoutingFacade) SaveRule(ctx context.Context, tenantID string, rule types.AssignmentRule) (types.AssignmentRule, []rulelint.Finding, error) {
	rule.RuleID = strings.TrimSpace(rule.RuleID)
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" {
		return types.AssignmentRule{}, nil, httperr.NewBadRequest("name is required")
	}
	strategy, err := ruleeval.ParseStrategy(rule.Strategy)
	if err != nil {
		return types.AssignmentRule{}, nil, httperr.NewBadRequest("invalid strategy")
	}
	rule.Strategy = string(strategy)
	if rule.Priority < 0 {
		return types.AssignmentRule{}, nil, httperr.NewBadRequest("priority must not be negative")
	}
	conditions, err := ruleeval.CanonicalPredicateJSON(rule.Conditions)
	if err != nil {
		return types.AssignmentRule{}, nil, httperr.NewBadRequest(err.Error())
	}
	rule.Conditions = conditions

	var warnings []rulelint.Finding
	if f.linter != nil {
		existing, err := f.store.ListAssignmentRules(ctx, tenantID)
		if err != nil {
			return types.AssignmentRule{}, nil, err
		}
		report, err := f.linter.Lint(ctx, toEvalRules(mergeRule(existing, rule)))
		if err != nil {
			return types.AssignmentRule{}, nil, fmt.Errorf("lint assignment rules: %w", err)
		}
		if err := report.Err(); err != nil {
			return types.AssignmentRule{}, nil, httperr.NewBadRequest(err.Error())
		}
		warnings = report.Warn
	}

	saved, err := f.store.UpsertAssignmentRule(ctx, tenantID, rule)
	if err != nil {
		return types.AssignmentRule{}, nil, err
	}
	return saved, warnings, nil
}

// RouteLead resolves lead against the tenant's current rule snapshot. When no
// rule applies the partial decision is returned with an error wrapping
// ruleeval.ErrNoApplicableRule.
func (f RoutingFacade) RouteLead(ctx context.Context, tenantID string, lead types.Lead) (types.RoutingDecision, error) {
	lead.LeadUUID = strings.TrimSpace(lead.LeadUUID)
	if lead.LeadUUID == "" {
		return types.RoutingDecision{}, httperr.NewBadRequest("lead_uuid is required")
	}
	if lead.DealValue < 0 {
		return types.RoutingDecision{}, httperr.NewBadRequest("deal_value must not be negative")
	}

	rows, err := f.store.ListAssignmentRules(ctx, tenantID)
	if err != nil {
		return types.RoutingDecision{}, err
	}

	var fallback *ruleeval.Rule
	if f.useDefaultFallback {
		fb := ruleeval.DefaultFallback()
		fallback = &fb
	}
	d := ruleeval.Explain(toEvalRules(rows), leadCandidate(lead), fallback)

	out := types.RoutingDecision{
		LeadUUID:            lead.LeadUUID,
		Fallback:            d.Fallback,
		CandidatesEvaluated: d.Evaluated,
		Steps:               make([]types.RoutingStep, 0, len(d.Steps)),
		BriefExplain:        d.Brief(),
	}
	for _, s := range d.Steps {
		out.Steps = append(out.Steps, types.RoutingStep{RuleID: s.RuleID, Priority: s.Priority, Outcome: string(s.Outcome), Reason: s.Reason})
	}
	f.log.Debug("lead routed",
		zap.String("tenant", tenantID),
		zap.String("lead_uuid", lead.LeadUUID),
		zap.String("rule_id", d.Rule.ID),
		zap.Bool("fallback", d.Fallback),
		zap.String("explain", out.BriefExplain),
	)
	if err := d.Err(); err != nil {
		return out, fmt.Errorf("lead %s: %w", lead.LeadUUID, err)
	}
	out.RuleID = d.Rule.ID
	out.RuleName = d.Rule.Name
	out.Strategy = string(d.Rule.Strategy)
	return out, nil
}

func IsNoApplicableRule(err error) bool {
	return errors.Is(err, ruleeval.ErrNoApplicableRule)
}

func leadCandidate(lead types.Lead) ruleeval.Candidate {
	return ruleeval.Candidate{
		ID:       lead.LeadUUID,
		Kind:     ruleeval.CandidateLead,
		Value:    lead.DealValue,
		Industry: lead.Industry,
		Source:   lead.Source,
		Attributes: map[string]string{
			"company": lead.Company,
		},
	}
}

func toEvalRules(rows []types.AssignmentRule) []ruleeval.Rule {
	out := make([]ruleeval.Rule, 0, len(rows))
	for _, row := range rows {
		// A column that fails to parse becomes a Malformed predicate and
		// simply never matches.
		cond, _ := ruleeval.ParsePredicateJSON(row.Conditions)
		out = append(out, ruleeval.Rule{
			ID:         row.RuleID,
			Name:       row.Name,
			Active:     row.Active,
			Priority:   row.Priority,
			Strategy:   ruleeval.Strategy(row.Strategy),
			Conditions: cond,
		})
	}
	return out
}

const pendingRuleID = "(new rule)"

func mergeRule(existing []types.AssignmentRule, rule types.AssignmentRule) []types.AssignmentRule {
	out := make([]types.AssignmentRule, 0, len(existing)+1)
	replaced := false
	for _, r := range existing {
		if rule.RuleID != "" && r.RuleID == rule.RuleID {
			out = append(out, rule)
			replaced = true
			continue
		}
		out = append(out, r)
	}
	if !replaced {
		if rule.RuleID == "" {
			rule.RuleID = pendingRuleID
		}
		out = append(out, rule)
	}
	return out
}
