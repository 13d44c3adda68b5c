package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jacksonlee411/opsdesk/modules/sla/domain/ports"
	"github.com/jacksonlee411/opsdesk/modules/sla/domain/types"
	"github.com/jacksonlee411/opsdesk/pkg/httperr"
	"github.com/jacksonlee411/opsdesk/pkg/ruleeval"
	"github.com/jacksonlee411/opsdesk/pkg/rulelint"
	"go.uber.org/zap"
)

// maxResponseMinutes is the largest window that still fits a time.Duration.
const maxResponseMinutes = math.MaxInt64 / int64(time.Minute)

type PolicyLinter interface {
	Lint(ctx context.Context, rules []ruleeval.Rule) (rulelint.Report, error)
}

type EscalationService struct {
	store  ports.PolicyStore
	linter PolicyLinter
	log    *zap.Logger
}

func NewEscalationService(store ports.PolicyStore, linter PolicyLinter) EscalationService {
	return EscalationService{store: store, linter: linter, log: zap.NewNop()}
}

func (s EscalationService) WithLogger(log *zap.Logger) EscalationService {
	if log != nil {
		s.log = log
	}
	return s
}

func (s EscalationService) ListPolicies(ctx context.Context, tenantID string) ([]types.Policy, error) {
	return s.store.ListPolicies(ctx, tenantID)
}

func (s EscalationService) DeletePolicy(ctx context.Context, tenantID string, policyID string) error {
	policyID = strings.TrimSpace(policyID)
	if policyID == "" {
		return httperr.NewBadRequest("policy_id is required")
	}
	return s.store.DeletePolicy(ctx, tenantID, policyID)
}

func (s EscalationService) SavePolicy(ctx context.Context, tenantID string, policy types.Policy) (types.Policy, []rulelint.Finding, error) {
	policy.PolicyID = strings.TrimSpace(policy.PolicyID)
	policy.Name = strings.TrimSpace(policy.Name)
	policy.EscalateTo = strings.TrimSpace(policy.EscalateTo)
	if policy.Name == "" {
		return types.Policy{}, nil, httperr.NewBadRequest("name is required")
	}
	if policy.Priority < 0 {
		return types.Policy{}, nil, httperr.NewBadRequest("priority must not be negative")
	}
	if policy.ResponseMinutes <= 0 {
		return types.Policy{}, nil, httperr.NewBadRequest("response_minutes must be positive")
	}
	if int64(policy.ResponseMinutes) > maxResponseMinutes {
		return types.Policy{}, nil, httperr.NewBadRequest(fmt.Sprintf("response_minutes must not exceed %d", maxResponseMinutes))
	}
	if policy.EscalateTo == "" {
		return types.Policy{}, nil, httperr.NewBadRequest("escalate_to is required")
	}
	conditions, err := ruleeval.CanonicalPredicateJSON(policy.Conditions)
	if err != nil {
		return types.Policy{}, nil, httperr.NewBadRequest(err.Error())
	}
	policy.Conditions = conditions

	var warnings []rulelint.Finding
	if s.linter != nil {
		existing, err := s.store.ListPolicies(ctx, tenantID)
		if err != nil {
			return types.Policy{}, nil, err
		}
		report, err := s.linter.Lint(ctx, toEvalRules(mergePolicy(existing, policy)))
		if err != nil {
			return types.Policy{}, nil, fmt.Errorf("lint sla policies: %w", err)
		}
		if err := report.Err(); err != nil {
			return types.Policy{}, nil, httperr.NewBadRequest(err.Error())
		}
		warnings = report.Warn
	}

	saved, err := s.store.UpsertPolicy(ctx, tenantID, policy)
	if err != nil {
		return types.Policy{}, nil, err
	}
	return saved, warnings, nil
}

// EvaluateTicket picks the policy governing ticket and reports whether its
// response deadline was missed as of now. A ticket that no policy covers
// yields an error wrapping ruleeval.ErrNoApplicableRule; there is no implicit
// default policy.
func (s EscalationService) EvaluateTicket(ctx context.Context, tenantID string, ticket types.Ticket, now time.Time) (types.Evaluation, error) {
	ticket.TicketUUID = strings.TrimSpace(ticket.TicketUUID)
	if ticket.TicketUUID == "" {
		return types.Evaluation{}, httperr.NewBadRequest("ticket_uuid is required")
	}
	if ticket.OpenedAt.IsZero() {
		return types.Evaluation{}, httperr.NewBadRequest("opened_at is required")
	}
	if ticket.OpenedAt.After(now) {
		return types.Evaluation{}, httperr.NewBadRequest("opened_at must not be in the future")
	}
	if ticket.FirstResponseAt != nil && ticket.FirstResponseAt.Before(ticket.OpenedAt) {
		return types.Evaluation{}, httperr.NewBadRequest("first_response_at must not precede opened_at")
	}

	policies, err := s.store.ListPolicies(ctx, tenantID)
	if err != nil {
		return types.Evaluation{}, err
	}
	byID := make(map[string]types.Policy, len(policies))
	for _, p := range policies {
		byID[p.PolicyID] = p
	}

	d := ruleeval.Explain(toEvalRules(policies), ticketCandidate(ticket, now), nil)
	out := types.Evaluation{
		TicketUUID:   ticket.TicketUUID,
		BriefExplain: d.Brief(),
	}
	if err := d.Err(); err != nil {
		return out, fmt.Errorf("ticket %s: %w", ticket.TicketUUID, err)
	}

	policy := byID[d.Rule.ID]
	out.PolicyID = policy.PolicyID
	out.PolicyName = policy.Name
	out.Deadline = responseDeadline(ticket.OpenedAt, policy.ResponseMinutes)
	out.Breached = breached(ticket, out.Deadline, now)
	if out.Breached {
		out.EscalateTo = policy.EscalateTo
	}
	s.log.Debug("ticket evaluated",
		zap.String("tenant", tenantID),
		zap.String("ticket_uuid", ticket.TicketUUID),
		zap.String("policy_id", out.PolicyID),
		zap.Bool("breached", out.Breached),
		zap.String("explain", out.BriefExplain),
	)
	return out, nil
}

func IsNoApplicablePolicy(err error) bool {
	return errors.Is(err, ruleeval.ErrNoApplicableRule)
}

// responseDeadline saturates windows stored before the upper bound existed.
func responseDeadline(openedAt time.Time, minutes int) time.Time {
	m := min(int64(minutes), maxResponseMinutes)
	return openedAt.Add(time.Duration(m) * time.Minute).UTC()
}

func breached(ticket types.Ticket, deadline time.Time, now time.Time) bool {
	if ticket.FirstResponseAt == nil {
		return now.After(deadline)
	}
	return ticket.FirstResponseAt.After(deadline)
}

func ticketCandidate(ticket types.Ticket, now time.Time) ruleeval.Candidate {
	return ruleeval.Candidate{
		ID:   ticket.TicketUUID,
		Kind: ruleeval.CandidateTicket,
		Tier: ticket.Tier,
		Age:  now.Sub(ticket.OpenedAt),
		Attributes: map[string]string{
			"category": ticket.Category,
		},
	}
}

func toEvalRules(rows []types.Policy) []ruleeval.Rule {
	out := make([]ruleeval.Rule, 0, len(rows))
	for _, row := range rows {
		cond, _ := ruleeval.ParsePredicateJSON(row.Conditions)
		out = append(out, ruleeval.Rule{
			ID:         row.PolicyID,
			Name:       row.Name,
			Active:     row.Active,
			Priority:   row.Priority,
			Conditions: cond,
		})
	}
	return out
}

const pendingPolicyID = "(new policy)"

func mergePolicy(existing []types.Policy, policy types.Policy) []types.Policy {
	out := make([]types.Policy, 0, len(existing)+1)
	replaced := false
	for _, p := range existing {
		if policy.PolicyID != "" && p.PolicyID == policy.PolicyID {
			out = append(out, policy)
			replaced = true
			continue
		}
		out = append(out, p)
	}
	if !replaced {
		if policy.PolicyID == "" {
			policy.PolicyID = pendingPolicyID
		}
		out = append(out, policy)
	}
	return out
}
