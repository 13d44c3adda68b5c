package ports

import (
	"context"
	"errors"

	"github.com/jacksonlee411/opsdesk/modules/leadrouting/domain/types"
)

var ErrRuleNotFound = errors.New("leadrouting: assignment rule not found")

type AssignmentRuleStore interface {
	ListAssignmentRules(ctx context.Context, tenantID string) ([]types.AssignmentRule, error)
	UpsertAssignmentRule(ctx context.Context, tenantID string, rule types.AssignmentRule) (types.AssignmentRule, error)
	DeleteAssignmentRule(ctx context.Context, tenantID string, ruleID string) error
}
