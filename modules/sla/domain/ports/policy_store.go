package ports

import (
	"context"
	"errors"

	"github.com/jacksonlee411/opsdesk/modules/sla/domain/types"
)

var ErrPolicyNotFound = errors.New("sla: policy not found")

type PolicyStore interface {
	ListPolicies(ctx context.Context, tenantID string) ([]types.Policy, error)
	UpsertPolicy(ctx context.Context, tenantID string, policy types.Policy) (types.Policy, error)
	DeletePolicy(ctx context.Context, tenantID string, policyID string) error
}
