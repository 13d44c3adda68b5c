package persistence

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jacksonlee411/opsdesk/modules/sla/domain/ports"
	"github.com/jacksonlee411/opsdesk/modules/sla/domain/types"
)

type PolicyMemoryStore struct {
	mu       sync.RWMutex
	policies map[string][]types.Policy
	now      func() time.Time
}

func NewPolicyMemoryStore() *PolicyMemoryStore {
	return &PolicyMemoryStore{policies: make(map[string][]types.Policy), now: time.Now}
}

func (s *PolicyMemoryStore) ListPolicies(_ context.Context, tenantID string) ([]types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.policies[tenantID]), nil
}

func (s *PolicyMemoryStore) UpsertPolicy(_ context.Context, tenantID string, policy types.Policy) (types.Policy, error) {
	if strings.TrimSpace(policy.PolicyID) == "" {
		id, err := newPolicyID()
		if err != nil {
			return types.Policy{}, err
		}
		policy.PolicyID = id
	}
	policy.Conditions = slices.Clone(policy.Conditions)

	s.mu.Lock()
	defer s.mu.Unlock()
	policy.UpdatedAt = s.now().UTC()
	list := s.policies[tenantID]
	if i := slices.IndexFunc(list, func(p types.Policy) bool { return p.PolicyID == policy.PolicyID }); i >= 0 {
		list[i] = policy
		return policy, nil
	}
	s.policies[tenantID] = append(list, policy)
	return policy, nil
}

func (s *PolicyMemoryStore) DeletePolicy(_ context.Context, tenantID string, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.policies[tenantID]
	i := slices.IndexFunc(list, func(p types.Policy) bool { return p.PolicyID == policyID })
	if i < 0 {
		return ports.ErrPolicyNotFound
	}
	s.policies[tenantID] = slices.Delete(list, i, i+1)
	return nil
}

var _ ports.PolicyStore = (*PolicyMemoryStore)(nil)
