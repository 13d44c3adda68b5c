package persistence

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jacksonlee411/opsdesk/modules/leadrouting/domain/ports"
	"github.com/jacksonlee411/opsdesk/modules/leadrouting/domain/types"
)

// AssignmentRuleMemoryStore keeps rules per tenant in insertion order. It
// backs the server when no database is configured.
type AssignmentRuleMemoryStore struct {
	mu    sync.Mutex
	rules map[string][]types.AssignmentRule
	now   func() time.Time
}

func NewAssignmentRuleMemoryStore() *AssignmentRuleMemoryStore {
	return &AssignmentRuleMemoryStore{rules: make(map[string][]types.AssignmentRule), now: time.Now}
}

func (s *AssignmentRuleMemoryStore) ListAssignmentRules(_ context.Context, tenantID string) ([]types.AssignmentRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rules[tenantID]), nil
}

func (s *AssignmentRuleMemoryStore) UpsertAssignmentRule(_ context.Context, tenantID string, rule types.AssignmentRule) (types.AssignmentRule, error) {
	if strings.TrimSpace(rule.RuleID) == "" {
		id, err := newRuleID()
		if err != nil {
			return types.AssignmentRule{}, err
		}
		rule.RuleID = id
	}
	rule.Conditions = slices.Clone(rule.Conditions)

	s.mu.Lock()
	defer s.mu.Unlock()
	rule.UpdatedAt = s.now().UTC()
	list := s.rules[tenantID]
	for i := range list {
		if list[i].RuleID == rule.RuleID {
			list[i] = rule
			return rule, nil
		}
	}
	s.rules[tenantID] = append(list, rule)
	return rule, nil
}

func (s *AssignmentRuleMemoryStore) DeleteAssignmentRule(_ context.Context, tenantID string, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.rules[tenantID]
	for i := range list {
		if list[i].RuleID == ruleID {
			s.rules[tenantID] = slices.Delete(list, i, i+1)
			return nil
		}
	}
	return ports.ErrRuleNotFound
}

var _ ports.AssignmentRuleStore = (*AssignmentRuleMemoryStore)(nil)
