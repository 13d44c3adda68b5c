package persistence

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jacksonlee411/opsdesk/modules/leadrouting/domain/ports"
	"github.com/jacksonlee411/opsdesk/modules/leadrouting/domain/types"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type AssignmentRulePGStore struct {
	pool pgBeginner
}

func NewAssignmentRulePGStore(pool pgBeginner) ports.AssignmentRuleStore {
	return &AssignmentRulePGStore{pool: pool}
}

var newRuleID = func() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *AssignmentRulePGStore) begin(ctx context.Context, tenantID string) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		_ = tx.Rollback(context.Background())
		return nil, err
	}
	return tx, nil
}

func (s *AssignmentRulePGStore) ListAssignmentRules(ctx context.Context, tenantID string) ([]types.AssignmentRule, error) {
	tx, err := s.begin(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
	SELECT
	  rule_id,
	  name,
	  active,
	  priority,
	  strategy,
	  COALESCE(conditions::text, ''),
	  updated_at
	FROM crm.lead_assignment_rules
	WHERE tenant_uuid = $1::uuid
	ORDER BY created_at ASC, rule_id ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AssignmentRule
	for rows.Next() {
		r, err := scanAssignmentRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *AssignmentRulePGStore) UpsertAssignmentRule(ctx context.Context, tenantID string, rule types.AssignmentRule) (types.AssignmentRule, error) {
	if strings.TrimSpace(rule.RuleID) == "" {
		id, err := newRuleID()
		if err != nil {
			return types.AssignmentRule{}, err
		}
		rule.RuleID = id
	}

	tx, err := s.begin(ctx, tenantID)
	if err != nil {
		return types.AssignmentRule{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	saved, err := scanAssignmentRule(tx.QueryRow(ctx, `
	INSERT INTO crm.lead_assignment_rules (tenant_uuid, rule_id, name, active, priority, strategy, conditions)
	VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::jsonb)
	ON CONFLICT (tenant_uuid, rule_id) DO UPDATE SET
	  name = EXCLUDED.name,
	  active = EXCLUDED.active,
	  priority = EXCLUDED.priority,
	  strategy = EXCLUDED.strategy,
	  conditions = EXCLUDED.conditions,
	  updated_at = now()
	RETURNING rule_id, name, active, priority, strategy, COALESCE(conditions::text, ''), updated_at
	`, tenantID, rule.RuleID, rule.Name, rule.Active, rule.Priority, rule.Strategy, nullableJSON(rule.Conditions)))
	if err != nil {
		return types.AssignmentRule{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.AssignmentRule{}, err
	}
	return saved, nil
}

func (s *AssignmentRulePGStore) DeleteAssignmentRule(ctx context.Context, tenantID string, ruleID string) error {
	tx, err := s.begin(ctx, tenantID)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tag, err := tx.Exec(ctx, `
	DELETE FROM crm.lead_assignment_rules
	WHERE tenant_uuid = $1::uuid AND rule_id = $2
	`, tenantID, ruleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrRuleNotFound
	}
	return tx.Commit(ctx)
}

func scanAssignmentRule(row pgx.Row) (types.AssignmentRule, error) {
	var r types.AssignmentRule
	var conditions string
	var updatedAt time.Time
	if err := row.Scan(&r.RuleID, &r.Name, &r.Active, &r.Priority, &r.Strategy, &conditions, &updatedAt); err != nil {
		return types.AssignmentRule{}, err
	}
	if conditions != "" {
		r.Conditions = json.RawMessage(conditions)
	}
	r.UpdatedAt = updatedAt.UTC()
	return r, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
