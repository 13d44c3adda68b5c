package persistence

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jacksonlee411/opsdesk/modules/sla/domain/ports"
	"github.com/jacksonlee411/opsdesk/modules/sla/domain/types"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PolicyPGStore struct {
	pool pgBeginner
}

func NewPolicyPGStore(pool pgBeginner) ports.PolicyStore {
	return &PolicyPGStore{pool: pool}
}

var newPolicyID = func() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

const policyColumns = `policy_id, name, active, priority, COALESCE(conditions::text, ''), response_minutes, escalate_to, updated_at`

func (s *PolicyPGStore) withTenantTx(ctx context.Context, tenantID string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PolicyPGStore) ListPolicies(ctx context.Context, tenantID string) ([]types.Policy, error) {
	var out []types.Policy
	err := s.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
		SELECT `+policyColumns+`
		FROM support.sla_policies
		WHERE tenant_uuid = $1::uuid
		ORDER BY created_at ASC, policy_id ASC
		`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPolicy(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PolicyPGStore) UpsertPolicy(ctx context.Context, tenantID string, policy types.Policy) (types.Policy, error) {
	if strings.TrimSpace(policy.PolicyID) == "" {
		id, err := newPolicyID()
		if err != nil {
			return types.Policy{}, err
		}
		policy.PolicyID = id
	}

	var saved types.Policy
	err := s.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		saved, err = scanPolicy(tx.QueryRow(ctx, `
		INSERT INTO support.sla_policies (tenant_uuid, policy_id, name, active, priority, conditions, response_minutes, escalate_to)
		VALUES ($1::uuid, $2, $3, $4, $5, $6::jsonb, $7, $8)
		ON CONFLICT (tenant_uuid, policy_id) DO UPDATE SET
		  name = EXCLUDED.name,
		  active = EXCLUDED.active,
		  priority = EXCLUDED.priority,
		  conditions = EXCLUDED.conditions,
		  response_minutes = EXCLUDED.response_minutes,
		  escalate_to = EXCLUDED.escalate_to,
		  updated_at = now()
		RETURNING `+policyColumns+`
		`, tenantID, policy.PolicyID, policy.Name, policy.Active, policy.Priority, nullableJSON(policy.Conditions), policy.ResponseMinutes, policy.EscalateTo))
		return err
	})
	if err != nil {
		return types.Policy{}, err
	}
	return saved, nil
}

func (s *PolicyPGStore) DeletePolicy(ctx context.Context, tenantID string, policyID string) error {
	return s.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
		DELETE FROM support.sla_policies
		WHERE tenant_uuid = $1::uuid AND policy_id = $2
		`, tenantID, policyID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ports.ErrPolicyNotFound
		}
		return nil
	})
}

func scanPolicy(row pgx.Row) (types.Policy, error) {
	var p types.Policy
	var conditions string
	var updatedAt time.Time
	if err := row.Scan(&p.PolicyID, &p.Name, &p.Active, &p.Priority, &conditions, &p.ResponseMinutes, &p.EscalateTo, &updatedAt); err != nil {
		return types.Policy{}, err
	}
	if conditions != "" {
		p.Conditions = json.RawMessage(conditions)
	}
	p.UpdatedAt = updatedAt.UTC()
	return p, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
