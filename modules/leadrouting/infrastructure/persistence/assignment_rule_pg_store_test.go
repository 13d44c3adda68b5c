package persistence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jacksonlee411/opsdesk/modules/leadrouting/domain/ports"
	"github.com/jacksonlee411/opsdesk/modules/leadrouting/domain/types"
)

const tenantID = "00000000-0000-0000-0000-000000000001"

func storeWith(tx *stubTx) ports.AssignmentRuleStore {
	return NewAssignmentRulePGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
}

func TestAssignmentRulePGStore_List(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		tx := &stubTx{rows: [][]any{
			ruleRow("r1", 1, `{"kind":"min_value","value":50000}`),
			ruleRow("r2", 99, ""),
		}}
		got, err := storeWith(tx).ListAssignmentRules(context.Background(), tenantID)
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if len(got) != 2 || got[0].RuleID != "r1" || got[1].Conditions != nil {
			t.Fatalf("got=%+v", got)
		}
		if string(got[0].Conditions) != `{"kind":"min_value","value":50000}` {
			t.Fatalf("conditions=%s", got[0].Conditions)
		}
		if got[0].UpdatedAt.Location() != time.UTC {
			t.Fatalf("updated_at not UTC: %v", got[0].UpdatedAt)
		}
		if !tx.committed {
			t.Fatal("expected commit")
		}
		if !strings.Contains(tx.execSQLs[0], "app.current_tenant") || tx.execArgs[0][0] != tenantID {
			t.Fatalf("tenant not set: %v %v", tx.execSQLs, tx.execArgs)
		}
	})

	t.Run("begin error", func(t *testing.T) {
		s := NewAssignmentRulePGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return nil, errors.New("down") }))
		if _, err := s.ListAssignmentRules(context.Background(), tenantID); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("set tenant error rolls back", func(t *testing.T) {
		tx := &stubTx{execErr: errors.New("denied")}
		if _, err := storeWith(tx).ListAssignmentRules(context.Background(), tenantID); err == nil {
			t.Fatal("expected error")
		}
		if !tx.rolled {
			t.Fatal("expected rollback")
		}
	})

	t.Run("query error", func(t *testing.T) {
		tx := &stubTx{queryErr: errors.New("boom")}
		if _, err := storeWith(tx).ListAssignmentRules(context.Background(), tenantID); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("rows error", func(t *testing.T) {
		tx := &stubTx{rowsErr: errors.New("broken")}
		if _, err := storeWith(tx).ListAssignmentRules(context.Background(), tenantID); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("scan error", func(t *testing.T) {
		tx := &stubTx{rows: [][]any{{"only-one"}}}
		if _, err := storeWith(tx).ListAssignmentRules(context.Background(), tenantID); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("commit error", func(t *testing.T) {
		tx := &stubTx{commitErr: errors.New("commit")}
		if _, err := storeWith(tx).ListAssignmentRules(context.Background(), tenantID); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestAssignmentRulePGStore_Upsert(t *testing.T) {
	t.Run("new rule gets generated id", func(t *testing.T) {
		orig := newRuleID
		newRuleID = func() (string, error) { return "0190f7a0-0000-7000-8000-000000000001", nil }
		t.Cleanup(func() { newRuleID = orig })

		tx := &stubTx{row: ruleRow("0190f7a0-0000-7000-8000-000000000001", 5, `{"kind":"always"}`)}
		in := types.AssignmentRule{Name: "all", Active: true, Priority: 5, Strategy: "skill", Conditions: mustJSON(map[string]string{"kind": "always"})}
		got, err := storeWith(tx).UpsertAssignmentRule(context.Background(), tenantID, in)
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if got.RuleID != "0190f7a0-0000-7000-8000-000000000001" {
			t.Fatalf("rule_id=%s", got.RuleID)
		}
		if tx.rowArgs[1] != "0190f7a0-0000-7000-8000-000000000001" {
			t.Fatalf("args=%v", tx.rowArgs)
		}
		if tx.rowArgs[6] != `{"kind":"always"}` {
			t.Fatalf("conditions arg=%v", tx.rowArgs[6])
		}
		if !tx.committed {
			t.Fatal("expected commit")
		}
	})

	t.Run("nil conditions stored as NULL", func(t *testing.T) {
		tx := &stubTx{row: ruleRow("r9", 99, "")}
		_, err := storeWith(tx).UpsertAssignmentRule(context.Background(), tenantID, types.AssignmentRule{RuleID: "r9", Name: "rest", Strategy: "round_robin", Priority: 99})
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if tx.rowArgs[6] != nil {
			t.Fatalf("conditions arg=%v", tx.rowArgs[6])
		}
	})

	t.Run("id generator error", func(t *testing.T) {
		orig := newRuleID
		newRuleID = func() (string, error) { return "", errors.New("entropy") }
		t.Cleanup(func() { newRuleID = orig })
		if _, err := storeWith(&stubTx{}).UpsertAssignmentRule(context.Background(), tenantID, types.AssignmentRule{Name: "x"}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("row error", func(t *testing.T) {
		tx := &stubTx{rowErr: &pgconn.PgError{Code: "23514", Message: "check"}}
		if _, err := storeWith(tx).UpsertAssignmentRule(context.Background(), tenantID, types.AssignmentRule{RuleID: "r1"}); err == nil {
			t.Fatal("expected error")
		}
		if tx.committed {
			t.Fatal("unexpected commit")
		}
	})
}

func TestAssignmentRulePGStore_Delete(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		tx := &stubTx{execTag: pgconn.NewCommandTag("DELETE 1")}
		if err := storeWith(tx).DeleteAssignmentRule(context.Background(), tenantID, "r1"); err != nil {
			t.Fatalf("err=%v", err)
		}
		if !tx.committed || tx.execArgs[1][1] != "r1" {
			t.Fatalf("committed=%v args=%v", tx.committed, tx.execArgs)
		}
	})

	t.Run("missing", func(t *testing.T) {
		tx := &stubTx{execTag: pgconn.NewCommandTag("DELETE 0")}
		err := storeWith(tx).DeleteAssignmentRule(context.Background(), tenantID, "nope")
		if !errors.Is(err, ports.ErrRuleNotFound) {
			t.Fatalf("err=%v", err)
		}
		if tx.committed {
			t.Fatal("unexpected commit")
		}
	})

	t.Run("exec error", func(t *testing.T) {
		tx := &stubTx{execErr: errors.New("boom"), execErrAt: 2}
		if err := storeWith(tx).DeleteAssignmentRule(context.Background(), tenantID, "r1"); err == nil {
			t.Fatal("expected error")
		}
	})
}
