package persistence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jacksonlee411/opsdesk/modules/sla/domain/ports"
	"github.com/jacksonlee411/opsdesk/modules/sla/domain/types"
)

const tenantID = "00000000-0000-0000-0000-000000000002"

type fakeTx struct {
	pgx.Tx

	execErr   error
	tag       pgconn.CommandTag
	execSQLs  []string
	rows      [][]any
	queryErr  error
	row       []any
	rowErr    error
	rowArgs   []any
	commitErr error
	committed bool
	rolled    bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.execSQLs = append(t.execSQLs, sql)
	if strings.Contains(sql, "set_config") {
		if t.execErr != nil {
			return pgconn.CommandTag{}, t.execErr
		}
		return pgconn.NewCommandTag("SELECT 1"), nil
	}
	return t.tag, nil
}

func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if t.queryErr != nil {
		return nil, t.queryErr
	}
	return &fakeRows{data: t.rows}, nil
}

func (t *fakeTx) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	t.rowArgs = args
	return fakeRow{vals: t.row, err: t.rowErr}
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error { t.rolled = true; return nil }

type fakeRows struct {
	pgx.Rows

	data [][]any
	idx  int
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}
func (r *fakeRows) Scan(dest ...any) error { return fakeRow{vals: r.data[r.idx-1]}.Scan(dest...) }

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			*d = r.vals[i].(string)
		case *bool:
			*d = r.vals[i].(bool)
		case *int:
			*d = r.vals[i].(int)
		case *time.Time:
			*d = r.vals[i].(time.Time)
		default:
			return errors.New("unsupported scan type")
		}
	}
	return nil
}

type beginFunc func(ctx context.Context) (pgx.Tx, error)

func (f beginFunc) Begin(ctx context.Context) (pgx.Tx, error) { return f(ctx) }

func pgStoreWith(tx *fakeTx) ports.PolicyStore {
	return NewPolicyPGStore(beginFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
}

func policyRow(id string, priority int, conditions string) []any {
	return []any{id, "policy " + id, true, priority, conditions, 60, "support-lead", time.Date(2026, 5, 2, 9, 0, 0, 0, time.FixedZone("CEST", 2*3600))}
}

func TestPolicyPGStore_List(t *testing.T) {
	tx := &fakeTx{rows: [][]any{policyRow("gold", 1, `{"kind":"tier_in","values":["gold"]}`), policyRow("rest", 50, "")}}
	got, err := pgStoreWith(tx).ListPolicies(context.Background(), tenantID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].PolicyID != "gold" || got[0].ResponseMinutes != 60 || got[1].Conditions != nil {
		t.Fatalf("got=%+v", got)
	}
	if got[0].UpdatedAt.Location() != time.UTC {
		t.Fatalf("updated_at=%v", got[0].UpdatedAt)
	}
	if !tx.committed || !strings.Contains(tx.execSQLs[0], "app.current_tenant") {
		t.Fatalf("committed=%v sqls=%v", tx.committed, tx.execSQLs)
	}

	t.Run("query error", func(t *testing.T) {
		tx := &fakeTx{queryErr: errors.New("boom")}
		if _, err := pgStoreWith(tx).ListPolicies(context.Background(), tenantID); err == nil || tx.committed || !tx.rolled {
			t.Fatalf("err=%v committed=%v rolled=%v", err, tx.committed, tx.rolled)
		}
	})

	t.Run("set tenant error", func(t *testing.T) {
		tx := &fakeTx{execErr: errors.New("denied")}
		if _, err := pgStoreWith(tx).ListPolicies(context.Background(), tenantID); err == nil || !tx.rolled {
			t.Fatalf("err=%v rolled=%v", err, tx.rolled)
		}
	})

	t.Run("begin error", func(t *testing.T) {
		s := NewPolicyPGStore(beginFunc(func(context.Context) (pgx.Tx, error) { return nil, errors.New("down") }))
		if _, err := s.ListPolicies(context.Background(), tenantID); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestPolicyPGStore_Upsert(t *testing.T) {
	orig := newPolicyID
	t.Cleanup(func() { newPolicyID = orig })
	newPolicyID = func() (string, error) { return "0190a1b2-0000-7000-8000-000000000001", nil }

	tx := &fakeTx{row: policyRow("0190a1b2-0000-7000-8000-000000000001", 3, "")}
	saved, err := pgStoreWith(tx).UpsertPolicy(context.Background(), tenantID, types.Policy{Name: "x", Active: true, Priority: 3, ResponseMinutes: 60, EscalateTo: "support-lead"})
	if err != nil {
		t.Fatal(err)
	}
	if saved.PolicyID != "0190a1b2-0000-7000-8000-000000000001" || !tx.committed {
		t.Fatalf("saved=%+v committed=%v", saved, tx.committed)
	}
	if tx.rowArgs[1] != saved.PolicyID || tx.rowArgs[5] != nil {
		t.Fatalf("args=%v", tx.rowArgs)
	}

	t.Run("id error", func(t *testing.T) {
		newPolicyID = func() (string, error) { return "", errors.New("entropy") }
		if _, err := pgStoreWith(&fakeTx{}).UpsertPolicy(context.Background(), tenantID, types.Policy{}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("commit error", func(t *testing.T) {
		tx := &fakeTx{row: policyRow("p1", 1, ""), commitErr: errors.New("serialization")}
		if _, err := pgStoreWith(tx).UpsertPolicy(context.Background(), tenantID, types.Policy{PolicyID: "p1"}); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestPolicyPGStore_Delete(t *testing.T) {
	tx := &fakeTx{tag: pgconn.NewCommandTag("DELETE 1")}
	if err := pgStoreWith(tx).DeletePolicy(context.Background(), tenantID, "p1"); err != nil || !tx.committed {
		t.Fatalf("err=%v committed=%v", err, tx.committed)
	}

	tx = &fakeTx{tag: pgconn.NewCommandTag("DELETE 0")}
	if err := pgStoreWith(tx).DeletePolicy(context.Background(), tenantID, "p1"); !errors.Is(err, ports.ErrPolicyNotFound) {
		t.Fatalf("err=%v", err)
	}
	if tx.committed {
		t.Fatal("unexpected commit")
	}
}
