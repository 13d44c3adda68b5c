package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type beginnerFunc func(ctx context.Context) (pgx.Tx, error)

func (f beginnerFunc) Begin(ctx context.Context) (pgx.Tx, error) { return f(ctx) }

type stubTx struct {
	execErr   error
	execErrAt int
	execTag   pgconn.CommandTag
	execN     int
	execSQLs  []string
	execArgs  [][]any
	queryErr  error
	queryArgs []any
	rows      [][]any
	rowsErr   error
	row       []any
	rowErr    error
	rowArgs   []any
	commitErr error
	committed bool
	rolled    bool
}

func (t *stubTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *stubTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}
func (t *stubTx) Rollback(context.Context) error { t.rolled = true; return nil }
func (t *stubTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *stubTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *stubTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *stubTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *stubTx) Conn() *pgx.Conn { return nil }

func (t *stubTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execN++
	t.execSQLs = append(t.execSQLs, sql)
	t.execArgs = append(t.execArgs, args)
	if t.execErr != nil && t.execN == max(t.execErrAt, 1) {
		return pgconn.CommandTag{}, t.execErr
	}
	if t.execN == 1 {
		return pgconn.NewCommandTag("SELECT 1"), nil
	}
	return t.execTag, nil
}

func (t *stubTx) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	t.queryArgs = args
	if t.queryErr != nil {
		return nil, t.queryErr
	}
	return &stubRows{data: t.rows, err: t.rowsErr}, nil
}

func (t *stubTx) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	t.rowArgs = args
	if t.rowErr != nil {
		return stubRow{err: t.rowErr}
	}
	return stubRow{vals: t.row}
}

type stubRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return r.err }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}
func (r *stubRows) Scan(dest ...any) error     { return scanInto(r.data[r.idx-1], dest) }
func (r *stubRows) Values() ([]any, error)     { return nil, nil }
func (r *stubRows) RawValues() [][]byte        { return nil }
func (r *stubRows) Conn() *pgx.Conn            { return nil }

type stubRow struct {
	vals []any
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(r.vals, dest)
}

func scanInto(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("scan: %d values for %d targets", len(vals), len(dest))
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			*d = vals[i].(string)
		case *bool:
			*d = vals[i].(bool)
		case *int:
			*d = vals[i].(int)
		case *time.Time:
			*d = vals[i].(time.Time)
		default:
			return errors.New("unsupported scan type")
		}
	}
	return nil
}

func ruleRow(id string, priority int, conditions string) []any {
	return []any{id, "rule " + id, true, priority, "skill", conditions, time.Date(2026, 3, 1, 8, 0, 0, 0, time.FixedZone("CST", 8*3600))}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
