package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/jacksonlee411/opsdesk/migrations"
)

const appRole = "app_nobypassrls"

var appSchemas = []string{"public", "crm", "support"}

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: dbtool <migrate|status|rls-smoke> [args]")
	}

	switch os.Args[1] {
	case "migrate":
		migrate(os.Args[2:])
	case "status":
		status(os.Args[2:])
	case "rls-smoke":
		rlsSmoke(os.Args[2:])
	default:
		fatalf("unknown subcommand: %s", os.Args[1])
	}
}

func parseURLFlag(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", os.Getenv("DATABASE_URL"), "postgres connection string (defaults to $DATABASE_URL)")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if url == "" {
		return "", errors.New("missing --url")
	}
	return url, nil
}

func openGoose(url string) (*sql.DB, error) {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	return sql.Open("pgx", url)
}

func migrate(args []string) {
	url, err := parseURLFlag("migrate", args)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := openGoose(url)
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	if err := goose.UpContext(ctx, db, "."); err != nil {
		fatal(err)
	}

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())
	if err := tryEnsureRole(ctx, conn, appRole); err != nil {
		fatal(err)
	}

	fmt.Println("[migrate] OK")
}

func status(args []string) {
	url, err := parseURLFlag("status", args)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := openGoose(url)
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	if err := goose.StatusContext(ctx, db, "."); err != nil {
		fatal(err)
	}
}

// rlsTable describes how to insert one row into a tenant-scoped table.
type rlsTable struct {
	name   string
	insert string
}

var rlsTables = []rlsTable{
	{
		name:   "crm.lead_assignment_rules",
		insert: `INSERT INTO crm.lead_assignment_rules (tenant_uuid, rule_id, priority, strategy) VALUES ($1, 'rls-smoke', 0, 'round_robin');`,
	},
	{
		name:   "support.sla_policies",
		insert: `INSERT INTO support.sla_policies (tenant_uuid, policy_id, name, priority, response_minutes, escalate_to) VALUES ($1, 'rls-smoke', 'smoke', 0, 60, 'nobody');`,
	},
}

func rlsSmoke(args []string) {
	url, err := parseURLFlag("rls-smoke", args)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	_ = tryEnsureRole(ctx, conn, appRole)

	for _, table := range rlsTables {
		if err := smokeTable(ctx, conn, table); err != nil {
			fatalf("[rls-smoke] %s: %v", table.name, err)
		}
	}
	fmt.Println("[rls-smoke] OK")
}

// smokeTable runs every check inside one transaction and rolls it back, so
// the smoke test never leaves rows behind.
func smokeTable(ctx context.Context, conn *pgx.Conn, table rlsTable) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	_ = trySetRole(ctx, tx, appRole)

	countSQL := `SELECT count(*) FROM ` + table.name + `;`

	err = expectFailure(ctx, tx, "sp_failclosed", countSQL)
	if err == nil {
		return errors.New("expected fail-closed error when app.current_tenant is missing")
	}
	if msg, ok := pgErrorMessage(err); ok && msg != "RLS_TENANT_CONTEXT_MISSING" {
		return fmt.Errorf("unexpected fail-closed error: %s", msg)
	}

	tenantA := "00000000-0000-0000-0000-00000000000a"
	tenantB := "00000000-0000-0000-0000-00000000000b"
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantA); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, table.insert, tenantA); err != nil {
		return err
	}
	if err := expectFailure(ctx, tx, "sp_cross_insert", table.insert, tenantB); err == nil {
		return errors.New("expected RLS rejection on cross-tenant insert")
	}

	var count int
	if err := tx.QueryRow(ctx, countSQL).Scan(&count); err != nil {
		return err
	}
	if count != 1 {
		return fmt.Errorf("expected count=1 under tenant A, got %d", count)
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantB); err != nil {
		return err
	}
	if err := tx.QueryRow(ctx, countSQL).Scan(&count); err != nil {
		return err
	}
	if count != 0 {
		return fmt.Errorf("expected count=0 under tenant B, got %d", count)
	}
	return nil
}

// expectFailure runs stmt under a savepoint and returns its error, rolling
// back to the savepoint so the transaction stays usable.
func expectFailure(ctx context.Context, tx pgx.Tx, savepoint string, stmt string, args ...any) error {
	if !validSQLIdent(savepoint) {
		return fmt.Errorf("invalid savepoint: %s", savepoint)
	}
	if _, err := tx.Exec(ctx, `SAVEPOINT `+savepoint+`;`); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, stmt, args...)
	if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT `+savepoint+`;`); rbErr != nil {
		fatal(rbErr)
	}
	return err
}

func pgErrorMessage(err error) (string, bool) {
	pgErr, ok := errors.AsType[*pgconn.PgError](err)
	if !ok {
		return "", false
	}
	return pgErr.Message, true
}

func tryEnsureRole(ctx context.Context, conn *pgx.Conn, role string) error {
	if !validSQLIdent(role) {
		return fmt.Errorf("invalid role: %s", role)
	}

	stmt := fmt.Sprintf(`DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%s') THEN
    EXECUTE 'CREATE ROLE %s NOBYPASSRLS';
  END IF;
END
$$;`, role, role)
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return err
	}
	for _, stmt := range grantStatements(role) {
		_, _ = conn.Exec(ctx, stmt)
	}
	return nil
}

func grantStatements(role string) []string {
	out := make([]string, 0, len(appSchemas)*4)
	for _, schema := range appSchemas {
		out = append(out,
			`GRANT USAGE ON SCHEMA `+schema+` TO `+role+`;`,
			`GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA `+schema+` TO `+role+`;`,
			`GRANT EXECUTE ON ALL FUNCTIONS IN SCHEMA `+schema+` TO `+role+`;`,
			`ALTER DEFAULT PRIVILEGES IN SCHEMA `+schema+` GRANT SELECT, INSERT, UPDATE, DELETE ON TABLES TO `+role+`;`,
		)
	}
	return out
}

func trySetRole(ctx context.Context, tx pgx.Tx, role string) bool {
	if _, err := tx.Exec(ctx, `SET ROLE `+role+`;`); err != nil {
		return false
	}
	return true
}

var reSQLIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validSQLIdent(s string) bool {
	return reSQLIdent.MatchString(s)
}

func fatal(err error) {
	if err == nil {
		os.Exit(1)
	}
	fatalf("%v", err)
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
