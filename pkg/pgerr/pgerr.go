// Package pgerr classifies errors raised by Postgres so handlers can map them
// to stable API codes.
package pgerr

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

func Message(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		if msg := strings.TrimSpace(pgErr.Message); msg != "" {
			return msg
		}
	}
	return "UNKNOWN"
}

func Code(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		return strings.TrimSpace(pgErr.Code)
	}
	return ""
}

func IsInvalidInput(err error) bool {
	switch Code(err) {
	case "22P02", "22003", "22007", "22008", codeCheckViolation:
		return true
	default:
		return false
	}
}

func IsUniqueViolation(err error) bool {
	return Code(err) == codeUniqueViolation
}

// StableCode returns the RAISE EXCEPTION message when the database used an
// upper-snake code, a code derived from known constraint names otherwise, and
// "" when the error carries nothing stable.
func StableCode(err error, constraints map[string]string) string {
	if msg := Message(err); IsStableCode(msg) {
		return msg
	}
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		if code, ok := constraints[strings.TrimSpace(pgErr.ConstraintName)]; ok {
			return code
		}
	}
	return ""
}

func IsStableCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || code == "UNKNOWN" {
		return false
	}
	if code[0] < 'A' || code[0] > 'Z' {
		return false
	}
	for i := 0; i < len(code); i++ {
		ch := code[i]
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_' {
			continue
		}
		return false
	}
	return true
}
