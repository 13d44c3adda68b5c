package authz

import (
	"errors"
	"os"
	"strings"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

type Mode string

const (
	ModeEnforce  Mode = "enforce"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

func ModeFromEnv() (Mode, error) {
	return ParseMode(os.Getenv("AUTHZ_MODE"), os.Getenv("AUTHZ_UNSAFE_ALLOW_DISABLED") == "1")
}

func ParseMode(raw string, allowDisabled bool) (Mode, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ModeEnforce, nil
	}
	switch Mode(raw) {
	case ModeEnforce, ModeShadow:
		return Mode(raw), nil
	case ModeDisabled:
		if !allowDisabled {
			return "", errors.New("authz: AUTHZ_MODE=disabled requires AUTHZ_UNSAFE_ALLOW_DISABLED=1")
		}
		return ModeDisabled, nil
	default:
		return "", errors.New("authz: invalid AUTHZ_MODE (expected enforce|shadow|disabled)")
	}
}

// Request is one authorization question: may Role act on Object inside
// the tenant's domain.
type Request struct {
	Role     string
	TenantID string
	Object   string
	Action   string
}

// Decision.Allowed is the policy answer; Enforced is false in shadow and
// disabled modes, where callers must let the request through.
type Decision struct {
	Allowed  bool
	Enforced bool
}

func (d Decision) Denied() bool { return d.Enforced && !d.Allowed }

type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     Mode
}

func NewAuthorizer(modelPath string, policyPath string, mode Mode) (*Authorizer, error) {
	enforcer, err := casbin.NewEnforcer(modelPath)
	if err != nil {
		return nil, err
	}
	enforcer.SetAdapter(fileadapter.NewAdapter(policyPath))
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	return &Authorizer{enforcer: enforcer, mode: mode}, nil
}

func (a *Authorizer) Mode() Mode { return a.mode }

func SubjectFromRoleSlug(roleSlug string) string {
	roleSlug = strings.TrimSpace(strings.ToLower(roleSlug))
	if roleSlug == "" {
		roleSlug = RoleAnonymous
	}
	return "role:" + roleSlug
}

func DomainFromTenantID(tenantID string) string {
	return strings.ToLower(strings.TrimSpace(tenantID))
}

func (a *Authorizer) Check(req Request) (Decision, error) {
	if a.mode == ModeDisabled {
		return Decision{Allowed: true}, nil
	}
	if a.mode != ModeEnforce && a.mode != ModeShadow {
		return Decision{}, errors.New("authz: unknown mode")
	}
	ok, err := a.enforcer.Enforce(SubjectFromRoleSlug(req.Role), DomainFromTenantID(req.TenantID), req.Object, req.Action)
	enforced := a.mode == ModeEnforce
	if err != nil {
		return Decision{Enforced: enforced}, err
	}
	return Decision{Allowed: ok, Enforced: enforced}, nil
}
