package server

import (
	"net/http"
	"strings"

	"github.com/jacksonlee411/opsdesk/internal/routing"
	"github.com/jacksonlee411/opsdesk/pkg/authz"
	"go.uber.org/zap"
)

const roleHeader = "X-Role"

type authorizer interface {
	Check(req authz.Request) (authz.Decision, error)
}

func loadAuthorizer(cfg Config) (*authz.Authorizer, error) {
	mode, err := authz.ModeFromEnv()
	if err != nil {
		return nil, err
	}
	return authz.NewAuthorizer(cfg.AuthzModelPath, cfg.AuthzPolicyPath, mode)
}

func withPrincipalFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := strings.ToLower(strings.TrimSpace(r.Header.Get(roleHeader)))
		if role == "" {
			role = authz.RoleAnonymous
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), Principal{RoleSlug: role})))
	})
}

func withAuthz(classifier *routing.Classifier, a authorizer, log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		object, action, shouldCheck := authzRequirementForRoute(r.Method, r.URL.Path)
		if !shouldCheck {
			next.ServeHTTP(w, r)
			return
		}
		rc := classifier.Classify(r.URL.Path)

		tenant, ok := currentTenant(r.Context())
		if !ok {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_missing", "tenant missing")
			return
		}
		roleSlug := authz.RoleAnonymous
		if p, ok := currentPrincipal(r.Context()); ok {
			roleSlug = p.RoleSlug
		}

		d, err := a.Check(authz.Request{Role: roleSlug, TenantID: tenant.ID, Object: object, Action: action})
		if err != nil {
			log.Error("authz check failed", zap.Error(err), zap.String("object", object), zap.String("action", action))
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if !d.Allowed && !d.Enforced {
			log.Warn("authz shadow deny",
				zap.String("tenant", tenant.ID),
				zap.String("role", roleSlug),
				zap.String("object", object),
				zap.String("action", action),
			)
		}
		if d.Denied() {
			routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authzRequirementForRoute maps an API route to its casbin object and
// action. Routes it does not know are left to the router.
func authzRequirementForRoute(method string, path string) (object string, action string, ok bool) {
	switch {
	case path == "/leadrouting/api/rules":
		return authz.ObjectLeadRoutingRules, readOrAdmin(method), true
	case strings.HasPrefix(path, "/leadrouting/api/rules/"):
		return authz.ObjectLeadRoutingRules, authz.ActionAdmin, true
	case path == "/leadrouting/api/leads:route":
		return authz.ObjectLeadRoutingDecisions, authz.ActionRead, true
	case path == "/sla/api/policies":
		return authz.ObjectSLAPolicies, readOrAdmin(method), true
	case strings.HasPrefix(path, "/sla/api/policies/"):
		return authz.ObjectSLAPolicies, authz.ActionAdmin, true
	case path == "/sla/api/tickets:evaluate":
		return authz.ObjectSLAEvaluations, authz.ActionRead, true
	default:
		return "", "", false
	}
}

func readOrAdmin(method string) string {
	if method == http.MethodGet || method == http.MethodHead {
		return authz.ActionRead
	}
	return authz.ActionAdmin
}
