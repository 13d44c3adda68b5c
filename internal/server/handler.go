package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jacksonlee411/opsdesk/internal/routing"
	leadports "github.com/jacksonlee411/opsdesk/modules/leadrouting/domain/ports"
	leadpersistence "github.com/jacksonlee411/opsdesk/modules/leadrouting/infrastructure/persistence"
	leadcontrollers "github.com/jacksonlee411/opsdesk/modules/leadrouting/presentation/controllers"
	leadservices "github.com/jacksonlee411/opsdesk/modules/leadrouting/services"
	slaports "github.com/jacksonlee411/opsdesk/modules/sla/domain/ports"
	slapersistence "github.com/jacksonlee411/opsdesk/modules/sla/infrastructure/persistence"
	slacontrollers "github.com/jacksonlee411/opsdesk/modules/sla/presentation/controllers"
	slaservices "github.com/jacksonlee411/opsdesk/modules/sla/services"
	"github.com/jacksonlee411/opsdesk/pkg/rulelint"
	"go.uber.org/zap"
)

const entrypointName = "server"

// HandlerOptions overrides the collaborators NewHandlerWithOptions would
// otherwise build from Config. With neither a Pool nor explicit stores the
// handler runs on in-memory stores.
type HandlerOptions struct {
	Config          Config
	Logger          *zap.Logger
	Pool            *pgxpool.Pool
	TenancyResolver TenancyResolver
	Authorizer      authorizer
	RuleStore       leadports.AssignmentRuleStore
	PolicyStore     slaports.PolicyStore
	Linter          *rulelint.Linter
}

func NewHandler(cfg Config, log *zap.Logger) (http.Handler, error) {
	return NewHandlerWithOptions(HandlerOptions{Config: cfg, Logger: log})
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	a, err := routing.LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("load allowlist: %w", err)
	}
	classifier, err := routing.NewClassifier(a, entrypointName)
	if err != nil {
		return nil, err
	}

	tenancyResolver := opts.TenancyResolver
	if tenancyResolver == nil {
		tenants, err := loadTenants(cfg.TenantsPath)
		if err != nil {
			return nil, fmt.Errorf("load tenants: %w", err)
		}
		tenancyResolver = newStaticTenancyResolver(tenants)
	}

	checker := opts.Authorizer
	if checker == nil {
		az, err := loadAuthorizer(cfg)
		if err != nil {
			return nil, fmt.Errorf("load authz: %w", err)
		}
		checker = az
	}

	linter := opts.Linter
	if linter == nil {
		l, err := rulelint.New(context.Background())
		if err != nil {
			return nil, fmt.Errorf("prepare rule lint: %w", err)
		}
		linter = l
	}

	ruleStore := opts.RuleStore
	policyStore := opts.PolicyStore
	if opts.Pool != nil {
		if ruleStore == nil {
			ruleStore = leadpersistence.NewAssignmentRulePGStore(opts.Pool)
		}
		if policyStore == nil {
			policyStore = slapersistence.NewPolicyPGStore(opts.Pool)
		}
	}
	if ruleStore == nil {
		log.Warn("no database configured; assignment rules are kept in memory")
		ruleStore = leadpersistence.NewAssignmentRuleMemoryStore()
	}
	if policyStore == nil {
		log.Warn("no database configured; sla policies are kept in memory")
		policyStore = slapersistence.NewPolicyMemoryStore()
	}

	rules := leadcontrollers.RulesController{
		TenantID: tenantIDFromContext,
		Facade:   leadservices.NewRoutingFacade(ruleStore, linter, cfg.DefaultFallback).WithLogger(log),
	}
	policies := slacontrollers.PoliciesController{
		TenantID: tenantIDFromContext,
		Service:  slaservices.NewEscalationService(policyStore, linter).WithLogger(log),
	}

	router := routing.NewRouter(classifier)
	router.OnPanic(func(r *http.Request, rec any) {
		log.Error("handler panic", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Any("panic", rec))
	})

	health := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	router.Handle(routing.RouteClassOps, http.MethodGet, "/health", health)
	router.Handle(routing.RouteClassOps, http.MethodGet, "/healthz", health)

	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/leadrouting/api/rules", http.HandlerFunc(rules.HandleRulesAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/leadrouting/api/rules", http.HandlerFunc(rules.HandleRulesAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodDelete, "/leadrouting/api/rules/{rule_id}", http.HandlerFunc(rules.HandleRuleAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/leadrouting/api/leads:route", http.HandlerFunc(rules.HandleRouteLeadAPI))

	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/sla/api/policies", http.HandlerFunc(policies.HandlePoliciesAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/sla/api/policies", http.HandlerFunc(policies.HandlePoliciesAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodDelete, "/sla/api/policies/{policy_id}", http.HandlerFunc(policies.HandlePolicyAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/sla/api/tickets:evaluate", http.HandlerFunc(policies.HandleEvaluateTicketAPI))

	if err := checkAllowlistCoverage(a, router); err != nil {
		return nil, err
	}

	guarded := withTenancy(classifier, tenancyResolver, cfg.TrustProxy,
		withPrincipalFromHeader(
			withAuthz(classifier, checker, log, router)))
	return withRequestLog(log, guarded), nil
}

// checkAllowlistCoverage refuses to start when a registered route is missing
// from the allowlist, so the two cannot drift apart.
func checkAllowlistCoverage(a routing.Allowlist, router *routing.Router) error {
	var errs []error
	for _, rt := range router.Routes() {
		if !a.Allows(entrypointName, rt.Path, rt.Method) {
			errs = append(errs, fmt.Errorf("route %s %s is not in the allowlist", rt.Method, rt.Path))
		}
	}
	return errors.Join(errs...)
}
