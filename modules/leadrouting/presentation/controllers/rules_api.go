package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/jacksonlee411/opsdesk/internal/routing"
	"github.com/jacksonlee411/opsdesk/modules/leadrouting/domain/ports"
	"github.com/jacksonlee411/opsdesk/modules/leadrouting/domain/types"
	"github.com/jacksonlee411/opsdesk/modules/leadrouting/services"
	"github.com/jacksonlee411/opsdesk/pkg/httperr"
	"github.com/jacksonlee411/opsdesk/pkg/pgerr"
	"github.com/jacksonlee411/opsdesk/pkg/rulelint"
)

type TenantIDGetter func(ctx context.Context) (tenantID string, ok bool)

type RulesController struct {
	TenantID TenantIDGetter
	Facade   services.RoutingFacade
}

type ruleAPIRequest struct {
	RuleID     string          `json:"rule_id"`
	Name       string          `json:"name"`
	Active     *bool           `json:"active"`
	Priority   int             `json:"priority"`
	Strategy   string          `json:"strategy"`
	Conditions json.RawMessage `json:"conditions"`
}

type leadRouteAPIRequest struct {
	LeadUUID  string  `json:"lead_uuid"`
	Company   string  `json:"company"`
	DealValue float64 `json:"deal_value"`
	Industry  string  `json:"industry"`
	Source    string  `json:"source"`
}

var ruleConstraintCodes = map[string]string{
	"lead_assignment_rules_priority_check": "LEADROUTING_PRIORITY_NEGATIVE",
	"lead_assignment_rules_strategy_check": "LEADROUTING_STRATEGY_UNKNOWN",
}

func (c RulesController) HandleRulesAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rules, err := c.Facade.ListRules(r.Context(), tenantID)
		if err != nil {
			writeFacadeError(w, r, err, "list failed")
			return
		}
		if rules == nil {
			rules = make([]types.AssignmentRule, 0)
		}
		routing.WriteJSON(w, http.StatusOK, map[string]any{
			"tenant": tenantID,
			"rules":  rules,
		})

	case http.MethodPost:
		body, err := readBody(w, r)
		if err != nil {
			writeBodyError(w, r, err)
			return
		}
		var req ruleAPIRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}

		saved, warnings, err := c.Facade.SaveRule(r.Context(), tenantID, types.AssignmentRule{
			RuleID:     req.RuleID,
			Name:       req.Name,
			Active:     active,
			Priority:   req.Priority,
			Strategy:   req.Strategy,
			Conditions: req.Conditions,
		})
		if err != nil {
			writeFacadeError(w, r, err, "save failed")
			return
		}
		if warnings == nil {
			warnings = make([]rulelint.Finding, 0)
		}
		routing.WriteJSON(w, http.StatusOK, map[string]any{
			"rule":     saved,
			"warnings": warnings,
		})

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (c RulesController) HandleRuleAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodDelete {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	ruleID := strings.TrimSpace(r.PathValue("rule_id"))
	if err := c.Facade.DeleteRule(r.Context(), tenantID, ruleID); err != nil {
		writeFacadeError(w, r, err, "delete failed")
		return
	}
	routing.WriteJSON(w, http.StatusOK, map[string]any{"rule_id": ruleID, "deleted": true})
}

func (c RulesController) HandleRouteLeadAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	if _, ok := raw["lead_id"]; ok {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "use lead_uuid")
		return
	}
	var req leadRouteAPIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}

	decision, err := c.Facade.RouteLead(r.Context(), tenantID, types.Lead{
		LeadUUID:  req.LeadUUID,
		Company:   req.Company,
		DealValue: req.DealValue,
		Industry:  req.Industry,
		Source:    req.Source,
	})
	if err != nil {
		writeFacadeError(w, r, err, "route failed")
		return
	}
	routing.WriteJSON(w, http.StatusOK, decision)
}

func writeFacadeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if httperr.IsBadRequest(err) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if code := pgerr.StableCode(err, ruleConstraintCodes); code != "" {
		writeError(w, r, http.StatusUnprocessableEntity, code, message)
		return
	}
	switch {
	case pgerr.IsInvalidInput(err):
		writeError(w, r, http.StatusBadRequest, "invalid_request", message)
	case errors.Is(err, ports.ErrRuleNotFound):
		writeError(w, r, http.StatusNotFound, "rule_not_found", "rule not found")
	case services.IsNoApplicableRule(err):
		writeError(w, r, http.StatusUnprocessableEntity, "no_applicable_rule", "no applicable rule; assign manually")
	case pgerr.IsUniqueViolation(err):
		writeError(w, r, http.StatusConflict, "conflict", message)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", message)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, code, message)
}

// maxRequestBodyBytes caps API request bodies.
const maxRequestBodyBytes = 1 << 20

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := errors.AsType[*http.MaxBytesError](err); ok {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
}
