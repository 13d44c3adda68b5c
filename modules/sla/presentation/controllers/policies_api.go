package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jacksonlee411/opsdesk/internal/routing"
	"github.com/jacksonlee411/opsdesk/modules/sla/domain/ports"
	"github.com/jacksonlee411/opsdesk/modules/sla/domain/types"
	"github.com/jacksonlee411/opsdesk/modules/sla/services"
	"github.com/jacksonlee411/opsdesk/pkg/httperr"
	"github.com/jacksonlee411/opsdesk/pkg/pgerr"
	"github.com/jacksonlee411/opsdesk/pkg/rulelint"
)

type TenantIDGetter func(ctx context.Context) (tenantID string, ok bool)

type PoliciesController struct {
	TenantID TenantIDGetter
	NowUTC   func() time.Time
	Service  services.EscalationService
}

type policyAPIRequest struct {
	PolicyID        string          `json:"policy_id"`
	Name            string          `json:"name"`
	Active          *bool           `json:"active"`
	Priority        int             `json:"priority"`
	Conditions      json.RawMessage `json:"conditions"`
	ResponseMinutes int             `json:"response_minutes"`
	EscalateTo      string          `json:"escalate_to"`
}

type ticketEvaluateAPIRequest struct {
	TicketUUID      string     `json:"ticket_uuid"`
	Tier            string     `json:"tier"`
	Category        string     `json:"category"`
	OpenedAt        time.Time  `json:"opened_at"`
	FirstResponseAt *time.Time `json:"first_response_at"`
	AsOf            *time.Time `json:"as_of"`
}

var policyConstraintCodes = map[string]string{
	"sla_policies_response_minutes_check": "SLA_RESPONSE_MINUTES_INVALID",
	"sla_policies_priority_check":         "SLA_PRIORITY_NEGATIVE",
}

func (c PoliciesController) HandlePoliciesAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		policies, err := c.Service.ListPolicies(r.Context(), tenantID)
		if err != nil {
			writeServiceError(w, r, err, "list failed")
			return
		}
		if policies == nil {
			policies = make([]types.Policy, 0)
		}
		routing.WriteJSON(w, http.StatusOK, map[string]any{
			"tenant":   tenantID,
			"policies": policies,
		})

	case http.MethodPost:
		var req policyAPIRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeBodyError(w, r, err)
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		saved, warnings, err := c.Service.SavePolicy(r.Context(), tenantID, types.Policy{
			PolicyID:        req.PolicyID,
			Name:            req.Name,
			Active:          active,
			Priority:        req.Priority,
			Conditions:      req.Conditions,
			ResponseMinutes: req.ResponseMinutes,
			EscalateTo:      req.EscalateTo,
		})
		if err != nil {
			writeServiceError(w, r, err, "save failed")
			return
		}
		if warnings == nil {
			warnings = make([]rulelint.Finding, 0)
		}
		routing.WriteJSON(w, http.StatusOK, map[string]any{
			"policy":   saved,
			"warnings": warnings,
		})

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (c PoliciesController) HandlePolicyAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodDelete {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	policyID := strings.TrimSpace(r.PathValue("policy_id"))
	if err := c.Service.DeletePolicy(r.Context(), tenantID, policyID); err != nil {
		writeServiceError(w, r, err, "delete failed")
		return
	}
	routing.WriteJSON(w, http.StatusOK, map[string]any{"policy_id": policyID, "deleted": true})
}

// HandleEvaluateTicketAPI evaluates as of the request's as_of, or the
// controller clock when absent.
func (c PoliciesController) HandleEvaluateTicketAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req ticketEvaluateAPIRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	now := time.Now
	if c.NowUTC != nil {
		now = c.NowUTC
	}
	asOf := now().UTC()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}

	eval, err := c.Service.EvaluateTicket(r.Context(), tenantID, types.Ticket{
		TicketUUID:      req.TicketUUID,
		Tier:            req.Tier,
		Category:        req.Category,
		OpenedAt:        req.OpenedAt,
		FirstResponseAt: req.FirstResponseAt,
	}, asOf)
	if err != nil {
		writeServiceError(w, r, err, "evaluate failed")
		return
	}
	routing.WriteJSON(w, http.StatusOK, eval)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
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

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if httperr.IsBadRequest(err) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if code := pgerr.StableCode(err, policyConstraintCodes); code != "" {
		writeError(w, r, http.StatusUnprocessableEntity, code, message)
		return
	}
	switch {
	case pgerr.IsInvalidInput(err):
		writeError(w, r, http.StatusBadRequest, "invalid_request", message)
	case errors.Is(err, ports.ErrPolicyNotFound):
		writeError(w, r, http.StatusNotFound, "policy_not_found", "policy not found")
	case services.IsNoApplicablePolicy(err):
		writeError(w, r, http.StatusUnprocessableEntity, "no_applicable_policy", "no sla policy covers this ticket")
	case pgerr.IsUniqueViolation(err):
		writeError(w, r, http.StatusConflict, "conflict", message)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", message)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, code, message)
}
