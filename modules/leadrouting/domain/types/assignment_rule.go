package types

import (
	"encoding/json"
	"time"
)

type AssignmentRule struct {
	RuleID     string          `json:"rule_id"`
	Name       string          `json:"name"`
	Active     bool            `json:"active"`
	Priority   int             `json:"priority"`
	Strategy   string          `json:"strategy"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Lead struct {
	LeadUUID  string    `json:"lead_uuid"`
	Company   string    `json:"company"`
	DealValue float64   `json:"deal_value"`
	Industry  string    `json:"industry"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

type RoutingStep struct {
	RuleID   string `json:"rule_id"`
	Priority int    `json:"priority"`
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason,omitempty"`
}

// RoutingDecision names the rule a lead resolved to. Carrying out the
// assignment it implies is someone else's job.
type RoutingDecision struct {
	LeadUUID            string        `json:"lead_uuid"`
	RuleID              string        `json:"rule_id,omitempty"`
	RuleName            string        `json:"rule_name,omitempty"`
	Strategy            string        `json:"strategy,omitempty"`
	Fallback            bool          `json:"fallback"`
	CandidatesEvaluated int           `json:"candidates_evaluated"`
	Steps               []RoutingStep `json:"steps"`
	BriefExplain        string        `json:"brief_explain"`
}
