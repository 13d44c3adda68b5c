package types

import (
	"encoding/json"
	"time"
)

type Policy struct {
	PolicyID        string          `json:"policy_id"`
	Name            string          `json:"name"`
	Active          bool            `json:"active"`
	Priority        int             `json:"priority"`
	Conditions      json.RawMessage `json:"conditions,omitempty"`
	ResponseMinutes int             `json:"response_minutes"`
	EscalateTo      string          `json:"escalate_to"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Ticket struct {
	TicketUUID      string     `json:"ticket_uuid"`
	Tier            string     `json:"tier"`
	Category        string     `json:"category"`
	OpenedAt        time.Time  `json:"opened_at"`
	FirstResponseAt *time.Time `json:"first_response_at,omitempty"`
}

// Evaluation is the SLA verdict for one ticket at one instant.
type Evaluation struct {
	TicketUUID   string    `json:"ticket_uuid"`
	PolicyID     string    `json:"policy_id,omitempty"`
	PolicyName   string    `json:"policy_name,omitempty"`
	Deadline     time.Time `json:"deadline"`
	Breached     bool      `json:"breached"`
	EscalateTo   string    `json:"escalate_to,omitempty"`
	BriefExplain string    `json:"brief_explain"`
}
