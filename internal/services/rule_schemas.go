package services

import (
	"encoding/json"
	"strings"

	"deskflow/internal/models"
)

// Per-type schemas for EscalationRule.ConditionValue and ActionConfig.
// The JSON blobs are decoded into these concrete shapes and validated at
// the write boundary; the evaluator and executor only ever see payloads
// that passed this gate (or reject leniently, see conditions.go).

// TimeInStatusCondition fires after a ticket sits in one status for at
// least Hours.
type TimeInStatusCondition struct {
	Status string `json:"status"`
	Hours  int    `json:"hours"`
}

// PriorityLevelCondition fires for tickets whose priority is in Priorities
// and that have been open for at least Hours.
type PriorityLevelCondition struct {
	Priorities []string `json:"priorities"`
	Hours      int      `json:"hours"`
}

// NoResponseCondition fires when no non-internal assignee comment exists
// within Hours of ticket creation.
type NoResponseCondition struct {
	Hours int `json:"hours"`
}

// CustomerRatingCondition fires for resolved tickets rated below Threshold.
type CustomerRatingCondition struct {
	Threshold int `json:"threshold"`
}

// NotifyManagerConfig resolves the ticket team's leader; FallbackUserID is
// used when the ticket has no team or the team has no leader.
type NotifyManagerConfig struct {
	FallbackUserID uint   `json:"fallback_user_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

// ReassignTicketConfig names either a concrete user or the role target
// "team_lead".
type ReassignTicketConfig struct {
	UserID uint   `json:"user_id,omitempty"`
	Target string `json:"target,omitempty"` // "team_lead"
}

// AddFollowerConfig adds UserID to the ticket's follower set.
type AddFollowerConfig struct {
	UserID uint `json:"user_id"`
}

// SendEmailConfig is dispatched through the email gateway. An empty To
// falls back to the assignee's address.
type SendEmailConfig struct {
	To      string `json:"to,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body,omitempty"`
}

func decodeStrict(raw string, out interface{}) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func emptyOrObject(raw string) bool {
	s := strings.TrimSpace(raw)
	return s == "" || s == "{}" || s == "null"
}

// ValidateConditionValue checks raw against the schema for condType.
// Unknown condition types and schema violations are ValidationErrors.
func ValidateConditionValue(condType, raw string) error {
	switch condType {
	case models.ConditionSLABreach:
		// carries no parameters
		if !emptyOrObject(raw) {
			return validationErrorf("sla_breach takes no condition value")
		}
		return nil
	case models.ConditionTimeInStatus:
		var v TimeInStatusCondition
		if err := decodeStrict(raw, &v); err != nil {
			return validationErrorf("time_in_status condition value: %v", err)
		}
		if !models.ValidStatus(v.Status) {
			return validationErrorf("time_in_status: unknown status %q", v.Status)
		}
		if v.Hours <= 0 {
			return validationErrorf("time_in_status: hours must be > 0")
		}
		return nil
	case models.ConditionPriorityLevel:
		var v PriorityLevelCondition
		if err := decodeStrict(raw, &v); err != nil {
			return validationErrorf("priority_level condition value: %v", err)
		}
		if len(v.Priorities) == 0 {
			return validationErrorf("priority_level: priorities must not be empty")
		}
		for _, p := range v.Priorities {
			if !models.ValidPriority(p) {
				return validationErrorf("priority_level: unknown priority %q", p)
			}
		}
		if v.Hours < 0 {
			return validationErrorf("priority_level: hours must be >= 0")
		}
		return nil
	case models.ConditionNoResponse:
		var v NoResponseCondition
		if err := decodeStrict(raw, &v); err != nil {
			return validationErrorf("no_response condition value: %v", err)
		}
		if v.Hours <= 0 {
			return validationErrorf("no_response: hours must be > 0")
		}
		return nil
	case models.ConditionCustomerRating:
		var v CustomerRatingCondition
		if err := decodeStrict(raw, &v); err != nil {
			return validationErrorf("customer_rating condition value: %v", err)
		}
		if v.Threshold < 1 || v.Threshold > 5 {
			return validationErrorf("customer_rating: threshold must be 1..5")
		}
		return nil
	default:
		return validationErrorf("unknown condition type %q", condType)
	}
}

// ValidateActionConfig checks raw against the schema for actionType.
func ValidateActionConfig(actionType, raw string) error {
	switch actionType {
	case models.ActionNotifyManager:
		var v NotifyManagerConfig
		if !emptyOrObject(raw) {
			if err := decodeStrict(raw, &v); err != nil {
				return validationErrorf("notify_manager action config: %v", err)
			}
		}
		return nil
	case models.ActionReassignTicket:
		var v ReassignTicketConfig
		if err := decodeStrict(raw, &v); err != nil {
			return validationErrorf("reassign_ticket action config: %v", err)
		}
		if v.UserID == 0 && v.Target == "" {
			return validationErrorf("reassign_ticket: user_id or target required")
		}
		if v.Target != "" && v.Target != "team_lead" {
			return validationErrorf("reassign_ticket: unknown target %q", v.Target)
		}
		return nil
	case models.ActionIncreasePriority:
		if !emptyOrObject(raw) {
			return validationErrorf("increase_priority takes no action config")
		}
		return nil
	case models.ActionAddFollower:
		var v AddFollowerConfig
		if err := decodeStrict(raw, &v); err != nil {
			return validationErrorf("add_follower action config: %v", err)
		}
		if v.UserID == 0 {
			return validationErrorf("add_follower: user_id required")
		}
		return nil
	case models.ActionSendEmail:
		var v SendEmailConfig
		if err := decodeStrict(raw, &v); err != nil {
			return validationErrorf("send_email action config: %v", err)
		}
		if strings.TrimSpace(v.Subject) == "" {
			return validationErrorf("send_email: subject required")
		}
		if v.To != "" && !strings.Contains(v.To, "@") {
			return validationErrorf("send_email: invalid recipient %q", v.To)
		}
		return nil
	default:
		return validationErrorf("unknown action type %q", actionType)
	}
}
