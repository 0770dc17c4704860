package models

import "time"

// Escalation rule condition types (closed set, rejected at write time).
const (
	ConditionSLABreach      = "sla_breach"
	ConditionTimeInStatus   = "time_in_status"
	ConditionPriorityLevel  = "priority_level"
	ConditionNoResponse     = "no_response"
	ConditionCustomerRating = "customer_rating"
)

// Escalation rule action types (closed set, rejected at write time).
const (
	ActionNotifyManager    = "notify_manager"
	ActionReassignTicket   = "reassign_ticket"
	ActionIncreasePriority = "increase_priority"
	ActionAddFollower      = "add_follower"
	ActionSendEmail        = "send_email"
)

// ValidConditionType reports whether t is a known condition type.
func ValidConditionType(t string) bool {
	switch t {
	case ConditionSLABreach, ConditionTimeInStatus, ConditionPriorityLevel,
		ConditionNoResponse, ConditionCustomerRating:
		return true
	}
	return false
}

// ValidActionType reports whether t is a known action type.
func ValidActionType(t string) bool {
	switch t {
	case ActionNotifyManager, ActionReassignTicket, ActionIncreasePriority,
		ActionAddFollower, ActionSendEmail:
		return true
	}
	return false
}

// SLAPolicy defines the response/resolution windows for one priority.
// Deadlines are computed once from the policy in force at creation or
// priority-change time; editing a policy never moves existing sla_due_at.
type SLAPolicy struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Name                string    `gorm:"unique;not null" json:"name"`
	Description         string    `gorm:"type:text" json:"description"`
	Priority            string    `gorm:"not null;index" json:"priority"`
	ResponseTimeHours   int       `gorm:"not null" json:"response_time_hours"`
	ResolutionTimeHours int       `gorm:"not null" json:"resolution_time_hours"`
	Active              bool      `gorm:"not null" json:"active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// EscalationRule is a stored condition/action pair. ConditionValue and
// ActionConfig hold the per-type JSON payload; their schemas are validated
// at the write boundary, never inside the evaluator or executor.
type EscalationRule struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"not null" json:"name"`
	Description    string    `gorm:"type:text" json:"description"`
	ConditionType  string    `gorm:"not null;index" json:"condition_type"`
	ConditionValue string    `gorm:"type:text" json:"condition_value"`
	ActionType     string    `gorm:"not null" json:"action_type"`
	ActionConfig   string    `gorm:"type:text" json:"action_config"`
	Active         bool      `gorm:"not null;index" json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Escalation execution outcomes.
const (
	OutcomeExecuted = "executed"
	OutcomeFailed   = "failed"
)

// EscalationExecution is one append-only audit row per (ticket, rule)
// attempt. RuleName and ActionType are snapshots taken at execution time so
// the history stays readable after the rule is edited or deleted. DedupKey
// is the sole input to re-fire suppression.
type EscalationExecution struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TicketID   uint      `gorm:"index" json:"ticket_id"`
	RuleID     uint      `gorm:"index" json:"rule_id"`
	PassID     string    `gorm:"index" json:"pass_id"`
	Outcome    string    `gorm:"not null;index" json:"outcome"` // executed, failed
	RuleName   string    `gorm:"not null" json:"rule_name"`
	ActionType string    `gorm:"not null" json:"action_type"`
	Detail     string    `gorm:"type:text" json:"detail"`
	Evidence   string    `gorm:"type:text" json:"evidence"`
	DedupKey   string    `gorm:"index" json:"dedup_key"`
	CreatedAt  time.Time `json:"created_at"`
}
