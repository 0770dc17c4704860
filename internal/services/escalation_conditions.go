package services

import (
	"encoding/json"
	"fmt"
	"time"

	"deskflow/internal/models"
)

// TicketSnapshot is one consistent read of a ticket taken at the start of a
// scan pass. Every (ticket, rule) evaluation in the pass sees the same
// snapshot, so a condition cannot flip between evaluation and action.
type TicketSnapshot struct {
	Ticket models.Ticket

	// StatusSince is when the ticket entered its current status
	// (ticket creation when no status change was ever recorded).
	StatusSince time.Time

	// AssigneeResponded is true when the assignee has authored at least
	// one non-internal comment on the ticket.
	AssigneeResponded bool

	// Rating is the customer feedback, nil while unrated.
	Rating *int
}

// ConditionResult is the outcome of one pure condition evaluation. Evidence
// is human-readable and ends up in the audit row when the rule fires.
type ConditionResult struct {
	Matched  bool
	Evidence string
}

func noMatch(format string, args ...interface{}) ConditionResult {
	return ConditionResult{Matched: false, Evidence: fmt.Sprintf(format, args...)}
}

func match(format string, args ...interface{}) ConditionResult {
	return ConditionResult{Matched: true, Evidence: fmt.Sprintf(format, args...)}
}

// EvaluateCondition runs the predicate for condType against the snapshot.
// It is pure: no I/O, no mutation, and it never returns an error. A
// malformed value for a known type yields (false, why) so one bad rule
// cannot abort a scan. Unknown types are rejected at write time and get the
// same lenient treatment here.
func EvaluateCondition(condType, rawValue string, snap *TicketSnapshot, now time.Time) ConditionResult {
	switch condType {
	case models.ConditionSLABreach:
		return evaluateSLABreach(snap, now)
	case models.ConditionTimeInStatus:
		return evaluateTimeInStatus(rawValue, snap, now)
	case models.ConditionPriorityLevel:
		return evaluatePriorityLevel(rawValue, snap, now)
	case models.ConditionNoResponse:
		return evaluateNoResponse(rawValue, snap, now)
	case models.ConditionCustomerRating:
		return evaluateCustomerRating(rawValue, snap)
	default:
		return noMatch("unknown condition type %q", condType)
	}
}

func evaluateSLABreach(snap *TicketSnapshot, now time.Time) ConditionResult {
	t := snap.Ticket
	if !models.EscalationEligible(t.Status) {
		return noMatch("ticket status %s is not SLA-tracked", t.Status)
	}
	if t.SLADueAt == nil {
		return noMatch("no SLA tracked for ticket")
	}
	if !now.After(*t.SLADueAt) {
		return noMatch("SLA due %s not yet reached", t.SLADueAt.Format(time.RFC3339))
	}
	overdue := now.Sub(*t.SLADueAt)
	return match("SLA breached: due %s, %d minutes overdue",
		t.SLADueAt.Format(time.RFC3339), int(overdue.Minutes()))
}

func evaluateTimeInStatus(raw string, snap *TicketSnapshot, now time.Time) ConditionResult {
	var v TimeInStatusCondition
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return noMatch("malformed time_in_status value: %v", err)
	}
	if v.Status == "" || v.Hours <= 0 {
		return noMatch("malformed time_in_status value: status and hours required")
	}
	if snap.Ticket.Status != v.Status {
		return noMatch("ticket is in %s, not %s", snap.Ticket.Status, v.Status)
	}
	held := now.Sub(snap.StatusSince)
	threshold := time.Duration(v.Hours) * time.Hour
	if held < threshold {
		return noMatch("in %s for %dm, threshold %dh", v.Status, int(held.Minutes()), v.Hours)
	}
	return match("in %s for %dm (threshold %dh)", v.Status, int(held.Minutes()), v.Hours)
}

func evaluatePriorityLevel(raw string, snap *TicketSnapshot, now time.Time) ConditionResult {
	var v PriorityLevelCondition
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return noMatch("malformed priority_level value: %v", err)
	}
	if len(v.Priorities) == 0 {
		return noMatch("malformed priority_level value: priorities required")
	}
	found := false
	for _, p := range v.Priorities {
		if snap.Ticket.Priority == p {
			found = true
			break
		}
	}
	if !found {
		return noMatch("priority %s not in %v", snap.Ticket.Priority, v.Priorities)
	}
	if !models.EscalationEligible(snap.Ticket.Status) {
		return noMatch("ticket status %s is terminal", snap.Ticket.Status)
	}
	open := now.Sub(snap.Ticket.CreatedAt)
	threshold := time.Duration(v.Hours) * time.Hour
	if open < threshold {
		return noMatch("open for %dm, threshold %dh", int(open.Minutes()), v.Hours)
	}
	return match("priority %s, open for %dm (threshold %dh)",
		snap.Ticket.Priority, int(open.Minutes()), v.Hours)
}

// evaluateNoResponse uses ticket creation as the baseline: the condition
// holds once the ticket is older than the threshold and the assignee has
// never left a non-internal comment. Customer-reply "rounds" are not
// tracked.
func evaluateNoResponse(raw string, snap *TicketSnapshot, now time.Time) ConditionResult {
	var v NoResponseCondition
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return noMatch("malformed no_response value: %v", err)
	}
	if v.Hours <= 0 {
		return noMatch("malformed no_response value: hours must be > 0")
	}
	if !models.EscalationEligible(snap.Ticket.Status) {
		return noMatch("ticket status %s is terminal", snap.Ticket.Status)
	}
	age := now.Sub(snap.Ticket.CreatedAt)
	threshold := time.Duration(v.Hours) * time.Hour
	if age < threshold {
		return noMatch("ticket age %dm below threshold %dh", int(age.Minutes()), v.Hours)
	}
	if snap.AssigneeResponded {
		return noMatch("assignee already responded")
	}
	return match("no public assignee response %dm after creation (threshold %dh)",
		int(age.Minutes()), v.Hours)
}

func evaluateCustomerRating(raw string, snap *TicketSnapshot) ConditionResult {
	var v CustomerRatingCondition
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return noMatch("malformed customer_rating value: %v", err)
	}
	if v.Threshold < 1 || v.Threshold > 5 {
		return noMatch("malformed customer_rating value: threshold must be 1..5")
	}
	if snap.Ticket.Status != models.StatusResolved && snap.Ticket.Status != models.StatusClosed {
		return noMatch("ticket not resolved yet")
	}
	if snap.Rating == nil {
		return noMatch("no customer rating recorded")
	}
	if *snap.Rating >= v.Threshold {
		return noMatch("rating %d not below threshold %d", *snap.Rating, v.Threshold)
	}
	return match("customer rating %d below threshold %d", *snap.Rating, v.Threshold)
}
