package services

import (
	"testing"
	"time"

	"deskflow/internal/models"
)

func snapshotWith(ticket models.Ticket) *TicketSnapshot {
	return &TicketSnapshot{Ticket: ticket, StatusSince: ticket.CreatedAt}
}

func TestEvaluateCondition_SLABreach(t *testing.T) {
	now := time.Now()
	past := now.Add(-2 * time.Hour)
	future := now.Add(2 * time.Hour)

	tests := []struct {
		name   string
		status string
		due    *time.Time
		want   bool
	}{
		{"overdueOpen", models.StatusOpen, &past, true},
		{"overdueInProgress", models.StatusInProgress, &past, true},
		{"overdueWaiting", models.StatusWaitingForCustomer, &past, true},
		{"notYetDue", models.StatusOpen, &future, false},
		{"noDeadline", models.StatusOpen, nil, false},
		{"resolved", models.StatusResolved, &past, false},
		{"closed", models.StatusClosed, &past, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := snapshotWith(models.Ticket{ID: 1, Status: tt.status, SLADueAt: tt.due, CreatedAt: now.Add(-3 * time.Hour)})
			got := EvaluateCondition(models.ConditionSLABreach, "", snap, now)
			if got.Matched != tt.want {
				t.Fatalf("sla_breach status=%s due=%v: matched=%v want %v (%s)",
					tt.status, tt.due, got.Matched, tt.want, got.Evidence)
			}
		})
	}
}

func TestEvaluateCondition_SLABreachEvidence(t *testing.T) {
	now := time.Now()
	due := now.Add(-90 * time.Minute)
	snap := snapshotWith(models.Ticket{ID: 1, Status: models.StatusOpen, SLADueAt: &due, CreatedAt: now.Add(-4 * time.Hour)})
	got := EvaluateCondition(models.ConditionSLABreach, "", snap, now)
	if !got.Matched {
		t.Fatalf("expected match, got %s", got.Evidence)
	}
	if got.Evidence == "" {
		t.Fatal("expected non-empty evidence for a matched condition")
	}
}

func TestEvaluateCondition_TimeInStatus(t *testing.T) {
	now := time.Now()
	snap := &TicketSnapshot{
		Ticket:      models.Ticket{ID: 1, Status: models.StatusWaitingForCustomer, CreatedAt: now.Add(-72 * time.Hour)},
		StatusSince: now.Add(-50 * time.Hour),
	}

	got := EvaluateCondition(models.ConditionTimeInStatus, `{"status":"waiting_for_customer","hours":48}`, snap, now)
	if !got.Matched {
		t.Fatalf("expected match after 50h in status, got %s", got.Evidence)
	}

	got = EvaluateCondition(models.ConditionTimeInStatus, `{"status":"waiting_for_customer","hours":72}`, snap, now)
	if got.Matched {
		t.Fatalf("expected no match below threshold, got %s", got.Evidence)
	}

	got = EvaluateCondition(models.ConditionTimeInStatus, `{"status":"open","hours":1}`, snap, now)
	if got.Matched {
		t.Fatalf("expected no match for different status, got %s", got.Evidence)
	}
}

func TestEvaluateCondition_TimeInStatusUsesStatusSince(t *testing.T) {
	// old ticket, but only recently entered the target status
	now := time.Now()
	snap := &TicketSnapshot{
		Ticket:      models.Ticket{ID: 1, Status: models.StatusInProgress, CreatedAt: now.Add(-200 * time.Hour)},
		StatusSince: now.Add(-1 * time.Hour),
	}
	got := EvaluateCondition(models.ConditionTimeInStatus, `{"status":"in_progress","hours":24}`, snap, now)
	if got.Matched {
		t.Fatalf("expected no match, status held only 1h: %s", got.Evidence)
	}
}

func TestEvaluateCondition_PriorityLevel(t *testing.T) {
	now := time.Now()
	snap := snapshotWith(models.Ticket{
		ID: 1, Status: models.StatusOpen, Priority: models.PriorityUrgent,
		CreatedAt: now.Add(-5 * time.Hour),
	})

	got := EvaluateCondition(models.ConditionPriorityLevel, `{"priorities":["high","urgent"],"hours":4}`, snap, now)
	if !got.Matched {
		t.Fatalf("expected match for urgent open 5h, got %s", got.Evidence)
	}

	got = EvaluateCondition(models.ConditionPriorityLevel, `{"priorities":["low"],"hours":1}`, snap, now)
	if got.Matched {
		t.Fatalf("expected no match for priority outside set, got %s", got.Evidence)
	}

	got = EvaluateCondition(models.ConditionPriorityLevel, `{"priorities":["urgent"],"hours":12}`, snap, now)
	if got.Matched {
		t.Fatalf("expected no match below age threshold, got %s", got.Evidence)
	}
}

func TestEvaluateCondition_NoResponse(t *testing.T) {
	now := time.Now()
	base := models.Ticket{ID: 1, Status: models.StatusOpen, CreatedAt: now.Add(-10 * time.Hour)}

	snap := snapshotWith(base)
	got := EvaluateCondition(models.ConditionNoResponse, `{"hours":8}`, snap, now)
	if !got.Matched {
		t.Fatalf("expected match with no assignee response after 10h, got %s", got.Evidence)
	}

	snap = snapshotWith(base)
	snap.AssigneeResponded = true
	got = EvaluateCondition(models.ConditionNoResponse, `{"hours":8}`, snap, now)
	if got.Matched {
		t.Fatalf("expected no match once assignee responded, got %s", got.Evidence)
	}

	young := base
	young.CreatedAt = now.Add(-2 * time.Hour)
	got = EvaluateCondition(models.ConditionNoResponse, `{"hours":8}`, snapshotWith(young), now)
	if got.Matched {
		t.Fatalf("expected no match below age threshold, got %s", got.Evidence)
	}
}

func TestEvaluateCondition_CustomerRating(t *testing.T) {
	now := time.Now()
	rated := func(status string, rating int) *TicketSnapshot {
		snap := snapshotWith(models.Ticket{ID: 1, Status: status, CreatedAt: now.Add(-48 * time.Hour)})
		snap.Rating = &rating
		return snap
	}

	got := EvaluateCondition(models.ConditionCustomerRating, `{"threshold":3}`, rated(models.StatusResolved, 2), now)
	if !got.Matched {
		t.Fatalf("expected match for rating 2 < 3, got %s", got.Evidence)
	}

	got = EvaluateCondition(models.ConditionCustomerRating, `{"threshold":3}`, rated(models.StatusResolved, 3), now)
	if got.Matched {
		t.Fatalf("expected no match for rating at threshold, got %s", got.Evidence)
	}

	// open ticket with a rating never matches
	got = EvaluateCondition(models.ConditionCustomerRating, `{"threshold":3}`, rated(models.StatusOpen, 1), now)
	if got.Matched {
		t.Fatalf("expected no match for unresolved ticket, got %s", got.Evidence)
	}

	// unrated resolved ticket never matches
	snap := snapshotWith(models.Ticket{ID: 1, Status: models.StatusResolved, CreatedAt: now.Add(-48 * time.Hour)})
	got = EvaluateCondition(models.ConditionCustomerRating, `{"threshold":3}`, snap, now)
	if got.Matched {
		t.Fatalf("expected no match without a rating, got %s", got.Evidence)
	}
}

func TestEvaluateCondition_MalformedValuesNeverError(t *testing.T) {
	now := time.Now()
	snap := snapshotWith(models.Ticket{ID: 1, Status: models.StatusOpen, Priority: models.PriorityHigh, CreatedAt: now.Add(-100 * time.Hour)})

	cases := []struct {
		condType string
		raw      string
	}{
		{models.ConditionTimeInStatus, `{"status":`},
		{models.ConditionTimeInStatus, `{}`},
		{models.ConditionPriorityLevel, `not json`},
		{models.ConditionPriorityLevel, `{"priorities":[]}`},
		{models.ConditionNoResponse, `{"hours":-5}`},
		{models.ConditionCustomerRating, `{"threshold":9}`},
		{"unknown_type", `{}`},
	}
	for _, c := range cases {
		got := EvaluateCondition(c.condType, c.raw, snap, now)
		if got.Matched {
			t.Fatalf("%s with %q should not match: %s", c.condType, c.raw, got.Evidence)
		}
		if got.Evidence == "" {
			t.Fatalf("%s with %q should explain why it did not match", c.condType, c.raw)
		}
	}
}
