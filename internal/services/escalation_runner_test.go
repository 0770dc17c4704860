package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newRunnerHarness(t *testing.T, db *gorm.DB, notifier Notifier, email EmailGateway) *EscalationRunner {
	t.Helper()
	logger := logrus.New()
	sla := NewSLAService(db, logger, AllowAll)
	tickets := NewTicketService(db, logger, sla)
	rules := NewEscalationRuleService(db, logger, AllowAll)
	history := NewEscalationHistory(db)
	if notifier == nil {
		notifier = &recordingNotifier{}
	}
	if email == nil {
		email = &recordingEmail{}
	}
	executor := NewActionExecutor(db, logger, notifier, email)
	return NewEscalationRunner(db, logger, rules, tickets, history, executor, 4)
}

func activeRule(t *testing.T, db *gorm.DB, name, condType, condValue, actionType, actionConfig string) *models.EscalationRule {
	t.Helper()
	rule := &models.EscalationRule{
		Name: name, ConditionType: condType, ConditionValue: condValue,
		ActionType: actionType, ActionConfig: actionConfig, Active: true,
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("seed rule %s: %v", name, err)
	}
	return rule
}

func TestEscalationRunner_NoActiveRulesSkipsScan(t *testing.T) {
	db := newTestDB(t)
	runner := newRunnerHarness(t, db, nil, nil)

	seedTicket(t, db, &models.Ticket{ID: 1, Title: "t", Priority: "high", Status: models.StatusOpen})

	summary, err := runner.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if summary.TicketsChecked != 0 || summary.PairsEvaluated != 0 {
		t.Fatalf("empty rule set must skip the scan: %+v", summary)
	}
}

func TestEscalationRunner_UrgentBreachIsExecutedNoOp(t *testing.T) {
	db := newTestDB(t)
	runner := newRunnerHarness(t, db, nil, nil)

	rule := activeRule(t, db, "breach bump", models.ConditionSLABreach, "", models.ActionIncreasePriority, "")
	due := time.Now().Add(-time.Hour)
	ticket := seedTicket(t, db, &models.Ticket{
		ID: 1, Title: "t", Priority: models.PriorityUrgent, Status: models.StatusOpen,
		SLADueAt: &due, CreatedAt: time.Now().Add(-10 * time.Hour),
	})

	summary, err := runner.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if summary.Executed != 1 || summary.Failed != 0 {
		t.Fatalf("urgent no-op must count as executed: %+v", summary)
	}

	var execs []models.EscalationExecution
	db.Where("ticket_id = ? AND rule_id = ?", ticket.ID, rule.ID).Find(&execs)
	if len(execs) != 1 {
		t.Fatalf("execution rows = %d, want 1", len(execs))
	}
	if execs[0].Outcome != models.OutcomeExecuted {
		t.Fatalf("outcome = %s, want executed", execs[0].Outcome)
	}
	if execs[0].Evidence == "" {
		t.Fatal("execution row must carry condition evidence")
	}

	var live models.Ticket
	db.First(&live, ticket.ID)
	if live.Priority != models.PriorityUrgent {
		t.Fatalf("priority moved off urgent: %s", live.Priority)
	}
}

func TestEscalationRunner_DedupWithinStatusEpoch(t *testing.T) {
	db := newTestDB(t)
	runner := newRunnerHarness(t, db, nil, nil)

	rule := activeRule(t, db, "breach bump", models.ConditionSLABreach, "", models.ActionIncreasePriority, "")
	due := time.Now().Add(-time.Hour)
	ticket := seedTicket(t, db, &models.Ticket{
		ID: 1, Title: "t", Priority: models.PriorityLow, Status: models.StatusOpen,
		SLADueAt: &due, CreatedAt: time.Now().Add(-10 * time.Hour),
	})

	first, err := runner.RunPass(context.Background())
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if first.Executed != 1 {
		t.Fatalf("first pass executed = %d, want 1", first.Executed)
	}

	second, err := runner.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if second.Executed != 0 || second.Deduped != 1 {
		t.Fatalf("second pass must dedup, got %+v", second)
	}

	var count int64
	db.Model(&models.EscalationExecution{}).
		Where("ticket_id = ? AND rule_id = ? AND outcome = ?", ticket.ID, rule.ID, models.OutcomeExecuted).
		Count(&count)
	if count != 1 {
		t.Fatalf("executed rows = %d, want exactly 1", count)
	}
}

func TestEscalationRunner_StatusChangeStartsNewEpoch(t *testing.T) {
	db := newTestDB(t)
	runner := newRunnerHarness(t, db, nil, nil)

	activeRule(t, db, "breach bump", models.ConditionSLABreach, "", models.ActionIncreasePriority, "")
	due := time.Now().Add(-time.Hour)
	ticket := seedTicket(t, db, &models.Ticket{
		ID: 1, Title: "t", Priority: models.PriorityLow, Status: models.StatusOpen,
		SLADueAt: &due, CreatedAt: time.Now().Add(-10 * time.Hour),
	})

	if _, err := runner.RunPass(context.Background()); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}

	// status transition: same condition observed again is a new occurrence
	db.Model(&models.Ticket{}).Where("id = ?", ticket.ID).Update("status", models.StatusInProgress)

	summary, err := runner.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass after status change failed: %v", err)
	}
	if summary.Executed != 1 {
		t.Fatalf("new epoch must refire: %+v", summary)
	}
}

func TestEscalationRunner_FailureRecordedAndScanContinues(t *testing.T) {
	db := newTestDB(t)
	runner := newRunnerHarness(t, db, nil, nil)

	// notify_manager fails: no team, no fallback
	failing := activeRule(t, db, "ping manager", models.ConditionNoResponse, `{"hours":1}`, models.ActionNotifyManager, "")
	working := activeRule(t, db, "breach bump", models.ConditionSLABreach, "", models.ActionIncreasePriority, "")

	due := time.Now().Add(-time.Hour)
	old := time.Now().Add(-10 * time.Hour)
	seedTicket(t, db, &models.Ticket{ID: 1, Title: "a", Priority: models.PriorityLow, Status: models.StatusOpen, SLADueAt: &due, CreatedAt: old})
	seedTicket(t, db, &models.Ticket{ID: 2, Title: "b", Priority: models.PriorityLow, Status: models.StatusOpen, SLADueAt: &due, CreatedAt: old})

	summary, err := runner.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	// both tickets: notify fails, bump succeeds
	if summary.Failed != 2 || summary.Executed != 2 {
		t.Fatalf("expected 2 failed + 2 executed, got %+v", summary)
	}

	var failedRows int64
	db.Model(&models.EscalationExecution{}).
		Where("rule_id = ? AND outcome = ?", failing.ID, models.OutcomeFailed).
		Count(&failedRows)
	if failedRows != 2 {
		t.Fatalf("failed rows = %d, want 2", failedRows)
	}

	// the failing rule never blocked the working one
	var executedRows int64
	db.Model(&models.EscalationExecution{}).
		Where("rule_id = ? AND outcome = ?", working.ID, models.OutcomeExecuted).
		Count(&executedRows)
	if executedRows != 2 {
		t.Fatalf("executed rows = %d, want 2", executedRows)
	}

	// failed attempts retry on the next pass
	second, err := runner.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if second.Failed != 2 {
		t.Fatalf("failures must retry, got %+v", second)
	}
}

func TestEscalationRunner_FailedActionRollsBackMutation(t *testing.T) {
	db := newTestDB(t)
	// email gateway that always fails
	email := &recordingEmail{fail: errors.New("smtp down")}
	runner := newRunnerHarness(t, db, nil, email)

	activeRule(t, db, "mail out", models.ConditionSLABreach, "", models.ActionSendEmail, `{"to":"ops@example.com","subject":"s"}`)
	due := time.Now().Add(-time.Hour)
	ticket := seedTicket(t, db, &models.Ticket{ID: 1, Title: "t", Priority: "high", Status: models.StatusOpen, SLADueAt: &due, CreatedAt: time.Now().Add(-5 * time.Hour)})

	summary, err := runner.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if summary.Failed != 1 || summary.Executed != 0 {
		t.Fatalf("expected one failure, got %+v", summary)
	}

	var execs []models.EscalationExecution
	db.Where("ticket_id = ?", ticket.ID).Find(&execs)
	if len(execs) != 1 || execs[0].Outcome != models.OutcomeFailed {
		t.Fatalf("expected exactly one failed row, got %+v", execs)
	}
}

func TestEscalationRunner_RatingRulePullsResolvedTickets(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordingNotifier{}
	runner := newRunnerHarness(t, db, notifier, nil)

	lead := seedUser(t, db, 1, "lead", nil, "active")
	team := &models.Team{ID: 1, Name: "tier1", LeaderID: &lead.ID}
	if err := db.Create(team).Error; err != nil {
		t.Fatalf("seed team: %v", err)
	}

	activeRule(t, db, "bad rating", models.ConditionCustomerRating, `{"threshold":3}`, models.ActionNotifyManager, "")

	resolved := seedTicket(t, db, &models.Ticket{
		ID: 1, Title: "t", Priority: "high", Status: models.StatusResolved,
		TeamID: &team.ID, CreatedAt: time.Now().Add(-48 * time.Hour),
	})
	if err := db.Create(&models.TicketRating{TicketID: resolved.ID, CustomerID: 2, Rating: 1}).Error; err != nil {
		t.Fatalf("seed rating: %v", err)
	}

	summary, err := runner.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if summary.TicketsChecked != 1 || summary.Executed != 1 {
		t.Fatalf("resolved ticket with rating rule must be scanned: %+v", summary)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != lead.ID {
		t.Fatalf("expected manager notification, got %v", notifier.calls)
	}
}

func TestEscalationRunner_ResolvedTicketsSkipNonRatingRules(t *testing.T) {
	db := newTestDB(t)
	runner := newRunnerHarness(t, db, nil, nil)

	activeRule(t, db, "bad rating", models.ConditionCustomerRating, `{"threshold":3}`, models.ActionAddFollower, `{"user_id":1}`)
	activeRule(t, db, "breach bump", models.ConditionSLABreach, "", models.ActionIncreasePriority, "")
	seedUser(t, db, 1, "watcher", nil, "active")

	due := time.Now().Add(-time.Hour)
	resolved := seedTicket(t, db, &models.Ticket{
		ID: 1, Title: "t", Priority: models.PriorityLow, Status: models.StatusResolved,
		SLADueAt: &due, CreatedAt: time.Now().Add(-48 * time.Hour),
	})

	summary, err := runner.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	// only the rating rule is evaluated against the resolved ticket, and
	// without a rating it does not match
	if summary.PairsEvaluated != 1 || summary.Executed != 0 {
		t.Fatalf("resolved ticket must only see rating rules: %+v", summary)
	}
	var live models.Ticket
	db.First(&live, resolved.ID)
	if live.Priority != models.PriorityLow {
		t.Fatalf("terminal ticket must not be mutated: %s", live.Priority)
	}
}

func TestEscalationRunner_RuleSnapshotIgnoresMidPassEdits(t *testing.T) {
	db := newTestDB(t)
	runner := newRunnerHarness(t, db, nil, nil)

	// inactive rules never run
	rule := &models.EscalationRule{
		Name: "dormant", ConditionType: models.ConditionSLABreach,
		ActionType: models.ActionIncreasePriority, Active: false,
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	due := time.Now().Add(-time.Hour)
	seedTicket(t, db, &models.Ticket{ID: 1, Title: "t", Priority: "low", Status: models.StatusOpen, SLADueAt: &due, CreatedAt: time.Now().Add(-5 * time.Hour)})

	summary, err := runner.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if summary.PairsEvaluated != 0 {
		t.Fatalf("inactive rules must not be evaluated: %+v", summary)
	}
}
