package services

import (
	"context"
	"testing"
	"time"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Team{},
		&models.Ticket{}, &models.TicketComment{}, &models.TicketFollower{},
		&models.TicketStatusChange{}, &models.TicketRating{},
		&models.SLAPolicy{}, &models.EscalationRule{}, &models.EscalationExecution{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestSLAService_CreatePolicy_OneActivePerPriority(t *testing.T) {
	db := newTestDB(t)
	svc := NewSLAService(db, logrus.New(), AllowAll)

	_, err := svc.CreatePolicy(context.Background(), 1, &SLAPolicyCreateRequest{
		Name: "High 24h", Priority: "high", ResponseTimeHours: 4, ResolutionTimeHours: 24,
	})
	if err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}

	_, err = svc.CreatePolicy(context.Background(), 1, &SLAPolicyCreateRequest{
		Name: "High again", Priority: "high", ResponseTimeHours: 2, ResolutionTimeHours: 12,
	})
	if !IsValidationError(err) {
		t.Fatalf("expected validation error for second active high policy, got %v", err)
	}

	// an inactive duplicate is allowed
	inactive := false
	_, err = svc.CreatePolicy(context.Background(), 1, &SLAPolicyCreateRequest{
		Name: "High draft", Priority: "high", ResponseTimeHours: 2, ResolutionTimeHours: 12, Active: &inactive,
	})
	if err != nil {
		t.Fatalf("inactive duplicate should be allowed: %v", err)
	}
}

func TestSLAService_CreateInactivePolicyStaysInactive(t *testing.T) {
	db := newTestDB(t)
	svc := NewSLAService(db, logrus.New(), AllowAll)

	inactive := false
	policy, err := svc.CreatePolicy(context.Background(), 1, &SLAPolicyCreateRequest{
		Name: "High draft", Priority: "high", ResponseTimeHours: 2, ResolutionTimeHours: 12, Active: &inactive,
	})
	if err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}

	var stored models.SLAPolicy
	if err := db.First(&stored, policy.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if stored.Active {
		t.Fatal("policy stored active despite active=false at create")
	}

	got, err := svc.ActivePolicyForPriority(context.Background(), "high")
	if err != nil {
		t.Fatalf("ActivePolicyForPriority failed: %v", err)
	}
	if got != nil {
		t.Fatalf("inactive policy must not resolve as active, got id=%d", got.ID)
	}

	// the draft does not block a real active policy for the priority
	if _, err := svc.CreatePolicy(context.Background(), 1, &SLAPolicyCreateRequest{
		Name: "High 24h", Priority: "high", ResponseTimeHours: 4, ResolutionTimeHours: 24,
	}); err != nil {
		t.Fatalf("active policy alongside inactive draft should be allowed: %v", err)
	}
}

func TestSLAService_CreatePolicy_Validation(t *testing.T) {
	db := newTestDB(t)
	svc := NewSLAService(db, logrus.New(), AllowAll)

	cases := []*SLAPolicyCreateRequest{
		{Name: "", Priority: "high", ResponseTimeHours: 1, ResolutionTimeHours: 1},
		{Name: "x", Priority: "severe", ResponseTimeHours: 1, ResolutionTimeHours: 1},
		{Name: "x", Priority: "high", ResponseTimeHours: 0, ResolutionTimeHours: 1},
		{Name: "x", Priority: "high", ResponseTimeHours: 1, ResolutionTimeHours: 0},
	}
	for i, req := range cases {
		if _, err := svc.CreatePolicy(context.Background(), 1, req); !IsValidationError(err) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestSLAService_PermissionDenied(t *testing.T) {
	db := newTestDB(t)
	deny := PermissionFunc(func(context.Context, uint, string, string) bool { return false })
	svc := NewSLAService(db, logrus.New(), deny)

	_, err := svc.CreatePolicy(context.Background(), 7, &SLAPolicyCreateRequest{
		Name: "x", Priority: "high", ResponseTimeHours: 1, ResolutionTimeHours: 1,
	})
	if err != ErrAccessDenied {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}

	var count int64
	db.Model(&models.SLAPolicy{}).Count(&count)
	if count != 0 {
		t.Fatalf("denied create must not touch storage, found %d rows", count)
	}
}

func TestSLAService_ApplySLA_StampsDeadline(t *testing.T) {
	db := newTestDB(t)
	svc := NewSLAService(db, logrus.New(), AllowAll)

	if _, err := svc.CreatePolicy(context.Background(), 1, &SLAPolicyCreateRequest{
		Name: "High 72h", Priority: "high", ResponseTimeHours: 8, ResolutionTimeHours: 72,
	}); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ticket := &models.Ticket{Priority: "high", Status: models.StatusOpen, CreatedAt: created}
	if err := svc.ApplySLA(context.Background(), ticket); err != nil {
		t.Fatalf("ApplySLA failed: %v", err)
	}
	if ticket.SLADueAt == nil {
		t.Fatal("expected sla_due_at to be stamped")
	}
	want := created.Add(72 * time.Hour)
	if !ticket.SLADueAt.Equal(want) {
		t.Fatalf("sla_due_at = %s, want %s", ticket.SLADueAt, want)
	}
}

func TestSLAService_ApplySLA_NoPolicyMeansUntracked(t *testing.T) {
	db := newTestDB(t)
	svc := NewSLAService(db, logrus.New(), AllowAll)

	stale := time.Now().Add(-time.Hour)
	ticket := &models.Ticket{Priority: "low", Status: models.StatusOpen, CreatedAt: time.Now(), SLADueAt: &stale}
	if err := svc.ApplySLA(context.Background(), ticket); err != nil {
		t.Fatalf("ApplySLA failed: %v", err)
	}
	if ticket.SLADueAt != nil {
		t.Fatalf("expected cleared deadline without a policy, got %v", ticket.SLADueAt)
	}
}

func TestTicketService_ChangePriority_RecomputesDeadline(t *testing.T) {
	db := newTestDB(t)
	sla := NewSLAService(db, logrus.New(), AllowAll)
	tickets := NewTicketService(db, logrus.New(), sla)

	if _, err := sla.CreatePolicy(context.Background(), 1, &SLAPolicyCreateRequest{
		Name: "Medium 96h", Priority: "medium", ResponseTimeHours: 8, ResolutionTimeHours: 96,
	}); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}
	if _, err := sla.CreatePolicy(context.Background(), 1, &SLAPolicyCreateRequest{
		Name: "Urgent 8h", Priority: "urgent", ResponseTimeHours: 1, ResolutionTimeHours: 8,
	}); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}

	ticket, err := tickets.Create(context.Background(), &TicketCreateRequest{
		Title: "printer on fire", CustomerID: 10, Priority: "medium",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ticket.SLADueAt == nil {
		t.Fatal("expected deadline from medium policy")
	}
	mediumDue := *ticket.SLADueAt

	updated, err := tickets.ChangePriority(context.Background(), ticket.ID, "urgent")
	if err != nil {
		t.Fatalf("ChangePriority failed: %v", err)
	}
	if updated.SLADueAt == nil {
		t.Fatal("expected deadline after priority change")
	}
	want := ticket.CreatedAt.Add(8 * time.Hour)
	if !updated.SLADueAt.Equal(want) {
		t.Fatalf("recomputed deadline = %s, want %s", updated.SLADueAt, want)
	}
	if updated.SLADueAt.Equal(mediumDue) {
		t.Fatal("deadline should change when the priority changes")
	}
}

func TestSLAService_PolicyEditKeepsExistingDeadlines(t *testing.T) {
	db := newTestDB(t)
	sla := NewSLAService(db, logrus.New(), AllowAll)
	tickets := NewTicketService(db, logrus.New(), sla)

	policy, err := sla.CreatePolicy(context.Background(), 1, &SLAPolicyCreateRequest{
		Name: "High 24h", Priority: "high", ResponseTimeHours: 4, ResolutionTimeHours: 24,
	})
	if err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}

	ticket, err := tickets.Create(context.Background(), &TicketCreateRequest{
		Title: "vpn down", CustomerID: 3, Priority: "high",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	before := *ticket.SLADueAt

	hours := 48
	if _, err := sla.UpdatePolicy(context.Background(), 1, policy.ID, &SLAPolicyUpdateRequest{
		ResolutionTimeHours: &hours,
	}); err != nil {
		t.Fatalf("UpdatePolicy failed: %v", err)
	}

	reloaded, err := tickets.Get(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if reloaded.SLADueAt == nil || !reloaded.SLADueAt.Equal(before) {
		t.Fatalf("policy edit must not rewrite stamped deadlines: got %v want %v", reloaded.SLADueAt, before)
	}
}

func TestSLAService_Stats(t *testing.T) {
	db := newTestDB(t)
	svc := NewSLAService(db, logrus.New(), AllowAll)

	now := time.Now()
	onTimeResolved := now.Add(-2 * time.Hour)
	due := now.Add(-1 * time.Hour)
	lateResolved := now.Add(-30 * time.Minute)

	seed := []models.Ticket{
		{Title: "a", Priority: "high", Status: models.StatusResolved, SLADueAt: &due, ResolvedAt: &onTimeResolved, CreatedAt: now.Add(-24 * time.Hour)},
		{Title: "b", Priority: "high", Status: models.StatusResolved, SLADueAt: &due, ResolvedAt: &lateResolved, CreatedAt: now.Add(-24 * time.Hour)},
		// untracked: no deadline, excluded from the rate
		{Title: "c", Priority: "low", Status: models.StatusResolved, ResolvedAt: &onTimeResolved, CreatedAt: now.Add(-24 * time.Hour)},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed ticket: %v", err)
		}
	}

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalResolved != 3 {
		t.Fatalf("total resolved = %d, want 3", stats.TotalResolved)
	}
	if stats.ResolvedWithSLA != 2 {
		t.Fatalf("resolved with SLA = %d, want 2", stats.ResolvedWithSLA)
	}
	if stats.ResolvedOnTime != 1 {
		t.Fatalf("resolved on time = %d, want 1", stats.ResolvedOnTime)
	}
	if stats.ComplianceRate != 50.0 {
		t.Fatalf("compliance rate = %f, want 50", stats.ComplianceRate)
	}
}
