package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// SLAService owns SLA policies, computes ticket deadlines and aggregates
// compliance statistics.
type SLAService struct {
	db     *gorm.DB
	logger *logrus.Logger
	perms  PermissionChecker
	tracer trace.Tracer
}

func NewSLAService(db *gorm.DB, logger *logrus.Logger, perms PermissionChecker) *SLAService {
	if logger == nil {
		logger = logrus.New()
	}
	if perms == nil {
		perms = AllowAll
	}
	return &SLAService{
		db:     db,
		logger: logger,
		perms:  perms,
		tracer: otel.Tracer("deskflow.sla"),
	}
}

// SLAPolicyCreateRequest carries the fields of a new policy.
type SLAPolicyCreateRequest struct {
	Name                string `json:"name" binding:"required"`
	Description         string `json:"description"`
	Priority            string `json:"priority" binding:"required"`
	ResponseTimeHours   int    `json:"response_time_hours" binding:"required,min=1"`
	ResolutionTimeHours int    `json:"resolution_time_hours" binding:"required,min=1"`
	Active              *bool  `json:"active"`
}

// SLAPolicyUpdateRequest updates a policy in place. Existing ticket
// deadlines are never recomputed from an edit.
type SLAPolicyUpdateRequest struct {
	Name                *string `json:"name"`
	Description         *string `json:"description"`
	Priority            *string `json:"priority"`
	ResponseTimeHours   *int    `json:"response_time_hours"`
	ResolutionTimeHours *int    `json:"resolution_time_hours"`
	Active              *bool   `json:"active"`
}

func validatePolicyFields(name, priority string, responseHours, resolutionHours int) error {
	if l := len(strings.TrimSpace(name)); l < 1 || l > 100 {
		return validationErrorf("name must be 1-100 characters")
	}
	if !models.ValidPriority(priority) {
		return validationErrorf("unknown priority %q", priority)
	}
	if responseHours < 1 {
		return validationErrorf("response_time_hours must be > 0")
	}
	if resolutionHours < 1 {
		return validationErrorf("resolution_time_hours must be > 0")
	}
	return nil
}

// CreatePolicy stores a new SLA policy. Only one active policy may exist
// per priority.
func (s *SLAService) CreatePolicy(ctx context.Context, actorID uint, req *SLAPolicyCreateRequest) (*models.SLAPolicy, error) {
	ctx, span := s.tracer.Start(ctx, "sla.create_policy")
	defer span.End()

	if !s.perms.HasPermission(ctx, actorID, "create", "sla_policy") {
		return nil, ErrAccessDenied
	}
	if err := validatePolicyFields(req.Name, req.Priority, req.ResponseTimeHours, req.ResolutionTimeHours); err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	if active {
		var existing models.SLAPolicy
		err := s.db.WithContext(ctx).Where("priority = ? AND active = true", req.Priority).First(&existing).Error
		if err == nil {
			return nil, validationErrorf("active SLA policy for priority %q already exists", req.Priority)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to check existing policy: %w", err)
		}
	}

	policy := &models.SLAPolicy{
		Name:                strings.TrimSpace(req.Name),
		Description:         req.Description,
		Priority:            req.Priority,
		ResponseTimeHours:   req.ResponseTimeHours,
		ResolutionTimeHours: req.ResolutionTimeHours,
		Active:              active,
		CreatedAt:           time.Now(),
		UpdatedAt:           time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(policy).Error; err != nil {
		span.RecordError(err)
		s.logger.Errorf("Failed to create SLA policy: %v", err)
		return nil, fmt.Errorf("failed to create SLA policy: %w", err)
	}

	span.SetAttributes(
		attribute.String("sla.policy.priority", policy.Priority),
		attribute.Int("sla.policy.resolution_hours", policy.ResolutionTimeHours),
	)
	s.logger.Infof("Created SLA policy: name=%s, priority=%s, resolution=%dh",
		policy.Name, policy.Priority, policy.ResolutionTimeHours)
	return policy, nil
}

// GetPolicy returns one policy by id.
func (s *SLAService) GetPolicy(ctx context.Context, id uint) (*models.SLAPolicy, error) {
	var policy models.SLAPolicy
	if err := s.db.WithContext(ctx).First(&policy, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get SLA policy: %w", err)
	}
	return &policy, nil
}

// ListPolicies returns all policies, newest first.
func (s *SLAService) ListPolicies(ctx context.Context) ([]models.SLAPolicy, error) {
	var policies []models.SLAPolicy
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("failed to list SLA policies: %w", err)
	}
	return policies, nil
}

// UpdatePolicy edits a policy. Deadlines already stamped on tickets stay as
// they are.
func (s *SLAService) UpdatePolicy(ctx context.Context, actorID, id uint, req *SLAPolicyUpdateRequest) (*models.SLAPolicy, error) {
	ctx, span := s.tracer.Start(ctx, "sla.update_policy")
	defer span.End()

	if !s.perms.HasPermission(ctx, actorID, "update", "sla_policy") {
		return nil, ErrAccessDenied
	}

	var policy models.SLAPolicy
	if err := s.db.WithContext(ctx).First(&policy, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to find SLA policy: %w", err)
	}

	if req.Name != nil {
		policy.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		policy.Description = *req.Description
	}
	if req.Priority != nil {
		policy.Priority = *req.Priority
	}
	if req.ResponseTimeHours != nil {
		policy.ResponseTimeHours = *req.ResponseTimeHours
	}
	if req.ResolutionTimeHours != nil {
		policy.ResolutionTimeHours = *req.ResolutionTimeHours
	}
	if req.Active != nil {
		policy.Active = *req.Active
	}
	if err := validatePolicyFields(policy.Name, policy.Priority, policy.ResponseTimeHours, policy.ResolutionTimeHours); err != nil {
		return nil, err
	}
	if policy.Active {
		var existing models.SLAPolicy
		err := s.db.WithContext(ctx).
			Where("priority = ? AND active = true AND id != ?", policy.Priority, id).
			First(&existing).Error
		if err == nil {
			return nil, validationErrorf("active SLA policy for priority %q already exists", policy.Priority)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to check existing policy: %w", err)
		}
	}

	policy.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&policy).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update SLA policy: %w", err)
	}
	s.logger.Infof("Updated SLA policy: id=%d, name=%s", id, policy.Name)
	return &policy, nil
}

// DeletePolicy removes a policy. Tickets keep whatever deadline the policy
// produced while it was in force.
func (s *SLAService) DeletePolicy(ctx context.Context, actorID, id uint) error {
	ctx, span := s.tracer.Start(ctx, "sla.delete_policy")
	defer span.End()

	if !s.perms.HasPermission(ctx, actorID, "delete", "sla_policy") {
		return ErrAccessDenied
	}
	result := s.db.WithContext(ctx).Delete(&models.SLAPolicy{}, id)
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to delete SLA policy: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.logger.Infof("Deleted SLA policy: id=%d", id)
	return nil
}

// ActivePolicyForPriority returns the active policy for a priority, or
// (nil, nil) when none is configured, the "no SLA tracked" state.
func (s *SLAService) ActivePolicyForPriority(ctx context.Context, priority string) (*models.SLAPolicy, error) {
	var policy models.SLAPolicy
	err := s.db.WithContext(ctx).Where("priority = ? AND active = true", priority).First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get SLA policy by priority: %w", err)
	}
	return &policy, nil
}

// ResolveDueDate computes the SLA deadline: createdAt + resolution window.
func ResolveDueDate(ticket *models.Ticket, policy *models.SLAPolicy) time.Time {
	return ticket.CreatedAt.Add(time.Duration(policy.ResolutionTimeHours) * time.Hour)
}

// ApplySLA stamps sla_due_at on the ticket from the active policy matching
// its priority. Without a matching policy the deadline is cleared and SLA
// conditions never fire for the ticket. Called at creation and again on
// priority change.
func (s *SLAService) ApplySLA(ctx context.Context, ticket *models.Ticket) error {
	ctx, span := s.tracer.Start(ctx, "sla.apply")
	defer span.End()

	policy, err := s.ActivePolicyForPriority(ctx, ticket.Priority)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if policy == nil {
		ticket.SLADueAt = nil
		s.logger.Debugf("No SLA policy for priority %s, ticket %d untracked", ticket.Priority, ticket.ID)
		return nil
	}
	due := ResolveDueDate(ticket, policy)
	ticket.SLADueAt = &due
	span.SetAttributes(attribute.String("sla.due_at", due.Format(time.RFC3339)))
	return nil
}

// SLAStats is the compliance aggregate over historical resolved tickets.
type SLAStats struct {
	TotalResolved      int                `json:"total_resolved"`
	ResolvedWithSLA    int                `json:"resolved_with_sla"`
	ResolvedOnTime     int                `json:"resolved_on_time"`
	ComplianceRate     float64            `json:"compliance_rate"`
	CompliancePriority map[string]float64 `json:"compliance_by_priority"`
	Trend              []SLATrendPoint    `json:"trend"`
}

// SLATrendPoint is one day of the compliance trend.
type SLATrendPoint struct {
	Date           string  `json:"date"`
	Resolved       int     `json:"resolved"`
	OnTime         int     `json:"on_time"`
	ComplianceRate float64 `json:"compliance_rate"`
}

// Stats computes compliance percentages from resolved tickets that carried
// a deadline. Tickets without SLA tracking are excluded from the rate.
func (s *SLAService) Stats(ctx context.Context) (*SLAStats, error) {
	ctx, span := s.tracer.Start(ctx, "sla.stats")
	defer span.End()

	stats := &SLAStats{
		CompliancePriority: make(map[string]float64),
		Trend:              []SLATrendPoint{},
	}

	var totalResolved int64
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("status IN ?", []string{models.StatusResolved, models.StatusClosed}).
		Count(&totalResolved).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count resolved tickets: %w", err)
	}
	stats.TotalResolved = int(totalResolved)

	base := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("status IN ?", []string{models.StatusResolved, models.StatusClosed}).
		Where("sla_due_at IS NOT NULL AND resolved_at IS NOT NULL")

	var withSLA int64
	if err := base.Session(&gorm.Session{}).Count(&withSLA).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count SLA-tracked tickets: %w", err)
	}
	stats.ResolvedWithSLA = int(withSLA)

	var onTime int64
	if err := base.Session(&gorm.Session{}).Where("resolved_at <= sla_due_at").Count(&onTime).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count on-time tickets: %w", err)
	}
	stats.ResolvedOnTime = int(onTime)

	if withSLA > 0 {
		stats.ComplianceRate = float64(onTime) / float64(withSLA) * 100
	} else {
		stats.ComplianceRate = 100.0
	}

	var perPriority []struct {
		Priority string
		Total    int64
		OnTime   int64
	}
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Select("priority, COUNT(*) as total, SUM(CASE WHEN resolved_at <= sla_due_at THEN 1 ELSE 0 END) as on_time").
		Where("status IN ?", []string{models.StatusResolved, models.StatusClosed}).
		Where("sla_due_at IS NOT NULL AND resolved_at IS NOT NULL").
		Group("priority").
		Scan(&perPriority).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to aggregate per-priority compliance: %w", err)
	}
	for _, row := range perPriority {
		if row.Total > 0 {
			stats.CompliancePriority[row.Priority] = float64(row.OnTime) / float64(row.Total) * 100
		}
	}

	trend, err := s.trendData(ctx, 7)
	if err != nil {
		s.logger.Errorf("Failed to compute SLA trend: %v", err)
	} else {
		stats.Trend = trend
	}

	span.SetAttributes(
		attribute.Int("sla.stats.resolved_with_sla", stats.ResolvedWithSLA),
		attribute.Float64("sla.stats.compliance_rate", stats.ComplianceRate),
	)
	return stats, nil
}

func (s *SLAService) trendData(ctx context.Context, days int) ([]SLATrendPoint, error) {
	var trend []SLATrendPoint
	for i := days - 1; i >= 0; i-- {
		date := time.Now().AddDate(0, 0, -i)
		dateStr := date.Format("2006-01-02")

		var resolved int64
		if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
			Where("DATE(resolved_at) = ? AND sla_due_at IS NOT NULL", dateStr).
			Count(&resolved).Error; err != nil {
			return nil, fmt.Errorf("failed to count resolutions for %s: %w", dateStr, err)
		}

		var onTime int64
		if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
			Where("DATE(resolved_at) = ? AND sla_due_at IS NOT NULL AND resolved_at <= sla_due_at", dateStr).
			Count(&onTime).Error; err != nil {
			return nil, fmt.Errorf("failed to count on-time resolutions for %s: %w", dateStr, err)
		}

		rate := 100.0
		if resolved > 0 {
			rate = float64(onTime) / float64(resolved) * 100
		}
		trend = append(trend, SLATrendPoint{
			Date:           dateStr,
			Resolved:       int(resolved),
			OnTime:         int(onTime),
			ComplianceRate: rate,
		})
	}
	return trend, nil
}
