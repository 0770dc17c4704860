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

// EscalationRuleService is the rule repository: CRUD over escalation rules
// with per-type schema validation at the write boundary, gated by the
// permission oracle.
type EscalationRuleService struct {
	db     *gorm.DB
	logger *logrus.Logger
	perms  PermissionChecker
	tracer trace.Tracer
}

func NewEscalationRuleService(db *gorm.DB, logger *logrus.Logger, perms PermissionChecker) *EscalationRuleService {
	if logger == nil {
		logger = logrus.New()
	}
	if perms == nil {
		perms = AllowAll
	}
	return &EscalationRuleService{
		db:     db,
		logger: logger,
		perms:  perms,
		tracer: otel.Tracer("deskflow.escalation.rules"),
	}
}

// EscalationRuleCreateRequest carries a new rule. ConditionValue and
// ActionConfig are raw JSON validated against the per-type schema.
type EscalationRuleCreateRequest struct {
	Name           string `json:"name" binding:"required"`
	Description    string `json:"description"`
	ConditionType  string `json:"condition_type" binding:"required"`
	ConditionValue string `json:"condition_value"`
	ActionType     string `json:"action_type" binding:"required"`
	ActionConfig   string `json:"action_config"`
	Active         *bool  `json:"active"`
}

// EscalationRuleUpdateRequest updates a rule in place; nil fields are left
// untouched.
type EscalationRuleUpdateRequest struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	ConditionType  *string `json:"condition_type"`
	ConditionValue *string `json:"condition_value"`
	ActionType     *string `json:"action_type"`
	ActionConfig   *string `json:"action_config"`
	Active         *bool   `json:"active"`
}

func validateRule(name, condType, condValue, actionType, actionConfig string) error {
	if l := len(strings.TrimSpace(name)); l < 1 || l > 100 {
		return validationErrorf("name must be 1-100 characters")
	}
	if !models.ValidConditionType(condType) {
		return validationErrorf("unknown condition type %q", condType)
	}
	if !models.ValidActionType(actionType) {
		return validationErrorf("unknown action type %q", actionType)
	}
	if err := ValidateConditionValue(condType, condValue); err != nil {
		return err
	}
	return ValidateActionConfig(actionType, actionConfig)
}

// Create stores a new rule after schema validation; the oracle must
// approve or storage stays untouched.
func (s *EscalationRuleService) Create(ctx context.Context, actorID uint, req *EscalationRuleCreateRequest) (*models.EscalationRule, error) {
	ctx, span := s.tracer.Start(ctx, "escalation.create_rule")
	defer span.End()

	if !s.perms.HasPermission(ctx, actorID, "create", "escalation_rule") {
		return nil, ErrAccessDenied
	}
	if err := validateRule(req.Name, req.ConditionType, req.ConditionValue, req.ActionType, req.ActionConfig); err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	rule := &models.EscalationRule{
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		ConditionType:  req.ConditionType,
		ConditionValue: req.ConditionValue,
		ActionType:     req.ActionType,
		ActionConfig:   req.ActionConfig,
		Active:         active,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		span.RecordError(err)
		s.logger.Errorf("Failed to create escalation rule: %v", err)
		return nil, fmt.Errorf("failed to create escalation rule: %w", err)
	}

	span.SetAttributes(
		attribute.String("escalation.rule.condition", rule.ConditionType),
		attribute.String("escalation.rule.action", rule.ActionType),
	)
	s.logger.Infof("Created escalation rule %d: %s (%s -> %s)",
		rule.ID, rule.Name, rule.ConditionType, rule.ActionType)
	return rule, nil
}

// Get returns one rule by id.
func (s *EscalationRuleService) Get(ctx context.Context, id uint) (*models.EscalationRule, error) {
	var rule models.EscalationRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get escalation rule: %w", err)
	}
	return &rule, nil
}

// List returns every rule, newest first. Readable by any authenticated
// caller; only writes consult the oracle.
func (s *EscalationRuleService) List(ctx context.Context) ([]models.EscalationRule, error) {
	var rules []models.EscalationRule
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list escalation rules: %w", err)
	}
	return rules, nil
}

// ListActive returns the rules a scan pass should evaluate.
func (s *EscalationRuleService) ListActive(ctx context.Context) ([]models.EscalationRule, error) {
	var rules []models.EscalationRule
	if err := s.db.WithContext(ctx).Where("active = true").Order("id").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list active escalation rules: %w", err)
	}
	return rules, nil
}

// Update edits a rule; the merged result is re-validated as a whole.
func (s *EscalationRuleService) Update(ctx context.Context, actorID, id uint, req *EscalationRuleUpdateRequest) (*models.EscalationRule, error) {
	ctx, span := s.tracer.Start(ctx, "escalation.update_rule")
	defer span.End()

	if !s.perms.HasPermission(ctx, actorID, "update", "escalation_rule") {
		return nil, ErrAccessDenied
	}

	var rule models.EscalationRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to find escalation rule: %w", err)
	}

	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.ConditionType != nil {
		rule.ConditionType = *req.ConditionType
	}
	if req.ConditionValue != nil {
		rule.ConditionValue = *req.ConditionValue
	}
	if req.ActionType != nil {
		rule.ActionType = *req.ActionType
	}
	if req.ActionConfig != nil {
		rule.ActionConfig = *req.ActionConfig
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if err := validateRule(rule.Name, rule.ConditionType, rule.ConditionValue, rule.ActionType, rule.ActionConfig); err != nil {
		return nil, err
	}

	rule.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&rule).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update escalation rule: %w", err)
	}
	s.logger.Infof("Updated escalation rule %d: %s", id, rule.Name)
	return &rule, nil
}

// Delete removes the rule from all future scans. Execution history rows
// keep their own name/action snapshots and are never touched.
func (s *EscalationRuleService) Delete(ctx context.Context, actorID, id uint) error {
	ctx, span := s.tracer.Start(ctx, "escalation.delete_rule")
	defer span.End()

	if !s.perms.HasPermission(ctx, actorID, "delete", "escalation_rule") {
		return ErrAccessDenied
	}
	result := s.db.WithContext(ctx).Delete(&models.EscalationRule{}, id)
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to delete escalation rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.logger.Infof("Deleted escalation rule %d", id)
	return nil
}
