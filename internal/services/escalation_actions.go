package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Notifier delivers in-app notifications. Delivery transport is a
// collaborator; the hub in notify_hub.go is the default implementation.
type Notifier interface {
	NotifyUser(ctx context.Context, userID uint, subject, body string) error
}

// EmailGateway is the outbound email collaborator. Gateway failures are
// reported as action failures, never propagated as panics.
type EmailGateway interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ActionExecutor performs the side effect named by a rule's actionType.
// Every mutating action re-checks the live ticket status against the pass
// snapshot; a concurrent human edit turns the action into a recorded no-op
// instead of applying a stale mutation.
type ActionExecutor struct {
	db       *gorm.DB
	logger   *logrus.Logger
	notifier Notifier
	email    EmailGateway
}

func NewActionExecutor(db *gorm.DB, logger *logrus.Logger, notifier Notifier, email EmailGateway) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActionExecutor{db: db, logger: logger, notifier: notifier, email: email}
}

// errStaleTicket distinguishes the optimistic-guard no-op from a real
// failure; the runner records it as a successful skip.
var errStaleTicket = errors.New("ticket state changed during pass")

// Execute dispatches on actionType within tx and returns a human-readable
// result detail. It never panics past the runner; all failures come back
// as errors.
func (e *ActionExecutor) Execute(ctx context.Context, tx *gorm.DB, rule *models.EscalationRule, snap *TicketSnapshot) (string, error) {
	if tx == nil {
		tx = e.db
	}
	switch rule.ActionType {
	case models.ActionNotifyManager:
		return e.notifyManager(ctx, tx, rule.ActionConfig, snap)
	case models.ActionReassignTicket:
		return e.reassignTicket(ctx, tx, rule.ActionConfig, snap)
	case models.ActionIncreasePriority:
		return e.increasePriority(ctx, tx, snap)
	case models.ActionAddFollower:
		return e.addFollower(ctx, tx, rule.ActionConfig, snap)
	case models.ActionSendEmail:
		return e.sendEmail(ctx, tx, rule.ActionConfig, snap)
	default:
		return "", fmt.Errorf("unsupported action type: %s", rule.ActionType)
	}
}

// resolveManager finds the leader of the ticket's team, falling back to
// the configured recipient.
func (e *ActionExecutor) resolveManager(ctx context.Context, tx *gorm.DB, cfg NotifyManagerConfig, snap *TicketSnapshot) (*models.User, error) {
	if snap.Ticket.TeamID != nil {
		var team models.Team
		err := tx.WithContext(ctx).First(&team, *snap.Ticket.TeamID).Error
		if err == nil && team.LeaderID != nil {
			var leader models.User
			if err := tx.WithContext(ctx).First(&leader, *team.LeaderID).Error; err == nil {
				return &leader, nil
			}
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if cfg.FallbackUserID != 0 {
		var fallback models.User
		if err := tx.WithContext(ctx).First(&fallback, cfg.FallbackUserID).Error; err == nil {
			return &fallback, nil
		}
	}
	return nil, fmt.Errorf("no manager found for ticket's team")
}

func (e *ActionExecutor) notifyManager(ctx context.Context, tx *gorm.DB, rawCfg string, snap *TicketSnapshot) (string, error) {
	var cfg NotifyManagerConfig
	if !emptyOrObject(rawCfg) {
		if err := json.Unmarshal([]byte(rawCfg), &cfg); err != nil {
			return "", fmt.Errorf("invalid notify_manager config: %w", err)
		}
	}
	manager, err := e.resolveManager(ctx, tx, cfg, snap)
	if err != nil {
		return "", err
	}

	subject := fmt.Sprintf("Ticket #%d escalated", snap.Ticket.ID)
	body := cfg.Message
	if body == "" {
		body = fmt.Sprintf("Ticket #%d (%s, priority %s) needs attention.",
			snap.Ticket.ID, snap.Ticket.Title, snap.Ticket.Priority)
	}
	if e.notifier == nil {
		return "", fmt.Errorf("no notifier configured")
	}
	if err := e.notifier.NotifyUser(ctx, manager.ID, subject, body); err != nil {
		return "", fmt.Errorf("notify manager %d: %w", manager.ID, err)
	}
	return fmt.Sprintf("notified manager %s (user %d)", manager.Username, manager.ID), nil
}

func (e *ActionExecutor) reassignTicket(ctx context.Context, tx *gorm.DB, rawCfg string, snap *TicketSnapshot) (string, error) {
	var cfg ReassignTicketConfig
	if err := json.Unmarshal([]byte(rawCfg), &cfg); err != nil {
		return "", fmt.Errorf("invalid reassign_ticket config: %w", err)
	}

	var target *models.User
	if cfg.Target == "team_lead" {
		lead, err := e.resolveManager(ctx, tx, NotifyManagerConfig{}, snap)
		if err != nil {
			return "", fmt.Errorf("reassign to team lead: %w", err)
		}
		target = lead
	} else {
		var user models.User
		if err := tx.WithContext(ctx).First(&user, cfg.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", fmt.Errorf("reassign target user %d does not exist", cfg.UserID)
			}
			return "", fmt.Errorf("failed to load reassign target: %w", err)
		}
		target = &user
	}
	if target.Status != "active" {
		return "", fmt.Errorf("reassign target user %d is not active", target.ID)
	}

	result := tx.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ? AND status = ?", snap.Ticket.ID, snap.Ticket.Status).
		Update("assignee_id", target.ID)
	if result.Error != nil {
		return "", fmt.Errorf("failed to reassign ticket: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", errStaleTicket
	}
	return fmt.Sprintf("reassigned to %s (user %d)", target.Username, target.ID), nil
}

// increasePriority moves the ticket one step up the order. At urgent it is
// a deliberate no-op reported as success, not a failure.
func (e *ActionExecutor) increasePriority(ctx context.Context, tx *gorm.DB, snap *TicketSnapshot) (string, error) {
	current := snap.Ticket.Priority
	next := models.NextPriority(current)
	if next == current {
		return fmt.Sprintf("priority already %s, no change", current), nil
	}

	result := tx.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ? AND status = ? AND priority = ?", snap.Ticket.ID, snap.Ticket.Status, current).
		Update("priority", next)
	if result.Error != nil {
		return "", fmt.Errorf("failed to increase priority: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", errStaleTicket
	}
	return fmt.Sprintf("priority raised %s -> %s", current, next), nil
}

// addFollower inserts into the follower set; an existing follower makes
// this a no-op success.
func (e *ActionExecutor) addFollower(ctx context.Context, tx *gorm.DB, rawCfg string, snap *TicketSnapshot) (string, error) {
	var cfg AddFollowerConfig
	if err := json.Unmarshal([]byte(rawCfg), &cfg); err != nil {
		return "", fmt.Errorf("invalid add_follower config: %w", err)
	}
	var user models.User
	if err := tx.WithContext(ctx).First(&user, cfg.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("follower user %d does not exist", cfg.UserID)
		}
		return "", fmt.Errorf("failed to load follower user: %w", err)
	}

	var live models.Ticket
	if err := tx.WithContext(ctx).First(&live, snap.Ticket.ID).Error; err != nil {
		return "", fmt.Errorf("failed to re-read ticket: %w", err)
	}
	if live.Status != snap.Ticket.Status {
		return "", errStaleTicket
	}

	var count int64
	if err := tx.WithContext(ctx).Model(&models.TicketFollower{}).
		Where("ticket_id = ? AND user_id = ?", snap.Ticket.ID, cfg.UserID).
		Count(&count).Error; err != nil {
		return "", fmt.Errorf("failed to check follower set: %w", err)
	}
	if count > 0 {
		return fmt.Sprintf("user %d already follows ticket", cfg.UserID), nil
	}
	follower := &models.TicketFollower{TicketID: snap.Ticket.ID, UserID: cfg.UserID}
	if err := tx.WithContext(ctx).Create(follower).Error; err != nil {
		return "", fmt.Errorf("failed to add follower: %w", err)
	}
	return fmt.Sprintf("added follower %s (user %d)", user.Username, user.ID), nil
}

func (e *ActionExecutor) sendEmail(ctx context.Context, tx *gorm.DB, rawCfg string, snap *TicketSnapshot) (string, error) {
	var cfg SendEmailConfig
	if err := json.Unmarshal([]byte(rawCfg), &cfg); err != nil {
		return "", fmt.Errorf("invalid send_email config: %w", err)
	}
	to := cfg.To
	if to == "" {
		if snap.Ticket.AssigneeID == nil {
			return "", fmt.Errorf("no recipient: config has no address and ticket is unassigned")
		}
		var assignee models.User
		if err := tx.WithContext(ctx).First(&assignee, *snap.Ticket.AssigneeID).Error; err != nil {
			return "", fmt.Errorf("failed to resolve assignee address: %w", err)
		}
		to = assignee.Email
	}
	if e.email == nil {
		return "", fmt.Errorf("no email gateway configured")
	}
	body := cfg.Body
	if body == "" {
		body = fmt.Sprintf("Ticket #%d (%s) triggered an escalation rule.", snap.Ticket.ID, snap.Ticket.Title)
	}
	if err := e.email.Send(ctx, to, cfg.Subject, body); err != nil {
		return "", fmt.Errorf("email gateway: %w", err)
	}
	return fmt.Sprintf("email sent to %s", to), nil
}
