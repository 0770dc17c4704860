package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TicketService is the narrow boundary to the ticket subsystem the
// escalation engine needs: deadline stamping at creation/priority change,
// status transitions with history, comments, ratings and snapshot reads.
// Full ticket CRUD (forms, attachments, search) lives outside this service.
type TicketService struct {
	db     *gorm.DB
	logger *logrus.Logger
	sla    *SLAService
}

func NewTicketService(db *gorm.DB, logger *logrus.Logger, sla *SLAService) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TicketService{db: db, logger: logger, sla: sla}
}

// TicketCreateRequest carries the fields the engine cares about.
type TicketCreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	CustomerID  uint   `json:"customer_id" binding:"required"`
	Priority    string `json:"priority"`
	TeamID      *uint  `json:"team_id"`
	AssigneeID  *uint  `json:"assignee_id"`
}

// Create stores a ticket and stamps its SLA deadline from the active
// policy for its priority.
func (s *TicketService) Create(ctx context.Context, req *TicketCreateRequest) (*models.Ticket, error) {
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.ValidPriority(priority) {
		return nil, validationErrorf("unknown priority %q", priority)
	}

	now := time.Now()
	ticket := &models.Ticket{
		Title:       req.Title,
		Description: req.Description,
		CustomerID:  req.CustomerID,
		Priority:    priority,
		Status:      models.StatusOpen,
		TeamID:      req.TeamID,
		AssigneeID:  req.AssigneeID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.sla != nil {
		if err := s.sla.ApplySLA(ctx, ticket); err != nil {
			return nil, err
		}
	}
	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	s.logger.Infof("Created ticket %d priority=%s sla_due=%v", ticket.ID, ticket.Priority, ticket.SLADueAt)
	return ticket, nil
}

// Get returns one ticket.
func (s *TicketService) Get(ctx context.Context, id uint) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &ticket, nil
}

// ChangePriority moves the ticket to a new priority and recomputes the SLA
// deadline from the policy now in force. This is the one documented path
// that replaces sla_due_at after creation.
func (s *TicketService) ChangePriority(ctx context.Context, id uint, priority string) (*models.Ticket, error) {
	if !models.ValidPriority(priority) {
		return nil, validationErrorf("unknown priority %q", priority)
	}
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ticket.Priority = priority
	if s.sla != nil {
		if err := s.sla.ApplySLA(ctx, ticket); err != nil {
			return nil, err
		}
	}
	ticket.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"priority":   ticket.Priority,
			"sla_due_at": ticket.SLADueAt,
			"updated_at": ticket.UpdatedAt,
		}).Error; err != nil {
		return nil, fmt.Errorf("failed to change priority: %w", err)
	}
	return ticket, nil
}

// SetStatus transitions the ticket and appends a status-history row.
// Resolving stamps resolved_at, closing stamps closed_at.
func (s *TicketService) SetStatus(ctx context.Context, id, actorID uint, status, reason string) (*models.Ticket, error) {
	if !models.ValidStatus(status) {
		return nil, validationErrorf("unknown status %q", status)
	}
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Status == status {
		return ticket, nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if status == models.StatusResolved {
		updates["resolved_at"] = now
	}
	if status == models.StatusClosed {
		updates["closed_at"] = now
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Ticket{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		change := &models.TicketStatusChange{
			TicketID:   id,
			UserID:     actorID,
			FromStatus: ticket.Status,
			ToStatus:   status,
			Reason:     reason,
			CreatedAt:  now,
		}
		return tx.Create(change).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set status: %w", err)
	}

	ticket.Status = status
	ticket.UpdatedAt = now
	if status == models.StatusResolved {
		ticket.ResolvedAt = &now
	}
	if status == models.StatusClosed {
		ticket.ClosedAt = &now
	}
	return ticket, nil
}

// AddComment appends a comment; internal comments never count as a
// customer-visible response.
func (s *TicketService) AddComment(ctx context.Context, ticketID, userID uint, content string, internal bool) (*models.TicketComment, error) {
	if content == "" {
		return nil, validationErrorf("comment content required")
	}
	comment := &models.TicketComment{
		TicketID:  ticketID,
		UserID:    userID,
		Content:   content,
		Internal:  internal,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		return nil, fmt.Errorf("failed to add comment: %w", err)
	}
	return comment, nil
}

// Rate records the customer's feedback for a resolved ticket.
func (s *TicketService) Rate(ctx context.Context, ticketID, customerID uint, rating int, comment string) (*models.TicketRating, error) {
	if rating < 1 || rating > 5 {
		return nil, validationErrorf("rating must be 1..5")
	}
	r := &models.TicketRating{
		TicketID:   ticketID,
		CustomerID: customerID,
		Rating:     rating,
		Comment:    comment,
		CreatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, fmt.Errorf("failed to rate ticket: %w", err)
	}
	return r, nil
}

// Snapshot takes the one consistent per-ticket read used for a whole scan
// pass: current row, how long the current status has held, whether the
// assignee ever responded publicly, and the customer rating if any.
func (s *TicketService) Snapshot(ctx context.Context, ticket models.Ticket) (*TicketSnapshot, error) {
	snap := &TicketSnapshot{
		Ticket:      ticket,
		StatusSince: ticket.CreatedAt,
	}

	var lastChange models.TicketStatusChange
	err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticket.ID).
		Order("created_at DESC").
		First(&lastChange).Error
	if err == nil {
		snap.StatusSince = lastChange.CreatedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load status history: %w", err)
	}

	if ticket.AssigneeID != nil {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.TicketComment{}).
			Where("ticket_id = ? AND user_id = ? AND internal = false", ticket.ID, *ticket.AssigneeID).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to check assignee responses: %w", err)
		}
		snap.AssigneeResponded = count > 0
	}

	var rating models.TicketRating
	err = s.db.WithContext(ctx).Where("ticket_id = ?", ticket.ID).First(&rating).Error
	if err == nil {
		snap.Rating = &rating.Rating
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load rating: %w", err)
	}

	return snap, nil
}
