package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deskflow/internal/models"

	"gorm.io/gorm"
)

// EscalationHistory appends and reads the immutable execution audit trail.
// Rows snapshot the rule's name and action type at execution time so later
// rule edits or deletes never corrupt history readability, and they carry
// the dedup key the runner consults before re-firing.
type EscalationHistory struct {
	db *gorm.DB
}

func NewEscalationHistory(db *gorm.DB) *EscalationHistory {
	return &EscalationHistory{db: db}
}

// DedupKey identifies one observable occurrence of a condition for a
// (ticket, rule) pair. The epoch is the ticket's status as of the pass
// snapshot: while the ticket stays in the same status an executed rule
// does not refire; a status change (including reopen) starts a new epoch.
func DedupKey(ticketID, ruleID uint, statusEpoch string) string {
	return fmt.Sprintf("t%d:r%d:%s", ticketID, ruleID, statusEpoch)
}

// AlreadyHandled reports whether a prior executed row exists for the dedup
// key. Failed attempts never suppress a retry on the next pass.
func (h *EscalationHistory) AlreadyHandled(ctx context.Context, dedupKey string) (bool, error) {
	var count int64
	err := h.db.WithContext(ctx).Model(&models.EscalationExecution{}).
		Where("dedup_key = ? AND outcome = ?", dedupKey, models.OutcomeExecuted).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check execution history: %w", err)
	}
	return count > 0, nil
}

// Record appends one attempt. Called inside the per-unit transaction so an
// action and its audit row commit or roll back together.
func (h *EscalationHistory) Record(ctx context.Context, tx *gorm.DB, exec *models.EscalationExecution) error {
	if tx == nil {
		tx = h.db
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now()
	}
	if err := tx.WithContext(ctx).Create(exec).Error; err != nil {
		return fmt.Errorf("failed to record escalation execution: %w", err)
	}
	return nil
}

// ListByTicket returns the ticket's execution timeline, newest first.
func (h *EscalationHistory) ListByTicket(ctx context.Context, ticketID uint, limit int) ([]models.EscalationExecution, error) {
	return h.list(ctx, "ticket_id = ?", ticketID, limit)
}

// ListByRule returns the executions a rule produced, newest first. The
// rule may already be deleted; rows survive on their snapshots.
func (h *EscalationHistory) ListByRule(ctx context.Context, ruleID uint, limit int) ([]models.EscalationExecution, error) {
	return h.list(ctx, "rule_id = ?", ruleID, limit)
}

func (h *EscalationHistory) list(ctx context.Context, cond string, id uint, limit int) ([]models.EscalationExecution, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var execs []models.EscalationExecution
	err := h.db.WithContext(ctx).
		Where(cond, id).
		Order("created_at DESC").
		Limit(limit).
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list escalation executions: %w", err)
	}
	return execs, nil
}

// Get returns one execution row.
func (h *EscalationHistory) Get(ctx context.Context, id uint) (*models.EscalationExecution, error) {
	var exec models.EscalationExecution
	if err := h.db.WithContext(ctx).First(&exec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get escalation execution: %w", err)
	}
	return &exec, nil
}
