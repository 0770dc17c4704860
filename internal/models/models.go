package models

import (
	"time"

	"gorm.io/gorm"
)

// Ticket statuses. A ticket is eligible for escalation scans only while it
// is in one of the non-terminal statuses.
const (
	StatusOpen               = "open"
	StatusInProgress         = "in_progress"
	StatusWaitingForCustomer = "waiting_for_customer"
	StatusResolved           = "resolved"
	StatusClosed             = "closed"
)

// Ticket priorities, ordered low < medium < high < urgent.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var priorityRank = map[string]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// ValidPriority reports whether p is a known priority value.
func ValidPriority(p string) bool {
	_, ok := priorityRank[p]
	return ok
}

// PriorityRank returns the position of p in the priority order, -1 for
// unknown values.
func PriorityRank(p string) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return -1
}

// NextPriority returns the priority one step above p, or p itself when p is
// already urgent (or unknown).
func NextPriority(p string) string {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	case PriorityHigh:
		return PriorityUrgent
	default:
		return p
	}
}

// ValidStatus reports whether s is a known ticket status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusWaitingForCustomer, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// EscalationEligible reports whether a ticket in status s is still a
// candidate for escalation scans.
func EscalationEligible(s string) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusWaitingForCustomer:
		return true
	}
	return false
}

type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"unique;not null" json:"username"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Name      string         `json:"name"`
	Role      string         `gorm:"default:'customer'" json:"role"` // customer, agent, admin
	Status    string         `gorm:"default:'active'" json:"status"` // active, inactive
	TeamID    *uint          `gorm:"index" json:"team_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Team groups agents; the leader is the notify_manager target.
type Team struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"unique;not null" json:"name"`
	LeaderID  *uint     `gorm:"index" json:"leader_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Leader *User `gorm:"foreignKey:LeaderID" json:"leader,omitempty"`
}

type Ticket struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	CustomerID  uint           `gorm:"index" json:"customer_id"`
	AssigneeID  *uint          `gorm:"index" json:"assignee_id"`
	TeamID      *uint          `gorm:"index" json:"team_id"`
	Priority    string         `gorm:"default:'medium';index" json:"priority"`
	Status      string         `gorm:"default:'open';index" json:"status"`
	SLADueAt    *time.Time     `gorm:"index" json:"sla_due_at"`
	ResolvedAt  *time.Time     `json:"resolved_at"`
	ClosedAt    *time.Time     `json:"closed_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Customer      User                 `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Assignee      *User                `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	Team          *Team                `gorm:"foreignKey:TeamID" json:"team,omitempty"`
	Comments      []TicketComment      `gorm:"foreignKey:TicketID" json:"comments,omitempty"`
	Followers     []TicketFollower     `gorm:"foreignKey:TicketID" json:"followers,omitempty"`
	StatusHistory []TicketStatusChange `gorm:"foreignKey:TicketID" json:"status_history,omitempty"`
}

type TicketComment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"index" json:"ticket_id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Internal  bool      `gorm:"default:false" json:"internal"`
	CreatedAt time.Time `json:"created_at"`

	Ticket Ticket `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
	User   User   `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TicketFollower is a membership row in the ticket's follower set.
// (ticket_id, user_id) is unique so add_follower stays idempotent.
type TicketFollower struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"uniqueIndex:idx_ticket_follower" json:"ticket_id"`
	UserID    uint      `gorm:"uniqueIndex:idx_ticket_follower" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TicketStatusChange records every status transition; the latest row for a
// ticket tells the escalation engine how long the current status has held.
type TicketStatusChange struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TicketID   uint      `gorm:"index" json:"ticket_id"`
	UserID     uint      `gorm:"index" json:"user_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `gorm:"index" json:"to_status"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// TicketRating is the customer feedback left after resolution (1-5 stars).
type TicketRating struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TicketID   uint      `gorm:"uniqueIndex" json:"ticket_id"`
	CustomerID uint      `gorm:"index" json:"customer_id"`
	Rating     int       `gorm:"not null;check:rating >= 1 AND rating <= 5" json:"rating"`
	Comment    string    `gorm:"type:text" json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}
