package handlers

import (
	"net/http"

	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
)

// TicketHandler exposes the subset of ticket operations the escalation
// engine interacts with: creation (deadline stamping), priority and
// status transitions, comments and ratings.
type TicketHandler struct {
	tickets *services.TicketService
}

func NewTicketHandler(tickets *services.TicketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

// Create handles POST /api/tickets
func (h *TicketHandler) Create(c *gin.Context) {
	var req services.TicketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Bad Request", Message: err.Error()})
		return
	}
	ticket, err := h.tickets.Create(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

// Get handles GET /api/tickets/:id
func (h *TicketHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ticket, err := h.tickets.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

type changePriorityRequest struct {
	Priority string `json:"priority" binding:"required"`
}

// ChangePriority handles PUT /api/tickets/:id/priority
func (h *TicketHandler) ChangePriority(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req changePriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Bad Request", Message: err.Error()})
		return
	}
	ticket, err := h.tickets.ChangePriority(c.Request.Context(), id, req.Priority)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

type setStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

// SetStatus handles PUT /api/tickets/:id/status
func (h *TicketHandler) SetStatus(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Bad Request", Message: err.Error()})
		return
	}
	ticket, err := h.tickets.SetStatus(c.Request.Context(), id, actorID(c), req.Status, req.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

type addCommentRequest struct {
	Content  string `json:"content" binding:"required"`
	Internal bool   `json:"internal"`
}

// AddComment handles POST /api/tickets/:id/comments
func (h *TicketHandler) AddComment(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req addCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Bad Request", Message: err.Error()})
		return
	}
	comment, err := h.tickets.AddComment(c.Request.Context(), id, actorID(c), req.Content, req.Internal)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

type rateRequest struct {
	Rating  int    `json:"rating" binding:"required"`
	Comment string `json:"comment"`
}

// Rate handles POST /api/tickets/:id/rating
func (h *TicketHandler) Rate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Bad Request", Message: err.Error()})
		return
	}
	rating, err := h.tickets.Rate(c.Request.Context(), id, actorID(c), req.Rating, req.Comment)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rating)
}

// RegisterTicketRoutes wires the ticket endpoints under the authenticated
// group. The escalation history for a ticket registers here too so the
// path nests under /tickets.
func RegisterTicketRoutes(r *gin.RouterGroup, h *TicketHandler, esc *EscalationHandler, guard gin.HandlerFunc) {
	group := r.Group("/tickets")
	if guard != nil {
		group.Use(guard)
	}
	{
		group.POST("", h.Create)
		group.GET("/:id", h.Get)
		group.PUT("/:id/priority", h.ChangePriority)
		group.PUT("/:id/status", h.SetStatus)
		group.POST("/:id/comments", h.AddComment)
		group.POST("/:id/rating", h.Rate)
		if esc != nil {
			group.GET("/:id/escalations", esc.TicketHistory)
		}
	}
}
