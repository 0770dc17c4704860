package handlers

import (
	"errors"
	"net/http"

	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
)

// EscalationHandler exposes rule management, manual pass triggering and
// the execution history.
type EscalationHandler struct {
	rules   *services.EscalationRuleService
	history *services.EscalationHistory
	runner  *services.EscalationRunner
}

func NewEscalationHandler(rules *services.EscalationRuleService, history *services.EscalationHistory, runner *services.EscalationRunner) *EscalationHandler {
	return &EscalationHandler{rules: rules, history: history, runner: runner}
}

// CreateRule handles POST /api/escalations/rules
func (h *EscalationHandler) CreateRule(c *gin.Context) {
	var req services.EscalationRuleCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Bad Request", Message: err.Error()})
		return
	}
	rule, err := h.rules.Create(c.Request.Context(), actorID(c), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// ListRules handles GET /api/escalations/rules
func (h *EscalationHandler) ListRules(c *gin.Context) {
	rules, err := h.rules.List(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "total": len(rules)})
}

// GetRule handles GET /api/escalations/rules/:id
func (h *EscalationHandler) GetRule(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	rule, err := h.rules.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule handles PUT /api/escalations/rules/:id
func (h *EscalationHandler) UpdateRule(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req services.EscalationRuleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Bad Request", Message: err.Error()})
		return
	}
	rule, err := h.rules.Update(c.Request.Context(), actorID(c), id, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/escalations/rules/:id
func (h *EscalationHandler) DeleteRule(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.rules.Delete(c.Request.Context(), actorID(c), id); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "escalation rule deleted"})
}

// RunPass handles POST /api/escalations/run and triggers one scan pass
// synchronously.
func (h *EscalationHandler) RunPass(c *gin.Context) {
	summary, err := h.runner.RunPass(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrPassLocked) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "Conflict",
				Message: err.Error(),
			})
			return
		}
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RuleHistory handles GET /api/escalations/rules/:id/runs
func (h *EscalationHandler) RuleHistory(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	execs, err := h.history.ListByRule(c.Request.Context(), id, queryInt(c, "limit", 100))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs, "total": len(execs)})
}

// TicketHistory handles GET /api/tickets/:id/escalations
func (h *EscalationHandler) TicketHistory(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	execs, err := h.history.ListByTicket(c.Request.Context(), id, queryInt(c, "limit", 100))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs, "total": len(execs)})
}

// RegisterEscalationRoutes wires the escalation endpoints under the
// authenticated group.
func RegisterEscalationRoutes(r *gin.RouterGroup, h *EscalationHandler, guard gin.HandlerFunc) {
	group := r.Group("/escalations")
	if guard != nil {
		group.Use(guard)
	}
	{
		group.GET("/rules", h.ListRules)
		group.POST("/rules", h.CreateRule)
		group.GET("/rules/:id", h.GetRule)
		group.PUT("/rules/:id", h.UpdateRule)
		group.DELETE("/rules/:id", h.DeleteRule)
		group.GET("/rules/:id/runs", h.RuleHistory)
		group.POST("/run", h.RunPass)
	}
}
