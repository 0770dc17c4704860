package handlers

import (
	"net/http"

	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
)

// SLAHandler exposes policy management and the compliance stats.
type SLAHandler struct {
	sla *services.SLAService
}

func NewSLAHandler(sla *services.SLAService) *SLAHandler {
	return &SLAHandler{sla: sla}
}

// CreatePolicy handles POST /api/sla/policies
func (h *SLAHandler) CreatePolicy(c *gin.Context) {
	var req services.SLAPolicyCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Bad Request", Message: err.Error()})
		return
	}
	policy, err := h.sla.CreatePolicy(c.Request.Context(), actorID(c), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, policy)
}

// ListPolicies handles GET /api/sla/policies
func (h *SLAHandler) ListPolicies(c *gin.Context) {
	policies, err := h.sla.ListPolicies(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies, "total": len(policies)})
}

// GetPolicy handles GET /api/sla/policies/:id
func (h *SLAHandler) GetPolicy(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	policy, err := h.sla.GetPolicy(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// UpdatePolicy handles PUT /api/sla/policies/:id
func (h *SLAHandler) UpdatePolicy(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req services.SLAPolicyUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Bad Request", Message: err.Error()})
		return
	}
	policy, err := h.sla.UpdatePolicy(c.Request.Context(), actorID(c), id, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// DeletePolicy handles DELETE /api/sla/policies/:id
func (h *SLAHandler) DeletePolicy(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.sla.DeletePolicy(c.Request.Context(), actorID(c), id); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "SLA policy deleted"})
}

// Stats handles GET /api/sla/stats
func (h *SLAHandler) Stats(c *gin.Context) {
	stats, err := h.sla.Stats(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RegisterSLARoutes wires the SLA endpoints under the authenticated group.
func RegisterSLARoutes(r *gin.RouterGroup, h *SLAHandler, guard gin.HandlerFunc) {
	group := r.Group("/sla")
	if guard != nil {
		group.Use(guard)
	}
	{
		group.GET("/policies", h.ListPolicies)
		group.POST("/policies", h.CreatePolicy)
		group.GET("/policies/:id", h.GetPolicy)
		group.PUT("/policies/:id", h.UpdatePolicy)
		group.DELETE("/policies/:id", h.DeletePolicy)
		group.GET("/stats", h.Stats)
	}
}
