package recovery

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aeges-net/aeges/internal/containment"
)

// Handler provides HTTP endpoints for the recovery workflow.
type Handler struct {
	service *Service
}

// NewHandler creates a recovery handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up recovery routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/recoveries", h.InitiateRecovery)
	r.GET("/recoveries/:id", h.GetRecovery)
	r.POST("/recoveries/:id/approvals", h.ApproveRecovery)
	r.POST("/recoveries/:id/checks/:check", h.UpdateCheck)
}

// InitiateRequest is the body for POST /v1/recoveries.
type InitiateRequest struct {
	ContainmentID string            `json:"containmentId" binding:"required"`
	Claimant      string            `json:"claimant" binding:"required"`
	Evidence      map[string]string `json:"evidence"`
}

// InitiateRecovery handles POST /v1/recoveries
func (h *Handler) InitiateRecovery(c *gin.Context) {
	var body InitiateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "containmentId and claimant are required",
		})
		return
	}

	req, err := h.service.Initiate(c.Request.Context(), body.ContainmentID, body.Claimant, body.Evidence)
	if err != nil {
		switch {
		case errors.Is(err, containment.ErrContainmentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Containment not found",
			})
		case errors.Is(err, ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_state",
				"message": "Recovery can only be initiated against an active containment",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to initiate recovery",
			})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"recovery": req})
}

// GetRecovery handles GET /v1/recoveries/:id
func (h *Handler) GetRecovery(c *gin.Context) {
	req, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRecoveryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Recovery request not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load recovery request",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovery": req})
}

// ApprovalRequest is the body for POST /v1/recoveries/:id/approvals.
type ApprovalRequest struct {
	Stakeholder string `json:"stakeholder" binding:"required"`
}

// ApproveRecovery handles POST /v1/recoveries/:id/approvals
func (h *Handler) ApproveRecovery(c *gin.Context) {
	var body ApprovalRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "stakeholder is required",
		})
		return
	}

	req, err := h.service.Approve(c.Request.Context(), c.Param("id"), body.Stakeholder)
	if err != nil {
		switch {
		case errors.Is(err, ErrRecoveryNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Recovery request not found",
			})
		case errors.Is(err, ErrExpiredConsensus):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "expired_consensus",
				"message": "Approval received after the recovery deadline",
			})
		case errors.Is(err, ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_resolved",
				"message": "Recovery request is already resolved",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to record approval",
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovery": req})
}

// CheckRequest is the body for POST /v1/recoveries/:id/checks/:check.
type CheckRequest struct {
	Status CheckStatus `json:"status" binding:"required"`
}

// UpdateCheck handles POST /v1/recoveries/:id/checks/:check
func (h *Handler) UpdateCheck(c *gin.Context) {
	var body CheckRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "status is required",
		})
		return
	}

	req, err := h.service.UpdateCheck(c.Request.Context(), c.Param("id"), Check(c.Param("check")), body.Status)
	if err != nil {
		switch {
		case errors.Is(err, ErrRecoveryNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Recovery request not found",
			})
		case errors.Is(err, ErrUnknownCheck), errors.Is(err, ErrBadCheckStatus):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		case errors.Is(err, ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_resolved",
				"message": "Recovery request is already resolved",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to update verification check",
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovery": req})
}
