package containment

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for containment status projections.
type Handler struct {
	service *Service
}

// NewHandler creates a containment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up containment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/containments/:id", h.GetContainment)
	r.GET("/containments", h.QueryContainments)
}

// statusProjection is the read-only view exposed to callers.
type statusProjection struct {
	ID            string  `json:"id"`
	TransactionID string  `json:"transactionId"`
	Status        Status  `json:"status"`
	Severity      string  `json:"severity"`
	EconomicState string  `json:"economicState"`
	Amount        float64 `json:"amount"`
	RestoredValue float64 `json:"restoredValue,omitempty"`
	CreatedAt     string  `json:"createdAt"`
	ExpiresAt     string  `json:"expiresAt"`
}

func project(c *Containment) statusProjection {
	return statusProjection{
		ID:            c.ID,
		TransactionID: c.TransactionID,
		Status:        c.Status,
		Severity:      string(c.Severity),
		EconomicState: string(c.EconomicState),
		Amount:        c.Amount,
		RestoredValue: c.RestoredValue,
		CreatedAt:     c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		ExpiresAt:     c.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// GetContainment handles GET /v1/containments/:id
func (h *Handler) GetContainment(c *gin.Context) {
	containment, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrContainmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Containment not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load containment",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"containment": project(containment)})
}

// QueryContainments handles GET /v1/containments?transaction_id=|wallet=
func (h *Handler) QueryContainments(c *gin.Context) {
	if txID := c.Query("transaction_id"); txID != "" {
		containment, err := h.service.GetByTransaction(c.Request.Context(), txID)
		if err != nil {
			if errors.Is(err, ErrContainmentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error":   "not_found",
					"message": "No containment for transaction",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to query containments",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"containments": []statusProjection{project(containment)}})
		return
	}

	if wallet := c.Query("wallet"); wallet != "" {
		limit := 20
		if l, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && l > 0 && l <= 100 {
			limit = l
		}
		containments, err := h.service.ListByWallet(c.Request.Context(), wallet, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to query containments",
			})
			return
		}
		projections := make([]statusProjection, 0, len(containments))
		for _, containment := range containments {
			projections = append(projections, project(containment))
		}
		c.JSON(http.StatusOK, gin.H{"containments": projections})
		return
	}

	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Provide transaction_id or wallet",
	})
}
