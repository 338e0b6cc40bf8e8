package analysis

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aeges-net/aeges/internal/risk"
)

// Handler provides HTTP endpoints for the analysis pipeline.
type Handler struct {
	service *Service
}

// NewHandler creates an analysis handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up analysis routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analyses", h.SubmitAnalysis)
	r.GET("/analyses", h.ListAnalyses)
	r.GET("/analyses/:id", h.GetAnalysis)
	r.GET("/transactions/:id/analysis", h.GetTransactionAnalysis)
}

// SubmitRequest is the body for POST /v1/analyses.
type SubmitRequest struct {
	ID                   string    `json:"id" binding:"required"`
	Amount               float64   `json:"amount"`
	Timestamp            time.Time `json:"timestamp"`
	Origin               string    `json:"origin" binding:"required"`
	Destination          string    `json:"destination" binding:"required"`
	AssetType            string    `json:"assetType" binding:"required"`
	AccountAgeDays       int       `json:"accountAgeDays"`
	PreviousTransactions int       `json:"previousTransactions"`
	PriorVolume          float64   `json:"priorVolume"`
}

// SubmitAnalysis handles POST /v1/analyses
func (h *Handler) SubmitAnalysis(c *gin.Context) {
	var body SubmitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "id, origin, destination and assetType are required",
		})
		return
	}
	if body.Timestamp.IsZero() {
		body.Timestamp = time.Now()
	}

	tx := &risk.TransactionRecord{
		ID:                   body.ID,
		Amount:               body.Amount,
		Timestamp:            body.Timestamp,
		Origin:               body.Origin,
		Destination:          body.Destination,
		AssetType:            body.AssetType,
		AccountAgeDays:       body.AccountAgeDays,
		PreviousTransactions: body.PreviousTransactions,
		PriorVolume:          body.PriorVolume,
	}

	assessment, created, err := h.service.Analyze(c.Request.Context(), tx)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"assessment": assessment})
}

// GetAnalysis handles GET /v1/analyses/:id
func (h *Handler) GetAnalysis(c *gin.Context) {
	assessment, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, risk.ErrAssessmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Assessment not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load assessment",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": assessment})
}

// GetTransactionAnalysis handles GET /v1/transactions/:id/analysis
func (h *Handler) GetTransactionAnalysis(c *gin.Context) {
	assessment, err := h.service.GetByTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, risk.ErrAssessmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No analysis for transaction",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load assessment",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": assessment})
}

// ListAnalyses handles GET /v1/analyses?limit=
func (h *Handler) ListAnalyses(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	assessments, err := h.service.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assessments",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": assessments})
}

func writeError(c *gin.Context, err error) {
	var perr *Error
	if errors.As(err, &perr) {
		c.JSON(perr.HTTPStatus(), gin.H{
			"error":   string(perr.Kind),
			"message": perr.Message,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Analysis failed",
	})
}
