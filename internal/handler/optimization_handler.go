package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Samurai315/themis/internal/dto"
	"github.com/Samurai315/themis/internal/service"
	appErrors "github.com/Samurai315/themis/pkg/errors"
	"github.com/Samurai315/themis/pkg/response"
)

const (
	defaultRunListLimit = 20
	maxRunListLimit     = 100
)

type optimizationRunner interface {
	CreateRun(ctx context.Context, req dto.StartOptimizationRequest) (*dto.RunResponse, error)
	GetRun(ctx context.Context, id string) (*dto.RunResponse, error)
	GetResult(ctx context.Context, id string) (*dto.RunResultResponse, error)
	Cancel(ctx context.Context, id string) (*dto.RunResponse, error)
	ListRecent(ctx context.Context, termID string, limit int) ([]dto.RunResponse, error)
}

// OptimizationHandler exposes optimization run endpoints.
type OptimizationHandler struct {
	service optimizationRunner
}

// NewOptimizationHandler constructs the handler.
func NewOptimizationHandler(svc *service.OptimizationService) *OptimizationHandler {
	return &OptimizationHandler{service: svc}
}

// Start godoc
// @Summary Start a background optimization run
// @Description Queues a run for the requested term (the active term when omitted). Poll the status endpoint for progress.
// @Tags Optimizations
// @Accept json
// @Produce json
// @Param payload body dto.StartOptimizationRequest true "Start optimization payload"
// @Success 202 {object} response.Envelope
// @Router /optimizations [post]
func (h *OptimizationHandler) Start(c *gin.Context) {
	var req dto.StartOptimizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid optimization payload"))
		return
	}
	run, err := h.service.CreateRun(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, run)
}

// List godoc
// @Summary List recent optimization runs
// @Tags Optimizations
// @Produce json
// @Param termId query string false "Term ID"
// @Param limit query int false "Max runs to return (default 20)"
// @Success 200 {object} response.Envelope
// @Router /optimizations [get]
func (h *OptimizationHandler) List(c *gin.Context) {
	limit := defaultRunListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxRunListLimit {
		limit = maxRunListLimit
	}
	runs, err := h.service.ListRecent(c.Request.Context(), c.Query("termId"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, nil)
}

// Status godoc
// @Summary Get optimization run status
// @Tags Optimizations
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Router /optimizations/{id} [get]
func (h *OptimizationHandler) Status(c *gin.Context) {
	run, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// Result godoc
// @Summary Get the stored schedule produced by a run
// @Tags Optimizations
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Router /optimizations/{id}/result [get]
func (h *OptimizationHandler) Result(c *gin.Context) {
	result, err := h.service.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Cancel godoc
// @Summary Cancel a queued or running optimization run
// @Tags Optimizations
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Router /optimizations/{id}/cancel [post]
func (h *OptimizationHandler) Cancel(c *gin.Context) {
	run, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}
