package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Samurai315/themis/internal/dto"
	"github.com/Samurai315/themis/internal/models"
	"github.com/Samurai315/themis/internal/service"
	appErrors "github.com/Samurai315/themis/pkg/errors"
	"github.com/Samurai315/themis/pkg/response"
)

type timetableManager interface {
	SaveResult(ctx context.Context, req dto.SaveTimetableRequest) (*dto.SaveTimetableResponse, error)
	List(ctx context.Context, termID string) ([]models.Timetable, error)
	Sessions(ctx context.Context, id string) ([]models.TimetableSessionDetail, error)
	ExportCSV(ctx context.Context, id string) ([]byte, string, error)
	Delete(ctx context.Context, id string) error
}

// TimetableHandler exposes timetable endpoints.
type TimetableHandler struct {
	service timetableManager
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(svc *service.TimetableService) *TimetableHandler {
	return &TimetableHandler{service: svc}
}

// Save godoc
// @Summary Persist a finished run's schedule as a timetable version
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.SaveTimetableRequest true "Save timetable payload"
// @Success 201 {object} response.Envelope
// @Router /timetables [post]
func (h *TimetableHandler) Save(c *gin.Context) {
	var req dto.SaveTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid timetable payload"))
		return
	}
	result, err := h.service.SaveResult(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List timetable versions for a term
// @Tags Timetables
// @Produce json
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /timetables [get]
func (h *TimetableHandler) List(c *gin.Context) {
	timetables, err := h.service.List(c.Request.Context(), c.Query("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, timetables, nil)
}

// Sessions godoc
// @Summary Get a timetable's sessions in weekly grid order
// @Tags Timetables
// @Produce json
// @Param id path string true "Timetable ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/sessions [get]
func (h *TimetableHandler) Sessions(c *gin.Context) {
	sessions, err := h.service.Sessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// Export godoc
// @Summary Download a timetable as CSV
// @Tags Timetables
// @Produce text/csv
// @Param id path string true "Timetable ID"
// @Success 200 {string} string "CSV attachment"
// @Router /timetables/{id}/export [get]
func (h *TimetableHandler) Export(c *gin.Context) {
	payload, filename, err := h.service.ExportCSV(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.CSV(c, filename, payload)
}

// Delete godoc
// @Summary Delete a draft timetable
// @Tags Timetables
// @Param id path string true "Timetable ID"
// @Success 204
// @Router /timetables/{id} [delete]
func (h *TimetableHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
