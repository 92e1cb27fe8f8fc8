package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/noah-isme/timetable-engine/internal/dto"
	"github.com/noah-isme/timetable-engine/internal/middleware"
	"github.com/noah-isme/timetable-engine/internal/models"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
	"github.com/noah-isme/timetable-engine/pkg/response"
)

type generationController interface {
	Start(ctx context.Context, req dto.StartGenerationRequest, actor string) (*dto.StartGenerationResponse, error)
	Stop(ctx context.Context, jobID string) (*dto.StopGenerationResponse, error)
	GetStatus(ctx context.Context, jobID string) (*dto.GenerationStatusResponse, error)
	GetHistory(ctx context.Context, jobID string, query dto.HistoryQuery) (*dto.GenerationHistoryResponse, error)
}

// GenerationHandler exposes timetable generation jobs.
type GenerationHandler struct {
	service generationController
}

// NewGenerationHandler constructs the handler.
func NewGenerationHandler(svc generationController) *GenerationHandler {
	return &GenerationHandler{service: svc}
}

// Start godoc
// @Summary Start a timetable generation
// @Description Queues a generation for the semester and returns its job id immediately.
// @Tags Generations
// @Accept json
// @Produce json
// @Param payload body dto.StartGenerationRequest true "Generation payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /generations [post]
func (h *GenerationHandler) Start(c *gin.Context) {
	var req dto.StartGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid generation payload"))
		return
	}
	result, err := h.service.Start(c.Request.Context(), req, claimsFromContext(c).Actor())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, result, nil, middleware.ResponseMeta(c))
}

// Status godoc
// @Summary Get generation status
// @Tags Generations
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /generations/{jobId} [get]
func (h *GenerationHandler) Status(c *gin.Context) {
	result, err := h.service.GetStatus(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, middleware.ResponseMeta(c))
}

// Stop godoc
// @Summary Request a running generation to stop
// @Tags Generations
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /generations/{jobId}/stop [post]
func (h *GenerationHandler) Stop(c *gin.Context) {
	result, err := h.service.Stop(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, middleware.ResponseMeta(c))
}

// History godoc
// @Summary List optimizer actions of a generation
// @Tags Generations
// @Produce json
// @Param jobId path string true "Job ID"
// @Param limit query int false "Maximum number of actions (default 100)"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /generations/{jobId}/history [get]
func (h *GenerationHandler) History(c *gin.Context) {
	var query dto.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid history query"))
		return
	}
	result, err := h.service.GetHistory(c.Request.Context(), c.Param("jobId"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{
		Page:       1,
		PageSize:   len(result.Actions),
		TotalCount: lo.SumBy(result.Statistics, func(stat models.ActionStatistics) int { return stat.Total }),
	}
	response.JSON(c, http.StatusOK, result, pagination, middleware.ResponseMeta(c))
}
