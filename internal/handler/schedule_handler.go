package handler

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-engine/internal/dto"
	"github.com/noah-isme/timetable-engine/internal/fixture"
	"github.com/noah-isme/timetable-engine/internal/middleware"
	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/repository"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
	"github.com/noah-isme/timetable-engine/pkg/response"
)

type scheduleViewer interface {
	GetSchedule(ctx context.Context, query dto.ScheduleQuery) (*dto.ScheduleResponse, error)
	GetForEntity(ctx context.Context, entity string, entityID int64, query dto.EntityScheduleQuery) ([]models.ScheduleEntry, error)
	Analyze(ctx context.Context, query dto.AnalysisQuery) (*dto.ScheduleAnalysisResponse, error)
}

// ScheduleHandler serves persisted timetables.
type ScheduleHandler struct {
	service scheduleViewer
}

// NewScheduleHandler constructs handler.
func NewScheduleHandler(svc scheduleViewer) *ScheduleHandler {
	return &ScheduleHandler{service: svc}
}

// List godoc
// @Summary List lessons of a generation or of the active timetable
// @Tags Schedules
// @Produce json
// @Param generationId query int false "Generation ID"
// @Param onlyActive query bool false "Ignore generationId and return the active timetable"
// @Param semester query int false "Semester of the active timetable"
// @Param academicYear query string false "Academic year of the active timetable, e.g. 2025/2026"
// @Success 200 {object} response.Envelope
// @Router /schedules [get]
func (h *ScheduleHandler) List(c *gin.Context) {
	var query dto.ScheduleQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid schedule query"))
		return
	}
	result, err := h.service.GetSchedule(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, middleware.ResponseMeta(c))
}

// Export godoc
// @Summary Download lessons as CSV
// @Tags Schedules
// @Produce text/csv
// @Param generationId query int false "Generation ID"
// @Param semester query int false "Semester of the active timetable"
// @Param academicYear query string false "Academic year of the active timetable"
// @Success 200 {string} string "CSV file"
// @Router /schedules/export [get]
func (h *ScheduleHandler) Export(c *gin.Context) {
	var query dto.ScheduleQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid schedule query"))
		return
	}
	result, err := h.service.GetSchedule(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	var buf bytes.Buffer
	if err := fixture.WriteSchedule(&buf, result.Lessons); err != nil {
		response.Error(c, appErrors.WrapAs(err, appErrors.ErrInternal, "failed to render schedule"))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="schedule.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Analysis godoc
// @Summary Score a stored timetable
// @Description Returns the fitness breakdown of a generation, or of the active timetable when generationId is omitted.
// @Tags Schedules
// @Produce json
// @Param generationId query int false "Generation ID"
// @Param semester query int false "Semester of the active timetable"
// @Param academicYear query string false "Academic year of the active timetable"
// @Success 200 {object} response.Envelope
// @Router /schedules/analysis [get]
func (h *ScheduleHandler) Analysis(c *gin.Context) {
	var query dto.AnalysisQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid analysis query"))
		return
	}
	result, err := h.service.Analyze(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, middleware.ResponseMeta(c))
}

// ByGroup godoc
// @Summary Active timetable of a student group
// @Tags Schedules
// @Produce json
// @Param id path int true "Group ID"
// @Param semester query int true "Semester"
// @Param academicYear query string true "Academic year"
// @Param day query int false "Day of week, 1 (Monday) to 6 (Saturday)"
// @Param weekType query string false "odd, even or both"
// @Success 200 {object} response.Envelope
// @Router /schedules/groups/{id} [get]
func (h *ScheduleHandler) ByGroup(c *gin.Context) {
	h.forEntity(c, repository.ScheduleEntityGroup)
}

// ByTeacher godoc
// @Summary Active timetable of a teacher
// @Tags Schedules
// @Produce json
// @Param id path int true "Teacher ID"
// @Param semester query int true "Semester"
// @Param academicYear query string true "Academic year"
// @Param day query int false "Day of week, 1 (Monday) to 6 (Saturday)"
// @Param weekType query string false "odd, even or both"
// @Success 200 {object} response.Envelope
// @Router /schedules/teachers/{id} [get]
func (h *ScheduleHandler) ByTeacher(c *gin.Context) {
	h.forEntity(c, repository.ScheduleEntityTeacher)
}

// ByClassroom godoc
// @Summary Active timetable of a classroom
// @Tags Schedules
// @Produce json
// @Param id path int true "Classroom ID"
// @Param semester query int true "Semester"
// @Param academicYear query string true "Academic year"
// @Param day query int false "Day of week, 1 (Monday) to 6 (Saturday)"
// @Param weekType query string false "odd, even or both"
// @Success 200 {object} response.Envelope
// @Router /schedules/classrooms/{id} [get]
func (h *ScheduleHandler) ByClassroom(c *gin.Context) {
	h.forEntity(c, repository.ScheduleEntityClassroom)
}

func (h *ScheduleHandler) forEntity(c *gin.Context, entity string) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid "+entity+" id"))
		return
	}
	var query dto.EntityScheduleQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid schedule query"))
		return
	}
	lessons, err := h.service.GetForEntity(c.Request.Context(), entity, id, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lessons, nil, middleware.ResponseMeta(c))
}
