package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-engine/internal/dto"
	internalmiddleware "github.com/noah-isme/timetable-engine/internal/middleware"
	"github.com/noah-isme/timetable-engine/internal/models"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
)

type generationControllerMock struct {
	started   dto.StartGenerationRequest
	actor     string
	stopped   string
	history   dto.HistoryQuery
	startErr  error
	statusErr error
}

func (m *generationControllerMock) Start(ctx context.Context, req dto.StartGenerationRequest, actor string) (*dto.StartGenerationResponse, error) {
	m.started = req
	m.actor = actor
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &dto.StartGenerationResponse{Success: true, JobID: "job-1", AcademicYear: "2025/2026", Message: "Generation started"}, nil
}

func (m *generationControllerMock) Stop(ctx context.Context, jobID string) (*dto.StopGenerationResponse, error) {
	m.stopped = jobID
	return &dto.StopGenerationResponse{Success: true, Message: "Stop requested"}, nil
}

func (m *generationControllerMock) GetStatus(ctx context.Context, jobID string) (*dto.GenerationStatusResponse, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return &dto.GenerationStatusResponse{
		Generation:         models.Generation{JobID: jobID, Status: models.GenerationStatusRunning},
		ProgressPercentage: 40,
	}, nil
}

func (m *generationControllerMock) GetHistory(ctx context.Context, jobID string, query dto.HistoryQuery) (*dto.GenerationHistoryResponse, error) {
	m.history = query
	return &dto.GenerationHistoryResponse{
		Generation: dto.GenerationStatusResponse{Generation: models.Generation{JobID: jobID}},
		Actions:    []models.AgentAction{{Iteration: 1, ActionType: "swap_lessons"}},
		Statistics: []models.ActionStatistics{{ActionType: "swap_lessons", Total: 7}, {ActionType: "move_to_empty_slot", Total: 5}},
	}, nil
}

func TestGenerationStartAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &generationControllerMock{}
	handler := NewGenerationHandler(mockSvc)
	req, _ := http.NewRequest(http.MethodPost, "/generations", bytes.NewReader([]byte(`{"semester":1,"academicYear":"2025/2026","maxIterations":50}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "7", Email: "planner@campus.edu", Role: models.RoleScheduler})

	handler.Start(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, 1, mockSvc.started.Semester)
	require.NotNil(t, mockSvc.started.MaxIterations)
	require.Equal(t, 50, *mockSvc.started.MaxIterations)
	require.Equal(t, "planner@campus.edu", mockSvc.actor)

	var body struct {
		Data dto.StartGenerationResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "job-1", body.Data.JobID)
}

func TestGenerationStartMalformedPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewGenerationHandler(&generationControllerMock{})
	req, _ := http.NewRequest(http.MethodPost, "/generations", bytes.NewReader([]byte(`{"semester":`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.Start(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerationStartQueueUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewGenerationHandler(&generationControllerMock{startErr: appErrors.Clone(appErrors.ErrUnavailable, "generation queue is full")})
	req, _ := http.NewRequest(http.MethodPost, "/generations", bytes.NewReader([]byte(`{"semester":2}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.Start(c)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGenerationStartRequiresSchedulerRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &generationControllerMock{}
	handler := NewGenerationHandler(mockSvc)
	router := gin.New()
	router.POST("/generations", func(c *gin.Context) {
		c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "9", Role: models.RoleStudent})
		c.Next()
	}, internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, models.RoleScheduler), handler.Start)

	req, _ := http.NewRequest(http.MethodPost, "/generations", bytes.NewReader([]byte(`{"semester":1}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Zero(t, mockSvc.started.Semester)
}

func TestGenerationStatusAndStop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &generationControllerMock{}
	handler := NewGenerationHandler(mockSvc)
	router := gin.New()
	router.Use(internalmiddleware.WithResponseMeta())
	router.GET("/generations/:jobId", handler.Status)
	router.POST("/generations/:jobId/stop", handler.Stop)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/generations/job-42", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var status struct {
		Data dto.GenerationStatusResponse `json:"data"`
		Meta map[string]interface{}       `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, "job-42", status.Data.JobID)
	require.Equal(t, 40.0, status.Data.ProgressPercentage)
	require.Contains(t, status.Meta, "processing_time_ms")

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/generations/job-42/stop", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "job-42", mockSvc.stopped)
}

func TestGenerationStatusNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewGenerationHandler(&generationControllerMock{statusErr: appErrors.Clone(appErrors.ErrNotFound, "generation not found")})
	router := gin.New()
	router.GET("/generations/:jobId", handler.Status)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/generations/missing", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGenerationHistoryBindsLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &generationControllerMock{}
	handler := NewGenerationHandler(mockSvc)
	router := gin.New()
	router.GET("/generations/:jobId/history", handler.History)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/generations/job-1/history?limit=25", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 25, mockSvc.history.Limit)

	var body struct {
		Pagination models.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Pagination.PageSize)
	require.Equal(t, 12, body.Pagination.TotalCount)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/generations/job-1/history?limit=abc", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
