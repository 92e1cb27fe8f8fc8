package dto

import (
	"github.com/noah-isme/timetable-engine/internal/models"
)

// StartGenerationRequest asks the orchestrator to build a timetable for a semester.
type StartGenerationRequest struct {
	Semester      int    `json:"semester" validate:"required,min=1,max=12"`
	AcademicYear  string `json:"academicYear" validate:"omitempty,academic_year"`
	MaxIterations *int   `json:"maxIterations" validate:"omitempty,min=0,max=100000"`
	Strategy      string `json:"strategy" validate:"omitempty,oneof=local_search evolutionary"`
}

// StartGenerationResponse acknowledges a queued generation.
type StartGenerationResponse struct {
	Success      bool   `json:"success"`
	JobID        string `json:"jobId"`
	AcademicYear string `json:"academicYear"`
	Message      string `json:"message"`
}

// StopGenerationResponse reports whether a stop request was recorded.
type StopGenerationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GenerationStatusResponse is a generation row plus its progress.
type GenerationStatusResponse struct {
	models.Generation
	ProgressPercentage float64 `json:"progress_percentage"`
}

// GenerationHistoryResponse lists the recorded optimizer actions of a job.
type GenerationHistoryResponse struct {
	Generation GenerationStatusResponse  `json:"generation"`
	Actions    []models.AgentAction      `json:"actions"`
	Statistics []models.ActionStatistics `json:"statistics"`
}

// HistoryQuery bounds the number of actions returned.
type HistoryQuery struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=10000"`
}
