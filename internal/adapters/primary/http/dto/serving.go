package dto

import (
	"time"

	"model-lifecycle-service/internal/serving"
)

// ============================================================================
// Serving DTOs
// ============================================================================

type PredictRequest struct {
	Features []float64 `json:"features" binding:"required"`
}

type PredictResponse struct {
	Prediction []float64 `json:"prediction"`
}

type HealthResponse struct {
	Status      string     `json:"status"`
	ModelLoaded bool       `json:"model_loaded"`
	ModelName   string     `json:"model_name,omitempty"`
	RunID       string     `json:"run_id,omitempty"`
	LoadedAt    *time.Time `json:"loaded_at,omitempty"`
}

func ToHealthResponse(st serving.Status) HealthResponse {
	resp := HealthResponse{
		Status:      "ok",
		ModelLoaded: st.Loaded,
		ModelName:   st.ModelName,
		RunID:       st.RunID,
	}
	if !st.Loaded {
		resp.Status = "unavailable"
		return resp
	}
	loadedAt := st.LoadedAt
	resp.LoadedAt = &loadedAt
	return resp
}
