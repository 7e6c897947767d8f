package dto

import (
	"time"

	"github.com/google/uuid"

	"model-lifecycle-service/internal/core/domain"
)

// ============================================================================
// Lifecycle DTOs
// ============================================================================

type PromoteRequest struct {
	RunID          string `json:"run_id" binding:"required"`
	Metric         string `json:"metric"`
	Direction      string `json:"direction"`
	AutoProduction *bool  `json:"auto_production"`
}

type ModelVersionResponse struct {
	ModelName     string    `json:"model_name"`
	Version       int       `json:"version"`
	Stage         string    `json:"stage"`
	RunID         string    `json:"run_id"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

type DecisionResponse struct {
	Approved         bool     `json:"approved"`
	Reason           string   `json:"reason"`
	Metric           string   `json:"metric"`
	Direction        string   `json:"direction"`
	CandidateValue   float64  `json:"candidate_value"`
	IncumbentValue   *float64 `json:"incumbent_value"`
	IncumbentVersion int      `json:"incumbent_version,omitempty"`
}

type StepResponse struct {
	Name      string `json:"name"`
	Version   int    `json:"version"`
	From      string `json:"from"`
	To        string `json:"to"`
	Attempted bool   `json:"attempted"`
	Fatal     bool   `json:"fatal"`
	Error     string `json:"error,omitempty"`
}

type SagaResponse struct {
	ID        uuid.UUID      `json:"id"`
	Operation string         `json:"operation"`
	StartedAt time.Time      `json:"started_at"`
	Steps     []StepResponse `json:"steps"`
}

type PromotionResponse struct {
	Decision   *DecisionResponse     `json:"decision,omitempty"`
	Version    *ModelVersionResponse `json:"version,omitempty"`
	Production *ModelVersionResponse `json:"production,omitempty"`
	Saga       *SagaResponse         `json:"saga,omitempty"`
	Anomalies  []string              `json:"anomalies,omitempty"`
	Error      string                `json:"error,omitempty"`
}

type RollbackResponse struct {
	ModelName string                `json:"model_name"`
	NoOp      bool                  `json:"no_op"`
	Bad       *ModelVersionResponse `json:"bad,omitempty"`
	Target    *ModelVersionResponse `json:"target,omitempty"`
	Saga      *SagaResponse         `json:"saga,omitempty"`
	Anomalies []string              `json:"anomalies,omitempty"`
	Error     string                `json:"error,omitempty"`
}

type ListVersionsResponse struct {
	ModelName  string                 `json:"model_name"`
	Items      []ModelVersionResponse `json:"items"`
	Total      int                    `json:"total"`
	Production *ModelVersionResponse  `json:"production,omitempty"`
	Anomaly    string                 `json:"anomaly,omitempty"`
}

func ToModelVersionResponse(v *domain.ModelVersion) *ModelVersionResponse {
	if v == nil {
		return nil
	}
	return &ModelVersionResponse{
		ModelName:     v.ModelName,
		Version:       v.Version,
		Stage:         string(v.Stage),
		RunID:         v.RunID,
		Source:        v.Source,
		CreatedAt:     v.CreatedAt,
		LastUpdatedAt: v.LastUpdatedAt,
	}
}

func ToDecisionResponse(d *domain.PromotionDecision) *DecisionResponse {
	if d == nil {
		return nil
	}
	return &DecisionResponse{
		Approved:         d.Approved,
		Reason:           d.Reason,
		Metric:           d.Metric,
		Direction:        string(d.Direction),
		CandidateValue:   d.CandidateValue,
		IncumbentValue:   d.IncumbentValue,
		IncumbentVersion: d.IncumbentVersion,
	}
}

func ToSagaResponse(s *domain.Saga) *SagaResponse {
	if s == nil {
		return nil
	}
	resp := &SagaResponse{
		ID:        s.ID,
		Operation: s.Operation,
		StartedAt: s.StartedAt,
		Steps:     make([]StepResponse, 0, len(s.Steps)),
	}
	for _, st := range s.Steps {
		step := StepResponse{
			Name:      st.Name,
			Version:   st.Version,
			From:      string(st.From),
			To:        string(st.To),
			Attempted: st.Attempted,
			Fatal:     st.Fatal,
		}
		if st.Err != nil {
			step.Error = st.Err.Error()
		}
		resp.Steps = append(resp.Steps, step)
	}
	return resp
}

func anomalyStrings(anomalies []*domain.InconsistentRegistryError) []string {
	if len(anomalies) == 0 {
		return nil
	}
	out := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, a.Error())
	}
	return out
}

func ToPromotionResponse(r *domain.PromotionResult) PromotionResponse {
	if r == nil {
		return PromotionResponse{}
	}
	return PromotionResponse{
		Decision:   ToDecisionResponse(r.Decision),
		Version:    ToModelVersionResponse(r.Version),
		Production: ToModelVersionResponse(r.Production),
		Saga:       ToSagaResponse(r.Saga),
		Anomalies:  anomalyStrings(r.Anomalies),
	}
}

func ToRollbackResponse(r *domain.RollbackResult) RollbackResponse {
	if r == nil {
		return RollbackResponse{}
	}
	return RollbackResponse{
		ModelName: r.ModelName,
		NoOp:      r.NoOp,
		Bad:       ToModelVersionResponse(r.Bad),
		Target:    ToModelVersionResponse(r.Target),
		Saga:      ToSagaResponse(r.Saga),
		Anomalies: anomalyStrings(r.Anomalies),
	}
}

func ToListVersionsResponse(v *domain.VersionsView) ListVersionsResponse {
	resp := ListVersionsResponse{
		ModelName:  v.ModelName,
		Items:      make([]ModelVersionResponse, 0, len(v.Versions)),
		Total:      len(v.Versions),
		Production: ToModelVersionResponse(v.Production),
	}
	for _, mv := range v.Versions {
		resp.Items = append(resp.Items, *ToModelVersionResponse(mv))
	}
	if v.Anomaly != nil {
		resp.Anomaly = v.Anomaly.Error()
	}
	return resp
}
