package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"model-lifecycle-service/internal/core/domain"
	"model-lifecycle-service/internal/testutil"
)

func TestCompare_TiesNeverApprove(t *testing.T) {
	for _, v := range []float64{0, 0.5, 0.8, 1, -3.25, 1e9} {
		for _, dir := range []domain.Direction{domain.DirectionHigher, domain.DirectionLower} {
			d := Compare("accuracy", dir, v, v)
			assert.False(t, d.Approved, "value %v direction %s", v, dir)
		}
	}
}

func TestCompare_StrictInequality(t *testing.T) {
	tests := []struct {
		name      string
		direction domain.Direction
		candidate float64
		incumbent float64
		approved  bool
	}{
		{"higher better, candidate higher", domain.DirectionHigher, 0.91, 0.90, true},
		{"higher better, candidate lower", domain.DirectionHigher, 0.89, 0.90, false},
		{"lower better, candidate lower", domain.DirectionLower, 0.10, 0.20, true},
		{"lower better, candidate higher", domain.DirectionLower, 0.30, 0.20, false},
		{"negative values", domain.DirectionHigher, -1, -2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Compare("m", tt.direction, tt.candidate, tt.incumbent)
			assert.Equal(t, tt.approved, d.Approved)
			require.NotNil(t, d.IncumbentValue)
			assert.Equal(t, tt.incumbent, *d.IncumbentValue)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestEvaluate_MetricMissingOnCandidate(t *testing.T) {
	registry := new(testutil.MockRegistryClient)
	e := NewPromotionEvaluator(registry)

	run := &domain.TrainingRun{RunID: "r1", Metrics: map[string]float64{"f1": 0.7}}
	_, err := e.Evaluate(context.Background(), run, "fraud", "accuracy", domain.DirectionHigher)

	assert.ErrorIs(t, err, domain.ErrMetricNotFound)
	registry.AssertNotCalled(t, "GetVersions", mock.Anything, mock.Anything, mock.Anything)
}

func TestEvaluate_NoIncumbent(t *testing.T) {
	registry := new(testutil.MockRegistryClient)
	e := NewPromotionEvaluator(registry)

	registry.On("GetVersions", mock.Anything, "fraud", testutil.StageArgs(domain.StageProduction)).
		Return([]*domain.ModelVersion{}, nil)

	run := &domain.TrainingRun{RunID: "r1", Metrics: map[string]float64{"accuracy": 0.5}}
	d, err := e.Evaluate(context.Background(), run, "fraud", "accuracy", domain.DirectionHigher)

	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.Nil(t, d.IncumbentValue)
	assert.Contains(t, d.Reason, "first deployment")
}

func TestEvaluate_IncumbentMissingMetric(t *testing.T) {
	registry := new(testutil.MockRegistryClient)
	e := NewPromotionEvaluator(registry)

	registry.On("GetVersions", mock.Anything, "fraud", testutil.StageArgs(domain.StageProduction)).
		Return([]*domain.ModelVersion{{ModelName: "fraud", Version: 1, Stage: domain.StageProduction, RunID: "r0"}}, nil)
	registry.On("GetRun", mock.Anything, "r0").
		Return(&domain.TrainingRun{RunID: "r0", Metrics: map[string]float64{"f1": 0.7}}, nil)

	run := &domain.TrainingRun{RunID: "r1", Metrics: map[string]float64{"accuracy": 0.9}}
	_, err := e.Evaluate(context.Background(), run, "fraud", "accuracy", domain.DirectionHigher)

	assert.ErrorIs(t, err, domain.ErrInconsistentRegistry)
	var inconsistent *domain.InconsistentRegistryError
	require.True(t, errors.As(err, &inconsistent))
	assert.Equal(t, []int{1}, inconsistent.Versions)
}

func TestEvaluate_RegistryUnavailable(t *testing.T) {
	registry := new(testutil.MockRegistryClient)
	e := NewPromotionEvaluator(registry)

	registry.On("GetVersions", mock.Anything, "fraud", testutil.StageArgs(domain.StageProduction)).
		Return(nil, domain.ErrRegistryUnavailable)

	run := &domain.TrainingRun{RunID: "r1", Metrics: map[string]float64{"accuracy": 0.9}}
	_, err := e.Evaluate(context.Background(), run, "fraud", "accuracy", domain.DirectionHigher)

	assert.ErrorIs(t, err, domain.ErrRegistryUnavailable)
}

func TestEvaluate_MultipleProductionUsesMostRecentlyPromoted(t *testing.T) {
	registry := new(testutil.MockRegistryClient)
	e := NewPromotionEvaluator(registry)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prod := []*domain.ModelVersion{
		{ModelName: "fraud", Version: 1, Stage: domain.StageProduction, RunID: "r1", CreatedAt: base, LastUpdatedAt: base.Add(3 * time.Hour)},
		{ModelName: "fraud", Version: 2, Stage: domain.StageProduction, RunID: "r2", CreatedAt: base.Add(time.Hour), LastUpdatedAt: base.Add(2 * time.Hour)},
	}
	registry.On("GetVersions", mock.Anything, "fraud", testutil.StageArgs(domain.StageProduction)).Return(prod, nil)
	registry.On("GetRun", mock.Anything, "r1").
		Return(&domain.TrainingRun{RunID: "r1", Metrics: map[string]float64{"accuracy": 0.85}}, nil)

	run := &domain.TrainingRun{RunID: "r3", Metrics: map[string]float64{"accuracy": 0.9}}
	d, err := e.Evaluate(context.Background(), run, "fraud", "accuracy", domain.DirectionHigher)

	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.Equal(t, 1, d.IncumbentVersion)
	require.NotNil(t, d.Anomaly)
	assert.ElementsMatch(t, []int{1, 2}, d.Anomaly.Versions)
	registry.AssertNotCalled(t, "GetRun", mock.Anything, "r2")
}
