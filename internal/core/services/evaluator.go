package services

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"model-lifecycle-service/internal/core/domain"
	ports "model-lifecycle-service/internal/core/ports/output"
)

// PromotionEvaluator decides whether a candidate run should replace the
// incumbent Production version. It reads the registry but never writes.
type PromotionEvaluator struct {
	registry ports.RegistryClient
}

func NewPromotionEvaluator(registry ports.RegistryClient) *PromotionEvaluator {
	return &PromotionEvaluator{registry: registry}
}

func (e *PromotionEvaluator) Evaluate(ctx context.Context, candidate *domain.TrainingRun, modelName, metric string, direction domain.Direction) (*domain.PromotionDecision, error) {
	candidateValue, ok := candidate.Metric(metric)
	if !ok {
		return nil, fmt.Errorf("%w: %q missing from run %s", domain.ErrMetricNotFound, metric, candidate.RunID)
	}

	prod, err := e.registry.GetVersions(ctx, modelName, domain.StageProduction)
	if err != nil {
		return nil, fmt.Errorf("get production versions: %w", err)
	}
	prod = domain.FilterStage(prod, domain.StageProduction)

	if len(prod) == 0 {
		return &domain.PromotionDecision{
			Approved:       true,
			Reason:         "no incumbent - first deployment",
			Metric:         metric,
			Direction:      direction,
			CandidateValue: candidateValue,
		}, nil
	}

	var anomaly *domain.InconsistentRegistryError
	if len(prod) > 1 {
		anomaly = domain.NewMultipleProductionError(modelName, prod)
		log.WithFields(log.Fields{
			"model":    modelName,
			"versions": anomaly.Versions,
		}).Error("multiple Production versions; comparing against the most recently promoted")
	}
	incumbent := domain.MostRecentlyPromoted(prod)

	incumbentRun, err := e.registry.GetRun(ctx, incumbent.RunID)
	if err != nil {
		return nil, fmt.Errorf("get incumbent run %s: %w", incumbent.RunID, err)
	}
	incumbentValue, ok := incumbentRun.Metric(metric)
	if !ok {
		return nil, &domain.InconsistentRegistryError{
			ModelName: modelName,
			Versions:  []int{incumbent.Version},
			Detail:    fmt.Sprintf("Production run %s has no metric %q", incumbent.RunID, metric),
		}
	}

	decision := Compare(metric, direction, candidateValue, incumbentValue)
	decision.IncumbentVersion = incumbent.Version
	decision.Anomaly = anomaly
	return decision, nil
}

// Compare applies the strict promotion rule to a candidate and incumbent value.
func Compare(metric string, direction domain.Direction, candidateValue, incumbentValue float64) *domain.PromotionDecision {
	d := &domain.PromotionDecision{
		Metric:         metric,
		Direction:      direction,
		CandidateValue: candidateValue,
		IncumbentValue: &incumbentValue,
	}

	op := ">"
	if !direction.HigherIsBetter() {
		op = "<"
	}

	if direction.Beats(candidateValue, incumbentValue) {
		d.Approved = true
		d.Reason = fmt.Sprintf("%s: candidate %g %s incumbent %g", metric, candidateValue, op, incumbentValue)
	} else {
		d.Reason = fmt.Sprintf("%s: candidate %g does not beat incumbent %g (%s is better)", metric, candidateValue, incumbentValue, direction)
	}
	return d
}
