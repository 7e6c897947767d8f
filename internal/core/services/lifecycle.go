package services

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"model-lifecycle-service/internal/core/domain"
	ports "model-lifecycle-service/internal/core/ports/output"
)

// LifecycleController sequences stage transitions for promotion and rollback.
// It relies on the registry for single-version atomicity only; multi-step
// sequences are journaled in a domain.Saga and checked afterwards.
type LifecycleController struct {
	registry  ports.RegistryClient
	evaluator *PromotionEvaluator
	publisher ports.ArtifactPublisher
}

// NewLifecycleController wires the controller. publisher may be nil.
func NewLifecycleController(registry ports.RegistryClient, evaluator *PromotionEvaluator, publisher ports.ArtifactPublisher) *LifecycleController {
	return &LifecycleController{registry: registry, evaluator: evaluator, publisher: publisher}
}

// PromoteRequest for PromoteCandidate
type PromoteRequest struct {
	RunID     string
	ModelName string
	Metric    string
	Direction domain.Direction

	// AutoProduction skips the human approval gate between Staging and Production.
	AutoProduction bool
}

func (r *PromoteRequest) validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return domain.ErrInvalidRunID
	}
	if strings.TrimSpace(r.ModelName) == "" {
		return domain.ErrInvalidModelName
	}
	if strings.TrimSpace(r.Metric) == "" {
		return domain.ErrInvalidMetric
	}
	if r.Direction == "" {
		r.Direction = domain.DirectionHigher
	}
	if r.Direction != domain.DirectionHigher && r.Direction != domain.DirectionLower {
		return domain.ErrInvalidDirection
	}
	return nil
}

// PromoteCandidate registers the run's artifact, evaluates it against the
// incumbent and moves it to Staging when approved. A rejected candidate stays
// registered in its current stage and the returned error wraps
// domain.ErrPromotionRejected.
func (c *LifecycleController) PromoteCandidate(ctx context.Context, req PromoteRequest) (*domain.PromotionResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	run, err := c.registry.GetRun(ctx, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", req.RunID, err)
	}
	source := run.ModelURI
	if source == "" {
		source = domain.DefaultModelURI(run.RunID)
	}

	version, err := c.registry.RegisterVersion(ctx, req.ModelName, source, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("register run %s: %w", req.RunID, err)
	}
	log.WithFields(log.Fields{
		"model":   req.ModelName,
		"version": version.Version,
		"run_id":  req.RunID,
		"stage":   version.Stage,
	}).Info("candidate registered")

	result := &domain.PromotionResult{Version: version}

	switch version.Stage {
	case domain.StageProduction:
		result.Decision = &domain.PromotionDecision{
			Metric:    req.Metric,
			Direction: req.Direction,
			Reason:    fmt.Sprintf("run %s already backs Production version %d", req.RunID, version.Version),
		}
		return result, fmt.Errorf("%w: %s", domain.ErrPromotionRejected, result.Decision.Reason)
	case domain.StageArchived:
		return result, fmt.Errorf("%w: version %d of run %s is Archived", domain.ErrInvalidTransition, version.Version, req.RunID)
	}

	decision, err := c.evaluator.Evaluate(ctx, run, req.ModelName, req.Metric, req.Direction)
	if err != nil {
		return result, err
	}
	result.Decision = decision
	if decision.Anomaly != nil {
		result.Anomalies = append(result.Anomalies, decision.Anomaly)
	}

	if !decision.Approved {
		log.WithFields(log.Fields{
			"model":   req.ModelName,
			"version": version.Version,
			"reason":  decision.Reason,
		}).Warn("candidate rejected")
		return result, fmt.Errorf("%w: %s", domain.ErrPromotionRejected, decision.Reason)
	}

	saga := domain.NewSaga("promote", req.ModelName)
	result.Saga = saga

	if version.Stage != domain.StageStaging {
		step := saga.Add("stage", version, domain.StageStaging, true)
		staged, err := c.transition(ctx, saga, step)
		if err != nil {
			return result, fmt.Errorf("stage version %d: %w", version.Version, err)
		}
		version = staged
		result.Version = staged
	}

	if !req.AutoProduction {
		return result, nil
	}

	promoted, anomalies, err := c.promoteToProduction(ctx, saga, version)
	result.Anomalies = append(result.Anomalies, anomalies...)
	if promoted != nil {
		result.Version = promoted
		result.Production = promoted
	}
	return result, err
}

// PromoteStagingToProduction is the explicit final step after the approval
// gate. Previous Production versions are archived and the single-Production
// invariant is verified before success is reported.
func (c *LifecycleController) PromoteStagingToProduction(ctx context.Context, modelName string, version int) (*domain.PromotionResult, error) {
	if strings.TrimSpace(modelName) == "" {
		return nil, domain.ErrInvalidModelName
	}
	if version <= 0 {
		return nil, domain.ErrInvalidVersion
	}

	versions, err := c.registry.GetVersions(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("get versions: %w", err)
	}

	var target *domain.ModelVersion
	for _, v := range versions {
		if v.Version == version {
			target = v
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s v%d", domain.ErrVersionNotFound, modelName, version)
	}
	if target.Stage != domain.StageStaging {
		return nil, fmt.Errorf("%w: version %d is %s, expected %s", domain.ErrInvalidTransition, version, target.Stage, domain.StageStaging)
	}

	saga := domain.NewSaga("promote-production", modelName)
	result := &domain.PromotionResult{Version: target, Saga: saga}

	promoted, anomalies, err := c.promoteToProduction(ctx, saga, target)
	result.Anomalies = anomalies
	if promoted != nil {
		result.Version = promoted
		result.Production = promoted
	}
	return result, err
}

// promoteToProduction runs promote-then-archive so a Production version is
// live throughout, then re-reads the registry to check the invariant.
func (c *LifecycleController) promoteToProduction(ctx context.Context, saga *domain.Saga, target *domain.ModelVersion) (*domain.ModelVersion, []*domain.InconsistentRegistryError, error) {
	var anomalies []*domain.InconsistentRegistryError

	prod, err := c.registry.GetVersions(ctx, saga.ModelName, domain.StageProduction)
	if err != nil {
		return nil, nil, fmt.Errorf("get production versions: %w", err)
	}
	prod = domain.FilterStage(prod, domain.StageProduction)
	if len(prod) > 1 {
		anomaly := domain.NewMultipleProductionError(saga.ModelName, prod)
		log.WithError(anomaly).Error("multiple Production versions before promotion; archiving all of them")
		anomalies = append(anomalies, anomaly)
	}

	step := saga.Add("promote", target, domain.StageProduction, true)
	promoted, err := c.transition(ctx, saga, step)
	if err != nil {
		return nil, anomalies, fmt.Errorf("promote version %d: %w", target.Version, err)
	}

	for _, old := range prod {
		if old.Version == target.Version {
			continue
		}
		archive := saga.Add("archive", old, domain.StageArchived, false)
		// Failures surface through the invariant check below.
		_, _ = c.transition(ctx, saga, archive)
	}

	if err := c.verifySingleProduction(ctx, saga.ModelName, target.Version); err != nil {
		return promoted, anomalies, err
	}

	c.publish(ctx, promoted)
	return promoted, anomalies, nil
}

func (c *LifecycleController) verifySingleProduction(ctx context.Context, modelName string, want int) error {
	current, err := c.registry.GetVersions(ctx, modelName, domain.StageProduction)
	if err != nil {
		return fmt.Errorf("verify production invariant: %w", err)
	}
	current = domain.FilterStage(current, domain.StageProduction)

	if len(current) == 1 && current[0].Version == want {
		return nil
	}
	inconsistent := &domain.InconsistentRegistryError{
		ModelName: modelName,
		Versions:  domain.VersionNumbers(current),
		Detail:    fmt.Sprintf("expected only version %d in Production", want),
	}
	log.WithError(inconsistent).Error("production invariant violated after promotion")
	return inconsistent
}

// RollbackProduction archives the current Production version and restores
// the most recently created other version, whatever its stage. Archival
// failure is tolerated. Failure to restore is reported as
// domain.ErrRollbackPromotionFailed, and the message says whether the bad
// version is still live.
func (c *LifecycleController) RollbackProduction(ctx context.Context, modelName string) (*domain.RollbackResult, error) {
	if strings.TrimSpace(modelName) == "" {
		return nil, domain.ErrInvalidModelName
	}

	versions, err := c.registry.GetVersions(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("get versions: %w", err)
	}
	domain.SortHistory(versions)

	result := &domain.RollbackResult{ModelName: modelName}

	prod := domain.FilterStage(versions, domain.StageProduction)
	if len(prod) == 0 {
		log.WithField("model", modelName).Warn("no Production version; nothing to roll back")
		result.NoOp = true
		return result, nil
	}
	if len(prod) > 1 {
		anomaly := domain.NewMultipleProductionError(modelName, prod)
		log.WithError(anomaly).Error("multiple Production versions; rolling back the most recently promoted")
		result.Anomalies = append(result.Anomalies, anomaly)
	}
	bad := domain.MostRecentlyPromoted(prod)
	result.Bad = bad

	var target *domain.ModelVersion
	for _, v := range versions {
		if v.Version != bad.Version {
			target = v
			break
		}
	}
	if target == nil {
		return result, fmt.Errorf("%w: version %d is the only version of %q", domain.ErrNoRollbackTarget, bad.Version, modelName)
	}
	result.Target = target

	log.WithFields(log.Fields{
		"model":  modelName,
		"bad":    bad.Version,
		"target": target.Version,
	}).Info("rolling back Production")

	saga := domain.NewSaga("rollback", modelName)
	result.Saga = saga

	archive := saga.Add("archive", bad, domain.StageArchived, false)
	if archived, err := c.transition(ctx, saga, archive); err == nil {
		result.Bad = archived
	}

	restore := saga.Add("restore", target, domain.StageProduction, true)
	restored, err := c.transition(ctx, saga, restore)
	if err != nil {
		live := "no Production version is live"
		if archive.Err != nil {
			live = fmt.Sprintf("version %d is still in Production", bad.Version)
		}
		return result, fmt.Errorf("%w: version %d (%s): %w", domain.ErrRollbackPromotionFailed, target.Version, live, err)
	}
	result.Target = restored

	if archive.Err != nil {
		anomaly := &domain.InconsistentRegistryError{
			ModelName: modelName,
			Versions:  []int{bad.Version, target.Version},
			Detail:    fmt.Sprintf("version %d could not be archived and is still in Production", bad.Version),
		}
		log.WithError(anomaly).Error("rollback completed with archival failure")
		result.Anomalies = append(result.Anomalies, anomaly)
	}

	c.publish(ctx, restored)
	return result, nil
}

// ListVersions returns the model history in the canonical order together
// with its Production version.
func (c *LifecycleController) ListVersions(ctx context.Context, modelName string) (*domain.VersionsView, error) {
	if strings.TrimSpace(modelName) == "" {
		return nil, domain.ErrInvalidModelName
	}

	versions, err := c.registry.GetVersions(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("get versions: %w", err)
	}
	domain.SortHistory(versions)

	view := &domain.VersionsView{ModelName: modelName, Versions: versions}
	prod := domain.FilterStage(versions, domain.StageProduction)
	if len(prod) > 1 {
		view.Anomaly = domain.NewMultipleProductionError(modelName, prod)
		log.WithError(view.Anomaly).Warn("multiple Production versions")
	}
	view.Production = domain.MostRecentlyPromoted(prod)
	return view, nil
}

func (c *LifecycleController) transition(ctx context.Context, saga *domain.Saga, step *domain.TransitionStep) (*domain.ModelVersion, error) {
	step.Attempted = true
	entry := log.WithFields(log.Fields{
		"saga_id": saga.ID,
		"op":      saga.Operation,
		"model":   saga.ModelName,
		"step":    step.Name,
		"version": step.Version,
		"from":    step.From,
		"to":      step.To,
	})

	updated, err := c.registry.TransitionStage(ctx, saga.ModelName, step.Version, step.To)
	if err != nil {
		step.Err = err
		if step.Fatal {
			entry.WithError(err).Error("stage transition failed")
		} else {
			entry.WithError(err).Warn("stage transition failed; continuing")
		}
		return nil, err
	}
	entry.Info("stage transition applied")
	return updated, nil
}

func (c *LifecycleController) publish(ctx context.Context, version *domain.ModelVersion) {
	if c.publisher == nil || !c.publisher.IsAvailable() {
		return
	}
	if err := c.publisher.Publish(ctx, version); err != nil {
		log.WithError(err).WithField("version", version.Version).Warn("failed to publish Production artifact")
	}
}
