package ports

import (
	"context"

	"model-lifecycle-service/internal/core/domain"
)

// RegistryClient is the contract for the versioned-artifact store that owns
// model versions and training runs. Implementations wrap transport and
// storage failures with domain.ErrRegistryUnavailable.
type RegistryClient interface {
	// GetVersions lists versions of modelName. An empty stage list means all stages.
	// Callers must not rely on the returned order.
	GetVersions(ctx context.Context, modelName string, stages ...domain.Stage) ([]*domain.ModelVersion, error)

	// GetRun fetches the training run and its metrics.
	GetRun(ctx context.Context, runID string) (*domain.TrainingRun, error)

	// RegisterVersion creates a version in stage None, or returns the version
	// already registered for runID.
	RegisterVersion(ctx context.Context, modelName, source, runID string) (*domain.ModelVersion, error)

	// TransitionStage atomically moves a single version to stage.
	TransitionStage(ctx context.Context, modelName string, version int, stage domain.Stage) (*domain.ModelVersion, error)
}

// RunRecorder is implemented by registries that store training runs
// themselves rather than reading them from an external tracking server.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *domain.TrainingRun) error
}
