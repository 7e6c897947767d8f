package ports

import (
	"context"

	"model-lifecycle-service/internal/core/domain"
)

// ArtifactPublisher hands the artifact of a freshly promoted Production
// version to whatever keeps serving replicas in sync (a KServe
// InferenceService, a shared volume sync job).
type ArtifactPublisher interface {
	// Publish points serving at version's artifact.
	Publish(ctx context.Context, version *domain.ModelVersion) error

	// IsAvailable checks if the integration is enabled and configured
	IsAvailable() bool
}
