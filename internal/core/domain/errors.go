package domain

import (
	"errors"
	"fmt"
)

// ============================================================================
// Registry Errors
// ============================================================================

var (
	ErrVersionNotFound     = errors.New("model version not found")
	ErrRunNotFound         = errors.New("training run not found")
	ErrRegistryUnavailable = errors.New("model registry unavailable")
)

// ============================================================================
// Lifecycle Errors
// ============================================================================

// Validation errors
var (
	ErrInvalidModelName = errors.New("model name is required")
	ErrInvalidRunID     = errors.New("run ID is required")
	ErrInvalidMetric    = errors.New("metric name is required")
	ErrInvalidDirection = errors.New("direction must be 'higher' or 'lower'")
	ErrInvalidVersion   = errors.New("version must be a positive integer")
)

// Business rule errors
var (
	ErrMetricNotFound          = errors.New("metric not found in training run")
	ErrInconsistentRegistry    = errors.New("inconsistent registry state")
	ErrNoRollbackTarget        = errors.New("no rollback target available")
	ErrPromotionRejected       = errors.New("candidate rejected")
	ErrRollbackPromotionFailed = errors.New("rollback target could not be promoted")
	ErrInvalidTransition       = errors.New("invalid stage transition")
)

// ============================================================================
// Serving Errors
// ============================================================================

var (
	ErrModelNotLoaded      = errors.New("model is not loaded")
	ErrInvalidFeatures     = errors.New("features do not match model input size")
	ErrUnsupportedArtifact = errors.New("unsupported model artifact")
)

// InconsistentRegistryError describes a detected invariant violation. It
// matches ErrInconsistentRegistry with errors.Is.
type InconsistentRegistryError struct {
	ModelName string
	Versions  []int
	Detail    string
}

func (e *InconsistentRegistryError) Error() string {
	if len(e.Versions) == 0 {
		return fmt.Sprintf("%s: model %q: %s", ErrInconsistentRegistry, e.ModelName, e.Detail)
	}
	return fmt.Sprintf("%s: model %q versions %v: %s", ErrInconsistentRegistry, e.ModelName, e.Versions, e.Detail)
}

func (e *InconsistentRegistryError) Is(target error) bool {
	return target == ErrInconsistentRegistry
}

// NewMultipleProductionError reports more than one Production version.
func NewMultipleProductionError(modelName string, prod []*ModelVersion) *InconsistentRegistryError {
	return &InconsistentRegistryError{
		ModelName: modelName,
		Versions:  VersionNumbers(prod),
		Detail:    fmt.Sprintf("%d versions in Production", len(prod)),
	}
}
