package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Stage is the lifecycle label of a model version.
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
	StageArchived   Stage = "Archived"
)

// AllStages lists every stage in lifecycle order.
var AllStages = []Stage{StageNone, StageStaging, StageProduction, StageArchived}

// IsValid checks if the stage is valid
func (s Stage) IsValid() bool {
	switch s {
	case StageNone, StageStaging, StageProduction, StageArchived:
		return true
	}
	return false
}

// ParseStage accepts stage names case-insensitively.
func ParseStage(s string) (Stage, error) {
	for _, st := range AllStages {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, s)
}

// forwardTransitions holds the edges the normal promotion flow may take.
// Rollback is the only path that restores an arbitrary version to Production
// and does not consult this table.
var forwardTransitions = map[Stage][]Stage{
	StageNone:       {StageStaging, StageArchived},
	StageStaging:    {StageProduction, StageArchived},
	StageProduction: {StageArchived},
}

// CanTransitionTo reports whether the forward state machine allows s -> next.
func (s Stage) CanTransitionTo(next Stage) bool {
	for _, st := range forwardTransitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// ModelVersion is one trained artifact registered under a model name.
type ModelVersion struct {
	ModelName     string    `json:"model_name"`
	Version       int       `json:"version"`
	Stage         Stage     `json:"stage"`
	RunID         string    `json:"run_id"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

func (v *ModelVersion) String() string {
	return fmt.Sprintf("%s v%d (%s)", v.ModelName, v.Version, v.Stage)
}

// TrainingRun is the provenance of a candidate version.
type TrainingRun struct {
	RunID    string             `json:"run_id"`
	Metrics  map[string]float64 `json:"metrics"`
	ModelURI string             `json:"model_uri"`
}

// DefaultModelURI is the artifact reference used when the run store does not report one.
func DefaultModelURI(runID string) string {
	return fmt.Sprintf("runs:/%s/model", runID)
}

// Metric returns the named metric and whether the run logged it.
func (r *TrainingRun) Metric(name string) (float64, bool) {
	if r == nil || r.Metrics == nil {
		return 0, false
	}
	v, ok := r.Metrics[name]
	return v, ok
}

// SortHistory orders versions newest first: CreatedAt descending, then
// Version descending. Registry list order is never relied upon.
func SortHistory(versions []*ModelVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		a, b := versions[i], versions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Version > b.Version
	})
}

// MostRecentlyPromoted picks the version whose stage changed last. Ties fall
// back to history order.
func MostRecentlyPromoted(versions []*ModelVersion) *ModelVersion {
	if len(versions) == 0 {
		return nil
	}
	sorted := make([]*ModelVersion, len(versions))
	copy(sorted, versions)
	SortHistory(sorted)

	best := sorted[0]
	for _, v := range sorted[1:] {
		if v.LastUpdatedAt.After(best.LastUpdatedAt) {
			best = v
		}
	}
	return best
}

// FilterStage returns the versions currently in stage.
func FilterStage(versions []*ModelVersion, stage Stage) []*ModelVersion {
	var out []*ModelVersion
	for _, v := range versions {
		if v.Stage == stage {
			out = append(out, v)
		}
	}
	return out
}

// VersionNumbers extracts version numbers, mostly for logs and error detail.
func VersionNumbers(versions []*ModelVersion) []int {
	out := make([]int, 0, len(versions))
	for _, v := range versions {
		out = append(out, v.Version)
	}
	return out
}
