package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Value Objects
// ============================================================================

// Direction says which way a comparison metric improves.
type Direction string

const (
	DirectionHigher Direction = "higher"
	DirectionLower  Direction = "lower"
)

// DefaultMetric is compared when a caller does not name one.
const DefaultMetric = "accuracy"

// ParseDirection accepts "higher"/"lower" plus the maximize/minimize spellings.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "higher", "max", "maximize":
		return DirectionHigher, nil
	case "lower", "min", "minimize":
		return DirectionLower, nil
	}
	return "", ErrInvalidDirection
}

func (d Direction) HigherIsBetter() bool {
	return d != DirectionLower
}

// Beats applies the strict comparison. Equal values never win.
func (d Direction) Beats(candidate, incumbent float64) bool {
	if d.HigherIsBetter() {
		return candidate > incumbent
	}
	return candidate < incumbent
}

// PromotionDecision is the result of evaluating a candidate against the
// incumbent. Computed, never persisted.
type PromotionDecision struct {
	Approved         bool      `json:"approved"`
	Reason           string    `json:"reason"`
	Metric           string    `json:"metric"`
	Direction        Direction `json:"direction"`
	CandidateValue   float64   `json:"candidate_value"`
	IncumbentValue   *float64  `json:"incumbent_value"`
	IncumbentVersion int       `json:"incumbent_version,omitempty"`

	// Anomaly is set when more than one Production version was found.
	Anomaly *InconsistentRegistryError `json:"-"`
}

// ============================================================================
// Transition Saga
// ============================================================================

// TransitionStep records one stage change inside a multi-step transition.
type TransitionStep struct {
	Name      string `json:"name"`
	Version   int    `json:"version"`
	From      Stage  `json:"from"`
	To        Stage  `json:"to"`
	Attempted bool   `json:"attempted"`
	Fatal     bool   `json:"fatal"`
	Err       error  `json:"-"`
}

func (s *TransitionStep) Succeeded() bool {
	return s.Attempted && s.Err == nil
}

// Saga is the journal of a multi-step transition.
type Saga struct {
	ID        uuid.UUID         `json:"id"`
	Operation string            `json:"operation"`
	ModelName string            `json:"model_name"`
	StartedAt time.Time         `json:"started_at"`
	Steps     []*TransitionStep `json:"steps"`
}

func NewSaga(operation, modelName string) *Saga {
	return &Saga{
		ID:        uuid.New(),
		Operation: operation,
		ModelName: modelName,
		StartedAt: time.Now(),
	}
}

// Add appends a pending step and returns it for the caller to fill in.
func (s *Saga) Add(name string, v *ModelVersion, to Stage, fatal bool) *TransitionStep {
	step := &TransitionStep{Name: name, Version: v.Version, From: v.Stage, To: to, Fatal: fatal}
	s.Steps = append(s.Steps, step)
	return step
}

// Failed returns the steps that were attempted and failed.
func (s *Saga) Failed() []*TransitionStep {
	var out []*TransitionStep
	for _, st := range s.Steps {
		if st.Attempted && st.Err != nil {
			out = append(out, st)
		}
	}
	return out
}

// ============================================================================
// Operation Results
// ============================================================================

// PromotionResult is what PromoteCandidate reports back.
type PromotionResult struct {
	Decision   *PromotionDecision           `json:"decision"`
	Version    *ModelVersion                `json:"version"`
	Production *ModelVersion                `json:"production,omitempty"`
	Saga       *Saga                        `json:"saga,omitempty"`
	Anomalies  []*InconsistentRegistryError `json:"-"`
}

// RollbackResult is what RollbackProduction reports back.
type RollbackResult struct {
	ModelName string                       `json:"model_name"`
	NoOp      bool                         `json:"no_op"`
	Bad       *ModelVersion                `json:"bad,omitempty"`
	Target    *ModelVersion                `json:"target,omitempty"`
	Saga      *Saga                        `json:"saga,omitempty"`
	Anomalies []*InconsistentRegistryError `json:"-"`
}

// VersionsView is the history of a model plus its Production version.
type VersionsView struct {
	ModelName  string                     `json:"model_name"`
	Versions   []*ModelVersion            `json:"versions"`
	Production *ModelVersion              `json:"production,omitempty"`
	Anomaly    *InconsistentRegistryError `json:"-"`
}
