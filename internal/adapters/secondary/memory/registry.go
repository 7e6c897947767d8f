package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"model-lifecycle-service/internal/core/domain"
	ports "model-lifecycle-service/internal/core/ports/output"
)

// Registry is an in-process RegistryClient. It backs local runs and tests.
type Registry struct {
	mu       sync.Mutex
	versions map[string][]*domain.ModelVersion
	runs     map[string]*domain.TrainingRun
	now      func() time.Time
}

var (
	_ ports.RegistryClient = (*Registry)(nil)
	_ ports.RunRecorder    = (*Registry)(nil)
)

func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string][]*domain.ModelVersion),
		runs:     make(map[string]*domain.TrainingRun),
		now:      time.Now,
	}
}

// WithClock replaces the timestamp source.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// AddRun stores a training run.
func (r *Registry) AddRun(run *domain.TrainingRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	cp.Metrics = make(map[string]float64, len(run.Metrics))
	for k, v := range run.Metrics {
		cp.Metrics[k] = v
	}
	r.runs[run.RunID] = &cp
}

// RecordRun stores a training run.
func (r *Registry) RecordRun(_ context.Context, run *domain.TrainingRun) error {
	if run == nil || run.RunID == "" {
		return domain.ErrInvalidRunID
	}
	r.AddRun(run)
	return nil
}

// AddVersion stores a version as-is, bypassing registration rules.
func (r *Registry) AddVersion(v *domain.ModelVersion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *v
	if cp.LastUpdatedAt.IsZero() {
		cp.LastUpdatedAt = cp.CreatedAt
	}
	r.versions[v.ModelName] = append(r.versions[v.ModelName], &cp)
}

func (r *Registry) GetVersions(_ context.Context, modelName string, stages ...domain.Stage) ([]*domain.ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.ModelVersion
	for _, v := range r.versions[modelName] {
		if len(stages) > 0 && !containsStage(stages, v.Stage) {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (r *Registry) GetRun(_ context.Context, runID string) (*domain.TrainingRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	cp := *run
	return &cp, nil
}

func (r *Registry) RegisterVersion(_ context.Context, modelName, source, runID string) (*domain.ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := 1
	for _, v := range r.versions[modelName] {
		if v.RunID == runID {
			cp := *v
			return &cp, nil
		}
		if v.Version >= next {
			next = v.Version + 1
		}
	}

	now := r.now()
	v := &domain.ModelVersion{
		ModelName:     modelName,
		Version:       next,
		Stage:         domain.StageNone,
		RunID:         runID,
		Source:        source,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	r.versions[modelName] = append(r.versions[modelName], v)
	cp := *v
	return &cp, nil
}

func (r *Registry) TransitionStage(_ context.Context, modelName string, version int, stage domain.Stage) (*domain.ModelVersion, error) {
	if !stage.IsValid() {
		return nil, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidTransition, stage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range r.versions[modelName] {
		if v.Version == version {
			v.Stage = stage
			v.LastUpdatedAt = r.now()
			cp := *v
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s v%d", domain.ErrVersionNotFound, modelName, version)
}

func containsStage(stages []domain.Stage, s domain.Stage) bool {
	for _, st := range stages {
		if st == s {
			return true
		}
	}
	return false
}

// ============================================================================
// Seed File
// ============================================================================

type seedFile struct {
	Runs     []seedRun     `yaml:"runs"`
	Versions []seedVersion `yaml:"versions"`
}

type seedRun struct {
	RunID    string             `yaml:"run_id"`
	ModelURI string             `yaml:"model_uri,omitempty"`
	Metrics  map[string]float64 `yaml:"metrics"`
}

type seedVersion struct {
	ModelName     string    `yaml:"model_name"`
	Version       int       `yaml:"version"`
	Stage         string    `yaml:"stage"`
	RunID         string    `yaml:"run_id"`
	Source        string    `yaml:"source"`
	CreatedAt     time.Time `yaml:"created_at"`
	LastUpdatedAt time.Time `yaml:"last_updated_at,omitempty"`
}

// LoadSeedFile fills the registry from a YAML document with `runs` and
// `versions` lists.
func (r *Registry) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for _, run := range seed.Runs {
		r.AddRun(&domain.TrainingRun{RunID: run.RunID, ModelURI: run.ModelURI, Metrics: run.Metrics})
	}
	for _, v := range seed.Versions {
		if v.Stage == "" {
			v.Stage = string(domain.StageNone)
		}
		stage, err := domain.ParseStage(v.Stage)
		if err != nil {
			return fmt.Errorf("version %s v%d: %w", v.ModelName, v.Version, err)
		}
		r.AddVersion(&domain.ModelVersion{
			ModelName:     v.ModelName,
			Version:       v.Version,
			Stage:         stage,
			RunID:         v.RunID,
			Source:        v.Source,
			CreatedAt:     v.CreatedAt,
			LastUpdatedAt: v.LastUpdatedAt,
		})
	}
	return nil
}

// SaveSeedFile writes the registry back in the format LoadSeedFile reads, so
// a file-backed memory registry survives between CLI invocations.
func (r *Registry) SaveSeedFile(path string) error {
	r.mu.Lock()
	var seed seedFile
	runIDs := make([]string, 0, len(r.runs))
	for id := range r.runs {
		runIDs = append(runIDs, id)
	}
	sort.Strings(runIDs)
	for _, id := range runIDs {
		run := r.runs[id]
		seed.Runs = append(seed.Runs, seedRun{RunID: run.RunID, ModelURI: run.ModelURI, Metrics: run.Metrics})
	}
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		versions := append([]*domain.ModelVersion(nil), r.versions[name]...)
		sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
		for _, v := range versions {
			seed.Versions = append(seed.Versions, seedVersion{
				ModelName:     v.ModelName,
				Version:       v.Version,
				Stage:         string(v.Stage),
				RunID:         v.RunID,
				Source:        v.Source,
				CreatedAt:     v.CreatedAt,
				LastUpdatedAt: v.LastUpdatedAt,
			})
		}
	}
	r.mu.Unlock()

	data, err := yaml.Marshal(&seed)
	if err != nil {
		return fmt.Errorf("encode seed file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write seed file: %w", err)
	}
	return nil
}
