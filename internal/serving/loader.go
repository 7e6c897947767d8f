package serving

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"model-lifecycle-service/internal/core/domain"
)

const (
	descriptorFile = "MLmodel"
	flavorLinear   = "go_linear"
)

// descriptor is the subset of an MLflow MLmodel file this server reads.
type descriptor struct {
	RunID         string                 `yaml:"run_id"`
	ArtifactPath  string                 `yaml:"artifact_path"`
	UTCTimeCreate string                 `yaml:"utc_time_created"`
	Flavors       map[string]flavorEntry `yaml:"flavors"`
}

type flavorEntry struct {
	Data       string `yaml:"data"`
	Activation string `yaml:"activation"`
}

// Artifact is a loaded model together with where it came from.
type Artifact struct {
	Path  string
	RunID string
	Model *LinearModel
}

// LoadArtifact reads an artifact directory holding an MLmodel descriptor,
// an MLmodel file itself, or a bare JSON weights file.
func LoadArtifact(path string) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat model path: %w", err)
	}

	if info.IsDir() {
		return loadDescriptor(filepath.Join(path, descriptorFile), path)
	}
	if filepath.Base(path) == descriptorFile {
		return loadDescriptor(path, path)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		model, err := loadWeights(path, "")
		if err != nil {
			return nil, err
		}
		return &Artifact{Path: path, Model: model}, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedArtifact, path)
}

func loadDescriptor(descPath, artifactPath string) (*Artifact, error) {
	raw, err := os.ReadFile(descPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", descriptorFile, err)
	}

	var desc descriptor
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrUnsupportedArtifact, descriptorFile, err)
	}

	flavor, ok := desc.Flavors[flavorLinear]
	if !ok {
		names := make([]string, 0, len(desc.Flavors))
		for name := range desc.Flavors {
			names = append(names, name)
		}
		return nil, fmt.Errorf("%w: no %s flavor (have %v)", domain.ErrUnsupportedArtifact, flavorLinear, names)
	}
	if flavor.Data == "" {
		return nil, fmt.Errorf("%w: %s flavor has no data file", domain.ErrUnsupportedArtifact, flavorLinear)
	}

	dataPath := flavor.Data
	if !filepath.IsAbs(dataPath) {
		dataPath = filepath.Join(filepath.Dir(descPath), dataPath)
	}
	model, err := loadWeights(dataPath, flavor.Activation)
	if err != nil {
		return nil, err
	}
	return &Artifact{Path: artifactPath, RunID: desc.RunID, Model: model}, nil
}

func loadWeights(path, activation string) (*LinearModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}

	var model LinearModel
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, fmt.Errorf("%w: parse weights: %v", domain.ErrUnsupportedArtifact, err)
	}
	if model.Activation == "" {
		model.Activation = activation
	}
	if err := model.validate(); err != nil {
		return nil, err
	}
	return &model, nil
}
