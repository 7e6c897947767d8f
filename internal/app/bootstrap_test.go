package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-lifecycle-service/internal/config"
	"model-lifecycle-service/internal/core/domain"
	"model-lifecycle-service/internal/core/services"
)

func loadConfig(t *testing.T, values map[string]interface{}) *config.Config {
	t.Helper()
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	return cfg
}

func TestOpenRegistry_MemoryPersistsSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`runs:
  - run_id: r1
    metrics: {accuracy: 0.9}
`), 0o644))

	cfg := loadConfig(t, map[string]interface{}{
		"REGISTRY_BACKEND":   config.BackendMemory,
		"REGISTRY_SEED_FILE": path,
	})

	reg, err := OpenRegistry(context.Background(), cfg)
	require.NoError(t, err)

	controller := NewLifecycleController(cfg, reg.Client)
	result, err := controller.PromoteCandidate(context.Background(), services.PromoteRequest{
		RunID: "r1", ModelName: "fraud", Metric: "accuracy", AutoProduction: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Production.Version)
	require.NoError(t, reg.Close())

	reopened, err := OpenRegistry(context.Background(), cfg)
	require.NoError(t, err)
	prod, err := reopened.Client.GetVersions(context.Background(), "fraud", domain.StageProduction)
	require.NoError(t, err)
	require.Len(t, prod, 1)
	assert.Equal(t, "runs:/r1/model", prod[0].Source)
}

func TestOpenRegistry_MLflowNeedsTrackingURI(t *testing.T) {
	cfg := loadConfig(t, nil)
	_, err := OpenRegistry(context.Background(), cfg)
	assert.Error(t, err)

	cfg = loadConfig(t, map[string]interface{}{"MLFLOW_TRACKING_URI": "http://mlflow:5000"})
	reg, err := OpenRegistry(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, reg.Client)
	assert.NoError(t, reg.Close())
}

func TestNewPublisher_Disabled(t *testing.T) {
	assert.Nil(t, NewPublisher(loadConfig(t, nil)))
}
