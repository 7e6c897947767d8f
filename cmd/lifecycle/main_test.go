package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-lifecycle-service/internal/adapters/secondary/memory"
	"model-lifecycle-service/internal/core/domain"
)

const scenarioSeed = `runs:
  - run_id: r1
    metrics: {accuracy: 0.80}
  - run_id: r2
    metrics: {accuracy: 0.90}
  - run_id: r3
    metrics: {accuracy: 0.70}
versions:
  - model_name: fraud
    version: 1
    stage: Production
    run_id: r1
    source: runs:/r1/model
    created_at: 2024-06-01T12:00:00Z
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, seedPath string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(viper.New())
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--registry-backend", "memory", "--seed-file", seedPath}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func stagesIn(t *testing.T, seedPath, model string) map[int]domain.Stage {
	t.Helper()
	reg := memory.NewRegistry()
	require.NoError(t, reg.LoadSeedFile(seedPath))
	versions, err := reg.GetVersions(context.Background(), model)
	require.NoError(t, err)
	out := map[int]domain.Stage{}
	for _, v := range versions {
		out[v.Version] = v.Stage
	}
	return out
}

func TestPromote_FirstDeployment(t *testing.T) {
	seed := writeSeed(t, "runs:\n  - run_id: r1\n    metrics: {accuracy: 0.9}\n")

	out, _, err := run(t, seed, "promote", "--run-id", "r1", "--model-name", "fraud", "--auto-production")
	require.NoError(t, err)
	assert.Contains(t, out, "new_version=1")
	assert.Contains(t, out, "Decision: approved")
	assert.Equal(t, map[int]domain.Stage{1: domain.StageProduction}, stagesIn(t, seed, "fraud"))
}

func TestPromote_ApprovedThenProduction(t *testing.T) {
	seed := writeSeed(t, scenarioSeed)

	out, _, err := run(t, seed, "promote", "--run-id", "r2", "--model-name", "fraud")
	require.NoError(t, err)
	assert.Contains(t, out, "Before:")
	assert.Contains(t, out, "After:")
	assert.Contains(t, out, "new_version=2")
	assert.Equal(t, domain.StageStaging, stagesIn(t, seed, "fraud")[2])

	out, _, err = run(t, seed, "promote-production", "--model-name", "fraud", "--version", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "production_version=2")
	assert.Equal(t, map[int]domain.Stage{1: domain.StageArchived, 2: domain.StageProduction}, stagesIn(t, seed, "fraud"))
}

func TestPromote_Rejected(t *testing.T) {
	seed := writeSeed(t, scenarioSeed)

	out, _, err := run(t, seed, "promote", "--run-id", "r3", "--model-name", "fraud")
	assert.ErrorIs(t, err, domain.ErrPromotionRejected)
	assert.Contains(t, out, "Decision: rejected")
	assert.NotContains(t, out, "new_version=")
	assert.Equal(t, map[int]domain.Stage{1: domain.StageProduction, 2: domain.StageNone}, stagesIn(t, seed, "fraud"))
}

func TestPromote_Minimize(t *testing.T) {
	seed := writeSeed(t, scenarioSeed)

	_, _, err := run(t, seed, "promote", "--run-id", "r3", "--model-name", "fraud", "--minimize", "--auto-production")
	require.NoError(t, err)
	assert.Equal(t, domain.StageProduction, stagesIn(t, seed, "fraud")[2])
}

func TestPromote_RequiresFlags(t *testing.T) {
	seed := writeSeed(t, scenarioSeed)

	_, _, err := run(t, seed, "promote", "--model-name", "fraud")
	assert.Error(t, err)
}

func TestRollback(t *testing.T) {
	seed := writeSeed(t, scenarioSeed+`  - model_name: fraud
    version: 2
    stage: Production
    run_id: r2
    source: runs:/r2/model
    created_at: 2024-06-02T12:00:00Z
`)

	out, stderr, err := run(t, seed, "rollback", "--model-name", "fraud")
	require.NoError(t, err)
	assert.Contains(t, out, "restored_version=1")
	assert.Contains(t, stderr, "WARNING")
	assert.Equal(t, map[int]domain.Stage{1: domain.StageProduction, 2: domain.StageArchived}, stagesIn(t, seed, "fraud"))
}

func TestRollback_NoTarget(t *testing.T) {
	seed := writeSeed(t, scenarioSeed)

	_, _, err := run(t, seed, "rollback", "--model-name", "fraud")
	assert.ErrorIs(t, err, domain.ErrNoRollbackTarget)
	assert.Equal(t, domain.StageProduction, stagesIn(t, seed, "fraud")[1])
}

func TestRollback_NoProduction(t *testing.T) {
	seed := writeSeed(t, "runs: []\n")

	out, _, err := run(t, seed, "rollback", "--model-name", "fraud")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to roll back")
	assert.NotContains(t, out, "restored_version")
}

func TestVersions_JSON(t *testing.T) {
	seed := writeSeed(t, scenarioSeed)

	out, _, err := run(t, seed, "--json", "versions", "--model-name", "fraud")
	require.NoError(t, err)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, float64(1), resp["total"])
	assert.Equal(t, "Production", resp["production"].(map[string]interface{})["stage"])
}

func TestRecordRunThenPromote(t *testing.T) {
	seed := writeSeed(t, "runs: []\n")

	out, _, err := run(t, seed, "record-run", "--run-id", "r7", "--metric", "accuracy=0.95", "--metric", "f1=0.9")
	require.NoError(t, err)
	assert.Contains(t, out, "run_id=r7")

	_, _, err = run(t, seed, "promote", "--run-id", "r7", "--model-name", "churn", "--metric", "f1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageStaging, stagesIn(t, seed, "churn")[1])
}

func TestParseMetrics(t *testing.T) {
	got, err := parseMetrics([]string{"accuracy=0.9", " loss = 0.25 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"accuracy": 0.9, "loss": 0.25}, got)

	_, err = parseMetrics([]string{"accuracy"})
	assert.Error(t, err)
	_, err = parseMetrics([]string{"accuracy=high"})
	assert.Error(t, err)
	_, err = parseMetrics([]string{"=1"})
	assert.Error(t, err)
}
