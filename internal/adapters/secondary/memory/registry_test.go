package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-lifecycle-service/internal/core/domain"
)

const seed = `runs:
  - run_id: r1
    metrics: {accuracy: 0.8}
  - run_id: r2
    model_uri: s3://bucket/r2
    metrics: {accuracy: 0.9, f1: 0.7}
versions:
  - model_name: fraud
    version: 1
    stage: production
    run_id: r1
    source: runs:/r1/model
    created_at: 2024-06-01T12:00:00Z
  - model_name: fraud
    version: 2
    run_id: r2
    source: s3://bucket/r2
    created_at: 2024-06-02T12:00:00Z
`

func TestRegisterVersion_Idempotent(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	v1, err := r.RegisterVersion(ctx, "fraud", "runs:/a/model", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, domain.StageNone, v1.Stage)

	again, err := r.RegisterVersion(ctx, "fraud", "runs:/a/model", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Version)

	v2, err := r.RegisterVersion(ctx, "fraud", "runs:/b/model", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	all, err := r.GetVersions(ctx, "fraud")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTransitionStage(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry().WithClock(func() time.Time { return now })

	_, err := r.RegisterVersion(ctx, "fraud", "src", "a")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	v, err := r.TransitionStage(ctx, "fraud", 1, domain.StageStaging)
	require.NoError(t, err)
	assert.Equal(t, domain.StageStaging, v.Stage)
	assert.Equal(t, now, v.LastUpdatedAt)

	staged, err := r.GetVersions(ctx, "fraud", domain.StageStaging)
	require.NoError(t, err)
	assert.Len(t, staged, 1)

	_, err = r.TransitionStage(ctx, "fraud", 7, domain.StageArchived)
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)

	_, err = r.TransitionStage(ctx, "fraud", 1, domain.Stage("Deleted"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestGetVersions_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	_, err := r.RegisterVersion(ctx, "fraud", "src", "a")
	require.NoError(t, err)

	got, err := r.GetVersions(ctx, "fraud")
	require.NoError(t, err)
	got[0].Stage = domain.StageProduction

	again, err := r.GetVersions(ctx, "fraud")
	require.NoError(t, err)
	assert.Equal(t, domain.StageNone, again[0].Stage)
}

func TestSeedFile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	r := NewRegistry()
	require.NoError(t, r.LoadSeedFile(path))

	prod, err := r.GetVersions(ctx, "fraud", domain.StageProduction)
	require.NoError(t, err)
	require.Len(t, prod, 1)
	assert.Equal(t, 1, prod[0].Version)
	assert.Equal(t, prod[0].CreatedAt, prod[0].LastUpdatedAt)

	run, err := r.GetRun(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/r2", run.ModelURI)

	_, err = r.TransitionStage(ctx, "fraud", 2, domain.StageStaging)
	require.NoError(t, err)
	require.NoError(t, r.SaveSeedFile(path))

	reloaded := NewRegistry()
	require.NoError(t, reloaded.LoadSeedFile(path))
	staged, err := reloaded.GetVersions(ctx, "fraud", domain.StageStaging)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "r2", staged[0].RunID)

	_, err = reloaded.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestLoadSeedFile_BadStage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("versions:\n  - model_name: fraud\n    version: 1\n    stage: Live\n"), 0o644))

	assert.Error(t, NewRegistry().LoadSeedFile(path))
}

func TestRecordRun(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.RecordRun(context.Background(), &domain.TrainingRun{}), domain.ErrInvalidRunID)
	require.NoError(t, r.RecordRun(context.Background(), &domain.TrainingRun{RunID: "x", Metrics: map[string]float64{"loss": 0.1}}))

	run, err := r.GetRun(context.Background(), "x")
	require.NoError(t, err)
	loss, ok := run.Metric("loss")
	assert.True(t, ok)
	assert.Equal(t, 0.1, loss)
}
