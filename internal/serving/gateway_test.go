package serving

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-lifecycle-service/internal/core/domain"
)

const mlmodel = `artifact_path: model
run_id: r2
flavors:
  go_linear:
    data: weights.json
    activation: identity
`

func writeArtifact(t *testing.T, dir, weights string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, descriptorFile), []byte(mlmodel), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weights.json"), []byte(weights), 0o644))
}

func TestPredict_BeforeLoad(t *testing.T) {
	g := NewGateway("fraud", nil)

	assert.False(t, g.Healthy())
	_, err := g.Predict([]float64{1, 2})
	assert.ErrorIs(t, err, domain.ErrModelNotLoaded)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(g.Metrics().requests.WithLabelValues("fraud", StatusError)))
}

func TestLoadAndPredict(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, `{"weights": [[1, 2], [0, -1]], "bias": [0.5, 0]}`)

	g := NewGateway("fraud", nil)
	require.NoError(t, g.Load(dir))
	assert.True(t, g.Healthy())
	assert.Equal(t, "r2", g.Status().RunID)

	out, err := g.Predict([]float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{3.5, -1}, out)

	_, err = g.Predict([]float64{1})
	assert.ErrorIs(t, err, domain.ErrInvalidFeatures)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(g.Metrics().requests.WithLabelValues("fraud", StatusSuccess)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(g.Metrics().requests.WithLabelValues("fraud", StatusError)))
	assert.Equal(t, 1, promtestutil.CollectAndCount(g.Metrics().latency))
}

func TestLoad_BareJSONAndSigmoid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"weights": [[0]], "activation": "sigmoid"}`), 0o644))

	g := NewGateway("fraud", nil)
	require.NoError(t, g.Load(path))

	out, err := g.Predict([]float64{42})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, out[0], 1e-9)
}

func TestLoad_FailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, `{"weights": [[1]]}`)

	g := NewGateway("fraud", nil)
	require.NoError(t, g.Load(dir))

	bad := t.TempDir()
	writeArtifact(t, bad, `{"weights": [[1, 2], [3]]}`)
	err := g.Load(bad)
	assert.ErrorIs(t, err, domain.ErrUnsupportedArtifact)

	out, err := g.Predict([]float64{2})
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, out)
	assert.Equal(t, dir, g.Status().Path)
}

func TestLoad_Rejects(t *testing.T) {
	g := NewGateway("fraud", nil)
	assert.ErrorIs(t, g.Load(""), domain.ErrModelNotLoaded)
	assert.Error(t, g.Load(filepath.Join(t.TempDir(), "missing")))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, descriptorFile), []byte("flavors:\n  sklearn:\n    pickled_model: model.pkl\n"), 0o644))
	assert.ErrorIs(t, g.Load(dir), domain.ErrUnsupportedArtifact)

	txt := filepath.Join(t.TempDir(), "model.pkl")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	assert.ErrorIs(t, g.Load(txt), domain.ErrUnsupportedArtifact)

	assert.False(t, g.Healthy())
}

func TestPredict_ConcurrentWithReload(t *testing.T) {
	dirA := t.TempDir()
	writeArtifact(t, dirA, `{"weights": [[1]]}`)
	dirB := t.TempDir()
	writeArtifact(t, dirB, `{"weights": [[2]]}`)

	g := NewGateway("fraud", nil)
	require.NoError(t, g.Load(dirA))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				out, err := g.Predict([]float64{1})
				if assert.NoError(t, err) {
					assert.Contains(t, []float64{1, 2}, out[0])
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			assert.NoError(t, g.Load(dirB))
		} else {
			assert.NoError(t, g.Load(dirA))
		}
	}
	wg.Wait()
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, `{"weights": [[1]]}`)

	g := NewGateway("fraud", nil)
	require.NoError(t, g.Load(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Watch(ctx, dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "weights.json"), []byte(`{"weights": [[3]]}`), 0o644))

	assert.Eventually(t, func() bool {
		out, err := g.Predict([]float64{1})
		return err == nil && out[0] == 3
	}, 5*time.Second, 50*time.Millisecond)
}

func predictsValue(g *Gateway, want float64) func() bool {
	return func() bool {
		out, err := g.Predict([]float64{1})
		return err == nil && out[0] == want
	}
}

func TestWatch_PathAppearsAfterStart(t *testing.T) {
	parent := t.TempDir()
	path := filepath.Join(parent, "model")

	g := NewGateway("fraud", nil)
	assert.Error(t, g.Load(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Watch(ctx, path))

	staging := filepath.Join(parent, "model.tmp")
	require.NoError(t, os.Mkdir(staging, 0o755))
	writeArtifact(t, staging, `{"weights": [[4]]}`)
	require.NoError(t, os.Rename(staging, path))

	assert.Eventually(t, g.Healthy, 5*time.Second, 50*time.Millisecond)
	assert.Eventually(t, predictsValue(g, 4), 5*time.Second, 50*time.Millisecond)
}

func TestWatch_DirectoryReplaced(t *testing.T) {
	parent := t.TempDir()
	path := filepath.Join(parent, "model")
	require.NoError(t, os.Mkdir(path, 0o755))
	writeArtifact(t, path, `{"weights": [[1]]}`)

	g := NewGateway("fraud", nil)
	require.NoError(t, g.Load(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Watch(ctx, path))

	staging := filepath.Join(parent, "model.tmp")
	require.NoError(t, os.Mkdir(staging, 0o755))
	writeArtifact(t, staging, `{"weights": [[5]]}`)
	require.NoError(t, os.RemoveAll(path))
	require.NoError(t, os.Rename(staging, path))

	require.Eventually(t, predictsValue(g, 5), 5*time.Second, 50*time.Millisecond)

	// Let the reload re-arm the directory watch before writing in place.
	time.Sleep(2 * debounceDelay)
	require.NoError(t, os.WriteFile(filepath.Join(path, "weights.json"), []byte(`{"weights": [[7]]}`), 0o644))

	assert.Eventually(t, predictsValue(g, 7), 5*time.Second, 50*time.Millisecond)
}

func TestWatch_ParentMustExist(t *testing.T) {
	g := NewGateway("fraud", nil)
	err := g.Watch(context.Background(), filepath.Join(t.TempDir(), "missing", "model"))
	assert.Error(t, err)
}
