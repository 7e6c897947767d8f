package serving

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"model-lifecycle-service/internal/core/domain"
)

// debounceDelay lets a volume sync finish writing before reloading.
const debounceDelay = 250 * time.Millisecond

type snapshot struct {
	artifact *Artifact
	loadedAt time.Time
}

// Status describes the loaded model.
type Status struct {
	ModelName string
	Loaded    bool
	Path      string
	RunID     string
	LoadedAt  time.Time
}

// Gateway answers predictions from whichever artifact was loaded last. It
// never talks to the registry.
type Gateway struct {
	modelName string
	metrics   *Metrics
	current   atomic.Pointer[snapshot]
	now       func() time.Time
}

func NewGateway(modelName string, metrics *Metrics) *Gateway {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Gateway{
		modelName: modelName,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (g *Gateway) Metrics() *Metrics {
	return g.metrics
}

// Load builds the model at path and swaps it in. On failure the previously
// loaded model keeps serving.
func (g *Gateway) Load(path string) error {
	if path == "" {
		return fmt.Errorf("%w: model path not set", domain.ErrModelNotLoaded)
	}
	artifact, err := LoadArtifact(path)
	if err != nil {
		return fmt.Errorf("load model from %s: %w", path, err)
	}

	g.current.Store(&snapshot{artifact: artifact, loadedAt: g.now()})
	log.WithFields(log.Fields{
		"model":  g.modelName,
		"path":   path,
		"run_id": artifact.RunID,
		"inputs": artifact.Model.Inputs(),
	}).Info("Model loaded")
	return nil
}

// Healthy reports whether a model is loaded.
func (g *Gateway) Healthy() bool {
	return g.current.Load() != nil
}

func (g *Gateway) Status() Status {
	st := Status{ModelName: g.modelName}
	snap := g.current.Load()
	if snap == nil {
		return st
	}
	st.Loaded = true
	st.Path = snap.artifact.Path
	st.RunID = snap.artifact.RunID
	st.LoadedAt = snap.loadedAt
	return st
}

// Predict runs the loaded model on a single feature vector.
func (g *Gateway) Predict(features []float64) ([]float64, error) {
	start := time.Now()
	snap := g.current.Load()
	if snap == nil {
		g.metrics.observe(g.modelName, StatusError, time.Since(start).Seconds())
		return nil, domain.ErrModelNotLoaded
	}

	out, err := snap.artifact.Model.Predict(features)
	if err != nil {
		g.metrics.observe(g.modelName, StatusError, time.Since(start).Seconds())
		return nil, err
	}
	g.metrics.observe(g.modelName, StatusSuccess, time.Since(start).Seconds())
	return out, nil
}

// Watch reloads the model whenever the artifact at path changes, until ctx
// is done. The parent directory is always watched so that a path that does
// not exist yet, or that is replaced wholesale, is picked up when it appears.
// When path is a directory it is watched as well, and the watch is re-armed
// on every reload.
func (g *Gateway) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create model watcher: %w", err)
	}

	path = filepath.Clean(path)
	parent := filepath.Dir(path)
	if err := w.Add(parent); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %q: %w", parent, err)
	}

	logger := log.WithFields(log.Fields{"model": g.modelName, "path": path})
	if err := watchArtifactDir(w, path); err != nil {
		logger.WithError(err).Warn("Model directory not watched yet")
	}

	go func() {
		defer w.Close()

		var debounceTimer *time.Timer
		defer func() {
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !affectsArtifact(ev, path) {
					continue
				}
				logger.WithField("event", ev.String()).Debug("Model artifact changed")

				if ev.Name == path && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					// The old directory is gone or moved away; drop its watch so
					// the replacement can be added under the same name.
					_ = w.Remove(path)
				}

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := watchArtifactDir(w, path); err != nil {
						logger.WithError(err).Debug("Model directory not watched")
					}
					if err := g.Load(path); err != nil {
						logger.WithError(err).Warn("Reload failed, keeping previous model")
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Model watcher error")
			}
		}
	}()
	return nil
}

// affectsArtifact reports whether ev touches path itself (seen through the
// parent watch) or a file directly inside it.
func affectsArtifact(ev fsnotify.Event, path string) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	name := filepath.Clean(ev.Name)
	return name == path || filepath.Dir(name) == path
}

// watchArtifactDir adds a watch on path when it is a directory. Adding an
// already watched directory is a no-op.
func watchArtifactDir(w *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}
	return w.Add(path)
}
