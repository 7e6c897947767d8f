// Package app wires configuration to adapters for the server and CLI
// entrypoints.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"model-lifecycle-service/internal/adapters/secondary/kserve"
	"model-lifecycle-service/internal/adapters/secondary/memory"
	"model-lifecycle-service/internal/adapters/secondary/mlflow"
	"model-lifecycle-service/internal/adapters/secondary/postgres"
	"model-lifecycle-service/internal/config"
	ports "model-lifecycle-service/internal/core/ports/output"
	"model-lifecycle-service/internal/core/services"
)

func InitLogger(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Logger.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// Registry is an opened registry backend. Close flushes and releases it.
type Registry struct {
	Client ports.RegistryClient
	Close  func() error
}

// OpenRegistry connects to the backend selected by REGISTRY_BACKEND.
func OpenRegistry(ctx context.Context, cfg *config.Config) (*Registry, error) {
	if err := cfg.RequireRegistry(); err != nil {
		return nil, err
	}

	switch cfg.Registry.Backend {
	case config.BackendMLflow:
		log.WithField("tracking_uri", cfg.MLflow.TrackingURI).Info("using MLflow registry")
		return &Registry{
			Client: mlflow.NewRegistryClient(&cfg.MLflow),
			Close:  func() error { return nil },
		}, nil

	case config.BackendPostgres:
		pool, err := openPool(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("using PostgreSQL registry")
		return &Registry{
			Client: postgres.NewRegistryClient(pool),
			Close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	case config.BackendMemory:
		reg := memory.NewRegistry()
		path := cfg.Registry.SeedFile
		if path != "" {
			if err := reg.LoadSeedFile(path); err != nil {
				return nil, err
			}
		}
		log.WithField("seed_file", path).Info("using in-memory registry")
		return &Registry{
			Client: reg,
			Close: func() error {
				if path == "" {
					return nil
				}
				return reg.SaveSeedFile(path)
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
}

func openPool(ctx context.Context, db *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(db.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(db.MaxOpenConns)
	poolCfg.MinConns = int32(db.MaxIdleConns)
	poolCfg.MaxConnLifetime = db.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	log.Info("database connection established")
	return pool, nil
}

// NewPublisher returns the KServe publisher, or nil when the integration is
// disabled or cannot be initialised.
func NewPublisher(cfg *config.Config) ports.ArtifactPublisher {
	if !cfg.Kubernetes.Enabled {
		log.Info("KServe integration disabled")
		return nil
	}
	pub, err := kserve.NewPublisher(&cfg.Kubernetes)
	if err != nil {
		log.Warnf("KServe client init failed (continuing without K8s integration): %v", err)
		return nil
	}
	log.Info("KServe client initialized")
	return pub
}

// NewLifecycleController builds the controller over an opened registry.
func NewLifecycleController(cfg *config.Config, registry ports.RegistryClient) *services.LifecycleController {
	return services.NewLifecycleController(registry, services.NewPromotionEvaluator(registry), NewPublisher(cfg))
}
