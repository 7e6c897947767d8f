package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"model-lifecycle-service/internal/core/domain"
	ports "model-lifecycle-service/internal/core/ports/output"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the registry tables when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return wrapErr("ensure schema", err)
	}
	return nil
}

type registryRepo struct {
	pool *pgxpool.Pool
}

// NewRegistryClient creates a RegistryClient over the model_version and
// training_run tables.
func NewRegistryClient(pool *pgxpool.Pool) ports.RegistryClient {
	return &registryRepo{pool: pool}
}

const versionColumns = `model_name, version, stage, run_id, source, created_at, last_updated_at`

func (r *registryRepo) GetVersions(ctx context.Context, modelName string, stages ...domain.Stage) ([]*domain.ModelVersion, error) {
	conditions := []string{"model_name = $1"}
	args := []interface{}{modelName}

	if len(stages) > 0 {
		names := make([]string, 0, len(stages))
		for _, s := range stages {
			names = append(names, string(s))
		}
		conditions = append(conditions, "stage = ANY($2)")
		args = append(args, names)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM model_version
		WHERE %s
		ORDER BY created_at DESC, version DESC
	`, versionColumns, strings.Join(conditions, " AND "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list model versions", err)
	}
	defer rows.Close()

	var versions []*domain.ModelVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model version row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate model version rows", err)
	}
	return versions, nil
}

func (r *registryRepo) GetRun(ctx context.Context, runID string) (*domain.TrainingRun, error) {
	query := `SELECT run_id, model_uri, metrics FROM training_run WHERE run_id = $1`

	run := &domain.TrainingRun{}
	var metricsJSON []byte
	err := r.pool.QueryRow(ctx, query, runID).Scan(&run.RunID, &run.ModelURI, &metricsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
		}
		return nil, wrapErr("get training run", err)
	}

	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &run.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	return run, nil
}

// RecordRun upserts a training run. Training happens elsewhere; this is how
// its results reach a PostgreSQL-backed registry.
func (r *registryRepo) RecordRun(ctx context.Context, run *domain.TrainingRun) error {
	metricsJSON, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	query := `
		INSERT INTO training_run (run_id, model_uri, metrics)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO UPDATE SET model_uri = EXCLUDED.model_uri, metrics = EXCLUDED.metrics
	`
	if _, err := r.pool.Exec(ctx, query, run.RunID, run.ModelURI, metricsJSON); err != nil {
		return wrapErr("record training run", err)
	}
	return nil
}

func (r *registryRepo) RegisterVersion(ctx context.Context, modelName, source, runID string) (*domain.ModelVersion, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr("begin register", err)
	}
	defer tx.Rollback(ctx)

	// Serialize version numbering per model name.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, modelName); err != nil {
		return nil, wrapErr("lock model", err)
	}

	existing, err := scanVersion(tx.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM model_version WHERE model_name = $1 AND run_id = $2`,
		modelName, runID))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapErr("find version by run", err)
	}

	query := `
		INSERT INTO model_version (model_name, version, stage, run_id, source)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4
		FROM model_version WHERE model_name = $1
		RETURNING ` + versionColumns
	v, err := scanVersion(tx.QueryRow(ctx, query, modelName, string(domain.StageNone), runID, source))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("register model version: run %s already registered: %w", runID, err)
		}
		return nil, wrapErr("register model version", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr("commit register", err)
	}
	return v, nil
}

func (r *registryRepo) TransitionStage(ctx context.Context, modelName string, version int, stage domain.Stage) (*domain.ModelVersion, error) {
	if !stage.IsValid() {
		return nil, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidTransition, stage)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr("begin transition", err)
	}
	defer tx.Rollback(ctx)

	var from string
	err = tx.QueryRow(ctx,
		`SELECT stage FROM model_version WHERE model_name = $1 AND version = $2 FOR UPDATE`,
		modelName, version).Scan(&from)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s v%d", domain.ErrVersionNotFound, modelName, version)
		}
		return nil, wrapErr("lock model version", err)
	}

	query := `
		UPDATE model_version
		SET stage = $3, last_updated_at = NOW()
		WHERE model_name = $1 AND version = $2
		RETURNING ` + versionColumns
	v, err := scanVersion(tx.QueryRow(ctx, query, modelName, version, string(stage)))
	if err != nil {
		return nil, wrapErr("update stage", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO model_version_transition (model_name, version, from_stage, to_stage)
		VALUES ($1, $2, $3, $4)
	`, modelName, version, from, string(stage))
	if err != nil {
		return nil, wrapErr("record transition", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr("commit transition", err)
	}
	return v, nil
}

func scanVersion(row pgx.Row) (*domain.ModelVersion, error) {
	v := &domain.ModelVersion{}
	var stage string

	err := row.Scan(&v.ModelName, &v.Version, &stage, &v.RunID, &v.Source, &v.CreatedAt, &v.LastUpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Stage = domain.Stage(stage)
	return v, nil
}

// unavailableClasses are the SQLSTATE classes that mean the store cannot be
// used as configured, such as failed authorization or a missing table.
var unavailableClasses = map[string]bool{
	"08": true,
	"28": true,
	"3D": true,
	"42": true,
	"53": true,
	"57": true,
	"58": true,
}

// wrapErr marks transport failures and unavailableClasses errors as registry
// unavailability. Other PostgreSQL errors pass through unchanged.
func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && !unavailableClasses[pgErr.Code[:2]] {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrRegistryUnavailable, err)
}

var (
	_ ports.RegistryClient = (*registryRepo)(nil)
	_ ports.RunRecorder    = (*registryRepo)(nil)
)
