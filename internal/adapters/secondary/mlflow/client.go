package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"model-lifecycle-service/internal/config"
	"model-lifecycle-service/internal/core/domain"
	ports "model-lifecycle-service/internal/core/ports/output"
)

const (
	apiPrefix      = "/api/2.0/mlflow"
	searchPageSize = 200

	errResourceDoesNotExist = "RESOURCE_DOES_NOT_EXIST"
	errResourceExists       = "RESOURCE_ALREADY_EXISTS"
)

type mlflowClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRegistryClient creates a RegistryClient backed by the MLflow Model Registry REST API.
func NewRegistryClient(cfg *config.MLflowConfig) ports.RegistryClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &mlflowClient{
		baseURL: strings.TrimRight(cfg.TrackingURI, "/"),
		token:   cfg.Token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// MLflow API response structures
type apiError struct {
	Status    int    `json:"-"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("mlflow %d %s: %s", e.Status, e.ErrorCode, e.Message)
}

// resourceState reports errors about whether a resource exists, which callers
// handle themselves.
func (e *apiError) resourceState() bool {
	if e.Status >= http.StatusInternalServerError {
		return false
	}
	return e.Status == http.StatusNotFound ||
		e.ErrorCode == errResourceDoesNotExist ||
		e.ErrorCode == errResourceExists
}

type modelVersion struct {
	Name                 string `json:"name"`
	Version              string `json:"version"`
	CreationTimestamp    int64  `json:"creation_timestamp"`
	LastUpdatedTimestamp int64  `json:"last_updated_timestamp"`
	CurrentStage         string `json:"current_stage"`
	Source               string `json:"source"`
	RunID                string `json:"run_id"`
}

type modelVersionResponse struct {
	ModelVersion modelVersion `json:"model_version"`
}

type searchVersionsResponse struct {
	ModelVersions []modelVersion `json:"model_versions"`
	NextPageToken string         `json:"next_page_token"`
}

type metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type getRunResponse struct {
	Run struct {
		Info struct {
			RunID       string `json:"run_id"`
			ArtifactURI string `json:"artifact_uri"`
		} `json:"info"`
		Data struct {
			Metrics []metric `json:"metrics"`
		} `json:"data"`
	} `json:"run"`
}

func (c *mlflowClient) GetVersions(ctx context.Context, modelName string, stages ...domain.Stage) ([]*domain.ModelVersion, error) {
	filter := fmt.Sprintf("name='%s'", escapeFilter(modelName))
	raw, err := c.searchVersions(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.ModelVersion, 0, len(raw))
	for _, mv := range raw {
		v, err := toDomainVersion(mv)
		if err != nil {
			return nil, err
		}
		if len(stages) > 0 && !containsStage(stages, v.Stage) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *mlflowClient) GetRun(ctx context.Context, runID string) (*domain.TrainingRun, error) {
	params := url.Values{}
	params.Set("run_id", runID)

	var resp getRunResponse
	if err := c.do(ctx, http.MethodGet, "/runs/get?"+params.Encode(), nil, &resp); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	run := &domain.TrainingRun{
		RunID:    resp.Run.Info.RunID,
		Metrics:  make(map[string]float64, len(resp.Run.Data.Metrics)),
		ModelURI: domain.DefaultModelURI(runID),
	}
	if run.RunID == "" {
		run.RunID = runID
	}
	// Keep the latest value when a key was logged more than once.
	latest := map[string]metric{}
	for _, m := range resp.Run.Data.Metrics {
		prev, seen := latest[m.Key]
		if !seen || m.Step > prev.Step || (m.Step == prev.Step && m.Timestamp >= prev.Timestamp) {
			latest[m.Key] = m
		}
	}
	for k, m := range latest {
		run.Metrics[k] = m.Value
	}
	return run, nil
}

func (c *mlflowClient) RegisterVersion(ctx context.Context, modelName, source, runID string) (*domain.ModelVersion, error) {
	filter := fmt.Sprintf("name='%s' and run_id='%s'", escapeFilter(modelName), escapeFilter(runID))
	existing, err := c.searchVersions(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		versions := make([]*domain.ModelVersion, 0, len(existing))
		for _, mv := range existing {
			v, err := toDomainVersion(mv)
			if err != nil {
				return nil, err
			}
			versions = append(versions, v)
		}
		// Oldest registration wins if the store already holds duplicates.
		domain.SortHistory(versions)
		if len(versions) > 1 {
			log.WithFields(log.Fields{
				"model":    modelName,
				"run_id":   runID,
				"versions": domain.VersionNumbers(versions),
			}).Warn("run registered more than once; reusing the oldest version")
		}
		return versions[len(versions)-1], nil
	}

	if err := c.ensureRegisteredModel(ctx, modelName); err != nil {
		return nil, err
	}

	body := map[string]string{"name": modelName, "source": source, "run_id": runID}
	var resp modelVersionResponse
	if err := c.do(ctx, http.MethodPost, "/model-versions/create", body, &resp); err != nil {
		return nil, fmt.Errorf("create model version: %w", err)
	}
	return toDomainVersion(resp.ModelVersion)
}

func (c *mlflowClient) TransitionStage(ctx context.Context, modelName string, version int, stage domain.Stage) (*domain.ModelVersion, error) {
	body := map[string]interface{}{
		"name":                      modelName,
		"version":                   strconv.Itoa(version),
		"stage":                     string(stage),
		"archive_existing_versions": false,
	}

	var resp modelVersionResponse
	if err := c.do(ctx, http.MethodPost, "/model-versions/transition-stage", body, &resp); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s v%d", domain.ErrVersionNotFound, modelName, version)
		}
		return nil, fmt.Errorf("transition stage: %w", err)
	}
	return toDomainVersion(resp.ModelVersion)
}

func (c *mlflowClient) ensureRegisteredModel(ctx context.Context, modelName string) error {
	err := c.do(ctx, http.MethodPost, "/registered-models/create", map[string]string{"name": modelName}, nil)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == errResourceExists {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create registered model: %w", err)
	}
	return nil
}

func (c *mlflowClient) searchVersions(ctx context.Context, filter string) ([]modelVersion, error) {
	var all []modelVersion
	pageToken := ""
	for {
		params := url.Values{}
		params.Set("filter", filter)
		params.Set("max_results", strconv.Itoa(searchPageSize))
		if pageToken != "" {
			params.Set("page_token", pageToken)
		}

		var resp searchVersionsResponse
		if err := c.do(ctx, http.MethodGet, "/model-versions/search?"+params.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("search model versions: %w", err)
		}
		all = append(all, resp.ModelVersions...)

		if resp.NextPageToken == "" {
			return all, nil
		}
		pageToken = resp.NextPageToken
	}
}

func (c *mlflowClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRegistryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		if apiErr.resourceState() {
			return apiErr
		}
		// Anything else, auth failures included, leaves the registry unusable.
		return fmt.Errorf("%w: %w", domain.ErrRegistryUnavailable, apiErr)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrRegistryUnavailable, err)
	}
	return nil
}

func toDomainVersion(mv modelVersion) (*domain.ModelVersion, error) {
	num, err := strconv.Atoi(mv.Version)
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", mv.Version, err)
	}
	stage, err := domain.ParseStage(mv.CurrentStage)
	if err != nil {
		stage = domain.StageNone
		if mv.CurrentStage != "" {
			return nil, err
		}
	}
	return &domain.ModelVersion{
		ModelName:     mv.Name,
		Version:       num,
		Stage:         stage,
		RunID:         mv.RunID,
		Source:        mv.Source,
		CreatedAt:     time.UnixMilli(mv.CreationTimestamp).UTC(),
		LastUpdatedAt: time.UnixMilli(mv.LastUpdatedTimestamp).UTC(),
	}, nil
}

func isNotFound(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode == errResourceDoesNotExist || apiErr.Status == http.StatusNotFound)
}

func escapeFilter(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

func containsStage(stages []domain.Stage, s domain.Stage) bool {
	for _, st := range stages {
		if st == s {
			return true
		}
	}
	return false
}
