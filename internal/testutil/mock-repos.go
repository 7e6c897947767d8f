package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"model-lifecycle-service/internal/core/domain"
	ports "model-lifecycle-service/internal/core/ports/output"
)

// MockRegistryClient is a mock of RegistryClient.
type MockRegistryClient struct {
	mock.Mock
}

var _ ports.RegistryClient = (*MockRegistryClient)(nil)

func (m *MockRegistryClient) GetVersions(ctx context.Context, modelName string, stages ...domain.Stage) ([]*domain.ModelVersion, error) {
	args := m.Called(ctx, modelName, stages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ModelVersion), args.Error(1)
}

func (m *MockRegistryClient) GetRun(ctx context.Context, runID string) (*domain.TrainingRun, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TrainingRun), args.Error(1)
}

func (m *MockRegistryClient) RegisterVersion(ctx context.Context, modelName, source, runID string) (*domain.ModelVersion, error) {
	args := m.Called(ctx, modelName, source, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ModelVersion), args.Error(1)
}

func (m *MockRegistryClient) TransitionStage(ctx context.Context, modelName string, version int, stage domain.Stage) (*domain.ModelVersion, error) {
	args := m.Called(ctx, modelName, version, stage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ModelVersion), args.Error(1)
}

// MockArtifactPublisher is a mock of ArtifactPublisher.
type MockArtifactPublisher struct {
	mock.Mock
}

var _ ports.ArtifactPublisher = (*MockArtifactPublisher)(nil)

func (m *MockArtifactPublisher) Publish(ctx context.Context, version *domain.ModelVersion) error {
	args := m.Called(ctx, version)
	return args.Error(0)
}

func (m *MockArtifactPublisher) IsAvailable() bool {
	args := m.Called()
	return args.Bool(0)
}

// StageArgs matches the variadic stage filter passed to GetVersions.
func StageArgs(stages ...domain.Stage) []domain.Stage {
	return stages
}
