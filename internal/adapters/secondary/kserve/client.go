package kserve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"model-lifecycle-service/internal/config"
	"model-lifecycle-service/internal/core/domain"
	ports "model-lifecycle-service/internal/core/ports/output"
)

var inferenceServiceGVR = schema.GroupVersionResource{
	Group:    "serving.kserve.io",
	Version:  "v1beta1",
	Resource: "inferenceservices",
}

const (
	labelModelName    = "model-lifecycle/model-name"
	labelModelVersion = "model-lifecycle/model-version"
	labelRunID        = "model-lifecycle/run-id"
)

// ErrUnresolvableSource is returned for artifact URIs that only the MLflow
// tracking server understands, such as runs:/<id>/model.
var ErrUnresolvableSource = errors.New("artifact source cannot be resolved by KServe")

var registryOnlySchemes = []string{"runs:", "models:"}

type publisher struct {
	client    dynamic.Interface
	enabled   bool
	namespace string
	name      string
}

// NewPublisher creates an ArtifactPublisher that points a KServe
// InferenceService at the Production artifact.
func NewPublisher(cfg *config.KubernetesConfig) (ports.ArtifactPublisher, error) {
	if !cfg.Enabled {
		return &publisher{enabled: false}, nil
	}

	var restCfg *rest.Config
	var err error

	if cfg.InCluster {
		restCfg, err = rest.InClusterConfig()
	} else if cfg.KubeConfigPath != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.KubeConfigPath)
	} else {
		// Try default kubeconfig location
		home, _ := os.UserHomeDir()
		kubeconfig := filepath.Join(home, ".kube", "config")
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("build k8s config: %w", err)
	}

	client, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create dynamic client: %w", err)
	}

	return newPublisher(client, cfg), nil
}

func newPublisher(client dynamic.Interface, cfg *config.KubernetesConfig) *publisher {
	ns := cfg.Namespace
	if ns == "" {
		ns = "model-serving"
	}
	return &publisher{
		client:    client,
		enabled:   true,
		namespace: ns,
		name:      cfg.ISVCName,
	}
}

func (p *publisher) IsAvailable() bool {
	return p.enabled
}

// Publish sets spec.predictor.model.storageUri on the InferenceService,
// creating the resource when it does not exist yet.
func (p *publisher) Publish(ctx context.Context, version *domain.ModelVersion) error {
	if !p.enabled {
		return nil
	}
	if err := checkStorageURI(version.Source); err != nil {
		return err
	}
	name := p.name
	if name == "" {
		name = version.ModelName
	}
	res := p.client.Resource(inferenceServiceGVR).Namespace(p.namespace)

	existing, err := res.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := res.Create(ctx, buildInferenceService(name, version), metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("create kserve inferenceservice: %w", err)
		}
		log.WithFields(log.Fields{"isvc": name, "version": version.Version}).Info("Created inference service")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get kserve inferenceservice: %w", err)
	}

	if err := unstructured.SetNestedField(existing.Object, version.Source, "spec", "predictor", "model", "storageUri"); err != nil {
		return fmt.Errorf("set storageUri: %w", err)
	}
	labels := existing.GetLabels()
	if labels == nil {
		labels = map[string]string{}
	}
	for k, v := range versionLabels(version) {
		labels[k] = v
	}
	existing.SetLabels(labels)

	if _, err := res.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update kserve inferenceservice: %w", err)
	}
	log.WithFields(log.Fields{
		"isvc":        name,
		"version":     version.Version,
		"storage_uri": version.Source,
	}).Info("Updated inference service")
	return nil
}

func versionLabels(version *domain.ModelVersion) map[string]string {
	return map[string]string{
		labelModelName:    version.ModelName,
		labelModelVersion: strconv.Itoa(version.Version),
		labelRunID:        version.RunID,
	}
}

func buildInferenceService(name string, version *domain.ModelVersion) *unstructured.Unstructured {
	labels := map[string]interface{}{}
	for k, v := range versionLabels(version) {
		labels[k] = v
	}

	return &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": "serving.kserve.io/v1beta1",
			"kind":       "InferenceService",
			"metadata": map[string]interface{}{
				"name":   name,
				"labels": labels,
			},
			"spec": map[string]interface{}{
				"predictor": map[string]interface{}{
					"model": map[string]interface{}{
						"modelFormat": map[string]interface{}{"name": "mlflow"},
						"storageUri":  version.Source,
					},
				},
			},
		},
	}
}

// Ensure interface compliance
var _ ports.ArtifactPublisher = (*publisher)(nil)

func checkStorageURI(source string) error {
	if source == "" {
		return fmt.Errorf("%w: empty source", ErrUnresolvableSource)
	}
	for _, scheme := range registryOnlySchemes {
		if strings.HasPrefix(source, scheme) {
			return fmt.Errorf("%w: %s", ErrUnresolvableSource, source)
		}
	}
	return nil
}
