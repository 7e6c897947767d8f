package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Logger     LoggerConfig
	Registry   RegistryConfig
	MLflow     MLflowConfig
	Database   DatabaseConfig
	Serving    ServingConfig
	Lifecycle  LifecycleConfig
	Kubernetes KubernetesConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type LoggerConfig struct {
	Level  string
	Format string
}

// Registry backends
const (
	BackendMLflow   = "mlflow"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type RegistryConfig struct {
	Backend  string
	SeedFile string
}

type MLflowConfig struct {
	TrackingURI string
	Token       string
	Timeout     time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type ServingConfig struct {
	ModelPath string
	ModelName string
	Watch     bool
}

type LifecycleConfig struct {
	APIEnabled     bool
	AutoProduction bool
}

type KubernetesConfig struct {
	Enabled        bool
	InCluster      bool
	KubeConfigPath string
	Namespace      string
	ISVCName       string
}

func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom reads configuration from v, so callers can bind command-line
// flags onto the same keys before loading.
func LoadFrom(v *viper.Viper) (*Config, error) {
	// Defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 5000)
	v.SetDefault("LOGGER_LEVEL", "info")
	v.SetDefault("LOGGER_FORMAT", "json")
	v.SetDefault("REGISTRY_BACKEND", BackendMLflow)
	v.SetDefault("MLFLOW_TIMEOUT", "30s")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "model_registry")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("MODEL_NAME", "unknown-model")
	v.SetDefault("MODEL_WATCH", true)
	v.SetDefault("LIFECYCLE_API_ENABLED", false)
	v.SetDefault("LIFECYCLE_AUTO_PRODUCTION", false)
	v.SetDefault("KUBERNETES_ENABLED", false)
	v.SetDefault("KUBERNETES_NAMESPACE", "model-serving")

	// Env
	v.AutomaticEnv()

	mlflowTimeout, err := time.ParseDuration(v.GetString("MLFLOW_TIMEOUT"))
	if err != nil {
		mlflowTimeout = 30 * time.Second
	}
	connLifetime, err := time.ParseDuration(v.GetString("DB_CONN_MAX_LIFETIME"))
	if err != nil {
		connLifetime = 30 * time.Minute
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetInt("SERVER_PORT"),
		},
		Logger: LoggerConfig{
			Level:  v.GetString("LOGGER_LEVEL"),
			Format: v.GetString("LOGGER_FORMAT"),
		},
		Registry: RegistryConfig{
			Backend:  strings.ToLower(v.GetString("REGISTRY_BACKEND")),
			SeedFile: v.GetString("REGISTRY_SEED_FILE"),
		},
		MLflow: MLflowConfig{
			TrackingURI: strings.TrimRight(v.GetString("MLFLOW_TRACKING_URI"), "/"),
			Token:       v.GetString("MLFLOW_TRACKING_TOKEN"),
			Timeout:     mlflowTimeout,
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Name:            v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: connLifetime,
		},
		Serving: ServingConfig{
			ModelPath: v.GetString("MODEL_PATH"),
			ModelName: v.GetString("MODEL_NAME"),
			Watch:     v.GetBool("MODEL_WATCH"),
		},
		Lifecycle: LifecycleConfig{
			APIEnabled:     v.GetBool("LIFECYCLE_API_ENABLED"),
			AutoProduction: v.GetBool("LIFECYCLE_AUTO_PRODUCTION"),
		},
		Kubernetes: KubernetesConfig{
			Enabled:        v.GetBool("KUBERNETES_ENABLED"),
			InCluster:      v.GetBool("KUBERNETES_IN_CLUSTER"),
			KubeConfigPath: v.GetString("KUBERNETES_KUBECONFIG"),
			Namespace:      v.GetString("KUBERNETES_NAMESPACE"),
			ISVCName:       v.GetString("KUBERNETES_ISVC_NAME"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Registry.Backend {
	case BackendMLflow, BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown REGISTRY_BACKEND %q", c.Registry.Backend)
	}
	if c.Kubernetes.Enabled && c.Kubernetes.ISVCName == "" {
		return fmt.Errorf("KUBERNETES_ISVC_NAME is required when KUBERNETES_ENABLED is set")
	}
	return nil
}

// RequireRegistry checks the settings the selected backend needs. The serving
// gateway can run without a registry, so this is not part of Load.
func (c *Config) RequireRegistry() error {
	if c.Registry.Backend == BackendMLflow && c.MLflow.TrackingURI == "" {
		return fmt.Errorf("MLFLOW_TRACKING_URI is not set")
	}
	return nil
}
