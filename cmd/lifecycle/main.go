package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"model-lifecycle-service/internal/app"
	"model-lifecycle-service/internal/config"
	ports "model-lifecycle-service/internal/core/ports/output"
	"model-lifecycle-service/internal/core/services"
)

func main() {
	root := newRootCmd(viper.GetViper())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "lifecycle",
		Short: "Promote and roll back model versions in the model registry",
		Long: `lifecycle drives the model version state machine:
None -> Staging -> Production -> Archived.

A candidate run is registered, compared with the current Production version
on one metric, and staged only when it is strictly better. Production changes
archive the previous version and verify that exactly one Production version
remains. Rollback archives the live version and restores the one before it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("registry-backend", "", "registry backend: mlflow, postgres or memory (env REGISTRY_BACKEND)")
	pf.String("tracking-uri", "", "MLflow tracking URI (env MLFLOW_TRACKING_URI)")
	pf.String("seed-file", "", "YAML file backing the memory registry (env REGISTRY_SEED_FILE)")
	pf.String("log-level", "", "log level (env LOGGER_LEVEL)")
	pf.Bool("json", false, "output JSON")
	bindFlag(v, "REGISTRY_BACKEND", pf.Lookup("registry-backend"))
	bindFlag(v, "MLFLOW_TRACKING_URI", pf.Lookup("tracking-uri"))
	bindFlag(v, "REGISTRY_SEED_FILE", pf.Lookup("seed-file"))
	bindFlag(v, "LOGGER_LEVEL", pf.Lookup("log-level"))
	bindFlag(v, "json", pf.Lookup("json"))

	root.AddCommand(
		promoteCmd(v),
		promoteProductionCmd(v),
		rollbackCmd(v),
		versionsCmd(v),
		recordRunCmd(v),
	)
	return root
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	_ = v.BindPFlag(key, flag)
}

// env is what every command gets once the registry is open.
type env struct {
	cfg        *config.Config
	registry   ports.RegistryClient
	controller *services.LifecycleController
}

func withController(ctx context.Context, v *viper.Viper, fn func(context.Context, *env) error) (err error) {
	// Human-readable logs unless the caller asked for something else.
	if _, ok := os.LookupEnv("LOGGER_FORMAT"); !ok {
		v.Set("LOGGER_FORMAT", "text")
	}
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return err
	}
	app.InitLogger(cfg)

	reg, err := app.OpenRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reg.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close registry: %w", cerr)
		}
	}()

	return fn(ctx, &env{
		cfg:        cfg,
		registry:   reg.Client,
		controller: app.NewLifecycleController(cfg, reg.Client),
	})
}
