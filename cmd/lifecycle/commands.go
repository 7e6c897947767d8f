package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"model-lifecycle-service/internal/core/domain"
	ports "model-lifecycle-service/internal/core/ports/output"
	"model-lifecycle-service/internal/core/services"
)

func promoteCmd(v *viper.Viper) *cobra.Command {
	var req services.PromoteRequest
	var minimize bool
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Evaluate a training run against Production and stage it if it wins",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Direction = domain.DirectionHigher
			if minimize {
				req.Direction = domain.DirectionLower
			}
			return withController(cmd.Context(), v, func(ctx context.Context, e *env) error {
				if !cmd.Flags().Changed("auto-production") {
					req.AutoProduction = e.cfg.Lifecycle.AutoProduction
				}
				p := newPrinter(cmd, v)

				before, err := e.controller.ListVersions(ctx, req.ModelName)
				if err != nil {
					return err
				}
				result, opErr := e.controller.PromoteCandidate(ctx, req)
				after := listAfter(ctx, e, req.ModelName)

				if err := p.promotion(before, result, after, opErr); err != nil {
					return err
				}
				if opErr != nil {
					return opErr
				}
				p.kv("new_version", result.Version.Version)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "training run to evaluate")
	cmd.Flags().StringVar(&req.ModelName, "model-name", "", "registered model name")
	cmd.Flags().StringVar(&req.Metric, "metric", domain.DefaultMetric, "comparison metric")
	cmd.Flags().BoolVar(&minimize, "minimize", false, "lower metric values are better")
	cmd.Flags().BoolVar(&req.AutoProduction, "auto-production", false, "move an approved candidate straight to Production (env LIFECYCLE_AUTO_PRODUCTION)")
	_ = cmd.MarkFlagRequired("run-id")
	_ = cmd.MarkFlagRequired("model-name")
	return cmd
}

func promoteProductionCmd(v *viper.Viper) *cobra.Command {
	var modelName string
	var version int
	cmd := &cobra.Command{
		Use:   "promote-production",
		Short: "Move a Staging version to Production and archive the previous one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), v, func(ctx context.Context, e *env) error {
				p := newPrinter(cmd, v)

				before, err := e.controller.ListVersions(ctx, modelName)
				if err != nil {
					return err
				}
				result, opErr := e.controller.PromoteStagingToProduction(ctx, modelName, version)
				after := listAfter(ctx, e, modelName)

				if err := p.promotion(before, result, after, opErr); err != nil {
					return err
				}
				if opErr != nil {
					return opErr
				}
				p.kv("production_version", result.Production.Version)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&modelName, "model-name", "", "registered model name")
	cmd.Flags().IntVar(&version, "version", 0, "Staging version to promote")
	_ = cmd.MarkFlagRequired("model-name")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func rollbackCmd(v *viper.Viper) *cobra.Command {
	var modelName string
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Archive the Production version and restore the one before it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), v, func(ctx context.Context, e *env) error {
				p := newPrinter(cmd, v)

				before, err := e.controller.ListVersions(ctx, modelName)
				if err != nil {
					return err
				}
				result, opErr := e.controller.RollbackProduction(ctx, modelName)
				after := listAfter(ctx, e, modelName)

				if err := p.rollback(before, result, after, opErr); err != nil {
					return err
				}
				if opErr != nil {
					return opErr
				}
				if !result.NoOp {
					p.kv("restored_version", result.Target.Version)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&modelName, "model-name", "", "registered model name")
	_ = cmd.MarkFlagRequired("model-name")
	return cmd
}

func versionsCmd(v *viper.Viper) *cobra.Command {
	var modelName string
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List versions of a model, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), v, func(ctx context.Context, e *env) error {
				view, err := e.controller.ListVersions(ctx, modelName)
				if err != nil {
					return err
				}
				return newPrinter(cmd, v).versions(view)
			})
		},
	}
	cmd.Flags().StringVar(&modelName, "model-name", "", "registered model name")
	_ = cmd.MarkFlagRequired("model-name")
	return cmd
}

func recordRunCmd(v *viper.Viper) *cobra.Command {
	var run domain.TrainingRun
	var metrics []string
	cmd := &cobra.Command{
		Use:   "record-run",
		Short: "Store a training run's metrics in a postgres or memory registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseMetrics(metrics)
			if err != nil {
				return err
			}
			run.Metrics = parsed
			if run.ModelURI == "" {
				run.ModelURI = domain.DefaultModelURI(run.RunID)
			}
			return withController(cmd.Context(), v, func(ctx context.Context, e *env) error {
				recorder, ok := e.registry.(ports.RunRecorder)
				if !ok {
					return fmt.Errorf("registry backend %q reads runs from the tracking server and cannot record them", e.cfg.Registry.Backend)
				}
				if err := recorder.RecordRun(ctx, &run); err != nil {
					return err
				}
				log.WithFields(log.Fields{"run_id": run.RunID, "metrics": len(run.Metrics)}).Info("training run recorded")
				newPrinter(cmd, v).kv("run_id", run.RunID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&run.RunID, "run-id", "", "training run id")
	cmd.Flags().StringVar(&run.ModelURI, "model-uri", "", "artifact URI (default runs:/<run-id>/model)")
	cmd.Flags().StringArrayVar(&metrics, "metric", nil, "metric as name=value, repeatable")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

func parseMetrics(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("metric %q: want name=value", pair)
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", pair, err)
		}
		out[name] = val
	}
	return out, nil
}

// listAfter reads the post-operation state for the summary. A failure here
// does not change the outcome of the operation itself.
func listAfter(ctx context.Context, e *env, modelName string) *domain.VersionsView {
	view, err := e.controller.ListVersions(ctx, modelName)
	if err != nil {
		log.WithError(err).Warn("could not read registry state after the operation")
		return nil
	}
	return view
}
