package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"model-lifecycle-service/internal/adapters/primary/http/dto"
	"model-lifecycle-service/internal/core/domain"
)

type printer struct {
	out    io.Writer
	errOut io.Writer
	json   bool
}

func newPrinter(cmd *cobra.Command, v *viper.Viper) *printer {
	return &printer{
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		json:   v.GetBool("json"),
	}
}

// kv prints a machine-readable result line. In JSON mode the result is
// already part of the document.
func (p *printer) kv(key string, value interface{}) {
	if p.json {
		return
	}
	fmt.Fprintf(p.out, "%s=%v\n", key, value)
}

func (p *printer) printJSON(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) warn(anomalies ...*domain.InconsistentRegistryError) {
	for _, a := range anomalies {
		if a != nil {
			fmt.Fprintf(p.errOut, "WARNING: %v\n", a)
		}
	}
}

type summary struct {
	Before *dto.ListVersionsResponse `json:"before,omitempty"`
	Result interface{}               `json:"result,omitempty"`
	After  *dto.ListVersionsResponse `json:"after,omitempty"`
}

func listResponse(view *domain.VersionsView) *dto.ListVersionsResponse {
	if view == nil {
		return nil
	}
	resp := dto.ToListVersionsResponse(view)
	return &resp
}

func (p *printer) promotion(before *domain.VersionsView, result *domain.PromotionResult, after *domain.VersionsView, opErr error) error {
	if result != nil {
		p.warn(result.Anomalies...)
	}
	if p.json {
		resp := dto.ToPromotionResponse(result)
		if opErr != nil {
			resp.Error = opErr.Error()
		}
		return p.printJSON(summary{Before: listResponse(before), Result: resp, After: listResponse(after)})
	}

	p.section("Before", before)
	if result != nil {
		if d := result.Decision; d != nil {
			fmt.Fprintf(p.out, "Decision: %s\n", describeDecision(d))
		}
		p.saga(result.Saga)
	}
	p.section("After", after)
	return nil
}

func (p *printer) rollback(before *domain.VersionsView, result *domain.RollbackResult, after *domain.VersionsView, opErr error) error {
	if result != nil {
		p.warn(result.Anomalies...)
	}
	if p.json {
		resp := dto.ToRollbackResponse(result)
		if opErr != nil {
			resp.Error = opErr.Error()
		}
		return p.printJSON(summary{Before: listResponse(before), Result: resp, After: listResponse(after)})
	}

	p.section("Before", before)
	if result != nil {
		switch {
		case result.NoOp:
			fmt.Fprintln(p.out, "No Production version; nothing to roll back.")
		case result.Bad != nil && result.Target != nil:
			fmt.Fprintf(p.out, "Rollback: version %d -> version %d\n", result.Bad.Version, result.Target.Version)
		}
		p.saga(result.Saga)
	}
	p.section("After", after)
	return nil
}

func (p *printer) versions(view *domain.VersionsView) error {
	p.warn(view.Anomaly)
	if p.json {
		return p.printJSON(dto.ToListVersionsResponse(view))
	}
	p.versionTable(view)
	return nil
}

func (p *printer) section(title string, view *domain.VersionsView) {
	if view == nil {
		return
	}
	fmt.Fprintf(p.out, "%s:\n", title)
	p.versionTable(view)
}

func (p *printer) versionTable(view *domain.VersionsView) {
	if len(view.Versions) == 0 {
		fmt.Fprintf(p.out, "  (no versions of %s)\n", view.ModelName)
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(p.out)
	tw.AppendHeader(table.Row{"Version", "Stage", "Run ID", "Created", "Last Updated", "Source"})
	for _, v := range view.Versions {
		tw.AppendRow(table.Row{v.Version, v.Stage, v.RunID, formatTime(v.CreatedAt), formatTime(v.LastUpdatedAt), v.Source})
	}
	tw.Render()
}

func (p *printer) saga(s *domain.Saga) {
	if s == nil || len(s.Steps) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(p.out)
	tw.SetTitle(fmt.Sprintf("%s %s", s.Operation, s.ID))
	tw.AppendHeader(table.Row{"Step", "Version", "From", "To", "Result"})
	for _, st := range s.Steps {
		tw.AppendRow(table.Row{st.Name, st.Version, st.From, st.To, stepResult(st)})
	}
	tw.Render()
}

func stepResult(st *domain.TransitionStep) string {
	switch {
	case !st.Attempted:
		return "skipped"
	case st.Err != nil:
		return "failed: " + st.Err.Error()
	default:
		return "ok"
	}
}

func describeDecision(d *domain.PromotionDecision) string {
	verdict := "rejected"
	if d.Approved {
		verdict = "approved"
	}
	if d.IncumbentValue == nil {
		return fmt.Sprintf("%s (%s=%.4f; %s)", verdict, d.Metric, d.CandidateValue, d.Reason)
	}
	return fmt.Sprintf("%s (%s: candidate %.4f vs version %d %.4f, %s is better; %s)",
		verdict, d.Metric, d.CandidateValue, d.IncumbentVersion, *d.IncumbentValue, d.Direction, d.Reason)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
