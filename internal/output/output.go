// Package output renders scan results for human and machine
// consumption: an aligned table for terminals and indented JSON for
// pipelines. Filtering (open-only versus all classified states) happens
// here, never in the scan engine.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/portsweep/portsweep/internal/scan"
)

// Formats accepted by New.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Renderer writes scan results to a destination in one format.
type Renderer struct {
	out     io.Writer
	format  string
	showAll bool
}

// New creates a renderer. showAll includes Closed and Filtered ports;
// otherwise only Open ports are shown.
func New(out io.Writer, format string, showAll bool) (*Renderer, error) {
	switch format {
	case FormatTable, FormatJSON:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return &Renderer{out: out, format: format, showAll: showAll}, nil
}

// Render writes the run result in the configured format.
func (r *Renderer) Render(result *scan.RunResult) error {
	filtered := r.filter(result)
	if r.format == FormatJSON {
		return r.renderJSON(filtered)
	}
	return r.renderTable(filtered)
}

// filter drops non-open ports unless showAll is set. The input is not
// mutated; results are immutable once the engine emits them.
func (r *Renderer) filter(result *scan.RunResult) *scan.RunResult {
	if r.showAll {
		return result
	}

	out := *result
	out.Targets = make([]scan.TargetResult, 0, len(result.Targets))
	for _, tr := range result.Targets {
		kept := scan.TargetResult{Target: tr.Target}
		for _, pr := range tr.Results {
			if pr.State == scan.StateOpen {
				kept.Results = append(kept.Results, pr)
			}
		}
		out.Targets = append(out.Targets, kept)
	}
	return &out
}

func (r *Renderer) renderJSON(result *scan.RunResult) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func (r *Renderer) renderTable(result *scan.RunResult) error {
	table := tablewriter.NewWriter(r.out)
	table.Header("Host", "Port", "Proto", "State", "Service", "Version", "Confidence")

	rows := 0
	for _, tr := range result.Targets {
		for _, pr := range tr.Results {
			service, version, confidence := "", "", ""
			if pr.Service != nil {
				service = pr.Service.Service
				version = pr.Service.Version
				confidence = strconv.Itoa(pr.Service.Confidence)
			}
			if err := table.Append([]string{
				tr.Target.Host,
				strconv.Itoa(int(pr.Port)),
				pr.Protocol,
				string(pr.State),
				service,
				version,
				confidence,
			}); err != nil {
				return fmt.Errorf("failed to append result row: %w", err)
			}
			rows++
		}
	}

	if rows == 0 {
		_, err := fmt.Fprintln(r.out, "No matching ports.")
		return err
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render result table: %w", err)
	}

	_, err := fmt.Fprintf(r.out, "\nScanned %d target(s) in %s\n",
		len(result.Targets), result.Duration.Round(time.Millisecond))
	return err
}
