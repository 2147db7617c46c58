package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/portsweep/portsweep/internal/probedb"
	"github.com/portsweep/portsweep/internal/scan"
)

func sampleRun() *scan.RunResult {
	return &scan.RunResult{
		RunID:    "test-run",
		Started:  time.Now(),
		Duration: 1200 * time.Millisecond,
		Targets: []scan.TargetResult{
			{
				Target: scan.Target{Host: "example.test", IP: "192.0.2.5"},
				Results: []scan.PortResult{
					{Port: 22, Protocol: scan.ProtocolTCP, State: scan.StateOpen,
						Service: &probedb.ServiceInfo{
							Service: "ssh", Version: "2.0", Confidence: 90,
						}},
					{Port: 80, Protocol: scan.ProtocolTCP, State: scan.StateClosed},
					{Port: 443, Protocol: scan.ProtocolTCP, State: scan.StateFiltered},
				},
			},
		},
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "xml", false); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestRenderTableOpenOnly(t *testing.T) {
	var buf bytes.Buffer
	r, err := New(&buf, FormatTable, false)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Render(sampleRun()); err != nil {
		t.Fatalf("Render() failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "22") || !strings.Contains(out, "ssh") {
		t.Errorf("expected open port row, got:\n%s", out)
	}
	if strings.Contains(out, "closed") || strings.Contains(out, "filtered") {
		t.Errorf("closed/filtered rows should be hidden by default:\n%s", out)
	}
}

func TestRenderTableShowAll(t *testing.T) {
	var buf bytes.Buffer
	r, err := New(&buf, FormatTable, true)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Render(sampleRun()); err != nil {
		t.Fatalf("Render() failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"open", "closed", "filtered", "example.test"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRenderTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New(&buf, FormatTable, false)

	run := sampleRun()
	run.Targets[0].Results = run.Targets[0].Results[1:] // drop the open port

	if err := r.Render(run); err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No matching ports") {
		t.Errorf("expected empty notice, got:\n%s", buf.String())
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	r, err := New(&buf, FormatJSON, true)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Render(sampleRun()); err != nil {
		t.Fatalf("Render() failed: %v", err)
	}

	var decoded scan.RunResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.RunID != "test-run" {
		t.Errorf("unexpected run ID: %s", decoded.RunID)
	}
	if len(decoded.Targets[0].Results) != 3 {
		t.Errorf("expected 3 results with showAll, got %d", len(decoded.Targets[0].Results))
	}
}

func TestRenderJSONOpenOnlyFiltersStates(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New(&buf, FormatJSON, false)

	if err := r.Render(sampleRun()); err != nil {
		t.Fatal(err)
	}

	var decoded scan.RunResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Targets[0].Results) != 1 {
		t.Fatalf("expected only the open port, got %d results", len(decoded.Targets[0].Results))
	}
	if decoded.Targets[0].Results[0].State != scan.StateOpen {
		t.Errorf("unexpected state: %v", decoded.Targets[0].Results[0].State)
	}
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	r, _ := New(&bytes.Buffer{}, FormatJSON, false)

	run := sampleRun()
	_ = r.Render(run)

	if len(run.Targets[0].Results) != 3 {
		t.Errorf("input mutated: %d results remain", len(run.Targets[0].Results))
	}
}
