package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func scannerConfig(portSpec string) Config {
	return Config{
		Targets:  []string{"127.0.0.1"},
		PortSpec: portSpec,
		TCP:      true,
		Options: Options{
			Timeout:          2 * time.Second,
			Concurrency:      8,
			DetectionTimeout: 2 * time.Second,
		},
	}
}

func TestScannerRun(t *testing.T) {
	open := listenerPort(t, nil)
	closed := unboundPort(t)

	cfg := scannerConfig(fmt.Sprintf("%d,%d", closed, open))
	scanner := NewScanner(cfg)

	result, err := scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.RunID == "" {
		t.Error("expected a run ID")
	}
	if result.Duration <= 0 {
		t.Error("expected positive duration")
	}
	if len(result.Targets) != 1 {
		t.Fatalf("expected 1 target result, got %d", len(result.Targets))
	}

	tr := result.Targets[0]
	if tr.Target.IP != "127.0.0.1" {
		t.Errorf("unexpected target IP: %s", tr.Target.IP)
	}
	if r, ok := resultByPort(tr, open); !ok || r.State != StateOpen {
		t.Errorf("expected port %d Open, got %+v", open, r)
	}
	if r, ok := resultByPort(tr, closed); !ok || r.State != StateClosed {
		t.Errorf("expected port %d Closed, got %+v", closed, r)
	}
}

func TestScannerRunEmptyPortSpec(t *testing.T) {
	tests := []string{"", "abc", "70-65"}
	for _, spec := range tests {
		t.Run(fmt.Sprintf("spec %q", spec), func(t *testing.T) {
			scanner := NewScanner(scannerConfig(spec))
			result, err := scanner.Run(context.Background())
			if err != nil {
				t.Fatalf("empty expansion must not error: %v", err)
			}
			if len(result.Targets) != 0 {
				t.Errorf("expected no target results, got %d", len(result.Targets))
			}
		})
	}
}

func TestScannerRunResolutionFailureAborts(t *testing.T) {
	open := listenerPort(t, nil)

	cfg := scannerConfig(fmt.Sprintf("%d", open))
	cfg.Targets = []string{"127.0.0.1", "portsweep-missing.invalid"}
	scanner := NewScanner(cfg)

	result, err := scanner.Run(context.Background())
	if err == nil {
		t.Fatal("expected whole-run abort on resolution failure")
	}
	if result != nil {
		t.Error("expected nil result on abort")
	}
}

func TestNewScannerProbeFileMissing(t *testing.T) {
	cfg := scannerConfig("80")
	cfg.ProbeFile = filepath.Join(t.TempDir(), "absent-probes")
	cfg.Options.ServiceDetection = true

	scanner := NewScanner(cfg)
	if scanner.Database() != nil {
		t.Error("expected nil database for missing probe file")
	}

	// The run itself still works, just without detection.
	open := listenerPort(t, nil)
	scanner = NewScanner(Config{
		Targets:   []string{"127.0.0.1"},
		PortSpec:  fmt.Sprintf("%d", open),
		TCP:       true,
		ProbeFile: cfg.ProbeFile,
		Options:   cfg.Options,
	})
	result, err := scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if r, ok := resultByPort(result.Targets[0], open); !ok || r.State != StateOpen {
		t.Errorf("expected port %d Open, got %+v", open, r)
	}
	if result.Targets[0].Results[0].Service != nil {
		t.Error("expected no service info without a probe database")
	}
}

func TestNewScannerProbeFileLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probes")
	if err := os.WriteFile(path, []byte(sshProbeFixture), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := scannerConfig("22")
	cfg.ProbeFile = path
	cfg.Options.ServiceDetection = true

	scanner := NewScanner(cfg)
	db := scanner.Database()
	if db == nil {
		t.Fatal("expected probe database to load")
	}
	if len(db.Probes) != 1 {
		t.Errorf("expected 1 probe, got %d", len(db.Probes))
	}
}

func TestScannerRunBothProtocols(t *testing.T) {
	udpPort := udpResponderPort(t, []byte("hello"))

	cfg := scannerConfig(fmt.Sprintf("%d", udpPort))
	cfg.UDP = true
	cfg.Options.Timeout = time.Second
	scanner := NewScanner(cfg)

	result, err := scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	tr := result.Targets[0]
	var sawTCP, sawUDP bool
	for _, r := range tr.Results {
		switch r.Protocol {
		case ProtocolTCP:
			sawTCP = true
		case ProtocolUDP:
			sawUDP = true
			if r.State != StateOpen {
				t.Errorf("expected UDP responder Open, got %v", r.State)
			}
		}
	}
	if !sawTCP || !sawUDP {
		t.Errorf("expected results for both protocols, tcp=%v udp=%v", sawTCP, sawUDP)
	}
}
