package scan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portsweep/portsweep/internal/errors"
	"github.com/portsweep/portsweep/internal/logging"
	"github.com/portsweep/portsweep/internal/metrics"
	"github.com/portsweep/portsweep/internal/portspec"
	"github.com/portsweep/portsweep/internal/probedb"
)

// Config describes one scan run.
type Config struct {
	// Targets are user-supplied hostnames or IP literals.
	Targets []string

	// PortSpec is the textual port specification; malformed tokens are
	// dropped during parsing, and an empty expansion means nothing to
	// scan rather than an error.
	PortSpec string

	// TCP and UDP select the orchestrators to run.
	TCP bool
	UDP bool

	// ProbeFile locates the probe database used for service detection.
	ProbeFile string

	// Options carries the per-run tuning values.
	Options Options
}

// Scanner is the composition root of a scan run. It owns the parsed
// probe database and dispatches to the TCP and UDP orchestrators.
type Scanner struct {
	cfg Config
	db  *probedb.Database
}

// NewScanner builds a scanner for the given configuration. A probe
// database that fails to load is a recoverable condition: the run
// proceeds with service detection disabled.
func NewScanner(cfg Config) *Scanner {
	s := &Scanner{cfg: cfg}

	if cfg.Options.ServiceDetection {
		db, err := probedb.Load(cfg.ProbeFile)
		if err != nil {
			derr := errors.WrapDetectionError(errors.CodeProbeLoad,
				"probe database unavailable", err)
			logging.Warn("Failed to load probe database, continuing without service detection",
				"path", cfg.ProbeFile, "code", string(errors.GetCode(derr)), "error", derr)
			s.cfg.Options.ServiceDetection = false
		} else {
			s.db = db
			logging.Info("Probe database loaded",
				"path", cfg.ProbeFile, "probes", len(db.Probes))
		}
	}

	return s
}

// Database exposes the loaded probe database, nil when detection is
// disabled or the load failed.
func (s *Scanner) Database() *probedb.Database {
	return s.db
}

// Run executes the scan against every configured target and joins the
// per-target results. Resolution failure for any target aborts the
// whole run before any port is touched.
func (s *Scanner) Run(ctx context.Context) (*RunResult, error) {
	runID := uuid.New().String()
	started := time.Now()
	scanType := s.scanType()

	ports := portspec.Parse(s.cfg.PortSpec)
	logging.Info("Starting scan run",
		"run_id", runID,
		"scan_type", scanType,
		"targets", len(s.cfg.Targets),
		"ports", len(ports))

	defer func() {
		metrics.RecordScanDuration(scanType, "all", time.Since(started))
	}()

	if len(ports) == 0 {
		logging.Warn("Port specification yielded nothing to scan", "spec", s.cfg.PortSpec)
		return &RunResult{RunID: runID, Started: started}, nil
	}

	targets, err := ResolveAll(ctx, s.cfg.Targets)
	if err != nil {
		metrics.IncrementScanTotal(scanType, "error")
		logging.Error("Target resolution failed, aborting run", "run_id", runID, "error", err)
		return nil, err
	}

	pool := NewPermitPool(s.cfg.Options.Concurrency)
	defer pool.Close()

	// Fan out per target; the permit pool is the only shared budget.
	results := make([]TargetResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(idx int, target Target) {
			defer wg.Done()
			results[idx] = s.scanTarget(ctx, target, ports, pool)
		}(i, target)
	}
	wg.Wait()

	duration := time.Since(started)
	metrics.IncrementScanTotal(scanType, "success")
	logging.Info("Scan run completed",
		"run_id", runID,
		"duration", duration,
		"targets", len(results))

	return &RunResult{
		RunID:    runID,
		Started:  started,
		Duration: duration,
		Targets:  results,
	}, nil
}

func (s *Scanner) scanTarget(ctx context.Context, target Target,
	ports []uint16, pool *PermitPool) TargetResult {
	tr := TargetResult{Target: target}

	if s.cfg.TCP {
		tr = ScanTCP(ctx, target, ports, pool, s.db, s.cfg.Options)
	}
	if s.cfg.UDP {
		udp := ScanUDP(ctx, target, ports, s.cfg.Options)
		tr.Results = append(tr.Results, udp.Results...)
	}

	return tr
}

func (s *Scanner) scanType() string {
	switch {
	case s.cfg.TCP && s.cfg.UDP:
		return "tcp+udp"
	case s.cfg.UDP:
		return ProtocolUDP
	default:
		return ProtocolTCP
	}
}
