package scan

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/portsweep/portsweep/internal/logging"
	"github.com/portsweep/portsweep/internal/metrics"
	"github.com/portsweep/portsweep/internal/probedb"
)

// ScanTCP scans all ports of one target with a connect-then-classify
// probe. Every port is one unit of work; all units across all targets
// of a run share the same permit pool, so the pool, not this function,
// bounds global concurrency.
//
// State machine per port: Pending -> Connecting -> {Open, Closed,
// Filtered}. A successful connect is closed immediately; when service
// detection is enabled a fresh connection is opened for probing after
// the permit has been released.
func ScanTCP(ctx context.Context, target Target, ports []uint16,
	pool *PermitPool, db *probedb.Database, opts Options) TargetResult {
	results := make([]PortResult, len(ports))

	var wg sync.WaitGroup
	for i, port := range ports {
		wg.Add(1)
		go func(idx int, port uint16) {
			defer wg.Done()
			results[idx] = scanTCPPort(ctx, target, port, pool, db, opts)
		}(i, port)
	}
	wg.Wait()

	tr := TargetResult{Target: target, Results: results}
	tr.SortByPort()
	return tr
}

// scanTCPPort runs the full lifecycle for a single port: permit
// acquisition, the connect attempt, classification, and optional
// service detection.
func scanTCPPort(ctx context.Context, target Target, port uint16,
	pool *PermitPool, db *probedb.Database, opts Options) PortResult {
	result := PortResult{Port: port, Protocol: ProtocolTCP}

	state := attemptConnect(ctx, target, port, pool, opts.Timeout)
	result.State = state
	metrics.IncrementPortsScanned(ProtocolTCP, string(state))

	// Detection happens outside the permit scope; its failures never
	// demote an Open port.
	if state == StateOpen && opts.ServiceDetection && db != nil {
		result.Service = DetectService(ctx, target, port, db, opts)
	}

	return result
}

// attemptConnect performs one permit-gated connect attempt and maps
// the outcome to a terminal state. The permit is released as soon as
// the dial resolves, on every path.
func attemptConnect(ctx context.Context, target Target, port uint16,
	pool *PermitPool, timeout time.Duration) PortState {
	if err := pool.Acquire(ctx); err != nil {
		logging.Debug("Permit acquisition aborted",
			"target", target.Host, "port", port, "error", err)
		return StateFiltered
	}
	defer pool.Release()

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr(port))
	if err != nil {
		return classifyDialError(err)
	}

	// No data is exchanged during the base scan.
	_ = conn.Close()
	return StateOpen
}
