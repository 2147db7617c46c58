package scan

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/zmap/zcrypto/tls"

	"github.com/portsweep/portsweep/internal/logging"
	"github.com/portsweep/portsweep/internal/metrics"
	"github.com/portsweep/portsweep/internal/probedb"
)

const detectReadBufferSize = 4096

// DetectService identifies the service behind an open TCP port by
// sending probes from the database and matching the responses. Every
// probe attempt uses a fresh connection, decoupled from the connection
// that classified the port Open. All probe failures are silent: the
// worst outcome is a nil result, never an error.
//
// The NULL probe (a pure banner read) is always tried first regardless
// of port. After that, probes whose port specs cover this port run in
// file order; the first match, hard or soft, wins and stops all
// further probing.
func DetectService(ctx context.Context, target Target, port uint16,
	db *probedb.Database, opts Options) *probedb.ServiceInfo {
	for _, probe := range db.ProbesNamed(probedb.ProtocolTCP, "NULL") {
		if svc := tryProbe(ctx, target, port, probe, opts); svc != nil {
			return svc
		}
	}

	for _, probe := range db.RelevantProbes(probedb.ProtocolTCP, port) {
		if probe.Name == "NULL" {
			continue
		}
		if opts.MaxRarity > 0 && probe.Rarity > opts.MaxRarity {
			continue
		}
		if svc := tryProbe(ctx, target, port, probe, opts); svc != nil {
			return svc
		}
	}

	return nil
}

func tryProbe(ctx context.Context, target Target, port uint16,
	probe *probedb.Probe, opts Options) *probedb.ServiceInfo {
	start := time.Now()
	response, err := exchangeProbe(ctx, target, port, probe, opts.DetectionTimeout)
	metrics.RecordProbeDuration(probe.Name, time.Since(start))

	if err != nil {
		metrics.IncrementProbeFailures(probe.Name, "exchange")
		logging.WarnProbe("Probe attempt failed", err,
			"probe", probe.Name, "target", target.Host, "port", port)
		return nil
	}

	svc := probedb.EvaluateMatches(response, probe.Matches, probe.SoftMatches)
	if svc != nil {
		metrics.IncrementProbeMatches(probe.Name, svc.Service)
		logging.InfoProbe("Service identified",
			"probe", probe.Name, "target", target.Host, "port", port,
			"service", svc.Service, "confidence", svc.Confidence)
	}
	return svc
}

// exchangeProbe opens a connection, optionally wraps it in TLS when
// the probe's sslports cover this port, writes the payload if any, and
// reads a single response buffer under the probe deadline.
func exchangeProbe(ctx context.Context, target Target, port uint16,
	probe *probedb.Probe, timeout time.Duration) ([]byte, error) {
	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", target.Addr(port))
	if err != nil {
		return nil, err
	}

	var conn net.Conn = raw
	if probe.SSLPortApplies(port) {
		tlsConn := tls.Client(raw, &tls.Config{InsecureSkipVerify: true})
		if err := tlsConn.Handshake(); err != nil {
			_ = raw.Close()
			return nil, err
		}
		conn = tlsConn
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	if len(probe.Payload) > 0 {
		if _, err := conn.Write(probe.Payload); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, detectReadBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("empty response")
	}
	return buf[:n], nil
}
