package scan

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/portsweep/portsweep/internal/probedb"
)

func testOptions() Options {
	return Options{
		Timeout:          2 * time.Second,
		Concurrency:      16,
		DetectionTimeout: 2 * time.Second,
	}
}

// listenerPort starts a TCP listener on loopback and returns its port.
func listenerPort(t *testing.T, handler func(net.Conn)) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if handler != nil {
				go handler(conn)
			} else {
				_ = conn.Close()
			}
		}
	}()

	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

// unboundPort returns a loopback port with no listener.
func unboundPort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	_ = ln.Close()
	return port
}

func resultByPort(tr TargetResult, port uint16) (PortResult, bool) {
	for _, r := range tr.Results {
		if r.Port == port {
			return r, true
		}
	}
	return PortResult{}, false
}

func TestScanTCPClassification(t *testing.T) {
	open := listenerPort(t, nil)
	closedA := unboundPort(t)
	closedB := unboundPort(t)

	target := Target{Host: "localhost", IP: "127.0.0.1"}
	pool := NewPermitPool(8)
	defer pool.Close()

	tr := ScanTCP(context.Background(), target, []uint16{closedA, closedB, open},
		pool, nil, testOptions())

	if len(tr.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(tr.Results))
	}

	if r, ok := resultByPort(tr, open); !ok || r.State != StateOpen {
		t.Errorf("expected port %d Open, got %+v", open, r)
	}
	for _, port := range []uint16{closedA, closedB} {
		if r, ok := resultByPort(tr, port); !ok || r.State != StateClosed {
			t.Errorf("expected port %d Closed, got %+v", port, r)
		}
	}

	// No detection requested, so no service info anywhere.
	for _, r := range tr.Results {
		if r.Service != nil {
			t.Errorf("unexpected service info on port %d", r.Port)
		}
	}
}

const sshProbeFixture = `
Probe TCP NULL q||
match ssh m|^SSH-([\d.]+)-(\S+)| p/$2/ v/$1/
softmatch banner m|^\S+|
`

func sshTestDatabase(t *testing.T) *probedb.Database {
	t.Helper()
	db, err := probedb.Parse(strings.NewReader(sshProbeFixture))
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func TestScanTCPServiceDetection(t *testing.T) {
	banner := listenerPort(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte("SSH-2.0-TestServer\r\n"))
		_ = conn.Close()
	})
	closed := unboundPort(t)

	target := Target{Host: "localhost", IP: "127.0.0.1"}
	pool := NewPermitPool(8)
	defer pool.Close()

	opts := testOptions()
	opts.ServiceDetection = true

	tr := ScanTCP(context.Background(), target, []uint16{closed, banner},
		pool, sshTestDatabase(t), opts)

	r, ok := resultByPort(tr, banner)
	if !ok || r.State != StateOpen {
		t.Fatalf("expected port %d Open, got %+v", banner, r)
	}
	if r.Service == nil {
		t.Fatal("expected service info on open port")
	}
	if r.Service.Service != "ssh" {
		t.Errorf("expected service ssh, got %q", r.Service.Service)
	}
	if r.Service.Version != "2.0" {
		t.Errorf("expected version 2.0, got %q", r.Service.Version)
	}
	if r.Service.Product != "TestServer" {
		t.Errorf("expected product TestServer, got %q", r.Service.Product)
	}
	if r.Service.Confidence != probedb.HardMatchConfidence {
		t.Errorf("expected confidence %d, got %d",
			probedb.HardMatchConfidence, r.Service.Confidence)
	}

	// Detection failures never touch closed ports.
	if cr, _ := resultByPort(tr, closed); cr.Service != nil {
		t.Error("closed port should carry no service info")
	}
}

func TestScanTCPIdempotence(t *testing.T) {
	open := listenerPort(t, nil)
	closed := unboundPort(t)

	target := Target{Host: "localhost", IP: "127.0.0.1"}
	ports := []uint16{closed, open}

	run := func() TargetResult {
		pool := NewPermitPool(4)
		defer pool.Close()
		return ScanTCP(context.Background(), target, ports, pool, nil, testOptions())
	}

	first := run()
	second := run()

	if len(first.Results) != len(second.Results) {
		t.Fatalf("result count differs: %d vs %d", len(first.Results), len(second.Results))
	}
	for i := range first.Results {
		if first.Results[i] != second.Results[i] {
			t.Errorf("result %d differs: %+v vs %+v",
				i, first.Results[i], second.Results[i])
		}
	}
}

func TestScanTCPDuplicatePortsScanTwice(t *testing.T) {
	open := listenerPort(t, nil)

	target := Target{Host: "localhost", IP: "127.0.0.1"}
	pool := NewPermitPool(4)
	defer pool.Close()

	tr := ScanTCP(context.Background(), target, []uint16{open, open}, pool, nil, testOptions())
	if len(tr.Results) != 2 {
		t.Fatalf("duplicate ports should produce duplicate attempts, got %d results", len(tr.Results))
	}
	for _, r := range tr.Results {
		if r.State != StateOpen {
			t.Errorf("expected Open for port %d, got %v", r.Port, r.State)
		}
	}
}

func TestDetectServiceFallsBackSilently(t *testing.T) {
	// Listener that accepts and stays silent; the NULL probe read times
	// out and detection degrades to nil without error.
	silent := listenerPort(t, func(conn net.Conn) {
		time.Sleep(5 * time.Second)
		_ = conn.Close()
	})

	target := Target{Host: "localhost", IP: "127.0.0.1"}
	opts := testOptions()
	opts.DetectionTimeout = 200 * time.Millisecond

	svc := DetectService(context.Background(), target, silent, sshTestDatabase(t), opts)
	if svc != nil {
		t.Errorf("expected nil service for silent listener, got %+v", svc)
	}
}

func TestDetectServiceGenericFallback(t *testing.T) {
	// No probe's port spec covers the ephemeral test port, so detection
	// falls back to the generic probes after the NULL banner read fails.
	const fixture = `
Probe TCP NULL q||
Probe TCP GetRequest q|PING\r\n|
ports 80
match echo m|^PONG| p/EchoServer/
`
	db, err := probedb.Parse(strings.NewReader(fixture))
	if err != nil {
		t.Fatal(err)
	}

	echo := listenerPort(t, func(conn net.Conn) {
		buf := make([]byte, 64)
		if _, err := conn.Read(buf); err == nil {
			_, _ = conn.Write([]byte("PONG\n"))
		}
		_ = conn.Close()
	})

	target := Target{Host: "localhost", IP: "127.0.0.1"}
	opts := testOptions()
	opts.ServiceDetection = true
	opts.DetectionTimeout = 500 * time.Millisecond

	svc := DetectService(context.Background(), target, echo, db, opts)
	if svc == nil {
		t.Fatal("expected fallback probe to identify the service")
	}
	if svc.Service != "echo" {
		t.Errorf("expected service echo, got %q", svc.Service)
	}
	if svc.Product != "EchoServer" {
		t.Errorf("expected product EchoServer, got %q", svc.Product)
	}
}

func TestTargetAddr(t *testing.T) {
	tests := []struct {
		ip   string
		port uint16
		want string
	}{
		{"127.0.0.1", 80, "127.0.0.1:80"},
		{"::1", 443, "[::1]:443"},
	}
	for _, tt := range tests {
		target := Target{Host: tt.ip, IP: tt.ip}
		if got := target.Addr(tt.port); got != tt.want {
			t.Errorf("Addr(%s, %d) = %s, want %s", tt.ip, tt.port, got, tt.want)
		}
	}
}

func TestTargetResultHelpers(t *testing.T) {
	tr := TargetResult{
		Target: Target{Host: "h", IP: "127.0.0.1"},
		Results: []PortResult{
			{Port: 443, Protocol: ProtocolTCP, State: StateOpen},
			{Port: 22, Protocol: ProtocolTCP, State: StateOpen},
			{Port: 80, Protocol: ProtocolTCP, State: StateClosed},
		},
	}
	tr.SortByPort()

	if tr.Results[0].Port != 22 || tr.Results[2].Port != 443 {
		t.Errorf("unexpected sort order: %+v", tr.Results)
	}

	open := tr.OpenPorts()
	if len(open) != 2 || open[0] != 22 || open[1] != 443 {
		t.Errorf("unexpected open ports: %v", open)
	}
}

func TestScanTCPHonorsPoolOfOne(t *testing.T) {
	// A pool of one still completes a multi-port scan.
	open := listenerPort(t, nil)
	ports := make([]uint16, 0, 5)
	for i := 0; i < 4; i++ {
		ports = append(ports, unboundPort(t))
	}
	ports = append(ports, open)

	target := Target{Host: "localhost", IP: "127.0.0.1"}
	pool := NewPermitPool(1)
	defer pool.Close()

	tr := ScanTCP(context.Background(), target, ports, pool, nil, testOptions())
	if len(tr.Results) != len(ports) {
		t.Fatalf("expected %d results, got %d", len(ports), len(tr.Results))
	}
	if r, ok := resultByPort(tr, open); !ok || r.State != StateOpen {
		t.Errorf("expected port %d Open under pool of one", open)
	}
	if pool.InUse() != 0 {
		t.Errorf("permits leaked: %d still in use", pool.InUse())
	}
}
