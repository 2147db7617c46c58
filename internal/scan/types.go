// Package scan implements the port scan engine: concurrency-bounded
// TCP connect scanning, sequential UDP probing, and optional service
// detection against a probe database. Results are joined per target
// after all port attempts complete; no completion order is guaranteed.
package scan

import (
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/portsweep/portsweep/internal/probedb"
)

// PortState is the terminal classification of a scanned port.
type PortState string

const (
	StateOpen     PortState = "open"
	StateClosed   PortState = "closed"
	StateFiltered PortState = "filtered"
)

// Protocol names for port results.
const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
)

// Target is a resolved scan destination. Host keeps the original
// user-supplied identifier for display; IP is what gets dialed.
type Target struct {
	Host string
	IP   string
}

// Addr returns the dialable address for a port on this target.
func (t Target) Addr(port uint16) string {
	return net.JoinHostPort(t.IP, strconv.Itoa(int(port)))
}

// PortResult is the immutable outcome of a single (target, port)
// attempt. Service is nil unless detection ran and matched.
type PortResult struct {
	Port     uint16               `json:"port"`
	Protocol string               `json:"protocol"`
	State    PortState            `json:"state"`
	Service  *probedb.ServiceInfo `json:"service,omitempty"`
}

// TargetResult aggregates all port results for one target.
type TargetResult struct {
	Target  Target       `json:"target"`
	Results []PortResult `json:"results"`
}

// SortByPort orders the results by port number for stable display.
// Classification itself never depends on this ordering.
func (tr *TargetResult) SortByPort() {
	sort.SliceStable(tr.Results, func(i, j int) bool {
		return tr.Results[i].Port < tr.Results[j].Port
	})
}

// OpenPorts returns the ports classified Open.
func (tr *TargetResult) OpenPorts() []uint16 {
	var open []uint16
	for _, r := range tr.Results {
		if r.State == StateOpen {
			open = append(open, r.Port)
		}
	}
	return open
}

// RunResult is the outcome of a whole scan run across all targets.
type RunResult struct {
	RunID    string         `json:"run_id"`
	Started  time.Time      `json:"started"`
	Duration time.Duration  `json:"duration"`
	Targets  []TargetResult `json:"targets"`
}

// Options carries the per-run tuning values consumed by the
// orchestrators. The zero value is not usable; build one from the
// configuration layer.
type Options struct {
	// Timeout bounds each connection or datagram attempt.
	Timeout time.Duration

	// Concurrency sizes the permit pool shared across all targets.
	Concurrency int

	// ServiceDetection enables probing of open TCP ports.
	ServiceDetection bool

	// DetectionTimeout bounds each service detection probe attempt.
	DetectionTimeout time.Duration

	// MaxRarity skips probes rarer than this value when positive.
	MaxRarity int
}
