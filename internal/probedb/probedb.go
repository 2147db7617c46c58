// Package probedb loads and queries an nmap-style service probe
// database. It parses the semi-structured probes grammar into an
// immutable in-memory model and evaluates match rules against raw
// service responses. The package performs file I/O only when loading;
// everything else is pure and safe to share across scan tasks.
package probedb

import (
	"regexp"
	"strconv"
	"strings"
)

// Protocol names as they appear in the probes file.
const (
	ProtocolTCP = "TCP"
	ProtocolUDP = "UDP"
)

// Confidence policy constants. A hard match is trusted more than a soft
// match regardless of match quality.
const (
	HardMatchConfidence = 90
	SoftMatchConfidence = 50
)

// Database is the parsed probe file. It is built once at startup and
// treated as read-only for the rest of the run.
type Database struct {
	// Excludes holds raw Exclude directives. They are recorded but not
	// enforced by the scan engine.
	Excludes []string
	// Probes holds all probes in file order.
	Probes []Probe
}

// Probe is a single named probe definition with its match rules.
type Probe struct {
	Protocol  string
	Name      string
	// Payload is the fully decoded byte sequence to send. Escape
	// sequences are resolved at parse time, never at send time.
	Payload   []byte
	NoPayload bool

	// Matches and SoftMatches keep file order; the first matching rule
	// wins.
	Matches     []Match
	SoftMatches []Match

	// Ports and SSLPorts hold raw spec strings for substring matching
	// against a concrete port, not pre-expanded lists.
	Ports    []string
	SSLPorts []string

	// TotalWaitMS, TCPWrappedMS and Rarity are zero when the directive
	// was absent or unparsable.
	TotalWaitMS  int
	TCPWrappedMS int
	Rarity       int

	// Fallback names another probe whose matches apply when this one
	// finds nothing.
	Fallback string
}

// Match is a single match or softmatch rule.
type Match struct {
	Service string
	// Pattern is the raw regex source from the probes file.
	Pattern string
	// VersionInfo maps field tags (p, v, i, h, o, d, cpe) to template
	// strings with $N capture placeholders.
	VersionInfo map[string]string

	// re is nil when the pattern does not compile as a Go regex; such
	// rules never match but keep their slot so rule order is stable.
	re *regexp.Regexp
}

// ServiceInfo is the structured identification extracted from a matched
// response. Empty string fields mean the probe file did not provide
// that field.
type ServiceInfo struct {
	Service    string
	Version    string
	Product    string
	ExtraInfo  string
	Hostname   string
	OSInfo     string
	DeviceType string
	CPE        string
	Confidence int
}

// ProbesNamed returns all probes with the given protocol and name, in
// file order.
func (d *Database) ProbesNamed(protocol, name string) []*Probe {
	var found []*Probe
	for i := range d.Probes {
		if d.Probes[i].Protocol == protocol && d.Probes[i].Name == name {
			found = append(found, &d.Probes[i])
		}
	}
	return found
}

// RelevantProbes selects the probes applicable to a port: the protocol
// must match and one of the probe's port specs must contain the port's
// decimal string or a "T:<port>" token as a substring. When nothing
// qualifies, the GetRequest and GenericLines probes act as a generic
// fallback set.
func (d *Database) RelevantProbes(protocol string, port uint16) []*Probe {
	portStr := strconv.Itoa(int(port))
	prefixed := "T:" + portStr

	var relevant []*Probe
	for i := range d.Probes {
		probe := &d.Probes[i]
		if probe.Protocol != protocol {
			continue
		}
		for _, spec := range probe.Ports {
			if strings.Contains(spec, portStr) || strings.Contains(spec, prefixed) {
				relevant = append(relevant, probe)
				break
			}
		}
	}

	if len(relevant) == 0 {
		for i := range d.Probes {
			probe := &d.Probes[i]
			if probe.Protocol != protocol {
				continue
			}
			if probe.Name == "GetRequest" || probe.Name == "GenericLines" {
				relevant = append(relevant, probe)
			}
		}
	}

	return relevant
}

// SSLPortApplies reports whether the probe's sslports specs cover the
// port, using the same substring rule as RelevantProbes.
func (p *Probe) SSLPortApplies(port uint16) bool {
	portStr := strconv.Itoa(int(port))
	prefixed := "T:" + portStr
	for _, spec := range p.SSLPorts {
		if strings.Contains(spec, portStr) || strings.Contains(spec, prefixed) {
			return true
		}
	}
	return false
}
