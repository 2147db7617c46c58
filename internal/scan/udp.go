package scan

import (
	"context"
	"net"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"

	"github.com/portsweep/portsweep/internal/logging"
	"github.com/portsweep/portsweep/internal/metrics"
)

// Well-known UDP ports with protocol-specific probe payloads.
const (
	portDNS  = 53
	portNTP  = 123
	portSNMP = 161
)

const udpReadBufferSize = 4096

// ScanUDP probes the ports of one target over UDP, sequentially. A
// received datagram means Open; a bind or send failure means Closed; a
// receive timeout also means Open, since silence cannot distinguish an
// open-but-quiet service from a filtered port and this engine resolves
// the ambiguity toward Open.
func ScanUDP(ctx context.Context, target Target, ports []uint16, opts Options) TargetResult {
	results := make([]PortResult, 0, len(ports))
	for _, port := range ports {
		state := probeUDPPort(ctx, target, port, opts)
		metrics.IncrementPortsScanned(ProtocolUDP, string(state))
		results = append(results, PortResult{
			Port:     port,
			Protocol: ProtocolUDP,
			State:    state,
		})
	}

	tr := TargetResult{Target: target, Results: results}
	tr.SortByPort()
	return tr
}

func probeUDPPort(ctx context.Context, target Target, port uint16, opts Options) PortState {
	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "udp", target.Addr(port))
	if err != nil {
		return StateClosed
	}
	defer conn.Close()

	payload := udpProbePayload(port)
	if _, err := conn.Write(payload); err != nil {
		return StateClosed
	}

	if err := conn.SetReadDeadline(time.Now().Add(opts.Timeout)); err != nil {
		return StateClosed
	}

	buf := make([]byte, udpReadBufferSize)
	_, err = conn.Read(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			// Open|filtered, reported as Open.
			return StateOpen
		}
		return StateClosed
	}
	return StateOpen
}

// udpProbePayload picks a payload likely to elicit a response from the
// conventional service on the port. Unknown ports get an empty
// datagram.
func udpProbePayload(port uint16) []byte {
	switch port {
	case portDNS:
		return dnsQueryPayload()
	case portNTP:
		return ntpClientPayload()
	case portSNMP:
		return snmpGetPayload()
	default:
		return nil
	}
}

// dnsQueryPayload builds a recursive A query for a stable name.
func dnsQueryPayload() []byte {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn("example.com"), dns.TypeA)
	msg.RecursionDesired = true

	wire, err := msg.Pack()
	if err != nil {
		logging.Warn("Failed to pack DNS probe", "error", err)
		return nil
	}
	return wire
}

// snmpGetPayload builds an SNMPv2c GetRequest for sysDescr.0 with the
// default public community.
func snmpGetPayload() []byte {
	packet := &gosnmp.SnmpPacket{
		Version:   gosnmp.Version2c,
		Community: "public",
		PDUType:   gosnmp.GetRequest,
		RequestID: 1,
		Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.2.1.1.1.0", Type: gosnmp.Null},
		},
	}

	wire, err := packet.MarshalMsg()
	if err != nil {
		logging.Warn("Failed to marshal SNMP probe", "error", err)
		return nil
	}
	return wire
}

// ntpClientPayload builds a minimal 48-byte NTPv3 client request.
func ntpClientPayload() []byte {
	payload := make([]byte, 48)
	payload[0] = 0x1b // LI=0, VN=3, Mode=3 (client)
	return payload
}
