// Package portspec parses textual port specifications such as
// "80,443,1000-2000" into concrete port lists. It is shared by the TCP
// and UDP scan paths and performs no I/O.
package portspec

import (
	"strconv"
	"strings"
)

const (
	maxPort        = 65535
	rangePartCount = 2
)

// Parse expands a comma-separated port specification into the ordered
// list of ports it names. Each token is either a single port or an
// inclusive "start-end" range expanded ascending. Malformed tokens
// (non-numeric, reversed range, out of range) are dropped rather than
// failing the whole specification, and overlapping ranges may produce
// duplicate entries. An empty or fully malformed spec yields an empty
// list, which callers treat as nothing to scan.
func Parse(spec string) []uint16 {
	var ports []uint16

	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if strings.Contains(token, "-") {
			ports = append(ports, expandRange(token)...)
			continue
		}

		if port, ok := parsePort(token); ok {
			ports = append(ports, port)
		}
	}

	return ports
}

// expandRange expands a "start-end" token. A reversed range contributes
// nothing.
func expandRange(token string) []uint16 {
	parts := strings.Split(token, "-")
	if len(parts) != rangePartCount {
		return nil
	}

	start, okStart := parsePort(strings.TrimSpace(parts[0]))
	end, okEnd := parsePort(strings.TrimSpace(parts[1]))
	if !okStart || !okEnd || start > end {
		return nil
	}

	expanded := make([]uint16, 0, int(end)-int(start)+1)
	for port := uint32(start); port <= uint32(end); port++ {
		expanded = append(expanded, uint16(port))
	}
	return expanded
}

func parsePort(token string) (uint16, bool) {
	value, err := strconv.ParseUint(token, 10, 16)
	if err != nil {
		return 0, false
	}
	if value > maxPort {
		return 0, false
	}
	return uint16(value), true
}
