package probedb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const (
	minProbeFields = 4
	minMatchFields = 3
)

// LoadError reports a probe database that could not be read or parsed.
// Callers may treat it as non-fatal and continue scanning without
// service detection.
type LoadError struct {
	Path  string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("probe database %s unavailable: %v", e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Load reads and parses the probe file at path.
func Load(path string) (*Database, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	defer file.Close()

	db, err := Parse(file)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	return db, nil
}

// Parse consumes the probes grammar in a single forward pass. Unknown
// directives are ignored; a malformed match or version field is skipped
// without failing the parse.
func Parse(r io.Reader) (*Database, error) {
	db := &Database{}
	var current *Probe

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		directive := fields[0]

		switch directive {
		case "Exclude":
			if len(fields) > 1 {
				db.Excludes = append(db.Excludes, strings.Join(fields[1:], " "))
			}

		case "Probe":
			if current != nil {
				db.Probes = append(db.Probes, *current)
				current = nil
			}
			if len(fields) >= minProbeFields {
				current = &Probe{
					Protocol:  fields[1],
					Name:      fields[2],
					Payload:   DecodePayload(extractDelimited(strings.Join(fields[3:], " "), 'q')),
					NoPayload: hasToken(fields, "no-payload"),
				}
			}

		case "match":
			if current != nil {
				if m, ok := parseMatch(fields); ok {
					current.Matches = append(current.Matches, m)
				}
			}

		case "softmatch":
			if current != nil {
				if m, ok := parseMatch(fields); ok {
					current.SoftMatches = append(current.SoftMatches, m)
				}
			}

		case "ports":
			if current != nil && len(fields) > 1 {
				current.Ports = append(current.Ports, strings.Join(fields[1:], " "))
			}

		case "sslports":
			if current != nil && len(fields) > 1 {
				current.SSLPorts = append(current.SSLPorts, strings.Join(fields[1:], " "))
			}

		case "totalwaitms":
			if current != nil {
				current.TotalWaitMS = parseTrailingInt(fields)
			}

		case "tcpwrappedms":
			if current != nil {
				current.TCPWrappedMS = parseTrailingInt(fields)
			}

		case "rarity":
			if current != nil {
				current.Rarity = parseTrailingInt(fields)
			}

		case "fallback":
			if current != nil && len(fields) > 1 {
				current.Fallback = strings.Join(fields[1:], " ")
			}

		default:
			// Unknown directive.
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if current != nil {
		db.Probes = append(db.Probes, *current)
	}

	return db, nil
}

// parseMatch extracts a match/softmatch rule from its whitespace-split
// fields: the service name, an m<delim>...<delim>[flags] pattern clause
// (flags are not modeled), and trailing version field specs.
func parseMatch(fields []string) (Match, bool) {
	if len(fields) < minMatchFields {
		return Match{}, false
	}

	m := Match{
		Service:     fields[1],
		Pattern:     extractDelimited(fields[2], 'm'),
		VersionInfo: make(map[string]string),
	}

	for _, field := range fields[3:] {
		tag, value, ok := parseVersionField(field)
		if !ok {
			continue
		}
		m.VersionInfo[tag] = value
	}

	// Rules whose pattern is not a valid Go regex keep their slot but
	// can never match.
	if re, err := regexp.Compile(m.Pattern); err == nil {
		m.re = re
	}

	return m, true
}

// parseVersionField splits a version field spec such as p/Apache/ or
// cpe:/a:openbsd:openssh:$1/ into its tag and template.
func parseVersionField(field string) (tag, value string, ok bool) {
	if strings.HasPrefix(field, "cpe:") {
		return "cpe", field[len("cpe:"):], true
	}
	if len(field) < 3 {
		return "", "", false
	}

	switch field[0] {
	case 'p', 'v', 'i', 'h', 'o', 'd':
	default:
		return "", "", false
	}

	delim := field[1]
	end := strings.LastIndexByte(field, delim)
	if end <= 1 {
		return "", "", false
	}
	return string(field[0]), field[2:end], true
}

// extractDelimited pulls the content of a clause like q|...| or
// m/.../flags: the delimiter is the character after the marker and the
// content is everything strictly between its first and last occurrence.
// Anything that does not follow the convention is returned unchanged.
func extractDelimited(clause string, marker byte) string {
	if len(clause) < 3 || clause[0] != marker {
		return clause
	}
	delim := clause[1]
	end := strings.LastIndexByte(clause, delim)
	if end <= 1 {
		return clause
	}
	return clause[2:end]
}

// DecodePayload resolves the probe string escape sequences \n \r \t \0
// \\ and \xHH into raw bytes. Unrecognized escapes keep their literal
// character.
func DecodePayload(s string) []byte {
	out := make([]byte, 0, len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			out = append(out, c)
			continue
		}

		i++
		switch s[i] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case '0':
			out = append(out, 0)
		case '\\':
			out = append(out, '\\')
		case 'x':
			if i+2 < len(s) {
				if b, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					out = append(out, byte(b))
					i += 2
					continue
				}
			}
			out = append(out, '\\', 'x')
		default:
			out = append(out, s[i])
		}
	}

	return out
}

func parseTrailingInt(fields []string) int {
	if len(fields) < 2 {
		return 0
	}
	value, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return value
}

func hasToken(fields []string, token string) bool {
	for _, f := range fields {
		if f == token {
			return true
		}
	}
	return false
}
