package probedb

import (
	"strconv"
	"strings"
)

// EvaluateMatches runs a response through hard match rules and then soft
// match rules, in rule order. The first hard match yields a ServiceInfo
// at hard confidence; only when every hard rule fails are soft rules
// tried at soft confidence. A nil result means no rule matched.
func EvaluateMatches(response []byte, hard, soft []Match) *ServiceInfo {
	for i := range hard {
		if info := hard[i].Apply(response, HardMatchConfidence); info != nil {
			return info
		}
	}
	for i := range soft {
		if info := soft[i].Apply(response, SoftMatchConfidence); info != nil {
			return info
		}
	}
	return nil
}

// Apply matches the response against this rule and, on success, builds
// a ServiceInfo with every version field template resolved against the
// capture groups.
func (m *Match) Apply(response []byte, confidence int) *ServiceInfo {
	if m.re == nil {
		return nil
	}

	groups := m.re.FindStringSubmatch(string(response))
	if groups == nil {
		return nil
	}

	info := &ServiceInfo{
		Service:    m.Service,
		Confidence: confidence,
	}

	for tag, template := range m.VersionInfo {
		value := substituteCaptures(template, groups)
		switch tag {
		case "p":
			info.Product = value
		case "v":
			info.Version = value
		case "i":
			info.ExtraInfo = value
		case "h":
			info.Hostname = value
		case "o":
			info.OSInfo = value
		case "d":
			info.DeviceType = value
		case "cpe":
			info.CPE = value
		}
	}

	return info
}

// substituteCaptures replaces every $N placeholder with the text of
// capture group N. Groups that did not participate substitute as empty
// text; $N beyond the group count stays literal. Higher group numbers
// are replaced first so $1 cannot clobber the prefix of $10.
func substituteCaptures(template string, groups []string) string {
	result := template
	for n := len(groups) - 1; n >= 1; n-- {
		result = strings.ReplaceAll(result, "$"+strconv.Itoa(n), groups[n])
	}
	return result
}
