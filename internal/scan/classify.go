package scan

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// classifyDialError maps a failed connect attempt to a terminal port
// state. Structured OS error categories are checked first; anything
// unrecognized falls back to case-insensitive substring heuristics on
// the error text, which are best-effort and platform-fragile.
func classifyDialError(err error) PortState {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return StateClosed
	case errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		return StateFiltered
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StateFiltered
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "refused"):
		return StateClosed
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "unreachable"),
		strings.Contains(msg, "filtered"):
		return StateFiltered
	}

	return StateClosed
}
