package scan

import (
	"context"
	"net"

	"github.com/portsweep/portsweep/internal/errors"
)

// Resolve turns a user-supplied target into a dialable Target. An IP
// literal passes through untouched; a hostname resolves via the system
// resolver and the first returned address is used. Resolution failure
// is fatal for the whole run, so callers should resolve every target
// before scanning anything.
func Resolve(ctx context.Context, host string) (Target, error) {
	if host == "" {
		return Target{}, errors.ErrInvalidTarget(host)
	}
	if ip := net.ParseIP(host); ip != nil {
		return Target{Host: host, IP: ip.String()}, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return Target{}, errors.WrapScanErrorWithTarget(
			errors.CodeResolutionFailed, "failed to resolve target", host, err)
	}
	if len(addrs) == 0 {
		return Target{}, errors.ErrResolutionFailed(host)
	}

	return Target{Host: host, IP: addrs[0].IP.String()}, nil
}

// ResolveAll resolves every target up front, failing fast on the first
// unresolvable name.
func ResolveAll(ctx context.Context, hosts []string) ([]Target, error) {
	targets := make([]Target, 0, len(hosts))
	for _, host := range hosts {
		target, err := Resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}
