// Package scripts runs user-supplied commands after a scan: once per
// target, then once per open port. Script output is purely
// side-effecting; nothing here feeds back into scan results, and a
// failing script never fails the run.
package scripts

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/portsweep/portsweep/internal/logging"
)

// NoPort invokes the hook without a port binding.
const NoPort = -1

// Result captures one script invocation.
type Result struct {
	Success bool              `json:"success"`
	Output  string            `json:"output"`
	Error   string            `json:"error,omitempty"`
	Data    map[string]string `json:"data"`
}

// Runner executes a configured command template. The template may
// reference {target} and {port}; {port} expands to the empty string on
// target-level invocations.
type Runner struct {
	command string
	timeout time.Duration
}

// New creates a runner for the command template.
func New(command string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{command: command, timeout: timeout}
}

// Run executes the hook for a target, with port = NoPort for the
// per-target invocation.
func (r *Runner) Run(ctx context.Context, target string, port int) Result {
	cmdline := strings.ReplaceAll(r.command, "{target}", target)
	if port == NoPort {
		cmdline = strings.ReplaceAll(cmdline, "{port}", "")
	} else {
		cmdline = strings.ReplaceAll(cmdline, "{port}", strconv.Itoa(port))
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, "sh", "-c", cmdline)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	result := Result{
		Success: err == nil,
		Output:  stdout.String(),
		Data: map[string]string{
			"target":   target,
			"duration": elapsed.String(),
		},
	}
	if port != NoPort {
		result.Data["port"] = strconv.Itoa(port)
	}

	if err != nil {
		result.Error = err.Error()
		if stderr.Len() > 0 {
			result.Error = result.Error + ": " + strings.TrimSpace(stderr.String())
		}
		logging.ErrorScript("Script execution failed", cmdline, err,
			"target", target, "port", port)
		return result
	}

	logging.InfoScript("Script executed", cmdline,
		"target", target, "port", port, "duration", elapsed)
	return result
}

// RunAll performs the full hook sequence for one target: the
// target-level invocation followed by one invocation per open port.
func (r *Runner) RunAll(ctx context.Context, target string, openPorts []uint16) []Result {
	results := make([]Result, 0, len(openPorts)+1)
	results = append(results, r.Run(ctx, target, NoPort))
	for _, port := range openPorts {
		results = append(results, r.Run(ctx, target, int(port)))
	}
	return results
}
