// Command portsweep is the entry point for the portsweep network
// scanner CLI.
package main

import (
	"github.com/portsweep/portsweep/cmd/cli"
)

// Build information - set by ldflags during release builds.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
