package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/portsweep/portsweep/internal/config"
	"github.com/portsweep/portsweep/internal/errors"
	"github.com/portsweep/portsweep/internal/logging"
	"github.com/portsweep/portsweep/internal/output"
	"github.com/portsweep/portsweep/internal/scan"
	"github.com/portsweep/portsweep/internal/scripts"
)

var (
	scanTargets       string
	scanPorts         string
	scanUDP           bool
	scanNoTCP         bool
	scanTimeoutMS     int
	scanConcurrency   int
	scanDetect        bool
	scanProbeFile     string
	scanMaxRarity     int
	scanShowAll       bool
	scanFormat        string
	scanOutputFile    string
	scanScript        string
	scanScriptTimeout int
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan targets for open ports and services",
	Long: `Scan one or more targets for open TCP and UDP ports. All targets
share a single connection permit pool, so the --concurrency budget
bounds the whole run rather than each target individually.

With --detect, open TCP ports are probed against the service probe
database to identify the listening service and version. Malformed
tokens in the port specification are dropped silently; if nothing
remains, the run completes without scanning anything.`,
	Example: `  portsweep scan --targets 192.168.1.10
  portsweep scan --targets "192.168.1.1,192.168.1.10" --ports "22,80,443"
  portsweep scan --targets localhost --ports 1-1024 --detect
  portsweep scan --targets 10.0.0.1 --udp --ports "53,123,161"
  portsweep scan --targets localhost --format json --output results.json
  portsweep scan --targets localhost --script "nmap -sV {target} -p {port}"`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanTargets, "targets", "", "Comma-separated list of targets to scan")
	scanCmd.Flags().StringVarP(&scanPorts, "ports", "p", "", "Port specification, e.g. '22,80,8000-8100'")
	scanCmd.Flags().BoolVar(&scanUDP, "udp", false, "Probe UDP ports as well")
	scanCmd.Flags().BoolVar(&scanNoTCP, "no-tcp", false, "Skip the TCP connect scan (UDP only)")
	scanCmd.Flags().IntVar(&scanTimeoutMS, "timeout", 0, "Per-connection timeout in milliseconds")
	scanCmd.Flags().IntVar(&scanConcurrency, "concurrency", 0, "Connection permit pool size shared across all targets")
	scanCmd.Flags().BoolVarP(&scanDetect, "detect", "V", false, "Enable service detection on open TCP ports")
	scanCmd.Flags().StringVar(&scanProbeFile, "probe-file", "", "Path to the service probe database")
	scanCmd.Flags().IntVar(&scanMaxRarity, "max-rarity", 0, "Skip detection probes rarer than this (0 = no filter)")
	scanCmd.Flags().BoolVar(&scanShowAll, "show-all", false, "Show closed and filtered ports too")
	scanCmd.Flags().StringVar(&scanFormat, "format", "", "Output format: table or json")
	scanCmd.Flags().StringVarP(&scanOutputFile, "output", "o", "", "Write results to a file instead of stdout")
	scanCmd.Flags().StringVar(&scanScript, "script", "", "Command to run per open port, with {target} and {port} placeholders")
	scanCmd.Flags().IntVar(&scanScriptTimeout, "script-timeout", 0, "Per-script timeout in seconds")

	if err := scanCmd.MarkFlagRequired("targets"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to mark targets flag required: %v\n", err)
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	applyScanFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Scan.Targets) == 0 {
		return fmt.Errorf("no targets specified")
	}
	if !cfg.Scan.TCP && !cfg.Scan.UDP {
		return fmt.Errorf("nothing to do: TCP scanning disabled and UDP not requested")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := scan.NewScanner(buildScanConfig(cfg))
	result, err := scanner.Run(ctx)
	if err != nil {
		logging.Error("Scan run failed",
			"code", string(errors.GetCode(err)),
			"fatal", errors.IsFatal(err),
			"error", err)
		return fmt.Errorf("scan failed: %w", err)
	}

	if err := renderResult(cfg, result); err != nil {
		return err
	}

	if cfg.Scripts.Enabled {
		runScripts(ctx, cfg, result)
	}

	return nil
}

// applyScanFlags overlays explicitly-set command flags on top of the
// file-or-default configuration. Only flags the user actually changed
// override the config file.
func applyScanFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("targets") {
		cfg.Scan.Targets = splitTargets(scanTargets)
	}
	if flags.Changed("ports") {
		cfg.Scan.Ports = scanPorts
		cfg.Scan.PortsSpecified = true
	}
	if flags.Changed("udp") {
		cfg.Scan.UDP = scanUDP
	}
	if flags.Changed("no-tcp") {
		cfg.Scan.TCP = !scanNoTCP
	}
	if flags.Changed("timeout") {
		cfg.Scan.TimeoutMS = scanTimeoutMS
	}
	if flags.Changed("concurrency") {
		cfg.Scan.Concurrency = scanConcurrency
	}
	if flags.Changed("detect") {
		cfg.Detection.Enabled = scanDetect
	}
	if flags.Changed("probe-file") {
		cfg.Detection.ProbeFile = scanProbeFile
	}
	if flags.Changed("max-rarity") {
		cfg.Detection.MaxRarity = scanMaxRarity
	}
	if flags.Changed("show-all") {
		cfg.Output.ShowAll = scanShowAll
	}
	if flags.Changed("format") {
		cfg.Output.Format = scanFormat
	}
	if flags.Changed("output") {
		cfg.Output.File = scanOutputFile
	}
	if flags.Changed("script") {
		cfg.Scripts.Enabled = scanScript != ""
		cfg.Scripts.Command = scanScript
	}
	if flags.Changed("script-timeout") {
		cfg.Scripts.Timeout = secondsDuration(scanScriptTimeout)
	}
}

// buildScanConfig translates the configuration into the scan engine's
// run configuration.
func buildScanConfig(cfg *config.Config) scan.Config {
	return scan.Config{
		Targets:   cfg.Scan.Targets,
		PortSpec:  cfg.Scan.Ports,
		TCP:       cfg.Scan.TCP,
		UDP:       cfg.Scan.UDP,
		ProbeFile: cfg.Detection.ProbeFile,
		Options: scan.Options{
			Timeout:          cfg.Scan.Timeout(),
			Concurrency:      cfg.Scan.Concurrency,
			ServiceDetection: cfg.Detection.Enabled,
			DetectionTimeout: cfg.Detection.Timeout(),
			MaxRarity:        cfg.Detection.MaxRarity,
		},
	}
}

// renderResult writes the run result to stdout or the configured file.
// When the user named specific ports, non-open states are shown too so
// an explicitly requested port never disappears from the output.
func renderResult(cfg *config.Config, result *scan.RunResult) error {
	var out io.Writer = os.Stdout
	if cfg.Output.File != "" {
		f, err := os.Create(cfg.Output.File)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	showAll := cfg.Output.ShowAll || cfg.Scan.PortsSpecified
	renderer, err := output.New(out, cfg.Output.Format, showAll)
	if err != nil {
		return err
	}
	return renderer.Render(result)
}

// runScripts executes the configured script hook for each target and
// each of its open ports. Script failures are logged, never fatal.
func runScripts(ctx context.Context, cfg *config.Config, result *scan.RunResult) {
	runner := scripts.New(cfg.Scripts.Command, cfg.Scripts.Timeout)

	for i := range result.Targets {
		tr := &result.Targets[i]
		results := runner.RunAll(ctx, tr.Target.Host, tr.OpenPorts())
		for _, r := range results {
			if !r.Success {
				serr := errors.NewScanErrorWithTarget(errors.CodeScriptFailed,
					r.Error, tr.Target.Host)
				logging.Warn("Script hook failed",
					"target", tr.Target.Host,
					"recoverable", errors.IsRecoverable(serr),
					"error", serr)
			}
		}
	}
}

func splitTargets(s string) []string {
	var targets []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			targets = append(targets, part)
		}
	}
	return targets
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
