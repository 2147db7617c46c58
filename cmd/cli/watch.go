package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/portsweep/portsweep/internal/api"
	"github.com/portsweep/portsweep/internal/config"
	"github.com/portsweep/portsweep/internal/errors"
	"github.com/portsweep/portsweep/internal/logging"
	"github.com/portsweep/portsweep/internal/scan"
	"github.com/portsweep/portsweep/internal/scripts"
	"github.com/portsweep/portsweep/internal/workers"
)

const (
	// Worker pool sizing for scheduled runs. One slot is enough to
	// serialize runs; the queue absorbs ticks that fire while a slow
	// scan is still in flight, plus the script jobs a finished scan
	// fans out per open port.
	watchPoolSize     = 1
	watchQueueSize    = 64
	watchPoolShutdown = 30 * time.Second
	watchMaxRetries   = 1
)

var (
	watchTargets  string
	watchPorts    string
	watchSchedule string
	watchNow      bool
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-scan targets on a cron schedule",
	Long: `Run scans repeatedly on a cron schedule. Each tick submits a scan
job to a worker pool, so a slow scan never blocks the scheduler; ticks
that arrive while a scan is still running queue up behind it.

When the HTTP endpoint is enabled in the configuration, watch also
serves health and metrics for the lifetime of the process.`,
	Example: `  portsweep watch --targets 10.0.0.1 --schedule "*/15 * * * *"
  portsweep watch --targets "web1,web2" --ports 80,443 --schedule "0 2 * * *"
  portsweep watch --config portsweep.yaml`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchTargets, "targets", "", "Comma-separated list of targets to scan")
	watchCmd.Flags().StringVarP(&watchPorts, "ports", "p", "", "Port specification, e.g. '22,80,8000-8100'")
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "", "Cron expression controlling when scans re-run")
	watchCmd.Flags().BoolVar(&watchNow, "now", true, "Run one scan immediately before the first tick")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("targets") {
		cfg.Scan.Targets = splitTargets(watchTargets)
	}
	if flags.Changed("ports") {
		cfg.Scan.Ports = watchPorts
		cfg.Scan.PortsSpecified = true
	}
	if flags.Changed("schedule") {
		cfg.Schedule.Enabled = true
		cfg.Schedule.Spec = watchSchedule
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Scan.Targets) == 0 {
		return fmt.Errorf("no targets specified")
	}
	if cfg.Schedule.Spec == "" {
		return fmt.Errorf("no schedule: pass --schedule or set schedule.spec in the config")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := scan.NewScanner(buildScanConfig(cfg))

	pool := workers.New(workers.Config{
		Size:            watchPoolSize,
		QueueSize:       watchQueueSize,
		MaxRetries:      watchMaxRetries,
		ShutdownTimeout: watchPoolShutdown,
	})
	pool.Start()
	go drainResults(ctx, pool)

	var apiServer *api.Server
	if cfg.IsAPIEnabled() {
		apiServer = api.New(cfg)
		go func() {
			if err := apiServer.Start(); err != nil {
				logging.Error("HTTP endpoint failed", "error", err)
			}
		}()
	}

	submit := func() {
		job := workers.NewScanJob(uuid.New().String(), cfg.Scan.Targets, cfg.Scan.Ports,
			func(jobCtx context.Context, _ []string, _ string) error {
				return executeScheduledScan(jobCtx, cfg, scanner, pool)
			})
		if err := pool.Submit(job); err != nil {
			logging.Warn("Scan tick dropped, queue full or pool shutting down", "error", err)
		}
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Schedule.Spec, submit); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule.Spec, err)
	}

	logging.Info("Watch started",
		"schedule", cfg.Schedule.Spec,
		"targets", len(cfg.Scan.Targets))

	if watchNow {
		submit()
	}
	scheduler.Start()

	<-ctx.Done()
	logging.Info("Watch stopping")

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()
	if err := pool.Shutdown(); err != nil {
		logging.Warn("Worker pool shutdown", "error", err)
	}
	if apiServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Stop(stopCtx); err != nil {
			logging.Warn("HTTP endpoint shutdown", "error", err)
		}
	}

	return nil
}

// executeScheduledScan runs one scan tick, renders its result, and
// fans the script hooks out as jobs behind it in the pool.
func executeScheduledScan(ctx context.Context, cfg *config.Config, scanner *scan.Scanner, pool *workers.Pool) error {
	result, err := scanner.Run(ctx)
	if err != nil {
		return err
	}
	if err := renderResult(cfg, result); err != nil {
		return err
	}
	if cfg.Scripts.Enabled {
		submitScriptJobs(cfg, pool, result)
	}
	return nil
}

// submitScriptJobs queues one script job per target plus one per open
// port. The jobs run after the submitting scan job releases its worker;
// a full queue drops the remaining hooks rather than stalling the tick.
func submitScriptJobs(cfg *config.Config, pool *workers.Pool, result *scan.RunResult) {
	runner := scripts.New(cfg.Scripts.Command, cfg.Scripts.Timeout)

	submit := func(target string, port int) {
		job := workers.NewScriptJob(uuid.New().String(), target, port,
			func(jobCtx context.Context, target string, port int) error {
				res := runner.Run(jobCtx, target, port)
				if !res.Success {
					return errors.NewScanErrorWithTarget(
						errors.CodeScriptFailed, res.Error, target)
				}
				return nil
			})
		if err := pool.Submit(job); err != nil {
			logging.Warn("Script job dropped",
				"target", target, "port", port, "error", err)
		}
	}

	for i := range result.Targets {
		tr := &result.Targets[i]
		submit(tr.Target.Host, scripts.NoPort)
		for _, port := range tr.OpenPorts() {
			submit(tr.Target.Host, int(port))
		}
	}
}

// drainResults consumes pool results so completed jobs never block,
// surfacing failures in the log.
func drainResults(ctx context.Context, pool *workers.Pool) {
	for {
		select {
		case result, ok := <-pool.Results():
			if !ok {
				return
			}
			if result.Error != nil {
				logging.Error("Scheduled job failed",
					"job_id", result.JobID,
					"job_type", result.JobType,
					"duration", result.Duration,
					"error", result.Error)
			} else {
				logging.Info("Scheduled job completed",
					"job_id", result.JobID,
					"job_type", result.JobType,
					"duration", result.Duration)
			}
		case <-ctx.Done():
			return
		}
	}
}
