package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/portsweep/portsweep/internal/api"
	"github.com/portsweep/portsweep/internal/logging"
)

const serveShutdownTimeout = 10 * time.Second

var (
	serveAddr string
	servePort int
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the health and metrics HTTP endpoint",
	Long: `Serve the HTTP endpoint exposing process health and Prometheus
metrics. Useful when portsweep runs under a supervisor and scans are
triggered externally.`,
	Example: `  portsweep serve
  portsweep serve --listen 0.0.0.0 --port 9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "listen", "", "Listen address")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg.API.Enabled = true
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.API.ListenAddr = serveAddr
	}
	if flags.Changed("port") {
		cfg.API.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.New(cfg)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logging.Info("HTTP endpoint listening", "address", cfg.GetAPIAddress())

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP endpoint: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()
	return server.Stop(stopCtx)
}
