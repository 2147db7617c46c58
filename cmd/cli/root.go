// Package cli provides command-line interface commands for the portsweep
// network scanner. This package implements the Cobra-based CLI structure
// with commands for scanning, scheduled re-scans, and the HTTP API server.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/portsweep/portsweep/internal/config"
	"github.com/portsweep/portsweep/internal/logging"
)

const (
	// Default configuration constants.
	defaultPortSpec    = "1-1024" // privileged range plus a margin
	defaultTimeoutMS   = 1500     // per-connection budget in milliseconds
	defaultConcurrency = 500      // global permit pool capacity
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "portsweep",
	Short: "Concurrent TCP/UDP port scanner",
	Long: `Portsweep is a concurrent network port scanner with nmap-style
service detection. It performs TCP connect scans under a global
concurrency budget, optional UDP probing, and banner-based service
identification driven by a probe database.`,
	Version: getVersion(),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./portsweep.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Bind flags to viper
	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("portsweep")
	}

	// Read in environment variables that match
	viper.AutomaticEnv()
	viper.SetEnvPrefix("PORTSWEEP")

	// Set defaults for common configuration
	setConfigDefaults()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	// Initialize structured logging after config is loaded
	initLogging()
}

// setConfigDefaults sets default values for configuration.
func setConfigDefaults() {
	// Scan configuration
	viper.SetDefault("scan.ports", defaultPortSpec)
	viper.SetDefault("scan.tcp", true)
	viper.SetDefault("scan.timeout_ms", defaultTimeoutMS)
	viper.SetDefault("scan.concurrency", defaultConcurrency)

	// Service detection configuration
	viper.SetDefault("detection.timeout_ms", 5000)
	viper.SetDefault("detection.probe_file", "nmap-service-probes")

	// Output configuration
	viper.SetDefault("output.format", "table")

	// Logging configuration
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stderr")
}

// loadConfig loads the effective configuration for a subcommand run,
// falling back to defaults when no config file is present.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.ConfigFileUsed())
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	// Try to load full config for logging settings
	cfg, err := loadConfig()
	if err != nil {
		// If config loading fails, use default logging
		logger := logging.NewDefault()
		logging.SetDefault(logger)
		return
	}

	// Convert config logging to our logging config
	logConfig := logging.Config{
		Level:     logging.LogLevel(cfg.Logging.Level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.Level == "debug",
	}

	// Create logger
	logger, err := logging.New(logConfig)
	if err != nil {
		// Fall back to default if creation fails
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	// Set as default logger
	logging.SetDefault(logger)

	if verbose {
		logging.Info("Structured logging initialized", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	}
}
