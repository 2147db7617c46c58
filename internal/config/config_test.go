package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/portsweep/portsweep/internal/errors"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "valid yaml config",
			setup: func(t *testing.T) string {
				content := []byte(`
scan:
  targets:
    - scanme.example.com
  ports: "22,80,443"
  tcp: true
  udp: true
  timeout_ms: 2000
  concurrency: 100
detection:
  enabled: true
  timeout_ms: 4000
  probe_file: /usr/share/nmap/nmap-service-probes
output:
  format: json
  show_all: true
`)
				dir := t.TempDir()
				path := filepath.Join(dir, "config.yaml")
				if err := os.WriteFile(path, content, 0o644); err != nil {
					t.Fatal(err)
				}
				return path
			},
			check: func(t *testing.T, cfg *Config) {
				if len(cfg.Scan.Targets) != 1 || cfg.Scan.Targets[0] != "scanme.example.com" {
					t.Errorf("unexpected targets: %v", cfg.Scan.Targets)
				}
				if cfg.Scan.Ports != "22,80,443" {
					t.Errorf("unexpected ports: %s", cfg.Scan.Ports)
				}
				if !cfg.Scan.UDP {
					t.Error("expected UDP scanning enabled")
				}
				if cfg.Scan.TimeoutMS != 2000 {
					t.Errorf("expected timeout 2000, got %d", cfg.Scan.TimeoutMS)
				}
				if !cfg.Detection.Enabled {
					t.Error("expected detection enabled")
				}
				if cfg.Output.Format != "json" {
					t.Errorf("expected json output, got %s", cfg.Output.Format)
				}
			},
		},
		{
			name: "missing file returns defaults",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist.yaml")
			},
			check: func(t *testing.T, cfg *Config) {
				def := Default()
				if cfg.Scan.Ports != def.Scan.Ports {
					t.Errorf("expected default ports %s, got %s", def.Scan.Ports, cfg.Scan.Ports)
				}
				if cfg.Scan.Concurrency != def.Scan.Concurrency {
					t.Errorf("expected default concurrency %d, got %d",
						def.Scan.Concurrency, cfg.Scan.Concurrency)
				}
			},
		},
		{
			name: "partial config keeps defaults elsewhere",
			setup: func(t *testing.T) string {
				content := []byte("scan:\n  concurrency: 50\n")
				path := filepath.Join(t.TempDir(), "config.yaml")
				if err := os.WriteFile(path, content, 0o644); err != nil {
					t.Fatal(err)
				}
				return path
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Scan.Concurrency != 50 {
					t.Errorf("expected concurrency 50, got %d", cfg.Scan.Concurrency)
				}
				if cfg.Scan.TimeoutMS != Default().Scan.TimeoutMS {
					t.Errorf("expected default timeout, got %d", cfg.Scan.TimeoutMS)
				}
				if cfg.Logging.Level != "info" {
					t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
				}
			},
		},
		{
			name: "invalid yaml syntax",
			setup: func(t *testing.T) string {
				content := []byte("scan: [unclosed")
				path := filepath.Join(t.TempDir(), "config.yaml")
				if err := os.WriteFile(path, content, 0o644); err != nil {
					t.Fatal(err)
				}
				return path
			},
			wantErr: true,
		},
		{
			name: "invalid values rejected",
			setup: func(t *testing.T) string {
				content := []byte("scan:\n  timeout_ms: -5\n")
				path := filepath.Join(t.TempDir(), "config.yaml")
				if err := os.WriteFile(path, content, 0o644); err != nil {
					t.Fatal(err)
				}
				return path
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.setup(t)
			cfg, err := Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if !cfg.Scan.TCP {
		t.Error("TCP scanning should be enabled by default")
	}
	if cfg.Scan.UDP {
		t.Error("UDP scanning should be disabled by default")
	}
	if cfg.Detection.Enabled {
		t.Error("service detection should be opt-in")
	}
	if cfg.Output.ShowAll {
		t.Error("closed/filtered ports should be hidden by default")
	}
	if cfg.API.Enabled {
		t.Error("API endpoint should be disabled by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(cfg *Config)
		wantErr bool
	}{
		{
			name:   "defaults valid",
			modify: func(cfg *Config) {},
		},
		{
			name:    "zero concurrency",
			modify:  func(cfg *Config) { cfg.Scan.Concurrency = 0 },
			wantErr: true,
		},
		{
			name:    "negative timeout",
			modify:  func(cfg *Config) { cfg.Scan.TimeoutMS = -1 },
			wantErr: true,
		},
		{
			name:    "bad output format",
			modify:  func(cfg *Config) { cfg.Output.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "bad log level",
			modify:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "bad log format",
			modify:  func(cfg *Config) { cfg.Logging.Format = "binary" },
			wantErr: true,
		},
		{
			name:    "rarity out of range",
			modify:  func(cfg *Config) { cfg.Detection.MaxRarity = 11 },
			wantErr: true,
		},
		{
			name:    "scripts enabled without command",
			modify:  func(cfg *Config) { cfg.Scripts.Enabled = true },
			wantErr: true,
		},
		{
			name: "scripts enabled with command",
			modify: func(cfg *Config) {
				cfg.Scripts.Enabled = true
				cfg.Scripts.Command = "nmap -sV {target} -p {port}"
			},
		},
		{
			name:    "schedule enabled without spec",
			modify:  func(cfg *Config) { cfg.Schedule.Enabled = true },
			wantErr: true,
		},
		{
			name: "api enabled without address",
			modify: func(cfg *Config) {
				cfg.API.Enabled = true
				cfg.API.ListenAddr = ""
			},
			wantErr: true,
		},
		{
			name:    "api port too large",
			modify:  func(cfg *Config) { cfg.API.Port = 70000 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReturnsConfigErrors(t *testing.T) {
	cfg := Default()
	cfg.Scan.Concurrency = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for zero concurrency")
	}
	cerr, ok := err.(*errors.ConfigError)
	if !ok {
		t.Fatalf("expected *errors.ConfigError, got %T", err)
	}
	if cerr.Code != errors.CodeValidation {
		t.Errorf("expected code %s, got %s", errors.CodeValidation, cerr.Code)
	}
	if cerr.Field == "" {
		t.Error("expected the offending field to be named")
	}

	cfg = Default()
	cfg.Scripts.Enabled = true
	err = cfg.Validate()
	if !errors.IsCode(err, errors.CodeConfiguration) {
		t.Errorf("expected CONFIGURATION code, got %v", err)
	}
	if cerr, ok := err.(*errors.ConfigError); !ok || cerr.Field != "scripts.command" {
		t.Errorf("expected scripts.command field error, got %v", err)
	}
	if !errors.IsFatal(err) {
		t.Error("configuration errors should be fatal")
	}
}

func TestSaveAndReload(t *testing.T) {
	cfg := Default()
	cfg.Scan.Targets = []string{"10.0.0.1", "10.0.0.2"}
	cfg.Scan.Ports = "8000-8100"
	cfg.Detection.Enabled = true
	cfg.Detection.TimeoutMS = 2500

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(loaded.Scan.Targets) != 2 {
		t.Errorf("expected 2 targets, got %d", len(loaded.Scan.Targets))
	}
	if loaded.Scan.Ports != "8000-8100" {
		t.Errorf("expected ports 8000-8100, got %s", loaded.Scan.Ports)
	}
	if !loaded.Detection.Enabled || loaded.Detection.TimeoutMS != 2500 {
		t.Errorf("detection config not round-tripped: %+v", loaded.Detection)
	}
}

func TestTimeoutHelpers(t *testing.T) {
	cfg := Default()
	cfg.Scan.TimeoutMS = 1500
	cfg.Detection.TimeoutMS = 5000

	if got := cfg.Scan.Timeout(); got != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", got)
	}
	if got := cfg.Detection.Timeout(); got != 5*time.Second {
		t.Errorf("expected 5s, got %v", got)
	}
}

func TestAccessors(t *testing.T) {
	cfg := Default()
	cfg.API.Enabled = true
	cfg.API.ListenAddr = "0.0.0.0"
	cfg.API.Port = 9090
	cfg.Logging.Output = "stdout"

	if got := cfg.GetAPIAddress(); got != "0.0.0.0:9090" {
		t.Errorf("unexpected API address: %s", got)
	}
	if !cfg.IsAPIEnabled() {
		t.Error("expected API enabled")
	}
	if got := cfg.GetLogOutput(); got != "stdout" {
		t.Errorf("unexpected log output: %s", got)
	}
}
