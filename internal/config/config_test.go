package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	configPath := writeConfig(t, "output: plain\nretries: 1\nlog_level: warn\n")

	t.Setenv("ROUTEX_OUTPUT", "json")
	t.Setenv("ROUTEX_LOG_LEVEL", "error")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5, LogLevel: "debug"}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.LogLevel != "debug" {
		t.Fatalf("expected log level from flags, got %s", settings.LogLevel)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true, Retries: -1})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadExecutionSettingsFromFile(t *testing.T) {
	configPath := writeConfig(t, `
api:
  url: https://staging.li.quest/v1
  api_key: file-key
  integrator: routex-ci
execution:
  routes_path: /tmp/routex/routes.db
  poll_interval: 2s
  step_timeout: 10m
  infinite_approval: true
gas:
  max_fee_gwei: "40"
  multiplier: 1.5
rpc:
  "137": https://polygon.example.org
`)
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.APIURL != "https://staging.li.quest/v1" || settings.APIKey != "file-key" || settings.Integrator != "routex-ci" {
		t.Fatalf("unexpected api settings: %+v", settings)
	}
	if settings.RouteStorePath != "/tmp/routex/routes.db" {
		t.Fatalf("unexpected route store path: %s", settings.RouteStorePath)
	}
	if settings.PollInterval != 2*time.Second || settings.StepTimeout != 10*time.Minute || !settings.InfiniteApproval {
		t.Fatalf("unexpected execution settings: %+v", settings)
	}
	if settings.MaxFeeGwei != "40" || settings.GasMultiplier != 1.5 {
		t.Fatalf("unexpected gas settings: %+v", settings)
	}
	if settings.RPCOverrides[137] != "https://polygon.example.org" {
		t.Fatalf("unexpected rpc overrides: %+v", settings.RPCOverrides)
	}
	if settings.Retries != 2 {
		t.Fatalf("negative --retries must keep the configured value, got %d", settings.Retries)
	}
}

func TestLoadDefaults(t *testing.T) {
	configPath := writeConfig(t, "")
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.PollInterval != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %s", settings.PollInterval)
	}
	if filepath.Base(settings.RouteStorePath) != "routes.db" || filepath.Base(filepath.Dir(settings.RouteStorePath)) != "routex" {
		t.Fatalf("unexpected default route store path: %s", settings.RouteStorePath)
	}
	if settings.LogLevel != "info" || settings.GasMultiplier != 1.2 {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		flags GlobalFlags
	}{
		{name: "bad rpc key", body: "rpc:\n  polygon: https://x\n"},
		{name: "bad poll interval", body: "execution:\n  poll_interval: soon\n"},
		{name: "bad log level", body: "", flags: GlobalFlags{LogLevel: "loud"}},
		{name: "bad output", body: "output: xml\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			flags := tc.flags
			flags.ConfigPath = writeConfig(t, tc.body)
			flags.Retries = -1
			if _, err := Load(flags); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestApplyRPCEnv(t *testing.T) {
	settings := Settings{RPCOverrides: map[int64]string{}}
	applyRPCEnv([]string{
		"ROUTEX_RPC_10=https://optimism.example.org",
		"ROUTEX_RPC_base=https://ignored",
		"ROUTEX_RPC_1=",
		"PATH=/usr/bin",
	}, &settings)
	if len(settings.RPCOverrides) != 1 || settings.RPCOverrides[10] != "https://optimism.example.org" {
		t.Fatalf("unexpected overrides: %+v", settings.RPCOverrides)
	}
}
