package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	LogLevel       string
	NoCache        bool
}

type Settings struct {
	OutputMode         string
	SelectFields       []string
	ResultsOnly        bool
	EnableCommands     []string
	Timeout            time.Duration
	Retries            int
	LogLevel           string
	CacheEnabled       bool
	CachePath          string
	CacheLockPath      string
	RouteStorePath     string
	RouteLockPath      string
	APIURL             string
	APIKey             string
	Integrator         string
	PollInterval       time.Duration
	StepTimeout        time.Duration
	InfiniteApproval   bool
	RPCOverrides       map[int64]string
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	GasMultiplier      float64
}

type fileConfig struct {
	Output   string `yaml:"output"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	LogLevel string `yaml:"log_level"`
	Cache    struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	API struct {
		URL        string `yaml:"url"`
		APIKey     string `yaml:"api_key"`
		APIKeyEnv  string `yaml:"api_key_env"`
		Integrator string `yaml:"integrator"`
	} `yaml:"api"`
	Execution struct {
		RoutesPath       string `yaml:"routes_path"`
		RoutesLockPath   string `yaml:"routes_lock_path"`
		PollInterval     string `yaml:"poll_interval"`
		StepTimeout      string `yaml:"step_timeout"`
		InfiniteApproval *bool  `yaml:"infinite_approval"`
	} `yaml:"execution"`
	Gas struct {
		MaxFeeGwei         string   `yaml:"max_fee_gwei"`
		MaxPriorityFeeGwei string   `yaml:"max_priority_fee_gwei"`
		Multiplier         *float64 `yaml:"multiplier"`
	} `yaml:"gas"`
	RPC map[string]string `yaml:"rpc"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 5 * time.Second
	}
	if settings.StepTimeout < 0 {
		settings.StepTimeout = 0
	}
	if settings.GasMultiplier < 1 {
		settings.GasMultiplier = 1.2
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:     "json",
		Timeout:        10 * time.Second,
		Retries:        2,
		LogLevel:       "info",
		CacheEnabled:   true,
		CachePath:      cachePath,
		CacheLockPath:  lockPath,
		RouteStorePath: filepath.Join(cacheDir, "routes.db"),
		RouteLockPath:  filepath.Join(cacheDir, "routes.lock"),
		PollInterval:   5 * time.Second,
		StepTimeout:    30 * time.Minute,
		RPCOverrides:   map[int64]string{},
		GasMultiplier:  1.2,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if v := strings.TrimSpace(os.Getenv("ROUTEX_CONFIG")); v != "" {
		return v, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "routex", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "routex")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.API.URL != "" {
		settings.APIURL = cfg.API.URL
	}
	if cfg.API.APIKey != "" {
		settings.APIKey = cfg.API.APIKey
	}
	if cfg.API.APIKeyEnv != "" {
		settings.APIKey = os.Getenv(cfg.API.APIKeyEnv)
	}
	if cfg.API.Integrator != "" {
		settings.Integrator = cfg.API.Integrator
	}
	if cfg.Execution.RoutesPath != "" {
		settings.RouteStorePath = cfg.Execution.RoutesPath
	}
	if cfg.Execution.RoutesLockPath != "" {
		settings.RouteLockPath = cfg.Execution.RoutesLockPath
	}
	if cfg.Execution.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Execution.PollInterval)
		if err != nil {
			return fmt.Errorf("config execution.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Execution.StepTimeout != "" {
		d, err := time.ParseDuration(cfg.Execution.StepTimeout)
		if err != nil {
			return fmt.Errorf("config execution.step_timeout: %w", err)
		}
		settings.StepTimeout = d
	}
	if cfg.Execution.InfiniteApproval != nil {
		settings.InfiniteApproval = *cfg.Execution.InfiniteApproval
	}
	if cfg.Gas.MaxFeeGwei != "" {
		settings.MaxFeeGwei = cfg.Gas.MaxFeeGwei
	}
	if cfg.Gas.MaxPriorityFeeGwei != "" {
		settings.MaxPriorityFeeGwei = cfg.Gas.MaxPriorityFeeGwei
	}
	if cfg.Gas.Multiplier != nil {
		settings.GasMultiplier = *cfg.Gas.Multiplier
	}
	for key, endpoint := range cfg.RPC {
		chainID, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil || chainID <= 0 {
			return fmt.Errorf("config rpc: chain id %q must be a positive integer", key)
		}
		if strings.TrimSpace(endpoint) != "" {
			settings.RPCOverrides[chainID] = strings.TrimSpace(endpoint)
		}
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("ROUTEX_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("ROUTEX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("ROUTEX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("ROUTEX_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("ROUTEX_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("ROUTEX_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("ROUTEX_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("ROUTEX_ROUTES_PATH"); v != "" {
		settings.RouteStorePath = v
	}
	if v := os.Getenv("ROUTEX_ROUTES_LOCK_PATH"); v != "" {
		settings.RouteLockPath = v
	}
	if v := os.Getenv("ROUTEX_API_URL"); v != "" {
		settings.APIURL = v
	}
	if v := os.Getenv("ROUTEX_API_KEY"); v != "" {
		settings.APIKey = v
	}
	if v := os.Getenv("ROUTEX_INTEGRATOR"); v != "" {
		settings.Integrator = v
	}
	if v := os.Getenv("ROUTEX_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.PollInterval = d
		}
	}
	if v := os.Getenv("ROUTEX_STEP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.StepTimeout = d
		}
	}
	if v := os.Getenv("ROUTEX_INFINITE_APPROVAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.InfiniteApproval = b
		}
	}
	if v := os.Getenv("ROUTEX_MAX_FEE_GWEI"); v != "" {
		settings.MaxFeeGwei = v
	}
	if v := os.Getenv("ROUTEX_MAX_PRIORITY_FEE_GWEI"); v != "" {
		settings.MaxPriorityFeeGwei = v
	}
	applyRPCEnv(os.Environ(), settings)
}

// applyRPCEnv reads ROUTEX_RPC_<chainID>=<url> overrides.
func applyRPCEnv(environ []string, settings *Settings) {
	const prefix = "ROUTEX_RPC_"
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) || strings.TrimSpace(value) == "" {
			continue
		}
		chainID, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
		if err != nil || chainID <= 0 {
			continue
		}
		settings.RPCOverrides[chainID] = strings.TrimSpace(value)
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitList(flags.EnableCommands)
	}

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	switch settings.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug|info|warn|error")
	}

	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
