package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"rasc/pkg/schedule"
)

const (
	envEnabled      = "RASC_ENABLED"
	envUseVOpt      = "RASC_USE_VOPT"
	envUseUniform   = "RASC_USE_UNIFORM"
	envWorstQ       = "RASC_WORST_Q"
	envSLO          = "RASC_SLO"
	envFixedHistory = "RASC_FIXED_HISTORY"
	envRateLimit    = "RASC_RATE_LIMIT"
	envTailMode     = "RASC_TAIL_MODE"
	envHistoryPath  = "RASC_HISTORY_PATH"
	envPoolWorkers  = "RASC_WORKER_COUNT"
	envAdminBind    = "RASC_ADMIN_ADDR"
	envMetricsBind  = "RASC_METRICS_ADDR"

	defaultTailUniform     = "uniform"
	defaultTailExponential = "exponential"
)

type runtimeConfig struct {
	Poll    pollConfig
	Pool    poolConfig
	History historyConfig
	Admin   httpConfig
	Metrics httpConfig
}

type pollConfig struct {
	Enabled      bool
	UseVOpt      bool
	UseUniform   bool
	WorstQ       float64
	SLO          float64
	RateLimit    float64
	FixedHistory string
	TailMode     schedule.TailMode
}

type poolConfig struct {
	Workers int
}

type historyConfig struct {
	Path string
}

type httpConfig struct {
	Bind string
}

type fileConfig struct {
	Poll    pollFileConfig    `yaml:"poll"`
	Pool    poolFileConfig    `yaml:"pool"`
	History historyFileConfig `yaml:"history"`
	Admin   httpFileConfig    `yaml:"admin"`
	Metrics httpFileConfig    `yaml:"metrics"`
}

type pollFileConfig struct {
	Enabled      *bool    `yaml:"enabled"`
	UseVOpt      *bool    `yaml:"useVopt"`
	UseUniform   *bool    `yaml:"useUniform"`
	WorstQ       *float64 `yaml:"worstQ"`
	SLO          *float64 `yaml:"slo"`
	RateLimit    *float64 `yaml:"rateLimit"`
	FixedHistory *string  `yaml:"fixedHistory"`
	TailMode     *string  `yaml:"tailMode"`
}

type poolFileConfig struct {
	Workers *int `yaml:"workers"`
}

type historyFileConfig struct {
	Path *string `yaml:"path"`
}

type httpFileConfig struct {
	Bind *string `yaml:"bind"`
}

func defaultRuntimeConfig() runtimeConfig {
	var cfg runtimeConfig

	cfg.Poll.Enabled = true
	cfg.Poll.UseVOpt = false
	cfg.Poll.UseUniform = false
	cfg.Poll.WorstQ = 5.0
	cfg.Poll.SLO = 0.95
	cfg.Poll.RateLimit = 0.0
	cfg.Poll.TailMode = schedule.TailUniform

	cfg.Pool.Workers = runtime.NumCPU()
	if cfg.Pool.Workers <= 0 {
		cfg.Pool.Workers = 1
	}

	cfg.History.Path = "/var/lib/rascd/history.json"
	cfg.Admin.Bind = ":8080"
	cfg.Metrics.Bind = ":9108"

	return cfg
}

func loadConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		applyEnvOverrides(&cfg)

		return cfg, nil
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return runtimeConfig{}, fmt.Errorf("read config file %q: %w", trimmed, err)
		}
	} else {
		var fileCfg fileConfig

		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return runtimeConfig{}, fmt.Errorf("decode config file %q: %w", trimmed, err)
		}

		mergePollConfig(&cfg.Poll, fileCfg.Poll)
		mergePoolConfig(&cfg.Pool, fileCfg.Pool)
		mergeHistoryConfig(&cfg.History, fileCfg.History)
		mergeHTTPConfig(&cfg.Admin, fileCfg.Admin)
		mergeHTTPConfig(&cfg.Metrics, fileCfg.Metrics)
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func mergePollConfig(dst *pollConfig, src pollFileConfig) {
	assignBool(&dst.Enabled, src.Enabled)
	assignBool(&dst.UseVOpt, src.UseVOpt)
	assignBool(&dst.UseUniform, src.UseUniform)
	assignFloat(&dst.WorstQ, src.WorstQ)
	assignFloat(&dst.SLO, src.SLO)
	assignFloat(&dst.RateLimit, src.RateLimit)
	assignString(&dst.FixedHistory, src.FixedHistory)

	if src.TailMode != nil {
		dst.TailMode = parseTailMode(*src.TailMode, dst.TailMode)
	}
}

func mergePoolConfig(dst *poolConfig, src poolFileConfig) {
	assignInt(&dst.Workers, src.Workers)
}

func mergeHistoryConfig(dst *historyConfig, src historyFileConfig) {
	assignString(&dst.Path, src.Path)
}

func mergeHTTPConfig(dst *httpConfig, src httpFileConfig) {
	assignString(&dst.Bind, src.Bind)
}

func applyEnvOverrides(cfg *runtimeConfig) {
	cfg.Poll.Enabled = envBool(envEnabled, cfg.Poll.Enabled)
	cfg.Poll.UseVOpt = envBool(envUseVOpt, cfg.Poll.UseVOpt)
	cfg.Poll.UseUniform = envBool(envUseUniform, cfg.Poll.UseUniform)
	cfg.Poll.WorstQ = envFloat(envWorstQ, cfg.Poll.WorstQ)
	cfg.Poll.SLO = envFloat(envSLO, cfg.Poll.SLO)
	cfg.Poll.RateLimit = envFloat(envRateLimit, cfg.Poll.RateLimit)
	cfg.Poll.FixedHistory = envString(envFixedHistory, cfg.Poll.FixedHistory)
	cfg.Poll.TailMode = parseTailMode(envString(envTailMode, ""), cfg.Poll.TailMode)

	cfg.Pool.Workers = envInt(envPoolWorkers, cfg.Pool.Workers)
	cfg.History.Path = envString(envHistoryPath, cfg.History.Path)
	cfg.Admin.Bind = envString(envAdminBind, cfg.Admin.Bind)
	cfg.Metrics.Bind = envString(envMetricsBind, cfg.Metrics.Bind)

	if cfg.Pool.Workers <= 0 {
		cfg.Pool.Workers = 1
	}

	if cfg.Poll.WorstQ <= 0 {
		cfg.Poll.WorstQ = defaultRuntimeConfig().Poll.WorstQ
	}
}

func parseTailMode(value string, fallback schedule.TailMode) schedule.TailMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case defaultTailUniform:
		return schedule.TailUniform
	case defaultTailExponential:
		return schedule.TailExponential
	default:
		return fallback
	}
}

var lookupEnv = os.LookupEnv //nolint:gochecknoglobals // overridden in tests

func assignBool(target *bool, value *bool) {
	if value != nil {
		*target = *value
	}
}

func assignFloat(target *float64, value *float64) {
	if value != nil {
		*target = *value
	}
}

func assignInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}

func assignString(target *string, value *string) {
	if value != nil {
		*target = strings.TrimSpace(*value)
	}
}

func envBool(key string, fallback bool) bool {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}

	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}

	return parsed
}

func envInt(key string, fallback int) int {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}

func envString(key, fallback string) string {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	return trimmed
}
