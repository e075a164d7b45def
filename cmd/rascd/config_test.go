package main

import (
	"os"
	"path/filepath"
	"testing"

	"rasc/pkg/schedule"
)

func TestLoadConfigDefaultsWhenFileMissing(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig("./testdata/missing.yaml")
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if !cfg.Poll.Enabled {
		t.Fatal("expected adaptive polling enabled by default")
	}

	if cfg.Poll.WorstQ != 5.0 {
		t.Fatalf("unexpected worstQ: %v", cfg.Poll.WorstQ)
	}

	if cfg.Poll.TailMode != schedule.TailUniform {
		t.Fatalf("expected uniform tail mode by default, got %v", cfg.Poll.TailMode)
	}

	if cfg.Admin.Bind != ":8080" {
		t.Fatalf("unexpected admin bind address: %q", cfg.Admin.Bind)
	}

	if cfg.Metrics.Bind != ":9108" {
		t.Fatalf("unexpected metrics bind address: %q", cfg.Metrics.Bind)
	}
}

func TestLoadConfigAppliesFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join("testdata", "config.yaml")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if cfg.Poll.Enabled {
		t.Fatal("expected poll.enabled override to false")
	}

	if cfg.Poll.WorstQ != 2.5 {
		t.Fatalf("expected worstQ override, got %v", cfg.Poll.WorstQ)
	}

	if cfg.Poll.TailMode != schedule.TailExponential {
		t.Fatalf("expected tailMode override to exponential, got %v", cfg.Poll.TailMode)
	}

	if cfg.Pool.Workers != 3 {
		t.Fatalf("expected pool workers override, got %d", cfg.Pool.Workers)
	}

	if cfg.Admin.Bind != ":9090" {
		t.Fatalf("expected admin bind override, got %q", cfg.Admin.Bind)
	}
}

func TestLoadConfigReturnsDecodeError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(path, []byte("poll: ["), 0o600); err != nil {
		t.Fatalf("write testdata file: %v", err)
	}

	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected decode error")
	}
}

//nolint:paralleltest // manipulates shared lookupEnv globally
func TestApplyEnvOverridesRateLimit(t *testing.T) {
	origLookupEnv := lookupEnv

	t.Cleanup(func() {
		lookupEnv = origLookupEnv
	})

	lookupEnv = func(key string) (string, bool) {
		if key == envRateLimit {
			return " 1.5 ", true
		}

		return origLookupEnv(key)
	}

	cfg, err := loadConfig("./testdata/missing.yaml")
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if cfg.Poll.RateLimit != 1.5 {
		t.Fatalf("expected rate limit override 1.5, got %v", cfg.Poll.RateLimit)
	}
}
