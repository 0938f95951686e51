package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.DatabaseDriver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.DatabaseDriver)
	}
	if cfg.ProbeTimeout != 10*time.Second {
		t.Errorf("expected 10s probe timeout, got %s", cfg.ProbeTimeout)
	}
	if cfg.ProbeConcurrency != 1 {
		t.Errorf("expected sequential probing by default, got %d", cfg.ProbeConcurrency)
	}
	if !cfg.RestoreAlertState {
		t.Error("expected alert state restore to be on by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("PROBE_TIMEOUT", "3s")
	t.Setenv("PROBE_CONCURRENCY", "4")
	t.Setenv("RESTORE_ALERT_STATE", "false")
	t.Setenv("RETENTION_DAYS", "not-a-number")

	cfg := Load()
	if cfg.DatabaseDriver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.DatabaseDriver)
	}
	if cfg.ProbeTimeout != 3*time.Second {
		t.Errorf("expected 3s probe timeout, got %s", cfg.ProbeTimeout)
	}
	if cfg.ProbeConcurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", cfg.ProbeConcurrency)
	}
	if cfg.RestoreAlertState {
		t.Error("expected alert state restore to be off")
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("expected invalid value to fall back to 90, got %d", cfg.RetentionDays)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	cfg := Load()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse([]string{"-p", "9100", "--probe-delay", "2s"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfg.HTTPPort != "9100" {
		t.Errorf("expected flag to override port, got %s", cfg.HTTPPort)
	}
	if cfg.ProbeDelay != 2*time.Second {
		t.Errorf("expected probe delay 2s, got %s", cfg.ProbeDelay)
	}
}
