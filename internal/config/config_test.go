package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yourorg/procurement-sync/internal/fetch"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Lock.Backend != "postgres" || cfg.Lock.TTL != time.Hour {
		t.Fatalf("lock: %+v", cfg.Lock)
	}
	if cfg.Temporal.TaskQueue != "procurement-sync" {
		t.Fatalf("task queue: %s", cfg.Temporal.TaskQueue)
	}
	cn := cfg.Comprasnet.Fetch("comprasnet")
	if cn.MaxRetries != 3 || cn.Backoff.Strategy != fetch.Fixed || cn.Backoff.Base != 2*time.Second {
		t.Fatalf("comprasnet: %+v", cn)
	}
	pn := cfg.PNCP.Fetch("pncp")
	if pn.Backoff.Strategy != fetch.Exponential || pn.Backoff.Base != time.Second || pn.RateLimit != 5 {
		t.Fatalf("pncp: %+v", pn)
	}
	if d := cfg.PNCP.Detail(); d.BaseURL != "https://pncp.gov.br/api/pncp" || d.Pipeline != "pncp" {
		t.Fatalf("pncp detail: %+v", d)
	}
	if cfg.Inlabs.Backoff().Base != 5*time.Second {
		t.Fatalf("inlabs backoff: %+v", cfg.Inlabs.Backoff())
	}
	if strings.Join(cfg.Inlabs.Sections, ",") != "DO1,DO2,DO3" {
		t.Fatalf("sections: %v", cfg.Inlabs.Sections)
	}
	if cfg.Sync.ValidityWindow != 100*24*time.Hour {
		t.Fatalf("validity window: %v", cfg.Sync.ValidityWindow)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PROCSYNC_LOCK_BACKEND", "badger")
	t.Setenv("PROCSYNC_LOCK_TTL", "30m")
	t.Setenv("PROCSYNC_SYNC_UASGS", "153080,160001 170002")
	t.Setenv("PROCSYNC_PNCP_MAX_RETRIES", "5")
	t.Setenv("PROCSYNC_COMPRASNET_TOKEN", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Lock.Backend != "badger" || cfg.Lock.TTL != 30*time.Minute {
		t.Fatalf("lock: %+v", cfg.Lock)
	}
	if strings.Join(cfg.Sync.UASGs, "|") != "153080|160001|170002" {
		t.Fatalf("uasgs: %q", cfg.Sync.UASGs)
	}
	if cfg.PNCP.MaxRetries != 5 {
		t.Fatalf("pncp retries: %d", cfg.PNCP.MaxRetries)
	}
	if h := cfg.Comprasnet.Fetch("comprasnet").Headers["Authorization"]; h != "Bearer secret" {
		t.Fatalf("auth header: %q", h)
	}
}

func TestFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procsync.yaml")
	yaml := `
archive:
  prefix: s3://raw-archive/procsync
inlabs:
  sections: [DO1]
  backoff_base: 10s
pncp:
  max_concurrency: 8
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROCSYNC_CONFIG", path)
	t.Setenv("PROCSYNC_PNCP_MAX_CONCURRENCY", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Archive.Prefix != "s3://raw-archive/procsync" {
		t.Fatalf("archive: %q", cfg.Archive.Prefix)
	}
	if len(cfg.Inlabs.Sections) != 1 || cfg.Inlabs.BackoffBase != 10*time.Second {
		t.Fatalf("inlabs: %+v", cfg.Inlabs)
	}
	if cfg.PNCP.Stage().MaxConcurrency != 2 {
		t.Fatalf("environment must win over file: %d", cfg.PNCP.MaxConcurrency)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("PROCSYNC_LOCK_BACKEND", "redis")
	t.Setenv("PROCSYNC_PNCP_BACKOFF_STRATEGY", "linear")
	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"lock backend", "pncp.backoff_strategy"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
