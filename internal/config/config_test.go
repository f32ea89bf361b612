package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8470 {
		t.Errorf("server.port = %d, want 8470", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("database.driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.GitHub.APIURL != "https://api.github.com" {
		t.Errorf("github.api_url = %q", cfg.GitHub.APIURL)
	}
	if cfg.Sync.Workers != 2 {
		t.Errorf("sync.workers = %d, want 2", cfg.Sync.Workers)
	}
	if cfg.Sync.Interval != 24*time.Hour {
		t.Errorf("sync.interval = %v, want 24h", cfg.Sync.Interval)
	}
	if cfg.Sync.EnqueueTimeout != 5*time.Second {
		t.Errorf("sync.enqueue_timeout = %v, want 5s", cfg.Sync.EnqueueTimeout)
	}
	if len(cfg.Selection) != 0 {
		t.Errorf("selection = %v, want empty", cfg.Selection)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  mode: production
mirror:
  root: /srv/mirrors
sync:
  workers: 4
  interval: 1h
webhook:
  secret: hunter2
selection:
  - acme/widget
  - acme-org/*
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9000 || cfg.Server.Mode != "production" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Mirror.Root != "/srv/mirrors" {
		t.Errorf("mirror.root = %q", cfg.Mirror.Root)
	}
	if cfg.Sync.Workers != 4 {
		t.Errorf("sync.workers = %d, want 4", cfg.Sync.Workers)
	}
	if cfg.Sync.Interval != time.Hour {
		t.Errorf("sync.interval = %v, want 1h", cfg.Sync.Interval)
	}
	if cfg.Webhook.Secret != "hunter2" {
		t.Errorf("webhook.secret = %q", cfg.Webhook.Secret)
	}

	patterns, err := cfg.Patterns()
	if err != nil {
		t.Fatalf("Patterns failed: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("got %d patterns, want 2", len(patterns))
	}
	if patterns[0].Wildcard() {
		t.Errorf("patterns[0] should be a literal")
	}
	if !patterns[1].Wildcard() {
		t.Errorf("patterns[1] should be a wildcard")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("REPLIGIT_SERVER_PORT", "7777")
	t.Setenv("REPLIGIT_GITHUB_TOKEN", "tok123")

	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("server.port = %d, want 7777 from env", cfg.Server.Port)
	}
	if cfg.GitHub.Token != "tok123" {
		t.Errorf("github.token = %q, want tok123 from env", cfg.GitHub.Token)
	}
}

func TestLoadInvalidSelection(t *testing.T) {
	path := writeConfig(t, `
selection:
  - not-an-identifier
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load succeeded with invalid selection pattern, want error")
	}
}

func TestLoadInvalidWorkers(t *testing.T) {
	path := writeConfig(t, `
sync:
  workers: 0
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load succeeded with zero workers, want error")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load succeeded with missing explicit config file, want error")
	}
}
