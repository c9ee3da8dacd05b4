package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DBPath == "" {
		t.Error("expected a default db path")
	}
	if cfg.DashboardAddr != "127.0.0.1:8377" {
		t.Errorf("DashboardAddr = %q, want 127.0.0.1:8377", cfg.DashboardAddr)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
db_path: /tmp/custom.db
log_file: /tmp/tm.log
mirrors:
  - name: codex
    dir: /tmp/mirrors/codex
    id_prefix: codex
  - name: gemini
    dir: /tmp/mirrors/gemini
    metadata_key: gem_sync
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.LogFile != "/tmp/tm.log" {
		t.Errorf("LogFile = %q", cfg.LogFile)
	}
	if len(cfg.Mirrors) != 2 {
		t.Fatalf("got %d mirrors, want 2", len(cfg.Mirrors))
	}
	if cfg.Mirrors[0].IDPrefix != "codex" {
		t.Errorf("IDPrefix = %q", cfg.Mirrors[0].IDPrefix)
	}
	if cfg.Mirrors[1].MetadataKey != "gem_sync" {
		t.Errorf("MetadataKey = %q", cfg.Mirrors[1].MetadataKey)
	}
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestMirrorByName(t *testing.T) {
	cfg := &Config{Mirrors: []Mirror{{Name: "codex", Dir: "/m/codex"}}}

	m, err := cfg.MirrorByName("codex")
	if err != nil {
		t.Fatalf("MirrorByName() failed: %v", err)
	}
	if m.Dir != "/m/codex" {
		t.Errorf("Dir = %q", m.Dir)
	}
	if _, err := cfg.MirrorByName("absent"); err == nil {
		t.Error("expected error for unknown mirror")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written config failed: %v", err)
	}
	if len(cfg.Mirrors) == 0 {
		t.Error("example config should include a mirror")
	}

	if err := WriteDefault(path); err == nil {
		t.Error("expected refusal to overwrite an existing config")
	}
}
