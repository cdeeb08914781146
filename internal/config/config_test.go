package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("PALM_NOTION_SECRET", "secret_abc")
	t.Setenv("PALM_HTTP_PORT", "8081")
	t.Setenv("PALM_CACHE_TTL", "90")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.NotionSecret != "secret_abc" {
		t.Fatalf("unexpected notion secret: %q", cfg.NotionSecret)
	}
	if cfg.HTTPPort != 8081 {
		t.Fatalf("HTTPPort=%d, want 8081", cfg.HTTPPort)
	}
	if cfg.CacheTTL != 90*time.Second {
		t.Fatalf("CacheTTL=%s, want 90s", cfg.CacheTTL)
	}
	if cfg.PreloadWindow != 5 {
		t.Fatalf("PreloadWindow=%d, want 5", cfg.PreloadWindow)
	}
	if cfg.Databases != DefaultDatabases() {
		t.Fatalf("expected default databases, got %+v", cfg.Databases)
	}
}

func TestLoadRequiresNotionSecret(t *testing.T) {
	t.Setenv("PALM_NOTION_SECRET", "")
	t.Setenv("GARAM_NOTION_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without notion secret")
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("GARAM_NOTION_SECRET", "legacy")
	t.Setenv("DATABASE_ID", "11111111-2222-3333-4444-555555555555")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.NotionSecret != "legacy" {
		t.Fatalf("expected legacy secret alias to be honored, got %q", cfg.NotionSecret)
	}
	if cfg.Databases.Dialogue != "11111111-2222-3333-4444-555555555555" {
		t.Fatalf("dialogue db=%q", cfg.Databases.Dialogue)
	}
	if len(cfg.LegacyEnvWarnings) < 2 {
		t.Fatalf("expected legacy env warnings, got %v", cfg.LegacyEnvWarnings)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port", "PALM_HTTP_PORT", "70000"},
		{"preload", "PALM_PRELOAD_WINDOW", "0"},
		{"pool", "PALM_MAX_POOLED_AUDIO", "3"},
		{"sample rate", "PALM_TRACING_SAMPLE_RATE", "1.5"},
		{"broker", "PALM_EVENT_BROKER", "kafka"},
		{"db id", "PALM_DB_BOOK", "not-an-id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PALM_NOTION_SECRET", "secret")
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", tt.key, tt.val)
			}
		})
	}
}

func TestLoadDatabasesFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "databases.yaml")
	body := "dialogue: aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee\nbook: 0123456789abcdef0123456789abcdef\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("PALM_DB_BOOK", "fedcba98-7654-3210-fedc-ba9876543210")

	dbs, err := LoadDatabases(path)
	if err != nil {
		t.Fatalf("load databases: %v", err)
	}
	if dbs.Dialogue != "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee" {
		t.Errorf("dialogue=%q, want file value", dbs.Dialogue)
	}
	if dbs.Book != "fedcba98-7654-3210-fedc-ba9876543210" {
		t.Errorf("book=%q, want env override", dbs.Book)
	}
	if dbs.Character != DefaultDatabases().Character {
		t.Errorf("character=%q, want default", dbs.Character)
	}
}

func TestLoadDatabasesMissingFile(t *testing.T) {
	if _, err := LoadDatabases(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
