package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func newTestCmd(t *testing.T, path string, changed bool) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVarP(&configFile, "config", "c", path, "")
	if changed {
		if err := cmd.Flags().Set("config", path); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	return cmd
}

func TestLoadConfigMissingDefaultFallsBackToEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DRIP_DATABASE_PATH", filepath.Join(dir, "env.db"))

	cmd := newTestCmd(t, filepath.Join(dir, "missing.yaml"), false)
	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Database.Path != filepath.Join(dir, "env.db") {
		t.Errorf("Database.Path = %v", cfg.Database.Path)
	}
}

func TestLoadConfigExplicitMissingFileFails(t *testing.T) {
	cmd := newTestCmd(t, filepath.Join(t.TempDir(), "missing.yaml"), true)
	if _, err := loadConfig(cmd); err == nil {
		t.Error("loadConfig() expected error for explicit missing file")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drip.yaml")
	content := "database:\n  path: " + filepath.Join(dir, "file.db") + "\ndispatcher:\n  batch_size: 2\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cmd := newTestCmd(t, path, true)
	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Dispatcher.BatchSize != 2 {
		t.Errorf("Dispatcher.BatchSize = %v, want 2", cfg.Dispatcher.BatchSize)
	}

	database, err := openConfiguredDB(cfg)
	if err != nil {
		t.Fatalf("openConfiguredDB() error = %v", err)
	}
	defer database.Close()

	v, dirty, err := database.Version()
	if err != nil || dirty || v == 0 {
		t.Errorf("Version() = %d, %v, %v", v, dirty, err)
	}
}
