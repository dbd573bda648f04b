package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !filepath.IsAbs(cfg.DataRoot) {
		t.Errorf("DataRoot %q is not absolute", cfg.DataRoot)
	}
	if cfg.EncryptionKeyPath != filepath.Join(cfg.DataRoot, ".encryption_key") {
		t.Errorf("EncryptionKeyPath = %q", cfg.EncryptionKeyPath)
	}
	if cfg.JumphostConfigPath != filepath.Join(cfg.DataRoot, "jumphost.json") {
		t.Errorf("JumphostConfigPath = %q", cfg.JumphostConfigPath)
	}
	if cfg.ConnectTimeout() != 10*time.Second {
		t.Errorf("ConnectTimeout = %v", cfg.ConnectTimeout())
	}
	if cfg.ReadTimeout() != 60*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.ReadTimeout())
	}
	if cfg.ProgressBusBuffer != 256 {
		t.Errorf("ProgressBusBuffer = %d", cfg.ProgressBusBuffer)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
data_root: ` + filepath.Join(dir, "store") + `
ssh_connect_timeout_s: 5
log_level: debug
`
	if err := os.WriteFile(filepath.Join(dir, "netman.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataRoot != filepath.Join(dir, "store") {
		t.Errorf("DataRoot = %q", cfg.DataRoot)
	}
	if cfg.ConnectTimeoutS != 5 {
		t.Errorf("ConnectTimeoutS = %d", cfg.ConnectTimeoutS)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_ROOT", filepath.Join(dir, "env-root"))
	t.Setenv("SSH_READ_TIMEOUT_S", "90")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataRoot != filepath.Join(dir, "env-root") {
		t.Errorf("DataRoot = %q", cfg.DataRoot)
	}
	if cfg.ReadTimeout() != 90*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.ReadTimeout())
	}
}

func TestNonPositiveValuesFallBack(t *testing.T) {
	dir := t.TempDir()
	yaml := "ssh_connect_timeout_s: -1\nprogress_bus_buffer: 0\n"
	if err := os.WriteFile(filepath.Join(dir, "netman.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConnectTimeoutS != 10 {
		t.Errorf("ConnectTimeoutS = %d, want default 10", cfg.ConnectTimeoutS)
	}
	if cfg.ProgressBusBuffer != 256 {
		t.Errorf("ProgressBusBuffer = %d, want default 256", cfg.ProgressBusBuffer)
	}
}
