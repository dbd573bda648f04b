package jumphost

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/netman-network/netman/pkg/secrets"
	"github.com/netman-network/netman/pkg/util"
)

func openTestStore(t *testing.T) (*Store, *secrets.Store, string) {
	t.Helper()
	dir := t.TempDir()
	sec, err := secrets.Open(filepath.Join(dir, "key"))
	if err != nil {
		t.Fatalf("opening secrets: %v", err)
	}
	path := filepath.Join(dir, "jumphost.json")
	s, err := NewStore(path, sec)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, sec, path
}

func TestMissingFileMeansDisabled(t *testing.T) {
	s, _, _ := openTestStore(t)
	if s.Current() != nil {
		t.Error("Current() should be nil with no config file")
	}
	if cfg := s.Get(); cfg.Enabled {
		t.Error("Get().Enabled = true with no config file")
	}
}

func TestSetPersistsAndReloads(t *testing.T) {
	s, sec, path := openTestStore(t)

	probed := false
	err := s.Set(Config{
		Enabled:  true,
		Host:     "bastion.example.net",
		Username: "ops",
		Password: "hunter2",
	}, func(Config) error { probed = true; return nil })
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !probed {
		t.Error("enabling did not run the probe")
	}

	// Password must be encrypted at rest.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "hunter2") {
		t.Error("plaintext password written to disk")
	}
	if !strings.Contains(string(raw), "enc:v1:") {
		t.Error("persisted password is not a ciphertext")
	}

	// A fresh store reads the same config back.
	reloaded, err := NewStore(path, sec)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cur := reloaded.Current()
	if cur == nil {
		t.Fatal("Current() nil after reload")
	}
	if cur.Host != "bastion.example.net" || cur.Password != "hunter2" || cur.Port != 22 {
		t.Errorf("reloaded config = %+v", cur)
	}
}

func TestSetProbeFailureLeavesConfigUnchanged(t *testing.T) {
	s, _, path := openTestStore(t)

	if err := s.Set(Config{Enabled: true, Host: "good", Username: "ops"},
		func(Config) error { return nil }); err != nil {
		t.Fatalf("initial Set: %v", err)
	}

	err := s.Set(Config{Enabled: true, Host: "bad", Username: "ops"},
		func(Config) error { return errors.New("auth failed") })
	if !errors.Is(err, util.ErrJumphostProbe) {
		t.Fatalf("Set error = %v, want ErrJumphostProbe", err)
	}

	if cur := s.Current(); cur == nil || cur.Host != "good" {
		t.Errorf("config changed despite probe failure: %+v", cur)
	}
	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "bad") {
		t.Error("failed config written to disk")
	}
}

func TestSetValidation(t *testing.T) {
	s, _, _ := openTestStore(t)

	err := s.Set(Config{Enabled: true}, func(Config) error { return nil })
	if !errors.Is(err, util.ErrValidation) {
		t.Errorf("Set without host/username = %v, want ErrValidation", err)
	}
}

func TestDisableNeedsNoProbe(t *testing.T) {
	s, _, _ := openTestStore(t)

	if err := s.Set(Config{Enabled: false}, nil); err != nil {
		t.Fatalf("disabling: %v", err)
	}
	if s.Current() != nil {
		t.Error("Current() non-nil after disable")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JUMPHOST_ENABLED", "true")
	t.Setenv("JUMPHOST_HOST", "env-bastion")
	t.Setenv("JUMPHOST_PORT", "2222")
	t.Setenv("JUMPHOST_USERNAME", "env-user")
	t.Setenv("JUMPHOST_PASSWORD", "env-pass")

	s, _, _ := openTestStore(t)
	cur := s.Current()
	if cur == nil {
		t.Fatal("Current() nil with JUMPHOST_ENABLED=true")
	}
	if cur.Host != "env-bastion" || cur.Port != 2222 || cur.Username != "env-user" || cur.Password != "env-pass" {
		t.Errorf("env override config = %+v", cur)
	}
}

func TestGetRedactsPassword(t *testing.T) {
	s, _, _ := openTestStore(t)
	if err := s.Set(Config{Enabled: true, Host: "h", Username: "u", Password: "secret"},
		func(Config) error { return nil }); err != nil {
		t.Fatal(err)
	}

	got := s.Get()
	if got.Password == "secret" || got.Password == "" {
		t.Errorf("Get().Password = %q, want redaction marker", got.Password)
	}
	// Dial path still sees the real password.
	if cur := s.Current(); cur.Password != "secret" {
		t.Errorf("Current().Password = %q", cur.Password)
	}
}
