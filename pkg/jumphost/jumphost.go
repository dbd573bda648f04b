// Package jumphost holds the process-wide bastion configuration. When
// enabled, every device session is tunnelled through it. The config is the
// only global mutable state in the orchestrator; writes are rare and gated
// by a live probe.
package jumphost

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/netman-network/netman/pkg/secrets"
	"github.com/netman-network/netman/pkg/util"
)

// Config is the jumphost configuration with the password in cleartext,
// ready for dialing. It is never persisted in this form.
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
}

// fileConfig is the on-disk JSON shape. Passwords are stored encrypted.
type fileConfig struct {
	Enabled           bool   `json:"enabled"`
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Username          string `json:"username"`
	PasswordEncrypted string `json:"password_encrypted"`
}

// ProbeFunc verifies a config by live connect+authenticate+close.
type ProbeFunc func(Config) error

// Store guards the singleton config with a RW mutex.
type Store struct {
	mu      sync.RWMutex
	cfg     Config
	path    string
	secrets *secrets.Store
}

// NewStore loads the config from the JSON file at path (if present), then
// applies environment overrides (JUMPHOST_ENABLED, JUMPHOST_HOST,
// JUMPHOST_PORT, JUMPHOST_USERNAME, JUMPHOST_PASSWORD).
func NewStore(path string, sec *secrets.Store) (*Store, error) {
	s := &Store{path: path, secrets: sec}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fc fileConfig
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parsing jumphost config: %w", err)
		}
		password := ""
		if fc.PasswordEncrypted != "" {
			if password, err = sec.Decrypt(fc.PasswordEncrypted); err != nil {
				return nil, fmt.Errorf("jumphost password: %w", err)
			}
		}
		s.cfg = Config{
			Enabled:  fc.Enabled,
			Host:     fc.Host,
			Port:     fc.Port,
			Username: fc.Username,
			Password: password,
		}
	case os.IsNotExist(err):
		// No file yet: disabled until configured.
	default:
		return nil, fmt.Errorf("reading jumphost config: %w", err)
	}

	s.applyEnv()
	if s.cfg.Port == 0 {
		s.cfg.Port = 22
	}
	return s, nil
}

func (s *Store) applyEnv() {
	if v, ok := os.LookupEnv("JUMPHOST_ENABLED"); ok {
		s.cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := os.LookupEnv("JUMPHOST_HOST"); ok {
		s.cfg.Host = v
	}
	if v, ok := os.LookupEnv("JUMPHOST_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			s.cfg.Port = port
		}
	}
	if v, ok := os.LookupEnv("JUMPHOST_USERNAME"); ok {
		s.cfg.Username = v
	}
	if v, ok := os.LookupEnv("JUMPHOST_PASSWORD"); ok {
		s.cfg.Password = v
	}
}

// Current returns the active config, or nil when the jumphost is disabled.
// Dialers call this on every connection attempt.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.cfg.Enabled {
		return nil
	}
	cfg := s.cfg
	return &cfg
}

// Get returns the config with the password redacted, for display.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	if cfg.Password != "" {
		cfg.Password = "********"
	}
	return cfg
}

// Set validates and persists a new config. Enabling requires the live
// probe to succeed first; on probe failure the stored config is unchanged.
func (s *Store) Set(cfg Config, probe ProbeFunc) error {
	if cfg.Enabled {
		vb := &util.ValidationBuilder{}
		vb.Add(cfg.Host != "", "jumphost host is required when enabled")
		vb.Add(cfg.Username != "", "jumphost username is required when enabled")
		if err := vb.Err(); err != nil {
			return err
		}
		if cfg.Port == 0 {
			cfg.Port = 22
		}
		if probe == nil {
			return fmt.Errorf("enabling jumphost requires a probe: %w", util.ErrJumphostProbe)
		}
		if err := probe(cfg); err != nil {
			return fmt.Errorf("probe %s:%d: %v: %w", cfg.Host, cfg.Port, err, util.ErrJumphostProbe)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(cfg); err != nil {
		return err
	}
	s.cfg = cfg
	util.Infof("jumphost config saved: enabled=%v host=%s", cfg.Enabled, cfg.Host)
	return nil
}

func (s *Store) persist(cfg Config) error {
	encrypted := ""
	if cfg.Password != "" {
		var err error
		if encrypted, err = s.secrets.Encrypt(cfg.Password); err != nil {
			return fmt.Errorf("encrypting jumphost password: %w", err)
		}
	}
	fc := fileConfig{
		Enabled:           cfg.Enabled,
		Host:              cfg.Host,
		Port:              cfg.Port,
		Username:          cfg.Username,
		PasswordEncrypted: encrypted,
	}
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	return nil
}
