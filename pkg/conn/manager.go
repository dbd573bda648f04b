package conn

import (
	"fmt"
	"sync"
	"time"

	"github.com/netman-network/netman/pkg/inventory"
	"github.com/netman-network/netman/pkg/jumphost"
	"github.com/netman-network/netman/pkg/metrics"
	"github.com/netman-network/netman/pkg/secrets"
	"github.com/netman-network/netman/pkg/util"
)

// Mode records how a session was established.
type Mode string

const (
	ModeReal       Mode = "real"
	ModeJumphosted Mode = "jumphosted"
)

// Manager owns the registry of live sessions, one per device. It is safe
// for concurrent use; connect attempts for the same device serialise on a
// per-device lock.
type Manager struct {
	sshDialer    Dialer
	telnetDialer Dialer
	secrets      *secrets.Store
	jumphost     *jumphost.Store

	mu       sync.Mutex
	sessions map[string]*entry
	locks    map[string]*sync.Mutex
}

type entry struct {
	session Session
	mode    Mode
}

// NewManager builds a Manager with production dialers.
func NewManager(sec *secrets.Store, jh *jumphost.Store) *Manager {
	current := func() *jumphost.Config {
		if jh == nil {
			return nil
		}
		return jh.Current()
	}
	return &Manager{
		sshDialer:    &SSHDialer{Jumphost: current},
		telnetDialer: &TelnetDialer{Jumphost: current},
		secrets:      sec,
		jumphost:     jh,
		sessions:     make(map[string]*entry),
		locks:        make(map[string]*sync.Mutex),
	}
}

// NewManagerWithDialers builds a Manager with injected dialers (tests).
func NewManagerWithDialers(sshD, telnetD Dialer, sec *secrets.Store, jh *jumphost.Store) *Manager {
	m := NewManager(sec, jh)
	m.sshDialer = sshD
	m.telnetDialer = telnetD
	return m
}

func (m *Manager) deviceLock(deviceID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[deviceID] = l
	}
	return l
}

// Connect establishes a session to the device, replacing any existing one.
// The inventory password is decrypted here; a ciphertext that cannot be
// decrypted fails the device (no plaintext fallback).
func (m *Manager) Connect(device *inventory.Device, timeout time.Duration) (Mode, error) {
	lock := m.deviceLock(device.ID)
	lock.Lock()
	defer lock.Unlock()

	password := device.Password
	if secrets.IsEncrypted(password) {
		var err error
		if password, err = m.secrets.Decrypt(password); err != nil {
			return "", fmt.Errorf("device %s credentials: %w", device.Name, err)
		}
	} else if password != "" {
		// Legacy plaintext entries still connect, but are flagged so the
		// migration sweep can be run.
		util.WithDevice(device.Name).Warn("inventory password is not encrypted; run 'netman creds migrate'")
	}

	mode := ModeReal
	if m.jumphost != nil && m.jumphost.Current() != nil {
		mode = ModeJumphosted
	}

	dialer := m.sshDialer
	if device.Transport == inventory.TransportTelnet {
		dialer = m.telnetDialer
	}

	util.WithDevice(device.Name).Infof("connecting (%s, %s)", device.Transport, mode)
	session, err := dialer.Dial(device, password, timeout)
	if err != nil {
		metrics.ConnectionFailures.Inc()
		return "", err
	}

	m.mu.Lock()
	if old, ok := m.sessions[device.ID]; ok {
		old.session.Close()
		metrics.LiveSessions.Dec()
	}
	m.sessions[device.ID] = &entry{session: session, mode: mode}
	m.mu.Unlock()
	metrics.LiveSessions.Inc()

	util.WithDevice(device.Name).Infof("connected (driver=%s)", session.Platform())
	return mode, nil
}

// Disconnect closes the device session. Idempotent: a device that is not
// connected is not an error.
func (m *Manager) Disconnect(deviceID string) {
	lock := m.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	e, ok := m.sessions[deviceID]
	if ok {
		delete(m.sessions, deviceID)
	}
	m.mu.Unlock()

	if ok {
		e.session.Close()
		metrics.LiveSessions.Dec()
	}
}

// DisconnectAll closes every live session and returns the ids closed.
func (m *Manager) DisconnectAll() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
	return ids
}

// IsConnected reports whether a session is registered for the device.
func (m *Manager) IsConnected(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[deviceID]
	return ok
}

// Session returns the live session for a device.
func (m *Manager) Session(deviceID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", deviceID, util.ErrNotConnected)
	}
	return e.session, nil
}

// Send runs a command on a connected device with the given read timeout.
func (m *Manager) Send(deviceID, command string, readTimeout time.Duration) (string, error) {
	session, err := m.Session(deviceID)
	if err != nil {
		return "", err
	}
	return session.Send(command, readTimeout)
}

// Mode reports how the device's session was established.
func (m *Manager) Mode(deviceID string) (Mode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[deviceID]
	if !ok {
		return "", fmt.Errorf("device %s: %w", deviceID, util.ErrNotConnected)
	}
	return e.mode, nil
}

// LiveCount returns the number of open sessions.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
