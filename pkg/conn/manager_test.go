package conn_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/netman-network/netman/internal/testutil"
	"github.com/netman-network/netman/pkg/conn"
	"github.com/netman-network/netman/pkg/inventory"
	"github.com/netman-network/netman/pkg/jumphost"
	"github.com/netman-network/netman/pkg/secrets"
	"github.com/netman-network/netman/pkg/util"
)

func testDevice(transport inventory.Transport) *inventory.Device {
	return &inventory.Device{
		ID:        "dev-1",
		Name:      "zwe-r1",
		Host:      "10.0.0.1",
		Transport: transport,
		Port:      22,
		Username:  "admin",
		Password:  "p",
	}
}

func TestConnectReplacesExistingSession(t *testing.T) {
	d := &testutil.FakeDialer{}
	m := conn.NewManagerWithDialers(d, d, nil, nil)

	dev := testDevice(inventory.TransportSSH)
	if _, err := m.Connect(dev, time.Second); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if _, err := m.Connect(dev, time.Second); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	sessions := d.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("dialer handed out %d sessions, want 2", len(sessions))
	}
	if !sessions[0].Closed() {
		t.Error("replaced session was not closed")
	}
	if sessions[1].Closed() {
		t.Error("live session should not be closed")
	}
	if got := m.LiveCount(); got != 1 {
		t.Errorf("LiveCount = %d, want 1", got)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	d := &testutil.FakeDialer{}
	m := conn.NewManagerWithDialers(d, d, nil, nil)

	dev := testDevice(inventory.TransportSSH)
	if _, err := m.Connect(dev, time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}

	m.Disconnect(dev.ID)
	m.Disconnect(dev.ID) // second call must be a no-op
	m.Disconnect("never-connected")

	if m.IsConnected(dev.ID) {
		t.Error("device still connected after Disconnect")
	}
	if got := d.Sessions()[0].Closed(); !got {
		t.Error("session not closed on disconnect")
	}
}

func TestConnectDecryptFailureSkipsDial(t *testing.T) {
	sec, err := secrets.Open(filepath.Join(t.TempDir(), "key"))
	if err != nil {
		t.Fatalf("opening secrets: %v", err)
	}

	d := &testutil.FakeDialer{}
	m := conn.NewManagerWithDialers(d, d, sec, nil)

	dev := testDevice(inventory.TransportSSH)
	dev.Password = "enc:v1:bm90LXJlYWwtY2lwaGVydGV4dA==" // valid base64, wrong key

	if _, err := m.Connect(dev, time.Second); !errors.Is(err, util.ErrCrypto) {
		t.Fatalf("Connect error = %v, want ErrCrypto", err)
	}
	if d.Dials() != 0 {
		t.Errorf("dialer called %d times despite credential failure", d.Dials())
	}
}

func TestConnectDecryptsInventoryPassword(t *testing.T) {
	sec, err := secrets.Open(filepath.Join(t.TempDir(), "key"))
	if err != nil {
		t.Fatalf("opening secrets: %v", err)
	}
	ciphertext, err := sec.Encrypt("router-password")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	d := &testutil.FakeDialer{}
	m := conn.NewManagerWithDialers(d, d, sec, nil)

	dev := testDevice(inventory.TransportSSH)
	dev.Password = ciphertext
	if _, err := m.Connect(dev, time.Second); err != nil {
		t.Fatalf("connect with encrypted password: %v", err)
	}
}

func TestTelnetTransportUsesTelnetDialer(t *testing.T) {
	sshD := &testutil.FakeDialer{}
	telnetD := &testutil.FakeDialer{}
	m := conn.NewManagerWithDialers(sshD, telnetD, nil, nil)

	if _, err := m.Connect(testDevice(inventory.TransportTelnet), time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if sshD.Dials() != 0 || telnetD.Dials() != 1 {
		t.Errorf("dials: ssh=%d telnet=%d, want 0/1", sshD.Dials(), telnetD.Dials())
	}
}

func TestModeReflectsJumphost(t *testing.T) {
	d := &testutil.FakeDialer{}

	// No jumphost store: sessions are direct.
	m := conn.NewManagerWithDialers(d, d, nil, nil)
	dev := testDevice(inventory.TransportSSH)
	mode, err := m.Connect(dev, time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if mode != conn.ModeReal {
		t.Errorf("mode = %q, want %q", mode, conn.ModeReal)
	}

	// Enabled jumphost config on disk: sessions report jumphosted.
	dir := t.TempDir()
	sec, err := secrets.Open(filepath.Join(dir, "key"))
	if err != nil {
		t.Fatalf("opening secrets: %v", err)
	}
	cfgPath := filepath.Join(dir, "jumphost.json")
	raw, _ := json.Marshal(map[string]any{
		"enabled":  true,
		"host":     "bastion",
		"port":     22,
		"username": "ops",
	})
	if err := os.WriteFile(cfgPath, raw, 0o600); err != nil {
		t.Fatal(err)
	}
	jh, err := jumphost.NewStore(cfgPath, sec)
	if err != nil {
		t.Fatalf("jumphost store: %v", err)
	}

	m = conn.NewManagerWithDialers(d, d, nil, jh)
	mode, err = m.Connect(dev, time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if mode != conn.ModeJumphosted {
		t.Errorf("mode = %q, want %q", mode, conn.ModeJumphosted)
	}
	if got, err := m.Mode(dev.ID); err != nil || got != conn.ModeJumphosted {
		t.Errorf("Mode() = %q, %v", got, err)
	}
}

func TestSendNotConnected(t *testing.T) {
	d := &testutil.FakeDialer{}
	m := conn.NewManagerWithDialers(d, d, nil, nil)

	if _, err := m.Send("dev-1", "show version", time.Second); !errors.Is(err, util.ErrNotConnected) {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
}

func TestDisconnectAll(t *testing.T) {
	d := &testutil.FakeDialer{}
	m := conn.NewManagerWithDialers(d, d, nil, nil)

	for _, id := range []string{"dev-1", "dev-2"} {
		dev := testDevice(inventory.TransportSSH)
		dev.ID = id
		dev.Host = "10.0.0." + id[len(id)-1:]
		if _, err := m.Connect(dev, time.Second); err != nil {
			t.Fatalf("connect %s: %v", id, err)
		}
	}

	closed := m.DisconnectAll()
	if len(closed) != 2 {
		t.Errorf("DisconnectAll closed %d, want 2", len(closed))
	}
	if m.LiveCount() != 0 {
		t.Errorf("LiveCount = %d after DisconnectAll", m.LiveCount())
	}
}
