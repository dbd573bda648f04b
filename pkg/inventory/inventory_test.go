package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/netman-network/netman/pkg/util"
)

func TestNewDefaults(t *testing.T) {
	inv, err := New([]Device{
		{ID: "d1", Name: "zwe-r1", Host: "10.0.0.1"},
		{ID: "d2", Name: "deu-r2", Host: "10.0.0.2", Transport: TransportTelnet},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d1, _ := inv.Get("d1")
	if d1.Transport != TransportSSH || d1.Port != 22 {
		t.Errorf("d1 defaults = %s/%d, want ssh/22", d1.Transport, d1.Port)
	}
	if d1.Platform != PlatformAuto {
		t.Errorf("d1 platform = %q, want auto", d1.Platform)
	}
	if d1.Country != "ZWE" {
		t.Errorf("d1 country = %q, want ZWE (derived from hostname)", d1.Country)
	}

	d2, _ := inv.Get("d2")
	if d2.Port != 23 {
		t.Errorf("telnet default port = %d, want 23", d2.Port)
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New([]Device{
		{ID: "d1", Name: "r1", Host: "10.0.0.1"},
		{ID: "d2", Name: "r1", Host: "10.0.0.1"},
	})
	if !errors.Is(err, util.ErrValidation) {
		t.Errorf("duplicate (name, host) err = %v, want ErrValidation", err)
	}

	_, err = New([]Device{
		{ID: "d1", Name: "r1", Host: "10.0.0.1"},
		{ID: "d1", Name: "r2", Host: "10.0.0.2"},
	})
	if !errors.Is(err, util.ErrValidation) {
		t.Errorf("duplicate id err = %v, want ErrValidation", err)
	}
}

func TestNewRejectsUnknownTransport(t *testing.T) {
	_, err := New([]Device{{ID: "d1", Name: "r1", Host: "10.0.0.1", Transport: "serial"}})
	if !errors.Is(err, util.ErrValidation) {
		t.Errorf("unknown transport err = %v, want ErrValidation", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	content := `devices:
  - id: d1
    name: usa-r1
    host: 192.0.2.1
    username: admin
    password: "enc:v1:AAAA"
    platform: ios-xr
  - id: d2
    name: usa-r2
    host: 192.0.2.2
    transport: telnet
    country: DEU
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	inv, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if inv.Len() != 2 {
		t.Fatalf("Len = %d, want 2", inv.Len())
	}

	d1, err := inv.GetByName("usa-r1")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if d1.Platform != PlatformIOSXR {
		t.Errorf("platform = %q, want ios-xr", d1.Platform)
	}

	d2, _ := inv.Get("d2")
	if d2.Country != "DEU" {
		t.Errorf("explicit country = %q, want DEU", d2.Country)
	}

	if _, err := inv.Get("missing"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
}
