// Package inventory reads the device inventory. The inventory is owned by
// an external CRUD system; the orchestrator treats it as read-only and only
// relies on its contract: stable ids, unique (name, host) pairs, and
// encrypted passwords.
package inventory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/netman-network/netman/pkg/util"
)

// Transport selects the session type used to reach a device.
type Transport string

const (
	TransportSSH    Transport = "ssh"
	TransportTelnet Transport = "telnet"
)

// Platform hints at the device OS for driver selection.
type Platform string

const (
	PlatformIOS   Platform = "ios"
	PlatformIOSXR Platform = "ios-xr"
	PlatformNXOS  Platform = "nx-os"
	PlatformAuto  Platform = "auto"
)

// Device is one router in the inventory.
type Device struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	Host      string    `yaml:"host"`
	Transport Transport `yaml:"transport"`
	Port      int       `yaml:"port"`
	Username  string    `yaml:"username"`
	// Password is stored encrypted (see pkg/secrets); the connection
	// manager decrypts it at dial time.
	Password string   `yaml:"password"`
	Country  string   `yaml:"country"`
	Platform Platform `yaml:"platform"`
}

// Inventory is an indexed, validated device set.
type Inventory struct {
	devices []Device
	byID    map[string]*Device
	byName  map[string]*Device
}

type inventoryFile struct {
	Devices []Device `yaml:"devices"`
}

// Load reads and validates the inventory YAML at path.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	var f inventoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}
	return New(f.Devices)
}

// New builds an Inventory from a device list, applying defaults and
// enforcing the (name, host) uniqueness invariant.
func New(devices []Device) (*Inventory, error) {
	inv := &Inventory{
		byID:   make(map[string]*Device, len(devices)),
		byName: make(map[string]*Device, len(devices)),
	}
	seen := make(map[string]struct{}, len(devices))

	for i := range devices {
		d := devices[i]
		vb := &util.ValidationBuilder{}
		vb.Add(d.ID != "", fmt.Sprintf("device %d: id is required", i))
		vb.Add(d.Name != "", fmt.Sprintf("device %d: name is required", i))
		vb.Add(d.Host != "", fmt.Sprintf("device %q: host is required", d.Name))
		if err := vb.Err(); err != nil {
			return nil, err
		}

		if d.Transport == "" {
			d.Transport = TransportSSH
		}
		if d.Transport != TransportSSH && d.Transport != TransportTelnet {
			return nil, util.NewValidationError(fmt.Sprintf("device %q: unknown transport %q", d.Name, d.Transport))
		}
		if d.Port == 0 {
			if d.Transport == TransportTelnet {
				d.Port = 23
			} else {
				d.Port = 22
			}
		}
		if d.Platform == "" {
			d.Platform = PlatformAuto
		}
		if d.Country == "" {
			d.Country = util.CountryFromHostname(d.Name)
		}

		key := d.Name + "|" + d.Host
		if _, dup := seen[key]; dup {
			return nil, util.NewValidationError(fmt.Sprintf("duplicate device (name=%q, host=%q)", d.Name, d.Host))
		}
		seen[key] = struct{}{}
		if _, dup := inv.byID[d.ID]; dup {
			return nil, util.NewValidationError(fmt.Sprintf("duplicate device id %q", d.ID))
		}

		inv.devices = append(inv.devices, d)
		inv.byID[d.ID] = &inv.devices[len(inv.devices)-1]
		inv.byName[d.Name] = &inv.devices[len(inv.devices)-1]
	}

	return inv, nil
}

// Get returns the device with the given id.
func (inv *Inventory) Get(id string) (*Device, error) {
	d, ok := inv.byID[id]
	if !ok {
		return nil, fmt.Errorf("device %q: %w", id, util.ErrNotFound)
	}
	return d, nil
}

// GetByName returns the device with the given name.
func (inv *Inventory) GetByName(name string) (*Device, error) {
	d, ok := inv.byName[name]
	if !ok {
		return nil, fmt.Errorf("device %q: %w", name, util.ErrNotFound)
	}
	return d, nil
}

// Names returns the set of device names. The topology builder uses this as
// the authoritative filter for recognised devices.
func (inv *Inventory) Names() []string {
	names := make([]string, 0, len(inv.devices))
	for i := range inv.devices {
		names = append(names, inv.devices[i].Name)
	}
	return names
}

// All returns every device.
func (inv *Inventory) All() []Device {
	out := make([]Device, len(inv.devices))
	copy(out, inv.devices)
	return out
}

// Len returns the device count.
func (inv *Inventory) Len() int { return len(inv.devices) }
