package conn

import (
	"strings"
	"time"
)

// commandTimeouts maps command prefixes to read timeouts. Commands that can
// return large output (full configs, LSA databases, all-interface detail)
// get longer windows than the 60s default.
var commandTimeouts = []struct {
	prefix  string
	timeout time.Duration
}{
	{"show running-config", 180 * time.Second},
	{"show ospf database", 120 * time.Second},
	{"show ip ospf database", 120 * time.Second},
	{"show interface", 120 * time.Second},
	{"show cdp neighbor detail", 90 * time.Second},
	{"terminal length", 10 * time.Second},
}

// CommandTimeout returns the read timeout for a command, falling back to
// the configured default.
func CommandTimeout(command string, defaultTimeout time.Duration) time.Duration {
	cmd := strings.ToLower(strings.TrimSpace(command))
	for _, ct := range commandTimeouts {
		if strings.HasPrefix(cmd, ct.prefix) {
			return ct.timeout
		}
	}
	return defaultTimeout
}
