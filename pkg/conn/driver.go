package conn

import (
	"regexp"
	"strings"

	"github.com/netman-network/netman/pkg/inventory"
)

// driver captures the per-platform CLI behaviour a session needs: how the
// prompt looks and how pagination is disabled.
type driver struct {
	platform   inventory.Platform
	promptRE   *regexp.Regexp
	setupCmds  []string
	identifyRE *regexp.Regexp
}

// Prompts end in '#' (exec) or '>' (user exec). IOS-XR prefixes the prompt
// with "RP/0/..." on route processors, which the generic pattern covers.
var genericPromptRE = regexp.MustCompile(`(?m)^[^\s#>]*[#>]\s*$`)

var drivers = map[inventory.Platform]*driver{
	inventory.PlatformIOS: {
		platform:   inventory.PlatformIOS,
		promptRE:   genericPromptRE,
		setupCmds:  []string{"terminal length 0"},
		identifyRE: regexp.MustCompile(`Cisco IOS Software|IOS \(tm\)|IOS-XE`),
	},
	inventory.PlatformIOSXR: {
		platform:   inventory.PlatformIOSXR,
		promptRE:   genericPromptRE,
		setupCmds:  []string{"terminal length 0"},
		identifyRE: regexp.MustCompile(`IOS XR|IOS-XR`),
	},
	inventory.PlatformNXOS: {
		platform:   inventory.PlatformNXOS,
		promptRE:   genericPromptRE,
		setupCmds:  []string{"terminal length 0"},
		identifyRE: regexp.MustCompile(`NX-OS|Nexus`),
	},
}

// driverFor returns the driver for an explicit platform hint. Auto is
// resolved separately via identifyPlatform.
func driverFor(platform inventory.Platform) *driver {
	if d, ok := drivers[platform]; ok {
		return d
	}
	return drivers[inventory.PlatformIOS]
}

// identifyPlatform performs the one-shot "show version" sniff used when the
// inventory hint is auto. The result is cached on the session.
func identifyPlatform(showVersion string) inventory.Platform {
	for _, p := range []inventory.Platform{inventory.PlatformIOSXR, inventory.PlatformNXOS, inventory.PlatformIOS} {
		if drivers[p].identifyRE.MatchString(showVersion) {
			return p
		}
	}
	// Unrecognised banner: fall back to plain IOS semantics, which the
	// other platforms are command-compatible with for show commands.
	return inventory.PlatformIOS
}

// stripCommandEcho removes the echoed command line and the trailing prompt
// from raw terminal output.
func stripCommandEcho(raw, command string) string {
	lines := strings.Split(raw, "\n")
	start := 0
	if len(lines) > 0 && strings.Contains(lines[0], command) {
		start = 1
	}
	end := len(lines)
	for end > start && genericPromptRE.MatchString(strings.TrimRight(lines[end-1], "\r")) {
		end--
	}
	return strings.TrimRight(strings.Join(lines[start:end], "\n"), "\r\n")
}
