package artifact

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/netman-network/netman/pkg/util"
)

// TimestampLayout is the second-precision timestamp embedded in artifact
// filenames.
const TimestampLayout = "2006-01-02_15-04-05"

// Kind classifies an artifact by the command that produced it. The
// topology builder only consumes the OSPF kinds.
type Kind string

const (
	KindOSPFNeighbor        Kind = "ospf_neighbor"
	KindOSPFDatabaseRouter  Kind = "ospf_database_router"
	KindOSPFDatabaseNetwork Kind = "ospf_database_network"
	KindOSPFInterface       Kind = "ospf_interface"
	KindOSPFConfig          Kind = "ospf_config"
	KindOSPFDatabase        Kind = "ospf_database"
	KindOther               Kind = "other"
)

// kindPatterns maps sanitised-command substrings to kinds. Order matters:
// the more specific database kinds must match before the generic one.
var kindPatterns = []struct {
	substr string
	kind   Kind
}{
	{"ospf_neighbor", KindOSPFNeighbor},
	{"ospf_database_router", KindOSPFDatabaseRouter},
	{"ospf_database_network", KindOSPFDatabaseNetwork},
	{"ospf_interface", KindOSPFInterface},
	{"running-config_router_ospf", KindOSPFConfig},
	{"ospf_database", KindOSPFDatabase},
}

// KindOf derives the artifact kind from a sanitised command.
func KindOf(sanitisedCommand string) Kind {
	for _, p := range kindPatterns {
		if strings.Contains(sanitisedCommand, p.substr) {
			return p.kind
		}
	}
	return KindOther
}

var filenameRE = regexp.MustCompile(`^([a-z0-9-]+)_([a-z0-9_-]+)_(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})$`)

// Filename builds the artifact base name (no extension) for a device,
// command, and timestamp. Device names are lowercased to satisfy the
// filename grammar.
func Filename(deviceName, command string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s",
		strings.ToLower(deviceName),
		util.SanitizeCommand(command),
		ts.Format(TimestampLayout))
}

// ParseFilename reverses Filename. The device is the prefix before the
// first underscore (device names contain no underscores by grammar), the
// timestamp is the fixed-width suffix, the sanitised command is the rest.
func ParseFilename(base string) (device, command string, ts time.Time, err error) {
	m := filenameRE.FindStringSubmatch(base)
	if m == nil {
		return "", "", time.Time{}, fmt.Errorf("filename %q does not match artifact grammar", base)
	}
	// Device names contain no underscores by grammar, so the first
	// underscore unambiguously ends the device segment.
	device, command = m[1], m[2]
	ts, err = time.Parse(TimestampLayout, m[3])
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("filename %q: bad timestamp: %w", base, err)
	}
	return device, command, ts, nil
}
