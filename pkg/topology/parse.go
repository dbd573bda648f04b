// Package topology reconstructs the OSPF network graph from collected
// command output: router and network LSAs supply link identity and
// metrics, interface briefs and running-config supply per-interface
// costs, and neighbor tables supply the adjacencies themselves.
package topology

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	ipv4RE       = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
	routerWithRE = regexp.MustCompile(`OSPF Router with ID \((\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\)`)
	advRouterRE  = regexp.MustCompile(`Advertising Router:\s+(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)
	lsIDRE       = regexp.MustCompile(`Link State ID:\s+(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)
	drAddrRE     = regexp.MustCompile(`\(Link ID\)\s+Designated Router address:\s+(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)
	tos0RE       = regexp.MustCompile(`TOS 0 [Mm]etrics?:\s+(\d+)`)
	attachedRE   = regexp.MustCompile(`Attached Router:\s+(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)
	costLineRE   = regexp.MustCompile(`cost\s+(\d+)`)
)

// parseRouterID pulls the local Router ID from any output carrying the
// "OSPF Router with ID (x.x.x.x)" banner. Empty when absent.
func parseRouterID(content string) string {
	if m := routerWithRE.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return ""
}

// parseRouterLSACosts extracts {DR address -> TOS0 metric} for transit
// links advertised by sourceRouterID. The database lists every router's
// LSA, so entries from other advertisers are skipped.
func parseRouterLSACosts(content, sourceRouterID string) map[string]int {
	costs := make(map[string]int)
	lines := strings.Split(content, "\n")

	currentRouter := ""
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if m := lsIDRE.FindStringSubmatch(line); m != nil {
			currentRouter = m[1]
			continue
		}
		// Advertising Router is authoritative when both appear.
		if m := advRouterRE.FindStringSubmatch(line); m != nil {
			currentRouter = m[1]
			continue
		}
		if currentRouter != sourceRouterID {
			continue
		}
		if !strings.Contains(line, "connected to: a Transit Network") {
			continue
		}

		// The DR address and metric follow within a few lines.
		linkID := ""
		for j := i + 1; j < len(lines) && j <= i+10; j++ {
			if m := drAddrRE.FindStringSubmatch(lines[j]); m != nil {
				linkID = m[1]
			}
			if m := tos0RE.FindStringSubmatch(lines[j]); m != nil {
				if cost, err := strconv.Atoi(m[1]); err == nil && linkID != "" {
					costs[linkID] = cost
				}
				i = j
				break
			}
		}
	}
	return costs
}

// parseNetworkLSAs maps each transit segment's Link State ID (the DR
// address) to the router ids attached to it.
func parseNetworkLSAs(content string) map[string][]string {
	segments := make(map[string][]string)
	current := ""
	for _, line := range strings.Split(content, "\n") {
		if m := lsIDRE.FindStringSubmatch(line); m != nil {
			current = m[1]
			if _, ok := segments[current]; !ok {
				segments[current] = nil
			}
			continue
		}
		if current == "" {
			continue
		}
		if m := attachedRE.FindStringSubmatch(line); m != nil {
			segments[current] = append(segments[current], m[1])
		}
	}
	return segments
}

// parseInterfaceBrief reads the "show ospf interface brief" table into
// {interface -> cost}. Interface names come back abbreviated (Gi0/0/0/1).
func parseInterfaceBrief(content string) map[string]int {
	costs := make(map[string]int)
	parsing := false
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(line, "Interface") && strings.Contains(line, "Cost") {
			parsing = true
			continue
		}
		if !parsing || strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 5 {
			continue
		}
		if cost, err := strconv.Atoi(parts[4]); err == nil {
			costs[parts[0]] = cost
		}
	}
	return costs
}

// parseConfiguredCosts reads explicit per-interface costs out of
// "show running-config router ospf". Configured costs reflect admin
// intent and outrank everything the protocol reports.
func parseConfiguredCosts(content string) map[string]int {
	costs := make(map[string]int)
	currentInterface := ""
	inArea := false

	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(stripped, "area "):
			inArea = true
		case inArea && strings.HasPrefix(stripped, "interface "):
			currentInterface = strings.TrimSpace(strings.TrimPrefix(stripped, "interface "))
		case stripped == "!":
			currentInterface = ""
		case currentInterface != "" && strings.Contains(stripped, "cost "):
			if m := costLineRE.FindStringSubmatch(stripped); m != nil {
				if cost, err := strconv.Atoi(m[1]); err == nil {
					costs[currentInterface] = cost
				}
			}
		}
	}
	return costs
}

// adjacency is one usable row of a neighbor table.
type adjacency struct {
	NeighborID string
	Address    string
	Interface  string
}

// parseNeighbors reads "show ospf neighbor" output, keeping only FULL
// adjacencies on non-management interfaces.
func parseNeighbors(content string) []adjacency {
	var out []adjacency
	parsing := false
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(line, "Neighbor ID") {
			parsing = true
			continue
		}
		if !parsing || strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 6 {
			continue
		}
		neighborID, state, address, iface := parts[0], parts[2], parts[4], parts[5]
		if !ipv4RE.MatchString(neighborID) {
			continue
		}
		if !strings.Contains(state, "FULL") {
			continue
		}
		if isManagementInterface(iface) {
			continue
		}
		out = append(out, adjacency{NeighborID: neighborID, Address: address, Interface: iface})
	}
	return out
}

func isManagementInterface(iface string) bool {
	lower := strings.ToLower(iface)
	return strings.Contains(lower, "mgmt") ||
		strings.Contains(lower, "management") ||
		strings.Contains(lower, "ma0")
}

// interfaceNames maps IOS-XR full interface names to their table
// abbreviations. Order matters: longest full names match first.
var interfaceNames = []struct {
	full   string
	abbrev string
}{
	{"TwentyFiveGigE", "Tf"},
	{"HundredGigE", "Hu"},
	{"FortyGigE", "Fo"},
	{"TenGigE", "Te"},
	{"GigabitEthernet", "Gi"},
	{"Bundle-Ether", "BE"},
	{"Loopback", "Lo"},
	{"MgmtEth", "Mg"},
}

// normalizeInterfaceName expands abbreviated names (Gi0/0/0/1) to their
// full form (GigabitEthernet0/0/0/1) so costs keyed by config names match
// names from the brief table. Unknown types pass through untouched.
func normalizeInterfaceName(iface string) string {
	for _, n := range interfaceNames {
		if strings.HasPrefix(iface, n.full) {
			return iface
		}
	}
	for _, n := range interfaceNames {
		if strings.HasPrefix(iface, n.abbrev) {
			return n.full + strings.TrimPrefix(iface, n.abbrev)
		}
	}
	return iface
}

// shortenInterfaceName compacts a full interface name for use in link
// ids: GigabitEthernet0/0/0/1 -> Gi0001.
func shortenInterfaceName(iface string) string {
	out := iface
	for _, n := range interfaceNames {
		if strings.HasPrefix(iface, n.full) {
			out = n.abbrev + strings.TrimPrefix(iface, n.full)
			break
		}
	}
	return strings.ReplaceAll(out, "/", "")
}
