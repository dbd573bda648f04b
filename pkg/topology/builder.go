package topology

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/netman-network/netman/pkg/artifact"
	"github.com/netman-network/netman/pkg/inventory"
	"github.com/netman-network/netman/pkg/util"
)

const defaultCost = 1

// Node is one router in the topology.
type Node struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RouterID string `json:"router_id,omitempty"`
	Country  string `json:"country"`
	Platform string `json:"platform,omitempty"`
	Type     string `json:"type"`
	Status   string `json:"status"`
}

// Link is one directed OSPF adjacency. Identity is
// (Source, Target, SourceInterface); parallel links between the same pair
// of routers are distinct entries.
type Link struct {
	ID              string `json:"id"`
	Source          string `json:"source"`
	Target          string `json:"target"`
	Cost            int    `json:"cost"`
	CostSource      string `json:"cost_source"`
	SourceInterface string `json:"source_interface"`
	TargetInterface string `json:"target_interface"`
	Status          string `json:"status"`
}

// PhysicalLink is one consolidated bidirectional link between a router
// pair, carrying the cost observed from each end. RouterA sorts before
// RouterB. A nil cost means that direction was never observed.
type PhysicalLink struct {
	ID           string `json:"id"`
	RouterA      string `json:"router_a"`
	RouterB      string `json:"router_b"`
	CostAToB     *int   `json:"cost_a_to_b"`
	CostBToA     *int   `json:"cost_b_to_a"`
	InterfaceA   string `json:"interface_a,omitempty"`
	InterfaceB   string `json:"interface_b,omitempty"`
	CostSourceA  string `json:"cost_source_a,omitempty"`
	CostSourceB  string `json:"cost_source_b,omitempty"`
	IsAsymmetric bool   `json:"is_asymmetric"`
	Status       string `json:"status"`
}

// Metadata describes one topology generation.
type Metadata struct {
	NodeCount           int            `json:"node_count"`
	LinkCount           int            `json:"link_count"`
	PhysicalLinkCount   int            `json:"physical_link_count"`
	AsymmetricLinkCount int            `json:"asymmetric_link_count"`
	GeneratedAt         time.Time      `json:"generated_at"`
	DiscoveryMethod     string         `json:"discovery_method"`
	Sources             []string       `json:"sources"`
	CostSources         map[string]int `json:"cost_sources"`
	UniqueCosts         []int          `json:"unique_costs,omitempty"`
	SkippedFiles        int            `json:"skipped_files"`
	NodeOnlyDevices     []string       `json:"node_only_devices,omitempty"`
}

// Snapshot is a complete topology generation. Links are the directional
// adjacencies; PhysicalLinks consolidate each pair of directions into
// one entry so asymmetric costs are visible side by side.
type Snapshot struct {
	Nodes         []Node         `json:"nodes"`
	Links         []Link         `json:"links"`
	PhysicalLinks []PhysicalLink `json:"physical_links"`
	Metadata      Metadata       `json:"metadata"`
}

// Builder derives the topology from the latest artifacts per device.
type Builder struct {
	artifacts *artifact.Store
	inv       *inventory.Inventory
	store     *Store
}

// NewBuilder wires a builder. store may be nil when persistence is not
// wanted (tests).
func NewBuilder(artifacts *artifact.Store, inv *inventory.Inventory, store *Store) *Builder {
	return &Builder{artifacts: artifacts, inv: inv, store: store}
}

// deviceDocs is the latest artifact content per kind for one device.
type deviceDocs map[artifact.Kind]string

// Build scans the artifact store, parses the OSPF documents, and emits a
// snapshot. The snapshot is persisted (sqlite + timestamped JSON) when a
// store is attached. A single unparseable or missing file downgrades its
// device, never the whole build.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	files, err := b.artifacts.List(artifact.FolderText, "")
	if err != nil {
		return nil, err
	}

	// Inventory names are the authoritative device filter. Artifact
	// filenames carry lowercased names.
	known := make(map[string]inventory.Device)
	for _, d := range b.inv.All() {
		known[strings.ToLower(d.Name)] = d
	}

	skipped := 0
	docs := make(map[string]deviceDocs)
	for _, fi := range files {
		dev, ok := known[fi.Device]
		if !ok || fi.Kind == artifact.KindOther {
			continue
		}
		if docs[fi.Device] == nil {
			docs[fi.Device] = make(deviceDocs)
		}
		// List is newest first; the first file per kind wins.
		if _, seen := docs[fi.Device][fi.Kind]; seen {
			continue
		}
		content, rerr := b.artifacts.Read(artifact.FolderText, fi.Name)
		if rerr != nil {
			util.WithDevice(dev.Name).WithError(rerr).Warn("skipping unreadable artifact")
			skipped++
			continue
		}
		docs[fi.Device][fi.Kind] = string(content)
	}

	// Router ID <-> device bijection. Any document carrying the
	// "OSPF Router with ID" banner will do.
	routerIDToDevice := make(map[string]string)
	deviceToRouterID := make(map[string]string)
	for device, dd := range docs {
		rid := ""
		for _, kind := range []artifact.Kind{
			artifact.KindOSPFDatabase,
			artifact.KindOSPFDatabaseRouter,
			artifact.KindOSPFNeighbor,
		} {
			if content, ok := dd[kind]; ok {
				if rid = parseRouterID(content); rid != "" {
					break
				}
			}
		}
		if rid != "" {
			routerIDToDevice[rid] = device
			deviceToRouterID[device] = rid
		}
	}

	// Network LSAs are global: any device's view of a segment works.
	segments := make(map[string][]string)
	for _, dd := range docs {
		if content, ok := dd[artifact.KindOSPFDatabaseNetwork]; ok {
			for linkID, attached := range parseNetworkLSAs(content) {
				segments[linkID] = attached
			}
		}
	}

	var (
		nodes       []Node
		links       []Link
		nodeOnly    []string
		costSources = map[string]int{"configured": 0, "operational": 0, "lsa": 0, "default": 0}
		pairCounter = make(map[string]int)
	)

	for device, dd := range docs {
		dev := known[device]
		nodes = append(nodes, Node{
			ID:       device,
			Name:     device,
			RouterID: deviceToRouterID[device],
			Country:  dev.Country,
			Platform: string(dev.Platform),
			Type:     "router",
			Status:   "active",
		})

		sourceRouterID := deviceToRouterID[device]
		neighborsDoc, hasNeighbors := dd[artifact.KindOSPFNeighbor]
		if sourceRouterID == "" || !hasNeighbors {
			nodeOnly = append(nodeOnly, device)
			continue
		}

		lsaCosts := map[string]int{}
		if content, ok := dd[artifact.KindOSPFDatabaseRouter]; ok {
			lsaCosts = parseRouterLSACosts(content, sourceRouterID)
		}
		interfaceCosts := map[string]int{}
		if content, ok := dd[artifact.KindOSPFInterface]; ok {
			interfaceCosts = parseInterfaceBrief(content)
		}
		configuredCosts := map[string]int{}
		if content, ok := dd[artifact.KindOSPFConfig]; ok {
			configuredCosts = parseConfiguredCosts(content)
		}

		for _, adj := range parseNeighbors(neighborsDoc) {
			neighbor, ok := routerIDToDevice[adj.NeighborID]
			if !ok || neighbor == device {
				continue
			}
			if _, ok := known[neighbor]; !ok {
				continue
			}

			cost, source := resolveCost(adj, sourceRouterID, configuredCosts, interfaceCosts, lsaCosts, segments)
			costSources[source]++

			pairKey := device + "|" + neighbor
			pairCounter[pairKey]++
			links = append(links, Link{
				ID:              fmt.Sprintf("%s-%s-%d", device, neighbor, pairCounter[pairKey]),
				Source:          device,
				Target:          neighbor,
				Cost:            cost,
				CostSource:      source,
				SourceInterface: adj.Interface,
				TargetInterface: "unknown",
				Status:          "up",
			})
		}
	}

	physical := consolidatePhysicalLinks(links)
	asymmetric := 0
	for _, pl := range physical {
		if pl.IsAsymmetric {
			asymmetric++
		}
	}

	snap := &Snapshot{
		Nodes:         nodes,
		Links:         links,
		PhysicalLinks: physical,
		Metadata: Metadata{
			NodeCount:           len(nodes),
			LinkCount:           len(links),
			PhysicalLinkCount:   len(physical),
			AsymmetricLinkCount: asymmetric,
			GeneratedAt:         time.Now().UTC(),
			DiscoveryMethod:     "ospf",
			Sources:             []string{"router_lsa", "network_lsa", "interface", "neighbor"},
			CostSources:         costSources,
			UniqueCosts:         uniqueCosts(links),
			SkippedFiles:        skipped,
			NodeOnlyDevices:     nodeOnly,
		},
	}

	util.Infof("topology built: %d nodes, %d links, %d physical links (%d asymmetric, %d node-only, %d skipped files)",
		len(nodes), len(links), len(physical), asymmetric, len(nodeOnly), skipped)

	if b.store != nil {
		if err := b.store.SaveGeneration(ctx, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// resolveCost picks the link metric by source priority: configured
// running-config cost, then the operational interface brief, then the
// router LSA (when the network LSA confirms both routers share the
// segment), then the protocol default of 1.
func resolveCost(adj adjacency, sourceRouterID string, configured, operational, lsa map[string]int, segments map[string][]string) (int, string) {
	normalized := normalizeInterfaceName(adj.Interface)

	if cost, ok := configured[normalized]; ok {
		return cost, "configured"
	}
	if cost, ok := operational[adj.Interface]; ok {
		return cost, "operational"
	}
	if cost, ok := operational[normalized]; ok {
		return cost, "operational"
	}
	if cost, ok := operational[shortenAbbrev(adj.Interface)]; ok {
		return cost, "operational"
	}
	for linkID, cost := range lsa {
		if attachesBoth(segments[linkID], sourceRouterID, adj.NeighborID) {
			return cost, "lsa"
		}
	}
	return defaultCost, "default"
}

// shortenAbbrev maps a full interface name back to the abbreviated form
// the brief table uses (GigabitEthernet0/0/0/1 -> Gi0/0/0/1).
func shortenAbbrev(iface string) string {
	for _, n := range interfaceNames {
		if strings.HasPrefix(iface, n.full) {
			return n.abbrev + strings.TrimPrefix(iface, n.full)
		}
	}
	return iface
}

// consolidatePhysicalLinks folds the directional links into one entry
// per physical connection, pairing the two directions by router pair in
// two passes: first every link whose source sorts lower opens an entry,
// then the reverse direction is matched to it. Matching prefers the same
// interface name on both ends, the common point-to-point case; otherwise
// the first entry still missing its B side wins. A reverse link with no
// counterpart becomes its own entry so one-sided observations survive.
func consolidatePhysicalLinks(links []Link) []PhysicalLink {
	var physical []*PhysicalLink

	for _, l := range links {
		a, b := orderPair(l.Source, l.Target)
		if l.Source != a {
			continue
		}
		cost := l.Cost
		physical = append(physical, &PhysicalLink{
			RouterA:     a,
			RouterB:     b,
			CostAToB:    &cost,
			InterfaceA:  l.SourceInterface,
			CostSourceA: l.CostSource,
			Status:      "up",
		})
	}

	for _, l := range links {
		a, b := orderPair(l.Source, l.Target)
		if l.Source != b {
			continue
		}

		var matched *PhysicalLink
		for _, pl := range physical {
			if pl.RouterA != a || pl.RouterB != b || pl.CostBToA != nil {
				continue
			}
			if pl.InterfaceA == l.SourceInterface {
				matched = pl
				break
			}
			if matched == nil {
				matched = pl
			}
		}

		cost := l.Cost
		if matched != nil {
			matched.CostBToA = &cost
			matched.InterfaceB = l.SourceInterface
			matched.CostSourceB = l.CostSource
			continue
		}
		physical = append(physical, &PhysicalLink{
			RouterA:     a,
			RouterB:     b,
			CostBToA:    &cost,
			InterfaceB:  l.SourceInterface,
			CostSourceB: l.CostSource,
			Status:      "up",
		})
	}

	out := make([]PhysicalLink, 0, len(physical))
	for _, pl := range physical {
		pl.IsAsymmetric = pl.CostAToB != nil && pl.CostBToA != nil && *pl.CostAToB != *pl.CostBToA
		pl.ID = pl.RouterA + "-" + pl.RouterB
		if pl.InterfaceA != "" {
			pl.ID += "-" + shortenInterfaceName(pl.InterfaceA)
		}
		out = append(out, *pl)
	}
	return out
}

func orderPair(x, y string) (string, string) {
	if x <= y {
		return x, y
	}
	return y, x
}

func uniqueCosts(links []Link) []int {
	seen := make(map[int]bool)
	var out []int
	for _, l := range links {
		if !seen[l.Cost] {
			seen[l.Cost] = true
			out = append(out, l.Cost)
		}
	}
	sort.Ints(out)
	return out
}

func attachesBoth(attached []string, a, b string) bool {
	var hasA, hasB bool
	for _, r := range attached {
		if r == a {
			hasA = true
		}
		if r == b {
			hasB = true
		}
	}
	return hasA && hasB
}
