package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/netman-network/netman/pkg/cli"
	"github.com/netman-network/netman/pkg/topology"
)

func newTopologyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Build and inspect the OSPF topology",
	}
	cmd.AddCommand(newTopologyBuildCmd(), newTopologyLatestCmd())
	return cmd
}

func newTopologyBuildCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Derive a fresh topology from the latest collected output",
		Long: `Parse the newest OSPF documents per device (neighbor table, router and
network LSAs, interface brief, running-config) and persist the resulting
topology generation. Devices whose router id cannot be resolved are kept
as nodes without links.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			snap, err := svc.TopologyBuild(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(snap)
			}
			printTopology(snap)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
	return cmd
}

func newTopologyLatestCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the last persisted topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			snap, err := svc.TopologyLatest()
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(snap)
			}
			printTopology(snap)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
	return cmd
}

func printTopology(snap *topology.Snapshot) {
	m := snap.Metadata
	fmt.Printf("topology generated %s\n", m.GeneratedAt.Local().Format(time.DateTime))
	fmt.Printf("  nodes: %d, links: %d, physical: %d", m.NodeCount, m.LinkCount, m.PhysicalLinkCount)
	if m.AsymmetricLinkCount > 0 {
		fmt.Printf(" (%d asymmetric)", m.AsymmetricLinkCount)
	}
	if len(m.NodeOnlyDevices) > 0 {
		fmt.Printf(" (%d node-only)", len(m.NodeOnlyDevices))
	}
	if m.SkippedFiles > 0 {
		fmt.Printf(", %d files skipped", m.SkippedFiles)
	}
	fmt.Println()

	if len(snap.Nodes) > 0 {
		fmt.Println()
		t := cli.NewTable("NODE", "ROUTER ID", "COUNTRY", "PLATFORM").WithPrefix("  ")
		for _, n := range snap.Nodes {
			rid := n.RouterID
			if rid == "" {
				rid = cli.Dim("unresolved")
			}
			t.Row(n.Name, rid, n.Country, n.Platform)
		}
		t.Flush()
	}

	if len(snap.Links) > 0 {
		fmt.Println()
		t := cli.NewTable("SOURCE", "INTERFACE", "TARGET", "COST", "COST SOURCE").WithPrefix("  ")
		for _, l := range snap.Links {
			t.Row(l.Source, l.SourceInterface, l.Target,
				fmt.Sprintf("%d", l.Cost), l.CostSource)
		}
		t.Flush()
	}

	if len(snap.PhysicalLinks) > 0 {
		fmt.Println()
		t := cli.NewTable("PHYSICAL LINK", "COST A>B", "COST B>A", "SYMMETRY").WithPrefix("  ")
		for _, pl := range snap.PhysicalLinks {
			symmetry := cli.Green("symmetric")
			if pl.IsAsymmetric {
				symmetry = cli.Yellow("asymmetric")
			}
			t.Row(pl.ID, formatCost(pl.CostAToB), formatCost(pl.CostBToA), symmetry)
		}
		t.Flush()
	}
}

func formatCost(c *int) string {
	if c == nil {
		return cli.Dim("-")
	}
	return fmt.Sprintf("%d", *c)
}
