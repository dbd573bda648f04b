package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netman-network/netman/pkg/api"
	"github.com/netman-network/netman/pkg/config"
	"github.com/netman-network/netman/pkg/version"
)

var (
	verboseFlag bool
	configDir   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "netman",
		Short: "Network automation orchestrator",
		Long: `Netman runs show commands against Cisco routers over SSH or telnet,
stores the collected output, and derives the OSPF topology from it.

Jobs:
  netman job start --devices zwe-r1,zwe-r2 --command "show ospf neighbor"
  netman job status --latest
  netman job watch <job-id>
  netman job stop <job-id>

Topology:
  netman topology build
  netman topology latest

Collected output:
  netman files list
  netman files cat <filename>`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", `directory containing netman.yaml (default ".")`)

	rootCmd.AddCommand(
		newJobCmd(),
		newTopologyCmd(),
		newFilesCmd(),
		newJumphostCmd(),
		newCredsCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println("netman " + version.Info())
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads netman.yaml plus the environment. --verbose overrides
// the configured log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	if verboseFlag {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// openService wires the full orchestrator. The caller must Close it.
func openService(cmd *cobra.Command) (*api.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return api.New(cmd.Context(), cfg)
}
