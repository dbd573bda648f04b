package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/netman-network/netman/pkg/cli"
	"github.com/netman-network/netman/pkg/jumphost"
)

func newJumphostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jumphost",
		Short: "Manage the SSH jumphost used to reach devices",
	}
	cmd.AddCommand(newJumphostShowCmd(), newJumphostSetCmd(), newJumphostTestCmd())
	return cmd
}

func newJumphostShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active jumphost configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			cfg := svc.JumphostGet()
			state := cli.Red("disabled")
			if cfg.Enabled {
				state = cli.Green("enabled")
			}
			fmt.Printf("jumphost: %s\n", state)
			if cfg.Host != "" {
				fmt.Printf("  host:     %s:%d\n", cfg.Host, cfg.Port)
				fmt.Printf("  username: %s\n", cfg.Username)
				fmt.Printf("  password: %s\n", cfg.Password)
			}
			return nil
		},
	}
	return cmd
}

// jumphostFlags binds the shared set/test flag surface.
func jumphostFlags(cmd *cobra.Command, cfg *jumphost.Config, password *string) {
	cmd.Flags().StringVar(&cfg.Host, "host", "", "jumphost host")
	cmd.Flags().IntVar(&cfg.Port, "port", 22, "jumphost SSH port")
	cmd.Flags().StringVarP(&cfg.Username, "username", "u", "", "jumphost username")
	cmd.Flags().StringVar(password, "password", "", "jumphost password (prompted when omitted)")
}

// fillPassword resolves the password from the flag or an interactive
// prompt. Non-terminal stdin (scripts, CI) falls back to a plain read.
func fillPassword(cfg *jumphost.Config, password string) error {
	if password != "" {
		cfg.Password = password
		return nil
	}
	fmt.Fprintf(os.Stderr, "password for %s@%s: ", cfg.Username, cfg.Host)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		cfg.Password = string(raw)
		return nil
	}
	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	cfg.Password = line
	return nil
}

func newJumphostSetCmd() *cobra.Command {
	var (
		cfg      jumphost.Config
		password string
		disable  bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Configure and enable the jumphost",
		Long: `Configure the jumphost and enable it. The configuration is saved only
after a live connect/authenticate probe succeeds; on probe failure the
previous configuration stays active.

  netman jumphost set --host bastion.example.net -u ops
  netman jumphost set --disable`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			if disable {
				if err := svc.JumphostSet(jumphost.Config{Enabled: false}); err != nil {
					return err
				}
				fmt.Println("jumphost disabled")
				return nil
			}

			cfg.Enabled = true
			if err := fillPassword(&cfg, password); err != nil {
				return err
			}
			if err := svc.JumphostSet(cfg); err != nil {
				return err
			}
			fmt.Printf("jumphost %s:%d %s\n", cfg.Host, cfg.Port, cli.Green("enabled"))
			return nil
		},
	}

	jumphostFlags(cmd, &cfg, &password)
	cmd.Flags().BoolVar(&disable, "disable", false, "disable the jumphost")
	return cmd
}

func newJumphostTestCmd() *cobra.Command {
	var (
		cfg      jumphost.Config
		password string
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Probe a jumphost without saving it",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			cfg.Enabled = true
			if err := fillPassword(&cfg, password); err != nil {
				return err
			}
			if err := svc.JumphostProbe(cfg); err != nil {
				return fmt.Errorf("probe %s:%d failed: %w", cfg.Host, cfg.Port, err)
			}
			fmt.Printf("probe %s:%d %s\n", cfg.Host, cfg.Port, cli.Green("ok"))
			return nil
		},
	}

	jumphostFlags(cmd, &cfg, &password)
	return cmd
}
