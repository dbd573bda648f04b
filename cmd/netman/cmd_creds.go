package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/netman-network/netman/pkg/inventory"
	"github.com/netman-network/netman/pkg/secrets"
)

func newCredsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Encrypt device credentials",
	}
	cmd.AddCommand(newCredsEncryptCmd(), newCredsMigrateCmd())
	return cmd
}

// openSecrets loads just the credential store. The creds commands do not
// need sessions or databases, so the full service is not wired.
func openSecrets() (*secrets.Store, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	sec, err := secrets.Open(cfg.EncryptionKeyPath)
	if err != nil {
		return nil, "", err
	}
	return sec, cfg.InventoryPath, nil
}

func newCredsEncryptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt one password for manual inventory edits",
		Long: `Read a password from the terminal and print its ciphertext, ready to
paste into the inventory file. Encrypting the same password twice yields
different ciphertexts; both decrypt to the same value.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sec, _, err := openSecrets()
			if err != nil {
				return err
			}

			fmt.Fprint(os.Stderr, "password: ")
			var plaintext string
			if term.IsTerminal(int(os.Stdin.Fd())) {
				raw, rerr := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(os.Stderr)
				if rerr != nil {
					return fmt.Errorf("reading password: %w", rerr)
				}
				plaintext = string(raw)
			} else if _, rerr := fmt.Fscanln(os.Stdin, &plaintext); rerr != nil {
				return fmt.Errorf("reading password: %w", rerr)
			}

			ciphertext, err := sec.Encrypt(plaintext)
			if err != nil {
				return err
			}
			fmt.Println(ciphertext)
			return nil
		},
	}
	return cmd
}

func newCredsMigrateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Encrypt legacy plaintext passwords in the inventory",
		Long: `Rewrite the inventory file, encrypting every plaintext password in
place. Already-encrypted values are left untouched, so running migrate
twice is a no-op.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sec, invPath, err := openSecrets()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(invPath)
			if err != nil {
				return fmt.Errorf("reading inventory: %w", err)
			}
			var f struct {
				Devices []inventory.Device `yaml:"devices"`
			}
			if err := yaml.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("parsing inventory: %w", err)
			}

			migrated := 0
			for i := range f.Devices {
				d := &f.Devices[i]
				if d.Password == "" || secrets.IsEncrypted(d.Password) {
					continue
				}
				enc, err := sec.Migrate(d.Password)
				if err != nil {
					return fmt.Errorf("device %q: %w", d.Name, err)
				}
				d.Password = enc
				migrated++
			}

			if migrated == 0 {
				fmt.Println("all passwords already encrypted")
				return nil
			}
			if dryRun {
				fmt.Printf("would encrypt %d password(s) in %s\n", migrated, invPath)
				return nil
			}

			out, err := yaml.Marshal(f)
			if err != nil {
				return fmt.Errorf("encoding inventory: %w", err)
			}
			if err := os.WriteFile(invPath, out, 0o600); err != nil {
				return fmt.Errorf("writing inventory: %w", err)
			}
			fmt.Printf("encrypted %d password(s) in %s\n", migrated, invPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	return cmd
}
