package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/af-corp/antigravity-gateway/internal/vault"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Encrypt or decrypt values with the credential vault",
}

var vaultEncryptCmd = &cobra.Command{
	Use:   "encrypt [value]",
	Short: "Encrypt a value (reads stdin when no argument is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, value, err := vaultInput(args)
		if err != nil {
			return err
		}
		out, err := v.Encrypt(cmd.Context(), value)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var vaultDecryptCmd = &cobra.Command{
	Use:   "decrypt [value]",
	Short: "Decrypt a vault blob (reads stdin when no argument is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, value, err := vaultInput(args)
		if err != nil {
			return err
		}
		res, err := v.DecryptWithMigration(cmd.Context(), value)
		if err != nil {
			return err
		}
		if res.UsedFallback != "" {
			fmt.Fprintf(os.Stderr, "decrypted with fallback key from %s\n", res.UsedFallback)
		}
		fmt.Println(res.Value)
		return nil
	},
}

var vaultSourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Show where the master key is kept",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		// Source is empty until the key has been acquired.
		if _, err := v.Encrypt(cmd.Context(), "source-check"); err != nil {
			return err
		}
		fmt.Println(v.Source())
		return nil
	},
}

func init() {
	vaultCmd.AddCommand(vaultEncryptCmd, vaultDecryptCmd, vaultSourceCmd)
	rootCmd.AddCommand(vaultCmd)
}

func openVault() (*vault.Vault, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return vault.NewDefault(cfg.Vault.Service, cfg.Vault.Dir), nil
}

func vaultInput(args []string) (*vault.Vault, string, error) {
	v, err := openVault()
	if err != nil {
		return nil, "", err
	}
	var value string
	if len(args) == 1 {
		value = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", fmt.Errorf("read stdin: %w", err)
		}
		value = strings.TrimRight(string(data), "\r\n")
	}
	return v, value, nil
}
