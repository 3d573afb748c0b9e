package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sessionguard/internal/account"
	"github.com/ppiankov/sessionguard/internal/config"
	"github.com/ppiankov/sessionguard/internal/store"
)

var (
	initOwnerKey string
	initForce    bool
)

func init() {
	initCmd.Flags().StringVar(&initOwnerKey, "owner-key", "", "Hex-encoded ed25519 owner verification key (required)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.MarkFlagRequired("owner-key")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap config and create the account record",
	Long: `Creates the config directory, writes the default config, and stores
a fresh account row bound to the given owner key. The account starts at
signature mode 1 with no credentials and no policies.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if flagAccount == "" {
		return fmt.Errorf("--account is required")
	}

	if err := os.MkdirAll(filepath.Dir(flagConfig), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	cfg := config.DefaultConfig()
	if _, err := os.Stat(flagConfig); err == nil && !initForce {
		loaded, lerr := config.Load(flagConfig)
		if lerr != nil {
			return fmt.Errorf("existing config is unreadable, pass --force to overwrite: %w", lerr)
		}
		cfg = loaded
	} else {
		if err := cfg.Write(flagConfig); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("wrote %s\n", flagConfig)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	db, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.LoadAccount(flagAccount, cfg); err == nil {
		return fmt.Errorf("account %s already exists", flagAccount)
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return err
	}

	acct := account.New(flagAccount, initOwnerKey, cfg)
	if err := db.SaveAccount(acct); err != nil {
		return err
	}

	fmt.Printf("created account %s (mode %d)\n", acct.ID, acct.Mode)
	return nil
}
