package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sessionguard/internal/config"
)

var (
	flagConfig  string
	flagAccount string
)

var rootCmd = &cobra.Command{
	Use:   "sessionguard",
	Short: "Delegated-credential authorization and spending limits",
	Long: "Validates signed call batches against session credentials, per-asset\n" +
		"spending windows, and a target allowlist. Administration — registering\n" +
		"credentials, setting policies, upgrades — is owner-only and local.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultPath(), "Path to config YAML")
	rootCmd.PersistentFlags().StringVar(&flagAccount, "account", "", "Account identifier")
}
