package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sessionguard/internal/spend"
)

var (
	policyMaxPerCall   uint64
	policyMaxPerWindow uint64
	policyWindow       int64
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policySetCmd)
	policyCmd.AddCommand(policyDisableCmd)
	policyCmd.AddCommand(policyRemoveCmd)
	policyCmd.AddCommand(policyShowCmd)

	policySetCmd.Flags().Uint64Var(&policyMaxPerCall, "max-per-call", 0, "Ceiling on a single batch's aggregate per asset (required)")
	policySetCmd.Flags().Uint64Var(&policyMaxPerWindow, "max-per-window", 0, "Ceiling on cumulative spend inside one window (required)")
	policySetCmd.Flags().Int64Var(&policyWindow, "window-seconds", 0, "Rolling window length in seconds (required)")
	policySetCmd.MarkFlagRequired("max-per-call")
	policySetCmd.MarkFlagRequired("max-per-window")
	policySetCmd.MarkFlagRequired("window-seconds")
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Spending policy operations",
	Long: "Each policy binds one (credential, asset) pair to per-call and rolling\n" +
		"window ceilings. A credential with no policy for an asset spends it freely;\n" +
		"a disabled policy keeps its row but stops limiting.",
}

var policySetCmd = &cobra.Command{
	Use:   "set <key-hex> <asset>",
	Short: "Create or replace a policy, resetting its window",
	Args:  cobra.ExactArgs(2),
	RunE:  runPolicySet,
}

var policyDisableCmd = &cobra.Command{
	Use:   "disable <key-hex> <asset>",
	Short: "Disable a policy without deleting it",
	Args:  cobra.ExactArgs(2),
	RunE:  runPolicyDisable,
}

var policyRemoveCmd = &cobra.Command{
	Use:   "remove <key-hex> <asset>",
	Short: "Delete a policy outright",
	Args:  cobra.ExactArgs(2),
	RunE:  runPolicyRemove,
}

var policyShowCmd = &cobra.Command{
	Use:   "show [key-hex]",
	Short: "Show policy snapshots, optionally for one credential",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPolicyShow,
}

func runPolicySet(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	err = s.acct.SetPolicy(s.owner(), args[0], args[1], spend.Limits{
		MaxPerCall:    policyMaxPerCall,
		MaxPerWindow:  policyMaxPerWindow,
		WindowSeconds: policyWindow,
	}, nowUnix())
	if err != nil {
		return err
	}
	if err := s.save(); err != nil {
		return err
	}
	fmt.Printf("policy set for %s on %s\n", args[0], args[1])
	return nil
}

func runPolicyDisable(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.acct.DisablePolicy(s.owner(), args[0], args[1]); err != nil {
		return err
	}
	if err := s.save(); err != nil {
		return err
	}
	fmt.Printf("policy disabled for %s on %s\n", args[0], args[1])
	return nil
}

func runPolicyRemove(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.acct.RemovePolicy(s.owner(), args[0], args[1]); err != nil {
		return err
	}
	if err := s.save(); err != nil {
		return err
	}
	fmt.Printf("policy removed for %s on %s\n", args[0], args[1])
	return nil
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	credID := ""
	if len(args) == 1 {
		credID = args[0]
	}
	printJSON(s.acct.Policies.Snapshots(credID))
	return nil
}
