package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sessionguard/internal/sigmode"
)

func init() {
	rootCmd.AddCommand(modeCmd)
	modeCmd.AddCommand(modeGetCmd)
	modeCmd.AddCommand(modeSetCmd)
}

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Signature mode operations",
	Long: "Mode 1 signs the raw batch payload. Mode 2 adds domain separation over\n" +
		"the account and nonce, so a signature cannot be replayed across accounts.\n" +
		"The transition is one-way: once at mode 2, mode 1 is rejected.",
}

var modeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the account's current signature mode",
	RunE:  runModeGet,
}

var modeSetCmd = &cobra.Command{
	Use:   "set <mode>",
	Short: "Raise the signature mode (1 or 2, downgrades rejected)",
	Args:  cobra.ExactArgs(1),
	RunE:  runModeSet,
}

func runModeGet(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	printJSON(map[string]any{
		"mode": uint8(s.acct.Mode),
		"name": s.acct.Mode.String(),
	})
	return nil
}

func runModeSet(cmd *cobra.Command, args []string) error {
	raw, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return fmt.Errorf("mode must be a small integer: %w", err)
	}
	next, err := sigmode.Normalize(uint8(raw))
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.acct.SetMode(s.owner(), next); err != nil {
		return err
	}
	if err := s.save(); err != nil {
		return err
	}
	fmt.Printf("signature mode now %d (%s)\n", uint8(s.acct.Mode), s.acct.Mode)
	return nil
}
