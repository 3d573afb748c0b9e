package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(upgradeCmd)
	upgradeCmd.AddCommand(upgradeScheduleCmd)
	upgradeCmd.AddCommand(upgradeExecuteCmd)
	upgradeCmd.AddCommand(upgradeCancelCmd)
	upgradeCmd.AddCommand(upgradeShowCmd)
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Timelocked logic upgrade operations",
	Long: "Scheduling an upgrade starts a timelock (config upgrade_delay_seconds).\n" +
		"Execution before the timelock expires is rejected; cancellation is free.",
}

var upgradeScheduleCmd = &cobra.Command{
	Use:   "schedule <logic-id>",
	Short: "Schedule an upgrade behind the timelock",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpgradeSchedule,
}

var upgradeExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute the scheduled upgrade once the timelock has passed",
	RunE:  runUpgradeExecute,
}

var upgradeCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the scheduled upgrade",
	RunE:  runUpgradeCancel,
}

var upgradeShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the pending upgrade, if any",
	RunE:  runUpgradeShow,
}

func runUpgradeSchedule(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.acct.ScheduleUpgrade(s.owner(), args[0], nowUnix()); err != nil {
		return err
	}
	if err := s.save(); err != nil {
		return err
	}
	fmt.Printf("upgrade to %s scheduled, executable at %d\n", args[0], s.acct.Upgrade.ETA)
	return nil
}

func runUpgradeExecute(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	logicID, err := s.acct.ExecuteUpgrade(s.owner(), nowUnix())
	if err != nil {
		return err
	}
	if err := s.save(); err != nil {
		return err
	}
	fmt.Printf("upgraded to %s\n", logicID)
	return nil
}

func runUpgradeCancel(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.acct.CancelUpgrade(s.owner()); err != nil {
		return err
	}
	if err := s.save(); err != nil {
		return err
	}
	fmt.Println("upgrade cancelled")
	return nil
}

func runUpgradeShow(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	if !s.acct.Upgrade.Scheduled {
		fmt.Println("no upgrade scheduled")
		return nil
	}
	printJSON(s.acct.Upgrade)
	return nil
}
