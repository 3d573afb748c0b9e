package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sessionguard/internal/model"
)

var (
	credValidAfter int64
	credValidUntil int64
	credMaxCalls   uint64
	credTargets    []string
)

func init() {
	rootCmd.AddCommand(credentialCmd)
	credentialCmd.AddCommand(credentialRegisterCmd)
	credentialCmd.AddCommand(credentialRevokeCmd)
	credentialCmd.AddCommand(credentialRevokeAllCmd)
	credentialCmd.AddCommand(credentialListCmd)

	credentialRegisterCmd.Flags().Int64Var(&credValidAfter, "valid-after", 0, "Unix time the credential becomes usable (0 = immediately)")
	credentialRegisterCmd.Flags().Int64Var(&credValidUntil, "valid-until", 0, "Unix time the credential expires (required)")
	credentialRegisterCmd.Flags().Uint64Var(&credMaxCalls, "max-calls", 0, "Call quota (0 = unlimited)")
	credentialRegisterCmd.Flags().StringSliceVar(&credTargets, "target", nil, "Allowed target, repeatable (empty = any target)")
	credentialRegisterCmd.MarkFlagRequired("valid-until")
}

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Session credential operations",
	Long:  "Register, revoke, and inspect the session credentials delegated by the account owner.",
}

var credentialRegisterCmd = &cobra.Command{
	Use:   "register <key-hex>",
	Short: "Register a session credential",
	Long: "Registers a credential identified by its hex-encoded ed25519 verification\n" +
		"key, with a validity window, an optional call quota, and an optional\n" +
		"target allowlist.",
	Args: cobra.ExactArgs(1),
	RunE: runCredentialRegister,
}

var credentialRevokeCmd = &cobra.Command{
	Use:   "revoke <key-hex>",
	Short: "Revoke one credential and drop its policies",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialRevoke,
}

var credentialRevokeAllCmd = &cobra.Command{
	Use:   "revoke-all",
	Short: "Emergency: revoke every outstanding credential at once",
	Long: "Bumps the account's revocation epoch. Every credential registered before\n" +
		"this command is dead immediately, without enumerating them.",
	RunE: runCredentialRevokeAll,
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered credentials",
	RunE:  runCredentialList,
}

func runCredentialRegister(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	err = s.acct.RegisterCredential(s.owner(), model.Credential{
		ID:             args[0],
		ValidAfter:     credValidAfter,
		ValidUntil:     credValidUntil,
		MaxCalls:       credMaxCalls,
		AllowedTargets: credTargets,
	}, nowUnix())
	if err != nil {
		return err
	}
	if err := s.save(); err != nil {
		return err
	}
	fmt.Printf("registered credential %s\n", args[0])
	return nil
}

func runCredentialRevoke(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.acct.RevokeCredential(s.owner(), args[0]); err != nil {
		return err
	}
	if err := s.save(); err != nil {
		return err
	}
	fmt.Printf("revoked credential %s\n", args[0])
	return nil
}

func runCredentialRevokeAll(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.acct.EmergencyRevokeAll(s.owner()); err != nil {
		return err
	}
	if err := s.save(); err != nil {
		return err
	}
	fmt.Printf("revoked all credentials, epoch now %d\n", s.acct.Credentials.Epoch())
	return nil
}

func runCredentialList(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	type row struct {
		ID             string   `json:"id"`
		Valid          bool     `json:"valid"`
		ValidAfter     int64    `json:"valid_after"`
		ValidUntil     int64    `json:"valid_until"`
		MaxCalls       uint64   `json:"max_calls"`
		CallsUsed      uint64   `json:"calls_used"`
		AllowedTargets []string `json:"allowed_targets,omitempty"`
	}

	now := nowUnix()
	var rows []row
	for _, c := range s.acct.Credentials.List() {
		rows = append(rows, row{
			ID:             c.ID,
			Valid:          s.acct.Credentials.IsValid(c.ID, now),
			ValidAfter:     c.ValidAfter,
			ValidUntil:     c.ValidUntil,
			MaxCalls:       c.MaxCalls,
			CallsUsed:      c.CallsUsed,
			AllowedTargets: c.AllowedTargets,
		})
	}
	printJSON(rows)
	return nil
}
