package cli

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sessionguard/internal/audit"
	"github.com/ppiankov/sessionguard/internal/model"
)

var validateDryRun bool

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateDryRun, "check", false, "Dry-run: report the decision without mutating any state")
}

// batchFile is the on-disk encoding of a signed batch.
type batchFile struct {
	Account      string       `json:"account" yaml:"account"`
	CredentialID string       `json:"credential_id" yaml:"credential_id"`
	Nonce        uint64       `json:"nonce" yaml:"nonce"`
	Calls        []model.Call `json:"calls" yaml:"calls"`
	Signature    string       `json:"signature" yaml:"signature"`
}

var validateCmd = &cobra.Command{
	Use:   "validate <batch-file>",
	Short: "Validate a signed batch file and commit it",
	Long: "Reads a batch (YAML or JSON), validates it against the account's\n" +
		"credentials, policies, and allowlist, and commits on allow. With\n" +
		"--check the decision is reported and nothing changes. Every\n" +
		"non-dry-run decision lands in the audit log.\n\n" +
		"Exit code 0 on allow, 1 on deny.",
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func loadBatchFile(path string) (*model.Batch, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read batch file: %w", err)
	}

	var bf batchFile
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(raw, &bf)
	} else {
		err = yaml.Unmarshal(raw, &bf)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parse batch file: %w", err)
	}

	sig, err := hex.DecodeString(bf.Signature)
	if err != nil {
		return nil, nil, fmt.Errorf("signature is not valid hex: %w", err)
	}
	return &model.Batch{
		Account:      bf.Account,
		CredentialID: bf.CredentialID,
		Nonce:        bf.Nonce,
		Calls:        bf.Calls,
	}, sig, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	batch, sig, err := loadBatchFile(args[0])
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	if batch.Account != s.acct.ID {
		return fmt.Errorf("batch is addressed to %s, not %s", batch.Account, s.acct.ID)
	}

	var (
		out  *model.Outcome
		verr error
	)
	if validateDryRun {
		out, verr = s.acct.Check(batch, sig, nowUnix())
	} else {
		out, verr = s.acct.ValidateAndExecute(batch, sig, nowUnix(), nil)

		if err := s.save(); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}
		log, lerr := audit.Open(s.cfg.AuditLog)
		if lerr != nil {
			return fmt.Errorf("open audit log: %w", lerr)
		}
		rerr := log.Record(audit.FromOutcome(out, verr, s.hash))
		log.Close()
		if rerr != nil {
			return fmt.Errorf("record audit entry: %w", rerr)
		}
	}

	printJSON(map[string]any{
		"batch_id": out.BatchID,
		"decision": out.Decision,
		"stage":    out.Stage,
		"code":     errCode(verr),
		"reason":   out.Reason,
		"charged":  out.Charged,
	})
	if out.Decision != model.Allow {
		os.Exit(1)
	}
	return nil
}

func errCode(err error) string {
	if err == nil {
		return ""
	}
	return model.ErrorCode(err)
}
