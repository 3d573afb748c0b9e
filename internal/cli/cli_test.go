package cli

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sessionguard/internal/model"
	"github.com/ppiankov/sessionguard/internal/sigmode"
)

type keys struct {
	hex  string
	priv ed25519.PrivateKey
}

func genKeys(t *testing.T) keys {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return keys{hex: hex.EncodeToString(pub), priv: priv}
}

// setupAccount runs init against a temp config and returns the owner keys.
func setupAccount(t *testing.T) keys {
	t.Helper()
	dir := t.TempDir()
	owner := genKeys(t)

	flagConfig = filepath.Join(dir, "config.yaml")
	flagAccount = "0xaccount"
	initOwnerKey = owner.hex
	initForce = false

	// Default config points under $HOME; redirect it into the temp dir.
	t.Setenv("HOME", dir)

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	return owner
}

func registerSession(t *testing.T) keys {
	t.Helper()
	session := genKeys(t)
	now := time.Now().UTC().Unix()

	credValidAfter = now - 60
	credValidUntil = now + 3600
	credMaxCalls = 10
	credTargets = nil
	if err := runCredentialRegister(nil, []string{session.hex}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return session
}

func TestInitCreatesAccount(t *testing.T) {
	setupAccount(t)

	s, err := openSession()
	if err != nil {
		t.Fatalf("openSession after init: %v", err)
	}
	defer s.close()

	if s.acct.ID != "0xaccount" {
		t.Errorf("account ID = %q", s.acct.ID)
	}
	if s.acct.Mode != sigmode.Legacy {
		t.Errorf("fresh account mode = %v, want legacy", s.acct.Mode)
	}
}

func TestInitRejectsExistingAccount(t *testing.T) {
	setupAccount(t)
	if err := runInit(nil, nil); err == nil {
		t.Fatal("expected second init to fail")
	}
}

func TestCredentialRegisterAndRevoke(t *testing.T) {
	setupAccount(t)
	session := registerSession(t)

	s, err := openSession()
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	creds := s.acct.Credentials.List()
	s.close()
	if len(creds) != 1 || creds[0].ID != session.hex {
		t.Fatalf("credentials after register = %+v", creds)
	}

	if err := runCredentialRevoke(nil, []string{session.hex}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	s, err = openSession()
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	defer s.close()
	if got := len(s.acct.Credentials.List()); got != 0 {
		t.Errorf("credentials after revoke = %d, want 0", got)
	}
}

func TestRevokeAllBumpsEpoch(t *testing.T) {
	setupAccount(t)
	registerSession(t)

	if err := runCredentialRevokeAll(nil, nil); err != nil {
		t.Fatalf("revoke-all: %v", err)
	}

	s, err := openSession()
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	defer s.close()
	if got := s.acct.Credentials.Epoch(); got != 1 {
		t.Errorf("epoch = %d, want 1", got)
	}
}

func TestModeSetOneWay(t *testing.T) {
	setupAccount(t)

	if err := runModeSet(nil, []string{"2"}); err != nil {
		t.Fatalf("set mode 2: %v", err)
	}
	if err := runModeSet(nil, []string{"1"}); err == nil {
		t.Fatal("expected downgrade to fail")
	}

	s, err := openSession()
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	defer s.close()
	if s.acct.Mode != sigmode.DomainSeparated {
		t.Errorf("mode = %v, want domain-separated", s.acct.Mode)
	}
}

func TestUpgradeScheduleAndCancel(t *testing.T) {
	setupAccount(t)

	if err := runUpgradeSchedule(nil, []string{"logic-v2"}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	// Timelock has not passed.
	if err := runUpgradeExecute(nil, nil); err == nil {
		t.Fatal("expected execute before timelock to fail")
	}
	if err := runUpgradeCancel(nil, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	s, err := openSession()
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	defer s.close()
	if s.acct.Upgrade.Scheduled {
		t.Error("upgrade still scheduled after cancel")
	}
}

func writeBatchFile(t *testing.T, path string, session keys, nonce uint64, calls []model.Call) {
	t.Helper()
	batch := &model.Batch{
		Account:      "0xaccount",
		CredentialID: session.hex,
		Nonce:        nonce,
		Calls:        calls,
	}
	payload, err := batch.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	scheme, err := sigmode.SchemeFor(sigmode.Legacy, batch.Account, nonce)
	if err != nil {
		t.Fatalf("scheme: %v", err)
	}
	sig := sigmode.Sign(session.priv, scheme, payload)

	out, err := yaml.Marshal(batchFile{
		Account:      batch.Account,
		CredentialID: batch.CredentialID,
		Nonce:        batch.Nonce,
		Calls:        batch.Calls,
		Signature:    hex.EncodeToString(sig),
	})
	if err != nil {
		t.Fatalf("marshal batch file: %v", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		t.Fatalf("write batch file: %v", err)
	}
}

func TestValidateBatchFile(t *testing.T) {
	setupAccount(t)
	session := registerSession(t)

	policyMaxPerCall = 1000
	policyMaxPerWindow = 3000
	policyWindow = 3600
	if err := runPolicySet(nil, []string{session.hex, "USDC"}); err != nil {
		t.Fatalf("policy set: %v", err)
	}

	path := filepath.Join(t.TempDir(), "batch.yaml")
	writeBatchFile(t, path, session, 0, []model.Call{
		{Target: "0xtoken", Selector: "transfer", Asset: "USDC", Amount: 700},
	})

	validateDryRun = true
	if err := runValidate(nil, []string{path}); err != nil {
		t.Fatalf("dry-run validate: %v", err)
	}

	// Dry run left the nonce alone, so the same file still commits.
	validateDryRun = false
	if err := runValidate(nil, []string{path}); err != nil {
		t.Fatalf("validate: %v", err)
	}

	s, err := openSession()
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	defer s.close()
	if s.acct.Nonce != 1 {
		t.Errorf("nonce = %d, want 1", s.acct.Nonce)
	}
	snaps := s.acct.Policies.Snapshots(session.hex)
	if len(snaps) != 1 || snaps[0].SpentInWindow != 700 {
		t.Errorf("window after commit = %+v", snaps)
	}

	// The committed decision landed in the audit log.
	if err := runAuditVerify(nil, nil); err != nil {
		t.Fatalf("audit verify: %v", err)
	}
}

func TestPolicySetRejectsInvalidLimits(t *testing.T) {
	setupAccount(t)
	session := registerSession(t)

	policyMaxPerCall = 5000
	policyMaxPerWindow = 3000
	policyWindow = 3600
	if err := runPolicySet(nil, []string{session.hex, "USDC"}); err == nil {
		t.Fatal("expected per-call above per-window to be rejected")
	}
}
