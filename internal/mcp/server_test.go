package mcp

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/sessionguard/internal/account"
	"github.com/ppiankov/sessionguard/internal/audit"
	"github.com/ppiankov/sessionguard/internal/config"
	"github.com/ppiankov/sessionguard/internal/model"
	"github.com/ppiankov/sessionguard/internal/sigmode"
	"github.com/ppiankov/sessionguard/internal/spend"
	"github.com/ppiankov/sessionguard/internal/store"
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

type fixture struct {
	srv     *Server
	owner   keys
	session keys
	cfgPath string
	audit   string
}

// newFixture seeds a database with one account and one always-valid
// session credential, then opens a server over it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	auditPath := filepath.Join(dir, "audit.jsonl")

	cfg := config.DefaultConfig()
	cfg.Database = filepath.Join(dir, "state.db")
	cfg.AuditLog = auditPath
	if err := cfg.Write(cfgPath); err != nil {
		t.Fatalf("write config: %v", err)
	}

	owner := genKeys(t)
	session := genKeys(t)
	now := time.Now().UTC().Unix()

	acct := account.New("0xaccount", owner.hex, cfg)
	err := acct.RegisterCredential(owner.hex, model.Credential{
		ID:         session.hex,
		ValidAfter: now - 60,
		ValidUntil: now + 3600,
		MaxCalls:   10,
	}, now)
	if err != nil {
		t.Fatalf("register credential: %v", err)
	}
	err = acct.SetPolicy(owner.hex, session.hex, "USDC", spend.Limits{
		MaxPerCall:    1000,
		MaxPerWindow:  3000,
		WindowSeconds: 3600,
	}, now)
	if err != nil {
		t.Fatalf("set policy: %v", err)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.SaveAccount(acct); err != nil {
		t.Fatalf("save account: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	srv, err := New(Config{AccountID: "0xaccount", ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return &fixture{srv: srv, owner: owner, session: session, cfgPath: cfgPath, audit: auditPath}
}

// signedInput builds a BatchInput signed at the account's current nonce.
func (f *fixture) signedInput(t *testing.T, calls []CallInput) BatchInput {
	t.Helper()
	acct := f.srv.acct
	mcalls := make([]model.Call, len(calls))
	for i, c := range calls {
		mcalls[i] = model.Call{Target: c.Target, Selector: c.Selector, Asset: c.Asset, Amount: c.Amount}
	}
	batch := &model.Batch{
		Account:      acct.ID,
		CredentialID: f.session.hex,
		Nonce:        acct.Nonce,
		Calls:        mcalls,
	}
	payload, err := batch.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	scheme, err := sigmode.SchemeFor(acct.Mode, acct.ID, acct.Nonce)
	if err != nil {
		t.Fatalf("scheme: %v", err)
	}
	sig := sigmode.Sign(f.session.priv, scheme, payload)
	return BatchInput{
		CredentialID: f.session.hex,
		Nonce:        acct.Nonce,
		Calls:        calls,
		Signature:    hex.EncodeToString(sig),
	}
}

func transferCall(amount uint64) CallInput {
	return CallInput{Target: "0xtoken", Selector: "transfer", Asset: "USDC", Amount: amount}
}

func TestValidateCommitsBatch(t *testing.T) {
	f := newFixture(t)
	input := f.signedInput(t, []CallInput{transferCall(700)})

	_, out, err := f.srv.handleValidate(context.Background(), nil, input)
	if err != nil {
		t.Fatalf("handleValidate: %v", err)
	}
	if out.Decision != string(model.Allow) {
		t.Fatalf("decision = %q reason %q, want allow", out.Decision, out.Reason)
	}
	if out.Stage != string(model.StageCommitted) {
		t.Errorf("stage = %q, want committed", out.Stage)
	}
	if len(out.Charged) != 1 || out.Charged[0].Amount != 700 {
		t.Errorf("charged = %+v, want one USDC charge of 700", out.Charged)
	}
	if f.srv.acct.Nonce != 1 {
		t.Errorf("nonce = %d, want 1", f.srv.acct.Nonce)
	}
}

func TestValidateDenialIsResultNotError(t *testing.T) {
	f := newFixture(t)
	input := f.signedInput(t, []CallInput{transferCall(5000)})

	_, out, err := f.srv.handleValidate(context.Background(), nil, input)
	if err != nil {
		t.Fatalf("denial should not surface as tool error: %v", err)
	}
	if out.Decision != string(model.Deny) {
		t.Fatalf("decision = %q, want deny", out.Decision)
	}
	if out.Code != "per_call_limit_exceeded" {
		t.Errorf("code = %q, want per_call_limit_exceeded", out.Code)
	}
	if f.srv.acct.Nonce != 0 {
		t.Errorf("nonce advanced on denial: %d", f.srv.acct.Nonce)
	}
}

func TestValidateRejectsMalformedSignatureHex(t *testing.T) {
	f := newFixture(t)
	input := f.signedInput(t, []CallInput{transferCall(100)})
	input.Signature = "not-hex"

	_, _, err := f.srv.handleValidate(context.Background(), nil, input)
	if err == nil {
		t.Fatal("expected error for malformed signature hex")
	}
}

func TestCheckLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	input := f.signedInput(t, []CallInput{transferCall(700)})

	_, out, err := f.srv.handleCheck(context.Background(), nil, input)
	if err != nil {
		t.Fatalf("handleCheck: %v", err)
	}
	if out.Decision != string(model.Allow) {
		t.Fatalf("decision = %q reason %q, want allow", out.Decision, out.Reason)
	}
	if f.srv.acct.Nonce != 0 {
		t.Errorf("dry run advanced nonce to %d", f.srv.acct.Nonce)
	}
	snaps := f.srv.acct.Policies.Snapshots(f.session.hex)
	if len(snaps) != 1 || snaps[0].SpentInWindow != 0 {
		t.Errorf("dry run debited window: %+v", snaps)
	}
}

func TestValidatePersistsAcrossReopen(t *testing.T) {
	f := newFixture(t)
	input := f.signedInput(t, []CallInput{transferCall(700)})
	if _, out, err := f.srv.handleValidate(context.Background(), nil, input); err != nil || out.Decision != string(model.Allow) {
		t.Fatalf("handleValidate: err=%v decision=%s", err, out.Decision)
	}
	if err := f.srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	srv, err := New(Config{AccountID: "0xaccount", ConfigPath: f.cfgPath})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer srv.Close()

	if srv.acct.Nonce != 1 {
		t.Errorf("nonce after reopen = %d, want 1", srv.acct.Nonce)
	}
	snaps := srv.acct.Policies.Snapshots(f.session.hex)
	if len(snaps) != 1 || snaps[0].SpentInWindow != 700 {
		t.Errorf("window state after reopen = %+v, want spent 700", snaps)
	}
}

func TestValidateAppendsVerifiableAuditChain(t *testing.T) {
	f := newFixture(t)
	for i, amount := range []uint64{100, 5000, 200} {
		input := f.signedInput(t, []CallInput{transferCall(amount)})
		if _, _, err := f.srv.handleValidate(context.Background(), nil, input); err != nil {
			t.Fatalf("validate %d: %v", i, err)
		}
	}

	res := audit.Verify(f.audit)
	if !res.Valid {
		t.Fatalf("audit chain broken at line %d: %s", res.ErrorLine, res.Error)
	}
	if res.Lines != 3 {
		t.Errorf("lines = %d, want 3", res.Lines)
	}
}

func TestCredentialSnapshot(t *testing.T) {
	f := newFixture(t)
	_, out, err := f.srv.handleCredential(context.Background(), nil, CredentialInput{CredentialID: f.session.hex})
	if err != nil {
		t.Fatalf("handleCredential: %v", err)
	}
	if !out.Valid {
		t.Error("credential should be valid")
	}
	if out.MaxCalls != 10 || out.CallsUsed != 0 {
		t.Errorf("quota = %d/%d, want 0/10", out.CallsUsed, out.MaxCalls)
	}
}

func TestCredentialUnknown(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.srv.handleCredential(context.Background(), nil, CredentialInput{CredentialID: "deadbeef"})
	if err == nil {
		t.Fatal("expected error for unknown credential")
	}
}

func TestPolicySnapshot(t *testing.T) {
	f := newFixture(t)
	_, out, err := f.srv.handlePolicy(context.Background(), nil, PolicyInput{CredentialID: f.session.hex})
	if err != nil {
		t.Fatalf("handlePolicy: %v", err)
	}
	if out.Mode != "legacy" {
		t.Errorf("mode = %q, want legacy", out.Mode)
	}
	if len(out.Policies) != 1 {
		t.Fatalf("policies = %d, want 1", len(out.Policies))
	}
	p := out.Policies[0]
	if p.Asset != "USDC" || p.MaxPerCall != 1000 || p.MaxPerWindow != 3000 {
		t.Errorf("unexpected policy snapshot: %+v", p)
	}
}

func TestReloadConfigSwapsTimelock(t *testing.T) {
	f := newFixture(t)

	cfg, _, err := config.LoadWithHash(f.cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.UpgradeDelaySeconds = 7200
	if err := cfg.Write(f.cfgPath); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	oldHash := f.srv.configHash
	if err := f.srv.ReloadConfig(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if f.srv.configHash == oldHash {
		t.Error("config hash unchanged after reload")
	}
	if got := f.srv.acct.Config().UpgradeDelaySeconds; got != 7200 {
		t.Errorf("timelock after reload = %d, want 7200", got)
	}
}

func TestReloadConfigRejectsBrokenFile(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.cfgPath, []byte("{{{not yaml"), 0o600); err != nil {
		t.Fatalf("write broken config: %v", err)
	}
	if err := f.srv.ReloadConfig(); err == nil {
		t.Fatal("expected reload to fail on broken config")
	}
	// The server keeps serving on the previous config.
	if f.srv.acct == nil {
		t.Fatal("account dropped on failed reload")
	}
}

func TestMissingAccountFailsOpen(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Database = filepath.Join(dir, "state.db")
	cfg.AuditLog = filepath.Join(dir, "audit.jsonl")
	if err := cfg.Write(cfgPath); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := New(Config{AccountID: "0xmissing", ConfigPath: cfgPath})
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}
