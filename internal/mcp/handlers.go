package mcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/sessionguard/internal/audit"
	"github.com/ppiankov/sessionguard/internal/model"
)

// --- Input/Output types ---

// CallInput is one sub-action inside a batch tool call.
type CallInput struct {
	Target   string `json:"target" jsonschema:"destination identifier"`
	Selector string `json:"selector" jsonschema:"operation name"`
	Asset    string `json:"asset,omitempty" jsonschema:"asset identifier for value-moving calls"`
	Amount   uint64 `json:"amount,omitempty" jsonschema:"amount for value-moving calls"`
}

// BatchInput defines parameters for the validate and check tools.
type BatchInput struct {
	CredentialID string      `json:"credential_id" jsonschema:"hex-encoded credential verification key"`
	Nonce        uint64      `json:"nonce" jsonschema:"account replay nonce the batch was signed at"`
	Calls        []CallInput `json:"calls" jsonschema:"sub-actions, validated and committed as one unit"`
	Signature    string      `json:"signature" jsonschema:"hex-encoded ed25519 signature over the batch digest"`
}

// BatchOutput reports the validation outcome.
type BatchOutput struct {
	BatchID  string              `json:"batch_id"`
	Decision string              `json:"decision"`
	Stage    string              `json:"stage"`
	Code     string              `json:"code,omitempty"`
	Reason   string              `json:"reason,omitempty"`
	Charged  []model.AssetCharge `json:"charged,omitempty"`
}

// CredentialInput selects a credential to inspect.
type CredentialInput struct {
	CredentialID string `json:"credential_id" jsonschema:"hex-encoded credential verification key"`
}

// CredentialOutput is the read-only validity snapshot.
type CredentialOutput struct {
	CredentialID   string   `json:"credential_id"`
	Valid          bool     `json:"valid"`
	ValidAfter     int64    `json:"valid_after"`
	ValidUntil     int64    `json:"valid_until"`
	MaxCalls       uint64   `json:"max_calls"`
	CallsUsed      uint64   `json:"calls_used"`
	AllowedTargets []string `json:"allowed_targets,omitempty"`
}

// PolicyInput selects the policies to inspect.
type PolicyInput struct {
	CredentialID string `json:"credential_id" jsonschema:"credential whose policies to list"`
}

// PolicyOutput lists policy snapshots.
type PolicyOutput struct {
	Policies []PolicySnapshot `json:"policies"`
	Mode     string           `json:"signature_mode"`
}

// PolicySnapshot mirrors the read-only policy view.
type PolicySnapshot struct {
	Asset         string `json:"asset"`
	State         string `json:"state"`
	MaxPerCall    uint64 `json:"max_per_call"`
	MaxPerWindow  uint64 `json:"max_per_window"`
	WindowSeconds int64  `json:"window_seconds"`
	SpentInWindow uint64 `json:"spent_in_window"`
	WindowStart   int64  `json:"window_start"`
}

// --- Handlers ---

func (s *Server) buildBatch(input BatchInput) (*model.Batch, []byte, error) {
	sig, err := hex.DecodeString(input.Signature)
	if err != nil {
		return nil, nil, fmt.Errorf("signature is not valid hex: %w", err)
	}
	calls := make([]model.Call, len(input.Calls))
	for i, c := range input.Calls {
		calls[i] = model.Call{Target: c.Target, Selector: c.Selector, Asset: c.Asset, Amount: c.Amount}
	}
	return &model.Batch{
		Account:      s.acct.ID,
		CredentialID: input.CredentialID,
		Nonce:        input.Nonce,
		Calls:        calls,
	}, sig, nil
}

func outcomeOutput(out *model.Outcome, err error) BatchOutput {
	o := BatchOutput{
		BatchID:  out.BatchID,
		Decision: string(out.Decision),
		Stage:    string(out.Stage),
		Reason:   out.Reason,
		Charged:  out.Charged,
	}
	if err != nil {
		o.Code = model.ErrorCode(err)
	}
	return o
}

func (s *Server) handleValidate(ctx context.Context, req *mcpsdk.CallToolRequest, input BatchInput) (*mcpsdk.CallToolResult, BatchOutput, error) {
	batch, sig, err := s.buildBatch(input)
	if err != nil {
		return nil, BatchOutput{}, err
	}

	s.mu.Lock()
	out, verr := s.acct.ValidateAndExecute(batch, sig, time.Now().UTC().Unix(), nil)
	// Persist after every attempt that can have mutated state.
	saveErr := s.db.SaveAccount(s.acct)
	s.mu.Unlock()

	s.recordAudit(out, verr)
	if saveErr != nil {
		return nil, BatchOutput{}, fmt.Errorf("persist state: %w", saveErr)
	}
	// A denial is a result, not a tool failure.
	return nil, outcomeOutput(out, verr), nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input BatchInput) (*mcpsdk.CallToolResult, BatchOutput, error) {
	batch, sig, err := s.buildBatch(input)
	if err != nil {
		return nil, BatchOutput{}, err
	}

	s.mu.Lock()
	out, verr := s.acct.Check(batch, sig, time.Now().UTC().Unix())
	s.mu.Unlock()

	return nil, outcomeOutput(out, verr), nil
}

func (s *Server) handleCredential(ctx context.Context, req *mcpsdk.CallToolRequest, input CredentialInput) (*mcpsdk.CallToolResult, CredentialOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.acct.Credentials.Get(input.CredentialID)
	if err != nil {
		return nil, CredentialOutput{}, err
	}
	return nil, CredentialOutput{
		CredentialID:   cred.ID,
		Valid:          s.acct.Credentials.IsValid(cred.ID, time.Now().UTC().Unix()),
		ValidAfter:     cred.ValidAfter,
		ValidUntil:     cred.ValidUntil,
		MaxCalls:       cred.MaxCalls,
		CallsUsed:      cred.CallsUsed,
		AllowedTargets: cred.AllowedTargets,
	}, nil
}

func (s *Server) handlePolicy(ctx context.Context, req *mcpsdk.CallToolRequest, input PolicyInput) (*mcpsdk.CallToolResult, PolicyOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := s.acct.Policies.Snapshots(input.CredentialID)
	out := PolicyOutput{Mode: s.acct.Mode.String(), Policies: make([]PolicySnapshot, 0, len(snaps))}
	for _, p := range snaps {
		out.Policies = append(out.Policies, PolicySnapshot{
			Asset:         p.Asset,
			State:         p.State,
			MaxPerCall:    p.MaxPerCall,
			MaxPerWindow:  p.MaxPerWindow,
			WindowSeconds: p.WindowSeconds,
			SpentInWindow: p.SpentInWindow,
			WindowStart:   p.WindowStart,
		})
	}
	return nil, out, nil
}

func (s *Server) recordAudit(out *model.Outcome, err error) {
	if s.auditLog == nil {
		return
	}
	if rerr := s.auditLog.Record(audit.FromOutcome(out, err, s.configHash)); rerr != nil {
		// The decision already committed. An audit write failure must not
		// unwind it, only surface operationally.
		fmt.Fprintf(os.Stderr, "audit write failed: %v\n", rerr)
	}
}
