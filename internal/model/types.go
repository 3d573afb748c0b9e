package model

// Decision is the batch validation outcome.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// Call is one sub-action inside a batch: a target contract/surface
// identifier, the selector (operation name) invoked on it, and — for
// value-moving selectors — the asset and amount involved.
type Call struct {
	Target   string `json:"target" yaml:"target"`
	Selector string `json:"selector" yaml:"selector"`
	Asset    string `json:"asset,omitempty" yaml:"asset,omitempty"`
	Amount   uint64 `json:"amount,omitempty" yaml:"amount,omitempty"`
}

// Batch is the unit of validation and execution. All calls commit together
// or not at all. Field order is fixed: the signed payload is the canonical
// JSON encoding of this struct (structs, not maps, so json.Marshal output
// is deterministic).
type Batch struct {
	Account      string `json:"account" yaml:"account"`
	CredentialID string `json:"credential_id" yaml:"credential_id"`
	Nonce        uint64 `json:"nonce" yaml:"nonce"`
	Calls        []Call `json:"calls" yaml:"calls"`
}

// Payload returns the bytes that get hashed and signed for this batch.
func (b *Batch) Payload() ([]byte, error) {
	return marshalCanonical(b)
}

// Credential is a delegated, scoped, time-boxed authorization.
// ID is the hex-encoded ed25519 verification key of the holder.
type Credential struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	ValidAfter int64  `json:"valid_after"`
	ValidUntil int64  `json:"valid_until"`

	// MaxCalls == 0 means no quota. CallsUsed advances only after a batch
	// fully validates, never on a failed attempt.
	MaxCalls  uint64 `json:"max_calls"`
	CallsUsed uint64 `json:"calls_used"`

	// AllowedTargets empty means no explicit allowlist: the credential may
	// reach any target except the administrative surface (default-deny
	// rules live in the selector guard).
	AllowedTargets []string `json:"allowed_targets,omitempty"`

	// Epoch is the store revocation epoch at registration time. A store
	// epoch bump (emergency revoke-all) invalidates every earlier epoch.
	Epoch uint64 `json:"epoch"`
}

// SameTerms reports whether two credentials carry identical delegation
// terms. Used to make re-registration of an unchanged credential a no-op.
func (c *Credential) SameTerms(o *Credential) bool {
	if c.Owner != o.Owner || c.ValidAfter != o.ValidAfter || c.ValidUntil != o.ValidUntil || c.MaxCalls != o.MaxCalls {
		return false
	}
	if len(c.AllowedTargets) != len(o.AllowedTargets) {
		return false
	}
	for i, t := range c.AllowedTargets {
		if o.AllowedTargets[i] != t {
			return false
		}
	}
	return true
}

// UpgradeSchedule is the single pending timelocked logic upgrade.
type UpgradeSchedule struct {
	PendingLogicID string `json:"pending_logic_id"`
	ETA            int64  `json:"eta"`
	Scheduled      bool   `json:"scheduled"`
}

// AssetCharge records one per-asset window debit from a committed batch.
// Kept as a sorted slice (never a map) so audit lines hash reproducibly.
type AssetCharge struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

// Stage identifies how far a batch progressed through validation.
type Stage string

const (
	StageReceived          Stage = "received"
	StageSignatureChecked  Stage = "signature_checked"
	StageCredentialChecked Stage = "credential_checked"
	StageTargetsChecked    Stage = "targets_checked"
	StagePolicyCharged     Stage = "policy_charged"
	StageCommitted         Stage = "committed"
)

// Outcome is the result of validating (and possibly executing) a batch.
type Outcome struct {
	BatchID      string        `json:"batch_id"`
	Account      string        `json:"account"`
	CredentialID string        `json:"credential_id"`
	Decision     Decision      `json:"decision"`
	Stage        Stage         `json:"stage"`
	Reason       string        `json:"reason,omitempty"`
	Charged      []AssetCharge `json:"charged,omitempty"`
}
