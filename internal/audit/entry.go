package audit

import "github.com/ppiankov/sessionguard/internal/model"

// Entry is one line in the hash-chained JSONL decision log. All fields
// are structs or slices (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp    string              `json:"ts"`
	BatchID      string              `json:"batch_id"`
	Account      string              `json:"account"`
	CredentialID string              `json:"credential_id"`
	Decision     model.Decision      `json:"decision"`
	Stage        model.Stage         `json:"stage"`
	Code         string              `json:"code,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	Charged      []model.AssetCharge `json:"charged,omitempty"`
	ConfigHash   string              `json:"config_hash"`
	PrevHash     string              `json:"prev_hash"`
}

// FromOutcome builds an audit entry from a validation outcome. Code is
// the stable taxonomy code when the batch was denied.
func FromOutcome(out *model.Outcome, err error, configHash string) Entry {
	e := Entry{
		BatchID:      out.BatchID,
		Account:      out.Account,
		CredentialID: out.CredentialID,
		Decision:     out.Decision,
		Stage:        out.Stage,
		Reason:       out.Reason,
		Charged:      out.Charged,
		ConfigHash:   configHash,
	}
	if err != nil {
		e.Code = model.ErrorCode(err)
	}
	return e
}
