// Package credential holds registered session credentials and answers
// validity questions about them. All mutation outside batch commit goes
// through the account's administrative controller.
package credential

import (
	"fmt"
	"sort"

	"github.com/ppiankov/sessionguard/internal/model"
)

// Store maps credential IDs to registered credentials and tracks the
// revocation epoch. An emergency revoke-all bumps the epoch, which
// invalidates every credential registered under an earlier one — no
// per-credential sweep, so revocation is atomic and immediate.
type Store struct {
	creds map[string]*model.Credential
	epoch uint64
}

// NewStore creates an empty credential store at epoch zero.
func NewStore() *Store {
	return &Store{creds: make(map[string]*model.Credential)}
}

// Restore rebuilds a store from persisted state.
func Restore(creds []model.Credential, epoch uint64) *Store {
	s := &Store{creds: make(map[string]*model.Credential, len(creds)), epoch: epoch}
	for i := range creds {
		c := creds[i]
		s.creds[c.ID] = &c
	}
	return s
}

// Epoch returns the current revocation epoch.
func (s *Store) Epoch() uint64 { return s.epoch }

// Register adds a credential at the current epoch.
//
// If the ID already exists and is still live at `now`:
//   - identical terms: idempotent no-op
//   - different owner: ErrOwnershipConflict
//   - same owner, different terms: ErrDuplicateCredential (revoke first)
//
// A dead credential (expired, quota-spent, or from a revoked epoch) may be
// overwritten freely.
func (s *Store) Register(cred model.Credential, now int64) error {
	if cred.ID == "" {
		return fmt.Errorf("register: credential id must not be empty")
	}
	if cred.ValidUntil <= cred.ValidAfter {
		return fmt.Errorf("register: valid_until must be after valid_after")
	}

	if existing, ok := s.creds[cred.ID]; ok && s.isLive(existing, now) {
		if existing.SameTerms(&cred) {
			return nil
		}
		if existing.Owner != cred.Owner {
			return fmt.Errorf("register %s: %w", cred.ID, model.ErrOwnershipConflict)
		}
		return fmt.Errorf("register %s: %w", cred.ID, model.ErrDuplicateCredential)
	}

	cred.CallsUsed = 0
	cred.Epoch = s.epoch
	s.creds[cred.ID] = &cred
	return nil
}

// Revoke removes a credential. Unknown IDs fail so the owner learns about
// typos instead of silently revoking nothing.
func (s *Store) Revoke(id string) error {
	if _, ok := s.creds[id]; !ok {
		return fmt.Errorf("revoke %s: %w", id, model.ErrUnknownCredential)
	}
	delete(s.creds, id)
	return nil
}

// RevokeAll invalidates every registered credential atomically by bumping
// the revocation epoch. Takes effect on the very next validation.
func (s *Store) RevokeAll() {
	s.epoch++
}

// Get returns the credential for id, or ErrUnknownCredential.
func (s *Store) Get(id string) (*model.Credential, error) {
	c, ok := s.creds[id]
	if !ok {
		return nil, fmt.Errorf("credential %s: %w", id, model.ErrUnknownCredential)
	}
	return c, nil
}

// Validate checks that the credential identified by id may authorize a
// batch at `now`. Returns the credential on success; on failure returns
// the specific taxonomy error.
func (s *Store) Validate(id string, now int64) (*model.Credential, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if c.Epoch < s.epoch {
		return nil, fmt.Errorf("credential %s: %w", id, model.ErrCredentialRevoked)
	}
	if now < c.ValidAfter {
		return nil, fmt.Errorf("credential %s: %w", id, model.ErrNotYetValid)
	}
	if now >= c.ValidUntil {
		return nil, fmt.Errorf("credential %s: %w", id, model.ErrExpiredCredential)
	}
	if c.MaxCalls > 0 && c.CallsUsed >= c.MaxCalls {
		return nil, fmt.Errorf("credential %s: %w", id, model.ErrQuotaExhausted)
	}
	return c, nil
}

// IsValid reports whether the credential may authorize a batch at `now`.
func (s *Store) IsValid(id string, now int64) bool {
	_, err := s.Validate(id, now)
	return err == nil
}

// ConsumeCall advances the credential's call counter. Called by the batch
// validator only after every validation stage has passed.
func (s *Store) ConsumeCall(id string) error {
	c, ok := s.creds[id]
	if !ok {
		return fmt.Errorf("consume %s: %w", id, model.ErrUnknownCredential)
	}
	c.CallsUsed++
	return nil
}

// List returns all registered credentials sorted by ID.
func (s *Store) List() []model.Credential {
	out := make([]model.Credential, 0, len(s.creds))
	for _, c := range s.creds {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// isLive reports whether an existing credential still blocks its ID from
// re-registration: not expired, quota not spent, epoch current. A
// not-yet-valid credential is live — it has been granted, just not usable
// yet, and must not be silently overwritten.
func (s *Store) isLive(c *model.Credential, now int64) bool {
	if c.Epoch < s.epoch {
		return false
	}
	if now >= c.ValidUntil {
		return false
	}
	if c.MaxCalls > 0 && c.CallsUsed >= c.MaxCalls {
		return false
	}
	return true
}
