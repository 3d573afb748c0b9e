package spend

import (
	"fmt"
	"math"
	"sort"

	"github.com/ppiankov/sessionguard/internal/model"
)

type key struct {
	cred  string
	asset string
}

// Store maps (credential, asset) pairs to spending policies.
type Store struct {
	policies map[key]*Policy
}

// NewStore creates an empty policy store.
func NewStore() *Store {
	return &Store{policies: make(map[key]*Policy)}
}

// SetPolicy installs or replaces an enforced policy. The window state
// resets: a policy change starts a fresh window at `now`.
//
// MaxPerWindow == 0 is rejected here so the ambiguous zero encoding can
// never be stored as "enforced" — disabling is an explicit separate call.
func (s *Store) SetPolicy(credID, asset string, limits Limits, now int64) error {
	if credID == "" || asset == "" {
		return fmt.Errorf("set policy: credential and asset must not be empty")
	}
	if limits.MaxPerWindow == 0 {
		return fmt.Errorf("set policy %s/%s: max_per_window must be positive (use disable to turn enforcement off)", credID, asset)
	}
	if limits.WindowSeconds <= 0 {
		return fmt.Errorf("set policy %s/%s: window_seconds must be positive", credID, asset)
	}
	if limits.MaxPerCall == 0 || limits.MaxPerCall > limits.MaxPerWindow {
		return fmt.Errorf("set policy %s/%s: max_per_call must be in [1, max_per_window]", credID, asset)
	}
	s.policies[key{credID, asset}] = &Policy{
		State:       Enforced,
		Limits:      limits,
		WindowStart: now,
	}
	return nil
}

// DisablePolicy marks the (credential, asset) pair as explicitly
// unenforced. Distinct from never having been configured.
func (s *Store) DisablePolicy(credID, asset string) {
	s.policies[key{credID, asset}] = &Policy{State: Disabled}
}

// RemovePolicy deletes the policy entirely, returning the pair to Unset.
func (s *Store) RemovePolicy(credID, asset string) {
	delete(s.policies, key{credID, asset})
}

// RemoveCredential drops every policy belonging to a credential.
func (s *Store) RemoveCredential(credID string) {
	for k := range s.policies {
		if k.cred == credID {
			delete(s.policies, k)
		}
	}
}

// Get returns the policy for the pair. The boolean distinguishes Unset
// (no entry) from a stored Disabled entry.
func (s *Store) Get(credID, asset string) (*Policy, bool) {
	p, ok := s.policies[key{credID, asset}]
	return p, ok
}

// rolledOver returns the window state that charging at `now` would see.
// The comparison is strictly greater-than: at the exact boundary instant
// the old window still applies, so the full ceiling cannot be spent twice
// within the same instant.
func rolledOver(p *Policy, now int64) (spent uint64, start int64) {
	if now > p.WindowStart+p.WindowSeconds {
		return 0, now
	}
	return p.SpentInWindow, p.WindowStart
}

// check validates a charge of `amount` against the policy at `now`
// without mutating anything. Returns the post-rollover window state for
// the caller to commit.
func check(p *Policy, credID, asset string, amount uint64, now int64) (spent uint64, start int64, err error) {
	if amount > p.MaxPerCall {
		return 0, 0, fmt.Errorf("charge %s/%s: %d exceeds max_per_call %d: %w",
			credID, asset, amount, p.MaxPerCall, model.ErrPerCallLimitExceeded)
	}
	spent, start = rolledOver(p, now)
	if spent > math.MaxUint64-amount || spent+amount > p.MaxPerWindow {
		return 0, 0, fmt.Errorf("charge %s/%s: %d + %d exceeds max_per_window %d: %w",
			credID, asset, spent, amount, p.MaxPerWindow, model.ErrWindowLimitExceeded)
	}
	return spent, start, nil
}

// Charge debits `amount` against the (credential, asset) window at `now`.
//
// Absent or disabled policies succeed without touching state. On any
// failure nothing is mutated — there is no partial charge. On success the
// debit is committed immediately, before the caller triggers any external
// effect, so a reentrant call observes the already-debited window.
func (s *Store) Charge(credID, asset string, amount uint64, now int64) error {
	p, ok := s.policies[key{credID, asset}]
	if !ok || p.State != Enforced {
		return nil
	}
	spent, start, err := check(p, credID, asset, amount, now)
	if err != nil {
		return err
	}
	p.SpentInWindow = spent + amount
	p.WindowStart = start
	return nil
}

// ChargeAggregate debits one batch's per-asset totals atomically: every
// asset is validated first, then all debits commit. A failure on any
// asset leaves every window untouched.
func (s *Store) ChargeAggregate(credID string, totals map[string]uint64, now int64) error {
	if err := s.previewAggregate(credID, totals, now); err != nil {
		return err
	}
	for asset, amount := range totals {
		p, ok := s.policies[key{credID, asset}]
		if !ok || p.State != Enforced {
			continue
		}
		spent, start, err := check(p, credID, asset, amount, now)
		if err != nil {
			// previewAggregate already validated; reaching here means the
			// store was mutated between phases, which the single-threaded
			// host rules out. Fail closed regardless.
			return err
		}
		p.SpentInWindow = spent + amount
		p.WindowStart = start
	}
	return nil
}

// PreviewAggregate validates a batch's per-asset totals without mutating
// any window. Used by dry-run validation.
func (s *Store) PreviewAggregate(credID string, totals map[string]uint64, now int64) error {
	return s.previewAggregate(credID, totals, now)
}

func (s *Store) previewAggregate(credID string, totals map[string]uint64, now int64) error {
	// Deterministic order so the reported error is stable.
	assets := make([]string, 0, len(totals))
	for asset := range totals {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		p, ok := s.policies[key{credID, asset}]
		if !ok || p.State != Enforced {
			continue
		}
		if _, _, err := check(p, credID, asset, totals[asset], now); err != nil {
			return err
		}
	}
	return nil
}

// Snapshots returns read-only views of all policies for a credential,
// sorted by asset. Empty credID returns every policy.
func (s *Store) Snapshots(credID string) []Snapshot {
	out := make([]Snapshot, 0, len(s.policies))
	for k, p := range s.policies {
		if credID != "" && k.cred != credID {
			continue
		}
		out = append(out, Snapshot{
			CredentialID:  k.cred,
			Asset:         k.asset,
			State:         p.State.String(),
			MaxPerCall:    p.MaxPerCall,
			MaxPerWindow:  p.MaxPerWindow,
			WindowSeconds: p.WindowSeconds,
			SpentInWindow: p.SpentInWindow,
			WindowStart:   p.WindowStart,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CredentialID != out[j].CredentialID {
			return out[i].CredentialID < out[j].CredentialID
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

// RestorePolicy reinstalls a persisted policy including window state.
func (s *Store) RestorePolicy(credID, asset string, p Policy) {
	cp := p
	s.policies[key{credID, asset}] = &cp
}
