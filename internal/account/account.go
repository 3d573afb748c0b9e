// Package account holds the per-account aggregate root: owner identity,
// signature mode, replay nonce, upgrade schedule, and the credential and
// spending-policy stores, with the administrative controller and the
// batch validator operating on them. One Account per host account; no
// sharing, no singletons.
package account

import (
	"fmt"

	"github.com/ppiankov/sessionguard/internal/config"
	"github.com/ppiankov/sessionguard/internal/credential"
	"github.com/ppiankov/sessionguard/internal/model"
	"github.com/ppiankov/sessionguard/internal/reentry"
	"github.com/ppiankov/sessionguard/internal/selector"
	"github.com/ppiankov/sessionguard/internal/sigmode"
	"github.com/ppiankov/sessionguard/internal/spend"
)

// Account is the aggregate root for one host account.
type Account struct {
	ID       string
	OwnerKey string // hex-encoded ed25519 verification key

	Mode    sigmode.Mode
	Nonce   uint64
	Upgrade model.UpgradeSchedule

	Credentials *credential.Store
	Policies    *spend.Store

	cfg   *config.Config
	guard *selector.Guard
	lock  reentry.Guard
}

// New creates an account aggregate at mode 1 with empty stores.
func New(id, ownerKey string, cfg *config.Config) *Account {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Account{
		ID:          id,
		OwnerKey:    ownerKey,
		Mode:        sigmode.Legacy,
		Credentials: credential.NewStore(),
		Policies:    spend.NewStore(),
		cfg:         cfg,
		guard:       selector.NewGuard(cfg.AdminSelectors),
	}
}

// Restore rebuilds an aggregate from persisted state. A stored mode of 0
// reads as legacy — accounts predating explicit mode storage.
func Restore(id, ownerKey string, rawMode uint8, nonce uint64, upgrade model.UpgradeSchedule,
	creds *credential.Store, policies *spend.Store, cfg *config.Config) (*Account, error) {
	mode, err := sigmode.Normalize(rawMode)
	if err != nil {
		return nil, fmt.Errorf("restore account %s: %w", id, err)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Account{
		ID:          id,
		OwnerKey:    ownerKey,
		Mode:        mode,
		Nonce:       nonce,
		Upgrade:     upgrade,
		Credentials: creds,
		Policies:    policies,
		cfg:         cfg,
		guard:       selector.NewGuard(cfg.AdminSelectors),
	}, nil
}

// Config returns the guard configuration the account runs under.
func (a *Account) Config() *config.Config { return a.cfg }

// requireOwner gates every administrative operation. The host supplies
// the caller identity; a session credential can never pass this check
// because credential IDs are holder keys, not the owner key.
func (a *Account) requireOwner(caller string) error {
	if caller != a.OwnerKey {
		return fmt.Errorf("caller %s: %w", caller, model.ErrNotOwner)
	}
	return nil
}

// --- Administrative controller (owner-only) ---

// RegisterCredential registers a session credential for this account.
func (a *Account) RegisterCredential(caller string, cred model.Credential, now int64) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	cred.Owner = a.OwnerKey
	return a.Credentials.Register(cred, now)
}

// RevokeCredential revokes one credential and drops its policies.
func (a *Account) RevokeCredential(caller, id string) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if err := a.Credentials.Revoke(id); err != nil {
		return err
	}
	a.Policies.RemoveCredential(id)
	return nil
}

// EmergencyRevokeAll invalidates every registered credential atomically.
// Effective on the very next validation.
func (a *Account) EmergencyRevokeAll(caller string) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	a.Credentials.RevokeAll()
	return nil
}

// SetPolicy installs an enforced spending policy.
func (a *Account) SetPolicy(caller, credID, asset string, limits spend.Limits, now int64) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if _, err := a.Credentials.Get(credID); err != nil {
		return err
	}
	return a.Policies.SetPolicy(credID, asset, limits, now)
}

// DisablePolicy turns enforcement off explicitly for one pair.
func (a *Account) DisablePolicy(caller, credID, asset string) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	a.Policies.DisablePolicy(credID, asset)
	return nil
}

// RemovePolicy deletes the policy for one pair.
func (a *Account) RemovePolicy(caller, credID, asset string) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	a.Policies.RemovePolicy(credID, asset)
	return nil
}

// SetMode changes the signature mode. Upgrade-only.
func (a *Account) SetMode(caller string, next sigmode.Mode) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if err := sigmode.Transition(a.Mode, next); err != nil {
		return err
	}
	a.Mode = next
	return nil
}

// ScheduleUpgrade schedules a timelocked logic upgrade. Only one may be
// pending at a time.
func (a *Account) ScheduleUpgrade(caller, logicID string, now int64) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if logicID == "" {
		return fmt.Errorf("schedule upgrade: logic id must not be empty")
	}
	if a.Upgrade.Scheduled {
		return fmt.Errorf("schedule upgrade %s: %w", logicID, model.ErrUpgradeAlreadyScheduled)
	}
	a.Upgrade = model.UpgradeSchedule{
		PendingLogicID: logicID,
		ETA:            now + a.cfg.UpgradeDelaySeconds,
		Scheduled:      true,
	}
	return nil
}

// ExecuteUpgrade consumes the pending schedule once the timelock elapsed.
// Returns the logic ID the host should switch to.
func (a *Account) ExecuteUpgrade(caller string, now int64) (string, error) {
	if err := a.requireOwner(caller); err != nil {
		return "", err
	}
	if !a.Upgrade.Scheduled {
		return "", model.ErrNoUpgradeScheduled
	}
	if now < a.Upgrade.ETA {
		return "", fmt.Errorf("upgrade %s eta %d now %d: %w",
			a.Upgrade.PendingLogicID, a.Upgrade.ETA, now, model.ErrTooEarly)
	}
	logicID := a.Upgrade.PendingLogicID
	a.Upgrade = model.UpgradeSchedule{}
	return logicID, nil
}

// CancelUpgrade clears the pending schedule.
func (a *Account) CancelUpgrade(caller string) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if !a.Upgrade.Scheduled {
		return model.ErrNoUpgradeScheduled
	}
	a.Upgrade = model.UpgradeSchedule{}
	return nil
}
