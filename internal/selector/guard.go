// Package selector decides, per sub-action, whether a session credential
// may invoke the call's target and selector at all, independent of amount.
package selector

import (
	"fmt"
	"strings"

	"github.com/ppiankov/sessionguard/internal/model"
)

// defaultAdminSelectors enumerates the administrative surface. The list is
// defense in depth, not the primary control: the unconditional self-call
// block below catches privileged operations the enumeration misses.
var defaultAdminSelectors = []string{
	"register_credential",
	"revoke_credential",
	"emergency_revoke_all",
	"set_policy",
	"disable_policy",
	"remove_policy",
	"set_signature_mode",
	"schedule_upgrade",
	"execute_upgrade",
	"cancel_upgrade",
}

// Guard enforces the default-deny target model.
type Guard struct {
	admin map[string]bool
}

// NewGuard creates a guard with the given extra admin selectors merged
// into the built-in set.
func NewGuard(extraAdmin []string) *Guard {
	g := &Guard{admin: make(map[string]bool, len(defaultAdminSelectors)+len(extraAdmin))}
	for _, s := range defaultAdminSelectors {
		g.admin[s] = true
	}
	for _, s := range extraAdmin {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			g.admin[s] = true
		}
	}
	return g
}

// IsAdminSelector reports whether a selector belongs to the
// administrative surface.
func (g *Guard) IsAdminSelector(sel string) bool {
	return g.admin[strings.ToLower(sel)]
}

// Check decides whether the credential may invoke the call.
//
// Two rules apply regardless of any allowlist content:
//  1. no self-call: the account's own surface is never reachable from a
//     session credential
//  2. admin selectors are denied everywhere
//
// Beyond that, an empty allowlist permits any target and a non-empty
// allowlist permits only its members. Fail-closed on any miss.
func (g *Guard) Check(accountID string, cred *model.Credential, call model.Call) error {
	if call.Target == accountID {
		return fmt.Errorf("call %s on own account: %w", call.Selector, model.ErrUnauthorizedTarget)
	}
	if g.IsAdminSelector(call.Selector) {
		return fmt.Errorf("admin selector %s: %w", call.Selector, model.ErrUnauthorizedTarget)
	}
	if len(cred.AllowedTargets) == 0 {
		return nil
	}
	for _, t := range cred.AllowedTargets {
		if t == call.Target {
			return nil
		}
	}
	return fmt.Errorf("target %s not in allowlist: %w", call.Target, model.ErrUnauthorizedTarget)
}

// CheckBatch validates every call in the batch. The first failure aborts.
func (g *Guard) CheckBatch(accountID string, cred *model.Credential, calls []model.Call) error {
	for i, call := range calls {
		if err := g.Check(accountID, cred, call); err != nil {
			return fmt.Errorf("call %d: %w", i, err)
		}
	}
	return nil
}
