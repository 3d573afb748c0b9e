// Package sigmode versions the message-hashing scheme that authenticates
// session-signed batches. Mode 1 (legacy) hashes only the batch payload;
// mode 2 additionally binds a domain separator, the account identifier,
// and the account's replay nonce. The 1 -> 2 transition is one-way.
package sigmode

import (
	"fmt"

	"github.com/ppiankov/sessionguard/internal/model"
)

// Mode is the stored scheme version.
type Mode uint8

const (
	Legacy          Mode = 1
	DomainSeparated Mode = 2
)

func (m Mode) String() string {
	switch m {
	case Legacy:
		return "legacy"
	case DomainSeparated:
		return "domain_separated"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(m))
	}
}

// Normalize maps a raw stored value to a Mode. Zero reads as Legacy —
// accounts that predate explicit mode storage never wrote a mode, and
// they authenticated with the legacy scheme. Anything else unrecognized
// is rejected.
func Normalize(raw uint8) (Mode, error) {
	switch raw {
	case 0, uint8(Legacy):
		return Legacy, nil
	case uint8(DomainSeparated):
		return DomainSeparated, nil
	default:
		return 0, fmt.Errorf("mode %d: %w", raw, model.ErrInvalidSignatureMode)
	}
}

// Transition validates a mode change. Upgrades are allowed, downgrades
// rejected, unknown values rejected. Same-mode is an idempotent no-op.
func Transition(current, next Mode) error {
	if _, err := Normalize(uint8(next)); err != nil || next == 0 {
		return fmt.Errorf("mode %d: %w", uint8(next), model.ErrInvalidSignatureMode)
	}
	if next < current {
		return fmt.Errorf("mode %d -> %d: %w", uint8(current), uint8(next), model.ErrDowngradeRejected)
	}
	return nil
}
