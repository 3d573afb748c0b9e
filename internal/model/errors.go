package model

import "errors"

// Validation error taxonomy. Every failure aborts the whole batch with no
// partial state mutation; callers discriminate with errors.Is.
var (
	ErrExpiredCredential       = errors.New("credential expired")
	ErrNotYetValid             = errors.New("credential not yet valid")
	ErrQuotaExhausted          = errors.New("credential call quota exhausted")
	ErrDuplicateCredential     = errors.New("credential already registered")
	ErrOwnershipConflict       = errors.New("credential registered under different terms")
	ErrUnknownCredential       = errors.New("credential not registered")
	ErrCredentialRevoked       = errors.New("credential revoked")
	ErrUnauthorizedTarget      = errors.New("target not authorized for credential")
	ErrPerCallLimitExceeded    = errors.New("per-call spending limit exceeded")
	ErrWindowLimitExceeded     = errors.New("window spending limit exceeded")
	ErrDowngradeRejected       = errors.New("signature mode downgrade rejected")
	ErrInvalidSignatureMode    = errors.New("unrecognized signature mode")
	ErrInvalidSignature        = errors.New("batch signature invalid")
	ErrReentrancyDetected      = errors.New("reentrant call detected")
	ErrTooEarly                = errors.New("upgrade timelock not elapsed")
	ErrUpgradeAlreadyScheduled = errors.New("an upgrade is already scheduled")
	ErrNoUpgradeScheduled      = errors.New("no upgrade scheduled")
	ErrNotOwner                = errors.New("caller is not the account owner")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrExpiredCredential, "expired_credential"},
	{ErrNotYetValid, "not_yet_valid"},
	{ErrQuotaExhausted, "quota_exhausted"},
	{ErrDuplicateCredential, "duplicate_credential"},
	{ErrOwnershipConflict, "ownership_conflict"},
	{ErrUnknownCredential, "unknown_credential"},
	{ErrCredentialRevoked, "credential_revoked"},
	{ErrUnauthorizedTarget, "unauthorized_target"},
	{ErrPerCallLimitExceeded, "per_call_limit_exceeded"},
	{ErrWindowLimitExceeded, "window_limit_exceeded"},
	{ErrDowngradeRejected, "downgrade_rejected"},
	{ErrInvalidSignatureMode, "invalid_signature_mode"},
	{ErrInvalidSignature, "invalid_signature"},
	{ErrReentrancyDetected, "reentrancy_detected"},
	{ErrTooEarly, "too_early"},
	{ErrUpgradeAlreadyScheduled, "upgrade_already_scheduled"},
	{ErrNoUpgradeScheduled, "no_upgrade_scheduled"},
	{ErrNotOwner, "not_owner"},
}

// ErrorCode maps a taxonomy error to its stable audit-log code.
// Unknown errors map to "internal".
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}
