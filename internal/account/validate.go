package account

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/ppiankov/sessionguard/internal/model"
	"github.com/ppiankov/sessionguard/internal/sigmode"
)

// Executor performs the external effect of a validated batch. The host
// implements it; the validator calls it only after every internal state
// change has committed, so a reentrant call back into the account
// observes debited windows and an advanced nonce.
type Executor interface {
	Execute(batch *model.Batch) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(batch *model.Batch) error

func (f ExecutorFunc) Execute(batch *model.Batch) error { return f(batch) }

// ValidateAndExecute runs the full pipeline over one batch:
//
//	Received -> SignatureChecked -> CredentialChecked -> TargetsChecked
//	         -> PolicyCharged -> Committed
//
// Stage order must not be changed. Any failure aborts the whole batch
// with no partial state mutation. Exec runs after commit; its failure is
// reported but never refunds the charges — refunding would reopen the
// window-boundary race the accounting exists to close.
func (a *Account) ValidateAndExecute(batch *model.Batch, sig []byte, now int64, exec Executor) (*model.Outcome, error) {
	return a.run(batch, sig, now, exec, false)
}

// Check is the dry-run counterpart: the same pipeline with no state
// mutation and no execution.
func (a *Account) Check(batch *model.Batch, sig []byte, now int64) (*model.Outcome, error) {
	return a.run(batch, sig, now, nil, true)
}

func (a *Account) run(batch *model.Batch, sig []byte, now int64, exec Executor, dryRun bool) (*model.Outcome, error) {
	out := &model.Outcome{
		BatchID:      uuid.NewString(),
		Account:      a.ID,
		CredentialID: batch.CredentialID,
		Decision:     model.Deny,
		Stage:        model.StageReceived,
	}

	release, err := a.lock.Enter()
	if err != nil {
		return fail(out, err)
	}
	defer release()

	if batch.Account != a.ID {
		return fail(out, fmt.Errorf("batch for account %s: %w", batch.Account, model.ErrInvalidSignature))
	}
	if batch.Nonce != a.Nonce {
		return fail(out, fmt.Errorf("batch nonce %d, account nonce %d: %w", batch.Nonce, a.Nonce, model.ErrInvalidSignature))
	}

	// Stage: signature. The scheme comes from the account's current mode;
	// mode 2 binds the account ID and nonce into the digest.
	payload, err := batch.Payload()
	if err != nil {
		return fail(out, err)
	}
	scheme, err := sigmode.SchemeFor(a.Mode, a.ID, a.Nonce)
	if err != nil {
		return fail(out, err)
	}
	if !sigmode.Verify(batch.CredentialID, scheme, payload, sig) {
		return fail(out, fmt.Errorf("credential %s: %w", batch.CredentialID, model.ErrInvalidSignature))
	}
	out.Stage = model.StageSignatureChecked

	// The owner submits batches under its own key and bypasses the
	// session restrictions; everything else is a session credential.
	if batch.CredentialID == a.OwnerKey {
		return a.commit(batch, out, nil, dryRun, exec)
	}

	// Stage: credential.
	cred, err := a.Credentials.Validate(batch.CredentialID, now)
	if err != nil {
		return fail(out, err)
	}
	out.Stage = model.StageCredentialChecked

	// Stage: targets.
	if err := a.guard.CheckBatch(a.ID, cred, batch.Calls); err != nil {
		return fail(out, err)
	}
	out.Stage = model.StageTargetsChecked

	// Stage: policy. Spend-relevant calls aggregate per asset; the sum is
	// charged once per asset so a large transfer cannot be split into
	// small sub-actions to dodge the per-call ceiling.
	totals, err := aggregateSpend(batch.Calls, a.cfg.IsSpendSelector)
	if err != nil {
		return fail(out, err)
	}
	if dryRun {
		if err := a.Policies.PreviewAggregate(batch.CredentialID, totals, now); err != nil {
			return fail(out, err)
		}
	} else {
		if err := a.Policies.ChargeAggregate(batch.CredentialID, totals, now); err != nil {
			return fail(out, err)
		}
	}
	out.Stage = model.StagePolicyCharged

	return a.commit(batch, out, totals, dryRun, exec)
}

// commit finalizes a validated batch: call quota and nonce advance, then
// the external effect runs. All internal state is committed before exec.
func (a *Account) commit(batch *model.Batch, out *model.Outcome, totals map[string]uint64, dryRun bool, exec Executor) (*model.Outcome, error) {
	out.Charged = sortedCharges(totals)
	if dryRun {
		out.Decision = model.Allow
		return out, nil
	}

	if batch.CredentialID != a.OwnerKey {
		if err := a.Credentials.ConsumeCall(batch.CredentialID); err != nil {
			return fail(out, err)
		}
	}
	a.Nonce++
	out.Stage = model.StageCommitted
	out.Decision = model.Allow

	if exec != nil {
		if err := exec.Execute(batch); err != nil {
			// Fail-closed accounting: the validated amounts stay counted
			// against the window even though the effect reverted.
			out.Reason = fmt.Sprintf("execution failed after commit: %v", err)
			return out, fmt.Errorf("execute batch %s: %w", out.BatchID, err)
		}
	}
	return out, nil
}

// aggregateSpend sums the amounts of spend-relevant calls per asset.
func aggregateSpend(calls []model.Call, isSpend func(string) bool) (map[string]uint64, error) {
	totals := make(map[string]uint64)
	for i, call := range calls {
		if !isSpend(call.Selector) {
			continue
		}
		if call.Asset == "" {
			return nil, fmt.Errorf("call %d: spend selector %s without an asset", i, call.Selector)
		}
		if totals[call.Asset] > math.MaxUint64-call.Amount {
			return nil, fmt.Errorf("call %d: %s amount overflow: %w", i, call.Asset, model.ErrWindowLimitExceeded)
		}
		totals[call.Asset] += call.Amount
	}
	return totals, nil
}

func sortedCharges(totals map[string]uint64) []model.AssetCharge {
	if len(totals) == 0 {
		return nil
	}
	out := make([]model.AssetCharge, 0, len(totals))
	for asset, amount := range totals {
		out = append(out, model.AssetCharge{Asset: asset, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func fail(out *model.Outcome, err error) (*model.Outcome, error) {
	out.Decision = model.Deny
	out.Reason = err.Error()
	return out, err
}
