package ledger

import "errors"

// Validation errors. Each check in the validator maps to a distinct kind so
// a peer or RPC caller can tell "already have it" from "fork" from "bad
// signature". These are returned, counted, and never abort the process.
var (
	// ErrBlockExists means the hash is already stored or pruned.
	ErrBlockExists = errors.New("block already exists")
	ErrBadSignature = errors.New("bad signature")
	ErrWorkInsufficient = errors.New("insufficient work")
	// ErrGapPrevious means the previous block is not in the ledger yet.
	ErrGapPrevious = errors.New("gap previous")
	// ErrGapSource means the source send is not in the ledger yet.
	ErrGapSource = errors.New("gap source")
	// ErrFork means a different block already occupies this chain position.
	ErrFork = errors.New("fork")
	// ErrBalanceMismatch means the stated balance is inconsistent with the
	// block's role.
	ErrBalanceMismatch = errors.New("balance mismatch")
	// ErrUnreceivable means the source does not resolve to a matching
	// pending entry.
	ErrUnreceivable = errors.New("unreceivable")
	// ErrRepresentativeMismatch rejects changes that keep the representative
	// and epoch blocks that alter it.
	ErrRepresentativeMismatch = errors.New("representative mismatch")
	// ErrInvalidEpoch rejects epoch blocks whose link is not the account's
	// next epoch.
	ErrInvalidEpoch = errors.New("invalid epoch")
)

// Rollback errors.
var (
	ErrBlockNotFound = errors.New("block not found")
	// ErrAlreadyConfirmed protects confirmed history from rollback.
	ErrAlreadyConfirmed = errors.New("only unconfirmed blocks can be rolled back")
	// ErrAccountMissing is an integrity violation: a stored block whose
	// account record is gone. Not recoverable locally.
	ErrAccountMissing = errors.New("account record missing for stored block")
)
