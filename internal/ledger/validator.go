package ledger

import (
	"github.com/stjet/gobanano/internal/core"
)

// InsertInstructions is the validator's output: everything the mutator needs
// to apply a block, computed purely from a read snapshot. The validator
// itself performs no writes.
type InsertInstructions struct {
	Account        core.Account
	OldAccountInfo *core.AccountInfo
	NewAccountInfo core.AccountInfo
	Sideband       core.Sideband
	SubType        core.BlockSubType

	PendingToAdd    *pendingEntry
	PendingToRemove *core.PendingKey

	// DeleteFrontierOf is the legacy head hash whose frontier entry must be
	// removed, zero if none.
	DeleteFrontierOf core.BlockHash
	// AddFrontier is set when the inserted block becomes a legacy head.
	AddFrontier bool
}

type pendingEntry struct {
	Key  core.PendingKey
	Info core.PendingInfo
}

// BlockValidator checks one candidate block against a snapshot of the
// ledger. The input bundle is gathered by the factory through the write
// transaction that applies the block.
type BlockValidator struct {
	Block   core.Block
	Epochs  *core.Epochs
	Work    core.WorkThresholds
	Account core.Account

	BlockExists        bool
	OldAccountInfo     *core.AccountInfo
	PreviousBlock      core.Block
	PendingReceiveInfo *core.PendingInfo
	AnyPendingExists   bool
	SourceBlockExists  bool
	SourceBlockPruned  bool
	SecondsSinceEpoch  uint64
}

// Validate runs all checks in order and, on success, derives the insert
// instructions.
func (v *BlockValidator) Validate() (*InsertInstructions, error) {
	if v.BlockExists {
		return nil, ErrBlockExists
	}

	subType, err := v.classify()
	if err != nil {
		return nil, err
	}

	if err := v.checkSignature(subType); err != nil {
		return nil, err
	}
	if err := v.checkWork(subType); err != nil {
		return nil, err
	}
	if err := v.checkPrevious(); err != nil {
		return nil, err
	}
	if err := v.checkSource(subType); err != nil {
		return nil, err
	}
	if err := v.checkPosition(); err != nil {
		return nil, err
	}
	if err := v.checkBalance(subType); err != nil {
		return nil, err
	}
	if err := v.checkReceivable(subType); err != nil {
		return nil, err
	}

	return v.instructions(subType)
}

// classify derives the semantic role of the block. Legacy blocks carry it in
// their type; state blocks are classified by balance delta and link.
func (v *BlockValidator) classify() (core.BlockSubType, error) {
	switch v.Block.Type() {
	case core.BlockTypeSend:
		return core.BlockSubTypeSend, nil
	case core.BlockTypeReceive:
		return core.BlockSubTypeReceive, nil
	case core.BlockTypeOpen:
		return core.BlockSubTypeOpen, nil
	case core.BlockTypeChange:
		return core.BlockSubTypeChange, nil
	}

	state := v.Block.(*core.StateBlock)
	previous := v.previousBalance()
	balance, _ := state.Balance()

	switch balance.Cmp(previous) {
	case -1:
		return core.BlockSubTypeSend, nil
	case 1:
		if state.IsOpen() {
			return core.BlockSubTypeOpen, nil
		}
		return core.BlockSubTypeReceive, nil
	default:
		if v.Epochs.IsEpochLink(state.Link()) {
			return core.BlockSubTypeEpoch, nil
		}
		if !state.Link().IsZero() {
			// A receive of zero raw is not a thing; an equal-balance block
			// with a dangling link is malformed.
			return 0, ErrBalanceMismatch
		}
		return core.BlockSubTypeChange, nil
	}
}

func (v *BlockValidator) previousBalance() core.Amount {
	if v.OldAccountInfo == nil {
		return core.Amount{}
	}
	return v.OldAccountInfo.Balance
}

func (v *BlockValidator) checkSignature(subType core.BlockSubType) error {
	signer := v.Account
	if subType == core.BlockSubTypeEpoch {
		state := v.Block.(*core.StateBlock)
		epoch := v.Epochs.EpochOf(state.Link())
		epochSigner, ok := v.Epochs.Signer(epoch)
		if !ok {
			return ErrInvalidEpoch
		}
		signer = epochSigner
	}
	if signer.IsZero() {
		return ErrBadSignature
	}
	if !core.Verify(signer, v.Block.Hash().Bytes(), v.Block.Signature()) {
		return ErrBadSignature
	}
	return nil
}

func (v *BlockValidator) checkWork(subType core.BlockSubType) error {
	details := v.blockDetails(subType)
	if !v.Work.ValidateWork(v.Block.Root(), v.Block.Work(), details) {
		return ErrWorkInsufficient
	}
	return nil
}

func (v *BlockValidator) checkPrevious() error {
	if !v.Block.Previous().IsZero() && v.PreviousBlock == nil {
		return ErrGapPrevious
	}
	return nil
}

func (v *BlockValidator) checkSource(subType core.BlockSubType) error {
	if subType != core.BlockSubTypeReceive && subType != core.BlockSubTypeOpen {
		return nil
	}
	source := v.Block.SourceOrLink()
	if source.IsZero() {
		// An open without a source is only valid as an epoch open, which was
		// classified separately.
		return ErrGapSource
	}
	if !v.SourceBlockExists {
		return ErrGapSource
	}
	return nil
}

func (v *BlockValidator) checkPosition() error {
	opening := v.Block.Previous().IsZero()
	if opening {
		if v.OldAccountInfo != nil {
			return ErrFork
		}
		return nil
	}
	if v.OldAccountInfo == nil {
		// A non-open block for an account we have never seen: its previous
		// block is missing by definition.
		return ErrGapPrevious
	}
	if v.Block.Previous() != v.OldAccountInfo.Head {
		return ErrFork
	}
	return nil
}

func (v *BlockValidator) checkBalance(subType core.BlockSubType) error {
	previous := v.previousBalance()

	switch subType {
	case core.BlockSubTypeSend:
		balance := v.newBalance(subType)
		if balance.Cmp(previous) >= 0 {
			return ErrBalanceMismatch
		}
	case core.BlockSubTypeReceive, core.BlockSubTypeOpen:
		if v.PendingReceiveInfo != nil {
			if stated, ok := v.Block.Balance(); ok {
				expected := previous.Add(v.PendingReceiveInfo.Amount)
				if !stated.Equal(expected) {
					return ErrBalanceMismatch
				}
			}
		}
	case core.BlockSubTypeChange:
		if stated, ok := v.Block.Balance(); ok && !stated.Equal(previous) {
			return ErrBalanceMismatch
		}
		if rep, ok := v.Block.Representative(); ok && v.OldAccountInfo != nil &&
			rep == v.OldAccountInfo.Representative {
			return ErrRepresentativeMismatch
		}
	case core.BlockSubTypeEpoch:
		return v.checkEpoch()
	}
	return nil
}

// checkEpoch validates an epoch-upgrade block: zero balance delta, the link
// must name the account's next epoch, and the representative must match the
// current head (or be unset for a fresh account).
func (v *BlockValidator) checkEpoch() error {
	state := v.Block.(*core.StateBlock)
	next := v.Epochs.EpochOf(state.Link())
	if next == core.EpochUnspecified {
		return ErrInvalidEpoch
	}

	current := core.EpochEpoch0
	if v.OldAccountInfo != nil {
		current = v.OldAccountInfo.Epoch
	}
	if current.Succ() != next {
		return ErrInvalidEpoch
	}

	if v.OldAccountInfo != nil {
		balance, _ := state.Balance()
		if !balance.Equal(v.OldAccountInfo.Balance) {
			return ErrBalanceMismatch
		}
		if state.Rep != v.OldAccountInfo.Representative {
			return ErrRepresentativeMismatch
		}
	} else {
		// Epoch-opening an unopened account: only sensible when something is
		// receivable, and the starting state must be all-default.
		if !v.AnyPendingExists {
			return ErrGapPrevious
		}
		balance, _ := state.Balance()
		if !balance.IsZero() || !state.Rep.IsZero() {
			return ErrRepresentativeMismatch
		}
	}
	return nil
}

func (v *BlockValidator) checkReceivable(subType core.BlockSubType) error {
	if subType != core.BlockSubTypeReceive && subType != core.BlockSubTypeOpen {
		return nil
	}
	if v.PendingReceiveInfo == nil {
		if v.SourceBlockPruned {
			// The send was pruned; the pending entry is unknowable. State
			// blocks carry their own balance and may proceed; legacy blocks
			// cannot derive one.
			if v.Block.IsLegacy() {
				return ErrGapSource
			}
			return nil
		}
		return ErrUnreceivable
	}
	// Legacy receives predate epochs and cannot consume an upgraded send.
	if v.Block.IsLegacy() && v.PendingReceiveInfo.Epoch > core.EpochEpoch0 {
		return ErrUnreceivable
	}
	return nil
}

// newBalance derives the post-application balance for any block variant.
func (v *BlockValidator) newBalance(subType core.BlockSubType) core.Amount {
	if stated, ok := v.Block.Balance(); ok {
		return stated
	}
	previous := v.previousBalance()
	switch subType {
	case core.BlockSubTypeReceive, core.BlockSubTypeOpen:
		if v.PendingReceiveInfo != nil {
			return previous.Add(v.PendingReceiveInfo.Amount)
		}
		return previous
	default:
		return previous
	}
}

func (v *BlockValidator) blockDetails(subType core.BlockSubType) core.BlockDetails {
	return core.BlockDetails{
		Epoch:     v.newEpoch(subType),
		IsSend:    subType == core.BlockSubTypeSend,
		IsReceive: subType == core.BlockSubTypeReceive || subType == core.BlockSubTypeOpen,
		IsEpoch:   subType == core.BlockSubTypeEpoch,
	}
}

func (v *BlockValidator) newEpoch(subType core.BlockSubType) core.Epoch {
	old := core.EpochEpoch0
	if v.OldAccountInfo != nil {
		old = v.OldAccountInfo.Epoch
	}
	switch subType {
	case core.BlockSubTypeEpoch:
		state := v.Block.(*core.StateBlock)
		return v.Epochs.EpochOf(state.Link())
	case core.BlockSubTypeReceive, core.BlockSubTypeOpen:
		// Receiving from an upgraded send lifts the account to the sending
		// side's epoch.
		if v.PendingReceiveInfo != nil && v.PendingReceiveInfo.Epoch > old {
			return v.PendingReceiveInfo.Epoch
		}
		return old
	default:
		return old
	}
}

func (v *BlockValidator) instructions(subType core.BlockSubType) (*InsertInstructions, error) {
	balance := v.newBalance(subType)
	height := uint64(1)
	openBlock := v.Block.Hash()
	representative := core.Account{}
	if rep, ok := v.Block.Representative(); ok {
		representative = rep
	} else if v.OldAccountInfo != nil {
		representative = v.OldAccountInfo.Representative
	}
	if v.OldAccountInfo != nil {
		height = v.OldAccountInfo.BlockCount + 1
		openBlock = v.OldAccountInfo.OpenBlock
	}

	sourceEpoch := core.EpochUnspecified
	if v.PendingReceiveInfo != nil &&
		(subType == core.BlockSubTypeReceive || subType == core.BlockSubTypeOpen) {
		sourceEpoch = v.PendingReceiveInfo.Epoch
		if sourceEpoch == core.EpochUnspecified {
			sourceEpoch = core.EpochEpoch0
		}
	}

	instr := &InsertInstructions{
		Account:        v.Account,
		OldAccountInfo: v.OldAccountInfo,
		SubType:        subType,
		NewAccountInfo: core.AccountInfo{
			Head:           v.Block.Hash(),
			Representative: representative,
			OpenBlock:      openBlock,
			Balance:        balance,
			Modified:       v.SecondsSinceEpoch,
			BlockCount:     height,
			Epoch:          v.newEpoch(subType),
		},
		Sideband: core.Sideband{
			Height:      height,
			Timestamp:   v.SecondsSinceEpoch,
			Account:     v.Account,
			Balance:     balance,
			Details:     v.blockDetails(subType),
			SourceEpoch: sourceEpoch,
		},
	}

	switch subType {
	case core.BlockSubTypeSend:
		amount := v.previousBalance().Sub(balance)
		destination := v.destination()
		epoch := instr.NewAccountInfo.Epoch
		instr.PendingToAdd = &pendingEntry{
			Key: core.PendingKey{Account: destination, Hash: v.Block.Hash()},
			Info: core.PendingInfo{
				Source: v.Account,
				Amount: amount,
				Epoch:  epoch,
			},
		}
	case core.BlockSubTypeReceive, core.BlockSubTypeOpen:
		if v.PendingReceiveInfo != nil {
			instr.PendingToRemove = &core.PendingKey{
				Account: v.Account,
				Hash:    v.Block.SourceOrLink(),
			}
		}
	}

	// Frontier maintenance. Legacy heads occupy the frontier index; state
	// blocks vacate it.
	if v.OldAccountInfo != nil {
		instr.DeleteFrontierOf = v.OldAccountInfo.Head
	}
	instr.AddFrontier = v.Block.IsLegacy()

	return instr, nil
}

func (v *BlockValidator) destination() core.Account {
	if dest, ok := v.Block.Destination(); ok {
		if state, isState := v.Block.(*core.StateBlock); isState {
			return state.Link().AsAccount()
		}
		return dest
	}
	return core.Account{}
}
