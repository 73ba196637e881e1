package ledger

import (
	"time"

	"github.com/stjet/gobanano/internal/core"
)

// validatorFactory gathers the validator's input bundle through one
// transaction, the write transaction that applies the block, so every check
// sees the same state.
type validatorFactory struct {
	ledger *Ledger
	txn    Txn
	block  core.Block
}

func (f *validatorFactory) createValidator() (*BlockValidator, error) {
	previousBlock, err := f.loadPreviousBlock()
	if err != nil {
		return nil, err
	}
	account := f.account(previousBlock)

	source := f.block.SourceOrLink()
	sourceExists := false
	sourcePruned := false
	if !source.IsZero() {
		sourcePruned, err = f.txn.PrunedExists(source)
		if err != nil {
			return nil, err
		}
		if sourcePruned {
			sourceExists = true
		} else {
			sourceExists, err = f.txn.BlockExists(source)
			if err != nil {
				return nil, err
			}
		}
	}

	var pendingReceive *core.PendingInfo
	if !source.IsZero() {
		pendingReceive, err = f.txn.Pending(core.PendingKey{Account: account, Hash: source})
		if err != nil {
			return nil, err
		}
	}

	blockExists, err := f.ledger.BlockOrPrunedExists(f.txn, f.block.Hash())
	if err != nil {
		return nil, err
	}

	oldInfo, err := f.txn.Account(account)
	if err != nil {
		return nil, err
	}

	anyPending, err := f.txn.AnyPending(account)
	if err != nil {
		return nil, err
	}

	return &BlockValidator{
		Block:              f.block,
		Epochs:             f.ledger.constants.Epochs,
		Work:               f.ledger.work,
		Account:            account,
		BlockExists:        blockExists,
		OldAccountInfo:     oldInfo,
		PreviousBlock:      previousBlock,
		PendingReceiveInfo: pendingReceive,
		AnyPendingExists:   anyPending,
		SourceBlockExists:  sourceExists,
		SourceBlockPruned:  sourcePruned,
		SecondsSinceEpoch:  uint64(time.Now().Unix()),
	}, nil
}

// account resolves the chain author: the account field when the block
// carries one, otherwise the previous block's sideband account.
func (f *validatorFactory) account(previous core.Block) core.Account {
	if account, ok := f.block.AccountField(); ok {
		return account
	}
	if previous != nil {
		return previous.Sideband().Account
	}
	return core.Account{}
}

func (f *validatorFactory) loadPreviousBlock() (core.Block, error) {
	if f.block.Previous().IsZero() {
		return nil, nil
	}
	return f.txn.Block(f.block.Previous())
}
