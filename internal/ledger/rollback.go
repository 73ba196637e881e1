package ledger

import (
	"fmt"
	"time"

	"github.com/stjet/gobanano/internal/core"
)

// rollbackPerformer reverses unconfirmed head blocks. Rolling back a send
// whose destination already received it first cascades into the destination
// account, undoing blocks until the pending entry reappears. Each step
// removes exactly one block, so recursion depth is bounded by the block
// counts of the involved accounts.
type rollbackPerformer struct {
	ledger     *Ledger
	txn        WriteTxn
	rolledBack []core.Block
}

func (p *rollbackPerformer) rollBackBlockHash(hash core.BlockHash) ([]core.Block, error) {
	block, err := p.loadBlock(hash)
	if err != nil {
		return nil, err
	}

	for {
		exists, err := p.txn.BlockExists(hash)
		if err != nil {
			return nil, err
		}
		if !exists {
			break
		}

		if err := p.ensureNotConfirmed(block); err != nil {
			return nil, err
		}

		head, err := p.loadAccountHead(block)
		if err != nil {
			return nil, err
		}
		if err := p.rollBackHeadBlock(head); err != nil {
			return nil, err
		}
		p.rolledBack = append(p.rolledBack, head)
	}

	return p.rolledBack, nil
}

func (p *rollbackPerformer) ensureNotConfirmed(block core.Block) error {
	confHeight, err := p.txn.ConfirmationHeight(block.Sideband().Account)
	if err != nil {
		return err
	}
	if block.Sideband().Height <= confHeight.Height {
		return ErrAlreadyConfirmed
	}
	return nil
}

func (p *rollbackPerformer) loadAccountHead(block core.Block) (core.Block, error) {
	info, err := p.txn.Account(block.Sideband().Account)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountMissing, block.Sideband().Account)
	}
	return p.loadBlock(info.Head)
}

func (p *rollbackPerformer) rollBackHeadBlock(head core.Block) error {
	account := head.Sideband().Account
	currentInfo, err := p.txn.Account(account)
	if err != nil {
		return err
	}
	if currentInfo == nil {
		return fmt.Errorf("%w: %s", ErrAccountMissing, account)
	}

	var previous core.Block
	if !head.Previous().IsZero() {
		previous, err = p.loadBlock(head.Previous())
		if err != nil {
			return err
		}
	}

	previousBalance := core.Amount{}
	if previous != nil {
		previousBalance = previous.Sideband().Balance
	}

	subType := p.subType(head, currentInfo.Balance, previousBalance)

	switch subType {
	case core.BlockSubTypeSend:
		if err := p.rollBackSend(head, account); err != nil {
			return err
		}
	case core.BlockSubTypeReceive, core.BlockSubTypeOpen:
		if err := p.restorePending(head, account, currentInfo.Balance, previousBalance); err != nil {
			return err
		}
	}

	previousRep, err := p.previousRepresentative(head.Previous())
	if err != nil {
		return err
	}

	previousInfo, err := p.previousAccountInfo(head, currentInfo, previousRep)
	if err != nil {
		return err
	}
	if err := p.updateAccount(account, previousInfo); err != nil {
		return err
	}

	if err := p.txn.DeleteBlock(head.Hash()); err != nil {
		return err
	}

	if head.IsLegacy() {
		if err := p.txn.DeleteFrontier(head.Hash()); err != nil {
			return err
		}
	}
	if previous != nil && previous.IsLegacy() {
		if err := p.txn.PutFrontier(previous.Hash(), account); err != nil {
			return err
		}
	}

	if previous != nil {
		if err := p.txn.SetSuccessor(previous.Hash(), core.BlockHash{}); err != nil {
			return err
		}
	}

	p.rollBackWeights(currentInfo, previousRep, previousBalance)

	p.ledger.blockCount.Add(^uint64(0))
	p.ledger.notifyRolledBack(subType)
	return nil
}

// subType derives the semantic role by comparing balances, resolving the tie
// to Change unless the link is an epoch marker.
func (p *rollbackPerformer) subType(head core.Block, current, previous core.Amount) core.BlockSubType {
	switch current.Cmp(previous) {
	case -1:
		return core.BlockSubTypeSend
	case 1:
		if head.Previous().IsZero() {
			return core.BlockSubTypeOpen
		}
		return core.BlockSubTypeReceive
	default:
		if state, ok := head.(*core.StateBlock); ok &&
			p.ledger.constants.Epochs.IsEpochLink(state.Link()) {
			return core.BlockSubTypeEpoch
		}
		return core.BlockSubTypeChange
	}
}

// rollBackSend undoes a send: if the destination already received it, roll
// the destination back until the pending entry reappears, then delete it.
func (p *rollbackPerformer) rollBackSend(head core.Block, account core.Account) error {
	destination := p.sendDestination(head)
	pendingKey := core.PendingKey{Account: destination, Hash: head.Hash()}

	for {
		pending, err := p.txn.Pending(pendingKey)
		if err != nil {
			return err
		}
		if pending != nil {
			break
		}

		// The receive is undone before the send, so the entry is guaranteed
		// to come back.
		destInfo, err := p.txn.Account(destination)
		if err != nil {
			return err
		}
		if destInfo == nil {
			return fmt.Errorf("%w: destination %s", ErrAccountMissing, destination)
		}
		if err := p.recurse(destInfo.Head); err != nil {
			return err
		}
	}

	return p.txn.DeletePending(pendingKey)
}

func (p *rollbackPerformer) sendDestination(head core.Block) core.Account {
	if dest, ok := head.Destination(); ok {
		if state, isState := head.(*core.StateBlock); isState {
			return state.Link().AsAccount()
		}
		return dest
	}
	return core.Account{}
}

// restorePending re-creates the pending entry a receive or open consumed.
// The source account can be unknown when the send was pruned; that does not
// affect ledger processing.
func (p *rollbackPerformer) restorePending(head core.Block, account core.Account, current, previous core.Amount) error {
	sourceHash := head.SourceOrLink()

	sourceAccount := core.Account{}
	if sourceBlock, err := p.txn.Block(sourceHash); err != nil {
		return err
	} else if sourceBlock != nil {
		sourceAccount = sourceBlock.Sideband().Account
	}

	return p.txn.PutPending(
		core.PendingKey{Account: account, Hash: sourceHash},
		&core.PendingInfo{
			Source: sourceAccount,
			Amount: current.Sub(previous),
			Epoch:  head.Sideband().SourceEpoch,
		},
	)
}

func (p *rollbackPerformer) recurse(hash core.BlockHash) error {
	rolledBack, err := p.ledger.rollbackInTxn(p.txn, hash)
	if err != nil {
		return err
	}
	p.rolledBack = append(p.rolledBack, rolledBack...)
	return nil
}

// previousRepresentative walks back from the previous block to the nearest
// representative-carrying block.
func (p *rollbackPerformer) previousRepresentative(hash core.BlockHash) (*core.Account, error) {
	if hash.IsZero() {
		return nil, nil
	}
	repHash, err := p.ledger.RepresentativeBlockHash(p.txn, hash)
	if err != nil {
		return nil, err
	}
	if repHash.IsZero() {
		return nil, nil
	}
	repBlock, err := p.loadBlock(repHash)
	if err != nil {
		return nil, err
	}
	rep, _ := repBlock.Representative()
	return &rep, nil
}

func (p *rollbackPerformer) previousAccountInfo(head core.Block, currentInfo *core.AccountInfo, previousRep *core.Account) (*core.AccountInfo, error) {
	if head.Previous().IsZero() {
		return nil, nil
	}

	balance, err := p.ledger.BalanceOf(p.txn, head.Previous())
	if err != nil {
		return nil, err
	}

	representative := currentInfo.Representative
	if previousRep != nil {
		representative = *previousRep
	}

	previousBlock, err := p.loadBlock(head.Previous())
	if err != nil {
		return nil, err
	}

	return &core.AccountInfo{
		Head:           head.Previous(),
		Representative: representative,
		OpenBlock:      currentInfo.OpenBlock,
		Balance:        balance,
		Modified:       uint64(time.Now().Unix()),
		BlockCount:     currentInfo.BlockCount - 1,
		Epoch:          previousBlock.Sideband().Details.Epoch,
	}, nil
}

func (p *rollbackPerformer) updateAccount(account core.Account, info *core.AccountInfo) error {
	if info == nil {
		if err := p.txn.DeleteAccount(account); err != nil {
			return err
		}
		p.ledger.accountCount.Add(^uint64(0))
		return nil
	}
	return p.txn.PutAccount(account, info)
}

// rollBackWeights inverts the weight adjustment the insert made.
func (p *rollbackPerformer) rollBackWeights(currentInfo *core.AccountInfo, previousRep *core.Account, previousBalance core.Amount) {
	negCurrent := core.Amount{}.WrappingSub(currentInfo.Balance)
	if previousRep != nil {
		p.ledger.weights.AddDual(
			currentInfo.Representative, negCurrent,
			*previousRep, previousBalance,
		)
	} else {
		p.ledger.weights.Add(currentInfo.Representative, negCurrent)
	}
}

func (p *rollbackPerformer) loadBlock(hash core.BlockHash) (core.Block, error) {
	block, err := p.txn.Block(hash)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	return block, nil
}
