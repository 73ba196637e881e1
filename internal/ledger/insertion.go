package ledger

import (
	"github.com/stjet/gobanano/internal/core"
)

// blockInserter applies validated InsertInstructions inside one write
// transaction. Steps 1-6 commit atomically; observers run only after the
// commit, in commit order.
type blockInserter struct {
	ledger *Ledger
	txn    WriteTxn
}

func (i *blockInserter) insert(block core.Block, instr *InsertInstructions) error {
	sideband := instr.Sideband
	block.SetSideband(&sideband)
	if err := i.txn.PutBlock(block); err != nil {
		return err
	}

	if !block.Previous().IsZero() {
		if err := i.txn.SetSuccessor(block.Previous(), block.Hash()); err != nil {
			return err
		}
	}

	if err := i.txn.PutAccount(instr.Account, &instr.NewAccountInfo); err != nil {
		return err
	}

	if instr.PendingToAdd != nil {
		info := instr.PendingToAdd.Info
		if err := i.txn.PutPending(instr.PendingToAdd.Key, &info); err != nil {
			return err
		}
	}
	if instr.PendingToRemove != nil {
		if err := i.txn.DeletePending(*instr.PendingToRemove); err != nil {
			return err
		}
	}

	if err := i.updateFrontier(block, instr); err != nil {
		return err
	}

	i.updateWeights(instr)
	return nil
}

func (i *blockInserter) updateFrontier(block core.Block, instr *InsertInstructions) error {
	if !instr.DeleteFrontierOf.IsZero() {
		// Only legacy heads occupy the index; deleting an absent key is a
		// no-op either way.
		if err := i.txn.DeleteFrontier(instr.DeleteFrontierOf); err != nil {
			return err
		}
	}
	if instr.AddFrontier {
		return i.txn.PutFrontier(block.Hash(), instr.Account)
	}
	return nil
}

// updateWeights moves the account balance between representatives: the old
// balance leaves the old representative, the new balance joins the new one.
// Wrapping subtraction keeps batched rollbacks consistent.
func (i *blockInserter) updateWeights(instr *InsertInstructions) {
	newRep := instr.NewAccountInfo.Representative
	newBalance := instr.NewAccountInfo.Balance

	if instr.OldAccountInfo == nil {
		i.ledger.weights.Add(newRep, newBalance)
		return
	}

	oldRep := instr.OldAccountInfo.Representative
	oldBalance := instr.OldAccountInfo.Balance
	i.ledger.weights.AddDual(
		newRep, newBalance,
		oldRep, core.Amount{}.WrappingSub(oldBalance),
	)
}
