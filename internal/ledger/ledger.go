package ledger

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/internal/stats"
	"github.com/stjet/gobanano/pkg/logging"
)

// Observer receives ledger lifecycle notifications after the write
// transaction that produced them has committed.
type Observer interface {
	BlockProcessed(subType core.BlockSubType, block core.Block)
	BlockRolledBack(subType core.BlockSubType)
	BlockConfirmed(block core.Block)
}

// Ledger owns the persistent account/pending/frontier state and the rules
// for mutating it: process (validate + apply), rollback, and confirmation
// height tracking.
type Ledger struct {
	store     Store
	constants config.LedgerConstants
	work      core.WorkThresholds
	weights   *RepWeights
	stats     *stats.Stats
	log       *logging.Logger

	observer Observer

	blockCount   atomic.Uint64
	accountCount atomic.Uint64
}

// NewLedger opens a ledger over the store, installing the genesis block if
// the store is empty and rebuilding the in-memory caches.
func NewLedger(store Store, constants config.LedgerConstants, work core.WorkThresholds, st *stats.Stats) (*Ledger, error) {
	l := &Ledger{
		store:     store,
		constants: constants,
		work:      work,
		weights:   NewRepWeights(),
		stats:     st,
		log:       logging.GetDefault().Component("ledger"),
	}

	count, err := store.BlockCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		if err := l.addGenesis(); err != nil {
			return nil, fmt.Errorf("failed to initialize genesis: %w", err)
		}
		count = 1
	}
	l.blockCount.Store(count)

	if err := l.rebuildCaches(); err != nil {
		return nil, err
	}

	l.log.Info("Ledger ready", "blocks", l.blockCount.Load(), "accounts", l.accountCount.Load())
	return l, nil
}

// SetObserver installs the lifecycle observer. Must be called before the
// node starts processing.
func (l *Ledger) SetObserver(observer Observer) {
	l.observer = observer
}

func (l *Ledger) addGenesis() error {
	genesis := l.constants.GenesisBlock
	account := l.constants.GenesisAccount

	txn, err := l.store.BeginWrite()
	if err != nil {
		return err
	}
	defer txn.Discard()

	now := uint64(time.Now().Unix())
	genesis.SetSideband(&core.Sideband{
		Height:    1,
		Timestamp: now,
		Account:   account,
		Balance:   core.MaxAmount,
		Details:   core.BlockDetails{Epoch: core.EpochEpoch0, IsReceive: true},
	})

	if err := txn.PutBlock(genesis); err != nil {
		return err
	}
	info := &core.AccountInfo{
		Head:           genesis.Hash(),
		Representative: account,
		OpenBlock:      genesis.Hash(),
		Balance:        core.MaxAmount,
		Modified:       now,
		BlockCount:     1,
		Epoch:          core.EpochEpoch0,
	}
	if err := txn.PutAccount(account, info); err != nil {
		return err
	}
	if err := txn.PutFrontier(genesis.Hash(), account); err != nil {
		return err
	}
	// The genesis is confirmed by definition.
	if err := txn.PutConfirmationHeight(account, core.ConfirmationHeightInfo{Height: 1, Frontier: genesis.Hash()}); err != nil {
		return err
	}
	return txn.Commit()
}

func (l *Ledger) rebuildCaches() error {
	var accounts uint64
	err := l.store.ForEachAccount(func(account core.Account, info *core.AccountInfo) error {
		accounts++
		l.weights.Add(info.Representative, info.Balance)
		return nil
	})
	if err != nil {
		return err
	}
	l.accountCount.Store(accounts)
	return nil
}

// Process validates the block inside the write transaction that applies it
// and, if it may extend its chain, applies it atomically. Validation errors are returned to the
// caller and counted; they never abort the node.
func (l *Ledger) Process(block core.Block) error {
	err := l.processOnce(block)
	if errors.Is(err, ErrWriteConflict) {
		// One retry before surfacing.
		err = l.processOnce(block)
	}

	if err == nil {
		l.stats.Inc(stats.TypeLedger, stats.DetailProcessed)
	} else {
		l.countProcessError(err)
	}
	return err
}

func (l *Ledger) processOnce(block core.Block) error {
	txn, err := l.store.BeginWrite()
	if err != nil {
		return err
	}
	defer txn.Discard()

	factory := &validatorFactory{ledger: l, txn: txn, block: block}
	validator, err := factory.createValidator()
	if err != nil {
		return err
	}

	instr, err := validator.Validate()
	if err != nil {
		return err
	}

	inserter := &blockInserter{ledger: l, txn: txn}
	if err := inserter.insert(block, instr); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		return err
	}

	l.blockCount.Add(1)
	if instr.OldAccountInfo == nil {
		l.accountCount.Add(1)
	}
	if l.observer != nil {
		l.observer.BlockProcessed(instr.SubType, block)
	}
	return nil
}

func (l *Ledger) countProcessError(err error) {
	switch {
	case errors.Is(err, ErrBlockExists):
		l.stats.Inc(stats.TypeLedger, stats.DetailOld)
	case errors.Is(err, ErrGapPrevious):
		l.stats.Inc(stats.TypeLedger, stats.DetailGapPrevious)
	case errors.Is(err, ErrGapSource):
		l.stats.Inc(stats.TypeLedger, stats.DetailGapSource)
	case errors.Is(err, ErrFork):
		l.stats.Inc(stats.TypeLedger, stats.DetailFork)
	case errors.Is(err, ErrBadSignature):
		l.stats.Inc(stats.TypeLedger, stats.DetailBadSignature)
	case errors.Is(err, ErrWorkInsufficient):
		l.stats.Inc(stats.TypeLedger, stats.DetailInsufficientWork)
	}
}

// Rollback removes the head of the target's account chain, recursing into
// receiver accounts, until the target block is gone. Only unconfirmed blocks
// may be rolled back.
func (l *Ledger) Rollback(hash core.BlockHash) ([]core.Block, error) {
	txn, err := l.store.BeginWrite()
	if err != nil {
		return nil, err
	}
	defer txn.Discard()

	rolledBack, err := l.rollbackInTxn(txn, hash)
	if err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return rolledBack, nil
}

func (l *Ledger) rollbackInTxn(txn WriteTxn, hash core.BlockHash) ([]core.Block, error) {
	performer := &rollbackPerformer{ledger: l, txn: txn}
	return performer.rollBackBlockHash(hash)
}

func (l *Ledger) notifyRolledBack(subType core.BlockSubType) {
	switch subType {
	case core.BlockSubTypeSend:
		l.stats.Inc(stats.TypeRollback, stats.DetailSend)
	case core.BlockSubTypeReceive:
		l.stats.Inc(stats.TypeRollback, stats.DetailReceive)
	case core.BlockSubTypeOpen:
		l.stats.Inc(stats.TypeRollback, stats.DetailOpen)
	case core.BlockSubTypeChange:
		l.stats.Inc(stats.TypeRollback, stats.DetailChange)
	case core.BlockSubTypeEpoch:
		l.stats.Inc(stats.TypeRollback, stats.DetailEpoch)
	}
	if l.observer != nil {
		l.observer.BlockRolledBack(subType)
	}
}

// Confirm advances the confirmation height of the block's account to the
// block, marking it and its ancestors immune to rollback.
func (l *Ledger) Confirm(hash core.BlockHash) error {
	txn, err := l.store.BeginWrite()
	if err != nil {
		return err
	}
	defer txn.Discard()

	block, err := txn.Block(hash)
	if err != nil {
		return err
	}
	if block == nil {
		return fmt.Errorf("confirm: %w: %s", ErrBlockNotFound, hash)
	}

	account := block.Sideband().Account
	current, err := txn.ConfirmationHeight(account)
	if err != nil {
		return err
	}
	if block.Sideband().Height <= current.Height {
		return nil
	}

	err = txn.PutConfirmationHeight(account, core.ConfirmationHeightInfo{
		Height:   block.Sideband().Height,
		Frontier: hash,
	})
	if err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	if l.observer != nil {
		l.observer.BlockConfirmed(block)
	}
	return nil
}

// BeginRead exposes a read snapshot for callers that batch lookups, such as
// the bootstrap servers.
func (l *Ledger) BeginRead() (Txn, error) {
	return l.store.BeginRead()
}

// BlockOrPrunedExists reports whether the hash is stored or pruned.
func (l *Ledger) BlockOrPrunedExists(txn Txn, hash core.BlockHash) (bool, error) {
	pruned, err := txn.PrunedExists(hash)
	if err != nil || pruned {
		return pruned, err
	}
	return txn.BlockExists(hash)
}

// BalanceOf returns the balance recorded at a block, from its sideband.
func (l *Ledger) BalanceOf(txn Txn, hash core.BlockHash) (core.Amount, error) {
	if hash.IsZero() {
		return core.Amount{}, nil
	}
	block, err := txn.Block(hash)
	if err != nil {
		return core.Amount{}, err
	}
	if block == nil {
		return core.Amount{}, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	return block.Sideband().Balance, nil
}

// AccountOf returns the author of a stored block, or the zero account if the
// block is unknown (e.g. pruned).
func (l *Ledger) AccountOf(txn Txn, hash core.BlockHash) (core.Account, error) {
	block, err := txn.Block(hash)
	if err != nil {
		return core.Account{}, err
	}
	if block == nil {
		return core.Account{}, nil
	}
	return block.Sideband().Account, nil
}

// RepresentativeBlockHash walks back from hash to the nearest block that
// declares a representative.
func (l *Ledger) RepresentativeBlockHash(txn Txn, hash core.BlockHash) (core.BlockHash, error) {
	current := hash
	for !current.IsZero() {
		block, err := txn.Block(current)
		if err != nil {
			return core.BlockHash{}, err
		}
		if block == nil {
			return core.BlockHash{}, nil
		}
		if _, ok := block.Representative(); ok {
			return current, nil
		}
		current = block.Previous()
	}
	return core.BlockHash{}, nil
}

// Weight returns the cached voting weight of a representative.
func (l *Ledger) Weight(rep core.Account) core.Amount {
	return l.weights.Weight(rep)
}

// BlockCount returns the cached number of persisted blocks.
func (l *Ledger) BlockCount() uint64 {
	return l.blockCount.Load()
}

// AccountCount returns the cached number of opened accounts.
func (l *Ledger) AccountCount() uint64 {
	return l.accountCount.Load()
}

// Constants exposes the ledger constants (genesis, epochs).
func (l *Ledger) Constants() config.LedgerConstants {
	return l.constants
}

// WorkThresholds exposes the active difficulty table.
func (l *Ledger) WorkThresholds() core.WorkThresholds {
	return l.work
}

// Store exposes the underlying store for peer caching.
func (l *Ledger) Store() Store {
	return l.store
}
