package ledger

import (
	"errors"
	"testing"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/internal/stats"
	"github.com/stjet/gobanano/pkg/helpers"
)

// testEnv is a dev-network ledger over a temp sqlite store plus the keys
// and builder the scenarios use.
type testEnv struct {
	t          *testing.T
	ledger     *Ledger
	store      *SqliteStore
	builder    *core.BlockBuilder
	genesisKey core.PrivateKey
	genesis    core.Account
	constants  config.LedgerConstants
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := NewSqliteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSqliteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	constants := config.DevLedger()
	l, err := NewLedger(store, constants, core.WorkThresholdsDev, stats.New())
	if err != nil {
		t.Fatalf("NewLedger() error = %v", err)
	}

	var raw [32]byte
	if err := helpers.HexToFixed(config.DevGenesisKey, raw[:]); err != nil {
		t.Fatalf("HexToFixed() error = %v", err)
	}
	genesisKey, err := core.PrivateKeyFromBytes(raw[:])
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error = %v", err)
	}

	return &testEnv{
		t:          t,
		ledger:     l,
		store:      store,
		builder:    core.NewBlockBuilder(&core.StubWorkOracle{Thresholds: core.WorkThresholdsDev}),
		genesisKey: genesisKey,
		genesis:    constants.GenesisAccount,
		constants:  constants,
	}
}

func newTestKey(t *testing.T, fill byte) (core.PrivateKey, core.Account) {
	t.Helper()
	var raw [32]byte
	for i := range raw {
		raw[i] = fill
	}
	key, err := core.PrivateKeyFromBytes(raw[:])
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error = %v", err)
	}
	account, err := key.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	return key, account
}

func (e *testEnv) process(block core.Block) {
	e.t.Helper()
	if err := e.ledger.Process(block); err != nil {
		e.t.Fatalf("Process(%s) error = %v", block.Hash(), err)
	}
}

func (e *testEnv) accountInfo(account core.Account) *core.AccountInfo {
	e.t.Helper()
	txn, err := e.ledger.BeginRead()
	if err != nil {
		e.t.Fatalf("BeginRead() error = %v", err)
	}
	defer txn.Discard()
	info, err := txn.Account(account)
	if err != nil {
		e.t.Fatalf("Account() error = %v", err)
	}
	return info
}

func (e *testEnv) pending(key core.PendingKey) *core.PendingInfo {
	e.t.Helper()
	txn, err := e.ledger.BeginRead()
	if err != nil {
		e.t.Fatalf("BeginRead() error = %v", err)
	}
	defer txn.Discard()
	info, err := txn.Pending(key)
	if err != nil {
		e.t.Fatalf("Pending() error = %v", err)
	}
	return info
}

// sendFromGenesis extends the genesis chain with a state send.
func (e *testEnv) sendFromGenesis(previous core.BlockHash, newBalance core.Amount, destination core.Account) *core.StateBlock {
	e.t.Helper()
	block, err := e.builder.State(e.genesisKey, previous, e.genesis, newBalance, core.Link(destination))
	if err != nil {
		e.t.Fatalf("State() error = %v", err)
	}
	return block
}

func TestGenesisInitialization(t *testing.T) {
	env := newTestEnv(t)

	info := env.accountInfo(env.genesis)
	if info == nil {
		t.Fatal("genesis account missing")
	}
	if !info.Balance.Equal(core.MaxAmount) {
		t.Errorf("genesis balance = %s, want max", info.Balance)
	}
	if info.BlockCount != 1 {
		t.Errorf("genesis block count = %d, want 1", info.BlockCount)
	}
	if env.ledger.BlockCount() != 1 {
		t.Errorf("BlockCount() = %d, want 1", env.ledger.BlockCount())
	}
	if got := env.ledger.Weight(env.genesis); !got.Equal(core.MaxAmount) {
		t.Errorf("genesis weight = %s, want max", got)
	}
}

// Scenario: genesis open + send + receive.
func TestSendAndOpen(t *testing.T) {
	env := newTestEnv(t)
	genesisHead := env.constants.GenesisBlock.Hash()

	aKey, aAccount := newTestKey(t, 0x42)

	amount := core.AmountFromUint64(1000)
	send := env.sendFromGenesis(genesisHead, core.MaxAmount.Sub(amount), aAccount)
	env.process(send)

	if got := env.accountInfo(env.genesis); !got.Balance.Equal(core.MaxAmount.Sub(amount)) {
		t.Errorf("genesis balance after send = %s", got.Balance)
	}

	pending := env.pending(core.PendingKey{Account: aAccount, Hash: send.Hash()})
	if pending == nil {
		t.Fatal("pending entry missing after send")
	}
	if pending.Source != env.genesis {
		t.Errorf("pending source = %s, want genesis", pending.Source)
	}
	if pending.Amount.Uint64() != 1000 {
		t.Errorf("pending amount = %s, want 1000", pending.Amount)
	}
	if pending.Epoch != core.EpochEpoch0 {
		t.Errorf("pending epoch = %v, want epoch 0", pending.Epoch)
	}

	open, err := env.builder.State(aKey, core.BlockHash{}, aAccount, amount, core.Link(send.Hash()))
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	env.process(open)

	if env.pending(core.PendingKey{Account: aAccount, Hash: send.Hash()}) != nil {
		t.Error("pending entry not removed by open")
	}

	info := env.accountInfo(aAccount)
	if info == nil {
		t.Fatal("opened account missing")
	}
	if info.Head != open.Hash() {
		t.Errorf("head = %s, want %s", info.Head, open.Hash())
	}
	if info.Balance.Uint64() != 1000 {
		t.Errorf("balance = %s, want 1000", info.Balance)
	}
	if info.BlockCount != 1 {
		t.Errorf("block count = %d, want 1", info.BlockCount)
	}
	if got := env.ledger.Weight(aAccount); got.Uint64() != 1000 {
		t.Errorf("representative weight = %s, want 1000", got)
	}
}

// Scenario: fork rejection, ledger unchanged by the second attempt.
func TestForkRejection(t *testing.T) {
	env := newTestEnv(t)
	genesisHead := env.constants.GenesisBlock.Hash()
	_, aAccount := newTestKey(t, 0x42)
	_, bAccount := newTestKey(t, 0x43)

	first := env.sendFromGenesis(genesisHead, core.MaxAmount.Sub(core.AmountFromUint64(1000)), aAccount)
	env.process(first)

	second := env.sendFromGenesis(genesisHead, core.MaxAmount.Sub(core.AmountFromUint64(2000)), bAccount)
	err := env.ledger.Process(second)
	if !errors.Is(err, ErrFork) {
		t.Fatalf("Process(fork) error = %v, want ErrFork", err)
	}

	info := env.accountInfo(env.genesis)
	if info.Head != first.Hash() {
		t.Errorf("head changed by rejected fork: %s", info.Head)
	}
	if env.ledger.BlockCount() != 2 {
		t.Errorf("BlockCount() = %d, want 2", env.ledger.BlockCount())
	}
	if env.pending(core.PendingKey{Account: bAccount, Hash: second.Hash()}) != nil {
		t.Error("rejected fork created a pending entry")
	}
}

func TestDuplicateBlockRejected(t *testing.T) {
	env := newTestEnv(t)
	genesisHead := env.constants.GenesisBlock.Hash()
	_, aAccount := newTestKey(t, 0x42)

	send := env.sendFromGenesis(genesisHead, core.MaxAmount.Sub(core.AmountFromUint64(1)), aAccount)
	env.process(send)

	if err := env.ledger.Process(send); !errors.Is(err, ErrBlockExists) {
		t.Errorf("Process(duplicate) error = %v, want ErrBlockExists", err)
	}
}

func TestGapPrevious(t *testing.T) {
	env := newTestEnv(t)
	_, aAccount := newTestKey(t, 0x42)

	send := env.sendFromGenesis(core.BlockHash{0xde, 0xad}, core.MaxAmount.Sub(core.AmountFromUint64(1)), aAccount)
	if err := env.ledger.Process(send); !errors.Is(err, ErrGapPrevious) {
		t.Errorf("Process(dangling previous) error = %v, want ErrGapPrevious", err)
	}
}

func TestUnreceivable(t *testing.T) {
	env := newTestEnv(t)
	genesisHead := env.constants.GenesisBlock.Hash()
	aKey, aAccount := newTestKey(t, 0x42)
	_, bAccount := newTestKey(t, 0x43)

	send := env.sendFromGenesis(genesisHead, core.MaxAmount.Sub(core.AmountFromUint64(1000)), bAccount)
	env.process(send)

	// The send is addressed to B; A cannot open with it.
	open, err := env.builder.State(aKey, core.BlockHash{}, aAccount, core.AmountFromUint64(1000), core.Link(send.Hash()))
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if err := env.ledger.Process(open); !errors.Is(err, ErrUnreceivable) {
		t.Errorf("Process(wrong destination open) error = %v, want ErrUnreceivable", err)
	}
}

func TestReceiveAmountMustMatchPending(t *testing.T) {
	env := newTestEnv(t)
	genesisHead := env.constants.GenesisBlock.Hash()
	aKey, aAccount := newTestKey(t, 0x42)

	send := env.sendFromGenesis(genesisHead, core.MaxAmount.Sub(core.AmountFromUint64(1000)), aAccount)
	env.process(send)

	// Open stating 1500 instead of the pending 1000.
	open, err := env.builder.State(aKey, core.BlockHash{}, aAccount, core.AmountFromUint64(1500), core.Link(send.Hash()))
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if err := env.ledger.Process(open); !errors.Is(err, ErrBalanceMismatch) {
		t.Errorf("Process(bad receive amount) error = %v, want ErrBalanceMismatch", err)
	}
}

// Scenario: rollback cascade across accounts.
func TestRollbackCascade(t *testing.T) {
	env := newTestEnv(t)
	genesisHead := env.constants.GenesisBlock.Hash()
	aKey, aAccount := newTestKey(t, 0x42)
	bKey, bAccount := newTestKey(t, 0x43)

	// Genesis funds A with 1000.
	sendToA := env.sendFromGenesis(genesisHead, core.MaxAmount.Sub(core.AmountFromUint64(1000)), aAccount)
	env.process(sendToA)
	openA, err := env.builder.State(aKey, core.BlockHash{}, aAccount, core.AmountFromUint64(1000), core.Link(sendToA.Hash()))
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	env.process(openA)

	// A sends 400 to B, B opens.
	sendToB, err := env.builder.State(aKey, openA.Hash(), aAccount, core.AmountFromUint64(600), core.Link(bAccount))
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	env.process(sendToB)
	openB, err := env.builder.State(bKey, core.BlockHash{}, bAccount, core.AmountFromUint64(400), core.Link(sendToB.Hash()))
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	env.process(openB)

	blockCountBefore := env.ledger.BlockCount()

	// Rolling back A's send must first undo B's open.
	rolledBack, err := env.ledger.Rollback(sendToB.Hash())
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if len(rolledBack) != 2 {
		t.Fatalf("rolled back %d blocks, want 2", len(rolledBack))
	}
	if rolledBack[0].Hash() != openB.Hash() {
		t.Errorf("first rolled back = %s, want B's open", rolledBack[0].Hash())
	}

	if env.accountInfo(bAccount) != nil {
		t.Error("account B still open after rollback")
	}
	if env.pending(core.PendingKey{Account: bAccount, Hash: sendToB.Hash()}) != nil {
		t.Error("pending entry survived full rollback of the send")
	}

	infoA := env.accountInfo(aAccount)
	if infoA.Balance.Uint64() != 1000 {
		t.Errorf("A balance after rollback = %s, want 1000", infoA.Balance)
	}
	if infoA.Head != openA.Hash() {
		t.Errorf("A head after rollback = %s, want open", infoA.Head)
	}
	if env.ledger.BlockCount() != blockCountBefore-2 {
		t.Errorf("BlockCount() = %d, want %d", env.ledger.BlockCount(), blockCountBefore-2)
	}
	if got := env.ledger.Weight(bAccount); !got.IsZero() {
		t.Errorf("B weight after rollback = %s, want 0", got)
	}
	if got := env.ledger.Weight(aAccount); got.Uint64() != 1000 {
		t.Errorf("A weight after rollback = %s, want 1000", got)
	}
}

// Scenario: a confirmed block cannot be rolled back.
func TestRollbackConfirmedFails(t *testing.T) {
	env := newTestEnv(t)
	genesisHead := env.constants.GenesisBlock.Hash()
	aKey, aAccount := newTestKey(t, 0x42)

	send := env.sendFromGenesis(genesisHead, core.MaxAmount.Sub(core.AmountFromUint64(1000)), aAccount)
	env.process(send)
	open, err := env.builder.State(aKey, core.BlockHash{}, aAccount, core.AmountFromUint64(1000), core.Link(send.Hash()))
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	env.process(open)

	if err := env.ledger.Confirm(open.Hash()); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}

	headBefore := env.accountInfo(aAccount).Head
	if _, err := env.ledger.Rollback(open.Hash()); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Fatalf("Rollback(confirmed) error = %v, want ErrAlreadyConfirmed", err)
	}
	if got := env.accountInfo(aAccount).Head; got != headBefore {
		t.Errorf("head changed by failed rollback: %s", got)
	}
}

// Conservation: balances plus pending always sum to the supply.
func TestLedgerConservation(t *testing.T) {
	env := newTestEnv(t)
	genesisHead := env.constants.GenesisBlock.Hash()
	aKey, aAccount := newTestKey(t, 0x42)
	_, bAccount := newTestKey(t, 0x43)

	sendToA := env.sendFromGenesis(genesisHead, core.MaxAmount.Sub(core.AmountFromUint64(5000)), aAccount)
	env.process(sendToA)
	openA, err := env.builder.State(aKey, core.BlockHash{}, aAccount, core.AmountFromUint64(5000), core.Link(sendToA.Hash()))
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	env.process(openA)
	sendToB, err := env.builder.State(aKey, openA.Hash(), aAccount, core.AmountFromUint64(2000), core.Link(bAccount))
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	env.process(sendToB)

	total := core.Amount{}
	err = env.store.ForEachAccount(func(_ core.Account, info *core.AccountInfo) error {
		total = total.Add(info.Balance)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachAccount() error = %v", err)
	}
	for _, account := range []core.Account{aAccount, bAccount} {
		txn, err := env.ledger.BeginRead()
		if err != nil {
			t.Fatalf("BeginRead() error = %v", err)
		}
		err = txn.ForEachPending(account, func(_ core.PendingKey, info *core.PendingInfo) error {
			total = total.Add(info.Amount)
			return nil
		})
		txn.Discard()
		if err != nil {
			t.Fatalf("ForEachPending() error = %v", err)
		}
	}

	if !total.Equal(core.MaxAmount) {
		t.Errorf("supply = %s, want max", total)
	}
}

// Successor coherence: the previous block's sideband points at its
// successor, and the head's successor is zero.
func TestSuccessorCoherence(t *testing.T) {
	env := newTestEnv(t)
	genesisHead := env.constants.GenesisBlock.Hash()
	_, aAccount := newTestKey(t, 0x42)

	send := env.sendFromGenesis(genesisHead, core.MaxAmount.Sub(core.AmountFromUint64(1)), aAccount)
	env.process(send)

	txn, err := env.ledger.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead() error = %v", err)
	}
	defer txn.Discard()

	genesisBlock, err := txn.Block(genesisHead)
	if err != nil || genesisBlock == nil {
		t.Fatalf("Block(genesis) = %v, %v", genesisBlock, err)
	}
	if genesisBlock.Sideband().Successor != send.Hash() {
		t.Errorf("genesis successor = %s, want %s", genesisBlock.Sideband().Successor, send.Hash())
	}

	sendBlock, err := txn.Block(send.Hash())
	if err != nil || sendBlock == nil {
		t.Fatalf("Block(send) = %v, %v", sendBlock, err)
	}
	if !sendBlock.Sideband().Successor.IsZero() {
		t.Errorf("head successor = %s, want zero", sendBlock.Sideband().Successor)
	}
}

// Rollback inverts process: after rolling back everything above the
// genesis, the ledger matches its initial state.
func TestRollbackInvertsProcess(t *testing.T) {
	env := newTestEnv(t)
	genesisHead := env.constants.GenesisBlock.Hash()
	aKey, aAccount := newTestKey(t, 0x42)

	weightBefore := env.ledger.Weight(env.genesis)

	send := env.sendFromGenesis(genesisHead, core.MaxAmount.Sub(core.AmountFromUint64(777)), aAccount)
	env.process(send)
	open, err := env.builder.State(aKey, core.BlockHash{}, aAccount, core.AmountFromUint64(777), core.Link(send.Hash()))
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	env.process(open)

	if _, err := env.ledger.Rollback(send.Hash()); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	if env.ledger.BlockCount() != 1 {
		t.Errorf("BlockCount() = %d, want 1", env.ledger.BlockCount())
	}
	info := env.accountInfo(env.genesis)
	if !info.Balance.Equal(core.MaxAmount) {
		t.Errorf("genesis balance = %s, want max", info.Balance)
	}
	if info.Head != genesisHead {
		t.Errorf("genesis head = %s, want genesis", info.Head)
	}
	if env.accountInfo(aAccount) != nil {
		t.Error("account A survived rollback")
	}
	if env.pending(core.PendingKey{Account: aAccount, Hash: send.Hash()}) != nil {
		t.Error("pending entry survived rollback")
	}
	if got := env.ledger.Weight(env.genesis); !got.Equal(weightBefore) {
		t.Errorf("genesis weight = %s, want %s", got, weightBefore)
	}
}

func TestEpochUpgrade(t *testing.T) {
	env := newTestEnv(t)
	genesisHead := env.constants.GenesisBlock.Hash()

	link, _ := env.constants.Epochs.Link(core.EpochEpoch1)

	// Skipping an epoch is invalid: epoch 2 cannot follow epoch 0 directly.
	link2, _ := env.constants.Epochs.Link(core.EpochEpoch2)
	skip, err := env.builder.State(env.genesisKey, genesisHead, env.genesis, core.MaxAmount, link2)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if err := env.ledger.Process(skip); !errors.Is(err, ErrInvalidEpoch) {
		t.Errorf("Process(skipped epoch) error = %v, want ErrInvalidEpoch", err)
	}

	// Epoch blocks are signed by the epoch signer (the genesis key on dev)
	// and keep balance and representative.
	epoch, err := env.builder.State(env.genesisKey, genesisHead, env.genesis, core.MaxAmount, link)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	env.process(epoch)

	info := env.accountInfo(env.genesis)
	if info.Epoch != core.EpochEpoch1 {
		t.Errorf("epoch after upgrade = %v, want epoch 1", info.Epoch)
	}
	if !info.Balance.Equal(core.MaxAmount) {
		t.Errorf("balance changed by epoch block: %s", info.Balance)
	}
}
