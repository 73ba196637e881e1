package ledger

import (
	"testing"
	"time"

	"github.com/stjet/gobanano/internal/core"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	store, err := NewSqliteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSqliteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreAccountRoundTrip(t *testing.T) {
	store := newTestStore(t)

	account := core.Account{1, 2, 3}
	info := &core.AccountInfo{
		Head:           core.BlockHash{4},
		Representative: core.Account{5},
		OpenBlock:      core.BlockHash{6},
		Balance:        core.AmountFromUint64(123456),
		Modified:       1700000000,
		BlockCount:     7,
		Epoch:          core.EpochEpoch1,
	}

	txn, err := store.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	if err := txn.PutAccount(account, info); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	read, err := store.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead() error = %v", err)
	}
	defer read.Discard()

	got, err := read.Account(account)
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if got == nil {
		t.Fatal("Account() = nil")
	}
	if *got != *info {
		t.Errorf("Account() = %+v, want %+v", got, info)
	}

	missing, err := read.Account(core.Account{0xff})
	if err != nil {
		t.Fatalf("Account(missing) error = %v", err)
	}
	if missing != nil {
		t.Errorf("Account(missing) = %+v, want nil", missing)
	}
}

func TestStoreBlockRoundTrip(t *testing.T) {
	store := newTestStore(t)

	key, err := core.PrivateKeyFromBytes(make([]byte, 32))
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error = %v", err)
	}
	builder := core.NewBlockBuilder(&core.StubWorkOracle{Thresholds: core.WorkThresholdsDev})
	account, _ := key.PublicKey()
	block, err := builder.State(key, core.BlockHash{1}, account, core.AmountFromUint64(55), core.Link{2})
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	block.SetSideband(&core.Sideband{
		Height:    3,
		Timestamp: 1700000001,
		Account:   account,
		Balance:   core.AmountFromUint64(55),
		Details:   core.BlockDetails{Epoch: core.EpochEpoch0, IsSend: true},
	})

	txn, err := store.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	if err := txn.PutBlock(block); err != nil {
		t.Fatalf("PutBlock() error = %v", err)
	}
	if err := txn.SetSuccessor(block.Hash(), core.BlockHash{9}); err != nil {
		t.Fatalf("SetSuccessor() error = %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	read, err := store.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead() error = %v", err)
	}
	defer read.Discard()

	got, err := read.Block(block.Hash())
	if err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if got == nil {
		t.Fatal("Block() = nil")
	}
	if got.Hash() != block.Hash() {
		t.Errorf("Block().Hash() = %s, want %s", got.Hash(), block.Hash())
	}
	if got.Sideband().Successor != (core.BlockHash{9}) {
		t.Errorf("successor = %s, want 09..", got.Sideband().Successor)
	}
	if got.Sideband().Height != 3 {
		t.Errorf("height = %d, want 3", got.Sideband().Height)
	}
}

func TestStorePendingAndPruned(t *testing.T) {
	store := newTestStore(t)

	key := core.PendingKey{Account: core.Account{1}, Hash: core.BlockHash{2}}
	info := &core.PendingInfo{
		Source: core.Account{3},
		Amount: core.AmountFromUint64(400),
		Epoch:  core.EpochEpoch1,
	}

	txn, err := store.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	if err := txn.PutPending(key, info); err != nil {
		t.Fatalf("PutPending() error = %v", err)
	}
	if err := txn.PutPruned(core.BlockHash{7}); err != nil {
		t.Fatalf("PutPruned() error = %v", err)
	}

	got, err := txn.Pending(key)
	if err != nil || got == nil {
		t.Fatalf("Pending() = %v, %v", got, err)
	}
	if *got != *info {
		t.Errorf("Pending() = %+v, want %+v", got, info)
	}

	any, err := txn.AnyPending(key.Account)
	if err != nil || !any {
		t.Errorf("AnyPending() = %v, %v, want true", any, err)
	}

	pruned, err := txn.PrunedExists(core.BlockHash{7})
	if err != nil || !pruned {
		t.Errorf("PrunedExists() = %v, %v, want true", pruned, err)
	}

	if err := txn.DeletePending(key); err != nil {
		t.Fatalf("DeletePending() error = %v", err)
	}
	if got, _ := txn.Pending(key); got != nil {
		t.Error("Pending() after delete != nil")
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

func TestStoreNextAccountOrdering(t *testing.T) {
	store := newTestStore(t)

	accounts := []core.Account{{0x01}, {0x05}, {0x09}}
	txn, err := store.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite() error = %v", err)
	}
	for _, account := range accounts {
		info := &core.AccountInfo{Balance: core.AmountFromUint64(1), BlockCount: 1}
		if err := txn.PutAccount(account, info); err != nil {
			t.Fatalf("PutAccount() error = %v", err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	read, err := store.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead() error = %v", err)
	}
	defer read.Discard()

	next, _, err := read.NextAccount(core.Account{0x01})
	if err != nil {
		t.Fatalf("NextAccount() error = %v", err)
	}
	if next != (core.Account{0x05}) {
		t.Errorf("NextAccount(01) = %s, want 05..", next)
	}

	_, _, err = read.NextAccount(core.Account{0x09})
	if err != ErrNotFound {
		t.Errorf("NextAccount(last) error = %v, want ErrNotFound", err)
	}
}

func TestStorePeers(t *testing.T) {
	store := newTestStore(t)

	when := time.Unix(1700000000, 0)
	if err := store.PutPeer("[::1]:7071", when); err != nil {
		t.Fatalf("PutPeer() error = %v", err)
	}

	peers, err := store.Peers()
	if err != nil {
		t.Fatalf("Peers() error = %v", err)
	}
	if got, ok := peers["[::1]:7071"]; !ok || !got.Equal(when) {
		t.Errorf("Peers() = %v", peers)
	}

	if err := store.DeletePeer("[::1]:7071"); err != nil {
		t.Fatalf("DeletePeer() error = %v", err)
	}
	peers, _ = store.Peers()
	if len(peers) != 0 {
		t.Errorf("Peers() after delete = %v", peers)
	}
}
