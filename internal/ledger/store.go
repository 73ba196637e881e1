// Package ledger implements the block validator, the ledger mutator, the
// rollback engine and the persistent account/pending/frontier state they
// operate on.
package ledger

import (
	"errors"
	"time"

	"github.com/stjet/gobanano/internal/core"
)

// Store errors.
var (
	ErrNotFound = errors.New("not found")
	// ErrCorrupt indicates unreadable persisted state. It is fatal; the node
	// logs, notifies and shuts down.
	ErrCorrupt = errors.New("store corrupt")
	// ErrWriteConflict is retryable once before surfacing.
	ErrWriteConflict = errors.New("write conflict")
	// ErrSchemaTooOld is returned when the database schema predates the
	// oldest supported migration.
	ErrSchemaTooOld = errors.New("database schema too old to migrate")
)

// Txn is a read snapshot over the seven ledger tables. Readers are
// concurrent; a Txn must be released with Discard.
type Txn interface {
	// Account returns the account info, or nil if the account is unopened.
	Account(account core.Account) (*core.AccountInfo, error)
	// Block returns the block with its sideband attached, or nil.
	Block(hash core.BlockHash) (core.Block, error)
	BlockExists(hash core.BlockHash) (bool, error)
	// Pending returns the receivable entry, or nil.
	Pending(key core.PendingKey) (*core.PendingInfo, error)
	// AnyPending reports whether the account has at least one receivable.
	AnyPending(account core.Account) (bool, error)
	// Frontier returns the owning account of a legacy head hash, or the zero
	// account.
	Frontier(hash core.BlockHash) (core.Account, error)
	// ConfirmationHeight returns the confirmed prefix of an account chain;
	// the zero value if none has been recorded.
	ConfirmationHeight(account core.Account) (core.ConfirmationHeightInfo, error)
	PrunedExists(hash core.BlockHash) (bool, error)

	// NextAccount returns the first account strictly greater than start in
	// key order, for frontier streaming. ErrNotFound past the end.
	NextAccount(start core.Account) (core.Account, *core.AccountInfo, error)

	// ForEachPending iterates the receivable entries of one account in key
	// order.
	ForEachPending(account core.Account, fn func(core.PendingKey, *core.PendingInfo) error) error

	Discard()
}

// WriteTxn extends a read snapshot with mutations. Writes are totally
// ordered: a single writer at a time. All mutations commit atomically.
type WriteTxn interface {
	Txn

	PutAccount(account core.Account, info *core.AccountInfo) error
	DeleteAccount(account core.Account) error

	// PutBlock stores a block with its sideband. The sideband must be set.
	PutBlock(block core.Block) error
	DeleteBlock(hash core.BlockHash) error
	// SetSuccessor updates the successor pointer in a stored block's
	// sideband.
	SetSuccessor(hash, successor core.BlockHash) error

	PutPending(key core.PendingKey, info *core.PendingInfo) error
	DeletePending(key core.PendingKey) error

	PutFrontier(hash core.BlockHash, account core.Account) error
	DeleteFrontier(hash core.BlockHash) error

	PutConfirmationHeight(account core.Account, info core.ConfirmationHeightInfo) error

	PutPruned(hash core.BlockHash) error

	Commit() error
	// Rollback discards the transaction. Safe to call after Commit.
	Rollback() error
}

// Store is the transactional ledger database plus the peer cache table.
type Store interface {
	BeginRead() (Txn, error)
	// BeginWrite blocks until the single writer slot is free.
	BeginWrite() (WriteTxn, error)

	// BlockCount returns the number of persisted blocks.
	BlockCount() (uint64, error)
	// AccountCount returns the number of opened accounts.
	AccountCount() (uint64, error)

	// ForEachAccount iterates all accounts in key order. Used to rebuild the
	// representative weight cache at startup.
	ForEachAccount(fn func(core.Account, *core.AccountInfo) error) error

	// PutPeer records a recently seen peering endpoint.
	PutPeer(addr string, lastSeen time.Time) error
	// Peers returns the cached peering endpoints.
	Peers() (map[string]time.Time, error)
	// DeletePeer forgets a cached endpoint.
	DeletePeer(addr string) error

	Close() error
}
