package ledger

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stjet/gobanano/internal/core"
)

// Schema versioning. Databases older than minSchemaVersion are refused;
// migrations bump the version on success.
const (
	schemaVersion    = 2
	minSchemaVersion = 1
)

// SqliteStore is the SQLite-backed ledger store. Keys are raw BLOBs, so the
// default byte ordering of the primary key index gives the sorted-map
// semantics the bootstrap servers iterate with.
type SqliteStore struct {
	db     *sql.DB
	dbPath string

	// SQLite allows one writer; serialize write transactions here so
	// BeginWrite blocks instead of surfacing SQLITE_BUSY.
	writeMu sync.Mutex
}

// NewSqliteStore opens (or creates) the ledger database in dataDir.
func NewSqliteStore(dataDir string) (*SqliteStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "ledger.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SqliteStore{db: db, dbPath: dbPath}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	-- Account frontiers and metadata
	CREATE TABLE IF NOT EXISTS accounts (
		account BLOB PRIMARY KEY,
		head BLOB NOT NULL,
		representative BLOB NOT NULL,
		open_block BLOB NOT NULL,
		balance BLOB NOT NULL,
		modified INTEGER NOT NULL,
		block_count INTEGER NOT NULL,
		epoch INTEGER NOT NULL
	);

	-- Block bodies with sideband
	CREATE TABLE IF NOT EXISTS blocks (
		hash BLOB PRIMARY KEY,
		type INTEGER NOT NULL,
		body BLOB NOT NULL,
		sideband BLOB NOT NULL
	);

	-- Receivable entries keyed by (destination, send hash)
	CREATE TABLE IF NOT EXISTS pending (
		account BLOB NOT NULL,
		hash BLOB NOT NULL,
		source BLOB NOT NULL,
		amount BLOB NOT NULL,
		epoch INTEGER NOT NULL,
		PRIMARY KEY (account, hash)
	);

	-- Legacy chain head index: head hash -> account
	CREATE TABLE IF NOT EXISTS frontier (
		hash BLOB PRIMARY KEY,
		account BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS confirmation_height (
		account BLOB PRIMARY KEY,
		height INTEGER NOT NULL,
		frontier BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pruned (
		hash BLOB PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS peers (
		addr TEXT PRIMARY KEY,
		last_seen INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s.migrate()
}

func (s *SqliteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'version'").Scan(&version)
	if err == sql.ErrNoRows {
		_, err = s.db.Exec("INSERT INTO meta (key, value) VALUES ('version', ?)", schemaVersion)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version < minSchemaVersion {
		return fmt.Errorf("%w: have %d, minimum %d", ErrSchemaTooOld, version, minSchemaVersion)
	}

	if version < 2 {
		// v1 -> v2: the peers table gained a last_seen column.
		_, _ = s.db.Exec("ALTER TABLE peers ADD COLUMN last_seen INTEGER NOT NULL DEFAULT 0")
	}

	if version != schemaVersion {
		if _, err := s.db.Exec("UPDATE meta SET value = ? WHERE key = 'version'", schemaVersion); err != nil {
			return err
		}
	}
	return nil
}

// BeginRead starts a read snapshot.
func (s *SqliteStore) BeginRead() (Txn, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	return &sqliteTxn{tx: tx}, nil
}

// BeginWrite starts the single write transaction, blocking until the writer
// slot is free.
func (s *SqliteStore) BeginWrite() (WriteTxn, error) {
	s.writeMu.Lock()
	tx, err := s.db.Begin()
	if err != nil {
		s.writeMu.Unlock()
		return nil, err
	}
	return &sqliteWriteTxn{sqliteTxn: sqliteTxn{tx: tx}, unlock: s.writeMu.Unlock}, nil
}

// BlockCount returns the number of persisted blocks.
func (s *SqliteStore) BlockCount() (uint64, error) {
	var count uint64
	err := s.db.QueryRow("SELECT COUNT(*) FROM blocks").Scan(&count)
	return count, err
}

// AccountCount returns the number of opened accounts.
func (s *SqliteStore) AccountCount() (uint64, error) {
	var count uint64
	err := s.db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&count)
	return count, err
}

// ForEachAccount iterates all accounts in key order.
func (s *SqliteStore) ForEachAccount(fn func(core.Account, *core.AccountInfo) error) error {
	rows, err := s.db.Query("SELECT account, head, representative, open_block, balance, modified, block_count, epoch FROM accounts ORDER BY account")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		account, info, err := scanAccount(rows)
		if err != nil {
			return err
		}
		if err := fn(account, info); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PutPeer records a recently seen peering endpoint.
func (s *SqliteStore) PutPeer(addr string, lastSeen time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO peers (addr, last_seen) VALUES (?, ?)
		ON CONFLICT(addr) DO UPDATE SET last_seen = excluded.last_seen
	`, addr, lastSeen.Unix())
	return err
}

// Peers returns the cached peering endpoints.
func (s *SqliteStore) Peers() (map[string]time.Time, error) {
	rows, err := s.db.Query("SELECT addr, last_seen FROM peers")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	peers := make(map[string]time.Time)
	for rows.Next() {
		var addr string
		var lastSeen int64
		if err := rows.Scan(&addr, &lastSeen); err != nil {
			return nil, err
		}
		peers[addr] = time.Unix(lastSeen, 0)
	}
	return peers, rows.Err()
}

// DeletePeer forgets a cached endpoint.
func (s *SqliteStore) DeletePeer(addr string) error {
	_, err := s.db.Exec("DELETE FROM peers WHERE addr = ?", addr)
	return err
}

// sqliteTxn implements the read snapshot on one *sql.Tx.
type sqliteTxn struct {
	tx *sql.Tx
}

func (t *sqliteTxn) Account(account core.Account) (*core.AccountInfo, error) {
	row := t.tx.QueryRow("SELECT account, head, representative, open_block, balance, modified, block_count, epoch FROM accounts WHERE account = ?", account[:])
	_, info, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return info, err
}

func (t *sqliteTxn) Block(hash core.BlockHash) (core.Block, error) {
	var blockType int
	var body, sideband []byte
	err := t.tx.QueryRow("SELECT type, body, sideband FROM blocks WHERE hash = ?", hash[:]).
		Scan(&blockType, &body, &sideband)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	block, err := core.DeserializeBlockBody(core.BlockType(blockType), bytes.NewReader(body))
	if err != nil || block == nil {
		return nil, fmt.Errorf("%w: block %s: %v", ErrCorrupt, hash, err)
	}
	sb, err := core.DeserializeSideband(bytes.NewReader(sideband))
	if err != nil {
		return nil, fmt.Errorf("%w: sideband of %s: %v", ErrCorrupt, hash, err)
	}
	block.SetSideband(sb)
	return block, nil
}

func (t *sqliteTxn) BlockExists(hash core.BlockHash) (bool, error) {
	var one int
	err := t.tx.QueryRow("SELECT 1 FROM blocks WHERE hash = ?", hash[:]).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (t *sqliteTxn) Pending(key core.PendingKey) (*core.PendingInfo, error) {
	var source, amount []byte
	var epoch int
	err := t.tx.QueryRow("SELECT source, amount, epoch FROM pending WHERE account = ? AND hash = ?",
		key.Account[:], key.Hash[:]).Scan(&source, &amount, &epoch)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	info := &core.PendingInfo{Epoch: core.Epoch(epoch)}
	copy(info.Source[:], source)
	info.Amount, err = core.AmountFromBytes(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: pending amount: %v", ErrCorrupt, err)
	}
	return info, nil
}

func (t *sqliteTxn) AnyPending(account core.Account) (bool, error) {
	var one int
	err := t.tx.QueryRow("SELECT 1 FROM pending WHERE account = ? LIMIT 1", account[:]).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (t *sqliteTxn) Frontier(hash core.BlockHash) (core.Account, error) {
	var account []byte
	err := t.tx.QueryRow("SELECT account FROM frontier WHERE hash = ?", hash[:]).Scan(&account)
	if err == sql.ErrNoRows {
		return core.Account{}, nil
	}
	if err != nil {
		return core.Account{}, err
	}
	var out core.Account
	copy(out[:], account)
	return out, nil
}

func (t *sqliteTxn) ConfirmationHeight(account core.Account) (core.ConfirmationHeightInfo, error) {
	var height uint64
	var frontier []byte
	err := t.tx.QueryRow("SELECT height, frontier FROM confirmation_height WHERE account = ?", account[:]).
		Scan(&height, &frontier)
	if err == sql.ErrNoRows {
		return core.ConfirmationHeightInfo{}, nil
	}
	if err != nil {
		return core.ConfirmationHeightInfo{}, err
	}
	info := core.ConfirmationHeightInfo{Height: height}
	copy(info.Frontier[:], frontier)
	return info, nil
}

func (t *sqliteTxn) PrunedExists(hash core.BlockHash) (bool, error) {
	var one int
	err := t.tx.QueryRow("SELECT 1 FROM pruned WHERE hash = ?", hash[:]).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (t *sqliteTxn) NextAccount(start core.Account) (core.Account, *core.AccountInfo, error) {
	row := t.tx.QueryRow("SELECT account, head, representative, open_block, balance, modified, block_count, epoch FROM accounts WHERE account > ? ORDER BY account LIMIT 1", start[:])
	account, info, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return core.Account{}, nil, ErrNotFound
	}
	return account, info, err
}

func (t *sqliteTxn) ForEachPending(account core.Account, fn func(core.PendingKey, *core.PendingInfo) error) error {
	rows, err := t.tx.Query("SELECT hash, source, amount, epoch FROM pending WHERE account = ? ORDER BY hash", account[:])
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var hash, source, amount []byte
		var epoch int
		if err := rows.Scan(&hash, &source, &amount, &epoch); err != nil {
			return err
		}
		key := core.PendingKey{Account: account}
		copy(key.Hash[:], hash)
		info := &core.PendingInfo{Epoch: core.Epoch(epoch)}
		copy(info.Source[:], source)
		info.Amount, err = core.AmountFromBytes(amount)
		if err != nil {
			return fmt.Errorf("%w: pending amount: %v", ErrCorrupt, err)
		}
		if err := fn(key, info); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (t *sqliteTxn) Discard() {
	_ = t.tx.Rollback()
}

// sqliteWriteTxn adds mutations and the single-writer unlock.
type sqliteWriteTxn struct {
	sqliteTxn
	unlock func()
	done   bool
}

func (t *sqliteWriteTxn) finish() {
	if !t.done {
		t.done = true
		t.unlock()
	}
}

func (t *sqliteWriteTxn) Commit() error {
	defer t.finish()
	return t.tx.Commit()
}

func (t *sqliteWriteTxn) Rollback() error {
	defer t.finish()
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

func (t *sqliteWriteTxn) Discard() {
	_ = t.Rollback()
}

func (t *sqliteWriteTxn) PutAccount(account core.Account, info *core.AccountInfo) error {
	_, err := t.tx.Exec(`
		INSERT INTO accounts (account, head, representative, open_block, balance, modified, block_count, epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			head = excluded.head,
			representative = excluded.representative,
			open_block = excluded.open_block,
			balance = excluded.balance,
			modified = excluded.modified,
			block_count = excluded.block_count,
			epoch = excluded.epoch
	`, account[:], info.Head[:], info.Representative[:], info.OpenBlock[:],
		info.Balance.Bytes(), info.Modified, info.BlockCount, int(info.Epoch))
	return err
}

func (t *sqliteWriteTxn) DeleteAccount(account core.Account) error {
	_, err := t.tx.Exec("DELETE FROM accounts WHERE account = ?", account[:])
	return err
}

func (t *sqliteWriteTxn) PutBlock(block core.Block) error {
	sb := block.Sideband()
	if sb == nil {
		return fmt.Errorf("block %s has no sideband", block.Hash())
	}

	var body bytes.Buffer
	if err := block.SerializeBody(&body); err != nil {
		return err
	}
	var sideband bytes.Buffer
	if err := sb.Serialize(&sideband); err != nil {
		return err
	}

	hash := block.Hash()
	_, err := t.tx.Exec(`
		INSERT INTO blocks (hash, type, body, sideband) VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET sideband = excluded.sideband
	`, hash[:], int(block.Type()), body.Bytes(), sideband.Bytes())
	return err
}

func (t *sqliteWriteTxn) DeleteBlock(hash core.BlockHash) error {
	_, err := t.tx.Exec("DELETE FROM blocks WHERE hash = ?", hash[:])
	return err
}

func (t *sqliteWriteTxn) SetSuccessor(hash, successor core.BlockHash) error {
	block, err := t.Block(hash)
	if err != nil {
		return err
	}
	if block == nil {
		return fmt.Errorf("set successor: %w: %s", ErrNotFound, hash)
	}
	sb := block.Sideband()
	sb.Successor = successor
	var sideband bytes.Buffer
	if err := sb.Serialize(&sideband); err != nil {
		return err
	}
	_, err = t.tx.Exec("UPDATE blocks SET sideband = ? WHERE hash = ?", sideband.Bytes(), hash[:])
	return err
}

func (t *sqliteWriteTxn) PutPending(key core.PendingKey, info *core.PendingInfo) error {
	_, err := t.tx.Exec(`
		INSERT INTO pending (account, hash, source, amount, epoch) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account, hash) DO UPDATE SET
			source = excluded.source,
			amount = excluded.amount,
			epoch = excluded.epoch
	`, key.Account[:], key.Hash[:], info.Source[:], info.Amount.Bytes(), int(info.Epoch))
	return err
}

func (t *sqliteWriteTxn) DeletePending(key core.PendingKey) error {
	_, err := t.tx.Exec("DELETE FROM pending WHERE account = ? AND hash = ?", key.Account[:], key.Hash[:])
	return err
}

func (t *sqliteWriteTxn) PutFrontier(hash core.BlockHash, account core.Account) error {
	_, err := t.tx.Exec(`
		INSERT INTO frontier (hash, account) VALUES (?, ?)
		ON CONFLICT(hash) DO UPDATE SET account = excluded.account
	`, hash[:], account[:])
	return err
}

func (t *sqliteWriteTxn) DeleteFrontier(hash core.BlockHash) error {
	_, err := t.tx.Exec("DELETE FROM frontier WHERE hash = ?", hash[:])
	return err
}

func (t *sqliteWriteTxn) PutConfirmationHeight(account core.Account, info core.ConfirmationHeightInfo) error {
	_, err := t.tx.Exec(`
		INSERT INTO confirmation_height (account, height, frontier) VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET height = excluded.height, frontier = excluded.frontier
	`, account[:], info.Height, info.Frontier[:])
	return err
}

func (t *sqliteWriteTxn) PutPruned(hash core.BlockHash) error {
	_, err := t.tx.Exec("INSERT OR IGNORE INTO pruned (hash) VALUES (?)", hash[:])
	return err
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (core.Account, *core.AccountInfo, error) {
	var account, head, representative, openBlock, balance []byte
	var modified, blockCount uint64
	var epoch int

	err := row.Scan(&account, &head, &representative, &openBlock, &balance, &modified, &blockCount, &epoch)
	if err != nil {
		return core.Account{}, nil, err
	}

	info := &core.AccountInfo{
		Modified:   modified,
		BlockCount: blockCount,
		Epoch:      core.Epoch(epoch),
	}
	var acc core.Account
	copy(acc[:], account)
	copy(info.Head[:], head)
	copy(info.Representative[:], representative)
	copy(info.OpenBlock[:], openBlock)
	info.Balance, err = core.AmountFromBytes(balance)
	if err != nil {
		return core.Account{}, nil, fmt.Errorf("%w: account balance: %v", ErrCorrupt, err)
	}
	return acc, info, nil
}
