// Package core provides the primitive types and block structures of the
// block lattice: hashes, accounts, amounts, signatures, work and the five
// block variants with their binary and JSON encodings.
package core

import (
	"crypto/subtle"
	"fmt"

	"github.com/stjet/gobanano/pkg/helpers"
)

// Fixed widths of the wire primitives, in bytes.
const (
	HashSize      = 32
	AccountSize   = 32
	SignatureSize = 64
	AmountSize    = 16
	WorkSize      = 8
)

// BlockHash is a 32-byte blake2b-256 digest identifying a block.
type BlockHash [HashSize]byte

// Account is a 32-byte ed25519 public key identifying an account chain.
type Account [AccountSize]byte

// PublicKey is an alias used where a key is meant as a verifier rather than
// an account identity (node ids, vote signers).
type PublicKey = Account

// Signature is a 64-byte ed25519-blake2b signature.
type Signature [SignatureSize]byte

// Link is the 32-byte multiplexed field of a state block: a send destination,
// a receive source, or an epoch marker.
type Link [HashSize]byte

// Root is the proof-of-work root: the previous hash for existing chains, the
// account public key for opens.
type Root [HashSize]byte

// IsZero reports whether the hash is all zeroes.
func (h BlockHash) IsZero() bool { return helpers.IsZeroBytes(h[:]) }

// Bytes returns the raw digest.
func (h BlockHash) Bytes() []byte { return h[:] }

// String returns the canonical uppercase hex form.
func (h BlockHash) String() string { return helpers.BytesToHexUpper(h[:]) }

// Equal compares two hashes in constant time.
func (h BlockHash) Equal(other BlockHash) bool {
	return subtle.ConstantTimeCompare(h[:], other[:]) == 1
}

// HashFromHex parses a 64-character hex string.
func HashFromHex(s string) (BlockHash, error) {
	var h BlockHash
	if err := helpers.HexToFixed(s, h[:]); err != nil {
		return BlockHash{}, fmt.Errorf("invalid block hash: %w", err)
	}
	return h, nil
}

func (a Account) IsZero() bool   { return helpers.IsZeroBytes(a[:]) }
func (a Account) Bytes() []byte  { return a[:] }
func (a Account) String() string { return helpers.BytesToHexUpper(a[:]) }

// Equal compares two accounts in constant time.
func (a Account) Equal(other Account) bool {
	return subtle.ConstantTimeCompare(a[:], other[:]) == 1
}

// AccountFromHex parses a 64-character hex string.
func AccountFromHex(s string) (Account, error) {
	var a Account
	if err := helpers.HexToFixed(s, a[:]); err != nil {
		return Account{}, fmt.Errorf("invalid account: %w", err)
	}
	return a, nil
}

func (l Link) IsZero() bool   { return helpers.IsZeroBytes(l[:]) }
func (l Link) Bytes() []byte  { return l[:] }
func (l Link) String() string { return helpers.BytesToHexUpper(l[:]) }

// AsHash reinterprets the link as a block hash (receive source).
func (l Link) AsHash() BlockHash { return BlockHash(l) }

// AsAccount reinterprets the link as an account (send destination).
func (l Link) AsAccount() Account { return Account(l) }

func (r Root) IsZero() bool   { return helpers.IsZeroBytes(r[:]) }
func (r Root) Bytes() []byte  { return r[:] }
func (r Root) String() string { return helpers.BytesToHexUpper(r[:]) }

func (s Signature) Bytes() []byte  { return s[:] }
func (s Signature) String() string { return helpers.BytesToHexUpper(s[:]) }

// Epoch tags an account chain with the protocol upgrade generation it has
// reached.
type Epoch uint8

const (
	EpochUnspecified Epoch = 0
	// EpochEpoch0 is the epoch of accounts opened before any upgrade.
	EpochEpoch0 Epoch = 1
	EpochEpoch1 Epoch = 2
	EpochEpoch2 Epoch = 3
)

// MaxEpoch is the newest epoch this node understands.
const MaxEpoch = EpochEpoch2

// Succ returns the next epoch, or EpochUnspecified past the maximum.
func (e Epoch) Succ() Epoch {
	if e >= MaxEpoch {
		return EpochUnspecified
	}
	return e + 1
}

func (e Epoch) String() string {
	switch e {
	case EpochEpoch0:
		return "epoch_0"
	case EpochEpoch1:
		return "epoch_1"
	case EpochEpoch2:
		return "epoch_2"
	default:
		return "unspecified"
	}
}

// PendingKey addresses one receivable entry: the destination account and the
// hash of the send block that funds it.
type PendingKey struct {
	Account Account
	Hash    BlockHash
}

// PendingInfo is the receivable amount recorded at the destination.
type PendingInfo struct {
	Source Account
	Amount Amount
	Epoch  Epoch
}

// AccountInfo is the latest state of an account chain.
type AccountInfo struct {
	Head           BlockHash
	Representative Account
	OpenBlock      BlockHash
	Balance        Amount
	Modified       uint64
	BlockCount     uint64
	Epoch          Epoch
}

// ConfirmationHeightInfo records how much of an account chain is confirmed.
type ConfirmationHeightInfo struct {
	Height   uint64
	Frontier BlockHash
}
