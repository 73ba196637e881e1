package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// BlockType is the wire tag of a block variant.
type BlockType uint8

const (
	BlockTypeInvalid   BlockType = 0
	BlockTypeNotABlock BlockType = 1
	BlockTypeSend      BlockType = 2
	BlockTypeReceive   BlockType = 3
	BlockTypeOpen      BlockType = 4
	BlockTypeChange    BlockType = 5
	BlockTypeState     BlockType = 6
)

func (t BlockType) String() string {
	switch t {
	case BlockTypeNotABlock:
		return "not_a_block"
	case BlockTypeSend:
		return "send"
	case BlockTypeReceive:
		return "receive"
	case BlockTypeOpen:
		return "open"
	case BlockTypeChange:
		return "change"
	case BlockTypeState:
		return "state"
	default:
		return "invalid"
	}
}

// BlockSubType is the semantic role a block played when applied, which for
// state blocks cannot be read off the type tag alone.
type BlockSubType uint8

const (
	BlockSubTypeSend BlockSubType = iota
	BlockSubTypeReceive
	BlockSubTypeOpen
	BlockSubTypeChange
	BlockSubTypeEpoch
)

func (s BlockSubType) String() string {
	switch s {
	case BlockSubTypeSend:
		return "send"
	case BlockSubTypeReceive:
		return "receive"
	case BlockSubTypeOpen:
		return "open"
	case BlockSubTypeChange:
		return "change"
	case BlockSubTypeEpoch:
		return "epoch"
	default:
		return "unknown"
	}
}

// SerializedBlockSize returns the fixed payload size of a block type, body
// plus signature plus work, excluding the type byte.
func SerializedBlockSize(t BlockType) (int, error) {
	switch t {
	case BlockTypeSend:
		return 152, nil
	case BlockTypeReceive:
		return 136, nil
	case BlockTypeOpen:
		return 168, nil
	case BlockTypeChange:
		return 136, nil
	case BlockTypeState:
		return 216, nil
	case BlockTypeNotABlock:
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown block type %d", t)
	}
}

// BlockDetails qualifies a stored block for difficulty and epoch decisions.
type BlockDetails struct {
	Epoch     Epoch
	IsSend    bool
	IsReceive bool
	IsEpoch   bool
}

// Pack encodes the details into one byte for the sideband encoding.
func (d BlockDetails) Pack() byte {
	b := byte(d.Epoch) & 0x1f
	if d.IsSend {
		b |= 1 << 5
	}
	if d.IsReceive {
		b |= 1 << 6
	}
	if d.IsEpoch {
		b |= 1 << 7
	}
	return b
}

// UnpackBlockDetails is the inverse of Pack.
func UnpackBlockDetails(b byte) BlockDetails {
	return BlockDetails{
		Epoch:     Epoch(b & 0x1f),
		IsSend:    b&(1<<5) != 0,
		IsReceive: b&(1<<6) != 0,
		IsEpoch:   b&(1<<7) != 0,
	}
}

// Sideband is the metadata attached when a block is persisted. It is
// authoritative for anything not recoverable from the block body alone:
// legacy balances, the successor pointer, heights and timestamps.
type Sideband struct {
	Height      uint64
	Timestamp   uint64
	Successor   BlockHash
	Account     Account
	Balance     Amount
	Details     BlockDetails
	SourceEpoch Epoch
}

// SidebandSize is the fixed encoded size of a sideband record.
const SidebandSize = 8 + 8 + HashSize + AccountSize + AmountSize + 1 + 1

// Serialize writes the sideband in its storage encoding.
func (s *Sideband) Serialize(w io.Writer) error {
	var buf [SidebandSize]byte
	binary.BigEndian.PutUint64(buf[0:8], s.Height)
	binary.BigEndian.PutUint64(buf[8:16], s.Timestamp)
	copy(buf[16:48], s.Successor[:])
	copy(buf[48:80], s.Account[:])
	copy(buf[80:96], s.Balance.Bytes())
	buf[96] = s.Details.Pack()
	buf[97] = byte(s.SourceEpoch)
	_, err := w.Write(buf[:])
	return err
}

// DeserializeSideband reads a sideband from its storage encoding.
func DeserializeSideband(r io.Reader) (*Sideband, error) {
	var buf [SidebandSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	balance, err := AmountFromBytes(buf[80:96])
	if err != nil {
		return nil, err
	}
	s := &Sideband{
		Height:      binary.BigEndian.Uint64(buf[0:8]),
		Timestamp:   binary.BigEndian.Uint64(buf[8:16]),
		Balance:     balance,
		Details:     UnpackBlockDetails(buf[96]),
		SourceEpoch: Epoch(buf[97]),
	}
	copy(s.Successor[:], buf[16:48])
	copy(s.Account[:], buf[48:80])
	return s, nil
}

// Block is the shared capability set of the five block variants. Blocks are
// immutable once signed; the sideband is the only mutable attachment and is
// set when the block is persisted.
type Block interface {
	Type() BlockType
	Hash() BlockHash
	Previous() BlockHash
	// Root is the work root: previous for chain extensions, the account for
	// opens.
	Root() Root
	// Representative returns the declared representative, if this block type
	// carries one.
	Representative() (Account, bool)
	// Balance returns the stated balance, if this block type carries one.
	Balance() (Amount, bool)
	// SourceOrLink returns the source field for legacy receives/opens and the
	// link field for state blocks, zero otherwise.
	SourceOrLink() BlockHash
	// Destination returns the send destination, if this block type carries
	// one.
	Destination() (Account, bool)
	// AccountField returns the author for state and open blocks; unset for
	// other legacy blocks, whose author is derived from the chain.
	AccountField() (Account, bool)
	Work() uint64
	Signature() Signature
	IsLegacy() bool

	// Hashables returns the hash input; the signature covers the hash of
	// these bytes.
	Hashables() []byte
	// SerializeBody writes the payload without the leading type byte.
	SerializeBody(w io.Writer) error

	Sideband() *Sideband
	SetSideband(*Sideband)

	MarshalJSON() ([]byte, error)
}

// ErrUnknownBlockType is returned by the block codec for unrecognized tags.
var ErrUnknownBlockType = errors.New("unknown block type")

// SerializeBlock writes the type byte followed by the block payload.
func SerializeBlock(w io.Writer, b Block) error {
	if _, err := w.Write([]byte{byte(b.Type())}); err != nil {
		return err
	}
	return b.SerializeBody(w)
}

// DeserializeBlock reads a type byte and the matching payload. A NotABlock
// tag yields (nil, nil), the list terminator convention of the bootstrap
// protocol.
func DeserializeBlock(r io.Reader) (Block, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}
	return DeserializeBlockBody(BlockType(tag[0]), r)
}

// DeserializeBlockBody reads a block payload whose type is already known
// from a message header.
func DeserializeBlockBody(t BlockType, r io.Reader) (Block, error) {
	switch t {
	case BlockTypeNotABlock:
		return nil, nil
	case BlockTypeSend:
		return deserializeSendBlock(r)
	case BlockTypeReceive:
		return deserializeReceiveBlock(r)
	case BlockTypeOpen:
		return deserializeOpenBlock(r)
	case BlockTypeChange:
		return deserializeChangeBlock(r)
	case BlockTypeState:
		return deserializeStateBlock(r)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownBlockType, t)
	}
}

// lazyHash memoizes a block hash. Blocks are shared between queues and
// caches, so the first computation must be safe under concurrent access.
type lazyHash struct {
	once sync.Once
	hash BlockHash
}

func (l *lazyHash) get(compute func() BlockHash) BlockHash {
	l.once.Do(func() { l.hash = compute() })
	return l.hash
}
