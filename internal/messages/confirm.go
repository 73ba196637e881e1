package messages

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
)

// HashRoot is one (hash, root) pair of a hash-mode confirm request.
type HashRoot struct {
	Hash core.BlockHash
	Root core.Root
}

// ConfirmReq asks peers to vote on a block, carried either as the full block
// or as a list of (hash, root) pairs whose length lives in the header
// extensions.
type ConfirmReq struct {
	Block      core.Block
	RootHashes []HashRoot
}

func (m *ConfirmReq) Type() MessageType { return MsgConfirmReq }

func (m *ConfirmReq) Header(protocol config.ProtocolInfo) Header {
	h := NewHeader(protocol, MsgConfirmReq)
	if m.Block != nil {
		h.SetBlockType(m.Block.Type())
	} else {
		h.SetBlockType(core.BlockTypeNotABlock)
		h.SetCount(len(m.RootHashes))
	}
	return h
}

func (m *ConfirmReq) SerializePayload(w io.Writer) error {
	if m.Block != nil {
		return m.Block.SerializeBody(w)
	}
	for _, rh := range m.RootHashes {
		if _, err := w.Write(rh.Hash[:]); err != nil {
			return err
		}
		if _, err := w.Write(rh.Root[:]); err != nil {
			return err
		}
	}
	return nil
}

func deserializeConfirmReq(r io.Reader, header Header, uniquer *core.Uniquer) (*ConfirmReq, error) {
	if header.BlockType() != core.BlockTypeNotABlock {
		block, err := core.DeserializeBlockBody(header.BlockType(), r)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, ErrInvalidBlockType
		}
		if uniquer != nil {
			block = uniquer.Unique(block)
		}
		return &ConfirmReq{Block: block}, nil
	}

	count := header.Count()
	pairs := make([]HashRoot, 0, count)
	for i := 0; i < count; i++ {
		var rh HashRoot
		if _, err := io.ReadFull(r, rh.Hash[:]); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, rh.Root[:]); err != nil {
			return nil, err
		}
		if rh.Hash.IsZero() && rh.Root.IsZero() {
			continue
		}
		pairs = append(pairs, rh)
	}
	if len(pairs) == 0 || len(pairs) != count {
		return nil, fmt.Errorf("%w: roots hashes empty or incorrect count", ErrInvalidMessage)
	}
	return &ConfirmReq{RootHashes: pairs}, nil
}

func (m *ConfirmReq) Visit(v Visitor) { v.ConfirmReq(m) }

// Vote limits.
const (
	VoteMaxHashes = 12
	voteFixedSize = core.AccountSize + core.SignatureSize + 8
)

// Vote is a representative's signed statement over 1..12 block hashes with a
// packed timestamp.
type Vote struct {
	Account   core.Account
	Sig       core.Signature
	Timestamp uint64
	Hashes    []core.BlockHash
}

// votePrefix is hashed ahead of the hashes when computing the signed digest.
var votePrefix = []byte("vote ")

// SignedDigest returns the blake2b digest the vote signature covers.
func (v *Vote) SignedDigest() core.BlockHash {
	parts := make([][]byte, 0, len(v.Hashes)+2)
	parts = append(parts, votePrefix)
	for i := range v.Hashes {
		parts = append(parts, v.Hashes[i][:])
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], v.Timestamp)
	parts = append(parts, ts[:])
	return core.HashBytes(parts...)
}

// Validate checks the vote signature.
func (v *Vote) Validate() bool {
	if len(v.Hashes) == 0 || len(v.Hashes) > VoteMaxHashes {
		return false
	}
	digest := v.SignedDigest()
	return core.Verify(v.Account, digest.Bytes(), v.Sig)
}

// ConfirmAck carries one vote. The hash count lives in the header
// extensions.
type ConfirmAck struct {
	Vote Vote
}

func (m *ConfirmAck) Type() MessageType { return MsgConfirmAck }

func (m *ConfirmAck) Header(protocol config.ProtocolInfo) Header {
	h := NewHeader(protocol, MsgConfirmAck)
	h.SetBlockType(core.BlockTypeNotABlock)
	h.SetCount(len(m.Vote.Hashes))
	return h
}

func (m *ConfirmAck) SerializePayload(w io.Writer) error {
	if _, err := w.Write(m.Vote.Account[:]); err != nil {
		return err
	}
	if _, err := w.Write(m.Vote.Sig[:]); err != nil {
		return err
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], m.Vote.Timestamp)
	if _, err := w.Write(ts[:]); err != nil {
		return err
	}
	for i := range m.Vote.Hashes {
		if _, err := w.Write(m.Vote.Hashes[i][:]); err != nil {
			return err
		}
	}
	return nil
}

func deserializeConfirmAck(r io.Reader, header Header, uniquer *VoteUniquer) (*ConfirmAck, error) {
	count := header.Count()
	if count == 0 || count > VoteMaxHashes {
		return nil, fmt.Errorf("%w: vote hash count %d", ErrInvalidMessage, count)
	}

	m := &ConfirmAck{}
	if _, err := io.ReadFull(r, m.Vote.Account[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, m.Vote.Sig[:]); err != nil {
		return nil, err
	}
	var ts [8]byte
	if _, err := io.ReadFull(r, ts[:]); err != nil {
		return nil, err
	}
	m.Vote.Timestamp = binary.BigEndian.Uint64(ts[:])

	m.Vote.Hashes = make([]core.BlockHash, count)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, m.Vote.Hashes[i][:]); err != nil {
			return nil, err
		}
	}

	if uniquer != nil {
		m.Vote = *uniquer.Unique(&m.Vote)
	}
	return m, nil
}

func (m *ConfirmAck) Visit(v Visitor) { v.ConfirmAck(m) }
