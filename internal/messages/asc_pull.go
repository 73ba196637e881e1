package messages

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
)

// AscPullType tags the payload variant of asc_pull_req/ack.
type AscPullType uint8

const (
	AscPullInvalid     AscPullType = 0
	AscPullBlocks      AscPullType = 1
	AscPullAccountInfo AscPullType = 2
)

// HashType tells a blocks request whether the start value is a block hash or
// an account.
type HashType uint8

const (
	HashTypeBlock   HashType = 0
	HashTypeAccount HashType = 1
)

// AscPullMaxBlocks bounds a blocks ack. The 16-bit extensions field caps the
// payload at 65535 bytes; 128 blocks leaves margin under that.
const AscPullMaxBlocks = 128

// BlocksReqPayload asks for up to Count blocks starting at a hash or
// account frontier.
type BlocksReqPayload struct {
	Start     core.BlockHash
	Count     uint8
	StartType HashType
}

// AccountInfoReqPayload asks for the chain summary of one account.
type AccountInfoReqPayload struct {
	Target     core.BlockHash
	TargetType HashType
}

// AscPullReq is the ascending bootstrap request, correlated to its ack by
// id.
type AscPullReq struct {
	ID       uint64
	PullType AscPullType
	Blocks   *BlocksReqPayload
	Account  *AccountInfoReqPayload
}

func (m *AscPullReq) Type() MessageType { return MsgAscPullReq }

func (m *AscPullReq) payloadSize() int {
	switch m.PullType {
	case AscPullBlocks:
		return core.HashSize + 2
	case AscPullAccountInfo:
		return core.HashSize + 1
	default:
		return 0
	}
}

func (m *AscPullReq) Header(protocol config.ProtocolInfo) Header {
	h := NewHeader(protocol, MsgAscPullReq)
	h.SetPayloadLength(m.payloadSize())
	return h
}

func (m *AscPullReq) SerializePayload(w io.Writer) error {
	if _, err := w.Write([]byte{byte(m.PullType)}); err != nil {
		return err
	}
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], m.ID)
	if _, err := w.Write(id[:]); err != nil {
		return err
	}
	switch m.PullType {
	case AscPullBlocks:
		if _, err := w.Write(m.Blocks.Start[:]); err != nil {
			return err
		}
		_, err := w.Write([]byte{m.Blocks.Count, byte(m.Blocks.StartType)})
		return err
	case AscPullAccountInfo:
		if _, err := w.Write(m.Account.Target[:]); err != nil {
			return err
		}
		_, err := w.Write([]byte{byte(m.Account.TargetType)})
		return err
	default:
		return fmt.Errorf("%w: asc_pull_req type %d", ErrInvalidMessage, m.PullType)
	}
}

func deserializeAscPullReq(r io.Reader) (*AscPullReq, error) {
	var prefix [9]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	m := &AscPullReq{
		PullType: AscPullType(prefix[0]),
		ID:       binary.BigEndian.Uint64(prefix[1:9]),
	}
	switch m.PullType {
	case AscPullBlocks:
		payload := &BlocksReqPayload{}
		if _, err := io.ReadFull(r, payload.Start[:]); err != nil {
			return nil, err
		}
		var tail [2]byte
		if _, err := io.ReadFull(r, tail[:]); err != nil {
			return nil, err
		}
		payload.Count = tail[0]
		payload.StartType = HashType(tail[1])
		m.Blocks = payload
	case AscPullAccountInfo:
		payload := &AccountInfoReqPayload{}
		if _, err := io.ReadFull(r, payload.Target[:]); err != nil {
			return nil, err
		}
		var tail [1]byte
		if _, err := io.ReadFull(r, tail[:]); err != nil {
			return nil, err
		}
		payload.TargetType = HashType(tail[0])
		m.Account = payload
	default:
		return nil, fmt.Errorf("%w: asc_pull_req type %d", ErrInvalidMessage, m.PullType)
	}
	return m, nil
}

func (m *AscPullReq) Visit(v Visitor) { v.AscPullReq(m) }

// BlocksAckPayload is a block list terminated on the wire by a NotABlock
// byte.
type BlocksAckPayload struct {
	Blocks []core.Block
}

func (p *BlocksAckPayload) serialize(w io.Writer) error {
	if len(p.Blocks) > AscPullMaxBlocks {
		return ErrTooManyBlocks
	}
	for _, block := range p.Blocks {
		if err := core.SerializeBlock(w, block); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{byte(core.BlockTypeNotABlock)})
	return err
}

func (p *BlocksAckPayload) deserialize(r io.Reader) error {
	for {
		block, err := core.DeserializeBlock(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if block == nil {
			// NotABlock terminator.
			return nil
		}
		if len(p.Blocks) >= AscPullMaxBlocks {
			return ErrTooManyBlocks
		}
		p.Blocks = append(p.Blocks, block)
	}
}

// AccountInfoAckPayload is the chain summary answer.
type AccountInfoAckPayload struct {
	Account            core.Account
	AccountOpen        core.BlockHash
	AccountHead        core.BlockHash
	AccountBlockCount  uint64
	AccountConfFrontier core.BlockHash
	AccountConfHeight  uint64
}

func (p *AccountInfoAckPayload) serialize(w io.Writer) error {
	var buf bytes.Buffer
	buf.Write(p.Account[:])
	buf.Write(p.AccountOpen[:])
	buf.Write(p.AccountHead[:])
	var u [8]byte
	binary.BigEndian.PutUint64(u[:], p.AccountBlockCount)
	buf.Write(u[:])
	buf.Write(p.AccountConfFrontier[:])
	binary.BigEndian.PutUint64(u[:], p.AccountConfHeight)
	buf.Write(u[:])
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *AccountInfoAckPayload) deserialize(r io.Reader) error {
	var buf [4*core.HashSize + 16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	copy(p.Account[:], buf[0:32])
	copy(p.AccountOpen[:], buf[32:64])
	copy(p.AccountHead[:], buf[64:96])
	p.AccountBlockCount = binary.BigEndian.Uint64(buf[96:104])
	copy(p.AccountConfFrontier[:], buf[104:136])
	p.AccountConfHeight = binary.BigEndian.Uint64(buf[136:144])
	return nil
}

// AscPullAck answers an AscPullReq. The payload length after the type/id
// prefix travels in the header extensions.
type AscPullAck struct {
	ID       uint64
	PullType AscPullType
	Blocks   *BlocksAckPayload
	Account  *AccountInfoAckPayload
}

// AckBlocks builds a blocks answer.
func AckBlocks(id uint64, blocks []core.Block) *AscPullAck {
	return &AscPullAck{ID: id, PullType: AscPullBlocks, Blocks: &BlocksAckPayload{Blocks: blocks}}
}

// AckAccountInfo builds an account info answer.
func AckAccountInfo(id uint64, payload *AccountInfoAckPayload) *AscPullAck {
	return &AscPullAck{ID: id, PullType: AscPullAccountInfo, Account: payload}
}

func (m *AscPullAck) Type() MessageType { return MsgAscPullAck }

func (m *AscPullAck) serializeVariant() ([]byte, error) {
	var buf bytes.Buffer
	switch m.PullType {
	case AscPullBlocks:
		if err := m.Blocks.serialize(&buf); err != nil {
			return nil, err
		}
	case AscPullAccountInfo:
		if err := m.Account.serialize(&buf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: asc_pull_ack type %d", ErrInvalidMessage, m.PullType)
	}
	return buf.Bytes(), nil
}

func (m *AscPullAck) Header(protocol config.ProtocolInfo) Header {
	h := NewHeader(protocol, MsgAscPullAck)
	payload, err := m.serializeVariant()
	if err == nil {
		h.SetPayloadLength(len(payload))
	}
	return h
}

func (m *AscPullAck) SerializePayload(w io.Writer) error {
	if _, err := w.Write([]byte{byte(m.PullType)}); err != nil {
		return err
	}
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], m.ID)
	if _, err := w.Write(id[:]); err != nil {
		return err
	}
	payload, err := m.serializeVariant()
	if err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func deserializeAscPullAck(r io.Reader, header Header, uniquer *core.Uniquer) (*AscPullAck, error) {
	var prefix [9]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	m := &AscPullAck{
		PullType: AscPullType(prefix[0]),
		ID:       binary.BigEndian.Uint64(prefix[1:9]),
	}

	payload := make([]byte, header.PayloadLength())
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	payloadReader := bytes.NewReader(payload)

	switch m.PullType {
	case AscPullBlocks:
		blocks := &BlocksAckPayload{}
		if err := blocks.deserialize(payloadReader); err != nil {
			return nil, err
		}
		if uniquer != nil {
			for i, block := range blocks.Blocks {
				blocks.Blocks[i] = uniquer.Unique(block)
			}
		}
		m.Blocks = blocks
	case AscPullAccountInfo:
		account := &AccountInfoAckPayload{}
		if err := account.deserialize(payloadReader); err != nil {
			return nil, err
		}
		m.Account = account
	default:
		return nil, fmt.Errorf("%w: asc_pull_ack type %d", ErrInvalidMessage, m.PullType)
	}
	return m, nil
}

func (m *AscPullAck) Visit(v Visitor) { v.AscPullAck(m) }
