package messages

import (
	"encoding/binary"
	"io"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
)

// BulkPull requests the blocks of one account chain, newest first, from the
// frontier (or Start hash) back to End. A count limit travels in the
// extended parameter block when the flag is set.
type BulkPull struct {
	Start core.BlockHash
	End   core.BlockHash
	Count uint32
}

const bulkPullBaseSize = 2 * core.HashSize
const bulkPullExtendedSize = 8

func (m *BulkPull) Type() MessageType { return MsgBulkPull }

func (m *BulkPull) Header(protocol config.ProtocolInfo) Header {
	h := NewHeader(protocol, MsgBulkPull)
	if m.Count > 0 {
		h.Extensions |= extExtendedParams
	}
	return h
}

func (m *BulkPull) SerializePayload(w io.Writer) error {
	if _, err := w.Write(m.Start[:]); err != nil {
		return err
	}
	if _, err := w.Write(m.End[:]); err != nil {
		return err
	}
	if m.Count > 0 {
		// One zero pad byte, the count, then three reserved bytes.
		var ext [bulkPullExtendedSize]byte
		binary.BigEndian.PutUint32(ext[1:5], m.Count)
		if _, err := w.Write(ext[:]); err != nil {
			return err
		}
	}
	return nil
}

func deserializeBulkPull(r io.Reader, header Header) (*BulkPull, error) {
	m := &BulkPull{}
	if _, err := io.ReadFull(r, m.Start[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, m.End[:]); err != nil {
		return nil, err
	}
	if header.HasExtendedParams() {
		var ext [bulkPullExtendedSize]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, err
		}
		m.Count = binary.BigEndian.Uint32(ext[1:5])
	}
	return m, nil
}

func (m *BulkPull) Visit(v Visitor) { v.BulkPull(m) }

// BulkPullAccountFlags selects what a bulk_pull_account response includes.
type BulkPullAccountFlags uint8

const (
	BulkPullAccountPendingHashAndAmount BulkPullAccountFlags = 0
	BulkPullAccountPendingAddressOnly   BulkPullAccountFlags = 1
	BulkPullAccountPendingHashAmountAndAddress BulkPullAccountFlags = 2
)

// BulkPullAccount requests the pending entries of one account at or above a
// minimum amount.
type BulkPullAccount struct {
	Account       core.Account
	MinimumAmount core.Amount
	Flags         BulkPullAccountFlags
}

const bulkPullAccountSize = core.AccountSize + core.AmountSize + 1

func (m *BulkPullAccount) Type() MessageType { return MsgBulkPullAccount }

func (m *BulkPullAccount) Header(protocol config.ProtocolInfo) Header {
	return NewHeader(protocol, MsgBulkPullAccount)
}

func (m *BulkPullAccount) SerializePayload(w io.Writer) error {
	if _, err := w.Write(m.Account[:]); err != nil {
		return err
	}
	if _, err := w.Write(m.MinimumAmount.Bytes()); err != nil {
		return err
	}
	_, err := w.Write([]byte{byte(m.Flags)})
	return err
}

func deserializeBulkPullAccount(r io.Reader) (*BulkPullAccount, error) {
	var buf [bulkPullAccountSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	m := &BulkPullAccount{Flags: BulkPullAccountFlags(buf[48])}
	copy(m.Account[:], buf[0:32])
	var err error
	m.MinimumAmount, err = core.AmountFromBytes(buf[32:48])
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *BulkPullAccount) Visit(v Visitor) { v.BulkPullAccount(m) }

// BulkPush announces a stream of blocks follows, terminated by a NotABlock
// tag. The blocks themselves are read separately by the bootstrap visitor.
type BulkPush struct{}

func (m *BulkPush) Type() MessageType { return MsgBulkPush }

func (m *BulkPush) Header(protocol config.ProtocolInfo) Header {
	return NewHeader(protocol, MsgBulkPush)
}

func (m *BulkPush) SerializePayload(io.Writer) error { return nil }

func (m *BulkPush) Visit(v Visitor) { v.BulkPush(m) }

// FrontierReqAll requests every frontier regardless of age or count.
const FrontierReqAll = ^uint32(0)

// FrontierReq requests (account, frontier) pairs starting at an account.
type FrontierReq struct {
	Start core.Account
	Age   uint32
	Count uint32
}

const frontierReqSize = core.AccountSize + 4 + 4

func (m *FrontierReq) Type() MessageType { return MsgFrontierReq }

func (m *FrontierReq) Header(protocol config.ProtocolInfo) Header {
	return NewHeader(protocol, MsgFrontierReq)
}

func (m *FrontierReq) SerializePayload(w io.Writer) error {
	var buf [frontierReqSize]byte
	copy(buf[0:32], m.Start[:])
	binary.BigEndian.PutUint32(buf[32:36], m.Age)
	binary.BigEndian.PutUint32(buf[36:40], m.Count)
	_, err := w.Write(buf[:])
	return err
}

func deserializeFrontierReq(r io.Reader) (*FrontierReq, error) {
	var buf [frontierReqSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	m := &FrontierReq{
		Age:   binary.BigEndian.Uint32(buf[32:36]),
		Count: binary.BigEndian.Uint32(buf[36:40]),
	}
	copy(m.Start[:], buf[0:32])
	return m, nil
}

func (m *FrontierReq) Visit(v Visitor) { v.FrontierReq(m) }
