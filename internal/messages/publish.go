package messages

import (
	"io"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
)

// Publish gossips one block. The block type lives in the header extensions,
// not the payload.
type Publish struct {
	Block core.Block

	// Digest is the publish filter digest of the payload, kept so the filter
	// entry can be cleared if the block turns out malformed.
	Digest uint64
}

func (m *Publish) Type() MessageType { return MsgPublish }

func (m *Publish) Header(protocol config.ProtocolInfo) Header {
	h := NewHeader(protocol, MsgPublish)
	h.SetBlockType(m.Block.Type())
	return h
}

func (m *Publish) SerializePayload(w io.Writer) error {
	return m.Block.SerializeBody(w)
}

func deserializePublish(r io.Reader, header Header, uniquer *core.Uniquer) (*Publish, error) {
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
	return &Publish{Block: block}, nil
}

func (m *Publish) Visit(v Visitor) { v.Publish(m) }
