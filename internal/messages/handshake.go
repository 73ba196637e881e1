package messages

import (
	"fmt"
	"io"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
)

// CookieSize is the handshake challenge length.
const CookieSize = 32

// HandshakeQuery is the first phase: a random cookie the peer must sign.
type HandshakeQuery struct {
	Cookie [CookieSize]byte
}

// HandshakeResponse is the second phase: the peer's node id and its
// signature over the cookie it was sent.
type HandshakeResponse struct {
	NodeID    core.PublicKey
	Signature core.Signature
}

// Validate checks the response signature over the cookie.
func (r *HandshakeResponse) Validate(cookie [CookieSize]byte) bool {
	return core.Verify(r.NodeID, cookie[:], r.Signature)
}

// NodeIDHandshake is the two-phase peer identity exchange. A single message
// may carry a query, a response, or both.
type NodeIDHandshake struct {
	Query    *HandshakeQuery
	Response *HandshakeResponse
}

func (m *NodeIDHandshake) Type() MessageType { return MsgNodeIDHandshake }

func (m *NodeIDHandshake) Header(protocol config.ProtocolInfo) Header {
	h := NewHeader(protocol, MsgNodeIDHandshake)
	if m.Query != nil {
		h.Extensions |= extHandshakeQuery
	}
	if m.Response != nil {
		h.Extensions |= extHandshakeResponse
	}
	return h
}

func (m *NodeIDHandshake) SerializePayload(w io.Writer) error {
	if m.Query != nil {
		if _, err := w.Write(m.Query.Cookie[:]); err != nil {
			return err
		}
	}
	if m.Response != nil {
		if _, err := w.Write(m.Response.NodeID[:]); err != nil {
			return err
		}
		if _, err := w.Write(m.Response.Signature[:]); err != nil {
			return err
		}
	}
	return nil
}

func handshakeSize(header Header) (int, error) {
	if !header.IsHandshakeQuery() && !header.IsHandshakeResponse() {
		return 0, fmt.Errorf("%w: handshake with neither query nor response", ErrInvalidMessage)
	}
	size := 0
	if header.IsHandshakeQuery() {
		size += CookieSize
	}
	if header.IsHandshakeResponse() {
		size += core.AccountSize + core.SignatureSize
	}
	return size, nil
}

func deserializeNodeIDHandshake(r io.Reader, header Header) (*NodeIDHandshake, error) {
	m := &NodeIDHandshake{}
	if header.IsHandshakeQuery() {
		q := &HandshakeQuery{}
		if _, err := io.ReadFull(r, q.Cookie[:]); err != nil {
			return nil, err
		}
		m.Query = q
	}
	if header.IsHandshakeResponse() {
		resp := &HandshakeResponse{}
		if _, err := io.ReadFull(r, resp.NodeID[:]); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, resp.Signature[:]); err != nil {
			return nil, err
		}
		m.Response = resp
	}
	return m, nil
}

func (m *NodeIDHandshake) Visit(v Visitor) { v.NodeIDHandshake(m) }
