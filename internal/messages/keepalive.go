package messages

import (
	"encoding/binary"
	"io"
	"net/netip"

	"github.com/stjet/gobanano/internal/config"
)

// KeepalivePeers is the fixed number of endpoints a keepalive carries.
const KeepalivePeers = 8

// endpointSize is a 16-byte IPv6 address plus a 2-byte port.
const endpointSize = 18

// KeepaliveSize is the fixed payload size.
const KeepaliveSize = KeepalivePeers * endpointSize

// Keepalive advertises up to eight peering endpoints. Unused slots are the
// unspecified address with port zero.
type Keepalive struct {
	Peers [KeepalivePeers]netip.AddrPort
}

func (m *Keepalive) Type() MessageType { return MsgKeepalive }

func (m *Keepalive) Header(protocol config.ProtocolInfo) Header {
	return NewHeader(protocol, MsgKeepalive)
}

func (m *Keepalive) SerializePayload(w io.Writer) error {
	var buf [KeepaliveSize]byte
	for i, peer := range m.Peers {
		off := i * endpointSize
		addr := peer.Addr()
		if addr.Is4() {
			addr = netip.AddrFrom16(addr.As16())
		}
		raw := addr.As16()
		copy(buf[off:off+16], raw[:])
		binary.BigEndian.PutUint16(buf[off+16:off+18], peer.Port())
	}
	_, err := w.Write(buf[:])
	return err
}

func deserializeKeepalive(r io.Reader) (*Keepalive, error) {
	var buf [KeepaliveSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	m := &Keepalive{}
	for i := 0; i < KeepalivePeers; i++ {
		off := i * endpointSize
		var raw [16]byte
		copy(raw[:], buf[off:off+16])
		port := binary.BigEndian.Uint16(buf[off+16 : off+18])
		m.Peers[i] = netip.AddrPortFrom(netip.AddrFrom16(raw), port)
	}
	return m, nil
}

func (m *Keepalive) Visit(v Visitor) { v.Keepalive(m) }
