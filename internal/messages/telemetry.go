package messages

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
)

// TelemetryReq asks a peer for its telemetry snapshot. Empty payload.
type TelemetryReq struct{}

func (m *TelemetryReq) Type() MessageType { return MsgTelemetryReq }

func (m *TelemetryReq) Header(protocol config.ProtocolInfo) Header {
	return NewHeader(protocol, MsgTelemetryReq)
}

func (m *TelemetryReq) SerializePayload(io.Writer) error { return nil }

func (m *TelemetryReq) Visit(v Visitor) { v.TelemetryReq(m) }

// TelemetryData is the signed node snapshot of a telemetry_ack.
type TelemetryData struct {
	Signature        core.Signature
	NodeID           core.PublicKey
	BlockCount       uint64
	CementedCount    uint64
	UncheckedCount   uint64
	AccountCount     uint64
	BandwidthCap     uint64
	Uptime           uint64
	PeerCount        uint32
	ProtocolVersion  uint8
	Genesis          core.BlockHash
	MajorVersion     uint8
	MinorVersion     uint8
	PatchVersion     uint8
	PrePatchVersion  uint8
	Maker            uint8
	Timestamp        uint64
	ActiveDifficulty uint64
}

// telemetryDataSize is the fixed size of the snapshot this node produces.
// Peers may append unknown fields; the size travels in the extensions.
const telemetryDataSize = core.SignatureSize + core.AccountSize + 6*8 + 4 + 1 + core.HashSize + 5 + 8 + 8

func (d *TelemetryData) serializeUnsigned(w io.Writer) error {
	var buf bytes.Buffer
	buf.Write(d.NodeID[:])
	writeU64 := func(v uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
	writeU64(d.BlockCount)
	writeU64(d.CementedCount)
	writeU64(d.UncheckedCount)
	writeU64(d.AccountCount)
	writeU64(d.BandwidthCap)
	writeU64(d.Uptime)
	var peers [4]byte
	binary.BigEndian.PutUint32(peers[:], d.PeerCount)
	buf.Write(peers[:])
	buf.WriteByte(d.ProtocolVersion)
	buf.Write(d.Genesis[:])
	buf.Write([]byte{d.MajorVersion, d.MinorVersion, d.PatchVersion, d.PrePatchVersion, d.Maker})
	writeU64(d.Timestamp)
	writeU64(d.ActiveDifficulty)
	_, err := w.Write(buf.Bytes())
	return err
}

// Sign fills in the signature over the unsigned fields.
func (d *TelemetryData) Sign(key core.PrivateKey) error {
	var buf bytes.Buffer
	if err := d.serializeUnsigned(&buf); err != nil {
		return err
	}
	sig, err := key.Sign(buf.Bytes())
	if err != nil {
		return err
	}
	d.Signature = sig
	return nil
}

// Validate checks the snapshot signature against its node id.
func (d *TelemetryData) Validate() bool {
	var buf bytes.Buffer
	if err := d.serializeUnsigned(&buf); err != nil {
		return false
	}
	return core.Verify(d.NodeID, buf.Bytes(), d.Signature)
}

// TelemetryAck carries a signed telemetry snapshot. The payload size lives
// in the header extensions so older nodes can skip unknown trailing fields.
type TelemetryAck struct {
	Data TelemetryData
}

func (m *TelemetryAck) Type() MessageType { return MsgTelemetryAck }

func (m *TelemetryAck) Header(protocol config.ProtocolInfo) Header {
	h := NewHeader(protocol, MsgTelemetryAck)
	h.SetTelemetrySize(telemetryDataSize)
	return h
}

func (m *TelemetryAck) SerializePayload(w io.Writer) error {
	if _, err := w.Write(m.Data.Signature[:]); err != nil {
		return err
	}
	return m.Data.serializeUnsigned(w)
}

func deserializeTelemetryAck(r io.Reader, header Header) (*TelemetryAck, error) {
	size := header.TelemetrySize()
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if size < telemetryDataSize {
		return nil, ErrInvalidMessage
	}

	m := &TelemetryAck{}
	d := &m.Data
	copy(d.Signature[:], payload[0:64])
	copy(d.NodeID[:], payload[64:96])
	off := 96
	readU64 := func() uint64 {
		v := binary.BigEndian.Uint64(payload[off : off+8])
		off += 8
		return v
	}
	d.BlockCount = readU64()
	d.CementedCount = readU64()
	d.UncheckedCount = readU64()
	d.AccountCount = readU64()
	d.BandwidthCap = readU64()
	d.Uptime = readU64()
	d.PeerCount = binary.BigEndian.Uint32(payload[off : off+4])
	off += 4
	d.ProtocolVersion = payload[off]
	off++
	copy(d.Genesis[:], payload[off:off+32])
	off += 32
	d.MajorVersion = payload[off]
	d.MinorVersion = payload[off+1]
	d.PatchVersion = payload[off+2]
	d.PrePatchVersion = payload[off+3]
	d.Maker = payload[off+4]
	off += 5
	d.Timestamp = readU64()
	d.ActiveDifficulty = readU64()
	return m, nil
}

func (m *TelemetryAck) Visit(v Visitor) { v.TelemetryAck(m) }
