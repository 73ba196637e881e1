// Package messages implements the framed wire protocol: the fixed message
// header, every message variant, and the shared deserializer with its
// duplicate-publish filter.
package messages

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
)

// MessageType is the wire tag of a message variant.
type MessageType uint8

const (
	MsgInvalid         MessageType = 0
	MsgNotAType        MessageType = 1
	MsgKeepalive       MessageType = 2
	MsgPublish         MessageType = 3
	MsgConfirmReq      MessageType = 4
	MsgConfirmAck      MessageType = 5
	MsgBulkPull        MessageType = 6
	MsgBulkPush        MessageType = 7
	MsgFrontierReq     MessageType = 8
	MsgNodeIDHandshake MessageType = 10
	MsgBulkPullAccount MessageType = 11
	MsgTelemetryReq    MessageType = 12
	MsgTelemetryAck    MessageType = 13
	MsgAscPullReq      MessageType = 14
	MsgAscPullAck      MessageType = 15
)

func (t MessageType) String() string {
	switch t {
	case MsgKeepalive:
		return "keepalive"
	case MsgPublish:
		return "publish"
	case MsgConfirmReq:
		return "confirm_req"
	case MsgConfirmAck:
		return "confirm_ack"
	case MsgBulkPull:
		return "bulk_pull"
	case MsgBulkPush:
		return "bulk_push"
	case MsgFrontierReq:
		return "frontier_req"
	case MsgNodeIDHandshake:
		return "node_id_handshake"
	case MsgBulkPullAccount:
		return "bulk_pull_account"
	case MsgTelemetryReq:
		return "telemetry_req"
	case MsgTelemetryAck:
		return "telemetry_ack"
	case MsgAscPullReq:
		return "asc_pull_req"
	case MsgAscPullAck:
		return "asc_pull_ack"
	default:
		return "invalid"
	}
}

// HeaderSize is the fixed frame prefix length.
const HeaderSize = 8

// Extension bit assignments. The meaning of the bitfield depends on the
// message type.
const (
	// Node id handshake.
	extHandshakeQuery    = 1 << 0
	extHandshakeResponse = 1 << 1

	// Bulk pull.
	extExtendedParams = 1 << 0

	// Block type for publish / confirm_req, bits 8..11.
	extBlockTypeShift = 8
	extBlockTypeMask  = 0x0f00

	// Hash count for confirm_req / confirm_ack, bits 12..15.
	extCountShift = 12
	extCountMask  = 0xf000

	// Telemetry ack payload size, bits 0..9.
	extTelemetrySizeMask = 0x3ff
)

// Header is the fixed prefix of every message. All header integers are
// big-endian except extensions, which is little-endian.
type Header struct {
	NetworkID    uint16
	VersionMax   uint8
	VersionUsing uint8
	VersionMin   uint8
	Type         MessageType
	Extensions   uint16
}

// NewHeader builds a header for the given protocol and message type.
func NewHeader(protocol config.ProtocolInfo, msgType MessageType) Header {
	return Header{
		NetworkID:    protocol.NetworkID,
		VersionMax:   protocol.VersionMax,
		VersionUsing: protocol.VersionUsing,
		VersionMin:   protocol.VersionMin,
		Type:         msgType,
	}
}

// Serialize writes the 8-byte frame prefix.
func (h Header) Serialize(w io.Writer) error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], h.NetworkID)
	buf[2] = h.VersionMax
	buf[3] = h.VersionUsing
	buf[4] = h.VersionMin
	buf[5] = byte(h.Type)
	binary.LittleEndian.PutUint16(buf[6:8], h.Extensions)
	_, err := w.Write(buf[:])
	return err
}

// DeserializeHeader reads the 8-byte frame prefix.
func DeserializeHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		NetworkID:    binary.BigEndian.Uint16(buf[0:2]),
		VersionMax:   buf[2],
		VersionUsing: buf[3],
		VersionMin:   buf[4],
		Type:         MessageType(buf[5]),
		Extensions:   binary.LittleEndian.Uint16(buf[6:8]),
	}, nil
}

// BlockType reads the embedded block type of publish/confirm_req frames.
func (h Header) BlockType() core.BlockType {
	return core.BlockType((h.Extensions & extBlockTypeMask) >> extBlockTypeShift)
}

// SetBlockType stores the embedded block type.
func (h *Header) SetBlockType(t core.BlockType) {
	h.Extensions = (h.Extensions &^ extBlockTypeMask) | (uint16(t) << extBlockTypeShift)
}

// Count reads the embedded hash count of confirm_req/confirm_ack frames.
func (h Header) Count() int {
	return int((h.Extensions & extCountMask) >> extCountShift)
}

// SetCount stores the embedded hash count.
func (h *Header) SetCount(count int) {
	h.Extensions = (h.Extensions &^ extCountMask) | (uint16(count) << extCountShift)
}

// PayloadLength reads the raw extensions value, used as a byte length by
// asc_pull_ack.
func (h Header) PayloadLength() int {
	return int(h.Extensions)
}

// SetPayloadLength stores a raw byte length into extensions.
func (h *Header) SetPayloadLength(length int) {
	h.Extensions = uint16(length)
}

// TelemetrySize reads the telemetry_ack payload size.
func (h Header) TelemetrySize() int {
	return int(h.Extensions & extTelemetrySizeMask)
}

// SetTelemetrySize stores the telemetry_ack payload size.
func (h *Header) SetTelemetrySize(size int) {
	h.Extensions = (h.Extensions &^ extTelemetrySizeMask) | (uint16(size) & extTelemetrySizeMask)
}

// IsHandshakeQuery reports the handshake query flag.
func (h Header) IsHandshakeQuery() bool { return h.Extensions&extHandshakeQuery != 0 }

// IsHandshakeResponse reports the handshake response flag.
func (h Header) IsHandshakeResponse() bool { return h.Extensions&extHandshakeResponse != 0 }

// HasExtendedParams reports the bulk_pull extended parameter flag.
func (h Header) HasExtendedParams() bool { return h.Extensions&extExtendedParams != 0 }

// ValidExtensions rejects extension bits that have no meaning for the
// message type at the using version.
func (h Header) ValidExtensions() bool {
	var known uint16
	switch h.Type {
	case MsgPublish:
		known = extBlockTypeMask
	case MsgConfirmReq:
		known = extBlockTypeMask | extCountMask
	case MsgConfirmAck:
		known = extBlockTypeMask | extCountMask
	case MsgNodeIDHandshake:
		known = extHandshakeQuery | extHandshakeResponse
	case MsgBulkPull:
		known = extExtendedParams
	case MsgTelemetryAck:
		known = extTelemetrySizeMask
	case MsgAscPullReq, MsgAscPullAck:
		known = 0xffff
	default:
		known = 0
	}
	return h.Extensions&^known == 0
}

func (h Header) String() string {
	return fmt.Sprintf("NetID: %04x, Versions: %d/%d/%d, MsgType: %d(%s), Extensions: %04x",
		h.NetworkID, h.VersionMax, h.VersionUsing, h.VersionMin, h.Type, h.Type, h.Extensions)
}
