package messages

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
)

// Codec errors. Each maps to a stable ParseStatus kind for stats counting.
var (
	ErrShortRead          = errors.New("short read")
	ErrInvalidHeader      = errors.New("invalid header")
	ErrInvalidNetwork     = errors.New("wrong network id")
	ErrOutdatedVersion    = errors.New("outdated protocol version")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidBlockType   = errors.New("unknown block type")
	ErrMessageTooBig      = errors.New("message size too big")
	ErrTooManyBlocks      = errors.New("too many blocks")
	ErrDuplicatePublish   = errors.New("duplicate publish message")
	ErrInvalidMessage     = errors.New("invalid message")
)

// MaxMessageSize bounds any payload this node will buffer.
const MaxMessageSize = 64 * 1024

// Deserializer reads framed messages off a stream, validating the header
// against the local protocol, sizing the payload deterministically, and
// deduplicating publishes through the shared network filter.
type Deserializer struct {
	protocol      config.ProtocolInfo
	publishFilter *NetworkFilter
	blockUniquer  *core.Uniquer
	voteUniquer   *VoteUniquer
}

// NewDeserializer creates a message reader. The filter and uniquers are
// shared across all connections; any may be nil.
func NewDeserializer(protocol config.ProtocolInfo, filter *NetworkFilter, blocks *core.Uniquer, votes *VoteUniquer) *Deserializer {
	return &Deserializer{
		protocol:      protocol,
		publishFilter: filter,
		blockUniquer:  blocks,
		voteUniquer:   votes,
	}
}

// Read reads exactly one framed message from r.
func (d *Deserializer) Read(r io.Reader) (Message, error) {
	header, err := DeserializeHeader(r)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: header", ErrShortRead)
		}
		return nil, err
	}

	if header.NetworkID != d.protocol.NetworkID {
		return nil, ErrInvalidNetwork
	}
	if header.VersionUsing < d.protocol.VersionMin {
		return nil, ErrOutdatedVersion
	}
	if !header.ValidExtensions() {
		return nil, fmt.Errorf("%w: extensions %04x for %s", ErrInvalidHeader, header.Extensions, header.Type)
	}

	size, err := payloadSize(header)
	if err != nil {
		return nil, err
	}
	if size > MaxMessageSize {
		return nil, ErrMessageTooBig
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: payload of %s", ErrShortRead, header.Type)
	}

	return d.parse(header, payload)
}

func (d *Deserializer) parse(header Header, payload []byte) (Message, error) {
	r := bytes.NewReader(payload)

	switch header.Type {
	case MsgKeepalive:
		return deserializeKeepalive(r)
	case MsgPublish:
		var digest uint64
		if d.publishFilter != nil {
			var existed bool
			digest, existed = d.publishFilter.Apply(payload)
			if existed {
				return nil, ErrDuplicatePublish
			}
		}
		m, err := deserializePublish(r, header, d.blockUniquer)
		if err != nil {
			if d.publishFilter != nil {
				d.publishFilter.ClearDigest(digest)
			}
			return nil, err
		}
		m.Digest = digest
		return m, nil
	case MsgConfirmReq:
		return deserializeConfirmReq(r, header, d.blockUniquer)
	case MsgConfirmAck:
		return deserializeConfirmAck(r, header, d.voteUniquer)
	case MsgBulkPull:
		return deserializeBulkPull(r, header)
	case MsgBulkPullAccount:
		return deserializeBulkPullAccount(r)
	case MsgBulkPush:
		return &BulkPush{}, nil
	case MsgFrontierReq:
		return deserializeFrontierReq(r)
	case MsgNodeIDHandshake:
		return deserializeNodeIDHandshake(r, header)
	case MsgTelemetryReq:
		return &TelemetryReq{}, nil
	case MsgTelemetryAck:
		return deserializeTelemetryAck(r, header)
	case MsgAscPullReq:
		return deserializeAscPullReq(r)
	case MsgAscPullAck:
		return deserializeAscPullAck(r, header, d.blockUniquer)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, header.Type)
	}
}

// payloadSize resolves the exact payload length for a header. Every payload
// size is deterministic given the header.
func payloadSize(header Header) (int, error) {
	switch header.Type {
	case MsgKeepalive:
		return KeepaliveSize, nil
	case MsgPublish:
		size, err := core.SerializedBlockSize(header.BlockType())
		if err != nil {
			return 0, ErrInvalidBlockType
		}
		return size, nil
	case MsgConfirmReq:
		if header.BlockType() == core.BlockTypeNotABlock {
			return header.Count() * (core.HashSize + core.HashSize), nil
		}
		size, err := core.SerializedBlockSize(header.BlockType())
		if err != nil {
			return 0, ErrInvalidBlockType
		}
		return size, nil
	case MsgConfirmAck:
		return voteFixedSize + header.Count()*core.HashSize, nil
	case MsgBulkPull:
		size := bulkPullBaseSize
		if header.HasExtendedParams() {
			size += bulkPullExtendedSize
		}
		return size, nil
	case MsgBulkPullAccount:
		return bulkPullAccountSize, nil
	case MsgBulkPush, MsgTelemetryReq:
		return 0, nil
	case MsgFrontierReq:
		return frontierReqSize, nil
	case MsgNodeIDHandshake:
		return handshakeSize(header)
	case MsgTelemetryAck:
		return header.TelemetrySize(), nil
	case MsgAscPullReq, MsgAscPullAck:
		return 9 + header.PayloadLength(), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownMessageType, header.Type)
	}
}
