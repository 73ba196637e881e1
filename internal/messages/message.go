package messages

import (
	"bytes"
	"io"

	"github.com/stjet/gobanano/internal/config"
)

// Message is one framed wire message: header plus payload.
type Message interface {
	Type() MessageType
	// Header builds the frame prefix, including the message's extension
	// bits, for the given protocol.
	Header(protocol config.ProtocolInfo) Header
	// SerializePayload writes the bytes following the header.
	SerializePayload(w io.Writer) error
	Visit(v Visitor)
}

// Serialize frames a message for the wire.
func Serialize(m Message, protocol config.ProtocolInfo) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Header(protocol).Serialize(&buf); err != nil {
		return nil, err
	}
	if err := m.SerializePayload(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Visitor dispatches on the concrete message variant. Embed NopVisitor to
// implement only the messages a state cares about.
type Visitor interface {
	Keepalive(*Keepalive)
	Publish(*Publish)
	ConfirmReq(*ConfirmReq)
	ConfirmAck(*ConfirmAck)
	BulkPull(*BulkPull)
	BulkPullAccount(*BulkPullAccount)
	BulkPush(*BulkPush)
	FrontierReq(*FrontierReq)
	NodeIDHandshake(*NodeIDHandshake)
	TelemetryReq(*TelemetryReq)
	TelemetryAck(*TelemetryAck)
	AscPullReq(*AscPullReq)
	AscPullAck(*AscPullAck)
}

// NopVisitor ignores every message.
type NopVisitor struct{}

func (NopVisitor) Keepalive(*Keepalive)             {}
func (NopVisitor) Publish(*Publish)                 {}
func (NopVisitor) ConfirmReq(*ConfirmReq)           {}
func (NopVisitor) ConfirmAck(*ConfirmAck)           {}
func (NopVisitor) BulkPull(*BulkPull)               {}
func (NopVisitor) BulkPullAccount(*BulkPullAccount) {}
func (NopVisitor) BulkPush(*BulkPush)               {}
func (NopVisitor) FrontierReq(*FrontierReq)         {}
func (NopVisitor) NodeIDHandshake(*NodeIDHandshake) {}
func (NopVisitor) TelemetryReq(*TelemetryReq)       {}
func (NopVisitor) TelemetryAck(*TelemetryAck)       {}
func (NopVisitor) AscPullReq(*AscPullReq)           {}
func (NopVisitor) AscPullAck(*AscPullAck)           {}
