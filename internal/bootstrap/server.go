// Package bootstrap implements the per-connection response server: the
// undefined -> handshake -> realtime | bootstrap state machine, and the
// bulk pull / frontier servers that stream historical blocks to peers
// catching up.
package bootstrap

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/internal/ledger"
	"github.com/stjet/gobanano/internal/messages"
	"github.com/stjet/gobanano/internal/network"
	"github.com/stjet/gobanano/internal/stats"
	"github.com/stjet/gobanano/pkg/logging"
)

// RealtimeSink receives messages accepted in realtime mode, preserving
// per-channel arrival order.
type RealtimeSink interface {
	QueueRealtime(msg messages.Message, channelID network.ChannelID)
}

// Options wires one response server factory.
type Options struct {
	Network   *network.Network
	Ledger    *ledger.Ledger
	Stats     *stats.Stats
	Constants config.NetworkConstants
	Flags     config.NodeFlags
	// NodeKey signs handshake responses; its public key is this node's id.
	NodeKey core.PrivateKey
	// Realtime receives accepted realtime messages.
	Realtime RealtimeSink
	// PushBlock receives blocks a peer pushed over a bulk_push stream.
	PushBlock func(block core.Block, channelID network.ChannelID)
	// ConnectionsMax bounds concurrent bootstrap-serving connections.
	ConnectionsMax int64
	// Deserializer is shared across connections (publish filter, uniquers).
	Deserializer *messages.Deserializer
}

// Factory creates one response server per accepted socket and owns the
// shared bootstrap connection budget.
type Factory struct {
	opts      Options
	bootstrap *semaphore.Weighted
	log       *logging.Logger
}

// NewFactory creates a response server factory.
func NewFactory(opts Options) *Factory {
	max := opts.ConnectionsMax
	if max <= 0 {
		max = 64
	}
	return &Factory{
		opts:      opts,
		bootstrap: semaphore.NewWeighted(max),
		log:       logging.GetDefault().Component("tcp-server"),
	}
}

// NewServer creates the response server for one accepted channel.
func (f *Factory) NewServer(channel *network.Channel) *Server {
	return &Server{
		factory:  f,
		channel:  channel,
		uniqueID: uuid.New(),
		log:      f.log.With("channel", channel.ID(), "peer", channel.RemoteAddr()),
	}
}

// Server is the per-connection state machine. The connection starts
// undefined; a successful handshake makes it realtime, a bootstrap request
// makes it bootstrap. Both are terminal for the connection.
type Server struct {
	factory *Factory
	channel *network.Channel

	// uniqueID correlates log lines and observer callbacks for this
	// connection.
	uniqueID uuid.UUID
	log      *logging.Logger

	lastTelemetryReq atomic.Int64
	bootstrapSlot    bool
}

// UniqueID returns the 128-bit connection id.
func (s *Server) UniqueID() uuid.UUID { return s.uniqueID }

// Run drives the read loop until the socket errors, the node stops, or a
// protocol violation closes the channel.
func (s *Server) Run(ctx context.Context) {
	defer s.release()

	for {
		if ctx.Err() != nil || s.factory.opts.Network.IsStopped() || !s.channel.IsAlive() {
			return
		}

		_ = s.channel.Conn().SetReadDeadline(time.Now().Add(s.factory.opts.Constants.SilentConnectionTolerance))
		msg, err := s.factory.opts.Deserializer.Read(s.channel.Conn())
		if err != nil {
			s.handleReadError(err)
			if !s.channel.IsAlive() {
				return
			}
			if s.isFatalParse(err) {
				s.factory.opts.Network.PeerMisbehaved(s.channel.ID())
				return
			}
			continue
		}

		s.channel.MarkReceived()
		s.countMessage(msg)

		if !s.process(ctx, msg) {
			return
		}
	}
}

func (s *Server) release() {
	if s.bootstrapSlot {
		s.factory.bootstrap.Release(1)
		s.bootstrapSlot = false
	}
	s.channel.Close()
	s.log.Debug("Connection closed", "unique_id", s.uniqueID, "mode", s.channel.Mode())
}

func (s *Server) handleReadError(err error) {
	st := s.factory.opts.Stats
	switch {
	case errors.Is(err, messages.ErrDuplicatePublish):
		st.IncDir(stats.TypeFilter, stats.DetailDuplicatePublish, stats.DirIn)
	case errors.Is(err, messages.ErrUnknownMessageType):
		st.IncDir(stats.TypeError, stats.DetailInvalidMessageType, stats.DirIn)
	case errors.Is(err, messages.ErrInvalidBlockType):
		st.IncDir(stats.TypeError, stats.DetailInvalidBlockType, stats.DirIn)
	case errors.Is(err, messages.ErrMessageTooBig):
		st.IncDir(stats.TypeError, stats.DetailMessageSizeTooBig, stats.DirIn)
	case errors.Is(err, messages.ErrInvalidHeader),
		errors.Is(err, messages.ErrInvalidNetwork),
		errors.Is(err, messages.ErrOutdatedVersion):
		st.IncDir(stats.TypeError, stats.DetailInvalidHeader, stats.DirIn)
	default:
		// I/O error or short read: the socket is done.
		s.channel.Close()
	}
}

// isFatalParse reports protocol violations that warrant closing and scoring
// the peer. Duplicate publishes are normal gossip noise.
func (s *Server) isFatalParse(err error) bool {
	return errors.Is(err, messages.ErrInvalidHeader) ||
		errors.Is(err, messages.ErrInvalidNetwork) ||
		errors.Is(err, messages.ErrUnknownMessageType) ||
		errors.Is(err, messages.ErrInvalidBlockType) ||
		errors.Is(err, messages.ErrMessageTooBig)
}

func (s *Server) countMessage(msg messages.Message) {
	detail := map[messages.MessageType]stats.DetailType{
		messages.MsgKeepalive:       stats.DetailKeepalive,
		messages.MsgPublish:         stats.DetailPublish,
		messages.MsgConfirmReq:      stats.DetailConfirmReq,
		messages.MsgConfirmAck:      stats.DetailConfirmAck,
		messages.MsgBulkPull:        stats.DetailBulkPull,
		messages.MsgBulkPullAccount: stats.DetailBulkPullAccount,
		messages.MsgBulkPush:        stats.DetailBulkPush,
		messages.MsgFrontierReq:     stats.DetailFrontierReq,
		messages.MsgNodeIDHandshake: stats.DetailNodeIDHandshake,
		messages.MsgTelemetryReq:    stats.DetailTelemetryReq,
		messages.MsgTelemetryAck:    stats.DetailTelemetryAck,
		messages.MsgAscPullReq:      stats.DetailAscPullReq,
		messages.MsgAscPullAck:      stats.DetailAscPullAck,
	}[msg.Type()]
	s.factory.opts.Stats.IncDir(stats.TypeBootstrapServer, detail, stats.DirIn)
}

// process dispatches one message to the visitor of the current mode. The
// return value is whether the read loop should continue.
//
// An undefined connection tries the handshake visitor first. If that
// accepts, the connection is realtime and the message is queued. If it saw
// a bootstrap request instead, the connection switches to bootstrap mode
// and the same message falls through to the bootstrap visitor.
func (s *Server) process(ctx context.Context, msg messages.Message) bool {
	switch s.channel.Mode() {
	case network.ModeUndefined:
		handshake := &handshakeVisitor{server: s}
		msg.Visit(handshake)
		if handshake.process {
			s.queueRealtime(msg)
			return true
		}
		if !handshake.bootstrap {
			// Neither handshake nor bootstrap while undefined: ignore.
			return true
		}
		if !s.toBootstrapConnection() {
			return true
		}
		fallthrough

	case network.ModeBootstrap:
		visitor := &bootstrapVisitor{server: s, ctx: ctx}
		msg.Visit(visitor)
		// Serving streams inline; once done, keep reading.
		return true

	default: // realtime
		visitor := &realtimeVisitor{server: s}
		msg.Visit(visitor)
		if visitor.process {
			s.queueRealtime(msg)
		}
		return true
	}
}

func (s *Server) queueRealtime(msg messages.Message) {
	if sink := s.factory.opts.Realtime; sink != nil {
		sink.QueueRealtime(msg, s.channel.ID())
	}
}

// toBootstrapConnection claims a bootstrap slot and flips the channel mode.
func (s *Server) toBootstrapConnection() bool {
	if s.factory.opts.Flags.DisableBootstrapListener {
		return false
	}
	if s.channel.Mode() != network.ModeUndefined {
		return s.channel.Mode() == network.ModeBootstrap
	}
	if !s.factory.bootstrap.TryAcquire(1) {
		s.log.Debug("Bootstrap connection limit reached", "unique_id", s.uniqueID)
		return false
	}
	s.bootstrapSlot = true
	s.channel.SetMode(network.ModeBootstrap)
	return true
}

// telemetryCutoffExceeded rate-limits telemetry requests per connection.
func (s *Server) telemetryCutoffExceeded() bool {
	cutoff := s.factory.opts.Constants.TelemetryCacheCutoff
	last := s.lastTelemetryReq.Load()
	now := time.Now().UnixNano()
	if last != 0 && time.Duration(now-last) < cutoff {
		return false
	}
	s.lastTelemetryReq.Store(now)
	return true
}

func (s *Server) send(msg messages.Message, traffic network.TrafficType) {
	buffer, err := messages.Serialize(msg, s.factory.opts.Constants.Protocol)
	if err != nil {
		s.log.Error("Failed to serialize response", "error", err)
		return
	}
	if !s.channel.TrySend(buffer, network.DropPolicyShouldNotDrop, traffic) {
		s.log.Debug("Failed to send response", "type", msg.Type())
	}
}
