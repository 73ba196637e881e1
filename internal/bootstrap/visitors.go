package bootstrap

import (
	"context"

	"github.com/stjet/gobanano/internal/messages"
	"github.com/stjet/gobanano/internal/network"
	"github.com/stjet/gobanano/internal/stats"
)

// handshakeVisitor handles messages on an undefined connection. It accepts
// node id handshakes and flags bootstrap requests so the server can switch
// modes and replay the message to the bootstrap visitor.
type handshakeVisitor struct {
	messages.NopVisitor
	server *Server

	// process means the connection became realtime and the message should be
	// queued.
	process bool
	// bootstrap means the message was a bootstrap request.
	bootstrap bool
}

func (v *handshakeVisitor) NodeIDHandshake(m *messages.NodeIDHandshake) {
	s := v.server

	if s.factory.opts.Flags.DisableTCPRealtime {
		s.channel.Close()
		return
	}

	if m.Query != nil {
		response := &messages.HandshakeResponse{}
		nodeID, err := s.factory.opts.NodeKey.PublicKey()
		if err != nil {
			s.channel.Close()
			return
		}
		sig, err := s.factory.opts.NodeKey.Sign(m.Query.Cookie[:])
		if err != nil {
			s.channel.Close()
			return
		}
		response.NodeID = nodeID
		response.Signature = sig

		// Answer the query and, if we have not challenged this peer yet,
		// attach our own cookie.
		reply := &messages.NodeIDHandshake{Response: response}
		if cookie, ok := s.factory.opts.Network.Cookies.Assign(s.channel.RemoteAddr()); ok {
			reply.Query = &messages.HandshakeQuery{Cookie: cookie}
		}
		s.send(reply, network.TrafficGeneric)
	}

	if m.Response != nil {
		if !s.factory.opts.Network.Cookies.Validate(s.channel.RemoteAddr(), m.Response.NodeID, m.Response.Signature) {
			s.log.Debug("Invalid handshake response", "unique_id", s.uniqueID)
			s.factory.opts.Network.PeerMisbehaved(s.channel.ID())
			return
		}
		if s.factory.opts.Network.UpgradeToRealtime(s.channel.ID(), m.Response.NodeID) {
			v.process = true
		}
	}
}

func (v *handshakeVisitor) BulkPull(*messages.BulkPull)               { v.bootstrap = true }
func (v *handshakeVisitor) BulkPullAccount(*messages.BulkPullAccount) { v.bootstrap = true }
func (v *handshakeVisitor) BulkPush(*messages.BulkPush)               { v.bootstrap = true }
func (v *handshakeVisitor) FrontierReq(*messages.FrontierReq)         { v.bootstrap = true }

// realtimeVisitor accepts gossip traffic on a realtime connection; bootstrap
// requests are counted as dropped, not serviced.
type realtimeVisitor struct {
	messages.NopVisitor
	server  *Server
	process bool
}

func (v *realtimeVisitor) Keepalive(*messages.Keepalive)   { v.process = true }
func (v *realtimeVisitor) Publish(*messages.Publish)       { v.process = true }
func (v *realtimeVisitor) ConfirmReq(*messages.ConfirmReq) { v.process = true }
func (v *realtimeVisitor) ConfirmAck(*messages.ConfirmAck) { v.process = true }
func (v *realtimeVisitor) AscPullReq(*messages.AscPullReq) { v.process = true }
func (v *realtimeVisitor) AscPullAck(*messages.AscPullAck) { v.process = true }

func (v *realtimeVisitor) TelemetryReq(*messages.TelemetryReq) {
	// Rate limited per connection against the network cutoff.
	if v.server.telemetryCutoffExceeded() {
		v.process = true
	} else {
		v.server.factory.opts.Stats.IncDir(stats.TypeTelemetry,
			stats.DetailRequestWithinProtectionCacheZone, stats.DirIn)
	}
}

func (v *realtimeVisitor) TelemetryAck(*messages.TelemetryAck) { v.process = true }

func (v *realtimeVisitor) BulkPull(*messages.BulkPull) {
	v.server.factory.opts.Stats.IncDir(stats.TypeDrop, stats.DetailBulkPull, stats.DirIn)
}
func (v *realtimeVisitor) BulkPullAccount(*messages.BulkPullAccount) {
	v.server.factory.opts.Stats.IncDir(stats.TypeDrop, stats.DetailBulkPullAccount, stats.DirIn)
}
func (v *realtimeVisitor) BulkPush(*messages.BulkPush) {
	v.server.factory.opts.Stats.IncDir(stats.TypeDrop, stats.DetailBulkPush, stats.DirIn)
}
func (v *realtimeVisitor) FrontierReq(*messages.FrontierReq) {
	v.server.factory.opts.Stats.IncDir(stats.TypeDrop, stats.DetailFrontierReq, stats.DirIn)
}

// bootstrapVisitor serves historical data on a bootstrap connection. A
// serving stream takes ownership of the socket: it runs inline in the read
// loop, so no new messages are read until it finishes. Realtime messages
// are ignored in this mode.
type bootstrapVisitor struct {
	messages.NopVisitor
	server *Server
	ctx    context.Context
}

func (v *bootstrapVisitor) BulkPull(m *messages.BulkPull) {
	if v.server.factory.opts.Flags.DisableBootstrapBulkPull {
		return
	}
	srv := &bulkPullServer{server: v.server, request: m}
	srv.serve(v.ctx)
}

func (v *bootstrapVisitor) BulkPullAccount(m *messages.BulkPullAccount) {
	srv := &bulkPullAccountServer{server: v.server, request: m}
	srv.serve(v.ctx)
}

func (v *bootstrapVisitor) BulkPush(*messages.BulkPush) {
	srv := &bulkPushServer{server: v.server}
	srv.serve(v.ctx)
}

func (v *bootstrapVisitor) FrontierReq(m *messages.FrontierReq) {
	srv := &frontierReqServer{server: v.server, request: m}
	srv.serve(v.ctx)
}
