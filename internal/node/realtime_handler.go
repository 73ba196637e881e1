package node

import (
	"time"

	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/internal/messages"
	"github.com/stjet/gobanano/internal/network"
	"github.com/stjet/gobanano/internal/stats"
)

// realtimeHandler consumes messages the response servers queued from
// realtime connections.
type realtimeHandler struct {
	messages.NopVisitor
	node    *Node
	channel network.ChannelID
}

func (h *realtimeHandler) Keepalive(m *messages.Keepalive) {
	store := h.node.Ledger.Store()
	for _, endpoint := range m.Peers {
		if !endpoint.IsValid() || endpoint.Port() == 0 || endpoint.Addr().IsUnspecified() {
			continue
		}
		addr := endpoint.String()
		if err := store.PutPeer(addr, time.Now()); err != nil {
			h.node.log.Debug("Failed to cache peer", "addr", addr, "error", err)
		}
	}

	// The first advertised endpoint that shares the sender's address is its
	// peering address.
	if channel, ok := h.node.Network.Get(h.channel); ok {
		if _, known := channel.PeeringAddr(); !known {
			remote := channel.RemoteAddr().Addr().Unmap()
			for _, endpoint := range m.Peers {
				if endpoint.Port() != 0 && endpoint.Addr().Unmap() == remote {
					h.node.Network.SetPeeringAddr(h.channel, endpoint)
					break
				}
			}
		}
	}
}

func (h *realtimeHandler) Publish(m *messages.Publish) {
	h.node.processor.Add(m.Block, h.channel)
}

func (h *realtimeHandler) ConfirmReq(m *messages.ConfirmReq) {
	// Vote production belongs to the consensus service; the core only
	// accounts for the request.
	h.node.Stats.IncDir(stats.TypeMessage, stats.DetailConfirmReq, stats.DirIn)
}

func (h *realtimeHandler) ConfirmAck(m *messages.ConfirmAck) {
	if !m.Vote.Validate() {
		if channel, ok := h.node.Network.Get(h.channel); ok {
			h.node.Network.Excluded.PeerMisbehaved(channel.RemoteAddr().Addr())
		}
		return
	}
	// Tallying is the consensus service's job; confirmed hashes come back
	// through Ledger.Confirm.
	h.node.Stats.IncDir(stats.TypeMessage, stats.DetailConfirmAck, stats.DirIn)
}

func (h *realtimeHandler) TelemetryReq(*messages.TelemetryReq) {
	nodeID, err := h.node.NodeID()
	if err != nil {
		return
	}
	ack := &messages.TelemetryAck{Data: messages.TelemetryData{
		NodeID:          nodeID,
		BlockCount:      h.node.Ledger.BlockCount(),
		AccountCount:    h.node.Ledger.AccountCount(),
		BandwidthCap:    uint64(h.node.cfg.Node.BandwidthLimit),
		Uptime:          uint64(h.node.Uptime().Seconds()),
		PeerCount:       uint32(h.node.Network.CountByMode(network.ModeRealtime)),
		ProtocolVersion: h.node.constants.Protocol.VersionUsing,
		Genesis:         h.node.Ledger.Constants().GenesisBlock.Hash(),
		Timestamp:       uint64(time.Now().UnixMilli()),
	}}
	if err := ack.Data.Sign(h.node.nodeKey); err != nil {
		return
	}
	h.send(ack)
}

func (h *realtimeHandler) TelemetryAck(m *messages.TelemetryAck) {
	if !m.Data.Validate() {
		return
	}
	h.node.Stats.IncDir(stats.TypeTelemetry, stats.DetailTelemetryAck, stats.DirIn)
}

func (h *realtimeHandler) AscPullReq(m *messages.AscPullReq) {
	switch m.PullType {
	case messages.AscPullBlocks:
		h.serveAscPullBlocks(m)
	case messages.AscPullAccountInfo:
		h.serveAscPullAccountInfo(m)
	}
}

func (h *realtimeHandler) serveAscPullBlocks(m *messages.AscPullReq) {
	txn, err := h.node.Ledger.BeginRead()
	if err != nil {
		return
	}
	defer txn.Discard()

	count := int(m.Blocks.Count)
	if count <= 0 || count > messages.AscPullMaxBlocks {
		count = messages.AscPullMaxBlocks
	}

	// Resolve the start to the oldest requested block, then walk forward via
	// successor pointers.
	start := m.Blocks.Start
	if m.Blocks.StartType == messages.HashTypeAccount {
		info, err := txn.Account(core.Account(start))
		if err != nil || info == nil {
			h.send(messages.AckBlocks(m.ID, nil))
			return
		}
		start = info.OpenBlock
	}

	var blocks []core.Block
	current := start
	for len(blocks) < count && !current.IsZero() {
		block, err := txn.Block(current)
		if err != nil || block == nil {
			break
		}
		blocks = append(blocks, block)
		current = block.Sideband().Successor
	}
	h.send(messages.AckBlocks(m.ID, blocks))
}

func (h *realtimeHandler) serveAscPullAccountInfo(m *messages.AscPullReq) {
	txn, err := h.node.Ledger.BeginRead()
	if err != nil {
		return
	}
	defer txn.Discard()

	account := core.Account(m.Account.Target)
	if m.Account.TargetType == messages.HashTypeBlock {
		account, err = h.node.Ledger.AccountOf(txn, m.Account.Target)
		if err != nil {
			return
		}
	}

	payload := &messages.AccountInfoAckPayload{Account: account}
	if info, err := txn.Account(account); err == nil && info != nil {
		payload.AccountOpen = info.OpenBlock
		payload.AccountHead = info.Head
		payload.AccountBlockCount = info.BlockCount
		if conf, err := txn.ConfirmationHeight(account); err == nil {
			payload.AccountConfFrontier = conf.Frontier
			payload.AccountConfHeight = conf.Height
		}
	}
	h.send(messages.AckAccountInfo(m.ID, payload))
}

func (h *realtimeHandler) send(msg messages.Message) {
	channel, ok := h.node.Network.Get(h.channel)
	if !ok {
		return
	}
	buffer, err := messages.Serialize(msg, h.node.constants.Protocol)
	if err != nil {
		return
	}
	channel.TrySend(buffer, network.DropPolicyCanDrop, network.TrafficGeneric)
}
