// Package network manages peer connections: per-channel send/receive state,
// admission control, gossip fanout sampling, keepalive scheduling and
// purging of dead channels.
package network

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/internal/stats"
)

// ChannelMode is the protocol a connection settled into.
type ChannelMode uint8

const (
	ModeUndefined ChannelMode = iota
	ModeBootstrap
	ModeRealtime
)

func (m ChannelMode) String() string {
	switch m {
	case ModeBootstrap:
		return "bootstrap"
	case ModeRealtime:
		return "realtime"
	default:
		return "undefined"
	}
}

// ChannelDirection records who initiated the connection.
type ChannelDirection uint8

const (
	DirInbound ChannelDirection = iota
	DirOutbound
)

func (d ChannelDirection) String() string {
	if d == DirOutbound {
		return "outbound"
	}
	return "inbound"
}

// DropPolicy controls what TrySend does when the limiter refuses.
type DropPolicy uint8

const (
	// DropPolicyCanDrop drops the message when the limiter refuses.
	DropPolicyCanDrop DropPolicy = iota
	// DropPolicyShouldNotDrop enqueues regardless of the limiter.
	DropPolicyShouldNotDrop
)

// TrafficType selects the bandwidth budget a send draws from.
type TrafficType uint8

const (
	TrafficGeneric TrafficType = iota
	TrafficBootstrap
)

// ChannelID identifies a channel for lookups and observer correlation.
type ChannelID uint64

// Channel binds one TCP connection. The network owns its channels; other
// components hold only the ChannelID back-reference.
type Channel struct {
	id        ChannelID
	conn      net.Conn
	direction ChannelDirection

	stats   *stats.Stats
	limiter *OutboundLimiter

	mu              sync.Mutex
	mode            ChannelMode
	nodeID          *core.PublicKey
	remoteAddr      netip.AddrPort
	localAddr       netip.AddrPort
	peeringAddr     netip.AddrPort
	protocolVersion uint8

	lastPacketSent     time.Time
	lastPacketReceived time.Time

	closed bool
}

// ID returns the channel id.
func (c *Channel) ID() ChannelID { return c.id }

// Direction returns who initiated the connection.
func (c *Channel) Direction() ChannelDirection { return c.direction }

// Mode returns the current channel mode.
func (c *Channel) Mode() ChannelMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode flips the channel mode. Realtime upgrades go through
// Network.UpgradeToRealtime instead so the node id index stays coherent.
func (c *Channel) SetMode(mode ChannelMode) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
}

// NodeID returns the handshaken node id, if any.
func (c *Channel) NodeID() (core.PublicKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodeID == nil {
		return core.PublicKey{}, false
	}
	return *c.nodeID, true
}

// RemoteAddr is the connection's remote endpoint; for inbound connections
// the port is ephemeral.
func (c *Channel) RemoteAddr() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAddr
}

// LocalAddr is the connection's local endpoint.
func (c *Channel) LocalAddr() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localAddr
}

// PeeringAddr is the port the peer listens on, learned from keepalives. The
// zero value means unknown.
func (c *Channel) PeeringAddr() (netip.AddrPort, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peeringAddr, c.peeringAddr.IsValid()
}

// ProtocolVersion returns the peer's announced protocol version.
func (c *Channel) ProtocolVersion() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocolVersion
}

// SetProtocolVersion records the peer's announced protocol version.
func (c *Channel) SetProtocolVersion(version uint8) {
	c.mu.Lock()
	c.protocolVersion = version
	c.mu.Unlock()
}

// LastPacketSent returns the most recent outbound activity.
func (c *Channel) LastPacketSent() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPacketSent
}

// LastPacketReceived returns the most recent inbound activity.
func (c *Channel) LastPacketReceived() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPacketReceived
}

// MarkReceived updates the inbound activity timestamp.
func (c *Channel) MarkReceived() {
	c.mu.Lock()
	c.lastPacketReceived = time.Now()
	c.mu.Unlock()
}

// IsAlive reports whether the channel has not been closed.
func (c *Channel) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close shuts the socket; pending reads unblock with an I/O error.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
}

// Conn exposes the socket for the per-connection read loop.
func (c *Channel) Conn() net.Conn { return c.conn }

// TrySend writes the serialized message without blocking on bandwidth: with
// DropPolicyCanDrop the message is dropped when the limiter refuses, with
// DropPolicyShouldNotDrop it is written regardless. Returns false when
// dropped or the channel is dead.
func (c *Channel) TrySend(buffer []byte, policy DropPolicy, traffic TrafficType) bool {
	if !c.IsAlive() {
		return false
	}
	if policy == DropPolicyCanDrop && c.limiter != nil && !c.limiter.ShouldPass(len(buffer), traffic) {
		c.stats.IncDir(stats.TypeDrop, stats.DetailOutboundDropped, stats.DirOut)
		return false
	}
	return c.write(buffer) == nil
}

// Send blocks (cooperatively, polling the limiter) until the bandwidth
// budget admits the buffer, then writes it.
func (c *Channel) Send(ctx context.Context, buffer []byte, traffic TrafficType) error {
	if c.limiter != nil {
		if err := c.limiter.WaitUntilAllowed(ctx, len(buffer), traffic); err != nil {
			return err
		}
	}
	if !c.IsAlive() {
		return fmt.Errorf("channel %d closed", c.id)
	}
	return c.write(buffer)
}

func (c *Channel) write(buffer []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	_, err := c.conn.Write(buffer)
	if err != nil {
		c.Close()
		return err
	}
	c.mu.Lock()
	c.lastPacketSent = time.Now()
	c.mu.Unlock()
	return nil
}
