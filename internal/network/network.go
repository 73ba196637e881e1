package network

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/internal/messages"
	"github.com/stjet/gobanano/internal/stats"
	"github.com/stjet/gobanano/pkg/logging"
)

// AcceptResult is the outcome of admission control.
type AcceptResult uint8

const (
	Accepted AcceptResult = iota
	Rejected
	Invalid
	Error
)

func (r AcceptResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Invalid:
		return "invalid"
	default:
		return "error"
	}
}

// ErrConnectionRejected is returned by Add when admission control refuses.
var ErrConnectionRejected = errors.New("connection rejected")

// Network owns all peer channels and their indexes. One coarse lock guards
// the channel table; iteration under the lock performs no I/O. Channels
// reference the network only through their ChannelID.
type Network struct {
	constants config.NetworkConstants
	flags     config.NodeFlags
	stats     *stats.Stats
	limiter   *OutboundLimiter
	log       *logging.Logger
	onChannelAccepted func(ChannelID, core.PublicKey)

	Excluded *ExcludedPeers
	Cookies  *SynCookies

	stopped atomic.Bool
	nextID  atomic.Uint64

	mu         sync.Mutex
	channels   map[ChannelID]*Channel
	byRemote   map[netip.AddrPort][]ChannelID
	byPeering  map[netip.AddrPort][]ChannelID
	byNodeID   map[core.PublicKey][]ChannelID
}

// Options configures a Network.
type Options struct {
	Constants config.NetworkConstants
	Flags     config.NodeFlags
	Stats     *stats.Stats
	Limiter   *OutboundLimiter

	// OnChannelAccepted observes realtime upgrades. It receives only the
	// channel id, never a channel reference.
	OnChannelAccepted func(ChannelID, core.PublicKey)
}

// New creates an empty network manager.
func New(opts Options) *Network {
	return &Network{
		constants:         opts.Constants,
		flags:             opts.Flags,
		stats:             opts.Stats,
		limiter:           opts.Limiter,
		onChannelAccepted: opts.OnChannelAccepted,
		log:               logging.GetDefault().Component("network"),
		Excluded:  NewExcludedPeers(),
		Cookies:   NewSynCookies(),
		channels:  make(map[ChannelID]*Channel),
		byRemote:  make(map[netip.AddrPort][]ChannelID),
		byPeering: make(map[netip.AddrPort][]ChannelID),
		byNodeID:  make(map[core.PublicKey][]ChannelID),
	}
}

// Stop halts admission and closes every channel. Loops observing the
// network stop at their next suspension point.
func (n *Network) Stop() {
	if n.stopped.Swap(true) {
		return
	}
	n.mu.Lock()
	channels := make([]*Channel, 0, len(n.channels))
	for _, c := range n.channels {
		channels = append(channels, c)
	}
	n.mu.Unlock()
	// Closing outside the lock: Close touches the socket.
	for _, c := range channels {
		c.Close()
	}
}

// IsStopped reports whether Stop was called.
func (n *Network) IsStopped() bool { return n.stopped.Load() }

// CanAddConnection runs admission control for a prospective connection.
func (n *Network) CanAddConnection(peerAddr netip.AddrPort, direction ChannelDirection, plannedMode ChannelMode) AcceptResult {
	if n.stopped.Load() {
		return Rejected
	}
	if n.Excluded.IsExcluded(peerAddr.Addr()) {
		n.stats.IncDir(stats.TypeTCPListener, stats.DetailExcluded, statsDir(direction))
		return Rejected
	}
	if direction == DirOutbound {
		return n.canAddOutbound(peerAddr, plannedMode)
	}
	return n.checkLimits(peerAddr, direction)
}

func (n *Network) canAddOutbound(peer netip.AddrPort, plannedMode ChannelMode) AcceptResult {
	if n.flags.DisableTCPRealtime {
		return Rejected
	}
	if n.notAPeer(peer) {
		return Invalid
	}
	if n.maxIPOrSubnetConnections(peer) {
		return Rejected
	}

	// Don't double-connect: an existing live channel to this peer in the
	// planned mode (or still undefined) makes a new dial redundant.
	n.mu.Lock()
	duplicate := n.anyChannelLocked(n.byRemote[peer], plannedMode) ||
		n.anyChannelLocked(n.byPeering[peer], plannedMode)
	n.mu.Unlock()
	if duplicate {
		n.stats.IncDir(stats.TypeTCPListener, stats.DetailConnectRejected, stats.DirOut)
		return Rejected
	}

	n.stats.IncDir(stats.TypeTCPListener, stats.DetailConnectInitiate, stats.DirOut)
	return Accepted
}

func (n *Network) anyChannelLocked(ids []ChannelID, plannedMode ChannelMode) bool {
	for _, id := range ids {
		c, ok := n.channels[id]
		if !ok || !c.IsAlive() {
			continue
		}
		mode := c.Mode()
		if mode == plannedMode || mode == ModeUndefined {
			return true
		}
	}
	return false
}

func (n *Network) checkLimits(peer netip.AddrPort, direction ChannelDirection) AcceptResult {
	if n.maxIPOrSubnetConnections(peer) {
		return Rejected
	}
	if direction == DirInbound && n.CountByDirection(DirInbound) >= n.constants.MaxInboundConnections {
		n.stats.IncDir(stats.TypeTCPListener, stats.DetailAcceptRejected, stats.DirIn)
		return Rejected
	}
	return Accepted
}

// notAPeer rejects invalid, unspecified, and (unless allowed) loopback
// addresses: nodes must not dial themselves.
func (n *Network) notAPeer(peer netip.AddrPort) bool {
	addr := peer.Addr().Unmap()
	if !addr.IsValid() || peer.Port() == 0 {
		return true
	}
	if addr.IsUnspecified() || addr.IsMulticast() {
		return true
	}
	if !n.flags.AllowLocalPeers && addr.IsLoopback() {
		return true
	}
	return false
}

func (n *Network) maxIPOrSubnetConnections(peer netip.AddrPort) bool {
	addr := peer.Addr().Unmap()
	if !n.flags.DisableMaxPeersPerIP {
		if n.CountByIP(addr) >= n.constants.MaxPeersPerIP {
			n.stats.IncDir(stats.TypeTCP, stats.DetailMaxPerIP, stats.DirOut)
			return true
		}
	}
	if !n.flags.DisableMaxPeersPerSubnetwork {
		if n.CountBySubnet(mapAddressToSubnet(addr)) >= n.constants.MaxPeersPerSubnetwork {
			n.stats.IncDir(stats.TypeTCP, stats.DetailMaxPerSubnetwork, stats.DirOut)
			return true
		}
	}
	return false
}

// Add admits an established connection and registers its channel.
func (n *Network) Add(conn net.Conn, direction ChannelDirection, plannedMode ChannelMode) (*Channel, error) {
	peerAddr := addrPortOf(conn.RemoteAddr())
	localAddr := addrPortOf(conn.LocalAddr())

	result := n.CanAddConnection(peerAddr, direction, plannedMode)
	if result != Accepted {
		n.stats.IncDir(stats.TypeTCPListener, stats.DetailAcceptRejected, statsDir(direction))
		if direction == DirOutbound {
			n.stats.IncDir(stats.TypeTCPListener, stats.DetailConnectFailure, stats.DirOut)
		}
		n.log.Debug("Rejected connection", "peer", peerAddr, "direction", direction, "result", result)
		return nil, ErrConnectionRejected
	}
	n.stats.IncDir(stats.TypeTCPListener, stats.DetailAcceptSuccess, statsDir(direction))
	if direction == DirOutbound {
		n.stats.IncDir(stats.TypeTCPListener, stats.DetailConnectSuccess, stats.DirOut)
	}

	channel := &Channel{
		id:                 ChannelID(n.nextID.Add(1)),
		conn:               conn,
		direction:          direction,
		stats:              n.stats,
		limiter:            n.limiter,
		remoteAddr:         peerAddr,
		localAddr:          localAddr,
		lastPacketSent:     time.Now(),
		lastPacketReceived: time.Now(),
	}

	n.mu.Lock()
	n.channels[channel.id] = channel
	n.byRemote[peerAddr] = append(n.byRemote[peerAddr], channel.id)
	n.mu.Unlock()

	n.log.Debug("Accepted connection", "peer", peerAddr, "direction", direction, "channel", channel.id)
	return channel, nil
}

// Get returns a channel by id.
func (n *Network) Get(id ChannelID) (*Channel, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.channels[id]
	return c, ok
}

// SetPeeringAddr records the port a peer listens on and indexes it.
func (n *Network) SetPeeringAddr(id ChannelID, peering netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.channels[id]
	if !ok {
		return
	}
	c.mu.Lock()
	old := c.peeringAddr
	c.peeringAddr = peering
	c.mu.Unlock()
	if old.IsValid() {
		n.byPeering[old] = removeID(n.byPeering[old], id)
	}
	n.byPeering[peering] = append(n.byPeering[peering], id)
}

// UpgradeToRealtime switches a handshaken channel into realtime mode.
// Duplicate node ids are allowed only from different subnets.
func (n *Network) UpgradeToRealtime(id ChannelID, nodeID core.PublicKey) bool {
	if n.stopped.Load() {
		return false
	}

	n.mu.Lock()
	channel, ok := n.channels[id]
	if !ok {
		n.mu.Unlock()
		return false
	}

	for _, otherID := range n.byNodeID[nodeID] {
		other, ok := n.channels[otherID]
		if !ok || !other.IsAlive() {
			continue
		}
		if mapAddressToSubnet(other.RemoteAddr().Addr()) == mapAddressToSubnet(channel.RemoteAddr().Addr()) {
			n.mu.Unlock()
			n.log.Debug("Not upgrading: duplicate node id from same subnet",
				"channel", id, "node_id", nodeID)
			return false
		}
	}

	channel.mu.Lock()
	channel.nodeID = &nodeID
	channel.mode = ModeRealtime
	channel.mu.Unlock()
	n.byNodeID[nodeID] = append(n.byNodeID[nodeID], id)
	n.mu.Unlock()

	n.stats.Inc(stats.TypeTCPChannels, stats.DetailChannelAccepted)
	n.log.Debug("Switched to realtime mode", "peer", channel.RemoteAddr(), "node_id", nodeID)
	if n.onChannelAccepted != nil {
		n.onChannelAccepted(id, nodeID)
	}
	return true
}

// ListRealtime returns live realtime channels at or above a protocol
// version.
func (n *Network) ListRealtime(minVersion uint8) []*Channel {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*Channel
	for _, c := range n.channels {
		if c.IsAlive() && c.Mode() == ModeRealtime && c.ProtocolVersion() >= minVersion {
			out = append(out, c)
		}
	}
	return out
}

// LenSqrt is the square root of the realtime channel count.
func (n *Network) LenSqrt() float64 {
	return math.Sqrt(float64(n.CountByMode(ModeRealtime)))
}

// Fanout is the gossip sample size: ceil(sqrt(realtime) * scale). Broadcast
// to sqrt(n) random peers reaches everyone with high probability under the
// lattice's gossip model.
func (n *Network) Fanout(scale float64) int {
	return int(math.Ceil(n.LenSqrt() * scale))
}

// RandomFanoutRealtime samples Fanout(scale) distinct realtime channels
// uniformly without replacement.
func (n *Network) RandomFanoutRealtime(scale float64) []*Channel {
	channels := n.ListRealtime(0)
	rand.Shuffle(len(channels), func(i, j int) {
		channels[i], channels[j] = channels[j], channels[i]
	})
	count := n.Fanout(scale)
	if count < len(channels) {
		channels = channels[:count]
	}
	return channels
}

// RandomFillPeeringEndpoints fills the slice with distinct random realtime
// peering endpoints, leaving the remainder as the unspecified endpoint.
func (n *Network) RandomFillPeeringEndpoints(endpoints []netip.AddrPort) {
	peers := n.ListRealtime(0)
	withPeering := peers[:0]
	for _, c := range peers {
		if _, ok := c.PeeringAddr(); ok {
			withPeering = append(withPeering, c)
		}
	}
	rand.Shuffle(len(withPeering), func(i, j int) {
		withPeering[i], withPeering[j] = withPeering[j], withPeering[i]
	})

	null := netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
	for i := range endpoints {
		if i < len(withPeering) {
			endpoints[i], _ = withPeering[i].PeeringAddr()
		} else {
			endpoints[i] = null
		}
	}
}

// CreateKeepalive builds a keepalive with up to eight random peering
// endpoints.
func (n *Network) CreateKeepalive() *messages.Keepalive {
	m := &messages.Keepalive{}
	var endpoints [messages.KeepalivePeers]netip.AddrPort
	n.RandomFillPeeringEndpoints(endpoints[:])
	m.Peers = endpoints
	return m
}

// KeepaliveList returns realtime channels whose last send is older than the
// keepalive period.
func (n *Network) KeepaliveList() []*Channel {
	cutoff := time.Now().Add(-n.constants.KeepalivePeriod)
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*Channel
	for _, c := range n.channels {
		if c.IsAlive() && c.Mode() == ModeRealtime && c.LastPacketSent().Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

// Purge closes and drops channels whose last receive predates the cutoff,
// returning their ids so higher layers can clean associated state. Dead
// channels are dropped regardless of age.
func (n *Network) Purge(cutoff time.Time) []ChannelID {
	n.mu.Lock()
	var purged []ChannelID
	var toClose []*Channel
	for id, c := range n.channels {
		if c.IsAlive() && !c.LastPacketReceived().Before(cutoff) {
			continue
		}
		purged = append(purged, id)
		toClose = append(toClose, c)
		n.removeLocked(id, c)
	}
	n.mu.Unlock()

	for _, c := range toClose {
		c.Close()
	}
	return purged
}

// Remove closes and unregisters one channel.
func (n *Network) Remove(id ChannelID) {
	n.mu.Lock()
	c, ok := n.channels[id]
	if ok {
		n.removeLocked(id, c)
	}
	n.mu.Unlock()
	if ok {
		c.Close()
	}
}

func (n *Network) removeLocked(id ChannelID, c *Channel) {
	delete(n.channels, id)
	n.byRemote[c.RemoteAddr()] = removeID(n.byRemote[c.RemoteAddr()], id)
	if peering, ok := c.PeeringAddr(); ok {
		n.byPeering[peering] = removeID(n.byPeering[peering], id)
	}
	if nodeID, ok := c.NodeID(); ok {
		n.byNodeID[nodeID] = removeID(n.byNodeID[nodeID], id)
	}
}

// PeerMisbehaved bans the channel's address per the sliding window and
// closes the channel.
func (n *Network) PeerMisbehaved(id ChannelID) {
	n.mu.Lock()
	c, ok := n.channels[id]
	n.mu.Unlock()
	if !ok {
		return
	}
	n.Excluded.PeerMisbehaved(c.RemoteAddr().Addr())
	n.log.Warn("Peer misbehaved", "peer", c.RemoteAddr(), "mode", c.Mode(), "direction", c.Direction())
	c.Close()
}

// CountByMode counts live channels in a mode.
func (n *Network) CountByMode(mode ChannelMode) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, c := range n.channels {
		if c.IsAlive() && c.Mode() == mode {
			count++
		}
	}
	return count
}

// CountByDirection counts live channels in a direction.
func (n *Network) CountByDirection(direction ChannelDirection) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, c := range n.channels {
		if c.IsAlive() && c.Direction() == direction {
			count++
		}
	}
	return count
}

// CountByIP counts live channels from one address.
func (n *Network) CountByIP(addr netip.Addr) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, c := range n.channels {
		if c.IsAlive() && c.RemoteAddr().Addr().Unmap() == addr {
			count++
		}
	}
	return count
}

// CountBySubnet counts live channels from one subnet.
func (n *Network) CountBySubnet(subnet netip.Prefix) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, c := range n.channels {
		if c.IsAlive() && mapAddressToSubnet(c.RemoteAddr().Addr()) == subnet {
			count++
		}
	}
	return count
}

// WaitForAvailableInboundSlot blocks until an inbound slot frees up or the
// network stops.
func (n *Network) WaitForAvailableInboundSlot(ctx context.Context) error {
	logged := time.Now()
	for n.CountByDirection(DirInbound) >= n.constants.MaxInboundConnections && !n.stopped.Load() {
		if time.Since(logged) >= 15*time.Second {
			n.log.Warn("Waiting for available inbound slots",
				"current", n.CountByDirection(DirInbound),
				"max", n.constants.MaxInboundConnections)
			logged = time.Now()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

// mapAddressToSubnet maps IPv6 addresses to their /64 and IPv4 addresses to
// themselves for the subnet cap.
func mapAddressToSubnet(addr netip.Addr) netip.Prefix {
	addr = addr.Unmap()
	if addr.Is4() {
		return netip.PrefixFrom(addr, 32)
	}
	prefix, _ := addr.Prefix(64)
	return prefix
}

func addrPortOf(addr net.Addr) netip.AddrPort {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.AddrPort()
	}
	if parsed, err := netip.ParseAddrPort(addr.String()); err == nil {
		return parsed
	}
	return netip.AddrPort{}
}

func removeID(ids []ChannelID, id ChannelID) []ChannelID {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func statsDir(direction ChannelDirection) stats.Direction {
	if direction == DirOutbound {
		return stats.DirOut
	}
	return stats.DirIn
}
