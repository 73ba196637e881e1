package node

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stjet/gobanano/internal/bootstrap"
	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/internal/ledger"
	"github.com/stjet/gobanano/internal/messages"
	"github.com/stjet/gobanano/internal/network"
	"github.com/stjet/gobanano/internal/stats"
	"github.com/stjet/gobanano/pkg/helpers"
	"github.com/stjet/gobanano/pkg/logging"
)

// purgePeriod is how often dead channels are swept.
const purgePeriod = 30 * time.Second

// Node assembles the core: ledger, network, response servers and the
// periodic loops. One context cancellation stops every loop at its next
// suspension point.
type Node struct {
	cfg       *config.Config
	constants config.NetworkConstants
	flags     config.NodeFlags

	Ledger  *ledger.Ledger
	Network *network.Network
	Stats   *stats.Stats

	nodeKey   core.PrivateKey
	factory   *bootstrap.Factory
	processor *BlockProcessor
	realtime  *RealtimeQueue
	deser     *messages.Deserializer
	filter    *messages.NetworkFilter
	uniquer   *core.Uniquer
	votes     *messages.VoteUniquer

	listener net.Listener
	log      *logging.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
}

// New creates a node over an opened ledger.
func New(ctx context.Context, cfg *config.Config, l *ledger.Ledger, st *stats.Stats, flags config.NodeFlags) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)

	constants := config.NetworkConstantsFor(cfg.Network)

	n := &Node{
		cfg:       cfg,
		constants: constants,
		flags:     flags,
		Ledger:    l,
		Stats:     st,
		log:       logging.GetDefault().Component("node"),
		ctx:       ctx,
		cancel:    cancel,
	}

	key, err := n.loadOrCreateNodeKey()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load/create node key: %w", err)
	}
	n.nodeKey = key

	limiter := network.NewOutboundLimiter(cfg.Node.BandwidthLimit, cfg.Node.BandwidthBurstRatio)
	n.Network = network.New(network.Options{
		Constants: constants,
		Flags:     flags,
		Stats:     st,
		Limiter:   limiter,
	})

	n.filter = messages.NewNetworkFilter(0)
	n.uniquer = core.NewUniquer()
	n.votes = messages.NewVoteUniquer()
	n.deser = messages.NewDeserializer(constants.Protocol, n.filter, n.uniquer, n.votes)

	n.processor = newBlockProcessor(l, n.Network, st)
	n.realtime = newRealtimeQueue(st)

	n.factory = bootstrap.NewFactory(bootstrap.Options{
		Network:        n.Network,
		Ledger:         l,
		Stats:          st,
		Constants:      constants,
		Flags:          flags,
		NodeKey:        key,
		Realtime:       n.realtime,
		PushBlock:      func(block core.Block, ch network.ChannelID) { n.processor.Add(block, ch) },
		ConnectionsMax: int64(cfg.Node.BootstrapConnectionsMax),
		Deserializer:   n.deser,
	})

	return n, nil
}

// NodeID returns this node's public identity.
func (n *Node) NodeID() (core.PublicKey, error) {
	return n.nodeKey.PublicKey()
}

func (n *Node) loadOrCreateNodeKey() (core.PrivateKey, error) {
	dataDir := config.ExpandPath(n.cfg.Storage.DataDir)
	keyPath := filepath.Join(dataDir, "node_id_private.key")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return core.PrivateKey{}, err
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		raw, err := helpersHexKey(string(data))
		if err == nil {
			return raw, nil
		}
		n.log.Warn("Unreadable node key, generating a new identity", "error", err)
	}

	key, err := core.GenerateKey()
	if err != nil {
		return core.PrivateKey{}, err
	}
	if err := os.WriteFile(keyPath, []byte(fmt.Sprintf("%X", key[:])), 0600); err != nil {
		return core.PrivateKey{}, err
	}
	n.log.Info("Generated new node identity")
	return key, nil
}

// Start opens the listener and launches the loops.
func (n *Node) Start() error {
	n.startTime = time.Now()

	listenAddr := n.cfg.Node.ListenAddr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("[::]:%d", n.constants.DefaultPeeringPort)
	}
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}
	n.listener = listener
	n.log.Info("Listening for peers", "addr", listener.Addr())

	n.processor.start(n.ctx, n)

	n.wg.Add(4)
	go n.acceptLoop()
	go n.realtimeLoop()
	go n.keepaliveLoop()
	go n.purgeLoop()

	for _, peer := range n.cfg.Node.PreconfiguredPeers {
		go n.ConnectTo(peer)
	}
	n.connectToCachedPeers()

	return nil
}

// Stop cancels every loop and closes the ledger-independent resources.
// In-flight writes complete; future ones short-circuit.
func (n *Node) Stop() {
	n.cancel()
	if n.listener != nil {
		_ = n.listener.Close()
	}
	n.Network.Stop()
	n.realtime.close()
	n.wg.Wait()
	n.processor.wait()
	n.log.Info("Node stopped", "uptime", time.Since(n.startTime).Round(time.Second))
}

// Uptime reports how long the node has been running.
func (n *Node) Uptime() time.Duration {
	return time.Since(n.startTime)
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		if err := n.Network.WaitForAvailableInboundSlot(n.ctx); err != nil {
			return
		}

		conn, err := n.listener.Accept()
		if err != nil {
			if n.ctx.Err() != nil || n.Network.IsStopped() {
				return
			}
			n.log.Warn("Accept failed", "error", err)
			continue
		}

		channel, err := n.Network.Add(conn, network.DirInbound, network.ModeUndefined)
		if err != nil {
			_ = conn.Close()
			continue
		}

		server := n.factory.NewServer(channel)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			server.Run(n.ctx)
		}()
	}
}

// ConnectTo dials a peer and initiates the node id handshake.
func (n *Node) ConnectTo(addr string) {
	peerAddr, err := netip.ParseAddrPort(addr)
	if err != nil {
		n.log.Warn("Invalid peer address", "addr", addr, "error", err)
		return
	}

	if n.Network.CanAddConnection(peerAddr, network.DirOutbound, network.ModeRealtime) != network.Accepted {
		return
	}

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(n.ctx, "tcp", addr)
	if err != nil {
		n.log.Debug("Failed to connect to peer", "addr", addr, "error", err)
		n.Stats.IncDir(stats.TypeTCPListener, stats.DetailConnectFailure, stats.DirOut)
		return
	}

	channel, err := n.Network.Add(conn, network.DirOutbound, network.ModeRealtime)
	if err != nil {
		_ = conn.Close()
		return
	}
	n.Network.SetPeeringAddr(channel.ID(), peerAddr)

	// Challenge the peer; its response upgrades the channel to realtime.
	cookie, ok := n.Network.Cookies.Assign(channel.RemoteAddr())
	if ok {
		handshake := &messages.NodeIDHandshake{Query: &messages.HandshakeQuery{Cookie: cookie}}
		if buffer, err := messages.Serialize(handshake, n.constants.Protocol); err == nil {
			channel.TrySend(buffer, network.DropPolicyShouldNotDrop, network.TrafficGeneric)
		}
	}

	server := n.factory.NewServer(channel)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		server.Run(n.ctx)
	}()
}

func (n *Node) connectToCachedPeers() {
	peers, err := n.Ledger.Store().Peers()
	if err != nil {
		n.log.Warn("Failed to load cached peers", "error", err)
		return
	}
	for addr := range peers {
		go n.ConnectTo(addr)
	}
}

// realtimeLoop drains the realtime queue.
func (n *Node) realtimeLoop() {
	defer n.wg.Done()
	handler := &realtimeHandler{node: n}
	for {
		item, ok := n.realtime.next(n.ctx)
		if !ok {
			return
		}
		handler.channel = item.channel
		item.msg.Visit(handler)
	}
}

// keepaliveLoop periodically pings stale realtime channels with random
// peering endpoints.
func (n *Node) keepaliveLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.constants.KeepalivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			stale := n.Network.KeepaliveList()
			if len(stale) == 0 {
				continue
			}
			keepalive := n.Network.CreateKeepalive()
			buffer, err := messages.Serialize(keepalive, n.constants.Protocol)
			if err != nil {
				continue
			}
			for _, channel := range stale {
				channel.TrySend(buffer, network.DropPolicyCanDrop, network.TrafficGeneric)
			}
		}
	}
}

// purgeLoop sweeps channels that have gone silent past the idle cutoff and
// expires stale handshake cookies.
func (n *Node) purgeLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(purgePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-n.constants.IdleCutoff)
			purged := n.Network.Purge(cutoff)
			if len(purged) > 0 {
				n.log.Debug("Purged channels", "count", len(purged))
			}
			n.Network.Cookies.PurgeExpired()
		}
	}
}

func helpersHexKey(s string) (core.PrivateKey, error) {
	var raw [32]byte
	if err := helpers.HexToFixed(strings.TrimSpace(s), raw[:]); err != nil {
		return core.PrivateKey{}, err
	}
	return core.PrivateKeyFromBytes(raw[:])
}
