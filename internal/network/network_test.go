package network

import (
	"fmt"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/internal/stats"
)

func newTestNetwork(t *testing.T) *Network {
	t.Helper()
	return New(Options{
		Constants: config.DevNetwork(),
		Stats:     stats.New(),
	})
}

// addTestChannel registers a channel with a fabricated remote address,
// bypassing admission, so table behavior can be tested without sockets.
func addTestChannel(t *testing.T, n *Network, remote netip.AddrPort, mode ChannelMode) *Channel {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	channel := &Channel{
		id:                 ChannelID(n.nextID.Add(1)),
		conn:               server,
		direction:          DirInbound,
		stats:              n.stats,
		remoteAddr:         remote,
		localAddr:          netip.MustParseAddrPort("[::1]:7071"),
		mode:               mode,
		lastPacketSent:     time.Now(),
		lastPacketReceived: time.Now(),
	}
	n.mu.Lock()
	n.channels[channel.id] = channel
	n.byRemote[remote] = append(n.byRemote[remote], channel.id)
	n.mu.Unlock()
	return channel
}

func testEndpoint(i int) netip.AddrPort {
	return netip.MustParseAddrPort(fmt.Sprintf("[2001:db8:%x::1]:7071", i+1))
}

// With 49 realtime channels the fanout sample is exactly 7 distinct
// channels.
func TestFanoutSquareRoot(t *testing.T) {
	n := newTestNetwork(t)
	for i := 0; i < 49; i++ {
		addTestChannel(t, n, testEndpoint(i), ModeRealtime)
	}

	if got := n.Fanout(1.0); got != 7 {
		t.Fatalf("Fanout(1.0) = %d, want 7", got)
	}

	sample := n.RandomFanoutRealtime(1.0)
	if len(sample) != 7 {
		t.Fatalf("RandomFanoutRealtime(1.0) = %d channels, want 7", len(sample))
	}

	seen := make(map[ChannelID]bool)
	for _, channel := range sample {
		if seen[channel.ID()] {
			t.Fatal("fanout sample contains duplicates")
		}
		seen[channel.ID()] = true
	}
}

func TestFanoutScaling(t *testing.T) {
	n := newTestNetwork(t)
	for i := 0; i < 16; i++ {
		addTestChannel(t, n, testEndpoint(i), ModeRealtime)
	}

	if got := n.Fanout(1.0); got != 4 {
		t.Errorf("Fanout(1.0) = %d, want 4", got)
	}
	if got := n.Fanout(0.5); got != 2 {
		t.Errorf("Fanout(0.5) = %d, want 2", got)
	}
	if got := n.Fanout(2.0); got != 8 {
		t.Errorf("Fanout(2.0) = %d, want 8", got)
	}
}

// Admission monotonicity: at the per-IP cap, inbound connections from that
// address are rejected.
func TestAdmissionMaxPerIP(t *testing.T) {
	n := newTestNetwork(t)
	addr := netip.MustParseAddr("2001:db8:77::1")

	for i := 0; i < n.constants.MaxPeersPerIP; i++ {
		remote := netip.AddrPortFrom(addr, uint16(10000+i))
		addTestChannel(t, n, remote, ModeRealtime)
	}

	result := n.CanAddConnection(netip.AddrPortFrom(addr, 20000), DirInbound, ModeUndefined)
	if result != Rejected {
		t.Errorf("CanAddConnection(at cap) = %v, want Rejected", result)
	}

	other := netip.MustParseAddrPort("[2001:db9::1]:7071")
	if result := n.CanAddConnection(other, DirInbound, ModeUndefined); result != Accepted {
		t.Errorf("CanAddConnection(other ip) = %v, want Accepted", result)
	}
}

func TestAdmissionSubnetCap(t *testing.T) {
	n := newTestNetwork(t)

	// Different hosts within one /64.
	for i := 0; i < n.constants.MaxPeersPerSubnetwork; i++ {
		remote := netip.MustParseAddrPort(fmt.Sprintf("[2001:db8:1:1::%x]:7071", i+1))
		addTestChannel(t, n, remote, ModeRealtime)
	}

	same := netip.MustParseAddrPort("[2001:db8:1:1::ffff]:7071")
	if result := n.CanAddConnection(same, DirInbound, ModeUndefined); result != Rejected {
		t.Errorf("CanAddConnection(same /64 at cap) = %v, want Rejected", result)
	}

	different := netip.MustParseAddrPort("[2001:db8:1:2::1]:7071")
	if result := n.CanAddConnection(different, DirInbound, ModeUndefined); result != Accepted {
		t.Errorf("CanAddConnection(other /64) = %v, want Accepted", result)
	}
}

func TestAdmissionExcluded(t *testing.T) {
	n := newTestNetwork(t)
	addr := netip.MustParseAddr("2001:db8::e")

	for i := 0; i < excludedScoreThreshold; i++ {
		n.Excluded.PeerMisbehaved(addr)
	}

	result := n.CanAddConnection(netip.AddrPortFrom(addr, 7071), DirInbound, ModeUndefined)
	if result != Rejected {
		t.Errorf("CanAddConnection(excluded) = %v, want Rejected", result)
	}
}

func TestAdmissionDoubleConnect(t *testing.T) {
	n := newTestNetwork(t)
	remote := testEndpoint(0)
	addTestChannel(t, n, remote, ModeRealtime)

	if result := n.CanAddConnection(remote, DirOutbound, ModeRealtime); result != Rejected {
		t.Errorf("CanAddConnection(duplicate outbound) = %v, want Rejected", result)
	}
}

func TestAdmissionRejectsWhenStopped(t *testing.T) {
	n := newTestNetwork(t)
	n.Stop()
	if result := n.CanAddConnection(testEndpoint(0), DirInbound, ModeUndefined); result != Rejected {
		t.Errorf("CanAddConnection(stopped) = %v, want Rejected", result)
	}
}

func TestPurgeDropsIdleChannels(t *testing.T) {
	n := newTestNetwork(t)
	idle := addTestChannel(t, n, testEndpoint(0), ModeRealtime)
	fresh := addTestChannel(t, n, testEndpoint(1), ModeRealtime)

	idle.mu.Lock()
	idle.lastPacketReceived = time.Now().Add(-time.Hour)
	idle.mu.Unlock()

	purged := n.Purge(time.Now().Add(-time.Minute))
	if len(purged) != 1 || purged[0] != idle.ID() {
		t.Fatalf("Purge() = %v, want [%d]", purged, idle.ID())
	}
	if _, ok := n.Get(idle.ID()); ok {
		t.Error("purged channel still registered")
	}
	if _, ok := n.Get(fresh.ID()); !ok {
		t.Error("fresh channel was purged")
	}
	if idle.IsAlive() {
		t.Error("purged channel still alive")
	}
}

func TestKeepaliveList(t *testing.T) {
	n := newTestNetwork(t)
	stale := addTestChannel(t, n, testEndpoint(0), ModeRealtime)
	addTestChannel(t, n, testEndpoint(1), ModeRealtime)

	stale.mu.Lock()
	stale.lastPacketSent = time.Now().Add(-time.Minute)
	stale.mu.Unlock()

	list := n.KeepaliveList()
	if len(list) != 1 || list[0].ID() != stale.ID() {
		t.Errorf("KeepaliveList() = %d channels, want the stale one", len(list))
	}
}

func TestRandomFillPeeringEndpoints(t *testing.T) {
	n := newTestNetwork(t)
	a := addTestChannel(t, n, testEndpoint(0), ModeRealtime)
	b := addTestChannel(t, n, testEndpoint(1), ModeRealtime)
	n.SetPeeringAddr(a.ID(), testEndpoint(10))
	n.SetPeeringAddr(b.ID(), testEndpoint(11))
	// A third realtime channel without a peering address is not advertised.
	addTestChannel(t, n, testEndpoint(2), ModeRealtime)

	endpoints := make([]netip.AddrPort, 3)
	n.RandomFillPeeringEndpoints(endpoints)

	found := map[netip.AddrPort]bool{}
	for _, endpoint := range endpoints {
		found[endpoint] = true
	}
	if !found[testEndpoint(10)] || !found[testEndpoint(11)] {
		t.Errorf("endpoints = %v, want both peering addrs", endpoints)
	}
	null := netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
	if !found[null] {
		t.Errorf("endpoints = %v, want one null slot", endpoints)
	}
}

func TestUpgradeToRealtime(t *testing.T) {
	n := newTestNetwork(t)
	channel := addTestChannel(t, n, testEndpoint(0), ModeUndefined)
	nodeID := core.PublicKey{0xab}

	if !n.UpgradeToRealtime(channel.ID(), nodeID) {
		t.Fatal("UpgradeToRealtime() = false")
	}
	if channel.Mode() != ModeRealtime {
		t.Errorf("mode = %v, want realtime", channel.Mode())
	}
	if got, ok := channel.NodeID(); !ok || got != nodeID {
		t.Errorf("NodeID() = %v, %v", got, ok)
	}

	// Same node id from the same subnet is refused.
	dup := addTestChannel(t, n, netip.MustParseAddrPort("[2001:db8:1::2]:9999"), ModeUndefined)
	if n.UpgradeToRealtime(dup.ID(), nodeID) {
		t.Error("UpgradeToRealtime(duplicate same subnet) = true")
	}

	// Same node id from a different subnet is allowed.
	other := addTestChannel(t, n, netip.MustParseAddrPort("[2001:db8:2::2]:9999"), ModeUndefined)
	if !n.UpgradeToRealtime(other.ID(), nodeID) {
		t.Error("UpgradeToRealtime(different subnet) = false")
	}
}

func TestLimiterShouldPass(t *testing.T) {
	limiter := NewOutboundLimiter(1000, 1.0)

	if !limiter.ShouldPass(800, TrafficGeneric) {
		t.Fatal("ShouldPass(800) = false on a full bucket")
	}
	if limiter.ShouldPass(800, TrafficGeneric) {
		t.Fatal("ShouldPass(second 800) = true, bucket should be drained")
	}
	// The bootstrap class has its own budget.
	if !limiter.ShouldPass(400, TrafficBootstrap) {
		t.Error("ShouldPass(bootstrap) = false, classes should be independent")
	}
}

func TestLimiterDisabled(t *testing.T) {
	var limiter *OutboundLimiter
	if !limiter.ShouldPass(1<<30, TrafficGeneric) {
		t.Error("nil limiter should always pass")
	}
}

func TestExcludedPeersScoring(t *testing.T) {
	excluded := NewExcludedPeers()
	addr := netip.MustParseAddr("2001:db8::1")

	for i := 0; i < excludedScoreThreshold-1; i++ {
		excluded.PeerMisbehaved(addr)
		if excluded.IsExcluded(addr) {
			t.Fatalf("excluded after %d strikes, threshold is %d", i+1, excludedScoreThreshold)
		}
	}
	excluded.PeerMisbehaved(addr)
	if !excluded.IsExcluded(addr) {
		t.Error("not excluded at threshold")
	}

	other := netip.MustParseAddr("2001:db8::2")
	excluded.PermaBan(other)
	if !excluded.IsExcluded(other) {
		t.Error("perma-banned address not excluded")
	}
}

func TestSynCookies(t *testing.T) {
	cookies := NewSynCookies()
	endpoint := netip.MustParseAddrPort("[2001:db8::5]:7071")

	cookie, ok := cookies.Assign(endpoint)
	if !ok {
		t.Fatal("Assign() = false")
	}

	key, err := core.PrivateKeyFromBytes(make([]byte, 32))
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error = %v", err)
	}
	nodeID, _ := key.PublicKey()
	sig, err := key.Sign(cookie[:])
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if !cookies.Validate(endpoint, nodeID, sig) {
		t.Fatal("Validate() = false for a correctly signed cookie")
	}
	// The cookie is consumed.
	if cookies.Validate(endpoint, nodeID, sig) {
		t.Error("Validate() = true for a consumed cookie")
	}
}
