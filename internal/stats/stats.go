// Package stats provides the node's counter registry. Counters are atomic
// and eventually consistent; they must never be read while holding the
// channel table lock.
package stats

import (
	"sync"
	"sync/atomic"
)

// StatType is the coarse counter category.
type StatType uint8

const (
	TypeError StatType = iota
	TypeMessage
	TypeBlock
	TypeLedger
	TypeRollback
	TypeTCP
	TypeTCPListener
	TypeTCPChannels
	TypeTCPServer
	TypeFilter
	TypeBootstrapServer
	TypeTelemetry
	TypeDrop
)

func (t StatType) String() string {
	switch t {
	case TypeError:
		return "error"
	case TypeMessage:
		return "message"
	case TypeBlock:
		return "block"
	case TypeLedger:
		return "ledger"
	case TypeRollback:
		return "rollback"
	case TypeTCP:
		return "tcp"
	case TypeTCPListener:
		return "tcp_listener"
	case TypeTCPChannels:
		return "tcp_channels"
	case TypeTCPServer:
		return "tcp_server"
	case TypeFilter:
		return "filter"
	case TypeBootstrapServer:
		return "bootstrap_server"
	case TypeTelemetry:
		return "telemetry"
	case TypeDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// DetailType is the fine counter category.
type DetailType uint8

const (
	DetailAll DetailType = iota

	// Message types.
	DetailKeepalive
	DetailPublish
	DetailConfirmReq
	DetailConfirmAck
	DetailBulkPull
	DetailBulkPullAccount
	DetailBulkPush
	DetailFrontierReq
	DetailNodeIDHandshake
	DetailTelemetryReq
	DetailTelemetryAck
	DetailAscPullReq
	DetailAscPullAck

	// Admission and listener outcomes.
	DetailAcceptSuccess
	DetailAcceptRejected
	DetailAcceptFailure
	DetailConnectInitiate
	DetailConnectSuccess
	DetailConnectFailure
	DetailConnectRejected
	DetailMaxPerIP
	DetailMaxPerSubnetwork
	DetailExcluded
	DetailChannelAccepted

	// Codec outcomes.
	DetailInvalidHeader
	DetailInvalidMessageType
	DetailInvalidBlockType
	DetailMessageSizeTooBig
	DetailDuplicatePublish

	// Ledger outcomes.
	DetailProcessed
	DetailForced
	DetailGapPrevious
	DetailGapSource
	DetailFork
	DetailOld
	DetailBadSignature
	DetailInsufficientWork

	// Rollback sub-types.
	DetailSend
	DetailReceive
	DetailOpen
	DetailChange
	DetailEpoch

	// Bandwidth limiter.
	DetailOutboundDropped

	// Telemetry.
	DetailRequestWithinProtectionCacheZone
)

// Direction distinguishes inbound from outbound traffic counters.
type Direction uint8

const (
	DirIn Direction = iota
	DirOut
)

type key struct {
	stat   StatType
	detail DetailType
	dir    Direction
}

// Stats is the counter registry.
type Stats struct {
	mu       sync.RWMutex
	counters map[key]*atomic.Uint64
}

// New creates an empty registry.
func New() *Stats {
	return &Stats{counters: make(map[key]*atomic.Uint64)}
}

func (s *Stats) counter(k key) *atomic.Uint64 {
	s.mu.RLock()
	c, ok := s.counters[k]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.counters[k]; ok {
		return c
	}
	c = &atomic.Uint64{}
	s.counters[k] = c
	return c
}

// Inc increments a counter by one with direction DirIn.
func (s *Stats) Inc(stat StatType, detail DetailType) {
	s.Add(stat, detail, DirIn, 1)
}

// IncDir increments a directional counter by one.
func (s *Stats) IncDir(stat StatType, detail DetailType, dir Direction) {
	s.Add(stat, detail, dir, 1)
}

// Add adds value to a counter.
func (s *Stats) Add(stat StatType, detail DetailType, dir Direction, value uint64) {
	if s == nil {
		return
	}
	s.counter(key{stat, detail, dir}).Add(value)
}

// Count returns the current value of a counter.
func (s *Stats) Count(stat StatType, detail DetailType, dir Direction) uint64 {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	c, ok := s.counters[key{stat, detail, dir}]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// Entry is one counter sample.
type Entry struct {
	Stat   StatType
	Detail DetailType
	Dir    Direction
	Value  uint64
}

// Sample snapshots all nonzero counters.
func (s *Stats) Sample() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.counters))
	for k, c := range s.counters {
		v := c.Load()
		if v == 0 {
			continue
		}
		entries = append(entries, Entry{Stat: k.stat, Detail: k.detail, Dir: k.dir, Value: v})
	}
	return entries
}
