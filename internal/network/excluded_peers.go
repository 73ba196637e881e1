package network

import (
	"net/netip"
	"sync"
	"time"
)

// Exclusion tuning: misbehavior scores decay over the sliding window, and a
// score at or above the threshold bans the address for the ban duration.
const (
	excludedScoreThreshold = 3
	excludedBanDuration    = 15 * time.Minute
	excludedWindow         = time.Hour
	excludedMaxEntries     = 5000
)

type excludedEntry struct {
	score     int
	lastSeen  time.Time
	banUntil  time.Time
	permanent bool
}

// ExcludedPeers tracks misbehaving addresses with sliding-window scoring
// plus permanent bans.
type ExcludedPeers struct {
	mu      sync.Mutex
	entries map[netip.Addr]*excludedEntry
}

// NewExcludedPeers creates an empty exclusion table.
func NewExcludedPeers() *ExcludedPeers {
	return &ExcludedPeers{entries: make(map[netip.Addr]*excludedEntry)}
}

// PeerMisbehaved raises the address score and returns the new score. At the
// threshold the address is banned for the ban duration.
func (e *ExcludedPeers) PeerMisbehaved(addr netip.Addr) int {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[addr]
	if !ok {
		e.evictIfFullLocked()
		entry = &excludedEntry{}
		e.entries[addr] = entry
	}

	if now.Sub(entry.lastSeen) > excludedWindow {
		entry.score = 0
	}
	entry.score++
	entry.lastSeen = now
	if entry.score >= excludedScoreThreshold {
		entry.banUntil = now.Add(excludedBanDuration)
	}
	return entry.score
}

// PermaBan bans the address until restart.
func (e *ExcludedPeers) PermaBan(addr netip.Addr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.entries[addr]
	if !ok {
		e.evictIfFullLocked()
		entry = &excludedEntry{}
		e.entries[addr] = entry
	}
	entry.permanent = true
	entry.lastSeen = time.Now()
}

// IsExcluded reports whether the address is currently banned.
func (e *ExcludedPeers) IsExcluded(addr netip.Addr) bool {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[addr]
	if !ok {
		return false
	}
	if entry.permanent {
		return true
	}
	if now.Before(entry.banUntil) {
		return true
	}
	if now.Sub(entry.lastSeen) > excludedWindow {
		delete(e.entries, addr)
	}
	return false
}

// evictIfFullLocked drops the stalest non-permanent entry when the table is
// full.
func (e *ExcludedPeers) evictIfFullLocked() {
	if len(e.entries) < excludedMaxEntries {
		return
	}
	var oldest netip.Addr
	var oldestSeen time.Time
	for addr, entry := range e.entries {
		if entry.permanent {
			continue
		}
		if oldestSeen.IsZero() || entry.lastSeen.Before(oldestSeen) {
			oldest = addr
			oldestSeen = entry.lastSeen
		}
	}
	if !oldestSeen.IsZero() {
		delete(e.entries, oldest)
	}
}

// Len returns the number of tracked addresses.
func (e *ExcludedPeers) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}
