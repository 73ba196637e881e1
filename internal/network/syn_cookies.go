package network

import (
	"net/netip"
	"sync"
	"time"

	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/internal/messages"
	"github.com/stjet/gobanano/pkg/helpers"
)

// cookieCutoff expires unanswered handshake challenges.
const cookieCutoff = 30 * time.Second

// cookiesPerIPMax bounds outstanding challenges per address.
const cookiesPerIPMax = 10

type cookieEntry struct {
	cookie  [messages.CookieSize]byte
	created time.Time
}

// SynCookies issues per-endpoint handshake challenges and validates the
// signed answers.
type SynCookies struct {
	mu      sync.Mutex
	cookies map[netip.AddrPort]*cookieEntry
	perIP   map[netip.Addr]int
}

// NewSynCookies creates an empty cookie jar.
func NewSynCookies() *SynCookies {
	return &SynCookies{
		cookies: make(map[netip.AddrPort]*cookieEntry),
		perIP:   make(map[netip.Addr]int),
	}
}

// Assign issues a fresh random cookie for the endpoint, or false if the
// address has too many outstanding challenges.
func (s *SynCookies) Assign(endpoint netip.AddrPort) ([messages.CookieSize]byte, bool) {
	var cookie [messages.CookieSize]byte

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cookies[endpoint]; !exists && s.perIP[endpoint.Addr()] >= cookiesPerIPMax {
		return cookie, false
	}

	raw, err := helpers.GenerateSecureRandom(messages.CookieSize)
	if err != nil {
		return cookie, false
	}
	copy(cookie[:], raw)

	if _, exists := s.cookies[endpoint]; !exists {
		s.perIP[endpoint.Addr()]++
	}
	s.cookies[endpoint] = &cookieEntry{cookie: cookie, created: time.Now()}
	return cookie, true
}

// Validate checks a handshake response against the endpoint's outstanding
// cookie and consumes it on success.
func (s *SynCookies) Validate(endpoint netip.AddrPort, nodeID core.PublicKey, sig core.Signature) bool {
	s.mu.Lock()
	entry, ok := s.cookies[endpoint]
	s.mu.Unlock()
	if !ok {
		return false
	}

	if !core.Verify(nodeID, entry.cookie[:], sig) {
		return false
	}

	s.mu.Lock()
	if current, ok := s.cookies[endpoint]; ok && current == entry {
		delete(s.cookies, endpoint)
		s.decrementLocked(endpoint.Addr())
	}
	s.mu.Unlock()
	return true
}

// PurgeExpired drops challenges older than the cutoff.
func (s *SynCookies) PurgeExpired() {
	cutoff := time.Now().Add(-cookieCutoff)
	s.mu.Lock()
	defer s.mu.Unlock()
	for endpoint, entry := range s.cookies {
		if entry.created.Before(cutoff) {
			delete(s.cookies, endpoint)
			s.decrementLocked(endpoint.Addr())
		}
	}
}

func (s *SynCookies) decrementLocked(addr netip.Addr) {
	if s.perIP[addr] <= 1 {
		delete(s.perIP, addr)
	} else {
		s.perIP[addr]--
	}
}

// Len returns the number of outstanding challenges.
func (s *SynCookies) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cookies)
}
