package dsu

import (
	"net/netip"
	"time"
)

// DefaultClientTimeout is the liveness window after the last inbound message.
const DefaultClientTimeout = 5 * time.Second

// Session tracks the single peer receiving motion reports.
//
// Owned by the dispatch loop; not safe for concurrent use.
type Session struct {
	timeout  time.Duration
	peer     netip.AddrPort
	lastSeen time.Time
	active   bool
}

func NewSession(timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &Session{timeout: timeout}
}

// Touch records peer as the active client, replacing any previous one.
func (s *Session) Touch(peer netip.AddrPort, now time.Time) {
	s.peer = peer
	s.lastSeen = now
	s.active = true
}

// IsExpired reports whether more than the timeout has passed since the last
// Touch. A cleared session is never expired.
func (s *Session) IsExpired(now time.Time) bool {
	if !s.active {
		return false
	}
	return now.Sub(s.lastSeen) > s.timeout
}

func (s *Session) Clear() {
	s.peer = netip.AddrPort{}
	s.lastSeen = time.Time{}
	s.active = false
}

func (s *Session) Active() bool { return s.active }

// Peer returns the active peer and whether one exists.
func (s *Session) Peer() (netip.AddrPort, bool) {
	return s.peer, s.active
}

func (s *Session) LastSeen() time.Time { return s.lastSeen }
