// Package sptpsmux multiplexes several SPTPS datagram sessions over one
// underlying socket, keyed by each peer's static public key, and helps
// bind a newly authenticated peer to a session using an out-of-band
// Noise rendezvous handshake before any SPTPS traffic flows.
//
// None of this changes the SPTPS wire format: it is purely a way to
// answer "which Session does this datagram belong to" once a caller has
// more than one peer sharing a socket.
package sptpsmux

import (
	"fmt"
	"sync"

	"github.com/quietmesh/sptps/sptps"
)

// PeerID identifies a peer by its static Curve25519 public key, the
// same key space the rendezvous handshake in handshake.go authenticates.
type PeerID [32]byte

// Mux dispatches inbound bytes to the SPTPS session registered for a
// given peer. It is safe for concurrent use.
type Mux struct {
	mu       sync.RWMutex
	sessions map[PeerID]*sptps.Session
}

// New creates an empty Mux.
func New() *Mux {
	return &Mux{sessions: make(map[PeerID]*sptps.Session)}
}

// Register binds a session to a peer. It replaces any session
// previously registered for the same peer without stopping it; callers
// that want the old session torn down must call Session.Stop themselves
// first.
func (m *Mux) Register(peer PeerID, s *sptps.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[peer] = s
}

// Unregister removes a peer's session from the registry. It does not
// call Session.Stop; the caller owns that decision.
func (m *Mux) Unregister(peer PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, peer)
}

// Lookup returns the session registered for peer, if any.
func (m *Mux) Lookup(peer PeerID) (*sptps.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[peer]
	return s, ok
}

// Dispatch routes data to the session registered for peer.
func (m *Mux) Dispatch(peer PeerID, data []byte) error {
	s, ok := m.Lookup(peer)
	if !ok {
		return fmt.Errorf("sptpsmux: no session registered for peer")
	}
	return s.ReceiveData(data)
}

// Len reports how many sessions are currently registered.
func (m *Mux) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
