package sptpsmux

import (
	"crypto/ed25519"
	"testing"

	"github.com/quietmesh/sptps/sptps"
)

func newTestSession(t *testing.T, initiator bool, myKey ed25519.PrivateKey, peerKey ed25519.PublicKey) *sptps.Session {
	t.Helper()
	s, err := sptps.Start(sptps.Params{
		Initiator:     initiator,
		Datagram:      true,
		MyKey:         myKey,
		PeerKey:       peerKey,
		SendData:      func(interface{}, uint8, []byte) bool { return true },
		ReceiveRecord: func(interface{}, uint8, []byte) bool { return true },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func TestMuxRegisterLookupDispatch(t *testing.T) {
	pubA, privA, _ := ed25519.GenerateKey(nil)
	pubB, _, _ := ed25519.GenerateKey(nil)

	s := newTestSession(t, true, privA, pubB)

	m := New()
	var peer PeerID
	copy(peer[:], pubA)

	if _, ok := m.Lookup(peer); ok {
		t.Fatal("expected no session before Register")
	}

	m.Register(peer, s)
	if got, ok := m.Lookup(peer); !ok || got != s {
		t.Fatal("Lookup did not return the registered session")
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}

	m.Unregister(peer)
	if _, ok := m.Lookup(peer); ok {
		t.Fatal("expected no session after Unregister")
	}
}

func TestMuxDispatchUnknownPeer(t *testing.T) {
	m := New()
	var peer PeerID
	if err := m.Dispatch(peer, []byte("x")); err == nil {
		t.Fatal("expected an error dispatching to an unregistered peer")
	}
}
