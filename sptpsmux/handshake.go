package sptpsmux

import (
	"crypto/rand"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"
)

// rendezvousConfig mirrors the teacher's server/auth.go noiseConfig: an
// IK-pattern handshake authenticating both static keys before either
// side trusts the other enough to hand it a PeerID and register an
// SPTPS session for it. It authenticates the rendezvous, not any SPTPS
// record; SPTPS's own signed-DH handshake still runs on top once a
// session is registered.
var rendezvousConfig = noise.Config{
	CipherSuite: noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s),
	Random:      rand.Reader,
	Pattern:     noise.HandshakeIK,
	Prologue:    []byte("sptpsmux rendezvous v1"),
}

// NewRendezvous builds a Noise handshake state for authenticating peer
// as a prerequisite to registering an SPTPS session for it. initiator
// selects which side sends the first message; peerStatic is required
// for the initiator (the IK pattern needs the responder's static key up
// front) and may be the zero value for the responder.
func NewRendezvous(initiator bool, priv PeerID, peerStatic *PeerID) (*noise.HandshakeState, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	cfg := rendezvousConfig
	cfg.Initiator = initiator
	cfg.StaticKeypair = noise.DHKey{Private: priv[:], Public: pub}

	if peerStatic != nil {
		cfg.PeerStatic = peerStatic[:]
	}

	return noise.NewHandshakeState(cfg)
}
