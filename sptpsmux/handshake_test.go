package sptpsmux

import (
	"bytes"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func randPeerID(t *testing.T) PeerID {
	t.Helper()
	var id PeerID
	if _, err := rand.Read(id[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return id
}

func publicOf(t *testing.T, priv PeerID) PeerID {
	t.Helper()
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("X25519: %v", err)
	}
	var id PeerID
	copy(id[:], pub)
	return id
}

// TestRendezvousHandshakeEstablishesSharedCiphers drives NewRendezvous for
// both roles through a complete Noise IK exchange and confirms the two
// sides land on the same transport keys, exercising the rendezvous
// handshake that authenticates a peer before Mux.Register hands it a
// session.
func TestRendezvousHandshakeEstablishesSharedCiphers(t *testing.T) {
	privI := randPeerID(t)
	privR := randPeerID(t)
	pubR := publicOf(t, privR)

	initiator, err := NewRendezvous(true, privI, &pubR)
	if err != nil {
		t.Fatalf("NewRendezvous(initiator): %v", err)
	}
	responder, err := NewRendezvous(false, privR, nil)
	if err != nil {
		t.Fatalf("NewRendezvous(responder): %v", err)
	}

	msg1, _, _, err := initiator.WriteMessage(nil, nil)
	if err != nil {
		t.Fatalf("initiator WriteMessage(1): %v", err)
	}
	if _, _, _, err := responder.ReadMessage(nil, msg1); err != nil {
		t.Fatalf("responder ReadMessage(1): %v", err)
	}

	msg2, csR1, csR2, err := responder.WriteMessage(nil, nil)
	if err != nil {
		t.Fatalf("responder WriteMessage(2): %v", err)
	}
	if csR1 == nil || csR2 == nil {
		t.Fatal("expected the responder's second message to complete the IK handshake")
	}
	_, csI1, csI2, err := initiator.ReadMessage(nil, msg2)
	if err != nil {
		t.Fatalf("initiator ReadMessage(2): %v", err)
	}
	if csI1 == nil || csI2 == nil {
		t.Fatal("expected the initiator's read of message 2 to complete the IK handshake")
	}

	plaintext := []byte("hello over the rendezvous channel")
	ciphertext, err := csI1.Encrypt(nil, nil, plaintext)
	if err != nil {
		t.Fatalf("initiator Encrypt: %v", err)
	}
	got, err := csR1.Decrypt(nil, nil, ciphertext)
	if err != nil {
		t.Fatalf("responder failed to decrypt initiator->responder traffic: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("decrypted %q, want %q", got, plaintext)
	}

	reply := []byte("hello back")
	replyCiphertext, err := csR2.Encrypt(nil, nil, reply)
	if err != nil {
		t.Fatalf("responder Encrypt: %v", err)
	}
	gotReply, err := csI2.Decrypt(nil, nil, replyCiphertext)
	if err != nil {
		t.Fatalf("initiator failed to decrypt responder->initiator traffic: %v", err)
	}
	if !bytes.Equal(gotReply, reply) {
		t.Fatalf("decrypted %q, want %q", gotReply, reply)
	}
}

// TestRendezvousHandshakeRejectsWrongPeerStatic confirms the IK pattern's
// authentication actually binds to the static key: an initiator that
// expects the wrong responder static key must fail the handshake instead
// of silently completing.
func TestRendezvousHandshakeRejectsWrongPeerStatic(t *testing.T) {
	privI := randPeerID(t)
	privR := randPeerID(t)
	wrongPub := randPeerID(t)

	initiator, err := NewRendezvous(true, privI, &wrongPub)
	if err != nil {
		t.Fatalf("NewRendezvous(initiator): %v", err)
	}
	responder, err := NewRendezvous(false, privR, nil)
	if err != nil {
		t.Fatalf("NewRendezvous(responder): %v", err)
	}

	msg1, _, _, err := initiator.WriteMessage(nil, nil)
	if err != nil {
		t.Fatalf("initiator WriteMessage(1): %v", err)
	}
	if _, _, _, err := responder.ReadMessage(nil, msg1); err == nil {
		t.Fatal("expected the responder to reject a message encrypted to the wrong static key")
	}
}
