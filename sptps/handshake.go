package sptps

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/quietmesh/sptps/cipher"
	"github.com/quietmesh/sptps/kex"
)

// sendKEX builds and sends a KEX record: version, preferred suite, suite
// mask, a random nonce, and a fresh ephemeral public key (§4.3). The
// message is retained in s.myKEX for the later SIG transcript.
func (s *Session) sendKEX() error {
	if s.myKEX != nil {
		return fmt.Errorf("sptps: KEX already sent and pending: %w", ErrProtocol)
	}

	msg := make([]byte, kexMessageSize)
	msg[0] = handshakeVersion
	msg[1] = s.preferredSuite
	binary.LittleEndian.PutUint16(msg[2:4], s.cipherSuitesMask)

	if _, err := rand.Read(msg[4 : 4+kexNonceSize]); err != nil {
		return fmt.Errorf("sptps: generating nonce: %w: %v", ErrResource, err)
	}

	ephemeral, err := kex.GenerateEphemeral()
	if err != nil {
		return fmt.Errorf("sptps: generating ephemeral key: %w: %v", ErrCrypto, err)
	}
	s.ephemeral = ephemeral
	copy(msg[4+kexNonceSize:], ephemeral.Public[:])

	s.myKEX = msg

	return s.sendRecordPriv(RecordHandshake, msg)
}

// kexNonce returns the 32-byte nonce field of a KEX message.
func kexNonce(msg []byte) []byte {
	return msg[4 : 4+kexNonceSize]
}

// kexEphemeralPub returns the ephemeral public key field of a KEX message.
func kexEphemeralPub(msg []byte) [kex.Size]byte {
	var pub [kex.Size]byte
	copy(pub[:], msg[4+kexNonceSize:])
	return pub
}

// sendSIG signs the transcript of both KEX messages plus the session
// label, from this side's own perspective (own KEX first, peer KEX
// second — see DESIGN.md for why this, not a fixed
// initiator-then-responder order, is what the reference implementation
// actually signs and verifies).
func (s *Session) sendSIG() error {
	msg := make([]byte, 0, 1+2*kexMessageSize+len(s.label))
	msg = append(msg, boolByte(s.initiator))
	msg = append(msg, s.myKEX...)
	msg = append(msg, s.peerKEX...)
	msg = append(msg, s.label...)

	sig := kex.Sign(s.myKey, msg)
	return s.sendRecordPriv(RecordHandshake, sig)
}

// sendACK sends the empty handshake record that signals "my outbound
// direction now uses the new keys".
func (s *Session) sendACK() error {
	return s.sendRecordPriv(RecordHandshake, nil)
}

// receiveKEX processes an inbound KEX record: validates the version,
// negotiates a cipher suite, and — if we are the initiator — replies
// with our own SIG.
func (s *Session) receiveKEX(data []byte) error {
	if len(data) != kexMessageSize {
		return fmt.Errorf("sptps: invalid KEX record length %d: %w", len(data), ErrProtocol)
	}
	if data[0] != handshakeVersion {
		return fmt.Errorf("sptps: incompatible SPTPS version %d: %w", data[0], ErrProtocol)
	}

	peerMask := binary.LittleEndian.Uint16(data[2:4])
	agreed := peerMask & s.cipherSuitesMask
	if agreed == 0 {
		return fmt.Errorf("sptps: no matching cipher suites: %w", ErrProtocol)
	}

	suite, err := cipher.Select(agreed, s.preferredSuite, data[1])
	if err != nil {
		return fmt.Errorf("sptps: %v: %w", err, ErrProtocol)
	}
	s.selectedSuite = suite

	if s.peerKEX != nil {
		return fmt.Errorf("sptps: received a second KEX message before the first was processed: %w", ErrProtocol)
	}
	s.peerKEX = append([]byte(nil), data...)

	if s.initiator {
		return s.sendSIG()
	}
	return nil
}

// receiveSIG verifies an inbound SIG record against the transcript of
// both KEX messages, computes the shared secret, derives key material,
// and — depending on role and current outState — replies with our own
// SIG and/or initializes the outbound cipher.
func (s *Session) receiveSIG(data []byte) error {
	siglen := kex.SignatureSize(s.peerKey)
	if len(data) != siglen {
		return fmt.Errorf("sptps: invalid SIG record length %d: %w", len(data), ErrProtocol)
	}

	msg := make([]byte, 0, 1+2*kexMessageSize+len(s.label))
	msg = append(msg, boolByte(!s.initiator))
	msg = append(msg, s.peerKEX...)
	msg = append(msg, s.myKEX...)
	msg = append(msg, s.label...)

	if !kex.Verify(s.peerKey, msg, data) {
		return fmt.Errorf("sptps: failed to verify SIG record: %w", ErrCrypto)
	}

	shared, err := kex.SharedSecret(s.ephemeral.Private, kexEphemeralPub(s.peerKEX))
	if err != nil {
		return fmt.Errorf("sptps: computing ECDH shared secret: %v: %w", err, ErrCrypto)
	}
	s.ephemeral.Destroy()

	if err := s.generateKeyMaterial(shared); err != nil {
		return err
	}
	zeroBytes(shared)

	if !s.initiator {
		if err := s.sendSIG(); err != nil {
			return err
		}
	}

	s.myKEX = nil
	s.peerKEX = nil

	if s.outState {
		if err := s.sendACK(); err != nil {
			return err
		}
	}

	aead, err := cipher.New(s.selectedSuite, s.outboundKeyHalf())
	if err != nil {
		return fmt.Errorf("sptps: initializing outbound cipher: %v: %w", err, ErrCrypto)
	}
	s.outCipher = aead

	return nil
}

// generateKeyMaterial expands the ECDH shared secret into 128 bytes of
// key material via the §4.7 PRF, ordering the nonces initiator-first
// regardless of local role.
func (s *Session) generateKeyMaterial(shared []byte) error {
	var initNonce, respNonce []byte
	if s.initiator {
		initNonce, respNonce = kexNonce(s.myKEX), kexNonce(s.peerKEX)
	} else {
		initNonce, respNonce = kexNonce(s.peerKEX), kexNonce(s.myKEX)
	}

	seed := kex.Seed(initNonce, respNonce, s.label)
	s.keyMaterial = kex.PRF(shared, seed, kex.KeyMaterialSize)
	return nil
}

// outboundKeyHalf and inboundKeyHalf select which 64-byte half of the
// derived key material each direction's cipher uses (§4.2).
func (s *Session) outboundKeyHalf() []byte {
	if s.initiator {
		return s.keyMaterial[64:128][:cipher.KeySize]
	}
	return s.keyMaterial[0:64][:cipher.KeySize]
}

func (s *Session) inboundKeyHalf() []byte {
	if s.initiator {
		return s.keyMaterial[0:64][:cipher.KeySize]
	}
	return s.keyMaterial[64:128][:cipher.KeySize]
}

// receiveACK processes an inbound ACK record: it must be empty, and its
// arrival means the peer has switched its outbound direction to the new
// keys, so we initialize our inbound cipher and wipe the now-unneeded
// key material.
func (s *Session) receiveACK(data []byte) error {
	if len(data) != 0 {
		return fmt.Errorf("sptps: invalid ACK record length %d: %w", len(data), ErrProtocol)
	}

	aead, err := cipher.New(s.selectedSuite, s.inboundKeyHalf())
	if err != nil {
		return fmt.Errorf("sptps: initializing inbound cipher: %v: %w", err, ErrCrypto)
	}
	s.inCipher = aead

	zeroBytes(s.keyMaterial)
	s.keyMaterial = nil
	s.inState = true

	return nil
}

// notifyHandshakeComplete delivers the empty HANDSHAKE record that
// signals "handshake complete" to the caller.
func (s *Session) notifyHandshakeComplete() error {
	if !s.receiveRecord(s.handle, RecordHandshake, nil) {
		return fmt.Errorf("sptps: receive_record callback rejected handshake completion: %w", ErrResource)
	}
	return nil
}

// receiveHandshake drives the state machine table in §4.3.
func (s *Session) receiveHandshake(data []byte) error {
	switch s.state {
	case StateSecondaryKEX:
		// Renegotiation initiated by the peer: respond with our own KEX
		// before processing theirs.
		if err := s.sendKEX(); err != nil {
			return err
		}
		fallthrough

	case StateKEX:
		if err := s.receiveKEX(data); err != nil {
			return err
		}
		s.state = StateSIG
		return nil

	case StateSIG:
		if err := s.receiveSIG(data); err != nil {
			return err
		}
		if s.outState {
			s.state = StateACK
			return nil
		}
		s.outState = true
		if err := s.receiveACK(nil); err != nil {
			return err
		}
		if err := s.notifyHandshakeComplete(); err != nil {
			return err
		}
		s.state = StateSecondaryKEX
		return nil

	case StateACK:
		if err := s.receiveACK(data); err != nil {
			return err
		}
		if err := s.notifyHandshakeComplete(); err != nil {
			return err
		}
		s.state = StateSecondaryKEX
		return nil

	default:
		return fmt.Errorf("sptps: invalid session state %s: %w", s.state, ErrProtocol)
	}
}
