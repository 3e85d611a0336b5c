// Package cipher provides the thin AEAD abstraction SPTPS drives records
// through, plus the cipher-suite bitmask and negotiation rule the
// handshake uses to agree on one.
//
// ChaCha20-Poly1305 is mandatory (every build supports it); AES-256-GCM
// is optional but included here since the pack's teacher already depends
// on golang.org/x/crypto for the mandatory suite and the standard
// library covers AES-GCM without pulling in anything new.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Suite identifies an AEAD cipher suite by its bit position in the
// negotiation mask.
type Suite uint8

const (
	// ChaChaPoly1305 is the mandatory suite (bit 0). Every session must
	// support it.
	ChaChaPoly1305 Suite = 0
	// AES256GCM is an optional suite (bit 1).
	AES256GCM Suite = 1

	// MaxSuite is the highest suite id this build understands.
	MaxSuite = AES256GCM

	// KeySize is the AEAD key length consumed from each cipher's key half.
	KeySize = 32
	// NonceSize is the AEAD nonce length: a little-endian sequence number,
	// zero-padded.
	NonceSize = 12
	// TagSize is the AEAD authentication tag length.
	TagSize = 16

	// AllSuites is a bitmask with every suite this build supports enabled.
	AllSuites = uint16(1<<ChaChaPoly1305) | uint16(1<<AES256GCM)
)

// ErrUnsupportedSuite is returned when a suite id has no local
// implementation.
var ErrUnsupportedSuite = errors.New("cipher: unsupported suite")

// ErrNoCommonSuite is returned when two masks share no enabled bit.
var ErrNoCommonSuite = errors.New("cipher: no common cipher suite")

// AEAD is the uniform interface SPTPS drives its record framing through.
// Implementations are not safe for concurrent use; SPTPS sessions are
// single-threaded per §5.
type AEAD interface {
	// Seal encrypts and authenticates plaintext under the sequence
	// number seqno, appending the result (ciphertext || 16-byte tag) to
	// dst and returning the updated slice.
	Seal(dst []byte, seqno uint32, plaintext []byte) []byte
	// Open authenticates and decrypts ciphertext||tag under seqno,
	// appending the plaintext to dst. It fails closed: any
	// authentication failure returns an error and no partial output.
	Open(dst []byte, seqno uint32, sealed []byte) ([]byte, error)
	// Destroy zeroes the copy of the key held by this wrapper. The key
	// state inside the underlying ChaCha20-Poly1305 or AES-GCM
	// implementation is not zeroed. The AEAD must not be used afterward.
	Destroy()
}

// New constructs the AEAD implementation for suite, initialized with the
// given 32-byte key.
func New(suite Suite, key []byte) (AEAD, error) {
	if len(key) < KeySize {
		return nil, fmt.Errorf("cipher: key must be at least %d bytes", KeySize)
	}
	switch suite {
	case ChaChaPoly1305:
		aead, err := chacha20poly1305.New(key[:KeySize])
		if err != nil {
			return nil, err
		}
		return &genericAEAD{aead: aead, key: append([]byte(nil), key[:KeySize]...)}, nil
	case AES256GCM:
		block, err := aes.NewCipher(key[:KeySize])
		if err != nil {
			return nil, err
		}
		aead, err := stdcipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		return &genericAEAD{aead: aead, key: append([]byte(nil), key[:KeySize]...)}, nil
	default:
		return nil, ErrUnsupportedSuite
	}
}

// genericAEAD wraps any cipher.AEAD whose nonce format is the SPTPS
// little-endian, zero-padded sequence number (§4.2). Both
// chacha20poly1305.New and the standard GCM implementation satisfy this.
type genericAEAD struct {
	aead stdcipher.AEAD
	key  []byte
}

func nonceFor(seqno uint32) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.LittleEndian.PutUint32(nonce[:4], seqno)
	return nonce
}

func (g *genericAEAD) Seal(dst []byte, seqno uint32, plaintext []byte) []byte {
	nonce := nonceFor(seqno)
	return g.aead.Seal(dst, nonce[:], plaintext, nil)
}

func (g *genericAEAD) Open(dst []byte, seqno uint32, sealed []byte) ([]byte, error) {
	if len(sealed) < TagSize {
		return nil, errors.New("cipher: sealed input shorter than tag")
	}
	nonce := nonceFor(seqno)
	out, err := g.aead.Open(dst, nonce[:], sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("cipher: authentication failed: %w", err)
	}
	return out, nil
}

func (g *genericAEAD) Destroy() {
	for i := range g.key {
		g.key[i] = 0
	}
}

// Select applies the SPTPS suite-negotiation rule (§4.4) to an agreed
// mask and the two sides' preferences, returning the chosen suite.
//
//  1. Prefer own's preference if it's in the agreed mask.
//  2. Otherwise prefer peer's preference (masked to 4 bits, §4.3's KEX
//     wire format) if it's in the agreed mask.
//  3. Between two viable preferences, the numerically smaller wins.
//  4. Otherwise pick the lowest-bit-set suite id in the agreed mask.
//  5. An empty agreed mask is a negotiation failure.
func Select(agreedMask uint16, ownPreferred, peerPreferred uint8) (Suite, error) {
	if agreedMask == 0 {
		return 0, ErrNoCommonSuite
	}

	peerPreferred &= 0x0f

	selection := -1
	if agreedMask&(uint16(1)<<uint(ownPreferred)) != 0 {
		selection = int(ownPreferred)
	}
	if selection == -1 || int(peerPreferred) < selection {
		if agreedMask&(uint16(1)<<uint(peerPreferred)) != 0 {
			selection = int(peerPreferred)
		}
	}

	if selection == -1 {
		for i := 0; i < 16; i++ {
			if agreedMask&(uint16(1)<<uint(i)) != 0 {
				selection = i
				break
			}
		}
	}

	return Suite(selection), nil
}
