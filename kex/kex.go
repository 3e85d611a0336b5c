// Package kex provides the key-exchange primitives the SPTPS handshake
// drives: ephemeral X25519 keypairs, ECDH, Ed25519 long-term signatures,
// and the TLS-style PRF used to expand a shared secret into session key
// material.
package kex

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const (
	// Size is the length in bytes of an X25519 public key and of the
	// ECDH shared secret it produces.
	Size = 32

	// KeyMaterialSize is the total amount of key material the PRF
	// produces: 64 bytes for each direction's cipher.
	KeyMaterialSize = 128

	// prfSeedLabel is the fixed prefix mixed into the PRF seed.
	prfSeedLabel = "key expansion"
)

// ErrWeakSharedSecret is returned when an ECDH exchange yields the
// all-zero output, which X25519 can produce for a small number of
// pathological (and easily checkable) inputs.
var ErrWeakSharedSecret = errors.New("kex: ECDH produced an all-zero shared secret")

// KeyPair is an ephemeral X25519 keypair.
type KeyPair struct {
	Private [Size]byte
	Public  [Size]byte
}

// GenerateEphemeral creates a new ephemeral X25519 keypair.
func GenerateEphemeral() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("kex: reading randomness: %w", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("kex: deriving public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Destroy zeroes the private half of the keypair.
func (kp *KeyPair) Destroy() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

// SharedSecret computes the X25519 shared secret between a local private
// key and a peer's public key.
func SharedSecret(priv, peerPub [Size]byte) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return nil, fmt.Errorf("kex: ECDH failed: %w", err)
	}
	allZero := true
	for _, b := range secret {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, ErrWeakSharedSecret
	}
	return secret, nil
}

// SignatureSize is the length of an Ed25519 signature. Kept as a function
// (mirroring the reference implementation's ecdsa_size(key)) even though
// Ed25519's signature length does not depend on the key, so a future
// second signature scheme can be added without changing call sites.
func SignatureSize(_ ed25519.PublicKey) int {
	return ed25519.SignatureSize
}

// Sign produces an Ed25519 signature over msg using a long-term private
// key.
func Sign(key ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(key, msg)
}

// Verify checks an Ed25519 signature over msg against a long-term public
// key.
func Verify(key ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(key, msg, sig)
}

// PRF expands secret into size bytes of key material using seed as the
// TLS 1.2-style P_hash label, keyed by HMAC-SHA512 — the hash family
// bound to Ed25519's long-term signing keys (§4.7). This is
// deliberately not golang.org/x/crypto/hkdf's RFC 5869 extract-then-expand:
// that algorithm hashes the secret through an extra HMAC-extract step and
// uses a different expand-block layout, which would produce different key
// material from the same secret and seed and break wire compatibility
// with the seed construction in §4.7.
func PRF(secret, seed []byte, size int) []byte {
	out := make([]byte, 0, size)
	a := seed
	for len(out) < size {
		a = hmacSum(secret, a)
		out = append(out, hmacSum(secret, append(append([]byte(nil), a...), seed...))...)
	}
	return out[:size]
}

func hmacSum(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// Seed builds the §4.7 PRF seed: "key expansion" || initiator_nonce(32)
// || responder_nonce(32) || label. Both sides order the nonces
// initiator-first regardless of local role.
func Seed(initiatorNonce, responderNonce, label []byte) []byte {
	seed := make([]byte, 0, len(prfSeedLabel)+len(initiatorNonce)+len(responderNonce)+len(label))
	seed = append(seed, prfSeedLabel...)
	seed = append(seed, initiatorNonce...)
	seed = append(seed, responderNonce...)
	seed = append(seed, label...)
	return seed
}
