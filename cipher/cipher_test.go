package cipher

import (
	"bytes"
	"testing"
)

func TestChaChaPoly1305RoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	aead, err := New(ChaChaPoly1305, key)
	if err != nil {
		t.Fatal(err)
	}
	defer aead.Destroy()

	plaintext := []byte("hello\n")
	sealed := aead.Seal(nil, 42, plaintext)
	if len(sealed) != len(plaintext)+TagSize {
		t.Fatalf("sealed length = %d, want %d", len(sealed), len(plaintext)+TagSize)
	}

	opened, err := aead.Open(nil, 42, sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened = %q, want %q", opened, plaintext)
	}
}

func TestAES256GCMRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(255 - i)
	}
	aead, err := New(AES256GCM, key)
	if err != nil {
		t.Fatal(err)
	}
	defer aead.Destroy()

	plaintext := []byte("world\n")
	sealed := aead.Seal(nil, 1, plaintext)
	opened, err := aead.Open(nil, 1, sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened = %q, want %q", opened, plaintext)
	}
}

func TestOpenWrongSeqnoFails(t *testing.T) {
	key := make([]byte, KeySize)
	aead, _ := New(ChaChaPoly1305, key)
	defer aead.Destroy()

	sealed := aead.Seal(nil, 5, []byte("data"))
	if _, err := aead.Open(nil, 6, sealed); err == nil {
		t.Fatal("Open with wrong seqno should fail")
	}
}

func TestOpenTamperedFails(t *testing.T) {
	key := make([]byte, KeySize)
	aead, _ := New(ChaChaPoly1305, key)
	defer aead.Destroy()

	sealed := aead.Seal(nil, 5, []byte("data"))
	sealed[0] ^= 0xff
	if _, err := aead.Open(nil, 5, sealed); err == nil {
		t.Fatal("Open with tampered ciphertext should fail")
	}
}

func TestSelectSmallerPreferenceWins(t *testing.T) {
	// Both suites agreed; own prefers AES256GCM, peer prefers ChaChaPoly1305.
	suite, err := Select(AllSuites, uint8(AES256GCM), uint8(ChaChaPoly1305))
	if err != nil {
		t.Fatal(err)
	}
	if suite != ChaChaPoly1305 {
		t.Fatalf("Select = %d, want the numerically smaller preference %d", suite, ChaChaPoly1305)
	}
}

func TestSelectFallsBackToLowestBit(t *testing.T) {
	// Neither preference is in the agreed mask; only AES256GCM is common.
	mask := uint16(1 << AES256GCM)
	suite, err := Select(mask, 5, 6)
	if err != nil {
		t.Fatal(err)
	}
	if suite != AES256GCM {
		t.Fatalf("Select = %d, want %d", suite, AES256GCM)
	}
}

func TestSelectEmptyMaskFails(t *testing.T) {
	if _, err := Select(0, 0, 0); err != ErrNoCommonSuite {
		t.Fatalf("Select with empty mask = %v, want ErrNoCommonSuite", err)
	}
}

func TestSelectSymmetric(t *testing.T) {
	// Both sides must reach the same suite from symmetric inputs
	// (own/peer masks and preferences swapped).
	ownMask, peerMask := uint16(0b11), uint16(0b11)
	ownPref, peerPref := uint8(1), uint8(0)

	agreed := ownMask & peerMask
	a, err := Select(agreed, ownPref, peerPref)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Select(agreed, peerPref, ownPref)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("asymmetric result: side A picked %d, side B picked %d", a, b)
	}
}
