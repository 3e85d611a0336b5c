package sptps

import (
	"crypto/ed25519"
	"fmt"

	"github.com/quietmesh/sptps/cipher"
	"github.com/quietmesh/sptps/kex"
	"github.com/quietmesh/sptps/replay"
)

// Record type constants (§4.1). Application records use 0..127; 128 is
// reserved for handshake records.
const (
	RecordHandshake uint8 = 128

	handshakeVersion = 0
	kexNonceSize      = 32
	kexMessageSize    = 4 + kexNonceSize + kex.Size // version+pref+mask, nonce, ephemeral pubkey

	// StreamHeader is the cleartext stream frame prefix carrying the
	// plaintext record length. Once the outbound cipher is active, the
	// type byte travels sealed together with the payload rather than as
	// a separate header field, so it is authenticated the same as the
	// record body (§4.6); before that, it is a bare cleartext byte
	// following the length field, giving the same 3-byte total.
	StreamHeader = 2
	// StreamOverhead is the full stream frame overhead once encrypted:
	// length field + sealed type byte + AEAD tag.
	StreamOverhead = StreamHeader + 1 + cipher.TagSize

	// DatagramHeader is the cleartext datagram frame prefix carrying the
	// sequence number, which also serves as the AEAD nonce.
	DatagramHeader = 4
	// DatagramOverhead is the full datagram frame overhead once
	// encrypted: seqno + sealed type byte + AEAD tag.
	DatagramOverhead = DatagramHeader + 1 + cipher.TagSize
)

// State is a handshake state (§4.3). The zero value, StateNone, marks a
// session that has not been started (or has been stopped).
type State int

const (
	StateNone State = iota
	StateKEX
	StateSIG
	StateACK
	// StateSecondaryKEX doubles as the established/idle state: a fully
	// handshaked session sits here until ForceKex moves it back to
	// StateKEX for renegotiation.
	StateSecondaryKEX
)

func (st State) String() string {
	switch st {
	case StateNone:
		return "NONE"
	case StateKEX:
		return "KEX"
	case StateSIG:
		return "SIG"
	case StateACK:
		return "ACK"
	case StateSecondaryKEX:
		return "SECONDARY_KEX/ESTABLISHED"
	default:
		return "UNKNOWN"
	}
}

// SendDataFunc delivers outgoing bytes for the given record type. It
// returns false on failure (e.g. the transport is gone), which the
// Session reports as ErrResource.
type SendDataFunc func(handle interface{}, recordType uint8, data []byte) bool

// ReceiveRecordFunc delivers a decrypted inbound record to the caller.
// It returns false to signal the caller rejected the record, which the
// Session reports as ErrResource.
type ReceiveRecordFunc func(handle interface{}, recordType uint8, data []byte) bool

// Params configures a new Session (§6).
type Params struct {
	// Handle is an opaque value forwarded verbatim to SendData and
	// ReceiveRecord.
	Handle interface{}

	// Initiator selects which side drives the handshake first.
	Initiator bool
	// Datagram selects datagram framing over stream framing.
	Datagram bool

	// MyKey is this side's long-term Ed25519 signing key. The Session
	// borrows it; the caller must keep it alive for the Session's
	// lifetime and it is never modified or zeroed by the Session.
	MyKey ed25519.PrivateKey
	// PeerKey is the expected peer's long-term Ed25519 public key,
	// supplied out-of-band. Borrowed the same way as MyKey.
	PeerKey ed25519.PublicKey

	// Label domain-separates the PRF for this session (§4.7).
	Label []byte

	// CipherSuites is a bitmask of locally enabled suites. Zero means
	// "enable every suite this build supports". A non-zero mask is
	// intersected with the supported set rather than trusted verbatim.
	CipherSuites uint16
	// PreferredSuite is this side's preferred suite id.
	PreferredSuite uint8

	// ReplayWindow overrides the replay window size in bytes for this
	// session. nil selects DefaultReplayWindow; a pointer to 0 disables
	// replay protection entirely (only meaningful for Datagram
	// sessions).
	ReplayWindow *uint32

	// Log overrides DefaultLog for this session.
	Log LogFunc

	SendData      SendDataFunc
	ReceiveRecord ReceiveRecordFunc
}

// DefaultReplayWindow is the replay window size in bytes used when
// Params.ReplayWindow is nil (§6, "replaywin — default 16 bytes").
var DefaultReplayWindow uint32 = replay.DefaultSize

// Session is one SPTPS session, per §3. The zero value is not usable;
// construct one with Start.
type Session struct {
	handle    interface{}
	initiator bool
	datagram  bool

	myKey   ed25519.PrivateKey
	peerKey ed25519.PublicKey

	ephemeral kex.KeyPair

	myKEX   []byte
	peerKEX []byte

	keyMaterial []byte // 128 bytes, present from SIG until ACK

	inCipher  cipher.AEAD
	outCipher cipher.AEAD

	outSeqno uint32
	inSeqno  uint32 // stream mode only; datagram mode uses window.Inseqno()

	window *replay.Window

	// stream reassembly buffer
	inbuf      []byte
	buflen     int
	reclen     uint16
	haveHeader bool

	cipherSuitesMask uint16
	preferredSuite   uint8
	selectedSuite    cipher.Suite

	label []byte

	state    State
	outState bool
	inState  bool

	sendData      SendDataFunc
	receiveRecord ReceiveRecordFunc

	log LogFunc
}

// Start initializes a new Session and sends the initial KEX record.
// Both sides call Start unsolicited (§4.3): there is no separate
// "listen" step.
func Start(p Params) (*Session, error) {
	if p.SendData == nil || p.ReceiveRecord == nil {
		return nil, fmt.Errorf("sptps: SendData and ReceiveRecord callbacks are required: %w", ErrMisuse)
	}
	if len(p.MyKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("sptps: MyKey must be an Ed25519 private key: %w", ErrMisuse)
	}
	if len(p.PeerKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("sptps: PeerKey must be an Ed25519 public key: %w", ErrMisuse)
	}

	mask := p.CipherSuites
	if mask == 0 {
		mask = cipher.AllSuites
	} else {
		mask &= cipher.AllSuites
	}

	winSize := DefaultReplayWindow
	if p.ReplayWindow != nil {
		winSize = *p.ReplayWindow
	}

	logFn := p.Log
	if logFn == nil {
		logFn = DefaultLog
	}

	label := append([]byte(nil), p.Label...)

	s := &Session{
		handle:           p.Handle,
		initiator:        p.Initiator,
		datagram:         p.Datagram,
		myKey:            p.MyKey,
		peerKey:          p.PeerKey,
		window:           replay.New(winSize),
		cipherSuitesMask: mask,
		preferredSuite:   p.PreferredSuite,
		label:            label,
		sendData:         p.SendData,
		receiveRecord:    p.ReceiveRecord,
		log:              logFn,
	}

	if !s.datagram {
		s.inbuf = make([]byte, StreamHeader)
	}

	s.state = StateKEX
	if err := s.sendKEX(); err != nil {
		s.log(s, err, "failed to send initial KEX")
		return nil, err
	}

	return s, nil
}

// OutState reports whether the outbound direction is encrypting under an
// established key (§3 invariants).
func (s *Session) OutState() bool { return s.outState }

// InState reports whether the inbound direction is decrypting under an
// established key.
func (s *Session) InState() bool { return s.inState }

// StateName reports the current handshake state, for diagnostics.
func (s *Session) StateName() string { return s.state.String() }

// Received returns the running count of datagrams accepted by the
// replay window since it last wrapped (§9, supplemented feature: a
// basic liveness counter with no analogue in the distilled spec but
// present in the original implementation's s->received field).
func (s *Session) Received() uint32 {
	return s.window.Received()
}

// SendRecord sends an application record (§4.6). It fails with
// ErrMisuse if the outbound direction has not reached an established
// key, or if recordType is a reserved handshake type.
func (s *Session) SendRecord(recordType uint8, data []byte) error {
	if !s.outState {
		return fmt.Errorf("sptps: handshake phase not finished yet: %w", ErrMisuse)
	}
	if recordType >= RecordHandshake {
		return fmt.Errorf("sptps: invalid application record type %d: %w", recordType, ErrMisuse)
	}
	return s.sendRecordPriv(recordType, data)
}

// ForceKex triggers renegotiation (§4.3). It is only valid once the
// handshake has completed and the outbound direction is established.
func (s *Session) ForceKex() error {
	if !s.outState || s.state != StateSecondaryKEX {
		return fmt.Errorf("sptps: cannot force kex from state %s: %w", s.state, ErrMisuse)
	}
	s.state = StateKEX
	return s.sendKEX()
}

// Stop destroys all Session state and zeroes secret material. MyKey and
// PeerKey are borrowed from the caller and are left untouched. The
// Session must not be used after Stop returns.
func (s *Session) Stop() error {
	if s.inCipher != nil {
		s.inCipher.Destroy()
		s.inCipher = nil
	}
	if s.outCipher != nil {
		s.outCipher.Destroy()
		s.outCipher = nil
	}
	s.ephemeral.Destroy()
	zeroBytes(s.keyMaterial)
	s.keyMaterial = nil
	s.myKEX = nil
	s.peerKEX = nil
	s.inbuf = nil
	s.buflen = 0
	s.reclen = 0
	s.haveHeader = false
	s.label = nil
	if s.window != nil {
		s.window.Reset()
	}
	s.state = StateNone
	s.outState = false
	s.inState = false
	return nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
