// Package replay implements the sliding-window anti-replay bitmap used to
// reject duplicate or too-old sequence numbers on a decrypted transport.
//
// The window covers sequence numbers [inseqno-W*8, inseqno), stored as a
// circular byte-oriented bitmap: bit 1 means "not yet received", bit 0
// means "received" (or outside the window). This mirrors the reference
// tinc sptps.c layout rather than the word-oriented RFC 6479 style bitmap
// (see DESIGN.md for why).
package replay

import "golang.org/x/crypto/blake2b"

// DefaultSize is the default window size in bytes (128 sequence slots).
const DefaultSize = 16

// Window tracks which recent sequence numbers have been observed.
//
// A zero-size Window (constructed with New(0)) disables replay protection
// entirely: Check never drops a packet, but Inseqno still advances so
// callers relying on it for ordering diagnostics see a sane value.
type Window struct {
	size      uint32 // window size in bytes; 0 disables checking
	late      []byte // size bytes, circular bitmap
	inseqno   uint32
	farfuture uint32
	received  uint32
}

// New creates a Window of the given size in bytes. size*8 is the number of
// sequence slots the window covers.
func New(size uint32) *Window {
	w := &Window{size: size}
	if size > 0 {
		w.late = make([]byte, size)
	}
	return w
}

// Reset clears the window back to its initial state.
func (w *Window) Reset() {
	w.inseqno = 0
	w.farfuture = 0
	w.received = 0
	for i := range w.late {
		w.late[i] = 0
	}
}

// Inseqno returns the next sequence number this window expects in order.
func (w *Window) Inseqno() uint32 {
	return w.inseqno
}

// Received returns the running count of packets accepted since the last
// time Inseqno wrapped around 2^32.
func (w *Window) Received() uint32 {
	return w.received
}

// Check reports whether seqno is admissible: not a duplicate, and not
// further in the past than the window covers. When updateState is false
// (used by a read-only probe such as verify-before-decrypt) the window is
// left untouched regardless of the outcome.
//
// When updateState is true and seqno is admissible, the window advances:
// the slot for seqno is marked received, farfuture resets to zero, and
// the running received counter increments (resetting to zero if inseqno
// wraps past 2^32-1, matching the reference implementation).
func (w *Window) Check(seqno uint32, updateState bool) bool {
	if w.size > 0 {
		windowSlots := w.size * 8

		if seqno != w.inseqno {
			switch {
			case seqno >= w.inseqno+windowSlots:
				// Far future: don't let a single spike blow away the window.
				tolerable := w.farfuture < w.size/4
				if updateState {
					w.farfuture++
				}
				if tolerable {
					return false
				}
				// Seen enough far-future packets in a row; treat the old
				// window as lost and mark everything in it as late.
				if updateState {
					for i := range w.late {
						w.late[i] = 0xff
					}
				}

			case seqno < w.inseqno:
				tooOld := w.inseqno >= windowSlots && seqno < w.inseqno-windowSlots
				if tooOld || !w.isLate(seqno) {
					return false
				}

			default:
				// In-order gap: mark the skipped slots as late.
				if updateState {
					for i := w.inseqno; i != seqno; i++ {
						w.markLate(i)
					}
				}
			}
		}

		if updateState {
			w.clearLate(seqno)
			w.farfuture = 0
		}
	}

	if updateState {
		if seqno >= w.inseqno {
			w.inseqno = seqno + 1
		}
		w.bumpReceived()
	}

	return true
}

// Expect reports whether seqno is exactly the next in-order value. It is
// used while a session's inbound direction has not yet been established
// (the handshake datagrams of the initial key exchange), where the
// reference implementation requires an exact match rather than falling
// back to window-based tolerance. Renegotiation does not return to this
// phase.
func (w *Window) Expect(seqno uint32) bool {
	return seqno == w.inseqno
}

// Advance bumps Inseqno past seqno without touching the bitmap or the
// received/farfuture counters. It is paired with Expect for the
// pre-established phase, where the reference implementation bypasses its
// replay check entirely and just assigns inseqno = seqno + 1 directly.
func (w *Window) Advance(seqno uint32) {
	w.inseqno = seqno + 1
}

func (w *Window) bumpReceived() {
	if w.inseqno == 0 {
		w.received = 0
	} else {
		w.received++
	}
}

func (w *Window) slot(seqno uint32) (byteIdx uint32, bit byte) {
	return (seqno / 8) % w.size, 1 << (seqno % 8)
}

func (w *Window) isLate(seqno uint32) bool {
	idx, bit := w.slot(seqno)
	return w.late[idx]&bit != 0
}

func (w *Window) markLate(seqno uint32) {
	idx, bit := w.slot(seqno)
	w.late[idx] |= bit
}

func (w *Window) clearLate(seqno uint32) {
	idx, bit := w.slot(seqno)
	w.late[idx] &^= bit
}

// Digest returns a BLAKE2b-256 checksum of the window's current bitmap and
// counters. It has no protocol meaning; it exists so callers can log a
// short, comparable fingerprint of replay-window state when diagnosing
// desyncs between peers.
func (w *Window) Digest() [32]byte {
	buf := make([]byte, 0, len(w.late)+12)
	buf = append(buf, w.late...)
	buf = appendUint32(buf, w.inseqno)
	buf = appendUint32(buf, w.farfuture)
	buf = appendUint32(buf, w.received)
	return blake2b.Sum256(buf)
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
