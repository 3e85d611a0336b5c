package sptps

import (
	"encoding/binary"
	"fmt"

	"github.com/quietmesh/sptps/cipher"
)

// sendRecordPriv builds and transmits one framed record, sealing the
// type byte together with the payload under the outbound cipher once it
// has been established by the handshake (§4.6). Handshake records sent
// before that point (the KEX and SIG records of the initial handshake)
// travel in cleartext, matching the reference implementation's bootstrap
// sequence.
func (s *Session) sendRecordPriv(recordType uint8, data []byte) error {
	if s.datagram {
		return s.sendRecordDatagram(recordType, data)
	}
	return s.sendRecordStream(recordType, data)
}

// sealBody seals type||data as a single AEAD plaintext once the outbound
// cipher is active, so a tampered type byte invalidates the tag exactly
// as a tampered payload byte would. Before that point it returns the
// same bytes unsealed, since there is no cipher yet to seal them under.
func (s *Session) sealBody(seqno uint32, recordType uint8, data []byte) []byte {
	plain := make([]byte, 1+len(data))
	plain[0] = recordType
	copy(plain[1:], data)
	if s.outCipher == nil {
		return plain
	}
	return s.outCipher.Seal(nil, seqno, plain)
}

// openBody is sealBody's inverse: it recovers the type byte and payload
// from a received body, decrypting first if the inbound cipher is up.
func (s *Session) openBody(seqno uint32, body []byte) (recordType uint8, payload []byte, err error) {
	var plain []byte
	if s.inCipher != nil {
		plain, err = s.inCipher.Open(nil, seqno, body)
		if err != nil {
			return 0, nil, fmt.Errorf("sptps: failed to decrypt record: %v: %w", err, ErrCrypto)
		}
	} else {
		plain = body
	}
	if len(plain) < 1 {
		return 0, nil, fmt.Errorf("sptps: empty record body: %w", ErrProtocol)
	}
	return plain[0], plain[1:], nil
}

// sendRecordStream frames a record as [len:u16 LE][sealed type||body],
// where len is the length of the plaintext payload only (not the type
// byte, and not the wire body, which carries an extra byte and, once
// the outbound cipher is active, a 16-byte tag) — matching the reference
// implementation's reclen field exactly.
func (s *Session) sendRecordStream(recordType uint8, data []byte) error {
	if len(data) > 0xffff {
		return fmt.Errorf("sptps: record too large for stream framing: %w", ErrMisuse)
	}
	seqno := s.outSeqno
	s.outSeqno++
	sealed := s.sealBody(seqno, recordType, data)

	frame := make([]byte, StreamHeader+len(sealed))
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(data)))
	copy(frame[StreamHeader:], sealed)

	if !s.sendData(s.handle, recordType, frame) {
		return fmt.Errorf("sptps: send_data callback failed: %w", ErrResource)
	}
	return nil
}

// sendRecordDatagram frames a record as [seqno:u32 LE][sealed type||body].
// The sequence number doubles as the AEAD nonce.
func (s *Session) sendRecordDatagram(recordType uint8, data []byte) error {
	seqno := s.outSeqno
	s.outSeqno++
	sealed := s.sealBody(seqno, recordType, data)

	frame := make([]byte, DatagramHeader+len(sealed))
	binary.LittleEndian.PutUint32(frame[0:4], seqno)
	copy(frame[DatagramHeader:], sealed)

	if !s.sendData(s.handle, recordType, frame) {
		return fmt.Errorf("sptps: send_data callback failed: %w", ErrResource)
	}
	return nil
}

// processRecord dispatches a decrypted record to the handshake state
// machine or to the caller, depending on its type.
func (s *Session) processRecord(recordType uint8, data []byte) error {
	if recordType == RecordHandshake {
		return s.receiveHandshake(data)
	}
	if recordType > RecordHandshake {
		return fmt.Errorf("sptps: unknown record type %d: %w", recordType, ErrProtocol)
	}
	if !s.inState {
		return fmt.Errorf("sptps: application record received before handshake completed: %w", ErrProtocol)
	}
	if !s.receiveRecord(s.handle, recordType, data) {
		return fmt.Errorf("sptps: receive_record callback rejected record: %w", ErrResource)
	}
	return nil
}

// ReceiveData feeds newly-arrived bytes from the transport into the
// session. For a stream session this may be an arbitrary chunk of the
// byte stream, possibly spanning several records or only part of one;
// for a datagram session it must be exactly one datagram's payload.
func (s *Session) ReceiveData(data []byte) error {
	if s.datagram {
		return s.receiveDataDatagram(data)
	}
	return s.receiveDataStream(data)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// wireBodyLen returns the number of body bytes a stream frame occupies
// on the wire for the currently-parsed header: the plaintext length
// (s.reclen) plus the sealed type byte, plus a tag once the inbound
// cipher is established.
func (s *Session) wireBodyLen() int {
	n := int(s.reclen) + 1
	if s.inCipher != nil {
		n += cipher.TagSize
	}
	return n
}

// receiveDataStream reassembles complete [len][sealed body] records out
// of an arbitrarily fragmented byte stream and processes each as it
// completes, in order, within a single call.
func (s *Session) receiveDataStream(data []byte) error {
	for len(data) > 0 {
		if !s.haveHeader {
			need := StreamHeader - s.buflen
			n := min(need, len(data))
			copy(s.inbuf[s.buflen:], data[:n])
			s.buflen += n
			data = data[n:]
			if s.buflen < StreamHeader {
				return nil
			}

			s.reclen = binary.LittleEndian.Uint16(s.inbuf[0:2])
			s.haveHeader = true

			total := StreamHeader + s.wireBodyLen()
			if cap(s.inbuf) < total {
				grown := make([]byte, total)
				copy(grown, s.inbuf[:s.buflen])
				s.inbuf = grown
			} else {
				s.inbuf = s.inbuf[:total]
			}
		}

		total := StreamHeader + s.wireBodyLen()
		need := total - s.buflen
		n := min(need, len(data))
		copy(s.inbuf[s.buflen:], data[:n])
		s.buflen += n
		data = data[n:]
		if s.buflen < total {
			return nil
		}

		body := s.inbuf[StreamHeader:total]

		seqno := s.inSeqno
		s.inSeqno++

		recordType, payload, err := s.openBody(seqno, body)
		if err != nil {
			return err
		}
		payload = append([]byte(nil), payload...)

		s.buflen = 0
		s.reclen = 0
		s.haveHeader = false
		s.inbuf = s.inbuf[:StreamHeader]

		if err := s.processRecord(recordType, payload); err != nil {
			return err
		}
	}
	return nil
}

// receiveDataDatagram decrypts and processes exactly one datagram. Its
// branching follows the reference implementation exactly: while the
// inbound direction is not yet established there is no window history
// to check against, so it requires an exact sequence match and advances
// inseqno directly with no bitmap involved; once established, it
// decrypts first and only then consults the replay window, so a forged
// seqno alone can never influence the window (§9, testable property 6).
func (s *Session) receiveDataDatagram(data []byte) error {
	if len(data) < DatagramHeader {
		return fmt.Errorf("sptps: datagram too short: %w", ErrProtocol)
	}

	seqno := binary.LittleEndian.Uint32(data[0:4])
	body := data[DatagramHeader:]

	if !s.inState {
		if !s.window.Expect(seqno) {
			return fmt.Errorf("sptps: unexpected sequence number %d during handshake: %w", seqno, ErrReplay)
		}
		recordType, payload, err := s.openBody(seqno, body)
		if err != nil {
			return err
		}
		s.window.Advance(seqno)
		return s.processRecord(recordType, payload)
	}

	recordType, payload, err := s.openBody(seqno, body)
	if err != nil {
		return err
	}

	if !s.window.Check(seqno, true) {
		s.log(s, nil, fmt.Sprintf("dropping replayed or too-old datagram, seqno %d", seqno))
		return fmt.Errorf("sptps: replayed or too-old datagram, seqno %d: %w", seqno, ErrReplay)
	}

	return s.processRecord(recordType, payload)
}

// VerifyDatagram reports whether data is a validly authenticated
// datagram for this session without mutating any session state
// (§4.5): no cipher swap, no replay window advance, no sequence
// bookkeeping. It exists for callers that want to peek at a datagram
// (e.g. to pick which of several candidate sessions should own it)
// before committing to ReceiveData.
func (s *Session) VerifyDatagram(data []byte) bool {
	if !s.datagram || s.inCipher == nil || len(data) < DatagramHeader {
		return false
	}

	seqno := binary.LittleEndian.Uint32(data[0:4])
	body := data[DatagramHeader:]

	if _, _, err := s.openBody(seqno, body); err != nil {
		return false
	}
	return s.window.Check(seqno, false)
}
