// Package xtrace decodes captured SPTPS traffic for debugging, using
// gopacket the way the teacher's client/network/rawconn.go uses it to
// build and inspect raw IPv4/UDP packets.
package xtrace

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/quietmesh/sptps/sptps"
)

// Record is one decoded SPTPS frame boundary pulled out of a captured
// UDP payload, before any decryption: just enough to log "session X
// sent a record of N bytes" while debugging a capture. The record type
// is not exposed here — once a direction's cipher is established it
// travels sealed together with the payload and cannot be recovered
// without the session's keys, so a passive trace only ever sees frame
// boundaries and lengths, never types.
type Record struct {
	Datagram   bool
	Seqno      uint32 // datagram mode only
	PayloadLen int    // plaintext payload length, from the cleartext length field
	SealedLen  int    // bytes of sealed type||payload[||tag] following the header
}

// DecodeUDPPayload extracts the UDP payload from a captured packet and
// parses it as one SPTPS datagram frame header. It does not attempt
// stream framing, since a single captured packet may hold a partial or
// multiple stream records.
func DecodeUDPPayload(packet gopacket.Packet) (Record, error) {
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return Record{}, fmt.Errorf("xtrace: packet has no UDP layer")
	}
	udp, _ := udpLayer.(*layers.UDP)
	return decodeDatagramFrame(udp.Payload)
}

func decodeDatagramFrame(payload []byte) (Record, error) {
	if len(payload) < sptps.DatagramHeader {
		return Record{}, fmt.Errorf("xtrace: payload shorter than a datagram header (%d bytes)", len(payload))
	}
	return Record{
		Datagram:  true,
		Seqno:     binary.LittleEndian.Uint32(payload[0:4]),
		SealedLen: len(payload) - sptps.DatagramHeader,
	}, nil
}

// DecodeStreamFrame parses one stream-mode frame header from the front
// of buf, returning the record and the number of bytes it occupies,
// under the assumption that the frame is unencrypted (sealed length
// equals plaintext length plus one type byte, no tag). It cannot tell
// on its own whether a frame is actually sealed under an established
// cipher, since the tag adds bytes past the length field's plaintext
// count with no cleartext marker; callers tracing an established
// session must add the tag size themselves before trusting consumed.
// It returns ok=false if buf does not yet hold a complete frame.
func DecodeStreamFrame(buf []byte) (rec Record, consumed int, ok bool) {
	if len(buf) < sptps.StreamHeader {
		return Record{}, 0, false
	}
	payloadLen := int(binary.LittleEndian.Uint16(buf[0:2]))
	sealedLen := payloadLen + 1
	total := sptps.StreamHeader + sealedLen
	if len(buf) < total {
		return Record{}, 0, false
	}
	return Record{
		Datagram:   false,
		PayloadLen: payloadLen,
		SealedLen:  sealedLen,
	}, total, true
}

// String renders a Record as a single debug line.
func (r Record) String() string {
	if r.Datagram {
		return fmt.Sprintf("datagram seqno=%d sealedLen=%d", r.Seqno, r.SealedLen)
	}
	return fmt.Sprintf("stream payloadLen=%d sealedLen=%d", r.PayloadLen, r.SealedLen)
}
