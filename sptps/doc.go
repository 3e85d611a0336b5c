// Package sptps implements the Simple Peer-to-Peer Security session: a
// signed-ECDHE handshake, dual-mode (stream/datagram) authenticated
// record framing, a sliding-window replay guard, and in-place
// renegotiation. It never touches a socket — callers supply a SendData
// callback for outgoing bytes and a ReceiveRecord callback for decrypted
// inbound records, and feed inbound bytes to Session.ReceiveData.
//
// A Session is not safe for concurrent use; callers must serialize all
// calls into a given session, and callbacks must not re-enter the
// session that invoked them.
package sptps
