package sptps

import (
	"errors"
	"log"
	"os"
)

// Sentinel error kinds, per the error-handling design: every failure a
// Session operation reports wraps exactly one of these with
// fmt.Errorf("...: %w", ...), so callers can classify failures with
// errors.Is without depending on message text.
var (
	// ErrProtocol covers wrong record length, unexpected handshake
	// state, unknown version, no common cipher suite, or an unknown
	// record type.
	ErrProtocol = errors.New("sptps: protocol violation")
	// ErrCrypto covers AEAD verification failure, signature
	// verification failure, ECDH failure, or PRF failure.
	ErrCrypto = errors.New("sptps: cryptographic failure")
	// ErrReplay covers a sequence number outside the replay window or
	// already observed.
	ErrReplay = errors.New("sptps: replay or out-of-window packet")
	// ErrResource covers allocation failure or a callback reporting
	// failure.
	ErrResource = errors.New("sptps: resource failure")
	// ErrMisuse covers calling SendRecord before the handshake
	// finishes, an invalid application record type, or ForceKex from
	// the wrong state.
	ErrMisuse = errors.New("sptps: misuse")
)

// LogFunc receives a diagnostic message for a Session. err is nil for
// purely informational messages (e.g. a lost-packet warning) and
// non-nil when logged alongside a returned error.
type LogFunc func(s *Session, err error, msg string)

// QuietLog discards every message. Library embedders who handle
// diagnostics themselves via the returned errors can install it through
// Params.Log or DefaultLog; it is not the default.
func QuietLog(*Session, error, string) {}

// StderrLog writes every message to os.Stderr, in the same "one line per
// event" style as the reference implementation's built-in stderr logger.
var StderrLog LogFunc = func(s *Session, err error, msg string) {
	stderrLogger.Print(msg)
}

var stderrLogger = log.New(os.Stderr, "sptps: ", log.LstdFlags)

// DefaultLog is the process-wide log hook used by sessions started with
// no Params.Log override. It mirrors the reference implementation's
// process-global sptps_log function pointer; per the design notes, new
// code should prefer setting Params.Log on a per-session basis instead
// of mutating this package variable.
var DefaultLog LogFunc = StderrLog
