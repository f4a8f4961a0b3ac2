// ABOUTME: Error taxonomy for the session protocol: transient, connection-lost, protocol.
// ABOUTME: Classify maps socket and framing errors onto the class callers react to.

package protocol

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Protocol violations.
var (
	ErrEmptyVerb          = errors.New("empty command verb")
	ErrInvalidVerb        = errors.New("command verb contains a separator or line break")
	ErrEmbeddedNewline    = errors.New("payload contains a line break")
	ErrInvalidUTF8        = errors.New("line is not valid UTF-8")
	ErrLineTooLong        = errors.New("line exceeds maximum length")
	ErrEmptyHostname      = errors.New("empty hostname in handshake")
	ErrHostnameTooLong    = errors.New("hostname exceeds maximum length")
	ErrBadAcknowledgement = errors.New("unexpected handshake acknowledgement")
	ErrMalformedBeacon    = errors.New("malformed discovery beacon")
)

// ErrConnectionClosed is returned when a write makes no progress, which the
// protocol treats the same as the peer closing the stream.
var ErrConnectionClosed = errors.New("connection closed during send")

// ErrorClass is the reaction an error calls for.
type ErrorClass int

const (
	// ClassNone is the class of a nil error.
	ClassNone ErrorClass = iota
	// ClassTransient errors are retried in place; the connection survives.
	ClassTransient
	// ClassConnectionLost errors end the connection and trigger teardown.
	ClassConnectionLost
	// ClassProtocol errors drop the offending message or connection.
	ClassProtocol
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassConnectionLost:
		return "connection_lost"
	case ClassProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

var protocolErrors = []error{
	ErrEmptyVerb,
	ErrInvalidVerb,
	ErrEmbeddedNewline,
	ErrInvalidUTF8,
	ErrLineTooLong,
	ErrEmptyHostname,
	ErrHostnameTooLong,
	ErrBadAcknowledgement,
	ErrMalformedBeacon,
}

// Classify sorts err into an ErrorClass. Unrecognised errors are treated
// as a lost connection: nothing is retried unless known to be safe.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	for _, perr := range protocolErrors {
		if errors.Is(err, perr) {
			return ClassProtocol
		}
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return ClassConnectionLost
	}

	if errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EWOULDBLOCK) ||
		errors.Is(err, io.ErrShortWrite) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	return ClassConnectionLost
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
