// Package loxone is a client for the Loxone Miniserver's "remotecontrol"
// WebSocket subprotocol: key exchange, token authentication, the binary
// event stream, and the structure-file catalog.
package loxone

import "errors"

// Sentinel errors the client wraps with fmt.Errorf("...: %w", ...); callers
// should test against these with errors.Is rather than string-matching.
var (
	// ErrTransport wraps a failure in the underlying WebSocket connection.
	ErrTransport = errors.New("loxone: transport error")

	// ErrCertDecode wraps a failure to parse the Miniserver's certificate PEM.
	ErrCertDecode = errors.New("loxone: certificate decode error")

	// ErrCryptoFailure wraps a rejected RSA, AES, or HMAC operation.
	ErrCryptoFailure = errors.New("loxone: crypto failure")

	// ErrUnsupportedAlgorithm is returned when getkey2 reports a hashAlg
	// this client does not implement.
	ErrUnsupportedAlgorithm = errors.New("loxone: unsupported hash algorithm")

	// ErrProtocolViolation wraps a frame or reply that didn't match what an
	// operation expected: wrong logical message variant, bad header magic,
	// a truncated payload, or an unknown header identifier.
	ErrProtocolViolation = errors.New("loxone: protocol violation")

	// ErrServerError wraps a reply whose LL.Code was not "200". The session
	// survives; only the originating call fails.
	ErrServerError = errors.New("loxone: server error")

	// ErrConnectionClosed is returned by every call once the dispatcher's
	// read loop has exited, whether from a clean close, an OutOfService
	// frame, or a transport error.
	ErrConnectionClosed = errors.New("loxone: connection closed")

	// ErrOutOfService is the cause Err reports once the Miniserver has sent
	// an OutOfService frame. OutOfServiceEvent is delivered on Events()
	// immediately beforehand, so a consumer need not poll Err() to notice.
	ErrOutOfService = errors.New("loxone: miniserver out of service")
)
