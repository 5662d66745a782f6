package arq

import "errors"

var (
	// ErrInvalidConfig is returned when a sender or receiver is created
	// with parameters that can never produce a working transfer. The
	// returned error wraps every individual problem that was found.
	ErrInvalidConfig = errors.New("invalid arq config")

	// ErrCorruptFrame is returned by the codec when the integrity trailer
	// of a frame does not match its contents. Callers treat it exactly
	// like a lost packet.
	ErrCorruptFrame = errors.New("frame integrity check failed")

	// ErrMalformedFrame is returned when a frame is too short for its
	// type or carries an unknown type byte.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrStalled is returned by the sender when the window base did not
	// advance within the configured stall timeout.
	ErrStalled = errors.New("transfer stalled")

	// ErrMaxRetransmits is returned by the sender when the configured
	// number of consecutive timeout rounds passed without any progress.
	ErrMaxRetransmits = errors.New("max retransmissions exceeded")

	// ErrHandshakeFailed is returned when the peer answered the handshake
	// with parameters that differ from the ones we proposed.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrPeerClosed is returned by the receiver when the sender closed
	// the transfer before every packet was delivered.
	ErrPeerClosed = errors.New("peer closed the transfer before completion")
)
