package arq

import (
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// Option is a functional option that changes the configuration of a Sender
// or Receiver.
type Option func(cfg *config)

// WithSeqSpace sets the size of the sequence space. It must be strictly
// larger than the window size.
func WithSeqSpace(s uint16) Option {
	return func(cfg *config) {
		cfg.s = s
	}
}

// WithIntegrity selects the function that protects every frame.
func WithIntegrity(integrity Integrity) Option {
	return func(cfg *config) {
		cfg.integrity = integrity
	}
}

// WithMaxRetransmits bounds the number of consecutive timeout rounds without
// window progress. Zero keeps the default of retrying forever.
func WithMaxRetransmits(n int) Option {
	return func(cfg *config) {
		cfg.maxRetransmits = n
	}
}

// WithStallTimeout makes the sender give up if the window base has not
// advanced for the given duration.
func WithStallTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.stallTimeout = timeout
	}
}

// WithStallTicker overrides the ticker that drives the stall check.
func WithStallTicker(t ticker.Ticker) Option {
	return func(cfg *config) {
		cfg.stallTicker = t
	}
}

// WithEventHook registers a function that observes every protocol event.
func WithEventHook(hook func(Event)) Option {
	return func(cfg *config) {
		cfg.eventHook = hook
	}
}

// WithLogPrefix sets a prefix for all log lines of the instance.
func WithLogPrefix(prefix string) Option {
	return func(cfg *config) {
		cfg.logPrefix = prefix
	}
}

// WithTimeoutOptions passes options on to the TimeoutManager of the
// instance.
func WithTimeoutOptions(opts ...TimeoutOptions) Option {
	return func(cfg *config) {
		cfg.timeoutOpts = append(cfg.timeoutOpts, opts...)
	}
}

// TimeoutOptions can be used to modify the default timeout values used
// within the TimeoutManager.
type TimeoutOptions func(manager *TimeoutManager)

// WithHandshakeTimeout sets the interval at which an unanswered SYN is sent
// again.
func WithHandshakeTimeout(timeout time.Duration) TimeoutOptions {
	return func(manager *TimeoutManager) {
		manager.handshakeTimeout = timeout
	}
}

// WithRecvPollTimeout sets how long a single receive call may block before
// the caller gets to check its state again.
func WithRecvPollTimeout(timeout time.Duration) TimeoutOptions {
	return func(manager *TimeoutManager) {
		manager.recvPollTimeout = timeout
	}
}

// WithSendTimeout bounds a single send call on the channel.
func WithSendTimeout(timeout time.Duration) TimeoutOptions {
	return func(manager *TimeoutManager) {
		manager.sendTimeout = timeout
	}
}

// WithLingerTimeout sets how long a receiver keeps answering retransmissions
// after it delivered the last packet.
func WithLingerTimeout(timeout time.Duration) TimeoutOptions {
	return func(manager *TimeoutManager) {
		manager.lingerTimeout = timeout
	}
}

// WithFinSendTimeout bounds sending the FIN at the end of a transfer.
func WithFinSendTimeout(timeout time.Duration) TimeoutOptions {
	return func(manager *TimeoutManager) {
		manager.finSendTimeout = timeout
	}
}

// WithResendBackoff makes the resend timeout double after every timeout
// round without progress, up to max. The timeout drops back to its base
// value as soon as the window advances.
func WithResendBackoff(max time.Duration) TimeoutOptions {
	return func(manager *TimeoutManager) {
		manager.maxResendTimeout = max
	}
}

// WithDynamicResendTimeout derives the resend timeout from measured round
// trip times instead of using the static value. The timeout is set to the
// response time multiplied by multiplier, and refreshed every
// updateFrequency samples.
func WithDynamicResendTimeout(multiplier, updateFrequency int) TimeoutOptions {
	return func(manager *TimeoutManager) {
		manager.useStaticTimeout = false

		if multiplier > 0 {
			manager.resendMultiplier = multiplier
		}
		if updateFrequency > 0 {
			manager.timeoutUpdateFrequency = updateFrequency
		}
	}
}
