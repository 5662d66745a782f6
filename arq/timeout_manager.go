package arq

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/hashicorp/go-multierror"
)

const (
	defaultHandshakeTimeout       = 1000 * time.Millisecond
	defaultRecvPollTimeout        = 100 * time.Millisecond
	defaultSendTimeout            = 1000 * time.Millisecond
	defaultFinSendTimeout         = 1000 * time.Millisecond
	defaultLingerTimeout          = 2000 * time.Millisecond
	minimumResendTimeout          = 10 * time.Millisecond
	defaultResendMultiplier       = 5
	defaultTimeoutUpdateFrequency = 100

	// lingerResendFactor is the number of the sender's longest resend
	// intervals a receiver lingers at least, so that a retransmission
	// after a lost final ACK still finds it listening.
	lingerResendFactor = 3
)

// TimeoutManager manages the different timeouts used by a Sender or Receiver.
type TimeoutManager struct {
	// useStaticTimeout is used to indicate whether the resendTimeout
	// stays at its configured value or is updated from measured response
	// times.
	useStaticTimeout bool

	// hasSetDynamicTimeout is used to indicate whether the resendTimeout
	// has ever been set dynamically.
	hasSetDynamicTimeout bool

	// resendTimeout is the base duration that is waited before the
	// outstanding packets of the window are resent.
	resendTimeout time.Duration

	// maxResendTimeout is the ceiling for the exponential backoff of the
	// resend timeout. If it is not larger than resendTimeout there is no
	// backoff.
	maxResendTimeout time.Duration

	// resendCeiling is the longest resend interval the manager will ever
	// hand out. It is the larger of the configured resend timeout and the
	// backoff ceiling and caps dynamically measured timeouts too.
	resendCeiling time.Duration

	// backoff tracks the resend timeout currently in effect.
	backoff *backoff

	// resendMultiplier defines the multiplier used when multiplying the
	// duration it took for the other party to respond when setting the
	// resendTimeout dynamically.
	resendMultiplier int

	// handshakeTimeout is the interval at which an unanswered SYN is
	// resent.
	handshakeTimeout time.Duration

	// recvPollTimeout bounds a single receive call on the channel.
	recvPollTimeout time.Duration

	// sendTimeout bounds a single send call on the channel.
	sendTimeout time.Duration

	// finSendTimeout bounds the send of the closing FIN.
	finSendTimeout time.Duration

	// lingerTimeout is how long a receiver keeps answering after it
	// delivered the final packet.
	lingerTimeout time.Duration

	// responseCounter represents the current number of corresponding
	// responses received since last updating the resend timeout.
	responseCounter int

	// timeoutUpdateFrequency represents the frequency of how many
	// corresponding responses we need to receive until the resend timeout
	// will be updated.
	timeoutUpdateFrequency int

	log btclog.Logger

	sentTimes map[SeqNum]time.Time

	// mu should be locked when updating or accessing any of timeout
	// manager's fields that change after initialization.
	mu sync.RWMutex
}

// NewTimeOutManager creates a new timeout manager with the given static
// resend timeout.
func NewTimeOutManager(logger btclog.Logger, resendTimeout time.Duration,
	timeoutOpts ...TimeoutOptions) *TimeoutManager {

	if logger == nil {
		logger = log
	}

	m := &TimeoutManager{
		log:                    logger,
		useStaticTimeout:       true,
		resendTimeout:          resendTimeout,
		handshakeTimeout:       defaultHandshakeTimeout,
		recvPollTimeout:        defaultRecvPollTimeout,
		sendTimeout:            defaultSendTimeout,
		finSendTimeout:         defaultFinSendTimeout,
		lingerTimeout:          defaultLingerTimeout,
		resendMultiplier:       defaultResendMultiplier,
		timeoutUpdateFrequency: defaultTimeoutUpdateFrequency,
		sentTimes:              make(map[SeqNum]time.Time),
	}

	for _, opt := range timeoutOpts {
		opt(m)
	}

	m.resendCeiling = m.resendTimeout
	if m.maxResendTimeout > m.resendCeiling {
		m.resendCeiling = m.maxResendTimeout
	}
	m.backoff = newBackoff(m.resendTimeout, m.maxResendTimeout)

	return m
}

// Sent should be called when a data packet is sent. The resent parameter
// should be set to true if the packet is a retransmission.
func (m *TimeoutManager) Sent(msg *PacketData, resent bool) {
	if m.useStaticTimeout {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// If we're resending a packet we can't know if a later ACK answers
	// the original or the retransmission. So we never take a sample for
	// a retransmitted sequence.
	if resent {
		delete(m.sentTimes, msg.Seq)

		return
	}

	m.sentTimes[msg.Seq] = time.Now()
}

// Received should be called when an ACK that advanced the window arrives.
func (m *TimeoutManager) Received(msg *PacketACK) {
	if m.useStaticTimeout {
		return
	}

	receivedAt := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	sentTime, ok := m.sentTimes[msg.Seq]
	if !ok {
		return
	}
	delete(m.sentTimes, msg.Seq)

	m.responseCounter++

	reachedFrequency := m.responseCounter%m.timeoutUpdateFrequency == 0

	if !m.hasSetDynamicTimeout || reachedFrequency {
		m.responseCounter = 0

		m.updateResendTimeoutUnsafe(receivedAt.Sub(sentTime))
	}
}

// updateResendTimeoutUnsafe updates the base resend timeout from the given
// response time.
//
// NOTE: The TimeoutManager mu must be held when calling this function.
func (m *TimeoutManager) updateResendTimeoutUnsafe(responseTime time.Duration) {
	m.hasSetDynamicTimeout = true

	multipliedTimeout := time.Duration(m.resendMultiplier) * responseTime
	if multipliedTimeout < minimumResendTimeout {
		multipliedTimeout = minimumResendTimeout
	}
	if multipliedTimeout > m.resendCeiling {
		multipliedTimeout = m.resendCeiling
	}

	m.log.Tracef("Updating resendTimeout to %v", multipliedTimeout)

	m.resendTimeout = multipliedTimeout
	m.backoff.reset(multipliedTimeout)
}

// TimedOut records a timeout round without progress and returns the resend
// timeout that applies to the next round.
func (m *TimeoutManager) TimedOut() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxResendTimeout <= m.resendTimeout {
		return m.resendTimeout
	}

	next := m.backoff.step()
	m.log.Tracef("Backing off resendTimeout to %v", next)

	return next
}

// Progressed records that the window advanced, which ends any backoff.
func (m *TimeoutManager) Progressed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.backoff.reset(m.resendTimeout)
}

// GetResendTimeout returns the resend timeout currently in effect.
func (m *TimeoutManager) GetResendTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.maxResendTimeout <= m.resendTimeout {
		return m.resendTimeout
	}

	return m.backoff.current()
}

// GetResendCeiling returns the longest resend interval the manager will ever
// use, backoff included. It is announced to the receiver in the SYN.
func (m *TimeoutManager) GetResendCeiling() time.Duration {
	return m.resendCeiling
}

// GetLingerTimeoutFor returns how long to linger for a sender that announced
// the given resend ceiling: the configured linger timeout, but at least
// lingerResendFactor times the ceiling.
func (m *TimeoutManager) GetLingerTimeoutFor(ceiling time.Duration) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	linger := m.lingerTimeout
	if min := lingerResendFactor * ceiling; min > linger {
		linger = min
	}

	return linger
}

// GetHandshakeTimeout returns the handshake timeout.
func (m *TimeoutManager) GetHandshakeTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.handshakeTimeout
}

// GetRecvPollTimeout returns the receive poll timeout.
func (m *TimeoutManager) GetRecvPollTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.recvPollTimeout
}

// GetSendTimeout returns the send timeout.
func (m *TimeoutManager) GetSendTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sendTimeout
}

// GetFinSendTimeout returns the fin send timeout.
func (m *TimeoutManager) GetFinSendTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.finSendTimeout
}

// GetLingerTimeout returns the linger timeout.
func (m *TimeoutManager) GetLingerTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lingerTimeout
}

// validate checks that every configured timeout is usable.
func (m *TimeoutManager) validate() error {
	var errs *multierror.Error

	timeouts := []struct {
		name    string
		timeout time.Duration
	}{
		{"resend", m.resendTimeout},
		{"handshake", m.handshakeTimeout},
		{"receive poll", m.recvPollTimeout},
		{"send", m.sendTimeout},
		{"fin send", m.finSendTimeout},
		{"linger", m.lingerTimeout},
	}
	for _, t := range timeouts {
		if t.timeout <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("%w: %s "+
				"timeout must be positive, got %v",
				ErrInvalidConfig, t.name, t.timeout))
		}
	}

	if m.resendMultiplier < 1 || m.timeoutUpdateFrequency < 1 {
		errs = multierror.Append(errs, fmt.Errorf("%w: dynamic "+
			"timeout multiplier and update frequency must be "+
			"positive", ErrInvalidConfig))
	}

	return errs.ErrorOrNil()
}
