package arq

import (
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lightningnetwork/lnd/ticker"
)

// config holds the configuration values for a Sender or Receiver.
type config struct {
	// n is the window size. The sender can send a maximum of n packets
	// before requiring an ack from the receiver for the first packet in
	// the window. A window of one turns the engine into Stop-and-Wait.
	n uint16

	// s is the size of the sequence space used to label packets. Packets
	// are labelled with incrementing sequence numbers modulo s.
	// s must be strictly larger than the window size, n. This
	// is so that the receiver can tell if the sender is resending the
	// previous window (maybe the sender did not receive the acks) or if
	// they are sending the next window. If s <= n then there would be
	// no way to tell.
	s uint16

	// integrity is the function protecting every frame.
	integrity Integrity

	// maxRetransmits is the number of consecutive timeout rounds without
	// any window progress after which the sender gives up. Zero means
	// that the sender retries forever.
	maxRetransmits int

	// stallTimeout is the maximum duration the window base may stand
	// still before the sender gives up. Zero disables the check.
	stallTimeout time.Duration

	// stallTicker drives the stall check. If nil, a ticker with the
	// stallTimeout interval is created when the transfer starts.
	stallTicker ticker.Ticker

	// eventHook, if set, is called for every protocol event. It is called
	// while the sender holds its state lock and must not block.
	eventHook func(Event)

	// logPrefix is prepended to every log line of this instance.
	logPrefix string

	timeoutOpts []TimeoutOptions
}

// newConfig constructs a new config struct.
func newConfig(n uint16, opts ...Option) *config {
	cfg := &config{
		n: n,
	}

	// The default sequence space is the smallest one that still lets the
	// receiver tell retransmissions and new packets apart.
	if n < math.MaxUint16 {
		cfg.s = n + 1
	}
	if cfg.s < 2 {
		cfg.s = 2
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

// validate checks that the config describes a usable transfer. Every problem
// found is reported, each one wrapping ErrInvalidConfig.
func (c *config) validate() error {
	var errs *multierror.Error

	invalid := func(format string, args ...interface{}) {
		errs = multierror.Append(errs, fmt.Errorf("%w: %s",
			ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	if c.n < 1 {
		invalid("window size must be at least 1")
	}

	if c.s < 2 {
		invalid("sequence space must be at least 2, got %d", c.s)
	}

	if uint32(c.s) < uint32(c.n)+1 {
		invalid("sequence space %d must exceed window size %d",
			c.s, c.n)
	}

	if c.integrity != IntegrityInternet && c.integrity != IntegrityCRC16 {
		invalid("unknown integrity function %d", c.integrity)
	}

	if c.maxRetransmits < 0 {
		invalid("max retransmits must not be negative")
	}

	if c.stallTimeout < 0 {
		invalid("stall timeout must not be negative")
	}

	return errs.ErrorOrNil()
}

// emit hands an event to the configured hook, if any.
func (c *config) emit(eventType EventType, seq SeqNum, idx uint32) {
	if c.eventHook == nil {
		return
	}

	c.eventHook(Event{Type: eventType, Seq: seq, Index: idx})
}
