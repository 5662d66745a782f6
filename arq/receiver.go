package arq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/hashicorp/go-multierror"
)

// Sink persists the reassembled stream of a completed transfer.
type Sink interface {
	Persist(data []byte) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(data []byte) error

// Persist calls f(data).
func (f SinkFunc) Persist(data []byte) error {
	return f(data)
}

type receiverState uint8

const (
	receiverAwaitSYN receiverState = iota
	receiverReceiving
	receiverLingering
	receiverDone
)

func (s receiverState) String() string {
	switch s {
	case receiverAwaitSYN:
		return "await-syn"
	case receiverReceiving:
		return "receiving"
	case receiverLingering:
		return "lingering"
	case receiverDone:
		return "done"
	default:
		return "unknown"
	}
}

// Receiver accepts the packets of a single transfer strictly in order and
// answers every data packet with a cumulative ACK. It is driven by a single
// goroutine and holds no lock.
type Receiver struct {
	cfg      *config
	ch       Channel
	sink     Sink
	codec    *codec
	timeouts *TimeoutManager
	log      btclog.Logger

	state   receiverState
	started bool

	// n, s, total and peerTimeout are adopted from the sender's SYN.
	n           uint16
	s           uint16
	total       uint32
	peerTimeout uint32

	// expected is the sequence number of the next in-order packet.
	expected SeqNum

	// lastAck is the sequence number of the last delivered packet. Before
	// any delivery it is s-1, which the sender treats as stale.
	lastAck SeqNum

	delivered uint32
	buf       bytes.Buffer

	lingerDeadline time.Time

	summary ReceiverSummary
}

// NewReceiver creates a receiver that reads a single transfer from ch and
// hands the completed stream to sink. A nil sink keeps the stream in memory
// only; it can be read with Data after Run returns.
func NewReceiver(ch Channel, sink Sink, opts ...Option) (*Receiver, error) {
	// The window size is announced by the sender. The config only carries
	// the local options, so it is validated with a placeholder window.
	cfg := newConfig(1, opts...)
	cfg.s = 2

	prefix := cfg.logPrefix
	if prefix == "" {
		prefix = "(receiver)"
	}
	logger := newPrefixLogger(prefix)
	timeouts := NewTimeOutManager(
		logger, minimumResendTimeout, cfg.timeoutOpts...,
	)

	var errs error
	if err := cfg.validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := timeouts.validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if ch == nil {
		errs = multierror.Append(errs, fmt.Errorf("%w: no channel",
			ErrInvalidConfig))
	}
	if errs != nil {
		return nil, errs
	}

	return &Receiver{
		cfg:      cfg,
		ch:       ch,
		sink:     sink,
		codec:    &codec{integrity: cfg.integrity},
		timeouts: timeouts,
		log:      logger,
	}, nil
}

// Data returns the bytes delivered so far, in order. It must not be called
// while Run is active.
func (r *Receiver) Data() []byte {
	return r.buf.Bytes()
}

// Run receives one transfer. It returns once every announced packet was
// delivered and persisted and either the sender's FIN arrived or the linger
// timeout passed without any traffic.
func (r *Receiver) Run(ctx context.Context) (*ReceiverSummary, error) {
	if r.started {
		return nil, fmt.Errorf("receiver is %v, can only run once",
			r.state)
	}
	r.started = true

	start := time.Now()

	err := r.run(ctx)

	r.summary.Duration = time.Since(start)
	summary := r.summary

	if err != nil {
		r.log.Errorf("Transfer failed: %v (%v)", err, summary)
		return &summary, err
	}

	r.log.Infof("Transfer complete: %v", summary)

	return &summary, nil
}

func (r *Receiver) run(ctx context.Context) error {
	for r.state != receiverDone {
		if r.state == receiverLingering &&
			!time.Now().Before(r.lingerDeadline) {

			r.log.Debugf("Linger timeout reached")
			r.state = receiverDone
			break
		}

		pollCtx, cancel := context.WithTimeout(
			ctx, r.timeouts.GetRecvPollTimeout(),
		)
		b, err := r.ch.Recv(pollCtx)
		cancel()

		switch {
		case err == nil:

		case ctx.Err() != nil:
			// The stream is already persisted, being stopped
			// while lingering is not a failure.
			if r.state == receiverLingering {
				r.log.Debugf("Stopped while lingering")
				r.state = receiverDone
				return nil
			}

			return ctx.Err()

		case errors.Is(err, context.DeadlineExceeded):
			continue

		case errors.Is(err, io.EOF):
			// A closed channel after completion is the same as
			// the end of the linger period.
			if r.state == receiverLingering {
				r.state = receiverDone
				continue
			}

			return fmt.Errorf("channel closed: %w", err)

		default:
			r.log.Debugf("Error receiving, treating as loss: %v",
				err)
			continue
		}

		msg, err := r.codec.decode(b)
		if err != nil {
			r.log.Debugf("Discarding frame: %v", err)

			if errors.Is(err, ErrCorruptFrame) {
				r.summary.Corrupted++
				r.cfg.emit(EventCorrupt, 0, r.delivered)
			}
			continue
		}

		if err := r.handle(ctx, msg); err != nil {
			return err
		}
	}

	return nil
}

// handle processes a single valid frame.
func (r *Receiver) handle(ctx context.Context, msg Message) error {
	if r.state == receiverLingering {
		r.lingerDeadline = time.Now().Add(r.lingerTimeout())
	}

	switch m := msg.(type) {
	case *PacketSYN:
		return r.handleSYN(ctx, m)

	case *PacketData:
		if r.state == receiverAwaitSYN {
			r.log.Tracef("Ignoring data before handshake")
			return nil
		}

		ack, _ := r.accept(m.Seq, m.Payload)
		r.sendMsg(ctx, &PacketACK{Seq: ack})
		r.summary.AcksSent++

		if r.state == receiverReceiving && r.delivered == r.total {
			return r.complete()
		}

		return nil

	case *PacketFIN:
		switch r.state {
		case receiverLingering:
			r.log.Debugf("Received FIN")
			r.state = receiverDone
			return nil

		case receiverReceiving:
			return fmt.Errorf("%w: got FIN after %d of %d packets",
				ErrPeerClosed, r.delivered, r.total)
		}

		return nil

	default:
		r.log.Tracef("Ignoring unexpected %T", msg)
		return nil
	}
}

// handleSYN adopts the transfer parameters of the first valid SYN and
// answers it and every identical retransmission with a SYNACK.
func (r *Receiver) handleSYN(ctx context.Context, syn *PacketSYN) error {
	if r.state != receiverAwaitSYN {
		if syn.N != r.n || syn.S != r.s || syn.Total != r.total {
			r.log.Debugf("Ignoring SYN for another transfer "+
				"(n=%d, s=%d, total=%d)", syn.N, syn.S,
				syn.Total)
			return nil
		}

		r.log.Tracef("Answering duplicate SYN")
		r.sendMsg(ctx, &PacketSYNACK{
			N: syn.N, S: syn.S, Total: syn.Total,
			Timeout: r.peerTimeout,
		})
		return nil
	}

	if syn.N < 1 || uint32(syn.S) < uint32(syn.N)+1 {
		r.log.Warnf("Ignoring SYN with invalid parameters (n=%d, "+
			"s=%d)", syn.N, syn.S)
		return nil
	}

	r.n = syn.N
	r.s = syn.S
	r.total = syn.Total
	r.peerTimeout = syn.Timeout
	r.expected = 0
	r.lastAck = prevSeq(0, r.s)
	r.state = receiverReceiving
	r.summary.Packets = r.total

	r.log.Debugf("Accepted SYN (n=%d, s=%d, total=%d, timeout=%dms)",
		r.n, r.s, r.total, r.peerTimeout)

	r.sendMsg(ctx, &PacketSYNACK{
		N: syn.N, S: syn.S, Total: syn.Total, Timeout: syn.Timeout,
	})

	if r.total == 0 {
		return r.complete()
	}

	return nil
}

// accept applies a data packet to the receive state. It returns the ACK to
// send back and whether the payload was delivered.
func (r *Receiver) accept(seq SeqNum, payload []byte) (SeqNum, bool) {
	if seq != r.expected || r.delivered >= r.total {
		r.summary.Duplicates++
		r.cfg.emit(EventDuplicate, seq, r.delivered)

		return r.lastAck, false
	}

	r.buf.Write(payload)
	r.delivered++
	r.summary.Delivered = r.delivered
	r.summary.Bytes += len(payload)

	r.lastAck = seq
	r.expected = nextSeq(seq, r.s)

	r.cfg.emit(EventDeliver, seq, r.delivered-1)

	return seq, true
}

// complete persists the stream and starts lingering.
func (r *Receiver) complete() error {
	r.log.Debugf("All %d packets delivered", r.total)

	if r.sink != nil {
		if err := r.sink.Persist(r.buf.Bytes()); err != nil {
			return fmt.Errorf("unable to persist transfer: %w", err)
		}
	}

	r.state = receiverLingering
	r.lingerDeadline = time.Now().Add(r.lingerTimeout())

	r.log.Debugf("Lingering for %v", r.lingerTimeout())

	return nil
}

// lingerTimeout returns how long the receiver keeps answering after the last
// delivery. It covers at least a few of the sender's longest resend
// intervals.
func (r *Receiver) lingerTimeout() time.Duration {
	return r.timeouts.GetLingerTimeoutFor(
		time.Duration(r.peerTimeout) * time.Millisecond,
	)
}

// sendMsg encodes and sends a control message. Failures are treated as loss.
func (r *Receiver) sendMsg(ctx context.Context, msg Message) {
	frame, err := r.codec.encode(msg)
	if err != nil {
		r.log.Errorf("Unable to encode %T: %v", msg, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeouts.GetSendTimeout())
	defer cancel()

	if err := r.ch.Send(ctx, frame); err != nil {
		r.log.Debugf("Error sending %T, treating as loss: %v", msg,
			err)
	}
}
