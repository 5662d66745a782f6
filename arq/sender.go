package arq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/lightningnetwork/lnd/ticker"
)

type senderState uint8

const (
	senderIdle senderState = iota
	senderHandshake
	senderTransfer
	senderClosing
	senderClosed
)

func (s senderState) String() string {
	switch s {
	case senderIdle:
		return "idle"
	case senderHandshake:
		return "handshake"
	case senderTransfer:
		return "transfer"
	case senderClosing:
		return "closing"
	case senderClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WindowSnapshot is a consistent view of the send window.
type WindowSnapshot struct {
	// Base is the absolute index of the oldest unacknowledged packet.
	Base uint32

	// Next is the absolute index of the next packet to be sent.
	Next uint32

	// Window is the window size.
	Window uint16

	// Unacked is the number of packets in the retransmission buffer.
	Unacked uint16

	// Timers is the number of armed retransmission timers.
	Timers int
}

// Sender transfers an ordered sequence of payload chunks to a Receiver over
// an unreliable Channel. It keeps up to n packets in flight and resends the
// whole window when the timer of an outstanding packet expires.
type Sender struct {
	cfg      *config
	ch       Channel
	codec    *codec
	timeouts *TimeoutManager
	timers   *timerService
	log      btclog.Logger

	packets [][]byte
	total   uint32

	// mu guards every field below. The send loop, the receive goroutine
	// and the timer callbacks all take it before touching the window.
	mu sync.Mutex

	state senderState

	// base is the absolute index of the oldest unacknowledged packet and
	// next the absolute index of the next packet to send. The queue holds
	// exactly the packets in [base, next).
	base  uint32
	next  uint32
	queue *queue

	// timeoutRounds counts timeout rounds since the window last
	// advanced.
	timeoutRounds int
	lastProgress  time.Time

	summary SenderSummary

	// ctx is the context of the running transfer. Sends issued from the
	// timer callbacks derive from it.
	ctx    context.Context
	cancel func()

	// ackSignal is used to signal that the window base advanced.
	ackSignal chan struct{}

	// synAckChan carries the peer's handshake answer.
	synAckChan chan *PacketSYNACK

	// errChan carries a fatal error from a timer callback to the send
	// loop.
	errChan chan error

	wg sync.WaitGroup
}

// NewSender opens a transfer of packets over ch with window size n and
// resend timeout timeout. The returned Sender does nothing until Run is
// called.
func NewSender(ch Channel, n uint16, timeout time.Duration, packets [][]byte,
	opts ...Option) (*Sender, error) {

	cfg := newConfig(n, opts...)

	prefix := cfg.logPrefix
	if prefix == "" {
		prefix = "(sender)"
	}
	logger := newPrefixLogger(prefix)
	timeouts := NewTimeOutManager(logger, timeout, cfg.timeoutOpts...)

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
	if uint64(len(packets)) > math.MaxUint32 {
		errs = multierror.Append(errs, fmt.Errorf("%w: too many "+
			"packets", ErrInvalidConfig))
	}
	if errs != nil {
		return nil, errs
	}

	s := &Sender{
		cfg:        cfg,
		ch:         ch,
		codec:      &codec{integrity: cfg.integrity},
		timeouts:   timeouts,
		log:        logger,
		packets:    packets,
		total:      uint32(len(packets)),
		queue:      newQueue(cfg.s),
		ackSignal:  make(chan struct{}, 1),
		synAckChan: make(chan *PacketSYNACK, 1),
		errChan:    make(chan error, 1),
	}
	s.timers = newTimerService(s.handleTimeout)
	s.summary.Packets = s.total

	return s, nil
}

// NewStopAndWaitSender opens a Stop-and-Wait transfer: a single packet in
// flight and a one bit sequence space.
func NewStopAndWaitSender(ch Channel, timeout time.Duration, packets [][]byte,
	opts ...Option) (*Sender, error) {

	opts = append([]Option{WithSeqSpace(2)}, opts...)

	return NewSender(ch, 1, timeout, packets, opts...)
}

// Chunk splits data into packets of at most size bytes. An empty input
// yields no packets.
func Chunk(data []byte, size int) [][]byte {
	if size <= 0 {
		size = len(data)
	}

	var chunks [][]byte
	for len(data) > 0 {
		n := size
		if len(data) < n {
			n = len(data)
		}

		chunks = append(chunks, data[:n])
		data = data[n:]
	}

	return chunks
}

// Snapshot returns a consistent copy of the window state.
func (s *Sender) Snapshot() WindowSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return WindowSnapshot{
		Base:    s.base,
		Next:    s.next,
		Window:  s.cfg.n,
		Unacked: s.queue.size(),
		Timers:  s.timers.active(),
	}
}

// Run drives the transfer until every packet is acknowledged, the context is
// cancelled or the transfer stalls. The returned summary is valid in all
// cases.
func (s *Sender) Run(ctx context.Context) (*SenderSummary, error) {
	s.mu.Lock()
	if s.state != senderIdle {
		s.mu.Unlock()
		return nil, fmt.Errorf("sender is %v, can only run once",
			s.state)
	}
	s.state = senderHandshake
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	start := time.Now()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.receivePacketsForever()
	}()

	err := s.run()

	s.shutdown()

	// Only tell the peer we are gone if it has everything. A receiver
	// that still misses packets keeps waiting on its own timeout.
	if err == nil {
		s.sendFIN(ctx)
	}

	s.mu.Lock()
	s.state = senderClosed
	s.summary.Duration = time.Since(start)
	summary := s.summary
	s.mu.Unlock()

	if err != nil {
		s.log.Errorf("Transfer failed: %v (%v)", err, summary)
		return &summary, err
	}

	s.log.Infof("Transfer complete: %v", summary)

	return &summary, nil
}

// run performs the handshake and then keeps the window filled until every
// packet is acknowledged.
func (s *Sender) run() error {
	if err := s.handshake(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = senderTransfer
	s.lastProgress = time.Now()
	s.mu.Unlock()

	var stallTicks <-chan time.Time
	if s.cfg.stallTimeout > 0 {
		t := s.cfg.stallTicker
		if t == nil {
			t = ticker.New(s.cfg.stallTimeout)
		}
		t.Resume()
		defer t.Stop()

		stallTicks = t.Ticks()
	}

	for {
		s.mu.Lock()
		if s.base == s.total {
			s.timers.cancelAll()
			s.mu.Unlock()
			return nil
		}
		s.fillWindowUnsafe()
		s.mu.Unlock()

		select {
		case <-s.ackSignal:

		case err := <-s.errChan:
			return err

		case <-stallTicks:
			if err := s.checkStall(); err != nil {
				return err
			}

		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

// handshake sends a SYN announcing the transfer parameters until the peer
// answers with a matching SYNACK.
func (s *Sender) handshake() error {
	syn := &PacketSYN{
		N:       s.cfg.n,
		S:       s.cfg.s,
		Total:   s.total,
		Timeout: durationToMillis(s.timeouts.GetResendCeiling()),
	}

	frame, err := s.codec.encode(syn)
	if err != nil {
		return err
	}

	attempts := 0
	for {
		s.log.Debugf("Sending SYN (n=%d, s=%d, total=%d, "+
			"timeout=%dms)", syn.N, syn.S, syn.Total, syn.Timeout)
		s.sendFrame(frame)

		timer := time.NewTimer(s.timeouts.GetHandshakeTimeout())
		select {
		case resp := <-s.synAckChan:
			timer.Stop()

			if resp.N != syn.N || resp.S != syn.S ||
				resp.Total != syn.Total ||
				resp.Timeout != syn.Timeout {

				return fmt.Errorf("%w: peer answered with "+
					"n=%d, s=%d, total=%d, timeout=%dms",
					ErrHandshakeFailed, resp.N, resp.S,
					resp.Total, resp.Timeout)
			}

			s.log.Debugf("Handshake complete")
			return nil

		case <-timer.C:
			attempts++
			if s.cfg.maxRetransmits > 0 &&
				attempts > s.cfg.maxRetransmits {

				return fmt.Errorf("%w: no SYNACK after %d "+
					"attempts", ErrMaxRetransmits, attempts)
			}

			s.log.Debugf("SYN timeout. Resending SYN.")

		case <-s.ctx.Done():
			timer.Stop()
			return s.ctx.Err()
		}
	}
}

// durationToMillis converts d to whole milliseconds, rounding up and
// saturating at the largest value a SYN can carry.
func durationToMillis(d time.Duration) uint32 {
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxUint32 {
		return math.MaxUint32
	}

	return uint32(ms)
}

// fillWindowUnsafe sends new packets while the window has room.
//
// NOTE: s.mu must be held.
func (s *Sender) fillWindowUnsafe() {
	timeout := s.timeouts.GetResendTimeout()

	for s.next < s.base+uint32(s.cfg.n) && s.next < s.total {
		p := &pendingPacket{
			packet: &PacketData{
				Payload: s.packets[s.next],
			},
			index: s.next,
		}
		s.queue.addPacket(p)

		frame, err := s.codec.encode(p.packet)
		if err != nil {
			// Serializing a data packet can't fail, the payload
			// is only copied into a buffer.
			s.log.Errorf("Unable to encode packet %d: %v",
				s.next, err)
		}
		p.frame = frame

		s.log.Tracef("Sending packet %d (seq %d)", p.index,
			p.packet.Seq)

		s.transmitUnsafe(p, timeout)
		s.summary.Sent++
		s.cfg.emit(EventSend, p.packet.Seq, p.index)

		s.next++
	}
}

// transmitUnsafe puts a pending packet on the wire and arms its timer.
// Channel errors are treated like a lost packet: the timer will resend it.
//
// NOTE: s.mu must be held.
func (s *Sender) transmitUnsafe(p *pendingPacket, timeout time.Duration) {
	s.sendFrame(p.frame)
	s.timeouts.Sent(p.packet, p.resent)

	p.deadline = time.Now().Add(timeout)
	s.timers.start(p.packet.Seq, timeout)
}

// sendFrame writes a frame to the channel, bounded by the send timeout.
func (s *Sender) sendFrame(frame []byte) {
	ctx, cancel := context.WithTimeout(
		s.ctx, s.timeouts.GetSendTimeout(),
	)
	defer cancel()

	if err := s.ch.Send(ctx, frame); err != nil {
		s.log.Debugf("Error sending frame, treating as loss: %v", err)
	}
}

// handleTimeout is called by the timer service when the timer of a packet
// expires. If the packet is still outstanding, the whole window is resent.
func (s *Sender) handleTimeout(seq SeqNum) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != senderTransfer {
		return
	}

	p := s.queue.get(seq)
	if p == nil {
		s.log.Tracef("Timer for seq %d is stale, packet was acked",
			seq)
		return
	}

	// The packet was retransmitted after this timer was armed.
	if time.Now().Before(p.deadline) {
		s.log.Tracef("Timer for seq %d is stale, packet was resent",
			seq)
		return
	}

	s.summary.Timeouts++
	s.cfg.emit(EventTimeout, seq, p.index)

	s.timeoutRounds++
	if s.cfg.maxRetransmits > 0 &&
		s.timeoutRounds > s.cfg.maxRetransmits {

		s.fail(fmt.Errorf("%w: packet %d timed out %d times",
			ErrMaxRetransmits, p.index, s.timeoutRounds))
		return
	}

	timeout := s.timeouts.TimedOut()

	s.log.Debugf("Timeout for packet %d, resending window [%d, %d)",
		p.index, s.base, s.next)

	for _, pending := range s.queue.inFlight() {
		pending.resent = true
		s.transmitUnsafe(pending, timeout)

		s.summary.Retransmissions++
		s.cfg.emit(EventRetransmit, pending.packet.Seq, pending.index)
	}
}

// processACK applies a cumulative ACK. ACKs that don't cover an outstanding
// packet are stale and have no effect.
func (s *Sender) processACK(ack *PacketACK) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.AcksReceived++

	if s.state != senderTransfer {
		return
	}

	acked := s.queue.processACK(ack.Seq)
	if len(acked) == 0 {
		s.log.Tracef("Received stale ack %d, base is %d", ack.Seq,
			s.base)

		s.summary.DuplicateAcks++
		s.cfg.emit(EventStaleAck, ack.Seq, s.base)
		return
	}

	for _, p := range acked {
		s.timers.cancel(p.packet.Seq)
	}
	s.base += uint32(len(acked))

	s.log.Tracef("Received ack %d, window is now [%d, %d)", ack.Seq,
		s.base, s.next)

	s.timeouts.Received(ack)
	s.timeouts.Progressed()
	s.timeoutRounds = 0
	s.lastProgress = time.Now()

	s.cfg.emit(EventAck, ack.Seq, s.base-1)

	select {
	case s.ackSignal <- struct{}{}:
	default:
	}
}

// checkStall returns ErrStalled if the window did not move for longer than
// the stall timeout.
func (s *Sender) checkStall() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idle := time.Since(s.lastProgress)
	if idle < s.cfg.stallTimeout {
		return nil
	}

	return fmt.Errorf("%w: no progress for %v at packet %d/%d",
		ErrStalled, idle, s.base, s.total)
}

// fail hands a fatal error to the send loop.
func (s *Sender) fail(err error) {
	select {
	case s.errChan <- err:
	default:
	}
}

// receivePacketsForever reads frames from the channel and dispatches them
// until the transfer context is done.
//
// This function must be called in a go routine.
func (s *Sender) receivePacketsForever() {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		ctx, cancel := context.WithTimeout(
			s.ctx, s.timeouts.GetRecvPollTimeout(),
		)
		b, err := s.ch.Recv(ctx)
		cancel()

		switch {
		case err == nil:

		case s.ctx.Err() != nil:
			return

		case errors.Is(err, context.DeadlineExceeded):
			continue

		case errors.Is(err, io.EOF):
			s.log.Debugf("Channel closed")
			s.fail(fmt.Errorf("channel closed: %w", err))
			return

		default:
			s.log.Debugf("Error receiving, treating as loss: %v",
				err)
			continue
		}

		msg, err := s.codec.decode(b)
		if err != nil {
			s.log.Debugf("Discarding frame: %v", err)

			if errors.Is(err, ErrCorruptFrame) {
				s.mu.Lock()
				s.summary.Corrupted++
				s.cfg.emit(EventCorrupt, 0, s.base)
				s.mu.Unlock()
			}
			continue
		}

		switch m := msg.(type) {
		case *PacketACK:
			s.processACK(m)

		case *PacketSYNACK:
			select {
			case s.synAckChan <- m:
			default:
			}

		default:
			s.log.Tracef("Ignoring unexpected %T", msg)
		}
	}
}

// shutdown stops every timer before it stops the receive goroutine, so that
// nothing is sent on the channel once Run returns.
func (s *Sender) shutdown() {
	s.mu.Lock()
	s.state = senderClosing
	s.mu.Unlock()

	s.timers.stop()

	s.cancel()
	s.wg.Wait()
}

// sendFIN tells the receiver that every packet was acknowledged. It is sent
// once; a receiver that misses it stops after its linger timeout.
func (s *Sender) sendFIN(ctx context.Context) {
	frame, err := s.codec.encode(&PacketFIN{})
	if err != nil {
		s.log.Errorf("Unable to encode FIN: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(
		ctx, s.timeouts.GetFinSendTimeout(),
	)
	defer cancel()

	s.log.Debugf("Sending FIN")
	if err := s.ch.Send(ctx, frame); err != nil {
		s.log.Debugf("Error sending FIN: %v", err)
	}
}
