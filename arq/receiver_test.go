package arq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// peer drives one end of a memPipe by hand.
type peer struct {
	t     *testing.T
	ch    Channel
	codec *codec
}

func (p *peer) send(msg Message) {
	p.t.Helper()

	frame, err := p.codec.encode(msg)
	require.NoError(p.t, err)
	require.NoError(p.t, p.ch.Send(context.Background(), frame))
}

func (p *peer) sendRaw(frame []byte) {
	p.t.Helper()

	require.NoError(p.t, p.ch.Send(context.Background(), frame))
}

func (p *peer) recv() Message {
	p.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frame, err := p.ch.Recv(ctx)
	require.NoError(p.t, err)

	msg, err := p.codec.decode(frame)
	require.NoError(p.t, err)

	return msg
}

func (p *peer) expectACK(seq SeqNum) {
	p.t.Helper()

	require.Equal(p.t, &PacketACK{Seq: seq}, p.recv())
}

func (p *peer) expectNothing() {
	p.t.Helper()

	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)
	defer cancel()

	_, err := p.ch.Recv(ctx)
	require.ErrorIs(p.t, err, context.DeadlineExceeded)
}

type receiverHarness struct {
	*peer

	receiver  *Receiver
	events    *eventLog
	persisted chan []byte
	done      chan error
	summary   *ReceiverSummary
	cancel    func()
}

func newReceiverHarness(t *testing.T, opts ...Option) *receiverHarness {
	a, b, cleanup := memPipe()
	t.Cleanup(cleanup)

	h := &receiverHarness{
		peer: &peer{
			t:     t,
			ch:    a,
			codec: &codec{integrity: IntegrityInternet},
		},
		events:    &eventLog{},
		persisted: make(chan []byte, 1),
		done:      make(chan error, 1),
	}

	sink := SinkFunc(func(data []byte) error {
		h.persisted <- append([]byte(nil), data...)
		return nil
	})

	opts = append(
		[]Option{fastTimeouts(), WithEventHook(h.events.hook)}, opts...,
	)
	receiver, err := NewReceiver(b, sink, opts...)
	require.NoError(t, err)
	h.receiver = receiver

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.cancel = cancel

	go func() {
		summary, err := receiver.Run(ctx)
		h.summary = summary
		h.done <- err
	}()

	return h
}

func (h *receiverHarness) handshake(n, s uint16, total uint32) {
	h.t.Helper()

	h.send(&PacketSYN{N: n, S: s, Total: total})
	require.Equal(h.t, &PacketSYNACK{N: n, S: s, Total: total}, h.recv())
}

func (h *receiverHarness) wait() error {
	h.t.Helper()

	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatalf("receiver did not return")
		return nil
	}
}

func TestReceiverInOrder(t *testing.T) {
	h := newReceiverHarness(t)
	h.handshake(4, 5, 3)

	h.send(&PacketData{Seq: 0, Payload: []byte("a")})
	h.expectACK(0)
	h.send(&PacketData{Seq: 1, Payload: []byte("b")})
	h.expectACK(1)
	h.send(&PacketData{Seq: 2, Payload: []byte("c")})
	h.expectACK(2)

	require.Equal(t, []byte("abc"), <-h.persisted)

	h.send(&PacketFIN{})
	require.NoError(t, h.wait())

	require.Equal(t, []byte("abc"), h.receiver.Data())
	require.Equal(t, uint32(3), h.summary.Delivered)
	require.Equal(t, 3, h.summary.Bytes)
	require.Equal(t, uint64(3), h.summary.AcksSent)
	require.Equal(t, []uint32{0, 1, 2}, h.events.indices(EventDeliver))
}

func TestReceiverOutOfOrder(t *testing.T) {
	h := newReceiverHarness(t)
	h.handshake(4, 5, 4)

	// Nothing was delivered yet, so an out-of-order packet is answered
	// with s-1, which the sender treats as stale.
	h.send(&PacketData{Seq: 1, Payload: []byte("b")})
	h.expectACK(4)

	h.send(&PacketData{Seq: 0, Payload: []byte("a")})
	h.expectACK(0)

	// A duplicate and a gap are both answered with the last delivered
	// sequence number.
	h.send(&PacketData{Seq: 0, Payload: []byte("a")})
	h.expectACK(0)
	h.send(&PacketData{Seq: 2, Payload: []byte("c")})
	h.expectACK(0)

	h.send(&PacketData{Seq: 1, Payload: []byte("b")})
	h.expectACK(1)
	h.send(&PacketData{Seq: 2, Payload: []byte("c")})
	h.expectACK(2)
	h.send(&PacketData{Seq: 3, Payload: []byte("d")})
	h.expectACK(3)

	require.Equal(t, []byte("abcd"), <-h.persisted)

	h.send(&PacketFIN{})
	require.NoError(t, h.wait())
	require.Equal(t, uint64(3), h.summary.Duplicates)
}

func TestReceiverWrapsSequenceSpace(t *testing.T) {
	h := newReceiverHarness(t)
	h.handshake(1, 2, 5)

	for i := 0; i < 5; i++ {
		seq := SeqNum(i % 2)

		h.send(&PacketData{Seq: seq, Payload: []byte{byte(i)}})
		h.expectACK(seq)

		// The retransmission of a delivered packet is not delivered
		// again.
		h.send(&PacketData{Seq: seq, Payload: []byte{byte(i)}})
		h.expectACK(seq)
	}

	require.Equal(t, []byte{0, 1, 2, 3, 4}, <-h.persisted)
	h.send(&PacketFIN{})
	require.NoError(t, h.wait())
}

func TestReceiverDiscardsCorruptFrames(t *testing.T) {
	h := newReceiverHarness(t)
	h.handshake(2, 3, 1)

	frame, err := h.codec.encode(&PacketData{Seq: 0, Payload: []byte("x")})
	require.NoError(t, err)

	h.sendRaw(corruptCopy(frame))
	h.expectNothing()

	h.sendRaw(frame)
	h.expectACK(0)

	require.Equal(t, []byte("x"), <-h.persisted)
	h.send(&PacketFIN{})
	require.NoError(t, h.wait())
	require.Equal(t, uint64(1), h.summary.Corrupted)
	require.Len(t, h.events.ofType(EventCorrupt), 1)
}

func TestReceiverHandshake(t *testing.T) {
	h := newReceiverHarness(t)

	// Data before the handshake and an invalid SYN are ignored.
	h.send(&PacketData{Seq: 0, Payload: []byte("x")})
	h.send(&PacketSYN{N: 4, S: 4, Total: 1})
	h.expectNothing()

	h.handshake(4, 5, 2)

	// A duplicate SYN is answered again, one for another transfer is
	// not.
	h.handshake(4, 5, 2)
	h.send(&PacketSYN{N: 2, S: 3, Total: 7})
	h.expectNothing()

	h.send(&PacketData{Seq: 0, Payload: []byte("x")})
	h.expectACK(0)
	h.send(&PacketData{Seq: 1, Payload: []byte("y")})
	h.expectACK(1)

	require.Equal(t, []byte("xy"), <-h.persisted)
	h.send(&PacketFIN{})
	require.NoError(t, h.wait())
}

func TestReceiverLinger(t *testing.T) {
	h := newReceiverHarness(t)
	h.handshake(2, 3, 1)

	h.send(&PacketData{Seq: 0, Payload: []byte("x")})
	h.expectACK(0)
	require.Equal(t, []byte("x"), <-h.persisted)

	// While lingering, retransmissions are still answered with the final
	// ACK.
	h.send(&PacketData{Seq: 0, Payload: []byte("x")})
	h.expectACK(0)

	// Without a FIN the receiver returns after the linger timeout.
	require.NoError(t, h.wait())
	require.Equal(t, uint32(1), h.summary.Delivered)
}

func TestReceiverLingerCoversPeerTimeout(t *testing.T) {
	h := newReceiverHarness(t)

	// The peer resends only every 400ms, longer than our own linger
	// timeout of 200ms.
	syn := &PacketSYN{N: 1, S: 2, Total: 1, Timeout: 400}
	h.send(syn)
	require.Equal(t, &PacketSYNACK{
		N: 1, S: 2, Total: 1, Timeout: 400,
	}, h.recv())

	h.send(&PacketData{Seq: 0, Payload: []byte("x")})
	h.expectACK(0)
	require.Equal(t, []byte("x"), <-h.persisted)

	// A retransmission one resend interval later is still answered.
	time.Sleep(400 * time.Millisecond)
	h.send(&PacketData{Seq: 0, Payload: []byte("x")})
	h.expectACK(0)

	h.send(&PacketFIN{})
	require.NoError(t, h.wait())
}

func TestReceiverStoppedWhileLingering(t *testing.T) {
	h := newReceiverHarness(t)
	h.handshake(1, 2, 1)

	h.send(&PacketData{Seq: 0, Payload: []byte("x")})
	h.expectACK(0)
	require.Equal(t, []byte("x"), <-h.persisted)

	// The stream is persisted, so being stopped now is a success.
	h.cancel()
	require.NoError(t, h.wait())
	require.Equal(t, uint32(1), h.summary.Delivered)
}

func TestReceiverEmptyTransfer(t *testing.T) {
	h := newReceiverHarness(t)
	h.handshake(1, 2, 0)

	require.Empty(t, <-h.persisted)
	h.send(&PacketFIN{})
	require.NoError(t, h.wait())
}

func TestReceiverEarlyFIN(t *testing.T) {
	h := newReceiverHarness(t)
	h.handshake(2, 3, 2)

	h.send(&PacketData{Seq: 0, Payload: []byte("x")})
	h.expectACK(0)

	h.send(&PacketFIN{})
	require.ErrorIs(t, h.wait(), ErrPeerClosed)
}

func TestReceiverSinkError(t *testing.T) {
	a, b, cleanup := memPipe()
	defer cleanup()

	errSink := errors.New("disk full")
	receiver, err := NewReceiver(b, SinkFunc(func([]byte) error {
		return errSink
	}), fastTimeouts())
	require.NoError(t, err)

	p := &peer{t: t, ch: a, codec: &codec{integrity: IntegrityInternet}}
	p.send(&PacketSYN{N: 1, S: 2, Total: 1})
	p.send(&PacketData{Seq: 0, Payload: []byte("x")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = receiver.Run(ctx)
	require.ErrorIs(t, err, errSink)
}

func TestReceiverContextCancel(t *testing.T) {
	_, b, cleanup := memPipe()
	defer cleanup()

	receiver, err := NewReceiver(b, nil, fastTimeouts())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)
	defer cancel()

	_, err = receiver.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = receiver.Run(context.Background())
	require.Error(t, err)
}
