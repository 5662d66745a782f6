package itest

import (
	"context"
	"time"

	"github.com/lightninglabs/arq/arq"
	"github.com/lightninglabs/arq/transport"
)

type senderHarness struct {
	receiverAddr string

	stopAndWait bool
	window      uint16
	packetSize  int
	timeout     time.Duration
	integrity   arq.Integrity
	loss        float64
	corrupt     float64
}

type senderOption func(*senderHarness)

func withStopAndWait(saw bool) senderOption {
	return func(s *senderHarness) {
		s.stopAndWait = saw
	}
}

func withSenderIntegrity(integrity arq.Integrity) senderOption {
	return func(s *senderHarness) {
		s.integrity = integrity
	}
}

func withSenderLoss(loss, corrupt float64) senderOption {
	return func(s *senderHarness) {
		s.loss = loss
		s.corrupt = corrupt
	}
}

func withWindow(window uint16) senderOption {
	return func(s *senderHarness) {
		s.window = window
	}
}

func newSenderHarness(receiverAddr string,
	opts ...senderOption) *senderHarness {

	s := &senderHarness{
		receiverAddr: receiverAddr,
		window:       8,
		packetSize:   1024,
		timeout:      50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// send transfers data to the receiver and returns once the sender is done.
func (s *senderHarness) send(ctx context.Context,
	data []byte) (*arq.SenderSummary, error) {

	conn, err := transport.Dial(s.receiverAddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var ch arq.Channel = conn
	if s.loss > 0 || s.corrupt > 0 {
		faults, err := arq.NewRandomFaults(
			s.loss, s.loss, s.corrupt, time.Now().UnixNano(),
		)
		if err != nil {
			return nil, err
		}
		ch = arq.NewFaultyChannel(conn, faults)
	}

	opts := []arq.Option{
		arq.WithIntegrity(s.integrity),
		arq.WithLogPrefix("(itest sender)"),
		arq.WithTimeoutOptions(
			arq.WithHandshakeTimeout(100*time.Millisecond),
			arq.WithRecvPollTimeout(20*time.Millisecond),
		),
	}

	packets := arq.Chunk(data, s.packetSize)

	var sender *arq.Sender
	if s.stopAndWait {
		sender, err = arq.NewStopAndWaitSender(
			ch, s.timeout, packets, opts...,
		)
	} else {
		sender, err = arq.NewSender(
			ch, s.window, s.timeout, packets, opts...,
		)
	}
	if err != nil {
		return nil, err
	}

	return sender.Run(ctx)
}
