package arq

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// Channel is an unreliable point-to-point datagram transport. Datagrams may
// be lost, duplicated or reordered. Recv blocks until a datagram arrives or
// the context is done; hitting the context deadline only means that nothing
// arrived yet. A channel that is closed for good returns io.EOF.
type Channel interface {
	Send(ctx context.Context, b []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// SendBytesFunc writes one datagram to the underlying transport.
type SendBytesFunc func(ctx context.Context, b []byte) error

// RecvBytesFunc reads one datagram from the underlying transport.
type RecvBytesFunc func(ctx context.Context) ([]byte, error)

// ChannelFuncs adapts a pair of functions to the Channel interface.
type ChannelFuncs struct {
	SendFunc SendBytesFunc
	RecvFunc RecvBytesFunc
}

var _ Channel = (*ChannelFuncs)(nil)

func (c *ChannelFuncs) Send(ctx context.Context, b []byte) error {
	return c.SendFunc(ctx, b)
}

func (c *ChannelFuncs) Recv(ctx context.Context) ([]byte, error) {
	return c.RecvFunc(ctx)
}

// Direction tells a fault policy whether a frame is leaving or arriving.
type Direction uint8

const (
	DirectionSend Direction = iota
	DirectionRecv
)

// String returns the name of the direction.
func (d Direction) String() string {
	if d == DirectionSend {
		return "send"
	}
	return "recv"
}

// Fault is the decision of a fault policy for a single frame.
type Fault uint8

const (
	// FaultNone passes the frame on untouched.
	FaultNone Fault = iota

	// FaultDrop silently discards the frame.
	FaultDrop

	// FaultCorrupt flips a bit in the frame before passing it on.
	FaultCorrupt
)

// FaultPolicy decides which frames a faulty channel drops or corrupts.
type FaultPolicy interface {
	Fault(dir Direction, frame []byte) Fault
}

// FaultFunc adapts a function to the FaultPolicy interface.
type FaultFunc func(dir Direction, frame []byte) Fault

// Fault calls f.
func (f FaultFunc) Fault(dir Direction, frame []byte) Fault {
	return f(dir, frame)
}

// RandomFaults drops frames independently per direction with fixed
// probabilities and optionally corrupts frames that survive.
type RandomFaults struct {
	sendLoss float64
	recvLoss float64
	corrupt  float64

	mu  sync.Mutex
	rng *rand.Rand
}

var _ FaultPolicy = (*RandomFaults)(nil)

// NewRandomFaults creates a RandomFaults policy. All probabilities must lie
// in [0, 1]. The seed makes a run reproducible.
func NewRandomFaults(sendLoss, recvLoss, corrupt float64,
	seed int64) (*RandomFaults, error) {

	for _, p := range []float64{sendLoss, recvLoss, corrupt} {
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("%w: probability %v is not in "+
				"[0, 1]", ErrInvalidConfig, p)
		}
	}

	return &RandomFaults{
		sendLoss: sendLoss,
		recvLoss: recvLoss,
		corrupt:  corrupt,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// Fault decides the fate of a single frame.
func (r *RandomFaults) Fault(dir Direction, _ []byte) Fault {
	r.mu.Lock()
	defer r.mu.Unlock()

	loss := r.sendLoss
	if dir == DirectionRecv {
		loss = r.recvLoss
	}

	if loss > 0 && r.rng.Float64() < loss {
		return FaultDrop
	}

	if r.corrupt > 0 && r.rng.Float64() < r.corrupt {
		return FaultCorrupt
	}

	return FaultNone
}

// faultyChannel applies a FaultPolicy to every frame that passes through a
// wrapped channel in either direction.
type faultyChannel struct {
	Channel

	policy FaultPolicy
}

// NewFaultyChannel wraps ch so that policy is consulted for every frame sent
// and received. A nil policy returns ch unchanged.
func NewFaultyChannel(ch Channel, policy FaultPolicy) Channel {
	if policy == nil {
		return ch
	}

	return &faultyChannel{
		Channel: ch,
		policy:  policy,
	}
}

func (f *faultyChannel) Send(ctx context.Context, b []byte) error {
	switch f.policy.Fault(DirectionSend, b) {
	case FaultDrop:
		log.Tracef("Simulated loss of %d byte frame (send)", len(b))
		return nil

	case FaultCorrupt:
		log.Tracef("Simulated corruption of %d byte frame (send)",
			len(b))
		return f.Channel.Send(ctx, corruptCopy(b))

	default:
		return f.Channel.Send(ctx, b)
	}
}

func (f *faultyChannel) Recv(ctx context.Context) ([]byte, error) {
	for {
		b, err := f.Channel.Recv(ctx)
		if err != nil {
			return nil, err
		}

		switch f.policy.Fault(DirectionRecv, b) {
		case FaultDrop:
			log.Tracef("Simulated loss of %d byte frame (recv)",
				len(b))
			continue

		case FaultCorrupt:
			log.Tracef("Simulated corruption of %d byte frame "+
				"(recv)", len(b))
			return corruptCopy(b), nil

		default:
			return b, nil
		}
	}
}

// corruptCopy returns a copy of b with a single bit flipped. A single bit
// error is always caught by both integrity functions.
func corruptCopy(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)

	if len(c) > 0 {
		c[len(c)/2] ^= 0x01
	}

	return c
}
