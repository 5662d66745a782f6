package arq

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memLink is one direction of an in-memory datagram link.
type memLink struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newMemLink() *memLink {
	return &memLink{
		frames: make(chan []byte, 1000),
		closed: make(chan struct{}),
	}
}

func (l *memLink) close() {
	l.once.Do(func() {
		close(l.closed)
	})
}

// memPipe returns the two ends of an in-memory link. Frames are copied on
// send so that a receiver never aliases the sender's buffers. The returned
// cleanup function closes both directions.
func memPipe() (*ChannelFuncs, *ChannelFuncs, func()) {
	aToB := newMemLink()
	bToA := newMemLink()

	end := func(out, in *memLink) *ChannelFuncs {
		return &ChannelFuncs{
			SendFunc: func(ctx context.Context, b []byte) error {
				c := make([]byte, len(b))
				copy(c, b)

				select {
				case out.frames <- c:
					return nil
				case <-out.closed:
					return io.EOF
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			RecvFunc: func(ctx context.Context) ([]byte, error) {
				select {
				case b := <-in.frames:
					return b, nil
				case <-in.closed:
					return nil, io.EOF
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		}
	}

	cleanup := func() {
		aToB.close()
		bToA.close()
	}

	return end(aToB, bToA), end(bToA, aToB), cleanup
}

// interceptSend wraps ch so that drop decides for every outgoing frame
// whether it is lost.
func interceptSend(ch Channel, drop func(frame []byte) bool) Channel {
	return &ChannelFuncs{
		SendFunc: func(ctx context.Context, b []byte) error {
			if drop(b) {
				return nil
			}
			return ch.Send(ctx, b)
		},
		RecvFunc: ch.Recv,
	}
}

// eventLog records the events of a sender or receiver.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) hook(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, ev)
}

func (e *eventLog) ofType(t EventType) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res []Event
	for _, ev := range e.events {
		if ev.Type == t {
			res = append(res, ev)
		}
	}

	return res
}

func (e *eventLog) indices(t EventType) []uint32 {
	var res []uint32
	for _, ev := range e.ofType(t) {
		res = append(res, ev.Index)
	}

	return res
}

// fastTimeouts keeps protocol timers short so tests finish quickly.
func fastTimeouts(extra ...TimeoutOptions) Option {
	opts := []TimeoutOptions{
		WithHandshakeTimeout(50 * time.Millisecond),
		WithRecvPollTimeout(10 * time.Millisecond),
		WithSendTimeout(100 * time.Millisecond),
		WithFinSendTimeout(100 * time.Millisecond),
		WithLingerTimeout(200 * time.Millisecond),
	}

	return WithTimeoutOptions(append(opts, extra...)...)
}

// makePackets creates count distinct payloads.
func makePackets(count int) [][]byte {
	packets := make([][]byte, count)
	for i := range packets {
		packets[i] = []byte{byte(i), byte(i >> 8), 'p', 'k', 't'}
	}

	return packets
}

func joinPackets(packets [][]byte) []byte {
	var res []byte
	for _, p := range packets {
		res = append(res, p...)
	}

	return res
}

type transferResult struct {
	senderSummary   *SenderSummary
	senderErr       error
	receiverSummary *ReceiverSummary
	receiverErr     error
	data            []byte
}

// runTransfer runs a sender and a receiver against each other until both
// return.
func runTransfer(t *testing.T, sender *Sender,
	receiver *Receiver) *transferResult {

	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		res transferResult
		wg  sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()

		res.senderSummary, res.senderErr = sender.Run(ctx)
	}()
	go func() {
		defer wg.Done()

		res.receiverSummary, res.receiverErr = receiver.Run(ctx)
	}()
	wg.Wait()

	require.NoError(t, ctx.Err(), "transfer timed out")

	res.data = receiver.Data()

	return &res
}
