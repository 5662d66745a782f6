package itest

import (
	"context"
	"sync"
	"time"

	"github.com/lightninglabs/arq/arq"
	"github.com/lightninglabs/arq/sink"
	"github.com/lightninglabs/arq/transport"
)

// receiverResult is what a finished receiver run produced.
type receiverResult struct {
	summary *arq.ReceiverSummary
	err     error
}

type receiverHarness struct {
	integrity arq.Integrity
	loss      float64
	linger    time.Duration

	// dbPath, if set, makes the receiver journal into a bolt sink
	// instead of keeping the data in memory.
	dbPath string
	bolt   *sink.Bolt

	conn     *transport.UDP
	receiver *arq.Receiver

	mu   sync.Mutex
	data []byte

	resultChan chan *receiverResult
	cancel     func()

	wg sync.WaitGroup
}

type receiverOption func(*receiverHarness)

func withReceiverIntegrity(integrity arq.Integrity) receiverOption {
	return func(r *receiverHarness) {
		r.integrity = integrity
	}
}

func withReceiverLoss(loss float64) receiverOption {
	return func(r *receiverHarness) {
		r.loss = loss
	}
}

func withBoltSink(path string) receiverOption {
	return func(r *receiverHarness) {
		r.dbPath = path
	}
}

func newReceiverHarness(opts ...receiverOption) (*receiverHarness, error) {
	r := &receiverHarness{
		linger:     500 * time.Millisecond,
		resultChan: make(chan *receiverResult, 1),
	}
	for _, opt := range opts {
		opt(r)
	}

	conn, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	r.conn = conn

	var out arq.Sink = arq.SinkFunc(func(data []byte) error {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.data = append([]byte(nil), data...)
		return nil
	})
	if r.dbPath != "" {
		r.bolt, err = sink.OpenBolt(r.dbPath)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		out = r.bolt
	}

	var ch arq.Channel = conn
	if r.loss > 0 {
		faults, err := arq.NewRandomFaults(
			r.loss, r.loss, 0, time.Now().UnixNano(),
		)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		ch = arq.NewFaultyChannel(conn, faults)
	}

	r.receiver, err = arq.NewReceiver(
		ch, out, arq.WithIntegrity(r.integrity),
		arq.WithLogPrefix("(itest receiver)"),
		arq.WithTimeoutOptions(
			arq.WithRecvPollTimeout(20*time.Millisecond),
			arq.WithLingerTimeout(r.linger),
		),
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return r, nil
}

func (r *receiverHarness) addr() string {
	return r.conn.LocalAddr().String()
}

func (r *receiverHarness) start() error {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		summary, err := r.receiver.Run(ctx)
		r.resultChan <- &receiverResult{summary: summary, err: err}
	}()

	return nil
}

// wait blocks until the receiver finished its transfer.
func (r *receiverHarness) wait(timeout time.Duration) *receiverResult {
	select {
	case res := <-r.resultChan:
		return res

	case <-time.After(timeout):
		return &receiverResult{err: context.DeadlineExceeded}
	}
}

// received returns the data handed to the in-memory sink.
func (r *receiverHarness) received() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.data
}

func (r *receiverHarness) stop() error {
	r.cancel()
	r.wg.Wait()

	err := r.conn.Close()

	if r.bolt != nil {
		if boltErr := r.bolt.Close(); err == nil {
			err = boltErr
		}
	}

	return err
}
