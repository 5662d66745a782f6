package itest

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"time"

	"github.com/stretchr/testify/require"
)

const transferTimeout = time.Minute

func randomData(t *harnessTest, size int) []byte {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t.t, err)

	return data
}

// runTransfer sends data to the running receiver and waits for both sides.
func runTransfer(t *harnessTest, sender *senderHarness,
	data []byte) *receiverResult {

	ctx, cancel := context.WithTimeout(
		context.Background(), transferTimeout,
	)
	defer cancel()

	summary, err := sender.send(ctx, data)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	t.Logf("Sender: %v", summary)

	res := t.receiver.wait(transferTimeout)
	if res.err != nil {
		t.Fatalf("receive failed: %v", res.err)
	}
	t.Logf("Receiver: %v", res.summary)

	return res
}

// testHappyPath ensures that a file arrives intact when no frames are lost.
func testHappyPath(t *harnessTest) {
	receiver := t.startReceiver()
	data := randomData(t, 64*1024)

	res := runTransfer(t, t.newSender(), data)
	require.Equal(t.t, data, receiver.received())
	require.Equal(t.t, uint32(64), res.summary.Delivered)
	require.Zero(t.t, res.summary.Corrupted)
}

// testLossyTransfer ensures that a file arrives intact when both ends lose
// frames.
func testLossyTransfer(t *harnessTest) {
	receiver := t.startReceiver(withReceiverLoss(0.1))
	data := randomData(t, 32*1024)

	runTransfer(t, t.newSender(withSenderLoss(0.1, 0)), data)
	require.Equal(t.t, data, receiver.received())
}

// testCorruptedTransfer ensures that corrupted frames are discarded and
// recovered like lost ones.
func testCorruptedTransfer(t *harnessTest) {
	receiver := t.startReceiver()
	data := randomData(t, 32*1024)

	runTransfer(t, t.newSender(withSenderLoss(0, 0.1)), data)
	require.Equal(t.t, data, receiver.received())
}

// testLargeTransfer sends a few megabytes with a large window.
func testLargeTransfer(t *harnessTest) {
	receiver := t.startReceiver()
	data := randomData(t, 4*1024*1024)

	runTransfer(t, t.newSender(withWindow(64)), data)
	require.Equal(t.t, data, receiver.received())
}

// testBoltSink ensures that a transfer is journaled in the bolt sink and can
// be read back.
func testBoltSink(t *harnessTest) {
	dbPath := filepath.Join(t.t.TempDir(), "transfers.db")
	receiver := t.startReceiver(withBoltSink(dbPath))
	data := randomData(t, 16*1024)

	runTransfer(t, t.newSender(), data)

	transfer, err := receiver.bolt.Get(receiver.bolt.LastID())
	require.NoError(t.t, err)
	require.Equal(t.t, data, transfer.Data)
	require.Equal(t.t, uint64(len(data)), transfer.Size)
}

// testEmptyTransfer ensures that an empty file can be sent.
func testEmptyTransfer(t *harnessTest) {
	receiver := t.startReceiver()

	res := runTransfer(t, t.newSender(), nil)
	require.Empty(t.t, receiver.received())
	require.Zero(t.t, res.summary.Delivered)
}
