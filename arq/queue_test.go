package arq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainsSequence(t *testing.T) {
	tests := []struct {
		base     SeqNum
		top      SeqNum
		seq      SeqNum
		contains bool
	}{
		{base: 0, top: 0, seq: 0, contains: false},
		{base: 0, top: 3, seq: 0, contains: true},
		{base: 0, top: 3, seq: 2, contains: true},
		{base: 0, top: 3, seq: 3, contains: false},
		{base: 3, top: 1, seq: 3, contains: true},
		{base: 3, top: 1, seq: 0, contains: true},
		{base: 3, top: 1, seq: 1, contains: false},
		{base: 3, top: 1, seq: 2, contains: false},
	}

	for _, test := range tests {
		require.Equal(t, test.contains,
			containsSequence(test.base, test.top, test.seq),
			"base=%d top=%d seq=%d", test.base, test.top, test.seq)
	}
}

func TestSeqArithmetic(t *testing.T) {
	require.Equal(t, SeqNum(1), nextSeq(0, 2))
	require.Equal(t, SeqNum(0), nextSeq(1, 2))
	require.Equal(t, SeqNum(1), prevSeq(0, 2))
	require.Equal(t, SeqNum(4), prevSeq(0, 5))
	require.Equal(t, SeqNum(65534), prevSeq(0, 65535))

	require.Equal(t, uint16(0), seqDistance(3, 3, 5))
	require.Equal(t, uint16(2), seqDistance(3, 0, 5))
	require.Equal(t, uint16(4), seqDistance(1, 0, 5))
}

func newTestPacket(idx uint32) *pendingPacket {
	return &pendingPacket{
		packet: &PacketData{Payload: []byte{byte(idx)}},
		index:  idx,
	}
}

func TestQueue(t *testing.T) {
	q := newQueue(5)
	require.Equal(t, uint16(0), q.size())
	require.Empty(t, q.inFlight())

	for i := uint32(0); i < 4; i++ {
		p := newTestPacket(i)
		q.addPacket(p)
		require.Equal(t, SeqNum(i), p.packet.Seq)
	}
	require.Equal(t, uint16(4), q.size())
	require.Equal(t, uint32(2), q.get(2).index)
	require.Nil(t, q.get(4))

	// A cumulative ack removes everything up to and including its seq.
	acked := q.processACK(1)
	require.Len(t, acked, 2)
	require.Equal(t, uint32(0), acked[0].index)
	require.Equal(t, uint32(1), acked[1].index)
	require.Equal(t, uint16(2), q.size())
	require.Nil(t, q.get(1))

	// Repeating it has no effect.
	require.Nil(t, q.processACK(1))
	require.Nil(t, q.processACK(0))
	require.Equal(t, uint16(2), q.size())

	// Wrap around the sequence space.
	for i := uint32(4); i < 6; i++ {
		q.addPacket(newTestPacket(i))
	}
	require.Equal(t, uint16(4), q.size())

	inFlight := q.inFlight()
	require.Len(t, inFlight, 4)
	for i, p := range inFlight {
		require.Equal(t, uint32(i+2), p.index)
		require.Equal(t, SeqNum((i+2)%5), p.packet.Seq)
	}

	acked = q.processACK(0)
	require.Len(t, acked, 4)
	require.Equal(t, uint16(0), q.size())
	require.Nil(t, q.processACK(0))
}
