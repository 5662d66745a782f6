package arq

import "time"

// pendingPacket is a sent but not yet acknowledged data packet.
type pendingPacket struct {
	packet *PacketData

	// frame is the encoded packet as it goes on the wire.
	frame []byte

	// index is the absolute position of the packet in the transfer.
	index uint32

	// deadline is the moment the current retransmission timer of the
	// packet expires. A timer firing before the deadline belongs to an
	// earlier transmission and is stale.
	deadline time.Time

	// resent is set once the packet was retransmitted.
	resent bool
}

// queue is a fixed size queue with a sliding window that has a base and a top
// modulo s. It holds the packets of the send window that have not been
// acknowledged yet.
//
// NOTE: the queue has no lock of its own. It is guarded by the state mutex
// of the Sender that owns it.
type queue struct {
	// s is the size of the sequence space.
	s uint16

	// content is the current content of the queue. This is always a slice
	// of length s but can contain nil elements if the queue isn't full.
	content []*pendingPacket

	// sequenceBase keeps track of the base of the send window and so
	// represents the next ack that we expect from the receiver.
	sequenceBase SeqNum

	// sequenceTop is the sequence number the next packet will get.
	// The difference between sequenceTop and sequenceBase never exceeds
	// the window size.
	sequenceTop SeqNum
}

// newQueue creates a new queue for a sequence space of size s.
func newQueue(s uint16) *queue {
	return &queue{
		s:       s,
		content: make([]*pendingPacket, s),
	}
}

// size is used to calculate the current number of unacknowledged packets.
func (q *queue) size() uint16 {
	return seqDistance(q.sequenceBase, q.sequenceTop, q.s)
}

// addPacket appends a packet to the queue and labels it with the next
// sequence number.
func (q *queue) addPacket(p *pendingPacket) {
	p.packet.Seq = q.sequenceTop
	q.content[q.sequenceTop] = p
	q.sequenceTop = nextSeq(q.sequenceTop, q.s)
}

// get returns the unacknowledged packet with sequence number seq, or nil if
// seq is not part of the window.
func (q *queue) get(seq SeqNum) *pendingPacket {
	if !containsSequence(q.sequenceBase, q.sequenceTop, seq) {
		return nil
	}

	return q.content[seq]
}

// processACK applies a cumulative ACK. If seq lies within the window, every
// packet from the base up to and including seq is removed from the queue and
// returned in order. Any other ACK is stale and leaves the queue untouched.
func (q *queue) processACK(seq SeqNum) []*pendingPacket {
	if !containsSequence(q.sequenceBase, q.sequenceTop, seq) {
		return nil
	}

	acked := make([]*pendingPacket, 0, seqDistance(q.sequenceBase, seq,
		q.s)+1)

	for {
		base := q.sequenceBase
		acked = append(acked, q.content[base])
		q.content[base] = nil
		q.sequenceBase = nextSeq(base, q.s)

		if base == seq {
			break
		}
	}

	return acked
}

// inFlight returns the unacknowledged packets from base to top in order.
func (q *queue) inFlight() []*pendingPacket {
	packets := make([]*pendingPacket, 0, q.size())
	for seq := q.sequenceBase; seq != q.sequenceTop; seq = nextSeq(seq, q.s) {
		packets = append(packets, q.content[seq])
	}

	return packets
}
