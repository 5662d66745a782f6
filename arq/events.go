package arq

import (
	"fmt"
	"time"
)

// EventType identifies a protocol event reported to an event hook.
type EventType uint8

const (
	// EventSend is the first transmission of a data packet.
	EventSend EventType = iota

	// EventRetransmit is the retransmission of a data packet.
	EventRetransmit

	// EventTimeout is a retransmission timer that fired for an
	// outstanding packet.
	EventTimeout

	// EventAck is an ACK that advanced the window base.
	EventAck

	// EventStaleAck is an ACK for a packet that was already
	// acknowledged.
	EventStaleAck

	// EventDeliver is a packet accepted in order by the receiver.
	EventDeliver

	// EventDuplicate is an out-of-order or duplicate packet seen by the
	// receiver.
	EventDuplicate

	// EventCorrupt is a frame that failed its integrity check.
	EventCorrupt
)

// String returns the name of the event type.
func (e EventType) String() string {
	switch e {
	case EventSend:
		return "send"
	case EventRetransmit:
		return "retransmit"
	case EventTimeout:
		return "timeout"
	case EventAck:
		return "ack"
	case EventStaleAck:
		return "stale-ack"
	case EventDeliver:
		return "deliver"
	case EventDuplicate:
		return "duplicate"
	case EventCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Event is a single protocol event. Index is the absolute packet index the
// event refers to where one is known.
type Event struct {
	Type  EventType
	Seq   SeqNum
	Index uint32
}

// String returns a compact representation of the event.
func (e Event) String() string {
	return fmt.Sprintf("%v(seq=%d, idx=%d)", e.Type, e.Seq, e.Index)
}

// SenderSummary describes a finished or aborted transfer from the sending
// side.
type SenderSummary struct {
	// Packets is the number of packets in the transfer.
	Packets uint32

	// Sent counts first transmissions of data packets.
	Sent uint64

	// Retransmissions counts all data packets sent again after a
	// timeout.
	Retransmissions uint64

	// Timeouts counts timer expiries that triggered a retransmission
	// round.
	Timeouts uint64

	// AcksReceived counts every valid ACK frame.
	AcksReceived uint64

	// DuplicateAcks counts ACKs that did not advance the window.
	DuplicateAcks uint64

	// Corrupted counts frames that failed the integrity check.
	Corrupted uint64

	Duration time.Duration
}

// String returns a one line summary.
func (s SenderSummary) String() string {
	return fmt.Sprintf("packets=%d sent=%d retransmissions=%d "+
		"timeouts=%d acks=%d dup_acks=%d corrupt=%d elapsed=%v",
		s.Packets, s.Sent, s.Retransmissions, s.Timeouts,
		s.AcksReceived, s.DuplicateAcks, s.Corrupted, s.Duration)
}

// ReceiverSummary describes a finished or aborted transfer from the
// receiving side.
type ReceiverSummary struct {
	// Packets is the number of packets the sender announced.
	Packets uint32

	// Delivered is the number of packets accepted in order.
	Delivered uint32

	// Bytes is the size of the reassembled stream.
	Bytes int

	// Duplicates counts out-of-order and duplicate data packets.
	Duplicates uint64

	// AcksSent counts every ACK sent, duplicates included.
	AcksSent uint64

	// Corrupted counts frames that failed the integrity check.
	Corrupted uint64

	Duration time.Duration
}

// String returns a one line summary.
func (s ReceiverSummary) String() string {
	return fmt.Sprintf("packets=%d delivered=%d bytes=%d duplicates=%d "+
		"acks=%d corrupt=%d elapsed=%v", s.Packets, s.Delivered,
		s.Bytes, s.Duplicates, s.AcksSent, s.Corrupted, s.Duration)
}
