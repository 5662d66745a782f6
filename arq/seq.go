package arq

// SeqNum is a packet sequence number. Sequence numbers live in a finite
// modular space of size s: they are handed out incrementally modulo s and
// wrap back to zero once the space is exhausted.
type SeqNum uint16

// nextSeq returns the sequence number following seq in a space of size s.
func nextSeq(seq SeqNum, s uint16) SeqNum {
	return SeqNum((uint32(seq) + 1) % uint32(s))
}

// prevSeq returns the sequence number preceding seq in a space of size s.
func prevSeq(seq SeqNum, s uint16) SeqNum {
	return SeqNum((uint32(seq) + uint32(s) - 1) % uint32(s))
}

// seqDistance returns how many increments it takes to get from `from` to
// `to` in a space of size s.
func seqDistance(from, to SeqNum, s uint16) uint16 {
	return uint16((uint32(to) + uint32(s) - uint32(from)) % uint32(s))
}

// containsSequence is used to determine if a number, seq, is between two other
// numbers, base and top, where all the numbers lie in a finite field (modulo
// space) s.
func containsSequence(base, top, seq SeqNum) bool {
	// If base and top are equal then the window is empty.
	if base == top {
		return false
	}

	if base < top {
		return base <= seq && seq < top
	}

	// top < base
	return seq < top || base <= seq
}
