package arq

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	SYN    = 0x01
	DATA   = 0x02
	ACK    = 0x03
	FIN    = 0x05
	SYNACK = 0x06

	// trailerSize is the size of the integrity value that closes every
	// frame.
	trailerSize = 2

	// synBodySize is the size of the SYN and SYNACK bodies: type, window,
	// sequence space, total packet count and resend ceiling.
	synBodySize = 1 + 2 + 2 + 4 + 4

	// DataOverhead is the number of bytes a DATA frame adds on top of its
	// payload.
	DataOverhead = 1 + 2 + trailerSize
)

// Message is a single frame body exchanged between sender and receiver.
type Message interface {
	Serialize() ([]byte, error)
}

// PacketData carries one chunk of the payload stream.
type PacketData struct {
	Seq     SeqNum
	Payload []byte
}

var _ Message = (*PacketData)(nil)

func (m *PacketData) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := buf.WriteByte(DATA); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, uint16(m.Seq)); err != nil {
		return nil, err
	}

	if _, err := buf.Write(m.Payload); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// PacketACK cumulatively acknowledges every packet up to and including Seq.
type PacketACK struct {
	Seq SeqNum
}

var _ Message = (*PacketACK)(nil)

func (m *PacketACK) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := buf.WriteByte(ACK); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, uint16(m.Seq)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// PacketSYN opens a transfer. It announces the window size N, the sequence
// space S, the number of packets that will follow and the longest interval
// in milliseconds the sender will wait before resending. A Timeout of zero
// means the sender did not announce one.
type PacketSYN struct {
	N       uint16
	S       uint16
	Total   uint32
	Timeout uint32
}

var _ Message = (*PacketSYN)(nil)

func (m *PacketSYN) Serialize() ([]byte, error) {
	return serializeParams(SYN, m.N, m.S, m.Total, m.Timeout)
}

// PacketSYNACK confirms a SYN by echoing its parameters.
type PacketSYNACK struct {
	N       uint16
	S       uint16
	Total   uint32
	Timeout uint32
}

var _ Message = (*PacketSYNACK)(nil)

func (m *PacketSYNACK) Serialize() ([]byte, error) {
	return serializeParams(SYNACK, m.N, m.S, m.Total, m.Timeout)
}

// PacketFIN tells the receiver that the sender has seen every ACK and is
// going away.
type PacketFIN struct{}

var _ Message = (*PacketFIN)(nil)

func (m *PacketFIN) Serialize() ([]byte, error) {
	return []byte{FIN}, nil
}

func serializeParams(msgType byte, n, s uint16, total,
	timeout uint32) ([]byte, error) {

	b := make([]byte, synBodySize)
	b[0] = msgType
	binary.BigEndian.PutUint16(b[1:3], n)
	binary.BigEndian.PutUint16(b[3:5], s)
	binary.BigEndian.PutUint32(b[5:9], total)
	binary.BigEndian.PutUint32(b[9:13], timeout)

	return b, nil
}

// Deserialize parses a frame body, i.e. a frame without its integrity
// trailer.
func Deserialize(b []byte) (Message, error) {
	const baseLength = 1
	if len(b) < baseLength {
		return nil, ErrMalformedFrame
	}

	switch b[0] {
	case DATA:
		if len(b) < 3 {
			return nil, ErrMalformedFrame
		}
		return &PacketData{
			Seq:     SeqNum(binary.BigEndian.Uint16(b[1:3])),
			Payload: b[3:],
		}, nil

	case ACK:
		if len(b) != 3 {
			return nil, ErrMalformedFrame
		}
		return &PacketACK{
			Seq: SeqNum(binary.BigEndian.Uint16(b[1:3])),
		}, nil

	case SYN, SYNACK:
		if len(b) != synBodySize {
			return nil, ErrMalformedFrame
		}

		n := binary.BigEndian.Uint16(b[1:3])
		s := binary.BigEndian.Uint16(b[3:5])
		total := binary.BigEndian.Uint32(b[5:9])
		timeout := binary.BigEndian.Uint32(b[9:13])

		if b[0] == SYN {
			return &PacketSYN{
				N: n, S: s, Total: total, Timeout: timeout,
			}, nil
		}
		return &PacketSYNACK{
			N: n, S: s, Total: total, Timeout: timeout,
		}, nil

	case FIN:
		if len(b) != 1 {
			return nil, ErrMalformedFrame
		}
		return &PacketFIN{}, nil

	default:
		return nil, fmt.Errorf("%w: unknown type 0x%02x",
			ErrMalformedFrame, b[0])
	}
}

// codec frames messages with an integrity trailer and strips and verifies
// it again on the way in.
type codec struct {
	integrity Integrity
}

// encode serializes msg and appends the integrity value over the body.
func (c *codec) encode(msg Message) ([]byte, error) {
	body, err := msg.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize error: %w", err)
	}

	frame := make([]byte, len(body)+trailerSize)
	copy(frame, body)
	binary.BigEndian.PutUint16(frame[len(body):], c.integrity.Sum(body))

	return frame, nil
}

// decode verifies the integrity trailer of frame and parses its body. A
// frame that fails verification yields ErrCorruptFrame.
func (c *codec) decode(frame []byte) (Message, error) {
	if len(frame) < trailerSize+1 {
		return nil, ErrMalformedFrame
	}

	body := frame[:len(frame)-trailerSize]
	sum := binary.BigEndian.Uint16(frame[len(body):])
	if !c.integrity.Verify(body, sum) {
		return nil, ErrCorruptFrame
	}

	return Deserialize(body)
}
