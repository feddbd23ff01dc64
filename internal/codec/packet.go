package codec

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Packet is the decoded form of a single game-server frame: an opcode plus
// its payload.
type Packet struct {
	Opcode  uint16
	Payload []byte
}

// largeFrameThreshold is the point past which the 3-byte size header with
// the high bit set is required instead of the plain 2-byte header.
const largeFrameThreshold = 0x7FFF

// EncodeFrame serializes an outbound game frame: a big-endian size field
// covering payload_len+2 (the opcode width), then the little-endian
// opcode, then the payload.
func EncodeFrame(opcode uint16, payload []byte) []byte {
	sizeField := len(payload) + 2

	var buf bytes.Buffer
	if sizeField <= largeFrameThreshold {
		var sizeBytes [2]byte
		binary.BigEndian.PutUint16(sizeBytes[:], uint16(sizeField))
		buf.Write(sizeBytes[:])
	} else {
		var sizeBytes [4]byte
		binary.BigEndian.PutUint32(sizeBytes[:], uint32(sizeField))
		// 3-byte big-endian size with the high bit of the leading byte set.
		buf.WriteByte(sizeBytes[1] | 0x80)
		buf.Write(sizeBytes[2:4])
	}

	var opBytes [2]byte
	binary.LittleEndian.PutUint16(opBytes[:], opcode)
	buf.Write(opBytes[:])
	buf.Write(payload)

	return buf.Bytes()
}

// ReadFrame reads one inbound game frame from r. Ascension inbound headers
// are plaintext — there is no header stream cipher to undo.
//
// The leading byte's high bit signals a 3-byte size field and MUST be
// masked off before the size arithmetic, never left in place.
func ReadFrame(r io.Reader) (*Packet, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, err
	}

	var size int
	if first[0]&0x80 != 0 {
		var rest [2]byte
		if _, err := io.ReadFull(r, rest[:]); err != nil {
			return nil, err
		}
		size = int(first[0]&0x7F)<<16 | int(rest[0])<<8 | int(rest[1])
	} else {
		var second [1]byte
		if _, err := io.ReadFull(r, second[:]); err != nil {
			return nil, err
		}
		size = int(first[0])<<8 | int(second[0])
	}

	if size < 2 {
		return nil, &MalformedPacketError{Offset: 0, Reason: "frame size smaller than opcode width"}
	}

	var opBytes [2]byte
	if _, err := io.ReadFull(r, opBytes[:]); err != nil {
		return nil, err
	}
	opcode := binary.LittleEndian.Uint16(opBytes[:])

	payloadLen := size - 2
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	return &Packet{Opcode: opcode, Payload: payload}, nil
}
