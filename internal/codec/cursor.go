// Package codec implements the Ascension game-packet framing: a
// length-prefixed header with a variable-width size field, little-endian
// opcodes, and bounds-checked primitive reads over the payload.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedPacket is returned whenever a read would run past the end of
// the buffer. No read is ever allowed to panic or abort —
// every primitive is bounds-checked through Cursor.
var ErrMalformedPacket = errors.New("malformed packet")

// MalformedPacketError carries the taxonomy fields of a rejected frame:
// MalformedPacket{opcode?, offset}.
type MalformedPacketError struct {
	Opcode *uint16
	Offset int
	Reason string
}

func (e *MalformedPacketError) Error() string {
	if e.Opcode != nil {
		return fmt.Sprintf("malformed packet: opcode=0x%04x offset=%d: %s", *e.Opcode, e.Offset, e.Reason)
	}
	return fmt.Sprintf("malformed packet: offset=%d: %s", e.Offset, e.Reason)
}

func (e *MalformedPacketError) Unwrap() error { return ErrMalformedPacket }

// Cursor reads primitive values from a byte slice, refusing to read past
// the end of the buffer. Every exported method advances the cursor only on
// success.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor wraps buf for sequential reading starting at offset 0.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Pos returns the current read offset.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

func (c *Cursor) need(n int) error {
	if n < 0 || c.pos+n > len(c.buf) {
		return &MalformedPacketError{Offset: c.pos, Reason: fmt.Sprintf("need %d bytes, have %d", n, c.Remaining())}
	}
	return nil
}

// ReadByte reads a single byte.
func (c *Cursor) ReadByte() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// ReadBytes reads n raw bytes.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// ReadUint16LE reads a little-endian uint16.
func (c *Cursor) ReadUint16LE() (uint16, error) {
	b, err := c.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32LE reads a little-endian uint32.
func (c *Cursor) ReadUint32LE() (uint32, error) {
	b, err := c.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64LE reads a little-endian uint64 (used for GUIDs).
func (c *Cursor) ReadUint64LE() (uint64, error) {
	b, err := c.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadUint16BE reads a big-endian uint16 (used only in frame headers).
func (c *Cursor) ReadUint16BE() (uint16, error) {
	b, err := c.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadCString reads a NUL-terminated string, erroring if no NUL byte
// appears within maxLen bytes of the current position.
func (c *Cursor) ReadCString(maxLen int) (string, error) {
	limit := c.pos + maxLen
	if limit > len(c.buf) {
		limit = len(c.buf)
	}
	for i := c.pos; i < limit; i++ {
		if c.buf[i] == 0 {
			s := string(c.buf[c.pos:i])
			c.pos = i + 1
			return s, nil
		}
	}
	return "", &MalformedPacketError{Offset: c.pos, Reason: "no NUL terminator within max_len"}
}
