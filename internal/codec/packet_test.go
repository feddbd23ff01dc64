package codec

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		opcode  uint16
		payload []byte
	}{
		{"empty payload", 0x00CE, nil},
		{"small payload", 0x0036, []byte("hello")},
		{"large payload near threshold", 0x01EE, bytes.Repeat([]byte{0xAB}, 0x7FFD)},
		{"large payload needing 3-byte header", 0x01EE, bytes.Repeat([]byte{0xCD}, 0x8000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := EncodeFrame(tt.opcode, tt.payload)
			pkt, err := ReadFrame(bytes.NewReader(frame))
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}
			if pkt.Opcode != tt.opcode {
				t.Errorf("opcode = 0x%04x, want 0x%04x", pkt.Opcode, tt.opcode)
			}
			if !bytes.Equal(pkt.Payload, tt.payload) {
				t.Errorf("payload length = %d, want %d", len(pkt.Payload), len(tt.payload))
			}
		})
	}
}

func TestReadFrameTruncated(t *testing.T) {
	full := EncodeFrame(0x1234, []byte("payload"))
	for i := 0; i < len(full)-1; i++ {
		_, err := ReadFrame(bytes.NewReader(full[:i]))
		if err == nil {
			t.Fatalf("truncated frame at %d bytes decoded without error", i)
		}
	}
}

func TestCursorReadCStringMissingNUL(t *testing.T) {
	c := NewCursor([]byte("no terminator here"))
	if _, err := c.ReadCString(8); err == nil {
		t.Fatal("expected error for missing NUL within max_len")
	}
}

func TestCursorReadCStringOK(t *testing.T) {
	c := NewCursor([]byte("Alice\x00trailing"))
	s, err := c.ReadCString(32)
	if err != nil {
		t.Fatalf("ReadCString: %v", err)
	}
	if s != "Alice" {
		t.Errorf("got %q, want %q", s, "Alice")
	}
}

func TestCursorBoundsChecked(t *testing.T) {
	c := NewCursor([]byte{0x01, 0x02})
	if _, err := c.ReadUint32LE(); err == nil {
		t.Fatal("expected bounds error reading past buffer end")
	}
}
