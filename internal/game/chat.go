package game

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/ascension-relay/innkeeper/internal/codec"
)

// ChatMessage is an inbound chat event. SenderName is empty until resolved
// via NameCache — client.go (resolveAndEmit) / pending.go own that deferral.
type ChatMessage struct {
	Type        ChatType
	Language    uint32
	SenderGUID  uint64
	SenderName  string
	ChannelName string
	TargetGUID  uint64
	TargetName  string
	Text        string
	Flags       uint8
	Timestamp   time.Time
}

// ParseMessageChat decodes a MESSAGECHAT (or GM_MESSAGECHAT, which only
// differs by a preceding GM prefix block the caller strips before calling
// this) payload.
func ParseMessageChat(payload []byte) (*ChatMessage, error) {
	c := codec.NewCursor(payload)

	chatTypeByte, err := c.ReadByte()
	if err != nil {
		return nil, err
	}
	chatType := ChatType(chatTypeByte)

	language, err := c.ReadUint32LE()
	if err != nil {
		return nil, err
	}

	senderGUID, err := c.ReadUint64LE()
	if err != nil {
		return nil, err
	}

	// Skipped field ("u32 skipped").
	if _, err := c.ReadUint32LE(); err != nil {
		return nil, err
	}

	msg := &ChatMessage{
		Type:       chatType,
		Language:   language,
		SenderGUID: senderGUID,
		Timestamp:  time.Now(),
	}

	if chatType.hasChannelName() {
		name, err := c.ReadCString(256)
		if err != nil {
			return nil, err
		}
		msg.ChannelName = name
	}

	if chatType.hasTargetGUID() {
		targetGUID, err := c.ReadUint64LE()
		if err != nil {
			return nil, err
		}
		msg.TargetGUID = targetGUID
	}

	textLen, err := c.ReadUint32LE()
	if err != nil {
		return nil, err
	}
	textBytes, err := c.ReadBytes(int(textLen))
	if err != nil {
		return nil, err
	}
	msg.Text = string(textBytes)

	tag, err := c.ReadByte()
	if err != nil {
		return nil, err
	}
	msg.Flags = tag

	return msg, nil
}

// BuildMessageChatFrame builds an outbound MESSAGECHAT frame. This is not a
// byte-for-byte inverse of ParseMessageChat: the client addresses a whisper
// by the recipient's name, while the server reports one back by GUID, so
// target here is a C-string, never the u64 ParseMessageChat reads.
func BuildMessageChatFrame(chatType ChatType, target, text string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(chatType))

	var langBytes [4]byte
	binary.LittleEndian.PutUint32(langBytes[:], 0) // universal language
	buf.Write(langBytes[:])

	if chatType.hasChannelName() || chatType == ChatWhisper {
		buf.WriteString(target)
		buf.WriteByte(0)
	}

	textBytes := []byte(text)
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(textBytes)))
	buf.Write(lenBytes[:])
	buf.Write(textBytes)

	return codec.EncodeFrame(uint16(OpMessageChat), buf.Bytes())
}
