package game

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ascension-relay/innkeeper/internal/codec"
	"github.com/ascension-relay/innkeeper/internal/realm"
)

// fakeGameServer plays the server side of the post-realm handshake and
// steady-state traffic well enough to drive a guild chat relay scenario
// with deferred name resolution.
type fakeGameServer struct {
	conn          net.Conn
	characterName string
	characterGUID uint64
}

func (s *fakeGameServer) writeFrame(opcode Opcode, payload []byte) {
	_, _ = s.conn.Write(codec.EncodeFrame(uint16(opcode), payload))
}

func (s *fakeGameServer) readFrame(t *testing.T) *codec.Packet {
	t.Helper()
	pkt, err := codec.ReadFrame(s.conn)
	if err != nil {
		t.Fatalf("server: read frame: %v", err)
	}
	return pkt
}

func (s *fakeGameServer) runHandshake(t *testing.T) {
	t.Helper()

	s.writeFrame(OpAuthChallenge, []byte{1, 2, 3, 4})

	if pkt := s.readFrame(t); pkt.Opcode != uint16(OpAuthSession) {
		t.Fatalf("expected AUTH_SESSION, got 0x%04x", pkt.Opcode)
	}
	s.writeFrame(OpAuthResponse, []byte{byte(AuthResultOK)})

	if pkt := s.readFrame(t); pkt.Opcode != uint16(OpCharEnum) {
		t.Fatalf("expected CHAR_ENUM request, got 0x%04x", pkt.Opcode)
	}
	var buf bytes.Buffer
	buf.WriteByte(1)
	var guidBytes [8]byte
	binary.LittleEndian.PutUint64(guidBytes[:], s.characterGUID)
	buf.Write(guidBytes[:])
	buf.WriteString(s.characterName)
	buf.WriteByte(0)
	buf.WriteByte(80)
	s.writeFrame(OpCharEnum, buf.Bytes())

	if pkt := s.readFrame(t); pkt.Opcode != uint16(OpPlayerLogin) {
		t.Fatalf("expected PLAYER_LOGIN, got 0x%04x", pkt.Opcode)
	}
	s.writeFrame(OpLoginVerifyWorld, nil)
}

func newTestClient(conn net.Conn) *Client {
	return NewClient(conn, ClientConfig{
		Build:     12340,
		Account:   "tester",
		Character: "Arthas",
	}, realm.SessionKey{}, nil)
}

func TestClientHandshakeAndDeferredChatResolution(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	server := &fakeGameServer{conn: serverConn, characterName: "Arthas", characterGUID: 7}

	received := make(chan ChatMessage, 1)
	c := newTestClient(clientConn)
	c.OnChatMessage = func(msg ChatMessage) { received <- msg }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.runHandshake(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Run(ctx)
	}()

	// Wait until the handshake completes and the client is steady-state.
	deadline := time.Now().Add(2 * time.Second)
	for c.Phase() != InWorld && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if c.Phase() != InWorld {
		t.Fatalf("client never reached InWorld, stuck at %s", c.Phase())
	}

	server.writeFrame(OpMessageChat, encodeInboundMessageChat(t, 42, "for the horde"))

	// The client has no cached name for GUID 42, so it must ask.
	nameQueryPkt := server.readFrame(t)
	if nameQueryPkt.Opcode != uint16(OpNameQuery) {
		t.Fatalf("expected NAME_QUERY, got 0x%04x", nameQueryPkt.Opcode)
	}

	var reply bytes.Buffer
	var guidBytes [8]byte
	binary.LittleEndian.PutUint64(guidBytes[:], 42)
	reply.Write(guidBytes[:])
	reply.WriteByte(1) // found
	reply.WriteString("Mallory")
	reply.WriteByte(0)
	server.writeFrame(OpNameQueryReply, reply.Bytes())

	select {
	case msg := <-received:
		if msg.SenderName != "Mallory" {
			t.Errorf("SenderName = %q, want Mallory", msg.SenderName)
		}
		if msg.Text != "for the horde" {
			t.Errorf("Text = %q, want %q", msg.Text, "for the horde")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resolved chat message")
	}

	cancel()
	wg.Wait()
}

func TestClientCharacterNotFound(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	server := &fakeGameServer{conn: serverConn, characterName: "SomeoneElse", characterGUID: 1}
	go func() {
		server.writeFrame(OpAuthChallenge, []byte{1, 2, 3, 4})
		if pkt, err := codec.ReadFrame(server.conn); err != nil || pkt.Opcode != uint16(OpAuthSession) {
			return
		}
		server.writeFrame(OpAuthResponse, []byte{byte(AuthResultOK)})
		if pkt, err := codec.ReadFrame(server.conn); err != nil || pkt.Opcode != uint16(OpCharEnum) {
			return
		}
		var buf bytes.Buffer
		buf.WriteByte(1)
		var guidBytes [8]byte
		binary.LittleEndian.PutUint64(guidBytes[:], server.characterGUID)
		buf.Write(guidBytes[:])
		buf.WriteString(server.characterName)
		buf.WriteByte(0)
		buf.WriteByte(80)
		server.writeFrame(OpCharEnum, buf.Bytes())
	}()

	c := newTestClient(clientConn)
	err := c.Run(context.Background())
	if err != ErrCharacterNotFound {
		t.Fatalf("Run() = %v, want ErrCharacterNotFound", err)
	}
}

// encodeInboundMessageChat builds a SMSG-shaped MESSAGECHAT payload (the
// direction ParseMessageChat decodes), distinct from the CMSG shape
// BuildMessageChatFrame produces for the outbound direction.
func encodeInboundMessageChat(t *testing.T, senderGUID uint64, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteByte(byte(ChatGuild))

	var langBytes [4]byte
	buf.Write(langBytes[:])

	var guidBytes [8]byte
	binary.LittleEndian.PutUint64(guidBytes[:], senderGUID)
	buf.Write(guidBytes[:])

	var skipped [4]byte
	buf.Write(skipped[:])

	textBytes := []byte(text)
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(textBytes)))
	buf.Write(lenBytes[:])
	buf.Write(textBytes)

	buf.WriteByte(0) // flags

	return buf.Bytes()
}
