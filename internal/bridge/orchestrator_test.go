package bridge

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/ascension-relay/innkeeper/internal/game"
)

type fakePort struct {
	mu       sync.Mutex
	sent     []sentMessage
	activity []string
	inbound  chan InboundDiscordMessage
}

type sentMessage struct {
	channelID, text string
}

func newFakePort() *fakePort {
	return &fakePort{inbound: make(chan InboundDiscordMessage, 8)}
}

func (f *fakePort) Send(_ context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{channelID, text})
	return nil
}

func (f *fakePort) SetActivity(status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = append(f.activity, status)
	return nil
}

func (f *fakePort) Inbound() <-chan InboundDiscordMessage { return f.inbound }

func (f *fakePort) lastSent() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

func guildRoute(discordChannel string) *RoutingTable {
	route := &Route{
		Key:            WowChannelKey{Tag: KeyGuild},
		DiscordChannel: discordChannel,
		Direction:      Both,
		FormatW2D:      "[Guild] {sender}: {text}",
		FormatD2W:      "{sender}: {text}",
	}
	return &RoutingTable{
		ByWowKey:         map[WowChannelKey][]*Route{route.Key: {route}},
		ByDiscordChannel: map[string][]*Route{discordChannel: {route}},
	}
}

func TestHandleWowChatRoutesToDiscord(t *testing.T) {
	port := newFakePort()
	state := &BridgeState{Routing: guildRoute("42"), CommandChannels: map[string]bool{}}
	b := New(state, port, nil, nil, nil, "TestRealm", slog.Default())

	b.handleWowChat(game.ChatMessage{Type: game.ChatGuild, SenderName: "Arthas", Text: "hello"})

	got := port.lastSent()
	if got.channelID != "42" || got.text != "[Guild] Arthas: hello" {
		t.Errorf("sent = %+v", got)
	}
}

func TestHandleWowChatDropsFilteredMessage(t *testing.T) {
	port := newFakePort()
	routing := guildRoute("42")
	routing.ByWowKey[WowChannelKey{Tag: KeyGuild}][0].FilterW2D = compilePatterns([]string{"secret"}, slog.Default())
	state := &BridgeState{Routing: routing, CommandChannels: map[string]bool{}}
	b := New(state, port, nil, nil, nil, "TestRealm", slog.Default())

	b.handleWowChat(game.ChatMessage{Type: game.ChatGuild, SenderName: "Arthas", Text: "this is secret business"})

	if len(port.sent) != 0 {
		t.Errorf("expected filtered message to be dropped, got %+v", port.sent)
	}
}

func TestHandleDiscordMessageRoutesToWowWhisper(t *testing.T) {
	state := &BridgeState{Routing: guildRoute("42"), CommandChannels: map[string]bool{}}
	port := newFakePort()
	b := New(state, port, nil, nil, nil, "TestRealm", slog.Default())

	sent := setupGameClientForSend(t, b)

	b.handleDiscordMessage(context.Background(), InboundDiscordMessage{
		ChannelID:  "42",
		AuthorName: "Jaina",
		Content:    "/w Bob sup",
	})

	if len(sent.frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(sent.frames))
	}
	if sent.frames[0].chatType != game.ChatWhisper || sent.frames[0].target != "Bob" || sent.frames[0].text != "sup" {
		t.Errorf("frame = %+v", sent.frames[0])
	}
}

func TestHandleDiscordMessageRoutesOrdinaryText(t *testing.T) {
	state := &BridgeState{Routing: guildRoute("42"), CommandChannels: map[string]bool{}}
	port := newFakePort()
	b := New(state, port, nil, nil, nil, "TestRealm", slog.Default())

	sent := setupGameClientForSend(t, b)

	b.handleDiscordMessage(context.Background(), InboundDiscordMessage{
		ChannelID:  "42",
		AuthorName: "Jaina",
		Content:    "gg everyone",
	})

	if len(sent.frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(sent.frames))
	}
	if sent.frames[0].chatType != game.ChatGuild || sent.frames[0].text != "Jaina: gg everyone" {
		t.Errorf("frame = %+v", sent.frames[0])
	}
}

func TestDispatchBangCommandOnlineEmpty(t *testing.T) {
	state := &BridgeState{Routing: guildRoute("42"), CommandChannels: map[string]bool{"42": true}}
	port := newFakePort()
	b := New(state, port, nil, nil, nil, "TestRealm", slog.Default())
	setupGameClientForSend(t, b)

	b.handleDiscordMessage(context.Background(), InboundDiscordMessage{ChannelID: "42", Content: "!online"})

	got := port.lastSent()
	if got.text != "nobody is online" {
		t.Errorf("got %q", got.text)
	}
}

func TestDispatchDotCommandRejectsUnlisted(t *testing.T) {
	state := &BridgeState{
		Routing:             guildRoute("42"),
		CommandChannels:     map[string]bool{"42": true},
		DotCommandWhitelist: []string{"guild*"},
		EnableDotCommands:   true,
	}
	port := newFakePort()
	b := New(state, port, nil, nil, nil, "TestRealm", slog.Default())
	setupGameClientForSend(t, b)

	b.handleDiscordMessage(context.Background(), InboundDiscordMessage{ChannelID: "42", Content: ".raid invite Bob"})

	got := port.lastSent()
	if got.text == "" {
		t.Fatalf("expected a whitelist-rejection reply")
	}
}

func TestSplitChatTextPrefersWhitespaceSplit(t *testing.T) {
	text := "a very long sentence that definitely exceeds the cutoff length we are testing against right now in this unit test body"
	chunks := splitChatText(text, 40)
	for i, c := range chunks {
		if len(c) > 40 {
			t.Errorf("chunk %d exceeds limit: %q (%d bytes)", i, c, len(c))
		}
	}
	joined := ""
	for _, c := range chunks {
		if joined != "" {
			joined += " "
		}
		joined += c
	}
	if joined != text {
		t.Errorf("rejoined chunks = %q, want %q", joined, text)
	}
}

func TestSplitChatTextNeverSplitsMultiByteCharacter(t *testing.T) {
	text := "a" + string([]rune{0x1F525}) + "b" // fire emoji, 4 bytes in UTF-8
	for limit := 1; limit <= len(text); limit++ {
		var rebuilt string
		for _, c := range splitChatText(text, limit) {
			if !utf8.ValidString(c) {
				t.Fatalf("chunk %q at limit %d is not valid UTF-8", c, limit)
			}
			rebuilt += c
		}
		if rebuilt != text {
			t.Fatalf("limit %d: rebuilt %q, want %q", limit, rebuilt, text)
		}
	}
}

// --- fake GameClient, for exercising the send path without a live handshake ---

type capturedFrame struct {
	chatType game.ChatType
	target   string
	text     string
}

type fakeGameClient struct {
	roster *game.Roster
	frames []capturedFrame
}

func newFakeGameClient() *fakeGameClient {
	return &fakeGameClient{roster: game.NewRoster()}
}

func (f *fakeGameClient) Phase() game.Phase    { return game.InWorld }
func (f *fakeGameClient) Roster() *game.Roster { return f.roster }

func (f *fakeGameClient) SendChat(chatType game.ChatType, target, text string) error {
	f.frames = append(f.frames, capturedFrame{chatType, target, text})
	return nil
}

// setupGameClientForSend points b at a fakeGameClient already in the
// InWorld phase, bypassing the real game.Client handshake that
// internal/game's own tests already exercise, and returns it so tests can
// inspect the frames the bridge wrote.
func setupGameClientForSend(t *testing.T, b *Bridge) *fakeGameClient {
	t.Helper()
	c := newFakeGameClient()
	b.client = c
	return c
}
