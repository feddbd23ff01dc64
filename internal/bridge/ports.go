package bridge

import (
	"context"

	"github.com/ascension-relay/innkeeper/internal/game"
)

// GameClient is the orchestrator's view of game.Client: phase, roster, and
// outbound chat. An interface so the bridge can be tested without driving a
// real handshake.
type GameClient interface {
	Phase() game.Phase
	Roster() *game.Roster
	SendChat(chatType game.ChatType, target, text string) error
}

// InboundDiscordMessage is one message received from the Discord adapter,
// already flattened to the fields the orchestrator needs.
type InboundDiscordMessage struct {
	AuthorID    string
	AuthorName  string
	ChannelID   string
	GuildID     string
	Content     string
	Attachments []string
}

// DiscordPort is the orchestrator's view of internal/discordadapter: send
// outbound text, update the bot's activity status, and drain inbound
// messages. Kept as an interface so bridge can be tested without a live
// discordgo session.
type DiscordPort interface {
	Send(ctx context.Context, channelID, text string) error
	SetActivity(status string) error
	Inbound() <-chan InboundDiscordMessage
}
