// Package discordadapter wraps bwmarrin/discordgo behind the
// bridge.DiscordPort, resolver.GuildLookup and resolver.DiscordLookup
// interfaces so the rest of Innkeeper never imports discordgo directly.
package discordadapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ascension-relay/innkeeper/internal/bridge"
)

// maxMessageLen is Discord's hard per-message character limit.
const maxMessageLen = 2000

// inboundBuffer bounds the channel Run drains. A full buffer means the
// bridge's Discord->WoW side is stalled; new messages are dropped with a
// warning rather than blocking the gateway's event dispatch goroutine.
const inboundBuffer = 64

// guildAvailableTimeout bounds the wait for the bridged guild's GUILD_CREATE
// payload to land in the state cache after the gateway handshake completes.
const guildAvailableTimeout = 5 * time.Second

// Adapter connects to the Discord gateway and exposes it through the
// interfaces internal/bridge and internal/resolver depend on.
type Adapter struct {
	session *discordgo.Session
	guildID string
	logger  *slog.Logger

	mu        sync.RWMutex
	botUserID string

	inbound chan bridge.InboundDiscordMessage
}

// New builds an Adapter from a bot token and the single Discord guild being
// bridged. It does not open the gateway connection; call Start for that.
func New(token, guildID string, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discordadapter: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	a := &Adapter{
		session: session,
		guildID: guildID,
		logger:  logger.With("component", "discordadapter"),
		inbound: make(chan bridge.InboundDiscordMessage, inboundBuffer),
	}
	session.AddHandler(a.handleMessageCreate)

	return a, nil
}

// Start opens the gateway connection and warms the guild member cache so
// ResolveMemberByName has something to search against immediately.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discordadapter: open gateway: %w", err)
	}

	me, err := a.session.User("@me")
	if err != nil {
		_ = a.session.Close()
		return fmt.Errorf("discordadapter: fetch bot identity: %w", err)
	}
	a.mu.Lock()
	a.botUserID = me.ID
	a.mu.Unlock()

	a.awaitGuildAvailable(ctx)
	a.warmMemberCache(ctx)

	a.logger.Info("connected to discord", "username", me.Username, "guild_id", a.guildID)
	return nil
}

// awaitGuildAvailable waits for the GUILD_CREATE dispatch that populates the
// bridged guild in the state cache, since session.Open returns once READY
// arrives but per-guild payloads trickle in right after. Bounded so a
// missing or unavailable guild never hangs startup.
func (a *Adapter) awaitGuildAvailable(ctx context.Context) {
	deadline := time.Now().Add(guildAvailableTimeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		if _, err := a.session.State.Guild(a.guildID); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	a.logger.Warn("guild did not become available before timeout", "guild_id", a.guildID)
}

// Stop closes the gateway connection.
func (a *Adapter) Stop() error {
	close(a.inbound)
	return a.session.Close()
}

// Emojis returns the bridged guild's custom emoji as a shortcode-name to
// snowflake-id map, for resolver.ToDiscord's emoji-shortcode substitution.
func (a *Adapter) Emojis() map[string]string {
	guild, err := a.session.State.Guild(a.guildID)
	if err != nil {
		return nil
	}
	out := make(map[string]string, len(guild.Emojis))
	for _, e := range guild.Emojis {
		out[e.Name] = e.ID
	}
	return out
}

// warmMemberCache paginates the guild's member list into discordgo's state
// cache so name resolution works without waiting on GUILD_MEMBERS_CHUNK
// events to trickle in. Failures are logged and non-fatal: the cache just
// fills in lazily from gateway events instead.
func (a *Adapter) warmMemberCache(ctx context.Context) {
	after := ""
	for {
		if ctx.Err() != nil {
			return
		}
		members, err := a.session.GuildMembers(a.guildID, after, 1000)
		if err != nil {
			a.logger.Warn("failed to warm guild member cache", "error", err)
			return
		}
		if len(members) == 0 {
			return
		}
		after = members[len(members)-1].User.ID
		if len(members) < 1000 {
			return
		}
	}
}

// --- bridge.DiscordPort ---

// Send delivers text to a Discord channel, splitting on Discord's 2000
// character limit the way discordgo's own callers chunk long bot replies.
func (a *Adapter) Send(_ context.Context, channelID, text string) error {
	for _, chunk := range chunkMessage(text, maxMessageLen) {
		if _, err := a.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("discordadapter: send to %s: %w", channelID, err)
		}
	}
	return nil
}

// SetActivity updates the bot's presence to a "Watching <status>" activity.
func (a *Adapter) SetActivity(status string) error {
	return a.session.UpdateWatchStatus(0, status)
}

// Inbound returns the channel of messages received from Discord.
func (a *Adapter) Inbound() <-chan bridge.InboundDiscordMessage {
	return a.inbound
}

func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	a.mu.RLock()
	botID := a.botUserID
	a.mu.RUnlock()
	if botID != "" && m.Author.ID == botID {
		return
	}

	msg := bridge.InboundDiscordMessage{
		AuthorID:   m.Author.ID,
		AuthorName: displayName(m.Member, m.Author),
		ChannelID:  m.ChannelID,
		GuildID:    m.GuildID,
		Content:    m.Content,
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, att.URL)
	}

	select {
	case a.inbound <- msg:
	default:
		a.logger.Warn("dropping inbound discord message, channel full", "channel_id", m.ChannelID)
	}
}

func displayName(member *discordgo.Member, author *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	return author.Username
}

// chunkMessage splits text on newline boundaries where possible, never
// exceeding limit bytes per chunk.
func chunkMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		if idx := strings.LastIndexByte(text[:limit], '\n'); idx > limit/2 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
