package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ascension-relay/innkeeper/internal/game"
	"github.com/ascension-relay/innkeeper/internal/resolver"
)

// maxChatBytes is the outbound MESSAGECHAT text-field limit Ascension
// accepts in one packet.
const maxChatBytes = 255

// outboundRateLimit and outboundBurst pace Discord->WoW chat emission so a
// flooded Discord channel can't be replayed into the game server faster
// than WoW's own chat throttle tolerates.
const outboundRateLimit = 5 // messages per second
const outboundBurst = 5

// rateLimitWaitTimeout bounds how long a chunk waits for a rate-limit slot
// before it is dropped with a warning instead of stalling the send path.
const rateLimitWaitTimeout = 3 * time.Second

// Bridge wires a supervisor's game.Client to a Discord adapter via a
// RoutingTable, in both directions.
type Bridge struct {
	state     *BridgeState
	discord   DiscordPort
	guild     resolver.GuildLookup   // Discord guild member lookup, for WoW->Discord @mentions
	wow       resolver.DiscordLookup // Discord id->name lookup, for Discord->WoW mentions
	emojis    map[string]string      // shortcode -> custom emoji id
	realmName string
	logger    *slog.Logger
	limiter   *rate.Limiter

	mu     sync.Mutex
	client GameClient
}

// New builds a Bridge. realmName is used in the "Connected to <realm>"
// activity status.
func New(state *BridgeState, discord DiscordPort, guild resolver.GuildLookup, wow resolver.DiscordLookup, emojis map[string]string, realmName string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		state:     state,
		discord:   discord,
		guild:     guild,
		wow:       wow,
		emojis:    emojis,
		realmName: realmName,
		logger:    logger.With("component", "bridge"),
		limiter:   rate.NewLimiter(rate.Limit(outboundRateLimit), outboundBurst),
	}
}

// Configure attaches the bridge's callbacks to a freshly connected
// game.Client. Passed as supervisor.Run's configure hook, so it runs again
// on every reconnect.
func (b *Bridge) Configure(c *game.Client) {
	b.mu.Lock()
	b.client = c
	b.mu.Unlock()

	c.OnChatMessage = b.handleWowChat
	c.OnGuildEvent = b.handleGuildEvent
	c.OnRosterEvent = b.handleRosterEvent
	c.OnPhaseChange = b.handlePhaseChange
	c.OnServerText = b.handleServerText
	c.OnWhisperFailed = b.handleWhisperFailed
}

// Run drains the Discord adapter's inbound channel until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-b.discord.Inbound():
			if !ok {
				return nil
			}
			b.handleDiscordMessage(ctx, msg)
		}
	}
}

func (b *Bridge) currentClient() GameClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}

// --- WoW -> Discord ---

func (b *Bridge) handleWowChat(msg game.ChatMessage) {
	key := wowChannelKeyForChat(msg)
	b.routeToDiscord(key, msg.Text, msg.SenderName, func(resolved string) string {
		return formatChat(formatW2D(b.state.Routing, key, "[{channel}] {sender}: {text}"), msg, resolved)
	})
}

func (b *Bridge) handleGuildEvent(ev game.GuildEvent) {
	key := WowChannelKey{Tag: KeyGuildEvent, GuildEventKind: ev.Kind}
	b.routeToDiscord(key, ev.Text, "", func(resolved string) string {
		return formatGuildEvent(formatW2D(b.state.Routing, key, "**{actor}**: {text}"), ev)
	})
}

func (b *Bridge) handleRosterEvent(ev game.GuildEvent) {
	b.handleGuildEvent(ev)
	if c := b.currentClient(); c != nil {
		b.updateActivity(c.Phase())
	}
}

func (b *Bridge) handleServerText(kind, text string) {
	key := WowChannelKey{Tag: KeySystem}
	b.routeToDiscord(key, text, "", func(resolved string) string {
		return fmt.Sprintf("**[%s]** %s", kind, resolved)
	})
}

func (b *Bridge) handleWhisperFailed(guid uint64) {
	b.logger.Warn("whisper target not found in-world", "guid", guid)
}

func (b *Bridge) handlePhaseChange(p game.Phase) {
	b.updateActivity(p)
}

func (b *Bridge) updateActivity(p game.Phase) {
	var status string
	switch p {
	case game.Connecting, game.AwaitingAuthChallenge, game.Authenticating, game.AwaitingCharEnum, game.LoggingIn:
		status = "Connecting…"
	case game.InWorld:
		if c := b.currentClient(); c != nil {
			status = fmt.Sprintf("Connected to %s — Watching %d guildies online", b.realmName, c.Roster().OnlineCount())
		} else {
			status = fmt.Sprintf("Connected to %s", b.realmName)
		}
	case game.Draining, game.Closed:
		status = "Offline"
	default:
		return
	}
	if err := b.discord.SetActivity(status); err != nil {
		b.logger.Warn("failed to set activity", "error", err)
	}
}

// routeToDiscord sends text through every route matching key, applying
// per-route then global filters and the WoW->Discord markup resolver.
// senderName, when non-empty, is whispered the tag-failed notice if any
// @mention in text could not be resolved unambiguously.
func (b *Bridge) routeToDiscord(key WowChannelKey, text, senderName string, format func(resolved string) string) {
	routes := b.state.Routing.ByWowKey[key]
	if len(routes) == 0 {
		return
	}
	for _, route := range routes {
		if !route.Direction.permitsWowToDiscord() {
			continue
		}
		if matchesAny(text, route.FilterW2D) {
			continue
		}
		resolved := resolver.ToDiscord(text, b.guild, b.emojis, b.state.EnableMarkdown)
		out := format(resolved.Text)
		if err := b.discord.Send(context.Background(), route.DiscordChannel, out); err != nil {
			b.logger.Warn("failed to deliver to discord", "channel", route.DiscordChannel, "error", err)
		}
		if len(resolved.FailedTags) > 0 && b.state.EnableTagFailed && senderName != "" {
			b.notifyTagFailed(senderName, resolved.FailedTags)
		}
	}
}

func (b *Bridge) notifyTagFailed(senderName string, tags []string) {
	c := b.currentClient()
	if c == nil || !c.Phase().CanSendChat() {
		return
	}
	text := "Could not resolve mention(s): " + strings.Join(tags, ", ")
	if err := c.SendChat(game.ChatWhisper, senderName, text); err != nil {
		b.logger.Warn("failed to whisper tag-failed notice", "target", senderName, "error", err)
	}
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func formatW2D(table *RoutingTable, key WowChannelKey, def string) string {
	for _, r := range table.ByWowKey[key] {
		if r.FormatW2D != "" {
			return r.FormatW2D
		}
	}
	return def
}

func formatChat(tmpl string, msg game.ChatMessage, resolvedText string) string {
	r := strings.NewReplacer(
		"{channel}", channelLabel(msg),
		"{sender}", msg.SenderName,
		"{target}", msg.TargetName,
		"{text}", resolvedText,
	)
	return r.Replace(tmpl)
}

func channelLabel(msg game.ChatMessage) string {
	if msg.ChannelName != "" {
		return msg.ChannelName
	}
	return strings.ToLower(chatTypeLabel(msg.Type))
}

func chatTypeLabel(t game.ChatType) string {
	switch t {
	case game.ChatGuild:
		return "Guild"
	case game.ChatOfficer:
		return "Officer"
	case game.ChatSay:
		return "Say"
	case game.ChatYell:
		return "Yell"
	case game.ChatEmote:
		return "Emote"
	case game.ChatWhisper:
		return "Whisper"
	case game.ChatSystem:
		return "System"
	default:
		return "Channel"
	}
}

func formatGuildEvent(tmpl string, ev game.GuildEvent) string {
	r := strings.NewReplacer(
		"{actor}", ev.Actor,
		"{target}", ev.Target,
		"{rank}", ev.NewRank,
		"{text}", ev.Text,
	)
	return r.Replace(tmpl)
}

func wowChannelKeyForChat(msg game.ChatMessage) WowChannelKey {
	switch msg.Type {
	case game.ChatGuild:
		return WowChannelKey{Tag: KeyGuild}
	case game.ChatOfficer:
		return WowChannelKey{Tag: KeyOfficer}
	case game.ChatSay:
		return WowChannelKey{Tag: KeySay}
	case game.ChatYell:
		return WowChannelKey{Tag: KeyYell}
	case game.ChatEmote:
		return WowChannelKey{Tag: KeyEmote}
	case game.ChatWhisper:
		return WowChannelKey{Tag: KeyWhisper}
	case game.ChatSystem:
		return WowChannelKey{Tag: KeySystem}
	default:
		return WowChannelKey{Tag: KeyCustom, CustomName: msg.ChannelName}
	}
}

// --- Discord -> WoW ---

func (b *Bridge) handleDiscordMessage(ctx context.Context, msg InboundDiscordMessage) {
	if b.state.EnableDotCommands && b.state.CommandChannels[msg.ChannelID] && strings.HasPrefix(msg.Content, ".") {
		b.dispatchDotCommand(ctx, msg)
		return
	}
	if b.state.CommandChannels[msg.ChannelID] && (strings.HasPrefix(msg.Content, "!") || strings.HasPrefix(msg.Content, "?")) {
		b.dispatchBangCommand(ctx, msg)
		return
	}

	routes := b.state.Routing.ByDiscordChannel[msg.ChannelID]
	for _, route := range routes {
		if !route.Direction.permitsDiscordToWow() {
			continue
		}
		if matchesAny(msg.Content, route.FilterD2W) {
			continue
		}
		b.sendToWow(route, msg)
	}
}

func (b *Bridge) sendToWow(route *Route, msg InboundDiscordMessage) {
	c := b.currentClient()
	if c == nil || !c.Phase().CanSendChat() {
		return
	}

	whisperTarget, body := resolver.ToWow(msg.Content, msg.Attachments, b.wow)
	if whisperTarget != "" {
		b.sendChunks(c, game.ChatWhisper, whisperTarget, body)
		return
	}

	tmpl := route.FormatD2W
	if tmpl == "" {
		tmpl = "{sender}: {text}"
	}
	text := strings.NewReplacer("{sender}", msg.AuthorName, "{text}", body).Replace(tmpl)

	chatType, channel := wowChannelKeyToChat(route.Key)
	b.sendChunks(c, chatType, channel, text)
}

func wowChannelKeyToChat(key WowChannelKey) (game.ChatType, string) {
	switch key.Tag {
	case KeyGuild:
		return game.ChatGuild, ""
	case KeyOfficer:
		return game.ChatOfficer, ""
	case KeySay:
		return game.ChatSay, ""
	case KeyYell:
		return game.ChatYell, ""
	case KeyEmote:
		return game.ChatEmote, ""
	case KeyCustom:
		return game.ChatChannel, key.CustomName
	default:
		return game.ChatSay, ""
	}
}

// sendChunks splits text into <=maxChatBytes UTF-8-safe chunks, preferring a
// whitespace split within the trailing 32 bytes of the limit, and emits one
// MESSAGECHAT frame per chunk in order, paced by the outbound rate limiter.
func (b *Bridge) sendChunks(c GameClient, chatType game.ChatType, target, text string) {
	for _, chunk := range splitChatText(text, maxChatBytes) {
		if !b.awaitRateLimitSlot() {
			b.logger.Warn("dropping chat chunk, rate limit wait timed out", "chat_type", chatType)
			return
		}
		if err := c.SendChat(chatType, target, chunk); err != nil {
			b.logger.Warn("failed to send chat", "error", err)
			return
		}
	}
}

// awaitRateLimitSlot blocks until the outbound limiter grants a slot or
// rateLimitWaitTimeout elapses, whichever comes first.
func (b *Bridge) awaitRateLimitSlot() bool {
	ctx, cancel := context.WithTimeout(context.Background(), rateLimitWaitTimeout)
	defer cancel()
	return b.limiter.Wait(ctx) == nil
}

func splitChatText(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		for !isUTF8Boundary(text, cut) {
			cut--
		}

		searchFrom := cut - 32
		if searchFrom < 0 {
			searchFrom = 0
		}
		if sp := strings.LastIndexByte(text[searchFrom:cut], ' '); sp != -1 {
			cut = searchFrom + sp
		}
		if cut == 0 {
			// A leading rune wider than limit is emitted whole rather than cut.
			cut = limit
			for !isUTF8Boundary(text, cut) {
				cut++
			}
		}

		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func isUTF8Boundary(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}

// --- Command dispatch ---

func (b *Bridge) dispatchDotCommand(ctx context.Context, msg InboundDiscordMessage) {
	cmd := strings.Fields(msg.Content)
	if len(cmd) == 0 {
		return
	}
	allowed := false
	for _, pattern := range b.state.DotCommandWhitelist {
		if ok, _ := path.Match(pattern, cmd[0]); ok {
			allowed = true
			break
		}
	}
	if !allowed {
		_ = b.discord.Send(ctx, msg.ChannelID, fmt.Sprintf("`%s` is not on the dot-command whitelist", cmd[0]))
		return
	}

	c := b.currentClient()
	if c == nil || !c.Phase().CanSendChat() {
		_ = b.discord.Send(ctx, msg.ChannelID, "not connected to the realm")
		return
	}
	b.sendChunks(c, game.ChatSay, "", msg.Content)
}

func (b *Bridge) dispatchBangCommand(ctx context.Context, msg InboundDiscordMessage) {
	fields := strings.Fields(msg.Content)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(strings.TrimLeft(fields[0], "!?"))

	c := b.currentClient()
	if c == nil {
		_ = b.discord.Send(ctx, msg.ChannelID, "not connected to the realm")
		return
	}

	switch name {
	case "who":
		if len(fields) > 1 {
			b.replyWho(ctx, msg.ChannelID, c, fields[1])
		} else {
			b.replyOnline(ctx, msg.ChannelID, c)
		}
	case "online":
		b.replyOnline(ctx, msg.ChannelID, c)
	case "gmotd":
		_ = b.discord.Send(ctx, msg.ChannelID, c.Roster().MOTD())
	case "help":
		_ = b.discord.Send(ctx, msg.ChannelID, "commands: !who [name], !online, !gmotd, !help")
	default:
		_ = b.discord.Send(ctx, msg.ChannelID, fmt.Sprintf("unknown command %q", name))
	}
}

func (b *Bridge) replyOnline(ctx context.Context, channelID string, c GameClient) {
	members := c.Roster().Online()
	if len(members) == 0 {
		_ = b.discord.Send(ctx, channelID, "nobody is online")
		return
	}
	var names []string
	for _, m := range members {
		names = append(names, m.Name)
	}
	_ = b.discord.Send(ctx, channelID, fmt.Sprintf("%d online: %s", len(members), strings.Join(names, ", ")))
}

func (b *Bridge) replyWho(ctx context.Context, channelID string, c GameClient, name string) {
	needle := strings.ToLower(name)
	var lines []string
	for _, m := range c.Roster().Online() {
		if strings.Contains(strings.ToLower(m.Name), needle) {
			lines = append(lines, fmt.Sprintf("%s — level %d %s, rank %s, zone %d", m.Name, m.Level, m.Class, m.RankName, m.ZoneID))
		}
	}
	if len(lines) == 0 {
		_ = b.discord.Send(ctx, channelID, fmt.Sprintf("%s is not online", name))
		return
	}
	_ = b.discord.Send(ctx, channelID, strings.Join(lines, "\n"))
}
