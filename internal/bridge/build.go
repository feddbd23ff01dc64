package bridge

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ascension-relay/innkeeper/internal/config"
	"github.com/ascension-relay/innkeeper/internal/game"
)

// BuildRoutingTable compiles config.ChatConfig into a RoutingTable. Invalid
// filter patterns are skipped with a warning rather than failing startup.
// globalFilter is folded into each route's effective filter per the
// priority rule: per-Discord-channel filter, then per-WoW-channel filter
// (WoW->Discord only), then global.
func BuildRoutingTable(cfg config.ChatConfig, globalFilter config.FiltersConfig, logger *slog.Logger) *RoutingTable {
	table := &RoutingTable{
		ByWowKey:         make(map[WowChannelKey][]*Route),
		ByDiscordChannel: make(map[string][]*Route),
	}

	global := compilePatterns(globalFilterPatterns(globalFilter), logger)

	for _, ch := range cfg.Channels {
		key, err := parseWowChannelKey(ch.Wow.Type, ch.Wow.Channel)
		if err != nil {
			logger.Warn("skipping channel route", "error", err)
			continue
		}

		discordFilter := compilePatterns(ch.Discord.Filters, logger)
		wowFilter := compilePatterns(ch.Wow.Filters, logger)

		route := &Route{
			Key:            key,
			DiscordChannel: ch.Discord.Channel,
			Direction:      parseDirection(ch.Direction),
			FormatW2D:      ch.Wow.Format,
			FormatD2W:      ch.Discord.Format,
			FilterW2D:      effectiveFilter(discordFilter, wowFilter, global),
			FilterD2W:      effectiveFilter(discordFilter, nil, global),
		}

		table.ByWowKey[key] = append(table.ByWowKey[key], route)
		table.ByDiscordChannel[route.DiscordChannel] = append(table.ByDiscordChannel[route.DiscordChannel], route)
	}

	return table
}

// addGuildEventRoutes appends one WowToDiscord-only route per enabled entry
// in config.GuildConfig. Guild-roster notifications never flow Discord->WoW.
func addGuildEventRoutes(table *RoutingTable, cfg config.GuildConfig) {
	entries := []struct {
		kind game.GuildEventKind
		ev   config.GuildEventConfig
	}{
		{game.GuildEventOnline, cfg.Online},
		{game.GuildEventOffline, cfg.Offline},
		{game.GuildEventJoined, cfg.Joined},
		{game.GuildEventLeft, cfg.Left},
		{game.GuildEventRemoved, cfg.Removed},
		{game.GuildEventPromoted, cfg.Promoted},
		{game.GuildEventDemoted, cfg.Demoted},
		{game.GuildEventMotdChanged, cfg.Motd},
		{game.GuildEventAchievement, cfg.Achievement},
	}

	for _, e := range entries {
		if !e.ev.Enabled || e.ev.Channel == "" {
			continue
		}
		key := WowChannelKey{Tag: KeyGuildEvent, GuildEventKind: e.kind}
		route := &Route{
			Key:            key,
			DiscordChannel: e.ev.Channel,
			Direction:      WowToDiscord,
			FormatW2D:      e.ev.Format,
		}
		table.ByWowKey[key] = append(table.ByWowKey[key], route)
		table.ByDiscordChannel[route.DiscordChannel] = append(table.ByDiscordChannel[route.DiscordChannel], route)
	}
}

// ChannelKnown reports whether a Discord channel id exists in the adapter's
// cache, so routes naming a channel the bot can't see get dropped instead of
// silently never firing. Implemented by internal/discordadapter.Adapter.
type ChannelKnown interface {
	ChannelName(id string) (string, bool)
}

// NewBridgeState builds the orchestrator's immutable configuration from a
// validated config.Config. known, when non-nil, is used to drop routes that
// name a Discord channel the adapter doesn't recognize.
func NewBridgeState(cfg *config.Config, known ChannelKnown, logger *slog.Logger) *BridgeState {
	commandChannels := make(map[string]bool, len(cfg.Discord.EnableCommandsChannels))
	for _, id := range cfg.Discord.EnableCommandsChannels {
		commandChannels[id] = true
	}

	routing := BuildRoutingTable(cfg.Chat, cfg.Filters, logger)
	addGuildEventRoutes(routing, cfg.Guild)
	dropUnknownChannelRoutes(routing, known, logger)

	return &BridgeState{
		Routing:             routing,
		CommandChannels:     commandChannels,
		DotCommandWhitelist: cfg.Discord.DotCommandsWhitelist,
		EnableDotCommands:   cfg.Discord.EnableDotCommandsResolved(),
		EnableMarkdown:      cfg.Discord.EnableMarkdownResolved(),
		EnableTagFailed:     cfg.Discord.EnableTagFailedNotificationsResolved(),
	}
}

// dropUnknownChannelRoutes removes every route whose DiscordChannel isn't
// recognized by known, logging a warning per dropped channel. Left as a
// no-op when known is nil, so callers without a live adapter (tests) can
// build a table without pruning.
func dropUnknownChannelRoutes(table *RoutingTable, known ChannelKnown, logger *slog.Logger) {
	if known == nil {
		return
	}

	for channelID := range table.ByDiscordChannel {
		if _, ok := known.ChannelName(channelID); ok {
			continue
		}
		logger.Warn("dropping route to unknown discord channel", "channel_id", channelID)
		delete(table.ByDiscordChannel, channelID)
	}

	for key, routes := range table.ByWowKey {
		kept := routes[:0:0]
		for _, r := range routes {
			if _, ok := known.ChannelName(r.DiscordChannel); ok {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(table.ByWowKey, key)
		} else {
			table.ByWowKey[key] = kept
		}
	}
}

func globalFilterPatterns(f config.FiltersConfig) []string {
	if !f.Enabled {
		return nil
	}
	return f.Patterns
}

// effectiveFilter picks the first non-empty filter list in priority order.
func effectiveFilter(lists ...[]*regexp.Regexp) []*regexp.Regexp {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}

func parseDirection(s string) Direction {
	switch s {
	case "wow_to_discord":
		return WowToDiscord
	case "discord_to_wow":
		return DiscordToWow
	default:
		return Both
	}
}

func parseWowChannelKey(kind, name string) (WowChannelKey, error) {
	switch strings.ToLower(kind) {
	case "guild":
		return WowChannelKey{Tag: KeyGuild}, nil
	case "officer":
		return WowChannelKey{Tag: KeyOfficer}, nil
	case "say":
		return WowChannelKey{Tag: KeySay}, nil
	case "yell":
		return WowChannelKey{Tag: KeyYell}, nil
	case "emote":
		return WowChannelKey{Tag: KeyEmote}, nil
	case "whisper":
		return WowChannelKey{Tag: KeyWhisper}, nil
	case "system":
		return WowChannelKey{Tag: KeySystem}, nil
	case "custom":
		if name == "" {
			return WowChannelKey{}, fmt.Errorf("bridge: custom channel route missing a channel name")
		}
		return WowChannelKey{Tag: KeyCustom, CustomName: name}, nil
	case "guild_event":
		kind, ok := parseGuildEventKind(name)
		if !ok {
			return WowChannelKey{}, fmt.Errorf("bridge: unknown guild event kind %q", name)
		}
		return WowChannelKey{Tag: KeyGuildEvent, GuildEventKind: kind}, nil
	default:
		return WowChannelKey{}, fmt.Errorf("bridge: unknown wow channel type %q", kind)
	}
}

func parseGuildEventKind(name string) (game.GuildEventKind, bool) {
	switch strings.ToLower(name) {
	case "online":
		return game.GuildEventOnline, true
	case "offline":
		return game.GuildEventOffline, true
	case "joined":
		return game.GuildEventJoined, true
	case "left":
		return game.GuildEventLeft, true
	case "removed":
		return game.GuildEventRemoved, true
	case "promoted":
		return game.GuildEventPromoted, true
	case "demoted":
		return game.GuildEventDemoted, true
	case "motd":
		return game.GuildEventMotdChanged, true
	case "achievement":
		return game.GuildEventAchievement, true
	default:
		return 0, false
	}
}

func compilePatterns(patterns []string, logger *slog.Logger) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Warn("skipping invalid filter pattern", "pattern", p, "error", err)
			continue
		}
		out = append(out, re)
	}
	return out
}
