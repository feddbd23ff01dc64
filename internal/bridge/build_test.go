package bridge

import (
	"log/slog"
	"testing"

	"github.com/ascension-relay/innkeeper/internal/config"
	"github.com/ascension-relay/innkeeper/internal/game"
)

func TestBuildRoutingTableIndexesBothWays(t *testing.T) {
	cfg := config.ChatConfig{
		Channels: []config.ChatChannelConfig{
			{
				Direction: "both",
				Wow:       config.WowChannelRef{Type: "guild", Format: "[Guild] {sender}: {text}"},
				Discord:   config.DiscordChanRef{Channel: "111", Format: "**{sender}**: {text}"},
			},
		},
	}
	table := BuildRoutingTable(cfg, config.FiltersConfig{}, slog.Default())

	guildRoutes := table.ByWowKey[WowChannelKey{Tag: KeyGuild}]
	if len(guildRoutes) != 1 {
		t.Fatalf("ByWowKey[Guild] = %d routes, want 1", len(guildRoutes))
	}
	discordRoutes := table.ByDiscordChannel["111"]
	if len(discordRoutes) != 1 || discordRoutes[0] != guildRoutes[0] {
		t.Fatalf("ByDiscordChannel not indexing the same route")
	}
}

func TestBuildRoutingTableSkipsUnknownChannelType(t *testing.T) {
	cfg := config.ChatConfig{
		Channels: []config.ChatChannelConfig{
			{Wow: config.WowChannelRef{Type: "not-a-real-type"}, Discord: config.DiscordChanRef{Channel: "1"}},
		},
	}
	table := BuildRoutingTable(cfg, config.FiltersConfig{}, slog.Default())
	if len(table.ByDiscordChannel) != 0 {
		t.Fatalf("expected no routes built from an unknown wow channel type")
	}
}

func TestBuildRoutingTableSkipsInvalidFilterPattern(t *testing.T) {
	cfg := config.ChatConfig{
		Channels: []config.ChatChannelConfig{
			{
				Wow:     config.WowChannelRef{Type: "say", Filters: []string{"("}}, // invalid regex
				Discord: config.DiscordChanRef{Channel: "1"},
			},
		},
	}
	table := BuildRoutingTable(cfg, config.FiltersConfig{}, slog.Default())
	route := table.ByDiscordChannel["1"][0]
	if len(route.FilterW2D) != 0 {
		t.Errorf("expected invalid pattern to be skipped, got %d compiled filters", len(route.FilterW2D))
	}
}

func TestEffectiveFilterPriority(t *testing.T) {
	cfg := config.ChatConfig{
		Channels: []config.ChatChannelConfig{
			{
				Wow:     config.WowChannelRef{Type: "say", Filters: []string{"wow-only"}},
				Discord: config.DiscordChanRef{Channel: "1", Filters: []string{"discord-wins"}},
			},
			{
				Wow:     config.WowChannelRef{Type: "yell", Filters: []string{"wow-wins"}},
				Discord: config.DiscordChanRef{Channel: "2"},
			},
			{
				Wow:     config.WowChannelRef{Type: "emote"},
				Discord: config.DiscordChanRef{Channel: "3"},
			},
		},
	}
	globalFilter := config.FiltersConfig{Enabled: true, Patterns: []string{"global-fallback"}}
	table := BuildRoutingTable(cfg, globalFilter, slog.Default())

	sayRoute := table.ByWowKey[WowChannelKey{Tag: KeySay}][0]
	if !matchesAny("discord-wins", sayRoute.FilterW2D) {
		t.Errorf("expected per-discord-channel filter to win for WoW->Discord")
	}

	yellRoute := table.ByWowKey[WowChannelKey{Tag: KeyYell}][0]
	if !matchesAny("wow-wins", yellRoute.FilterW2D) {
		t.Errorf("expected per-wow-channel filter to apply when no discord filter is set")
	}
	if matchesAny("wow-wins", yellRoute.FilterD2W) {
		t.Errorf("per-wow-channel filter must not apply to Discord->WoW traffic")
	}
	if !matchesAny("global-fallback", yellRoute.FilterD2W) {
		t.Errorf("expected global filter to apply to Discord->WoW when no discord filter is set")
	}

	emoteRoute := table.ByWowKey[WowChannelKey{Tag: KeyEmote}][0]
	if !matchesAny("global-fallback", emoteRoute.FilterW2D) {
		t.Errorf("expected global filter to apply when neither per-channel filter is set")
	}
}

type fakeChannelKnown map[string]bool

func (f fakeChannelKnown) ChannelName(id string) (string, bool) {
	if f[id] {
		return "known-channel", true
	}
	return "", false
}

func TestDropUnknownChannelRoutesRemovesUnknown(t *testing.T) {
	cfg := config.ChatConfig{
		Channels: []config.ChatChannelConfig{
			{Wow: config.WowChannelRef{Type: "say"}, Discord: config.DiscordChanRef{Channel: "known"}},
			{Wow: config.WowChannelRef{Type: "yell"}, Discord: config.DiscordChanRef{Channel: "gone"}},
		},
	}
	table := BuildRoutingTable(cfg, config.FiltersConfig{}, slog.Default())
	dropUnknownChannelRoutes(table, fakeChannelKnown{"known": true}, slog.Default())

	if _, ok := table.ByDiscordChannel["gone"]; ok {
		t.Errorf("expected route to unknown channel to be dropped")
	}
	if _, ok := table.ByDiscordChannel["known"]; !ok {
		t.Errorf("expected route to known channel to survive")
	}
	if len(table.ByWowKey[WowChannelKey{Tag: KeyYell}]) != 0 {
		t.Errorf("expected ByWowKey entry for the dropped route to be removed too")
	}
	if len(table.ByWowKey[WowChannelKey{Tag: KeySay}]) != 1 {
		t.Errorf("expected ByWowKey entry for the kept route to survive")
	}
}

func TestDropUnknownChannelRoutesNoOpWhenKnownNil(t *testing.T) {
	cfg := config.ChatConfig{
		Channels: []config.ChatChannelConfig{
			{Wow: config.WowChannelRef{Type: "say"}, Discord: config.DiscordChanRef{Channel: "1"}},
		},
	}
	table := BuildRoutingTable(cfg, config.FiltersConfig{}, slog.Default())
	dropUnknownChannelRoutes(table, nil, slog.Default())

	if len(table.ByDiscordChannel["1"]) != 1 {
		t.Errorf("expected routes untouched when known is nil")
	}
}

func TestAddGuildEventRoutesSkipsDisabled(t *testing.T) {
	table := &RoutingTable{ByWowKey: make(map[WowChannelKey][]*Route), ByDiscordChannel: make(map[string][]*Route)}
	cfg := config.GuildConfig{
		Online:  config.GuildEventConfig{Enabled: true, Channel: "10", Format: "{actor} came online"},
		Offline: config.GuildEventConfig{Enabled: false, Channel: "10"},
	}
	addGuildEventRoutes(table, cfg)

	onlineRoutes := table.ByWowKey[WowChannelKey{Tag: KeyGuildEvent, GuildEventKind: game.GuildEventOnline}]
	if len(onlineRoutes) != 1 {
		t.Fatalf("expected exactly one enabled guild event route, got %d", len(onlineRoutes))
	}
	if onlineRoutes[0].Direction != WowToDiscord {
		t.Errorf("guild event routes must be WowToDiscord only")
	}
}
