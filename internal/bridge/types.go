// Package bridge owns the routing table and the orchestrator loop that
// moves chat between the game client and the Discord adapter: WoW->Discord
// on inbound ChatMessage/GuildEvent, Discord->WoW on inbound Discord
// messages, plus dot-commands, !/? commands, and activity-status updates.
package bridge

import (
	"regexp"

	"github.com/ascension-relay/innkeeper/internal/game"
)

// Direction constrains which way a Route carries traffic.
type Direction int

const (
	Both Direction = iota
	WowToDiscord
	DiscordToWow
)

func (d Direction) permitsWowToDiscord() bool { return d == Both || d == WowToDiscord }
func (d Direction) permitsDiscordToWow() bool { return d == Both || d == DiscordToWow }

// WowChannelKeyTag discriminates the WowChannelKey tagged variant.
type WowChannelKeyTag int

const (
	KeyGuild WowChannelKeyTag = iota
	KeyOfficer
	KeySay
	KeyYell
	KeyEmote
	KeyWhisper
	KeySystem
	KeyGuildEvent
	KeyCustom
)

// WowChannelKey identifies one logical WoW-side channel: a chat type, a
// named custom channel, or a guild-event kind.
type WowChannelKey struct {
	Tag            WowChannelKeyTag
	GuildEventKind game.GuildEventKind // valid when Tag == KeyGuildEvent
	CustomName     string              // valid when Tag == KeyCustom
}

// Route binds one WoW-side channel to one Discord channel. FilterW2D and
// FilterD2W are already-resolved effective filters: per-Discord-channel
// filter (applies both directions) takes priority, then per-WoW-channel
// filter (WoW->Discord only), then the bridge-wide global filter.
type Route struct {
	Key            WowChannelKey
	DiscordChannel string
	Direction      Direction
	FormatW2D      string
	FormatD2W      string
	FilterW2D      []*regexp.Regexp
	FilterD2W      []*regexp.Regexp
}

// RoutingTable indexes the same route set two ways, built once at startup
// and never mutated afterward.
type RoutingTable struct {
	ByWowKey         map[WowChannelKey][]*Route
	ByDiscordChannel map[string][]*Route
}

// BridgeState is the orchestrator's immutable, shared-by-value configuration.
// The global filter is not carried here: BuildRoutingTable folds it into
// each route's effective FilterW2D/FilterD2W at construction time.
type BridgeState struct {
	Routing             *RoutingTable
	CommandChannels     map[string]bool
	DotCommandWhitelist []string
	EnableDotCommands   bool
	EnableMarkdown      bool
	EnableTagFailed     bool
}
