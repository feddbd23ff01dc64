// Package config loads and validates the Innkeeper configuration document.
//
// Configuration is a nested TOML document (github.com/pelletier/go-toml/v2)
// mirroring the runtime's logical config shape: connection, chat routing,
// and Discord-side settings each live under their own table.
package config

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration for an Innkeeper instance.
type Config struct {
	Discord        DiscordConfig        `toml:"discord"`
	Wow            WowConfig            `toml:"wow"`
	Chat           ChatConfig           `toml:"chat"`
	Guild          GuildConfig          `toml:"guild"`
	Filters        FiltersConfig        `toml:"filters"`
	GuildDashboard GuildDashboardConfig `toml:"guild_dashboard"`
}

// DiscordConfig controls the Discord side of the bridge.
type DiscordConfig struct {
	Token                        string   `toml:"token"`
	GuildID                      string   `toml:"guild_id"`
	EnableDotCommands            *bool    `toml:"enable_dot_commands"`
	DotCommandsWhitelist         []string `toml:"dot_commands_whitelist"`
	EnableCommandsChannels       []string `toml:"enable_commands_channels"`
	EnableTagFailedNotifications *bool    `toml:"enable_tag_failed_notifications"`
	EnableMarkdown               *bool    `toml:"enable_markdown"`
}

// WowConfig controls the realm/game connection.
type WowConfig struct {
	Platform         string `toml:"platform"`
	Version          string `toml:"version"`
	RealmBuild       uint16 `toml:"realm_build"`
	GameBuild        uint32 `toml:"game_build"`
	RealmList        string `toml:"realmlist"`
	Realm            string `toml:"realm"`
	Account          string `toml:"account"`
	Password         string `toml:"password"`
	Character        string `toml:"character"`
	EnableServerMotd bool   `toml:"enable_server_motd"`
}

// ChatChannelConfig is one routed channel entry.
type ChatChannelConfig struct {
	Direction string         `toml:"direction"`
	Wow       WowChannelRef  `toml:"wow"`
	Discord   DiscordChanRef `toml:"discord"`
}

// WowChannelRef names the WoW side of a route.
type WowChannelRef struct {
	Type    string   `toml:"type"`
	Channel string   `toml:"channel"`
	Format  string   `toml:"format"`
	Filters []string `toml:"filters"`
}

// DiscordChanRef names the Discord side of a route.
type DiscordChanRef struct {
	Channel string   `toml:"channel"`
	Format  string   `toml:"format"`
	Filters []string `toml:"filters"`
}

// ChatConfig holds all routed channels.
type ChatConfig struct {
	Channels []ChatChannelConfig `toml:"channels"`
}

// GuildEventConfig controls one class of guild-event notification.
type GuildEventConfig struct {
	Enabled bool   `toml:"enabled"`
	Format  string `toml:"format"`
	Channel string `toml:"channel"`
}

// GuildConfig holds the per-guild-event notification settings.
type GuildConfig struct {
	Online      GuildEventConfig `toml:"online"`
	Offline     GuildEventConfig `toml:"offline"`
	Joined      GuildEventConfig `toml:"joined"`
	Left        GuildEventConfig `toml:"left"`
	Removed     GuildEventConfig `toml:"removed"`
	Promoted    GuildEventConfig `toml:"promoted"`
	Demoted     GuildEventConfig `toml:"demoted"`
	Motd        GuildEventConfig `toml:"motd"`
	Achievement GuildEventConfig `toml:"achievement"`
}

// FiltersConfig is the global message filter.
type FiltersConfig struct {
	Enabled  bool     `toml:"enabled"`
	Patterns []string `toml:"patterns"`
}

// GuildDashboardConfig is named only for interface completeness — dashboard
// embed rendering is an external collaborator and is not
// implemented by this module.
type GuildDashboardConfig struct {
	Enabled bool   `toml:"enabled"`
	Channel string `toml:"channel"`
}

// Load reads the configuration file named by path (or the
// INNKEEPER_CONFIG / WOWCHAT_CONFIG environment variables when path is
// empty), applies environment overrides, validates required fields, and
// returns the resolved Config.
func Load(path string) (*Config, error) {
	resolvedPath := resolvePath(path)

	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, &Error{Field: "path", Reason: fmt.Sprintf("reading %s: %v", resolvedPath, err)}
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, &Error{Field: "syntax", Reason: err.Error()}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func resolvePath(path string) string {
	if path != "" {
		return path
	}
	if v := os.Getenv("INNKEEPER_CONFIG"); v != "" {
		return v
	}
	if v := os.Getenv("WOWCHAT_CONFIG"); v != "" {
		return v
	}
	return "innkeeper.toml"
}

// applyEnvOverrides lets a small set of secrets/identity fields be supplied
// outside the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("WOW_ACCOUNT"); v != "" {
		cfg.Wow.Account = v
	}
	if v := os.Getenv("WOW_PASSWORD"); v != "" {
		cfg.Wow.Password = v
	}
	if v := os.Getenv("WOW_CHARACTER"); v != "" {
		cfg.Wow.Character = v
	}
}

// Validate checks the required fields are present and internally consistent.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return &Error{Field: "discord.token", Reason: "required"}
	}
	if c.Discord.GuildID == "" {
		return &Error{Field: "discord.guild_id", Reason: "required"}
	}
	if c.Wow.RealmList == "" {
		return &Error{Field: "wow.realmlist", Reason: "required"}
	}
	if c.Wow.Realm == "" {
		return &Error{Field: "wow.realm", Reason: "required"}
	}
	if c.Wow.Account == "" {
		return &Error{Field: "wow.account", Reason: "required"}
	}
	if c.Wow.Character == "" {
		return &Error{Field: "wow.character", Reason: "required"}
	}
	platform := strings.ToLower(c.Wow.Platform)
	if platform != "mac" && platform != "win" {
		return &Error{Field: "wow.platform", Reason: `must be "Mac" or "Win"`}
	}
	for i, ch := range c.Chat.Channels {
		switch ch.Direction {
		case "both", "wow_to_discord", "discord_to_wow":
		default:
			return &Error{Field: fmt.Sprintf("chat.channels[%d].direction", i), Reason: "must be both|wow_to_discord|discord_to_wow"}
		}
	}
	return nil
}

// EnableDotCommandsResolved resolves the tri-state flag, defaulting to true
// when the config document leaves it unset.
func (d *DiscordConfig) EnableDotCommandsResolved() bool {
	if d.EnableDotCommands == nil {
		return true
	}
	return *d.EnableDotCommands
}

// EnableTagFailedNotificationsResolved resolves the tri-state flag, defaulting
// to true when the config document leaves it unset.
func (d *DiscordConfig) EnableTagFailedNotificationsResolved() bool {
	if d.EnableTagFailedNotifications == nil {
		return true
	}
	return *d.EnableTagFailedNotifications
}

// EnableMarkdownResolved resolves the tri-state flag, defaulting to false
// when the config document leaves it unset.
func (d *DiscordConfig) EnableMarkdownResolved() bool {
	if d.EnableMarkdown == nil {
		return false
	}
	return *d.EnableMarkdown
}
