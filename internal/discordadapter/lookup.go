package discordadapter

import (
	"strings"
)

// ResolveMemberByName implements resolver.GuildLookup. It searches the
// cached guild member list (nickname first, then username) case
// insensitively; more than one match is reported ambiguous so the caller
// can leave the @mention untouched instead of guessing.
func (a *Adapter) ResolveMemberByName(name string) (id string, ambiguous bool, found bool) {
	guild, err := a.session.State.Guild(a.guildID)
	if err != nil {
		return "", false, false
	}

	needle := strings.ToLower(name)
	var matchID string
	matches := 0

	for _, m := range guild.Members {
		if m.User == nil {
			continue
		}
		if strings.ToLower(m.Nick) == needle || strings.ToLower(m.User.Username) == needle {
			matchID = m.User.ID
			matches++
		}
	}

	switch matches {
	case 0:
		return "", false, false
	case 1:
		return matchID, false, true
	default:
		return "", true, true
	}
}

// UserDisplayName implements resolver.DiscordLookup over the state cache,
// falling back to a live GuildMember fetch on a cache miss.
func (a *Adapter) UserDisplayName(id string) (string, bool) {
	if member, err := a.session.State.Member(a.guildID, id); err == nil {
		return displayName(member, member.User), true
	}
	member, err := a.session.GuildMember(a.guildID, id)
	if err != nil {
		return "", false
	}
	return displayName(member, member.User), true
}

// ChannelName implements resolver.DiscordLookup.
func (a *Adapter) ChannelName(id string) (string, bool) {
	if ch, err := a.session.State.Channel(id); err == nil {
		return ch.Name, true
	}
	ch, err := a.session.Channel(id)
	if err != nil {
		return "", false
	}
	return ch.Name, true
}

// RoleName implements resolver.DiscordLookup.
func (a *Adapter) RoleName(id string) (string, bool) {
	if role, err := a.session.State.Role(a.guildID, id); err == nil {
		return role.Name, true
	}
	roles, err := a.session.GuildRoles(a.guildID)
	if err != nil {
		return "", false
	}
	for _, role := range roles {
		if role.ID == id {
			return role.Name, true
		}
	}
	return "", false
}
