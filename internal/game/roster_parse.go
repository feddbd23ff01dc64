package game

import "github.com/ascension-relay/innkeeper/internal/codec"

// ParseGuildRoster decodes a GUILD_ROSTER reply payload into the member
// list Roster.Replace expects.
func ParseGuildRoster(payload []byte) ([]GuildMember, error) {
	c := codec.NewCursor(payload)

	count, err := c.ReadUint32LE()
	if err != nil {
		return nil, err
	}

	members := make([]GuildMember, 0, count)
	for i := uint32(0); i < count; i++ {
		guid, err := c.ReadUint64LE()
		if err != nil {
			return nil, err
		}
		name, err := c.ReadCString(64)
		if err != nil {
			return nil, err
		}
		onlineByte, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		level, err := c.ReadUint32LE()
		if err != nil {
			return nil, err
		}
		class, err := c.ReadCString(32)
		if err != nil {
			return nil, err
		}
		zoneID, err := c.ReadUint32LE()
		if err != nil {
			return nil, err
		}
		rankIndex, err := c.ReadUint32LE()
		if err != nil {
			return nil, err
		}
		rankName, err := c.ReadCString(32)
		if err != nil {
			return nil, err
		}
		note, err := c.ReadCString(256)
		if err != nil {
			return nil, err
		}
		officerNote, err := c.ReadCString(256)
		if err != nil {
			return nil, err
		}

		members = append(members, GuildMember{
			GUID:        guid,
			Name:        name,
			Level:       int(level),
			Class:       class,
			ZoneID:      zoneID,
			RankIndex:   int(rankIndex),
			RankName:    rankName,
			Online:      onlineByte != 0,
			Note:        note,
			OfficerNote: officerNote,
		})
	}
	return members, nil
}

// guildEventWireKind mirrors GuildEventKind on the wire.
type guildEventWireKind byte

const (
	wireOnline guildEventWireKind = iota
	wireOffline
	wireJoined
	wireLeft
	wireRemoved
	wirePromoted
	wireDemoted
	wireMotdChanged
	wireAchievement
)

// ParseGuildEvent decodes a GUILD_EVENT payload.
func ParseGuildEvent(payload []byte) (*GuildEvent, error) {
	c := codec.NewCursor(payload)

	kindByte, err := c.ReadByte()
	if err != nil {
		return nil, err
	}
	kind := guildEventWireKind(kindByte)

	switch kind {
	case wireOnline, wireOffline, wireJoined, wireLeft:
		actor, err := c.ReadCString(64)
		if err != nil {
			return nil, err
		}
		return &GuildEvent{Kind: GuildEventKind(kind), Actor: actor}, nil

	case wireRemoved:
		actor, err := c.ReadCString(64)
		if err != nil {
			return nil, err
		}
		target, err := c.ReadCString(64)
		if err != nil {
			return nil, err
		}
		return &GuildEvent{Kind: GuildEventRemoved, Actor: actor, Target: target}, nil

	case wirePromoted, wireDemoted:
		actor, err := c.ReadCString(64)
		if err != nil {
			return nil, err
		}
		target, err := c.ReadCString(64)
		if err != nil {
			return nil, err
		}
		newRank, err := c.ReadCString(32)
		if err != nil {
			return nil, err
		}
		k := GuildEventPromoted
		if kind == wireDemoted {
			k = GuildEventDemoted
		}
		return &GuildEvent{Kind: k, Actor: actor, Target: target, NewRank: newRank}, nil

	case wireMotdChanged:
		text, err := c.ReadCString(256)
		if err != nil {
			return nil, err
		}
		return &GuildEvent{Kind: GuildEventMotdChanged, Text: text}, nil

	case wireAchievement:
		actor, err := c.ReadCString(64)
		if err != nil {
			return nil, err
		}
		id, err := c.ReadUint32LE()
		if err != nil {
			return nil, err
		}
		return &GuildEvent{Kind: GuildEventAchievement, Actor: actor, AchievementID: id}, nil

	default:
		return nil, &codec.MalformedPacketError{Offset: 0, Reason: "unknown guild event kind"}
	}
}
