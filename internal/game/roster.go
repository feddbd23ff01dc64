package game

// GuildMember is one entry in the guild roster.
type GuildMember struct {
	GUID        uint64
	Name        string
	Level       int
	Class       string
	ZoneID      uint32
	RankIndex   int
	RankName    string
	Online      bool
	Note        string
	OfficerNote string
}

// Roster holds the current guild roster snapshot, replaced atomically on
// each GUILD_ROSTER reply.
type Roster struct {
	members map[uint64]GuildMember
	motd    string
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{members: make(map[uint64]GuildMember)}
}

// Replace swaps in a freshly parsed roster and returns the online/offline
// diff events to emit against the previous snapshot.
func (r *Roster) Replace(next []GuildMember) []GuildEvent {
	previous := r.members
	nextMap := make(map[uint64]GuildMember, len(next))
	for _, m := range next {
		nextMap[m.GUID] = m
	}

	var events []GuildEvent
	for guid, m := range nextMap {
		if old, existed := previous[guid]; existed {
			if !old.Online && m.Online {
				events = append(events, GuildEvent{Kind: GuildEventOnline, Actor: m.Name})
			} else if old.Online && !m.Online {
				events = append(events, GuildEvent{Kind: GuildEventOffline, Actor: m.Name})
			}
		}
	}

	r.members = nextMap
	return events
}

// Online returns every currently online member, for the !who command.
func (r *Roster) Online() []GuildMember {
	var out []GuildMember
	for _, m := range r.members {
		if m.Online {
			out = append(out, m)
		}
	}
	return out
}

// OnlineCount returns the number of online members, used for the
// "Watching N guildies online" activity status.
func (r *Roster) OnlineCount() int {
	count := 0
	for _, m := range r.members {
		if m.Online {
			count++
		}
	}
	return count
}

// SetMOTD stores the guild MOTD.
func (r *Roster) SetMOTD(text string) { r.motd = text }

// MOTD returns the stored guild MOTD.
func (r *Roster) MOTD() string { return r.motd }

// Member looks up a single member by GUID.
func (r *Roster) Member(guid uint64) (GuildMember, bool) {
	m, ok := r.members[guid]
	return m, ok
}
