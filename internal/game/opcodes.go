// Package game implements the long-lived game-server connection: the
// Ascension/WotLK 3.3.5a protocol handshake that follows realm auth, the
// steady-state opcode dispatch table, periodic keepalive/ping/roster work,
// and the client-side name cache and guild roster.
package game

// Opcode is a 16-bit game-protocol message identifier.
type Opcode uint16

// Opcodes exercised by this client. Values follow the WotLK 3.3.5a base
// protocol; Ascension does not renumber them.
const (
	OpAuthChallenge    Opcode = 0x01EC
	OpAuthSession      Opcode = 0x01ED
	OpAuthResponse     Opcode = 0x01EE
	OpCharEnum         Opcode = 0x0037
	OpPlayerLogin      Opcode = 0x003D
	OpLoginVerifyWorld Opcode = 0x0236
	OpLogoutRequest    Opcode = 0x004A
	OpLogoutComplete   Opcode = 0x004D

	OpKeepAlive Opcode = 0x01DC
	OpPing      Opcode = 0x01DD
	OpPong      Opcode = 0x01DE

	OpTimeSyncReq  Opcode = 0x0390
	OpTimeSyncResp Opcode = 0x0391

	OpMessageChat   Opcode = 0x0095
	OpGMMessageChat Opcode = 0x02E4

	OpNameQuery      Opcode = 0x0050
	OpNameQueryReply Opcode = 0x0051

	OpChannelNotify Opcode = 0x0099
	OpNotification  Opcode = 0x01CB
	OpServerMessage Opcode = 0x0291
	OpMotd          Opcode = 0x0033

	OpInvalidatePlayer Opcode = 0x012C

	OpGuildQuery      Opcode = 0x0054
	OpGuildQueryReply Opcode = 0x0055
	OpGuildRoster     Opcode = 0x0089
	OpGuildEvent      Opcode = 0x0092

	OpChatPlayerNotFound Opcode = 0x01D6

	OpUpdateObject    Opcode = 0x00A9
	OpInitWorldStates Opcode = 0x02C2
)

// AuthResultCode enumerates the AUTH_RESPONSE result byte table.
type AuthResultCode byte

const (
	AuthResultOK            AuthResultCode = 0x0C
	AuthResultFailed        AuthResultCode = 0x0D
	AuthResultBanned        AuthResultCode = 0x0E
	AuthResultAlreadyOnline AuthResultCode = 0x15
	AuthResultQueued        AuthResultCode = 0x1F
)

// ChatType is the MESSAGECHAT discriminator.
type ChatType byte

const (
	ChatSay     ChatType = 0x00
	ChatGuild   ChatType = 0x03
	ChatOfficer ChatType = 0x04
	ChatYell    ChatType = 0x05
	ChatWhisper ChatType = 0x07
	ChatEmote   ChatType = 0x10
	ChatChannel ChatType = 0x11
	ChatSystem  ChatType = 0x22
)

// hasChannelName reports whether this chat type carries a leading channel
// name C-string.
func (t ChatType) hasChannelName() bool {
	return t == ChatChannel
}

// hasTargetGUID reports whether this chat type carries a trailing target
// GUID (whispers only).
func (t ChatType) hasTargetGUID() bool {
	return t == ChatWhisper
}
