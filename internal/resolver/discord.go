package resolver

import (
	"regexp"
	"strings"
)

var (
	customEmojiRe = regexp.MustCompile(`<a?:(\w+):(\d+)>`)
	userMentionRe = regexp.MustCompile(`<@!?(\d+)>`)
	channelRe     = regexp.MustCompile(`<#(\d+)>`)
	roleRe        = regexp.MustCompile(`<@&(\d+)>`)

	whisperRe = regexp.MustCompile(`^/w ([A-Za-z]{3,12}) (.+)$`)
)

// unicodeToShortcode covers the handful of emoji guild chat actually sees;
// WoW has no glyph renderer for anything outside ASCII, so every unicode
// emoji has to collapse to its :shortcode: text form.
var unicodeToShortcode = map[string]string{
	"😀": ":grinning:",
	"😂": ":joy:",
	"😅": ":sweat_smile:",
	"😉": ":wink:",
	"😍": ":heart_eyes:",
	"😭": ":sob:",
	"🙂": ":slightly_smiling_face:",
	"🙁": ":slightly_frowning_face:",
	"👍": ":thumbsup:",
	"👎": ":thumbsdown:",
	"❤️": ":heart:",
	"🔥": ":fire:",
	"🎉": ":tada:",
	"💀": ":skull:",
	"😎": ":sunglasses:",
}

// DiscordLookup resolves Discord ids to display text for the Discord->WoW
// direction. Implemented by internal/discordadapter over the session cache.
type DiscordLookup interface {
	UserDisplayName(id string) (string, bool)
	ChannelName(id string) (string, bool)
	RoleName(id string) (string, bool)
}

// ToWow runs the seven-step Discord->WoW resolution: unicode emoji to
// shortcode, custom emoji to shortcode, user/channel/role mention
// substitution, attachment URL appension, then whisper preprocessing.
// The returned whisperTarget is non-empty when content matched the
// "/w <target> <body>" form; resolvedText then holds only the whisper body.
func ToWow(text string, attachments []string, lookup DiscordLookup) (whisperTarget, resolvedText string) {
	out := replaceUnicodeEmoji(text)
	out = customEmojiRe.ReplaceAllString(out, ":$1:")
	out = replaceUserMentions(out, lookup)
	out = replaceChannelMentions(out, lookup)
	out = replaceRoleMentions(out, lookup)
	out = appendAttachments(out, attachments)

	if m := whisperRe.FindStringSubmatch(out); m != nil {
		return m[1], m[2]
	}
	return "", out
}

func replaceUnicodeEmoji(text string) string {
	for unicode, shortcode := range unicodeToShortcode {
		text = strings.ReplaceAll(text, unicode, shortcode)
	}
	return text
}

func replaceUserMentions(text string, lookup DiscordLookup) string {
	return userMentionRe.ReplaceAllStringFunc(text, func(m string) string {
		id := userMentionRe.FindStringSubmatch(m)[1]
		if name, ok := lookup.UserDisplayName(id); ok {
			return "@" + name
		}
		return m
	})
}

func replaceChannelMentions(text string, lookup DiscordLookup) string {
	return channelRe.ReplaceAllStringFunc(text, func(m string) string {
		id := channelRe.FindStringSubmatch(m)[1]
		if name, ok := lookup.ChannelName(id); ok {
			return "#" + name
		}
		return m
	})
}

func replaceRoleMentions(text string, lookup DiscordLookup) string {
	return roleRe.ReplaceAllStringFunc(text, func(m string) string {
		id := roleRe.FindStringSubmatch(m)[1]
		if name, ok := lookup.RoleName(id); ok {
			return "@" + name
		}
		return m
	})
}

func appendAttachments(text string, attachments []string) string {
	for _, url := range attachments {
		text += " " + url
	}
	return text
}
