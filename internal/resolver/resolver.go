// Package resolver translates chat text between WoW's markup (texture and
// color escapes, item/spell/quest/achievement/talent/trade links, emoji
// shortcodes, @mentions) and Discord's markup (custom/unicode emoji, user,
// channel and role mentions). Extraction strips non-candidate spans first,
// then runs one compiled pattern per concern.
package resolver

import (
	"regexp"
	"strings"
)

const ascensionDBBase = "https://db.ascension.gg/"

var (
	textureRe = regexp.MustCompile(`\|T[^|]*\|t`)
	colorRe   = regexp.MustCompile(`\|c[0-9A-Fa-f]{8}(.*?)\|r`)

	// linkRe captures one Hyperlink: |H<kind>:<id>[:...]|h[label]|h
	linkRe = regexp.MustCompile(`\|H(item|spell|quest|achievement|talent|trade):(\d+)[^|]*\|h(\[[^\]]*\])\|h`)

	emojiShortcodeRe = regexp.MustCompile(`:([a-zA-Z0-9_+-]+):`)

	// mentionRe matches @name or @"quoted name". An unquoted name is a letter
	// followed by letters and digits; quoted form may contain spaces.
	mentionRe = regexp.MustCompile(`@(?:"([^"]+)"|([A-Za-z][A-Za-z0-9]*))`)

	markdownMetaRe = regexp.MustCompile("[`*_~|>]")
)

// GuildLookup resolves a display name to a Discord user id for @mention
// substitution. Ambiguous is true when more than one guild member matches
// name case-insensitively.
type GuildLookup interface {
	ResolveMemberByName(name string) (id string, ambiguous bool, found bool)
}

// Result is the outcome of a WoW->Discord text resolution.
type Result struct {
	Text       string
	FailedTags []string // display names that failed to resolve unambiguously
}

// ToDiscord runs the six-step WoW->Discord resolution in order: strip
// texture escapes, strip color codes, rewrite Ascension hyperlinks to
// clickable URLs, substitute known emoji shortcodes, resolve @mentions
// against the guild roster, and finally escape markdown metacharacters
// when enableMarkdown is false.
func ToDiscord(text string, guild GuildLookup, emojis map[string]string, enableMarkdown bool) Result {
	out := textureRe.ReplaceAllString(text, "")
	out = colorRe.ReplaceAllString(out, "$1")
	out = replaceLinks(out)
	out = replaceEmojiShortcodes(out, emojis)

	out, failed := resolveMentions(out, guild)

	if !enableMarkdown {
		out = escapeMarkdownOutsideMentions(out)
	}

	return Result{Text: out, FailedTags: failed}
}

func replaceLinks(text string) string {
	return linkRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := linkRe.FindStringSubmatch(m)
		kind, id, label := sub[1], sub[2], sub[3]
		return label + " (<" + ascensionDBBase + "?" + kind + "=" + id + ">)"
	})
}

func replaceEmojiShortcodes(text string, emojis map[string]string) string {
	if len(emojis) == 0 {
		return text
	}
	return emojiShortcodeRe.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.Trim(m, ":")
		if id, ok := emojis[name]; ok {
			return "<:" + name + ":" + id + ">"
		}
		return m
	})
}

// resolveMentions rewrites @name / @"quoted name" into Discord <@id> syntax
// when name unambiguously matches one guild member. Unmatched or ambiguous
// names are left as plain text and collected into the failure list so the
// bridge can whisper the sender a tag-failed notice.
func resolveMentions(text string, guild GuildLookup) (string, []string) {
	if guild == nil {
		return text, nil
	}
	var failed []string
	out := mentionRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := mentionRe.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		id, ambiguous, found := guild.ResolveMemberByName(name)
		if !found || ambiguous {
			failed = append(failed, name)
			return m
		}
		return "<@" + id + ">"
	})
	return out, failed
}

// escapeMarkdownOutsideMentions escapes Discord markdown metacharacters
// everywhere except inside already-resolved <@id>/<#id>/<@&id> spans, so a
// resolved mention never gets mangled by a later markdown pass.
func escapeMarkdownOutsideMentions(text string) string {
	var b strings.Builder
	i := 0
	for i < len(text) {
		if text[i] == '<' {
			if end := strings.IndexByte(text[i:], '>'); end != -1 {
				span := text[i : i+end+1]
				if looksLikeMention(span) {
					b.WriteString(span)
					i += end + 1
					continue
				}
			}
		}
		ch := text[i]
		if markdownMetaRe.MatchString(string(ch)) {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
		i++
	}
	return b.String()
}

func looksLikeMention(span string) bool {
	if !strings.HasPrefix(span, "<@") && !strings.HasPrefix(span, "<#") {
		return false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(span, "<"), ">")
	inner = strings.TrimPrefix(inner, "@")
	inner = strings.TrimPrefix(inner, "&")
	inner = strings.TrimPrefix(inner, "#")
	for _, r := range inner {
		if r < '0' || r > '9' {
			return false
		}
	}
	return inner != ""
}
