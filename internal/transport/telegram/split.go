package telegram

import (
	"strings"
	"unicode"
)

// Telegram caps messages at 4096 characters; stay below it.
const telegramTextLimit = 4000

// splitTelegramText cuts s into chunks of at most limit runes. A cut prefers
// the last line break in the window, then the last space, and only splits a
// word when neither leaves a chunk of at least a third of the limit.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rest := []rune(s)
	if len(rest) <= limit {
		return []string{s}
	}

	var out []string
	for len(rest) > limit {
		cut := cutPoint(rest, limit)
		out = append(out, strings.TrimRightFunc(string(rest[:cut]), unicode.IsSpace))
		rest = []rune(strings.TrimLeftFunc(string(rest[cut:]), unicode.IsSpace))
	}
	if len(rest) > 0 {
		out = append(out, string(rest))
	}
	return out
}

func cutPoint(rs []rune, limit int) int {
	if unicode.IsSpace(rs[limit]) {
		return limit
	}
	floor := limit / 3
	for _, sep := range []func(rune) bool{
		func(r rune) bool { return r == '\n' },
		unicode.IsSpace,
	} {
		for i := limit - 1; i >= floor && i > 0; i-- {
			if sep(rs[i]) {
				return i
			}
		}
	}
	return limit
}
