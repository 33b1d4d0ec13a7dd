package domain

import (
	"fmt"
	"html"
	"strings"
)

// Mention renders m for an HTML parse-mode message.
func Mention(m Member) string {
	if u := strings.TrimPrefix(strings.TrimSpace(m.Username), "@"); u != "" {
		return "@" + u
	}
	return fmt.Sprintf("<a href='tg://user?id=%d'>%s</a>", m.UserID, html.EscapeString(m.DisplayName()))
}

func Mentions(ms []Member) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, Mention(m))
	}
	return out
}
