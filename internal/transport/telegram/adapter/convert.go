package adapter

import (
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "checkinbot/internal/transport"
)

func convertUser(u *tele.User) kit.User {
	if u == nil {
		return kit.User{}
	}
	return kit.User{
		ID:       u.ID,
		Username: u.Username,
		FullName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		IsBot:    u.IsBot,
	}
}

func isGroup(c *tele.Chat) bool {
	return c != nil && (c.Type == tele.ChatGroup || c.Type == tele.ChatSuperGroup)
}

// convertMessage maps a text or captioned media message. Messages without
// a chat or a sender are dropped.
func convertMessage(m *tele.Message) *kit.Message {
	if m == nil || m.Chat == nil || m.Sender == nil {
		return nil
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	out := &kit.Message{
		ID:        m.ID,
		ChatID:    m.Chat.ID,
		ChatTitle: m.Chat.Title,
		ThreadID:  m.ThreadID,
		From:      convertUser(m.Sender),
		Text:      text,
		IsGroup:   isGroup(m.Chat),
		Date:      m.Time(),
	}
	if m.LastEdit != 0 {
		out.EditedAt = time.Unix(m.LastEdit, 0)
	}
	return out
}

// joinedEvents handles both the single and the batch join fields.
func joinedEvents(m *tele.Message) []*kit.MemberEvent {
	if m == nil || m.Chat == nil {
		return nil
	}
	users := m.UsersJoined
	if len(users) == 0 && m.UserJoined != nil {
		users = []tele.User{*m.UserJoined}
	}
	out := make([]*kit.MemberEvent, 0, len(users))
	for i := range users {
		out = append(out, &kit.MemberEvent{
			ChatID:    m.Chat.ID,
			ChatTitle: m.Chat.Title,
			User:      convertUser(&users[i]),
			At:        m.Time(),
		})
	}
	return out
}

func leftEvent(m *tele.Message) *kit.MemberEvent {
	if m == nil || m.Chat == nil || m.UserLeft == nil {
		return nil
	}
	return &kit.MemberEvent{
		ChatID:    m.Chat.ID,
		ChatTitle: m.Chat.Title,
		User:      convertUser(m.UserLeft),
		At:        m.Time(),
	}
}
