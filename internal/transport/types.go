// Package transport holds the chat-platform neutral types the bot core
// exchanges with a messaging adapter.
package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateEdited   UpdateKind = "edited_message"
	UpdateJoined   UpdateKind = "member_joined"
	UpdateLeft     UpdateKind = "member_left"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Member   *MemberEvent
	Callback *Callback
}

type User struct {
	ID       int64
	Username string
	FullName string
	IsBot    bool
}

// Message is an inbound text message. Captions of media messages are
// carried in Text.
type Message struct {
	ID        int
	ChatID    int64
	ChatTitle string
	ThreadID  int // telegram forum topic thread id (0 if none)
	From      User
	Text      string
	IsGroup   bool
	Date      time.Time
	EditedAt  time.Time // zero unless the update is an edit
}

// Observed is the instant the message counts at: the edit time for edits.
func (m *Message) Observed() time.Time {
	if !m.EditedAt.IsZero() {
		return m.EditedAt
	}
	return m.Date
}

// MemberEvent reports a user joining or leaving a group chat.
type MemberEvent struct {
	ChatID    int64
	ChatTitle string
	User      User
	At        time.Time
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// HTML is the send option used for every group message.
var HTML = &SendOptions{ParseMode: "HTML", DisablePreview: true}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	// IsAdmin reports whether userID administers chatID.
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
