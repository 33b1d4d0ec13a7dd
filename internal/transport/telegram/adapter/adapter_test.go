package adapter

import (
	"errors"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"checkinbot/internal/task/engine"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	got := splitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("split = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10, "")
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("split = %q", got)
	}
}

func TestSplitTextKeepsHTMLTagsWhole(t *testing.T) {
	s := "abcdefg<a href='x'>y</a>"
	got := splitText(s, 10, "HTML")
	if got[0] != "abcdefg" {
		t.Fatalf("first chunk = %q", got[0])
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestSplitTextCountsRunes(t *testing.T) {
	s := strings.Repeat("я", 25)
	got := splitText(s, 10, "")
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	for _, c := range got {
		if n := len([]rune(c)); n > 10 {
			t.Fatalf("chunk has %d runes", n)
		}
	}
}

func TestConvertMessageUsesCaptionAndEdit(t *testing.T) {
	m := &tele.Message{
		ID:       7,
		Unixtime: 1700000000,
		LastEdit: 1700000060,
		Caption:  "#оу1",
		ThreadID: 3,
		Chat:     &tele.Chat{ID: -100, Title: "Course", Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 1, Username: "anna", FirstName: "Anna", LastName: "K"},
	}
	got := convertMessage(m)
	if got == nil {
		t.Fatal("message dropped")
	}
	if got.Text != "#оу1" || !got.IsGroup || got.ThreadID != 3 {
		t.Fatalf("msg = %+v", got)
	}
	if got.From.FullName != "Anna K" || got.From.Username != "anna" {
		t.Fatalf("from = %+v", got.From)
	}
	if !got.Observed().Equal(time.Unix(1700000060, 0)) {
		t.Fatalf("observed = %v", got.Observed())
	}
}

func TestConvertMessageWithoutSenderDropped(t *testing.T) {
	if convertMessage(&tele.Message{Chat: &tele.Chat{ID: 1}}) != nil {
		t.Fatal("message without sender kept")
	}
}

func TestJoinedEventsBatchAndSingle(t *testing.T) {
	chat := &tele.Chat{ID: -5, Type: tele.ChatGroup}
	batch := joinedEvents(&tele.Message{Chat: chat, UsersJoined: []tele.User{{ID: 1}, {ID: 2}}})
	if len(batch) != 2 || batch[1].User.ID != 2 {
		t.Fatalf("batch = %+v", batch)
	}
	single := joinedEvents(&tele.Message{Chat: chat, UserJoined: &tele.User{ID: 9}})
	if len(single) != 1 || single[0].User.ID != 9 || single[0].ChatID != -5 {
		t.Fatalf("single = %+v", single)
	}
	if ev := leftEvent(&tele.Message{Chat: chat, UserLeft: &tele.User{ID: 4}}); ev == nil || ev.User.ID != 4 {
		t.Fatalf("left = %+v", ev)
	}
}

func TestAdminCacheExpires(t *testing.T) {
	now := time.Unix(0, 0)
	c := newAdminCache(time.Minute)
	c.now = func() time.Time { return now }
	c.put(1, adminIDs([]tele.ChatMember{
		{Role: tele.Creator, User: &tele.User{ID: 10}},
		{Role: tele.Member, User: &tele.User{ID: 11}},
	}))
	ids, ok := c.get(1)
	if !ok {
		t.Fatal("fresh entry missing")
	}
	if _, yes := ids[10]; !yes {
		t.Fatal("creator not admin")
	}
	if _, yes := ids[11]; yes {
		t.Fatal("member treated as admin")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.get(1); ok {
		t.Fatal("stale entry served")
	}
}

func TestWrapSendErrorExposesFloodWait(t *testing.T) {
	err := wrapSendError(tele.FloodError{RetryAfter: 3})
	var fw FloodWaitError
	if !errors.As(err, &fw) {
		t.Fatalf("wrapSendError = %T, want FloodWaitError", err)
	}
	if after, ok := engine.RetryHint(err); !ok || after != 3*time.Second {
		t.Fatalf("RetryHint = %v, %v", after, ok)
	}

	plain := errors.New("chat not found")
	if got := wrapSendError(plain); got != plain {
		t.Fatalf("plain error rewrapped: %v", got)
	}
}
