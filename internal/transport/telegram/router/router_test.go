package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "checkinbot/internal/transport"
	logx "checkinbot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu     sync.Mutex
	sent   []sent
	admins map[int64]bool
	out    chan sent
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{admins: map[int64]bool{}, out: make(chan sent, 16)}
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error {
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sent{to, text})
	f.mu.Unlock()
	f.out <- sent{to, text}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) IsAdmin(_ context.Context, _ int64, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[userID], nil
}

func (f *fakeAdapter) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-f.out:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
		return sent{}
	}
}

func (f *fakeAdapter) quiet(t *testing.T) {
	t.Helper()
	select {
	case s := <-f.out:
		t.Fatalf("unexpected message %q", s.text)
	case <-time.After(100 * time.Millisecond):
	}
}

func groupMsg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: -100, IsGroup: true, From: kit.User{ID: from}, Text: text, Date: time.Now(),
	}}
}

func startRouter(t *testing.T, cmds ...Command) (*Router, *fakeAdapter, chan kit.Update) {
	t.Helper()
	ad := newFakeAdapter()
	r := New(logx.Nop(), ad, []int64{1}, Options{Workers: 2, QueueSize: 8})
	r.SetCommands(context.Background(), cmds)
	updates := make(chan kit.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, ad, updates
}

func echo(route string, access Access) Command {
	return Command{
		Route:       route,
		Description: "echo " + route,
		Access:      access,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, req.Command+":"+strings.Join(req.Args, ","))
		},
	}
}

func TestCommandReceivesArgs(t *testing.T) {
	_, ad, updates := startRouter(t, echo("excuse", AccessEveryone))
	updates <- groupMsg(5, `/excuse@checkin_bot 42 "evening" --date=2024-01-03`)
	got := ad.next(t)
	if got.text != "excuse:42,evening" || got.to.ChatID != -100 {
		t.Fatalf("reply = %+v", got)
	}
}

func TestSubcommandAndAlias(t *testing.T) {
	cmd := echo("fines all", AccessEveryone)
	cmd.Aliases = []string{"fa"}
	_, ad, updates := startRouter(t, cmd)

	updates <- groupMsg(5, "/fines all x")
	if got := ad.next(t).text; got != "fines all:x" {
		t.Fatalf("reply = %q", got)
	}
	updates <- groupMsg(5, "/fines_all")
	if got := ad.next(t).text; got != "fines all:" {
		t.Fatalf("menu alias reply = %q", got)
	}
	updates <- groupMsg(5, "/fa y")
	if got := ad.next(t).text; got != "fines all:y" {
		t.Fatalf("alias reply = %q", got)
	}
	// A container route without a handler answers with its help.
	updates <- groupMsg(5, "/fines")
	if got := ad.next(t).text; !strings.Contains(got, "/fines all") {
		t.Fatalf("container help = %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, ad, updates := startRouter(t)
	updates <- groupMsg(5, "/nope")
	ad.quiet(t)

	up := groupMsg(5, "/nope")
	up.Message.IsGroup = false
	updates <- up
	if got := ad.next(t).text; got != textUnknown {
		t.Fatalf("reply = %q", got)
	}
}

func TestAccessLevels(t *testing.T) {
	remove := echo("remove", AccessGroupAdmin)
	remove.DeniedText = "Только администраторы могут удалять участников."
	_, ad, updates := startRouter(t, remove, echo("status", AccessOwnerOnly))
	ad.admins[7] = true

	updates <- groupMsg(5, "/remove 9")
	if got := ad.next(t).text; got != remove.DeniedText {
		t.Fatalf("non-admin reply = %q", got)
	}
	updates <- groupMsg(7, "/remove 9")
	if got := ad.next(t).text; got != "remove:9" {
		t.Fatalf("admin reply = %q", got)
	}
	updates <- groupMsg(1, "/remove 9")
	if got := ad.next(t).text; got != "remove:9" {
		t.Fatalf("owner reply = %q", got)
	}
	updates <- groupMsg(7, "/status")
	if got := ad.next(t).text; got != textDeniedOwner {
		t.Fatalf("status reply = %q", got)
	}
}

func TestGroupOnlyRefusedInPrivate(t *testing.T) {
	join := echo("join", AccessEveryone)
	join.GroupOnly = true
	_, ad, updates := startRouter(t, join)
	up := groupMsg(5, "/join")
	up.Message.IsGroup = false
	updates <- up
	if got := ad.next(t).text; got != textGroupOnly {
		t.Fatalf("reply = %q", got)
	}
}

func TestTextAndMemberHandlers(t *testing.T) {
	r, _, updates := startRouter(t)
	texts := make(chan string, 4)
	members := make(chan kit.UpdateKind, 4)
	r.OnMessage(func(_ context.Context, msg *kit.Message) error {
		texts <- msg.Text
		return nil
	})
	r.OnMember(func(_ context.Context, kind kit.UpdateKind, ev *kit.MemberEvent) error {
		members <- kind
		return nil
	})

	updates <- groupMsg(5, "#оу1 done")
	edited := groupMsg(5, "#ов1")
	edited.Kind = kit.UpdateEdited
	updates <- edited
	bot := groupMsg(5, "#оу1")
	bot.Message.From.IsBot = true
	updates <- bot
	updates <- kit.Update{Kind: kit.UpdateJoined, Member: &kit.MemberEvent{ChatID: -100, User: kit.User{ID: 3}}}

	got := map[string]bool{}
	for range 2 {
		select {
		case s := <-texts:
			got[s] = true
		case <-time.After(2 * time.Second):
			t.Fatal("text handler not called")
		}
	}
	if !got["#оу1 done"] || !got["#ов1"] {
		t.Fatalf("texts = %v", got)
	}
	select {
	case k := <-members:
		if k != kit.UpdateJoined {
			t.Fatalf("kind = %v", k)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("member handler not called")
	}
	select {
	case s := <-texts:
		t.Fatalf("bot message delivered: %q", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHelpListsCommands(t *testing.T) {
	r := New(logx.Nop(), newFakeAdapter(), nil, Options{})
	r.SetCommands(context.Background(), []Command{echo("join", AccessEveryone), echo("remove", AccessGroupAdmin)})
	top := r.helpText(nil)
	if !strings.Contains(top, "<code>/join</code>") || !strings.Contains(top, "🔒 <code>/remove</code>") {
		t.Fatalf("help = %s", top)
	}
	one := r.helpText([]string{"remove"})
	if !strings.Contains(one, "Только для администраторов") {
		t.Fatalf("help remove = %s", one)
	}
}

func TestBuildMenuSkipsOwnerCommands(t *testing.T) {
	menu := buildMenu([]Command{echo("join", AccessEveryone), echo("fines all", AccessEveryone), echo("status", AccessOwnerOnly)})
	if len(menu) != 2 || menu[0].Command != "join" || menu[1].Command != "fines_all" {
		t.Fatalf("menu = %+v", menu)
	}
}

func TestParseHelpers(t *testing.T) {
	toks := tokenizeCommandLine(`/excuse 42 "late evening" a\ b ''`)
	if strings.Join(toks, "|") != "/excuse|42|late evening|a b|" {
		t.Fatalf("tokens = %q", toks)
	}
	pos, flags, bools := parseFlags([]string{"-100123", "--date", "2024-01-02", "-v", "--all", "x"})
	if strings.Join(pos, ",") != "-100123" {
		t.Fatalf("pos = %v", pos)
	}
	if flags["date"] != "2024-01-02" || flags["v"] != "" || !bools["v"] {
		t.Fatalf("flags = %v bools = %v", flags, bools)
	}
	if flags["all"] != "x" {
		t.Fatalf("all = %q", flags["all"])
	}
	for in, want := range map[string]string{"/Join@bot": "join", "/late": "late", "/": "", "text": ""} {
		if got, _ := commandWord(in); got != want {
			t.Errorf("commandWord(%q) = %q, want %q", in, got, want)
		}
	}
	if got := sanitizeCommand("1-Set Start"); got != "cmd_1_set_start" {
		t.Fatalf("sanitize = %q", got)
	}
}
