// Package router dispatches chat updates to command handlers, the tag
// ingestion handler and the membership handler on a bounded worker pool.
package router

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"checkinbot/internal/metrics"
	rtsup "checkinbot/internal/runtime/supervisor"
	kit "checkinbot/internal/transport"
	logx "checkinbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessGroupAdmin admits administrators of the chat and bot owners.
	AccessGroupAdmin
	AccessOwnerOnly
)

// ErrDenied is returned by handlers guarded by an access level the sender
// does not have.
var ErrDenied = errors.New("access denied")

const (
	textDeniedAdmin = "Только администраторы могут использовать эту команду."
	textDeniedOwner = "Команда доступна только владельцу бота."
	textGroupOnly   = "Эта команда работает только в группе."
	textUnknown     = "Неизвестная команда. Введите /help"
	textBusy        = "Бот перегружен, попробуйте позже."
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is a space-separated command path, e.g. "join" or "fines all".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// GroupOnly commands are refused in private chats.
	GroupOnly bool
	// DeniedText overrides the reply sent when Access is not met.
	DeniedText string
	Timeout    time.Duration
	Handle     HandlerFunc
}

// MessageHandler receives non-command messages, including edits.
type MessageHandler func(ctx context.Context, msg *kit.Message) error

// MemberHandler receives join and leave events.
type MemberHandler func(ctx context.Context, kind kit.UpdateKind, ev *kit.MemberEvent) error

type Request struct {
	Update  kit.Update
	Message *kit.Message
	Chat    kit.ChatTarget
	From    kit.User
	Path    []string
	Command string
	Args    []string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger

	cmd    *Command
	router *Router
}

// Reply sends an HTML message to the chat (and thread) of the request.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, kit.HTML)
	return err
}

// IsOwner reports whether the sender is a bot owner.
func (r *Request) IsOwner() bool {
	return r.router != nil && r.router.IsOwner(r.From.ID)
}

type Options struct {
	// Workers defaults to NumCPU (at least 2).
	Workers   int
	QueueSize int
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	opt     Options

	mu       sync.RWMutex
	root     *cmdNode
	alias    map[string]*cmdNode
	commands []Command
	owners   []int64
	onMsg    MessageHandler
	onMember MemberHandler

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func(context.Context)
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	return &Router{
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		opt:     opt,
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		owners:  slices.Clone(owners),
		jobs:    make(chan func(context.Context), opt.QueueSize),
	}
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (m *Router) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

// SetOwners updates the owner list. Safe to call during hot-reload.
func (m *Router) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Router) IsOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

func (m *Router) OnMessage(h MessageHandler) {
	m.mu.Lock()
	m.onMsg = h
	m.mu.Unlock()
}

func (m *Router) OnMember(h MemberHandler) {
	m.mu.Lock()
	m.onMember = h
	m.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (m *Router) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.commands)
}

// SetCommands replaces the command registry, injects /help and publishes
// the command menu when the adapter supports it.
func (m *Router) SetCommands(ctx context.Context, cmds []Command) {
	cmds = append(slices.Clone(cmds), Command{
		Route:       "help",
		Description: "список команд",
		Usage:       "/help [команда]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	kept := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		kept = append(kept, c)
		// Multi-token routes get a "/a_b" alias for menu autocomplete.
		if name, ok := menuName(route); ok && (len(route) > 1 || name != route[0]) {
			if _, exists := alias[name]; !exists {
				alias[name] = leaf
			}
		}
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" && !strings.Contains(a, " ") {
				alias[a] = leaf
			}
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.commands = kept
	m.mu.Unlock()

	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildMenu(kept)
	go func() {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(cctx, menu); err != nil {
			m.log.Warn("command menu update failed", logx.Err(err))
		}
	}()
}

func (m *Router) setRunning(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// DispatchLoop reads updates until ctx ends or the channel closes. Handlers
// run on the worker pool; a full queue drops the update.
func (m *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	m.setRunning(sup, true)
	m.log.Info("dispatcher started", logx.Int("workers", m.opt.Workers), logx.Int("queue_cap", cap(m.jobs)))

	for i := range m.opt.Workers {
		sup.GoRestart("router.worker."+strconv.Itoa(i), m.worker,
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}

	defer func() {
		m.setRunning(nil, false)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Router) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-m.jobs:
			job(ctx)
		}
	}
}

func (m *Router) enqueue(job func(context.Context)) bool {
	select {
	case m.jobs <- job:
		return true
	default:
		return false
	}
}

func (m *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage, kit.UpdateEdited:
		if up.Message == nil {
			return
		}
		if strings.HasPrefix(strings.TrimSpace(up.Message.Text), "/") && up.Kind == kit.UpdateMessage {
			m.routeCommand(ctx, up)
			return
		}
		m.routeText(up)
	case kit.UpdateJoined, kit.UpdateLeft:
		m.routeMember(up)
	case kit.UpdateCallback:
		// No inline keyboards are sent; stop the client spinner of stale ones.
		if up.Callback != nil {
			_ = m.adapter.AnswerCallback(ctx, up.Callback.ID, "")
		}
	}
}

func (m *Router) routeText(up kit.Update) {
	m.mu.RLock()
	h := m.onMsg
	m.mu.RUnlock()
	if h == nil || up.Message.From.IsBot {
		return
	}
	msg := up.Message
	log := m.log
	if !m.enqueue(func(ctx context.Context) {
		defer recoverJob(log, "message")
		if err := h(ctx, msg); err != nil {
			log.Warn("message handler failed", logx.Int64("chat_id", msg.ChatID), logx.Int64("user_id", msg.From.ID), logx.Err(err))
		}
	}) {
		m.log.Warn("message dropped (queue full)", logx.Int64("chat_id", msg.ChatID))
	}
}

func (m *Router) routeMember(up kit.Update) {
	m.mu.RLock()
	h := m.onMember
	m.mu.RUnlock()
	if h == nil || up.Member == nil {
		return
	}
	ev, kind, log := up.Member, up.Kind, m.log
	if !m.enqueue(func(ctx context.Context) {
		defer recoverJob(log, "member")
		if err := h(ctx, kind, ev); err != nil {
			log.Warn("member handler failed", logx.Int64("chat_id", ev.ChatID), logx.Int64("user_id", ev.User.ID), logx.Err(err))
		}
	}) {
		m.log.Warn("member event dropped (queue full)", logx.Int64("chat_id", ev.ChatID))
	}
}

func (m *Router) routeCommand(ctx context.Context, up kit.Update) {
	msg := up.Message
	parts := tokenizeCommandLine(strings.TrimSpace(msg.Text))
	if len(parts) == 0 {
		return
	}
	word, ok := commandWord(parts[0])
	if !ok {
		return
	}
	args := parts[1:]
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	var (
		node *cmdNode
		path []string
	)
	if leaf, ok := alias[word]; ok && leaf.cmd != nil {
		node, path = leaf, splitRoute(leaf.cmd.Route)
	} else {
		node, path, args = root.walk(word, args)
	}
	if node == nil {
		// Commands addressed to other bots are common in groups.
		if !msg.IsGroup {
			_, _ = m.adapter.SendText(ctx, chat, textUnknown, nil)
		}
		return
	}
	if node.cmd == nil {
		_, _ = m.adapter.SendText(ctx, chat, m.helpText(path), kit.HTML)
		return
	}

	cmd := *node.cmd
	pos, flags, bools := parseFlags(args)
	rid := newReqID()
	req := &Request{
		Update:    up,
		Message:   msg,
		Chat:      chat,
		From:      msg.From,
		Path:      path,
		Command:   cmd.Route,
		Args:      pos,
		RawArgs:   args,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Adapter:   m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("user_id", msg.From.ID),
			logx.String("cmd", cmd.Route),
		),
		cmd:    &cmd,
		router: m,
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWAccess(),
		MWTimeout(cmd.Timeout),
	)
	if !m.enqueue(func(ctx context.Context) { _ = final(ctx, req) }) {
		metrics.CommandsTotal.WithLabelValues(cmd.Route, "busy").Inc()
		_, _ = m.adapter.SendText(ctx, chat, textBusy, nil)
	}
}

// allowed reports whether the sender of req may run its command.
func (m *Router) allowed(ctx context.Context, req *Request) (bool, string, error) {
	c := req.cmd
	if c.GroupOnly && !req.Message.IsGroup {
		return false, textGroupOnly, nil
	}
	denied := c.DeniedText
	switch c.Access {
	case AccessOwnerOnly:
		if denied == "" {
			denied = textDeniedOwner
		}
		return m.IsOwner(req.From.ID), denied, nil
	case AccessGroupAdmin:
		if denied == "" {
			denied = textDeniedAdmin
		}
		if m.IsOwner(req.From.ID) {
			return true, "", nil
		}
		if !req.Message.IsGroup {
			return false, denied, nil
		}
		ok, err := m.adapter.IsAdmin(ctx, req.Chat.ChatID, req.From.ID)
		return ok, denied, err
	}
	return true, "", nil
}

func recoverJob(log logx.Logger, kind string) {
	if r := recover(); r != nil {
		log.Error("panic in handler", logx.String("kind", kind), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
	}
}
