package bot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strconv"
	"strings"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/domain"
	"checkinbot/internal/eventbus"
	kit "checkinbot/internal/transport"
	"checkinbot/internal/transport/telegram/router"
	logx "checkinbot/pkg/logx"
)

// Commands lists the chat commands in menu order.
func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{Route: "start", Description: "о боте", Handle: h.cmdStart},
		{Route: "join", Description: "записаться в участники", GroupOnly: true, Handle: h.cmdJoin},
		{Route: "members", Description: "список участников", GroupOnly: true, Handle: h.cmdMembers},
		{Route: "late", Description: "кто ещё не сдал отчёт", Usage: "/late [morning|evening|weekly]", GroupOnly: true, Handle: h.cmdLate},
		{Route: "fines", Description: "штрафы участников", GroupOnly: true, Handle: h.cmdFines},
		{
			Route:       "setstartdate",
			Description: "установить дату начала курса",
			Usage:       "/setstartdate ГГГГ-ММ-ДД",
			Access:      router.AccessGroupAdmin,
			DeniedText:  textDeniedStart,
			GroupOnly:   true,
			Timeout:     30 * time.Second,
			Handle:      h.cmdSetStartDate,
		},
		{
			Route:       "settag",
			Description: "хештеги отчётов этой группы",
			Usage:       "/settag [morning|evening|weekly] [#префикс|reset]",
			Access:      router.AccessGroupAdmin,
			DeniedText:  textDeniedTag,
			GroupOnly:   true,
			Handle:      h.cmdSetTag,
		},
		{
			Route:       "remove",
			Description: "удалить участника",
			Usage:       "/remove <user_id>",
			Access:      router.AccessGroupAdmin,
			DeniedText:  textDeniedRemove,
			GroupOnly:   true,
			Handle:      h.cmdRemove,
		},
		{
			Route:       "excuse",
			Description: "освободить участника от отчёта",
			Usage:       "/excuse <user_id> <morning|evening|weekly> [ГГГГ-ММ-ДД]",
			Access:      router.AccessGroupAdmin,
			GroupOnly:   true,
			Handle:      h.cmdExcuse,
		},
		{Route: "status", Description: "состояние бота", Access: router.AccessOwnerOnly, Handle: h.cmdStatus},
	}
}

func memberFrom(chatID int64, u kit.User, at time.Time) domain.Member {
	return domain.Member{GroupID: chatID, UserID: u.ID, Username: u.Username, FullName: u.FullName, JoinedAt: at}
}

func (h *Handlers) cmdStart(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, textStart)
}

func (h *Handlers) cmdJoin(ctx context.Context, req *router.Request) error {
	msg := req.Message
	if _, err := h.store.UpsertGroup(ctx, domain.Group{ID: msg.ChatID, Title: msg.ChatTitle, CreatedAt: h.clock.Now()}); err != nil {
		return h.failed(ctx, req, err)
	}
	created, err := h.store.UpsertMember(ctx, memberFrom(msg.ChatID, msg.From, h.clock.Now()))
	if err != nil {
		return h.failed(ctx, req, err)
	}
	if !created {
		return req.Reply(ctx, textAlreadyJoined)
	}
	h.publish(eventbus.TypeMemberJoined, MemberChange{GroupID: msg.ChatID, UserID: msg.From.ID, Username: msg.From.Username, Source: "command"})
	req.Logger.Info("member joined", logx.Int64("user_id", msg.From.ID))
	return req.Reply(ctx, textJoined)
}

func (h *Handlers) cmdSetStartDate(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, textBadDate)
	}
	d, err := domain.ParseDate(req.Args[0])
	if err != nil {
		return req.Reply(ctx, textBadDate)
	}
	chat := req.Message.ChatID
	if _, err := h.store.UpsertGroup(ctx, domain.Group{ID: chat, Title: req.Message.ChatTitle, CreatedAt: h.clock.Now()}); err != nil {
		return h.failed(ctx, req, err)
	}
	if _, err := h.store.SetStartDate(ctx, chat, d); err != nil {
		return h.failed(ctx, req, err)
	}
	h.audit(ctx, req.From.ID, chat, "set_start_date", "", d.String())
	h.publish(eventbus.TypeStartDateSet, StartDateChange{GroupID: chat, StartDate: d, ActorID: req.From.ID})

	res, err := h.jobs.Reconcile(ctx, chat)
	if err != nil {
		req.Logger.Error("reconcile after start date failed", logx.Err(err))
	} else {
		req.Logger.Info("start date set", logx.Stringer("date", d), logx.Int("registered", res.Registered))
	}
	return req.Reply(ctx, fmt.Sprintf(textStartDateSet, d))
}

func (h *Handlers) cmdSetTag(ctx context.Context, req *router.Request) error {
	chat := req.Message.ChatID
	course := h.tracker.Course()
	g, _, err := h.store.GetGroup(ctx, chat)
	if err != nil {
		return h.failed(ctx, req, err)
	}
	if len(req.Args) == 0 {
		lines := []string{textTagsHeader}
		for _, spec := range course.Periods {
			lines = append(lines, fmt.Sprintf("%s: %s", spec.Type, html.EscapeString(tagPrefix(course, g, spec.Type))))
		}
		return req.Reply(ctx, strings.Join(lines, "\n"))
	}
	if len(req.Args) != 2 {
		return req.Reply(ctx, textSetTagUsage)
	}
	p, ok := parsePeriod(strings.ToLower(req.Args[0]))
	if !ok {
		return req.Reply(ctx, textUnknownPeriod)
	}
	prefix := strings.TrimSpace(req.Args[1])
	if strings.EqualFold(prefix, "reset") {
		prefix = ""
	} else if err := domain.ValidateTagPrefix(prefix); err != nil {
		return req.Reply(ctx, textTagInvalid)
	}
	if prefix != "" {
		for _, spec := range course.Periods {
			if spec.Type != p && strings.EqualFold(tagPrefix(course, g, spec.Type), prefix) {
				return req.Reply(ctx, fmt.Sprintf(textTagTaken, html.EscapeString(prefix), reportGenitive[spec.Type]))
			}
		}
	}

	if _, err := h.store.UpsertGroup(ctx, domain.Group{ID: chat, Title: req.Message.ChatTitle, CreatedAt: h.clock.Now()}); err != nil {
		return h.failed(ctx, req, err)
	}
	g, err = h.store.SetTagPrefix(ctx, chat, p, prefix)
	if err != nil {
		return h.failed(ctx, req, err)
	}
	h.audit(ctx, req.From.ID, chat, "set_tag_prefix", string(p), prefix)
	req.Logger.Info("tag prefix set", logx.String("period", string(p)), logx.String("prefix", prefix))
	return req.Reply(ctx, fmt.Sprintf(textTagSet, reportGenitive[p], html.EscapeString(tagPrefix(course, g, p))))
}

// tagPrefix is the prefix in effect for p in g.
func tagPrefix(c domain.Course, g domain.Group, p domain.PeriodType) string {
	if o := g.TagPrefixes[p]; o != "" {
		return o
	}
	spec, _ := c.Period(p)
	return spec.TagPrefix
}

func (h *Handlers) cmdRemove(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, textRemoveUsage)
	}
	uid, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return req.Reply(ctx, textRemoveUsage)
	}
	chat := req.Message.ChatID
	removed, err := h.store.RemoveMember(ctx, chat, uid)
	if err != nil {
		return h.failed(ctx, req, err)
	}
	if !removed {
		return req.Reply(ctx, fmt.Sprintf(textNotMember, uid))
	}
	h.audit(ctx, req.From.ID, chat, "remove_member", strconv.FormatInt(uid, 10), "")
	h.publish(eventbus.TypeMemberRemoved, MemberChange{GroupID: chat, UserID: uid, Source: "command"})
	return req.Reply(ctx, fmt.Sprintf(textRemoved, uid))
}

func (h *Handlers) cmdExcuse(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 || len(req.Args) > 3 {
		return req.Reply(ctx, textExcuseUsage)
	}
	uid, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return req.Reply(ctx, textExcuseUsage)
	}
	p, ok := parsePeriod(strings.ToLower(req.Args[1]))
	if !ok {
		return req.Reply(ctx, textUnknownPeriod)
	}
	course := h.tracker.Course()
	var date domain.Date
	if len(req.Args) == 3 {
		if date, err = domain.ParseDate(req.Args[2]); err != nil {
			return req.Reply(ctx, textBadDate)
		}
	} else if date, ok = course.InstanceDate(p, clock.Today(h.clock)); !ok {
		return req.Reply(ctx, fmt.Sprintf(textNoInstance, reportGenitive[p]))
	}
	if !course.Applies(p, date) {
		return req.Reply(ctx, fmt.Sprintf(textNoInstance, reportGenitive[p]))
	}

	chat := req.Message.ChatID
	m, found, err := h.store.GetMember(ctx, chat, uid)
	if err != nil {
		return h.failed(ctx, req, err)
	}
	if !found {
		return req.Reply(ctx, fmt.Sprintf(textNotMember, uid))
	}
	inst := domain.PeriodInstance{GroupID: chat, Period: p, Date: date}
	if err := h.tracker.Excuse(ctx, inst, uid); err != nil {
		return h.failed(ctx, req, err)
	}
	h.audit(ctx, req.From.ID, chat, "excuse", strconv.FormatInt(uid, 10), inst.String())
	return req.Reply(ctx, fmt.Sprintf(textExcused, domain.Mention(m), reportGenitive[p], date))
}

func (h *Handlers) cmdMembers(ctx context.Context, req *router.Request) error {
	members, err := h.store.ListMembers(ctx, req.Message.ChatID)
	if err != nil {
		return h.failed(ctx, req, err)
	}
	if len(members) == 0 {
		return req.Reply(ctx, textNoMembers)
	}
	slices.SortStableFunc(members, func(a, b domain.Member) int {
		return cmp.Compare(a.DisplayName(), b.DisplayName())
	})
	lines := []string{fmt.Sprintf(textMembersHeader, len(members))}
	for i, m := range members {
		lines = append(lines, fmt.Sprintf("%d. %s (ID %d)", i+1, domain.Mention(m), m.UserID))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (h *Handlers) cmdLate(ctx context.Context, req *router.Request) error {
	chat := req.Message.ChatID
	g, ok, err := h.store.GetGroup(ctx, chat)
	if err != nil {
		return h.failed(ctx, req, err)
	}
	if !ok || !g.HasStart() {
		return req.Reply(ctx, textNoStartDate)
	}

	periods := domain.PeriodTypes
	if len(req.Args) > 0 {
		p, ok := parsePeriod(strings.ToLower(req.Args[0]))
		if !ok {
			return req.Reply(ctx, textUnknownPeriod)
		}
		periods = []domain.PeriodType{p}
	}

	course := h.tracker.Course()
	today := clock.Today(h.clock)
	var lines []string
	for _, p := range periods {
		date, ok := course.InstanceDate(p, today)
		if !ok || !course.InRange(course.DayNumber(g.StartDate, date)) {
			continue
		}
		late, err := h.tracker.LateMembers(ctx, chat, p, date)
		if err != nil {
			return h.failed(ctx, req, err)
		}
		if len(late) == 0 {
			lines = append(lines, fmt.Sprintf(textAllSubmitted, reportAdjective[p], date))
			continue
		}
		lines = append(lines, fmt.Sprintf(textLateHeader, reportAdjective[p], date, strings.Join(domain.Mentions(late), ", ")))
	}
	if len(lines) == 0 {
		return req.Reply(ctx, textNothingDueNow)
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

type fineTotal struct {
	member domain.Member
	count  int
	amount int
}

func (h *Handlers) cmdFines(ctx context.Context, req *router.Request) error {
	chat := req.Message.ChatID
	fines, err := h.store.ListFines(ctx, chat)
	if err != nil {
		return h.failed(ctx, req, err)
	}
	if len(fines) == 0 {
		return req.Reply(ctx, textNoFines)
	}
	members, err := h.store.ListMembers(ctx, chat)
	if err != nil {
		return h.failed(ctx, req, err)
	}
	byID := make(map[int64]domain.Member, len(members))
	for _, m := range members {
		byID[m.UserID] = m
	}

	totals := map[int64]*fineTotal{}
	for _, f := range fines {
		t, ok := totals[f.UserID]
		if !ok {
			m, known := byID[f.UserID]
			if !known {
				m = domain.Member{GroupID: chat, UserID: f.UserID}
			}
			t = &fineTotal{member: m}
			totals[f.UserID] = t
		}
		t.count++
		t.amount += f.Amount
	}
	rows := make([]*fineTotal, 0, len(totals))
	for _, t := range totals {
		rows = append(rows, t)
	}
	slices.SortFunc(rows, func(a, b *fineTotal) int {
		if c := cmp.Compare(b.amount, a.amount); c != 0 {
			return c
		}
		return cmp.Compare(a.member.UserID, b.member.UserID)
	})

	lines := []string{textFinesHeader}
	for _, t := range rows {
		lines = append(lines, fmt.Sprintf("• %s: %d₽ (%d)", domain.Mention(t.member), t.amount, t.count))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (h *Handlers) cmdStatus(ctx context.Context, req *router.Request) error {
	if h.status == nil {
		return req.Reply(ctx, "Статус недоступен.")
	}
	return req.Reply(ctx, "<pre>"+html.EscapeString(h.status(ctx))+"</pre>")
}

// failed answers a storage failure with a generic text and returns the
// error to the request logger.
func (h *Handlers) failed(ctx context.Context, req *router.Request, err error) error {
	_ = req.Reply(ctx, textStorageFailure)
	if errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%s: %w", req.Command, err)
}
