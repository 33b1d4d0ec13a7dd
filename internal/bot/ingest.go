package bot

import (
	"context"
	"errors"
	"strings"

	"checkinbot/internal/compliance"
	"checkinbot/internal/domain"
	"checkinbot/internal/eventbus"
	kit "checkinbot/internal/transport"
	logx "checkinbot/pkg/logx"
)

// HandleMessage refreshes the sender's names and ingests the message as a
// check-in. Private chats and group administrators are skipped.
func (h *Handlers) HandleMessage(ctx context.Context, msg *kit.Message) error {
	if !msg.IsGroup || msg.From.IsBot {
		return nil
	}
	log := h.log.With(logx.Int64("group_id", msg.ChatID), logx.Int64("user_id", msg.From.ID))
	member := memberFrom(msg.ChatID, msg.From, msg.Observed())

	if err := h.refreshMember(ctx, member); err != nil {
		log.Warn("member refresh failed", logx.Err(err))
	}
	if !strings.Contains(msg.Text, "#") {
		return nil
	}

	if h.admins != nil {
		admin, err := h.admins.IsAdmin(ctx, msg.ChatID, msg.From.ID)
		switch {
		case err != nil:
			log.Warn("admin lookup failed; ingesting anyway", logx.Err(err))
		case admin:
			log.Debug("admin message not ingested")
			return nil
		}
	}

	accepted, err := h.tracker.IngestTagEvent(ctx, compliance.TagEvent{
		Member:   member,
		Text:     msg.Text,
		Observed: msg.Observed(),
	})
	if err != nil {
		if domain.Ignorable(err) {
			log.Debug("tag event dropped", logx.Err(err))
			return nil
		}
		return err
	}
	if len(accepted) > 0 {
		log.Info("check-in accepted", logx.Int("instances", len(accepted)), logx.Bool("edited", !msg.EditedAt.IsZero()))
	}
	return nil
}

// refreshMember updates a known member's username and full name when they
// changed. Unknown senders are not registered here.
func (h *Handlers) refreshMember(ctx context.Context, m domain.Member) error {
	cur, ok, err := h.store.GetMember(ctx, m.GroupID, m.UserID)
	if err != nil || !ok {
		return err
	}
	if cur.Username == m.Username && cur.FullName == m.FullName {
		return nil
	}
	_, err = h.store.UpsertMember(ctx, m)
	return err
}

// HandleMember registers users joining the chat and removes users leaving
// it. Bots are ignored.
func (h *Handlers) HandleMember(ctx context.Context, kind kit.UpdateKind, ev *kit.MemberEvent) error {
	if ev.User.IsBot {
		return nil
	}
	log := h.log.With(logx.Int64("group_id", ev.ChatID), logx.Int64("user_id", ev.User.ID))
	switch kind {
	case kit.UpdateJoined:
		if _, err := h.store.UpsertGroup(ctx, domain.Group{ID: ev.ChatID, Title: ev.ChatTitle, CreatedAt: h.clock.Now()}); err != nil {
			return err
		}
		created, err := h.store.UpsertMember(ctx, memberFrom(ev.ChatID, ev.User, ev.At))
		if err != nil {
			return err
		}
		if created {
			h.publish(eventbus.TypeMemberJoined, MemberChange{GroupID: ev.ChatID, UserID: ev.User.ID, Username: ev.User.Username, Source: "chat"})
			log.Info("member joined chat")
		}
		if _, err := h.jobs.Reconcile(ctx, ev.ChatID); err != nil && !errors.Is(err, domain.ErrConfiguration) {
			log.Error("reconcile after join failed", logx.Err(err))
		}
	case kit.UpdateLeft:
		removed, err := h.store.RemoveMember(ctx, ev.ChatID, ev.User.ID)
		if err != nil {
			return err
		}
		if removed {
			h.publish(eventbus.TypeMemberRemoved, MemberChange{GroupID: ev.ChatID, UserID: ev.User.ID, Username: ev.User.Username, Source: "chat"})
			log.Info("member left chat")
		}
	}
	return nil
}
