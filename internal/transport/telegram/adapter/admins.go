package adapter

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "checkinbot/internal/transport"
)

type adminEntry struct {
	ids     map[int64]struct{}
	fetched time.Time
}

// adminCache keeps each chat's administrator ids for ttl.
type adminCache struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	chats map[int64]adminEntry
}

func newAdminCache(ttl time.Duration) *adminCache {
	return &adminCache{ttl: ttl, now: time.Now, chats: make(map[int64]adminEntry)}
}

func (c *adminCache) get(chatID int64) (map[int64]struct{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.chats[chatID]
	if !ok || c.now().Sub(e.fetched) > c.ttl {
		return nil, false
	}
	return e.ids, true
}

func (c *adminCache) put(chatID int64, ids map[int64]struct{}) {
	c.mu.Lock()
	c.chats[chatID] = adminEntry{ids: ids, fetched: c.now()}
	c.mu.Unlock()
}

func (a *Adapter) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if ids, ok := a.admins.get(chatID); ok {
		_, yes := ids[userID]
		return yes, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	members, err := a.bot.AdminsOf(&tele.Chat{ID: chatID})
	if err != nil {
		return false, err
	}
	ids := adminIDs(members)
	a.admins.put(chatID, ids)
	_, yes := ids[userID]
	return yes, nil
}

func adminIDs(members []tele.ChatMember) map[int64]struct{} {
	ids := make(map[int64]struct{}, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		if m.Role == tele.Creator || m.Role == tele.Administrator {
			ids[m.User.ID] = struct{}{}
		}
	}
	return ids
}

func menuHash(cmds []kit.BotCommand) uint64 {
	h := fnv.New64a()
	for _, c := range cmds {
		_, _ = h.Write([]byte(c.Command))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(c.Description))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
