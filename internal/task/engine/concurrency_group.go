package engine

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ChatKey is the concurrency key for work that belongs to one group chat.
// Every escalation firing for a chat shares it, so a chat never has two
// tiers running at once while other chats proceed in parallel.
func ChatKey(chatID int64) string {
	return "chat:" + strconv.FormatInt(chatID, 10)
}

// chatLane bounds parallel runs for one concurrency key. Its limit is fixed
// by the first task that asks for it.
type chatLane struct {
	ch    chan struct{}
	limit int
}

func newChatLane(limit int) *chatLane {
	limit = max(limit, 1)
	l := &chatLane{ch: make(chan struct{}, limit), limit: limit}
	for range limit {
		l.ch <- struct{}{}
	}
	return l
}

func (l *chatLane) tryAcquire() bool {
	if l == nil {
		return true
	}
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

func (l *chatLane) release() {
	if l == nil {
		return
	}
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

func (l *chatLane) busy() bool { return len(l.ch) < l.limit }

func laneKey(concurrencyKey, name string) string {
	if k := strings.TrimSpace(concurrencyKey); k != "" {
		return k
	}
	return strings.TrimSpace(name)
}

type laneStore struct {
	mu    sync.Mutex
	lanes map[string]*chatLane
}

func (s *laneStore) get(key string, limit int) *chatLane {
	if limit <= 0 || key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lanes == nil {
		s.lanes = make(map[string]*chatLane)
	}
	l := s.lanes[key]
	if l == nil {
		l = newChatLane(limit)
		s.lanes[key] = l
	}
	return l
}

// busyKeys lists the keys that currently hold at least one slot.
func (s *laneStore) busyKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k, l := range s.lanes {
		if l.busy() {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
