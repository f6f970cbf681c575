package bot

import (
	"context"
	"strings"
	"sync"

	kit "ackbot/internal/transport"
	logx "ackbot/pkg/logx"
)

// Predicate is one authorization rule. Predicates are evaluated in order
// and short-circuit on the first match.
type Predicate func(ctx context.Context, msg *kit.Message) bool

// Gate decides whether a caller may run admin commands. The rule order is
// fixed: platform-native group admin, then configured user ID, then
// configured username (the legacy role-by-name variant, case-insensitive).
type Gate struct {
	preds []Predicate

	mu        sync.RWMutex
	userIDs   map[int64]struct{}
	usernames map[string]struct{}
}

func NewGate(adapter kit.Adapter, groupChatID int64, userIDs []int64, usernames []string, log logx.Logger) *Gate {
	g := &Gate{}
	g.SetAdmins(userIDs, usernames)

	groupAdmin := func(ctx context.Context, msg *kit.Message) bool {
		chatID := groupChatID
		if chatID == 0 {
			if msg.Private {
				return false
			}
			chatID = msg.ChatID
		}
		ok, err := adapter.IsChatAdmin(ctx, chatID, msg.FromID)
		if err != nil {
			log.Debug("admin lookup failed",
				logx.Int64("chat_id", chatID),
				logx.Int64("user_id", msg.FromID),
				logx.Err(err))
			return false
		}
		return ok
	}
	configuredID := func(_ context.Context, msg *kit.Message) bool {
		g.mu.RLock()
		defer g.mu.RUnlock()
		_, ok := g.userIDs[msg.FromID]
		return ok
	}
	configuredName := func(_ context.Context, msg *kit.Message) bool {
		if msg.FromUsername == "" {
			return false
		}
		g.mu.RLock()
		defer g.mu.RUnlock()
		_, ok := g.usernames[strings.ToLower(msg.FromUsername)]
		return ok
	}

	g.preds = []Predicate{groupAdmin, configuredID, configuredName}
	return g
}

// SetAdmins replaces the configured admin lists. Safe during hot reload.
func (g *Gate) SetAdmins(userIDs []int64, usernames []string) {
	ids := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		ids[id] = struct{}{}
	}
	names := make(map[string]struct{}, len(usernames))
	for _, n := range usernames {
		n = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(n, "@")))
		if n != "" {
			names[n] = struct{}{}
		}
	}
	g.mu.Lock()
	g.userIDs = ids
	g.usernames = names
	g.mu.Unlock()
}

func (g *Gate) Allowed(ctx context.Context, msg *kit.Message) bool {
	for _, p := range g.preds {
		if p(ctx, msg) {
			return true
		}
	}
	return false
}
