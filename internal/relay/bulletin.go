package relay

import (
	"context"
	"strconv"
	"sync"

	"ackbot/internal/storage"
)

// Bulletin resolves the shared bulletin chat. Precedence: configured
// override, then the cached persisted setting, then a fresh settings lookup
// (the setting may have been written after startup).
type Bulletin struct {
	store storage.Store

	mu       sync.Mutex
	override int64
	cached   int64
}

func NewBulletin(store storage.Store, override int64) *Bulletin {
	return &Bulletin{store: store, override: override}
}

// Resolve returns the bulletin chat ID, or ok=false when none is configured.
func (b *Bulletin) Resolve(ctx context.Context) (int64, bool) {
	b.mu.Lock()
	if b.override != 0 {
		id := b.override
		b.mu.Unlock()
		return id, true
	}
	if b.cached != 0 {
		id := b.cached
		b.mu.Unlock()
		return id, true
	}
	b.mu.Unlock()

	v, ok, err := b.store.GetSetting(ctx, storage.SettingBulletinChat)
	if err != nil || !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	b.mu.Lock()
	b.cached = id
	b.mu.Unlock()
	return id, true
}

// Set persists the bulletin chat and updates the cache.
func (b *Bulletin) Set(ctx context.Context, chatID int64) error {
	if err := b.store.SetSetting(ctx, storage.SettingBulletinChat, strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	b.mu.Lock()
	b.cached = chatID
	b.mu.Unlock()
	return nil
}

// SetOverride replaces the configuration override (hot reload).
func (b *Bulletin) SetOverride(chatID int64) {
	b.mu.Lock()
	b.override = chatID
	b.mu.Unlock()
}
