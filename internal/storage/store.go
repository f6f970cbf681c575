// Package storage is the durable record of settings, members, and check-ins.
//
// Every method is one logical write or read wrapped in its own implicit
// transaction; a failure surfaces as an error and never leaves partial rows
// behind. Check-ins reference members but are intentionally not gated on the
// approved flag, so history survives opt-out.
package storage

import (
	"context"
	"errors"
	"time"

	"ackbot/internal/domain"
)

// SettingBulletinChat is the settings key holding the bulletin chat ID.
const SettingBulletinChat = "bulletin_chat_id"

var ErrClosed = errors.New("storage closed")

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)

	// Defaults applied when a member row is created implicitly
	// (admin approval of an unknown user).
	DefaultTZ   string
	DefaultHHMM string
}

// Store is the persistence API used by the command surface, the schedule
// registry, and the check-in relay.
type Store interface {
	// Settings: unique keys, upsert semantics.
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, key, value string) error

	// Members. GetMember returns (nil, nil) for an unknown identity.
	UpsertMember(ctx context.Context, userID int64, tz, hhmm string, approved bool) error
	SetMemberTime(ctx context.Context, userID int64, hhmm string) error
	SetMemberTZ(ctx context.Context, userID int64, tz string) error
	SetMemberCadence(ctx context.Context, userID int64, cadence domain.Cadence, dow string) error
	// SetApproved flips the approval flag, creating the row with defaults
	// when the identity is new.
	SetApproved(ctx context.Context, userID int64, approved bool) error
	GetMember(ctx context.Context, userID int64) (*domain.Member, error)
	ListApproved(ctx context.Context) ([]domain.Member, error)

	// Check-ins: append-only.
	AppendCheckin(ctx context.Context, userID int64, content string, at time.Time) error
	CountCheckins(ctx context.Context, userID int64) (int64, error)
	RecentCheckins(ctx context.Context, limit int) ([]domain.Checkin, error)

	Close() error
}
