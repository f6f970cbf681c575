package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ackbot/internal/domain"
	logx "ackbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	cfg Config
}

// Open creates or opens the SQLite database at cfg.Path, applies pragmas,
// and runs migrations (including additive column upgrades of a pre-cadence
// members table).
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DefaultTZ == "" {
		cfg.DefaultTZ = "UTC"
	}
	if cfg.DefaultHHMM == "" {
		cfg.DefaultHHMM = "08:00"
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite is a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragmas: %w", err)
		}
	}

	s := &sqliteStore{db: db, log: log, cfg: cfg}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	return s.ensureColumns(ctx)
}

// ensureColumns upgrades a pre-cadence members table in place. Upgrades are
// strictly additive so older databases keep their rows.
func (s *sqliteStore) ensureColumns(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(members)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return err
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !cols["cadence"] {
		if _, err := s.db.ExecContext(ctx,
			`ALTER TABLE members ADD COLUMN cadence TEXT NOT NULL DEFAULT 'daily'`); err != nil {
			return err
		}
		s.log.Info("members table upgraded", logx.String("column", "cadence"))
	}
	if !cols["dow"] {
		if _, err := s.db.ExecContext(ctx,
			`ALTER TABLE members ADD COLUMN dow TEXT`); err != nil {
			return err
		}
		s.log.Info("members table upgraded", logx.String("column", "dow"))
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Settings ----

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.String, v.Valid, nil
}

func (s *sqliteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// ---- Members ----

func (s *sqliteStore) UpsertMember(ctx context.Context, userID int64, tz, hhmm string, approved bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members(user_id, tz, hhmm, approved) VALUES(?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			tz       = excluded.tz,
			hhmm     = excluded.hhmm,
			approved = excluded.approved`,
		userID, tz, hhmm, boolToInt(approved),
	)
	return err
}

func (s *sqliteStore) SetMemberTime(ctx context.Context, userID int64, hhmm string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE members SET hhmm = ? WHERE user_id = ?`, hhmm, userID)
	return err
}

func (s *sqliteStore) SetMemberTZ(ctx context.Context, userID int64, tz string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE members SET tz = ? WHERE user_id = ?`, tz, userID)
	return err
}

func (s *sqliteStore) SetMemberCadence(ctx context.Context, userID int64, cadence domain.Cadence, dow string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE members SET cadence = ?, dow = ? WHERE user_id = ?`,
		string(cadence), nullStr(dow), userID)
	return err
}

func (s *sqliteStore) SetApproved(ctx context.Context, userID int64, approved bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members(user_id, tz, hhmm, approved) VALUES(?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET approved = excluded.approved`,
		userID, s.cfg.DefaultTZ, s.cfg.DefaultHHMM, boolToInt(approved),
	)
	return err
}

func (s *sqliteStore) GetMember(ctx context.Context, userID int64) (*domain.Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, tz, hhmm, approved, cadence, dow
		FROM members WHERE user_id = ?`, userID)
	m, err := scanMember(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *sqliteStore) ListApproved(ctx context.Context) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, tz, hhmm, approved, cadence, dow
		FROM members WHERE approved = 1 ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		m, err := scanMember(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMember(scan func(...any) error) (*domain.Member, error) {
	var (
		userID   int64
		tz, hhmm string
		approved int
		cadence  string
		dow      sql.NullString
	)
	if err := scan(&userID, &tz, &hhmm, &approved, &cadence, &dow); err != nil {
		return nil, err
	}
	return &domain.Member{
		UserID:   userID,
		TZ:       tz,
		HHMM:     hhmm,
		Approved: approved != 0,
		Cadence:  domain.Cadence(cadence),
		DOW:      dow.String,
	}, nil
}

// ---- Check-ins ----

func (s *sqliteStore) AppendCheckin(ctx context.Context, userID int64, content string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkins(user_id, content, created_at_utc) VALUES(?, ?, ?)`,
		userID, content, at.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *sqliteStore) CountCheckins(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkins WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func (s *sqliteStore) RecentCheckins(ctx context.Context, limit int) ([]domain.Checkin, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, created_at_utc
		FROM checkins ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Checkin
	for rows.Next() {
		var (
			c  domain.Checkin
			ts string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Content, &ts); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			c.CreatedAt = t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
