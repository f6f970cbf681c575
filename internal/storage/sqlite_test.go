package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"ackbot/internal/domain"
	logx "ackbot/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ackbot.db")
	s, err := Open(context.Background(), Config{
		Path:        path,
		DefaultTZ:   "America/Chicago",
		DefaultHHMM: "08:00",
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSettingsUpsert(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetSetting(ctx, SettingBulletinChat); err != nil || ok {
		t.Fatalf("unset setting: ok=%v err=%v", ok, err)
	}
	if err := s.SetSetting(ctx, SettingBulletinChat, "-100500"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting(ctx, SettingBulletinChat, "-100600"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.GetSetting(ctx, SettingBulletinChat)
	if err != nil || !ok || v != "-100600" {
		t.Fatalf("GetSetting = %q %v %v", v, ok, err)
	}
}

func TestMemberLifecycle(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if m, err := s.GetMember(ctx, 7); err != nil || m != nil {
		t.Fatalf("unknown member: %v %v", m, err)
	}

	if err := s.UpsertMember(ctx, 7, "Europe/London", "21:00", true); err != nil {
		t.Fatal(err)
	}
	m, err := s.GetMember(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if m.TZ != "Europe/London" || m.HHMM != "21:00" || !m.Approved {
		t.Errorf("member = %+v", m)
	}
	if m.Cadence != domain.CadenceDaily || m.DOW != "" {
		t.Errorf("new member cadence = %+v", m)
	}

	if err := s.SetMemberTime(ctx, 7, "07:30"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMemberTZ(ctx, 7, "UTC"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMemberCadence(ctx, 7, domain.CadenceWeekly, "fri"); err != nil {
		t.Fatal(err)
	}
	m, _ = s.GetMember(ctx, 7)
	if m.HHMM != "07:30" || m.TZ != "UTC" || m.Cadence != domain.CadenceWeekly || m.DOW != "fri" {
		t.Errorf("after updates: %+v", m)
	}

	// Back to daily clears the day.
	if err := s.SetMemberCadence(ctx, 7, domain.CadenceDaily, ""); err != nil {
		t.Fatal(err)
	}
	m, _ = s.GetMember(ctx, 7)
	if m.Cadence != domain.CadenceDaily || m.DOW != "" {
		t.Errorf("cadence reset: %+v", m)
	}
}

func TestSetApprovedCreatesWithDefaults(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if err := s.SetApproved(ctx, 9, true); err != nil {
		t.Fatal(err)
	}
	m, err := s.GetMember(ctx, 9)
	if err != nil || m == nil {
		t.Fatalf("member missing: %v %v", m, err)
	}
	if m.TZ != "America/Chicago" || m.HHMM != "08:00" || !m.Approved {
		t.Errorf("defaults: %+v", m)
	}

	// Flipping approval on an existing row must not touch tz/hhmm.
	if err := s.SetMemberTZ(ctx, 9, "Europe/London"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetApproved(ctx, 9, false); err != nil {
		t.Fatal(err)
	}
	m, _ = s.GetMember(ctx, 9)
	if m.Approved || m.TZ != "Europe/London" {
		t.Errorf("revoke clobbered settings: %+v", m)
	}
}

func TestListApprovedSkipsRevoked(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		if err := s.UpsertMember(ctx, id, "UTC", "08:00", true); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetApproved(ctx, 2, false); err != nil {
		t.Fatal(err)
	}

	members, err := s.ListApproved(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0].UserID != 1 || members[1].UserID != 3 {
		t.Errorf("ListApproved = %+v", members)
	}
}

func TestCheckinsSurviveRevocation(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertMember(ctx, 7, "UTC", "08:00", true); err != nil {
		t.Fatal(err)
	}
	at := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	if err := s.AppendCheckin(ctx, 7, "made it to the gym", at); err != nil {
		t.Fatal(err)
	}
	if err := s.SetApproved(ctx, 7, false); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountCheckins(ctx, 7)
	if err != nil || n != 1 {
		t.Fatalf("CountCheckins = %d %v", n, err)
	}
	rows, err := s.RecentCheckins(ctx, 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("RecentCheckins = %v %v", rows, err)
	}
	if rows[0].Content != "made it to the gym" || !rows[0].CreatedAt.Equal(at) {
		t.Errorf("checkin = %+v", rows[0])
	}
}

func TestRecentCheckinsNewestFirst(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertMember(ctx, 7, "UTC", "08:00", true); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := s.AppendCheckin(ctx, 7, string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := s.RecentCheckins(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[0].Content != "e" || rows[2].Content != "c" {
		t.Errorf("rows = %+v", rows)
	}
}

// A database created before the cadence feature has a members table without
// cadence/dow. Reopening it must add the columns without losing rows.
func TestAdditiveMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(`
		CREATE TABLE settings (key TEXT PRIMARY KEY, value TEXT);
		CREATE TABLE members (
			user_id  INTEGER PRIMARY KEY,
			tz       TEXT NOT NULL,
			hhmm     TEXT NOT NULL,
			approved INTEGER NOT NULL DEFAULT 1
		);
		CREATE TABLE checkins (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id        INTEGER NOT NULL,
			content        TEXT NOT NULL,
			created_at_utc TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES members(user_id)
		);
		INSERT INTO members(user_id, tz, hhmm, approved) VALUES (7, 'Europe/London', '21:00', 1);
	`)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	s, err := Open(context.Background(), Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open over legacy schema: %v", err)
	}
	defer s.Close()

	m, err := s.GetMember(context.Background(), 7)
	if err != nil || m == nil {
		t.Fatalf("legacy row lost: %v %v", m, err)
	}
	if m.TZ != "Europe/London" || m.HHMM != "21:00" || !m.Approved {
		t.Errorf("legacy values: %+v", m)
	}
	if m.Cadence != domain.CadenceDaily || m.DOW != "" {
		t.Errorf("upgraded defaults: %+v", m)
	}

	if err := s.SetMemberCadence(context.Background(), 7, domain.CadenceWeekly, "mon"); err != nil {
		t.Fatalf("new columns not writable: %v", err)
	}
}
