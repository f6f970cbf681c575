package schedule

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"ackbot/internal/domain"
	"ackbot/internal/storage"
	logx "ackbot/pkg/logx"
)

type fakeStore struct {
	storage.Store // panic on anything unimplemented
	members       []domain.Member
}

func (f *fakeStore) ListApproved(ctx context.Context) ([]domain.Member, error) {
	return f.members, nil
}

type fakePrompter struct {
	mu    sync.Mutex
	sends []int64
}

func (f *fakePrompter) SendPrompt(ctx context.Context, m domain.Member) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, m.UserID)
	return nil
}

func newTestRegistry(t *testing.T, members ...domain.Member) *Registry {
	t.Helper()
	r := New(Config{DefaultTZ: "UTC"}, &fakeStore{members: members}, &fakePrompter{}, logx.Nop())
	r.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	})
	return r
}

func member(id int64) domain.Member {
	return domain.Member{
		UserID:   id,
		TZ:       "Europe/London",
		HHMM:     "08:00",
		Approved: true,
		Cadence:  domain.CadenceDaily,
	}
}

func TestScheduleSupersedes(t *testing.T) {
	r := newTestRegistry(t)

	m := member(1)
	if err := r.Schedule(m); err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	m.HHMM = "21:00"
	if err := r.Schedule(m); err != nil {
		t.Fatalf("second schedule: %v", err)
	}
	if got := r.Active(); got != 1 {
		t.Fatalf("active triggers = %d, want 1", got)
	}
}

func TestScheduleInvalidTimeRejected(t *testing.T) {
	r := newTestRegistry(t)
	m := member(1)
	m.HHMM = "24:00"
	if err := r.Schedule(m); err == nil {
		t.Fatal("expected error for 24:00")
	}
	if r.Active() != 0 {
		t.Fatal("invalid schedule installed a trigger")
	}
}

func TestScheduleBadZoneFallsBack(t *testing.T) {
	r := newTestRegistry(t)
	m := member(1)
	m.TZ = "Atlantis/Lost"
	if err := r.Schedule(m); err != nil {
		t.Fatalf("schedule with bad zone should fall back: %v", err)
	}
	if r.Active() != 1 {
		t.Fatal("no trigger installed")
	}
}

func TestUnscheduleIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Schedule(member(1)); err != nil {
		t.Fatal(err)
	}
	r.Unschedule(1)
	r.Unschedule(1) // absence is not an error
	r.Unschedule(99)
	if r.Active() != 0 {
		t.Fatalf("active = %d, want 0", r.Active())
	}
}

func TestRescheduleAllToleratesBadMember(t *testing.T) {
	bad := member(2)
	bad.HHMM = "nonsense" // corrupted row, fails SplitHHMM
	r := newTestRegistry(t, member(1), bad, member(3))

	scheduled, failed := r.RescheduleAll(context.Background())
	if scheduled != 2 || failed != 1 {
		t.Fatalf("scheduled=%d failed=%d, want 2/1", scheduled, failed)
	}
	if r.Active() != 2 {
		t.Fatalf("active = %d, want 2", r.Active())
	}
}

func TestNextFireReflectsLocalSchedule(t *testing.T) {
	r := newTestRegistry(t)
	m := member(7)
	m.TZ = "Europe/London"
	m.HHMM = "21:00"
	if err := r.Schedule(m); err != nil {
		t.Fatal(err)
	}
	next, ok := r.NextFire(7)
	if !ok {
		t.Fatal("no next fire for scheduled member")
	}
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatal(err)
	}
	local := next.In(loc)
	if local.Hour() != 21 || local.Minute() != 0 {
		t.Fatalf("next fire local = %02d:%02d, want 21:00", local.Hour(), local.Minute())
	}
	if _, ok := r.NextFire(8); ok {
		t.Fatal("NextFire reported a trigger for an unscheduled member")
	}
}

func TestCronSpec(t *testing.T) {
	r := New(Config{DefaultTZ: "UTC"}, &fakeStore{}, &fakePrompter{}, logx.Nop())

	m := member(1)
	spec, err := r.cronSpec(m)
	if err != nil {
		t.Fatal(err)
	}
	if spec != "CRON_TZ=Europe/London 0 8 * * *" {
		t.Fatalf("daily spec = %q", spec)
	}

	m.Cadence = domain.CadenceWeekly
	m.DOW = "fri"
	spec, err = r.cronSpec(m)
	if err != nil {
		t.Fatal(err)
	}
	if spec != "CRON_TZ=Europe/London 0 8 * * 5" {
		t.Fatalf("weekly spec = %q", spec)
	}

	// Weekly with an unusable day defaults to Monday.
	m.DOW = "someday"
	spec, err = r.cronSpec(m)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(spec, "* * 1") {
		t.Fatalf("weekly fallback spec = %q, want Monday", spec)
	}
}
