package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ackbot/internal/domain"
	"ackbot/internal/storage"
	kit "ackbot/internal/transport"
	logx "ackbot/pkg/logx"
)

type memStore struct {
	storage.Store

	members  map[int64]domain.Member
	settings map[string]string
	checkins []domain.Checkin
	failNext error
}

func newMemStore() *memStore {
	return &memStore{
		members:  map[int64]domain.Member{},
		settings: map[string]string{},
	}
}

func (s *memStore) GetMember(ctx context.Context, id int64) (*domain.Member, error) {
	m, ok := s.members[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *memStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *memStore) SetSetting(ctx context.Context, key, value string) error {
	s.settings[key] = value
	return nil
}

func (s *memStore) AppendCheckin(ctx context.Context, id int64, content string, at time.Time) error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.checkins = append(s.checkins, domain.Checkin{UserID: id, Content: content, CreatedAt: at})
	return nil
}

type sent struct {
	chatID int64
	text   string
	opt    *kit.SendOptions
}

type fakeSender struct {
	sent    []sent
	failFor map[int64]error
}

func (f *fakeSender) SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) error {
	if err := f.failFor[chatID]; err != nil {
		return err
	}
	f.sent = append(f.sent, sent{chatID: chatID, text: text, opt: opt})
	return nil
}

func (f *fakeSender) toChat(chatID int64) []string {
	var out []string
	for _, s := range f.sent {
		if s.chatID == chatID {
			out = append(out, s.text)
		}
	}
	return out
}

const bulletinChat = int64(-100500)

func setup(t *testing.T) (*Relay, *memStore, *fakeSender) {
	t.Helper()
	st := newMemStore()
	sn := &fakeSender{failFor: map[int64]error{}}
	r := New(st, sn, NewBulletin(st, 0), logx.Nop())
	r.now = func() time.Time {
		return time.Date(2025, time.July, 1, 12, 0, 0, 0, time.UTC)
	}
	return r, st, sn
}

func approvedMember(st *memStore) domain.Member {
	m := domain.Member{
		UserID: 42, TZ: "Europe/London", HHMM: "08:00",
		Approved: true, Cadence: domain.CadenceDaily,
	}
	st.members[m.UserID] = m
	return m
}

func dm(text string) *kit.Message {
	return &kit.Message{ChatID: 42, FromID: 42, DisplayName: "Sam", Text: text, Private: true}
}

func TestUnapprovedSenderGetsHintAndNoRow(t *testing.T) {
	r, st, sn := setup(t)

	if err := r.HandleDirectMessage(context.Background(), dm("made it to the gym")); err != nil {
		t.Fatal(err)
	}
	if len(st.checkins) != 0 {
		t.Fatal("check-in row written for unenrolled sender")
	}
	replies := sn.toChat(42)
	if len(replies) != 1 || !strings.Contains(replies[0], "/join") {
		t.Fatalf("want enrollment hint, got %q", replies)
	}

	// Revoked member is treated the same.
	m := approvedMember(st)
	m.Approved = false
	st.members[m.UserID] = m
	if err := r.HandleDirectMessage(context.Background(), dm("hello")); err != nil {
		t.Fatal(err)
	}
	if len(st.checkins) != 0 {
		t.Fatal("check-in row written for revoked sender")
	}
}

func TestEmptyContentDroppedSilently(t *testing.T) {
	r, st, sn := setup(t)
	approvedMember(st)

	if err := r.HandleDirectMessage(context.Background(), dm("   \n  ")); err != nil {
		t.Fatal(err)
	}
	if len(st.checkins) != 0 || len(sn.sent) != 0 {
		t.Fatal("empty message should be a silent no-op")
	}
}

func TestNoBulletinConfigured(t *testing.T) {
	r, st, sn := setup(t)
	approvedMember(st)

	if err := r.HandleDirectMessage(context.Background(), dm("did the thing")); err != nil {
		t.Fatal(err)
	}
	if len(st.checkins) != 1 {
		t.Fatalf("checkins = %d, want 1", len(st.checkins))
	}
	replies := sn.toChat(42)
	if len(replies) != 1 || !strings.Contains(replies[0], "isn't configured") {
		t.Fatalf("want recorded-not-posted notice, got %q", replies)
	}
	if got := sn.toChat(bulletinChat); len(got) != 0 {
		t.Fatal("relay attempted without a configured bulletin")
	}
}

func TestRelaySuccess(t *testing.T) {
	r, st, sn := setup(t)
	approvedMember(st)
	st.settings[storage.SettingBulletinChat] = "-100500"

	if err := r.HandleDirectMessage(context.Background(), dm("ran 5k <today>")); err != nil {
		t.Fatal(err)
	}
	if len(st.checkins) != 1 {
		t.Fatalf("checkins = %d, want 1", len(st.checkins))
	}

	posts := sn.toChat(bulletinChat)
	if len(posts) != 1 {
		t.Fatalf("bulletin posts = %d, want 1", len(posts))
	}
	post := posts[0]
	if !strings.Contains(post, "Daily Check-in") {
		t.Errorf("post missing header: %q", post)
	}
	if !strings.Contains(post, "ran 5k &lt;today&gt;") {
		t.Errorf("content not escaped: %q", post)
	}
	if !strings.Contains(post, "Local time: 2025-07-01 13:00 BST") {
		t.Errorf("post missing local-time footer: %q", post)
	}
	replies := sn.toChat(42)
	if len(replies) != 1 || !strings.Contains(replies[0], "Posted") {
		t.Fatalf("want posted ack, got %q", replies)
	}
}

func TestRelayFailureKeepsRow(t *testing.T) {
	r, st, sn := setup(t)
	approvedMember(st)
	st.settings[storage.SettingBulletinChat] = "-100500"
	sn.failFor[bulletinChat] = errors.New("forbidden")

	if err := r.HandleDirectMessage(context.Background(), dm("still here")); err != nil {
		t.Fatal(err)
	}
	if len(st.checkins) != 1 {
		t.Fatal("row must stay persisted after a relay failure")
	}
	replies := sn.toChat(42)
	if len(replies) != 1 || !strings.Contains(replies[0], "couldn't post") {
		t.Fatalf("want relay-failed notice, got %q", replies)
	}
}

func TestStoreFailureNotified(t *testing.T) {
	r, st, sn := setup(t)
	approvedMember(st)
	st.failNext = errors.New("disk full")

	if err := r.HandleDirectMessage(context.Background(), dm("x")); err == nil {
		t.Fatal("expected error from failed persist")
	}
	replies := sn.toChat(42)
	if len(replies) != 1 || !strings.Contains(replies[0], "couldn't record") {
		t.Fatalf("want record-failed notice, got %q", replies)
	}
}

func TestBulletinResolutionOrder(t *testing.T) {
	st := newMemStore()
	st.settings[storage.SettingBulletinChat] = "-200"

	// Override wins over the persisted setting.
	b := NewBulletin(st, -100)
	if id, ok := b.Resolve(context.Background()); !ok || id != -100 {
		t.Fatalf("override: got %d, %v", id, ok)
	}

	// Without an override the persisted setting is used and cached.
	b = NewBulletin(st, 0)
	if id, ok := b.Resolve(context.Background()); !ok || id != -200 {
		t.Fatalf("setting: got %d, %v", id, ok)
	}
	delete(st.settings, storage.SettingBulletinChat)
	if id, ok := b.Resolve(context.Background()); !ok || id != -200 {
		t.Fatalf("cache: got %d, %v", id, ok)
	}

	// Set persists and updates the cache.
	if err := b.Set(context.Background(), -300); err != nil {
		t.Fatal(err)
	}
	if st.settings[storage.SettingBulletinChat] != "-300" {
		t.Fatal("Set did not persist")
	}
	if id, _ := b.Resolve(context.Background()); id != -300 {
		t.Fatalf("after Set: got %d", id)
	}
}
