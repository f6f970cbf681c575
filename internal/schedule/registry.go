// Package schedule owns the mapping from member identity to one active
// recurring trigger. Triggers fire at the member's wall-clock time in the
// member's own zone, either every day or on one weekday.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ackbot/internal/domain"
	"ackbot/internal/storage"
	logx "ackbot/pkg/logx"
)

// Prompter delivers the outbound check-in prompt. Delivery failures are the
// prompter's to report; the registry logs and discards them, an unreachable
// member simply waits for the next fire.
type Prompter interface {
	SendPrompt(ctx context.Context, m domain.Member) error
}

type Config struct {
	// DefaultTZ is the fallback zone for members whose stored zone no
	// longer resolves.
	DefaultTZ string
	// PromptTimeout bounds one outbound prompt delivery.
	PromptTimeout time.Duration
}

// Registry is an owned object injected into the command surface and the app;
// it is the only holder of the identity-to-trigger mapping. The mapping is
// process-local, so RescheduleAll must run at startup before the process is
// considered ready.
type Registry struct {
	cfg      Config
	log      logx.Logger
	store    storage.Store
	prompter Prompter

	mu      sync.Mutex
	c       *cron.Cron
	entries map[int64]cron.EntryID
	started bool
}

func New(cfg Config, store storage.Store, prompter Prompter, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PromptTimeout <= 0 {
		cfg.PromptTimeout = 30 * time.Second
	}
	return &Registry{
		cfg:      cfg,
		log:      log,
		store:    store,
		prompter: prompter,
		c:        cron.New(),
		entries:  map[int64]cron.EntryID{},
	}
}

func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.c.Start()
}

func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	c := r.c
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Schedule installs the trigger for m, cancelling any previous trigger for
// the same identity first. A registration failure leaves the member with no
// active trigger and is returned to the caller; it must not be swallowed.
func (r *Registry) Schedule(m domain.Member) error {
	spec, err := r.cronSpec(m)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[m.UserID]; ok {
		r.c.Remove(old)
		delete(r.entries, m.UserID)
	}

	member := m
	id, err := r.c.AddFunc(spec, func() { r.fire(member) })
	if err != nil {
		return fmt.Errorf("register trigger for member %d: %w", m.UserID, err)
	}
	r.entries[m.UserID] = id
	r.log.Debug("trigger installed",
		logx.Int64("member", m.UserID), logx.String("spec", spec))
	return nil
}

// Unschedule cancels the member's trigger. Absence of a trigger is not an
// error.
func (r *Registry) Unschedule(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[userID]; ok {
		r.c.Remove(id)
		delete(r.entries, userID)
		r.log.Debug("trigger removed", logx.Int64("member", userID))
	}
}

// RescheduleAll rebuilds every approved member's trigger from stored state.
// One member's bad zone or bad row must not stop the rest from being
// scheduled, so per-member failures are logged and counted, not returned.
func (r *Registry) RescheduleAll(ctx context.Context) (scheduled, failed int) {
	members, err := r.store.ListApproved(ctx)
	if err != nil {
		r.log.Error("list approved members failed", logx.Err(err))
		return 0, 0
	}
	for _, m := range members {
		if err := r.Schedule(m); err != nil {
			failed++
			r.log.Warn("reschedule failed",
				logx.Int64("member", m.UserID), logx.Err(err))
			continue
		}
		scheduled++
	}
	r.log.Info("reschedule pass complete",
		logx.Int("scheduled", scheduled), logx.Int("failed", failed))
	return scheduled, failed
}

// Active returns the number of live triggers.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// NextFire reports the next fire time for a member's trigger.
func (r *Registry) NextFire(userID int64) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.entries[userID]
	if !ok {
		return time.Time{}, false
	}
	e := r.c.Entry(id)
	if !e.Valid() {
		return time.Time{}, false
	}
	return e.Next, true
}

func (r *Registry) fire(m domain.Member) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PromptTimeout)
	defer cancel()
	if err := r.prompter.SendPrompt(ctx, m); err != nil {
		// Unreachable recipient: drop, never retry, never escalate.
		r.log.Debug("prompt not delivered",
			logx.Int64("member", m.UserID), logx.Err(err))
	}
}

// cronSpec converts stored member fields into a per-entry spec.
// The zone rides in the spec itself (CRON_TZ), so one cron instance serves
// members across timezones.
func (r *Registry) cronSpec(m domain.Member) (string, error) {
	hour, minute, err := domain.SplitHHMM(m.HHMM)
	if err != nil {
		return "", err
	}

	tz := m.TZ
	if _, zerr := domain.ValidateTZ(tz); zerr != nil {
		r.log.Warn("member zone invalid, using default",
			logx.Int64("member", m.UserID), logx.String("tz", tz))
		tz = r.cfg.DefaultTZ
		if _, zerr := domain.ValidateTZ(tz); zerr != nil {
			return "", fmt.Errorf("default timezone %q: %w", tz, zerr)
		}
	}

	if m.Cadence == domain.CadenceWeekly {
		dow, ok := domain.NormalizeDOW(m.DOW)
		if !ok {
			dow = "mon"
		}
		wd, _ := domain.Weekday(dow)
		return fmt.Sprintf("CRON_TZ=%s %d %d * * %d", tz, minute, hour, int(wd)), nil
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", tz, minute, hour), nil
}
