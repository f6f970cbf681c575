// Package bot is the command surface: parsing, authorization, and the
// per-command state transitions. Every schedule-affecting command re-reads
// the member after the write and hands that fresh state to the scheduler.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ackbot/internal/domain"
	"ackbot/internal/relay"
	"ackbot/internal/storage"
	kit "ackbot/internal/transport"
	logx "ackbot/pkg/logx"
)

// Scheduler is the slice of the schedule registry the commands need.
type Scheduler interface {
	Schedule(m domain.Member) error
	Unschedule(userID int64)
	NextFire(userID int64) (time.Time, bool)
}

type Config struct {
	// GroupChatID restricts group commands to one home group when set.
	GroupChatID int64

	DefaultTZ   string
	DefaultHHMM string

	CommandTimeout time.Duration
}

// Request is one parsed command invocation.
type Request struct {
	Msg  *kit.Message
	Cmd  string
	Args []string
}

type Command struct {
	Name        string
	Description string
	Usage       string
	Admin       bool
	Handle      HandlerFunc
}

type Bot struct {
	cfg     Config
	log     logx.Logger
	store   storage.Store
	sched   Scheduler
	bull    *relay.Bulletin
	relay   *relay.Relay
	adapter kit.Adapter
	gate    *Gate

	cmds    map[string]Command
	order   []string
	handler HandlerFunc
}

func New(cfg Config, store storage.Store, sched Scheduler, bull *relay.Bulletin, rel *relay.Relay, adapter kit.Adapter, gate *Gate, log logx.Logger) *Bot {
	if cfg.DefaultTZ == "" {
		cfg.DefaultTZ = "America/Chicago"
	}
	if cfg.DefaultHHMM == "" {
		cfg.DefaultHHMM = "08:00"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		cfg:     cfg,
		log:     log,
		store:   store,
		sched:   sched,
		bull:    bull,
		relay:   rel,
		adapter: adapter,
		gate:    gate,
	}
	b.register()
	b.handler = Chain(b.dispatchCommand,
		MWPanicRecover(log),
		MWRequestLog(log),
		MWTimeout(cfg.CommandTimeout),
	)
	return b
}

func (b *Bot) register() {
	cmds := []Command{
		{Name: "ping", Description: "Check that the bot is alive", Handle: b.cmdPing},
		{Name: "join", Description: "Opt in to scheduled check-ins", Handle: b.cmdJoin},
		{Name: "leave", Description: "Opt out of check-ins", Handle: b.cmdLeave},
		{Name: "settime", Description: "Set your prompt time (24h)", Usage: "/settime HH:MM", Handle: b.cmdSetTime},
		{Name: "settimezone", Description: "Set your IANA timezone", Usage: "/settimezone America/Chicago", Handle: b.cmdSetTimezone},
		{Name: "setcadence", Description: "Choose daily or weekly check-ins", Usage: "/setcadence daily|weekly", Handle: b.cmdSetCadence},
		{Name: "setweekly", Description: "Set your weekly day and time", Usage: "/setweekly mon 07:30", Handle: b.cmdSetWeekly},
		{Name: "mysettings", Description: "Show your prompt time and timezone", Handle: b.cmdMySettings},
		{Name: "setbulletin", Description: "Set the bulletin chat", Usage: "/setbulletin [chat_id]", Admin: true, Handle: b.cmdSetBulletin},
		{Name: "approve", Description: "Approve a member", Usage: "/approve <user_id> (or reply)", Admin: true, Handle: b.cmdApprove},
		{Name: "revoke", Description: "Revoke a member", Usage: "/revoke <user_id> (or reply)", Admin: true, Handle: b.cmdRevoke},
		{Name: "history", Description: "Show recent check-ins", Usage: "/history [n]", Admin: true, Handle: b.cmdHistory},
		{Name: "help", Description: "Show this help", Handle: b.cmdHelp},
	}
	b.cmds = make(map[string]Command, len(cmds))
	b.order = b.order[:0]
	for _, c := range cmds {
		b.cmds[c.Name] = c
		b.order = append(b.order, c.Name)
	}
}

// MenuCommands returns the registry as platform menu entries.
func (b *Bot) MenuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(b.order))
	for _, name := range b.order {
		c := b.cmds[name]
		if c.Admin {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// SetAdmins forwards a hot-reloaded admin list to the gate.
func (b *Bot) SetAdmins(userIDs []int64, usernames []string) {
	b.gate.SetAdmins(userIDs, usernames)
}

func (b *Bot) dispatchCommand(ctx context.Context, req *Request) error {
	c, ok := b.cmds[req.Cmd]
	if !ok {
		if req.Msg.Private {
			b.reply(ctx, req.Msg, "Unknown command. Try /help.")
		}
		return nil
	}
	if c.Admin && !b.gate.Allowed(ctx, req.Msg) {
		b.reply(ctx, req.Msg, textNoPermission)
		return nil
	}
	return c.Handle(ctx, req)
}

// reply sends privately to the invoker. Replies to group-issued commands go
// to the sender's direct chat so responses stay private; delivery failures
// (user never opened a direct chat) are discarded at this one site.
func (b *Bot) reply(ctx context.Context, msg *kit.Message, text string) {
	chatID := msg.ChatID
	if !msg.Private {
		chatID = msg.FromID
	}
	_ = b.adapter.SendText(ctx, chatID, text, nil)
}

func (b *Bot) cmdPing(ctx context.Context, req *Request) error {
	b.reply(ctx, req.Msg, textPong)
	return nil
}

func (b *Bot) cmdJoin(ctx context.Context, req *Request) error {
	id := req.Msg.FromID
	tz, hhmm := b.cfg.DefaultTZ, b.cfg.DefaultHHMM
	if existing, err := b.store.GetMember(ctx, id); err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	} else if existing != nil {
		tz, hhmm = existing.TZ, existing.HHMM
	}
	if err := b.store.UpsertMember(ctx, id, tz, hhmm, true); err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	if err := b.store.SetMemberCadence(ctx, id, domain.CadenceDaily, ""); err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	return b.rescheduleAndReply(ctx, req, textJoined)
}

func (b *Bot) cmdLeave(ctx context.Context, req *Request) error {
	id := req.Msg.FromID
	m, err := b.store.GetMember(ctx, id)
	if err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	if m == nil || !m.Approved {
		b.reply(ctx, req.Msg, textNotEnrolled)
		return nil
	}
	if err := b.store.SetApproved(ctx, id, false); err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	b.sched.Unschedule(id)
	b.reply(ctx, req.Msg, textLeft)
	return nil
}

func (b *Bot) cmdSetTime(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 || !domain.ValidHHMM(req.Args[0]) {
		b.reply(ctx, req.Msg, textBadTime)
		return nil
	}
	hhmm := req.Args[0]
	id := req.Msg.FromID

	m, err := b.store.GetMember(ctx, id)
	if err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	if m == nil {
		err = b.store.UpsertMember(ctx, id, b.cfg.DefaultTZ, hhmm, true)
	} else {
		err = b.store.SetMemberTime(ctx, id, hhmm)
	}
	if err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	return b.rescheduleAndReply(ctx, req,
		fmt.Sprintf("✅ I'll message you at %s your local time.", hhmm))
}

func (b *Bot) cmdSetTimezone(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		b.reply(ctx, req.Msg, textBadZone)
		return nil
	}
	tz, err := domain.ValidateTZ(req.Args[0])
	if err != nil {
		b.reply(ctx, req.Msg, textBadZone)
		return nil
	}
	id := req.Msg.FromID

	m, err := b.store.GetMember(ctx, id)
	if err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	if m == nil {
		err = b.store.UpsertMember(ctx, id, tz, b.cfg.DefaultHHMM, true)
	} else {
		err = b.store.SetMemberTZ(ctx, id, tz)
	}
	if err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}

	fresh, err := b.store.GetMember(ctx, id)
	if err != nil || fresh == nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	if err := b.sched.Schedule(*fresh); err != nil {
		b.log.Warn("schedule after settimezone failed", logx.Int64("user_id", id), logx.Err(err))
		b.reply(ctx, req.Msg, textSavedNotScheduled)
		return nil
	}
	b.reply(ctx, req.Msg,
		fmt.Sprintf("✅ Timezone set to %s. Your prompt is at %s local time.", tz, fresh.HHMM))
	return nil
}

func (b *Bot) cmdSetCadence(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		b.reply(ctx, req.Msg, textBadCadence)
		return nil
	}
	cadence, ok := domain.ParseCadence(req.Args[0])
	if !ok {
		b.reply(ctx, req.Msg, textBadCadence)
		return nil
	}
	id := req.Msg.FromID

	m, err := b.store.GetMember(ctx, id)
	if err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	if m == nil || !m.Approved {
		b.reply(ctx, req.Msg, textNotEnrolledJoin)
		return nil
	}

	// Switching to weekly keeps any previously chosen day.
	dow := ""
	if cadence == domain.CadenceWeekly {
		dow = m.DOW
	}
	if err := b.store.SetMemberCadence(ctx, id, cadence, dow); err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	return b.rescheduleAndReply(ctx, req,
		fmt.Sprintf("✅ Cadence set to %s.", cadence))
}

func (b *Bot) cmdSetWeekly(ctx context.Context, req *Request) error {
	if len(req.Args) != 2 {
		b.reply(ctx, req.Msg, textBadTime)
		return nil
	}
	day, hhmm := req.Args[0], req.Args[1]
	if !domain.ValidHHMM(hhmm) {
		b.reply(ctx, req.Msg, textBadTime)
		return nil
	}
	dow, ok := domain.NormalizeDOW(day)
	if !ok {
		b.reply(ctx, req.Msg, textBadDay)
		return nil
	}
	id := req.Msg.FromID

	m, err := b.store.GetMember(ctx, id)
	if err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	if m == nil || !m.Approved {
		b.reply(ctx, req.Msg, textNotEnrolledJoin)
		return nil
	}
	if err := b.store.SetMemberTime(ctx, id, hhmm); err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	if err := b.store.SetMemberCadence(ctx, id, domain.CadenceWeekly, dow); err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	return b.rescheduleAndReply(ctx, req,
		fmt.Sprintf("✅ Weekly check-in set: %s %s.", dow, hhmm))
}

func (b *Bot) cmdMySettings(ctx context.Context, req *Request) error {
	id := req.Msg.FromID
	m, err := b.store.GetMember(ctx, id)
	if err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	if m == nil || !m.Approved {
		b.reply(ctx, req.Msg, textNotEnrolledFull)
		return nil
	}

	lines := []string{
		"Time: " + m.HHMM,
		"Timezone: " + m.TZ,
	}
	if m.Cadence == domain.CadenceWeekly {
		dow := m.DOW
		if dow == "" {
			dow = "mon"
		}
		lines = append(lines, "Cadence: weekly ("+dow+")")
	} else {
		lines = append(lines, "Cadence: daily")
	}
	if n, err := b.store.CountCheckins(ctx, id); err == nil {
		lines = append(lines, fmt.Sprintf("Check-ins recorded: %d", n))
	}
	if next, ok := b.sched.NextFire(id); ok {
		lines = append(lines, "Next prompt: "+domain.LocalTimeString(next, m.TZ))
	}
	b.reply(ctx, req.Msg, strings.Join(lines, "\n"))
	return nil
}

func (b *Bot) cmdSetBulletin(ctx context.Context, req *Request) error {
	var chatID int64
	switch {
	case len(req.Args) >= 1:
		v, err := strconv.ParseInt(req.Args[0], 10, 64)
		if err != nil {
			b.reply(ctx, req.Msg, "Usage: /setbulletin [chat_id] (or run it inside the target group).")
			return nil
		}
		chatID = v
	case !req.Msg.Private:
		chatID = req.Msg.ChatID
	default:
		b.reply(ctx, req.Msg, "Usage: /setbulletin [chat_id] (or run it inside the target group).")
		return nil
	}

	if err := b.bull.Set(ctx, chatID); err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	b.reply(ctx, req.Msg, fmt.Sprintf("✅ Bulletin chat set to %d.", chatID))
	return nil
}

func (b *Bot) cmdApprove(ctx context.Context, req *Request) error {
	target, ok := b.targetUser(req)
	if !ok {
		b.reply(ctx, req.Msg, "Usage: /approve <user_id>, or reply to a message from the user.")
		return nil
	}
	if err := b.store.SetApproved(ctx, target, true); err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}

	m, err := b.store.GetMember(ctx, target)
	if err != nil || m == nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	if err := b.sched.Schedule(*m); err != nil {
		b.log.Warn("schedule after approve failed", logx.Int64("user_id", target), logx.Err(err))
		b.reply(ctx, req.Msg, textSavedNotScheduled)
		return nil
	}

	// Best-effort welcome note; the user may never have opened a direct chat.
	_ = b.adapter.SendText(ctx, target, textApprovedWelcome, nil)

	b.reply(ctx, req.Msg, fmt.Sprintf("✅ Approved %d.", target))
	return nil
}

func (b *Bot) cmdRevoke(ctx context.Context, req *Request) error {
	target, ok := b.targetUser(req)
	if !ok {
		b.reply(ctx, req.Msg, "Usage: /revoke <user_id>, or reply to a message from the user.")
		return nil
	}
	if err := b.store.SetApproved(ctx, target, false); err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	b.sched.Unschedule(target)
	b.reply(ctx, req.Msg, fmt.Sprintf("✅ Revoked %d.", target))
	return nil
}

func (b *Bot) cmdHistory(ctx context.Context, req *Request) error {
	limit := 10
	if len(req.Args) >= 1 {
		if v, err := strconv.Atoi(req.Args[0]); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 50 {
		limit = 50
	}

	rows, err := b.store.RecentCheckins(ctx, limit)
	if err != nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	if len(rows) == 0 {
		b.reply(ctx, req.Msg, "No check-ins recorded yet.")
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Last %d check-ins:\n", len(rows))
	for _, c := range rows {
		content := strings.ReplaceAll(c.Content, "\n", " ")
		if len([]rune(content)) > 80 {
			content = string([]rune(content)[:80]) + "…"
		}
		fmt.Fprintf(&sb, "%s · %d: %s\n", c.CreatedAt.Format("2006-01-02 15:04"), c.UserID, content)
	}
	b.reply(ctx, req.Msg, sb.String())
	return nil
}

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	admin := b.gate.Allowed(ctx, req.Msg)
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, name := range b.order {
		c := b.cmds[name]
		if c.Admin && !admin {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		fmt.Fprintf(&sb, "%s — %s\n", usage, c.Description)
	}
	b.reply(ctx, req.Msg, sb.String())
	return nil
}

// rescheduleAndReply re-reads the member and installs the trigger from that
// fresh state, replying with okText or the saved-not-scheduled notice.
func (b *Bot) rescheduleAndReply(ctx context.Context, req *Request, okText string) error {
	id := req.Msg.FromID
	m, err := b.store.GetMember(ctx, id)
	if err != nil || m == nil {
		b.reply(ctx, req.Msg, textStoreFailed)
		return err
	}
	if err := b.sched.Schedule(*m); err != nil {
		b.log.Warn("schedule update failed", logx.Int64("user_id", id), logx.Err(err))
		b.reply(ctx, req.Msg, textSavedNotScheduled)
		return nil
	}
	b.reply(ctx, req.Msg, okText)
	return nil
}

func (b *Bot) targetUser(req *Request) (int64, bool) {
	if len(req.Args) >= 1 {
		v, err := strconv.ParseInt(req.Args[0], 10, 64)
		if err != nil || v <= 0 {
			return 0, false
		}
		return v, true
	}
	if req.Msg.ReplyToID != 0 {
		return req.Msg.ReplyToID, true
	}
	return 0, false
}
