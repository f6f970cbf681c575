// Package relay turns a member's private reply into a bulletin post.
//
// Pipeline per inbound direct message: filter (enrollment, empty content),
// persist, relay, acknowledge. The check-in row is written before the relay
// attempt and is never rolled back; durability of the record outranks relay
// success.
package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ackbot/internal/domain"
	"ackbot/internal/storage"
	kit "ackbot/internal/transport"
	logx "ackbot/pkg/logx"
	"ackbot/pkg/tgui"
)

const (
	textEnrollHint = "You're not enrolled yet. Use /join in the group to opt into check-ins.\n" +
		"After joining, set your time with /settime and timezone with /settimezone."
	textRecordFailed     = "Sorry, I couldn't record your check-in. Please try again."
	textNoBulletin       = "I recorded your check-in, but the bulletin channel isn't configured yet."
	textRelayFailed      = "I recorded your check-in, but couldn't post it to the bulletin channel."
	textPosted           = "✅ Posted to the group bulletin."
	maxCheckinContentLen = 3500
)

// Sender is the outbound slice of the platform adapter the relay needs.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) error
}

type Relay struct {
	log      logx.Logger
	store    storage.Store
	send     Sender
	bulletin *Bulletin

	now func() time.Time
}

func New(store storage.Store, send Sender, bulletin *Bulletin, log logx.Logger) *Relay {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Relay{
		log:      log,
		store:    store,
		send:     send,
		bulletin: bulletin,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleDirectMessage processes one non-command private message.
func (r *Relay) HandleDirectMessage(ctx context.Context, msg *kit.Message) error {
	m, err := r.store.GetMember(ctx, msg.FromID)
	if err != nil {
		return fmt.Errorf("member lookup: %w", err)
	}
	if m == nil || !m.Approved {
		r.reply(ctx, msg.ChatID, textEnrollHint)
		return nil
	}

	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return nil
	}

	now := r.now()
	if err := r.store.AppendCheckin(ctx, m.UserID, content, now); err != nil {
		r.reply(ctx, msg.ChatID, textRecordFailed)
		return fmt.Errorf("append checkin: %w", err)
	}

	chatID, ok := r.bulletin.Resolve(ctx)
	if !ok {
		// Terminal, non-error state: recorded but not posted.
		r.reply(ctx, msg.ChatID, textNoBulletin)
		return nil
	}

	post := r.formatPost(msg.DisplayName, m, content, now)
	err = r.send.SendText(ctx, chatID, post, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		// Row stays persisted; tell the sender the post didn't make it.
		r.log.Warn("bulletin post failed",
			logx.Int64("member", m.UserID), logx.Int64("bulletin", chatID), logx.Err(err))
		r.reply(ctx, msg.ChatID, textRelayFailed)
		return nil
	}

	r.reply(ctx, msg.ChatID, textPosted)
	return nil
}

func (r *Relay) formatPost(displayName string, m *domain.Member, content string, now time.Time) string {
	header := "Daily Check-in"
	if m.Cadence == domain.CadenceWeekly {
		header = "Weekly Check-in"
	}
	head := tgui.JoinH(" — ", tgui.B(header), tgui.Mention(displayName, m.UserID))
	foot := tgui.I(fmt.Sprintf("%s · Local time: %s",
		now.Format("2006-01-02 15:04 UTC"),
		domain.LocalTimeString(now, m.TZ)))
	body := tgui.Esc(tgui.TruncRunes(content, maxCheckinContentLen))
	return head.String() + "\n\n" + body.String() + "\n\n" + foot.String()
}

// reply sends a private notice to the member. Delivery failures are
// discarded on purpose: a closed DM must never fail the pipeline.
func (r *Relay) reply(ctx context.Context, chatID int64, text string) {
	_ = r.send.SendText(ctx, chatID, text, nil)
}
