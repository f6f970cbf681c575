package bot

import (
	"context"
	"strings"

	kit "ackbot/internal/transport"
	logx "ackbot/pkg/logx"
)

// Dispatch consumes the adapter's update channel until ctx is done or the
// channel closes. One message routes exactly one way: a /command goes to the
// command registry, non-command private text goes to the check-in relay, and
// non-command group text is ignored.
func (b *Bot) Dispatch(ctx context.Context, updates <-chan kit.Update) error {
	b.log.Info("dispatcher started")
	defer b.log.Info("dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			b.handleMessage(ctx, up.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)

	if cmd, args, ok := parseCommand(text); ok {
		// Group commands are honored only in the home group, when one is
		// configured. Private commands always are.
		if !msg.Private && b.cfg.GroupChatID != 0 && msg.ChatID != b.cfg.GroupChatID {
			return
		}
		req := &Request{Msg: msg, Cmd: cmd, Args: args}
		_ = b.handler(ctx, req)
		return
	}

	if msg.Private {
		if err := b.relay.HandleDirectMessage(ctx, msg); err != nil {
			b.log.Warn("check-in handling failed",
				logx.Int64("from_id", msg.FromID), logx.Err(err))
		}
	}
}

// parseCommand splits "/settime 07:30" into ("settime", ["07:30"]). A
// "@botname" suffix on the command token is stripped.
func parseCommand(text string) (cmd string, args []string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil, false
	}
	word := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", nil, false
	}
	return word, fields[1:], true
}
