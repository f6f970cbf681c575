package bot

import (
	"context"

	"ackbot/internal/domain"
	kit "ackbot/internal/transport"
)

// Prompter delivers the scheduled check-in prompt to a member's direct
// chat. It satisfies the schedule registry's delivery port.
type Prompter struct {
	send interface {
		SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) error
	}
	text string
}

func NewPrompter(adapter kit.Adapter, promptText string) *Prompter {
	if promptText == "" {
		promptText = defaultPromptText
	}
	return &Prompter{send: adapter, text: promptText}
}

func (p *Prompter) SendPrompt(ctx context.Context, m domain.Member) error {
	// A member's direct chat ID equals their user ID.
	return p.send.SendText(ctx, m.UserID, p.text, nil)
}
