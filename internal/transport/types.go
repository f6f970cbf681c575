// Package transport defines the platform-neutral surface between the bot
// and a chat platform adapter.
package transport

import "context"

// Update is one inbound platform event.
type Update struct {
	Message *Message
}

// Message is an inbound text message.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	// DisplayName is the sender's human-readable name, used on bulletin posts.
	DisplayName string
	Text        string
	// Private is true for direct chats with the bot.
	Private bool
	// ReplyToID is the sender of the replied-to message, 0 when the message
	// is not a reply. Admin commands accept it as a target.
	ReplyToID int64
}

type SendOptions struct {
	ParseMode      string // "" plain, "HTML"
	DisablePreview bool
}

// Adapter is a chat platform client. Start pushes inbound updates into out
// until the context is cancelled.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) error

	// IsChatAdmin reports whether userID holds an elevated role
	// (administrator or owner) in chatID.
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// BotCommand is one command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can sync the platform's
// command menu. Sync failures are logged by callers and are never fatal.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
