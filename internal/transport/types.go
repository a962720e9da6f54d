package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateDocument UpdateKind = "document"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool

	// Document is set for UpdateDocument.
	Document *Document
}

// Document is an uploaded file; the content is fetched with Adapter.Download.
type Document struct {
	FileID   string
	FileName string
	MIME     string
	Size     int64
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	SendDocument(ctx context.Context, to ChatTarget, name string, data []byte, caption string) (MessageRef, error)
	Download(ctx context.Context, fileID string, maxBytes int64) ([]byte, error)
}

// Replier is the reply channel handed to long-running work started from a
// chat: pairing notifications and bulk lookup progress/results.
type Replier interface {
	SendText(ctx context.Context, text string) error
	SendDocument(ctx context.Context, name string, data []byte, caption string) error
	// EditProgress rewrites the last progress message, sending the first one
	// when none exists yet.
	EditProgress(ctx context.Context, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
