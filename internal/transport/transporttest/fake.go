// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	kit "bioscout/internal/transport"
)

type Sent struct {
	To      kit.ChatTarget
	Text    string
	Edit    bool
	RefID   int
	DocName string
	DocData []byte
}

// Adapter records every outbound call. Files maps file IDs to Download content.
type Adapter struct {
	mu     sync.Mutex
	nextID int
	sent   []Sent
	Files  map[string][]byte
	Menu   []kit.BotCommand
}

func NewAdapter() *Adapter { return &Adapter{Files: map[string][]byte{}} }

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(ctx context.Context) error                         { return nil }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.sent = append(a.sent, Sent{To: to, Text: text, RefID: a.nextID})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, Sent{To: kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}, Text: text, Edit: true, RefID: ref.MessageID})
	return nil
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, name string, data []byte, caption string) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.sent = append(a.sent, Sent{To: to, Text: caption, DocName: name, DocData: append([]byte(nil), data...), RefID: a.nextID})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}, nil
}

func (a *Adapter) Download(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.Files[fileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	if int64(len(b)) > maxBytes {
		return nil, errors.New("file too large")
	}
	return b, nil
}

func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	a.Menu = cmds
	a.mu.Unlock()
	return nil
}

// Sent returns a copy of everything sent so far.
func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

// Texts returns the text of every non-document message, edits included.
func (a *Adapter) Texts() []string {
	var out []string
	for _, s := range a.Sent() {
		if s.DocName == "" {
			out = append(out, s.Text)
		}
	}
	return out
}

// Documents returns every sent document.
func (a *Adapter) Documents() []Sent {
	var out []Sent
	for _, s := range a.Sent() {
		if s.DocName != "" {
			out = append(out, s)
		}
	}
	return out
}
