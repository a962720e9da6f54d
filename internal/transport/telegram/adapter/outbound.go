package adapter

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "bioscout/internal/transport"
	logx "bioscout/pkg/logx"
)

func teleOptions(opt *kit.SendOptions, threadID int) (*tele.SendOptions, string) {
	so := &tele.SendOptions{ThreadID: threadID}
	if opt == nil {
		return so, ""
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	return so, opt.ParseMode
}

func refOf(to kit.ChatTarget, m *tele.Message) kit.MessageRef {
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: m.ID}
}

// SendText sends text, split across messages when needed. The returned ref is
// the first message.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	so, mode := teleOptions(opt, to.ThreadID)
	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, part := range splitTelegramText(text, maxMessageRunes, mode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		m, err := a.bot.Send(chat, part, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = refOf(to, m)
		}
	}
	return first, nil
}

// EditText rewrites ref. Overflow beyond one message is sent as follow-ups;
// an edit to identical text is not an error.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	so, mode := teleOptions(opt, 0)
	parts := splitTelegramText(text, maxMessageRunes, mode)
	target := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(target, parts[0], so); err != nil && !strings.Contains(err.Error(), "message is not modified") {
		return err
	}
	if len(parts) == 1 {
		return nil
	}
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}, strings.Join(parts[1:], "\n"), opt)
	return err
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, name string, data []byte, caption string) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	doc := &tele.Document{File: tele.FromReader(bytes.NewReader(data)), FileName: name, Caption: caption}
	m, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, doc, &tele.SendOptions{ThreadID: to.ThreadID})
	if err != nil {
		return kit.MessageRef{}, err
	}
	return refOf(to, m), nil
}

// Download fetches an uploaded file and fails when it is larger than maxBytes.
func (a *Adapter) Download(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := a.bot.File(&tele.File{FileID: fileID})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxBytes+1))
	switch {
	case err != nil:
		return nil, err
	case int64(len(data)) > maxBytes:
		return nil, fmt.Errorf("file exceeds %d bytes", maxBytes)
	}
	return data, nil
}

// UpdateMenuCommands calls setMyCommands only when the list changed since
// the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	menu := make([]tele.Command, 0, len(cmds))
	h := fnv.New64a()
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		fmt.Fprintf(h, "%s\x00%s\x00", c.Command, desc)
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
	}
	sum := h.Sum64()

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}
