// Package adapter connects the chat transport to the Telegram Bot API.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "bioscout/internal/runtime/supervisor"
	kit "bioscout/internal/transport"
	logx "bioscout/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter long-polls Telegram and forwards text messages and document
// uploads to the channel given to Start. Delivery never blocks the poller:
// when the consumer lags, updates are dropped and counted.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	mu  sync.Mutex
	out chan<- kit.Update
	sup *rtsup.Supervisor

	dropped atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: poll},
		OnError: func(err error, _ tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{log: log, bot: b}
	b.Handle(tele.OnText, a.onText)
	b.Handle(tele.OnDocument, a.onDocument)
	return a, nil
}

// Supervisor is nil until Start.
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup
}

func (a *Adapter) onText(c tele.Context) error {
	if m := c.Message(); m != nil && m.Chat != nil {
		a.deliver(kit.Update{Kind: kit.UpdateMessage, Message: convertMessage(m)})
	}
	return nil
}

func (a *Adapter) onDocument(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil || m.Document == nil {
		return nil
	}
	msg := convertMessage(m)
	msg.Text = m.Caption
	msg.Document = &kit.Document{
		FileID:   m.Document.FileID,
		FileName: m.Document.FileName,
		MIME:     m.Document.MIME,
		Size:     m.Document.FileSize,
	}
	a.deliver(kit.Update{Kind: kit.UpdateDocument, Message: msg})
	return nil
}

func convertMessage(m *tele.Message) *kit.Message {
	msg := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
	}
	switch m.Chat.Type {
	case tele.ChatGroup, tele.ChatSuperGroup:
		msg.IsGroup = true
	}
	if u := m.Sender; u != nil {
		msg.FromID, msg.FromUsername = u.ID, u.Username
	}
	return msg
}

func (a *Adapter) deliver(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) flushDropped(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (consumer slow)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Start begins polling. A second Start while running is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return nil
	}
	// Poll failures restart the poller; they never cancel the app.
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))))
	a.sup, a.out = sup, out
	a.mu.Unlock()

	sup.Go0("updates.drop_report", func(ctx context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		defer a.flushDropped(cap(out))
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				a.flushDropped(cap(out))
			}
		}
	})
	sup.Go0("telebot.stop_on_cancel", func(ctx context.Context) {
		<-ctx.Done()
		a.bot.Stop()
	})
	// telebot's Start can return while ctx is still live (e.g. a Stop race);
	// restart it until shutdown.
	sup.GoRestart0("telebot.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop detaches the output channel and waits briefly for the poller. A long
// poll in flight is abandoned after at most two seconds.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	a.log.Info("stopping", logx.Uint64("dropped_pending", a.dropped.Load()))
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
		} else {
			a.log.Debug("telegram stopped with poll error", logx.Err(err))
		}
	}
	return nil
}
