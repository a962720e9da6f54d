package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "bioscout/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig controls the chat sink that mirrors important lines to an
// operator group.
type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// TextSender delivers log lines to a chat.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Service owns the sinks and swaps them on Apply; loggers it hands out see
// the swap without being rebuilt.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	chat *chatSink
}

// New applies cfg and returns the service with its root logger.
func New(cfg Config, sender TextSender) (*Service, Logger) {
	s := &Service{chat: newChatSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetTelegramTarget points the chat sink at a chat; chatID 0 mutes it.
func (s *Service) SetTelegramTarget(chatID int64, threadID int) {
	s.chat.setTarget(chatID, threadID)
}

// Apply rebuilds the writers. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter())
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./bioscout.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled {
		s.chat.configure(cfg.Telegram)
		writers = append(writers, s.chat)
		if !s.chat.hasTarget() {
			fmt.Fprintln(os.Stderr, "logx: telegram logging enabled but telegram.group_log is not set")
		}
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter())
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the chat sink and closes the log file.
func (s *Service) Close() error {
	s.chat.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// chatSink is a zerolog.LevelWriter that queues formatted lines for a chat.
// Writes never block: over the rate limit or a full queue, lines are dropped.
type chatSink struct {
	sender TextSender
	queue  chan chatLine

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type chatLine struct {
	to   kit.ChatTarget
	text string
}

func newChatSink(sender TextSender) *chatSink {
	return &chatSink{
		sender:   sender,
		queue:    make(chan chatLine, 256),
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (c *chatSink) setTarget(chatID int64, threadID int) {
	c.mu.Lock()
	c.chatID = chatID
	if threadID != 0 {
		c.threadID = threadID
	}
	c.mu.Unlock()
}

func (c *chatSink) hasTarget() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID != 0
}

func (c *chatSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		c.threadID = cfg.ThreadID
	}
	c.mu.Unlock()

	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go c.run(ctx)
	})
}

func (c *chatSink) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-c.queue:
			if c.sender != nil {
				_, _ = c.sender.SendText(ctx, l.to, l.text, &kit.SendOptions{DisablePreview: true})
			}
		}
	}
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	to := kit.ChatTarget{ChatID: c.chatID, ThreadID: c.threadID}
	ok := c.sender != nil && to.ChatID != 0 && level >= c.minLevel && c.limiter.Allow()
	c.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if text := formatTelegramJSON(p); text != "" {
		select {
		case c.queue <- chatLine{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}
