package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "bioscout/internal/runtime/supervisor"
	kit "bioscout/internal/transport"
	logx "bioscout/pkg/logx"
)

type Access int

const (
	// AccessEveryone: any chat user.
	AccessEveryone Access = iota
	// AccessMember: owners plus allowed users (everyone when no allow-list is set).
	AccessMember
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	// Text is the message text after the command word (or the full text for fallbacks).
	Text  string
	ReqID string

	Adapter kit.Adapter
	Logger  logx.Logger
	IsOwner bool
}

// Message is the triggering message; never nil for routed requests.
func (r *Request) Message() *kit.Message { return r.Update.Message }

// Fallbacks handle updates that are not commands. Nil handlers drop the update.
type Fallbacks struct {
	Text     HandlerFunc
	Document HandlerFunc
	// Access applies to both fallbacks.
	Access Access
}

type Router struct {
	mu       sync.RWMutex
	cmds     map[string]Command
	ordered  []Command
	fallback Fallbacks
	owners   []int64
	allowed  []int64

	log     logx.Logger
	adapter kit.Adapter
	workers int

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	jobs chan func()
}

func NewRouter(log logx.Logger, adapter kit.Adapter, owners, allowed []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cmds:    map[string]Command{},
		owners:  append([]int64(nil), owners...),
		allowed: append([]int64(nil), allowed...),
		log:     log,
		adapter: adapter,
		workers: max(2, runtime.NumCPU()),
		jobs:    make(chan func(), 256),
	}
}

// Supervisor returns the dispatcher's internal supervisor (nil if not running).
func (m *Router) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.sup
}

// SetACL updates owners and the allow-list. Safe to call during hot-reload.
func (m *Router) SetACL(owners, allowed []int64) {
	m.mu.Lock()
	m.owners = append([]int64(nil), owners...)
	m.allowed = append([]int64(nil), allowed...)
	m.mu.Unlock()
}

func (m *Router) permitted(a Access, id int64) (ok, owner bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner = contains(m.owners, id)
	switch a {
	case AccessOwnerOnly:
		return owner, owner
	case AccessMember:
		return owner || len(m.allowed) == 0 || contains(m.allowed, id), owner
	default:
		return true, owner
	}
}

// SetRegistry installs the command set; /help is always added.
func (m *Router) SetRegistry(ctx context.Context, cmds []Command, fb Fallbacks) {
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "show available commands",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, m.helpText(req.IsOwner), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return err
		},
	})

	byName := make(map[string]Command, len(cmds))
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		ordered = append(ordered, c)
		for _, a := range c.Aliases {
			if a = sanitizeTelegramCommand(a); a != "" {
				if _, exists := byName[a]; !exists {
					byName[a] = c
				}
			}
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.ordered = ordered
	m.fallback = fb
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(ordered)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// DispatchLoop routes updates to a bounded worker pool until ctx ends or
// updates is closed.
func (m *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.runMu.Lock()
	m.sup = sup
	m.runMu.Unlock()

	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.runMu.Lock()
		m.sup = nil
		m.runMu.Unlock()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Router) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (m *Router) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	fb := m.fallback
	cmds := m.cmds
	m.mu.RUnlock()

	if up.Kind == kit.UpdateDocument {
		if fb.Document != nil {
			m.enqueue(ctx, up, Command{Name: "document", Access: fb.Access, Handle: fb.Document}, nil, msg.Text)
		}
		return
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		if fb.Text != nil && text != "" {
			m.enqueue(ctx, up, Command{Name: "text", Access: fb.Access, Handle: fb.Text}, nil, text)
		}
		return
	}

	word, rest, _ := strings.Cut(text, " ")
	word = strings.TrimPrefix(word, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	cmd, ok := cmds[strings.ToLower(word)]
	if !ok {
		if !msg.IsGroup {
			_, _ = m.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		}
		return
	}
	m.enqueue(ctx, up, cmd, tokenizeCommandLine(rest), strings.TrimSpace(rest))
}

func (m *Router) enqueue(ctx context.Context, up kit.Update, cmd Command, args []string, text string) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	ok, owner := m.permitted(cmd.Access, msg.FromID)
	if !ok {
		_, _ = m.adapter.SendText(ctx, chat, "⛔ You are not allowed to use this bot.", nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         args,
		Text:         text,
		ReqID:        rid,
		Adapter:      m.adapter,
		IsOwner:      owner,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWObserve(m.log),
		MWTimeout(cmd.Timeout),
	)

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = m.adapter.SendText(ctx, chat, "⏳ Busy, try again in a moment.", nil)
	}
}

func contains(ids []int64, id int64) bool {
	for _, o := range ids {
		if o == id {
			return true
		}
	}
	return false
}
