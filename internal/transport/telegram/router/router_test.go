package router

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "bioscout/internal/transport"
	"bioscout/internal/transport/transporttest"
	logx "bioscout/pkg/logx"
)

func TestTokenizeCommandLine(t *testing.T) {
	cases := map[string][]string{
		"":                          nil,
		"a b  c":                    {"a", "b", "c"},
		`"0812 3456" x`:             {"0812 3456", "x"},
		`it\'s 'two words'`:         {"it's", "two words"},
		"6281234567890\n6281111111": {"6281234567890", "6281111111"},
	}
	for in, want := range cases {
		if got := tokenizeCommandLine(in); !reflect.DeepEqual(got, want) {
			t.Errorf("tokenize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	cases := map[string]string{
		"Check":        "check",
		"check-bio":    "check_bio",
		"  a//b  ":     "a_b",
		"9lives":       "cmd_9lives",
		"!!!":          "",
		"debug number": "debug_number",
	}
	for in, want := range cases {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

type capture struct {
	mu   sync.Mutex
	reqs []*Request
	done chan struct{}
}

func newCapture() *capture { return &capture{done: make(chan struct{}, 16)} }

func (c *capture) handle(ctx context.Context, req *Request) error {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func (c *capture) wait(t *testing.T) *Request {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqs[len(c.reqs)-1]
}

func startRouter(t *testing.T, r *Router) chan kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = r.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text}}
}

func TestRouterDispatchesCommands(t *testing.T) {
	ad := transporttest.NewAdapter()
	r := NewRouter(logx.Nop(), ad, []int64{1}, nil)
	c := newCapture()
	r.SetRegistry(context.Background(), []Command{
		{Name: "check", Access: AccessMember, Handle: c.handle},
	}, Fallbacks{})
	updates := startRouter(t, r)

	updates <- msg(5, "/check@bioscout_bot 0812 6281")
	req := c.wait(t)
	if req.Command != "check" || !reflect.DeepEqual(req.Args, []string{"0812", "6281"}) || req.Text != "0812 6281" {
		t.Fatalf("req = %+v", req)
	}
	if req.IsOwner {
		t.Fatal("user 5 is not an owner")
	}
}

func TestRouterAccess(t *testing.T) {
	ad := transporttest.NewAdapter()
	r := NewRouter(logx.Nop(), ad, []int64{1}, []int64{2})
	c := newCapture()
	r.SetRegistry(context.Background(), []Command{
		{Name: "check", Access: AccessMember, Handle: c.handle},
		{Name: "sessions", Access: AccessOwnerOnly, Handle: c.handle},
	}, Fallbacks{})

	for _, tc := range []struct {
		access Access
		id     int64
		want   bool
	}{
		{AccessMember, 1, true},
		{AccessMember, 2, true},
		{AccessMember, 3, false},
		{AccessOwnerOnly, 2, false},
		{AccessOwnerOnly, 1, true},
		{AccessEveryone, 3, true},
	} {
		if ok, _ := r.permitted(tc.access, tc.id); ok != tc.want {
			t.Errorf("permitted(%v, %d) = %v, want %v", tc.access, tc.id, ok, tc.want)
		}
	}

	r.SetACL([]int64{1}, nil)
	if ok, _ := r.permitted(AccessMember, 3); !ok {
		t.Fatal("an empty allow-list admits everyone")
	}
}

func TestRouterFallbacks(t *testing.T) {
	ad := transporttest.NewAdapter()
	r := NewRouter(logx.Nop(), ad, nil, nil)
	text, doc := newCapture(), newCapture()
	r.SetRegistry(context.Background(), nil, Fallbacks{Text: text.handle, Document: doc.handle, Access: AccessMember})
	updates := startRouter(t, r)

	updates <- msg(7, "6281234567890, 6281111111111")
	if req := text.wait(t); req.Text != "6281234567890, 6281111111111" {
		t.Fatalf("text req = %+v", req)
	}

	updates <- kit.Update{Kind: kit.UpdateDocument, Message: &kit.Message{ChatID: 7, FromID: 7, Document: &kit.Document{FileID: "f1", FileName: "n.txt"}}}
	if req := doc.wait(t); req.Message().Document.FileID != "f1" {
		t.Fatalf("doc req = %+v", req)
	}
}

func TestRouterUnknownCommand(t *testing.T) {
	ad := transporttest.NewAdapter()
	r := NewRouter(logx.Nop(), ad, nil, nil)
	r.SetRegistry(context.Background(), nil, Fallbacks{})
	updates := startRouter(t, r)
	updates <- msg(9, "/nope")

	deadline := time.Now().Add(2 * time.Second)
	for len(ad.Texts()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := ad.Texts(); len(got) != 1 || !strings.Contains(got[0], "/help") {
		t.Fatalf("texts = %q", got)
	}
}

func TestHelpHidesOwnerCommands(t *testing.T) {
	r := NewRouter(logx.Nop(), transporttest.NewAdapter(), nil, nil)
	noop := func(context.Context, *Request) error { return nil }
	r.SetRegistry(context.Background(), []Command{
		{Name: "status", Description: "session state", Handle: noop},
		{Name: "sessions", Description: "all sessions", Access: AccessOwnerOnly, Handle: noop},
	}, Fallbacks{})

	if h := r.helpText(false); strings.Contains(h, "/sessions") || !strings.Contains(h, "/status") {
		t.Fatalf("member help = %q", h)
	}
	if h := r.helpText(true); !strings.Contains(h, "/sessions") {
		t.Fatalf("owner help = %q", h)
	}
}
