package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bioscout/internal/eventbus"
	"bioscout/internal/lookup"
	"bioscout/internal/network"
	"bioscout/internal/network/networktest"
	"bioscout/internal/session"
	"bioscout/internal/storage"
	kit "bioscout/internal/transport"
	"bioscout/internal/transport/telegram/router"
	"bioscout/internal/transport/transporttest"
	logx "bioscout/pkg/logx"
)

const user int64 = 42

type fixture struct {
	bot     *Bot
	adapter *transporttest.Adapter
	dialer  *networktest.Dialer
	pool    *session.Pool
	store   storage.Store
}

func newFixture(t *testing.T, lcfg lookup.Config, set Settings) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{adapter: transporttest.NewAdapter(), dialer: networktest.NewDialer(), store: st}
	bus := eventbus.New()
	f.pool = session.NewPool(session.Config{ReconnectDelay: 10 * time.Millisecond, MaxReconnectAttempts: 2}, f.dialer, storage.NewCredentials(st), bus, logx.Nop())
	coord := session.NewCoordinator(f.pool, bus, time.Minute, logx.Nop())

	lcfg.Limiter = lookup.LimiterConfig{Initial: 1000, Min: 1000, Max: 1000, BaseDelay: time.Microsecond}
	svc := lookup.NewService(lcfg, f.pool, lookup.NewMemoryCache(nil), logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)
	f.bot = New(Deps{Pool: f.pool, Pairing: coord, Lookup: svc, Store: st, Adapter: f.adapter, Bus: bus}, set)
	f.bot.Start(ctx)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = f.bot.Stop(sctx)
		_ = f.pool.Shutdown(sctx)
		cancel()
		_ = st.Close()
	})
	return f
}

func (f *fixture) request(text string) *router.Request {
	msg := &kit.Message{ChatID: user, FromID: user, FromUsername: "tester", Text: text}
	cmd, rest, _ := strings.Cut(text, " ")
	req := &router.Request{
		Update:  kit.Update{Kind: kit.UpdateMessage, Message: msg},
		Chat:    kit.ChatTarget{ChatID: user},
		FromID:  user,
		Text:    strings.TrimSpace(rest),
		Adapter: f.adapter,
		Logger:  logx.Nop(),
	}
	if strings.HasPrefix(cmd, "/") {
		req.Command = strings.TrimPrefix(cmd, "/")
		req.Args = strings.Fields(rest)
	} else {
		req.Text = text
	}
	return req
}

func (f *fixture) pair(t *testing.T) {
	t.Helper()
	if err := f.bot.handlePair(context.Background(), f.request("/pair 081234567890")); err != nil {
		t.Fatal(err)
	}
	f.dialer.Last(tenantOf(user)).CompletePairing("6281234567890")
	waitFor(t, "linked notice", func() bool { return f.hasText("WhatsApp linked") })
}

func (f *fixture) hasText(sub string) bool {
	for _, s := range f.adapter.Texts() {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (f *fixture) lastText() string {
	ts := f.adapter.Texts()
	if len(ts) == 0 {
		return ""
	}
	return ts[len(ts)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func numbers(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("6281%08d", i)
	}
	return strings.Join(out, "\n")
}

func TestPairShowsCodeAndConfirmsLink(t *testing.T) {
	f := newFixture(t, lookup.Config{}, Settings{})
	f.pair(t)

	if !f.hasText("Pairing code: ABCD-EFGH") {
		t.Fatalf("texts = %q", f.adapter.Texts())
	}
	if got := f.pool.State(tenantOf(user)); got != session.StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
	if err := f.bot.handlePair(context.Background(), f.request("/pair 081234567890")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.lastText(), "already linked") {
		t.Fatalf("second pair reply = %q", f.lastText())
	}
}

func TestPairRejectsInvalidPhone(t *testing.T) {
	f := newFixture(t, lookup.Config{}, Settings{})
	if err := f.bot.handlePair(context.Background(), f.request("/pair 12")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.lastText(), "Invalid phone number") {
		t.Fatalf("reply = %q", f.lastText())
	}
}

func TestCheckRequiresLinkedSession(t *testing.T) {
	f := newFixture(t, lookup.Config{}, Settings{})
	if err := f.bot.handleCheck(context.Background(), f.request("/check 6281234567890")); err != nil {
		t.Fatal(err)
	}
	if f.lastText() != notLinked {
		t.Fatalf("reply = %q", f.lastText())
	}
}

func TestCheckSingleNumberInline(t *testing.T) {
	f := newFixture(t, lookup.Config{}, Settings{})
	f.pair(t)
	f.dialer.Responder.Status = func(string) (*network.Status, error) {
		return &network.Status{Text: "at the gym", SetAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}, nil
	}

	if err := f.bot.handleText(context.Background(), f.request("081200000001")); err != nil {
		t.Fatal(err)
	}
	got := f.lastText()
	if !strings.Contains(got, "📝 Bio: at the gym") || !strings.Contains(got, "6281200000001") {
		t.Fatalf("reply = %q", got)
	}
	if f.bot.ActiveJobs() != 0 {
		t.Fatal("a single number must not start a bulk job")
	}
}

func TestSmallBulkAnswersInline(t *testing.T) {
	f := newFixture(t, lookup.Config{Concurrency: 1}, Settings{})
	f.pair(t)

	if err := f.bot.handleText(context.Background(), f.request(numbers(3))); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "summary", func() bool { return f.hasText("Bio check results") })
	if docs := f.adapter.Documents(); len(docs) != 0 {
		t.Fatalf("documents = %d, want none for an inline answer", len(docs))
	}
	if !strings.Contains(f.lastText(), "⚪ No bio:\n628100000000, 628100000001, 628100000002") {
		t.Fatalf("summary = %q", f.lastText())
	}
}

func TestUploadRunsBulkWithFilesAndCooldown(t *testing.T) {
	f := newFixture(t, lookup.Config{MaxTargets: 12}, Settings{Cooldown: time.Minute})
	f.pair(t)
	f.dialer.Responder.Status = func(target string) (*network.Status, error) {
		if strings.HasSuffix(target, "0") {
			return &network.Status{Text: "hi"}, nil
		}
		return nil, nil
	}
	f.adapter.Files["file-1"] = []byte(numbers(15))

	req := f.request("")
	req.Update.Kind = kit.UpdateDocument
	req.Update.Message.Document = &kit.Document{FileID: "file-1", FileName: "List.TXT", Size: 300}
	if err := f.bot.handleDocument(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "result files", func() bool { return len(f.adapter.Documents()) == 3 })
	waitFor(t, "job release", func() bool { return f.bot.ActiveJobs() == 0 })

	docs := map[string]string{}
	for _, d := range f.adapter.Documents() {
		prefix := d.DocName[:strings.LastIndexByte(d.DocName, '_')]
		docs[prefix] = string(d.DocData)
	}
	if !strings.Contains(docs["with_bio"], "628100000000\nBio: hi\nSet: unknown") {
		t.Fatalf("with_bio = %q", docs["with_bio"])
	}
	if !strings.Contains(docs["no_bio"], "628100000001 - No Bio") {
		t.Fatalf("no_bio = %q", docs["no_bio"])
	}
	if rem := docs["remaining_numbers"]; !strings.Contains(rem, "Total: 3 numbers") || !strings.Contains(rem, "628100000014") {
		t.Fatalf("remaining = %q", rem)
	}

	if err := f.bot.handleText(context.Background(), f.request(numbers(2))); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.lastText(), "Cooldown active") {
		t.Fatalf("reply = %q", f.lastText())
	}
}

func TestUploadRejectsWrongFiles(t *testing.T) {
	f := newFixture(t, lookup.Config{}, Settings{MaxUploadBytes: 1024})
	cases := []struct {
		doc  kit.Document
		want string
	}{
		{kit.Document{FileID: "x", FileName: "list.csv", Size: 10}, "Upload a .txt file"},
		{kit.Document{FileID: "x", FileName: "list.txt", Size: 4096}, "File too large (max 1 KB)"},
	}
	for _, c := range cases {
		req := f.request("")
		doc := c.doc
		req.Update.Message.Document = &doc
		if err := f.bot.handleDocument(context.Background(), req); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(f.lastText(), c.want) {
			t.Fatalf("%s: reply = %q, want %q", c.doc.FileName, f.lastText(), c.want)
		}
	}
}

func TestCancelStopsPendingPairing(t *testing.T) {
	f := newFixture(t, lookup.Config{}, Settings{})
	if err := f.bot.handlePair(context.Background(), f.request("/pair 081234567890")); err != nil {
		t.Fatal(err)
	}
	if err := f.bot.handleCancel(context.Background(), f.request("/cancel")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.lastText(), "Pairing cancelled") {
		t.Fatalf("reply = %q", f.lastText())
	}
	if n := len(f.pool.Snapshot()); n != 0 {
		t.Fatalf("sessions after cancel = %d, want 0", n)
	}
	if err := f.bot.handleCancel(context.Background(), f.request("/cancel")); err != nil {
		t.Fatal(err)
	}
	if f.lastText() != "Nothing to cancel." {
		t.Fatalf("reply = %q", f.lastText())
	}
}

func TestDisconnectUnlinks(t *testing.T) {
	f := newFixture(t, lookup.Config{}, Settings{})
	f.pair(t)
	if err := f.bot.handleDisconnect(context.Background(), f.request("/disconnect")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.lastText(), "WhatsApp unlinked") {
		t.Fatalf("reply = %q", f.lastText())
	}
	if f.pool.IsConnected(tenantOf(user)) {
		t.Fatal("tenant still connected")
	}
	if _, ok, _ := f.store.GetTenant(context.Background(), tenantOf(user)); ok {
		t.Fatal("credentials survived disconnect")
	}
}

func TestRemoteLogoutNotifiesTenant(t *testing.T) {
	f := newFixture(t, lookup.Config{}, Settings{})
	f.pair(t)
	f.dialer.Last(tenantOf(user)).Kick()
	waitFor(t, "logout notice", func() bool { return f.hasText("logged out from the phone") })
}

func TestStatusAndSessions(t *testing.T) {
	f := newFixture(t, lookup.Config{}, Settings{})
	if err := f.bot.handleStatus(context.Background(), f.request("/status")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.lastText(), "not linked") {
		t.Fatalf("status = %q", f.lastText())
	}
	f.pair(t)
	if err := f.bot.handleStatus(context.Background(), f.request("/status")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.lastText(), "🟢 connected (+6281234567890)") {
		t.Fatalf("status = %q", f.lastText())
	}
	if err := f.bot.handleSessions(context.Background(), f.request("/sessions")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.lastText(), "1 sessions, 1 connected, 0 bulk checks running") {
		t.Fatalf("sessions = %q", f.lastText())
	}
}
