package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"bioscout/internal/lookup"
	kit "bioscout/internal/transport"
	"bioscout/internal/transport/transporttest"
)

func TestEditProgressThrottlesAndFlushes(t *testing.T) {
	a := transporttest.NewAdapter()
	r := newChatReplier(a, kit.ChatTarget{ChatID: 1}, time.Hour)
	ctx := context.Background()

	for _, s := range []string{"1/4", "2/4", "3/4"} {
		if err := r.EditProgress(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	sent := a.Sent()
	if len(sent) != 1 || sent[0].Edit || sent[0].Text != "1/4" {
		t.Fatalf("sent = %+v, want only the first message", sent)
	}

	if err := r.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	sent = a.Sent()
	if len(sent) != 2 || !sent[1].Edit || sent[1].Text != "3/4" || sent[1].RefID != sent[0].RefID {
		t.Fatalf("after flush sent = %+v", sent)
	}
	if err := r.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(a.Sent()); n != 2 {
		t.Fatalf("second flush sent again (%d messages)", n)
	}
}

func TestEditProgressUnthrottledSkipsRepeats(t *testing.T) {
	a := transporttest.NewAdapter()
	r := newChatReplier(a, kit.ChatTarget{ChatID: 1}, 0)
	ctx := context.Background()
	for _, s := range []string{"a", "b", "b", "c"} {
		_ = r.EditProgress(ctx, s)
	}
	if got := a.Texts(); strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("texts = %v", got)
	}
}

func TestProgressText(t *testing.T) {
	p := lookup.Progress{
		Total:     200,
		Processed: 50,
		Counts: lookup.Counts{
			lookup.CategoryHasBio:    20,
			lookup.CategoryNoBio:     25,
			lookup.CategoryRateLimit: 3,
			lookup.CategoryError:     2,
		},
		Rate:    7,
		Speed:   4.25,
		Elapsed: 11800 * time.Millisecond,
	}
	want := "🚀 Processing 200 numbers...\n" +
		"✅ With bio: 20\n" +
		"⚪ No bio: 25\n" +
		"🚫 Unregistered: 0\n" +
		"❌ Failed: 5\n" +
		"📊 50/200 (25%)\n" +
		"⚡ Rate: 7.0/sec | Speed: 4.2/sec\n" +
		"⏱️ Time: 11.8s"
	if got := progressText(p); got != want {
		t.Fatalf("progressText =\n%s\nwant\n%s", got, want)
	}
}

func TestRemainingFile(t *testing.T) {
	got := string(remainingFile([]string{"6281", "6282"}))
	want := "=== NUMBERS NOT PROCESSED ===\nTotal: 2 numbers\n\nSend the numbers below again to continue:\n\n6281\n6282\n\n--- COPY FROM HERE ---"
	if got != want {
		t.Fatalf("remainingFile = %q", got)
	}
}

func TestSingleText(t *testing.T) {
	cases := []struct {
		r    lookup.Result
		want string
	}{
		{lookup.Result{Target: "628", Category: lookup.CategoryUnregistered}, "🚫 628 is not registered on WhatsApp."},
		{lookup.Result{Target: "628", Category: lookup.CategoryError, Reason: "invalid number"}, "❌ 628: invalid number"},
		{lookup.Result{Target: "628", Category: lookup.CategoryNoBio, Enrichment: &lookup.Enrichment{AccountType: lookup.AccountBusiness, IsBusiness: true, BusinessName: "Toko"}},
			"📋 Bio check\n\n📱 Number: 628\n⚪ No bio set\n👤 Account: WhatsApp Business (Toko)"},
	}
	for _, c := range cases {
		if got := singleText(c.r); got != c.want {
			t.Errorf("singleText(%s) = %q, want %q", c.r.Category, got, c.want)
		}
	}
}
