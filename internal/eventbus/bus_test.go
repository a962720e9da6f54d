package eventbus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: "session.state", Data: "open"})
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != "session.state" || e.Data != "open" || e.Time.IsZero() {
			t.Fatalf("event = %+v", e)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	before := testutil.ToFloat64(Dropped.WithLabelValues("test.drop"))
	b.Publish(Event{Type: "test.drop"})
	b.Publish(Event{Type: "test.drop"})
	if got := testutil.ToFloat64(Dropped.WithLabelValues("test.drop")) - before; got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
	if len(ch) != 1 {
		t.Fatalf("buffered = %d", len(ch))
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open")
	}
	// publishing after unsubscribe must not panic
	b.Publish(Event{Type: "late"})
}
