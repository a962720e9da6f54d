package lookup

import (
	"testing"
	"time"
)

func newTestLimiter() *Limiter {
	l := NewLimiter(LimiterConfig{})
	l.rand = func() float64 { return 0 }
	return l
}

func TestLimiterThrottleBacksOff(t *testing.T) {
	l := newTestLimiter()
	if got := l.Snapshot().Rate; got != 10 {
		t.Fatalf("initial rate = %v, want 10", got)
	}

	wantRates := []float64{8, 6, 4, 3, 3, 3}
	wantMult := []float64{2, 4, 8, 16, 16, 16}
	prev := l.Snapshot().Rate
	for i := range wantRates {
		l.RecordThrottle()
		s := l.Snapshot()
		if s.Rate != wantRates[i] || s.Multiplier != wantMult[i] {
			t.Fatalf("throttle %d: rate=%v mult=%v, want %v/%v", i+1, s.Rate, s.Multiplier, wantRates[i], wantMult[i])
		}
		if s.Rate > prev {
			t.Fatalf("rate increased on throttle: %v -> %v", prev, s.Rate)
		}
		prev = s.Rate
	}
	// 16 * 100ms backoff beats the 333ms interval at 3/s.
	if got := l.NextDelay(); got != 1600*time.Millisecond {
		t.Fatalf("NextDelay = %v, want 1.6s", got)
	}
}

func TestLimiterRecoversOnSuccess(t *testing.T) {
	l := newTestLimiter()
	l.RecordThrottle()
	l.RecordThrottle()

	l.RecordSuccess()
	s := l.Snapshot()
	if s.Multiplier != 1 || s.ErrorStreak != 0 {
		t.Fatalf("after success: %+v, want multiplier 1 and no error streak", s)
	}
	if s.Rate != 6 {
		t.Fatalf("rate = %v, a single success must not step up", s.Rate)
	}
	for i := 0; i < 5; i++ {
		l.RecordSuccess()
	}
	if got := l.Snapshot().Rate; got != 7 {
		t.Fatalf("rate after 6 successes = %v, want 7", got)
	}
}

func TestLimiterNeverExceedsBounds(t *testing.T) {
	l := newTestLimiter()
	for i := 0; i < 100; i++ {
		l.RecordSuccess()
	}
	if got := l.Snapshot().Rate; got != 10 {
		t.Fatalf("rate = %v, want capped at 10", got)
	}
	if got := l.NextDelay(); got != 100*time.Millisecond {
		t.Fatalf("NextDelay = %v, want 100ms at 10/s", got)
	}
}

func TestLimiterErrorBreaksStreakOnly(t *testing.T) {
	l := newTestLimiter()
	l.RecordThrottle()
	for i := 0; i < 5; i++ {
		l.RecordSuccess()
	}
	l.RecordError()
	l.RecordSuccess()
	s := l.Snapshot()
	if s.Rate != 8 || s.SuccessStreak != 1 {
		t.Fatalf("snapshot = %+v, want rate 8 and a fresh streak", s)
	}
}

func TestLimiterJitter(t *testing.T) {
	l := NewLimiter(LimiterConfig{Initial: 5})
	l.rand = func() float64 { return 1 }
	if got := l.NextDelay(); got != 240*time.Millisecond {
		t.Fatalf("NextDelay = %v, want 200ms + 20%% jitter", got)
	}
}
