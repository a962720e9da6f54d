package maintenance

import (
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule delays the first run of an interval task so tasks that
// share an interval do not fire together right after start.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// schedule returns the cron schedule for spec, spreading "@every" specs by a
// per-task offset below min(every, 30s).
func schedule(spec, name string, now time.Time) (cron.Schedule, time.Duration, error) {
	if rest, ok := strings.CutPrefix(spec, "@every"); ok {
		if every, err := time.ParseDuration(strings.TrimSpace(rest)); err == nil && every > 0 {
			spread := min(every, maxStartupSpread)
			h := fnv.New64a()
			_, _ = h.Write([]byte(name))
			rng := rand.New(rand.NewPCG(h.Sum64(), uint64(now.UnixNano())))
			jitter := time.Duration(rng.Int64N(int64(spread)))
			return &spreadSchedule{base: cron.Every(every), first: now.Add(every + jitter)}, jitter, nil
		}
	}
	sched, err := parser.Parse(spec)
	return sched, 0, err
}
