package lookup

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// LimiterConfig tunes a Limiter. Zero fields take the defaults.
type LimiterConfig struct {
	Initial   float64       `json:"initial_rate"`
	Min       float64       `json:"min_rate"`
	Max       float64       `json:"max_rate"`
	BaseDelay time.Duration `json:"-"`
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	if c.Max <= 0 {
		c.Max = 10
	}
	if c.Min <= 0 {
		c.Min = 3
	}
	if c.Min > c.Max {
		c.Min = c.Max
	}
	if c.Initial <= 0 {
		c.Initial = c.Max
	}
	c.Initial = math.Min(math.Max(c.Initial, c.Min), c.Max)
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	return c
}

const (
	rateStepUp      = 1
	rateStepDown    = 2
	streakToStepUp  = 5
	maxBackoffPower = 4
	jitterFraction  = 0.2
)

// Limiter is an AIMD pacer: the rate creeps up after a run of successes and
// drops sharply, with exponential backoff, when the network throttles.
// One Limiter belongs to one job.
type Limiter struct {
	cfg  LimiterConfig
	rand func() float64

	mu            sync.Mutex
	rate          float64
	successStreak int
	errorStreak   int
	multiplier    float64
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	cfg = cfg.withDefaults()
	return &Limiter{cfg: cfg, rand: rand.Float64, rate: cfg.Initial, multiplier: 1}
}

// LimiterSnapshot is a point-in-time view of a Limiter.
type LimiterSnapshot struct {
	Rate          float64
	SuccessStreak int
	ErrorStreak   int
	Multiplier    float64
}

func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successStreak++
	l.errorStreak = 0
	l.multiplier = 1
	if l.successStreak > streakToStepUp && l.rate < l.cfg.Max {
		l.rate = math.Min(l.cfg.Max, l.rate+rateStepUp)
		l.successStreak = 0
	}
	LimiterRate.Set(l.rate)
}

func (l *Limiter) RecordThrottle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorStreak++
	l.successStreak = 0
	l.rate = math.Max(l.cfg.Min, l.rate-rateStepDown)
	l.multiplier = math.Pow(2, float64(min(l.errorStreak, maxBackoffPower)))
	LimiterRate.Set(l.rate)
}

// RecordError notes a failure that was not throttling.
func (l *Limiter) RecordError() {
	l.mu.Lock()
	l.successStreak = 0
	l.mu.Unlock()
}

// NextDelay is the pause before the next dispatch: the larger of the rate
// interval and the backoff delay, plus up to 20% of the interval as jitter.
func (l *Limiter) NextDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	interval := float64(time.Second) / l.rate
	backoff := float64(l.cfg.BaseDelay) * l.multiplier
	jitter := l.rand() * jitterFraction * interval
	return time.Duration(math.Max(interval, backoff) + jitter)
}

func (l *Limiter) Snapshot() LimiterSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterSnapshot{Rate: l.rate, SuccessStreak: l.successStreak, ErrorStreak: l.errorStreak, Multiplier: l.multiplier}
}
