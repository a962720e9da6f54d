package lookup

import (
	"context"
	"errors"
	"sync"
	"time"

	"bioscout/internal/network"
	"bioscout/internal/phone"
	logx "bioscout/pkg/logx"
)

// ReasonInvalidNumber is the Reason of targets that fail normalization.
const ReasonInvalidNumber = "invalid number"

const (
	sharedFetchTimeout = 30 * time.Second
	reasonFetchTimeout = "lookup timed out"
)

// Config holds the tunables of a Service; zero fields take defaults.
type Config struct {
	MaxTargets    int
	BatchSize     int
	Concurrency   int
	BatchCooldown time.Duration
	RetryBudget   int
	// ProgressStep is the fraction of the job between progress reports.
	ProgressStep float64
	TTLs         TTLs
	Limiter      LimiterConfig
	Location     *time.Location
	CountryCode  string
}

func (c Config) withDefaults() Config {
	if c.MaxTargets <= 0 {
		c.MaxTargets = 500
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.BatchCooldown < 0 {
		c.BatchCooldown = 0
	}
	if c.RetryBudget < 0 {
		c.RetryBudget = 0
	}
	if c.ProgressStep <= 0 || c.ProgressStep > 1 {
		c.ProgressStep = 0.05
	}
	if c.TTLs == nil {
		c.TTLs = DefaultTTLs()
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.CountryCode == "" {
		c.CountryCode = phone.DefaultCountryCode
	}
	return c
}

// DefaultConfig returns the defaults applied to a zero Config.
func DefaultConfig() Config {
	c := Config{BatchCooldown: 2 * time.Second, RetryBudget: 2}
	return c.withDefaults()
}

// ClientSource hands out the live client of a tenant.
type ClientSource interface {
	Client(tenant string) (network.Client, error)
}

// Service performs single and bulk lookups on behalf of tenants.
type Service struct {
	clients ClientSource
	cache   Cache
	dedup   *Deduplicator
	log     logx.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu  sync.RWMutex
	cfg Config
}

func NewService(cfg Config, clients ClientSource, cache Cache, log logx.Logger) *Service {
	if cache == nil {
		cache = NewMemoryCache(nil)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		clients: clients,
		cache:   cache,
		dedup:   NewDeduplicator(),
		log:     log,
		sleep:   sleepCtx,
		now:     time.Now,
		cfg:     cfg.withDefaults(),
	}
}

// Apply swaps the tunables; running jobs keep the config they started with.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.log.Info("lookup config applied",
		logx.Int("max_targets", cfg.MaxTargets),
		logx.Int("batch_size", cfg.BatchSize),
		logx.Int("concurrency", cfg.Concurrency),
		logx.Int("retry_budget", cfg.RetryBudget),
	)
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// MaxTargets is the current per-job ceiling.
func (s *Service) MaxTargets() int { return s.config().MaxTargets }

// Dedup exposes the in-flight deduplicator.
func (s *Service) Dedup() *Deduplicator { return s.dedup }

// LookupSingle resolves one target through cache, dedup and the network,
// without pacing or retries. A session-level failure is returned as err
// together with an error Result.
func (s *Service) LookupSingle(ctx context.Context, tenant, target string) (Result, error) {
	cfg := s.config()
	num, ok := phone.Normalize(target, cfg.CountryCode)
	if !ok {
		return Result{Target: num, Category: CategoryError, Reason: ReasonInvalidNumber}, nil
	}
	r, err := s.lookup(ctx, cfg, tenant, num, false)
	if err != nil {
		return Result{Target: num, Category: CategoryError, Reason: err.Error()}, err
	}
	return r, nil
}

// DebugReport is the raw network view of one target.
type DebugReport struct {
	Target string
	Bundle network.Bundle
	Result Result
}

// Debug fetches target directly from the network, bypassing the cache.
func (s *Service) Debug(ctx context.Context, tenant, target string) (DebugReport, error) {
	cfg := s.config()
	num, ok := phone.Normalize(target, cfg.CountryCode)
	if !ok {
		return DebugReport{Target: num}, errors.New(ReasonInvalidNumber)
	}
	c, err := s.clients.Client(tenant)
	if err != nil {
		return DebugReport{Target: num}, err
	}
	b := fetchBundle(ctx, c, num)
	return DebugReport{Target: num, Bundle: b, Result: Classify(b, cfg.Location)}, nil
}

// lookup returns the classified result for an already normalized target.
// Only session loss and cancellation are returned as errors.
//
// The shared fetch runs detached from the first caller's context so that a
// caller giving up only stops its own wait; joined callers keep the fetch.
func (s *Service) lookup(ctx context.Context, cfg Config, tenant, target string, skipThrottled bool) (Result, error) {
	usable := func(r Result) bool { return !(skipThrottled && r.Category == CategoryRateLimit) }

	if r, ok := s.cache.Get(ctx, target); ok && usable(r) {
		return r, nil
	}
	return s.dedup.Do(ctx, tenant+"|"+target, func() (Result, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()

		if r, ok := s.cache.Get(fctx, target); ok && usable(r) {
			return r, nil
		}
		c, err := s.clients.Client(tenant)
		if err != nil {
			return Result{}, err
		}
		NetworkCalls.Inc()
		b := fetchBundle(fctx, c, target)
		if err := fetchFailure(b); err != nil {
			if network.IsSessionLost(err) {
				return Result{}, err
			}
			// Only the detached deadline can expire here.
			return Result{Target: target, Category: CategoryError, Reason: reasonFetchTimeout}, nil
		}
		r := Classify(b, cfg.Location)
		Lookups.WithLabelValues(string(r.Category)).Inc()
		s.cache.Set(fctx, target, r, cfg.TTLs[r.Category])
		return r, nil
	})
}

// fetchFailure returns the first response error that says nothing about the
// target itself: the session went away or the fetch ran out of time.
func fetchFailure(b network.Bundle) error {
	for _, err := range []error{b.RegisterErr, b.StatusErr, b.BusinessErr} {
		if err != nil && (network.IsSessionLost(err) || isCtxErr(err)) {
			return err
		}
	}
	return nil
}

func isCtxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
