// Package maintenance runs the periodic housekeeping tasks (cache sweep,
// pairing expiry, cooldown pruning, session checks) on a robfig/cron clock.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "bioscout/pkg/logx"
)

// Task is one housekeeping job. Run returns how many entries it touched.
type Task struct {
	Name string
	// Default is used when the config has no spec for the task.
	Default string
	Timeout time.Duration
	Run     func(ctx context.Context) (int, error)
}

// Config maps task names to schedules; see NormalizeSpec.
type Config struct {
	Timezone string
	Specs    map[string]string
}

// Entry is a registered task and its next run.
type Entry struct {
	Name   string
	Spec   string
	Next   time.Time
	Spread time.Duration
}

type Service struct {
	log     logx.Logger
	tasks   map[string]Task
	running map[string]*atomic.Bool
	now     func() time.Time

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	base    context.Context
	scheds  map[string]cron.Schedule
	specs   map[string]string
	spreads map[string]time.Duration
}

func New(cfg Config, tasks []Task, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		tasks:   map[string]Task{},
		running: map[string]*atomic.Bool{},
		now:     time.Now,
		cfg:     cfg,
	}
	for _, t := range tasks {
		s.tasks[t.Name] = t
		s.running[t.Name] = &atomic.Bool{}
	}
	return s
}

// Validate checks every spec of cfg against the registered tasks.
func (s *Service) Validate(cfg Config) error {
	var errs []error
	for name := range cfg.Specs {
		if _, ok := s.tasks[name]; !ok {
			errs = append(errs, fmt.Errorf("maintenance: unknown task %q", name))
		}
	}
	for name, t := range s.tasks {
		if _, _, err := NormalizeSpec(cfg.Specs[name], t.Default); err != nil {
			errs = append(errs, fmt.Errorf("maintenance.%s: %w", name, err))
		}
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("maintenance.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Start registers every enabled task. Task contexts derive from ctx.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Validate(s.cfg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.base = ctx
	s.startLocked()
	return nil
}

// Apply swaps the schedules; a running clock is rebuilt.
func (s *Service) Apply(cfg Config) error {
	if err := s.Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.c == nil {
		return nil
	}
	<-s.c.Stop().Done()
	s.startLocked()
	return nil
}

func (s *Service) startLocked() {
	loc := s.location()
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
	)
	s.scheds = map[string]cron.Schedule{}
	s.specs = map[string]string{}
	s.spreads = map[string]time.Duration{}

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec, on, _ := NormalizeSpec(s.cfg.Specs[name], s.tasks[name].Default)
		if !on {
			s.log.Debug("task disabled", logx.String("task", name))
			continue
		}
		sched, spread, err := schedule(spec, name, s.now().In(loc))
		if err != nil {
			s.log.Error("schedule register failed", logx.String("task", name), logx.String("spec", spec), logx.Err(err))
			continue
		}
		s.c.Schedule(sched, cron.FuncJob(func() { _, _ = s.run(name) }))
		s.scheds[name] = sched
		s.specs[name] = spec
		s.spreads[name] = spread
	}
	s.c.Start()
	s.log.Info("maintenance started", logx.String("tz", loc.String()), logx.Int("tasks", len(s.scheds)))
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Stop halts the clock and waits for running tasks until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("maintenance stopped")
}

// RunNow runs a task immediately, outside its schedule.
func (s *Service) RunNow(name string) (int, error) {
	if _, ok := s.tasks[name]; !ok {
		return 0, fmt.Errorf("unknown task %q", name)
	}
	return s.run(name)
}

// Entries lists registered tasks by name.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	now := s.now()
	out := make([]Entry, 0, len(s.scheds))
	for name, sched := range s.scheds {
		out = append(out, Entry{Name: name, Spec: s.specs[name], Next: sched.Next(now), Spread: s.spreads[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// run executes a task unless the previous run is still going.
func (s *Service) run(name string) (int, error) {
	t := s.tasks[name]
	busy := s.running[name]
	if !busy.CompareAndSwap(false, true) {
		Runs.WithLabelValues(name, "skipped").Inc()
		s.log.Debug("task still running; skipped", logx.String("task", name))
		return 0, nil
	}
	defer busy.Store(false)

	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	ctx := base
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, t.Timeout)
		defer cancel()
	}

	start := s.now()
	n, err := t.Run(ctx)
	took := s.now().Sub(start)
	if err != nil {
		Runs.WithLabelValues(name, "error").Inc()
		s.log.Warn("task failed", logx.String("task", name), logx.Duration("took", took), logx.Err(err))
		return n, err
	}
	Runs.WithLabelValues(name, "ok").Inc()
	if n > 0 {
		Items.WithLabelValues(name).Add(float64(n))
		s.log.Debug("task done", logx.String("task", name), logx.Int("count", n), logx.Duration("took", took))
	}
	return n, nil
}

// cronLogger routes cron's own messages (panics caught by Recover) to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
