package lookup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"bioscout/internal/network"
	"bioscout/internal/phone"
	logx "bioscout/pkg/logx"
)

// ErrAborted is returned by RunBulk when a session failure or cancellation
// stopped the job early. The report is still complete.
var ErrAborted = errors.New("lookup job aborted")

// Progress is a snapshot of a running job.
type Progress struct {
	JobID     string
	Tenant    string
	Total     int
	Processed int
	Counts    Counts
	Rate      float64
	// Speed is processed targets per second.
	Speed   float64
	Elapsed time.Duration
	Done    bool
}

// Report is the final outcome of a job.
type Report struct {
	JobID       string
	Tenant      string
	Counts      Counts
	Details     map[Category][]Result
	Unprocessed []string
	Processed   int
	Started     time.Time
	Duration    time.Duration
	// Aborted holds the reason the job stopped early, if it did.
	Aborted string
}

type entry struct {
	target string
	valid  bool
}

type job struct {
	id      string
	tenant  string
	started time.Time
	total   int
	limiter *Limiter
	now     func() time.Time

	mu        sync.Mutex
	counts    Counts
	details   map[Category][]Result
	done      map[string]bool
	processed int

	emitMu     sync.Mutex
	emitted    int
	step       int
	onProgress func(Progress)

	abortOnce sync.Once
	abortErr  error
}

func (j *job) record(r Result) {
	j.mu.Lock()
	if j.done[r.Target] {
		j.mu.Unlock()
		return
	}
	j.done[r.Target] = true
	j.counts[r.Category]++
	j.details[r.Category] = append(j.details[r.Category], r)
	j.processed++
	p := j.snapshotLocked()
	j.mu.Unlock()
	j.emit(p, false)
}

func (j *job) snapshotLocked() Progress {
	elapsed := j.now().Sub(j.started)
	speed := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		speed = float64(j.processed) / secs
	}
	return Progress{
		JobID:     j.id,
		Tenant:    j.tenant,
		Total:     j.total,
		Processed: j.processed,
		Counts:    j.counts.clone(),
		Rate:      j.limiter.Snapshot().Rate,
		Speed:     speed,
		Elapsed:   elapsed,
	}
}

// emit forwards p when it lands on a step boundary or completes the job.
// Snapshots never go backwards and are never repeated.
func (j *job) emit(p Progress, final bool) {
	if j.onProgress == nil {
		return
	}
	j.emitMu.Lock()
	defer j.emitMu.Unlock()
	if p.Processed <= j.emitted {
		return
	}
	p.Done = p.Processed >= p.Total
	if !final && !p.Done && p.Processed%j.step != 0 {
		return
	}
	j.emitted = p.Processed
	j.onProgress(p)
}

func (j *job) abort(err error) {
	j.abortOnce.Do(func() { j.abortErr = err })
}

// RunBulk classifies targets for tenant in paced batches. onProgress may be
// nil; it is called from worker goroutines, one call at a time.
func (s *Service) RunBulk(ctx context.Context, tenant string, targets []string, onProgress func(Progress)) (*Report, error) {
	cfg := s.config()
	log := s.log.With(logx.String("tenant", tenant))

	entries := normalizeTargets(targets, cfg.CountryCode)
	var unprocessed []string
	if len(entries) > cfg.MaxTargets {
		for _, e := range entries[cfg.MaxTargets:] {
			unprocessed = append(unprocessed, e.target)
		}
		entries = entries[:cfg.MaxTargets]
	}

	j := &job{
		id:         uuid.NewString(),
		tenant:     tenant,
		started:    s.now(),
		total:      len(entries),
		limiter:    NewLimiter(cfg.Limiter),
		now:        s.now,
		counts:     Counts{},
		details:    map[Category][]Result{},
		done:       make(map[string]bool, len(entries)),
		step:       max(1, int(math.Ceil(float64(len(entries))*cfg.ProgressStep))),
		onProgress: onProgress,
		emitted:    -1,
	}
	log = log.With(logx.String("job", j.id))
	log.Info("bulk lookup started", logx.Int("total", j.total), logx.Int("unprocessed", len(unprocessed)))

	work := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.valid {
			j.record(Result{Target: e.target, Category: CategoryError, Reason: ReasonInvalidNumber})
			continue
		}
		work = append(work, e.target)
	}

	if _, err := s.clients.Client(tenant); err != nil {
		j.abort(err)
	}
	for start := 0; start < len(work) && j.abortErr == nil; start += cfg.BatchSize {
		end := min(start+cfg.BatchSize, len(work))
		if start > 0 {
			if err := s.sleep(ctx, cfg.BatchCooldown); err != nil {
				j.abort(err)
				break
			}
		}
		s.runBatch(ctx, cfg, j, work[start:end])
		log.Debug("batch finished", logx.Int("from", start), logx.Int("to", end), logx.Float64("rate", j.limiter.Snapshot().Rate))
	}

	if err := j.abortErr; err != nil {
		reason := err.Error()
		if isCtxErr(err) {
			reason = "cancelled"
		}
		for _, t := range work {
			j.record(Result{Target: t, Category: CategoryError, Reason: reason})
		}
	}

	j.mu.Lock()
	p := j.snapshotLocked()
	rep := &Report{
		JobID:       j.id,
		Tenant:      tenant,
		Counts:      j.counts.clone(),
		Details:     j.details,
		Unprocessed: unprocessed,
		Processed:   j.processed,
		Started:     j.started,
		Duration:    s.now().Sub(j.started),
	}
	j.mu.Unlock()
	j.emit(p, true)
	JobDuration.Observe(rep.Duration.Seconds())

	if err := j.abortErr; err != nil {
		rep.Aborted = err.Error()
		Jobs.WithLabelValues("aborted").Inc()
		log.Warn("bulk lookup aborted", logx.Int("processed", rep.Processed), logx.Err(err))
		return rep, fmt.Errorf("%w: %w", ErrAborted, err)
	}
	Jobs.WithLabelValues("completed").Inc()
	log.Info("bulk lookup finished",
		logx.Int("processed", rep.Processed),
		logx.Int("has_bio", rep.Counts[CategoryHasBio]),
		logx.Int("no_bio", rep.Counts[CategoryNoBio]),
		logx.Int("unregistered", rep.Counts[CategoryUnregistered]),
		logx.Duration("took", rep.Duration),
	)
	return rep, nil
}

// runBatch dispatches one batch, pacing dispatches with the job limiter and
// keeping at most cfg.Concurrency lookups in flight.
func (s *Service) runBatch(ctx context.Context, cfg Config, j *job, batch []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i, target := range batch {
		if i > 0 {
			if err := s.sleep(gctx, j.limiter.NextDelay()); err != nil {
				break
			}
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := s.lookupPaced(gctx, cfg, j, target)
			if err != nil {
				return err
			}
			j.record(r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		j.abort(err)
		return
	}
	if err := ctx.Err(); err != nil {
		j.abort(err)
	}
}

// lookupPaced retries throttled targets up to the retry budget and feeds
// every outcome back to the limiter.
func (s *Service) lookupPaced(ctx context.Context, cfg Config, j *job, target string) (Result, error) {
	for attempt := 0; ; attempt++ {
		r, err := s.lookup(ctx, cfg, j.tenant, target, attempt > 0)
		if err != nil {
			if network.IsSessionLost(err) || isCtxErr(err) {
				return Result{}, err
			}
			j.limiter.RecordError()
			return Result{Target: target, Category: CategoryError, Reason: err.Error()}, nil
		}
		switch r.Category {
		case CategoryRateLimit:
			j.limiter.RecordThrottle()
			if attempt >= cfg.RetryBudget {
				return r, nil
			}
			if err := s.sleep(ctx, j.limiter.NextDelay()); err != nil {
				return Result{}, err
			}
		case CategoryError:
			j.limiter.RecordError()
			return r, nil
		default:
			j.limiter.RecordSuccess()
			return r, nil
		}
	}
}

// normalizeTargets normalizes and deduplicates targets, keeping order.
// Invalid entries are kept so they can be reported.
func normalizeTargets(targets []string, cc string) []entry {
	seen := make(map[string]struct{}, len(targets))
	out := make([]entry, 0, len(targets))
	for _, raw := range targets {
		num, ok := phone.Normalize(raw, cc)
		if num == "" {
			num = raw
		}
		if _, dup := seen[num]; dup {
			continue
		}
		seen[num] = struct{}{}
		out = append(out, entry{target: num, valid: ok})
	}
	return out
}
