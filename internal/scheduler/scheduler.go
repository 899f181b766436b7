package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/example/allybot/internal/internaltypes"
	"github.com/example/allybot/internal/logging"
)

// Job is a periodic task. Run gets the scheduler's context.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Result is the outcome of a job's most recent run.
type Result struct {
	Job      string
	Spec     string
	At       time.Time
	Duration time.Duration
	Err      string
	Next     time.Time
}

// Scheduler runs cron jobs. A job still running when its next tick arrives is skipped.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	jobs    map[string]Job
	entries map[string]cron.EntryID
	last    map[string]Result
}

func New(loc *time.Location, log *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	log = log.Named("jobs")
	cl := logging.CronLogger{L: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		ctx:     context.Background(),
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
		last:    make(map[string]Result),
	}
}

func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[j.Name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", j.Name)
	}
	id, err := s.cron.AddFunc(j.Spec, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("scheduler: job %q spec %q: %w", j.Name, j.Spec, err)
	}
	s.jobs[j.Name] = j
	s.entries[j.Name] = id
	return nil
}

// Run starts the cron loop and blocks until ctx is done and running jobs finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info("cron started", zap.Int("jobs", len(s.cron.Entries())))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return ctx.Err()
}

// RunNow executes the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: %w: job %q", internaltypes.ErrNotFound, name)
	}
	return s.execute(j)
}

func (s *Scheduler) execute(j Job) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := j.Run(ctx)
	res := Result{Job: j.Name, Spec: j.Spec, At: start, Duration: time.Since(start)}
	if err != nil {
		res.Err = err.Error()
		s.log.Error("job failed", zap.String("job", j.Name), zap.Error(err))
	} else {
		s.log.Debug("job done", zap.String("job", j.Name), zap.Duration("took", res.Duration))
	}

	s.mu.Lock()
	s.last[j.Name] = res
	s.mu.Unlock()
	return err
}

// Status lists every job with its last result and next scheduled run.
func (s *Scheduler) Status() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, 0, len(s.jobs))
	for name, j := range s.jobs {
		r, ok := s.last[name]
		if !ok {
			r = Result{Job: name, Spec: j.Spec}
		}
		r.Next = s.cron.Entry(s.entries[name]).Next
		out = append(out, r)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Job < out[k].Job })
	return out
}
