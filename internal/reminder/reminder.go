package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/allybot/internal/clock"
	"github.com/example/allybot/internal/internaltypes"
	"github.com/example/allybot/internal/slot"
)

// Notifier delivers a reminder text to one recipient.
type Notifier interface {
	Send(ctx context.Context, recipient string, text string) error
}

// Roster lists the fulfillers that receive every reminder.
type Roster interface {
	Fulfillers(ctx context.Context) ([]string, error)
}

// Store is the subset of slot.Store the scheduler reads and writes.
type Store interface {
	Get(ctx context.Context, key slot.Key) (slot.Slot, error)
	ListPending(ctx context.Context, after time.Time) ([]slot.Slot, error)
	MarkReminderSent(ctx context.Context, id string) error
}

// Outcome reports what Schedule did with a slot.
type Outcome int

const (
	Scheduled Outcome = iota
	FiredImmediately
	Stale
	AlreadySent
	Stopped
	InFlight
)

func (o Outcome) String() string {
	switch o {
	case Scheduled:
		return "scheduled"
	case FiredImmediately:
		return "fired_immediately"
	case Stale:
		return "stale"
	case AlreadySent:
		return "already_sent"
	case Stopped:
		return "stopped"
	case InFlight:
		return "in_flight"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Armed reports whether a timer now exists for the slot.
func (o Outcome) Armed() bool { return o == Scheduled || o == FiredImmediately }

type Formatter func(s slot.Slot, lead time.Duration) string

// DefaultFormat renders a plain-text reminder.
func DefaultFormat(s slot.Slot, lead time.Duration) string {
	return fmt.Sprintf("Reminder: %s buff at %s starts in %s (booked by %s)",
		s.Category.Title(), s.At.UTC().Format("2006-01-02 15:04 MST"), lead, s.BookedBy)
}

type Config struct {
	Lead        time.Duration
	Format      Formatter
	Concurrency int
}

type pending struct {
	timer  clock.Timer
	slot   slot.Slot
	fireAt time.Time
}

// Entry describes one armed reminder.
type Entry struct {
	Key    slot.Key
	SlotID string
	FireAt time.Time
}

// Scheduler keeps one in-process timer per booked slot and sends the reminder
// Lead before the slot starts. The timer map is its only shared state.
type Scheduler struct {
	store    Store
	notifier Notifier
	roster   Roster
	clock    clock.Clock
	log      *zap.Logger
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	timers   map[slot.Key]*pending
	inflight map[slot.Key]struct{} // fired, reminder_sent not yet written
	stopped  bool
	wg       sync.WaitGroup
}

func New(store Store, notifier Notifier, roster Roster, clk clock.Clock, log *zap.Logger, cfg Config) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Format == nil {
		cfg.Format = DefaultFormat
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		notifier: notifier,
		roster:   roster,
		clock:    clk,
		log:      log.Named("reminder"),
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[slot.Key]*pending),
		inflight: make(map[slot.Key]struct{}),
	}
}

func (s *Scheduler) Lead() time.Duration { return s.cfg.Lead }

// Initialize arms a timer for every future slot whose reminder has not been
// sent. Calling it again replaces timers instead of adding to them.
func (s *Scheduler) Initialize(ctx context.Context) (int, error) {
	slots, err := s.store.ListPending(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("reminder reconcile: %w", err)
	}
	armed := 0
	for _, sl := range slots {
		if s.Schedule(sl).Armed() {
			armed++
		}
	}
	s.log.Info("reminders reconciled", zap.Int("pending", len(slots)), zap.Int("armed", armed))
	return armed, nil
}

// Schedule arms or re-arms the timer for sl. A fire time already in the past
// fires on the next tick as long as the slot itself has not started. A key
// whose reminder is being delivered is left alone.
func (s *Scheduler) Schedule(sl slot.Slot) Outcome {
	key := sl.Key()
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return Stopped
	}
	if _, busy := s.inflight[key]; busy {
		return InFlight
	}
	if sl.ReminderSent {
		s.disarmLocked(key)
		return AlreadySent
	}
	if !sl.At.After(now) {
		s.disarmLocked(key)
		return Stale
	}

	fireAt := sl.At.Add(-s.cfg.Lead)
	delay := fireAt.Sub(now)
	outcome := Scheduled
	if delay <= 0 {
		delay = 0
		outcome = FiredImmediately
	}

	s.disarmLocked(key)
	p := &pending{slot: sl, fireAt: fireAt}
	p.timer = s.clock.AfterFunc(delay, func() { s.fire(key, p) })
	s.timers[key] = p

	s.log.Debug("reminder armed",
		zap.String("slot", key.String()),
		zap.Time("fire_at", fireAt),
		zap.Stringer("outcome", outcome))
	return outcome
}

// Cancel disarms the timer for key. Once it returns the timer can no longer fire.
func (s *Scheduler) Cancel(key slot.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disarmLocked(key)
}

func (s *Scheduler) disarmLocked(key slot.Key) bool {
	p, ok := s.timers[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.timers, key)
	return true
}

func (s *Scheduler) Pending() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.timers))
	for k, p := range s.timers {
		out = append(out, Entry{Key: k, SlotID: p.slot.ID, FireAt: p.fireAt})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].Key.Category < out[j].Key.Category
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// Stop disarms every timer and waits for in-flight reminders to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for k := range s.timers {
		s.disarmLocked(k)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
}

func (s *Scheduler) fire(key slot.Key, p *pending) {
	s.mu.Lock()
	// a replaced or cancelled timer that raced past Stop must not send
	if s.stopped || s.timers[key] != p {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.inflight[key] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}()

	ctx := s.ctx
	log := s.log.With(zap.String("slot", key.String()))

	cur, err := s.store.Get(ctx, key)
	if errors.Is(err, internaltypes.ErrSlotNotFound) {
		log.Debug("slot gone before reminder")
		return
	}
	if err != nil {
		log.Error("reload slot for reminder", zap.Error(err))
		return
	}
	if cur.ReminderSent {
		return
	}

	recipients := s.recipients(ctx, cur)
	text := s.cfg.Format(cur, s.cfg.Lead)

	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, r := range recipients {
		g.Go(func() error {
			if err := s.notifier.Send(ctx, r, text); err != nil {
				failed.Add(1)
				log.Warn("reminder delivery failed", zap.Error(&internaltypes.DeliveryError{Recipient: r, Err: err}))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := s.store.MarkReminderSent(ctx, cur.ID); err != nil {
		log.Error("mark reminder sent", zap.Error(err))
		return
	}
	log.Info("reminder sent",
		zap.Int("recipients", len(recipients)),
		zap.Int32("failed", failed.Load()))
}

// recipients is the booker, the assigned fulfiller and the roster, without repeats.
func (s *Scheduler) recipients(ctx context.Context, sl slot.Slot) []string {
	ids := []string{sl.BookedBy, sl.FulfillerID()}
	if s.roster != nil {
		roster, err := s.roster.Fulfillers(ctx)
		if err != nil {
			s.log.Warn("load fulfiller roster", zap.Error(err))
		}
		ids = append(ids, roster...)
	}

	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
