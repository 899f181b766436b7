package calendar

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/example/allybot/internal/clock"
	"github.com/example/allybot/internal/internaltypes"
	"github.com/example/allybot/internal/slot"
)

const (
	DateLayout = "2006-01-02"
	SlotLayout = "2006-01-02 15:04"

	// HoursPerDay is the grid size of an ordinary day. Days with a DST
	// transition in the calendar zone have 23 or 25 entries.
	HoursPerDay = 24
)

type Status string

const (
	Free   Status = "free"
	Booked Status = "booked"
)

// Reader is the part of the slot store the calendar needs.
type Reader interface {
	ListRange(ctx context.Context, c slot.Category, start, end time.Time) ([]slot.Slot, error)
	Get(ctx context.Context, key slot.Key) (slot.Slot, error)
}

type Entry struct {
	Hour    int
	Start   time.Time
	Status  Status
	Booking *slot.Slot
}

// Option is one bookable hour offered to a member.
type Option struct {
	Hour  int
	Start time.Time
	Label string // "14:00 UTC"
	Value string // unix seconds
}

// Engine answers read-only questions about a category's day grid.
// All dates are interpreted in a single fixed zone.
type Engine struct {
	store Reader
	clock clock.Clock
	loc   *time.Location
}

func New(store Reader, clk clock.Clock, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{store: store, clock: clk, loc: loc}
}

func (e *Engine) Location() *time.Location { return e.loc }

func (e *Engine) Now() time.Time { return e.clock.Now() }

// Day returns midnight of the calendar day containing t.
func (e *Engine) Day(t time.Time) time.Time {
	l := t.In(e.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, e.loc)
}

func (e *Engine) Today() time.Time { return e.Day(e.clock.Now()) }

func (e *Engine) ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), e.loc)
	if err != nil {
		return time.Time{}, internaltypes.Invalid("date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

// ParseSlot parses "YYYY-MM-DD HH:00". Minutes other than 00 are rejected.
func (e *Engine) ParseSlot(s string) (time.Time, error) {
	t, err := time.ParseInLocation(SlotLayout, strings.TrimSpace(s), e.loc)
	if err != nil {
		return time.Time{}, internaltypes.Invalid("slot %q: want YYYY-MM-DD HH:00", s)
	}
	if !slot.OnHour(t, e.loc) {
		return time.Time{}, internaltypes.Invalid("slot %q is not on the hour", s)
	}
	return t, nil
}

// ParseValue decodes an Option.Value.
func ParseValue(v string) (time.Time, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, internaltypes.Invalid("slot value %q", v)
	}
	return time.Unix(n, 0).UTC(), nil
}

// hours lists the start of every hour between day's midnight and the next,
// stepping by elapsed time so a DST change neither repeats nor drops an hour.
func (e *Engine) hours(day time.Time) []time.Time {
	start := e.Day(day)
	end := e.Day(start.Add(36 * time.Hour))
	out := make([]time.Time, 0, HoursPerDay+1)
	for t := start; t.Before(end); t = t.Add(time.Hour) {
		out = append(out, t)
	}
	return out
}

// DaySchedule returns the hourly entries of day for category c in time order.
func (e *Engine) DaySchedule(ctx context.Context, c slot.Category, day time.Time) ([]Entry, error) {
	if !c.Valid() {
		return nil, internaltypes.Invalid("unknown category %q", c)
	}
	booked, err := e.bookedHours(ctx, c, day)
	if err != nil {
		return nil, err
	}

	hours := e.hours(day)
	out := make([]Entry, 0, len(hours))
	for _, start := range hours {
		en := Entry{Hour: start.Hour(), Start: start, Status: Free}
		if s, ok := booked[start.Unix()]; ok {
			s := s
			en.Status = Booked
			en.Booking = &s
		}
		out = append(out, en)
	}
	return out, nil
}

// IsSlotAvailable is true when at is on the hour, strictly in the future and not booked.
func (e *Engine) IsSlotAvailable(ctx context.Context, c slot.Category, at time.Time) (bool, error) {
	if !c.Valid() {
		return false, internaltypes.Invalid("unknown category %q", c)
	}
	if !slot.OnHour(at, e.loc) || !at.After(e.clock.Now()) {
		return false, nil
	}
	_, err := e.store.Get(ctx, slot.NewKey(c, at))
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, internaltypes.ErrSlotNotFound):
		return true, nil
	default:
		return false, err
	}
}

// FutureSlots loads the day's bookings once and returns a sequence of the free
// hours that start after now. Each iteration re-reads the clock, so a sequence
// ranged later still hides hours that have started in the meantime.
func (e *Engine) FutureSlots(ctx context.Context, c slot.Category, day time.Time) (iter.Seq[Option], error) {
	if !c.Valid() {
		return nil, internaltypes.Invalid("unknown category %q", c)
	}
	booked, err := e.bookedHours(ctx, c, day)
	if err != nil {
		return nil, err
	}
	return func(yield func(Option) bool) {
		now := e.clock.Now()
		for _, start := range e.hours(day) {
			if _, taken := booked[start.Unix()]; taken {
				continue
			}
			if !start.After(now) {
				continue
			}
			opt := Option{
				Hour:  start.Hour(),
				Start: start,
				Label: start.Format("15:04 MST"),
				Value: strconv.FormatInt(start.Unix(), 10),
			}
			if !yield(opt) {
				return
			}
		}
	}, nil
}

// bookedHours maps each booking's start, in unix seconds, to the booking.
func (e *Engine) bookedHours(ctx context.Context, c slot.Category, day time.Time) (map[int64]slot.Slot, error) {
	start := e.Day(day)
	end := e.Day(start.Add(36 * time.Hour))
	slots, err := e.store.ListRange(ctx, c, start, end)
	if err != nil {
		return nil, fmt.Errorf("day schedule %s: %w", start.Format(DateLayout), err)
	}
	booked := make(map[int64]slot.Slot, len(slots))
	for _, s := range slots {
		booked[s.At.Unix()] = s
	}
	return booked, nil
}
