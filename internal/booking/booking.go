package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/allybot/internal/calendar"
	"github.com/example/allybot/internal/clock"
	"github.com/example/allybot/internal/internaltypes"
	"github.com/example/allybot/internal/reminder"
	"github.com/example/allybot/internal/slot"
)

// Registry answers whether a member may book.
type Registry interface {
	IsRegistered(ctx context.Context, userID string) (bool, error)
}

type Reminders interface {
	Schedule(s slot.Slot) reminder.Outcome
	Cancel(key slot.Key) bool
}

// Board re-renders any posted calendar for day. Failures are logged only.
type Board interface {
	Refresh(ctx context.Context, day time.Time) error
}

type Deps struct {
	Store     slot.Store
	Calendar  *calendar.Engine
	Registry  Registry
	Reminders Reminders
	Board     Board
	Clock     clock.Clock
	Log       *zap.Logger
}

// Service is the only writer of the slot table besides the reminder flag.
// Concurrent books of one slot are settled by the store's unique key.
type Service struct {
	store     slot.Store
	cal       *calendar.Engine
	registry  Registry
	reminders Reminders
	board     Board
	clock     clock.Clock
	log       *zap.Logger
	audit     *zap.Logger
}

func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Calendar == nil {
		d.Calendar = calendar.New(d.Store, d.Clock, time.UTC)
	}
	return &Service{
		store:     d.Store,
		cal:       d.Calendar,
		registry:  d.Registry,
		reminders: d.Reminders,
		board:     d.Board,
		clock:     d.Clock,
		log:       d.Log.Named("booking"),
		audit:     d.Log.Named("audit"),
	}
}

func (s *Service) Calendar() *calendar.Engine { return s.cal }

// Book reserves hour at in category c for requester.
func (s *Service) Book(ctx context.Context, c slot.Category, at time.Time, requester string) (slot.Slot, error) {
	req := slot.Slot{Category: c, At: at.UTC(), BookedBy: requester}
	if err := req.Validate(s.cal.Location()); err != nil {
		return slot.Slot{}, err
	}
	if !at.After(s.clock.Now()) {
		return slot.Slot{}, internaltypes.Invalid("slot %s is in the past", at.In(s.cal.Location()).Format(calendar.SlotLayout))
	}

	if s.registry != nil {
		ok, err := s.registry.IsRegistered(ctx, requester)
		if err != nil {
			return slot.Slot{}, fmt.Errorf("registration check: %w", err)
		}
		if !ok {
			return slot.Slot{}, internaltypes.ErrNotRegistered
		}
	}

	free, err := s.cal.IsSlotAvailable(ctx, c, at)
	if err != nil {
		return slot.Slot{}, err
	}
	if !free {
		return slot.Slot{}, internaltypes.ErrSlotAlreadyBooked
	}

	// the availability read above is advisory; Insert is the real arbiter
	booked, err := s.store.Insert(ctx, req)
	if err != nil {
		if errors.Is(err, internaltypes.ErrSlotAlreadyBooked) {
			s.log.Info("lost booking race", zap.String("slot", req.Key().String()), zap.String("requester", requester))
		}
		return slot.Slot{}, err
	}

	var outcome reminder.Outcome
	if s.reminders != nil {
		outcome = s.reminders.Schedule(booked)
	}
	s.refresh(ctx, booked.At)

	s.audit.Info("slot booked",
		zap.String("action", "BOOKING_CREATE"),
		zap.String("slot_id", booked.ID),
		zap.String("category", string(booked.Category)),
		zap.Time("slot_time", booked.At),
		zap.String("booked_by", requester),
		zap.Stringer("reminder", outcome))
	return booked, nil
}

// Cancel removes the booking when requester owns it or privileged is set.
// False with a nil error means nothing matched.
func (s *Service) Cancel(ctx context.Context, c slot.Category, at time.Time, requester string, privileged bool) (bool, error) {
	if !c.Valid() {
		return false, internaltypes.Invalid("unknown category %q", c)
	}
	key := slot.NewKey(c, at)
	ok, err := s.store.Delete(ctx, key, requester, privileged)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if s.reminders != nil {
		s.reminders.Cancel(key)
	}
	s.refresh(ctx, key.At)

	action := "BOOKING_CANCEL"
	if privileged {
		action = "ADMIN_BOOKING_CANCEL"
	}
	s.audit.Info("slot cancelled",
		zap.String("action", action),
		zap.String("category", string(c)),
		zap.Time("slot_time", key.At),
		zap.String("by", requester),
		zap.Bool("privileged", privileged))
	return true, nil
}

// AssignFulfiller sets or overwrites who services the slot and re-arms its reminder.
func (s *Service) AssignFulfiller(ctx context.Context, c slot.Category, at time.Time, fulfiller string) (slot.Slot, error) {
	if !c.Valid() {
		return slot.Slot{}, internaltypes.Invalid("unknown category %q", c)
	}
	if fulfiller == "" {
		return slot.Slot{}, internaltypes.Invalid("fulfiller required")
	}
	updated, err := s.store.SetFulfiller(ctx, slot.NewKey(c, at), fulfiller)
	if err != nil {
		return slot.Slot{}, err
	}
	if s.reminders != nil {
		s.reminders.Schedule(updated)
	}
	s.refresh(ctx, updated.At)

	s.audit.Info("fulfiller assigned",
		zap.String("action", "FULFILLER_ASSIGN"),
		zap.String("slot_id", updated.ID),
		zap.String("category", string(c)),
		zap.Time("slot_time", updated.At),
		zap.String("fulfiller", fulfiller))
	return updated, nil
}

// ListByRequester returns the requester's bookings that have not started yet.
func (s *Service) ListByRequester(ctx context.Context, requester string) ([]slot.Slot, error) {
	return s.store.ListByBooker(ctx, requester, s.clock.Now())
}

// Upcoming returns every booking from now until horizon ahead, all categories.
func (s *Service) Upcoming(ctx context.Context, horizon time.Duration) ([]slot.Slot, error) {
	now := s.clock.Now()
	return s.store.ListRange(ctx, "", now, now.Add(horizon))
}

func (s *Service) refresh(ctx context.Context, at time.Time) {
	if s.board == nil {
		return
	}
	day := s.cal.Day(at)
	if err := s.board.Refresh(ctx, day); err != nil {
		s.log.Warn("calendar board refresh failed", zap.Time("day", day), zap.Error(err))
	}
}
