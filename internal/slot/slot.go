package slot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/allybot/internal/internaltypes"
)

type Category string

const (
	Research Category = "research"
	Training Category = "training"
	Building Category = "building"
)

// Categories is the closed set, in display order.
var Categories = []Category{Research, Training, Building}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", internaltypes.Invalid("unknown category %q", s)
	}
	return c, nil
}

func (c Category) Valid() bool {
	switch c {
	case Research, Training, Building:
		return true
	}
	return false
}

// Title is the capitalised label used in messages ("Research").
func (c Category) Title() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// Key identifies a bookable hour within a category.
type Key struct {
	Category Category
	At       time.Time
}

func NewKey(c Category, at time.Time) Key {
	return Key{Category: c, At: at.UTC()}
}

func (k Key) String() string {
	return string(k.Category) + "@" + k.At.UTC().Format(time.RFC3339)
}

type Slot struct {
	ID           string
	Category     Category
	At           time.Time
	BookedBy     string
	Fulfiller    *string
	ReminderSent bool
	CreatedAt    time.Time
}

func (s Slot) Key() Key { return NewKey(s.Category, s.At) }

func (s Slot) FulfillerID() string {
	if s.Fulfiller == nil {
		return ""
	}
	return *s.Fulfiller
}

// OnHour reports whether t sits exactly on an hour boundary in loc.
func OnHour(t time.Time, loc *time.Location) bool {
	l := t.In(loc)
	return l.Minute() == 0 && l.Second() == 0 && l.Nanosecond() == 0
}

func (s Slot) Validate(loc *time.Location) error {
	if !s.Category.Valid() {
		return internaltypes.Invalid("unknown category %q", s.Category)
	}
	if s.At.IsZero() {
		return internaltypes.Invalid("slot time required")
	}
	if !OnHour(s.At, loc) {
		return internaltypes.Invalid("slot time %s is not on the hour", s.At.Format(time.RFC3339))
	}
	if s.BookedBy == "" {
		return internaltypes.Invalid("booked_by required")
	}
	return nil
}

// Store is the durable table of booked slots.
//
// Insert must fail with internaltypes.ErrSlotAlreadyBooked when (category, slot time) is taken.
// Delete removes the row only when requester booked it or privileged is set.
type Store interface {
	Insert(ctx context.Context, s Slot) (Slot, error)
	Delete(ctx context.Context, key Key, requester string, privileged bool) (bool, error)
	SetFulfiller(ctx context.Context, key Key, fulfiller string) (Slot, error)
	Get(ctx context.Context, key Key) (Slot, error)
	ListRange(ctx context.Context, c Category, start, end time.Time) ([]Slot, error)
	ListPending(ctx context.Context, after time.Time) ([]Slot, error)
	ListByBooker(ctx context.Context, bookedBy string, after time.Time) ([]Slot, error)
	MarkReminderSent(ctx context.Context, id string) error
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", internaltypes.ErrPersistence, op, err)
}
