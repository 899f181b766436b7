package calendar

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/example/allybot/internal/clock/clocktest"
	"github.com/example/allybot/internal/internaltypes"
	"github.com/example/allybot/internal/slot"
	"github.com/example/allybot/internal/slot/slottest"
)

var day = time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC)

func newEngine(now time.Time) (*Engine, *slottest.Store, *clocktest.Fake) {
	store := slottest.New()
	clk := clocktest.New(now)
	return New(store, clk, time.UTC), store, clk
}

func TestDaySchedule_MergesBookings(t *testing.T) {
	e, store, _ := newEngine(day.Add(-24 * time.Hour))
	store.Put(slot.Slot{Category: slot.Research, At: day.Add(14 * time.Hour), BookedBy: "alice"})
	store.Put(slot.Slot{Category: slot.Training, At: day.Add(9 * time.Hour), BookedBy: "bob"})
	// next day, must not leak into the grid
	store.Put(slot.Slot{Category: slot.Research, At: day.Add(24 * time.Hour), BookedBy: "carol"})

	got, err := e.DaySchedule(context.Background(), slot.Research, day)
	if err != nil {
		t.Fatalf("DaySchedule: %v", err)
	}
	if len(got) != HoursPerDay {
		t.Fatalf("expected %d entries, got %d", HoursPerDay, len(got))
	}
	for h, en := range got {
		if en.Hour != h {
			t.Fatalf("entry %d has hour %d", h, en.Hour)
		}
		if !en.Start.Equal(day.Add(time.Duration(h) * time.Hour)) {
			t.Errorf("entry %d starts at %s", h, en.Start)
		}
		if h == 14 {
			if en.Status != Booked || en.Booking == nil || en.Booking.BookedBy != "alice" {
				t.Errorf("hour 14: expected booked by alice, got %+v", en)
			}
			continue
		}
		if en.Status != Free || en.Booking != nil {
			t.Errorf("hour %d: expected free, got %+v", h, en)
		}
	}
}

func TestDaySchedule_Idempotent(t *testing.T) {
	e, store, _ := newEngine(day)
	store.Put(slot.Slot{ID: "s1", Category: slot.Building, At: day.Add(3 * time.Hour), BookedBy: "alice"})

	a, err := e.DaySchedule(context.Background(), slot.Building, day)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.DaySchedule(context.Background(), slot.Building, day)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("expected identical schedules without intervening mutation")
	}
}

func TestDaySchedule_UnknownCategory(t *testing.T) {
	e, _, _ := newEngine(day)
	if _, err := e.DaySchedule(context.Background(), "healing", day); !errors.Is(err, internaltypes.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDaySchedule_PropagatesStoreFailure(t *testing.T) {
	e, store, _ := newEngine(day)
	store.FailWith(internaltypes.ErrPersistence)
	if _, err := e.DaySchedule(context.Background(), slot.Research, day); !errors.Is(err, internaltypes.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}

func TestIsSlotAvailable(t *testing.T) {
	now := day.Add(10*time.Hour + 20*time.Minute)
	e, store, _ := newEngine(now)
	store.Put(slot.Slot{Category: slot.Research, At: day.Add(14 * time.Hour), BookedBy: "alice"})

	tests := []struct {
		name string
		c    slot.Category
		at   time.Time
		want bool
	}{
		{"free future hour", slot.Research, day.Add(15 * time.Hour), true},
		{"booked hour", slot.Research, day.Add(14 * time.Hour), false},
		{"same hour other category", slot.Training, day.Add(14 * time.Hour), true},
		{"current hour already started", slot.Research, day.Add(10 * time.Hour), false},
		{"past hour", slot.Research, day.Add(2 * time.Hour), false},
		{"not on the hour", slot.Research, day.Add(15*time.Hour + 30*time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.IsSlotAvailable(context.Background(), tt.c, tt.at)
			if err != nil {
				t.Fatalf("IsSlotAvailable: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFutureSlots_FiltersPastAndBooked(t *testing.T) {
	now := day.Add(20*time.Hour + 5*time.Minute)
	e, store, _ := newEngine(now)
	store.Put(slot.Slot{Category: slot.Research, At: day.Add(22 * time.Hour), BookedBy: "alice"})

	seq, err := e.FutureSlots(context.Background(), slot.Research, day)
	if err != nil {
		t.Fatalf("FutureSlots: %v", err)
	}
	var hours []int
	var labels []string
	for o := range seq {
		hours = append(hours, o.Hour)
		labels = append(labels, o.Label)
	}
	if !reflect.DeepEqual(hours, []int{21, 23}) {
		t.Errorf("hours = %v, want [21 23]", hours)
	}
	if len(labels) > 0 && labels[0] != "21:00 UTC" {
		t.Errorf("label = %q", labels[0])
	}
}

func TestFutureSlots_FutureDayOffersAllHours(t *testing.T) {
	e, _, _ := newEngine(day.Add(-time.Hour))
	seq, err := e.FutureSlots(context.Background(), slot.Training, day)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for range seq {
		n++
	}
	if n != HoursPerDay {
		t.Errorf("expected %d options, got %d", HoursPerDay, n)
	}
}

func TestFutureSlots_RestartableAndRechecksClock(t *testing.T) {
	e, _, clk := newEngine(day.Add(-time.Hour))
	seq, err := e.FutureSlots(context.Background(), slot.Building, day)
	if err != nil {
		t.Fatal(err)
	}
	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	if a, b := count(), count(); a != b || a != HoursPerDay {
		t.Fatalf("expected two full passes, got %d and %d", a, b)
	}
	clk.Set(day.Add(12 * time.Hour))
	if got := count(); got != 11 {
		t.Errorf("expected 11 hours after noon, got %d", got)
	}
}

func TestFutureSlots_EarlyBreak(t *testing.T) {
	e, _, _ := newEngine(day.Add(-time.Hour))
	seq, err := e.FutureSlots(context.Background(), slot.Research, day)
	if err != nil {
		t.Fatal(err)
	}
	var first Option
	for o := range seq {
		first = o
		break
	}
	if first.Hour != 0 || first.Value != "1750204800" {
		t.Errorf("unexpected first option %+v", first)
	}
	at, err := ParseValue(first.Value)
	if err != nil || !at.Equal(day) {
		t.Errorf("ParseValue(%q) = %v, %v", first.Value, at, err)
	}
}

func TestParseDate(t *testing.T) {
	e, _, _ := newEngine(day)
	got, err := e.ParseDate("2025-06-18")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if !got.Equal(day) {
		t.Errorf("ParseDate = %s, want %s", got, day)
	}
	for _, bad := range []string{"", "18/06/2025", "2025-13-01", "2025-06-18T14:00"} {
		if _, err := e.ParseDate(bad); !errors.Is(err, internaltypes.ErrInvalidInput) {
			t.Errorf("ParseDate(%q): expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestParseSlot(t *testing.T) {
	e, _, _ := newEngine(day)
	got, err := e.ParseSlot("2025-06-18 14:00")
	if err != nil {
		t.Fatalf("ParseSlot: %v", err)
	}
	if !got.Equal(day.Add(14 * time.Hour)) {
		t.Errorf("ParseSlot = %s", got)
	}
	for _, bad := range []string{"2025-06-18 14:30", "2025-06-18", "tomorrow 2pm", "2025-06-18 25:00"} {
		if _, err := e.ParseSlot(bad); !errors.Is(err, internaltypes.ErrInvalidInput) {
			t.Errorf("ParseSlot(%q): expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestParseValue_Rejects(t *testing.T) {
	for _, bad := range []string{"", "abc", "-5", "0"} {
		if _, err := ParseValue(bad); !errors.Is(err, internaltypes.ErrInvalidInput) {
			t.Errorf("ParseValue(%q): expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestDay_TruncatesInZone(t *testing.T) {
	loc := time.FixedZone("UTC-4", -4*60*60)
	e := New(slottest.New(), clocktest.New(day), loc)
	// 02:00 UTC on the 18th is still the 17th at UTC-4
	got := e.Day(time.Date(2025, 6, 18, 2, 0, 0, 0, time.UTC))
	want := time.Date(2025, 6, 17, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("Day = %s, want %s", got, want)
	}
}

func TestDaySchedule_DSTTransitions(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	store := slottest.New()
	e := New(store, clocktest.New(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)), ny)

	// 01:00 EDT and 01:00 EST on the fall-back day
	first := time.Date(2025, 11, 2, 5, 0, 0, 0, time.UTC)
	second := time.Date(2025, 11, 2, 6, 0, 0, 0, time.UTC)
	store.Put(slot.Slot{Category: slot.Research, At: first, BookedBy: "alice"})
	store.Put(slot.Slot{Category: slot.Research, At: second, BookedBy: "bob"})

	tests := []struct {
		name    string
		day     time.Time
		entries int
		booked  []string
	}{
		{"spring forward", time.Date(2025, 3, 9, 12, 0, 0, 0, ny), 23, nil},
		{"fall back", time.Date(2025, 11, 2, 12, 0, 0, 0, ny), 25, []string{"alice", "bob"}},
		{"ordinary", time.Date(2025, 6, 18, 12, 0, 0, 0, ny), HoursPerDay, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.DaySchedule(context.Background(), slot.Research, tt.day)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.entries {
				t.Fatalf("expected %d entries, got %d", tt.entries, len(got))
			}
			var booked []string
			for i, en := range got {
				if i > 0 && en.Start.Sub(got[i-1].Start) != time.Hour {
					t.Errorf("entry %d starts %s after the previous one", i, en.Start.Sub(got[i-1].Start))
				}
				if en.Status == Booked {
					booked = append(booked, en.Booking.BookedBy)
				}
			}
			if !reflect.DeepEqual(booked, tt.booked) {
				t.Errorf("booked = %v, want %v", booked, tt.booked)
			}

			seq, err := e.FutureSlots(context.Background(), slot.Research, tt.day)
			if err != nil {
				t.Fatal(err)
			}
			seen := make(map[string]bool)
			for opt := range seq {
				if seen[opt.Value] {
					t.Errorf("option %s (%s) offered twice", opt.Value, opt.Label)
				}
				seen[opt.Value] = true
			}
			if want := tt.entries - len(tt.booked); len(seen) != want {
				t.Errorf("expected %d options, got %d", want, len(seen))
			}
		})
	}
}
