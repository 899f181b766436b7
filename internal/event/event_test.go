package event

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/allybot/internal/clock/clocktest"
	"github.com/example/allybot/internal/internaltypes"
)

type memStore struct {
	mu     sync.Mutex
	events map[string]Event
}

func (m *memStore) Create(_ context.Context, e Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
	return e, nil
}

func (m *memStore) Upcoming(_ context.Context, after time.Time, _ int) ([]Event, error) {
	return m.filter(func(e Event) bool { return e.At.After(after) }), nil
}

func (m *memStore) Due(_ context.Context, after, until time.Time) ([]Event, error) {
	return m.filter(func(e Event) bool { return !e.ReminderSent && e.At.After(after) && !e.At.After(until) }), nil
}

func (m *memStore) MarkReminderSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.events[id]
	e.ReminderSent = true
	m.events[id] = e
	return nil
}

func (m *memStore) filter(keep func(Event) bool) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

type poster struct {
	posted []string
	fail   map[string]error
}

func (p *poster) PostEventReminder(_ context.Context, e Event) error {
	if err := p.fail[e.ID]; err != nil {
		return err
	}
	p.posted = append(p.posted, e.ID)
	return nil
}

func TestReminderRun(t *testing.T) {
	now := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	store := &memStore{events: map[string]Event{}}
	for id, at := range map[string]time.Time{
		"soon":    now.Add(10 * time.Minute),
		"edge":    now.Add(15 * time.Minute),
		"later":   now.Add(time.Hour),
		"past":    now.Add(-time.Minute),
		"gone":    now.Add(5 * time.Minute),
		"failing": now.Add(12 * time.Minute),
	} {
		store.events[id] = Event{ID: id, Title: id, At: at}
	}
	p := &poster{fail: map[string]error{
		"gone":    ErrChannelGone,
		"failing": errors.New("discord 500"),
	}}
	job := &Reminder{Store: store, Poster: p, Clock: clocktest.New(now), Lead: 15 * time.Minute, Log: zap.NewNop()}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected the failing post to surface")
	}
	if len(p.posted) != 2 || p.posted[0] != "soon" || p.posted[1] != "edge" {
		t.Errorf("posted = %v", p.posted)
	}
	if !store.events["gone"].ReminderSent {
		t.Error("event with a missing channel should be marked sent")
	}
	if store.events["failing"].ReminderSent {
		t.Error("failed post must stay pending")
	}

	// second tick only retries the failure
	delete(p.fail, "failing")
	p.posted = nil
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(p.posted) != 1 || p.posted[0] != "failing" {
		t.Errorf("second run posted %v", p.posted)
	}
}

func TestValidate(t *testing.T) {
	at := time.Date(2025, 6, 18, 20, 0, 0, 0, time.UTC)
	ok := Event{Title: "KvK", Kind: ServerWide, ChannelID: "c", At: at, CreatedBy: "u"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}
	bad := []Event{
		{Kind: ServerWide, ChannelID: "c", At: at, CreatedBy: "u"},
		{Title: "x", Kind: "party", ChannelID: "c", At: at, CreatedBy: "u"},
		{Title: "x", Kind: AllianceSpecific, ChannelID: "c", At: at, CreatedBy: "u"},
		{Title: "x", Kind: ServerWide, At: at, CreatedBy: "u"},
		{Title: "x", Kind: ServerWide, ChannelID: "c", CreatedBy: "u"},
	}
	for i, e := range bad {
		if err := e.Validate(); !errors.Is(err, internaltypes.ErrInvalidInput) {
			t.Errorf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}
