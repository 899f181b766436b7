// Package slottest provides an in-memory slot.Store for tests.
package slottest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/allybot/internal/internaltypes"
	"github.com/example/allybot/internal/slot"
	"github.com/google/uuid"
)

// Store enforces the same (category, slot time) uniqueness as the SQL table.
type Store struct {
	mu    sync.Mutex
	rows  map[slot.Key]slot.Slot
	now   func() time.Time
	fail  error
	marks map[string]int
}

func New() *Store {
	return &Store{
		rows:  make(map[slot.Key]slot.Slot),
		now:   time.Now,
		marks: make(map[string]int),
	}
}

var _ slot.Store = (*Store)(nil)

// FailWith makes every following call return err until cleared with nil.
func (m *Store) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// MarkCount reports how many times MarkReminderSent flipped the flag for id.
func (m *Store) MarkCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marks[id]
}

// Put stores s as-is, bypassing uniqueness. Used to seed fixtures.
func (m *Store) Put(s slot.Slot) slot.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.At = s.At.UTC()
	m.rows[s.Key()] = s
	return s
}

func (m *Store) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *Store) Insert(_ context.Context, s slot.Slot) (slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return slot.Slot{}, m.fail
	}
	s.At = s.At.UTC()
	if _, ok := m.rows[s.Key()]; ok {
		return slot.Slot{}, internaltypes.ErrSlotAlreadyBooked
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.ReminderSent = false
	s.CreatedAt = m.now().UTC()
	m.rows[s.Key()] = s
	return s, nil
}

func (m *Store) Delete(_ context.Context, key slot.Key, requester string, privileged bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return false, m.fail
	}
	s, ok := m.rows[key]
	if !ok || (!privileged && s.BookedBy != requester) {
		return false, nil
	}
	delete(m.rows, key)
	return true, nil
}

func (m *Store) SetFulfiller(_ context.Context, key slot.Key, fulfiller string) (slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return slot.Slot{}, m.fail
	}
	s, ok := m.rows[key]
	if !ok {
		return slot.Slot{}, internaltypes.ErrSlotNotFound
	}
	f := fulfiller
	s.Fulfiller = &f
	m.rows[key] = s
	return s, nil
}

func (m *Store) Get(_ context.Context, key slot.Key) (slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return slot.Slot{}, m.fail
	}
	s, ok := m.rows[key]
	if !ok {
		return slot.Slot{}, internaltypes.ErrSlotNotFound
	}
	return s, nil
}

func (m *Store) ListRange(_ context.Context, c slot.Category, start, end time.Time) ([]slot.Slot, error) {
	return m.filter(func(s slot.Slot) bool {
		return (c == "" || s.Category == c) && !s.At.Before(start) && s.At.Before(end)
	})
}

func (m *Store) ListPending(_ context.Context, after time.Time) ([]slot.Slot, error) {
	return m.filter(func(s slot.Slot) bool {
		return !s.ReminderSent && s.At.After(after)
	})
}

func (m *Store) ListByBooker(_ context.Context, bookedBy string, after time.Time) ([]slot.Slot, error) {
	return m.filter(func(s slot.Slot) bool {
		return s.BookedBy == bookedBy && s.At.After(after)
	})
}

func (m *Store) MarkReminderSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	for k, s := range m.rows {
		if s.ID == id && !s.ReminderSent {
			s.ReminderSent = true
			m.rows[k] = s
			m.marks[id]++
		}
	}
	return nil
}

func (m *Store) filter(keep func(slot.Slot) bool) ([]slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	var out []slot.Slot
	for _, s := range m.rows {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].Category < out[j].Category
		}
		return out[i].At.Before(out[j].At)
	})
	return out, nil
}
