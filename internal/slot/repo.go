package slot

import (
	"context"
	"time"

	"github.com/example/allybot/internal/db"
	"github.com/example/allybot/internal/internaltypes"
	"github.com/google/uuid"
)

const slotColumns = `id,category,slot_time,booked_by,fulfiller,reminder_sent,created_at`

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

var _ Store = (*Repo)(nil)

func (r *Repo) Insert(ctx context.Context, s Slot) (Slot, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRow(ctx, `
INSERT INTO buff_slots(id,category,slot_time,booked_by,fulfiller,reminder_sent)
VALUES ($1,$2,$3,$4,$5,false)
RETURNING `+slotColumns,
		s.ID, string(s.Category), s.At.UTC(), s.BookedBy, s.Fulfiller,
	)
	out, err := scanSlot(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Slot{}, internaltypes.ErrSlotAlreadyBooked
		}
		return Slot{}, persistence("insert slot", err)
	}
	return out, nil
}

func (r *Repo) Delete(ctx context.Context, key Key, requester string, privileged bool) (bool, error) {
	n, err := r.db.Exec(ctx, `
DELETE FROM buff_slots
WHERE category=$1 AND slot_time=$2 AND ($4 OR booked_by=$3)`,
		string(key.Category), key.At.UTC(), requester, privileged)
	if err != nil {
		return false, persistence("delete slot", err)
	}
	return n > 0, nil
}

func (r *Repo) SetFulfiller(ctx context.Context, key Key, fulfiller string) (Slot, error) {
	row := r.db.QueryRow(ctx, `
UPDATE buff_slots SET fulfiller=$3
WHERE category=$1 AND slot_time=$2
RETURNING `+slotColumns,
		string(key.Category), key.At.UTC(), fulfiller)
	s, err := scanSlot(row)
	if err != nil {
		if db.IsNotFound(err) {
			return Slot{}, internaltypes.ErrSlotNotFound
		}
		return Slot{}, persistence("set fulfiller", err)
	}
	return s, nil
}

func (r *Repo) Get(ctx context.Context, key Key) (Slot, error) {
	row := r.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM buff_slots WHERE category=$1 AND slot_time=$2`,
		string(key.Category), key.At.UTC())
	s, err := scanSlot(row)
	if err != nil {
		if db.IsNotFound(err) {
			return Slot{}, internaltypes.ErrSlotNotFound
		}
		return Slot{}, persistence("get slot", err)
	}
	return s, nil
}

// ListRange returns slots in [start, end). An empty category matches all of them.
func (r *Repo) ListRange(ctx context.Context, c Category, start, end time.Time) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+slotColumns+`
FROM buff_slots
WHERE ($1 = '' OR category=$1) AND slot_time >= $2 AND slot_time < $3
ORDER BY slot_time ASC, category ASC`,
		string(c), start.UTC(), end.UTC())
	if err != nil {
		return nil, persistence("list range", err)
	}
	return collect(rows, "list range")
}

func (r *Repo) ListPending(ctx context.Context, after time.Time) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+slotColumns+`
FROM buff_slots
WHERE reminder_sent=false AND slot_time > $1
ORDER BY slot_time ASC`, after.UTC())
	if err != nil {
		return nil, persistence("list pending", err)
	}
	return collect(rows, "list pending")
}

func (r *Repo) ListByBooker(ctx context.Context, bookedBy string, after time.Time) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+slotColumns+`
FROM buff_slots
WHERE booked_by=$1 AND slot_time > $2
ORDER BY slot_time ASC`, bookedBy, after.UTC())
	if err != nil {
		return nil, persistence("list by booker", err)
	}
	return collect(rows, "list by booker")
}

func (r *Repo) MarkReminderSent(ctx context.Context, id string) error {
	// the flag never goes back to false
	if _, err := r.db.Exec(ctx, `UPDATE buff_slots SET reminder_sent=true WHERE id=$1 AND reminder_sent=false`, id); err != nil {
		return persistence("mark reminder sent", err)
	}
	return nil
}

func scanSlot(row db.Row) (Slot, error) {
	var s Slot
	var category string
	if err := row.Scan(&s.ID, &category, &s.At, &s.BookedBy, &s.Fulfiller, &s.ReminderSent, &s.CreatedAt); err != nil {
		return Slot{}, err
	}
	s.Category = Category(category)
	s.At = s.At.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func collect(rows db.Rows, op string) ([]Slot, error) {
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, persistence(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(op, err)
	}
	return out, nil
}
