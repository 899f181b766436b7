package event

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/allybot/internal/db"
	"github.com/example/allybot/internal/internaltypes"
)

type Kind string

const (
	ServerWide       Kind = "server-wide"
	AllianceSpecific Kind = "alliance-specific"
)

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case ServerWide, AllianceSpecific:
		return k, nil
	}
	return "", internaltypes.Invalid("unknown event kind %q", s)
}

type Event struct {
	ID             string
	Title          string
	Description    string
	Kind           Kind
	AllianceTarget string
	ChannelID      string
	At             time.Time
	CreatedBy      string
	ImageURL       string
	ReminderSent   bool
	CreatedAt      time.Time
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return internaltypes.Invalid("title required")
	}
	if _, err := ParseKind(string(e.Kind)); err != nil {
		return err
	}
	if e.Kind == AllianceSpecific && e.AllianceTarget == "" {
		return internaltypes.Invalid("alliance-specific events need an alliance")
	}
	if e.ChannelID == "" {
		return internaltypes.Invalid("channel required")
	}
	if e.At.IsZero() {
		return internaltypes.Invalid("event time required")
	}
	if e.CreatedBy == "" {
		return internaltypes.Invalid("created_by required")
	}
	return nil
}

// Store is implemented by Repo.
type Store interface {
	Create(ctx context.Context, e Event) (Event, error)
	Upcoming(ctx context.Context, after time.Time, limit int) ([]Event, error)
	Due(ctx context.Context, after, until time.Time) ([]Event, error)
	MarkReminderSent(ctx context.Context, id string) error
}

const eventColumns = `id,title,description,kind,COALESCE(alliance_target,''),channel_id,event_time,created_by,COALESCE(image_url,''),reminder_sent,created_at`

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

var _ Store = (*Repo)(nil)

func (r *Repo) Create(ctx context.Context, e Event) (Event, error) {
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	row := r.db.QueryRow(ctx, `
INSERT INTO events(id,title,description,kind,alliance_target,channel_id,event_time,created_by,image_url)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,NULLIF($9,''))
RETURNING `+eventColumns,
		e.ID, e.Title, e.Description, string(e.Kind), e.AllianceTarget, e.ChannelID, e.At.UTC(), e.CreatedBy, e.ImageURL)
	out, err := scanEvent(row)
	if err != nil {
		return Event{}, db.WrapNotFound(err)
	}
	return out, nil
}

func (r *Repo) Upcoming(ctx context.Context, after time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := r.db.Query(ctx, `
SELECT `+eventColumns+`
FROM events
WHERE event_time > $1
ORDER BY event_time ASC
LIMIT $2`, after.UTC(), limit)
	if err != nil {
		return nil, db.WrapNotFound(err)
	}
	return collect(rows)
}

// Due returns unsent events starting in (after, until].
func (r *Repo) Due(ctx context.Context, after, until time.Time) ([]Event, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+eventColumns+`
FROM events
WHERE reminder_sent=false AND event_time > $1 AND event_time <= $2
ORDER BY event_time ASC`, after.UTC(), until.UTC())
	if err != nil {
		return nil, db.WrapNotFound(err)
	}
	return collect(rows)
}

func (r *Repo) MarkReminderSent(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE events SET reminder_sent=true WHERE id=$1 AND reminder_sent=false`, id)
	return db.WrapNotFound(err)
}

func scanEvent(row db.Row) (Event, error) {
	var e Event
	var kind string
	if err := row.Scan(&e.ID, &e.Title, &e.Description, &kind, &e.AllianceTarget, &e.ChannelID, &e.At,
		&e.CreatedBy, &e.ImageURL, &e.ReminderSent, &e.CreatedAt); err != nil {
		return Event{}, err
	}
	e.Kind = Kind(kind)
	e.At = e.At.UTC()
	return e, nil
}

func collect(rows db.Rows) ([]Event, error) {
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ErrChannelGone is returned by a Poster whose target channel no longer exists.
var ErrChannelGone = errors.New("event channel gone")
