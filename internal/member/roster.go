package member

import (
	"context"
	"time"

	"github.com/example/allybot/internal/db"
	"github.com/example/allybot/internal/internaltypes"
)

// Giver is a member on the buff fulfiller roster.
type Giver struct {
	DiscordID string
	AddedBy   string
	CreatedAt time.Time
}

type Roster struct{ db *db.DB }

func NewRoster(d *db.DB) *Roster { return &Roster{db: d} }

// Add puts discordID on the roster. It reports false when already present.
func (r *Roster) Add(ctx context.Context, discordID, addedBy string) (bool, error) {
	if discordID == "" {
		return false, internaltypes.Invalid("discord id required")
	}
	n, err := r.db.Exec(ctx, `
INSERT INTO buff_givers(discord_id, added_by) VALUES ($1,$2)
ON CONFLICT (discord_id) DO NOTHING`, discordID, addedBy)
	if err != nil {
		return false, db.WrapNotFound(err)
	}
	return n > 0, nil
}

func (r *Roster) Remove(ctx context.Context, discordID string) (bool, error) {
	n, err := r.db.Exec(ctx, `DELETE FROM buff_givers WHERE discord_id=$1`, discordID)
	if err != nil {
		return false, db.WrapNotFound(err)
	}
	return n > 0, nil
}

func (r *Roster) List(ctx context.Context) ([]Giver, error) {
	rows, err := r.db.Query(ctx, `SELECT discord_id, added_by, created_at FROM buff_givers ORDER BY created_at ASC`)
	if err != nil {
		return nil, db.WrapNotFound(err)
	}
	defer rows.Close()

	var out []Giver
	for rows.Next() {
		var g Giver
		if err := rows.Scan(&g.DiscordID, &g.AddedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Fulfillers returns the roster ids; it feeds reminder fan-out.
func (r *Roster) Fulfillers(ctx context.Context) ([]string, error) {
	gs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(gs))
	for _, g := range gs {
		ids = append(ids, g.DiscordID)
	}
	return ids, nil
}
