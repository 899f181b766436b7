package member

import (
	"context"
	"strings"
	"time"

	"github.com/example/allybot/internal/db"
	"github.com/example/allybot/internal/internaltypes"
)

type Rank string

const (
	R1 Rank = "R1"
	R2 Rank = "R2"
	R3 Rank = "R3"
	R4 Rank = "R4"
	R5 Rank = "R5"
)

func ParseRank(s string) (Rank, error) {
	r := Rank(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case R1, R2, R3, R4, R5:
		return r, nil
	}
	return "", internaltypes.Invalid("unknown rank %q", s)
}

type Status string

const (
	Onboarding Status = "onboarding"
	Pending    Status = "pending"
	Approved   Status = "approved"
	Denied     Status = "denied"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case Onboarding, Pending, Approved, Denied:
		return st, nil
	}
	return "", internaltypes.Invalid("unknown status %q", s)
}

type Member struct {
	DiscordID  string
	InGameName string
	Server     string
	Rank       Rank
	Alliance   string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (m Member) Validate() error {
	if m.DiscordID == "" {
		return internaltypes.Invalid("discord id required")
	}
	if strings.TrimSpace(m.InGameName) == "" {
		return internaltypes.Invalid("in-game name required")
	}
	if strings.TrimSpace(m.Server) == "" {
		return internaltypes.Invalid("server required")
	}
	if _, err := ParseRank(string(m.Rank)); err != nil {
		return err
	}
	if strings.TrimSpace(m.Alliance) == "" {
		return internaltypes.Invalid("alliance required")
	}
	return nil
}

// CanBook is true for every registration that has not been denied.
func (m Member) CanBook() bool { return m.Status != Denied }

const memberColumns = `discord_id,in_game_name,server,rank,alliance,status,created_at,updated_at`

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

// Register inserts or refreshes a registration.
func (r *Repo) Register(ctx context.Context, m Member) (Member, error) {
	if err := m.Validate(); err != nil {
		return Member{}, err
	}
	if m.Status == "" {
		m.Status = Pending
	}
	row := r.db.QueryRow(ctx, `
INSERT INTO members(discord_id,in_game_name,server,rank,alliance,status)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (discord_id) DO UPDATE
SET in_game_name=EXCLUDED.in_game_name, server=EXCLUDED.server, rank=EXCLUDED.rank,
    alliance=EXCLUDED.alliance, status=EXCLUDED.status, updated_at=now()
RETURNING `+memberColumns,
		m.DiscordID, m.InGameName, m.Server, string(m.Rank), m.Alliance, string(m.Status))
	out, err := scanMember(row)
	if err != nil {
		return Member{}, db.WrapNotFound(err)
	}
	return out, nil
}

func (r *Repo) Get(ctx context.Context, discordID string) (Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE discord_id=$1`, discordID))
	if err != nil {
		if db.IsNotFound(err) {
			return Member{}, internaltypes.ErrNotFound
		}
		return Member{}, db.WrapNotFound(err)
	}
	return m, nil
}

func (r *Repo) IsRegistered(ctx context.Context, discordID string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM members WHERE discord_id=$1 AND status <> 'denied')`, discordID).Scan(&ok)
	if err != nil {
		return false, db.WrapNotFound(err)
	}
	return ok, nil
}

func (r *Repo) SetStatus(ctx context.Context, discordID string, st Status) error {
	n, err := r.db.Exec(ctx, `UPDATE members SET status=$2, updated_at=now() WHERE discord_id=$1`, discordID, string(st))
	if err != nil {
		return db.WrapNotFound(err)
	}
	if n == 0 {
		return internaltypes.ErrNotFound
	}
	return nil
}

func (r *Repo) List(ctx context.Context) ([]Member, error) {
	rows, err := r.db.Query(ctx, `SELECT `+memberColumns+` FROM members ORDER BY created_at ASC`)
	if err != nil {
		return nil, db.WrapNotFound(err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMember(row db.Row) (Member, error) {
	var m Member
	var rank, status string
	if err := row.Scan(&m.DiscordID, &m.InGameName, &m.Server, &rank, &m.Alliance, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Member{}, err
	}
	m.Rank = Rank(rank)
	m.Status = Status(status)
	return m, nil
}
