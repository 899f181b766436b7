package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/allybot/internal/clock"
)

// Poster announces an upcoming event in its channel.
type Poster interface {
	PostEventReminder(ctx context.Context, e Event) error
}

// Reminder is the periodic job that announces events starting within Lead.
type Reminder struct {
	Store  Store
	Poster Poster
	Clock  clock.Clock
	Lead   time.Duration
	Log    *zap.Logger
}

// Run posts every due reminder once. An event whose channel is gone is marked
// sent so it does not come back on every tick.
func (r *Reminder) Run(ctx context.Context) error {
	now := r.Clock.Now()
	due, err := r.Store.Due(ctx, now, now.Add(r.Lead))
	if err != nil {
		return fmt.Errorf("due events: %w", err)
	}

	var errs []error
	for _, e := range due {
		log := r.Log.With(zap.String("event_id", e.ID), zap.String("title", e.Title))
		err := r.Poster.PostEventReminder(ctx, e)
		switch {
		case err == nil:
			log.Info("event reminder posted", zap.String("channel", e.ChannelID))
		case errors.Is(err, ErrChannelGone):
			log.Warn("event channel gone, skipping reminder", zap.String("channel", e.ChannelID))
		default:
			log.Error("post event reminder", zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if err := r.Store.MarkReminderSent(ctx, e.ID); err != nil {
			errs = append(errs, fmt.Errorf("mark event %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}
