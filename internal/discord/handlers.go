package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/example/allybot/internal/calendar"
	"github.com/example/allybot/internal/event"
	"github.com/example/allybot/internal/internaltypes"
	"github.com/example/allybot/internal/slot"
)

func (b *Bot) day(raw string) (time.Time, error) {
	if raw == "" {
		return b.cal.Today(), nil
	}
	return b.cal.ParseDate(raw)
}

func (b *Bot) calendarReply(ctx context.Context, day time.Time) (Reply, error) {
	days, err := loadDays(ctx, b.cal, day)
	if err != nil {
		return Reply{}, err
	}
	return CalendarReply(day, b.cal.Today(), days), nil
}

func (b *Bot) cmdCalendar(ctx context.Context, req request) (Reply, error) {
	day, err := b.day(req.option("date"))
	if err != nil {
		return Reply{}, err
	}
	return b.calendarReply(ctx, day)
}

func (b *Bot) cmdBoard(ctx context.Context, req request) (Reply, error) {
	if !req.Privileged {
		return Reply{}, internaltypes.ErrUnauthorized
	}
	if b.board == nil {
		return Reply{}, fmt.Errorf("board not configured")
	}
	day, err := b.day(req.option("date"))
	if err != nil {
		return Reply{}, err
	}
	if err := b.board.Post(ctx, day); err != nil {
		return Reply{}, err
	}
	return Success("Board updated", "The buff board now shows "+day.Format("Mon Jan 2")+"."), nil
}

func (b *Bot) cmdAssign(ctx context.Context, req request) (Reply, error) {
	if !req.Privileged {
		return Reply{}, internaltypes.ErrUnauthorized
	}
	c, err := slot.ParseCategory(req.option("category"))
	if err != nil {
		return Reply{}, err
	}
	at, err := b.cal.ParseSlot(req.option("slot"))
	if err != nil {
		return Reply{}, err
	}
	giver := req.option("giver")
	s, err := b.booking.AssignFulfiller(ctx, c, at, giver)
	if err != nil {
		return Reply{}, err
	}
	return Success("Giver assigned",
		fmt.Sprintf("%s will give the **%s** buff %s booked by %s.", mention(giver), c.Title(), stamp(s.At, "F"), mention(s.BookedBy))), nil
}

func (b *Bot) cmdGiverAdd(ctx context.Context, req request) (Reply, error) {
	if !req.Privileged {
		return Reply{}, internaltypes.ErrUnauthorized
	}
	target := req.option("target")
	if target == "" {
		return Reply{}, internaltypes.Invalid("target required")
	}
	roleID, ok := b.roleID(b.fulfillerRole)
	if !ok {
		return Reply{}, internaltypes.Invalid("role %s does not exist in this server", b.fulfillerRole)
	}
	if err := b.api.GuildMemberRoleAdd(b.guildID, target, roleID, discordgo.WithContext(ctx)); err != nil {
		return Reply{}, fmt.Errorf("add role: %w", err)
	}
	added, err := b.roster.Add(ctx, target, req.UserID)
	if err != nil {
		return Reply{}, err
	}
	b.log.Named("audit").Info("buff giver added", zap.String("target", target), zap.String("by", req.UserID), zap.Bool("new", added))
	if !added {
		return Notice("Action not needed", mention(target)+" is already a buff giver."), nil
	}
	return Success("Buff giver added", mention(target)+" now receives buff reminders."), nil
}

func (b *Bot) cmdEventCreate(ctx context.Context, req request) (Reply, error) {
	if !req.Privileged {
		return Reply{}, internaltypes.ErrUnauthorized
	}
	if b.events == nil {
		return Reply{}, fmt.Errorf("events not configured")
	}
	at, err := time.ParseInLocation(calendar.SlotLayout, req.option("time"), b.cal.Location())
	if err != nil {
		return Reply{}, internaltypes.Invalid("time %q, want YYYY-MM-DD HH:MM", req.option("time"))
	}
	if !at.After(b.cal.Now()) {
		return Reply{}, internaltypes.Invalid("event time must be in the future")
	}
	kind := event.ServerWide
	if raw := req.option("kind"); raw != "" {
		if kind, err = event.ParseKind(raw); err != nil {
			return Reply{}, err
		}
	}
	ev, err := b.events.Create(ctx, event.Event{
		Title:          req.option("title"),
		Description:    req.option("description"),
		Kind:           kind,
		AllianceTarget: req.option("alliance"),
		ChannelID:      req.option("channel"),
		At:             at,
		CreatedBy:      req.UserID,
		ImageURL:       req.option("image"),
	})
	if err != nil {
		return Reply{}, err
	}
	b.log.Named("audit").Info("event created", zap.String("event", ev.ID), zap.String("by", req.UserID))
	return Success("Event scheduled",
		fmt.Sprintf("**%s** %s. A reminder goes to <#%s> before it starts.", ev.Title, stamp(ev.At, "F"), ev.ChannelID)), nil
}

func (b *Bot) cmdCancel(ctx context.Context, req request) (Reply, error) {
	c, err := slot.ParseCategory(req.option("category"))
	if err != nil {
		return Reply{}, err
	}
	at, err := b.cal.ParseSlot(req.option("slot"))
	if err != nil {
		return Reply{}, err
	}
	return b.cancel(ctx, req, c, at)
}

func (b *Bot) myBookings(ctx context.Context, req request) (Reply, error) {
	slots, err := b.booking.ListByRequester(ctx, req.UserID)
	if err != nil {
		return Reply{}, err
	}
	return MyBookings(slots, b.cal.Location()), nil
}

func (b *Bot) compNav(ctx context.Context, req request) (Reply, error) {
	return b.calendarReply(ctx, req.Custom.Date)
}

func (b *Bot) compBookInit(_ context.Context, req request) (Reply, error) {
	if req.Custom.Date.Before(b.cal.Today()) {
		return Reply{}, internaltypes.Invalid("%s is in the past", req.Custom.Date.Format("Jan 2"))
	}
	return CategorySelect(req.Custom.Date), nil
}

func (b *Bot) compBookType(ctx context.Context, req request) (Reply, error) {
	if len(req.Values) == 0 {
		return Reply{}, internaltypes.Invalid("no buff selected")
	}
	c, err := slot.ParseCategory(req.Values[0])
	if err != nil {
		return Reply{}, err
	}
	return b.timeSelect(ctx, c, req.Custom.Date)
}

func (b *Bot) timeSelect(ctx context.Context, c slot.Category, day time.Time) (Reply, error) {
	seq, err := b.cal.FutureSlots(ctx, c, day)
	if err != nil {
		return Reply{}, err
	}
	var opts []calendar.Option
	for o := range seq {
		opts = append(opts, o)
	}
	return TimeSelect(c, day, opts), nil
}

func (b *Bot) compBookTime(ctx context.Context, req request) (Reply, error) {
	if len(req.Values) == 0 {
		return Reply{}, internaltypes.Invalid("no hour selected")
	}
	at, err := calendar.ParseValue(req.Values[0])
	if err != nil {
		return Reply{}, err
	}
	s, err := b.booking.Book(ctx, req.Custom.Category, at, req.UserID)
	if errors.Is(err, internaltypes.ErrSlotAlreadyBooked) {
		// offer what is still free instead of a dead end
		r, rerr := b.timeSelect(ctx, req.Custom.Category, b.cal.Day(at))
		if rerr != nil {
			return Reply{}, err
		}
		r.Content = "That slot was just taken. Pick another time.\n" + r.Content
		return r, nil
	}
	if err != nil {
		return Reply{}, err
	}
	return BookedReply(s, b.cal.Location()), nil
}

func (b *Bot) compCancel(ctx context.Context, req request) (Reply, error) {
	return b.cancel(ctx, req, req.Custom.Category, req.Custom.At)
}

func (b *Bot) cancel(ctx context.Context, req request, c slot.Category, at time.Time) (Reply, error) {
	ok, err := b.booking.Cancel(ctx, c, at, req.UserID, req.Privileged)
	if err != nil {
		return Reply{}, err
	}
	when := at.In(b.cal.Location()).Format("2006-01-02 15:04 MST")
	if !ok {
		return Notice("Nothing cancelled", fmt.Sprintf("No %s booking of yours exists at %s.", c.Title(), when)), nil
	}
	return Success("Booking cancelled", fmt.Sprintf("The %s buff at %s is free again.", c.Title(), when)), nil
}
