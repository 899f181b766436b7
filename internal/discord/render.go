package discord

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/example/allybot/internal/calendar"
	"github.com/example/allybot/internal/event"
	"github.com/example/allybot/internal/internaltypes"
	"github.com/example/allybot/internal/slot"
)

const (
	colorInfo  = 0x5865f2
	colorOK    = 0x57f287
	colorWarn  = 0xfee75c
	colorError = 0xed4245
	colorEvent = 0xffd700

	// BoardTitlePrefix marks the calendar embed; the date follows it.
	BoardTitlePrefix = "Buff Calendar "

	maxButtonRows   = 5
	buttonsPerRow   = 5
	maxCancelButton = maxButtonRows * buttonsPerRow
)

// Reply is what a handler wants shown to the user.
type Reply struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

func Text(format string, args ...any) Reply {
	return Reply{Content: fmt.Sprintf(format, args...)}
}

// CategoryDay is one category's grid for the rendered day.
type CategoryDay struct {
	Category slot.Category
	Entries  []calendar.Entry
}

func mention(id string) string { return "<@" + id + ">" }

// stamp renders a Discord timestamp that every client shows in its own zone.
func stamp(t time.Time, style string) string {
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}

func DayEmbed(day time.Time, days []CategoryDay) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:  BoardTitlePrefix + day.Format(calendar.DateLayout),
		Color:  colorInfo,
		Footer: &discordgo.MessageEmbedFooter{Text: "Hours are in " + day.Location().String()},
	}
	for _, cd := range days {
		var lines []string
		booked := 0
		for _, en := range cd.Entries {
			if en.Status != calendar.Booked || en.Booking == nil {
				continue
			}
			booked++
			line := fmt.Sprintf("`%s` %s", en.Start.Format("15:04"), mention(en.Booking.BookedBy))
			if f := en.Booking.FulfillerID(); f != "" {
				line += " · giver " + mention(f)
			}
			lines = append(lines, line)
		}
		value := "No bookings"
		if len(lines) > 0 {
			value = strings.Join(lines, "\n")
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%s (%d booked, %d free)", cd.Category.Title(), booked, len(cd.Entries)-booked),
			Value: value,
		})
	}
	return e
}

// DayFromTitle recovers the date shown by a calendar embed.
func DayFromTitle(title string, loc *time.Location) (time.Time, bool) {
	rest, ok := strings.CutPrefix(title, BoardTitlePrefix)
	if !ok {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(calendar.DateLayout, rest, loc)
	return d, err == nil
}

func NavComponents(day, today time.Time) []discordgo.MessageComponent {
	prev, next := day.AddDate(0, 0, -1), day.AddDate(0, 0, 1)
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "◀ " + prev.Format("Jan 2"), Style: discordgo.SecondaryButton, CustomID: NavID(prev), Disabled: prev.Before(today)},
			discordgo.Button{Label: next.Format("Jan 2") + " ▶", Style: discordgo.SecondaryButton, CustomID: NavID(next)},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "Book a slot", Style: discordgo.PrimaryButton, CustomID: BookInitID(day), Disabled: day.Before(today)},
			discordgo.Button{Label: "My bookings", Style: discordgo.SecondaryButton, CustomID: MyBookingsID()},
		}},
	}
}

func CalendarReply(day, today time.Time, days []CategoryDay) Reply {
	return Reply{
		Embeds:     []*discordgo.MessageEmbed{DayEmbed(day, days)},
		Components: NavComponents(day, today),
	}
}

func CategorySelect(day time.Time) Reply {
	opts := make([]discordgo.SelectMenuOption, 0, len(slot.Categories))
	for _, c := range slot.Categories {
		opts = append(opts, discordgo.SelectMenuOption{Label: c.Title(), Value: string(c)})
	}
	return Reply{
		Content: "Which buff do you want on " + day.Format("Mon Jan 2") + "?",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    BookTypeID(day),
					Placeholder: "Choose a buff",
					Options:     opts,
				},
			}},
		},
	}
}

// TimeSelect offers the free hours. Discord caps a menu at 25 options, which a day never exceeds.
func TimeSelect(c slot.Category, day time.Time, opts []calendar.Option) Reply {
	if len(opts) == 0 {
		return Text("No free %s hours left on %s. Try another day.", c.Title(), day.Format(calendar.DateLayout))
	}
	menu := make([]discordgo.SelectMenuOption, 0, len(opts))
	for _, o := range opts {
		menu = append(menu, discordgo.SelectMenuOption{Label: o.Label, Value: o.Value})
	}
	return Reply{
		Content: fmt.Sprintf("Pick a %s hour on %s.", c.Title(), day.Format(calendar.DateLayout)),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    BookTimeID(c),
					Placeholder: "Choose an hour",
					Options:     menu,
				},
			}},
		},
	}
}

func BookedReply(s slot.Slot, loc *time.Location) Reply {
	return Reply{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       s.Category.Title() + " buff booked",
			Description: fmt.Sprintf("%s (%s)\nYou will get a DM before it starts.", s.At.In(loc).Format(calendar.SlotLayout+" MST"), stamp(s.At, "R")),
			Color:       colorOK,
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Cancel booking", Style: discordgo.DangerButton, CustomID: CancelID(s.Category, s.At)},
			}},
		},
	}
}

// MyBookings lists upcoming bookings with a cancel button each.
func MyBookings(slots []slot.Slot, loc *time.Location) Reply {
	if len(slots) == 0 {
		return Text("You have no upcoming buff bookings.")
	}
	var lines []string
	var row []discordgo.MessageComponent
	var rows []discordgo.MessageComponent
	for i, s := range slots {
		lines = append(lines, fmt.Sprintf("**%s** %s", s.Category.Title(), stamp(s.At, "F")))
		if i >= maxCancelButton {
			continue
		}
		row = append(row, discordgo.Button{
			Label:    "Cancel " + s.Category.Title() + " " + s.At.In(loc).Format("01-02 15:04"),
			Style:    discordgo.DangerButton,
			CustomID: CancelID(s.Category, s.At),
		})
		if len(row) == buttonsPerRow {
			rows = append(rows, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, discordgo.ActionsRow{Components: row})
	}
	return Reply{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Your buff bookings",
			Description: strings.Join(lines, "\n"),
			Color:       colorInfo,
		}},
		Components: rows,
	}
}

func Success(title, desc string) Reply {
	return Reply{Embeds: []*discordgo.MessageEmbed{{Title: title, Description: desc, Color: colorOK}}}
}

func Notice(title, desc string) Reply {
	return Reply{Embeds: []*discordgo.MessageEmbed{{Title: title, Description: desc, Color: colorWarn}}}
}

// ReminderText is the DM sent before a buff slot starts.
func ReminderText(s slot.Slot, lead time.Duration) string {
	msg := fmt.Sprintf("⏰ **%s** buff starts %s (%s), booked by %s.",
		s.Category.Title(), stamp(s.At, "R"), stamp(s.At, "t"), mention(s.BookedBy))
	if f := s.FulfillerID(); f != "" {
		msg += " Giver: " + mention(f) + "."
	}
	if lead > 0 {
		msg += fmt.Sprintf(" (%d minute reminder)", int(lead.Minutes()))
	}
	return msg
}

func EventReminderMessage(e event.Event) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       "⏰ Event Reminder: " + e.Title,
		Description: "Starting " + stamp(e.At, "R") + ". Get ready!",
		Color:       colorEvent,
		Timestamp:   e.At.UTC().Format(time.RFC3339),
	}
	if e.Description != "" {
		embed.Fields = []*discordgo.MessageEmbedField{{Name: "Details", Value: e.Description}}
	}
	if e.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	return &discordgo.MessageSend{
		Content:         "@everyone",
		Embeds:          []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeEveryone}},
	}
}

// ErrorReply turns a service error into something safe to show a member.
func ErrorReply(err error) Reply {
	var msg string
	switch {
	case errors.Is(err, internaltypes.ErrSlotAlreadyBooked):
		msg = "That slot was just taken. Pick another time."
	case errors.Is(err, internaltypes.ErrNotRegistered):
		msg = "You must be registered to book a slot."
	case errors.Is(err, internaltypes.ErrSlotNotFound):
		msg = "There is no booking for that slot."
	case errors.Is(err, internaltypes.ErrUnauthorized):
		msg = "You need an officer role to do that."
	case errors.Is(err, internaltypes.ErrInvalidInput):
		msg = strings.TrimPrefix(err.Error(), internaltypes.ErrInvalidInput.Error()+": ")
		msg = "Invalid input: " + msg + "."
	default:
		msg = "Something went wrong. Please try again in a moment."
	}
	return Reply{Embeds: []*discordgo.MessageEmbed{{Description: msg, Color: colorError}}}
}
