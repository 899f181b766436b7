package discord

import (
	"strconv"
	"strings"
	"time"

	"github.com/example/allybot/internal/calendar"
	"github.com/example/allybot/internal/internaltypes"
	"github.com/example/allybot/internal/slot"
)

// Action is the closed set of component interactions the bot understands.
type Action int

const (
	ActionUnknown Action = iota
	ActionCalendarNav
	ActionBookInit
	ActionBookType
	ActionBookTime
	ActionCancel
	ActionMyBookings
)

var actionPrefixes = map[Action]string{
	ActionCalendarNav: "buffcal_nav",
	ActionBookInit:    "buff_book_slot_init",
	ActionBookType:    "buff_book_type_select",
	ActionBookTime:    "buff_book_time_select",
	ActionCancel:      "buff_cancel",
	ActionMyBookings:  "buff_my_bookings",
}

var actionsByPrefix = func() map[string]Action {
	m := make(map[string]Action, len(actionPrefixes))
	for a, p := range actionPrefixes {
		m[p] = a
	}
	return m
}()

func (a Action) String() string {
	if p, ok := actionPrefixes[a]; ok {
		return p
	}
	return "unknown"
}

// CustomID is a decoded component custom id. Which fields are set depends on Action:
//
//	buffcal_nav:<date>, buff_book_slot_init:<date>, buff_book_type_select:<date>
//	buff_book_time_select:<category>
//	buff_cancel:<category>:<unix>
//	buff_my_bookings
type CustomID struct {
	Action   Action
	Date     time.Time
	Category slot.Category
	At       time.Time
}

func NavID(day time.Time) string { return CustomID{Action: ActionCalendarNav, Date: day}.String() }
func BookInitID(day time.Time) string { return CustomID{Action: ActionBookInit, Date: day}.String() }
func BookTypeID(day time.Time) string { return CustomID{Action: ActionBookType, Date: day}.String() }
func BookTimeID(c slot.Category) string { return CustomID{Action: ActionBookTime, Category: c}.String() }
func MyBookingsID() string { return CustomID{Action: ActionMyBookings}.String() }

func CancelID(c slot.Category, at time.Time) string {
	return CustomID{Action: ActionCancel, Category: c, At: at}.String()
}

func (c CustomID) String() string {
	p := c.Action.String()
	switch c.Action {
	case ActionCalendarNav, ActionBookInit, ActionBookType:
		return p + ":" + c.Date.Format(calendar.DateLayout)
	case ActionBookTime:
		return p + ":" + string(c.Category)
	case ActionCancel:
		return p + ":" + string(c.Category) + ":" + strconv.FormatInt(c.At.Unix(), 10)
	}
	return p
}

// ParseCustomID decodes s. Dates are read in loc.
func ParseCustomID(s string, loc *time.Location) (CustomID, error) {
	prefix, rest, _ := strings.Cut(s, ":")
	a, ok := actionsByPrefix[prefix]
	if !ok {
		return CustomID{}, internaltypes.Invalid("unknown component %q", s)
	}
	id := CustomID{Action: a}

	switch a {
	case ActionCalendarNav, ActionBookInit, ActionBookType:
		d, err := time.ParseInLocation(calendar.DateLayout, rest, loc)
		if err != nil {
			return CustomID{}, internaltypes.Invalid("component %q: bad date", s)
		}
		id.Date = d
	case ActionBookTime:
		c, err := slot.ParseCategory(rest)
		if err != nil {
			return CustomID{}, err
		}
		id.Category = c
	case ActionCancel:
		cat, unix, ok := strings.Cut(rest, ":")
		if !ok {
			return CustomID{}, internaltypes.Invalid("component %q: want category:unix", s)
		}
		c, err := slot.ParseCategory(cat)
		if err != nil {
			return CustomID{}, err
		}
		at, err := calendar.ParseValue(unix)
		if err != nil {
			return CustomID{}, err
		}
		id.Category, id.At = c, at
	case ActionMyBookings:
		if rest != "" {
			return CustomID{}, internaltypes.Invalid("component %q: unexpected argument", s)
		}
	}
	return id, nil
}
