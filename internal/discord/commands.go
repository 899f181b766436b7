package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/example/allybot/internal/event"
	"github.com/example/allybot/internal/slot"
)

const (
	cmdCalendar = "buff-calendar"
	cmdBoard    = "buff-board"
	cmdAssign   = "buff-schedule-assign"
	cmdGiverAdd = "buff-giver-add"
	cmdCancel   = "buff-cancel"
	cmdMine     = "buff-mine"

	cmdEventCreate = "event-create"
)

func categoryOption(required bool) *discordgo.ApplicationCommandOption {
	o := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "category",
		Description: "Buff category",
		Required:    required,
	}
	for _, c := range slot.Categories {
		o.Choices = append(o.Choices, &discordgo.ApplicationCommandOptionChoice{Name: c.Title(), Value: string(c)})
	}
	return o
}

func dateOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "date",
		Description: "Day to show (YYYY-MM-DD), today if empty",
	}
}

func slotOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "slot",
		Description: "Slot start (YYYY-MM-DD HH:00)",
		Required:    true,
	}
}

// Commands is the slash command set registered for the guild.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdCalendar,
			Description: "Show the buff calendar and book a slot",
			Options:     []*discordgo.ApplicationCommandOption{dateOption()},
		},
		{
			Name:        cmdBoard,
			Description: "Post or move the public buff board (officers)",
			Options:     []*discordgo.ApplicationCommandOption{dateOption()},
		},
		{
			Name:        cmdAssign,
			Description: "Assign a buff giver to a booked slot (officers)",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "giver", Description: "Who gives the buff", Required: true},
				categoryOption(true),
				slotOption(),
			},
		},
		{
			Name:        cmdGiverAdd,
			Description: "Add a member to the buff giver roster (officers)",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "target", Description: "The member to add", Required: true},
			},
		},
		{
			Name:        cmdCancel,
			Description: "Cancel a buff booking",
			Options:     []*discordgo.ApplicationCommandOption{categoryOption(true), slotOption()},
		},
		{
			Name:        cmdMine,
			Description: "List your upcoming buff bookings",
		},
		{
			Name:        cmdEventCreate,
			Description: "Schedule an event reminder (officers)",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "title", Description: "Event title", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "time", Description: "Start (YYYY-MM-DD HH:MM)", Required: true},
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Where the reminder is posted",
					Required:     true,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "kind",
					Description: "Who the event is for",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Server-wide", Value: string(event.ServerWide)},
						{Name: "Alliance-specific", Value: string(event.AllianceSpecific)},
					},
				},
				{Type: discordgo.ApplicationCommandOptionString, Name: "alliance", Description: "Target alliance for alliance-specific events"},
				{Type: discordgo.ApplicationCommandOptionString, Name: "description", Description: "Details shown in the reminder"},
				{Type: discordgo.ApplicationCommandOptionString, Name: "image", Description: "Image url"},
			},
		},
	}
}
