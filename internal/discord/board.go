package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/example/allybot/internal/calendar"
	"github.com/example/allybot/internal/internaltypes"
	"github.com/example/allybot/internal/slot"
)

// Board is the public calendar message in the buff channel. The bot keeps a
// single board and edits it in place.
type Board struct {
	api     api
	cal     *calendar.Engine
	guildID string
	channel string
	log     *zap.Logger

	mu        sync.Mutex
	selfID    string
	channelID string
	messageID string
	day       time.Time
}

func NewBoard(a api, cal *calendar.Engine, guildID, channelName string, log *zap.Logger) *Board {
	return &Board{api: a, cal: cal, guildID: guildID, channel: channelName, log: log.Named("board")}
}

// SetSelf records the bot's user id once the gateway is ready.
func (b *Board) SetSelf(userID string) {
	b.mu.Lock()
	b.selfID = userID
	b.mu.Unlock()
}

// Refresh re-renders the board when it is showing day. Any other day, or no
// board at all, is left alone.
func (b *Board) Refresh(ctx context.Context, day time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.locateLocked(ctx); err != nil {
		return err
	}
	if b.messageID == "" || !b.day.Equal(b.cal.Day(day)) {
		return nil
	}
	return b.renderLocked(ctx, b.day)
}

// Post shows day on the board, creating the message if there is none.
func (b *Board) Post(ctx context.Context, day time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.locateLocked(ctx); err != nil {
		return err
	}
	return b.renderLocked(ctx, b.cal.Day(day))
}

// Roll moves a board that still shows a past day forward to today.
func (b *Board) Roll(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.locateLocked(ctx); err != nil {
		return err
	}
	today := b.cal.Today()
	if b.messageID == "" || !b.day.Before(today) {
		return nil
	}
	return b.renderLocked(ctx, today)
}

func (b *Board) renderLocked(ctx context.Context, day time.Time) error {
	days, err := loadDays(ctx, b.cal, day)
	if err != nil {
		return err
	}
	embed := DayEmbed(day, days)
	comps := NavComponents(day, b.cal.Today())

	if b.messageID != "" {
		embeds := []*discordgo.MessageEmbed{embed}
		_, err := b.api.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:         b.messageID,
			Channel:    b.channelID,
			Embeds:     &embeds,
			Components: &comps,
		}, discordgo.WithContext(ctx))
		if err == nil {
			b.day = day
			return nil
		}
		b.log.Warn("edit board failed, posting a new one", zap.String("message", b.messageID), zap.Error(err))
		b.messageID = ""
	}

	m, err := b.api.ChannelMessageSendComplex(b.channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: comps,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("post board: %w", err)
	}
	b.messageID, b.day = m.ID, day
	return nil
}

// locateLocked finds the buff channel and the bot's last board message in it.
func (b *Board) locateLocked(ctx context.Context) error {
	if b.channelID == "" {
		chans, err := b.api.GuildChannels(b.guildID, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("list channels: %w", err)
		}
		for _, c := range chans {
			if c.Type == discordgo.ChannelTypeGuildText && strings.EqualFold(c.Name, b.channel) {
				b.channelID = c.ID
				break
			}
		}
		if b.channelID == "" {
			return fmt.Errorf("%w: channel #%s", internaltypes.ErrNotFound, b.channel)
		}
	}
	if b.messageID != "" || b.selfID == "" {
		return nil
	}

	msgs, err := b.api.ChannelMessages(b.channelID, 50, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("scan board channel: %w", err)
	}
	// newest first
	for _, m := range msgs {
		if m.Author == nil || m.Author.ID != b.selfID || len(m.Embeds) == 0 {
			continue
		}
		if d, ok := DayFromTitle(m.Embeds[0].Title, b.cal.Location()); ok {
			b.messageID, b.day = m.ID, d
			return nil
		}
	}
	return nil
}

// loadDays builds every category's grid for day.
func loadDays(ctx context.Context, cal *calendar.Engine, day time.Time) ([]CategoryDay, error) {
	out := make([]CategoryDay, 0, len(slot.Categories))
	for _, c := range slot.Categories {
		entries, err := cal.DaySchedule(ctx, c, day)
		if err != nil {
			return nil, err
		}
		out = append(out, CategoryDay{Category: c, Entries: entries})
	}
	return out, nil
}
