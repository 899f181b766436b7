package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/example/allybot/internal/booking"
	"github.com/example/allybot/internal/calendar"
	"github.com/example/allybot/internal/event"
	"github.com/example/allybot/internal/internaltypes"
)

const interactionTimeout = 10 * time.Second

// Roster is the buff giver list.
type Roster interface {
	Add(ctx context.Context, discordID, addedBy string) (bool, error)
}

// Events stores scheduled events.
type Events interface {
	Create(ctx context.Context, e event.Event) (event.Event, error)
}

type boardPoster interface {
	Post(ctx context.Context, day time.Time) error
}

type Deps struct {
	Booking         *booking.Service
	Roster          Roster
	Events          Events
	Board           *Board
	GuildID         string
	AppID           string
	PrivilegedRoles []string
	FulfillerRole   string
	Log             *zap.Logger
}

// request is an interaction reduced to what handlers need.
type request struct {
	UserID     string
	Privileged bool
	Custom     CustomID
	Values     []string
	Options    map[string]*discordgo.ApplicationCommandInteractionDataOption
}

func (r request) option(name string) string {
	o, ok := r.Options[name]
	if !ok || o == nil {
		return ""
	}
	s, _ := o.Value.(string)
	return strings.TrimSpace(s)
}

type handlerFunc func(ctx context.Context, req request) (Reply, error)

// Bot wires gateway interactions to the booking service.
type Bot struct {
	session *discordgo.Session
	api     api

	booking       *booking.Service
	cal           *calendar.Engine
	roster        Roster
	events        Events
	board         boardPoster
	onReady       func(userID string)
	guildID       string
	appID         string
	privileged    []string
	fulfillerRole string
	log           *zap.Logger

	commands   map[string]handlerFunc
	components map[Action]handlerFunc

	mu        sync.RWMutex
	roleIDs   map[string]string // lower-cased role name -> id
	connected atomic.Bool
}

func New(s *discordgo.Session, d Deps) *Bot {
	b := newBot(s, d)
	b.session = s
	return b
}

func newBot(a api, d Deps) *Bot {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	b := &Bot{
		api:           a,
		booking:       d.Booking,
		cal:           d.Booking.Calendar(),
		roster:        d.Roster,
		events:        d.Events,
		guildID:       d.GuildID,
		appID:         d.AppID,
		privileged:    d.PrivilegedRoles,
		fulfillerRole: d.FulfillerRole,
		log:           d.Log.Named("discord"),
		roleIDs:       make(map[string]string),
	}
	if d.Board != nil {
		b.board = d.Board
		b.onReady = d.Board.SetSelf
	}
	b.commands = map[string]handlerFunc{
		cmdCalendar: b.cmdCalendar,
		cmdBoard:    b.cmdBoard,
		cmdAssign:   b.cmdAssign,
		cmdGiverAdd: b.cmdGiverAdd,
		cmdCancel:   b.cmdCancel,
		cmdMine:     b.myBookings,

		cmdEventCreate: b.cmdEventCreate,
	}
	b.components = map[Action]handlerFunc{
		ActionCalendarNav: b.compNav,
		ActionBookInit:    b.compBookInit,
		ActionBookType:    b.compBookType,
		ActionBookTime:    b.compBookTime,
		ActionCancel:      b.compCancel,
		ActionMyBookings:  b.myBookings,
	}
	return b
}

// Open connects to the gateway and registers the guild's slash commands.
func (b *Bot) Open() error {
	if b.session == nil {
		return errors.New("discord: no session")
	}
	b.session.Identify.Intents = discordgo.IntentsGuilds
	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.GuildRoleCreate) { b.reloadRoles() })
	b.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.GuildRoleUpdate) { b.reloadRoles() })
	b.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) { b.connected.Store(false) })
	b.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) { b.connected.Store(true) })

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	if _, err := b.api.ApplicationCommandBulkOverwrite(b.appID, b.guildID, Commands()); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	b.log.Info("slash commands registered", zap.Int("count", len(Commands())))
	return nil
}

func (b *Bot) Close() error {
	b.connected.Store(false)
	if b.session == nil {
		return nil
	}
	return b.session.Close()
}

// Run keeps the gateway open until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Open(); err != nil {
		return err
	}
	<-ctx.Done()
	if err := b.Close(); err != nil {
		b.log.Warn("discord close", zap.Error(err))
	}
	return ctx.Err()
}

func (b *Bot) Connected() bool { return b.connected.Load() }

func (b *Bot) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.connected.Store(true)
	if r.User != nil {
		if b.onReady != nil {
			b.onReady(r.User.ID)
		}
		b.log.Info("gateway ready", zap.String("user", r.User.Username))
	}
	b.reloadRoles()
}

func (b *Bot) reloadRoles() {
	roles, err := b.api.GuildRoles(b.guildID)
	if err != nil {
		b.log.Warn("load guild roles", zap.Error(err))
		return
	}
	b.setRoles(roles)
}

func (b *Bot) setRoles(roles []*discordgo.Role) {
	m := make(map[string]string, len(roles))
	for _, r := range roles {
		m[strings.ToLower(r.Name)] = r.ID
	}
	b.mu.Lock()
	b.roleIDs = m
	b.mu.Unlock()
}

func (b *Bot) roleID(name string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.roleIDs[strings.ToLower(name)]
	return id, ok
}

// isPrivileged reports whether any of memberRoles is a configured officer role.
func (b *Bot) isPrivileged(memberRoles []string) bool {
	for _, name := range b.privileged {
		id, ok := b.roleID(name)
		if !ok {
			continue
		}
		for _, r := range memberRoles {
			if r == id {
				return true
			}
		}
	}
	return false
}

// Discord shows "interaction failed" for anything left unanswered.
const staleComponent = "This button is no longer valid."

func (b *Bot) handleInteraction(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	b.handle(ic.Interaction)
}

func (b *Bot) handle(i *discordgo.Interaction) {
	if i.Member == nil || i.Member.User == nil {
		_ = b.respond(i, discordgo.InteractionResponseChannelMessageWithSource, "Use this command inside the server.")
		return
	}
	req := request{UserID: i.Member.User.ID, Privileged: b.isPrivileged(i.Member.Roles)}
	log := b.log.With(zap.String("user", req.UserID))

	var h handlerFunc
	deferType := discordgo.InteractionResponseDeferredChannelMessageWithSource

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		log = log.With(zap.String("command", data.Name))
		h = b.commands[data.Name]
		req.Options = make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options))
		for _, o := range data.Options {
			req.Options[o.Name] = o
		}
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		log = log.With(zap.String("component", data.CustomID))
		id, err := ParseCustomID(data.CustomID, b.cal.Location())
		if err != nil {
			log.Warn("unroutable component", zap.Error(err))
			_ = b.respond(i, discordgo.InteractionResponseChannelMessageWithSource, staleComponent)
			return
		}
		h = b.components[id.Action]
		req.Custom, req.Values = id, data.Values
		// ephemeral flows edit their own message; the public board spawns a private one
		if i.Message != nil && i.Message.Flags&discordgo.MessageFlagsEphemeral != 0 {
			deferType = discordgo.InteractionResponseDeferredMessageUpdate
		}
	default:
		return
	}
	if h == nil {
		log.Warn("no handler")
		msg := "Unknown command."
		if i.Type == discordgo.InteractionMessageComponent {
			msg = staleComponent
		}
		_ = b.respond(i, discordgo.InteractionResponseChannelMessageWithSource, msg)
		return
	}

	if err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: deferType,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		log.Error("defer interaction", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	reply, err := h(ctx, req)
	if err != nil {
		if isUserError(err) {
			log.Info("interaction rejected", zap.Error(err))
		} else {
			log.Error("interaction failed", zap.Error(err))
		}
		reply = ErrorReply(err)
	}

	if _, err := b.api.InteractionResponseEdit(i, &discordgo.WebhookEdit{
		Content:    &reply.Content,
		Embeds:     &reply.Embeds,
		Components: &reply.Components,
	}); err != nil {
		log.Error("edit interaction response", zap.Error(err))
	}
}

func (b *Bot) respond(i *discordgo.Interaction, t discordgo.InteractionResponseType, content string) error {
	return b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: t,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	})
}

func isUserError(err error) bool {
	return errors.Is(err, internaltypes.ErrInvalidInput) ||
		errors.Is(err, internaltypes.ErrSlotAlreadyBooked) ||
		errors.Is(err, internaltypes.ErrSlotNotFound) ||
		errors.Is(err, internaltypes.ErrUnauthorized)
}
