package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/example/allybot/internal/booking"
	"github.com/example/allybot/internal/calendar"
	"github.com/example/allybot/internal/clock/clocktest"
	"github.com/example/allybot/internal/event"
	"github.com/example/allybot/internal/slot"
	"github.com/example/allybot/internal/slot/slottest"
)

type registry map[string]bool

func (r registry) IsRegistered(_ context.Context, id string) (bool, error) { return r[id], nil }

type roster struct {
	mu    sync.Mutex
	added map[string]string
}

func (r *roster) Add(_ context.Context, id, by string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.added[id]; ok {
		return false, nil
	}
	r.added[id] = by
	return true, nil
}

type events struct {
	mu      sync.Mutex
	created []event.Event
}

func (e *events) Create(_ context.Context, ev event.Event) (event.Event, error) {
	if err := ev.Validate(); err != nil {
		return event.Event{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ev.ID = fmt.Sprintf("ev%d", len(e.created)+1)
	e.created = append(e.created, ev)
	return ev, nil
}

type harness struct {
	bot    *Bot
	api    *fakeAPI
	store  *slottest.Store
	roster *roster
	events *events
}

func newHarness(t *testing.T) harness {
	t.Helper()
	f := newFakeAPI()
	store := slottest.New()
	clk := clocktest.New(day.Add(9 * time.Hour))
	svc := booking.New(booking.Deps{
		Store:    store,
		Calendar: calendar.New(store, clk, time.UTC),
		Registry: registry{"alice": true, "bob": true, "officer": true},
		Clock:    clk,
		Log:      zap.NewNop(),
	})
	r := &roster{added: make(map[string]string)}
	ev := &events{}
	b := newBot(f, Deps{
		Booking:         svc,
		Roster:          r,
		Events:          ev,
		GuildID:         "guild",
		PrivilegedRoles: []string{"R4", "R5"},
		FulfillerRole:   "BUFF_GIVER",
		Log:             zap.NewNop(),
	})
	b.setRoles([]*discordgo.Role{
		{ID: "role-r4", Name: "R4"},
		{ID: "role-r5", Name: "r5"},
		{ID: "role-giver", Name: "Buff_Giver"},
	})
	return harness{bot: b, api: f, store: store, roster: r, events: ev}
}

func component(user, customID string, ephemeral bool, values ...string) *discordgo.Interaction {
	i := &discordgo.Interaction{
		Type:   discordgo.InteractionMessageComponent,
		Member: &discordgo.Member{User: &discordgo.User{ID: user}},
		Data:   discordgo.MessageComponentInteractionData{CustomID: customID, Values: values},
	}
	if ephemeral {
		i.Message = &discordgo.Message{Flags: discordgo.MessageFlagsEphemeral}
	}
	return i
}

func command(user string, roles []string, name string, opts map[string]string) *discordgo.Interaction {
	data := discordgo.ApplicationCommandInteractionData{Name: name}
	for k, v := range opts {
		data.Options = append(data.Options, &discordgo.ApplicationCommandInteractionDataOption{
			Name: k, Type: discordgo.ApplicationCommandOptionString, Value: v,
		})
	}
	return &discordgo.Interaction{
		Type:   discordgo.InteractionApplicationCommand,
		Member: &discordgo.Member{User: &discordgo.User{ID: user}, Roles: roles},
		Data:   data,
	}
}

func selectOptions(t *testing.T, r *discordgo.WebhookEdit) []discordgo.SelectMenuOption {
	t.Helper()
	if r == nil || r.Components == nil || len(*r.Components) == 0 {
		t.Fatal("response has no components")
	}
	row, ok := (*r.Components)[0].(discordgo.ActionsRow)
	if !ok || len(row.Components) == 0 {
		t.Fatal("first component is not a populated row")
	}
	menu, ok := row.Components[0].(discordgo.SelectMenu)
	if !ok {
		t.Fatalf("expected a select menu, got %T", row.Components[0])
	}
	return menu.Options
}

func description(r *discordgo.WebhookEdit) string {
	if r == nil || r.Embeds == nil || len(*r.Embeds) == 0 {
		return ""
	}
	e := (*r.Embeds)[0]
	return e.Title + " " + e.Description
}

func TestBookingFlow(t *testing.T) {
	h := newHarness(t)

	// the public board spawns a private reply
	h.bot.handle(component("alice", BookInitID(day), false))
	if got := h.api.lastRespond().Type; got != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Fatalf("defer type = %v", got)
	}
	if opts := selectOptions(t, h.api.lastResponse()); len(opts) != len(slot.Categories) {
		t.Fatalf("expected a category per option, got %d", len(opts))
	}

	h.bot.handle(component("alice", BookTypeID(day), true, "research"))
	if got := h.api.lastRespond().Type; got != discordgo.InteractionResponseDeferredMessageUpdate {
		t.Fatalf("ephemeral follow-up defer type = %v", got)
	}
	opts := selectOptions(t, h.api.lastResponse())
	if len(opts) != 14 || opts[0].Label != "10:00 UTC" {
		t.Fatalf("expected hours 10..23, got %d starting %q", len(opts), opts[0].Label)
	}

	h.bot.handle(component("alice", BookTimeID(slot.Research), true, "1750255200"))
	if got := description(h.api.lastResponse()); !strings.Contains(got, "Research buff booked") {
		t.Fatalf("unexpected booking reply %q", got)
	}
	if h.store.Len() != 1 {
		t.Fatalf("expected one stored slot, got %d", h.store.Len())
	}

	h.bot.handle(component("bob", BookTimeID(slot.Research), true, "1750255200"))
	r := h.api.lastResponse()
	if !strings.HasPrefix(*r.Content, "That slot was just taken.") {
		t.Errorf("loser content = %q", *r.Content)
	}
	if opts := selectOptions(t, r); len(opts) != 13 {
		t.Errorf("expected 13 remaining hours, got %d", len(opts))
	}
}

func TestCancelButton(t *testing.T) {
	h := newHarness(t)
	at := day.Add(14 * time.Hour)
	h.store.Put(slot.Slot{Category: slot.Training, At: at, BookedBy: "alice"})

	h.bot.handle(component("bob", CancelID(slot.Training, at), true))
	if got := description(h.api.lastResponse()); !strings.Contains(got, "Nothing cancelled") {
		t.Errorf("non-owner cancel reply %q", got)
	}
	if h.store.Len() != 1 {
		t.Fatal("non-owner removed the booking")
	}

	h.bot.handle(component("alice", CancelID(slot.Training, at), true))
	if got := description(h.api.lastResponse()); !strings.Contains(got, "Booking cancelled") {
		t.Errorf("owner cancel reply %q", got)
	}
	if h.store.Len() != 0 {
		t.Error("booking still stored")
	}
}

func TestPrivilegedCommands(t *testing.T) {
	h := newHarness(t)
	h.store.Put(slot.Slot{Category: slot.Building, At: day.Add(15 * time.Hour), BookedBy: "alice"})
	opts := map[string]string{"giver": "giver1", "category": "building", "slot": "2025-06-18 15:00"}

	h.bot.handle(command("alice", nil, cmdAssign, opts))
	if got := description(h.api.lastResponse()); !strings.Contains(got, "officer role") {
		t.Errorf("member assign reply %q", got)
	}

	h.bot.handle(command("officer", []string{"role-r5"}, cmdAssign, opts))
	if got := description(h.api.lastResponse()); !strings.Contains(got, "Giver assigned") {
		t.Fatalf("officer assign reply %q", got)
	}
	s, err := h.store.Get(context.Background(), slot.NewKey(slot.Building, day.Add(15*time.Hour)))
	if err != nil || s.FulfillerID() != "giver1" {
		t.Errorf("fulfiller = %q, %v", s.FulfillerID(), err)
	}
}

func TestGiverAdd(t *testing.T) {
	h := newHarness(t)
	add := command("officer", []string{"role-r4"}, cmdGiverAdd, map[string]string{"target": "giver1"})

	h.bot.handle(add)
	if len(h.api.roleAdds) != 1 || h.api.roleAdds[0] != "giver1/role-giver" {
		t.Errorf("role adds = %v", h.api.roleAdds)
	}
	if h.roster.added["giver1"] != "officer" {
		t.Errorf("roster = %v", h.roster.added)
	}

	h.bot.handle(add)
	if got := description(h.api.lastResponse()); !strings.Contains(got, "already a buff giver") {
		t.Errorf("repeat add reply %q", got)
	}
}

func TestEventCreate(t *testing.T) {
	officer := []string{"role-r4"}
	tests := []struct {
		name  string
		user  string
		roles []string
		opts  map[string]string
		reply string
	}{
		{"member", "alice", nil, map[string]string{"title": "Siege", "time": "2025-06-18 20:00", "channel": "general"}, "officer role"},
		{"bad time", "officer", officer, map[string]string{"title": "Siege", "time": "tonight", "channel": "general"}, "Invalid input"},
		{"past", "officer", officer, map[string]string{"title": "Siege", "time": "2025-06-18 08:00", "channel": "general"}, "in the future"},
		{"alliance without target", "officer", officer, map[string]string{"title": "Siege", "time": "2025-06-18 20:00", "channel": "general", "kind": "alliance-specific"}, "need an alliance"},
		{"created", "officer", officer, map[string]string{"title": "Siege", "time": "2025-06-18 20:00", "channel": "general", "kind": "alliance-specific", "alliance": "ABC", "description": "bring shields"}, "Event scheduled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.bot.handle(command(tt.user, tt.roles, cmdEventCreate, tt.opts))
			if got := description(h.api.lastResponse()); !strings.Contains(got, tt.reply) {
				t.Fatalf("reply %q, want %q", got, tt.reply)
			}
			if tt.reply != "Event scheduled" {
				if len(h.events.created) != 0 {
					t.Errorf("rejected request stored %v", h.events.created)
				}
				return
			}
			if len(h.events.created) != 1 {
				t.Fatalf("created = %v", h.events.created)
			}
			ev := h.events.created[0]
			want := event.Event{
				ID:             "ev1",
				Title:          "Siege",
				Description:    "bring shields",
				Kind:           event.AllianceSpecific,
				AllianceTarget: "ABC",
				ChannelID:      "general",
				At:             day.Add(20 * time.Hour),
				CreatedBy:      "officer",
			}
			if !ev.At.Equal(want.At) {
				t.Errorf("at = %s, want %s", ev.At, want.At)
			}
			ev.At = want.At
			if ev != want {
				t.Errorf("event = %+v, want %+v", ev, want)
			}
		})
	}
}

func TestInvalidSlotOption(t *testing.T) {
	h := newHarness(t)
	h.bot.handle(command("alice", nil, cmdCancel, map[string]string{"category": "research", "slot": "2025-06-18 14:30"}))
	if got := description(h.api.lastResponse()); !strings.Contains(got, "Invalid input") {
		t.Errorf("reply %q", got)
	}
}

func TestUnknownComponentAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.bot.handle(component("alice", "somebody_elses_button", false))
	if len(h.api.responds) != 1 {
		t.Fatalf("expected one response, got %d", len(h.api.responds))
	}
	r := h.api.lastRespond()
	if r.Type != discordgo.InteractionResponseChannelMessageWithSource || !strings.Contains(r.Data.Content, "no longer valid") {
		t.Errorf("unexpected respond %+v", r)
	}
	if r.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Error("stale button reply should be ephemeral")
	}
	if len(h.api.edits) != 0 {
		t.Errorf("expected no edits, got %d", len(h.api.edits))
	}
}

func TestNoMemberGetsPlainReply(t *testing.T) {
	h := newHarness(t)
	h.bot.handle(&discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		User: &discordgo.User{ID: "alice"},
		Data: discordgo.ApplicationCommandInteractionData{Name: cmdCalendar},
	})
	r := h.api.lastRespond()
	if r == nil || r.Type != discordgo.InteractionResponseChannelMessageWithSource || !strings.Contains(r.Data.Content, "inside the server") {
		t.Errorf("unexpected respond %+v", r)
	}
}
