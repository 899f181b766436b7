package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/allybot/internal/auth"
	"github.com/example/allybot/internal/booking"
	"github.com/example/allybot/internal/calendar"
	"github.com/example/allybot/internal/event"
	"github.com/example/allybot/internal/member"
	"github.com/example/allybot/internal/slot"
)

func newOperatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage web operators",
	}
	cmd.AddCommand(newOperatorAddCmd())
	return cmd
}

func newOperatorAddCmd() *cobra.Command {
	var username, password string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add an operator (username/password) for the web surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			store := auth.NewStore(e.db, e.cfg.CookieHashKey, e.cfg.CookieBlockKey)
			if err := store.CreateOperator(cmd.Context(), username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created operator %q\n", username)
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "password")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}

func newMemberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage member registrations",
	}
	cmd.AddCommand(newMemberRegisterCmd(), newMemberStatusCmd(), newMemberListCmd())
	return cmd
}

func newMemberRegisterCmd() *cobra.Command {
	var m member.Member
	var rank, status string

	c := &cobra.Command{
		Use:   "register",
		Short: "Register or update a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := member.ParseRank(rank)
			if err != nil {
				return err
			}
			st, err := member.ParseStatus(status)
			if err != nil {
				return err
			}
			m.Rank, m.Status = r, st

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			out, err := member.NewRepo(e.db).Register(cmd.Context(), m)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s, %s) status=%s\n", out.DiscordID, out.InGameName, out.Rank, out.Status)
			return nil
		},
	}

	c.Flags().StringVar(&m.DiscordID, "discord-id", "", "discord user id")
	c.Flags().StringVar(&m.InGameName, "name", "", "in-game name")
	c.Flags().StringVar(&m.Server, "server", "", "game server")
	c.Flags().StringVar(&m.Alliance, "alliance", "", "alliance tag")
	c.Flags().StringVar(&rank, "rank", "R1", "rank R1..R5")
	c.Flags().StringVar(&status, "status", string(member.Approved), "onboarding, pending, approved or denied")
	for _, f := range []string{"discord-id", "name", "server", "alliance"} {
		_ = c.MarkFlagRequired(f)
	}
	return c
}

func newMemberStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <discord-id> <status>",
		Short: "Change a member's registration status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := member.ParseStatus(args[1])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := member.NewRepo(e.db).SetStatus(cmd.Context(), args[0], st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], st)
			return nil
		},
	}
}

func newMemberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered members",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			ms, err := member.NewRepo(e.db).List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DISCORD ID\tNAME\tSERVER\tRANK\tALLIANCE\tSTATUS")
			for _, m := range ms {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", m.DiscordID, m.InGameName, m.Server, m.Rank, m.Alliance, m.Status)
			}
			return w.Flush()
		},
	}
}

func newGiverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "giver",
		Short: "Manage the buff giver roster",
	}

	var addedBy string
	add := &cobra.Command{
		Use:   "add <discord-id>",
		Short: "Add a buff giver (the Discord role is not touched)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			added, err := member.NewRoster(e.db).Add(cmd.Context(), args[0], addedBy)
			if err != nil {
				return err
			}
			if !added {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already a buff giver\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&addedBy, "added-by", "cli", "who added the giver")

	remove := &cobra.Command{
		Use:   "remove <discord-id>",
		Short: "Remove a buff giver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			ok, err := member.NewRoster(e.db).Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is not a buff giver", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List buff givers",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			gs, err := member.NewRoster(e.db).List(cmd.Context())
			if err != nil {
				return err
			}
			for _, g := range gs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s added_by=%s at=%s\n", g.DiscordID, g.AddedBy, g.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

// slotService builds a booking service without the gateway. Reminders for
// slots booked here are armed by the server's next reconcile.
func slotService(e *env) *booking.Service {
	slots := slot.NewRepo(e.db)
	return booking.New(booking.Deps{
		Store:    slots,
		Calendar: calendar.New(slots, nil, e.cfg.Location()),
		Registry: member.NewRepo(e.db),
		Log:      e.log,
	})
}

func newSlotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slot",
		Short: "Inspect and edit buff bookings",
	}

	var date, category string
	list := &cobra.Command{
		Use:   "list",
		Short: "Print one day's buff schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			cal := slotService(e).Calendar()
			day := cal.Today()
			if date != "" {
				if day, err = cal.ParseDate(date); err != nil {
					return err
				}
			}
			cats := slot.Categories
			if category != "" {
				c, err := slot.ParseCategory(category)
				if err != nil {
					return err
				}
				cats = []slot.Category{c}
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tHOUR\tBOOKED BY\tGIVER")
			for _, c := range cats {
				entries, err := cal.DaySchedule(cmd.Context(), c, day)
				if err != nil {
					return err
				}
				for _, en := range entries {
					if en.Status != calendar.Booked {
						continue
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c, en.Start.Format("15:04"), en.Booking.BookedBy, en.Booking.FulfillerID())
				}
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&date, "date", "", "day YYYY-MM-DD (default today)")
	list.Flags().StringVar(&category, "category", "", "research, training or building (default all)")

	cmd.AddCommand(list, newSlotBookCmd(), newSlotCancelCmd(), newSlotAssignCmd())
	return cmd
}

// slotArgs parses "<category> <YYYY-MM-DD HH:00>".
func slotArgs(cal *calendar.Engine, args []string) (slot.Category, time.Time, error) {
	c, err := slot.ParseCategory(args[0])
	if err != nil {
		return "", time.Time{}, err
	}
	at, err := cal.ParseSlot(strings.Join(args[1:], " "))
	if err != nil {
		return "", time.Time{}, err
	}
	return c, at, nil
}

func newSlotBookCmd() *cobra.Command {
	var who string
	c := &cobra.Command{
		Use:   "book <category> <YYYY-MM-DD> <HH:00>",
		Short: "Book a slot on behalf of a member",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			svc := slotService(e)
			cat, at, err := slotArgs(svc.Calendar(), args)
			if err != nil {
				return err
			}
			s, err := svc.Book(cmd.Context(), cat, at, who)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "booked %s id=%s\n", s.Key(), s.ID)
			return nil
		},
	}
	c.Flags().StringVar(&who, "for", "", "discord id of the member")
	_ = c.MarkFlagRequired("for")
	return c
}

func newSlotCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <category> <YYYY-MM-DD> <HH:00>",
		Short: "Cancel any booking",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			svc := slotService(e)
			cat, at, err := slotArgs(svc.Calendar(), args)
			if err != nil {
				return err
			}
			ok, err := svc.Cancel(cmd.Context(), cat, at, "cli", true)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no booking for %s at %s", cat, at.Format(calendar.SlotLayout))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
			return nil
		},
	}
}

func newSlotAssignCmd() *cobra.Command {
	var giver string
	c := &cobra.Command{
		Use:   "assign <category> <YYYY-MM-DD> <HH:00>",
		Short: "Assign a buff giver to a booked slot",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			svc := slotService(e)
			cat, at, err := slotArgs(svc.Calendar(), args)
			if err != nil {
				return err
			}
			s, err := svc.AssignFulfiller(cmd.Context(), cat, at, giver)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s giver=%s\n", s.Key(), s.FulfillerID())
			return nil
		},
	}
	c.Flags().StringVar(&giver, "giver", "", "discord id of the giver")
	_ = c.MarkFlagRequired("giver")
	return c
}

func newEventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage scheduled events",
	}

	var ev event.Event
	var kind, at string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an event announced in its channel before it starts",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := event.ParseKind(kind)
			if err != nil {
				return err
			}
			ev.Kind = k

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			t, err := time.ParseInLocation(calendar.SlotLayout, at, e.cfg.Location())
			if err != nil {
				return fmt.Errorf("invalid --at (want YYYY-MM-DD HH:MM): %w", err)
			}
			ev.At = t
			out, err := event.NewRepo(e.db).Create(cmd.Context(), ev)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created event id=%s at=%s\n", out.ID, out.At.Format(time.RFC3339))
			return nil
		},
	}
	create.Flags().StringVar(&ev.Title, "title", "", "event title")
	create.Flags().StringVar(&ev.Description, "description", "", "details shown in the reminder")
	create.Flags().StringVar(&kind, "kind", string(event.ServerWide), "server-wide or alliance-specific")
	create.Flags().StringVar(&ev.AllianceTarget, "alliance", "", "target alliance for alliance-specific events")
	create.Flags().StringVar(&ev.ChannelID, "channel", "", "channel id for the reminder")
	create.Flags().StringVar(&at, "at", "", "start time YYYY-MM-DD HH:MM in CALENDAR_TZ")
	create.Flags().StringVar(&ev.ImageURL, "image", "", "optional image url")
	create.Flags().StringVar(&ev.CreatedBy, "created-by", "cli", "creator")
	for _, f := range []string{"title", "channel", "at"} {
		_ = create.MarkFlagRequired(f)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List upcoming events",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			evs, err := event.NewRepo(e.db).Upcoming(cmd.Context(), time.Now(), 0)
			if err != nil {
				return err
			}
			for _, x := range evs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %q kind=%s channel=%s reminded=%t\n",
					x.ID, x.At.In(e.cfg.Location()).Format(calendar.SlotLayout), x.Title, x.Kind, x.ChannelID, x.ReminderSent)
			}
			return nil
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}
