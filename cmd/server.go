package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/allybot/internal/auth"
	"github.com/example/allybot/internal/booking"
	"github.com/example/allybot/internal/calendar"
	"github.com/example/allybot/internal/clock"
	"github.com/example/allybot/internal/config"
	"github.com/example/allybot/internal/db"
	"github.com/example/allybot/internal/discord"
	"github.com/example/allybot/internal/event"
	"github.com/example/allybot/internal/logging"
	"github.com/example/allybot/internal/member"
	"github.com/example/allybot/internal/migrate"
	"github.com/example/allybot/internal/reminder"
	"github.com/example/allybot/internal/scheduler"
	"github.com/example/allybot/internal/slot"
	"github.com/example/allybot/internal/web"
)

const boardRollSpec = "0 0 * * *"

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the Discord bot, reminder scheduler and operator web surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if err := cfg.RequireDiscord(); err != nil {
				return err
			}
			if err := cfg.RequireCookies(); err != nil {
				return err
			}
			log, err := logging.New(cfg.Production(), cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}

			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			err = serve(ctx, cfg, d, log)
			if errors.Is(err, context.Canceled) {
				log.Info("shutdown complete")
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

func serve(ctx context.Context, cfg config.Config, d *db.DB, log *zap.Logger) error {
	clk := clock.Real()
	slots := slot.NewRepo(d)
	members := member.NewRepo(d)
	roster := member.NewRoster(d)
	events := event.NewRepo(d)
	cal := calendar.New(slots, clk, cfg.Location())

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	notifier := discord.NewNotifier(session, cfg.NotifyRate, cfg.NotifyBurst, log)
	board := discord.NewBoard(session, cal, cfg.GuildID, cfg.BuffChannel, log)

	reminders := reminder.New(slots, notifier, roster, clk, log, reminder.Config{
		Lead:   cfg.ReminderLead,
		Format: discord.ReminderText,
	})
	defer reminders.Stop()

	svc := booking.New(booking.Deps{
		Store:     slots,
		Calendar:  cal,
		Registry:  members,
		Reminders: reminders,
		Board:     board,
		Clock:     clk,
		Log:       log,
	})

	bot := discord.New(session, discord.Deps{
		Booking:         svc,
		Roster:          roster,
		Events:          events,
		Board:           board,
		GuildID:         cfg.GuildID,
		AppID:           cfg.DiscordAppID,
		PrivilegedRoles: cfg.PrivilegedRoles,
		FulfillerRole:   cfg.FulfillerRole,
		Log:             log,
	})

	// timers are in-process only, so rebuild them from the table before taking traffic
	if _, err := reminders.Initialize(ctx); err != nil {
		return err
	}

	jobs := scheduler.New(cfg.Location(), log)
	eventReminder := &event.Reminder{
		Store:  events,
		Poster: notifier,
		Clock:  clk,
		Lead:   cfg.EventReminderLead,
		Log:    log.Named("events"),
	}
	for _, j := range []scheduler.Job{
		{Name: "reminder-reconcile", Spec: cfg.ReconcileCron, Timeout: time.Minute, Run: func(ctx context.Context) error {
			_, err := reminders.Initialize(ctx)
			return err
		}},
		{Name: "event-reminders", Spec: cfg.EventReminderCron, Timeout: time.Minute, Run: eventReminder.Run},
		{Name: "board-roll", Spec: boardRollSpec, Timeout: time.Minute, Run: board.Roll},
	} {
		if err := jobs.Add(j); err != nil {
			return err
		}
	}

	ws := &web.Server{
		Auth:      auth.NewStore(d, cfg.CookieHashKey, cfg.CookieBlockKey),
		Calendar:  cal,
		Bookings:  svc,
		Gateway:   bot,
		Reminders: reminders,
		Jobs:      jobs,
		Log:       log,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(ctx) })
	g.Go(func() error { return jobs.Run(ctx) })
	g.Go(func() error {
		if err := web.Start(ctx, cfg.ListenAddr, ws.Routes(), log); err != nil {
			return err
		}
		return ctx.Err()
	})
	return g.Wait()
}
