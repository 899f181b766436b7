package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/example/allybot/internal/event"
)

// Notifier sends DMs and channel posts through one shared rate limiter so a
// burst of reminders stays under Discord's global limit.
type Notifier struct {
	api     api
	limiter *rate.Limiter
	log     *zap.Logger

	mu  sync.Mutex
	dms map[string]string // user id -> DM channel id
}

func NewNotifier(a api, perSecond float64, burst int, log *zap.Logger) *Notifier {
	return &Notifier{
		api:     a,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		log:     log.Named("notifier"),
		dms:     make(map[string]string),
	}
}

// Send delivers text as a DM to recipient.
func (n *Notifier) Send(ctx context.Context, recipient, text string) error {
	ch, err := n.dmChannel(ctx, recipient)
	if err != nil {
		return err
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = n.api.ChannelMessageSendComplex(ch, &discordgo.MessageSend{
		Content:         text,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		n.forget(recipient)
		return fmt.Errorf("dm %s: %w", recipient, err)
	}
	return nil
}

func (n *Notifier) dmChannel(ctx context.Context, recipient string) (string, error) {
	n.mu.Lock()
	id, ok := n.dms[recipient]
	n.mu.Unlock()
	if ok {
		return id, nil
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return "", err
	}
	ch, err := n.api.UserChannelCreate(recipient, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("open dm with %s: %w", recipient, err)
	}
	n.mu.Lock()
	n.dms[recipient] = ch.ID
	n.mu.Unlock()
	return ch.ID, nil
}

func (n *Notifier) forget(recipient string) {
	n.mu.Lock()
	delete(n.dms, recipient)
	n.mu.Unlock()
}

// PostEventReminder announces e in its channel.
func (n *Notifier) PostEventReminder(ctx context.Context, e event.Event) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := n.api.ChannelMessageSendComplex(e.ChannelID, EventReminderMessage(e), discordgo.WithContext(ctx))
	if isUnknownChannel(err) {
		return fmt.Errorf("%w: %s", event.ErrChannelGone, e.ChannelID)
	}
	return err
}

func isUnknownChannel(err error) bool {
	var re *discordgo.RESTError
	if !errors.As(err, &re) {
		return false
	}
	if re.Message != nil && re.Message.Code == discordgo.ErrCodeUnknownChannel {
		return true
	}
	return re.Response != nil && re.Response.StatusCode == http.StatusNotFound
}
