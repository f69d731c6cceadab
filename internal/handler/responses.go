package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"whatsapp-campaign/internal/models"
	"whatsapp-campaign/internal/phone"
	"whatsapp-campaign/internal/storage"
)

// Responses records yes/no answers to the campaign message. One logical
// response per phone: repeats get a polite notice instead of a second row.
type Responses struct {
	store  *storage.Store
	sender Sender
	log    zerolog.Logger
}

func NewResponses(store *storage.Store, sender Sender, log zerolog.Logger) *Responses {
	return &Responses{
		store:  store,
		sender: sender,
		log:    log.With().Str("component", "responses").Logger(),
	}
}

// HandleMessage resolves the sender against the recipient table and records
// the answer. Messages from unknown senders are ignored.
func (r *Responses) HandleMessage(ctx context.Context, senderID, body string) error {
	recipients, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load recipients: %w", err)
	}

	matched := phone.MatchSender(senderID, recipients)
	if matched == nil {
		r.log.Info().Str("sender", senderID).Msg("Ignoring message from unknown sender")
		return nil
	}

	var value models.ResponseValue
	switch strings.ToLower(strings.TrimSpace(body)) {
	case "1", "yes":
		value = models.ResponseYes
	case "2", "no":
		value = models.ResponseNo
	default:
		return r.reply(ctx, matched.Phone, "❗Please reply with:\n1️⃣ for Yes\n2️⃣ for No")
	}

	added, err := r.store.AppendResponseIfNew(models.Response{
		Name:     matched.Name,
		Phone:    matched.Phone,
		Response: value,
	})
	if err != nil {
		return fmt.Errorf("failed to record response: %w", err)
	}
	if !added {
		return r.reply(ctx, matched.Phone, "🔁 You've already submitted your response. Thank you!")
	}
	r.log.Info().Str("phone", matched.Phone).Str("response", string(value)).Msg("Recorded response")

	return r.reply(ctx, matched.Phone, "✅ Thank you! Your response has been recorded.")
}

func (r *Responses) reply(ctx context.Context, to, text string) error {
	if err := r.sender.Send(ctx, to, text, nil); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}
