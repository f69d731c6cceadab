// Package handler turns inbound WhatsApp messages into recipient state
// changes: the appointment booking conversation and the simpler yes/no
// response router.
package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"whatsapp-campaign/internal/models"
	"whatsapp-campaign/internal/phone"
	"whatsapp-campaign/internal/storage"
	"whatsapp-campaign/internal/token"
)

// Sender is the reply capability both handlers consume.
type Sender interface {
	Send(ctx context.Context, phone, text string, media *models.Media) error
}

const dateOptionCount = 14

// Appointment drives the per-recipient booking conversation. Every state
// transition is persisted through the store before the reply goes out, so a
// crash mid-conversation leaves the recorded state consistent with the last
// acknowledged message.
type Appointment struct {
	store  *storage.Store
	sender Sender
	log    zerolog.Logger
	now    func() time.Time
}

func NewAppointment(store *storage.Store, sender Sender, log zerolog.Logger) *Appointment {
	return &Appointment{
		store:  store,
		sender: sender,
		log:    log.With().Str("component", "appointment").Logger(),
		now:    time.Now,
	}
}

// dateOptions lists the next 14 days starting today, ISO formatted, indexed
// 1-14 in the prompt.
func (a *Appointment) dateOptions() []string {
	options := make([]string, dateOptionCount)
	base := a.now()
	for i := range options {
		options[i] = base.AddDate(0, 0, i).Format("2006-01-02")
	}
	return options
}

func formatOptions(options []string) string {
	lines := make([]string, len(options))
	for i, d := range options {
		lines[i] = fmt.Sprintf("%d. 📅 %s", i+1, d)
	}
	return strings.Join(lines, "\n")
}

// HandleMessage applies one inbound message to the sender's conversation
// state. Unknown senders are created on first contact.
func (a *Appointment) HandleMessage(ctx context.Context, senderID, body string) error {
	rawText := strings.TrimSpace(body)
	if rawText == "" {
		return nil
	}
	text := strings.ToLower(rawText)
	options := a.dateOptions()

	var reply string
	err := a.store.Mutate(func(recipients []models.Recipient) ([]models.Recipient, error) {
		user := phone.MatchSender(senderID, recipients)
		if user == nil {
			recipients = append(recipients, models.Recipient{
				Name:  models.DefaultName,
				Phone: "+" + phone.SenderDigits(senderID),
			})
			user = &recipients[len(recipients)-1]
		}
		reply = a.transition(recipients, user, rawText, text, options)
		return recipients, nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit conversation state: %w", err)
	}

	if reply == "" {
		return nil
	}
	if err := a.sender.Send(ctx, "+"+phone.SenderDigits(senderID), reply, nil); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// transition mutates user in place and returns the reply text. The status
// query is checked before everything else so it works in every state.
func (a *Appointment) transition(recipients []models.Recipient, user *models.Recipient, rawText, text string, options []string) string {
	if rawText == "3" {
		if user.Date != "" && user.HasToken() && !user.Cancelled {
			return fmt.Sprintf("📅 You have an appointment on %s.\n🪪 Your token number is: %d", user.Date, user.Token)
		}
		return "ℹ️ You don't have any active booking yet."
	}

	if user.PendingCancellation {
		switch text {
		case "yes":
			user.Cancelled = true
			user.Token = 0
			user.Date = ""
			user.Sent = false
			user.PendingCancellation = false
			return "❌ Your appointment has been cancelled."
		case "no":
			user.PendingCancellation = false
			return "👍 Got it! Your appointment is still active."
		default:
			return "⚠️ Please reply YES to confirm cancellation or NO to keep your appointment."
		}
	}

	// First contact (or re-entry after cancellation reset): offer dates.
	if user.Date == "" && !user.HasToken() && !user.Sent {
		user.Sent = true
		return fmt.Sprintf(
			"Hi 👋\nPlease select a date for your appointment (within 2 weeks).\nReply with the number:\n\n%s",
			formatOptions(options),
		)
	}

	if n, err := strconv.Atoi(rawText); err == nil && !user.HasToken() && user.Date == "" && n >= 1 && n <= len(options) {
		user.Date = options[n-1]
		user.Cancelled = false
		return fmt.Sprintf("📆 You selected %s. Now reply with:\n1️⃣ Yes to confirm booking\n2️⃣ No to cancel.", user.Date)
	}

	if (text == "1" || text == "yes") && user.Date != "" && !user.HasToken() {
		user.Token = token.Next(recipients, user.Date)
		user.Cancelled = false
		return fmt.Sprintf(
			"✅ Your appointment for %s is confirmed!\n\n🪪 Your token number is: %d\nTo cancel, reply with 2",
			user.Date, user.Token,
		)
	}

	if (text == "2" || text == "no") && user.Date != "" && !user.Cancelled {
		user.PendingCancellation = true
		return "⚠️ Are you sure you want to cancel your appointment?\nReply YES to confirm or NO to keep your booking."
	}

	return fmt.Sprintf(
		"⚠️ Invalid input.\nPlease reply with a number (1-%d) to select your appointment date:\n\n%s",
		len(options), formatOptions(options),
	)
}
