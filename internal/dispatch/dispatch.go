// Package dispatch runs the outbound campaign: one pass over the recipient
// table sending the initial message to everyone still pending.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"whatsapp-campaign/internal/models"
	"whatsapp-campaign/internal/storage"
	"whatsapp-campaign/internal/token"
)

// ErrRunInProgress is returned when Run is called while a previous pass is
// still iterating. Overlapping passes would race on the sent flags.
var ErrRunInProgress = errors.New("dispatch run already in progress")

// Transport is the outbound messaging capability the dispatcher consumes.
type Transport interface {
	IsRegistered(ctx context.Context, phone string) (bool, error)
	Send(ctx context.Context, phone, text string, media *models.Media) error
}

// Result summarizes one dispatch run.
type Result struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Config controls composition and pacing of the campaign pass.
type Config struct {
	// Delay throttles outbound rate between consecutive sends.
	Delay time.Duration
	// AssignTokens includes a globally scoped appointment token in each
	// campaign message.
	AssignTokens bool
}

type Dispatcher struct {
	store     *storage.Store
	transport Transport
	cfg       Config
	log       zerolog.Logger
	running   atomic.Bool
}

func NewDispatcher(store *storage.Store, transport Transport, cfg Config, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		transport: transport,
		cfg:       cfg,
		log:       log.With().Str("component", "dispatch").Logger(),
	}
}

// Run sends the campaign message to every recipient with sent=false and
// cancelled=false. Each successful send is marked and persisted before the
// loop moves on, so a crash retries at most the in-flight recipient. A
// failure against one recipient never aborts the pass; the recipient stays
// pending and is retried on the next run.
func (d *Dispatcher) Run(ctx context.Context) (Result, error) {
	if !d.running.CompareAndSwap(false, true) {
		return Result{}, ErrRunInProgress
	}
	defer d.running.Store(false)

	text, err := d.store.MessageText()
	if err != nil {
		return Result{}, fmt.Errorf("failed to load message template: %w", err)
	}
	recipients, err := d.store.Load()
	if err != nil {
		return Result{}, fmt.Errorf("failed to load recipients: %w", err)
	}
	media := d.store.Media()

	var res Result
	for _, rec := range recipients {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if rec.Sent || rec.Cancelled {
			continue
		}

		if err := d.sendOne(ctx, rec, text, media); err != nil {
			if errors.Is(err, errNotReachable) {
				d.log.Info().Str("phone", rec.Phone).Msg("Recipient not on WhatsApp, skipping")
				res.Skipped++
			} else {
				d.log.Error().Err(err).Str("phone", rec.Phone).Msg("Failed to send campaign message")
				res.Failed++
			}
			continue
		}
		res.Sent++

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(d.cfg.Delay):
		}
	}

	d.log.Info().Int("sent", res.Sent).Int("skipped", res.Skipped).Int("failed", res.Failed).Msg("Campaign pass completed")
	return res, nil
}

var errNotReachable = errors.New("recipient not reachable")

func (d *Dispatcher) sendOne(ctx context.Context, rec models.Recipient, text string, media *models.Media) error {
	registered, err := d.transport.IsRegistered(ctx, rec.Phone)
	if err != nil {
		return fmt.Errorf("failed to verify recipient: %w", err)
	}
	if !registered {
		return errNotReachable
	}

	// Allocate and persist the token before sending, so the number in
	// the outbound message is exactly the committed one. A send failure
	// afterwards leaves the token in place with sent=false; the retry on
	// the next run reuses it instead of allocating again.
	tok := 0
	if d.cfg.AssignTokens {
		err := d.store.Mutate(func(recipients []models.Recipient) ([]models.Recipient, error) {
			for i := range recipients {
				if recipients[i].Phone != rec.Phone {
					continue
				}
				if recipients[i].Token == 0 {
					recipients[i].Token = token.Next(recipients, "")
				}
				tok = recipients[i].Token
				break
			}
			return recipients, nil
		})
		if err != nil {
			return err
		}
	}

	if err := d.transport.Send(ctx, rec.Phone, composeMessage(rec.Name, text, tok), media); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	// The transport ack is trusted; mark and persist right away so the
	// recipient is never left send-succeeded-but-unmarked past this
	// iteration.
	return d.store.Mutate(func(recipients []models.Recipient) ([]models.Recipient, error) {
		for i := range recipients {
			if recipients[i].Phone != rec.Phone {
				continue
			}
			recipients[i].Sent = true
			break
		}
		return recipients, nil
	})
}

func composeMessage(name, text string, tok int) string {
	msg := fmt.Sprintf("Hi %s,\n%s", name, text)
	if tok > 0 {
		msg += fmt.Sprintf("\n\n🪪 Your appointment token is: %d", tok)
	}
	msg += "\n\nPlease reply with:\n1️⃣ Yes\n2️⃣ No"
	return msg
}
