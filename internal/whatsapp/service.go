// Package whatsapp adapts the whatsmeow client to the transport capability
// the core consumes: send, registration checks and an incoming-message
// callback, plus the connection status artifact the control surface reads.
package whatsapp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"whatsapp-campaign/internal/models"
	"whatsapp-campaign/internal/phone"
)

const statusFile = "qr_status.json"

// MessageHandler receives the sender id (full JID string) and the message
// body of each inbound message.
type MessageHandler func(ctx context.Context, senderID, body string) error

type Config struct {
	DataDir string
}

type Service struct {
	client         *whatsmeow.Client
	cfg            *Config
	log            zerolog.Logger
	messageHandler MessageHandler

	statusMu sync.Mutex
	status   models.Status
}

// NewService creates the WhatsApp transport backed by a sqlite session store
// under the data directory.
func NewService(cfg *Config, log zerolog.Logger) (*Service, error) {
	ctx := context.Background()

	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s/whatsmeow.db?_foreign_keys=on", cfg.DataDir), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	service := &Service{
		client: whatsmeow.NewClient(deviceStore, nil),
		cfg:    cfg,
		log:    log.With().Str("component", "whatsapp").Logger(),
	}
	service.writeStatus(models.Status{})

	service.client.AddEventHandler(func(evt interface{}) {
		service.eventHandler(evt)
	})

	return service, nil
}

// Connect establishes the WhatsApp session. With no stored session it blocks
// through QR pairing, publishing each code to the status artifact so the
// control surface can render it.
func (s *Service) Connect(ctx context.Context) error {
	if s.client.Store.ID == nil {
		qrChan, _ := s.client.GetQRChannel(ctx)
		if err := s.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				s.publishQR(evt.Code)
			case "success":
				s.log.Info().Msg("WhatsApp pairing completed")
			default:
				s.log.Info().Str("event", evt.Event).Msg("Login event")
			}
		}
		return nil
	}

	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Disconnect drops the connection, keeping the stored session.
func (s *Service) Disconnect() {
	s.client.Disconnect()
}

// Logout destroys the stored session so the next start re-pairs.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.client.Logout(ctx); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	s.writeStatus(models.Status{})
	return nil
}

func (s *Service) publishQR(code string) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode QR code")
		return
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	s.writeStatus(models.Status{QR: &dataURL})
}

func (s *Service) writeStatus(status models.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	s.status = status
	data, err := json.Marshal(status)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal status")
		return
	}
	if err := os.WriteFile(filepath.Join(s.cfg.DataDir, statusFile), data, 0644); err != nil {
		s.log.Error().Err(err).Msg("Failed to write status file")
	}
}

// Status reports the current QR/connection state.
func (s *Service) Status() models.Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// IsRegistered reports whether the phone number has a WhatsApp account.
func (s *Service) IsRegistered(ctx context.Context, p string) (bool, error) {
	resp, err := s.client.IsOnWhatsApp(ctx, []string{phone.Digits(p)})
	if err != nil {
		return false, fmt.Errorf("failed to verify number on WhatsApp: %w", err)
	}
	return len(resp) > 0 && resp[0].IsIn, nil
}

// Send delivers a text message, optionally as a caption on a media
// attachment, to the given phone number.
func (s *Service) Send(ctx context.Context, p, text string, media *models.Media) error {
	digits := phone.Digits(p)

	resp, err := s.client.IsOnWhatsApp(ctx, []string{digits})
	if err != nil {
		return fmt.Errorf("failed to verify number on WhatsApp: %w", err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return fmt.Errorf("number %s is not registered on WhatsApp", p)
	}
	jid := resp[0].JID

	var message *waE2E.Message
	if media != nil {
		message, err = s.uploadMedia(ctx, media, text)
		if err != nil {
			return err
		}
	} else {
		message = &waE2E.Message{Conversation: proto.String(text)}
	}

	sent, err := s.client.SendMessage(ctx, jid, message)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	s.log.Debug().Str("jid", jid.String()).Str("id", sent.ID).Msg("Message sent")
	return nil
}

func (s *Service) uploadMedia(ctx context.Context, media *models.Media, caption string) (*waE2E.Message, error) {
	data, err := os.ReadFile(media.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read media file: %w", err)
	}

	if strings.HasPrefix(media.MimeType, "image/") {
		uploaded, err := s.client.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("failed to upload media: %w", err)
		}
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}, nil
	}

	uploaded, err := s.client.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to upload media: %w", err)
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		Caption:       proto.String(caption),
		FileName:      proto.String(filepath.Base(media.Path)),
		Mimetype:      proto.String(media.MimeType),
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
	}}, nil
}

// eventHandler handles incoming WhatsApp events.
func (s *Service) eventHandler(evt interface{}) {
	switch evt := evt.(type) {
	case *events.Message:
		s.handleMessage(evt)
	case *events.Connected:
		s.log.Info().Msg("Connected to WhatsApp")
		s.writeStatus(models.Status{Connected: true})
	case *events.Disconnected:
		s.log.Info().Msg("Disconnected from WhatsApp")
	case *events.LoggedOut:
		s.log.Info().Msg("Logged out from WhatsApp")
		s.writeStatus(models.Status{})
	}
}

func (s *Service) handleMessage(msg *events.Message) {
	if msg.Info.IsFromMe || msg.Info.IsGroup {
		return
	}
	text := msg.Message.GetConversation()
	if text == "" {
		text = msg.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return
	}

	// Messages from a linked device arrive with a device-suffixed JID
	// (user:device@server); hand the core the bare user JID so sender
	// matching sees only the phone digits.
	senderID := msg.Info.Sender.ToNonAD().String()

	if s.messageHandler == nil {
		s.log.Info().
			Str("sender", senderID).
			Str("message", text).
			Msg("Received message")
		return
	}
	if err := s.messageHandler(context.Background(), senderID, text); err != nil {
		s.log.Error().Err(err).Msg("Error handling message")
	}
}

// SetMessageHandler sets the callback for incoming messages.
func (s *Service) SetMessageHandler(handler MessageHandler) {
	s.messageHandler = handler
}
