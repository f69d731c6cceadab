// Package api is the HTTP control surface over the core: campaign control,
// recipient and response listings, and the WhatsApp connection status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"whatsapp-campaign/internal/dispatch"
	"whatsapp-campaign/internal/models"
	"whatsapp-campaign/internal/storage"
)

// Dispatcher starts a campaign pass.
type Dispatcher interface {
	Run(ctx context.Context) (dispatch.Result, error)
}

// Transport exposes the connection state owned by the WhatsApp adapter.
type Transport interface {
	Status() models.Status
	Logout(ctx context.Context) error
}

type Server struct {
	store      *storage.Store
	dispatcher Dispatcher
	transport  Transport
	log        zerolog.Logger
}

func NewServer(store *storage.Store, dispatcher Dispatcher, transport Transport, log zerolog.Logger) *Server {
	return &Server{
		store:      store,
		dispatcher: dispatcher,
		transport:  transport,
		log:        log.With().Str("component", "api").Logger(),
	}
}

// Router wires the control endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/whatsapp-status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/logout-whatsapp", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/api/start-campaign", s.handleStartCampaign).Methods(http.MethodPost)
	r.HandleFunc("/api/recipients", s.handleRecipients).Methods(http.MethodGet)
	r.HandleFunc("/api/add-recipient", s.handleAddRecipient).Methods(http.MethodPost)
	r.HandleFunc("/api/responses-json", s.handleResponses).Methods(http.MethodGet)
	r.HandleFunc("/api/clear-responses", s.handleClearResponses).Methods(http.MethodPost)
	r.HandleFunc("/api/message", s.handleGetMessage).Methods(http.MethodGet)
	r.HandleFunc("/api/message", s.handleSetMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/clear-sent", s.handleClearSent).Methods(http.MethodPost)
	r.HandleFunc("/api/cancel-token", s.handleCancelToken).Methods(http.MethodPost)
	r.HandleFunc("/api/appointments", s.handleAppointments).Methods(http.MethodGet)
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.transport.Status())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.transport.Logout(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("Logout failed")
		s.writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	if !s.transport.Status().Connected {
		s.writeError(w, http.StatusBadRequest, "WhatsApp not authorized, please scan QR")
		return
	}
	recipients, err := s.store.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load recipients")
		return
	}
	if len(recipients) == 0 {
		s.writeError(w, http.StatusBadRequest, "recipients file is empty or incomplete")
		return
	}
	text, err := s.store.MessageText()
	if err != nil || text == "" {
		s.writeError(w, http.StatusBadRequest, "message not set")
		return
	}

	go func() {
		if _, err := s.dispatcher.Run(context.Background()); err != nil && !errors.Is(err, dispatch.ErrRunInProgress) {
			s.log.Error().Err(err).Msg("Campaign run failed")
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "campaign started"})
}

func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := s.store.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load recipients")
		return
	}
	s.writeJSON(w, http.StatusOK, recipientsJSON(recipients))
}

func (s *Server) handleAddRecipient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		s.writeError(w, http.StatusBadRequest, "name and phone required")
		return
	}
	if err := s.store.Upsert(models.Recipient{Name: req.Name, Phone: req.Phone}); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to add recipient")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	responses, err := s.store.Responses()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load responses")
		return
	}
	out := make([]map[string]string, 0, len(responses))
	for _, resp := range responses {
		out = append(out, map[string]string{
			"name":      resp.Name,
			"phone":     resp.Phone,
			"response":  string(resp.Response),
			"timestamp": resp.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClearResponses(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearResponses(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to clear responses")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	text, err := s.store.MessageText()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": text})
}

func (s *Server) handleSetMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.store.SetMessageText(req.Message); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleClearSent resets the sent flag for the given phones so the next
// dispatch run retries them.
func (s *Server) handleClearSent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phones []string `json:"phones"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	targets := make(map[string]bool, len(req.Phones))
	for _, p := range req.Phones {
		targets[p] = true
	}
	err := s.store.Mutate(func(recipients []models.Recipient) ([]models.Recipient, error) {
		for i := range recipients {
			if targets[recipients[i].Phone] {
				recipients[i].Sent = false
			}
		}
		return recipients, nil
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to update recipients")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCancelToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		s.writeError(w, http.StatusBadRequest, "phone required")
		return
	}
	err := s.store.Mutate(func(recipients []models.Recipient) ([]models.Recipient, error) {
		for i := range recipients {
			if recipients[i].Phone == req.Phone {
				recipients[i].Cancelled = true
			}
		}
		return recipients, nil
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to update recipient")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleAppointments lists recipients that picked a date or hold a token.
func (s *Server) handleAppointments(w http.ResponseWriter, r *http.Request) {
	recipients, err := s.store.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load recipients")
		return
	}
	booked := recipients[:0:0]
	for _, rec := range recipients {
		if rec.Date != "" || rec.HasToken() {
			booked = append(booked, rec)
		}
	}
	s.writeJSON(w, http.StatusOK, recipientsJSON(booked))
}

func recipientsJSON(recipients []models.Recipient) []map[string]any {
	out := make([]map[string]any, 0, len(recipients))
	for _, rec := range recipients {
		row := map[string]any{
			"name":      rec.Name,
			"phone":     rec.Phone,
			"sent":      rec.Sent,
			"date":      rec.Date,
			"cancelled": rec.Cancelled,
		}
		if rec.HasToken() {
			row["token"] = rec.Token
		}
		out = append(out, row)
	}
	return out
}
