package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"whatsapp-campaign/internal/models"
	"whatsapp-campaign/internal/phone"
)

var responseHeader = []string{"Name", "Phone", "Response", "Timestamp"}

// AppendResponse adds one row to the response log, writing the header first
// when the file is new. The log itself enforces no uniqueness; callers that
// need the one-response-per-phone rule use AppendResponseIfNew.
func (s *Store) AppendResponse(resp models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendResponse(resp)
}

// AppendResponseIfNew records the response only when no suffix-matching
// entry exists yet. Check and append happen under one lock, re-reading the
// latest log state, so two concurrent inbound messages from the same phone
// cannot both pass the duplicate check. Returns whether a row was written.
func (s *Store) AppendResponseIfNew(resp models.Response) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.hasResponded(resp.Phone)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return true, s.appendResponse(resp)
}

func (s *Store) appendResponse(resp models.Response) error {
	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now()
	}

	writeHeader := true
	if _, err := os.Stat(s.responsesPath()); err == nil {
		writeHeader = false
	}

	f, err := os.OpenFile(s.responsesPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open responses file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(responseHeader); err != nil {
			return fmt.Errorf("failed to write responses header: %w", err)
		}
	}
	row := []string{resp.Name, resp.Phone, string(resp.Response), resp.Timestamp.Format(time.RFC3339)}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("failed to write response row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Responses returns every logged response in append order.
func (s *Store) Responses() ([]models.Response, error) {
	f, err := os.Open(s.responsesPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open responses file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read responses file: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	idx := columnIndex(rows[0])
	responses := make([]models.Response, 0, len(rows)-1)
	for _, row := range rows[1:] {
		p := column(idx, row, "phone")
		if p == "" {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, column(idx, row, "timestamp"))
		responses = append(responses, models.Response{
			Name:      column(idx, row, "name"),
			Phone:     p,
			Response:  models.ResponseValue(strings.ToUpper(column(idx, row, "response"))),
			Timestamp: ts,
		})
	}
	return responses, nil
}

// HasResponded reports whether the log already holds an entry for this
// phone. The check is digit-suffix containment in either direction, not an
// exact key match, so "+9876543210" and "919876543210" collide as intended.
func (s *Store) HasResponded(p string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasResponded(p)
}

func (s *Store) hasResponded(p string) (bool, error) {
	responses, err := s.Responses()
	if err != nil {
		return false, err
	}
	digits := phone.Digits(p)
	if digits == "" {
		return false, nil
	}
	for _, resp := range responses {
		logged := phone.Digits(resp.Phone)
		if logged == "" {
			continue
		}
		if strings.HasSuffix(logged, digits) || strings.HasSuffix(digits, logged) {
			return true, nil
		}
	}
	return false, nil
}

// ClearResponses removes the whole response log.
func (s *Store) ClearResponses() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.responsesPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear responses: %w", err)
	}
	return nil
}
