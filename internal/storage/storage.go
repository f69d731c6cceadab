// Package storage owns the durable recipient table and the append-only
// response log. Both live as CSV files under a single data directory so an
// operator can inspect or replace them with ordinary tools.
package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"whatsapp-campaign/internal/models"
	"whatsapp-campaign/internal/phone"
)

const (
	recipientsFile = "recipients.csv"
	responsesFile  = "responses.csv"
	messageFile    = "message.txt"
)

var recipientHeader = []string{"name", "phone", "sent", "date", "token", "cancelled", "pending_cancellation"}

var mediaExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".pdf":  "application/pdf",
	".mp4":  "video/mp4",
}

// Store reads and writes the recipient table as an atomic unit. It is the
// single writer of its backing files; all mutations go through Mutate, which
// re-reads the latest persisted state under the lock before committing.
type Store struct {
	mu  sync.Mutex
	dir string
	log zerolog.Logger
}

// NewStore opens the data directory, creating it and a header-only
// recipients file when absent. A directory that cannot be created or a
// recipients file that cannot be read is fatal to initialization.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		dir: dir,
		log: log.With().Str("component", "storage").Logger(),
	}

	path := s.recipientsPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.writeRecipients(nil); err != nil {
			return nil, fmt.Errorf("failed to initialize recipients file: %w", err)
		}
	} else if err == nil {
		if _, err := s.Load(); err != nil {
			return nil, fmt.Errorf("failed to load recipients: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat recipients file: %w", err)
	}

	return s, nil
}

// RecipientsPath is the backing file of the recipient table, exposed for the
// change trigger to watch.
func (s *Store) RecipientsPath() string {
	return s.recipientsPath()
}

func (s *Store) recipientsPath() string {
	return filepath.Join(s.dir, recipientsFile)
}

func (s *Store) responsesPath() string {
	return filepath.Join(s.dir, responsesFile)
}

// Load reads the full recipient set. A missing file yields an empty set.
// Rows that cannot be parsed are skipped with a log line rather than
// aborting the whole load; absent columns take zero values.
func (s *Store) Load() ([]models.Recipient, error) {
	f, err := os.Open(s.recipientsPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open recipients file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recipients header: %w", err)
	}
	idx := columnIndex(header)

	var recipients []models.Recipient
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A corrupt row loses itself, not the whole table.
			s.log.Warn().Err(err).Msg("Skipping unreadable recipient row")
			continue
		}
		rec, ok := s.parseRow(idx, row)
		if !ok {
			continue
		}
		recipients = append(recipients, rec)
	}
	return recipients, nil
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return idx
}

func column(idx map[string]int, row []string, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (s *Store) parseRow(idx map[string]int, row []string) (models.Recipient, bool) {
	raw := column(idx, row, "phone")
	if raw == "" {
		return models.Recipient{}, false
	}
	normalized := phone.Normalize(raw)
	if phone.Digits(normalized) == "" {
		s.log.Warn().Str("phone", raw).Msg("Skipping unparsable recipient row")
		return models.Recipient{}, false
	}

	name := column(idx, row, "name")
	if name == "" {
		name = models.DefaultName
	}

	tok := 0
	if v := column(idx, row, "token"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.log.Warn().Str("phone", raw).Str("token", v).Msg("Skipping recipient row with bad token")
			return models.Recipient{}, false
		}
		tok = n
	}

	return models.Recipient{
		Name:                name,
		Phone:               normalized,
		Sent:                parseFlag(column(idx, row, "sent")),
		Date:                column(idx, row, "date"),
		Token:               tok,
		Cancelled:           parseFlag(column(idx, row, "cancelled")),
		PendingCancellation: parseFlag(column(idx, row, "pending_cancellation")),
	}, true
}

func parseFlag(v string) bool {
	return strings.EqualFold(v, "yes") || strings.EqualFold(v, "true")
}

func formatFlag(v bool) string {
	if v {
		return "Yes"
	}
	return ""
}

// Save atomically replaces the whole recipient set: the new table is written
// to a temp file and renamed over the old one, so readers never observe a
// partial write. Last writer wins.
func (s *Store) Save(recipients []models.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRecipients(recipients)
}

func (s *Store) writeRecipients(recipients []models.Recipient) error {
	tmp, err := os.CreateTemp(s.dir, recipientsFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(recipientHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range recipients {
		tok := ""
		if r.Token > 0 {
			tok = strconv.Itoa(r.Token)
		}
		row := []string{
			r.Name,
			r.Phone,
			formatFlag(r.Sent),
			r.Date,
			tok,
			formatFlag(r.Cancelled),
			formatFlag(r.PendingCancellation),
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush recipients: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), s.recipientsPath())
}

// Mutate applies fn to the latest persisted recipient set and saves the
// result. The store lock is held across load, fn and save, which makes this
// the serialization point for token allocation and conversation commits.
func (s *Store) Mutate(fn func(recipients []models.Recipient) ([]models.Recipient, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipients, err := s.Load()
	if err != nil {
		return err
	}
	updated, err := fn(recipients)
	if err != nil {
		return err
	}
	return s.writeRecipients(updated)
}

// Upsert adds a recipient or replaces the stored row with the same phone.
func (s *Store) Upsert(rec models.Recipient) error {
	rec.Phone = phone.Normalize(rec.Phone)
	if rec.Name == "" {
		rec.Name = models.DefaultName
	}
	return s.Mutate(func(recipients []models.Recipient) ([]models.Recipient, error) {
		for i := range recipients {
			if recipients[i].Phone == rec.Phone {
				recipients[i] = rec
				return recipients, nil
			}
		}
		return append(recipients, rec), nil
	})
}
