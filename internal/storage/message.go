package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"whatsapp-campaign/internal/models"
)

// MessageText returns the campaign message template, or "" when none has
// been set yet.
func (s *Store) MessageText() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, messageFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read message file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetMessageText replaces the campaign message template.
func (s *Store) SetMessageText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(filepath.Join(s.dir, messageFile), []byte(text), 0644)
}

// Media finds the single optional campaign attachment: the first file in the
// data directory named media.* with a recognized extension. Returns nil when
// there is none.
func (s *Store) Media() *models.Media {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to scan data directory for media")
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "media") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		mime, ok := mediaExtensions[ext]
		if !ok {
			continue
		}
		return &models.Media{
			Path:     filepath.Join(s.dir, entry.Name()),
			MimeType: mime,
		}
	}
	return nil
}
