package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/concierge/pkg/conversation"
	"github.com/rs/zerolog/log"
)

const sessionFileExt = ".json"

// FileStore writes one JSON document per session. Writes go to a temp file
// that is renamed into place, so readers never see a partial document.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store: directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if err := validateSessionID(id); err != nil {
		return "", err
	}
	if strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: cannot contain '..'", ErrInvalidSessionID)
	}
	if strings.ContainsAny(id, "/\\") {
		return "", fmt.Errorf("%w: cannot contain path separators", ErrInvalidSessionID)
	}
	return filepath.Join(s.dir, id+sessionFileExt), nil
}

func (s *FileStore) Load(_ context.Context, id string) (conversation.Session, error) {
	path, err := s.path(id)
	if err != nil {
		return conversation.Session{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return conversation.Session{}, nil
	}
	if err != nil {
		return conversation.Session{}, fmt.Errorf("failed to read session file: %w", err)
	}

	var session conversation.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return conversation.Session{}, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return session, nil
}

func (s *FileStore) Save(_ context.Context, id string, session conversation.Session) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Prune removes session files whose last update is before cutoff.
func (s *FileStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, sessionFileExt) {
			continue
		}

		id := strings.TrimSuffix(name, sessionFileExt)
		session, err := s.Load(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Skipping unreadable session during prune")
			continue
		}

		updated := session.UpdatedAt
		if updated.IsZero() {
			if info, err := entry.Info(); err == nil {
				updated = info.ModTime()
			}
		}
		if updated.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, fmt.Errorf("failed to remove session %s: %w", id, err)
			}
			removed++
		}
	}
	return removed, nil
}

func (s *FileStore) Close() error { return nil }
