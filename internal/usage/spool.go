package usage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Spool is an append-only JSONL file of events the store could not take.
type Spool struct {
	path string
	mu   sync.Mutex
}

// NewSpool keeps its file at <dataDir>/usage-spool.jsonl.
func NewSpool(dataDir string) (*Spool, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Spool{path: filepath.Join(dataDir, "usage-spool.jsonl")}, nil
}

func (s *Spool) Path() string {
	return s.path
}

func (s *Spool) Append(e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return err
	}
	return file.Sync()
}

// Drain passes every spooled event to fn and removes the file once all of
// them were accepted. On the first failure the spool is left untouched.
func (s *Spool) Drain(fn func(*Event) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("Skipping malformed spooled usage event")
			continue
		}
		if err := fn(&e); err != nil {
			return count, fmt.Errorf("failed to replay event %s: %w", e.ID, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}

	file.Close()
	if err := os.Remove(s.path); err != nil {
		return count, err
	}
	return count, nil
}
