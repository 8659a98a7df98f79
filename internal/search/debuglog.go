package search

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DebugLog appends every search call to a JSON Lines file for offline
// inspection. Nothing in the pipeline reads it back.
type DebugLog struct {
	mu   sync.Mutex
	path string
}

// NewDebugLog creates a log writing to path. An empty path disables logging.
func NewDebugLog(path string) *DebugLog {
	return &DebugLog{path: path}
}

// Append writes one record as a single line.
func (l *DebugLog) Append(rec Record) error {
	if l == nil || l.path == "" {
		return nil
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode debug record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create debug log directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open debug log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write debug log: %w", err)
	}
	return nil
}
