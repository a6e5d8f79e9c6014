package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const statesFileName = "citizenos-valid-states.json"

// FileCollection implements Collection as a JSON file in a data directory
type FileCollection struct {
	path  string
	mutex sync.Mutex
}

// NewFileCollection creates a file-backed collection in dataDir
func NewFileCollection(dataDir string) (*FileCollection, error) {
	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &FileCollection{
		path: filepath.Join(dataDir, statesFileName),
	}, nil
}

// Load reads the states file. A missing file is an empty collection.
func (c *FileCollection) Load(ctx context.Context) (map[string]time.Time, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return make(map[string]time.Time), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read states file: %w", err)
	}

	states := make(map[string]time.Time)
	if len(data) == 0 {
		return states, nil
	}
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("failed to parse states file: %w", err)
	}
	return states, nil
}

// Save writes the states file atomically via a temp file and rename
func (c *FileCollection) Save(ctx context.Context, states map[string]time.Time) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal states: %w", err)
	}

	tempFile := c.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, c.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
