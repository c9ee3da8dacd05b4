package mirror

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// hwmFilename is the per-mirror high-water-mark file. It sorts with the
// records but is never treated as one.
const hwmFilename = "_next_id.json"

// highWaterMark persists a monotonically increasing counter for minting
// external ids. The file holds the next unused value.
type highWaterMark struct {
	mu   sync.Mutex
	path string
}

type hwmFile struct {
	NextID int `json:"next_id"`
}

func newHighWaterMark(dir string) *highWaterMark {
	return &highWaterMark{path: filepath.Join(dir, hwmFilename)}
}

// next returns the current counter value and persists the increment
// before returning, so a crash after next() burns an id rather than
// reusing one.
func (h *highWaterMark) next() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := hwmFile{NextID: 1}
	data, err := os.ReadFile(h.path)
	if err == nil {
		if err := json.Unmarshal(data, &state); err != nil {
			return 0, fmt.Errorf("failed to parse high-water-mark %s: %w", h.path, err)
		}
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to read high-water-mark %s: %w", h.path, err)
	}

	allocated := state.NextID
	state.NextID++

	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal high-water-mark: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	if err := os.WriteFile(h.path, out, 0644); err != nil {
		return 0, fmt.Errorf("failed to write high-water-mark %s: %w", h.path, err)
	}
	return allocated, nil
}
