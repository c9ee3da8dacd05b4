package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxConflictLog bounds the per-task conflict history kept in metadata.
const MaxConflictLog = 5

// SyncConflict records one detected synchronization conflict.
type SyncConflict struct {
	Agent      string    `json:"agent"`
	Direction  string    `json:"direction"`  // "push" or "pull"
	Preference string    `json:"preference"` // "local" or "remote"
	LocalAt    time.Time `json:"local_at"`
	RemoteAt   time.Time `json:"remote_at"`
	DetectedAt time.Time `json:"detected_at"`
}

// SyncState is the per-mirror bookkeeping carried inside a task's
// metadata map, keyed by the mirror's metadata key so one task can be
// mirrored to several external systems without collisions.
type SyncState struct {
	ExternalID string `json:"external_id"`
	// LastSyncedAt is the local updated_at value that was true at the
	// moment of the last successful sync.
	LastSyncedAt time.Time      `json:"last_synced_at"`
	Conflicts    []SyncConflict `json:"conflicts,omitempty"`
}

// RecordConflict prepends c to the conflict log, newest first, trimming
// the oldest entry past MaxConflictLog.
func (s *SyncState) RecordConflict(c SyncConflict) {
	s.Conflicts = append([]SyncConflict{c}, s.Conflicts...)
	if len(s.Conflicts) > MaxConflictLog {
		s.Conflicts = s.Conflicts[:MaxConflictLog]
	}
}

// SyncStateFrom extracts the sync state stored under key in a task's
// metadata map. Returns (nil, nil) when no state is stored.
//
// Metadata values round-trip through JSON, so the stored value may be a
// map[string]any rather than a *SyncState.
func SyncStateFrom(meta map[string]any, key string) (*SyncState, error) {
	if meta == nil {
		return nil, nil
	}
	raw, ok := meta[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case *SyncState:
		return v, nil
	case SyncState:
		return &v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("invalid sync state under %q: %w", key, err)
		}
		var st SyncState
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("invalid sync state under %q: %w", key, err)
		}
		return &st, nil
	}
}

// PutSyncState stores st under key in meta, allocating the map if needed.
func PutSyncState(meta map[string]any, key string, st *SyncState) map[string]any {
	if meta == nil {
		meta = make(map[string]any)
	}
	meta[key] = st
	return meta
}
