// Package mirror implements file-per-record adapters for external task
// mirrors: independently-owned directories of JSON records maintained by
// other tooling, one file per mirrored task plus a small high-water-mark
// file for external id allocation.
//
// Adapters share one reconciliation algorithm (internal/sync) and differ
// only in a Schema: where the mirror lives, the field names its records
// use, and the metadata key under which its mapping is stored in local
// task metadata.
package mirror

import (
	"time"
)

// Record is the neutral view of one mirror file. The adapter translates
// between this and the mirror's own field names, preserving any fields
// it does not own.
type Record struct {
	ExternalID string
	Title      string
	Status     string
	Owner      string
	Tags       []string

	// LocalID is the embedded back-reference to the local task id.
	LocalID string
	// LastSynced is the sync watermark embedded in the record at the
	// moment of the last successful push.
	LastSynced time.Time
	// Internal marks bookkeeping-only records that sync passes skip.
	Internal bool

	// ModTime is the record file's last-modified time, used as a proxy
	// for remote edit time since mirrors have no version field. This is
	// a heuristic: coarse mtime resolution and clock skew can produce
	// rare false negatives/positives in conflict detection.
	ModTime time.Time

	// raw holds the full decoded file so unowned fields survive writes.
	raw map[string]any
}

// Schema describes one mirror's record layout and identity.
type Schema struct {
	// Name identifies the mirror (typically the external agent identity).
	Name string
	// MetadataKey is the key under which this mirror's sync mapping is
	// stored in local task metadata. Distinct keys let one task mirror
	// to several external systems simultaneously.
	MetadataKey string

	// Record field names; zero values take the defaults below.
	IDField     string // default "id"
	TitleField  string // default "title"
	StatusField string // default "status"
	OwnerField  string // default "owner"
	TagsField   string // default "tags"
	// MetaField names the record's embedded metadata area holding the
	// local-id back-reference and sync watermark. Default "_sync".
	MetaField string

	// ExternalIDPrefix is prepended to minted numeric external ids.
	ExternalIDPrefix string
}

func (s Schema) withDefaults() Schema {
	if s.IDField == "" {
		s.IDField = "id"
	}
	if s.TitleField == "" {
		s.TitleField = "title"
	}
	if s.StatusField == "" {
		s.StatusField = "status"
	}
	if s.OwnerField == "" {
		s.OwnerField = "owner"
	}
	if s.TagsField == "" {
		s.TagsField = "tags"
	}
	if s.MetaField == "" {
		s.MetaField = "_sync"
	}
	if s.MetadataKey == "" {
		s.MetadataKey = s.Name + "_sync"
	}
	return s
}

// Keys inside the record's embedded metadata area.
const (
	metaLocalID    = "local_id"
	metaLastSynced = "last_synced_at"
	metaInternal   = "internal"
)
