package mirror

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Adapter reads and writes one mirror directory: one JSON file per
// mirrored task named {external-id}.json, plus the high-water-mark file.
type Adapter struct {
	dir    string
	schema Schema
	hwm    *highWaterMark
}

// NewAdapter creates an adapter for the mirror at dir. The directory is
// not required to exist yet; a push pass creates it on first write.
func NewAdapter(dir string, schema Schema) *Adapter {
	s := schema.withDefaults()
	return &Adapter{
		dir:    dir,
		schema: s,
		hwm:    newHighWaterMark(dir),
	}
}

// Name returns the mirror's identity.
func (a *Adapter) Name() string {
	return a.schema.Name
}

// MetadataKey returns the local-metadata key for this mirror's mapping.
func (a *Adapter) MetadataKey() string {
	return a.schema.MetadataKey
}

// Dir returns the mirror's storage directory.
func (a *Adapter) Dir() string {
	return a.dir
}

// List reads every record in the mirror directory. Invalid files are
// skipped with a warning; a missing directory is an error, since a pull
// pass against a structurally absent mirror must fail wholesale.
func (a *Adapter) List() ([]*Record, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror directory %s: %w", a.dir, err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if entry.Name() == hwmFilename {
			continue
		}
		rec, err := a.readFile(filepath.Join(a.dir, entry.Name()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid mirror file %s: %v\n", entry.Name(), err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Read loads a single record by external id.
func (a *Adapter) Read(externalID string) (*Record, error) {
	return a.readFile(filepath.Join(a.dir, externalID+".json"))
}

// Exists reports whether a record file exists for externalID.
func (a *Adapter) Exists(externalID string) bool {
	_, err := os.Stat(filepath.Join(a.dir, externalID+".json"))
	return err == nil
}

// Write persists rec to the mirror, creating the directory if needed.
// Fields the adapter does not own are preserved from the existing file;
// the record's owned fields and embedded metadata area are replaced.
func (a *Adapter) Write(rec *Record) (*Record, error) {
	if rec.ExternalID == "" {
		return nil, fmt.Errorf("record has no external id")
	}
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}

	raw := rec.raw
	if raw == nil {
		// Overlay onto the current file contents when present.
		if existing, err := a.Read(rec.ExternalID); err == nil {
			raw = existing.raw
		}
	}
	if raw == nil {
		raw = make(map[string]any)
	}

	s := a.schema
	raw[s.IDField] = rec.ExternalID
	raw[s.TitleField] = rec.Title
	raw[s.StatusField] = rec.Status
	raw[s.OwnerField] = rec.Owner
	raw[s.TagsField] = rec.Tags

	meta, _ := raw[s.MetaField].(map[string]any)
	if meta == nil {
		meta = make(map[string]any)
	}
	meta[metaLocalID] = rec.LocalID
	meta[metaLastSynced] = rec.LastSynced.UTC().Format(time.RFC3339Nano)
	if rec.Internal {
		meta[metaInternal] = true
	}
	raw[s.MetaField] = meta

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mirror record %s: %w", rec.ExternalID, err)
	}
	path := filepath.Join(a.dir, rec.ExternalID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write mirror record %s: %w", path, err)
	}

	written := *rec
	written.raw = raw
	if info, err := os.Stat(path); err == nil {
		written.ModTime = info.ModTime()
	}
	return &written, nil
}

// NextExternalID allocates the next external id from the persisted
// high-water-mark, so ids never collide even across process restarts.
func (a *Adapter) NextExternalID() (string, error) {
	n, err := a.hwm.next()
	if err != nil {
		return "", err
	}
	if a.schema.ExternalIDPrefix != "" {
		return fmt.Sprintf("%s-%d", a.schema.ExternalIDPrefix, n), nil
	}
	return fmt.Sprintf("%d", n), nil
}

func (a *Adapter) readFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror file %s: %w", path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse mirror file %s: %w", path, err)
	}

	s := a.schema
	rec := &Record{raw: raw}
	rec.ExternalID, _ = raw[s.IDField].(string)
	if rec.ExternalID == "" {
		// Fall back to the filename for hand-made records.
		rec.ExternalID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	rec.Title, _ = raw[s.TitleField].(string)
	rec.Status, _ = raw[s.StatusField].(string)
	rec.Owner, _ = raw[s.OwnerField].(string)
	if tags, ok := raw[s.TagsField].([]any); ok {
		for _, t := range tags {
			if ts, ok := t.(string); ok {
				rec.Tags = append(rec.Tags, ts)
			}
		}
	}

	if meta, ok := raw[s.MetaField].(map[string]any); ok {
		rec.LocalID, _ = meta[metaLocalID].(string)
		if v, ok := meta[metaLastSynced].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				rec.LastSynced = t
			}
		}
		rec.Internal, _ = meta[metaInternal].(bool)
	}

	if info, err := os.Stat(path); err == nil {
		rec.ModTime = info.ModTime()
	}
	return rec, nil
}
