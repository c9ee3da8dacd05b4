package types

import (
	"fmt"
	"time"
)

// Project groups tasks under a filesystem-unique path and owns the
// short-id counter for its tasks.
//
// Prefix is a 3-4 letter uppercase code derived from the project name,
// disambiguated with a numeric suffix on collision. NextSeq increments
// exactly once per short-id mint; short ids are formatted PREFIX-00001.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Description string    `json:"description,omitempty"`
	Prefix      string    `json:"prefix"`
	NextSeq     int       `json:"next_seq"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks required project fields.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// FormatShortID renders a minted sequence number as PREFIX-00001.
func FormatShortID(prefix string, seq int) string {
	return fmt.Sprintf("%s-%05d", prefix, seq)
}
