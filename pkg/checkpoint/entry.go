package checkpoint

import (
	"time"
)

// Entry is a saved pagination position.
type Entry struct {
	// MaxID is the cursor of the next page to fetch
	MaxID int64 `json:"max_id"`

	// Collected is the number of posts already delivered for the query
	Collected int `json:"collected"`

	// UpdatedAt is when the checkpoint was written
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired returns true if the entry is older than ttl.
// A ttl of 0 never expires.
func (e *Entry) IsExpired(ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return time.Since(e.UpdatedAt) > ttl
}
