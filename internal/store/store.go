package store

import (
	"errors"
	"time"

	"github.com/zsmatrix62/emtl/internal/domain"
)

// ErrNotFound is returned by Load for missing entries. Expired and
// corrupt entries read as missing too: cache lookups are total.
var ErrNotFound = errors.New("session not found")

// ErrEmptyIdentity rejects saving a record with no identity; identity is
// the durable key.
var ErrEmptyIdentity = errors.New("cannot save session without identity")

// Store is the persistence contract for authenticated sessions, one
// durable record per identity.
type Store interface {
	// Save persists a record with a time-to-live. A ttl <= 0 means the
	// implementation's default.
	Save(rec domain.SessionRecord, ttl time.Duration) error

	// Load returns the record for identity, or ErrNotFound when missing or
	// expired. Expired entries are purged on load.
	Load(identity string) (domain.SessionRecord, error)

	// Delete removes the entry unconditionally and reports whether one
	// existed.
	Delete(identity string) (bool, error)

	// ListIdentities returns identities with a currently unexpired entry,
	// sorted.
	ListIdentities() ([]string, error)
}
