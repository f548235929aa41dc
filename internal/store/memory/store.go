package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/zsmatrix62/emtl/internal/domain"
	"github.com/zsmatrix62/emtl/internal/store"
)

type entry struct {
	rec       domain.SessionRecord
	expiresAt time.Time
}

// Store is an in-process session store with the same expiry semantics as
// the durable ones. Used by the gateway in memory mode and by tests.
type Store struct {
	mu         sync.RWMutex
	defaultTTL time.Duration
	sessions   map[string]entry
}

func NewStore(defaultTTL time.Duration) *Store {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	return &Store{
		defaultTTL: defaultTTL,
		sessions:   make(map[string]entry),
	}
}

func (s *Store) Save(rec domain.SessionRecord, ttl time.Duration) error {
	if rec.Identity == "" {
		return store.ErrEmptyIdentity
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.Identity] = entry{
		rec:       rec,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *Store) Load(identity string) (domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[identity]
	if !ok {
		return domain.SessionRecord{}, store.ErrNotFound
	}
	if time.Now().After(e.expiresAt) {
		delete(s.sessions, identity)
		return domain.SessionRecord{}, store.ErrNotFound
	}
	return e.rec, nil
}

func (s *Store) Delete(identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[identity]
	delete(s.sessions, identity)
	return ok, nil
}

func (s *Store) ListIdentities() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	identities := make([]string, 0, len(s.sessions))
	for identity, e := range s.sessions {
		if now.Before(e.expiresAt) {
			identities = append(identities, identity)
		}
	}
	sort.Strings(identities)
	return identities, nil
}
