package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zsmatrix62/emtl/internal/domain"
	"github.com/zsmatrix62/emtl/internal/security/secretbox"
	"github.com/zsmatrix62/emtl/internal/store"
)

const (
	recordExt = ".json"
	expiryExt = ".expiry"
)

// Store keeps one record file plus one expiry sidecar per identity. A
// corrupt or unreadable sidecar reads as already expired and both files
// are purged. With a non-nil box, record files are sealed at rest.
type Store struct {
	dir        string
	defaultTTL time.Duration
	box        *secretbox.Box
}

func NewStore(dir string, defaultTTL time.Duration, box *secretbox.Box) (*Store, error) {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir, defaultTTL: defaultTTL, box: box}, nil
}

func (s *Store) recordPath(identity string) string {
	return filepath.Join(s.dir, identity+recordExt)
}

func (s *Store) expiryPath(identity string) string {
	return filepath.Join(s.dir, identity+expiryExt)
}

func (s *Store) Save(rec domain.SessionRecord, ttl time.Duration) error {
	if rec.Identity == "" {
		return store.ErrEmptyIdentity
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if s.box != nil {
		raw, err = s.box.Seal(raw)
		if err != nil {
			return fmt.Errorf("seal session record: %w", err)
		}
	}
	if err := os.WriteFile(s.recordPath(rec.Identity), raw, 0o600); err != nil {
		return fmt.Errorf("write session record: %w", err)
	}
	expiresAt := time.Now().Add(ttl).Unix()
	if err := os.WriteFile(s.expiryPath(rec.Identity), []byte(strconv.FormatInt(expiresAt, 10)), 0o600); err != nil {
		return fmt.Errorf("write session expiry: %w", err)
	}
	return nil
}

func (s *Store) Load(identity string) (domain.SessionRecord, error) {
	if !s.expiryValid(identity) {
		_, _ = s.Delete(identity)
		return domain.SessionRecord{}, store.ErrNotFound
	}
	raw, err := os.ReadFile(s.recordPath(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.SessionRecord{}, store.ErrNotFound
		}
		return domain.SessionRecord{}, fmt.Errorf("read session record: %w", err)
	}
	if s.box != nil {
		raw, err = s.box.Open(raw)
		if err != nil {
			return domain.SessionRecord{}, fmt.Errorf("unseal session record: %w", err)
		}
	}
	var rec domain.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("decode session record: %w", err)
	}
	return rec, nil
}

// expiryValid reports whether identity has a readable, future expiry
// sidecar. Anything else counts as expired.
func (s *Store) expiryValid(identity string) bool {
	raw, err := os.ReadFile(s.expiryPath(identity))
	if err != nil {
		return false
	}
	expiresAt, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return false
	}
	return time.Now().Unix() <= expiresAt
}

func (s *Store) Delete(identity string) (bool, error) {
	existed := false
	if err := os.Remove(s.recordPath(identity)); err == nil {
		existed = true
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("delete session record: %w", err)
	}
	if err := os.Remove(s.expiryPath(identity)); err != nil && !os.IsNotExist(err) {
		return existed, fmt.Errorf("delete session expiry: %w", err)
	}
	return existed, nil
}

func (s *Store) ListIdentities() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list store dir: %w", err)
	}
	identities := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		identity := strings.TrimSuffix(name, recordExt)
		if s.expiryValid(identity) {
			identities = append(identities, identity)
		}
	}
	sort.Strings(identities)
	return identities, nil
}
