package file

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsmatrix62/emtl/internal/domain"
	"github.com/zsmatrix62/emtl/internal/security/secretbox"
	"github.com/zsmatrix62/emtl/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), time.Hour, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func record(identity string) domain.SessionRecord {
	return domain.SessionRecord{
		Identity:    identity,
		ValidateKey: "key-" + identity,
		Cookies:     []domain.Cookie{{Name: "Uuid", Value: "abc"}},
		SavedAt:     time.Now().UTC(),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(record("user-1"), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err := s.Load("user-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Identity != "user-1" || rec.ValidateKey != "key-user-1" {
		t.Fatalf("round trip lost fields: %+v", rec)
	}
	if len(rec.Cookies) != 1 || rec.Cookies[0].Value != "abc" {
		t.Fatalf("cookies not preserved: %+v", rec.Cookies)
	}
}

func TestSaveRejectsEmptyIdentity(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(domain.SessionRecord{}, time.Hour); !errors.Is(err, store.ErrEmptyIdentity) {
		t.Fatalf("expected ErrEmptyIdentity, got %v", err)
	}
}

func TestExpiredEntryReadsAsMissingAndIsPurged(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(record("user-1"), time.Second); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Rewind the sidecar into the past.
	if err := os.WriteFile(s.expiryPath("user-1"), []byte("1"), 0o600); err != nil {
		t.Fatalf("rewrite sidecar: %v", err)
	}
	if _, err := s.Load("user-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(s.recordPath("user-1")); !os.IsNotExist(err) {
		t.Fatal("expired record file should be purged")
	}
}

func TestCorruptSidecarReadsAsExpired(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(record("user-1"), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.WriteFile(s.expiryPath("user-1"), []byte("not-a-timestamp"), 0o600); err != nil {
		t.Fatalf("corrupt sidecar: %v", err)
	}
	if _, err := s.Load("user-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(record("user-1"), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	existed, err := s.Delete("user-1")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	existed, err = s.Delete("user-1")
	if err != nil || existed {
		t.Fatalf("second delete: existed=%v err=%v", existed, err)
	}
	if _, err := s.Load("user-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListIdentitiesFiltersExpired(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"alice", "bob", "carol"} {
		if err := s.Save(record(id), time.Hour); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := os.WriteFile(s.expiryPath("bob"), []byte("1"), 0o600); err != nil {
		t.Fatalf("expire bob: %v", err)
	}
	identities, err := s.ListIdentities()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(identities) != 2 || identities[0] != "alice" || identities[1] != "carol" {
		t.Fatalf("identities = %v", identities)
	}
}

func TestSealedStoreRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	box, err := secretbox.New(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("secretbox: %v", err)
	}
	dir := t.TempDir()
	s, err := NewStore(dir, time.Hour, box)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Save(record("user-1"), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	// The record on disk must not be readable plaintext.
	raw, err := os.ReadFile(filepath.Join(dir, "user-1.json"))
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if string(raw) != "" && (len(raw) > 0 && raw[0] == '{') {
		t.Fatal("sealed record looks like plaintext JSON")
	}
	rec, err := s.Load("user-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.ValidateKey != "key-user-1" {
		t.Fatalf("round trip lost fields: %+v", rec)
	}
}
