package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/zsmatrix62/emtl/internal/domain"
	"github.com/zsmatrix62/emtl/internal/security/secretbox"
	"github.com/zsmatrix62/emtl/internal/store"
)

// Store keeps one session row per identity with an expiry column. With a
// non-nil box, records are sealed before they reach the database.
type Store struct {
	db         *sql.DB
	defaultTTL time.Duration
	box        *secretbox.Box
}

func NewStore(databaseURL string, defaultTTL time.Duration, box *secretbox.Box) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(
		`create table if not exists portal_sessions(
			identity   text primary key,
			record     bytea not null,
			expires_at timestamptz not null,
			updated_at timestamptz not null default now()
		)`,
	); err != nil {
		return nil, fmt.Errorf("ensure portal_sessions table: %w", err)
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	return &Store{db: db, defaultTTL: defaultTTL, box: box}, nil
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
	_, err = s.db.Exec(
		`insert into portal_sessions(identity, record, expires_at, updated_at)
		 values ($1, $2, $3, now())
		 on conflict (identity) do update
		 set record = excluded.record,
		     expires_at = excluded.expires_at,
		     updated_at = now()`,
		rec.Identity, raw, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

func (s *Store) Load(identity string) (domain.SessionRecord, error) {
	var raw []byte
	var expiresAt time.Time
	err := s.db.QueryRow(
		`select record, expires_at from portal_sessions where identity = $1`,
		identity,
	).Scan(&raw, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SessionRecord{}, store.ErrNotFound
		}
		return domain.SessionRecord{}, fmt.Errorf("load session record: %w", err)
	}
	if expiresAt.Before(time.Now().UTC()) {
		_, _ = s.Delete(identity)
		return domain.SessionRecord{}, store.ErrNotFound
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

func (s *Store) Delete(identity string) (bool, error) {
	res, err := s.db.Exec(`delete from portal_sessions where identity = $1`, identity)
	if err != nil {
		return false, fmt.Errorf("delete session record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ListIdentities() ([]string, error) {
	rows, err := s.db.Query(
		`select identity from portal_sessions where expires_at > now() order by identity`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var identities []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
