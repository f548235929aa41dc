package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zsmatrix62/emtl/internal/emt"
	"github.com/zsmatrix62/emtl/internal/store"
)

// Policy selects how a cached entry is judged still usable.
type Policy string

const (
	// PolicyTTL trusts the store's expiry metadata; nothing touches the
	// network during validation.
	PolicyTTL Policy = "ttl"
	// PolicyVerify issues a cheap authenticated probe through the restored
	// client; any failure reads as invalid.
	PolicyVerify Policy = "verify"
)

type Options struct {
	Store      store.Store
	Policy     Policy
	DefaultTTL time.Duration
	// RetryDelay is the pause between attempts. Zero means immediate retry.
	RetryDelay time.Duration
	// NewClient builds an unauthenticated client wired with solver,
	// encrypter and endpoints.
	NewClient func() (*emt.Client, error)
}

// Manager caches authenticated clients by identity, validating on reuse
// and rebuilding with bounded retry. It owns re-login: it holds the secret
// for the duration of a call and arms restored clients with it.
type Manager struct {
	store      store.Store
	policy     Policy
	defaultTTL time.Duration
	retryDelay time.Duration
	newClient  func() (*emt.Client, error)
}

func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("manager: store is required")
	}
	if opts.NewClient == nil {
		return nil, errors.New("manager: client factory is required")
	}
	policy := opts.Policy
	if policy == "" {
		policy = PolicyTTL
	}
	if policy != PolicyTTL && policy != PolicyVerify {
		return nil, fmt.Errorf("manager: unknown validity policy %q", policy)
	}
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{
		store:      opts.Store,
		policy:     policy,
		defaultTTL: ttl,
		retryDelay: opts.RetryDelay,
		newClient:  opts.NewClient,
	}, nil
}

// GetClient returns an authenticated client for identity, reusing a valid
// cached session when one exists, otherwise logging in fresh, with up to
// maxRetries attempts. Terminal failure purges any stale entry and returns
// a LoginFailedError carrying the attempt count.
func (m *Manager) GetClient(ctx context.Context, identity, secret string, maxRetries int) (*emt.Client, error) {
	return m.GetClientTTL(ctx, identity, secret, maxRetries, 0)
}

// GetClientTTL is GetClient with an explicit save TTL; ttl <= 0 uses the
// manager default.
func (m *Manager) GetClientTTL(ctx context.Context, identity, secret string, maxRetries int, ttl time.Duration) (*emt.Client, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			if err := waitRetry(ctx, m.retryDelay); err != nil {
				lastErr = err
				break
			}
		}
		attempts = attempt
		client, err := m.attempt(ctx, identity, secret, ttl)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if fatal(err) {
			break
		}
	}

	// Terminal failure: leave no stale entry behind.
	_, _ = m.store.Delete(identity)
	return nil, &emt.LoginFailedError{Identity: identity, Attempts: attempts, Err: lastErr}
}

// attempt runs one pass of the lookup / validate / rebuild / persist
// machine.
func (m *Manager) attempt(ctx context.Context, identity, secret string, ttl time.Duration) (*emt.Client, error) {
	rec, err := m.store.Load(identity)
	switch {
	case err == nil:
		client, cerr := m.newClient()
		if cerr != nil {
			return nil, cerr
		}
		if rerr := client.Restore(rec); rerr == nil {
			client.SetCredentials(identity, secret)
			if m.validate(ctx, client, rec.ValidateKey) {
				return client, nil
			}
		}
		// Invalid entry is equivalent to a missing one.
		_, _ = m.store.Delete(identity)
	case errors.Is(err, store.ErrNotFound):
		// Fresh login below.
	default:
		// Unreadable entries are treated as absent, then purged.
		_, _ = m.store.Delete(identity)
	}

	client, err := m.newClient()
	if err != nil {
		return nil, err
	}
	key, err := client.Login(ctx, identity, secret)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, &emt.LoginFailedError{Identity: identity}
	}
	if err := m.store.Save(client.Snapshot(), ttl); err != nil {
		return nil, err
	}
	return client, nil
}

func (m *Manager) validate(ctx context.Context, client *emt.Client, token string) bool {
	if token == "" {
		return false
	}
	if m.policy == PolicyVerify {
		return client.VerifySession(ctx)
	}
	// TTL policy: the store already filtered expired entries on load.
	return true
}

// Invalidate removes the cached entry for identity, reporting whether one
// existed.
func (m *Manager) Invalidate(identity string) (bool, error) {
	return m.store.Delete(identity)
}

// ListCachedIdentities lists identities with a stored entry. Under TTL
// policy the store filters expired entries at listing time; under verify
// policy listing means "was saved", not "still valid", since re-verifying
// every entry would turn a metadata call into one probe per identity.
func (m *Manager) ListCachedIdentities() ([]string, error) {
	return m.store.ListIdentities()
}

// fatal classifies error kinds that retrying cannot help: the caller gave
// up, not the portal.
func fatal(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func waitRetry(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
