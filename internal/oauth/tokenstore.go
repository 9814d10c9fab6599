package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/jarvis/internal/infra/storage"
)

// TokenKey is the fixed key the credential record is stored under.
const TokenKey = "spotify_token"

// TokenStore persists a single Credential and expires it lazily on read.
type TokenStore struct {
	mu      sync.Mutex
	backend storage.Backend
	key     string
	now     func() time.Time
	log     zerolog.Logger
}

type StoreOption func(*TokenStore)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) StoreOption {
	return func(s *TokenStore) { s.now = now }
}

func WithStoreLogger(l zerolog.Logger) StoreOption {
	return func(s *TokenStore) { s.log = l }
}

func NewTokenStore(backend storage.Backend, opts ...StoreOption) *TokenStore {
	s := &TokenStore{backend: backend, key: TokenKey, now: time.Now, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the stored credential if it is still usable. An expired or
// unreadable record is removed in the same step as the read, so no caller can
// observe it once Get has decided it is absent.
func (s *TokenStore) Get(ctx context.Context) (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var cred Credential
	stale := func(data []byte) bool {
		c, err := decodeCredential(data)
		if err != nil {
			return true
		}
		cred = c
		return !c.Usable(now)
	}

	if cd, ok := s.backend.(storage.ConditionalDeleter); ok {
		_, deleted, err := cd.LoadAndDeleteIf(ctx, s.key, stale)
		if errors.Is(err, storage.ErrNotFound) {
			return Credential{}, false, nil
		}
		if err != nil {
			return Credential{}, false, fmt.Errorf("oauth: read credential: %w", err)
		}
		if deleted {
			s.log.Debug().Msg("expired credential cleared")
			return Credential{}, false, nil
		}
		return cred, true, nil
	}

	data, err := s.backend.Load(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("oauth: read credential: %w", err)
	}
	if stale(data) {
		if err := s.backend.Delete(ctx, s.key); err != nil {
			return Credential{}, false, fmt.Errorf("oauth: clear credential: %w", err)
		}
		s.log.Debug().Msg("expired credential cleared")
		return Credential{}, false, nil
	}
	return cred, true, nil
}

// Put overwrites the stored credential.
func (s *TokenStore) Put(ctx context.Context, c Credential) error {
	if c.AccessToken == "" {
		return errors.New("oauth: empty access token")
	}
	data, err := encodeCredential(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Save(ctx, s.key, data); err != nil {
		return fmt.Errorf("oauth: write credential: %w", err)
	}
	return nil
}

// Clear removes the stored credential.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("oauth: clear credential: %w", err)
	}
	return nil
}

// AccessToken returns the bearer token when a usable credential exists.
func (s *TokenStore) AccessToken(ctx context.Context) (string, bool, error) {
	c, ok, err := s.Get(ctx)
	if err != nil || !ok {
		return "", false, err
	}
	return c.AccessToken, true, nil
}
