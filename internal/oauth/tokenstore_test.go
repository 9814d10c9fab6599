package oauth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chadiek/jarvis/internal/infra/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// loadOnly hides the ConditionalDeleter implementation of the wrapped backend.
type loadOnly struct{ storage.Backend }

func TestTokenStore_PutGetClear(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewTokenStore(storage.NewMemory(), WithClock(clock.Now))

	if _, ok, err := s.Get(ctx); ok || err != nil {
		t.Fatalf("expected absent credential, ok=%v err=%v", ok, err)
	}
	want := Credential{AccessToken: "tok", RefreshToken: "ref", ExpiresAt: clock.Now().Add(time.Hour)}
	if err := s.Put(ctx, want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("expected credential, ok=%v err=%v", ok, err)
	}
	if got.AccessToken != "tok" || got.RefreshToken != "ref" || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("unexpected credential %+v", got)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.Get(ctx); ok {
		t.Fatalf("expected absent after clear")
	}
}

func TestTokenStore_ExpiredIsClearedOnRead(t *testing.T) {
	ctx := context.Background()
	for name, backend := range map[string]storage.Backend{
		"conditional": storage.NewMemory(),
		"plain":       loadOnly{storage.NewMemory()},
	} {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			s := NewTokenStore(backend, WithClock(clock.Now))
			if err := s.Put(ctx, Credential{AccessToken: "tok", ExpiresAt: clock.Now().Add(time.Minute)}); err != nil {
				t.Fatalf("put: %v", err)
			}
			clock.Advance(time.Minute)

			if _, ok, err := s.Get(ctx); ok || err != nil {
				t.Fatalf("expiry at now must read as absent, ok=%v err=%v", ok, err)
			}
			if _, err := backend.Load(ctx, TokenKey); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("expired record should be removed, got %v", err)
			}
			if _, ok, _ := s.Get(ctx); ok {
				t.Fatalf("second read must also be absent")
			}
		})
	}
}

func TestTokenStore_MalformedRecordIsDropped(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	_ = backend.Save(ctx, TokenKey, []byte(`{"statusCode":"404","error":"not_found"}`))
	s := NewTokenStore(backend)
	if _, ok, err := s.Get(ctx); ok || err != nil {
		t.Fatalf("malformed record should be absent, ok=%v err=%v", ok, err)
	}
	if _, err := backend.Load(ctx, TokenKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("malformed record should be removed")
	}
}

func TestTokenStore_PersistedRecordFormat(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	s := NewTokenStore(backend)
	exp := time.UnixMilli(1893456000123)
	if err := s.Put(ctx, Credential{AccessToken: "abc", ExpiresAt: exp}); err != nil {
		t.Fatalf("put: %v", err)
	}
	raw, err := backend.Load(ctx, TokenKey)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(raw) != `{"accessToken":"abc","expiresAt":1893456000123}` {
		t.Fatalf("unexpected record %s", raw)
	}
}

func TestTokenStore_RejectsEmptyToken(t *testing.T) {
	s := NewTokenStore(storage.NewMemory())
	if err := s.Put(context.Background(), Credential{ExpiresAt: time.Now().Add(time.Hour)}); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestTokenStore_SQLiteBackend(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	clock := newFakeClock()
	s := NewTokenStore(db, WithClock(clock.Now))
	if err := s.Put(ctx, Credential{AccessToken: "tok", ExpiresAt: clock.Now().Add(time.Second)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if tok, ok, err := s.AccessToken(ctx); err != nil || !ok || tok != "tok" {
		t.Fatalf("unexpected token %q ok=%v err=%v", tok, ok, err)
	}
	clock.Advance(2 * time.Second)
	if _, ok, err := s.AccessToken(ctx); ok || err != nil {
		t.Fatalf("expected expired token to be absent, ok=%v err=%v", ok, err)
	}
}

func TestTokenStore_ConcurrentReadersAndWriter(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewTokenStore(storage.NewMemory(), WithClock(clock.Now))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Put(ctx, Credential{AccessToken: "tok", ExpiresAt: clock.Now().Add(time.Hour)})
		}()
		go func() {
			defer wg.Done()
			if c, ok, err := s.Get(ctx); err != nil || (ok && c.AccessToken != "tok") {
				t.Errorf("unexpected read %+v ok=%v err=%v", c, ok, err)
			}
		}()
	}
	wg.Wait()
}
