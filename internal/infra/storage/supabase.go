package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

// SupabaseConfig locates the bucket that holds records as objects.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
	Prefix         string
}

// Supabase implements Backend on top of Supabase Storage. Each key is one
// object named <prefix><key>.json.
type Supabase struct {
	mu     sync.Mutex
	client *supabase.Client
	bucket string
	prefix string
}

func NewSupabase(cfg SupabaseConfig) (*Supabase, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, errors.New("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("missing Supabase configuration: bucket required")
	}
	client, err := supabase.NewClient(strings.TrimRight(cfg.URL, "/"), cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &Supabase{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *Supabase) objectPath(key string) string {
	return s.prefix + key + ".json"
}

func (s *Supabase) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(key)
}

func (s *Supabase) load(key string) ([]byte, error) {
	data, err := s.client.Storage.DownloadFile(s.bucket, s.objectPath(key))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("supabase: download %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

// Save upserts the object, so a failed upload leaves the old record intact.
func (s *Supabase) Save(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	upsert := true
	contentType := "application/json"
	opts := storage_go.FileOptions{Upsert: &upsert, ContentType: &contentType}
	if _, err := s.client.Storage.UploadFile(s.bucket, s.objectPath(key), bytes.NewReader(value), opts); err != nil {
		return fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	return nil
}

func (s *Supabase) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(key)
}

func (s *Supabase) remove(key string) error {
	if _, err := s.client.Storage.RemoveFile(s.bucket, []string{s.objectPath(key)}); err != nil && !isNotFound(err) {
		return fmt.Errorf("supabase: remove %s: %w", key, err)
	}
	return nil
}

func (s *Supabase) LoadAndDeleteIf(_ context.Context, key string, drop func([]byte) bool) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.load(key)
	if err != nil {
		return nil, false, err
	}
	if !drop(v) {
		return v, false, nil
	}
	if err := s.remove(key); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// isNotFound recognizes the storage API's missing-object error body,
// {"statusCode":"404","error":"not_found","message":"Object not found"}.
func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not_found") ||
		strings.Contains(msg, "object not found") ||
		strings.Contains(msg, `"statuscode":"404"`)
}
