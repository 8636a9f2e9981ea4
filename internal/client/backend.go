package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var errMissing = errors.New("missing")

// Backend is one client-side key/value location. Get returns errMissing
// when the key is absent or expired.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// SessionBackend lives only as long as the process, like a tab session.
type SessionBackend struct {
	mu sync.Mutex
	m  map[string]string
}

func NewSessionBackend() *SessionBackend {
	return &SessionBackend{m: make(map[string]string)}
}

func (s *SessionBackend) Name() string { return "session" }

func (s *SessionBackend) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return "", errMissing
	}
	return v, nil
}

func (s *SessionBackend) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
	return nil
}

// FileBackend is a JSON document on disk, the long-lived local store.
type FileBackend struct {
	mu   sync.Mutex
	path string
}

type fileEntry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Name() string { return "local" }

func (f *FileBackend) load() (map[string]fileEntry, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]fileEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]fileEntry{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (f *FileBackend) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return "", err
	}
	e, ok := m[key]
	if !ok || (!e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt)) {
		return "", errMissing
	}
	return e.Value, nil
}

func (f *FileBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	e := fileEntry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl)
	}
	m[key] = e
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// CookieBackend stores values as cookies for the poll's origin. The jar is
// shared with the HTTP client, so the values also travel with requests.
type CookieBackend struct {
	jar    http.CookieJar
	origin *url.URL
}

func NewCookieBackend(jar http.CookieJar, origin *url.URL) *CookieBackend {
	return &CookieBackend{jar: jar, origin: origin}
}

// NewCookieJar returns an empty in-memory jar.
func NewCookieJar() http.CookieJar {
	jar, _ := cookiejar.New(nil)
	return jar
}

func (c *CookieBackend) Name() string { return "cookie" }

func (c *CookieBackend) Get(_ context.Context, key string) (string, error) {
	for _, ck := range c.jar.Cookies(c.origin) {
		if ck.Name == key {
			return url.QueryUnescape(ck.Value)
		}
	}
	return "", errMissing
}

func (c *CookieBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	ck := &http.Cookie{
		Name:     key,
		Value:    url.QueryEscape(value),
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
	}
	if ttl != 0 {
		ck.Expires = time.Now().Add(ttl)
	}
	c.jar.SetCookies(c.origin, []*http.Cookie{ck})
	return nil
}

// SQLiteBackend is the durable per-origin database, the hardest location
// to clear.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS identity (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Name() string { return "durable" }

func (s *SQLiteBackend) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM identity WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errMissing
	}
	return v, err
}

func (s *SQLiteBackend) Set(ctx context.Context, key, value string, _ time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity(key, value, updated_at) VALUES(?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	return err
}
