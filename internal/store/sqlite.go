package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// SQLite implements Store on top of three tables: kv (strings and counters
// with optional expiry), set_members and list_items. Expired kv rows are
// invisible to reads and are purged lazily on write.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

type SQLiteOption func(*SQLite)

// WithClock replaces time.Now, letting tests step past expiry windows.
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLite) { s.now = now }
}

func NewSQLite(db *sql.DB, opts ...SQLiteOption) *SQLite {
	s := &SQLite{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SQLite) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.nowMillis()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *SQLite) Counters(ctx context.Context, keys []string) ([]int64, error) {
	out := make([]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := s.nowMillis()
	for i, k := range keys {
		var v string
		err := tx.QueryRowContext(ctx,
			`SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
			k, now).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", k, err)
		}
		out[i] = n
	}
	return out, tx.Commit()
}

func (s *SQLite) IsMember(ctx context.Context, set, member string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM set_members WHERE set_key = ? AND member = ?)`,
		set, member).Scan(&ok)
	return ok, err
}

func (s *SQLite) Range(ctx context.Context, key string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM list_items WHERE list_key = ? ORDER BY id DESC LIMIT ?`, key, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// Exec applies the batch inside a single transaction.
func (s *SQLite) Exec(ctx context.Context, b *Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.nowMillis()
	for _, op := range b.Ops() {
		if err := s.apply(ctx, tx, op, now); err != nil {
			return fmt.Errorf("%s %s: %w", op.Kind, op.Key, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) apply(ctx context.Context, tx *sql.Tx, op Op, now int64) error {
	switch op.Kind {
	case OpIncr, OpDecr:
		delta := 1
		if op.Kind == OpDecr {
			delta = -1
		}
		if err := purge(ctx, tx, op.Key, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv(key, value, expires_at) VALUES(?, ?, NULL)
			ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + ? AS TEXT)`,
			op.Key, strconv.Itoa(delta), delta)
		return err
	case OpSet:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv(key, value, expires_at) VALUES(?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			op.Key, op.Value, expiresAt(now, op.TTL))
		return err
	case OpExpire:
		if err := purge(ctx, tx, op.Key, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE kv SET expires_at = ? WHERE key = ?`,
			expiresAt(now, op.TTL), op.Key)
		return err
	case OpSAdd:
		for _, m := range op.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO set_members(set_key, member) VALUES(?, ?)`, op.Key, m); err != nil {
				return err
			}
		}
		return nil
	case OpPushCapped:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO list_items(list_key, value) VALUES(?, ?)`, op.Key, op.Value); err != nil {
			return err
		}
		if op.Cap <= 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM list_items WHERE list_key = ? AND id NOT IN (
				SELECT id FROM list_items WHERE list_key = ? ORDER BY id DESC LIMIT ?
			)`, op.Key, op.Key, op.Cap)
		return err
	}
	return fmt.Errorf("unsupported op %d", op.Kind)
}

func purge(ctx context.Context, tx *sql.Tx, key string, now int64) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?`, key, now)
	return err
}

func expiresAt(now int64, ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return now + ttl.Milliseconds()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Migrate ensures schema exists
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at);`,
		`CREATE TABLE IF NOT EXISTS set_members (
			set_key TEXT NOT NULL,
			member TEXT NOT NULL,
			PRIMARY KEY (set_key, member)
		);`,
		`CREATE TABLE IF NOT EXISTS list_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			list_key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_list_items_key ON list_items(list_key, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
