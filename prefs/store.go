// Package prefs persists device-local user preferences in SQLite. The session
// controller keeps the default wake and sleep times here so they survive
// restarts independently of the remote profile.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/daytime"
	"github.com/MrEthical07/goSession/prefs/migrations"
	_ "modernc.org/sqlite"
)

// Preference keys.
const (
	KeyDefaultWakeTime  = "default_wake_time"
	KeyDefaultSleepTime = "default_sleep_time"
)

// Store is a SQLite key/value preference store.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) the SQLite file at path and applies the
// embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get returns the value stored under key. ok is false when the key is unset.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	if s == nil || s.sqlDB == nil {
		return "", false, fmt.Errorf("storage is not configured")
	}
	err = s.sqlDB.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores values in one transaction.
func (s *Store) Set(ctx context.Context, values map[string]string) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin preferences tx: %w", err)
	}
	now := time.Now().UTC().UnixMilli()
	for key, value := range values {
		if strings.TrimSpace(key) == "" {
			_ = tx.Rollback()
			return fmt.Errorf("preference key is required")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set preference %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit preferences: %w", err)
	}
	return nil
}

// LoadDefaultTimes returns the persisted default wake and sleep times. ok is
// false unless both are present and well formed.
func (s *Store) LoadDefaultTimes(ctx context.Context) (wake, sleep daytime.TimeOfDay, ok bool, err error) {
	wakeRaw, wakeOK, err := s.Get(ctx, KeyDefaultWakeTime)
	if err != nil {
		return wake, sleep, false, err
	}
	sleepRaw, sleepOK, err := s.Get(ctx, KeyDefaultSleepTime)
	if err != nil {
		return wake, sleep, false, err
	}
	if !wakeOK || !sleepOK {
		return wake, sleep, false, nil
	}
	wake, werr := daytime.Parse(wakeRaw)
	sleep, serr := daytime.Parse(sleepRaw)
	if werr != nil || serr != nil {
		return daytime.TimeOfDay{}, daytime.TimeOfDay{}, false, nil
	}
	return wake, sleep, true, nil
}

// SaveDefaultTimes persists the default wake and sleep times.
func (s *Store) SaveDefaultTimes(ctx context.Context, wake, sleep daytime.TimeOfDay) error {
	if !wake.Valid() || !sleep.Valid() {
		return daytime.ErrInvalidTimeOfDay
	}
	return s.Set(ctx, map[string]string{
		KeyDefaultWakeTime:  wake.String(),
		KeyDefaultSleepTime: sleep.String(),
	})
}
