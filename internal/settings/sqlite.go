package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jotterhq/azprofile/migrations"
)

const (
	sqliteBusyMaxRetries     = 5
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows only one writer at a time; serialize writes to avoid
	// SQLITE_BUSY contention when CLI and API touch the store concurrently.
	writeMu sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}

	store := &SQLiteStore{Path: path, db: db}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite profile store: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set sqlite synchronous mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) GetProfile(ctx context.Context, name string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
    name,
    endpoint,
    api_key,
    chat_deployment,
    transcription_deployment,
    chat_api_version,
    transcription_api_version,
    uses_translations_route,
    created_at,
    updated_at
FROM profiles
WHERE name = ?`, strings.TrimSpace(name))

	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %q: %w", name, err)
	}
	return profile, nil
}

func (s *SQLiteStore) PutProfile(ctx context.Context, profile Profile) (*Profile, error) {
	if err := Validate(profile); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	profile.Name = strings.TrimSpace(profile.Name)
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	err := retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO profiles (
    name,
    endpoint,
    api_key,
    chat_deployment,
    transcription_deployment,
    chat_api_version,
    transcription_api_version,
    uses_translations_route,
    created_at,
    updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
    endpoint = excluded.endpoint,
    api_key = excluded.api_key,
    chat_deployment = excluded.chat_deployment,
    transcription_deployment = excluded.transcription_deployment,
    chat_api_version = excluded.chat_api_version,
    transcription_api_version = excluded.transcription_api_version,
    uses_translations_route = excluded.uses_translations_route,
    updated_at = excluded.updated_at`,
			profile.Name,
			profile.Endpoint,
			profile.APIKey,
			profile.ChatDeployment,
			profile.TranscriptionDeployment,
			profile.ChatAPIVersion,
			profile.TranscriptionAPIVersion,
			boolToInt(profile.UsesTranslationsRoute),
			profile.CreatedAt,
			profile.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("put profile %q: %w", profile.Name, err)
	}

	return s.GetProfile(ctx, profile.Name)
}

func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT
    name,
    endpoint,
    api_key,
    chat_deployment,
    transcription_deployment,
    chat_api_version,
    transcription_api_version,
    uses_translations_route,
    created_at,
    updated_at
FROM profiles
ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0)
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		profiles = append(profiles, *profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile rows: %w", err)
	}
	return profiles, nil
}

func (s *SQLiteStore) DeleteProfile(ctx context.Context, name string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var affected int64
	err := retrySQLiteBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, strings.TrimSpace(name))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete profile %q: %w", name, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var (
		profile      Profile
		translations int64
	)
	err := row.Scan(
		&profile.Name,
		&profile.Endpoint,
		&profile.APIKey,
		&profile.ChatDeployment,
		&profile.TranscriptionDeployment,
		&profile.ChatAPIVersion,
		&profile.TranscriptionAPIVersion,
		&translations,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	profile.UsesTranslationsRoute = translations != 0
	profile.CreatedAt = profile.CreatedAt.UTC()
	profile.UpdatedAt = profile.UpdatedAt.UTC()
	return &profile, nil
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// retrySQLiteBusy retries transient lock contention so profile writes are not
// dropped when the CLI and a running server hit the same file.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	for retries := 0; ; retries++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "sqlite_busy") || strings.Contains(value, "database is locked")
}
